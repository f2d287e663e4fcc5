package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tagalarm/tagalarm/pkg/tagrpc"
	"github.com/tagalarm/tagalarm/server/internal/alarms"
	"github.com/tagalarm/tagalarm/server/internal/store"
)

// maxBodyBytes bounds request bodies on write routes.
const maxBodyBytes = 64 << 10

// Alarms is the query surface of the alarm engine used by the API.
type Alarms interface {
	Active() []alarms.Record
	History(limit int) []alarms.Record
	Acknowledge(rule, tag, user string) bool
}

// Handler is the HTTP handler for all /api/v1/* endpoints.
type Handler struct {
	store  *store.Store
	alarms Alarms
	ingest tagrpc.TagServiceServer
	guard  func(http.Handler) http.Handler
	mux    *http.ServeMux
}

// New creates a Handler and registers all routes. Tag writes go through
// ingest so they reach the same sinks as gRPC updates. guard wraps the
// mutating routes; nil leaves them open.
func New(st *store.Store, al Alarms, ingest tagrpc.TagServiceServer, guard func(http.Handler) http.Handler) http.Handler {
	if guard == nil {
		guard = func(next http.Handler) http.Handler { return next }
	}
	h := &Handler{store: st, alarms: al, ingest: ingest, guard: guard, mux: http.NewServeMux()}

	h.mux.HandleFunc("/api/v1/health", h.health)
	h.mux.HandleFunc("/api/v1/alarms", h.activeAlarms)
	h.mux.HandleFunc("/api/v1/alarms/history", h.history)
	h.mux.Handle("/api/v1/alarms/ack", h.guard(http.HandlerFunc(h.acknowledge)))
	h.mux.HandleFunc("/api/v1/tags", h.listTags)
	h.mux.HandleFunc("/api/v1/tags/", h.tag) // subtree, extracts {name}

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// health returns GET /api/v1/health.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, HealthResponse{
		Status:       "ok",
		TagCount:     len(h.store.List()),
		ActiveAlarms: len(h.alarms.Active()),
		GeneratedAt:  time.Now().UTC().Format(time.RFC3339),
	})
}

// activeAlarms returns GET /api/v1/alarms in trigger order.
func (h *Handler) activeAlarms(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, h.alarms.Active())
}

// history returns GET /api/v1/alarms/history?limit=N, oldest first.
// A missing or zero limit returns the whole history.
func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			jsonErr(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	jsonResp(w, http.StatusOK, h.alarms.History(limit))
}

// acknowledge handles POST /api/v1/alarms/ack.
func (h *Handler) acknowledge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req AckRequest
	if err := decodeBody(r, &req); err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Rule == "" || req.Tag == "" {
		jsonErr(w, http.StatusBadRequest, "rule and tag are required")
		return
	}
	if !h.alarms.Acknowledge(req.Rule, req.Tag, req.User) {
		jsonErr(w, http.StatusNotFound, "no active alarm for rule and tag")
		return
	}
	jsonResp(w, http.StatusOK, AckResponse{Acknowledged: true})
}

// listTags returns GET /api/v1/tags, sorted by name.
func (h *Handler) listTags(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, h.store.List())
}

// tag serves GET, POST and PUT on /api/v1/tags/{name}.
func (h *Handler) tag(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/api/v1/tags/")
	if name == "" {
		h.listTags(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		e, ok := h.store.Get(name)
		if !ok {
			jsonErr(w, http.StatusNotFound, "tag not found")
			return
		}
		jsonResp(w, http.StatusOK, e)
	case http.MethodPost, http.MethodPut:
		h.guard(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h.writeTag(w, r, name)
		})).ServeHTTP(w, r)
	default:
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *Handler) writeTag(w http.ResponseWriter, r *http.Request, name string) {
	var req TagWriteRequest
	if err := decodeBody(r, &req); err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Value == nil {
		jsonErr(w, http.StatusBadRequest, "value is required")
		return
	}
	u := tagrpc.Update{Tag: name, Value: req.Value}
	if req.Timestamp != "" {
		ts, err := time.Parse(time.RFC3339Nano, req.Timestamp)
		if err != nil {
			jsonErr(w, http.StatusBadRequest, "timestamp must be RFC 3339")
			return
		}
		u.Timestamp = ts
	}

	if err := h.ingest.Publish(r.Context(), []tagrpc.Update{u}); err != nil {
		if status.Code(err) == codes.InvalidArgument {
			jsonErr(w, http.StatusBadRequest, status.Convert(err).Message())
			return
		}
		jsonErr(w, http.StatusInternalServerError, "publish failed")
		return
	}
	jsonResp(w, http.StatusOK, TagWriteResponse{Tag: name, Accepted: true})
}

// --- helpers ----------------------------------------------------------------

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return errors.New("invalid JSON body")
	}
	return nil
}

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}
