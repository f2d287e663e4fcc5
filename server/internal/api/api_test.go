package api_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tagalarm/tagalarm/server/internal/alarms"
	"github.com/tagalarm/tagalarm/server/internal/api"
	"github.com/tagalarm/tagalarm/server/internal/auth"
	"github.com/tagalarm/tagalarm/server/internal/config"
	"github.com/tagalarm/tagalarm/server/internal/receiver"
	"github.com/tagalarm/tagalarm/server/internal/store"
)

// --- test helpers -----------------------------------------------------------

type fixture struct {
	h      http.Handler
	store  *store.Store
	engine *alarms.Engine
}

func newFixture(t *testing.T, guard func(http.Handler) http.Handler) *fixture {
	t.Helper()
	st := store.New(5 * time.Minute)
	eng := alarms.New(alarms.NewRuleSet([]config.RuleConfig{{
		Name:      "High Temp",
		Tag:       "Temperature",
		Condition: ">",
		Threshold: 25.0,
		Priority:  "CRITICAL",
	}}))
	rec := receiver.New(receiver.SinkFunc(st.Put), eng)
	return &fixture{h: api.New(st, eng, rec, guard), store: st, engine: eng}
}

func do(t *testing.T, h http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode JSON: %v (body: %s)", err, rr.Body.String())
	}
}

// --- /api/v1/health ---------------------------------------------------------

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)
	f.store.Put("Pressure", 1.2, time.Time{})
	f.engine.Publish("Temperature", 30.0, time.Time{})

	rr := do(t, f.h, http.MethodGet, "/api/v1/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	var resp api.HealthResponse
	decode(t, rr, &resp)
	if resp.Status != "ok" || resp.TagCount != 1 || resp.ActiveAlarms != 1 {
		t.Errorf("health: got %+v", resp)
	}
}

// --- tags -------------------------------------------------------------------

func TestTagWrite_ReachesStoreAndEngine(t *testing.T) {
	f := newFixture(t, nil)

	rr := do(t, f.h, http.MethodPost, "/api/v1/tags/Temperature",
		`{"value": 30, "timestamp": "2024-03-01T12:00:00Z"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200 (body %s)", rr.Code, rr.Body.String())
	}

	e, ok := f.store.Get("Temperature")
	if !ok || e.Value != 30.0 {
		t.Errorf("store entry: got %+v ok=%v", e, ok)
	}
	active := f.engine.Active()
	if len(active) != 1 || active[0].RuleName != "High Temp" {
		t.Fatalf("active alarms: got %+v", active)
	}
	if want := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC); !active[0].TriggeredAt.Equal(want) {
		t.Errorf("triggered_at: got %v, want %v", active[0].TriggeredAt, want)
	}
}

func TestTagWrite_Invalid(t *testing.T) {
	f := newFixture(t, nil)
	cases := map[string]string{
		"empty body":    "",
		"bad json":      "{",
		"no value":      `{"timestamp": "2024-03-01T12:00:00Z"}`,
		"bad timestamp": `{"value": 1, "timestamp": "noon"}`,
		"object value":  `{"value": {"a": 1}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rr := do(t, f.h, http.MethodPut, "/api/v1/tags/Temperature", body)
			if rr.Code != http.StatusBadRequest {
				t.Errorf("status: got %d, want 400 (body %s)", rr.Code, rr.Body.String())
			}
		})
	}
	if f.store.Count() != 0 {
		t.Errorf("store count: got %d, want 0", f.store.Count())
	}
}

func TestTagGet(t *testing.T) {
	f := newFixture(t, nil)
	f.store.Put("Mode", "manual", time.Time{})

	rr := do(t, f.h, http.MethodGet, "/api/v1/tags/Mode", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	var e store.Entry
	decode(t, rr, &e)
	if e.Tag != "Mode" || e.Value != "manual" {
		t.Errorf("entry: got %+v", e)
	}

	if rr := do(t, f.h, http.MethodGet, "/api/v1/tags/Nope", ""); rr.Code != http.StatusNotFound {
		t.Errorf("missing tag: got %d, want 404", rr.Code)
	}
}

func TestTagList(t *testing.T) {
	f := newFixture(t, nil)
	f.store.Put("b", 1, time.Time{})
	f.store.Put("a", 2, time.Time{})

	for _, path := range []string{"/api/v1/tags", "/api/v1/tags/"} {
		rr := do(t, f.h, http.MethodGet, path, "")
		var entries []store.Entry
		decode(t, rr, &entries)
		if len(entries) != 2 || entries[0].Tag != "a" {
			t.Errorf("%s: got %+v", path, entries)
		}
	}
}

// --- alarms -----------------------------------------------------------------

func TestAlarms_ActiveAndHistory(t *testing.T) {
	f := newFixture(t, nil)
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	f.engine.Publish("Temperature", 30.0, t0)
	f.engine.Publish("Temperature", 20.0, t0.Add(time.Second))
	f.engine.Publish("Temperature", 40.0, t0.Add(2*time.Minute))

	rr := do(t, f.h, http.MethodGet, "/api/v1/alarms", "")
	var active []map[string]interface{}
	decode(t, rr, &active)
	if len(active) != 1 || active[0]["status"] != "ACTIVE" || active[0]["rule_name"] != "High Temp" {
		t.Errorf("active: got %+v", active)
	}

	rr = do(t, f.h, http.MethodGet, "/api/v1/alarms/history", "")
	var all []map[string]interface{}
	decode(t, rr, &all)
	if len(all) != 3 {
		t.Fatalf("history: got %d, want 3", len(all))
	}
	if all[1]["status"] != "CLEARED" || all[1]["cleared_value"] != 20.0 {
		t.Errorf("history[1]: got %+v", all[1])
	}

	rr = do(t, f.h, http.MethodGet, "/api/v1/alarms/history?limit=1", "")
	var last []map[string]interface{}
	decode(t, rr, &last)
	if len(last) != 1 || last[0]["triggered_value"] != 40.0 {
		t.Errorf("history?limit=1: got %+v", last)
	}

	if rr := do(t, f.h, http.MethodGet, "/api/v1/alarms/history?limit=-3", ""); rr.Code != http.StatusBadRequest {
		t.Errorf("negative limit: got %d, want 400", rr.Code)
	}
}

func TestAlarms_EmptyIsArray(t *testing.T) {
	f := newFixture(t, nil)
	rr := do(t, f.h, http.MethodGet, "/api/v1/alarms", "")
	if body := strings.TrimSpace(rr.Body.String()); body != "[]" {
		t.Errorf("body: got %s, want []", body)
	}
}

func TestAcknowledge(t *testing.T) {
	f := newFixture(t, nil)
	f.engine.Publish("Temperature", 30.0, time.Time{})

	rr := do(t, f.h, http.MethodPost, "/api/v1/alarms/ack", `{"rule":"High Temp","tag":"Temperature","user":"alice"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200 (body %s)", rr.Code, rr.Body.String())
	}
	var resp api.AckResponse
	decode(t, rr, &resp)
	if !resp.Acknowledged {
		t.Error("acknowledged: got false")
	}
	if a := f.engine.Active()[0]; !a.Acknowledged || a.AcknowledgedBy != "alice" {
		t.Errorf("engine record: got %+v", a)
	}

	rr = do(t, f.h, http.MethodPost, "/api/v1/alarms/ack", `{"rule":"High Temp","tag":"Pressure"}`)
	if rr.Code != http.StatusNotFound {
		t.Errorf("unknown alarm: got %d, want 404", rr.Code)
	}
	rr = do(t, f.h, http.MethodPost, "/api/v1/alarms/ack", `{"rule":"High Temp"}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("missing tag: got %d, want 400", rr.Code)
	}
}

func TestGuardProtectsWrites(t *testing.T) {
	f := newFixture(t, auth.APIKeyMiddleware("apikey", "X-Api-Key", "k"))
	f.engine.Publish("Temperature", 30.0, time.Time{})

	if rr := do(t, f.h, http.MethodPost, "/api/v1/tags/T", `{"value":1}`); rr.Code != http.StatusUnauthorized {
		t.Errorf("tag write without key: got %d, want 401", rr.Code)
	}
	if rr := do(t, f.h, http.MethodPost, "/api/v1/alarms/ack", `{"rule":"High Temp","tag":"Temperature"}`); rr.Code != http.StatusUnauthorized {
		t.Errorf("ack without key: got %d, want 401", rr.Code)
	}
	if rr := do(t, f.h, http.MethodPost, "/api/v1/tags/T", `{"value":1}`, "X-Api-Key", "k"); rr.Code != http.StatusOK {
		t.Errorf("tag write with key: got %d, want 200", rr.Code)
	}
	// Reads stay open.
	if rr := do(t, f.h, http.MethodGet, "/api/v1/alarms", ""); rr.Code != http.StatusOK {
		t.Errorf("read without key: got %d, want 200", rr.Code)
	}
}

// --- cross-cutting ----------------------------------------------------------

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t, nil)
	cases := []struct{ method, path string }{
		{http.MethodPost, "/api/v1/health"},
		{http.MethodDelete, "/api/v1/alarms"},
		{http.MethodPost, "/api/v1/alarms/history"},
		{http.MethodGet, "/api/v1/alarms/ack"},
		{http.MethodPost, "/api/v1/tags"},
		{http.MethodDelete, "/api/v1/tags/Temperature"},
	}
	for _, tc := range cases {
		if rr := do(t, f.h, tc.method, tc.path, ""); rr.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s %s: got %d, want 405", tc.method, tc.path, rr.Code)
		}
	}
}

func TestContentTypeJSON(t *testing.T) {
	f := newFixture(t, nil)
	for _, path := range []string{"/api/v1/health", "/api/v1/alarms", "/api/v1/alarms/history", "/api/v1/tags"} {
		rr := do(t, f.h, http.MethodGet, path, "")
		if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("%s Content-Type: got %q, want application/json", path, ct)
		}
	}
}
