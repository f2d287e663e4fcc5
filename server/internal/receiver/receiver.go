package receiver

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tagalarm/tagalarm/pkg/tagrpc"
)

// maxTagLen bounds tag names accepted from clients.
const maxTagLen = 256

// Sink consumes accepted tag updates. The alarm engine and the tag store
// both satisfy it.
type Sink interface {
	Publish(tag string, value any, ts time.Time)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(tag string, value any, ts time.Time)

func (f SinkFunc) Publish(tag string, value any, ts time.Time) { f(tag, value, ts) }

// Receiver implements tagrpc.TagServiceServer.
// It validates each batch and hands every update to all sinks in order.
type Receiver struct {
	sinks []Sink
	now   func() time.Time
}

// New creates a Receiver that fans accepted updates out to sinks.
func New(sinks ...Sink) *Receiver {
	return &Receiver{sinks: sinks, now: time.Now}
}

// Publish is the unary RPC handler called by agents and by the REST write
// path. The whole batch is validated before any update is delivered, so a
// rejected batch has no partial effect. Authentication is enforced by the
// gRPC server interceptor before this is called.
func (r *Receiver) Publish(ctx context.Context, updates []tagrpc.Update) error {
	if len(updates) == 0 {
		return status.Error(codes.InvalidArgument, "at least one update is required")
	}
	for i, u := range updates {
		if err := validate(u); err != nil {
			return status.Error(codes.InvalidArgument, fmt.Sprintf("updates[%d]: %v", i, err))
		}
	}

	received := r.now()
	for _, u := range updates {
		ts := u.Timestamp
		if ts.IsZero() {
			ts = received
		}
		for i, s := range r.sinks {
			r.deliver(i, s, u.Tag, u.Value, ts)
		}
	}

	slog.Debug("receiver: batch accepted", "updates", len(updates))
	return nil
}

// deliver isolates sinks from each other: a panic in one is logged and the
// remaining sinks still see the update.
func (r *Receiver) deliver(idx int, s Sink, tag string, value any, ts time.Time) {
	defer func() {
		if p := recover(); p != nil {
			slog.Error("receiver: sink panicked", "sink", idx, "tag", tag, "panic", p)
		}
	}()
	s.Publish(tag, value, ts)
}

func validate(u tagrpc.Update) error {
	tag := strings.TrimSpace(u.Tag)
	switch {
	case tag == "":
		return fmt.Errorf("tag is required")
	case tag != u.Tag:
		return fmt.Errorf("tag %q has surrounding whitespace", u.Tag)
	case len(tag) > maxTagLen:
		return fmt.Errorf("tag longer than %d bytes", maxTagLen)
	}
	switch u.Value.(type) {
	case bool, string, float64, float32, int, int32, int64, uint, uint32, uint64:
		return nil
	case nil:
		return fmt.Errorf("value is required")
	default:
		return fmt.Errorf("value of type %T is not a scalar", u.Value)
	}
}
