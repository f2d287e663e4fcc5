package shipper

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/tagalarm/tagalarm/agent/internal/config"
	"github.com/tagalarm/tagalarm/pkg/tagrpc"
)

const (
	backoffInitial    = 1 * time.Second
	backoffMax        = 60 * time.Second
	backoffMultiplier = 2.0
	sendTimeout       = 10 * time.Second

	// maxBatch bounds the number of updates sent in one Publish call.
	maxBatch = 500
)

// Shipper buffers tag updates and ships them to the server in batches.
// Ship is non-blocking; when the buffer is full the oldest update is evicted.
// Run must be called in a goroutine to drain the buffer.
type Shipper struct {
	cfg    config.AgentConfig
	buf    chan tagrpc.Update
	dialFn dialFunc
}

// dialFunc opens the gRPC connection. Tests replace it.
type dialFunc func(endpoint string) (*grpc.ClientConn, error)

// New creates a Shipper using the given agent config.
func New(cfg config.AgentConfig) *Shipper {
	return &Shipper{
		cfg:    cfg,
		buf:    make(chan tagrpc.Update, cfg.BufferSize),
		dialFn: defaultDial,
	}
}

// Ship enqueues updates. If the buffer is full the oldest entries are
// evicted to make room.
func (s *Shipper) Ship(updates ...tagrpc.Update) {
	for _, u := range updates {
		s.enqueue(u)
	}
}

func (s *Shipper) enqueue(u tagrpc.Update) {
	for {
		select {
		case s.buf <- u:
			return
		default:
		}
		select {
		case old := <-s.buf:
			slog.Warn("shipper: buffer full, evicted oldest update",
				"tag", old.Tag, "buffer_cap", cap(s.buf))
		default:
		}
	}
}

// Pending returns the number of buffered updates.
func (s *Shipper) Pending() int { return len(s.buf) }

// Run drains the buffer every ShipInterval, reconnecting with exponential
// backoff when the connection is lost. Run blocks until ctx is cancelled.
func (s *Shipper) Run(ctx context.Context) {
	bo := newBackoff()

	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := s.dialFn(s.cfg.ServerEndpoint)
		if err != nil {
			wait := bo.next()
			slog.Error("shipper: dial failed, will retry",
				"endpoint", s.cfg.ServerEndpoint, "err", err, "retry_in", wait)
			if !sleep(ctx, wait) {
				return
			}
			continue
		}

		slog.Info("shipper: connected", "endpoint", s.cfg.ServerEndpoint)

		err = s.drain(ctx, tagrpc.NewClient(conn), bo)
		conn.Close()

		if ctx.Err() != nil {
			return
		}

		wait := bo.next()
		slog.Warn("shipper: connection lost, will reconnect",
			"endpoint", s.cfg.ServerEndpoint, "err", err, "retry_in", wait)
		if !sleep(ctx, wait) {
			return
		}
	}
}

// drain sends buffered updates on every tick until a send fails with a
// transient error or ctx is cancelled.
func (s *Shipper) drain(ctx context.Context, client *tagrpc.Client, bo *backoff) error {
	t := time.NewTicker(s.cfg.ShipInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}

		for {
			batch := s.take(maxBatch)
			if len(batch) == 0 {
				break
			}
			if err := s.send(ctx, client, batch); err != nil {
				if isPermanentError(err) {
					slog.Error("shipper: permanent send error, discarding batch",
						"updates", len(batch), "err", err)
					continue
				}
				// Requeue; order within the buffer is not preserved but each
				// update keeps its own timestamp.
				s.Ship(batch...)
				return fmt.Errorf("send: %w", err)
			}
			bo.reset()
			slog.Debug("shipper: batch delivered", "updates", len(batch))
		}
	}
}

// take removes up to n updates from the buffer without blocking.
func (s *Shipper) take(n int) []tagrpc.Update {
	var batch []tagrpc.Update
	for len(batch) < n {
		select {
		case u := <-s.buf:
			batch = append(batch, u)
		default:
			return batch
		}
	}
	return batch
}

func (s *Shipper) send(ctx context.Context, client *tagrpc.Client, batch []tagrpc.Update) error {
	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	if auth := s.cfg.ServerAuth; auth.Mode == "apikey" && auth.KeyEnv != "" {
		sendCtx = metadata.AppendToOutgoingContext(sendCtx, auth.EffectiveHeader(), auth.Key())
	}
	return client.Publish(sendCtx, batch)
}

// isPermanentError reports gRPC errors that retrying cannot fix.
func isPermanentError(err error) bool {
	switch status.Code(err) {
	case codes.InvalidArgument, codes.Unauthenticated, codes.PermissionDenied:
		return true
	}
	return false
}

func defaultDial(endpoint string) (*grpc.ClientConn, error) {
	return grpc.NewClient(endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// backoff implements truncated exponential backoff with jitter.
type backoff struct {
	current time.Duration
}

func newBackoff() *backoff {
	return &backoff{current: backoffInitial}
}

// next returns the current backoff duration and advances the internal state.
func (b *backoff) next() time.Duration {
	d := b.current
	// ±25% jitter.
	d += time.Duration(float64(b.current) * 0.25 * (rand.Float64()*2 - 1)) //nolint:gosec // not crypto
	if d < 0 {
		d = 0
	}

	b.current = time.Duration(float64(b.current) * backoffMultiplier)
	if b.current > backoffMax {
		b.current = backoffMax
	}
	return d
}

func (b *backoff) reset() {
	b.current = backoffInitial
}
