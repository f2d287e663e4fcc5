package shipper

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/tagalarm/tagalarm/agent/internal/config"
	"github.com/tagalarm/tagalarm/pkg/tagrpc"
)

// mockServer implements tagrpc.TagServiceServer for testing.
type mockServer struct {
	mu       sync.Mutex
	received []tagrpc.Update
	keys     []string
	failN    int        // fail the first N calls with failCode
	failCode codes.Code // Unavailable when zero
}

func (m *mockServer) Publish(ctx context.Context, updates []tagrpc.Update) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if md, ok := metadata.FromIncomingContext(ctx); ok {
		m.keys = append(m.keys, md.Get("x-api-key")...)
	}
	if m.failN > 0 {
		m.failN--
		code := m.failCode
		if code == codes.OK {
			code = codes.Unavailable
		}
		return status.Error(code, "mock failure")
	}
	m.received = append(m.received, updates...)
	return nil
}

func (m *mockServer) updates() []tagrpc.Update {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]tagrpc.Update(nil), m.received...)
}

// startTestServer starts an in-process gRPC server and returns a dial
// function that connects to it.
func startTestServer(t *testing.T, srv *mockServer) dialFunc {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	gs := grpc.NewServer()
	tagrpc.RegisterTagServiceServer(gs, srv)
	go gs.Serve(lis) //nolint:errcheck
	t.Cleanup(gs.Stop)

	addr := lis.Addr().String()
	return func(string) (*grpc.ClientConn, error) {
		return grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
}

func agentCfg() config.AgentConfig {
	return config.AgentConfig{
		ServerEndpoint: "unused-overridden-by-dialFn",
		BufferSize:     10,
		ShipInterval:   20 * time.Millisecond,
	}
}

func update(tag string, v float64) tagrpc.Update {
	return tagrpc.Update{Tag: tag, Value: v, Timestamp: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

// waitFor polls cond until it holds or two seconds pass.
func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

// --- Tests ---

func TestShipper_DeliversUpdates(t *testing.T) {
	srv := &mockServer{}
	s := New(agentCfg())
	s.dialFn = startTestServer(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	go s.Run(ctx)

	s.Ship(update("Temperature", 30), update("Pressure", 1.2))

	if !waitFor(func() bool { return len(srv.updates()) == 2 }) {
		t.Fatalf("server received %d updates, want 2", len(srv.updates()))
	}
	got := srv.updates()
	if got[0].Tag != "Temperature" || got[0].Value != 30.0 {
		t.Errorf("update 0: got %+v", got[0])
	}
	if !got[1].Timestamp.Equal(update("", 0).Timestamp) {
		t.Errorf("timestamp: got %v", got[1].Timestamp)
	}
}

func TestShipper_SendsAPIKey(t *testing.T) {
	t.Setenv("AGENT_KEY", "k1")
	srv := &mockServer{}
	cfg := agentCfg()
	cfg.ServerAuth = config.AuthConfig{Mode: "apikey", KeyEnv: "AGENT_KEY"}
	s := New(cfg)
	s.dialFn = startTestServer(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	go s.Run(ctx)

	s.Ship(update("T", 1))
	if !waitFor(func() bool { return len(srv.updates()) == 1 }) {
		t.Fatal("update not delivered")
	}
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if len(srv.keys) == 0 || srv.keys[0] != "k1" {
		t.Errorf("x-api-key metadata: got %v, want [k1]", srv.keys)
	}
}

func TestShipper_TransientErrorRequeues(t *testing.T) {
	srv := &mockServer{failN: 1}
	s := New(agentCfg())
	s.dialFn = startTestServer(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go s.Run(ctx)

	s.Ship(update("T", 1))
	// First send fails, the update is requeued and sent after the 1s backoff.
	deadline := time.Now().Add(4 * time.Second)
	for time.Now().Before(deadline) && len(srv.updates()) == 0 {
		time.Sleep(20 * time.Millisecond)
	}
	if got := len(srv.updates()); got != 1 {
		t.Errorf("server received %d updates after retry, want 1", got)
	}
}

func TestShipper_PermanentErrorDiscards(t *testing.T) {
	srv := &mockServer{failN: 1, failCode: codes.InvalidArgument}
	s := New(agentCfg())
	s.dialFn = startTestServer(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	go s.Run(ctx)

	s.Ship(update("bad", 1))
	if !waitFor(func() bool {
		srv.mu.Lock()
		defer srv.mu.Unlock()
		return srv.failN == 0
	}) {
		t.Fatal("server never saw the batch")
	}

	s.Ship(update("good", 2))
	if !waitFor(func() bool { return len(srv.updates()) == 1 }) {
		t.Fatalf("server received %d updates, want 1", len(srv.updates()))
	}
	if got := srv.updates()[0].Tag; got != "good" {
		t.Errorf("delivered tag: got %q, want good", got)
	}
}

func TestShipper_BufferEvictsOldest(t *testing.T) {
	s := New(config.AgentConfig{BufferSize: 3})

	for i := 0; i < 5; i++ {
		s.Ship(update("T", float64(i)))
	}
	if s.Pending() != 3 {
		t.Fatalf("Pending: got %d, want 3", s.Pending())
	}

	batch := s.take(maxBatch)
	for i, want := range []float64{2, 3, 4} {
		if batch[i].Value != want {
			t.Errorf("batch[%d]: got %v, want %v", i, batch[i].Value, want)
		}
	}
}

func TestShipper_TakeBounded(t *testing.T) {
	s := New(config.AgentConfig{BufferSize: 10})
	for i := 0; i < 7; i++ {
		s.Ship(update("T", float64(i)))
	}
	if got := len(s.take(5)); got != 5 {
		t.Errorf("take(5): got %d", got)
	}
	if got := len(s.take(5)); got != 2 {
		t.Errorf("second take(5): got %d, want 2", got)
	}
}

func TestBackoff_Resets(t *testing.T) {
	b := newBackoff()
	if first := b.next(); first > 2*time.Second {
		t.Errorf("first backoff too large: %v", first)
	}
	for i := 0; i < 10; i++ {
		b.next()
	}
	b.reset()
	if after := b.next(); after > 2*time.Second {
		t.Errorf("backoff after reset too large: %v", after)
	}
}

func TestBackoff_NeverExceedsMax(t *testing.T) {
	b := newBackoff()
	for i := 0; i < 50; i++ {
		// With jitter the ceiling is backoffMax * 1.25.
		if d := b.next(); d > backoffMax*5/4 {
			t.Errorf("backoff[%d] = %v, exceeds 1.25×max", i, d)
		}
	}
}

func TestShipper_GracefulShutdown(t *testing.T) {
	s := New(agentCfg())
	s.dialFn = startTestServer(t, &mockServer{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after context cancellation")
	}
}
