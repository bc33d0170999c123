package rpc

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	gonutstash "github.com/Keksclan/goNutStash"
	"github.com/Keksclan/goNutStash/keygen"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

// fakeBackend implements Backend in memory, with per-method error
// injection for exercising the status-code mapping.
type fakeBackend struct {
	mu      sync.Mutex
	values  map[string][]byte
	getErr  error
	setErr  error
	getHits int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{values: make(map[string][]byte)}
}

func (b *fakeBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.getHits++
	if b.getErr != nil {
		return nil, false, b.getErr
	}
	v, ok := b.values[key]
	return v, ok, nil
}

func (b *fakeBackend) Set(_ context.Context, key string, value []byte, _ string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.setErr != nil {
		return b.setErr
	}
	b.values[key] = value
	return nil
}

func (b *fakeBackend) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.values, key)
	return nil
}

func (b *fakeBackend) Clear(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.values = make(map[string][]byte)
	return nil
}

func (b *fakeBackend) Stats(context.Context, int) (gonutstash.Stats, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return gonutstash.Stats{
		Persistent: gonutstash.PersistentStats{ItemCount: int64(len(b.values)), MaxItems: 1000},
	}, nil
}

func startServer(t *testing.T, backend Backend) *bufconn.Listener {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	Register(srv, backend)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(func() {
		srv.Stop()
		_ = lis.Close()
	})
	return lis
}

func dial(t *testing.T, lis *bufconn.Listener) *grpc.ClientConn {
	t.Helper()
	conn, err := grpc.NewClient("passthrough:///bufconn",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// noRetry keeps error-mapping tests from absorbing Unavailable responses.
var noRetry = ClientConfig{MaxAttempts: 1}

func TestServiceRegistration(t *testing.T) {
	srv := grpc.NewServer()
	Register(srv, newFakeBackend())

	info, ok := srv.GetServiceInfo()["stash.RenderCache"]
	if !ok {
		t.Fatal("stash.RenderCache not registered")
	}
	want := map[string]bool{
		"Get": false, "Set": false, "Delete": false,
		"Clear": false, "Stats": false, "MakeKey": false,
	}
	for _, m := range info.Methods {
		if _, known := want[m.Name]; !known {
			t.Fatalf("unexpected method %q", m.Name)
		}
		want[m.Name] = true
	}
	for name, seen := range want {
		if !seen {
			t.Fatalf("method %q not registered", name)
		}
	}
}

func TestGetSetRoundTrip(t *testing.T) {
	lis := startServer(t, newFakeBackend())
	c := NewClient(dial(t, lis), noRetry)
	ctx := t.Context()

	v, found, err := c.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if found || v != nil {
		t.Fatalf("expected clean miss, got found=%v value=%q", found, v)
	}

	if err := c.Set(ctx, "k", []byte("rendered-svg"), "mermaid_svg"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, found, err = c.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !found || string(v) != "rendered-svg" {
		t.Fatalf("got found=%v value=%q", found, v)
	}
}

func TestDeleteAndClear(t *testing.T) {
	backend := newFakeBackend()
	lis := startServer(t, backend)
	c := NewClient(dial(t, lis), noRetry)
	ctx := t.Context()

	for _, k := range []string{"a", "b"} {
		if err := c.Set(ctx, k, []byte(k), "t"); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}

	if err := c.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, found, _ := c.Get(ctx, "a"); found {
		t.Fatal("a still present after Delete")
	}

	if err := c.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	st, err := c.Stats(ctx, 10)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Persistent.ItemCount != 0 {
		t.Fatalf("items after Clear = %d, want 0", st.Persistent.ItemCount)
	}
}

func TestStats(t *testing.T) {
	backend := newFakeBackend()
	lis := startServer(t, backend)
	c := NewClient(dial(t, lis), noRetry)
	ctx := t.Context()

	if err := c.Set(ctx, "k", []byte("v"), "t"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	st, err := c.Stats(ctx, 10)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Persistent.ItemCount != 1 || st.Persistent.MaxItems != 1000 {
		t.Fatalf("stats: %+v", st.Persistent)
	}
}

func TestMakeKeyMatchesLocalDerivation(t *testing.T) {
	lis := startServer(t, newFakeBackend())
	c := NewClient(dial(t, lis), noRetry)
	ctx := t.Context()

	content := []byte("graph TD; A-->B;")
	renderCtx := map[string]string{"theme": "dark", "font_size": "14"}

	key, err := c.MakeKey(ctx, content, "mermaid_svg", renderCtx)
	if err != nil {
		t.Fatalf("MakeKey: %v", err)
	}
	if want := keygen.KeyWithContext(content, "mermaid_svg", renderCtx); key != want {
		t.Fatalf("remote key %q != local key %q", key, want)
	}

	key, err = c.MakeKey(ctx, content, "mermaid_svg", nil)
	if err != nil {
		t.Fatalf("MakeKey: %v", err)
	}
	if want := keygen.Key(content, "mermaid_svg"); key != want {
		t.Fatalf("remote key %q != local key %q", key, want)
	}
}

func TestErrorCodeMapping(t *testing.T) {
	backend := newFakeBackend()
	lis := startServer(t, backend)
	c := NewClient(dial(t, lis), noRetry)
	ctx := t.Context()

	backend.mu.Lock()
	backend.getErr = gonutstash.ErrStorageUnavailable
	backend.setErr = gonutstash.ErrTransactionFailed
	backend.mu.Unlock()

	if _, _, err := c.Get(ctx, "k"); status.Code(err) != codes.Unavailable {
		t.Fatalf("Get code = %v, want Unavailable", status.Code(err))
	}
	if err := c.Set(ctx, "k", nil, "t"); status.Code(err) != codes.Aborted {
		t.Fatalf("Set code = %v, want Aborted", status.Code(err))
	}

	backend.mu.Lock()
	backend.getErr = errors.New("something else")
	backend.mu.Unlock()
	if _, _, err := c.Get(ctx, "k"); status.Code(err) != codes.Internal {
		t.Fatalf("Get code = %v, want Internal", status.Code(err))
	}
}

func TestClientRetriesUnavailable(t *testing.T) {
	backend := newFakeBackend()
	backend.values["k"] = []byte("v")
	lis := startServer(t, backend)

	cfg := ClientConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	c := NewClient(dial(t, lis), cfg)
	ctx := t.Context()

	// First two attempts fail with Unavailable, then the backend recovers.
	backend.mu.Lock()
	backend.getErr = gonutstash.ErrStorageUnavailable
	backend.mu.Unlock()
	go func() {
		for {
			backend.mu.Lock()
			if backend.getHits >= 2 {
				backend.getErr = nil
				backend.mu.Unlock()
				return
			}
			backend.mu.Unlock()
			time.Sleep(time.Millisecond)
		}
	}()

	v, found, err := c.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get after retries: %v", err)
	}
	if !found || string(v) != "v" {
		t.Fatalf("got found=%v value=%q", found, v)
	}

	backend.mu.Lock()
	hits := backend.getHits
	backend.mu.Unlock()
	if hits < 2 {
		t.Fatalf("backend saw %d attempts, want at least 2", hits)
	}
}

func TestClientDoesNotRetryAborted(t *testing.T) {
	backend := newFakeBackend()
	backend.setErr = gonutstash.ErrTransactionFailed
	lis := startServer(t, backend)

	cfg := ClientConfig{MaxAttempts: 5, BaseDelay: time.Millisecond}
	c := NewClient(dial(t, lis), cfg)

	if err := c.Set(t.Context(), "k", []byte("v"), "t"); status.Code(err) != codes.Aborted {
		t.Fatalf("Set code = %v, want Aborted without retries", status.Code(err))
	}
}
