package persist

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/hieudt/vnrelay/internal/auth"
	"github.com/hieudt/vnrelay/internal/lease"
	"github.com/hieudt/vnrelay/internal/store"
	"github.com/hieudt/vnrelay/internal/tick"
	"github.com/hieudt/vnrelay/internal/upstream"
)

type mockStore struct {
	mu     sync.Mutex
	prices []store.LivePrice
}

func (m *mockStore) UpsertLivePrice(_ context.Context, p store.LivePrice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices = append(m.prices, p)
	return nil
}

func (m *mockStore) Prices() []store.LivePrice {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]store.LivePrice(nil), m.prices...)
}

type mockAuth struct {
	calls atomic.Int32
}

func (m *mockAuth) Authenticate(_ context.Context, _ auth.Credentials) (auth.Token, error) {
	n := m.calls.Add(1)
	return auth.Token{Value: fmt.Sprintf("tok-%d", n)}, nil
}

type fakeSource struct {
	events chan upstream.Event
	closes atomic.Int32
}

func newFakeSource() *fakeSource {
	return &fakeSource{events: make(chan upstream.Event, 16)}
}

func (f *fakeSource) Events() <-chan upstream.Event { return f.events }
func (f *fakeSource) State() upstream.State         { return upstream.StateStreaming }
func (f *fakeSource) Close() error {
	f.closes.Add(1)
	return nil
}

type mockOpener struct {
	mu      sync.Mutex
	sources []*fakeSource
	cfgs    []upstream.SessionConfig
}

func (m *mockOpener) Open(_ context.Context, cfg upstream.SessionConfig) (upstream.Source, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfgs = append(m.cfgs, cfg)
	src := newFakeSource()
	m.sources = append(m.sources, src)
	return src, nil
}

func (m *mockOpener) opened() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sources)
}

func (m *mockOpener) source(i int) *fakeSource {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i >= len(m.sources) {
		return nil
	}
	return m.sources[i]
}

type mockPub struct {
	mu       sync.Mutex
	payloads map[string][][]byte
}

func (m *mockPub) Publish(_ context.Context, symbol string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.payloads == nil {
		m.payloads = make(map[string][][]byte)
	}
	m.payloads[symbol] = append(m.payloads[symbol], append([]byte(nil), payload...))
	return nil
}

func (m *mockPub) forSymbol(symbol string) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.payloads[symbol]
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

type testFeed struct {
	p      *Persister
	st     *mockStore
	authn  *mockAuth
	opener *mockOpener
	pub    *mockPub
	mr     *miniredis.Miniredis
	ls     *lease.Lease
}

func newTestFeed(t *testing.T, mutate ...func(*Config)) *testFeed {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	f := &testFeed{
		st:     &mockStore{},
		authn:  &mockAuth{},
		opener: &mockOpener{},
		pub:    &mockPub{},
		mr:     mr,
		ls:     lease.New(rdb, leaseKey("stock"), time.Minute, nil),
	}
	cfg := Config{
		Asset:          "stock",
		Symbols:        []string{"HPG"},
		BrokerURL:      "ws://unused",
		CheckInterval:  20 * time.Millisecond,
		ReconnectDelay: 20 * time.Millisecond,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	f.p = NewPersister(cfg, f.st, f.ls, f.authn, f.opener, f.pub, nil)
	t.Cleanup(func() { f.p.Disconnect(context.Background()) })
	return f
}

func sendTick(src *fakeSource, tk tick.Tick) {
	src.events <- upstream.Event{Type: upstream.EventTick, Tick: tk}
}

func TestPersister_PersistsAndPublishes(t *testing.T) {
	f := newTestFeed(t)

	if err := f.p.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	waitFor(t, func() bool { return f.opener.opened() == 1 }, "session never opened")

	sendTick(f.opener.source(0), tick.Tick{Symbol: "HPG", Price: 27.25, Quantity: 100, Side: tick.SideBuy, Time: "09:15:02"})
	waitFor(t, func() bool { return len(f.st.Prices()) == 1 }, "tick never persisted")

	got := f.st.Prices()[0]
	if got.Symbol != "HPG" || got.AssetClass != "stock" || got.Price != 27.25 || got.Side != "B" || got.TradeTime != "09:15:02" {
		t.Errorf("persisted price = %+v", got)
	}
	if got.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not set")
	}

	waitFor(t, func() bool { return len(f.pub.forSymbol("HPG")) == 1 }, "change never published")
	want := `{"symbol":"HPG","price":27.25,"quantity":100,"side":"B","time":"09:15:02"}`
	if string(f.pub.forSymbol("HPG")[0]) != want {
		t.Errorf("published payload = %s, want %s", f.pub.forSymbol("HPG")[0], want)
	}
}

func TestPersister_ThrottlesWrites(t *testing.T) {
	// Long check interval keeps the periodic flush out of this test.
	f := newTestFeed(t, func(c *Config) { c.CheckInterval = time.Hour })

	base := time.Date(2024, 3, 11, 9, 15, 0, 0, time.UTC)
	var fakeNow atomic.Int64
	fakeNow.Store(base.UnixNano())
	f.p.now = func() time.Time { return time.Unix(0, fakeNow.Load()) }

	if err := f.p.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	waitFor(t, func() bool { return f.opener.opened() == 1 }, "session never opened")
	src := f.opener.source(0)

	sendTick(src, tick.Tick{Symbol: "HPG", Price: 27.25, Quantity: 100, Side: tick.SideBuy, Time: "09:15:00"})
	sendTick(src, tick.Tick{Symbol: "HPG", Price: 27.30, Quantity: 200, Side: tick.SideSell, Time: "09:15:01"})
	waitFor(t, func() bool { return len(f.st.Prices()) == 1 }, "first tick never persisted")

	// Throttled tick must not be written inside the window
	time.Sleep(50 * time.Millisecond)
	if n := len(f.st.Prices()); n != 1 {
		t.Fatalf("writes = %d, want 1 (second tick inside interval)", n)
	}

	fakeNow.Store(base.Add(11 * time.Second).UnixNano())
	sendTick(src, tick.Tick{Symbol: "HPG", Price: 27.35, Quantity: 300, Side: tick.SideBuy, Time: "09:15:11"})
	waitFor(t, func() bool { return len(f.st.Prices()) == 2 }, "tick after interval never persisted")

	if got := f.st.Prices()[1].Price; got != 27.35 {
		t.Errorf("second write price = %v, want 27.35", got)
	}
}

func TestPersister_FlushesLastTickAfterWindow(t *testing.T) {
	f := newTestFeed(t)

	base := time.Date(2024, 3, 11, 9, 15, 0, 0, time.UTC)
	var fakeNow atomic.Int64
	fakeNow.Store(base.UnixNano())
	f.p.now = func() time.Time { return time.Unix(0, fakeNow.Load()) }

	if err := f.p.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	waitFor(t, func() bool { return f.opener.opened() == 1 }, "session never opened")
	src := f.opener.source(0)

	// Burst inside one window, then the stream goes quiet.
	sendTick(src, tick.Tick{Symbol: "HPG", Price: 27.25, Quantity: 100, Side: tick.SideBuy, Time: "09:15:00"})
	sendTick(src, tick.Tick{Symbol: "HPG", Price: 27.30, Quantity: 200, Side: tick.SideSell, Time: "09:15:01"})
	sendTick(src, tick.Tick{Symbol: "HPG", Price: 27.35, Quantity: 300, Side: tick.SideBuy, Time: "09:15:02"})
	waitFor(t, func() bool { return len(f.st.Prices()) == 1 }, "first tick never persisted")

	// Once the window elapses, the periodic check flushes the newest
	// stashed tick even though no further ticks arrive.
	fakeNow.Store(base.Add(11 * time.Second).UnixNano())
	waitFor(t, func() bool { return len(f.st.Prices()) == 2 }, "stashed tick never flushed")

	got := f.st.Prices()[1]
	if got.Price != 27.35 || got.TradeTime != "09:15:02" {
		t.Errorf("flushed write = %+v, want the last observed tick (27.35 @ 09:15:02)", got)
	}
	waitFor(t, func() bool { return len(f.pub.forSymbol("HPG")) == 2 }, "flushed change never published")
}

func TestPersister_ConnectIdempotent(t *testing.T) {
	f := newTestFeed(t)
	ctx := context.Background()

	if err := f.p.Connect(ctx); err != nil {
		t.Fatalf("first Connect failed: %v", err)
	}
	if err := f.p.Connect(ctx); err != nil {
		t.Fatalf("second Connect failed: %v", err)
	}
	waitFor(t, func() bool { return f.opener.opened() == 1 }, "session never opened")

	time.Sleep(50 * time.Millisecond)
	if n := f.opener.opened(); n != 1 {
		t.Errorf("sessions opened = %d, want 1", n)
	}
	if !f.p.Running() {
		t.Error("feed should be running")
	}
}

func TestPersister_DisconnectReleasesLease(t *testing.T) {
	f := newTestFeed(t)
	ctx := context.Background()

	if err := f.p.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	waitFor(t, func() bool { return f.opener.opened() == 1 }, "session never opened")

	if err := f.p.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	if f.p.Running() {
		t.Error("feed should be stopped")
	}
	if f.mr.Exists(leaseKey("stock")) {
		t.Error("lease key should be deleted")
	}
	waitFor(t, func() bool { return f.opener.source(0).closes.Load() >= 1 }, "session never closed")

	// stopping again is a no-op
	if err := f.p.Disconnect(ctx); err != nil {
		t.Errorf("second Disconnect failed: %v", err)
	}
}

func TestPersister_LeaseExpiryStopsFeed(t *testing.T) {
	f := newTestFeed(t)
	ctx := context.Background()

	if err := f.p.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	waitFor(t, func() bool { return f.opener.opened() == 1 }, "session never opened")

	f.mr.Del(leaseKey("stock"))

	waitFor(t, func() bool { return !f.p.Running() }, "feed never stopped after lease expiry")
	waitFor(t, func() bool { return f.opener.source(0).closes.Load() >= 1 }, "session never closed")
}

func TestPersister_ReopensWithFreshToken(t *testing.T) {
	f := newTestFeed(t)
	ctx := context.Background()

	if err := f.p.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	waitFor(t, func() bool { return f.opener.opened() == 1 }, "session never opened")

	// Simulate the session dying
	close(f.opener.source(0).events)

	waitFor(t, func() bool { return f.opener.opened() == 2 }, "session never reopened")

	f.opener.mu.Lock()
	first, second := f.opener.cfgs[0].Token, f.opener.cfgs[1].Token
	f.opener.mu.Unlock()
	if first != "tok-1" || second != "tok-2" {
		t.Errorf("tokens = %q, %q; want fresh token per open", first, second)
	}
}

func TestSupervisor_StartStop(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	opener := &mockOpener{}
	sup := NewSupervisor(SupervisorConfig{
		Feeds: map[string][]string{"stock": {"HPG", "VNM"}},
		Template: Config{
			BrokerURL:      "ws://unused",
			CheckInterval:  20 * time.Millisecond,
			ReconnectDelay: 20 * time.Millisecond,
		},
		LeaseTTL: time.Minute,
	}, &mockStore{}, rdb, &mockAuth{}, opener, nil, nil)
	t.Cleanup(func() { sup.Shutdown(context.Background()) })

	ctx := context.Background()
	if err := sup.StartFeed(ctx, "stock"); err != nil {
		t.Fatalf("StartFeed failed: %v", err)
	}
	if !sup.Running("stock") {
		t.Error("feed should be running after start")
	}
	if !mr.Exists("vnrelay:feed:stock:lease") {
		t.Error("lease key not created")
	}

	if err := sup.StopFeed(ctx, "stock"); err != nil {
		t.Fatalf("StopFeed failed: %v", err)
	}
	if sup.Running("stock") {
		t.Error("feed should be stopped")
	}

	// stop when not running succeeds
	if err := sup.StopFeed(ctx, "stock"); err != nil {
		t.Errorf("StopFeed on stopped feed failed: %v", err)
	}
}

func TestSupervisor_UnknownAsset(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	sup := NewSupervisor(SupervisorConfig{
		Feeds:    map[string][]string{"stock": {"HPG"}},
		LeaseTTL: time.Minute,
	}, &mockStore{}, rdb, &mockAuth{}, &mockOpener{}, nil, nil)

	if err := sup.StartFeed(context.Background(), "bond"); !errors.Is(err, ErrUnknownAsset) {
		t.Errorf("StartFeed(bond) = %v, want ErrUnknownAsset", err)
	}
	if err := sup.StopFeed(context.Background(), "bond"); !errors.Is(err, ErrUnknownAsset) {
		t.Errorf("StopFeed(bond) = %v, want ErrUnknownAsset", err)
	}
}
