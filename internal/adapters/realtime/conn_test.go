package realtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"picpic.sync/internal/core/events"
)

type readResult struct {
	data []byte
	err  error
}

type fakeConn struct {
	mu     sync.Mutex
	writes [][]byte
	reads  chan readResult
}

func newFakeConn() *fakeConn {
	return &fakeConn{reads: make(chan readResult, 16)}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	r, ok := <-c.reads
	if !ok {
		return 0, nil, errors.New("read on closed fake conn")
	}
	if r.err != nil {
		return 0, nil, r.err
	}
	return websocket.TextMessage, r.data, nil
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, data)
	return nil
}

func (c *fakeConn) Close() error { return nil }

func (c *fakeConn) failRead(err error) {
	c.reads <- readResult{err: err}
}

type fakeDialer struct {
	mu    sync.Mutex
	dials int
	// plan[i] is the outcome of dial i (0-based); past the end, dials fail.
	plan []func() (Conn, error)
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.mu.Lock()
	i := d.dials
	d.dials++
	d.mu.Unlock()
	if i < len(d.plan) {
		return d.plan[i]()
	}
	return nil, errors.New("connection refused")
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// testScheduler records reconnect timers instead of arming them, so tests
// drive time explicitly and never sleep through backoff delays.
type testScheduler struct {
	mu      sync.Mutex
	delays  []time.Duration
	pending []func()
}

func (s *testScheduler) afterFunc(d time.Duration, f func()) *time.Timer {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.pending = append(s.pending, f)
	s.mu.Unlock()
	return time.NewTimer(time.Hour)
}

// fire runs the oldest pending timer callback, if any.
func (s *testScheduler) fire() bool {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return false
	}
	f := s.pending[0]
	s.pending = s.pending[1:]
	s.mu.Unlock()
	f()
	return true
}

func (s *testScheduler) recordedDelays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, len(s.delays))
	copy(out, s.delays)
	return out
}

func newTestManager(dialer Dialer, sched *testScheduler, base time.Duration, maxAttempts int) (*Manager, *events.Dispatcher) {
	bus := events.NewDispatcher()
	m := NewManager(Options{
		URL:                   "ws://test",
		HeartbeatInterval:     time.Hour,
		ReconnectBaseInterval: base,
		MaxReconnectAttempts:  maxAttempts,
		Dialer:                dialer,
	}, bus)
	m.afterFunc = sched.afterFunc
	return m, bus
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestReconnectBackoffDelays(t *testing.T) {
	sched := &testScheduler{}
	dialer := &fakeDialer{} // always fails
	m, _ := newTestManager(dialer, sched, time.Second, 10)

	m.Connect(context.Background())
	for sched.fire() {
	}

	delays := sched.recordedDelays()
	if len(delays) != 10 {
		t.Fatalf("expected 10 scheduled attempts, got %d", len(delays))
	}
	for i, d := range delays {
		want := time.Second << i
		if want > maxReconnectDelay {
			want = maxReconnectDelay
		}
		if d != want {
			t.Errorf("attempt %d delay = %v, want %v", i+1, d, want)
		}
	}
}

func TestReconnectStormStopsAtCap(t *testing.T) {
	sched := &testScheduler{}
	dialer := &fakeDialer{} // 12+ consecutive failures available
	m, _ := newTestManager(dialer, sched, time.Millisecond, 10)

	m.Connect(context.Background())
	fired := 0
	for sched.fire() {
		fired++
		if fired > 20 {
			t.Fatal("reconnect scheduling did not stop")
		}
	}

	// Initial connect plus exactly 10 reconnect attempts, no 11th.
	if got := dialer.count(); got != 11 {
		t.Errorf("dial count = %d, want 11", got)
	}
	if len(sched.recordedDelays()) != 10 {
		t.Errorf("scheduled attempts = %d, want 10", len(sched.recordedDelays()))
	}
}

func TestAttemptCounterResetsOnOpen(t *testing.T) {
	sched := &testScheduler{}
	conn := newFakeConn()
	dialer := &fakeDialer{plan: []func() (Conn, error){
		func() (Conn, error) { return nil, errors.New("refused") },
		func() (Conn, error) { return nil, errors.New("refused") },
		func() (Conn, error) { return conn, nil },
	}}
	m, _ := newTestManager(dialer, sched, time.Second, 10)

	m.Connect(context.Background())
	sched.fire() // attempt 1 -> refused
	sched.fire() // attempt 2 -> open

	waitFor(t, "connected state", func() bool { return m.State() == StateConnected })

	// An abnormal close after a successful open starts the backoff over.
	conn.failRead(errors.New("connection reset"))
	waitFor(t, "reconnect scheduled", func() bool { return len(sched.recordedDelays()) == 3 })

	delays := sched.recordedDelays()
	if delays[0] != time.Second || delays[1] != 2*time.Second {
		t.Errorf("pre-open delays = %v, want [1s 2s]", delays[:2])
	}
	if delays[2] != time.Second {
		t.Errorf("post-open delay = %v, want reset to 1s", delays[2])
	}
}

func TestNormalCloseDoesNotReconnect(t *testing.T) {
	sched := &testScheduler{}
	conn := newFakeConn()
	dialer := &fakeDialer{plan: []func() (Conn, error){
		func() (Conn, error) { return conn, nil },
	}}
	m, bus := newTestManager(dialer, sched, time.Second, 10)

	var mu sync.Mutex
	var statuses []bool
	bus.On(events.KindConnectionStatus, func(payload any) {
		s := payload.(events.ConnectionStatus)
		mu.Lock()
		statuses = append(statuses, s.Connected)
		mu.Unlock()
	})

	m.Connect(context.Background())
	waitFor(t, "connected state", func() bool { return m.State() == StateConnected })

	conn.failRead(&websocket.CloseError{Code: websocket.CloseNormalClosure})
	waitFor(t, "disconnect status event", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(statuses) == 2
	})

	if len(sched.recordedDelays()) != 0 {
		t.Error("normal closure must not schedule reconnection")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(statuses) != 2 || statuses[0] != true || statuses[1] != false {
		t.Errorf("connection_status sequence = %v, want [true false]", statuses)
	}
}

func TestDisconnectStopsTimersAndReconnection(t *testing.T) {
	sched := &testScheduler{}
	conn := newFakeConn()
	dialer := &fakeDialer{plan: []func() (Conn, error){
		func() (Conn, error) { return conn, nil },
	}}
	m, _ := newTestManager(dialer, sched, time.Second, 10)

	m.Connect(context.Background())
	waitFor(t, "connected state", func() bool { return m.State() == StateConnected })

	m.Disconnect()

	m.mu.Lock()
	timer, heartbeat := m.reconnectTimer, m.heartbeatStop
	m.mu.Unlock()
	if timer != nil {
		t.Error("reconnect timer leaked past Disconnect")
	}
	if heartbeat != nil {
		t.Error("heartbeat leaked past Disconnect")
	}

	// A read error surfacing after Disconnect is stale and must not
	// schedule anything.
	conn.failRead(errors.New("connection reset"))
	time.Sleep(20 * time.Millisecond)
	if len(sched.recordedDelays()) != 0 {
		t.Error("stale close scheduled a reconnect after Disconnect")
	}
	if dialer.count() != 1 {
		t.Errorf("dial count = %d after Disconnect, want 1", dialer.count())
	}
}

func TestConnectIsIdempotentWhileOpen(t *testing.T) {
	sched := &testScheduler{}
	conn := newFakeConn()
	dialer := &fakeDialer{plan: []func() (Conn, error){
		func() (Conn, error) { return conn, nil },
	}}
	m, _ := newTestManager(dialer, sched, time.Second, 10)

	m.Connect(context.Background())
	waitFor(t, "connected state", func() bool { return m.State() == StateConnected })
	m.Connect(context.Background())

	if dialer.count() != 1 {
		t.Errorf("dial count = %d, want 1 (second Connect must be a no-op)", dialer.count())
	}
}

func TestDialFailureEmitsErrorEvent(t *testing.T) {
	sched := &testScheduler{}
	dialer := &fakeDialer{}
	m, bus := newTestManager(dialer, sched, time.Second, 10)

	var mu sync.Mutex
	var errs []string
	bus.On(events.KindError, func(payload any) {
		e := payload.(events.ErrorEvent)
		mu.Lock()
		errs = append(errs, e.Message)
		mu.Unlock()
	})

	m.Connect(context.Background())

	mu.Lock()
	defer mu.Unlock()
	if len(errs) != 1 || errs[0] != "connection refused" {
		t.Errorf("error events = %v, want one 'connection refused'", errs)
	}
}

func TestHealthGateConsumesAttempts(t *testing.T) {
	sched := &testScheduler{}
	dialer := &fakeDialer{}
	bus := events.NewDispatcher()
	m := NewManager(Options{
		URL:                   "ws://test",
		HeartbeatInterval:     time.Hour,
		ReconnectBaseInterval: time.Millisecond,
		MaxReconnectAttempts:  3,
		Dialer:                dialer,
		HealthGate:            func() bool { return false },
	}, bus)
	m.afterFunc = sched.afterFunc

	m.Connect(context.Background())
	for sched.fire() {
	}

	// The gate swallowed every attempt; only the initial dial happened.
	if dialer.count() != 1 {
		t.Errorf("dial count = %d, want 1 with gate closed", dialer.count())
	}
	if len(sched.recordedDelays()) != 3 {
		t.Errorf("scheduled attempts = %d, want 3 (cap)", len(sched.recordedDelays()))
	}
}

// serialCheckConn counts writers inside WriteMessage; any overlap means two
// goroutines hit the connection at once, which gorilla does not allow.
type serialCheckConn struct {
	reads    chan readResult
	inWrite  atomic.Int32
	overlaps atomic.Int32
}

func (c *serialCheckConn) ReadMessage() (int, []byte, error) {
	r, ok := <-c.reads
	if !ok || r.err != nil {
		return 0, nil, errors.New("closed")
	}
	return websocket.TextMessage, r.data, nil
}

func (c *serialCheckConn) WriteMessage(messageType int, data []byte) error {
	if c.inWrite.Add(1) > 1 {
		c.overlaps.Add(1)
	}
	time.Sleep(50 * time.Microsecond)
	c.inWrite.Add(-1)
	return nil
}

func (c *serialCheckConn) Close() error { return nil }

func TestWritesAreSerialized(t *testing.T) {
	conn := &serialCheckConn{reads: make(chan readResult)}
	dialer := &fakeDialer{plan: []func() (Conn, error){
		func() (Conn, error) { return conn, nil },
	}}
	bus := events.NewDispatcher()
	m := NewManager(Options{
		URL:                   "ws://test",
		HeartbeatInterval:     time.Millisecond,
		ReconnectBaseInterval: time.Second,
		MaxReconnectAttempts:  1,
		Dialer:                dialer,
	}, bus)

	m.Connect(context.Background())
	waitFor(t, "connected state", func() bool { return m.State() == StateConnected })

	// Heartbeat pings fire every millisecond while this loop hammers Send
	// from the test goroutine.
	for i := 0; i < 500; i++ {
		if err := m.Send(events.KindPing, PingPayload{}); err != nil {
			t.Fatalf("Send() error: %v", err)
		}
	}
	m.Disconnect()

	if n := conn.overlaps.Load(); n != 0 {
		t.Fatalf("observed %d overlapping writes on one connection", n)
	}
}

func TestSendRequiresConnection(t *testing.T) {
	sched := &testScheduler{}
	m, _ := newTestManager(&fakeDialer{}, sched, time.Second, 1)
	if err := m.Send(events.KindPing, PingPayload{}); err != ErrNotConnected {
		t.Errorf("Send on disconnected manager = %v, want ErrNotConnected", err)
	}
}
