// Package realtime owns the push-channel connection: dialing, heartbeats,
// reconnection with exponential backoff, and the subscription registry that
// tells the server which entities to stream.
package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"

	"picpic.sync/internal/core/events"
	"picpic.sync/internal/core/logger"
)

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

const maxReconnectDelay = 30 * time.Second

var ErrNotConnected = errors.New("push channel not connected")

// Conn is the transport surface the manager needs. *websocket.Conn
// satisfies it; tests plug in fakes.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens one transport connection.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

type wsDialer struct{}

func (wsDialer) Dial(ctx context.Context, url string) (Conn, error) {
	c, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Options configures a Manager.
type Options struct {
	URL                   string
	HeartbeatInterval     time.Duration // default 30s
	ReconnectBaseInterval time.Duration // default 1s
	MaxReconnectAttempts  int           // default 10

	// Dialer overrides the websocket dialer, for tests.
	Dialer Dialer
	// HealthGate, when set, is consulted before each reconnect attempt.
	// A false result consumes the attempt without dialing.
	HealthGate func() bool
}

// Manager maintains at most one live push-channel connection. All failure
// handling is contained here; consumers observe only connection_status and
// error events on the dispatcher.
type Manager struct {
	opts   Options
	dialer Dialer
	bus    *events.Dispatcher

	// afterFunc is swapped out in tests to make delays observable.
	afterFunc func(d time.Duration, f func()) *time.Timer

	// writeMu serializes frame writes. gorilla/websocket allows only one
	// concurrent writer; the heartbeat goroutine and Send callers would
	// otherwise collide on the same connection.
	writeMu sync.Mutex

	mu             sync.Mutex
	state          State
	conn           Conn
	gen            int
	attempts       int
	bo             *backoff.ExponentialBackOff
	reconnectTimer *time.Timer
	heartbeatStop  chan struct{}
	disabled       bool
}

func NewManager(opts Options, bus *events.Dispatcher) *Manager {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 30 * time.Second
	}
	if opts.ReconnectBaseInterval <= 0 {
		opts.ReconnectBaseInterval = time.Second
	}
	if opts.MaxReconnectAttempts <= 0 {
		opts.MaxReconnectAttempts = 10
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = wsDialer{}
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = opts.ReconnectBaseInterval
	bo.RandomizationFactor = 0
	bo.Multiplier = 2
	bo.MaxInterval = maxReconnectDelay
	bo.Reset()

	return &Manager{
		opts:      opts,
		dialer:    dialer,
		bus:       bus,
		afterFunc: time.AfterFunc,
		state:     StateDisconnected,
		bo:        bo,
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect opens the push channel. It is a no-op while a connection is open
// or being opened, and re-arms reconnection after a prior Disconnect.
func (m *Manager) Connect(ctx context.Context) {
	m.mu.Lock()
	if m.state != StateDisconnected {
		m.mu.Unlock()
		return
	}
	m.state = StateConnecting
	m.disabled = false
	m.mu.Unlock()

	conn, err := m.dialer.Dial(ctx, m.opts.URL)
	if err != nil {
		m.bus.Emit(events.KindError, events.ErrorEvent{
			Message:   err.Error(),
			Timestamp: time.Now(),
		})
		m.mu.Lock()
		m.state = StateDisconnected
		m.mu.Unlock()
		m.bus.Emit(events.KindConnectionStatus, events.ConnectionStatus{
			Connected: false,
			Timestamp: time.Now(),
		})
		m.scheduleReconnect()
		return
	}

	m.mu.Lock()
	m.conn = conn
	m.gen++
	gen := m.gen
	m.state = StateConnected
	m.attempts = 0
	m.bo.Reset()
	m.startHeartbeatLocked(conn)
	m.mu.Unlock()

	m.bus.Emit(events.KindConnectionStatus, events.ConnectionStatus{
		Connected: true,
		Timestamp: time.Now(),
	})

	go m.readLoop(conn, gen)
}

// Disconnect closes the channel and stops all future reconnection attempts.
// This is the only path that disables reconnection.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.disabled = true
	m.gen++
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	m.stopHeartbeatLocked()
	conn := m.conn
	m.conn = nil
	wasDisconnected := m.state == StateDisconnected
	m.state = StateDisconnected
	m.mu.Unlock()

	if conn != nil {
		deadline := time.Now().Add(time.Second)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if c, ok := conn.(*websocket.Conn); ok {
			// WriteControl is safe alongside a concurrent writer.
			c.WriteControl(websocket.CloseMessage, msg, deadline)
		} else {
			m.write(conn, websocket.CloseMessage, msg)
		}
		conn.Close()
	}
	if !wasDisconnected {
		m.bus.Emit(events.KindConnectionStatus, events.ConnectionStatus{
			Connected: false,
			Timestamp: time.Now(),
		})
	}
}

// Send encodes and writes one frame. Marshal failures are logged and
// swallowed; transport failures surface through the read loop's close.
func (m *Manager) Send(kind events.Kind, payload any) error {
	m.mu.Lock()
	conn := m.conn
	state := m.state
	m.mu.Unlock()

	if state != StateConnected || conn == nil {
		return ErrNotConnected
	}
	frame, err := EncodeFrame(kind, payload, time.Now())
	if err != nil {
		logger.Error("dropping unencodable frame", "kind", string(kind), "error", err)
		return nil
	}
	if err := m.write(conn, websocket.TextMessage, frame); err != nil {
		logger.Warn("push channel write failed", "kind", string(kind), "error", err)
	}
	return nil
}

func (m *Manager) write(conn Conn, messageType int, data []byte) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return conn.WriteMessage(messageType, data)
}

// readLoop processes inbound frames in arrival order. It exits on the first
// read error, which is also how closes are detected.
func (m *Manager) readLoop(conn Conn, gen int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.onClose(gen, err)
			return
		}
		kind, payload, derr := DecodeFrame(data)
		if derr != nil {
			logger.Warn("discarding frame", "error", derr)
			continue
		}
		m.bus.Emit(kind, payload)
	}
}

func (m *Manager) onClose(gen int, err error) {
	m.mu.Lock()
	if gen != m.gen {
		// A newer connection (or an explicit Disconnect) already took over.
		m.mu.Unlock()
		return
	}
	m.stopHeartbeatLocked()
	m.conn = nil
	m.state = StateDisconnected
	disabled := m.disabled
	m.mu.Unlock()

	m.bus.Emit(events.KindConnectionStatus, events.ConnectionStatus{
		Connected: false,
		Timestamp: time.Now(),
	})

	normal := websocket.IsCloseError(err, websocket.CloseNormalClosure)
	if !normal && !disabled {
		m.scheduleReconnect()
	}
}

// scheduleReconnect arms the backoff timer for the next attempt. Once the
// attempt cap is reached reconnection stops silently; the last
// connection_status{connected:false} has already been emitted.
func (m *Manager) scheduleReconnect() {
	m.mu.Lock()
	if m.disabled || m.reconnectTimer != nil {
		m.mu.Unlock()
		return
	}
	if m.attempts >= m.opts.MaxReconnectAttempts {
		m.mu.Unlock()
		logger.Warn("reconnect attempt cap reached, giving up",
			"attempts", m.opts.MaxReconnectAttempts)
		return
	}
	m.attempts++
	attempt := m.attempts
	delay := m.bo.NextBackOff()
	m.reconnectTimer = m.afterFunc(delay, func() {
		m.mu.Lock()
		m.reconnectTimer = nil
		m.mu.Unlock()
		if gate := m.opts.HealthGate; gate != nil && !gate() {
			logger.Warn("skipping reconnect attempt, companion endpoint unhealthy",
				"attempt", attempt)
			m.scheduleReconnect()
			return
		}
		m.Connect(context.Background())
	})
	m.mu.Unlock()
	logger.Info("reconnect scheduled", "attempt", attempt, "delay", delay)
}

func (m *Manager) startHeartbeatLocked(conn Conn) {
	stop := make(chan struct{})
	m.heartbeatStop = stop
	interval := m.opts.HeartbeatInterval

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				frame, err := EncodeFrame(events.KindPing, PingPayload{
					Timestamp: time.Now().UTC().Format(time.RFC3339),
				}, time.Now())
				if err != nil {
					continue
				}
				// Liveness is inferred from transport close events only;
				// no pong is expected back for these pings.
				if err := m.write(conn, websocket.TextMessage, frame); err != nil {
					return
				}
			}
		}
	}()
}

func (m *Manager) stopHeartbeatLocked() {
	if m.heartbeatStop != nil {
		close(m.heartbeatStop)
		m.heartbeatStop = nil
	}
}
