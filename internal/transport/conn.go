package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/ezelpc/AURONTEK-sub000/internal/auth"
	"github.com/ezelpc/AURONTEK-sub000/internal/config"
	"github.com/gorilla/websocket"
)

const (
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingInterval     = (pongWait * 9) / 10
	handshakeTimeout = 10 * time.Second
	maxMessageSize   = 64 * 1024
	sendBufferSize   = 256
)

var (
	ErrNotConnected   = errors.New("transport not connected")
	ErrSendBufferFull = errors.New("send buffer full")
)

type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// ConnectionManager owns the single transport handle for a session. All
// higher components reach the wire through its Subscribe/Emit surface.
// An unexpected loss triggers a bounded retry policy; once the attempt
// cap is exhausted, or the credential is revoked, or Close is called,
// the manager lands in StateDisconnected and stays there.
type ConnectionManager struct {
	cfg    *config.Config
	tokens auth.TokenSource
	log    *log.Logger
	bus    *Bus
	stats  *SessionStats
	dialer *websocket.Dialer

	mu       sync.RWMutex
	state    State
	lastErr  error
	attempts int
	conn     *websocket.Conn

	send chan *Envelope
	stop chan struct{}
	done chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
}

func NewConnectionManager(cfg *config.Config, tokens auth.TokenSource, logger *log.Logger) *ConnectionManager {
	return &ConnectionManager{
		cfg:    cfg,
		tokens: tokens,
		log:    logger,
		bus:    NewBus(),
		stats:  NewSessionStats(),
		dialer: &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		state:  StateIdle,
		send:   make(chan *Envelope, sendBufferSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start launches the connection lifecycle. Calling it more than once is
// a no-op.
func (cm *ConnectionManager) Start() {
	cm.startOnce.Do(func() {
		go cm.run()
	})
}

// Close tears the session down: the transport handle is released, all
// retries stop, and the manager ends in StateDisconnected.
func (cm *ConnectionManager) Close() {
	cm.stopOnce.Do(func() {
		close(cm.stop)
	})
	cm.Start() // ensure done is eventually closed even if never started
	<-cm.done
}

func (cm *ConnectionManager) State() State {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.state
}

func (cm *ConnectionManager) Connected() bool {
	return cm.State() == StateConnected
}

func (cm *ConnectionManager) LastError() error {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.lastErr
}

func (cm *ConnectionManager) Stats() *SessionStats {
	return cm.stats
}

func (cm *ConnectionManager) Subscribe(event string, h Handler) *Subscription {
	return cm.bus.Subscribe(event, h)
}

// Emit queues an outbound envelope. It fails fast while the transport
// is down: callers are expected to retry after observing a connect
// event, not to rely on replay.
func (cm *ConnectionManager) Emit(event string, data any) error {
	if !cm.Connected() {
		return ErrNotConnected
	}

	env, err := NewEnvelope(event, data)
	if err != nil {
		return err
	}

	select {
	case cm.send <- env:
		return nil
	default:
		return ErrSendBufferFull
	}
}

func (cm *ConnectionManager) run() {
	defer close(cm.done)

	for {
		select {
		case <-cm.stop:
			cm.transition(StateDisconnected, nil)
			return
		default:
		}

		token, err := cm.tokens.Token()
		if err != nil {
			cm.log.Println("credential unavailable:", err)
			cm.transition(StateDisconnected, err)
			return
		}

		if cm.State() == StateIdle {
			cm.transition(StateConnecting, nil)
		}

		conn, err := cm.dial(token)
		if err != nil {
			cm.log.Println("dial:", err)
			cm.publish(EventConnectError, Disconnect{Reason: err.Error()})
			if !cm.backoff(err) {
				return
			}
			continue
		}

		cm.mu.Lock()
		reconnected := cm.attempts > 0
		cm.attempts = 0
		cm.conn = conn
		cm.state = StateConnected
		cm.lastErr = nil
		cm.mu.Unlock()

		cm.stats.Incr(MetricConnects)
		if reconnected {
			cm.stats.Incr(MetricReconnects)
		}
		cm.bus.Publish(EventConnect, nil)

		lostErr, stopped := cm.pump(conn)

		cm.mu.Lock()
		cm.conn = nil
		cm.mu.Unlock()

		if stopped {
			cm.transition(StateDisconnected, nil)
			return
		}

		cm.stats.Incr(MetricDisconnects)
		reason := "transport lost"
		if lostErr != nil {
			reason = lostErr.Error()
		}
		cm.transition(StateReconnecting, lostErr)
		cm.publish(EventDisconnect, Disconnect{Reason: reason})
		cm.drainSend()

		if !cm.backoff(lostErr) {
			return
		}
	}
}

func (cm *ConnectionManager) dial(token string) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	ctx, cancel := context.WithTimeout(context.Background(), handshakeTimeout)
	defer cancel()

	conn, _, err := cm.dialer.DialContext(ctx, cm.cfg.TransportURL, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cm.cfg.TransportURL, err)
	}

	return conn, nil
}

// backoff sleeps before the next dial. It returns false once the
// attempt cap is exhausted or the session is being closed, in which
// case the manager has already transitioned to its terminal state.
func (cm *ConnectionManager) backoff(cause error) bool {
	cm.mu.Lock()
	cm.attempts++
	attempts := cm.attempts
	cm.mu.Unlock()

	if attempts > cm.cfg.ReconnectAttempts {
		if cause == nil {
			cause = fmt.Errorf("connection lost")
		}
		err := fmt.Errorf("giving up after %d attempts: %w", cm.cfg.ReconnectAttempts, cause)
		cm.log.Println(err)
		cm.transition(StateDisconnected, err)
		return false
	}

	delay := cm.cfg.ReconnectBase * time.Duration(attempts)
	cm.log.Printf("reconnect attempt %d/%d in %s", attempts, cm.cfg.ReconnectAttempts, delay)

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-cm.stop:
		cm.transition(StateDisconnected, nil)
		return false
	}
}

// pump services one transport handle until it is lost or the session is
// closed. It returns the read error (nil on clean close) and whether
// the exit was caller-initiated.
func (cm *ConnectionManager) pump(conn *websocket.Conn) (error, bool) {
	quit := make(chan struct{})
	wdone := make(chan struct{})
	go cm.writePump(conn, quit, wdone)

	readErr := make(chan error, 1)
	go func() { readErr <- cm.readPump(conn) }()

	select {
	case <-cm.stop:
		close(quit)
		conn.Close()
		<-wdone
		<-readErr
		return nil, true
	case err := <-readErr:
		close(quit)
		conn.Close()
		<-wdone
		return err, false
	case <-wdone:
		conn.Close()
		return <-readErr, false
	}
}

func (cm *ConnectionManager) readPump(conn *websocket.Conn) error {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				cm.log.Printf("ws: read: %v", err)
			}
			return err
		}

		env, err := ParseEnvelope(raw)
		if err != nil {
			cm.log.Println("dropping malformed frame:", err)
			continue
		}

		cm.stats.Incr(MetricEventsReceived)
		cm.bus.Publish(env.Event, env.Data)
	}
}

func (cm *ConnectionManager) writePump(conn *websocket.Conn, quit <-chan struct{}, done chan<- struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		close(done)
	}()

	for {
		select {
		case env := <-cm.send:
			raw, err := json.Marshal(env)
			if err != nil {
				cm.log.Println("failed to serialize envelope:", err)
				continue
			}

			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				cm.log.Printf("write message: %s", err)
				return
			}
			cm.stats.Incr(MetricEventsSent)
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-quit:
			return
		}
	}
}

func (cm *ConnectionManager) transition(state State, err error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.state = state
	if err != nil {
		cm.lastErr = err
	}
}

func (cm *ConnectionManager) publish(event string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		cm.log.Printf("marshal %s payload: %v", event, err)
		return
	}

	cm.bus.Publish(event, raw)
}

// drainSend discards frames queued against a dead handle. Outbound
// requests are never replayed across a reconnect; joins and sends are
// re-issued by their owners after the next connect event.
func (cm *ConnectionManager) drainSend() {
	for {
		select {
		case <-cm.send:
		default:
			return
		}
	}
}
