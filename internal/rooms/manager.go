package rooms

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/ezelpc/AURONTEK-sub000/internal/config"
	"github.com/ezelpc/AURONTEK-sub000/internal/transport"
	"github.com/ezelpc/AURONTEK-sub000/internal/types"
)

const historyTimeout = 15 * time.Second

var ErrNotJoined = errors.New("room not joined")

// Conn is the slice of the connection manager the room layer needs.
type Conn interface {
	Connected() bool
	Emit(event string, data any) error
	Subscribe(event string, h transport.Handler) *transport.Subscription
}

// HistoryFetcher loads one page of message history over REST.
type HistoryFetcher interface {
	History(ctx context.Context, roomKey string, limit int, since time.Time) ([]types.Message, error)
}

// Manager tracks room memberships and per-room message sequences on top
// of a single connection. Memberships are reset to not-joined whenever
// the connection drops; the server clears its side implicitly, so a
// later reconnect requires an explicit re-join by the consumer.
type Manager struct {
	conn Conn
	hist HistoryFetcher
	cfg  *config.Config
	self types.Identity
	log  *log.Logger

	mu     sync.Mutex
	rooms  map[string]*room
	gen    int
	closed bool

	subs []*transport.Subscription
}

func NewManager(conn Conn, hist HistoryFetcher, cfg *config.Config, self types.Identity, logger *log.Logger) *Manager {
	m := &Manager{
		conn:  conn,
		hist:  hist,
		cfg:   cfg,
		self:  self,
		log:   logger,
		rooms: make(map[string]*room),
	}

	m.subs = append(m.subs,
		conn.Subscribe(transport.EventRoomJoined, m.handleRoomJoined),
		conn.Subscribe(transport.EventNewMessage, m.handleNewMessage),
		conn.Subscribe(transport.EventUserTyping, m.handleUserTyping),
		conn.Subscribe(transport.EventUserTypingEnd, m.handleUserTypingEnd),
		conn.Subscribe(transport.EventMessageRead, m.handleMessageRead),
		conn.Subscribe(transport.EventDisconnect, m.handleDisconnect),
	)

	return m
}

func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	for _, r := range m.rooms {
		r.stopTimers()
	}
	m.mu.Unlock()

	for _, s := range m.subs {
		s.Unsubscribe()
	}
}

// Join requests membership in a room. It is idempotent: calls while
// already joining or joined are no-ops. Calls while the connection is
// down are dropped, not queued; the consumer retries after the next
// connect event.
func (m *Manager) Join(roomKey string) {
	if !m.conn.Connected() {
		m.log.Printf("join %q dropped: not connected", roomKey)
		return
	}

	m.mu.Lock()
	r := m.room(roomKey)
	if r.state != stateNotJoined {
		m.mu.Unlock()
		return
	}
	r.state = stateJoining
	m.mu.Unlock()

	if err := m.conn.Emit(transport.EventJoinRoom, transport.JoinRoom{RoomKey: roomKey}); err != nil {
		m.log.Printf("join %q dropped: %v", roomKey, err)
		m.mu.Lock()
		if r.state == stateJoining {
			r.state = stateNotJoined
		}
		m.mu.Unlock()
	}
}

func (m *Manager) Joined(roomKey string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[roomKey]
	return ok && r.state == stateJoined
}

// Send emits a chat message. The local sequence is not touched: the
// server echoes the message back on the live stream with its assigned
// id, and that echo is the authoritative copy for every member,
// including the sender.
func (m *Manager) Send(roomKey, body string, kind types.MessageKind) error {
	if kind == "" {
		kind = types.KindText
	}

	m.mu.Lock()
	r, ok := m.rooms[roomKey]
	joined := ok && r.state == stateJoined
	m.mu.Unlock()

	if !joined {
		return ErrNotJoined
	}

	return m.conn.Emit(transport.EventSendMessage, transport.SendMessage{
		RoomKey: roomKey,
		Body:    body,
		Kind:    kind,
	})
}

// MarkRead reports a message as read to the other room members.
func (m *Manager) MarkRead(roomKey, messageId string) error {
	m.mu.Lock()
	r, ok := m.rooms[roomKey]
	joined := ok && r.state == stateJoined
	m.mu.Unlock()

	if !joined {
		return ErrNotJoined
	}

	return m.conn.Emit(transport.EventMarkRead, transport.MarkRead{
		RoomKey:   roomKey,
		MessageId: messageId,
	})
}

// Messages returns the rendered sequence for a room: the history page
// oldest to newest, followed by live messages in arrival order.
func (m *Manager) Messages(roomKey string) []types.Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[roomKey]
	if !ok {
		return nil
	}

	out := make([]types.Message, len(r.messages))
	copy(out, r.messages)
	return out
}

func (m *Manager) ReadBy(roomKey, messageId string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[roomKey]
	if !ok {
		return nil
	}

	readers := make([]string, 0, len(r.readBy[messageId]))
	for id := range r.readBy[messageId] {
		readers = append(readers, id)
	}
	return readers
}

// room returns the record for roomKey, creating it on first use.
// Callers must hold m.mu.
func (m *Manager) room(roomKey string) *room {
	r, ok := m.rooms[roomKey]
	if !ok {
		r = newRoom(roomKey)
		m.rooms[roomKey] = r
	}
	return r
}

func (m *Manager) handleRoomJoined(data json.RawMessage) {
	var ack transport.RoomJoined
	if err := json.Unmarshal(data, &ack); err != nil {
		m.log.Println("error parsing room-joined:", err)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}

	r, ok := m.rooms[ack.RoomKey]
	if !ok || r.state != stateJoining {
		return
	}

	r.state = stateJoined
	r.historyDone = false

	// rejoin after a reconnect only needs the gap since the last
	// message we already hold
	var since time.Time
	if n := len(r.messages); n > 0 {
		since = r.messages[n-1].CreatedAt
	}

	go m.loadHistory(ack.RoomKey, m.gen, since)
}

// loadHistory fetches the history page for a fresh join and merges it
// ahead of any live messages that raced it. The generation check
// discards the result if the connection dropped or the room was left
// while the fetch was in flight.
func (m *Manager) loadHistory(roomKey string, gen int, since time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()

	msgs, err := m.hist.History(ctx, roomKey, m.cfg.HistoryLimit, since)

	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[roomKey]
	if !ok || m.closed || m.gen != gen || r.state != stateJoined {
		return
	}

	if err != nil {
		// live flow continues without the page
		m.log.Printf("history for %q: %v", roomKey, err)
	}

	for _, msg := range msgs {
		if _, dup := r.seen[msg.Id]; dup {
			continue
		}
		r.seen[msg.Id] = struct{}{}
		r.messages = append(r.messages, msg)
	}

	r.messages = append(r.messages, r.pending...)
	r.pending = nil
	r.historyDone = true
}

func (m *Manager) handleNewMessage(data json.RawMessage) {
	var msg types.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		m.log.Println("error parsing new-message:", err)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}

	r, ok := m.rooms[msg.RoomKey]
	if !ok || r.state == stateNotJoined {
		return
	}

	if _, dup := r.seen[msg.Id]; dup {
		return
	}
	r.seen[msg.Id] = struct{}{}

	if r.historyDone {
		r.messages = append(r.messages, msg)
	} else {
		r.pending = append(r.pending, msg)
	}
}

func (m *Manager) handleMessageRead(data json.RawMessage) {
	var ev transport.MessageRead
	if err := json.Unmarshal(data, &ev); err != nil {
		m.log.Println("error parsing message-read-update:", err)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[ev.RoomKey]
	if !ok {
		return
	}

	if r.readBy[ev.MessageId] == nil {
		r.readBy[ev.MessageId] = make(map[string]struct{})
	}
	r.readBy[ev.MessageId][ev.UserId] = struct{}{}
}

func (m *Manager) handleDisconnect(json.RawMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.gen++
	for _, r := range m.rooms {
		r.reset()
	}
}
