package rooms

import (
	"encoding/json"
	"time"

	"github.com/ezelpc/AURONTEK-sub000/internal/transport"
	"github.com/ezelpc/AURONTEK-sub000/internal/types"
)

// TypingInput signals local typing activity in a room. A typing-start
// frame goes out at most once per throttle window; after a quiet period
// with no further input a typing-stop frame follows.
func (m *Manager) TypingInput(roomKey string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[roomKey]
	if !ok || r.state != stateJoined {
		return
	}

	now := time.Now()
	if r.lastTypingSent.IsZero() || now.Sub(r.lastTypingSent) >= m.cfg.TypingThrottle {
		if err := m.conn.Emit(transport.EventTypingStart, transport.Typing{RoomKey: roomKey}); err != nil {
			m.log.Printf("typing-start %q: %v", roomKey, err)
			return
		}
		r.lastTypingSent = now
	}

	if r.quiet == nil {
		r.quiet = time.AfterFunc(m.cfg.TypingQuiet, func() { m.typingStop(roomKey) })
	} else {
		r.quiet.Reset(m.cfg.TypingQuiet)
	}
}

func (m *Manager) typingStop(roomKey string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}

	r, ok := m.rooms[roomKey]
	if !ok {
		return
	}

	r.lastTypingSent = time.Time{}
	if r.state != stateJoined {
		return
	}

	if err := m.conn.Emit(transport.EventTypingStop, transport.Typing{RoomKey: roomKey}); err != nil {
		m.log.Printf("typing-stop %q: %v", roomKey, err)
	}
}

// TypingUsers lists the identities currently typing in a room, the
// local identity excluded.
func (m *Manager) TypingUsers(roomKey string) []types.Identity {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[roomKey]
	if !ok {
		return nil
	}

	users := make([]types.Identity, 0, len(r.typingIn))
	for _, e := range r.typingIn {
		users = append(users, e.identity)
	}
	return users
}

func (m *Manager) handleUserTyping(data json.RawMessage) {
	var ev transport.UserTyping
	if err := json.Unmarshal(data, &ev); err != nil {
		m.log.Println("error parsing user-typing:", err)
		return
	}

	// own echo is never rendered back
	if ev.Identity.Id == m.self.Id {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}

	r, ok := m.rooms[ev.RoomKey]
	if !ok || r.state == stateNotJoined {
		return
	}

	if e, ok := r.typingIn[ev.Identity.Id]; ok {
		// refresh extends the existing indicator, no second timer
		e.identity = ev.Identity
		e.expire.Reset(m.cfg.TypingDecay)
		return
	}

	entry := &typingEntry{identity: ev.Identity}
	entry.expire = time.AfterFunc(m.cfg.TypingDecay, func() {
		m.clearTyping(ev.RoomKey, ev.Identity.Id)
	})
	r.typingIn[ev.Identity.Id] = entry
}

func (m *Manager) handleUserTypingEnd(data json.RawMessage) {
	var ev transport.UserTypingEnd
	if err := json.Unmarshal(data, &ev); err != nil {
		m.log.Println("error parsing user-typing-end:", err)
		return
	}

	m.clearTyping(ev.RoomKey, ev.UserId)
}

func (m *Manager) clearTyping(roomKey, userId string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[roomKey]
	if !ok {
		return
	}

	if e, ok := r.typingIn[userId]; ok {
		e.expire.Stop()
		delete(r.typingIn, userId)
	}
}
