package rooms

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/ezelpc/AURONTEK-sub000/internal/config"
	"github.com/ezelpc/AURONTEK-sub000/internal/testutil"
	"github.com/ezelpc/AURONTEK-sub000/internal/transport"
	"github.com/ezelpc/AURONTEK-sub000/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type emittedEvent struct {
	event string
	data  any
}

// fakeConn satisfies Conn and doubles as the inbound event source.
type fakeConn struct {
	bus *transport.Bus

	mu        sync.Mutex
	connected bool
	emitted   []emittedEvent
	emitErr   error
}

func newFakeConn() *fakeConn {
	return &fakeConn{bus: transport.NewBus(), connected: true}
}

func (f *fakeConn) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeConn) setConnected(connected bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = connected
}

func (f *fakeConn) Emit(event string, data any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.emitErr != nil {
		return f.emitErr
	}

	f.emitted = append(f.emitted, emittedEvent{event: event, data: data})
	return nil
}

func (f *fakeConn) Subscribe(event string, h transport.Handler) *transport.Subscription {
	return f.bus.Subscribe(event, h)
}

// fire delivers an inbound event the way the read pump would.
func (f *fakeConn) fire(t *testing.T, event string, payload any) {
	t.Helper()

	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	f.bus.Publish(event, raw)
}

func (f *fakeConn) emittedEvents(event string) []emittedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []emittedEvent
	for _, e := range f.emitted {
		if e.event == event {
			out = append(out, e)
		}
	}
	return out
}

type fakeHistory struct {
	mu    sync.Mutex
	msgs  []types.Message
	err   error
	block chan struct{}
	calls int
	since []time.Time
}

func (f *fakeHistory) History(ctx context.Context, roomKey string, limit int, since time.Time) ([]types.Message, error) {
	f.mu.Lock()
	block := f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.since = append(f.since, since)
	return f.msgs, f.err
}

func (f *fakeHistory) set(msgs []types.Message, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = msgs
	f.err = err
}

func testMessage(id, roomKey, senderId, body string) types.Message {
	return types.Message{
		Id:      id,
		RoomKey: roomKey,
		Sender:  types.Identity{Id: senderId, DisplayName: "user-" + senderId},
		Body:    body,
		Kind:    types.KindText,
	}
}

func newTestManager(t *testing.T, conn *fakeConn, hist *fakeHistory) *Manager {
	t.Helper()

	cfg, err := config.NewConfig("ws://localhost:3003/ws", "http://localhost:3000/api")
	require.NoError(t, err)
	cfg.TypingThrottle = time.Second
	cfg.TypingQuiet = 25 * time.Millisecond
	cfg.TypingDecay = 50 * time.Millisecond

	m := NewManager(conn, hist, cfg, types.Identity{Id: "self", DisplayName: "Me"}, testutil.TestLogger(t))
	t.Cleanup(m.Close)
	return m
}

func joinRoom(t *testing.T, m *Manager, conn *fakeConn, roomKey string) {
	t.Helper()

	m.Join(roomKey)
	conn.fire(t, transport.EventRoomJoined, transport.RoomJoined{RoomKey: roomKey})
	require.True(t, m.Joined(roomKey), "expected room %q to be joined", roomKey)
}

func messageIds(msgs []types.Message) []string {
	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.Id
	}
	return ids
}

func TestManager_idempotentJoin(t *testing.T) {
	conn := newFakeConn()
	m := newTestManager(t, conn, &fakeHistory{})

	m.Join("T17")
	m.Join("T17")

	joins := conn.emittedEvents(transport.EventJoinRoom)
	assert.Len(t, joins, 1, "expected exactly one join-room emission for repeated joins")

	conn.fire(t, transport.EventRoomJoined, transport.RoomJoined{RoomKey: "T17"})
	assert.True(t, m.Joined("T17"))

	m.Join("T17")
	assert.Len(t, conn.emittedEvents(transport.EventJoinRoom), 1,
		"expected joining an already-joined room to be a no-op")
}

func TestManager_joinWhileDisconnected(t *testing.T) {
	conn := newFakeConn()
	conn.setConnected(false)
	m := newTestManager(t, conn, &fakeHistory{})

	m.Join("T17")

	assert.Empty(t, conn.emittedEvents(transport.EventJoinRoom),
		"expected join against a dead connection to be dropped, not queued")
	assert.False(t, m.Joined("T17"))
}

func TestManager_orderingInvariant(t *testing.T) {
	conn := newFakeConn()
	hist := &fakeHistory{block: make(chan struct{})}
	hist.set([]types.Message{
		testMessage("m1", "T17", "a", "first"),
		testMessage("m2", "T17", "a", "second"),
	}, nil)
	m := newTestManager(t, conn, hist)

	joinRoom(t, m, conn, "T17")

	// live messages race the history fetch
	conn.fire(t, transport.EventNewMessage, testMessage("m3", "T17", "b", "third"))
	conn.fire(t, transport.EventNewMessage, testMessage("m4", "T17", "b", "fourth"))
	assert.Empty(t, m.Messages("T17"), "expected live messages to park until history resolves")

	close(hist.block)

	assert.Eventually(t, func() bool {
		return len(m.Messages("T17")) == 4
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"m1", "m2", "m3", "m4"}, messageIds(m.Messages("T17")),
		"expected history to precede live arrivals regardless of fetch timing")
}

func TestManager_dedupAcrossHistoryAndLive(t *testing.T) {
	conn := newFakeConn()
	hist := &fakeHistory{block: make(chan struct{})}
	hist.set([]types.Message{
		testMessage("m2", "T17", "a", "second"),
		testMessage("m3", "T17", "a", "third"),
	}, nil)
	m := newTestManager(t, conn, hist)

	joinRoom(t, m, conn, "T17")

	// m3 also arrives on the live stream before the page resolves
	conn.fire(t, transport.EventNewMessage, testMessage("m3", "T17", "a", "third"))
	conn.fire(t, transport.EventNewMessage, testMessage("m4", "T17", "b", "fourth"))
	close(hist.block)

	assert.Eventually(t, func() bool {
		return len(m.Messages("T17")) == 3
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"m2", "m3", "m4"}, messageIds(m.Messages("T17")),
		"expected exactly one entry for the overlapping id")
}

func TestManager_dedupLiveStream(t *testing.T) {
	conn := newFakeConn()
	m := newTestManager(t, conn, &fakeHistory{})

	joinRoom(t, m, conn, "T17")

	assert.Eventually(t, func() bool { return historyDone(m, "T17") }, 2*time.Second, 5*time.Millisecond)

	msg := testMessage("m1", "T17", "a", "hello")
	conn.fire(t, transport.EventNewMessage, msg)
	conn.fire(t, transport.EventNewMessage, msg)

	assert.Equal(t, []string{"m1"}, messageIds(m.Messages("T17")),
		"expected a re-delivered id to render once")
}

func historyDone(m *Manager, roomKey string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[roomKey]
	return ok && r.historyDone
}

func TestManager_sendIsNotOptimistic(t *testing.T) {
	conn := newFakeConn()
	m := newTestManager(t, conn, &fakeHistory{})

	err := m.Send("T17", "hello", types.KindText)
	assert.ErrorIs(t, err, ErrNotJoined, "expected send to require a joined room")

	joinRoom(t, m, conn, "T17")
	assert.Eventually(t, func() bool { return historyDone(m, "T17") }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, m.Send("T17", "hello", types.KindText))

	sends := conn.emittedEvents(transport.EventSendMessage)
	require.Len(t, sends, 1)
	payload, ok := sends[0].data.(transport.SendMessage)
	require.True(t, ok)
	assert.Equal(t, "hello", payload.Body)
	assert.Equal(t, types.KindText, payload.Kind)

	assert.Empty(t, m.Messages("T17"),
		"expected no local insert before the echoed new-message arrives")

	echo := testMessage("m9", "T17", "self", "hello")
	conn.fire(t, transport.EventNewMessage, echo)

	msgs := m.Messages("T17")
	require.Len(t, msgs, 1, "expected exactly one entry after the echo")
	assert.Equal(t, "hello", msgs[0].Body)
	assert.Equal(t, "self", msgs[0].Sender.Id)
}

func TestManager_disconnectResetsMemberships(t *testing.T) {
	conn := newFakeConn()
	m := newTestManager(t, conn, &fakeHistory{})

	joinRoom(t, m, conn, "T17")
	assert.Eventually(t, func() bool { return historyDone(m, "T17") }, 2*time.Second, 5*time.Millisecond)
	conn.fire(t, transport.EventNewMessage, testMessage("m1", "T17", "a", "hello"))

	conn.fire(t, transport.EventDisconnect, transport.Disconnect{Reason: "transport lost"})

	assert.False(t, m.Joined("T17"), "expected membership reset on connection loss")
	assert.ErrorIs(t, m.Send("T17", "hi", types.KindText), ErrNotJoined)
	assert.Equal(t, []string{"m1"}, messageIds(m.Messages("T17")),
		"expected accumulated messages to survive the reset")

	// consumer re-joins after observing the next connect
	joinRoom(t, m, conn, "T17")
	assert.Len(t, conn.emittedEvents(transport.EventJoinRoom), 2)
}

func TestManager_rejoinFetchesGapOnly(t *testing.T) {
	conn := newFakeConn()
	hist := &fakeHistory{}
	created := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	msg := testMessage("m1", "T17", "a", "hello")
	msg.CreatedAt = created
	hist.set([]types.Message{msg}, nil)
	m := newTestManager(t, conn, hist)

	joinRoom(t, m, conn, "T17")
	assert.Eventually(t, func() bool { return historyDone(m, "T17") }, 2*time.Second, 5*time.Millisecond)

	conn.fire(t, transport.EventDisconnect, transport.Disconnect{Reason: "transport lost"})
	joinRoom(t, m, conn, "T17")
	assert.Eventually(t, func() bool { return historyDone(m, "T17") }, 2*time.Second, 5*time.Millisecond)

	hist.mu.Lock()
	defer hist.mu.Unlock()
	require.Len(t, hist.since, 2)
	assert.True(t, hist.since[0].IsZero(), "expected the first join to fetch from the beginning")
	assert.Equal(t, created, hist.since[1], "expected the rejoin to fetch only the gap")
}

func TestManager_staleHistoryDiscarded(t *testing.T) {
	conn := newFakeConn()
	hist := &fakeHistory{block: make(chan struct{})}
	hist.set([]types.Message{testMessage("m1", "T17", "a", "old")}, nil)
	m := newTestManager(t, conn, hist)

	joinRoom(t, m, conn, "T17")

	// connection drops while the fetch is in flight
	conn.fire(t, transport.EventDisconnect, transport.Disconnect{Reason: "transport lost"})
	close(hist.block)

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, m.Messages("T17"),
		"expected the stale history result to be discarded after the disconnect")
}

func TestManager_markRead(t *testing.T) {
	conn := newFakeConn()
	m := newTestManager(t, conn, &fakeHistory{})

	assert.ErrorIs(t, m.MarkRead("T17", "m1"), ErrNotJoined)

	joinRoom(t, m, conn, "T17")
	require.NoError(t, m.MarkRead("T17", "m1"))

	reads := conn.emittedEvents(transport.EventMarkRead)
	require.Len(t, reads, 1)
	payload := reads[0].data.(transport.MarkRead)
	assert.Equal(t, "m1", payload.MessageId)

	conn.fire(t, transport.EventMessageRead, transport.MessageRead{
		RoomKey:   "T17",
		MessageId: "m1",
		UserId:    "other",
	})

	assert.Equal(t, []string{"other"}, m.ReadBy("T17", "m1"))
	assert.Empty(t, m.ReadBy("T17", "m2"))
}
