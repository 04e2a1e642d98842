package rooms

import (
	"testing"
	"time"

	"github.com/ezelpc/AURONTEK-sub000/internal/transport"
	"github.com/ezelpc/AURONTEK-sub000/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPresence_outboundThrottleAndStop(t *testing.T) {
	conn := newFakeConn()
	m := newTestManager(t, conn, &fakeHistory{})

	// no membership, no signal
	m.TypingInput("T17")
	assert.Empty(t, conn.emittedEvents(transport.EventTypingStart))

	joinRoom(t, m, conn, "T17")

	m.TypingInput("T17")
	m.TypingInput("T17")
	m.TypingInput("T17")

	starts := conn.emittedEvents(transport.EventTypingStart)
	require.Len(t, starts, 1, "expected typing-start coalesced to one per throttle window")
	assert.Equal(t, transport.Typing{RoomKey: "T17"}, starts[0].data)

	// quiet period elapses with no further input
	assert.Eventually(t, func() bool {
		return len(conn.emittedEvents(transport.EventTypingStop)) == 1
	}, 2*time.Second, 5*time.Millisecond, "expected a typing-stop after the quiet period")
}

func TestPresence_inboundDecay(t *testing.T) {
	conn := newFakeConn()
	m := newTestManager(t, conn, &fakeHistory{})
	joinRoom(t, m, conn, "T17")

	other := types.Identity{Id: "u2", DisplayName: "Bea"}
	conn.fire(t, transport.EventUserTyping, transport.UserTyping{RoomKey: "T17", Identity: other})

	users := m.TypingUsers("T17")
	require.Len(t, users, 1)
	assert.Equal(t, "u2", users[0].Id)

	assert.Eventually(t, func() bool {
		return len(m.TypingUsers("T17")) == 0
	}, 2*time.Second, 5*time.Millisecond, "expected the indicator to decay without a refresh")
}

func TestPresence_refreshExtendsDecay(t *testing.T) {
	conn := newFakeConn()
	m := newTestManager(t, conn, &fakeHistory{})
	joinRoom(t, m, conn, "T17")

	other := types.Identity{Id: "u2", DisplayName: "Bea"}
	conn.fire(t, transport.EventUserTyping, transport.UserTyping{RoomKey: "T17", Identity: other})

	// refresh midway through the decay window (50ms in the test config)
	time.Sleep(30 * time.Millisecond)
	conn.fire(t, transport.EventUserTyping, transport.UserTyping{RoomKey: "T17", Identity: other})

	// past the original deadline, still indicated thanks to the refresh
	time.Sleep(30 * time.Millisecond)
	assert.Len(t, m.TypingUsers("T17"), 1, "expected the refresh to reset the expiry timer")

	assert.Eventually(t, func() bool {
		return len(m.TypingUsers("T17")) == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestPresence_typingEndClearsImmediately(t *testing.T) {
	conn := newFakeConn()
	m := newTestManager(t, conn, &fakeHistory{})
	joinRoom(t, m, conn, "T17")

	other := types.Identity{Id: "u2", DisplayName: "Bea"}
	conn.fire(t, transport.EventUserTyping, transport.UserTyping{RoomKey: "T17", Identity: other})
	require.Len(t, m.TypingUsers("T17"), 1)

	conn.fire(t, transport.EventUserTypingEnd, transport.UserTypingEnd{RoomKey: "T17", UserId: "u2"})
	assert.Empty(t, m.TypingUsers("T17"), "expected an explicit stop to clear the indicator")
}

func TestPresence_selfExclusion(t *testing.T) {
	conn := newFakeConn()
	m := newTestManager(t, conn, &fakeHistory{})
	joinRoom(t, m, conn, "T17")

	conn.fire(t, transport.EventUserTyping, transport.UserTyping{
		RoomKey:  "T17",
		Identity: types.Identity{Id: "self", DisplayName: "Me"},
	})

	assert.Empty(t, m.TypingUsers("T17"), "expected own typing echo to never be rendered")
}

func TestPresence_clearedOnDisconnect(t *testing.T) {
	conn := newFakeConn()
	m := newTestManager(t, conn, &fakeHistory{})
	joinRoom(t, m, conn, "T17")

	conn.fire(t, transport.EventUserTyping, transport.UserTyping{
		RoomKey:  "T17",
		Identity: types.Identity{Id: "u2", DisplayName: "Bea"},
	})
	require.Len(t, m.TypingUsers("T17"), 1)

	conn.fire(t, transport.EventDisconnect, transport.Disconnect{Reason: "transport lost"})
	assert.Empty(t, m.TypingUsers("T17"), "expected typing state to be dropped with the connection")
}
