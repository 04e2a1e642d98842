package rooms

import (
	"time"

	"github.com/ezelpc/AURONTEK-sub000/internal/types"
)

type membershipState int

const (
	stateNotJoined membershipState = iota
	stateJoining
	stateJoined
)

func (s membershipState) String() string {
	switch s {
	case stateJoining:
		return "joining"
	case stateJoined:
		return "joined"
	default:
		return "not-joined"
	}
}

// room holds the client-side view of one ticket chat channel. All
// fields are guarded by the owning Manager's mutex.
type room struct {
	key   string
	state membershipState

	// message sequence: history is merged in exactly once per join;
	// live messages that arrive before it resolves park in pending.
	historyDone bool
	messages    []types.Message
	pending     []types.Message
	seen        map[string]struct{}

	// inbound typing indicators, keyed by sender id
	typingIn map[string]*typingEntry

	// outbound typing state
	lastTypingSent time.Time
	quiet          *time.Timer

	// read receipts: message id -> ids of identities that read it
	readBy map[string]map[string]struct{}
}

type typingEntry struct {
	identity types.Identity
	expire   *time.Timer
}

func newRoom(key string) *room {
	return &room{
		key:      key,
		seen:     make(map[string]struct{}),
		typingIn: make(map[string]*typingEntry),
		readBy:   make(map[string]map[string]struct{}),
	}
}

// reset drops membership and ephemeral state after a connection loss.
// Accumulated messages are kept: the dedup set protects against
// re-delivery when the room is rejoined.
func (r *room) reset() {
	r.state = stateNotJoined
	r.historyDone = false
	r.messages = append(r.messages, r.pending...)
	r.pending = nil
	r.lastTypingSent = time.Time{}
	r.stopTimers()
}

func (r *room) stopTimers() {
	if r.quiet != nil {
		r.quiet.Stop()
		r.quiet = nil
	}
	for id, e := range r.typingIn {
		e.expire.Stop()
		delete(r.typingIn, id)
	}
}
