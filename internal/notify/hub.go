package notify

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/ezelpc/AURONTEK-sub000/internal/config"
	"github.com/ezelpc/AURONTEK-sub000/internal/transport"
	"github.com/ezelpc/AURONTEK-sub000/internal/types"
)

const (
	refreshTimeout = 15 * time.Second
	advisoryBuffer = 16
)

// API is the REST surface the hub confirms mutations against.
type API interface {
	Notifications(ctx context.Context) ([]types.Notification, error)
	MarkRead(ctx context.Context, id string) error
	MarkAllRead(ctx context.Context) error
	Delete(ctx context.Context, id string) error
}

// Subscriber is the slice of the connection manager the hub needs:
// notification pushes arrive on the shared transport, independent of
// any room membership.
type Subscriber interface {
	Subscribe(event string, h transport.Handler) *transport.Subscription
}

// Advisory is a one-shot transient message delivered outside the
// notification list, on the same path the UI uses for toasts.
type Advisory struct {
	Severity types.Severity
	Message  string
}

type mutationKind int

const (
	mutMarkRead mutationKind = iota
	mutMarkAll
	mutRemove
)

type mutation struct {
	kind mutationKind
	id   string
	seq  int
}

// Hub holds the authoritative local notification list and its unread
// count. Three inputs feed it: a periodic full refresh, pushed events,
// and local optimistic mutations. Reconciliation is two-layered: each
// refresh snapshot is re-overlaid with the mutations still awaiting
// confirmation, so an optimistic flip survives a refresh that raced it
// and the unread count always equals the number of unread entries.
type Hub struct {
	api API
	cfg *config.Config
	log *log.Logger

	mu      sync.Mutex
	list    []types.Notification
	unread  int
	pending []mutation
	nextSeq int
	closed  bool

	cue func(types.Notification) error

	sub        *transport.Subscription
	advisories chan Advisory
	stop       chan struct{}
	done       chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
}

func NewHub(api API, conn Subscriber, cfg *config.Config, logger *log.Logger) *Hub {
	h := &Hub{
		api:        api,
		cfg:        cfg,
		log:        logger,
		advisories: make(chan Advisory, advisoryBuffer),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}

	if conn != nil {
		h.sub = conn.Subscribe(transport.EventNotificationNew, h.handlePush)
	}

	return h
}

// SetCue installs the local side effect fired on every unread push
// (an audible cue in the reference consumer). Errors from the cue are
// logged and swallowed; they never affect the state update.
func (h *Hub) SetCue(cue func(types.Notification) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cue = cue
}

// Start launches the poll loop: an immediate refresh, then one every
// poll interval until Close.
func (h *Hub) Start() {
	h.startOnce.Do(func() {
		go h.run()
	})
}

func (h *Hub) Close() {
	h.stopOnce.Do(func() {
		close(h.stop)
	})
	h.Start()
	<-h.done

	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()

	if h.sub != nil {
		h.sub.Unsubscribe()
	}
}

func (h *Hub) run() {
	defer close(h.done)

	ticker := time.NewTicker(h.cfg.PollInterval)
	defer ticker.Stop()

	h.refreshOnce()

	for {
		select {
		case <-ticker.C:
			h.refreshOnce()
		case <-h.stop:
			return
		}
	}
}

func (h *Hub) refreshOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	if err := h.Refresh(ctx); err != nil {
		h.log.Println("notification refresh:", err)
	}
}

// Refresh replaces the local list with a fresh snapshot, re-applying
// any still-pending optimistic mutations on top of it.
func (h *Hub) Refresh(ctx context.Context) error {
	snapshot, err := h.api.Notifications(ctx)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}

	list := make([]types.Notification, len(snapshot))
	copy(list, snapshot)
	for _, mut := range h.pending {
		list = applyMutation(list, mut)
	}

	h.list = list
	h.recount()
	return nil
}

// Notifications returns the current list, most recent first.
func (h *Hub) Notifications() []types.Notification {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]types.Notification, len(h.list))
	copy(out, h.list)
	return out
}

func (h *Hub) Unread() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.unread
}

// MarkAsRead flips the entry locally first and then confirms over REST.
// A confirmation failure is returned to the caller but the optimistic
// flip stands; the next full refresh reconciles against the server.
func (h *Hub) MarkAsRead(ctx context.Context, id string) error {
	seq := h.stage(mutation{kind: mutMarkRead, id: id})

	err := h.api.MarkRead(ctx, id)
	h.unstage(seq)
	return err
}

func (h *Hub) MarkAllAsRead(ctx context.Context) error {
	seq := h.stage(mutation{kind: mutMarkAll})

	err := h.api.MarkAllRead(ctx)
	h.unstage(seq)
	return err
}

func (h *Hub) Remove(ctx context.Context, id string) error {
	seq := h.stage(mutation{kind: mutRemove, id: id})

	err := h.api.Delete(ctx, id)
	h.unstage(seq)
	return err
}

// Advise surfaces a one-shot transient message outside the notification
// list. Authorization failures detected elsewhere in the system arrive
// through here.
func (h *Hub) Advise(severity types.Severity, message string) {
	select {
	case h.advisories <- Advisory{Severity: severity, Message: message}:
	default:
		h.log.Println("advisory dropped, channel full:", message)
	}
}

// Advisories is the delivery channel for toast-style messages.
func (h *Hub) Advisories() <-chan Advisory {
	return h.advisories
}

func (h *Hub) handlePush(data json.RawMessage) {
	var n types.Notification
	if err := json.Unmarshal(data, &n); err != nil {
		h.log.Println("error parsing pushed notification:", err)
		return
	}

	h.mu.Lock()

	if h.closed {
		h.mu.Unlock()
		return
	}

	// a poll may have delivered this one already
	for _, existing := range h.list {
		if existing.Id == n.Id {
			h.mu.Unlock()
			return
		}
	}

	h.list = append([]types.Notification{n}, h.list...)
	h.recount()
	cue := h.cue
	h.mu.Unlock()

	if !n.Read && cue != nil {
		if err := cue(n); err != nil {
			h.log.Println("notification cue:", err)
		}
	}
}

// stage applies a mutation locally and records it as pending until its
// confirming call settles. Callers must not hold h.mu.
func (h *Hub) stage(mut mutation) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextSeq++
	mut.seq = h.nextSeq
	h.list = applyMutation(h.list, mut)
	h.recount()
	h.pending = append(h.pending, mut)
	return mut.seq
}

func (h *Hub) unstage(seq int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, mut := range h.pending {
		if mut.seq == seq {
			h.pending = append(h.pending[:i], h.pending[i+1:]...)
			return
		}
	}
}

// recount re-derives the unread counter from the list. Callers must
// hold h.mu. Keeping the counter derived makes the invariant hold for
// every interleaving of push, poll and mutation.
func (h *Hub) recount() {
	unread := 0
	for _, n := range h.list {
		if !n.Read {
			unread++
		}
	}
	h.unread = unread
}

func applyMutation(list []types.Notification, mut mutation) []types.Notification {
	switch mut.kind {
	case mutMarkRead:
		for i := range list {
			if list[i].Id == mut.id {
				list[i].Read = true
			}
		}
	case mutMarkAll:
		for i := range list {
			list[i].Read = true
		}
	case mutRemove:
		kept := list[:0]
		for _, n := range list {
			if n.Id != mut.id {
				kept = append(kept, n)
			}
		}
		list = kept
	}

	return list
}
