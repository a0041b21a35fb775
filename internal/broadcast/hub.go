package broadcast

import (
	"sync"
	"time"

	"kds_backend/pkg/utils"

	"github.com/google/uuid"
)

// sessionBuffer bounds how many undelivered envelopes a viewer connection
// may accumulate before the hub starts dropping events for it. A viewer
// behind by this much must reconcile by re-fetching state anyway.
const sessionBuffer = 64

// Envelope is what a session receives: the event plus the room it was
// addressed to and the publish time.
type Envelope struct {
	Room        string    `json:"room"`
	Event       Event     `json:"event"`
	PublishedAt time.Time `json:"published_at"`
}

// Session is one connected viewer. Events arrive on a buffered channel;
// delivery is best-effort and at-most-once, with no replay after a drop.
type Session struct {
	ID uuid.UUID

	ch        chan Envelope
	closeOnce sync.Once
}

// NewSession creates a viewer session with a fresh id.
func NewSession() *Session {
	return &Session{
		ID: uuid.New(),
		ch: make(chan Envelope, sessionBuffer),
	}
}

// Events returns the session's delivery channel. It is closed when the
// session leaves the hub or the hub shuts down.
func (s *Session) Events() <-chan Envelope {
	return s.ch
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.ch)
	})
}

// Hub is the process-scoped room registry: room name -> set of sessions.
// Rooms are created lazily on first join and garbage collected when the
// last member leaves; membership is not durable and not a source of truth
// for order state. All methods are safe for concurrent use.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]map[uuid.UUID]*Session
	taps   map[uuid.UUID]*Session
	closed bool
}

// NewHub creates an empty hub. One hub lives for the process lifetime.
func NewHub() *Hub {
	return &Hub{
		rooms: make(map[string]map[uuid.UUID]*Session),
		taps:  make(map[uuid.UUID]*Session),
	}
}

// Join subscribes the session to a room, creating the room if needed.
func (h *Hub) Join(s *Session, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[uuid.UUID]*Session)
		h.rooms[room] = members
	}
	members[s.ID] = s
}

// Leave unsubscribes the session from a room. Leaving a room the session
// never joined is a no-op; an emptied room is deleted.
func (h *Hub) Leave(s *Session, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, s.ID)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

// Remove detaches the session from every room and tap and closes its
// channel. Called when a viewer disconnects.
func (h *Hub) Remove(s *Session) {
	h.mu.Lock()
	for room, members := range h.rooms {
		delete(members, s.ID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	delete(h.taps, s.ID)
	h.mu.Unlock()
	s.close()
}

// Tap subscribes the session to every publish, once per Publish call,
// regardless of rooms. Used by the analytics relay.
func (h *Hub) Tap(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.taps[s.ID] = s
}

// Publish delivers the event to every session subscribed to any of the
// given rooms. Delivery is best-effort: a session whose buffer is full
// drops the event (logged, never retried) and the caller is never failed.
// Within one Publish call, members of a room see events in call order.
func (h *Hub) Publish(event Event, rooms ...string) {
	env := Envelope{Event: event, PublishedAt: time.Now()}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}

	// A session joined to several of the target rooms still gets the
	// event once per room, matching per-room delivery semantics.
	for _, room := range rooms {
		env.Room = room
		for _, s := range h.rooms[room] {
			h.deliver(s, env)
		}
	}

	env.Room = ""
	for _, s := range h.taps {
		h.deliver(s, env)
	}
}

func (h *Hub) deliver(s *Session, env Envelope) {
	select {
	case s.ch <- env:
	default:
		utils.LogWarn("Dropping event for slow subscriber", map[string]interface{}{
			"session_id": s.ID.String(),
			"event_type": string(env.Event.Type()),
			"room":       env.Room,
		})
	}
}

// RoomSize reports the current member count of a room. Zero for a room
// that does not exist.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Close drains the hub on shutdown: every session channel is closed and
// further joins and publishes become no-ops.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	sessions := make(map[uuid.UUID]*Session)
	for _, members := range h.rooms {
		for id, s := range members {
			sessions[id] = s
		}
	}
	for id, s := range h.taps {
		sessions[id] = s
	}
	h.rooms = make(map[string]map[uuid.UUID]*Session)
	h.taps = make(map[uuid.UUID]*Session)
	h.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
}
