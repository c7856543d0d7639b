// Package state holds the latest camera snapshot for one entry and fans
// changes out to presentation layers.
package state

import (
	"log/slog"
	"sync"
	"time"
)

// Attribute keys the coordinator merges into every snapshot on top of the
// device status attributes.
const (
	AttrLastFaceID   = "last_face_id"
	AttrLastFaceName = "last_face_name"
	AttrLastPerson   = "last_person"
)

// Snapshot is one merged view of the device. Attribute values are bool,
// int64, float64 or string; a missing key means the device did not report
// it.
type Snapshot struct {
	Attributes map[string]any `json:"attributes"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Get returns a single attribute.
func (s Snapshot) Get(key string) (any, bool) {
	v, ok := s.Attributes[key]
	return v, ok
}

func (s Snapshot) clone() Snapshot {
	attrs := make(map[string]any, len(s.Attributes))
	for k, v := range s.Attributes {
		attrs[k] = v
	}
	return Snapshot{Attributes: attrs, UpdatedAt: s.UpdatedAt}
}

// Status is the health of an entry's polling.
type Status string

const (
	StatusPending        Status = "pending"
	StatusOK             Status = "ok"
	StatusUpdateFailed   Status = "update_failed"
	StatusReauthRequired Status = "reauth_required"
)

// Health describes the outcome of the latest cycle.
type Health struct {
	Status    Status    `json:"status"`
	LastError string    `json:"last_error,omitempty"`
	ChangedAt time.Time `json:"changed_at"`
}

// EventType identifies event categories.
type EventType string

const (
	EventSnapshotUpdate EventType = "snapshot_update"
	EventUpdateFailed   EventType = "update_failed"
	EventFacesUpdate    EventType = "faces_update"
)

// Event represents a state change.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// Reader provides read-only access to state.
type Reader interface {
	Snapshot() (Snapshot, bool)
	Health() Health
}

// --- EventBus ---

// EventBus is a simple publish/subscribe event bus.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[int]chan Event
	nextID      int
	log         *slog.Logger
}

// NewEventBus creates a new event bus.
func NewEventBus(log *slog.Logger) *EventBus {
	return &EventBus{
		subscribers: make(map[int]chan Event),
		log:         log,
	}
}

// Publish sends an event to all subscribers. Slow subscribers lose events
// rather than blocking the publisher.
func (b *EventBus) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
			b.log.Warn("event bus: subscriber buffer full, dropping event", "subscriber_id", id, "event_type", evt.Type)
		}
	}
}

// Subscribe returns a channel of events and an unsubscribe function. The
// channel is closed on unsubscribe.
func (b *EventBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}

	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subscribers[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}

// --- Store ---

// Store holds at most one snapshot and the entry's health.
type Store struct {
	mu     sync.RWMutex
	snap   Snapshot
	has    bool
	health Health
	bus    *EventBus
	log    *slog.Logger
	now    func() time.Time
}

var _ Reader = (*Store)(nil)

// NewStore creates a store wired to the event bus.
func NewStore(bus *EventBus, log *slog.Logger) *Store {
	return &Store{
		health: Health{Status: StatusPending},
		bus:    bus,
		log:    log,
		now:    time.Now,
	}
}

// Bus returns the bus the store publishes on.
func (s *Store) Bus() *EventBus {
	return s.bus
}

// Snapshot returns a copy of the current snapshot. The bool is false until
// the first successful cycle.
func (s *Store) Snapshot() (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.has {
		return Snapshot{}, false
	}
	return s.snap.clone(), true
}

// Health returns the latest cycle outcome.
func (s *Store) Health() Health {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.health
}

// Replace swaps in a new snapshot and marks the entry healthy. attrs is
// copied.
func (s *Store) Replace(attrs map[string]any, at time.Time) Snapshot {
	snap := Snapshot{Attributes: attrs, UpdatedAt: at}.clone()

	s.mu.Lock()
	s.snap = snap
	s.has = true
	s.health = Health{Status: StatusOK, ChangedAt: at}
	s.mu.Unlock()

	s.bus.Publish(Event{Type: EventSnapshotUpdate, Timestamp: at, Data: snap.clone()})
	return snap
}

// Fail records a failed cycle. The previous snapshot is kept.
func (s *Store) Fail(status Status, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	at := s.now()

	s.mu.Lock()
	s.health = Health{Status: status, LastError: msg, ChangedAt: at}
	h := s.health
	s.mu.Unlock()

	s.bus.Publish(Event{Type: EventUpdateFailed, Timestamp: at, Data: h})
}

// PublishFaces announces a refreshed face identity map. The store does not
// keep it.
func (s *Store) PublishFaces(faces map[string]string) {
	cp := make(map[string]string, len(faces))
	for k, v := range faces {
		cp[k] = v
	}
	s.bus.Publish(Event{Type: EventFacesUpdate, Data: cp})
}
