// Package realtime fans session events out to websocket subscribers grouped by
// the identity they authenticated as.
package realtime

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"watchtower/internal/platform/metrics"
	"watchtower/internal/session"
	id "watchtower/pkg/domain"
)

const defaultBufferSize = 64

// Frame is the JSON envelope written to subscribers.
type Frame struct {
	Event string    `json:"event"`
	Data  any       `json:"data"`
	At    time.Time `json:"at"`
}

// SnapshotSource reports an identity's current session view for replay.
type SnapshotSource interface {
	Peek(userID id.UserID) session.Snapshot
}

// Subscriber is one realtime connection's queue of encoded frames.
type Subscriber struct {
	ID     id.SubscriberID
	userID id.UserID
	send   chan []byte
}

func NewSubscriber(userID id.UserID, buffer int) *Subscriber {
	if buffer <= 0 {
		buffer = defaultBufferSize
	}
	return &Subscriber{
		ID:     id.NewSubscriberID(),
		userID: userID,
		send:   make(chan []byte, buffer),
	}
}

func (s *Subscriber) UserID() id.UserID { return s.userID }

// Frames yields encoded frames. It is closed when the subscriber leaves the hub,
// either on Unsubscribe or on eviction for falling behind.
func (s *Subscriber) Frames() <-chan []byte { return s.send }

// Hub groups subscribers by identity. Sends never block: a subscriber whose
// buffer is full is evicted.
type Hub struct {
	mu     sync.RWMutex
	groups map[id.UserID]map[*Subscriber]struct{}

	source  SnapshotSource
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

type Option func(*Hub)

func WithLogger(logger *slog.Logger) Option {
	return func(h *Hub) {
		h.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Hub) {
		h.metrics = m
	}
}

func NewHub(source SnapshotSource, opts ...Option) *Hub {
	h := &Hub{
		groups: make(map[id.UserID]map[*Subscriber]struct{}),
		source: source,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscribe joins sub to its identity's group and queues the current snapshot
// for sub alone. Joining and replay happen under the hub lock, so a concurrent
// Publish is seen after the replay, never before it.
func (h *Hub) Subscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	group, ok := h.groups[sub.userID]
	if !ok {
		group = make(map[*Subscriber]struct{})
		h.groups[sub.userID] = group
	}
	group[sub] = struct{}{}
	if h.metrics != nil {
		h.metrics.IncSubscribers()
	}

	snap := session.Disconnected(sub.userID)
	if h.source != nil {
		snap = h.source.Peek(sub.userID)
	}
	for _, env := range snap.Replay() {
		data, err := h.encode(env.Event, env.Payload)
		if err != nil {
			continue
		}
		select {
		case sub.send <- data:
		default:
		}
	}
}

// Unsubscribe removes sub and closes its frame channel. It is safe to call
// more than once.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(sub)
}

func (h *Hub) removeLocked(sub *Subscriber) bool {
	group, ok := h.groups[sub.userID]
	if !ok {
		return false
	}
	if _, ok := group[sub]; !ok {
		return false
	}
	delete(group, sub)
	if len(group) == 0 {
		delete(h.groups, sub.userID)
	}
	close(sub.send)
	if h.metrics != nil {
		h.metrics.DecSubscribers()
	}
	return true
}

// Publish delivers an event to the identity's subscribers only. Publishing to
// an identity without subscribers does nothing.
func (h *Hub) Publish(userID id.UserID, event string, payload any) {
	h.mu.RLock()
	group := h.groups[userID]
	if len(group) == 0 {
		h.mu.RUnlock()
		return
	}
	data, err := h.encode(event, payload)
	if err != nil {
		h.mu.RUnlock()
		return
	}

	var slow []*Subscriber
	for sub := range group {
		select {
		case sub.send <- data:
		default:
			slow = append(slow, sub)
		}
	}
	h.mu.RUnlock()

	if len(slow) == 0 {
		return
	}
	h.mu.Lock()
	for _, sub := range slow {
		if h.removeLocked(sub) {
			h.logger.Warn("realtime subscriber too slow, disconnecting",
				"user_id", userID.String(),
				"subscriber_id", sub.ID.String(),
			)
			if h.metrics != nil {
				h.metrics.IncSubscribersEvicted()
			}
		}
	}
	h.mu.Unlock()
}

// Count reports the identity's subscriber count.
func (h *Hub) Count(userID id.UserID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[userID])
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, group := range h.groups {
		for sub := range group {
			h.removeLocked(sub)
		}
	}
}

func (h *Hub) encode(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(Frame{Event: event, Data: payload, At: h.now()})
	if err != nil {
		h.logger.Error("failed to encode realtime frame",
			"event", event,
			"error", err,
		)
		return nil, err
	}
	return data, nil
}
