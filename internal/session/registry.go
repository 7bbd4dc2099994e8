package session

import (
	"sync"

	id "watchtower/pkg/domain"
)

// Registry owns the session records, one per identity. Every mutation for an
// identity runs under that identity's slot lock; identities never share a
// lock beyond the short map access that finds the slot.
type Registry struct {
	mu    sync.Mutex
	slots map[id.UserID]*slot

	// index mirrors slot contents for lock-free state reads.
	index sync.Map
}

type slot struct {
	mu      sync.Mutex
	refs    int
	session *Session
}

func NewRegistry() *Registry {
	return &Registry{slots: make(map[id.UserID]*slot)}
}

// Slot is a locked registry entry. The holder may read and replace the
// identity's record until Unlock.
type Slot struct {
	registry *Registry
	userID   id.UserID
	slot     *slot
}

// Lock acquires the identity's slot, blocking while another operation on the
// same identity holds it.
func (r *Registry) Lock(userID id.UserID) *Slot {
	r.mu.Lock()
	s, ok := r.slots[userID]
	if !ok {
		s = &slot{}
		r.slots[userID] = s
	}
	s.refs++
	r.mu.Unlock()

	s.mu.Lock()
	return &Slot{registry: r, userID: userID, slot: s}
}

// Session returns the record held in the slot, or nil.
func (s *Slot) Session() *Session { return s.slot.session }

// Set installs sess as the identity's record.
func (s *Slot) Set(sess *Session) {
	s.slot.session = sess
	s.registry.index.Store(s.userID, sess)
}

// Clear removes the identity's record. It reports whether one was present.
func (s *Slot) Clear() bool {
	if s.slot.session == nil {
		return false
	}
	s.slot.session = nil
	s.registry.index.Delete(s.userID)
	return true
}

// Unlock releases the slot. Empty slots are dropped once no one waits on them.
func (s *Slot) Unlock() {
	s.slot.mu.Unlock()

	r := s.registry
	r.mu.Lock()
	s.slot.refs--
	if s.slot.refs == 0 && s.slot.session == nil {
		delete(r.slots, s.userID)
	}
	r.mu.Unlock()
}

// Create installs the record returned by build unless a live record exists.
// build runs under the slot lock and may fail, in which case nothing is stored.
func (r *Registry) Create(userID id.UserID, build func() (*Session, error)) (*Session, error) {
	slot := r.Lock(userID)
	defer slot.Unlock()

	if existing := slot.Session(); existing != nil && !existing.Snapshot().State.IsTerminal() {
		return nil, ErrAlreadyActive
	}
	sess, err := build()
	if err != nil {
		return nil, err
	}
	slot.Set(sess)
	return sess, nil
}

// Get returns the identity's record, terminal or not.
func (r *Registry) Get(userID id.UserID) (*Session, bool) {
	slot := r.Lock(userID)
	defer slot.Unlock()
	sess := slot.Session()
	return sess, sess != nil
}

// Remove deletes the identity's record. Removing an absent record is a no-op
// and reports false.
func (r *Registry) Remove(userID id.UserID) bool {
	slot := r.Lock(userID)
	defer slot.Unlock()
	return slot.Clear()
}

// Peek returns the identity's current snapshot without taking the slot lock.
func (r *Registry) Peek(userID id.UserID) Snapshot {
	v, ok := r.index.Load(userID)
	if !ok {
		return Disconnected(userID)
	}
	return v.(*Session).Snapshot()
}

// Len reports the number of records held.
func (r *Registry) Len() int {
	n := 0
	r.index.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Sessions returns every record currently held.
func (r *Registry) Sessions() []*Session {
	var out []*Session
	r.index.Range(func(_, v any) bool {
		out = append(out, v.(*Session))
		return true
	})
	return out
}
