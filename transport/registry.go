package transport

import "sync"

// Entry is a live registry slot.
type Entry struct {
	ID      int
	Session *Session
}

// Registry hands out stable 1-based client ids. A closed session's slot is
// tombstoned rather than removed, so ids of the other sessions never shift.
// Numbering only starts over once every slot has been tombstoned.
type Registry struct {
	mu    sync.RWMutex
	slots []*Session
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Add stores sess in the next free slot and returns its id.
func (r *Registry) Add(sess *Session) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.allTombstonedLocked() {
		r.slots = r.slots[:0]
	}

	r.slots = append(r.slots, sess)

	return len(r.slots)
}

// Get returns the session in slot id, or nil if the slot does not exist or
// has been tombstoned.
func (r *Registry) Get(id int) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if id < 1 || id > len(r.slots) {
		return nil
	}

	return r.slots[id-1]
}

// Tombstone empties slot id if it still holds sess.
func (r *Registry) Tombstone(id int, sess *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id < 1 || id > len(r.slots) || r.slots[id-1] != sess {
		return false
	}

	r.slots[id-1] = nil

	return true
}

// Live returns the occupied slots whose sessions are still open, in slot
// order.
func (r *Registry) Live() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]Entry, 0, len(r.slots))
	for i, sess := range r.slots {
		if sess != nil && sess.IsOpen() {
			entries = append(entries, Entry{ID: i + 1, Session: sess})
		}
	}

	return entries
}

// LiveCount is len(Live()) without the allocation.
func (r *Registry) LiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, sess := range r.slots {
		if sess != nil && sess.IsOpen() {
			count++
		}
	}

	return count
}

// Len is the number of slots, tombstones included.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.slots)
}

func (r *Registry) allTombstonedLocked() bool {
	for _, sess := range r.slots {
		if sess != nil {
			return false
		}
	}

	return true
}
