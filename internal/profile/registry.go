package profile

import "sync"

// Registry is the in-memory source of truth for profile launch state. Records
// are copied on the way in and out so readers never observe a half-applied
// update.
type Registry struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewRegistry() *Registry {
	return &Registry{records: make(map[string]Record)}
}

// Get returns the record for id, if present.
func (r *Registry) Get(id string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	return rec, ok
}

// Upsert replaces the whole record for id.
func (r *Registry) Upsert(id string, rec Record) {
	r.mu.Lock()
	r.records[id] = rec
	r.mu.Unlock()
}

// Update applies fn to the record for id under the write lock. A missing
// record starts as a zero Record with ProfileID set.
func (r *Registry) Update(id string, fn func(*Record)) Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		rec = Record{ProfileID: id}
	}
	fn(&rec)
	r.records[id] = rec
	return rec
}

// Snapshot returns a copy of every record keyed by profile id.
func (r *Registry) Snapshot() map[string]Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Record, len(r.records))
	for id, rec := range r.records {
		out[id] = rec
	}
	return out
}

// Len returns the number of tracked profiles.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}
