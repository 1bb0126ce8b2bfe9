package job

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"msgblast/internal/eventbus"
)

// Store maps job ids to records. A single mutex covers every field of every
// record, so readers never observe a half-applied Patch.
//
// Records are never removed; they live as long as the process.
type Store struct {
	mu      sync.Mutex
	records map[string]*Record

	bus eventbus.Bus
	now func() time.Time
	ids func() string
}

// NewStore returns an empty store. bus may be nil.
func NewStore(bus eventbus.Bus) *Store {
	return &Store{
		records: map[string]*Record{},
		bus:     bus,
		now:     time.Now,
		ids:     func() string { return uuid.NewString() },
	}
}

// Create inserts initial under a fresh id and returns the id.
func (s *Store) Create(initial Record) string {
	now := s.now()
	rec := initial
	if rec.Status == "" {
		rec.Status = StatusQueued
	}
	rec.Progress = clampProgress(rec.Progress)
	rec.CreatedAt = now
	rec.UpdatedAt = now

	s.mu.Lock()
	id := s.ids()
	for s.records[id] != nil {
		id = s.ids()
	}
	rec.ID = id
	s.records[id] = &rec
	snap := rec
	s.mu.Unlock()

	s.publish(Event{Record: snap, Previous: ""}, EventCreated)
	return id
}

// Update merges p into the record. Unknown ids are ignored, and so is any
// status that would move the record backwards.
func (s *Store) Update(id string, p Patch) {
	s.mu.Lock()
	rec := s.records[id]
	if rec == nil {
		s.mu.Unlock()
		return
	}
	prev := rec.Status
	if p.Status != nil && p.Status.rank() >= rec.Status.rank() && !rec.Status.Terminal() {
		rec.Status = *p.Status
	}
	if p.Message != nil {
		rec.Message = *p.Message
	}
	if p.Progress != nil {
		rec.Progress = clampProgress(*p.Progress)
	}
	rec.UpdatedAt = s.now()
	snap := *rec
	s.mu.Unlock()

	s.publish(Event{Record: snap, Previous: prev}, EventUpdated)
}

// Get returns a copy of the record.
func (s *Store) Get(id string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.records[id]
	if rec == nil {
		return Record{}, false
	}
	return *rec, true
}

// Len returns the number of records held.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Counts returns the number of records per status.
func (s *Store) Counts() map[Status]int {
	out := map[Status]int{}
	s.mu.Lock()
	for _, r := range s.records {
		out[r.Status]++
	}
	s.mu.Unlock()
	return out
}

func (s *Store) publish(ev Event, typ string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: ev.Record.UpdatedAt, Data: ev})
}

func clampProgress(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
