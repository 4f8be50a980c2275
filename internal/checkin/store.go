package checkin

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxLogEntries bounds the progress log kept per record.
const DefaultMaxLogEntries = 500

// TransitionFunc observes a record whose status or source changed. before is
// the zero Record when the record was just created.
type TransitionFunc func(before, after Record)

// StoreOption customizes a Store.
type StoreOption func(*Store)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithMaxLogEntries caps the per-record progress log; older entries are dropped first.
func WithMaxLogEntries(n int) StoreOption {
	return func(s *Store) {
		if n > 0 {
			s.maxLog = n
		}
	}
}

// WithObserver registers fn to run after every status or source change.
func WithObserver(fn TransitionFunc) StoreOption {
	return func(s *Store) {
		if fn != nil {
			s.observers = append(s.observers, fn)
		}
	}
}

// Store holds check-in records in memory.
type Store struct {
	mu        sync.RWMutex
	records   map[string]*Record
	order     []string
	now       func() time.Time
	maxLog    int
	observers []TransitionFunc
}

// NewStore constructs an empty store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		records: make(map[string]*Record),
		now:     func() time.Time { return time.Now().UTC() },
		maxLog:  DefaultMaxLogEntries,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddObserver registers fn after construction. Observers run outside the store
// lock, in registration order, on the goroutine that made the change.
func (s *Store) AddObserver(fn TransitionFunc) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

// Create inserts a pending record for draft and returns a copy of it.
func (s *Store) Create(draft Draft) (Record, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Record{}, fmt.Errorf("generate check-in id: %w", err)
	}
	now := s.now()
	rec := &Record{
		ID:               id.String(),
		ConfirmationCode: draft.ConfirmationCode,
		FirstName:        draft.FirstName,
		LastName:         draft.LastName,
		Status:           StatusPending,
		Source:           draft.Source,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	s.mu.Lock()
	s.records[rec.ID] = rec
	s.order = append(s.order, rec.ID)
	out := rec.clone()
	observers := s.observers
	s.mu.Unlock()

	notify(observers, Record{}, out)
	return out, nil
}

// Get returns a copy of the record with id.
func (s *Store) Get(id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return Record{}, fmt.Errorf("get %q: %w", id, ErrNotFound)
	}
	return rec.clone(), nil
}

// Update merges patch into the record with id and refreshes UpdatedAt.
//
// Terminal records reject every patch with ErrTerminal and a status that
// would move backwards is rejected with ErrTransition; in both cases nothing
// is applied.
func (s *Store) Update(id string, patch Patch) (Record, error) {
	s.mu.Lock()
	rec, ok := s.records[id]
	if !ok {
		s.mu.Unlock()
		return Record{}, fmt.Errorf("update %q: %w", id, ErrNotFound)
	}
	if rec.IsTerminal() {
		out := rec.clone()
		s.mu.Unlock()
		return out, fmt.Errorf("update %q (%s): %w", id, out.Status, ErrTerminal)
	}
	if patch.Status != nil && !CanTransition(rec.Status, *patch.Status) {
		out := rec.clone()
		s.mu.Unlock()
		return out, fmt.Errorf("update %q %s -> %s: %w", id, out.Status, *patch.Status, ErrTransition)
	}

	before := rec.clone()
	now := s.now()
	s.apply(rec, patch, now)
	rec.UpdatedAt = now
	out := rec.clone()
	observers := s.observers
	s.mu.Unlock()

	if before.Status != out.Status || before.Source != out.Source {
		notify(observers, before, out)
	}
	return out, nil
}

func (s *Store) apply(rec *Record, patch Patch, now time.Time) {
	if patch.Status != nil {
		rec.Status = *patch.Status
		if rec.Status == StatusCheckingIn && rec.StartedAt == nil {
			rec.StartedAt = cloneTime(&now)
		}
		if IsTerminal(rec.Status) && rec.CompletedAt == nil {
			rec.CompletedAt = cloneTime(&now)
		}
	}
	if patch.Source != nil {
		rec.Source = *patch.Source
	}
	if patch.ScheduledTime != nil {
		rec.ScheduledTime = cloneTime(patch.ScheduledTime)
	}
	if patch.ScheduledText != nil {
		rec.ScheduledText = *patch.ScheduledText
	}
	if patch.CheckInTime != nil {
		rec.CheckInTime = cloneTime(patch.CheckInTime)
	}
	if patch.BoardingPosition != nil {
		rec.BoardingPosition = *patch.BoardingPosition
	}
	if patch.Error != nil {
		rec.Error = *patch.Error
	}
	if len(patch.AppendLog) > 0 {
		rec.Log = append(rec.Log, patch.AppendLog...)
		if overflow := len(rec.Log) - s.maxLog; overflow > 0 {
			trimmed := make([]LogEntry, s.maxLog)
			copy(trimmed, rec.Log[overflow:])
			rec.Log = trimmed
		}
	}
}

// List returns all records, newest first.
func (s *Store) List() []Record {
	return s.filter(func(*Record) bool { return true })
}

// ListActive returns pending, scheduled, and checking-in records, newest first.
func (s *Store) ListActive() []Record {
	return s.filter(func(r *Record) bool { return r.IsActive() })
}

// ListByStatus returns records in any of statuses, newest first.
func (s *Store) ListByStatus(statuses ...Status) []Record {
	if len(statuses) == 0 {
		return s.List()
	}
	want := make(map[Status]struct{}, len(statuses))
	for _, st := range statuses {
		want[st] = struct{}{}
	}
	return s.filter(func(r *Record) bool {
		_, ok := want[r.Status]
		return ok
	})
}

// FindActiveByCode returns the active record holding code, if any.
func (s *Store) FindActiveByCode(code string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.order) - 1; i >= 0; i-- {
		rec := s.records[s.order[i]]
		if rec.IsActive() && rec.ConfirmationCode == code {
			return rec.clone(), true
		}
	}
	return Record{}, false
}

// CountActive returns the number of non-terminal records.
func (s *Store) CountActive() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, rec := range s.records {
		if rec.IsActive() {
			count++
		}
	}
	return count
}

// ActiveBySource counts non-terminal records per execution source.
func (s *Store) ActiveBySource() map[Source]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := map[Source]int{SourceLocal: 0, SourceRemote: 0}
	for _, rec := range s.records {
		if rec.IsActive() {
			counts[rec.Source]++
		}
	}
	return counts
}

func (s *Store) filter(keep func(*Record) bool) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		rec := s.records[s.order[i]]
		if keep(rec) {
			out = append(out, rec.clone())
		}
	}
	return out
}

func notify(observers []TransitionFunc, before, after Record) {
	for _, fn := range observers {
		fn(before, after)
	}
}
