package lifecycle

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrRecordNotFound is returned when no record exists for an access key.
var ErrRecordNotFound = errors.New("lifecycle: record not found")

// ErrRecordExists is returned when creating a record for an access key that
// already has one; duplicate access keys are a hard failure upstream.
var ErrRecordExists = errors.New("lifecycle: record already exists")

// Store persists lifecycle records keyed by access key. Transition must be
// exclusive per key: concurrent transitions on the same record serialize, and
// the state machine is enforced inside that critical section.
type Store interface {
	Create(ctx context.Context, accessKey string) (*Record, error)
	Get(ctx context.Context, accessKey string) (*Record, error)
	// Transition moves the record to the target state after validating the
	// move, applying mutate (may be nil) to the record under the same lock.
	Transition(ctx context.Context, accessKey string, to State, mutate func(*Record)) (*Record, error)
	// Annotate updates the record without changing its state, for error
	// annotations on moves that never happened (e.g. rejection at reception).
	Annotate(ctx context.Context, accessKey string, mutate func(*Record)) (*Record, error)
	List(ctx context.Context) ([]*Record, error)
}

// InMemoryStore keeps records in process memory.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]*Record)}
}

// Create registers a new record in state GENERATED.
func (s *InMemoryStore) Create(_ context.Context, accessKey string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[accessKey]; exists {
		return nil, ErrRecordExists
	}

	now := time.Now().UTC()
	record := &Record{
		AccessKey: accessKey,
		State:     StateGenerated,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.records[accessKey] = record
	return snapshot(record), nil
}

// Get returns a copy of the record for the access key.
func (s *InMemoryStore) Get(_ context.Context, accessKey string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, exists := s.records[accessKey]
	if !exists {
		return nil, ErrRecordNotFound
	}
	return snapshot(record), nil
}

// Transition validates and applies a state change atomically.
func (s *InMemoryStore) Transition(_ context.Context, accessKey string, to State, mutate func(*Record)) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, exists := s.records[accessKey]
	if !exists {
		return nil, ErrRecordNotFound
	}
	if !record.State.CanTransitionTo(to) {
		return nil, NewTransitionError(accessKey, record.State, to)
	}

	record.State = to
	if mutate != nil {
		mutate(record)
	}
	record.UpdatedAt = time.Now().UTC()
	return snapshot(record), nil
}

// Annotate mutates the record while leaving its state untouched.
func (s *InMemoryStore) Annotate(_ context.Context, accessKey string, mutate func(*Record)) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, exists := s.records[accessKey]
	if !exists {
		return nil, ErrRecordNotFound
	}
	if mutate != nil {
		mutate(record)
	}
	record.UpdatedAt = time.Now().UTC()
	return snapshot(record), nil
}

// List returns copies of all records.
func (s *InMemoryStore) List(_ context.Context) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]*Record, 0, len(s.records))
	for _, record := range s.records {
		records = append(records, snapshot(record))
	}
	return records, nil
}

func snapshot(r *Record) *Record {
	copied := *r
	if r.AuthorizationTimestamp != nil {
		ts := *r.AuthorizationTimestamp
		copied.AuthorizationTimestamp = &ts
	}
	return &copied
}
