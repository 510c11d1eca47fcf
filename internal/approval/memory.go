package approval

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps records for the life of the process.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
	byRun   map[string]string
	now     func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Record),
		byRun:   make(map[string]string),
		now:     time.Now,
	}
}

func (s *MemoryStore) Park(_ context.Context, cp Checkpoint) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byRun[cp.RunID]; ok {
		return "", ErrAlreadyParked
	}

	token := uuid.NewString()
	s.records[token] = &Record{
		Token:      token,
		RunID:      cp.RunID,
		Checkpoint: cp,
		Decision:   Unset,
		CreatedAt:  s.now().UTC(),
	}
	s.byRun[cp.RunID] = token
	return token, nil
}

func (s *MemoryStore) RecordDecision(_ context.Context, token string, in DecisionInput) (*Record, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[token]
	if !ok {
		return nil, ErrNotFound
	}
	if rec.Decision != Unset {
		return nil, ErrAlreadyDecided
	}

	at := s.now().UTC()
	rec.Decision = in.Decision
	rec.Comment = in.Comment
	rec.DecidedBy = in.DecidedBy
	rec.DecidedAt = &at

	out := *rec
	return &out, nil
}

func (s *MemoryStore) Resume(_ context.Context, token string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[token]
	if !ok {
		return nil, ErrNotFound
	}
	if rec.Decision == Unset {
		return nil, ErrDecisionPending
	}

	delete(s.records, token)
	delete(s.byRun, rec.RunID)
	return rec, nil
}

func (s *MemoryStore) Get(_ context.Context, token string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[token]
	if !ok {
		return nil, ErrNotFound
	}
	out := *rec
	return &out, nil
}

func (s *MemoryStore) Pending(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, rec := range s.records {
		if rec.Decision == Unset {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Close() error { return nil }
