package approval

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fyrsmithlabs/blueprint/internal/artifact"
	"github.com/fyrsmithlabs/blueprint/internal/validator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]func(t *testing.T) Store {
	t.Helper()
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store {
			return NewMemoryStore()
		},
		"sqlite": func(t *testing.T) Store {
			s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "approvals.db"))
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
}

func testCheckpoint(runID string) Checkpoint {
	result := validator.Result{OK: true, Violations: []validator.Violation{}}
	return Checkpoint{
		RunID:    runID,
		Prompt:   "a blog with users and posts",
		Language: "go",
		Requirements: &artifact.Requirements{
			Entities: []artifact.Entity{{Name: "User", Description: "author"}},
		},
		DatabaseDesign: &artifact.DatabaseDesign{
			Tables: []artifact.Table{{
				Name:    "users",
				Columns: []artifact.Column{{Name: "id", Type: "UUID", Constraints: []string{"PRIMARY KEY"}}},
			}},
			NormalizationLevel: "3NF",
		},
		Validation: &result,
		Review: &artifact.Review{
			Assessment:       "needs a look",
			RiskLevel:        artifact.RiskHigh,
			ApprovalRequired: true,
		},
		StartedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestStore_ParkAndGet(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)

			token, err := s.Park(ctx, testCheckpoint("run-1"))
			require.NoError(t, err)
			assert.NotEmpty(t, token)

			rec, err := s.Get(ctx, token)
			require.NoError(t, err)
			assert.Equal(t, token, rec.Token)
			assert.Equal(t, "run-1", rec.RunID)
			assert.Equal(t, Unset, rec.Decision)
			assert.Nil(t, rec.DecidedAt)
			assert.Equal(t, "go", rec.Checkpoint.Language)
			assert.Equal(t, "users", rec.Checkpoint.DatabaseDesign.Tables[0].Name)
			assert.True(t, rec.Checkpoint.Review.ApprovalRequired)
			assert.True(t, rec.Checkpoint.StartedAt.Equal(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)))

			n, err := s.Pending(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			_, err = s.Park(ctx, testCheckpoint("run-1"))
			assert.ErrorIs(t, err, ErrAlreadyParked)
		})
	}
}

func TestStore_DecisionLifecycle(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)

			token, err := s.Park(ctx, testCheckpoint("run-1"))
			require.NoError(t, err)

			_, err = s.Resume(ctx, token)
			assert.ErrorIs(t, err, ErrDecisionPending)

			_, err = s.RecordDecision(ctx, token, DecisionInput{Decision: Unset})
			assert.ErrorIs(t, err, ErrInvalidDecision)

			rec, err := s.RecordDecision(ctx, token, DecisionInput{Decision: Approved, Comment: "ship it", DecidedBy: "dba"})
			require.NoError(t, err)
			assert.Equal(t, Approved, rec.Decision)
			assert.Equal(t, "ship it", rec.Comment)
			assert.Equal(t, "dba", rec.DecidedBy)
			require.NotNil(t, rec.DecidedAt)

			_, err = s.RecordDecision(ctx, token, DecisionInput{Decision: Rejected})
			assert.ErrorIs(t, err, ErrAlreadyDecided)

			rec, err = s.Get(ctx, token)
			require.NoError(t, err)
			assert.Equal(t, Approved, rec.Decision, "first decision stands")

			n, err := s.Pending(ctx)
			require.NoError(t, err)
			assert.Zero(t, n)

			rec, err = s.Resume(ctx, token)
			require.NoError(t, err)
			assert.Equal(t, Approved, rec.Decision)
			assert.Equal(t, "run-1", rec.Checkpoint.RunID)

			_, err = s.Resume(ctx, token)
			assert.ErrorIs(t, err, ErrNotFound, "resume consumes the record")
			_, err = s.Get(ctx, token)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_UnknownToken(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)

			_, err := s.Get(ctx, "nope")
			assert.ErrorIs(t, err, ErrNotFound)
			_, err = s.RecordDecision(ctx, "nope", DecisionInput{Decision: Approved})
			assert.ErrorIs(t, err, ErrNotFound)
			_, err = s.Resume(ctx, "nope")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_ConcurrentDecisions(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)

			token, err := s.Park(ctx, testCheckpoint("run-1"))
			require.NoError(t, err)

			const n = 16
			var wins, conflicts atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					d := Approved
					if i%2 == 1 {
						d = Rejected
					}
					_, err := s.RecordDecision(ctx, token, DecisionInput{Decision: d})
					switch {
					case err == nil:
						wins.Add(1)
					case assert.ErrorIs(t, err, ErrAlreadyDecided):
						conflicts.Add(1)
					}
				}(i)
			}
			wg.Wait()

			assert.EqualValues(t, 1, wins.Load())
			assert.EqualValues(t, n-1, conflicts.Load())
		})
	}
}

func TestStore_ConcurrentResume(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)

			token, err := s.Park(ctx, testCheckpoint("run-1"))
			require.NoError(t, err)
			_, err = s.RecordDecision(ctx, token, DecisionInput{Decision: Approved})
			require.NoError(t, err)

			const n = 16
			var resumed atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if _, err := s.Resume(ctx, token); err == nil {
						resumed.Add(1)
					} else {
						assert.ErrorIs(t, err, ErrNotFound)
					}
				}()
			}
			wg.Wait()

			assert.EqualValues(t, 1, resumed.Load())
		})
	}
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "approvals.db")

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	token, err := s.Park(ctx, testCheckpoint("run-1"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.RecordDecision(ctx, token, DecisionInput{Decision: Rejected, Comment: "no"})
	require.NoError(t, err)
	rec, err := s.Resume(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, Rejected, rec.Decision)
	assert.Equal(t, "no", rec.Comment)
}

func TestParseDecision(t *testing.T) {
	tests := []struct {
		in      string
		want    Decision
		wantErr bool
	}{
		{"approve", Approved, false},
		{"APPROVED", Approved, false},
		{" reject ", Rejected, false},
		{"rejected", Rejected, false},
		{"maybe", Unset, true},
		{"", Unset, true},
	}
	for _, tt := range tests {
		got, err := ParseDecision(tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrInvalidDecision, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}
