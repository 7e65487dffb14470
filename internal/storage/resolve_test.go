package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/postpipe/connector/internal/models"
	"github.com/postpipe/connector/internal/targets"
)

type kindMap map[string]models.Kind

func (m kindMap) RegistryKind(target string) (models.Kind, bool) {
	k, ok := m[target]
	return k, ok
}

func TestResolveKind(t *testing.T) {
	lookup := kindMap{"ledger": models.KindDocument}

	tests := []struct {
		name     string
		explicit string
		target   string
		fallback models.Kind
		want     models.Kind
	}{
		{"heuristic pg", "", "analytics-pg", "", models.KindRelational},
		{"heuristic atlas", "", "events_atlas", "", models.KindDocument},
		{"heuristic neon", "", "NeonPrimary", "", models.KindRelational},
		{"heuristic mongo any case", "", "Secondary-MONGO", "", models.KindDocument},
		{"explicit wins over name", "mongodb", "analytics-pg", "", models.KindDocument},
		{"explicit alias", "postgresql", "events_atlas", "", models.KindRelational},
		{"registry kind", "", "ledger", models.KindRelational, models.KindDocument},
		{"explicit wins over registry", "postgres", "ledger", "", models.KindRelational},
		{"unknown explicit falls through", "cassandra", "analytics-pg", "", models.KindRelational},
		{"fallback", "", "customers", models.KindDocument, models.KindDocument},
		{"no fallback means memory", "", "customers", "", models.KindMemory},
		{"empty target", "", "", models.KindRelational, models.KindRelational},
		{"relational checked first", "", "pg-to-mongo", "", models.KindRelational},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveKind(tt.explicit, tt.target, lookup, tt.fallback))
		})
	}
}

type stubAdapter struct {
	kind     models.Kind
	closeErr error
	closed   bool
}

func (s *stubAdapter) Kind() models.Kind { return s.kind }
func (s *stubAdapter) Connect(context.Context, targets.Hint) error { return nil }
func (s *stubAdapter) Insert(context.Context, targets.Hint, models.Submission) (Outcome, error) {
	return OutcomeStored, nil
}
func (s *stubAdapter) Query(context.Context, string, QueryOptions) ([]models.Submission, error) {
	return nil, nil
}
func (s *stubAdapter) Close(context.Context) error {
	s.closed = true
	return s.closeErr
}

func TestSet(t *testing.T) {
	pg := &stubAdapter{kind: models.KindRelational, closeErr: errors.New("pg close")}
	mem := &stubAdapter{kind: models.KindMemory}
	set := NewSet(pg, mem)

	got, err := set.Get(models.KindRelational)
	require.NoError(t, err)
	assert.Same(t, pg, got)

	_, err = set.Get(models.KindDocument)
	assert.ErrorIs(t, err, ErrUnknownKind)
	assert.True(t, set.Has(models.KindMemory))
	assert.False(t, set.Has(models.KindDocument))

	err = set.Close(context.Background())
	assert.ErrorContains(t, err, "pg close")
	assert.True(t, pg.closed)
	assert.True(t, mem.closed)
}

func TestSinkError(t *testing.T) {
	cause := targets.ErrNoConnection
	err := error(&SinkError{Target: "db-a", Kind: models.KindDocument, Err: cause})

	assert.ErrorIs(t, err, targets.ErrNoConnection)
	assert.Contains(t, err.Error(), `"db-a"`)

	var sinkErr *SinkError
	require.True(t, errors.As(err, &sinkErr))
	assert.Equal(t, models.KindDocument, sinkErr.Kind)
}

func TestSinkError_Public(t *testing.T) {
	cause := errors.New("cannot parse `postgres://admin:hunter2@db:5432/app`")
	err := &SinkError{Target: "crm", Kind: models.KindRelational, Class: FailureConnectionUnavailable, Err: cause}

	assert.Equal(t, `postgres sink "crm": connection_unavailable`, err.Public())
	assert.NotContains(t, err.Public(), "hunter2")
	assert.Contains(t, err.Error(), "hunter2")

	unclassified := &SinkError{Target: "crm", Kind: models.KindRelational, Err: context.DeadlineExceeded}
	assert.Equal(t, `postgres sink "crm": timeout`, unclassified.Public())
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		stage FailureClass
		err   error
		want  FailureClass
	}{
		{"connect", FailureConnectionUnavailable, errors.New("dial tcp: refused"), FailureConnectionUnavailable},
		{"insert", FailureInsertFailed, errors.New("relation missing"), FailureInsertFailed},
		{"deadline", FailureInsertFailed, fmt.Errorf("insert: %w", context.DeadlineExceeded), FailureTimeout},
		{"cancelled", FailureConnectionUnavailable, context.Canceled, FailureTimeout},
		{"unknown kind", FailureInsertFailed, fmt.Errorf("%w: oracle", ErrUnknownKind), FailureAdapterUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.stage, tt.err))
		})
	}
}

func TestOutcome_Succeeded(t *testing.T) {
	assert.True(t, OutcomeStored.Succeeded())
	assert.True(t, OutcomeDuplicate.Succeeded())
	assert.False(t, OutcomeFailed.Succeeded())
}
