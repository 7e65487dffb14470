package service

import (
	"context"
	"fmt"
	"regexp"

	"github.com/postpipe/connector/internal/logging"
	"github.com/postpipe/connector/internal/models"
	"github.com/postpipe/connector/internal/storage"
	"github.com/postpipe/connector/internal/targets"
)

const (
	DefaultQueryLimit = 50
	MaxQueryLimit     = 1000
)

var targetPattern = regexp.MustCompile(`^[A-Za-z0-9_-]*$`)

// QueryRequest selects submissions of one form from one destination.
type QueryRequest struct {
	FormID   string
	FormName string
	Limit    int
	Target   string
	// Type overrides engine resolution for this read.
	Type   string
	Config *models.DatabaseConfig
}

// QueryService reads submissions back from the sinks.
type QueryService struct {
	resolver    *targets.Resolver
	adapters    *storage.Set
	defaultKind models.Kind
	logger      *logging.Logger
}

func NewQueryService(resolver *targets.Resolver, adapters *storage.Set, defaultKind models.Kind, logger *logging.Logger) *QueryService {
	return &QueryService{resolver: resolver, adapters: adapters, defaultKind: defaultKind, logger: logger}
}

// ClampLimit applies the default and upper bound to a requested limit.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultQueryLimit
	}
	if limit > MaxQueryLimit {
		return MaxQueryLimit
	}
	return limit
}

// Query returns matching submissions, newest first.
func (s *QueryService) Query(ctx context.Context, req QueryRequest) ([]models.Submission, error) {
	if req.FormID == "" {
		return nil, fmt.Errorf("%w: formId is required", ErrValidation)
	}
	if !targetPattern.MatchString(req.Target) {
		return nil, fmt.Errorf("%w: invalid targetDatabase name", ErrValidation)
	}

	explicit := req.Type
	if explicit == "" && req.Config != nil {
		explicit = req.Config.Type
	}
	target := req.Target
	if target == "" {
		target = s.resolver.DefaultTarget()
	}
	kind := storage.ResolveKind(explicit, target, s.resolver, s.defaultKind)

	adapter, err := s.adapters.Get(kind)
	if err != nil {
		return nil, err
	}
	hint := targets.Hint{Target: target, Config: req.Config}

	connectCtx, cancelConnect := storage.ConnectContext(ctx)
	defer cancelConnect()
	if err := adapter.Connect(connectCtx, hint); err != nil {
		return nil, &storage.SinkError{Target: target, Kind: kind, Class: storage.Classify(storage.FailureConnectionUnavailable, err), Err: err}
	}

	queryCtx, cancel := storage.QueryContext(ctx)
	defer cancel()
	subs, err := adapter.Query(queryCtx, req.FormID, storage.QueryOptions{
		Limit:    ClampLimit(req.Limit),
		FormName: req.FormName,
		Hint:     hint,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "query failed",
			logging.FormID(req.FormID),
			logging.Target(target),
			logging.Kind(string(kind)),
			logging.Error(err),
		)
		return nil, &storage.SinkError{Target: target, Kind: kind, Class: storage.Classify(storage.FailureQueryFailed, err), Err: err}
	}
	if subs == nil {
		subs = []models.Submission{}
	}
	return subs, nil
}
