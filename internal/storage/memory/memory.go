// Package memory is the process-local sink used when no backend resolves.
// Contents are lost on restart.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/postpipe/connector/internal/models"
	"github.com/postpipe/connector/internal/storage"
	"github.com/postpipe/connector/internal/targets"
)

type destination struct {
	records []models.Submission
	seen    map[string]struct{}
}

// Adapter keeps submissions in memory, one destination per target name.
type Adapter struct {
	mu   sync.RWMutex
	dest map[string]*destination
}

var _ storage.Adapter = (*Adapter)(nil)

// New returns an empty in-memory adapter.
func New() *Adapter {
	return &Adapter{dest: make(map[string]*destination)}
}

func (a *Adapter) Kind() models.Kind {
	return models.KindMemory
}

func destinationName(h targets.Hint) string {
	if h.Target == "" {
		return targets.DefaultTarget
	}
	return h.Target
}

func (a *Adapter) Connect(ctx context.Context, hint targets.Hint) error {
	return ctx.Err()
}

// Insert stores sub. A submission id already stored at the destination is
// reported as a duplicate.
func (a *Adapter) Insert(ctx context.Context, hint targets.Hint, sub models.Submission) (storage.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return storage.OutcomeFailed, err
	}
	name := destinationName(hint)

	a.mu.Lock()
	defer a.mu.Unlock()
	d, ok := a.dest[name]
	if !ok {
		d = &destination{seen: make(map[string]struct{})}
		a.dest[name] = d
	}
	if _, dup := d.seen[sub.SubmissionID]; dup {
		return storage.OutcomeDuplicate, nil
	}
	d.seen[sub.SubmissionID] = struct{}{}
	sub.Data = sub.Data.Clone()
	d.records = append(d.records, sub)
	return storage.OutcomeStored, nil
}

func (a *Adapter) Query(ctx context.Context, formID string, opts storage.QueryOptions) ([]models.Submission, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.RLock()
	d, ok := a.dest[destinationName(opts.Hint)]
	var out []models.Submission
	if ok {
		for _, rec := range d.records {
			if rec.FormID == formID {
				rec.Data = rec.Data.Clone()
				out = append(out, rec)
			}
		}
	}
	a.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ReceivedAt.After(out[j].ReceivedAt)
	})
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// Count returns the number of records stored at target.
func (a *Adapter) Count(target string) int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	d, ok := a.dest[destinationName(targets.Hint{Target: target})]
	if !ok {
		return 0
	}
	return len(d.records)
}

func (a *Adapter) Close(ctx context.Context) error {
	a.mu.Lock()
	a.dest = make(map[string]*destination)
	a.mu.Unlock()
	return nil
}
