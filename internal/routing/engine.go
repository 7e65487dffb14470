// Package routing expands one submission into its delivery tasks.
package routing

import (
	"errors"
	"fmt"
	"time"

	"github.com/postpipe/connector/internal/models"
	"github.com/postpipe/connector/internal/targets"
)

var (
	// ErrInvalidTarget is returned for target names outside [A-Za-z0-9_-].
	ErrInvalidTarget = errors.New("invalid target name")
	// ErrExcludedFromPrimary is returned when a split to the primary target
	// removes fields from the primary view. Those fields would be stored
	// nowhere.
	ErrExcludedFromPrimary = errors.New("split to the primary target cannot exclude fields from it")
)

// PrimaryTarget returns the target named by the payload, or fallback.
func PrimaryTarget(p *models.IngestPayload, fallback string) string {
	switch {
	case p.TargetDB != "":
		return p.TargetDB
	case p.TargetDatabase != "":
		return p.TargetDatabase
	case fallback != "":
		return fallback
	}
	return targets.DefaultTarget
}

// Validate checks every target name the payload mentions and rejects splits
// that would drop data. fallback is the primary target used when the payload
// names none.
func Validate(p *models.IngestPayload, fallback string) error {
	check := func(where, name string) error {
		if !targets.ValidName(name) {
			return fmt.Errorf("%w: %s %q", ErrInvalidTarget, where, name)
		}
		return nil
	}
	if p.TargetDB != "" {
		if err := check("targetDb", p.TargetDB); err != nil {
			return err
		}
	}
	if p.TargetDatabase != "" {
		if err := check("targetDatabase", p.TargetDatabase); err != nil {
			return err
		}
	}
	if p.Routing == nil {
		return nil
	}
	for _, b := range p.Routing.Broadcast {
		if err := check("broadcast", b); err != nil {
			return err
		}
	}
	primary := PrimaryTarget(p, fallback)
	for _, s := range p.Routing.Splits {
		if err := check("split", s.Target); err != nil {
			return err
		}
		if s.ExcludeFromMain && s.Target == primary && len(s.Fields) > 0 {
			return fmt.Errorf("%w: %q", ErrExcludedFromPrimary, primary)
		}
	}
	return nil
}

// Expand turns a validated payload into delivery tasks, primary first.
//
// Transformations are applied once to the base data. The primary view drops
// every field a split marks excludeFromMain. Each target receives at most one
// task: broadcasts repeating the primary are skipped, a split to a target
// that already gets the full data is skipped, and splits sharing a target
// are merged into one view.
func Expand(p *models.IngestPayload, timestamp time.Time, fallback string) []Task {
	directive := p.Routing
	if directive == nil {
		directive = &models.RoutingDirective{}
	}
	base := Transform(p.Data, directive.Transformations)

	newTask := func(target string, role Role, data models.Fields) Task {
		return Task{
			target:       target,
			role:         role,
			data:         data,
			formID:       p.FormID,
			formName:     p.FormName,
			submissionID: p.SubmissionID,
			timestamp:    timestamp,
		}
	}

	excluded := map[string]struct{}{}
	for _, s := range directive.Splits {
		if !s.ExcludeFromMain {
			continue
		}
		for _, f := range s.Fields {
			excluded[f] = struct{}{}
		}
	}

	primaryName := PrimaryTarget(p, fallback)
	primary := newTask(primaryName, RolePrimary, base.Without(excluded))
	if p.DatabaseConfig != nil {
		cfg := *p.DatabaseConfig
		primary.config = &cfg
	}

	tasks := []Task{primary}
	full := map[string]struct{}{primaryName: {}}
	for _, b := range directive.Broadcast {
		if _, seen := full[b]; seen {
			continue
		}
		full[b] = struct{}{}
		tasks = append(tasks, newTask(b, RoleBroadcast, base.Clone()))
	}

	var splitOrder []string
	splitFields := map[string]map[string]struct{}{}
	for _, s := range directive.Splits {
		if _, covered := full[s.Target]; covered {
			continue
		}
		fields, ok := splitFields[s.Target]
		if !ok {
			fields = map[string]struct{}{}
			splitFields[s.Target] = fields
			splitOrder = append(splitOrder, s.Target)
		}
		for _, f := range s.Fields {
			fields[f] = struct{}{}
		}
	}
	for _, target := range splitOrder {
		tasks = append(tasks, newTask(target, RoleSplit, base.Only(splitFields[target])))
	}
	return tasks
}
