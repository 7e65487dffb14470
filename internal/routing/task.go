package routing

import (
	"time"

	"github.com/postpipe/connector/internal/models"
	"github.com/postpipe/connector/internal/targets"
)

// Role says why a target receives a delivery.
type Role string

const (
	RolePrimary   Role = "primary"
	RoleBroadcast Role = "broadcast"
	RoleSplit     Role = "split"
)

// Task is one delivery: a target and the view of the data it receives.
// Tasks are built by Expand and never change afterwards; accessors return
// copies.
type Task struct {
	target string
	role   Role
	config *models.DatabaseConfig
	data   models.Fields

	formID       string
	formName     string
	submissionID string
	timestamp    time.Time
}

// Target returns the target name.
func (t Task) Target() string { return t.target }

// Role returns why the target receives this task.
func (t Task) Role() Role { return t.role }

// Data returns a copy of the task's view.
func (t Task) Data() models.Fields { return t.data.Clone() }

// ExplicitType is the payload's engine type hint. Only the primary task
// carries one.
func (t Task) ExplicitType() string {
	if t.config == nil {
		return ""
	}
	return t.config.Type
}

// Hint returns the destination hint. Broadcast and split tasks never inherit
// the payload's explicit connection config.
func (t Task) Hint() targets.Hint {
	h := targets.Hint{Target: t.target}
	if t.config != nil {
		cfg := *t.config
		h.Config = &cfg
	}
	return h
}

// Submission returns the sanitized record this task persists.
func (t Task) Submission(receivedAt time.Time) models.Submission {
	return models.Submission{
		FormID:       t.formID,
		FormName:     t.formName,
		SubmissionID: t.submissionID,
		Timestamp:    t.timestamp,
		Data:         t.data.Clone(),
		ReceivedAt:   receivedAt,
	}
}
