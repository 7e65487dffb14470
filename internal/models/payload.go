package models

import (
	"fmt"
	"time"
)

// IngestPayload is the signed submission body posted to the connector.
type IngestPayload struct {
	FormID         string            `json:"formId"`
	FormName       string            `json:"formName,omitempty"`
	SubmissionID   string            `json:"submissionId"`
	Timestamp      string            `json:"timestamp"`
	Data           Fields            `json:"data"`
	Signature      string            `json:"signature,omitempty"`
	Routing        *RoutingDirective `json:"routing,omitempty"`
	TargetDB       string            `json:"targetDb,omitempty"`
	TargetDatabase string            `json:"targetDatabase,omitempty"`
	DatabaseConfig *DatabaseConfig   `json:"databaseConfig,omitempty"`
}

// DatabaseConfig carries explicit destination hints. URI names an
// environment variable holding the connection string, never the string itself.
type DatabaseConfig struct {
	Type   string `json:"type,omitempty"`
	URI    string `json:"uri,omitempty"`
	DBName string `json:"dbName,omitempty"`
}

// RoutingDirective describes how one payload fans out to several targets.
type RoutingDirective struct {
	Broadcast       []string         `json:"broadcast,omitempty"`
	Splits          []Split          `json:"splits,omitempty"`
	Transformations *Transformations `json:"transformations,omitempty"`
}

// Split delivers only Fields to Target.
type Split struct {
	Target          string   `json:"target"`
	Fields          []string `json:"fields"`
	ExcludeFromMain bool     `json:"excludeFromMain,omitempty"`
}

// Transformations are applied once to the base data before any routing.
type Transformations struct {
	Mask []string `json:"mask,omitempty"`
	Hash []string `json:"hash,omitempty"`
}

// TimestampLayouts are the accepted ISO-8601 forms of IngestPayload.Timestamp.
var TimestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05Z0700",
}

// ParseTimestamp parses an ISO-8601 instant.
func ParseTimestamp(s string) (time.Time, error) {
	for _, layout := range TimestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}

// Submission is the sanitized record persisted by every sink: the business
// payload plus a receipt time. Routing, signature and target metadata have no
// place in this type.
type Submission struct {
	FormID       string    `json:"formId"`
	FormName     string    `json:"formName,omitempty"`
	SubmissionID string    `json:"submissionId"`
	Timestamp    time.Time `json:"timestamp"`
	Data         Fields    `json:"data"`
	ReceivedAt   time.Time `json:"receivedAt"`
}
