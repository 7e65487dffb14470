package mongodb

import (
	"encoding/json"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/postpipe/connector/internal/models"
)

const (
	fieldFormID       = "formId"
	fieldFormName     = "formName"
	fieldSubmissionID = "submissionId"
	fieldTimestamp    = "timestamp"
	fieldData         = "data"
	fieldReceivedAt   = "_receivedAt"
)

// toDocument lays sub out as a document with data keys in submitted order.
func toDocument(sub models.Submission) (bson.D, error) {
	data := make(bson.D, 0, len(sub.Data))
	for _, field := range sub.Data {
		v, err := jsonToBSON(field.Value)
		if err != nil {
			return nil, fmt.Errorf("failed to convert field %q: %w", field.Name, err)
		}
		data = append(data, bson.E{Key: field.Name, Value: v})
	}

	doc := bson.D{{Key: fieldFormID, Value: sub.FormID}}
	if sub.FormName != "" {
		doc = append(doc, bson.E{Key: fieldFormName, Value: sub.FormName})
	}
	doc = append(doc,
		bson.E{Key: fieldSubmissionID, Value: sub.SubmissionID},
		bson.E{Key: fieldTimestamp, Value: sub.Timestamp.UTC().Format(time.RFC3339Nano)},
		bson.E{Key: fieldData, Value: data},
		bson.E{Key: fieldReceivedAt, Value: primitive.NewDateTimeFromTime(sub.ReceivedAt)},
	)
	return doc, nil
}

// fromDocument reverses toDocument. timestamp may be stored as a string or a
// BSON date, depending on which writer created the document.
func fromDocument(raw bson.Raw) (models.Submission, error) {
	var sub models.Submission

	if v, err := raw.LookupErr(fieldFormID); err == nil {
		sub.FormID, _ = v.StringValueOK()
	}
	if v, err := raw.LookupErr(fieldFormName); err == nil {
		sub.FormName, _ = v.StringValueOK()
	}
	if v, err := raw.LookupErr(fieldSubmissionID); err == nil {
		sub.SubmissionID, _ = v.StringValueOK()
	}
	if v, err := raw.LookupErr(fieldTimestamp); err == nil {
		sub.Timestamp = timeValue(v)
	}
	if v, err := raw.LookupErr(fieldReceivedAt); err == nil {
		sub.ReceivedAt = timeValue(v)
	}

	if v, err := raw.LookupErr(fieldData); err == nil {
		if v.Type != bson.TypeEmbeddedDocument {
			return sub, fmt.Errorf("document %s: data is not a document", sub.SubmissionID)
		}
		js, err := appendBSONAsJSON(nil, v)
		if err != nil {
			return sub, fmt.Errorf("document %s: %w", sub.SubmissionID, err)
		}
		if err := json.Unmarshal(js, &sub.Data); err != nil {
			return sub, fmt.Errorf("document %s: %w", sub.SubmissionID, err)
		}
	}
	return sub, nil
}

func timeValue(v bson.RawValue) time.Time {
	if dt, ok := v.DateTimeOK(); ok {
		return time.UnixMilli(dt).UTC()
	}
	if s, ok := v.StringValueOK(); ok {
		if t, err := models.ParseTimestamp(s); err == nil {
			return t
		}
	}
	return time.Time{}
}
