package notification

import (
	"context"
	"time"
)

// Sink delivers a message to one address. It never fails the caller:
// problems are logged and counted.
type Sink interface {
	Send(ctx context.Context, to, subject, body string)
}

// Provider performs the actual delivery of a message
type Provider interface {
	Name() string
	Send(ctx context.Context, msg *Message) error
}

// Message is a single outbound e-mail
type Message struct {
	ID      string `json:"id"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`

	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Stats summarizes what the service has processed
type Stats struct {
	Queued    int64 `json:"queued"`
	Delivered int64 `json:"delivered"`
	Failed    int64 `json:"failed"`
	Skipped   int64 `json:"skipped"`
	Dropped   int64 `json:"dropped"`
}

// Subjects used by the alert notifications
const (
	SubjectLowStock          = "Low Blood Stock Alert"
	SubjectArrangeCamps      = "Action Required: Arrange Donation Camps"
	SubjectUrgentNeed        = "Urgent Blood Requirement"
	SubjectBloodRequest      = "Hospital Blood Request"
	SubjectEscalatedDistrict = "LOW BLOOD STOCK ALERT - DISTRICT LEVEL"
	SubjectEscalatedState    = "LOW BLOOD STOCK ALERT - STATE LEVEL"
)
