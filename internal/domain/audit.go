package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type AuditSubject string

const (
	AuditSubjectFunding         AuditSubject = "funding_transaction"
	AuditSubjectPayout          AuditSubject = "payout_transaction"
	AuditSubjectBookTransaction AuditSubject = "book_transaction"
)

const ActorSystem = "system"

type AuditLog struct {
	ID          uuid.UUID
	At          time.Time
	Event       string
	FromState   string
	ToState     string
	Reason      string
	Actor       string
	SubjectType AuditSubject
	SubjectID   uuid.UUID
	Messages    json.RawMessage
}
