// Package events carries the identity change events written to the contact
// outbox and the relay that publishes them.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"idresolve/internal/contact/engine"
	"idresolve/internal/contact/models"
)

// Type names an identity change.
type Type string

const (
	TypeCreated  Type = "contact.created"
	TypeDemoted  Type = "contact.demoted"
	TypeRelinked Type = "contact.relinked"
)

// Event is one change to a contact record. PrimaryID is the cluster primary
// after the change and doubles as the partition key downstream.
type Event struct {
	ID         uuid.UUID
	Type       Type
	ContactID  models.ContactID
	PrimaryID  models.ContactID
	Precedence models.LinkPrecedence
	RequestID  string
	OccurredAt time.Time
}

// Pending is an outbox entry not yet published. Seq orders entries in the outbox.
type Pending struct {
	Seq   int64
	Event Event
}

// payload is the JSON document published for an event. Contact attributes are
// left out; consumers resolve them through the API.
type payload struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	ContactID  int64  `json:"contactId"`
	PrimaryID  int64  `json:"primaryContactId"`
	Precedence string `json:"linkPrecedence"`
	RequestID  string `json:"requestId,omitempty"`
	OccurredAt string `json:"occurredAt"`
}

// Payload encodes the event for publication and for the outbox payload column.
func (e Event) Payload() ([]byte, error) {
	b, err := json.Marshal(payload{
		ID:         e.ID.String(),
		Type:       string(e.Type),
		ContactID:  int64(e.ContactID),
		PrimaryID:  int64(e.PrimaryID),
		Precedence: string(e.Precedence),
		RequestID:  e.RequestID,
		OccurredAt: e.OccurredAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal event payload: %w", err)
	}
	return b, nil
}

// ParsePayload decodes an event written by Payload.
func ParsePayload(b []byte) (Event, error) {
	var p payload
	if err := json.Unmarshal(b, &p); err != nil {
		return Event{}, fmt.Errorf("unmarshal event payload: %w", err)
	}
	id, err := uuid.Parse(p.ID)
	if err != nil {
		return Event{}, fmt.Errorf("parse event id: %w", err)
	}
	at, err := time.Parse(time.RFC3339Nano, p.OccurredAt)
	if err != nil {
		return Event{}, fmt.Errorf("parse event time: %w", err)
	}
	return Event{
		ID:         id,
		Type:       Type(p.Type),
		ContactID:  models.ContactID(p.ContactID),
		PrimaryID:  models.ContactID(p.PrimaryID),
		Precedence: models.LinkPrecedence(p.Precedence),
		RequestID:  p.RequestID,
		OccurredAt: at,
	}, nil
}

// FromOutcome lists the events for the writes a consolidation made, in the
// order they were applied: demotions, relinks, then the created record.
func FromOutcome(out engine.Outcome, requestID string, at time.Time) []Event {
	if !out.Wrote() {
		return nil
	}
	primaryID := out.Identity.PrimaryID
	evs := make([]Event, 0, len(out.Demoted)+len(out.Relinked)+len(out.Created))
	for _, id := range out.Demoted {
		evs = append(evs, newEvent(TypeDemoted, id, primaryID, models.PrecedenceSecondary, requestID, at))
	}
	for _, id := range out.Relinked {
		evs = append(evs, newEvent(TypeRelinked, id, primaryID, models.PrecedenceSecondary, requestID, at))
	}
	for _, c := range out.Created {
		evs = append(evs, newEvent(TypeCreated, c.ID, primaryID, c.LinkPrecedence, requestID, at))
	}
	return evs
}

func newEvent(t Type, contactID, primaryID models.ContactID, precedence models.LinkPrecedence, requestID string, at time.Time) Event {
	return Event{
		ID:         uuid.New(),
		Type:       t,
		ContactID:  contactID,
		PrimaryID:  primaryID,
		Precedence: precedence,
		RequestID:  requestID,
		OccurredAt: at,
	}
}
