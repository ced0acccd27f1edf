package models

import (
	"sort"
	"strconv"
	"strings"
	"time"

	dErrors "idresolve/pkg/domain-errors"
)

// ContactID is the store-assigned identifier of a contact record. Ids come
// from the store's sequence and start at 1; the zero value means "unset".
type ContactID int64

func (id ContactID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

func (id ContactID) IsZero() bool {
	return id == 0
}

// ParseContactID parses a decimal contact id.
func ParseContactID(s string) (ContactID, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || v <= 0 {
		return 0, dErrors.New(dErrors.CodeValidation, "contact id must be a positive integer")
	}
	return ContactID(v), nil
}

// LinkPrecedence marks a contact as the canonical record of its cluster or as
// subordinate to it.
type LinkPrecedence string

const (
	PrecedencePrimary   LinkPrecedence = "primary"
	PrecedenceSecondary LinkPrecedence = "secondary"
)

func (p LinkPrecedence) IsValid() bool {
	return p == PrecedencePrimary || p == PrecedenceSecondary
}

// Contact is one partial observation of a person.
//
// Invariants:
//   - at least one of Email and PhoneNumber is non-empty
//   - primary contacts have no LinkedID
//   - secondary contacts link to the primary of their cluster, never to another secondary
//   - CreatedAt never changes; it decides which primary survives a merge
type Contact struct {
	ID             ContactID
	Email          string
	PhoneNumber    string
	LinkedID       ContactID
	LinkPrecedence LinkPrecedence
	CreatedAt      time.Time
	UpdatedAt      time.Time
	DeletedAt      *time.Time
}

func (c Contact) IsPrimary() bool {
	return c.LinkPrecedence == PrecedencePrimary
}

// Root returns the id of the primary this contact belongs to.
func (c Contact) Root() ContactID {
	if c.IsPrimary() || c.LinkedID.IsZero() {
		return c.ID
	}
	return c.LinkedID
}

// Older reports whether a was created before b, breaking timestamp ties by id.
func Older(a, b Contact) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// SortByAge orders contacts oldest first.
func SortByAge(contacts []Contact) {
	sort.SliceStable(contacts, func(i, j int) bool {
		return Older(contacts[i], contacts[j])
	})
}

// NewContact describes a record to insert. The store assigns ID and timestamps.
type NewContact struct {
	Email          string
	PhoneNumber    string
	LinkPrecedence LinkPrecedence
	LinkedID       ContactID
}

// Validate enforces the precedence invariants on inserts. A failure here is a
// bug in the caller, never a data problem.
func (n NewContact) Validate() error {
	if n.Email == "" && n.PhoneNumber == "" {
		return dErrors.New(dErrors.CodeInvariantViolation, "contact needs an email or a phone number")
	}
	switch n.LinkPrecedence {
	case PrecedencePrimary:
		if !n.LinkedID.IsZero() {
			return dErrors.New(dErrors.CodeInvariantViolation, "primary contact cannot have a linked id")
		}
	case PrecedenceSecondary:
		if n.LinkedID.IsZero() {
			return dErrors.New(dErrors.CodeInvariantViolation, "secondary contact requires a linked id")
		}
	default:
		return dErrors.New(dErrors.CodeInvariantViolation, "unknown link precedence: "+string(n.LinkPrecedence))
	}
	return nil
}

// Observation is one identify request's email/phone pair.
type Observation struct {
	Email       string
	PhoneNumber string
}

// NewObservation trims both attributes and rejects an observation with neither.
func NewObservation(email, phoneNumber string) (Observation, error) {
	obs := Observation{
		Email:       strings.TrimSpace(email),
		PhoneNumber: strings.TrimSpace(phoneNumber),
	}
	if obs.Email == "" && obs.PhoneNumber == "" {
		return Observation{}, dErrors.New(dErrors.CodeValidation, "at least email or phoneNumber is required")
	}
	return obs, nil
}

// LockKeys returns the attribute keys a write for this observation must hold,
// sorted so concurrent holders always acquire them in the same order.
func (o Observation) LockKeys() []string {
	keys := make([]string, 0, 2)
	if o.Email != "" {
		keys = append(keys, EmailKey(o.Email))
	}
	if o.PhoneNumber != "" {
		keys = append(keys, PhoneKey(o.PhoneNumber))
	}
	sort.Strings(keys)
	return keys
}

func EmailKey(email string) string {
	return "email:" + email
}

func PhoneKey(phone string) string {
	return "phone:" + phone
}

// ClusterKey scopes a lock to the cluster rooted at primary id.
func ClusterKey(id ContactID) string {
	return "cluster:" + id.String()
}

// Identity is the consolidated view of one cluster.
type Identity struct {
	PrimaryID    ContactID
	Emails       []string
	PhoneNumbers []string
	SecondaryIDs []ContactID
}
