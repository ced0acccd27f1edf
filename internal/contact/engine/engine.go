// Package engine holds the consolidation rules for contact clusters: which
// record is canonical, which records must be demoted or relinked, and when an
// observation adds a new record.
package engine

import (
	"context"
	"errors"
	"fmt"

	"idresolve/internal/contact/models"
	dErrors "idresolve/pkg/domain-errors"
	"idresolve/pkg/platform/orderedset"
	"idresolve/pkg/platform/sentinel"
)

// Store is the write side of the contact store the engine drives. Calls are
// expected to run inside the caller's transaction scope.
type Store interface {
	Create(ctx context.Context, contact models.NewContact) (models.Contact, error)
	ReassignToSecondary(ctx context.Context, id, linkedID models.ContactID) error
	Relink(ctx context.Context, id, linkedID models.ContactID) error
}

// Outcome is the consolidated identity plus what was written to reach it.
type Outcome struct {
	Identity models.Identity
	Created  []models.Contact
	Demoted  []models.ContactID
	Relinked []models.ContactID
}

// Wrote reports whether consolidation changed any record.
func (o Outcome) Wrote() bool {
	return len(o.Created) > 0 || len(o.Demoted) > 0 || len(o.Relinked) > 0
}

// Engine applies cluster shapes to a store.
type Engine struct{}

func New() *Engine {
	return &Engine{}
}

// Consolidate decides the cluster shape for obs and issues the store writes.
// Any store failure is returned as-is so the caller's transaction rolls back;
// writes that contradict the cluster invariants surface as CodeInvariantViolation.
func (e *Engine) Consolidate(ctx context.Context, store Store, obs models.Observation, candidates []models.Contact) (Outcome, error) {
	shape, err := DecideClusterShape(obs, candidates)
	if err != nil {
		return Outcome{}, err
	}

	if shape.Canonical.ID.IsZero() {
		created, err := store.Create(ctx, *shape.Create)
		if err != nil {
			return Outcome{}, fmt.Errorf("create primary contact: %w", err)
		}
		return Outcome{
			Identity: BuildIdentity(created, nil),
			Created:  []models.Contact{created},
		}, nil
	}

	canonicalID := shape.Canonical.ID
	for _, id := range shape.Demote {
		if err := store.ReassignToSecondary(ctx, id, canonicalID); err != nil {
			return Outcome{}, invariantOrCause(err, "demote contact "+id.String())
		}
	}
	for _, id := range shape.Relink {
		if err := store.Relink(ctx, id, canonicalID); err != nil {
			return Outcome{}, invariantOrCause(err, "relink contact "+id.String())
		}
	}

	members := settle(candidates, canonicalID)
	outcome := Outcome{
		Demoted:  shape.Demote,
		Relinked: shape.Relink,
	}
	if shape.Create != nil {
		created, err := store.Create(ctx, *shape.Create)
		if err != nil {
			return Outcome{}, fmt.Errorf("create secondary contact: %w", err)
		}
		members = append(members, created)
		outcome.Created = []models.Contact{created}
	}

	outcome.Identity = BuildIdentity(shape.Canonical, members)
	return outcome, nil
}

// BuildIdentity assembles the consolidated view. The primary's own attributes
// come first, then the secondaries' in creation order, so repeated requests see
// the same preferred contact details regardless of store ordering.
func BuildIdentity(primary models.Contact, members []models.Contact) models.Identity {
	others := make([]models.Contact, 0, len(members))
	for _, c := range members {
		if c.ID != primary.ID {
			others = append(others, c)
		}
	}
	models.SortByAge(others)

	emails := orderedset.New[string](len(others) + 1)
	phones := orderedset.New[string](len(others) + 1)
	secondaryIDs := orderedset.New[models.ContactID](len(others))
	emails.AddNonZero(primary.Email)
	phones.AddNonZero(primary.PhoneNumber)
	for _, c := range others {
		emails.AddNonZero(c.Email)
		phones.AddNonZero(c.PhoneNumber)
		secondaryIDs.Add(c.ID)
	}

	return models.Identity{
		PrimaryID:    primary.ID,
		Emails:       emails.Items(),
		PhoneNumbers: phones.Items(),
		SecondaryIDs: secondaryIDs.Items(),
	}
}

// IdentityOf builds the view for a cluster read from the store.
func IdentityOf(cluster []models.Contact) (models.Identity, error) {
	primary, ok := oldestPrimary(cluster)
	if !ok {
		return models.Identity{}, dErrors.New(dErrors.CodeInvariantViolation, "cluster has no primary contact")
	}
	return BuildIdentity(primary, cluster), nil
}

// settle returns the candidates as they look after demotion and relinking.
func settle(candidates []models.Contact, canonicalID models.ContactID) []models.Contact {
	out := make([]models.Contact, 0, len(candidates)+1)
	for _, c := range uniqueByID(candidates) {
		if c.ID != canonicalID {
			c.LinkPrecedence = models.PrecedenceSecondary
			c.LinkedID = canonicalID
		}
		out = append(out, c)
	}
	return out
}

// invariantOrCause flags a missing update target as an engine bug; the store
// reports it when asked to demote or relink a record in an unexpected state.
func invariantOrCause(err error, action string) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.Wrap(err, dErrors.CodeInvariantViolation, action+": record not in expected state")
	}
	return fmt.Errorf("%s: %w", action, err)
}
