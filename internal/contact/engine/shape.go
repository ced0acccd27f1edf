package engine

import (
	"idresolve/internal/contact/models"
	dErrors "idresolve/pkg/domain-errors"
)

// Shape is the set of mutations that turns a candidate set into a settled
// cluster. It is computed without I/O so the rules can be tested on their own.
type Shape struct {
	// Canonical is the surviving primary. Zero when the candidate set was empty.
	Canonical models.Contact
	// Demote lists primaries that must become secondaries of Canonical.
	Demote []models.ContactID
	// Relink lists secondaries whose link must move to Canonical.
	Relink []models.ContactID
	// Create is the record to insert, if the observation adds information.
	Create *models.NewContact
}

// IsNoop reports whether applying the shape writes nothing.
func (s Shape) IsNoop() bool {
	return len(s.Demote) == 0 && len(s.Relink) == 0 && s.Create == nil
}

// DecideClusterShape applies the consolidation rules to the candidates connected
// to obs. This is pure domain logic - no I/O, no side effects.
//
// Rules, in order:
//  1. No candidates: create a primary carrying the observation.
//  2. The oldest primary (createdAt, then id) is canonical; every other primary is demoted.
//  3. Secondaries not linked to the canonical primary are relinked to it.
//  4. An email or phone not yet present in the cluster yields one new secondary
//     carrying only the unseen attributes.
func DecideClusterShape(obs models.Observation, candidates []models.Contact) (Shape, error) {
	members := uniqueByID(candidates)
	if len(members) == 0 {
		return Shape{Create: &models.NewContact{
			Email:          obs.Email,
			PhoneNumber:    obs.PhoneNumber,
			LinkPrecedence: models.PrecedencePrimary,
		}}, nil
	}

	canonical, ok := oldestPrimary(members)
	if !ok {
		return Shape{}, dErrors.New(dErrors.CodeInvariantViolation, "cluster has no primary contact")
	}

	shape := Shape{Canonical: canonical}
	knownEmails := make(map[string]struct{}, len(members))
	knownPhones := make(map[string]struct{}, len(members))
	for _, c := range members {
		if c.Email != "" {
			knownEmails[c.Email] = struct{}{}
		}
		if c.PhoneNumber != "" {
			knownPhones[c.PhoneNumber] = struct{}{}
		}
		if c.ID == canonical.ID {
			continue
		}
		if c.IsPrimary() {
			shape.Demote = append(shape.Demote, c.ID)
			continue
		}
		if c.LinkedID != canonical.ID {
			shape.Relink = append(shape.Relink, c.ID)
		}
	}

	fresh := models.NewContact{
		LinkPrecedence: models.PrecedenceSecondary,
		LinkedID:       canonical.ID,
	}
	if _, seen := knownEmails[obs.Email]; obs.Email != "" && !seen {
		fresh.Email = obs.Email
	}
	if _, seen := knownPhones[obs.PhoneNumber]; obs.PhoneNumber != "" && !seen {
		fresh.PhoneNumber = obs.PhoneNumber
	}
	if fresh.Email != "" || fresh.PhoneNumber != "" {
		shape.Create = &fresh
	}
	return shape, nil
}

func oldestPrimary(members []models.Contact) (models.Contact, bool) {
	var best models.Contact
	found := false
	for _, c := range members {
		if !c.IsPrimary() {
			continue
		}
		if !found || models.Older(c, best) {
			best = c
			found = true
		}
	}
	return best, found
}

// uniqueByID drops repeated records and returns the rest oldest first.
func uniqueByID(candidates []models.Contact) []models.Contact {
	seen := make(map[models.ContactID]struct{}, len(candidates))
	out := make([]models.Contact, 0, len(candidates))
	for _, c := range candidates {
		if _, ok := seen[c.ID]; ok {
			continue
		}
		seen[c.ID] = struct{}{}
		out = append(out, c)
	}
	models.SortByAge(out)
	return out
}
