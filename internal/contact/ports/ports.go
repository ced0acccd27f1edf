// Package ports defines the store interfaces shared by the contact service
// and its stores.
package ports

import (
	"context"

	"idresolve/internal/contact/events"
	"idresolve/internal/contact/models"
)

// ContactTx is the store view inside an exclusive transaction scope. Writes
// made through it commit together when the scope's function returns nil.
type ContactTx interface {
	// FindConnected returns every live record sharing the observation's email
	// or phone, plus the rest of their clusters, oldest first.
	FindConnected(ctx context.Context, obs models.Observation) ([]models.Contact, error)

	// Create inserts a record with store-assigned id and timestamps.
	Create(ctx context.Context, contact models.NewContact) (models.Contact, error)

	// ReassignToSecondary turns a primary into a secondary of linkedID.
	// Returns sentinel.ErrNotFound when id is not a live primary.
	ReassignToSecondary(ctx context.Context, id, linkedID models.ContactID) error

	// Relink moves a secondary to linkedID.
	// Returns sentinel.ErrNotFound when id is not a live secondary.
	Relink(ctx context.Context, id, linkedID models.ContactID) error

	// AppendEvents writes events to the outbox in the same transaction.
	AppendEvents(ctx context.Context, evs []events.Event) error
}

// ContactStore persists contacts.
type ContactStore interface {
	// RunInTx runs fn holding exclusive locks on keys. A failing fn or a
	// failing commit discards every write fn made.
	RunInTx(ctx context.Context, keys []string, fn func(tx ContactTx) error) error

	// FindCluster returns the cluster containing id, oldest first.
	// Returns sentinel.ErrNotFound when id is unknown or deleted.
	FindCluster(ctx context.Context, id models.ContactID) ([]models.Contact, error)

	// Ping reports whether the backing store is reachable.
	Ping(ctx context.Context) error
}

