package store

import (
	"context"
	"sync"
	"time"

	"idresolve/internal/contact/events"
	"idresolve/internal/contact/models"
	"idresolve/internal/contact/ports"
	dErrors "idresolve/pkg/domain-errors"
	"idresolve/pkg/platform/sentinel"
)

// Clock returns the current time. Stores default to time.Now.
type Clock func() time.Time

// InMemoryStore keeps contacts in process memory. A single mutex covers the
// whole RunInTx scope, so transactions never interleave and key locks are
// implied. Writes are staged and applied only when fn succeeds.
type InMemoryStore struct {
	mu       sync.RWMutex
	contacts map[models.ContactID]models.Contact
	lastID   int64
	outbox   []events.Pending
	lastSeq  int64
	clock    Clock
}

// InMemoryOption configures an InMemoryStore.
type InMemoryOption func(*InMemoryStore)

// WithMemoryClock sets the clock used for record timestamps.
func WithMemoryClock(clock Clock) InMemoryOption {
	return func(s *InMemoryStore) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func NewInMemory(opts ...InMemoryOption) *InMemoryStore {
	s := &InMemoryStore{
		contacts: make(map[models.ContactID]models.Contact),
		clock:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *InMemoryStore) RunInTx(ctx context.Context, _ []string, fn func(tx ports.ContactTx) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{
		store:  s,
		staged: make(map[models.ContactID]models.Contact),
		lastID: s.lastID,
	}
	if err := fn(tx); err != nil {
		return err
	}
	// A request abandoned mid-scope must not commit.
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	for id, c := range tx.staged {
		s.contacts[id] = c
	}
	s.lastID = tx.lastID
	for _, e := range tx.events {
		s.lastSeq++
		s.outbox = append(s.outbox, events.Pending{Seq: s.lastSeq, Event: e})
	}
	return nil
}

func (s *InMemoryStore) FindCluster(_ context.Context, id models.ContactID) ([]models.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.contacts[id]
	if !ok || c.DeletedAt != nil {
		return nil, sentinel.ErrNotFound
	}
	return clusterOf(s.contacts, nil, map[models.ContactID]struct{}{c.Root(): {}}), nil
}

func (s *InMemoryStore) Ping(context.Context) error {
	return nil
}

// Drain runs fn without holding the store lock and removes the batch from
// the outbox once fn succeeds.
func (s *InMemoryStore) Drain(ctx context.Context, limit int, fn func(ctx context.Context, batch []events.Pending) error) (int, error) {
	if limit <= 0 {
		return 0, nil
	}
	s.mu.RLock()
	n := min(limit, len(s.outbox))
	batch := make([]events.Pending, n)
	copy(batch, s.outbox[:n])
	s.mu.RUnlock()

	if len(batch) == 0 {
		return 0, nil
	}
	if err := fn(ctx, batch); err != nil {
		return 0, err
	}

	done := make(map[int64]struct{}, len(batch))
	for _, p := range batch {
		done[p.Seq] = struct{}{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := make([]events.Pending, 0, len(s.outbox))
	for _, e := range s.outbox {
		if _, ok := done[e.Seq]; ok {
			continue
		}
		kept = append(kept, e)
	}
	s.outbox = kept
	return len(batch), nil
}

// PendingEvents returns the unpublished outbox entries, oldest first.
func (s *InMemoryStore) PendingEvents() []events.Pending {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]events.Pending, len(s.outbox))
	copy(out, s.outbox)
	return out
}

// All returns every stored record, oldest first.
func (s *InMemoryStore) All() []models.Contact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Contact, 0, len(s.contacts))
	for _, c := range s.contacts {
		out = append(out, c)
	}
	models.SortByAge(out)
	return out
}

// memoryTx reads through its staged writes to the committed records.
type memoryTx struct {
	store  *InMemoryStore
	staged map[models.ContactID]models.Contact
	lastID int64
	events []events.Event
}

func (t *memoryTx) get(id models.ContactID) (models.Contact, bool) {
	if c, ok := t.staged[id]; ok {
		return c, true
	}
	c, ok := t.store.contacts[id]
	return c, ok
}

func (t *memoryTx) FindConnected(_ context.Context, obs models.Observation) ([]models.Contact, error) {
	roots := make(map[models.ContactID]struct{})
	overlay(t.store.contacts, t.staged, func(c models.Contact) {
		if (obs.Email != "" && c.Email == obs.Email) || (obs.PhoneNumber != "" && c.PhoneNumber == obs.PhoneNumber) {
			roots[c.Root()] = struct{}{}
		}
	})
	if len(roots) == 0 {
		return []models.Contact{}, nil
	}
	return clusterOf(t.store.contacts, t.staged, roots), nil
}

func (t *memoryTx) Create(_ context.Context, n models.NewContact) (models.Contact, error) {
	if err := n.Validate(); err != nil {
		return models.Contact{}, err
	}
	if !n.LinkedID.IsZero() {
		if _, ok := t.get(n.LinkedID); !ok {
			return models.Contact{}, sentinel.ErrNotFound
		}
	}
	t.lastID++
	now := t.store.clock()
	c := models.Contact{
		ID:             models.ContactID(t.lastID),
		Email:          n.Email,
		PhoneNumber:    n.PhoneNumber,
		LinkedID:       n.LinkedID,
		LinkPrecedence: n.LinkPrecedence,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	t.staged[c.ID] = c
	return c, nil
}

func (t *memoryTx) ReassignToSecondary(_ context.Context, id, linkedID models.ContactID) error {
	return t.update(id, models.PrecedencePrimary, linkedID)
}

func (t *memoryTx) Relink(_ context.Context, id, linkedID models.ContactID) error {
	return t.update(id, models.PrecedenceSecondary, linkedID)
}

// update relinks id when it is live and currently has precedence from.
func (t *memoryTx) update(id models.ContactID, from models.LinkPrecedence, linkedID models.ContactID) error {
	c, ok := t.get(id)
	if !ok || c.DeletedAt != nil || c.LinkPrecedence != from {
		return sentinel.ErrNotFound
	}
	c.LinkPrecedence = models.PrecedenceSecondary
	c.LinkedID = linkedID
	c.UpdatedAt = t.store.clock()
	t.staged[id] = c
	return nil
}

func (t *memoryTx) AppendEvents(_ context.Context, evs []events.Event) error {
	t.events = append(t.events, evs...)
	return nil
}

// clusterOf collects the live records rooted at any of roots, overlaying
// staged over committed, oldest first.
func clusterOf(committed, staged map[models.ContactID]models.Contact, roots map[models.ContactID]struct{}) []models.Contact {
	out := make([]models.Contact, 0)
	overlay(committed, staged, func(c models.Contact) {
		if _, ok := roots[c.Root()]; ok {
			out = append(out, c)
		}
	})
	models.SortByAge(out)
	return out
}

// overlay visits every live record, preferring the staged version.
func overlay(committed, staged map[models.ContactID]models.Contact, fn func(models.Contact)) {
	for id, c := range committed {
		if s, ok := staged[id]; ok {
			c = s
		}
		if c.DeletedAt == nil {
			fn(c)
		}
	}
	for id, c := range staged {
		if _, ok := committed[id]; !ok && c.DeletedAt == nil {
			fn(c)
		}
	}
}
