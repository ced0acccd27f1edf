package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/lib/pq"

	"idresolve/internal/contact/events"
	"idresolve/internal/contact/models"
	"idresolve/internal/contact/ports"
	dErrors "idresolve/pkg/domain-errors"
	"idresolve/pkg/platform/sentinel"
	txcontext "idresolve/pkg/platform/tx"
)

const (
	defaultTxTimeout   = 5 * time.Second
	defaultLockTimeout = 2 * time.Second

	// maxLockRounds bounds how often FindConnected re-reads after locking
	// newly discovered clusters before giving up with a conflict.
	maxLockRounds = 8
)

// SQLSTATE codes classify maps.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeForeignKeyViolation  = "23503"
	codeCheckViolation       = "23514"
)

const contactColumns = `id, email, phone_number, linked_id, link_precedence, created_at, updated_at, deleted_at`

// PostgresStore persists contacts in PostgreSQL. RunInTx serializes writers
// with transaction-scoped advisory locks on the observation's attribute keys
// and on every cluster it reads.
type PostgresStore struct {
	db          *sql.DB
	clock       Clock
	txTimeout   time.Duration
	lockTimeout time.Duration
}

// PostgresOption configures a PostgresStore.
type PostgresOption func(*PostgresStore)

// WithPostgresClock sets the clock used for record timestamps.
func WithPostgresClock(clock Clock) PostgresOption {
	return func(s *PostgresStore) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithTxTimeout bounds a RunInTx scope when the caller's context has no deadline.
func WithTxTimeout(d time.Duration) PostgresOption {
	return func(s *PostgresStore) {
		if d > 0 {
			s.txTimeout = d
		}
	}
}

// WithLockTimeout bounds each lock wait inside a transaction.
func WithLockTimeout(d time.Duration) PostgresOption {
	return func(s *PostgresStore) {
		if d > 0 {
			s.lockTimeout = d
		}
	}
}

func NewPostgres(db *sql.DB, opts ...PostgresOption) *PostgresStore {
	s := &PostgresStore{
		db:          db,
		clock:       time.Now,
		txTimeout:   defaultTxTimeout,
		lockTimeout: defaultLockTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *PostgresStore) RunInTx(ctx context.Context, keys []string, fn func(tx ports.ContactTx) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.txTimeout)
		defer cancel()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err, "begin transaction")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	lockTimeout := strconv.FormatInt(s.lockTimeout.Milliseconds(), 10) + "ms"
	if _, err := tx.ExecContext(ctx, `SELECT set_config('lock_timeout', $1, true)`, lockTimeout); err != nil {
		return classify(err, "set lock timeout")
	}

	ptx := &postgresTx{tx: tx, clock: s.clock, locked: make(map[string]struct{})}
	if err := ptx.lock(ctx, keys); err != nil {
		return err
	}
	if err := fn(ptx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return classify(err, "commit transaction")
	}
	return nil
}

func (s *PostgresStore) FindCluster(ctx context.Context, id models.ContactID) ([]models.Contact, error) {
	query := `
		WITH target AS (
			SELECT COALESCE(linked_id, id) AS root
			FROM contacts
			WHERE id = $1 AND deleted_at IS NULL
		)
		SELECT ` + contactColumns + `
		FROM contacts
		WHERE deleted_at IS NULL
			AND (id = (SELECT root FROM target) OR linked_id = (SELECT root FROM target))
		ORDER BY created_at, id
	`
	contacts, err := queryContacts(ctx, txcontext.ExecutorFrom(ctx, s.db), query, int64(id))
	if err != nil {
		return nil, classify(err, "find cluster")
	}
	if len(contacts) == 0 {
		return nil, sentinel.ErrNotFound
	}
	return contacts, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Drain claims pending events with FOR UPDATE SKIP LOCKED so concurrent relays
// never hand out the same batch, and marks them inside the same transaction.
func (s *PostgresStore) Drain(ctx context.Context, limit int, fn func(ctx context.Context, batch []events.Pending) error) (int, error) {
	if limit <= 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin outbox transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()
	ctx = txcontext.WithTx(ctx, tx)

	batch, err := s.pendingEvents(ctx, limit)
	if err != nil {
		return 0, err
	}
	if len(batch) == 0 {
		return 0, nil
	}
	if err := fn(ctx, batch); err != nil {
		return 0, err
	}
	if err := s.markPublished(ctx, batch); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit outbox transaction: %w", err)
	}
	return len(batch), nil
}

func (s *PostgresStore) pendingEvents(ctx context.Context, limit int) ([]events.Pending, error) {
	query := `
		SELECT seq, payload
		FROM contact_events
		WHERE published_at IS NULL
		ORDER BY seq
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`
	rows, err := txcontext.ExecutorFrom(ctx, s.db).QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending events: %w", err)
	}
	defer rows.Close()

	var batch []events.Pending
	for rows.Next() {
		var (
			seq     int64
			payload []byte
		)
		if err := rows.Scan(&seq, &payload); err != nil {
			return nil, fmt.Errorf("scan pending event: %w", err)
		}
		e, err := events.ParsePayload(payload)
		if err != nil {
			return nil, fmt.Errorf("decode pending event %d: %w", seq, err)
		}
		batch = append(batch, events.Pending{Seq: seq, Event: e})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending events: %w", err)
	}
	return batch, nil
}

func (s *PostgresStore) markPublished(ctx context.Context, batch []events.Pending) error {
	seqs := make([]int64, 0, len(batch))
	for _, p := range batch {
		seqs = append(seqs, p.Seq)
	}
	query := `UPDATE contact_events SET published_at = $2 WHERE seq = ANY($1::bigint[])`
	if _, err := txcontext.ExecutorFrom(ctx, s.db).ExecContext(ctx, query, pq.Array(seqs), s.clock()); err != nil {
		return fmt.Errorf("mark events published: %w", err)
	}
	return nil
}

type postgresTx struct {
	tx     *sql.Tx
	clock  Clock
	locked map[string]struct{}
}

// lock takes the advisory locks for keys not yet held, in sorted order so
// concurrent transactions acquire shared keys in the same sequence.
func (t *postgresTx) lock(ctx context.Context, keys []string) error {
	pending := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, held := t.locked[k]; !held {
			pending = append(pending, k)
		}
	}
	slices.Sort(pending)
	pending = slices.Compact(pending)

	for _, k := range pending {
		if _, err := t.tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, k); err != nil {
			return classify(err, "acquire lock")
		}
		t.locked[k] = struct{}{}
	}
	return nil
}

// FindConnected reads the closure and locks each cluster it finds. A cluster
// locked after the read may have changed, so the closure is read again until
// no new cluster turns up.
func (t *postgresTx) FindConnected(ctx context.Context, obs models.Observation) ([]models.Contact, error) {
	query := `
		WITH matched AS (
			SELECT id, linked_id
			FROM contacts
			WHERE deleted_at IS NULL
				AND (email = NULLIF($1, '') OR phone_number = NULLIF($2, ''))
		),
		roots AS (
			SELECT DISTINCT COALESCE(linked_id, id) AS id FROM matched
		)
		SELECT ` + contactColumns + `
		FROM contacts
		WHERE deleted_at IS NULL
			AND (id IN (SELECT id FROM roots) OR linked_id IN (SELECT id FROM roots))
		ORDER BY created_at, id
	`
	for range maxLockRounds {
		contacts, err := queryContacts(ctx, t.tx, query, obs.Email, obs.PhoneNumber)
		if err != nil {
			return nil, classify(err, "find connected contacts")
		}

		var unlocked []string
		for _, c := range contacts {
			key := models.ClusterKey(c.Root())
			if _, held := t.locked[key]; !held && !slices.Contains(unlocked, key) {
				unlocked = append(unlocked, key)
			}
		}
		if len(unlocked) == 0 {
			return contacts, nil
		}
		if err := t.lock(ctx, unlocked); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("find connected contacts: clusters kept changing: %w", sentinel.ErrConflict)
}

func (t *postgresTx) Create(ctx context.Context, n models.NewContact) (models.Contact, error) {
	if err := n.Validate(); err != nil {
		return models.Contact{}, err
	}
	now := t.clock()
	query := `
		INSERT INTO contacts (email, phone_number, linked_id, link_precedence, created_at, updated_at)
		VALUES (NULLIF($1, ''), NULLIF($2, ''), $3, $4, $5, $5)
		RETURNING id
	`
	var id int64
	err := t.tx.QueryRowContext(ctx, query, n.Email, n.PhoneNumber, nullID(n.LinkedID), string(n.LinkPrecedence), now).Scan(&id)
	if err != nil {
		return models.Contact{}, classify(err, "insert contact")
	}
	return models.Contact{
		ID:             models.ContactID(id),
		Email:          n.Email,
		PhoneNumber:    n.PhoneNumber,
		LinkedID:       n.LinkedID,
		LinkPrecedence: n.LinkPrecedence,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

func (t *postgresTx) ReassignToSecondary(ctx context.Context, id, linkedID models.ContactID) error {
	query := `
		UPDATE contacts
		SET link_precedence = 'secondary', linked_id = $2, updated_at = $3
		WHERE id = $1 AND link_precedence = 'primary' AND deleted_at IS NULL
	`
	return t.guardedUpdate(ctx, "demote contact", query, id, linkedID)
}

func (t *postgresTx) Relink(ctx context.Context, id, linkedID models.ContactID) error {
	query := `
		UPDATE contacts
		SET linked_id = $2, updated_at = $3
		WHERE id = $1 AND link_precedence = 'secondary' AND deleted_at IS NULL
	`
	return t.guardedUpdate(ctx, "relink contact", query, id, linkedID)
}

func (t *postgresTx) guardedUpdate(ctx context.Context, action, query string, id, linkedID models.ContactID) error {
	res, err := t.tx.ExecContext(ctx, query, int64(id), int64(linkedID), t.clock())
	if err != nil {
		return classify(err, action)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", action, err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

// AppendEvents inserts the batch in one round trip.
func (t *postgresTx) AppendEvents(ctx context.Context, evs []events.Event) error {
	if len(evs) == 0 {
		return nil
	}
	ids := make([]string, 0, len(evs))
	types := make([]string, 0, len(evs))
	contactIDs := make([]int64, 0, len(evs))
	primaryIDs := make([]int64, 0, len(evs))
	payloads := make([]string, 0, len(evs))
	for _, e := range evs {
		payload, err := e.Payload()
		if err != nil {
			return err
		}
		ids = append(ids, e.ID.String())
		types = append(types, string(e.Type))
		contactIDs = append(contactIDs, int64(e.ContactID))
		primaryIDs = append(primaryIDs, int64(e.PrimaryID))
		payloads = append(payloads, string(payload))
	}
	query := `
		INSERT INTO contact_events (event_id, event_type, contact_id, primary_id, payload, created_at)
		SELECT e.event_id, e.event_type, e.contact_id, e.primary_id, e.payload, $6
		FROM unnest($1::uuid[], $2::text[], $3::bigint[], $4::bigint[], $5::jsonb[])
			AS e(event_id, event_type, contact_id, primary_id, payload)
	`
	_, err := t.tx.ExecContext(ctx, query,
		pq.Array(ids),
		pq.Array(types),
		pq.Array(contactIDs),
		pq.Array(primaryIDs),
		pq.Array(payloads),
		t.clock(),
	)
	if err != nil {
		return classify(err, "append contact events")
	}
	return nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryContacts(ctx context.Context, q queryer, query string, args ...any) ([]models.Contact, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	contacts := make([]models.Contact, 0)
	for rows.Next() {
		var (
			c          models.Contact
			id         int64
			email      sql.NullString
			phone      sql.NullString
			linkedID   sql.NullInt64
			precedence string
			deletedAt  sql.NullTime
		)
		if err := rows.Scan(&id, &email, &phone, &linkedID, &precedence, &c.CreatedAt, &c.UpdatedAt, &deletedAt); err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		c.ID = models.ContactID(id)
		c.Email = email.String
		c.PhoneNumber = phone.String
		c.LinkedID = models.ContactID(linkedID.Int64)
		c.LinkPrecedence = models.LinkPrecedence(precedence)
		if !c.LinkPrecedence.IsValid() {
			return nil, dErrors.New(dErrors.CodeInvariantViolation, fmt.Sprintf("contact %d has unknown link precedence %q", id, precedence))
		}
		if deletedAt.Valid {
			t := deletedAt.Time
			c.DeletedAt = &t
		}
		contacts = append(contacts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return contacts, nil
}

func nullID(id models.ContactID) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(id), Valid: !id.IsZero()}
}

// classify maps driver errors onto sentinel and domain errors, keeping the
// cause in the chain.
func classify(err error, action string) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable:
			return fmt.Errorf("%s: %w: %w", action, sentinel.ErrConflict, err)
		case codeForeignKeyViolation:
			return fmt.Errorf("%s: %w: %w", action, sentinel.ErrNotFound, err)
		case codeCheckViolation:
			return dErrors.Wrap(err, dErrors.CodeInvariantViolation, action+": constraint violated")
		}
	}
	return fmt.Errorf("%s: %w", action, err)
}
