//go:build integration

package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"idresolve/internal/contact/events"
	"idresolve/internal/contact/models"
	"idresolve/internal/contact/service"
	"idresolve/internal/contact/store"
	"idresolve/internal/platform/postgres"
	"idresolve/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.PostgresStore
	service  *service.Service
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())

	_, err := postgres.Migrate(context.Background(), s.postgres.DB, store.Migrations, "migrations")
	s.Require().NoError(err)

	s.store = store.NewPostgres(s.postgres.DB, store.WithLockTimeout(5*time.Second))
	s.service, err = service.New(s.store, service.WithRetry(service.RetryPolicy{
		MaxAttempts:     10,
		InitialInterval: 5 * time.Millisecond,
		MaxInterval:     50 * time.Millisecond,
	}))
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(), "contact_events", "contacts")
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) TestMigrateIsIdempotent() {
	applied, err := postgres.Migrate(context.Background(), s.postgres.DB, store.Migrations, "migrations")
	s.Require().NoError(err)
	s.Empty(applied)
}

func (s *PostgresStoreSuite) TestOldestPrimaryWins() {
	ctx := context.Background()

	_, err := s.service.Identify(ctx, "george@hillvalley.edu", "919191")
	s.Require().NoError(err)
	_, err = s.service.Identify(ctx, "biffsucks@hillvalley.edu", "717171")
	s.Require().NoError(err)

	merged, err := s.service.Identify(ctx, "george@hillvalley.edu", "717171")
	s.Require().NoError(err)
	s.Equal([]string{"george@hillvalley.edu", "biffsucks@hillvalley.edu"}, merged.Emails)
	s.Equal([]string{"919191", "717171"}, merged.PhoneNumbers)
	s.Len(merged.SecondaryIDs, 1)

	cluster, err := s.store.FindCluster(ctx, merged.SecondaryIDs[0])
	s.Require().NoError(err)
	s.Require().Len(cluster, 2)
	s.Equal(merged.PrimaryID, cluster[1].LinkedID)
	s.Equal(models.PrecedenceSecondary, cluster[1].LinkPrecedence)
}

// TestConcurrentNewAttribute fires the same new phone at one cluster from many
// goroutines; exactly one secondary must be written.
func (s *PostgresStoreSuite) TestConcurrentNewAttribute() {
	ctx := context.Background()
	first, err := s.service.Identify(ctx, "a@example.com", "1")
	s.Require().NoError(err)

	const goroutines = 50
	var wg sync.WaitGroup
	errs := make(chan error, goroutines)
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.service.Identify(ctx, "a@example.com", "2")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		s.Require().NoError(err)
	}

	cluster, err := s.store.FindCluster(ctx, first.PrimaryID)
	s.Require().NoError(err)
	s.Len(cluster, 2, "exactly one secondary for the new phone")
}

// TestConcurrentBridges merges two clusters from both sides at once through
// observations that share no attribute.
func (s *PostgresStoreSuite) TestConcurrentBridges() {
	ctx := context.Background()
	a, err := s.service.Identify(ctx, "a@example.com", "1")
	s.Require().NoError(err)
	_, err = s.service.Identify(ctx, "b@example.com", "2")
	s.Require().NoError(err)

	var wg sync.WaitGroup
	for _, obs := range [][2]string{{"a@example.com", "2"}, {"b@example.com", "1"}} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.service.Identify(ctx, obs[0], obs[1])
			s.NoError(err)
		}()
	}
	wg.Wait()

	cluster, err := s.store.FindCluster(ctx, a.PrimaryID)
	s.Require().NoError(err)
	s.Len(cluster, 2)
	s.True(cluster[0].IsPrimary())
	s.Equal(a.PrimaryID, cluster[0].ID)
	s.Equal(a.PrimaryID, cluster[1].LinkedID)
}

func (s *PostgresStoreSuite) TestOutboxDrain() {
	ctx := context.Background()
	_, err := s.service.Identify(ctx, "a@example.com", "1")
	s.Require().NoError(err)
	_, err = s.service.Identify(ctx, "b@example.com", "1")
	s.Require().NoError(err)

	var types []events.Type
	n, err := s.store.Drain(ctx, 10, func(_ context.Context, batch []events.Pending) error {
		for _, p := range batch {
			types = append(types, p.Event.Type)
		}
		return nil
	})
	s.Require().NoError(err)
	s.Equal(2, n)
	s.Equal([]events.Type{events.TypeCreated, events.TypeCreated}, types)

	n, err = s.store.Drain(ctx, 10, func(context.Context, []events.Pending) error { return nil })
	s.Require().NoError(err)
	s.Zero(n)
}
