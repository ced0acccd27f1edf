//go:build integration

// Package containers starts the backing services integration tests run against.
// Containers are shared across suites in a test binary and reaped by Ryuk.
package containers

import (
	"sync"
	"testing"
)

// Manager hands out lazily started, process-wide containers.
type Manager struct {
	pgOnce    sync.Once
	postgres  *PostgresContainer
	pgErr     error
	redisOnce sync.Once
	redis     *RedisContainer
	redisErr  error
	kafkaOnce sync.Once
	kafka     *KafkaContainer
	kafkaErr  error
}

var (
	managerOnce sync.Once
	manager     *Manager
)

// GetManager returns the shared container manager.
func GetManager() *Manager {
	managerOnce.Do(func() {
		manager = &Manager{}
	})
	return manager
}

// GetPostgres starts PostgreSQL on first use and returns the shared instance.
func (m *Manager) GetPostgres(t *testing.T) *PostgresContainer {
	t.Helper()
	m.pgOnce.Do(func() {
		m.postgres, m.pgErr = startPostgres()
	})
	if m.pgErr != nil {
		t.Fatalf("postgres container unavailable: %v", m.pgErr)
	}
	return m.postgres
}

// GetRedis starts Redis on first use and returns the shared instance.
func (m *Manager) GetRedis(t *testing.T) *RedisContainer {
	t.Helper()
	m.redisOnce.Do(func() {
		m.redis, m.redisErr = startRedis()
	})
	if m.redisErr != nil {
		t.Fatalf("redis container unavailable: %v", m.redisErr)
	}
	return m.redis
}

// GetKafka starts a Redpanda broker on first use and returns the shared instance.
func (m *Manager) GetKafka(t *testing.T) *KafkaContainer {
	t.Helper()
	m.kafkaOnce.Do(func() {
		m.kafka, m.kafkaErr = startKafka()
	})
	if m.kafkaErr != nil {
		t.Fatalf("kafka container unavailable: %v", m.kafkaErr)
	}
	return m.kafka
}
