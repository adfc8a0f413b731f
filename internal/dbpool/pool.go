package dbpool

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/sketchsage/server/internal/config"
	"github.com/sketchsage/server/internal/metrics"
)

// SharedPool manages a single shared PostgreSQL connection pool. The account
// store and the package catalog both run on it, so one set of pool limits
// governs the whole server.
type SharedPool struct {
	db *sql.DB
}

// NewSharedPool opens and pings a shared PostgreSQL connection pool.
func NewSharedPool(connectionString string, poolConfig config.PostgresPoolConfig) (*SharedPool, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	config.ApplyPostgresPoolSettings(db, poolConfig)
	return &SharedPool{db: db}, nil
}

// DB returns the underlying *sql.DB for use by repositories.
func (p *SharedPool) DB() *sql.DB {
	return p.db
}

// Close closes the shared connection pool. Call once at shutdown.
func (p *SharedPool) Close() error {
	return p.db.Close()
}

// StartStatsReporter samples the pool's open connection count into the metrics
// gauge on a fixed interval. Call the returned stop function once at shutdown.
func (p *SharedPool) StartStatsReporter(m *metrics.Metrics, interval time.Duration) (stop func()) {
	return startStatsReporter(func() sql.DBStats { return p.db.Stats() }, m, interval)
}

func startStatsReporter(stats func() sql.DBStats, m *metrics.Metrics, interval time.Duration) (stop func()) {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		m.SetDBConnectionsActive(stats().OpenConnections)
		for {
			select {
			case <-ticker.C:
				m.SetDBConnectionsActive(stats().OpenConnections)
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }
}
