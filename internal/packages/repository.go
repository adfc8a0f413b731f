// Package packages manages the catalog of purchasable credit packages.
package packages

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/sketchsage/server/internal/config"
	"github.com/sketchsage/server/internal/metrics"
)

// ErrPackageNotFound is returned when a credit package doesn't exist.
var ErrPackageNotFound = errors.New("package not found")

// Package is a purchasable bundle of evaluation credits. Prices are stored in
// minor units (cents / kuruş) to avoid floating point.
type Package struct {
	ID               string
	Name             string
	Credits          int
	PriceUSD         int64
	PriceTRY         int64
	StripePriceIDUSD string
	StripePriceIDTRY string
	Active           bool
	DisplayOrder     int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// PriceFor returns the price and Stripe price ID for a currency.
// Supported currencies are "usd" and "try".
func (p Package) PriceFor(currency string) (int64, string, bool) {
	switch currency {
	case "usd":
		return p.PriceUSD, p.StripePriceIDUSD, p.StripePriceIDUSD != ""
	case "try":
		return p.PriceTRY, p.StripePriceIDTRY, p.StripePriceIDTRY != ""
	default:
		return 0, "", false
	}
}

// Repository defines the interface for package catalog storage.
type Repository interface {
	// GetPackage retrieves a package by ID, active or not.
	GetPackage(ctx context.Context, id string) (Package, error)

	// ListPackages returns all active packages ordered by display_order.
	ListPackages(ctx context.Context) ([]Package, error)

	// ListAllPackages returns every package including inactive ones (admin view).
	ListAllPackages(ctx context.Context) ([]Package, error)

	// CreatePackage creates a new package.
	CreatePackage(ctx context.Context, pkg Package) error

	// UpdatePackage updates an existing package.
	UpdatePackage(ctx context.Context, pkg Package) error

	// DeletePackage soft-deletes a package (sets active = false).
	DeletePackage(ctx context.Context, id string) error

	// Close closes any open connections.
	Close() error
}

// NewRepository creates a package repository based on the database config.
func NewRepository(cfg config.DatabaseConfig, m *metrics.Metrics) (Repository, error) {
	return NewRepositoryWithDB(cfg, nil, m)
}

// NewRepositoryWithDB creates a package repository with an optional shared
// database pool. If sharedDB is non-nil for the postgres backend, it is used
// instead of opening a new connection.
func NewRepositoryWithDB(cfg config.DatabaseConfig, sharedDB *sql.DB, m *metrics.Metrics) (Repository, error) {
	var underlying Repository
	var err error

	switch cfg.Backend {
	case "postgres":
		if sharedDB != nil {
			underlying, err = NewPostgresRepositoryWithDB(sharedDB, m)
		} else {
			if cfg.PostgresURL == "" {
				return nil, errors.New("postgres_url required for postgres backend")
			}
			underlying, err = NewPostgresRepository(cfg.PostgresURL, cfg.PostgresPool, m)
		}
	case "mongodb":
		if cfg.MongoDBURL == "" {
			return nil, errors.New("mongodb_url required for mongodb backend")
		}
		database := cfg.MongoDBDatabase
		if database == "" {
			database = "sketchsage"
		}
		underlying, err = NewMongoDBRepository(cfg.MongoDBURL, database, m)
	case "memory", "":
		underlying = NewMemoryRepository()
	default:
		return nil, errors.New("unknown database backend: " + cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	if cfg.PackageCacheTTL.Duration > 0 {
		return NewCachedRepository(underlying, cfg.PackageCacheTTL.Duration), nil
	}
	return underlying, nil
}
