package packages

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/sketchsage/server/internal/config"
	"github.com/sketchsage/server/internal/metrics"
)

// PostgresRepository stores the package catalog in PostgreSQL.
type PostgresRepository struct {
	db      *sql.DB
	ownsDB  bool
	metrics *metrics.Metrics
}

const queryTimeout = 10 * time.Second

func withQueryTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, queryTimeout)
}

// NewPostgresRepository opens a new connection pool and creates the table.
func NewPostgresRepository(connectionString string, poolConfig config.PostgresPoolConfig, m *metrics.Metrics) (*PostgresRepository, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	config.ApplyPostgresPoolSettings(db, poolConfig)

	repo := &PostgresRepository{db: db, ownsDB: true, metrics: m}
	if err := repo.createTable(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

// NewPostgresRepositoryWithDB reuses an existing connection pool.
func NewPostgresRepositoryWithDB(db *sql.DB, m *metrics.Metrics) (*PostgresRepository, error) {
	repo := &PostgresRepository{db: db, ownsDB: false, metrics: m}
	if err := repo.createTable(); err != nil {
		return nil, err
	}
	return repo, nil
}

func (r *PostgresRepository) createTable() error {
	schema := `
		CREATE TABLE IF NOT EXISTS credit_packages (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			credits INTEGER NOT NULL CHECK (credits > 0),
			price_usd BIGINT NOT NULL DEFAULT 0,
			price_try BIGINT NOT NULL DEFAULT 0,
			stripe_price_id_usd TEXT NOT NULL DEFAULT '',
			stripe_price_id_try TEXT NOT NULL DEFAULT '',
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			display_order INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);
	`
	if _, err := r.db.Exec(schema); err != nil {
		return fmt.Errorf("create credit_packages table: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Close() error {
	if r.ownsDB {
		return r.db.Close()
	}
	return nil
}

const packageColumns = `id, name, credits, price_usd, price_try,
	stripe_price_id_usd, stripe_price_id_try, is_active, display_order, created_at, updated_at`

func (r *PostgresRepository) GetPackage(ctx context.Context, id string) (Package, error) {
	defer metrics.MeasureDBQuery(r.metrics, "get_package", "postgres")()

	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	var pkg Package
	err := r.db.QueryRowContext(ctx,
		`SELECT `+packageColumns+` FROM credit_packages WHERE id = $1`, id,
	).Scan(&pkg.ID, &pkg.Name, &pkg.Credits, &pkg.PriceUSD, &pkg.PriceTRY,
		&pkg.StripePriceIDUSD, &pkg.StripePriceIDTRY, &pkg.Active, &pkg.DisplayOrder,
		&pkg.CreatedAt, &pkg.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Package{}, ErrPackageNotFound
	}
	if err != nil {
		return Package{}, fmt.Errorf("scan package: %w", err)
	}
	return pkg, nil
}

func (r *PostgresRepository) ListPackages(ctx context.Context) ([]Package, error) {
	return r.query(ctx,
		`SELECT `+packageColumns+` FROM credit_packages WHERE is_active ORDER BY display_order, id`)
}

func (r *PostgresRepository) ListAllPackages(ctx context.Context) ([]Package, error) {
	return r.query(ctx,
		`SELECT `+packageColumns+` FROM credit_packages ORDER BY display_order, id`)
}

func (r *PostgresRepository) query(ctx context.Context, q string) ([]Package, error) {
	defer metrics.MeasureDBQuery(r.metrics, "list_packages", "postgres")()

	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list packages: %w", err)
	}
	defer rows.Close()

	var out []Package
	for rows.Next() {
		var pkg Package
		if err := rows.Scan(&pkg.ID, &pkg.Name, &pkg.Credits, &pkg.PriceUSD, &pkg.PriceTRY,
			&pkg.StripePriceIDUSD, &pkg.StripePriceIDTRY, &pkg.Active, &pkg.DisplayOrder,
			&pkg.CreatedAt, &pkg.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan package: %w", err)
		}
		out = append(out, pkg)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) CreatePackage(ctx context.Context, pkg Package) error {
	defer metrics.MeasureDBQuery(r.metrics, "create_package", "postgres")()

	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO credit_packages (id, name, credits, price_usd, price_try,
			stripe_price_id_usd, stripe_price_id_try, is_active, display_order, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, pkg.ID, pkg.Name, pkg.Credits, pkg.PriceUSD, pkg.PriceTRY,
		pkg.StripePriceIDUSD, pkg.StripePriceIDTRY, pkg.Active, pkg.DisplayOrder,
		pkg.CreatedAt.UTC(), pkg.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert package: %w", err)
	}
	return nil
}

func (r *PostgresRepository) UpdatePackage(ctx context.Context, pkg Package) error {
	defer metrics.MeasureDBQuery(r.metrics, "update_package", "postgres")()

	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	result, err := r.db.ExecContext(ctx, `
		UPDATE credit_packages
		SET name = $1, credits = $2, price_usd = $3, price_try = $4,
		    stripe_price_id_usd = $5, stripe_price_id_try = $6,
		    is_active = $7, display_order = $8, updated_at = $9
		WHERE id = $10
	`, pkg.Name, pkg.Credits, pkg.PriceUSD, pkg.PriceTRY,
		pkg.StripePriceIDUSD, pkg.StripePriceIDTRY, pkg.Active, pkg.DisplayOrder,
		time.Now().UTC(), pkg.ID)
	if err != nil {
		return fmt.Errorf("update package: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrPackageNotFound
	}
	return nil
}

func (r *PostgresRepository) DeletePackage(ctx context.Context, id string) error {
	defer metrics.MeasureDBQuery(r.metrics, "delete_package", "postgres")()

	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	result, err := r.db.ExecContext(ctx,
		`UPDATE credit_packages SET is_active = FALSE, updated_at = $1 WHERE id = $2`,
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("deactivate package: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrPackageNotFound
	}
	return nil
}
