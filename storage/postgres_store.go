package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"

	"price-aggregator/models"
)

// PostgresStore persists marketplace definitions to PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection to PostgreSQL, waits for it to accept
// connections, runs schema migrations, and returns a ready-to-use store.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	for i := 0; i < 10; i++ {
		if err = db.PingContext(ctx); err == nil {
			break
		}
		select {
		case <-ctx.Done():
			_ = db.Close()
			return nil, fmt.Errorf("postgres: ping: %w", ctx.Err())
		case <-time.After(2 * time.Second):
		}
	}
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping failed after retries: %w", err)
	}

	ps := &PostgresStore{db: db}
	if err := ps.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}

	return ps, nil
}

func (ps *PostgresStore) migrate(ctx context.Context) error {
	_, err := ps.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS marketplaces (
			name        VARCHAR(32)   PRIMARY KEY,
			kind        VARCHAR(16)   NOT NULL,
			endpoint    TEXT          NOT NULL DEFAULT '',
			currency    VARCHAR(3)    NOT NULL DEFAULT '',
			reputation  NUMERIC(4,3)  NOT NULL DEFAULT 0,
			price       NUMERIC(14,4) NOT NULL DEFAULT 0,
			app_id      INTEGER       NOT NULL DEFAULT 0,
			fallback    BOOLEAN       NOT NULL DEFAULT FALSE,
			created_at  TIMESTAMPTZ   NOT NULL DEFAULT NOW(),
			updated_at  TIMESTAMPTZ   NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_marketplaces_kind ON marketplaces(kind);
	`)
	return err
}

// Save inserts def or replaces the stored definition with the same name.
func (ps *PostgresStore) Save(ctx context.Context, def models.Marketplace) error {
	_, err := ps.db.ExecContext(ctx, `
		INSERT INTO marketplaces (name, kind, endpoint, currency, reputation, price, app_id, fallback)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (name) DO UPDATE SET
			kind       = EXCLUDED.kind,
			endpoint   = EXCLUDED.endpoint,
			currency   = EXCLUDED.currency,
			reputation = EXCLUDED.reputation,
			price      = EXCLUDED.price,
			app_id     = EXCLUDED.app_id,
			fallback   = EXCLUDED.fallback,
			updated_at = NOW()
	`, def.Name, def.Kind, def.Endpoint, def.Currency, def.Reputation, def.Price.String(), def.AppID, def.Fallback)
	if err != nil {
		return fmt.Errorf("postgres: save %s: %w", def.Name, err)
	}
	return nil
}

// Delete removes the named definition and reports whether it existed.
func (ps *PostgresStore) Delete(ctx context.Context, name string) (bool, error) {
	res, err := ps.db.ExecContext(ctx, "DELETE FROM marketplaces WHERE name = $1", name)
	if err != nil {
		return false, fmt.Errorf("postgres: delete %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("postgres: delete %s: %w", name, err)
	}
	return n > 0, nil
}

// LoadAll retrieves every stored definition in creation order.
func (ps *PostgresStore) LoadAll(ctx context.Context) ([]models.Marketplace, error) {
	rows, err := ps.db.QueryContext(ctx, `
		SELECT name, kind, endpoint, currency, reputation, price, app_id, fallback
		FROM marketplaces
		ORDER BY created_at, name
	`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load marketplaces: %w", err)
	}
	defer rows.Close()

	var defs []models.Marketplace
	for rows.Next() {
		var (
			def   models.Marketplace
			price string
		)
		if err := rows.Scan(
			&def.Name, &def.Kind, &def.Endpoint, &def.Currency,
			&def.Reputation, &price, &def.AppID, &def.Fallback,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan row: %w", err)
		}
		if def.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("postgres: price of %s: %w", def.Name, err)
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

func (ps *PostgresStore) Close() error {
	return ps.db.Close()
}
