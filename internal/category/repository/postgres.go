package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"fleet-control-plane/internal/category/domain"
	"fleet-control-plane/internal/db"
)

// PostgresRepository implements Repository using Postgres.
type PostgresRepository struct {
	q db.Querier
}

// NewPostgresRepository returns a category repository backed by q.
func NewPostgresRepository(q db.Querier) *PostgresRepository {
	return &PostgresRepository{q: q}
}

type categoryRow struct {
	Slug        string `db:"slug"`
	DisplayName string `db:"display_name"`
	IsSystem    bool   `db:"is_system"`
	Fields      []byte `db:"fields"`
}

// GetBySlug matches slugs case-insensitively.
func (r *PostgresRepository) GetBySlug(ctx context.Context, slug string) (*domain.Category, error) {
	var row categoryRow
	err := sqlx.GetContext(ctx, r.q, &row,
		`SELECT slug, display_name, is_system, fields FROM device_categories WHERE slug = $1`,
		strings.ToLower(strings.TrimSpace(slug)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	c := &domain.Category{Slug: row.Slug, DisplayName: row.DisplayName, IsSystem: row.IsSystem}
	if len(row.Fields) > 0 {
		if err := json.Unmarshal(row.Fields, &c.Fields); err != nil {
			return nil, fmt.Errorf("decode fields of category %q: %w", row.Slug, err)
		}
	}
	return c, nil
}

// Upsert stores c. Used by the seed command.
func (r *PostgresRepository) Upsert(ctx context.Context, c *domain.Category) error {
	fields, err := db.JSONParam(c.Fields)
	if err != nil {
		return err
	}
	if fields == nil {
		fields = "[]"
	}
	_, err = r.q.ExecContext(ctx,
		`INSERT INTO device_categories (slug, display_name, is_system, fields)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (slug) DO UPDATE SET display_name = EXCLUDED.display_name, fields = EXCLUDED.fields`,
		c.Slug, c.DisplayName, c.IsSystem, fields)
	return err
}
