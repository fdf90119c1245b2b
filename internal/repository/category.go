package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/josh-kwaku/program-ledger/internal/domain"
)

const categoryColumns = `id, slug, name, parent_id, created_at`

type CategoryRepository struct {
	db *sql.DB
}

func NewCategoryRepository(db *sql.DB) *CategoryRepository {
	return &CategoryRepository{db: db}
}

// Upsert inserts the category or, if the slug exists, updates its name and
// parent. The stored id is written back into c.
func (r *CategoryRepository) Upsert(ctx context.Context, tx *sql.Tx, c *domain.ValueCategory) error {
	err := tx.QueryRowContext(ctx,
		`INSERT INTO value_categories (id, slug, name, parent_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (slug) DO UPDATE SET name = EXCLUDED.name, parent_id = EXCLUDED.parent_id
		RETURNING id, created_at`,
		c.ID, c.Slug, c.Name, c.ParentID, c.CreatedAt,
	).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("Upsert: parent of %q: %w", c.Slug, domain.ErrUnknownCategory)
		}
		return fmt.Errorf("Upsert: %w", err)
	}
	return nil
}

func (r *CategoryRepository) List(ctx context.Context) ([]domain.ValueCategory, error) {
	return r.list(ctx, r.db)
}

// ListTx reads the categories on the caller's transaction, so the read sees
// its snapshot and does not take a second pool connection.
func (r *CategoryRepository) ListTx(ctx context.Context, tx *sql.Tx) ([]domain.ValueCategory, error) {
	return r.list(ctx, tx)
}

func (r *CategoryRepository) list(ctx context.Context, q querier) ([]domain.ValueCategory, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+categoryColumns+` FROM value_categories ORDER BY created_at, slug`)
	if err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	defer rows.Close()

	var cats []domain.ValueCategory
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("List: scan: %w", err)
		}
		cats = append(cats, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("List: rows: %w", err)
	}
	return cats, nil
}

func (r *CategoryRepository) Tree(ctx context.Context) (*domain.CategoryTree, error) {
	return r.tree(ctx, r.db)
}

func (r *CategoryRepository) TreeTx(ctx context.Context, tx *sql.Tx) (*domain.CategoryTree, error) {
	return r.tree(ctx, tx)
}

func (r *CategoryRepository) tree(ctx context.Context, q querier) (*domain.CategoryTree, error) {
	cats, err := r.list(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("Tree: %w", err)
	}
	tree, err := domain.NewCategoryTree(cats)
	if err != nil {
		return nil, fmt.Errorf("Tree: %w", err)
	}
	return tree, nil
}

func scanCategory(s scanner) (*domain.ValueCategory, error) {
	var c domain.ValueCategory
	if err := s.Scan(&c.ID, &c.Slug, &c.Name, &c.ParentID, &c.CreatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}
