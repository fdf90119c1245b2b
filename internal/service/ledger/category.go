package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/program-ledger/internal/domain"
	"github.com/josh-kwaku/program-ledger/internal/logging"
	"github.com/josh-kwaku/program-ledger/internal/repository"
)

// CategorySeed describes one category by slug. An empty ParentSlug means
// the category hangs directly off cash.
type CategorySeed struct {
	Slug       string
	Name       string
	ParentSlug string
}

func (s *Service) ListCategories(ctx context.Context) ([]domain.ValueCategory, error) {
	tree, err := s.categories.Tree(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListCategories: %w", err)
	}
	return tree.All(), nil
}

// SeedCategories inserts or renames categories. Seeds must list parents
// before their children. The whole set is checked against the existing
// tree before anything is written, and the writes share one transaction:
// either every seed lands or none does.
func (s *Service) SeedCategories(ctx context.Context, seeds []CategorySeed) ([]domain.ValueCategory, error) {
	var out []domain.ValueCategory
	err := s.db.WithTx(ctx, repository.RepeatableRead, func(tx *sql.Tx) error {
		out = nil
		existing, err := s.categories.ListTx(ctx, tx)
		if err != nil {
			return err
		}
		changed, err := mergeSeeds(existing, seeds, s.now())
		if err != nil {
			return err
		}
		for _, c := range changed {
			if err := s.categories.Upsert(ctx, tx, &c); err != nil {
				return err
			}
			out = append(out, c)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("SeedCategories: %w", err)
	}

	logging.FromContext(ctx).Info("categories seeded", "count", len(out))
	return out, nil
}

// mergeSeeds applies seeds on top of existing and returns the categories
// that need writing, after checking the merged set still forms a tree.
func mergeSeeds(existing []domain.ValueCategory, seeds []CategorySeed, now time.Time) ([]domain.ValueCategory, error) {
	bySlug := make(map[string]int, len(existing)+len(seeds))
	merged := append([]domain.ValueCategory(nil), existing...)
	for i, c := range merged {
		bySlug[c.Slug] = i
	}

	var changed []int
	for _, seed := range seeds {
		slug := strings.TrimSpace(seed.Slug)
		if err := domain.ValidateCategorySlug(slug); err != nil {
			return nil, err
		}
		if slug == domain.CashCategorySlug {
			return nil, fmt.Errorf("%q is built in: %w", slug, domain.ErrInvalidRequest)
		}

		parentSlug := seed.ParentSlug
		if parentSlug == "" {
			parentSlug = domain.CashCategorySlug
		}
		pi, ok := bySlug[parentSlug]
		if !ok {
			return nil, fmt.Errorf("parent %q of %q: %w", parentSlug, slug, domain.ErrUnknownCategory)
		}
		parentID := merged[pi].ID

		name := seed.Name
		if name == "" {
			name = slug
		}

		if i, ok := bySlug[slug]; ok {
			merged[i].Name = name
			merged[i].ParentID = &parentID
			changed = append(changed, i)
			continue
		}
		merged = append(merged, domain.ValueCategory{
			ID:        uuid.New(),
			Slug:      slug,
			Name:      name,
			ParentID:  &parentID,
			CreatedAt: now,
		})
		bySlug[slug] = len(merged) - 1
		changed = append(changed, len(merged)-1)
	}

	if _, err := domain.NewCategoryTree(merged); err != nil {
		return nil, err
	}

	out := make([]domain.ValueCategory, 0, len(changed))
	for _, i := range changed {
		out = append(out, merged[i])
	}
	return out, nil
}
