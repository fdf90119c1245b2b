package domain

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

const CashCategorySlug = "cash"

var CashCategoryID = uuid.MustParse("00000000-0000-0000-0000-00000000ca5f")

var slugPattern = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

type ValueCategory struct {
	ID        uuid.UUID
	Slug      string
	Name      string
	ParentID  *uuid.UUID
	CreatedAt time.Time
}

func (c ValueCategory) IsCash() bool { return c.Slug == CashCategorySlug }

func ValidateCategorySlug(slug string) error {
	if !slugPattern.MatchString(slug) {
		return fmt.Errorf("ValidateCategorySlug: %q: %w", slug, ErrInvalidRequest)
	}
	return nil
}

// CategoryTree is an immutable, validated view of all value categories.
// Every category descends from cash.
type CategoryTree struct {
	byID   map[uuid.UUID]ValueCategory
	bySlug map[string]uuid.UUID
	cash   ValueCategory
}

func NewCategoryTree(categories []ValueCategory) (*CategoryTree, error) {
	t := &CategoryTree{
		byID:   make(map[uuid.UUID]ValueCategory, len(categories)),
		bySlug: make(map[string]uuid.UUID, len(categories)),
	}
	var roots int
	for _, c := range categories {
		if _, dup := t.bySlug[c.Slug]; dup {
			return nil, fmt.Errorf("NewCategoryTree: duplicate slug %q: %w", c.Slug, ErrInvalidRequest)
		}
		t.byID[c.ID] = c
		t.bySlug[c.Slug] = c.ID
		if c.ParentID == nil {
			roots++
			t.cash = c
		}
	}
	if roots != 1 || !t.cash.IsCash() {
		return nil, fmt.Errorf("NewCategoryTree: tree must have exactly one root named %q: %w", CashCategorySlug, ErrInvalidRequest)
	}

	for _, c := range categories {
		seen := map[uuid.UUID]bool{c.ID: true}
		for cur := c; cur.ParentID != nil; {
			parent, ok := t.byID[*cur.ParentID]
			if !ok {
				return nil, fmt.Errorf("NewCategoryTree: %q has unknown parent: %w", cur.Slug, ErrUnknownCategory)
			}
			if seen[parent.ID] {
				return nil, fmt.Errorf("NewCategoryTree: cycle through %q: %w", parent.Slug, ErrInvalidRequest)
			}
			seen[parent.ID] = true
			cur = parent
		}
	}
	return t, nil
}

func (t *CategoryTree) Cash() ValueCategory { return t.cash }

func (t *CategoryTree) Get(id uuid.UUID) (ValueCategory, bool) {
	c, ok := t.byID[id]
	return c, ok
}

func (t *CategoryTree) BySlug(slug string) (ValueCategory, bool) {
	id, ok := t.bySlug[slug]
	if !ok {
		return ValueCategory{}, false
	}
	return t.byID[id], true
}

// Resolve maps slugs to categories, failing on the first unknown slug.
func (t *CategoryTree) Resolve(slugs ...string) ([]ValueCategory, error) {
	out := make([]ValueCategory, 0, len(slugs))
	for _, s := range slugs {
		c, ok := t.BySlug(strings.TrimSpace(s))
		if !ok {
			return nil, fmt.Errorf("Resolve: %q: %w", s, ErrUnknownCategory)
		}
		out = append(out, c)
	}
	return out, nil
}

// Ancestry returns id followed by each ancestor up to cash.
func (t *CategoryTree) Ancestry(id uuid.UUID) []ValueCategory {
	var chain []ValueCategory
	c, ok := t.byID[id]
	for ok {
		chain = append(chain, c)
		if c.ParentID == nil {
			break
		}
		c, ok = t.byID[*c.ParentID]
	}
	return chain
}

// Distance reports how many parent hops separate charge from eligible.
// ok is false when eligible is neither charge nor one of its ancestors.
func (t *CategoryTree) Distance(eligible, charge uuid.UUID) (int, bool) {
	for i, c := range t.Ancestry(charge) {
		if c.ID == eligible {
			return i, true
		}
	}
	return 0, false
}

func (t *CategoryTree) All() []ValueCategory {
	out := make([]ValueCategory, 0, len(t.byID))
	for _, c := range t.byID {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		di, dj := len(t.Ancestry(out[i].ID)), len(t.Ancestry(out[j].ID))
		if di != dj {
			return di < dj
		}
		return out[i].Slug < out[j].Slug
	})
	return out
}

// CategorySignature is the canonical key for a ledger's eligible set.
func CategorySignature(categories []ValueCategory) string {
	slugs := make([]string, 0, len(categories))
	for _, c := range categories {
		slugs = append(slugs, c.Slug)
	}
	sort.Strings(slugs)
	return strings.Join(slugs, "+")
}
