package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/josh-kwaku/program-ledger/internal/app"
	"github.com/josh-kwaku/program-ledger/internal/domain"
	"github.com/josh-kwaku/program-ledger/internal/service/ledger"
)

// categoryNode is one entry of a category seed file. Top-level nodes hang
// off cash.
type categoryNode struct {
	Slug     string         `yaml:"slug"`
	Name     string         `yaml:"name"`
	Children []categoryNode `yaml:"children"`
}

type categoryFile struct {
	Categories []categoryNode `yaml:"categories"`
}

// parseCategoryFile flattens a nested seed file parent-first.
func parseCategoryFile(data []byte) ([]ledger.CategorySeed, error) {
	var f categoryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing category file: %w", err)
	}
	if len(f.Categories) == 0 {
		return nil, fmt.Errorf("category file lists no categories: %w", domain.ErrInvalidRequest)
	}

	var seeds []ledger.CategorySeed
	seen := make(map[string]bool)
	var walk func(parent string, nodes []categoryNode) error
	walk = func(parent string, nodes []categoryNode) error {
		for _, n := range nodes {
			if n.Slug == "" {
				return fmt.Errorf("category under %q has no slug: %w", parent, domain.ErrInvalidRequest)
			}
			if seen[n.Slug] {
				return fmt.Errorf("category %q listed twice: %w", n.Slug, domain.ErrInvalidRequest)
			}
			seen[n.Slug] = true
			seeds = append(seeds, ledger.CategorySeed{Slug: n.Slug, Name: n.Name, ParentSlug: parent})
			if err := walk(n.Slug, n.Children); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk("", f.Categories); err != nil {
		return nil, err
	}
	return seeds, nil
}

func newCategoriesCommand(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "categories",
		Short: "Manage value categories",
	}
	cmd.AddCommand(newCategoriesSeedCommand(g), newCategoriesListCommand(g))
	return cmd
}

func newCategoriesSeedCommand(g *globals) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create or rename categories from a YAML tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading %s: %w", file, err)
			}
			seeds, err := parseCategoryFile(data)
			if err != nil {
				return err
			}
			return g.run(cmd, func(ctx context.Context, a *app.App) error {
				changed, err := a.Ledgers.SeedCategories(ctx, seeds)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d categories created or updated\n", len(changed))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&file, "file", "categories.yaml", "category seed file")
	return cmd
}

func newCategoriesListCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print the category tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.run(cmd, func(ctx context.Context, a *app.App) error {
				tree, err := a.Ledgers.Tree(ctx)
				if err != nil {
					return err
				}
				tw := newTable(cmd.OutOrStdout())
				fmt.Fprintln(tw, "SLUG\tNAME\tDEPTH\tID")
				for _, c := range tree.All() {
					fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", c.Slug, c.Name, len(tree.Ancestry(c.ID))-1, c.ID)
				}
				return tw.Flush()
			})
		},
	}
}
