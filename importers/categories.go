package importers

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aluiziolira/go-catalog-migrator/client"
	"github.com/aluiziolira/go-catalog-migrator/models"
	"github.com/aluiziolira/go-catalog-migrator/parser"
	"github.com/aluiziolira/go-catalog-migrator/pipeline"
	"github.com/aluiziolira/go-catalog-migrator/store"
)

// CategoryStrategy imports product categories parents first. The whole
// source tree is loaded on the first fetch and served from memory, so it
// must run with concurrency 1.
type CategoryStrategy struct {
	deps Deps

	mu     sync.Mutex
	sorted []models.Category
	loaded bool
}

// NewCategoryStrategy builds the category strategy.
func NewCategoryStrategy(deps Deps) *CategoryStrategy {
	return &CategoryStrategy{deps: deps}
}

func (s *CategoryStrategy) Entity() string { return Categories }

func (s *CategoryStrategy) ExternalID(c models.Category) string { return parser.ExternalID(c.ID) }

func (s *CategoryStrategy) Fetch(ctx context.Context, page, perPage int) (client.Page[models.Category], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		var all []models.Category
		for p := 1; ; p++ {
			result, err := s.deps.Commerce.Categories(ctx, p, s.deps.Config.Import.BatchSizes.Categories)
			if err != nil {
				return client.Page[models.Category]{}, err
			}
			all = append(all, result.Items...)
			if len(result.Items) == 0 || !result.HasMore() {
				break
			}
		}
		s.sorted = SortByHierarchy(all)
		s.loaded = true
		slog.Info("categories loaded", slog.Int("count", len(s.sorted)))
	}
	return pageOf(s.sorted, page, perPage), nil
}

func (s *CategoryStrategy) Process(ctx context.Context, c models.Category, existing *store.Record, dryRun bool) (pipeline.Result, error) {
	id := parser.ExternalID(c.ID)
	name := parser.DecodeText(c.Name)
	slug := parser.NormalizeSlug(c.Slug, name)
	if slug == "" {
		slug = "category"
	}

	payload := map[string]any{
		"Title":           name,
		"Slug":            fmt.Sprintf("%s-%d", slug, c.ID),
		"external_id":     id,
		"external_source": sourceCommerce,
	}
	if c.Parent > 0 {
		if parentID, ok := s.deps.mappedID(Categories, c.Parent); ok {
			payload["parent"] = parentID
		} else {
			slog.Warn("parent category not imported, importing as root",
				slog.Int("category", c.ID),
				slog.Int("parent", c.Parent),
			)
		}
	}
	meta := map[string]any{"name": name, "slug": slug, "parent": c.Parent}

	keys := []client.Key{{Field: "external_id", Value: id}}
	if dryRun {
		found, ok, err := s.deps.Destination.FindAny(ctx, collCategories, keys)
		if err != nil {
			return pipeline.Result{}, fmt.Errorf("find category: %w", err)
		}
		if ok {
			return pipeline.Result{Outcome: pipeline.Skipped, InternalID: found.ID, Metadata: meta, Reason: "exists in destination"}, nil
		}
		slog.Info("dry run: would import category", slog.Int("id", c.ID), slog.String("name", name))
		return pipeline.Result{Outcome: pipeline.Created, Metadata: meta}, nil
	}

	entry, created, err := s.deps.Destination.FindOrCreate(ctx, collCategories, keys, payload)
	if err != nil {
		return pipeline.Result{}, fmt.Errorf("upsert category: %w", err)
	}
	if !created {
		return pipeline.Result{Outcome: pipeline.Skipped, InternalID: entry.ID, Metadata: meta, Reason: "exists in destination"}, nil
	}

	if desc := parser.StripHTML(c.Description); desc != "" {
		contentPayload := map[string]any{
			"Title":            name + " Description",
			"Paragraph":        desc,
			"IsPublished":      true,
			"product_category": entry.ID,
		}
		if _, err := s.deps.Destination.Create(ctx, collCategoryContents, contentPayload); err != nil {
			slog.Warn("category content not created",
				slog.Int("category", c.ID),
				slog.Any("error", err),
			)
		}
	}
	return pipeline.Result{Outcome: pipeline.Created, InternalID: entry.ID, Metadata: meta}, nil
}

// SortByHierarchy orders categories so that every parent precedes its
// children. Categories whose parent is absent are treated as roots. Members
// of a parent cycle are appended in input order.
func SortByHierarchy(categories []models.Category) []models.Category {
	byID := make(map[int]models.Category, len(categories))
	for _, c := range categories {
		byID[c.ID] = c
	}

	children := make(map[int][]models.Category)
	var roots []models.Category
	for _, c := range categories {
		if _, ok := byID[c.Parent]; c.Parent == 0 || c.Parent == c.ID || !ok {
			roots = append(roots, c)
			continue
		}
		children[c.Parent] = append(children[c.Parent], c)
	}

	out := make([]models.Category, 0, len(categories))
	visited := make(map[int]bool, len(categories))
	var walk func(c models.Category)
	walk = func(c models.Category) {
		if visited[c.ID] {
			return
		}
		visited[c.ID] = true
		out = append(out, c)
		for _, child := range children[c.ID] {
			walk(child)
		}
	}
	for _, root := range roots {
		walk(root)
	}

	for _, c := range categories {
		if !visited[c.ID] {
			slog.Warn("category in parent cycle", slog.Int("category", c.ID), slog.Int("parent", c.Parent))
			walk(c)
		}
	}
	return out
}
