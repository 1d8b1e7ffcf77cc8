package importers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/aluiziolira/go-catalog-migrator/client"
	"github.com/aluiziolira/go-catalog-migrator/content"
	"github.com/aluiziolira/go-catalog-migrator/media"
	"github.com/aluiziolira/go-catalog-migrator/models"
	"github.com/aluiziolira/go-catalog-migrator/parser"
	"github.com/aluiziolira/go-catalog-migrator/pipeline"
	"github.com/aluiziolira/go-catalog-migrator/store"
	lru "github.com/hashicorp/golang-lru/v2"
)

const slugCacheSize = 4096

var errImportInProgress = errors.New("product import already in progress")

// ProductStrategy imports catalog products and upserts products that were
// imported before. It also resolves product references found in rich text,
// importing unmapped products on demand.
type ProductStrategy struct {
	deps     Deps
	category int

	slugs *lru.Cache[string, int]

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewProductStrategy builds the product strategy. A positive category
// restricts the listing to that source category.
func NewProductStrategy(deps Deps, category int) (*ProductStrategy, error) {
	slugs, err := lru.New[string, int](slugCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create slug cache: %w", err)
	}
	return &ProductStrategy{
		deps:     deps,
		category: category,
		slugs:    slugs,
		inFlight: make(map[string]struct{}),
	}, nil
}

func (s *ProductStrategy) Entity() string { return Products }

func (s *ProductStrategy) ExternalID(p models.Product) string { return parser.ExternalID(p.ID) }

func (s *ProductStrategy) UpdatesMapped() bool { return true }

func (s *ProductStrategy) Fetch(ctx context.Context, page, perPage int) (client.Page[models.Product], error) {
	return s.deps.Commerce.Products(ctx, page, perPage, client.ProductFilter{Category: s.category})
}

// Prepare reloads the slug index from the mapping store.
func (s *ProductStrategy) Prepare(ctx context.Context) error {
	s.slugs.Purge()
	for _, rec := range s.deps.Mappings.All(Products) {
		if slug := rec.String("slug"); slug != "" && rec.InternalID > 0 {
			s.slugs.Add(slug, rec.InternalID)
		}
	}
	return nil
}

func (s *ProductStrategy) Process(ctx context.Context, p models.Product, existing *store.Record, dryRun bool) (pipeline.Result, error) {
	return s.process(ctx, p, existing, 0, dryRun)
}

// Resolver returns the rich-text product resolver bound to dryRun.
func (s *ProductStrategy) Resolver(dryRun bool) content.Products {
	return productResolver{strategy: s, dryRun: dryRun}
}

// LookupSlug returns the destination id of an imported product.
func (s *ProductStrategy) LookupSlug(slug string) (int, bool) {
	if id, ok := s.slugs.Get(slug); ok {
		return id, true
	}
	for _, rec := range s.deps.Mappings.All(Products) {
		if rec.String("slug") == slug && rec.InternalID > 0 {
			s.slugs.Add(slug, rec.InternalID)
			return rec.InternalID, true
		}
	}
	return 0, false
}

// ImportSlug fetches a product by slug and imports it outside the page
// loop. depth is the nesting level of the reference being resolved.
func (s *ProductStrategy) ImportSlug(ctx context.Context, slug string, depth int) (int, error) {
	if depth > s.deps.Config.Content.MaxImportDepth {
		return 0, fmt.Errorf("import %q: depth %d exceeds limit", slug, depth)
	}

	s.mu.Lock()
	if _, busy := s.inFlight[slug]; busy {
		s.mu.Unlock()
		return 0, fmt.Errorf("import %q: %w", slug, errImportInProgress)
	}
	s.inFlight[slug] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.inFlight, slug)
		s.mu.Unlock()
	}()

	product, err := s.deps.Commerce.ProductBySlug(ctx, slug)
	if err != nil {
		return 0, err
	}
	id := parser.ExternalID(product.ID)
	if rec, ok := s.deps.Mappings.Get(Products, id); ok && rec.InternalID > 0 {
		s.slugs.Add(slug, rec.InternalID)
		return rec.InternalID, nil
	}

	result, err := s.process(ctx, product, nil, depth, false)
	if err != nil {
		return 0, err
	}
	if err := s.deps.Mappings.Record(Products, id, result.InternalID, result.Metadata); err != nil {
		return 0, fmt.Errorf("record mapping: %w", err)
	}
	s.slugs.Add(slug, result.InternalID)
	slog.Info("product imported on demand",
		slog.String("slug", slug),
		slog.Int("id", result.InternalID),
		slog.Int("depth", depth),
	)
	return result.InternalID, nil
}

func (s *ProductStrategy) process(ctx context.Context, p models.Product, existing *store.Record, depth int, dryRun bool) (pipeline.Result, error) {
	cfg := s.deps.Config.Import
	id := parser.ExternalID(p.ID)
	name := parser.DecodeText(p.Name)
	slug := parser.NormalizeSlug(p.Slug, name)
	status, ok := cfg.ProductStatus[p.Status]
	if !ok {
		status = cfg.DefaultProductStatus
	}
	meta := map[string]any{"name": name, "slug": slug, "type": p.Type, "status": status}

	if existing != nil && !productChanged(*existing, p, name, slug, status) {
		return pipeline.Result{Outcome: pipeline.Skipped, InternalID: existing.InternalID, Metadata: meta, Reason: "unchanged"}, nil
	}

	var mainCategory int
	var otherCategories []int
	for _, ref := range p.Categories {
		catID, ok := s.deps.mappedID(Categories, ref.ID)
		if !ok {
			continue
		}
		if mainCategory == 0 {
			mainCategory = catID
		} else {
			otherCategories = append(otherCategories, catID)
		}
	}
	if len(p.Categories) > 0 && mainCategory == 0 {
		return pipeline.Result{}, fmt.Errorf("product %d category %d: %w", p.ID, p.Categories[0].ID, pipeline.ErrMissingPrerequisite)
	}

	description, report, err := s.deps.Rewriter.Rewrite(ctx, p.Description, content.Options{
		MediaPrefix: "product",
		Depth:       depth,
		Products:    s.Resolver(dryRun),
	})
	if err != nil {
		return pipeline.Result{}, fmt.Errorf("rewrite description: %w", err)
	}
	if report.Carousels > 0 || report.Links > 0 {
		slog.Debug("description rewritten",
			slog.Int("product", p.ID),
			slog.Int("links", report.Links),
			slog.Int("carousels", report.Carousels),
		)
	}

	payload := map[string]any{
		"Title":           name,
		"Slug":            slug,
		"Description":     description,
		"Status":          status,
		"AverageRating":   parser.ParsePrice(p.AverageRating),
		"RatingCount":     p.RatingCount,
		"external_id":     id,
		"external_source": sourceCommerce,
	}
	if short := parser.StripHTML(p.ShortDescription); short != "" {
		if parser.IsCareInstructions(short) {
			payload["CleaningTips"] = short
		} else {
			payload["ReturnConditions"] = short
		}
	}
	if mainCategory > 0 {
		payload["product_main_category"] = mainCategory
	}
	if len(otherCategories) > 0 {
		payload["product_other_categories"] = otherCategories
	}
	if existing == nil || cfg.UpdateMediaOnSync {
		s.attachImages(ctx, p, name, payload)
	}

	internalID := 0
	if existing != nil {
		internalID = existing.InternalID
	}
	if dryRun {
		outcome, _, err := s.deps.upsertOutcome(ctx, collProducts, internalID, id)
		if err != nil {
			return pipeline.Result{}, fmt.Errorf("find product: %w", err)
		}
		slog.Info("dry run: would import product", slog.Int("id", p.ID), slog.String("name", name), slog.String("outcome", outcome.String()))
		return pipeline.Result{Outcome: outcome, Metadata: meta}, nil
	}

	entry, created, err := s.deps.upsert(ctx, collProducts, internalID, id, payload)
	if err != nil {
		return pipeline.Result{}, fmt.Errorf("upsert product: %w", err)
	}
	if slug != "" {
		s.slugs.Add(slug, entry.ID)
	}

	outcome := pipeline.Updated
	if created {
		outcome = pipeline.Created
	}
	return pipeline.Result{Outcome: outcome, InternalID: entry.ID, Metadata: meta}, nil
}

func (s *ProductStrategy) attachImages(ctx context.Context, p models.Product, name string, payload map[string]any) {
	if len(p.Images) == 0 {
		return
	}
	request := func(img models.Image) media.Request {
		alt := strings.TrimSpace(img.Alt)
		if alt == "" {
			alt = name
		}
		return media.Request{URL: img.Src, MediaID: img.ID, Alt: alt, Prefix: "product"}
	}

	if cover := s.deps.migrateImage(ctx, request(p.Images[0])); cover > 0 {
		payload["CoverImage"] = cover
	}
	var gallery []int
	for _, img := range p.Images[1:] {
		if len(gallery) >= s.deps.Config.Media.MaxGallery {
			break
		}
		if id := s.deps.migrateImage(ctx, request(img)); id > 0 {
			gallery = append(gallery, id)
		}
	}
	if len(gallery) > 0 {
		payload["Media"] = gallery
	}
}

// productChanged decides whether a mapped product is sent again.
// TODO: compare date_modified once mappings store it; any product with a
// description or a price currently counts as changed.
func productChanged(rec store.Record, p models.Product, name, slug, status string) bool {
	if rec.String("name") != name || rec.String("slug") != slug || rec.String("status") != status {
		return true
	}
	return strings.TrimSpace(p.Description) != "" || parser.ParsePrice(p.Price) > 0
}

type productResolver struct {
	strategy *ProductStrategy
	dryRun   bool
}

func (r productResolver) LookupSlug(slug string) (int, bool) {
	return r.strategy.LookupSlug(slug)
}

func (r productResolver) ImportSlug(ctx context.Context, slug string, depth int) (int, error) {
	if r.dryRun {
		return 0, fmt.Errorf("import %q: skipped in dry run", slug)
	}
	return r.strategy.ImportSlug(ctx, slug, depth)
}
