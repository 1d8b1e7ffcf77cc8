package importers

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"sync"

	"github.com/aluiziolira/go-catalog-migrator/client"
	"github.com/aluiziolira/go-catalog-migrator/models"
	"github.com/aluiziolira/go-catalog-migrator/parser"
	"github.com/aluiziolira/go-catalog-migrator/pipeline"
	"github.com/aluiziolira/go-catalog-migrator/store"
)

const variationsPerRequest = 100

type attributeKind string

const (
	attrColor attributeKind = "color"
	attrSize  attributeKind = "size"
	attrModel attributeKind = "model"
)

var attributeCollections = map[attributeKind]string{
	attrColor: collColors,
	attrSize:  collSizes,
	attrModel: collModels,
}

// VariationStrategy imports the variations of variable products. One page
// is one page of variable products with all of their variations.
type VariationStrategy struct {
	deps Deps

	mu   sync.Mutex
	refs map[string]int
}

// NewVariationStrategy builds the variation strategy.
func NewVariationStrategy(deps Deps) *VariationStrategy {
	return &VariationStrategy{deps: deps, refs: make(map[string]int)}
}

func (s *VariationStrategy) Entity() string { return Variations }

func (s *VariationStrategy) ExternalID(v models.Variation) string { return parser.ExternalID(v.ID) }

func (s *VariationStrategy) UpdatesMapped() bool { return true }

// Prepare drops the cached color, size and model rows.
func (s *VariationStrategy) Prepare(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.refs)
	return nil
}

func (s *VariationStrategy) Fetch(ctx context.Context, page, perPage int) (client.Page[models.Variation], error) {
	products, err := s.deps.Commerce.Products(ctx, page, perPage, client.ProductFilter{Type: "variable"})
	if err != nil {
		return client.Page[models.Variation]{}, err
	}

	var items []models.Variation
	for _, p := range products.Items {
		for vp := 1; ; vp++ {
			result, err := s.deps.Commerce.Variations(ctx, p.ID, vp, variationsPerRequest)
			if err != nil {
				return client.Page[models.Variation]{}, fmt.Errorf("variations of product %d: %w", p.ID, err)
			}
			for _, v := range result.Items {
				v.ParentID = p.ID
				items = append(items, v)
			}
			if len(result.Items) == 0 || !result.HasMore() {
				break
			}
		}
	}
	return client.Page[models.Variation]{
		Items:      items,
		Number:     products.Number,
		TotalItems: len(items),
		TotalPages: products.TotalPages,
	}, nil
}

func (s *VariationStrategy) Process(ctx context.Context, v models.Variation, existing *store.Record, dryRun bool) (pipeline.Result, error) {
	cfg := s.deps.Config.Import
	id := parser.ExternalID(v.ID)
	productID, ok := s.deps.mappedID(Products, v.ParentID)
	if !ok {
		return pipeline.Result{}, fmt.Errorf("variation %d product %d: %w", v.ID, v.ParentID, pipeline.ErrMissingPrerequisite)
	}

	sku := strings.TrimSpace(v.SKU)
	if sku == "" {
		sku = fmt.Sprintf("WC-%d-%d", v.ParentID, v.ID)
	}
	regular := parser.ParsePrice(v.RegularPrice)
	if regular == 0 {
		regular = parser.ParsePrice(v.Price)
	}
	sale := parser.ParsePrice(v.SalePrice)
	stock := 0
	if v.StockQuantity != nil {
		stock = max(0, *v.StockQuantity)
	}
	price := parser.ConvertPrice(regular, cfg.PriceMultiplier)
	meta := map[string]any{"productId": v.ParentID, "sku": sku, "price": price, "stockQuantity": stock}

	sku, err := s.uniqueSKU(ctx, sku, id, v.ID)
	if err != nil {
		return pipeline.Result{}, err
	}
	meta["sku"] = sku

	internalID := 0
	if existing != nil {
		internalID = existing.InternalID
	}
	if dryRun {
		outcome, _, err := s.deps.upsertOutcome(ctx, collVariations, internalID, id)
		if err != nil {
			return pipeline.Result{}, fmt.Errorf("find variation: %w", err)
		}
		slog.Info("dry run: would import variation", slog.Int("id", v.ID), slog.String("sku", sku), slog.String("outcome", outcome.String()))
		return pipeline.Result{Outcome: outcome, Metadata: meta}, nil
	}

	payload := map[string]any{
		"SKU":             sku,
		"Price":           price,
		"IsPublished":     v.Status == "" || v.Status == "publish",
		"product":         productID,
		"external_id":     id,
		"external_source": sourceCommerce,
	}
	if sale > 0 && sale < regular {
		payload["DiscountPrice"] = parser.ConvertPrice(sale, cfg.PriceMultiplier)
	}

	values := variationAttributes(v.Attributes)
	defaults := map[attributeKind]string{
		attrColor: cfg.DefaultColor,
		attrSize:  cfg.DefaultSize,
		attrModel: cfg.DefaultModel,
	}
	for _, kind := range []attributeKind{attrColor, attrSize, attrModel} {
		value := values[kind]
		if value == "" {
			value = defaults[kind]
		}
		if value == "" {
			continue
		}
		refID, err := s.reference(ctx, kind, value)
		if err != nil {
			return pipeline.Result{}, fmt.Errorf("resolve %s %q: %w", kind, value, err)
		}
		payload["product_variation_"+string(kind)] = refID
	}

	entry, created, err := s.deps.upsert(ctx, collVariations, internalID, id, payload)
	if err != nil {
		return pipeline.Result{}, fmt.Errorf("upsert variation: %w", err)
	}
	if err := s.syncStock(ctx, entry.ID, v.ID, stock); err != nil {
		return pipeline.Result{}, err
	}

	outcome := pipeline.Updated
	if created {
		outcome = pipeline.Created
	}
	return pipeline.Result{Outcome: outcome, InternalID: entry.ID, Metadata: meta}, nil
}

// uniqueSKU suffixes sku with the variation id when another record already
// holds it.
func (s *VariationStrategy) uniqueSKU(ctx context.Context, sku, externalID string, variationID int) (string, error) {
	found, ok, err := s.deps.Destination.FindOne(ctx, collVariations, "SKU", sku)
	if err != nil {
		return "", fmt.Errorf("check sku: %w", err)
	}
	if !ok || found.String("external_id") == externalID {
		return sku, nil
	}
	return fmt.Sprintf("%s-%d", sku, variationID), nil
}

// reference finds or creates a color, size or model row.
func (s *VariationStrategy) reference(ctx context.Context, kind attributeKind, value string) (int, error) {
	key := string(kind) + "_" + normalizeAttribute(value)

	s.mu.Lock()
	id, ok := s.refs[key]
	s.mu.Unlock()
	if ok {
		return id, nil
	}

	data := map[string]any{
		"Title":           value,
		"external_id":     key,
		"external_source": sourceCommerce,
	}
	if kind == attrColor {
		data["ColorCode"] = s.colorCode(value)
	}
	entry, created, err := s.deps.Destination.FindOrCreate(ctx, attributeCollections[kind],
		[]client.Key{{Field: "external_id", Value: key}, {Field: "Title", Value: value}}, data)
	if err != nil {
		return 0, err
	}
	if created {
		slog.Debug("attribute row created", slog.String("kind", string(kind)), slog.String("value", value))
	}

	s.mu.Lock()
	s.refs[key] = entry.ID
	s.mu.Unlock()
	return entry.ID, nil
}

func (s *VariationStrategy) syncStock(ctx context.Context, variationID, sourceID, count int) error {
	key := parser.ScopedID("stock", sourceID)
	found, ok, err := s.deps.Destination.FindOne(ctx, collStocks, "external_id", key)
	if err != nil {
		return fmt.Errorf("find stock: %w", err)
	}
	if ok {
		if _, err := s.deps.Destination.Update(ctx, collStocks, found.ID, map[string]any{"Count": count}); err != nil {
			return fmt.Errorf("update stock: %w", err)
		}
		return nil
	}
	_, err = s.deps.Destination.Create(ctx, collStocks, map[string]any{
		"Count":             count,
		"product_variation": variationID,
		"external_id":       key,
		"external_source":   sourceCommerce,
	})
	if err != nil {
		return fmt.Errorf("create stock: %w", err)
	}
	return nil
}

func (s *VariationStrategy) colorCode(name string) string {
	cfg := s.deps.Config.Import
	if strings.EqualFold(strings.TrimSpace(name), cfg.DefaultColor) && cfg.DefaultColorCode != "" {
		return cfg.DefaultColorCode
	}
	return ColorCode(name)
}

// ColorCode derives a stable mid-range hex color from a color name.
func ColorCode(name string) string {
	h := fnv.New32a()
	h.Write([]byte(strings.ToLower(strings.TrimSpace(name))))
	sum := h.Sum32()
	channel := func(shift uint) uint32 {
		return 50 + ((sum>>shift)&0xff)%156
	}
	return fmt.Sprintf("#%02X%02X%02X", channel(16), channel(8), channel(0))
}

func identifyAttribute(name string) attributeKind {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "color"), strings.Contains(lower, "colour"), strings.Contains(lower, "رنگ"):
		return attrColor
	case strings.Contains(lower, "size"), strings.Contains(lower, "سایز"), strings.Contains(lower, "اندازه"):
		return attrSize
	default:
		return attrModel
	}
}

func variationAttributes(attrs []models.Attribute) map[attributeKind]string {
	out := make(map[attributeKind]string, 3)
	for _, a := range attrs {
		value := parser.DecodeText(a.Option)
		if value == "" {
			continue
		}
		kind := identifyAttribute(a.Name)
		if _, seen := out[kind]; !seen {
			out[kind] = value
		}
	}
	return out
}

func normalizeAttribute(value string) string {
	if slug := parser.CleanSlug(value); slug != "" {
		return slug
	}
	return strings.ToLower(strings.Join(strings.Fields(value), "-"))
}
