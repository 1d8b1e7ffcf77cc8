// Package importers holds the entity strategies run by the pipeline
// importer: categories, users, products, variations, orders and blog posts.
package importers

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/aluiziolira/go-catalog-migrator/client"
	"github.com/aluiziolira/go-catalog-migrator/config"
	"github.com/aluiziolira/go-catalog-migrator/content"
	"github.com/aluiziolira/go-catalog-migrator/media"
	"github.com/aluiziolira/go-catalog-migrator/parser"
	"github.com/aluiziolira/go-catalog-migrator/pipeline"
	"github.com/aluiziolira/go-catalog-migrator/store"
)

// Mapping store entity types.
const (
	Categories     = "categories"
	Users          = "users"
	GuestUsers     = "guest-users"
	Products       = "products"
	Variations     = "variations"
	Orders         = "orders"
	BlogPosts      = content.BlogPostsEntity
	BlogCategories = "blog-categories"
	BlogTags       = "blog-tags"
	BlogAuthors    = "blog-authors"
)

// Destination collections.
const (
	collCategories        = "/product-categories"
	collCategoryContents  = "/product-category-contents"
	collUsers             = "/users"
	collLocalUsers        = "/local-users"
	collUserInfos         = "/local-user-infos"
	collProducts          = "/products"
	collVariations        = "/product-variations"
	collStocks            = "/product-stocks"
	collColors            = "/product-variation-colors"
	collSizes             = "/product-variation-sizes"
	collModels            = "/product-variation-models"
	collOrders            = "/orders"
	collOrderItems        = "/order-items"
	collContracts         = "/contracts"
	collTransactions      = "/contract-transactions"
	collBlogPosts         = "/blog-posts"
	collBlogCategories    = "/blog-categories"
	collBlogTags          = "/blog-tags"
	collBlogAuthors       = "/blog-authors"
	sourceCommerce        = "woocommerce"
	sourceCommerceGuest   = "woocommerce_guest"
	sourceBlog            = "wordpress"
	placeholderMailDomain = "placeholder.local"
)

// MediaMigrator re-hosts one asset in the destination media library.
type MediaMigrator interface {
	Migrate(ctx context.Context, req media.Request) (media.Asset, error)
}

// Deps are the shared collaborators of every strategy.
type Deps struct {
	Config      config.Config
	Commerce    *client.Source
	Blog        *client.Source
	Destination *client.Destination
	Mappings    *store.MappingStore
	// Media may be nil, which leaves images out of payloads.
	Media    MediaMigrator
	Rewriter *content.Rewriter
}

func (d Deps) mappedID(entity string, id int) (int, bool) {
	if id <= 0 {
		return 0, false
	}
	rec, ok := d.Mappings.Get(entity, parser.ExternalID(id))
	if !ok || rec.InternalID == 0 {
		return 0, false
	}
	return rec.InternalID, true
}

// migrateImage uploads one image and returns its destination id, or 0.
// Failures are logged; an image never fails the owning item.
func (d Deps) migrateImage(ctx context.Context, req media.Request) int {
	if d.Media == nil || strings.TrimSpace(req.URL) == "" {
		return 0
	}
	asset, err := d.Media.Migrate(ctx, req)
	if err != nil {
		slog.Warn("image not migrated",
			slog.String("url", req.URL),
			slog.Any("error", err),
		)
		return 0
	}
	return asset.ID
}

// upsert updates the record at id when it still exists and otherwise looks
// the item up by external id before creating it. The boolean reports
// whether a new record was created.
func (d Deps) upsert(ctx context.Context, collection string, id int, externalID string, payload map[string]any) (client.Entry, bool, error) {
	if id > 0 {
		entry, err := d.Destination.Update(ctx, collection, id, payload)
		if err == nil {
			return entry, false, nil
		}
		if !client.IsNotFound(err) {
			return client.Entry{}, false, err
		}
		slog.Warn("mapped record missing in destination, recreating",
			slog.String("collection", collection),
			slog.Int("id", id),
		)
	}

	if externalID != "" {
		found, ok, err := d.Destination.FindOne(ctx, collection, "external_id", externalID)
		if err != nil {
			return client.Entry{}, false, err
		}
		if ok {
			entry, err := d.Destination.Update(ctx, collection, found.ID, payload)
			return entry, false, err
		}
	}

	entry, err := d.Destination.Create(ctx, collection, payload)
	return entry, err == nil, err
}

// upsertOutcome reports what upsert would do, using the same lookups and no
// writes. The returned id is the record that would be updated.
func (d Deps) upsertOutcome(ctx context.Context, collection string, id int, externalID string) (pipeline.Outcome, int, error) {
	if id > 0 {
		_, err := d.Destination.Get(ctx, collection, id)
		if err == nil {
			return pipeline.Updated, id, nil
		}
		if !client.IsNotFound(err) {
			return pipeline.Skipped, 0, err
		}
	}
	if externalID != "" {
		found, ok, err := d.Destination.FindOne(ctx, collection, "external_id", externalID)
		if err != nil {
			return pipeline.Skipped, 0, err
		}
		if ok {
			return pipeline.Updated, found.ID, nil
		}
	}
	return pipeline.Created, 0, nil
}

// isoDate renders source timestamps as RFC 3339. Commerce timestamps carry
// no zone and are read as UTC.
func isoDate(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC().Format(time.RFC3339)
	}
	if t, err := time.Parse("2006-01-02T15:04:05", raw); err == nil {
		return t.UTC().Format(time.RFC3339)
	}
	return raw
}

func pageOf[T any](items []T, page, perPage int) client.Page[T] {
	total := len(items)
	pages := (total + perPage - 1) / perPage
	start := (page - 1) * perPage
	if start >= total {
		return client.Page[T]{Number: page, TotalItems: total, TotalPages: pages}
	}
	end := min(start+perPage, total)
	return client.Page[T]{
		Items:      items[start:end],
		Number:     page,
		TotalItems: total,
		TotalPages: pages,
	}
}
