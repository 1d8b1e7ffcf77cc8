package importers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aluiziolira/go-catalog-migrator/client"
	"github.com/aluiziolira/go-catalog-migrator/content"
	"github.com/aluiziolira/go-catalog-migrator/media"
	"github.com/aluiziolira/go-catalog-migrator/models"
	"github.com/aluiziolira/go-catalog-migrator/parser"
	"github.com/aluiziolira/go-catalog-migrator/pipeline"
	"github.com/aluiziolira/go-catalog-migrator/store"
)

const (
	maxExcerpt         = 500
	maxMetaTitle       = 60
	maxMetaDescription = 160
	maxKeywords        = 200
)

var postStatus = map[string]string{
	"publish": "Published",
	"future":  "Scheduled",
}

// BlogPostStrategy imports blog posts together with their category, tags,
// author and featured image.
type BlogPostStrategy struct {
	deps     Deps
	products *ProductStrategy
}

// NewBlogPostStrategy builds the blog post strategy. products resolves
// product carousels in post bodies and may be nil.
func NewBlogPostStrategy(deps Deps, products *ProductStrategy) *BlogPostStrategy {
	return &BlogPostStrategy{deps: deps, products: products}
}

func (s *BlogPostStrategy) Entity() string { return BlogPosts }

func (s *BlogPostStrategy) ExternalID(p models.Post) string { return parser.ExternalID(p.ID) }

func (s *BlogPostStrategy) UpdatesMapped() bool { return true }

func (s *BlogPostStrategy) Fetch(ctx context.Context, page, perPage int) (client.Page[models.Post], error) {
	return s.deps.Blog.Posts(ctx, page, perPage)
}

// Prepare refreshes the product slug index used for carousels.
func (s *BlogPostStrategy) Prepare(ctx context.Context) error {
	if s.products == nil {
		return nil
	}
	return s.products.Prepare(ctx)
}

func (s *BlogPostStrategy) Process(ctx context.Context, p models.Post, existing *store.Record, dryRun bool) (pipeline.Result, error) {
	id := parser.ExternalID(p.ID)
	title := parser.DecodeText(p.Title.Rendered)
	if title == "" {
		title = fmt.Sprintf("Post %d", p.ID)
	}
	slug := parser.NormalizeSlug(p.Slug, title)
	status := lookup(postStatus, p.Status, "Draft")
	excerpt := parser.Truncate(parser.StripHTML(p.Excerpt.Rendered), maxExcerpt)

	opts := content.Options{MediaPrefix: "blog"}
	if s.products != nil {
		opts.Products = s.products.Resolver(dryRun)
	}
	body, _, err := s.deps.Rewriter.Rewrite(ctx, p.Content.Rendered, opts)
	if err != nil {
		return pipeline.Result{}, fmt.Errorf("rewrite content: %w", err)
	}
	if strings.TrimSpace(body) == "" {
		body = excerpt
	}

	payload := map[string]any{
		"Title":           title,
		"Slug":            slug,
		"Content":         body,
		"Excerpt":         excerpt,
		"MetaTitle":       parser.Truncate(title, maxMetaTitle),
		"MetaDescription": metaDescription(p, excerpt),
		"Status":          status,
		"ViewCount":       0,
		"external_id":     id,
		"external_source": sourceBlog,
	}
	if status == "Published" || status == "Scheduled" {
		published := p.DateGMT
		if published == "" {
			published = p.Date
		}
		if published = isoDate(published); published != "" {
			payload["PublishedAt"] = published
		}
	}
	if p.Meta != nil {
		payload["ViewCount"] = p.Meta.ViewCount
	}

	if len(p.Categories) > 0 {
		if catID := s.term(ctx, BlogCategories, p.Categories[0], dryRun); catID > 0 {
			payload["blog_category"] = catID
		}
	}
	var tagIDs []int
	var tagNames []string
	for _, tag := range p.Tags {
		tagID, name := s.tag(ctx, tag, dryRun)
		if tagID > 0 {
			tagIDs = append(tagIDs, tagID)
		}
		if name != "" {
			tagNames = append(tagNames, name)
		}
	}
	if len(tagIDs) > 0 {
		payload["blog_tags"] = tagIDs
	}
	if len(tagNames) > 0 {
		payload["Keywords"] = parser.Truncate(strings.Join(tagNames, ", "), maxKeywords)
	}
	if authorID := s.author(ctx, p.Author, dryRun); authorID > 0 {
		payload["blog_author"] = authorID
	}
	if imageID := s.featuredImage(ctx, p, title); imageID > 0 {
		payload["FeaturedImage"] = imageID
	}
	meta := map[string]any{"slug": slug, "title": title, "status": status}

	internalID := 0
	if existing != nil {
		internalID = existing.InternalID
	} else {
		found, ok, err := s.deps.Destination.FindOne(ctx, collBlogPosts, "Slug", slug)
		if err != nil {
			return pipeline.Result{}, fmt.Errorf("find post by slug: %w", err)
		}
		if ok {
			slog.Info("existing post found by slug", slog.String("slug", slug), slog.Int("id", found.ID))
			internalID = found.ID
		}
	}

	if dryRun {
		outcome, _, err := s.deps.upsertOutcome(ctx, collBlogPosts, internalID, id)
		if err != nil {
			return pipeline.Result{}, fmt.Errorf("find post: %w", err)
		}
		slog.Info("dry run: would import post", slog.Int("id", p.ID), slog.String("title", title), slog.String("outcome", outcome.String()))
		return pipeline.Result{Outcome: outcome, Metadata: meta}, nil
	}

	entry, created, err := s.deps.upsert(ctx, collBlogPosts, internalID, id, payload)
	if err != nil {
		return pipeline.Result{}, fmt.Errorf("upsert post: %w", err)
	}
	outcome := pipeline.Updated
	if created {
		outcome = pipeline.Created
	}
	return pipeline.Result{Outcome: outcome, InternalID: entry.ID, Metadata: meta}, nil
}

func metaDescription(p models.Post, excerpt string) string {
	if p.SEO != nil {
		for _, d := range []string{p.SEO.Description, p.SEO.OGDescription} {
			if d = parser.DecodeText(d); d != "" {
				return parser.Truncate(d, maxMetaDescription)
			}
		}
	}
	if excerpt == "" {
		excerpt = parser.StripHTML(p.Content.Rendered)
	}
	return parser.Truncate(excerpt, maxMetaDescription)
}

// term resolves a blog category to a destination id, creating it when
// needed. Failures are logged and leave the post unlinked.
func (s *BlogPostStrategy) term(ctx context.Context, entity string, sourceID int, dryRun bool) int {
	if id, ok := s.deps.mappedID(entity, sourceID); ok {
		return id
	}
	if dryRun {
		return 0
	}
	t, err := s.deps.Blog.BlogCategory(ctx, sourceID)
	if err != nil {
		slog.Warn("blog category not fetched", slog.Int("id", sourceID), slog.Any("error", err))
		return 0
	}
	return s.upsertTerm(ctx, entity, collBlogCategories, t)
}

func (s *BlogPostStrategy) tag(ctx context.Context, sourceID int, dryRun bool) (int, string) {
	if rec, ok := s.deps.Mappings.Get(BlogTags, parser.ExternalID(sourceID)); ok && rec.InternalID > 0 {
		return rec.InternalID, rec.String("name")
	}
	if dryRun {
		return 0, ""
	}
	t, err := s.deps.Blog.BlogTag(ctx, sourceID)
	if err != nil {
		slog.Warn("blog tag not fetched", slog.Int("id", sourceID), slog.Any("error", err))
		return 0, ""
	}
	return s.upsertTerm(ctx, BlogTags, collBlogTags, t), parser.DecodeText(t.Name)
}

func (s *BlogPostStrategy) upsertTerm(ctx context.Context, entity, collection string, t models.Term) int {
	name := parser.DecodeText(t.Name)
	slug := parser.NormalizeSlug(t.Slug, name)
	data := map[string]any{
		"Name":            name,
		"Slug":            slug,
		"external_id":     parser.ExternalID(t.ID),
		"external_source": sourceBlog,
	}
	if desc := parser.StripHTML(t.Description); desc != "" {
		data["Description"] = desc
	}
	entry, _, err := s.deps.Destination.FindOrCreate(ctx, collection,
		[]client.Key{{Field: "Slug", Value: slug}, {Field: "Name", Value: name}}, data)
	if err != nil {
		slog.Warn("blog term not created", slog.String("entity", entity), slog.String("slug", slug), slog.Any("error", err))
		return 0
	}
	if err := s.deps.Mappings.Record(entity, parser.ExternalID(t.ID), entry.ID, map[string]any{"slug": slug, "name": name}); err != nil {
		slog.Warn("term mapping not recorded", slog.String("entity", entity), slog.Any("error", err))
	}
	return entry.ID
}

func (s *BlogPostStrategy) author(ctx context.Context, sourceID int, dryRun bool) int {
	if id, ok := s.deps.mappedID(BlogAuthors, sourceID); ok {
		return id
	}
	if sourceID <= 0 || dryRun {
		return 0
	}
	a, err := s.deps.Blog.BlogUser(ctx, sourceID)
	if err != nil {
		slog.Warn("blog author not fetched", slog.Int("id", sourceID), slog.Any("error", err))
		return 0
	}

	name := parser.DecodeText(a.Name)
	if name == "" {
		name = fmt.Sprintf("author-%d", sourceID)
	}
	data := map[string]any{"Name": name}
	if a.Email != "" {
		data["Email"] = a.Email
	}
	if bio := parser.DecodeText(a.Description); bio != "" {
		data["Bio"] = bio
	}
	entry, _, err := s.deps.Destination.FindOrCreate(ctx, collBlogAuthors,
		[]client.Key{{Field: "Email", Value: a.Email}, {Field: "Name", Value: name}}, data)
	if err != nil {
		slog.Warn("blog author not created", slog.Int("id", sourceID), slog.Any("error", err))
		return 0
	}
	if err := s.deps.Mappings.Record(BlogAuthors, parser.ExternalID(sourceID), entry.ID, map[string]any{"email": a.Email}); err != nil {
		slog.Warn("author mapping not recorded", slog.Any("error", err))
	}
	return entry.ID
}

func (s *BlogPostStrategy) featuredImage(ctx context.Context, p models.Post, title string) int {
	if p.FeaturedMedia <= 0 || s.deps.Media == nil {
		return 0
	}
	m, err := s.deps.Blog.BlogMedia(ctx, p.FeaturedMedia)
	if err != nil {
		slog.Warn("featured media not fetched", slog.Int("post", p.ID), slog.Any("error", err))
		return 0
	}
	alt := parser.DecodeText(m.AltText)
	if alt == "" {
		alt = title
	}
	return s.deps.migrateImage(ctx, media.Request{URL: m.SourceURL, MediaID: m.ID, Alt: alt, Prefix: "blog"})
}
