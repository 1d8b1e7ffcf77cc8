// Package content rewrites rich-text bodies for the destination: images are
// re-hosted, internal links point at destination routes and product
// carousels collapse into a compact directive.
package content

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/aluiziolira/go-catalog-migrator/config"
	"github.com/aluiziolira/go-catalog-migrator/media"
	"github.com/aluiziolira/go-catalog-migrator/parser"
	"github.com/aluiziolira/go-catalog-migrator/store"
)

// BlogPostsEntity is the mapping type consulted for ?p=<id> links.
const BlogPostsEntity = "blog-posts"

// MediaMigrator re-hosts one image.
type MediaMigrator interface {
	Migrate(ctx context.Context, req media.Request) (media.Asset, error)
}

// Mappings reads mapping records.
type Mappings interface {
	Get(entity, externalID string) (store.Record, bool)
}

// Products resolves product slugs to destination ids. ImportSlug imports a
// product that has not been mapped yet.
type Products interface {
	LookupSlug(slug string) (int, bool)
	ImportSlug(ctx context.Context, slug string, depth int) (int, error)
}

// Options are per-body settings.
type Options struct {
	// MediaPrefix prefixes uploaded image filenames.
	MediaPrefix string
	// Depth is the on-demand import depth of the entity being rewritten.
	Depth int
	// Products resolves carousel and product link references. Nil disables
	// carousel extraction and product link rewriting.
	Products Products
}

// Report counts what one Rewrite call changed.
type Report struct {
	Images           int
	ImagesFailed     int
	Links            int
	Carousels        int
	CarouselsSkipped int
	CarouselRefs     int
}

// Rewriter runs the carousel pass first, then the image and link passes over
// everything outside the carousels that were left in place.
type Rewriter struct {
	cfg      config.ContentConfig
	media    MediaMigrator
	mappings Mappings
	hosts    map[string]struct{}
}

// NewRewriter builds a Rewriter. media may be nil to leave images untouched.
func NewRewriter(cfg config.ContentConfig, media MediaMigrator, mappings Mappings) *Rewriter {
	hosts := make(map[string]struct{}, len(cfg.SourceHosts))
	for _, h := range cfg.SourceHosts {
		hosts[strings.ToLower(strings.TrimPrefix(h, "www."))] = struct{}{}
	}
	return &Rewriter{cfg: cfg, media: media, mappings: mappings, hosts: hosts}
}

// Rewrite returns the rewritten body. Failures of single images, links or
// carousels never fail the body; they are logged and left unchanged.
func (r *Rewriter) Rewrite(ctx context.Context, body string, opts Options) (string, Report, error) {
	var report Report
	if strings.TrimSpace(body) == "" {
		return body, report, nil
	}

	out := body
	if opts.Products != nil {
		var err error
		out, err = r.rewriteCarousels(ctx, out, opts, &report)
		if err != nil {
			return body, report, err
		}
	}
	out, err := r.outsideCarousels(out, opts, func(segment string) (string, error) {
		segment, err := r.rewriteImages(ctx, segment, opts, &report)
		if err != nil {
			return segment, err
		}
		return r.rewriteLinks(segment, opts, &report)
	})
	if err != nil {
		return body, report, err
	}
	return out, report, nil
}

// outsideCarousels applies fn to the parts of body outside carousel
// containers. An unresolved carousel stays byte-identical. Without a product
// resolver carousels are ordinary markup and fn sees the whole body.
func (r *Rewriter) outsideCarousels(body string, opts Options, fn func(string) (string, error)) (string, error) {
	if opts.Products == nil {
		return fn(body)
	}
	spans, _ := findContainers(body, r.cfg.CarouselClass)
	if len(spans) == 0 {
		return fn(body)
	}

	var b strings.Builder
	b.Grow(len(body))
	last := 0
	for _, sp := range spans {
		out, err := fn(body[last:sp.start])
		if err != nil {
			return body, err
		}
		b.WriteString(out)
		b.WriteString(body[sp.start:sp.end])
		last = sp.end
	}
	out, err := fn(body[last:])
	if err != nil {
		return body, err
	}
	b.WriteString(out)
	return b.String(), nil
}

func (r *Rewriter) rewriteImages(ctx context.Context, body string, opts Options, report *Report) (string, error) {
	if r.media == nil {
		return body, nil
	}
	sources, err := collectAttr(body, "img[src]", "src")
	if err != nil {
		return body, fmt.Errorf("parse images: %w", err)
	}

	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return body, err
		}
		if strings.HasPrefix(src, "data:") {
			continue
		}
		abs := r.absoluteSource(src)
		if abs == "" {
			continue
		}
		asset, err := r.media.Migrate(ctx, media.Request{URL: abs, Prefix: opts.MediaPrefix})
		if err != nil {
			report.ImagesFailed++
			continue
		}
		if asset.URL == "" || asset.URL == src {
			continue
		}
		body = replaceQuoted(body, src, asset.URL)
		report.Images++
	}
	return body, nil
}

func (r *Rewriter) rewriteLinks(body string, opts Options, report *Report) (string, error) {
	hrefs, err := collectAttr(body, "a[href]", "href")
	if err != nil {
		return body, fmt.Errorf("parse links: %w", err)
	}

	for _, href := range hrefs {
		target, ok := r.linkTarget(href, opts)
		if !ok || target == href {
			continue
		}
		body = replaceQuoted(body, href, target)
		report.Links++
	}
	return body, nil
}

// linkTarget classifies href and returns its destination route. ok is false
// for external links and links that cannot be resolved.
func (r *Rewriter) linkTarget(href string, opts Options) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(href))
	if err != nil || !r.internal(u) {
		return "", false
	}
	path := strings.TrimSuffix(u.Path, "/")
	if skippedPath(path) {
		return "", false
	}

	if slug, ok := r.productSlug(path); ok {
		if opts.Products == nil {
			return "", false
		}
		if _, mapped := opts.Products.LookupSlug(slug); !mapped {
			return "", false
		}
		return r.cfg.ProductBasePath + "/" + slug, true
	}

	if id := u.Query().Get("p"); id != "" && r.mappings != nil {
		if rec, ok := r.mappings.Get(BlogPostsEntity, id); ok {
			if slug := rec.String("slug"); slug != "" {
				return r.cfg.BlogBasePath + "/" + slug, true
			}
		}
	}

	slug := parser.LastPathSegment(path)
	if slug == "" {
		return "", false
	}
	return r.cfg.BlogBasePath + "/" + slug, true
}

// internal reports whether u points at the source site.
func (r *Rewriter) internal(u *url.URL) bool {
	if u.Scheme == "" && u.Host == "" {
		return strings.HasPrefix(u.Path, "/") || u.RawQuery != ""
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	_, ok := r.hosts[strings.ToLower(strings.TrimPrefix(u.Hostname(), "www."))]
	return ok
}

// productSlug extracts <slug> from a /product/<slug> deep link. Links already
// rewritten to the destination product route are recognised too, so bodies
// touched by an earlier run still resolve.
func (r *Rewriter) productSlug(path string) (string, bool) {
	for _, base := range []string{"/product", r.cfg.ProductBasePath} {
		if base == "" {
			continue
		}
		rest, ok := strings.CutPrefix(path, base+"/")
		if !ok || rest == "" || strings.Contains(rest, "/") {
			continue
		}
		if slug := parser.NormalizeSlug(rest, ""); slug != "" {
			return slug, true
		}
	}
	return "", false
}

func skippedPath(path string) bool {
	for _, prefix := range []string{"/wp-content/", "/wp-admin", "/wp-json", "/feed", "/cart", "/checkout", "/my-account"} {
		if strings.HasPrefix(path+"/", prefix) {
			return true
		}
	}
	return false
}

func (r *Rewriter) absoluteSource(src string) string {
	u, err := url.Parse(strings.TrimSpace(src))
	if err != nil {
		return ""
	}
	if u.IsAbs() {
		return u.String()
	}
	if strings.HasPrefix(src, "//") {
		return "https:" + src
	}
	if !strings.HasPrefix(u.Path, "/") || len(r.cfg.SourceHosts) == 0 {
		return ""
	}
	return "https://" + r.cfg.SourceHosts[0] + u.String()
}

func (r *Rewriter) rewriteCarousels(ctx context.Context, body string, opts Options, report *Report) (string, error) {
	spans, unbalanced := findContainers(body, r.cfg.CarouselClass)
	if unbalanced > 0 {
		report.CarouselsSkipped += unbalanced
		slog.Warn("carousel without balanced close left unchanged",
			slog.String("class", r.cfg.CarouselClass),
			slog.Int("count", unbalanced),
		)
	}
	if len(spans) == 0 {
		return body, nil
	}

	var b strings.Builder
	b.Grow(len(body))
	last := 0
	for _, sp := range spans {
		if err := ctx.Err(); err != nil {
			return body, err
		}
		b.WriteString(body[last:sp.start])
		last = sp.end

		fragment := body[sp.start:sp.end]
		ids := r.resolveCarousel(ctx, fragment, opts)
		if len(ids) == 0 {
			report.CarouselsSkipped++
			b.WriteString(fragment)
			continue
		}
		report.Carousels++
		report.CarouselRefs += len(ids)
		b.WriteString(Directive(ids))
	}
	b.WriteString(body[last:])
	return b.String(), nil
}

// resolveCarousel returns the destination ids of the first MaxCarouselRefs
// product references in fragment that resolve.
func (r *Rewriter) resolveCarousel(ctx context.Context, fragment string, opts Options) []int {
	hrefs, err := collectAttr(fragment, "a[href]", "href")
	if err != nil {
		slog.Warn("parse carousel", slog.Any("error", err))
		return nil
	}

	var slugs []string
	seen := make(map[string]struct{})
	for _, href := range hrefs {
		u, err := url.Parse(strings.TrimSpace(href))
		if err != nil || !r.internal(u) {
			continue
		}
		slug, ok := r.productSlug(strings.TrimSuffix(u.Path, "/"))
		if !ok {
			continue
		}
		if _, dup := seen[slug]; dup {
			continue
		}
		seen[slug] = struct{}{}
		slugs = append(slugs, slug)
		if len(slugs) == r.cfg.MaxCarouselRefs {
			break
		}
	}

	ids := make([]int, 0, len(slugs))
	for _, slug := range slugs {
		if id, ok := opts.Products.LookupSlug(slug); ok {
			ids = append(ids, id)
			continue
		}
		if opts.Depth >= r.cfg.MaxImportDepth {
			slog.Debug("carousel reference beyond import depth",
				slog.String("slug", slug),
				slog.Int("depth", opts.Depth),
			)
			continue
		}
		id, err := opts.Products.ImportSlug(ctx, slug, opts.Depth+1)
		if err != nil {
			slog.Warn("carousel reference unresolved",
				slog.String("slug", slug),
				slog.Any("error", err),
			)
			continue
		}
		if id > 0 {
			ids = append(ids, id)
		}
	}
	return ids
}

// Directive renders the compact carousel placeholder.
func Directive(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return `[product-carousel ids="` + strings.Join(parts, ",") + `"]`
}

// collectAttr returns the distinct values of attr on elements matching
// selector, in document order.
func collectAttr(body, selector, attr string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	var out []string
	seen := make(map[string]struct{})
	doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		v, ok := s.Attr(attr)
		v = strings.TrimSpace(v)
		if !ok || v == "" {
			return
		}
		if _, dup := seen[v]; dup {
			return
		}
		seen[v] = struct{}{}
		out = append(out, v)
	})
	return out, nil
}

// replaceQuoted replaces quoted attribute occurrences of old, both raw and
// entity-escaped, leaving unquoted text alone.
func replaceQuoted(body, old, replacement string) string {
	forms := []string{old}
	if escaped := html.EscapeString(old); escaped != old {
		forms = append(forms, escaped)
	}
	for _, form := range forms {
		for _, q := range []string{`"`, `'`} {
			body = strings.ReplaceAll(body, q+form+q, q+replacement+q)
		}
	}
	return body
}
