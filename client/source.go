package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/aluiziolira/go-catalog-migrator/config"
	"github.com/aluiziolira/go-catalog-migrator/models"
)

const (
	headerTotal      = "X-WP-Total"
	headerTotalPages = "X-WP-TotalPages"
)

// Page is one page of a paginated source collection. Totals come from the
// response headers, not the body.
type Page[T any] struct {
	Items      []T
	Number     int
	TotalItems int
	TotalPages int
}

// HasMore reports whether the source advertises pages after this one.
func (p Page[T]) HasMore() bool {
	if p.TotalPages == 0 {
		return len(p.Items) > 0
	}
	return p.Number < p.TotalPages
}

// Source is the paginated reader for the commerce and blog APIs.
type Source struct {
	*Client
}

// NewSource builds a reader for one source API. A configured username and
// password are sent both as consumer key/secret query parameters and as
// basic auth, which covers the commerce and blog APIs alike.
func NewSource(name string, cfg config.ClientConfig, opts ...Option) (*Source, error) {
	c, err := newClient(name, cfg, opts...)
	if err != nil {
		return nil, err
	}
	if cfg.Username != "" {
		c.auth = func(req *http.Request) {
			q := req.URL.Query()
			q.Set("consumer_key", cfg.Username)
			q.Set("consumer_secret", cfg.Password)
			req.URL.RawQuery = q.Encode()
			req.SetBasicAuth(cfg.Username, cfg.Password)
		}
	}
	return &Source{Client: c}, nil
}

// List fetches one page of a collection ordered by ascending id, so page
// numbers stay stable across runs.
func List[T any](ctx context.Context, s *Source, path string, page, perPage int, params url.Values) (Page[T], error) {
	if page < 1 {
		page = 1
	}
	query := url.Values{}
	for k, v := range params {
		query[k] = v
	}
	query.Set("page", strconv.Itoa(page))
	query.Set("per_page", strconv.Itoa(perPage))
	if query.Get("orderby") == "" {
		query.Set("orderby", "id")
		query.Set("order", "asc")
	}

	resp, err := s.do(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return Page[T]{}, fmt.Errorf("list %s page %d: %w", path, page, err)
	}

	var items []T
	if err := json.Unmarshal(resp.Body, &items); err != nil {
		return Page[T]{}, fmt.Errorf("decode %s page %d: %w", path, page, err)
	}
	return Page[T]{
		Items:      items,
		Number:     page,
		TotalItems: headerInt(resp.Header, headerTotal),
		TotalPages: headerInt(resp.Header, headerTotalPages),
	}, nil
}

// Fetch reads a single resource.
func Fetch[T any](ctx context.Context, s *Source, path string, params url.Values) (T, error) {
	var out T
	resp, err := s.do(ctx, http.MethodGet, path, params, nil)
	if err != nil {
		return out, fmt.Errorf("get %s: %w", path, err)
	}
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return out, fmt.Errorf("decode %s: %w", path, err)
	}
	return out, nil
}

// ProductFilter narrows a product listing.
type ProductFilter struct {
	Category int
	Type     string
	Status   string
}

func (f ProductFilter) values() url.Values {
	q := url.Values{}
	if f.Category > 0 {
		q.Set("category", strconv.Itoa(f.Category))
	}
	if f.Type != "" {
		q.Set("type", f.Type)
	}
	if f.Status != "" {
		q.Set("status", f.Status)
	}
	return q
}

// Categories lists product categories.
func (s *Source) Categories(ctx context.Context, page, perPage int) (Page[models.Category], error) {
	return List[models.Category](ctx, s, "/products/categories", page, perPage, nil)
}

// Products lists products.
func (s *Source) Products(ctx context.Context, page, perPage int, filter ProductFilter) (Page[models.Product], error) {
	return List[models.Product](ctx, s, "/products", page, perPage, filter.values())
}

// ProductBySlug finds one product by slug. A missing product is ErrNotFound.
func (s *Source) ProductBySlug(ctx context.Context, slug string) (models.Product, error) {
	page, err := List[models.Product](ctx, s, "/products", 1, 1, url.Values{"slug": {slug}})
	if err != nil {
		return models.Product{}, err
	}
	if len(page.Items) == 0 {
		return models.Product{}, ErrNotFound{Err: fmt.Errorf("product slug %q", slug)}
	}
	return page.Items[0], nil
}

// Variations lists the variations of one variable product.
func (s *Source) Variations(ctx context.Context, productID, page, perPage int) (Page[models.Variation], error) {
	return List[models.Variation](ctx, s, fmt.Sprintf("/products/%d/variations", productID), page, perPage, nil)
}

// Customers lists registered customers.
func (s *Source) Customers(ctx context.Context, page, perPage int) (Page[models.Customer], error) {
	return List[models.Customer](ctx, s, "/customers", page, perPage, nil)
}

// Orders lists orders.
func (s *Source) Orders(ctx context.Context, page, perPage int) (Page[models.Order], error) {
	return List[models.Order](ctx, s, "/orders", page, perPage, nil)
}

// Posts lists published blog posts.
func (s *Source) Posts(ctx context.Context, page, perPage int) (Page[models.Post], error) {
	return List[models.Post](ctx, s, "/posts", page, perPage, url.Values{"status": {"publish"}})
}

// BlogCategory reads one blog category.
func (s *Source) BlogCategory(ctx context.Context, id int) (models.Term, error) {
	return Fetch[models.Term](ctx, s, fmt.Sprintf("/categories/%d", id), nil)
}

// BlogTag reads one blog tag.
func (s *Source) BlogTag(ctx context.Context, id int) (models.Term, error) {
	return Fetch[models.Term](ctx, s, fmt.Sprintf("/tags/%d", id), nil)
}

// BlogUser reads one blog author.
func (s *Source) BlogUser(ctx context.Context, id int) (models.Author, error) {
	return Fetch[models.Author](ctx, s, fmt.Sprintf("/users/%d", id), nil)
}

// BlogMedia reads one media library item.
func (s *Source) BlogMedia(ctx context.Context, id int) (models.Media, error) {
	return Fetch[models.Media](ctx, s, fmt.Sprintf("/media/%d", id), nil)
}

func headerInt(h http.Header, key string) int {
	v, err := strconv.Atoi(h.Get(key))
	if err != nil {
		return 0
	}
	return v
}
