package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aluiziolira/go-catalog-migrator/config"
	"github.com/jarcoal/httpmock"
)

const (
	commerceURL    = "https://shop.test/wp-json/wc/v3"
	destinationURL = "https://cms.test/api"
)

func testClientConfig(base string) config.ClientConfig {
	cfg := config.DefaultConfig().Commerce
	cfg.BaseURL = base
	cfg.Delay = 0
	cfg.RetryDelay = 0
	cfg.MaxRetries = 2
	return cfg
}

func newTestSource(t *testing.T, transport http.RoundTripper) *Source {
	t.Helper()
	cfg := testClientConfig(commerceURL)
	cfg.Username = "ck_test"
	cfg.Password = "cs_test"
	s, err := NewSource("commerce", cfg, WithTransport(transport), WithMetrics(NewMetrics()))
	if err != nil {
		t.Fatalf("new source: %v", err)
	}
	return s
}

func newTestDestination(t *testing.T, transport http.RoundTripper) *Destination {
	t.Helper()
	cfg := testClientConfig(destinationURL)
	cfg.Token = "token"
	d, err := NewDestination(cfg, WithTransport(transport))
	if err != nil {
		t.Fatalf("new destination: %v", err)
	}
	return d
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		statusCode int
		expected   string
	}{
		{name: "nil", err: nil, statusCode: 0, expected: "unknown"},
		{name: "context timeout", err: context.DeadlineExceeded, statusCode: 0, expected: "timeout"},
		{name: "net timeout", err: &net.DNSError{IsTimeout: true}, statusCode: 0, expected: "timeout"},
		{name: "connection", err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, statusCode: 0, expected: "connection"},
		{name: "unauthorized", err: nil, statusCode: http.StatusUnauthorized, expected: "forbidden"},
		{name: "forbidden", err: nil, statusCode: http.StatusForbidden, expected: "forbidden"},
		{name: "not found", err: nil, statusCode: http.StatusNotFound, expected: "not_found"},
		{name: "rate limited", err: nil, statusCode: http.StatusTooManyRequests, expected: "rate_limited"},
		{name: "server", err: nil, statusCode: http.StatusBadGateway, expected: "server"},
		{name: "client", err: &StatusError{StatusCode: 400}, statusCode: http.StatusBadRequest, expected: "client"},
		{name: "other", err: errors.New("some other error"), statusCode: 0, expected: "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errorTypeLabel(classifyError(tt.err, tt.statusCode)); got != tt.expected {
				t.Fatalf("classifyError(%v, %d) = %q, want %q", tt.err, tt.statusCode, got, tt.expected)
			}
		})
	}
}

func TestSourceListReadsTotalsFromHeaders(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", commerceURL+"/products/categories", func(req *http.Request) (*http.Response, error) {
		q := req.URL.Query()
		if q.Get("consumer_key") != "ck_test" || q.Get("consumer_secret") != "cs_test" {
			t.Errorf("missing consumer credentials: %s", req.URL.RawQuery)
		}
		if user, _, ok := req.BasicAuth(); !ok || user != "ck_test" {
			t.Errorf("missing basic auth")
		}
		if q.Get("page") != "2" || q.Get("per_page") != "3" || q.Get("orderby") != "id" {
			t.Errorf("unexpected paging query: %s", req.URL.RawQuery)
		}
		resp := httpmock.NewStringResponse(200, `[{"id":4,"name":"Hats","parent":0},{"id":5,"name":"Caps","parent":4}]`)
		resp.Header.Set("X-WP-Total", "5")
		resp.Header.Set("X-WP-TotalPages", "2")
		return resp, nil
	})

	s := newTestSource(t, transport)
	page, err := s.Categories(context.Background(), 2, 3)
	if err != nil {
		t.Fatalf("categories: %v", err)
	}
	if len(page.Items) != 2 || page.Items[1].Parent != 4 {
		t.Fatalf("items = %+v", page.Items)
	}
	if page.TotalItems != 5 || page.TotalPages != 2 {
		t.Fatalf("totals = %d/%d, want 5/2", page.TotalItems, page.TotalPages)
	}
	if page.HasMore() {
		t.Fatalf("page 2 of 2 should not have more")
	}
}

func TestRetryTransientThenSucceed(t *testing.T) {
	var calls int32
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", commerceURL+"/orders", func(req *http.Request) (*http.Response, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return httpmock.NewStringResponse(503, "unavailable"), nil
		}
		return httpmock.NewStringResponse(200, `[{"id":1,"status":"completed","total":"10.00"}]`), nil
	})

	s := newTestSource(t, transport)
	page, err := s.Orders(context.Background(), 1, 10)
	if err != nil {
		t.Fatalf("orders: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].Total != 10 {
		t.Fatalf("items = %+v", page.Items)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("calls = %d, want 3", got)
	}
	if s.Retries() != 2 {
		t.Fatalf("retries = %d, want 2", s.Retries())
	}
}

func TestRetryExhaustedReturnsLastError(t *testing.T) {
	var calls int32
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", commerceURL+"/customers", func(req *http.Request) (*http.Response, error) {
		atomic.AddInt32(&calls, 1)
		return httpmock.NewStringResponse(500, "boom"), nil
	})

	s := newTestSource(t, transport)
	_, err := s.Customers(context.Background(), 1, 10)
	var server ErrServer
	if !errors.As(err, &server) {
		t.Fatalf("error = %v, want ErrServer", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("calls = %d, want 1 + 2 retries", got)
	}
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var calls int32
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", commerceURL+"/products/99/variations", func(req *http.Request) (*http.Response, error) {
		atomic.AddInt32(&calls, 1)
		return httpmock.NewStringResponse(404, `{"code":"woocommerce_rest_product_invalid_id"}`), nil
	})

	s := newTestSource(t, transport)
	_, err := s.Variations(context.Background(), 99, 1, 10)
	if !IsNotFound(err) {
		t.Fatalf("error = %v, want not found", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("calls = %d, want 1", got)
	}
}

func TestMinimumDelayBetweenRequests(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", commerceURL+"/orders", httpmock.NewStringResponder(200, `[]`))

	cfg := testClientConfig(commerceURL)
	cfg.Delay = 40 * time.Millisecond
	s, err := NewSource("commerce", cfg, WithTransport(transport))
	if err != nil {
		t.Fatalf("new source: %v", err)
	}

	start := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := s.Orders(context.Background(), 1, 1); err != nil {
			t.Fatalf("orders: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed < 75*time.Millisecond {
		t.Fatalf("three requests took %v, want at least two delays", elapsed)
	}
}

func TestProductBySlugNotFound(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", commerceURL+"/products", httpmock.NewStringResponder(200, `[]`))

	s := newTestSource(t, transport)
	if _, err := s.ProductBySlug(context.Background(), "missing"); !IsNotFound(err) {
		t.Fatalf("error = %v, want not found", err)
	}
}

func TestDestinationCreateUsesEnvelope(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("POST", destinationURL+"/product-categories", func(req *http.Request) (*http.Response, error) {
		if req.Header.Get("Authorization") != "Bearer token" {
			t.Errorf("missing bearer token")
		}
		var body map[string]map[string]any
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body["data"]["Title"] != "Hats" {
			t.Errorf("body = %v, want data envelope", body)
		}
		return httpmock.NewStringResponse(200, `{"data":{"id":17,"attributes":{"Title":"Hats"}}}`), nil
	})

	d := newTestDestination(t, transport)
	entry, err := d.Create(context.Background(), "/product-categories", map[string]any{"Title": "Hats"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if entry.ID != 17 || entry.String("Title") != "Hats" {
		t.Fatalf("entry = %+v", entry)
	}
}

func TestFindOrCreate(t *testing.T) {
	t.Run("finds existing by second key", func(t *testing.T) {
		transport := httpmock.NewMockTransport()
		transport.RegisterResponder("GET", destinationURL+"/product-variation-colors", func(req *http.Request) (*http.Response, error) {
			if req.URL.Query().Get("filters[external_id][$eq]") != "" {
				return httpmock.NewStringResponse(200, `{"data":[]}`), nil
			}
			return httpmock.NewStringResponse(200, `{"data":[{"id":3,"Title":"Red"}]}`), nil
		})

		d := newTestDestination(t, transport)
		entry, created, err := d.FindOrCreate(context.Background(), "/product-variation-colors",
			[]Key{{Field: "external_id", Value: "color_red"}, {Field: "Title", Value: "Red"}},
			map[string]any{"Title": "Red"})
		if err != nil || created || entry.ID != 3 {
			t.Fatalf("FindOrCreate = %+v, %v, %v", entry, created, err)
		}
	})

	t.Run("creates when missing", func(t *testing.T) {
		transport := httpmock.NewMockTransport()
		transport.RegisterResponder("GET", destinationURL+"/product-variation-sizes", httpmock.NewStringResponder(200, `{"data":[]}`))
		transport.RegisterResponder("POST", destinationURL+"/product-variation-sizes", httpmock.NewStringResponder(200, `{"data":{"id":8,"Title":"XL"}}`))

		d := newTestDestination(t, transport)
		entry, created, err := d.FindOrCreate(context.Background(), "/product-variation-sizes",
			[]Key{{Field: "Title", Value: "XL"}}, map[string]any{"Title": "XL"})
		if err != nil || !created || entry.ID != 8 {
			t.Fatalf("FindOrCreate = %+v, %v, %v", entry, created, err)
		}
	})

	t.Run("requeries after failed create", func(t *testing.T) {
		var lookups int32
		transport := httpmock.NewMockTransport()
		transport.RegisterResponder("GET", destinationURL+"/product-variation-models", func(req *http.Request) (*http.Response, error) {
			if atomic.AddInt32(&lookups, 1) == 1 {
				return httpmock.NewStringResponse(200, `{"data":[]}`), nil
			}
			return httpmock.NewStringResponse(200, `{"data":[{"id":21,"Title":"Slim"}]}`), nil
		})
		transport.RegisterResponder("POST", destinationURL+"/product-variation-models",
			httpmock.NewStringResponder(400, `{"error":{"message":"This attribute must be unique"}}`))

		d := newTestDestination(t, transport)
		entry, created, err := d.FindOrCreate(context.Background(), "/product-variation-models",
			[]Key{{Field: "Title", Value: "Slim"}}, map[string]any{"Title": "Slim"})
		if err != nil || created || entry.ID != 21 {
			t.Fatalf("FindOrCreate = %+v, %v, %v", entry, created, err)
		}
	})
}

func TestDestinationUpload(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("POST", destinationURL+"/upload", func(req *http.Request) (*http.Response, error) {
		if err := req.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
			return httpmock.NewStringResponse(400, ""), nil
		}
		files := req.MultipartForm.File["files"]
		if len(files) != 1 || files[0].Filename != "product-scarf-abc.jpg" {
			t.Errorf("files = %+v", files)
		}
		f, _ := files[0].Open()
		data, _ := io.ReadAll(f)
		if string(data) != "jpegdata" {
			t.Errorf("payload = %q", data)
		}
		if !strings.Contains(req.FormValue("fileInfo"), `"alternativeText":"Blue scarf"`) {
			t.Errorf("fileInfo = %s", req.FormValue("fileInfo"))
		}
		return httpmock.NewStringResponse(200, `[{"id":44,"url":"/uploads/product_scarf_abc.jpg"}]`), nil
	})

	d := newTestDestination(t, transport)
	file, err := d.Upload(context.Background(), Upload{
		Filename:    "product-scarf-abc.jpg",
		ContentType: "image/jpeg",
		Data:        []byte("jpegdata"),
		Alt:         "Blue scarf",
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if file.ID != 44 || file.URL != "https://cms.test/uploads/product_scarf_abc.jpg" {
		t.Fatalf("uploaded = %+v", file)
	}
}

func TestCountItems(t *testing.T) {
	tests := []struct {
		body string
		want int
	}{
		{`[{"id":1},{"id":2}]`, 2},
		{`{"data":[{"id":1}]}`, 1},
		{`{"data":{"id":1}}`, 1},
		{``, 0},
	}
	for _, tt := range tests {
		if got := countItems([]byte(tt.body)); got != tt.want {
			t.Fatalf("countItems(%s) = %d, want %d", tt.body, got, tt.want)
		}
	}
}
