package migrate

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/aluiziolira/go-catalog-migrator/config"
	"github.com/aluiziolira/go-catalog-migrator/importers"
	"github.com/aluiziolira/go-catalog-migrator/models"
	"github.com/aluiziolira/go-catalog-migrator/store"
	"github.com/jarcoal/httpmock"
)

const (
	shopURL = "https://shop.test/wp-json/wc/v3"
	cmsURL  = "https://cms.test/api"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Commerce.BaseURL = shopURL
	cfg.Blog.BaseURL = "https://shop.test/wp-json/wp/v2"
	cfg.Destination.BaseURL = cmsURL
	for _, c := range []*config.ClientConfig{&cfg.Commerce, &cfg.Blog, &cfg.Destination} {
		c.Delay = 0
		c.RetryDelay = 0
		c.MaxRetries = 0
	}
	cfg.Import.Concurrency = 2
	cfg.StateDir = t.TempDir()
	return cfg
}

func newCatalogTransport() (*httpmock.MockTransport, *int64) {
	var created int64
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", shopURL+"/products/categories", func(req *http.Request) (*http.Response, error) {
		resp := httpmock.NewStringResponse(200, `[{"id":1,"name":"Hats","slug":"hats"},{"id":2,"name":"Caps","slug":"caps","parent":1}]`)
		resp.Header.Set("X-WP-TotalPages", "1")
		return resp, nil
	})
	transport.RegisterResponder("GET", shopURL+"/customers", func(req *http.Request) (*http.Response, error) {
		resp := httpmock.NewStringResponse(200, `[{"id":7,"email":"ali@example.com","billing":{"phone":"09121234567"}},{"id":8,"email":"broken"}]`)
		resp.Header.Set("X-WP-TotalPages", "1")
		return resp, nil
	})
	transport.RegisterResponder("GET", cmsURL+"/product-categories", httpmock.NewStringResponder(200, `{"data":[]}`))
	transport.RegisterResponder("GET", cmsURL+"/users", httpmock.NewStringResponder(200, `[]`))
	transport.RegisterResponder("GET", cmsURL+"/users-permissions/roles", httpmock.NewStringResponder(200, `{"roles":[]}`))

	create := func(req *http.Request) (*http.Response, error) {
		id := atomic.AddInt64(&created, 1)
		return httpmock.NewStringResponse(200, fmt.Sprintf(`{"data":{"id":%d}}`, 100+id)), nil
	}
	transport.RegisterResponder("POST", cmsURL+"/product-categories", create)
	transport.RegisterResponder("POST", cmsURL+"/users", create)
	transport.RegisterResponder("POST", cmsURL+"/local-user-infos", create)
	return transport, &created
}

func TestRunImportsInOrderAndResumes(t *testing.T) {
	cfg := testConfig(t)
	transport, created := newCatalogTransport()

	m, err := New(cfg, WithTransport(transport))
	if err != nil {
		t.Fatalf("new migrator: %v", err)
	}
	defer m.Close()

	opts := Options{Entities: []string{importers.Users, importers.Categories}}
	runs, err := m.Run(context.Background(), opts)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(runs) != 2 || runs[0].Entity != importers.Categories || runs[1].Entity != importers.Users {
		t.Fatalf("runs = %+v, want categories then users", runs)
	}
	if runs[0].Created != 2 || runs[1].Created != 1 || runs[1].Skipped != 1 {
		t.Fatalf("unexpected stats: %+v", runs)
	}
	firstPass := atomic.LoadInt64(created)

	runs, err = m.Run(context.Background(), opts)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	for _, r := range runs {
		if r.Created != 0 || r.State != models.StateCompleted {
			t.Fatalf("second run = %+v, want nothing created", r)
		}
	}
	if atomic.LoadInt64(created) != firstPass {
		t.Fatalf("second run issued %d creates", atomic.LoadInt64(created)-firstPass)
	}

	status, err := m.Status()
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Mappings[importers.Categories].Count != 2 || status.Mappings[importers.Users].Count != 1 {
		t.Fatalf("mapping status = %+v", status.Mappings)
	}
	if cp := status.Checkpoints[importers.Categories]; cp.LastCompletedPage != 1 {
		t.Fatalf("categories checkpoint = %+v", cp)
	}

	f, err := os.Open(filepath.Join(cfg.StateDir, reportFile))
	if err != nil {
		t.Fatalf("open reports: %v", err)
	}
	defer f.Close()
	lines := 0
	for scanner := bufio.NewScanner(f); scanner.Scan(); {
		lines++
	}
	if lines != 4 {
		t.Fatalf("report lines = %d, want 4", lines)
	}
}

func TestAbortedEntityHonoursContinueOnError(t *testing.T) {
	tests := []struct {
		name            string
		continueOnError bool
		wantRuns        int
	}{
		{name: "continue", continueOnError: true, wantRuns: 2},
		{name: "stop", continueOnError: false, wantRuns: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.Import.ContinueOnError = tt.continueOnError
			transport, _ := newCatalogTransport()
			transport.RegisterResponder("GET", shopURL+"/products/categories",
				httpmock.NewStringResponder(500, `{"code":"internal_error"}`))

			m, err := New(cfg, WithTransport(transport))
			if err != nil {
				t.Fatalf("new migrator: %v", err)
			}
			defer m.Close()

			runs, err := m.Run(context.Background(), Options{Entities: []string{importers.Categories, importers.Users}})
			if err == nil || !strings.Contains(err.Error(), "import categories") {
				t.Fatalf("run error = %v, want categories failure", err)
			}
			if len(runs) != tt.wantRuns {
				t.Fatalf("runs = %+v, want %d", runs, tt.wantRuns)
			}
			if runs[0].State != models.StateAborted {
				t.Fatalf("categories state = %s", runs[0].State)
			}
			if tt.continueOnError && (runs[1].Entity != importers.Users || runs[1].Created != 1) {
				t.Fatalf("users run = %+v", runs[1])
			}
		})
	}
}

func TestResetClearsCheckpointsAndMappings(t *testing.T) {
	cfg := testConfig(t)
	transport, _ := newCatalogTransport()

	m, err := New(cfg, WithTransport(transport))
	if err != nil {
		t.Fatalf("new migrator: %v", err)
	}
	defer m.Close()

	if _, err := m.Run(context.Background(), Options{Entities: []string{importers.Categories}}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := m.Reset(importers.Categories, false); err != nil {
		t.Fatalf("reset: %v", err)
	}
	status, _ := m.Status()
	if _, ok := status.Checkpoints[importers.Categories]; ok {
		t.Fatalf("checkpoint survived reset")
	}
	if status.Mappings[importers.Categories].Count != 2 {
		t.Fatalf("mappings dropped by checkpoint-only reset")
	}

	if err := m.Reset(importers.Categories, true); err != nil {
		t.Fatalf("reset with mappings: %v", err)
	}
	if n := len(m.Mappings().All(importers.Categories)); n != 0 {
		t.Fatalf("mappings after reset = %d", n)
	}

	if err := m.Reset("widgets", false); !errors.Is(err, ErrUnknownEntity) {
		t.Fatalf("reset unknown = %v", err)
	}
}

func TestDryRunPersistsNothing(t *testing.T) {
	cfg := testConfig(t)
	transport, created := newCatalogTransport()

	m, err := New(cfg, WithTransport(transport), WithDryRun(true))
	if err != nil {
		t.Fatalf("new migrator: %v", err)
	}
	defer m.Close()

	runs, err := m.Run(context.Background(), Options{Entities: []string{importers.Categories, importers.Users}})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if runs[0].Created != 2 || !runs[0].DryRun {
		t.Fatalf("dry run stats = %+v", runs[0])
	}
	if atomic.LoadInt64(created) != 0 {
		t.Fatalf("dry run created %d records", atomic.LoadInt64(created))
	}
	status, _ := m.Status()
	if len(status.Checkpoints) != 0 || status.Mappings[importers.Categories].Count != 0 {
		t.Fatalf("dry run left state: %+v", status)
	}
}

func TestStateDirectoryIsExclusive(t *testing.T) {
	cfg := testConfig(t)
	first, err := New(cfg)
	if err != nil {
		t.Fatalf("first migrator: %v", err)
	}
	defer first.Close()

	if _, err := New(cfg); !errors.Is(err, store.ErrLocked) {
		t.Fatalf("second migrator error = %v, want locked", err)
	}
}

func TestExportMappingsCSV(t *testing.T) {
	cfg := testConfig(t)
	m, err := New(cfg)
	if err != nil {
		t.Fatalf("new migrator: %v", err)
	}
	defer m.Close()

	if err := m.Mappings().Record(importers.Products, "5", 50, nil); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := m.Mappings().Record(importers.Categories, "1", 10, nil); err != nil {
		t.Fatalf("record: %v", err)
	}

	path := filepath.Join(t.TempDir(), "mappings.csv")
	if err := m.ExportMappings(path, "csv"); err != nil {
		t.Fatalf("export: %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open export: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	if len(rows) != 3 || rows[1][0] != importers.Categories || rows[2][0] != importers.Products {
		t.Fatalf("rows = %v", rows)
	}

	if err := m.ExportMappings(path, "xml"); err == nil {
		t.Fatalf("expected unsupported format error")
	}
}

func TestSelectEntitiesKeepsDependencyOrder(t *testing.T) {
	got, err := selectEntities([]string{importers.BlogPosts, importers.Products, importers.Categories})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	want := []string{importers.Categories, importers.Products, importers.BlogPosts}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
}
