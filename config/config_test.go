package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name: "empty commerce url",
			mutate: func(cfg *Config) {
				cfg.Commerce.BaseURL = ""
			},
			wantErr: "commerce: base URL",
		},
		{
			name: "destination without host",
			mutate: func(cfg *Config) {
				cfg.Destination.BaseURL = "http://"
			},
			wantErr: "destination: base URL",
		},
		{
			name: "negative delay",
			mutate: func(cfg *Config) {
				cfg.Blog.Delay = -1 * time.Second
			},
			wantErr: "delay",
		},
		{
			name: "negative retries",
			mutate: func(cfg *Config) {
				cfg.Destination.MaxRetries = -1
			},
			wantErr: "max retries",
		},
		{
			name: "zero concurrency",
			mutate: func(cfg *Config) {
				cfg.Import.Concurrency = 0
			},
			wantErr: "concurrency",
		},
		{
			name: "batch size above source maximum",
			mutate: func(cfg *Config) {
				cfg.Import.BatchSizes.Products = 500
			},
			wantErr: "batch sizes",
		},
		{
			name: "jpeg quality out of range",
			mutate: func(cfg *Config) {
				cfg.Media.JPEGQuality = 0
			},
			wantErr: "jpeg quality",
		},
		{
			name: "zero carousel refs",
			mutate: func(cfg *Config) {
				cfg.Content.MaxCarouselRefs = 0
			},
			wantErr: "carousel refs",
		},
		{
			name: "empty state dir",
			mutate: func(cfg *Config) {
				cfg.StateDir = ""
			},
			wantErr: "state dir",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate, got %v", err)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("MIGRATOR_DESTINATION_TOKEN", "secret")
	t.Setenv("MIGRATOR_DESTINATION_BASE_URL", "https://cms.example.com/api/")
	t.Setenv("MIGRATOR_IMPORT_CATEGORY_IDS", "12, 15")
	t.Setenv("MIGRATOR_IMPORT_BATCH_ORDERS", "25")
	t.Setenv("MIGRATOR_COMMERCE_DELAY", "750ms")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Destination.Token != "secret" {
		t.Fatalf("token = %q, want secret", cfg.Destination.Token)
	}
	if cfg.Destination.BaseURL != "https://cms.example.com/api" {
		t.Fatalf("base url = %q, want trailing slash trimmed", cfg.Destination.BaseURL)
	}
	if len(cfg.Import.CategoryIDs) != 2 || cfg.Import.CategoryIDs[1] != 15 {
		t.Fatalf("category ids = %v, want [12 15]", cfg.Import.CategoryIDs)
	}
	if cfg.Import.BatchSizes.Orders != 25 {
		t.Fatalf("orders batch = %d, want 25", cfg.Import.BatchSizes.Orders)
	}
	if cfg.Commerce.Delay != 750*time.Millisecond {
		t.Fatalf("commerce delay = %v, want 750ms", cfg.Commerce.Delay)
	}
	if cfg.Import.OrderStatus["completed"] != "Done" {
		t.Fatalf("default order status map not applied")
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "migrator.yaml")
	content := "state_dir: /tmp/tracking\ncontent:\n  blog_base_path: /blog/\n  max_carousel_refs: 4\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.StateDir != "/tmp/tracking" {
		t.Fatalf("state dir = %q", cfg.StateDir)
	}
	if cfg.Content.BlogBasePath != "/blog" {
		t.Fatalf("blog base path = %q, want /blog", cfg.Content.BlogBasePath)
	}
	if cfg.Content.MaxCarouselRefs != 4 {
		t.Fatalf("max carousel refs = %d, want 4", cfg.Content.MaxCarouselRefs)
	}
}

func TestLoadRejectsBadCategoryIDs(t *testing.T) {
	t.Setenv("MIGRATOR_IMPORT_CATEGORY_IDS", "12,abc")
	if _, err := Load(""); err == nil || !strings.Contains(err.Error(), "category_ids") {
		t.Fatalf("expected category id error, got %v", err)
	}
}

func TestBatchSizesFor(t *testing.T) {
	b := DefaultConfig().Import.BatchSizes
	if got := b.For("blog-posts"); got != 20 {
		t.Fatalf("blog-posts batch = %d, want 20", got)
	}
	if got := b.For("unknown"); got != 20 {
		t.Fatalf("fallback batch = %d, want 20", got)
	}
}
