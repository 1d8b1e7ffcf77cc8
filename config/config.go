package config

import (
	"fmt"
	"net/url"
	"time"
)

// ClientConfig describes one remote API the migrator talks to.
type ClientConfig struct {
	BaseURL    string
	Username   string // consumer key or basic auth user
	Password   string // consumer secret or basic auth password
	Token      string // bearer token, destination only
	Delay      time.Duration
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
	UserAgent  string
}

// BatchSizes holds the source page size per entity type.
type BatchSizes struct {
	Categories int
	Users      int
	Products   int
	Variations int
	Orders     int
	BlogPosts  int
}

// ImportConfig controls the importer loop and field defaults.
type ImportConfig struct {
	Limit           int
	Concurrency     int
	ContinueOnError bool
	CategoryIDs     []int
	PriceMultiplier int
	CacheRefresh    time.Duration
	BatchSizes      BatchSizes

	ProductStatus        map[string]string
	DefaultProductStatus string
	OrderStatus          map[string]string
	DefaultOrderStatus   string
	OrderType            string
	ContractType         string
	TaxPercent           int
	PhoneCountryCode     string

	DefaultColor      string
	DefaultColorCode  string
	DefaultSize       string
	DefaultModel      string
	UpdateMediaOnSync bool
}

// MediaConfig controls downloading and re-encoding of media assets.
type MediaConfig struct {
	Enabled     bool
	MaxBytes    int64
	JPEGQuality int
	Timeout     time.Duration
	CacheSize   int
	MaxGallery  int
}

// ContentConfig controls rich-text rewriting.
type ContentConfig struct {
	BlogBasePath    string
	ProductBasePath string
	SourceHosts     []string
	CarouselClass   string
	MaxCarouselRefs int
	MaxImportDepth  int
}

// Config is built once at startup and handed to every constructor by value.
type Config struct {
	Commerce    ClientConfig
	Blog        ClientConfig
	Destination ClientConfig
	Import      ImportConfig
	Media       MediaConfig
	Content     ContentConfig
	StateDir    string
	Verbose     bool
	MetricsAddr string
}

const defaultUserAgent = "go-catalog-migrator/1.0"

// DefaultConfig returns conservative defaults for a local destination.
func DefaultConfig() Config {
	return Config{
		Commerce: ClientConfig{
			BaseURL:    "https://shop.example.com/wp-json/wc/v3",
			Delay:      500 * time.Millisecond,
			Timeout:    30 * time.Second,
			MaxRetries: 3,
			RetryDelay: 2 * time.Second,
			UserAgent:  defaultUserAgent,
		},
		Blog: ClientConfig{
			BaseURL:    "https://shop.example.com/wp-json/wp/v2",
			Delay:      300 * time.Millisecond,
			Timeout:    30 * time.Second,
			MaxRetries: 3,
			RetryDelay: 2 * time.Second,
			UserAgent:  defaultUserAgent,
		},
		Destination: ClientConfig{
			BaseURL:    "http://localhost:1337/api",
			Delay:      100 * time.Millisecond,
			Timeout:    60 * time.Second,
			MaxRetries: 3,
			RetryDelay: 2 * time.Second,
			UserAgent:  defaultUserAgent,
		},
		Import: ImportConfig{
			Limit:           100,
			Concurrency:     5,
			ContinueOnError: true,
			PriceMultiplier: 1,
			CacheRefresh:    5 * time.Minute,
			BatchSizes: BatchSizes{
				Categories: 100,
				Users:      50,
				Products:   100,
				Variations: 100,
				Orders:     50,
				BlogPosts:  20,
			},
			ProductStatus: map[string]string{
				"publish": "Active",
				"draft":   "InActive",
				"private": "InActive",
				"pending": "InActive",
			},
			DefaultProductStatus: "Active",
			OrderStatus: map[string]string{
				"pending":    "Paying",
				"processing": "Started",
				"on-hold":    "Started",
				"completed":  "Done",
				"cancelled":  "Cancelled",
				"refunded":   "Returned",
				"failed":     "Cancelled",
			},
			DefaultOrderStatus: "Paying",
			OrderType:          "Automatic",
			ContractType:       "Cash",
			TaxPercent:         10,
			PhoneCountryCode:   "98",
			DefaultColor:       "Light Gray",
			DefaultColorCode:   "#CCCCCC",
			DefaultSize:        "One Size",
			DefaultModel:       "Standard",
		},
		Media: MediaConfig{
			Enabled:     true,
			MaxBytes:    10 << 20,
			JPEGQuality: 85,
			Timeout:     30 * time.Second,
			CacheSize:   256,
			MaxGallery:  999,
		},
		Content: ContentConfig{
			BlogBasePath:    "",
			ProductBasePath: "/product",
			CarouselClass:   "product-carousel",
			MaxCarouselRefs: 6,
			MaxImportDepth:  2,
		},
		StateDir: "import-tracking",
	}
}

// Validate ensures all configuration values are coherent.
func (c Config) Validate() error {
	clients := []struct {
		name string
		cfg  ClientConfig
	}{
		{"commerce", c.Commerce},
		{"blog", c.Blog},
		{"destination", c.Destination},
	}
	for _, cl := range clients {
		if err := cl.cfg.validate(); err != nil {
			return fmt.Errorf("%s: %w", cl.name, err)
		}
	}

	if c.Import.Limit <= 0 {
		return fmt.Errorf("import limit must be positive")
	}
	if c.Import.Concurrency <= 0 {
		return fmt.Errorf("import concurrency must be positive")
	}
	if c.Import.PriceMultiplier <= 0 {
		return fmt.Errorf("price multiplier must be positive")
	}
	if c.Import.CacheRefresh < 0 {
		return fmt.Errorf("cache refresh cannot be negative")
	}
	b := c.Import.BatchSizes
	for _, size := range []int{b.Categories, b.Users, b.Products, b.Variations, b.Orders, b.BlogPosts} {
		if size <= 0 || size > 100 {
			return fmt.Errorf("batch sizes must be between 1 and 100")
		}
	}
	if c.Media.MaxBytes <= 0 {
		return fmt.Errorf("media max bytes must be positive")
	}
	if c.Media.JPEGQuality < 1 || c.Media.JPEGQuality > 100 {
		return fmt.Errorf("jpeg quality must be between 1 and 100")
	}
	if c.Media.Timeout <= 0 {
		return fmt.Errorf("media timeout must be positive")
	}
	if c.Content.CarouselClass == "" {
		return fmt.Errorf("carousel class cannot be empty")
	}
	if c.Content.MaxCarouselRefs <= 0 {
		return fmt.Errorf("max carousel refs must be positive")
	}
	if c.Content.MaxImportDepth < 0 {
		return fmt.Errorf("max import depth cannot be negative")
	}
	if c.StateDir == "" {
		return fmt.Errorf("state dir cannot be empty")
	}
	return nil
}

func (c ClientConfig) validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}
	parsed, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if parsed.Host == "" {
		return fmt.Errorf("base URL must include a host")
	}
	if c.Delay < 0 {
		return fmt.Errorf("delay cannot be negative")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.RetryDelay < 0 {
		return fmt.Errorf("retry delay cannot be negative")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	return nil
}

// For returns the configured page size for an entity type.
func (b BatchSizes) For(entity string) int {
	switch entity {
	case "categories":
		return b.Categories
	case "users":
		return b.Users
	case "products":
		return b.Products
	case "variations":
		return b.Variations
	case "orders":
		return b.Orders
	case "blog-posts":
		return b.BlogPosts
	default:
		return 20
	}
}
