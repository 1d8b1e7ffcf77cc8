package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. MIGRATOR_DESTINATION_TOKEN.
const EnvPrefix = "MIGRATOR"

// Load reads configuration from the environment and, when path is not
// empty, from a config file. Environment variables win over the file.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, DefaultConfig())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	categoryIDs, err := parseIDs(v.GetString("import.category_ids"))
	if err != nil {
		return Config{}, fmt.Errorf("parse import.category_ids: %w", err)
	}

	defaults := DefaultConfig()
	cfg := Config{
		Commerce:    clientFrom(v, "commerce"),
		Blog:        clientFrom(v, "blog"),
		Destination: clientFrom(v, "destination"),
		Import: ImportConfig{
			Limit:           v.GetInt("import.limit"),
			Concurrency:     v.GetInt("import.concurrency"),
			ContinueOnError: v.GetBool("import.continue_on_error"),
			CategoryIDs:     categoryIDs,
			PriceMultiplier: v.GetInt("import.price_multiplier"),
			CacheRefresh:    v.GetDuration("import.cache_refresh"),
			BatchSizes: BatchSizes{
				Categories: v.GetInt("import.batch.categories"),
				Users:      v.GetInt("import.batch.users"),
				Products:   v.GetInt("import.batch.products"),
				Variations: v.GetInt("import.batch.variations"),
				Orders:     v.GetInt("import.batch.orders"),
				BlogPosts:  v.GetInt("import.batch.blog_posts"),
			},
			ProductStatus:        defaults.Import.ProductStatus,
			DefaultProductStatus: v.GetString("import.default_product_status"),
			OrderStatus:          defaults.Import.OrderStatus,
			DefaultOrderStatus:   v.GetString("import.default_order_status"),
			OrderType:            v.GetString("import.order_type"),
			ContractType:         v.GetString("import.contract_type"),
			TaxPercent:           v.GetInt("import.tax_percent"),
			PhoneCountryCode:     v.GetString("import.phone_country_code"),
			DefaultColor:         v.GetString("import.default_color"),
			DefaultColorCode:     v.GetString("import.default_color_code"),
			DefaultSize:          v.GetString("import.default_size"),
			DefaultModel:         v.GetString("import.default_model"),
			UpdateMediaOnSync:    v.GetBool("import.update_media_on_sync"),
		},
		Media: MediaConfig{
			Enabled:     v.GetBool("media.enabled"),
			MaxBytes:    v.GetInt64("media.max_bytes"),
			JPEGQuality: v.GetInt("media.jpeg_quality"),
			Timeout:     v.GetDuration("media.timeout"),
			CacheSize:   v.GetInt("media.cache_size"),
			MaxGallery:  v.GetInt("media.max_gallery"),
		},
		Content: ContentConfig{
			BlogBasePath:    strings.TrimSuffix(v.GetString("content.blog_base_path"), "/"),
			ProductBasePath: strings.TrimSuffix(v.GetString("content.product_base_path"), "/"),
			SourceHosts:     splitList(v.GetString("content.source_hosts")),
			CarouselClass:   v.GetString("content.carousel_class"),
			MaxCarouselRefs: v.GetInt("content.max_carousel_refs"),
			MaxImportDepth:  v.GetInt("content.max_import_depth"),
		},
		StateDir:    v.GetString("state_dir"),
		Verbose:     v.GetBool("verbose"),
		MetricsAddr: v.GetString("metrics_addr"),
	}

	if override := v.GetStringMapString("import.product_status_map"); len(override) > 0 {
		cfg.Import.ProductStatus = override
	}
	if override := v.GetStringMapString("import.order_status_map"); len(override) > 0 {
		cfg.Import.OrderStatus = override
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
	for name, c := range map[string]ClientConfig{
		"commerce":    d.Commerce,
		"blog":        d.Blog,
		"destination": d.Destination,
	} {
		v.SetDefault(name+".base_url", c.BaseURL)
		v.SetDefault(name+".username", c.Username)
		v.SetDefault(name+".password", c.Password)
		v.SetDefault(name+".token", c.Token)
		v.SetDefault(name+".delay", c.Delay)
		v.SetDefault(name+".timeout", c.Timeout)
		v.SetDefault(name+".max_retries", c.MaxRetries)
		v.SetDefault(name+".retry_delay", c.RetryDelay)
		v.SetDefault(name+".user_agent", c.UserAgent)
	}

	v.SetDefault("import.limit", d.Import.Limit)
	v.SetDefault("import.concurrency", d.Import.Concurrency)
	v.SetDefault("import.continue_on_error", d.Import.ContinueOnError)
	v.SetDefault("import.category_ids", "")
	v.SetDefault("import.price_multiplier", d.Import.PriceMultiplier)
	v.SetDefault("import.cache_refresh", d.Import.CacheRefresh)
	v.SetDefault("import.batch.categories", d.Import.BatchSizes.Categories)
	v.SetDefault("import.batch.users", d.Import.BatchSizes.Users)
	v.SetDefault("import.batch.products", d.Import.BatchSizes.Products)
	v.SetDefault("import.batch.variations", d.Import.BatchSizes.Variations)
	v.SetDefault("import.batch.orders", d.Import.BatchSizes.Orders)
	v.SetDefault("import.batch.blog_posts", d.Import.BatchSizes.BlogPosts)
	v.SetDefault("import.default_product_status", d.Import.DefaultProductStatus)
	v.SetDefault("import.default_order_status", d.Import.DefaultOrderStatus)
	v.SetDefault("import.order_type", d.Import.OrderType)
	v.SetDefault("import.contract_type", d.Import.ContractType)
	v.SetDefault("import.tax_percent", d.Import.TaxPercent)
	v.SetDefault("import.phone_country_code", d.Import.PhoneCountryCode)
	v.SetDefault("import.default_color", d.Import.DefaultColor)
	v.SetDefault("import.default_color_code", d.Import.DefaultColorCode)
	v.SetDefault("import.default_size", d.Import.DefaultSize)
	v.SetDefault("import.default_model", d.Import.DefaultModel)
	v.SetDefault("import.update_media_on_sync", d.Import.UpdateMediaOnSync)

	v.SetDefault("media.enabled", d.Media.Enabled)
	v.SetDefault("media.max_bytes", d.Media.MaxBytes)
	v.SetDefault("media.jpeg_quality", d.Media.JPEGQuality)
	v.SetDefault("media.timeout", d.Media.Timeout)
	v.SetDefault("media.cache_size", d.Media.CacheSize)
	v.SetDefault("media.max_gallery", d.Media.MaxGallery)

	v.SetDefault("content.blog_base_path", d.Content.BlogBasePath)
	v.SetDefault("content.product_base_path", d.Content.ProductBasePath)
	v.SetDefault("content.source_hosts", "")
	v.SetDefault("content.carousel_class", d.Content.CarouselClass)
	v.SetDefault("content.max_carousel_refs", d.Content.MaxCarouselRefs)
	v.SetDefault("content.max_import_depth", d.Content.MaxImportDepth)

	v.SetDefault("state_dir", d.StateDir)
	v.SetDefault("verbose", d.Verbose)
	v.SetDefault("metrics_addr", d.MetricsAddr)
}

func clientFrom(v *viper.Viper, name string) ClientConfig {
	return ClientConfig{
		BaseURL:    strings.TrimSuffix(v.GetString(name+".base_url"), "/"),
		Username:   v.GetString(name + ".username"),
		Password:   v.GetString(name + ".password"),
		Token:      v.GetString(name + ".token"),
		Delay:      v.GetDuration(name + ".delay"),
		Timeout:    v.GetDuration(name + ".timeout"),
		MaxRetries: v.GetInt(name + ".max_retries"),
		RetryDelay: v.GetDuration(name + ".retry_delay"),
		UserAgent:  v.GetString(name + ".user_agent"),
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseIDs(raw string) ([]int, error) {
	var ids []int
	for _, part := range splitList(raw) {
		id, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q: %w", part, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
