// Package media moves binary assets from the source into the destination
// media library exactly once across runs.
package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/aluiziolira/go-catalog-migrator/client"
	"github.com/aluiziolira/go-catalog-migrator/config"
	"github.com/aluiziolira/go-catalog-migrator/store"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"
)

// EntityType is the mapping store type holding uploaded assets.
const EntityType = "media"

// Uploader pushes files into the destination media library.
type Uploader interface {
	Upload(ctx context.Context, file client.Upload) (client.UploadedFile, error)
}

// Request describes one asset to migrate. MediaID is the source media
// library id when known.
type Request struct {
	URL     string
	MediaID int
	Alt     string
	Prefix  string
}

// Key returns the cache key for r.
func (r Request) Key() string {
	if r.MediaID > 0 {
		return "media:" + strconv.Itoa(r.MediaID)
	}
	return "url:" + r.URL
}

// Asset is an uploaded destination file.
type Asset struct {
	ID  int
	URL string
}

// Stats counts migration outcomes for the run summary.
type Stats struct {
	Uploaded int64
	Reused   int64
	Failed   int64
	TooLarge int64
}

// Option customises a Migrator.
type Option func(*Migrator)

// WithTransport swaps the download transport, used by tests with httpmock.
func WithTransport(rt http.RoundTripper) Option {
	return func(m *Migrator) {
		m.transport = rt
	}
}

// WithRegisterer registers the asset counter on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(m *Migrator) {
		m.registerer = reg
	}
}

// WithDryRun makes Migrate resolve only previously uploaded assets.
func WithDryRun(dryRun bool) Option {
	return func(m *Migrator) {
		m.dryRun = dryRun
	}
}

// Migrator downloads, normalises and uploads assets. Results are cached in
// process and in the mapping store, so a restart never re-uploads.
type Migrator struct {
	cfg       config.MediaConfig
	uploader  Uploader
	mappings  *store.MappingStore
	fetcher   *downloader
	downloads *lru.Cache[string, download]
	group     singleflight.Group
	dryRun    bool

	transport  http.RoundTripper
	registerer prometheus.Registerer
	assets     *prometheus.CounterVec

	mu       sync.RWMutex
	uploaded map[string]Asset

	stats Stats
}

// NewMigrator wires a Migrator to the destination and mapping store.
func NewMigrator(cfg config.MediaConfig, userAgent string, uploader Uploader, mappings *store.MappingStore, opts ...Option) (*Migrator, error) {
	m := &Migrator{
		cfg:      cfg,
		uploader: uploader,
		mappings: mappings,
		uploaded: make(map[string]Asset),
	}
	for _, opt := range opts {
		opt(m)
	}

	size := cfg.CacheSize
	if size <= 0 {
		size = 64
	}
	cache, err := lru.New[string, download](size)
	if err != nil {
		return nil, fmt.Errorf("create download cache: %w", err)
	}
	m.downloads = cache
	m.fetcher = newDownloader(cfg, userAgent, m.transport)

	m.assets = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "migrator_media_assets_total",
		Help: "Media assets handled by outcome.",
	}, []string{"outcome"})
	if m.registerer != nil {
		if err := m.registerer.Register(m.assets); err != nil {
			return nil, fmt.Errorf("register media metrics: %w", err)
		}
	}
	return m, nil
}

// Migrate returns the destination asset for req, uploading it on first use.
// Concurrent calls for the same key share one upload.
func (m *Migrator) Migrate(ctx context.Context, req Request) (Asset, error) {
	if req.URL == "" && req.MediaID == 0 {
		return Asset{}, fmt.Errorf("media request without url or id")
	}
	key := req.Key()

	if asset, ok := m.lookup(key); ok {
		m.count("reused", &m.stats.Reused)
		return asset, nil
	}
	if m.dryRun || !m.cfg.Enabled {
		return Asset{URL: req.URL}, nil
	}

	v, err, _ := m.group.Do(key, func() (any, error) {
		if asset, ok := m.lookup(key); ok {
			return asset, nil
		}
		return m.migrate(ctx, key, req)
	})
	if err != nil {
		if errors.Is(err, ErrTooLarge) {
			m.count("too_large", &m.stats.TooLarge)
		} else {
			m.count("failed", &m.stats.Failed)
		}
		slog.Warn("media migration failed",
			slog.String("url", req.URL),
			slog.Int("media_id", req.MediaID),
			slog.Any("error", err),
		)
		return Asset{}, err
	}
	return v.(Asset), nil
}

// Stats returns a snapshot of the outcome counters.
func (m *Migrator) Stats() Stats {
	return Stats{
		Uploaded: atomic.LoadInt64(&m.stats.Uploaded),
		Reused:   atomic.LoadInt64(&m.stats.Reused),
		Failed:   atomic.LoadInt64(&m.stats.Failed),
		TooLarge: atomic.LoadInt64(&m.stats.TooLarge),
	}
}

func (m *Migrator) lookup(key string) (Asset, bool) {
	m.mu.RLock()
	asset, ok := m.uploaded[key]
	m.mu.RUnlock()
	if ok {
		return asset, true
	}

	rec, ok := m.mappings.Get(EntityType, key)
	if !ok || rec.InternalID == 0 {
		return Asset{}, false
	}
	asset = Asset{ID: rec.InternalID, URL: rec.String("url")}
	m.mu.Lock()
	m.uploaded[key] = asset
	m.mu.Unlock()
	return asset, true
}

func (m *Migrator) migrate(ctx context.Context, key string, req Request) (Asset, error) {
	if req.URL == "" {
		return Asset{}, fmt.Errorf("media %s has no source url", key)
	}
	src, ok := m.downloads.Get(req.URL)
	if !ok {
		fetched, err := m.fetcher.fetch(ctx, req.URL)
		if err != nil {
			return Asset{}, err
		}
		m.downloads.Add(req.URL, fetched)
		src = fetched
	}

	norm := normalize(src, req.URL, m.cfg.JPEGQuality)
	filename := uniqueFilename(req.Prefix, req.URL, norm.ext)

	file, err := m.uploader.Upload(ctx, client.Upload{
		Filename:    filename,
		ContentType: norm.contentType,
		Data:        norm.data,
		Alt:         req.Alt,
	})
	if err != nil {
		return Asset{}, err
	}
	asset := Asset{ID: file.ID, URL: file.URL}

	m.mu.Lock()
	m.uploaded[key] = asset
	m.mu.Unlock()

	if err := m.mappings.Record(EntityType, key, asset.ID, map[string]any{
		"url":      asset.URL,
		"source":   req.URL,
		"filename": filename,
	}); err != nil {
		return asset, fmt.Errorf("record media mapping: %w", err)
	}

	m.count("uploaded", &m.stats.Uploaded)
	slog.Debug("media uploaded",
		slog.String("source", req.URL),
		slog.String("filename", filename),
		slog.String("format", norm.format),
		slog.Int("bytes", len(norm.data)),
		slog.Int("id", asset.ID),
	)
	return asset, nil
}

func (m *Migrator) count(outcome string, counter *int64) {
	atomic.AddInt64(counter, 1)
	m.assets.WithLabelValues(outcome).Inc()
}
