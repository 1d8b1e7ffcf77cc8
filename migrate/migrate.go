// Package migrate runs the entity imports in dependency order and exposes
// the reset and status operations of the state directory.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/aluiziolira/go-catalog-migrator/client"
	"github.com/aluiziolira/go-catalog-migrator/config"
	"github.com/aluiziolira/go-catalog-migrator/content"
	"github.com/aluiziolira/go-catalog-migrator/importers"
	"github.com/aluiziolira/go-catalog-migrator/media"
	"github.com/aluiziolira/go-catalog-migrator/models"
	"github.com/aluiziolira/go-catalog-migrator/pipeline"
	"github.com/aluiziolira/go-catalog-migrator/store"
	"github.com/prometheus/client_golang/prometheus"
)

// Order is the dependency order of the entity imports.
var Order = []string{
	importers.Categories,
	importers.Users,
	importers.Products,
	importers.Variations,
	importers.Orders,
	importers.BlogPosts,
}

// ErrUnknownEntity is returned for entity names outside Order.
var ErrUnknownEntity = errors.New("migrate: unknown entity")

const reportFile = "reports.jsonl"

// Options select what one Run imports.
type Options struct {
	// Entities limits the run; empty means every entity in Order.
	Entities  []string
	Limit     int
	StartPage int
	// Reset drops the checkpoints of the selected entities before the run.
	Reset bool
}

// Option customises a Migrator.
type Option func(*settings)

type settings struct {
	transport http.RoundTripper
	dryRun    bool
}

// WithTransport routes every API call and media download through rt.
func WithTransport(rt http.RoundTripper) Option {
	return func(s *settings) {
		s.transport = rt
	}
}

// WithDryRun makes every import read-only.
func WithDryRun(dryRun bool) Option {
	return func(s *settings) {
		s.dryRun = dryRun
	}
}

// Migrator owns the state directory for the lifetime of one command.
type Migrator struct {
	cfg         config.Config
	dryRun      bool
	lock        *store.Lock
	mappings    *store.MappingStore
	checkpoints *store.CheckpointStore
	metrics     *client.Metrics
	runs        *pipeline.Metrics
	media       *media.Migrator
	deps        importers.Deps
}

// New validates cfg, locks the state directory and wires the clients.
// Close releases the lock.
func New(cfg config.Config, opts ...Option) (*Migrator, error) {
	var s settings
	for _, opt := range opts {
		opt(&s)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	lock, err := store.AcquireLock(cfg.StateDir)
	if err != nil {
		return nil, err
	}
	m, err := open(cfg, s, lock)
	if err != nil {
		if releaseErr := lock.Release(); releaseErr != nil {
			slog.Warn("release lock", slog.Any("error", releaseErr))
		}
		return nil, err
	}
	return m, nil
}

func open(cfg config.Config, s settings, lock *store.Lock) (*Migrator, error) {
	mappings, err := store.NewMappingStore(cfg.StateDir)
	if err != nil {
		return nil, err
	}
	checkpoints, err := store.NewCheckpointStore(cfg.StateDir)
	if err != nil {
		return nil, err
	}

	metrics := client.NewMetrics()
	clientOpts := []client.Option{client.WithMetrics(metrics)}
	if s.transport != nil {
		clientOpts = append(clientOpts, client.WithTransport(s.transport))
	}
	commerce, err := client.NewSource("commerce", cfg.Commerce, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create commerce client: %w", err)
	}
	blog, err := client.NewSource("blog", cfg.Blog, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create blog client: %w", err)
	}
	dest, err := client.NewDestination(cfg.Destination, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create destination client: %w", err)
	}

	mediaOpts := []media.Option{
		media.WithRegisterer(metrics.Registry),
		media.WithDryRun(s.dryRun),
	}
	if s.transport != nil {
		mediaOpts = append(mediaOpts, media.WithTransport(s.transport))
	}
	assets, err := media.NewMigrator(cfg.Media, cfg.Destination.UserAgent, dest, mappings, mediaOpts...)
	if err != nil {
		return nil, fmt.Errorf("create media migrator: %w", err)
	}

	return &Migrator{
		cfg:         cfg,
		dryRun:      s.dryRun,
		lock:        lock,
		mappings:    mappings,
		checkpoints: checkpoints,
		metrics:     metrics,
		runs:        pipeline.NewMetrics(metrics.Registry),
		media:       assets,
		deps: importers.Deps{
			Config:      cfg,
			Commerce:    commerce,
			Blog:        blog,
			Destination: dest,
			Mappings:    mappings,
			Media:       assets,
			Rewriter:    content.NewRewriter(cfg.Content, assets, mappings),
		},
	}, nil
}

// Close releases the state directory lock.
func (m *Migrator) Close() error {
	return m.lock.Release()
}

// Registry returns the Prometheus registry holding every migrator metric.
func (m *Migrator) Registry() *prometheus.Registry {
	return m.metrics.Registry
}

// MediaStats returns the media migration counters of this process.
func (m *Migrator) MediaStats() media.Stats {
	return m.media.Stats()
}

// Mappings returns the mapping store.
func (m *Migrator) Mappings() *store.MappingStore {
	return m.mappings
}

// Run imports the selected entities in dependency order. An aborted entity
// stops the run unless ContinueOnError is set, in which case later entities
// still run and the failures are joined into the returned error. Every
// finished or aborted run is appended to the report file.
func (m *Migrator) Run(ctx context.Context, opts Options) ([]models.Stats, error) {
	entities, err := selectEntities(opts.Entities)
	if err != nil {
		return nil, err
	}
	if opts.Reset {
		for _, entity := range entities {
			if err := m.resetCheckpoints(entity); err != nil {
				return nil, err
			}
		}
	}

	reports, err := pipeline.NewReportWriter(filepath.Join(m.cfg.StateDir, reportFile))
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := reports.Close(); err != nil {
			slog.Error("close report file", slog.Any("error", err))
		}
	}()

	products, err := importers.NewProductStrategy(m.deps, 0)
	if err != nil {
		return nil, err
	}

	var all []models.Stats
	var failed []error
	for _, entity := range entities {
		runs, err := m.runEntity(ctx, entity, products, opts)
		all = append(all, runs...)
		if writeErr := reports.Write(runs...); writeErr != nil {
			slog.Error("write run report", slog.Any("error", writeErr))
		}
		if err == nil {
			continue
		}
		failed = append(failed, fmt.Errorf("import %s: %w", entity, err))
		if !m.cfg.Import.ContinueOnError || ctx.Err() != nil {
			return all, errors.Join(failed...)
		}
		slog.Error("entity import aborted, continuing with the next entity",
			slog.String("entity", entity),
			slog.Any("error", err),
		)
	}
	return all, errors.Join(failed...)
}

func (m *Migrator) runEntity(ctx context.Context, entity string, products *importers.ProductStrategy, opts Options) ([]models.Stats, error) {
	base := m.pipelineOptions(entity, opts)

	switch entity {
	case importers.Categories:
		catOpts := base
		catOpts.Concurrency = 1
		return one(runStrategy[models.Category](ctx, m, importers.NewCategoryStrategy(m.deps), catOpts))
	case importers.Users:
		return one(runStrategy[models.Customer](ctx, m, importers.NewUserStrategy(m.deps), base))
	case importers.Products:
		if len(m.cfg.Import.CategoryIDs) == 0 {
			return one(runStrategy[models.Product](ctx, m, products, base))
		}
		var runs []models.Stats
		for _, categoryID := range m.cfg.Import.CategoryIDs {
			scoped, err := importers.NewProductStrategy(m.deps, categoryID)
			if err != nil {
				return runs, err
			}
			scopedOpts := base
			scopedOpts.Scope = "category-" + strconv.Itoa(categoryID)
			stats, err := runStrategy[models.Product](ctx, m, scoped, scopedOpts)
			runs = append(runs, stats)
			if err != nil {
				return runs, err
			}
		}
		return runs, nil
	case importers.Variations:
		return one(runStrategy[models.Variation](ctx, m, importers.NewVariationStrategy(m.deps), base))
	case importers.Orders:
		return one(runStrategy[models.Order](ctx, m, importers.NewOrderStrategy(m.deps), base))
	case importers.BlogPosts:
		return one(runStrategy[models.Post](ctx, m, importers.NewBlogPostStrategy(m.deps, products), base))
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, entity)
	}
}

func runStrategy[T any](ctx context.Context, m *Migrator, strategy pipeline.Strategy[T], opts pipeline.Options) (models.Stats, error) {
	importer := pipeline.NewImporter(strategy, m.mappings, m.checkpoints, pipeline.WithMetrics(m.runs))
	return importer.Run(ctx, opts)
}

func one(stats models.Stats, err error) ([]models.Stats, error) {
	return []models.Stats{stats}, err
}

func (m *Migrator) pipelineOptions(entity string, opts Options) pipeline.Options {
	limit := opts.Limit
	if limit <= 0 {
		limit = m.cfg.Import.Limit
	}
	return pipeline.Options{
		StartPage:       opts.StartPage,
		Limit:           limit,
		PerPage:         m.cfg.Import.BatchSizes.For(entity),
		Concurrency:     m.cfg.Import.Concurrency,
		ContinueOnError: m.cfg.Import.ContinueOnError,
		DryRun:          m.dryRun,
		CacheRefresh:    m.cfg.Import.CacheRefresh,
	}
}

// Reset drops the checkpoints of entity, and its mappings too when
// mappings is set. The next run starts from the first page.
func (m *Migrator) Reset(entity string, mappings bool) error {
	if _, err := selectEntities([]string{entity}); err != nil {
		return err
	}
	if err := m.resetCheckpoints(entity); err != nil {
		return err
	}
	if mappings {
		if err := m.mappings.Clear(entity); err != nil {
			return err
		}
	}
	return nil
}

func (m *Migrator) resetCheckpoints(entity string) error {
	cps, err := m.checkpoints.List()
	if err != nil {
		return err
	}
	keys := []string{entity}
	for key := range cps {
		if strings.HasPrefix(key, entity+"-category-") {
			keys = append(keys, key)
		}
	}
	for _, key := range keys {
		if err := m.checkpoints.Reset(key); err != nil {
			return err
		}
	}
	return nil
}

// Status is a snapshot of the state directory.
type Status struct {
	Checkpoints map[string]store.Checkpoint
	Mappings    map[string]store.TypeStats
}

// Status reads every checkpoint and mapping summary.
func (m *Migrator) Status() (Status, error) {
	cps, err := m.checkpoints.List()
	if err != nil {
		return Status{}, err
	}
	return Status{Checkpoints: cps, Mappings: m.mappings.Stats()}, nil
}

// ExportMappings writes every mapping to path as a JSON backup or, with
// format "csv", as one CSV row per mapping.
func (m *Migrator) ExportMappings(path, format string) error {
	switch strings.ToLower(format) {
	case "", "json":
		return m.mappings.Export(path)
	case "csv":
		writer, err := pipeline.NewCSVWriter(path)
		if err != nil {
			return err
		}
		for _, entity := range m.mappings.Types() {
			if err := writer.Write(entity, m.mappings.All(entity)); err != nil {
				writer.Close()
				return err
			}
		}
		return writer.Close()
	default:
		return fmt.Errorf("unsupported export format: %s", format)
	}
}

// ImportMappings restores a JSON backup written by ExportMappings.
func (m *Migrator) ImportMappings(path string) error {
	return m.mappings.Restore(path)
}

func selectEntities(requested []string) ([]string, error) {
	if len(requested) == 0 {
		return Order, nil
	}
	for _, e := range requested {
		if !slices.Contains(Order, e) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, e)
		}
	}
	out := make([]string, 0, len(requested))
	for _, e := range Order {
		if slices.Contains(requested, e) {
			out = append(out, e)
		}
	}
	return out, nil
}
