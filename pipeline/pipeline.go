// Package pipeline drives the resumable, checkpointed page loop shared by
// every entity import.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aluiziolira/go-catalog-migrator/client"
	"github.com/aluiziolira/go-catalog-migrator/models"
	"github.com/aluiziolira/go-catalog-migrator/store"
)

var (
	// ErrMissingPrerequisite marks an item whose referenced parent entity
	// has not been imported yet. It fails that item only.
	ErrMissingPrerequisite = errors.New("pipeline: missing prerequisite")
)

// Outcome is what happened to one item.
type Outcome int

const (
	Skipped Outcome = iota
	Created
	Updated
)

func (o Outcome) String() string {
	switch o {
	case Created:
		return "created"
	case Updated:
		return "updated"
	default:
		return "skipped"
	}
}

// Result is returned by Strategy.Process. The importer records the mapping
// for every result that carries an InternalID, including skipped items that
// were matched to an existing destination record.
type Result struct {
	Outcome    Outcome
	InternalID int
	Metadata   map[string]any
	Reason     string
}

// Strategy supplies the entity specific parts of an import.
type Strategy[T any] interface {
	Entity() string
	Fetch(ctx context.Context, page, perPage int) (client.Page[T], error)
	ExternalID(item T) string
	// Process transforms and upserts one item. existing is the current
	// mapping, if any. In dry run it must not issue mutating calls.
	Process(ctx context.Context, item T, existing *store.Record, dryRun bool) (Result, error)
}

// Filter is implemented by strategies with a business filter.
type Filter[T any] interface {
	Keep(item T) (bool, string)
}

// Updater is implemented by strategies that upsert mapped items instead of
// skipping them.
type Updater interface {
	UpdatesMapped() bool
}

// Preparer is implemented by strategies that pre-load prerequisite caches.
// Prepare is called before the first page and again on every cache refresh.
type Preparer interface {
	Prepare(ctx context.Context) error
}

// Options control one run.
type Options struct {
	Scope           string
	StartPage       int
	Limit           int
	PerPage         int
	Concurrency     int
	ContinueOnError bool
	DryRun          bool
	CacheRefresh    time.Duration
}

// Importer runs a Strategy page by page, recording mappings and
// checkpoints after every item.
type Importer[T any] struct {
	strategy    Strategy[T]
	mappings    *store.MappingStore
	checkpoints *store.CheckpointStore
	metrics     *Metrics
	now         func() time.Time
}

// ImporterOption customises an Importer.
type ImporterOption func(*importerOptions)

type importerOptions struct {
	metrics *Metrics
	now     func() time.Time
}

// WithMetrics records item outcomes on m.
func WithMetrics(m *Metrics) ImporterOption {
	return func(o *importerOptions) {
		o.metrics = m
	}
}

// WithClock overrides the checkpoint clock, used by tests.
func WithClock(now func() time.Time) ImporterOption {
	return func(o *importerOptions) {
		o.now = now
	}
}

// NewImporter builds an Importer for strategy.
func NewImporter[T any](strategy Strategy[T], mappings *store.MappingStore, checkpoints *store.CheckpointStore, opts ...ImporterOption) *Importer[T] {
	o := importerOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Importer[T]{
		strategy:    strategy,
		mappings:    mappings,
		checkpoints: checkpoints,
		metrics:     o.metrics,
		now:         o.now,
	}
}

// Entity returns the strategy entity type.
func (im *Importer[T]) Entity() string {
	return im.strategy.Entity()
}

type itemResult struct {
	id     string
	result Result
	err    error
}

// Run imports up to opts.Limit items starting at the page after the last
// completed one. Item failures are counted; unless ContinueOnError is set
// the first one aborts the run. Page and setup failures always abort. The
// checkpoint never moves past a page that had a failed item.
func (im *Importer[T]) Run(ctx context.Context, opts Options) (models.Stats, error) {
	entity := im.strategy.Entity()
	opts = withDefaults(opts)
	key := store.CheckpointKey(entity, opts.Scope)

	cp := im.checkpoints.Load(key)
	start := max(opts.StartPage, cp.LastCompletedPage+1, 1)

	stats := models.Stats{
		Entity:    entity,
		State:     models.StateInProgress,
		DryRun:    opts.DryRun,
		StartPage: start,
		StartedAt: im.now(),
	}
	totalProcessed := cp.TotalProcessed

	slog.Info("import started",
		slog.String("entity", entity),
		slog.String("scope", opts.Scope),
		slog.Int("start_page", start),
		slog.Int("limit", opts.Limit),
		slog.Bool("dry_run", opts.DryRun),
	)

	abort := func(err error) (models.Stats, error) {
		stats.State = models.StateAborted
		stats.Error = err.Error()
		stats.FinishedAt = im.now()
		slog.Error("import aborted",
			slog.String("entity", entity),
			slog.Int("page", stats.LastPage),
			slog.Any("error", err),
		)
		return stats, err
	}

	preparer, _ := im.strategy.(Preparer)
	if preparer != nil {
		if err := preparer.Prepare(ctx); err != nil {
			return abort(fmt.Errorf("prepare %s: %w", entity, err))
		}
	}
	lastRefresh := im.now()

	// firstFailedPage pins the checkpoint below the earliest page with a
	// failed item so the next run revisits it. Items that succeeded there
	// are skipped through their mappings.
	firstFailedPage := 0
	checkpoint := func(completed int) {
		if opts.DryRun {
			return
		}
		if firstFailedPage > 0 {
			completed = min(completed, firstFailedPage-1)
		}
		im.saveCheckpoint(key, completed, totalProcessed, &stats)
	}

	processed := 0
	page := start
	for processed < opts.Limit {
		if err := ctx.Err(); err != nil {
			return abort(err)
		}
		if preparer != nil && opts.CacheRefresh > 0 && im.now().Sub(lastRefresh) >= opts.CacheRefresh {
			if err := preparer.Prepare(ctx); err != nil {
				return abort(fmt.Errorf("refresh %s caches: %w", entity, err))
			}
			lastRefresh = im.now()
			slog.Debug("caches refreshed", slog.String("entity", entity))
		}

		result, err := im.strategy.Fetch(ctx, page, opts.PerPage)
		if err != nil {
			return abort(fmt.Errorf("fetch %s page %d: %w", entity, page, err))
		}
		if len(result.Items) == 0 {
			break
		}
		stats.Pages++
		stats.LastPage = page
		im.metrics.IncPage(entity)

		items := result.Items
		truncated := false
		if remaining := opts.Limit - processed; len(items) > remaining {
			items = items[:remaining]
			truncated = true
		}

		for startIdx := 0; startIdx < len(items); startIdx += opts.Concurrency {
			end := min(startIdx+opts.Concurrency, len(items))
			outcomes := im.processBatch(ctx, items[startIdx:end], opts)

			for _, out := range outcomes {
				stats.Total++
				if out.err != nil {
					stats.Failed++
					stats.Errors++
					im.metrics.IncItem(entity, "failed")
					slog.Warn("item failed",
						slog.String("entity", entity),
						slog.String("external_id", out.id),
						slog.Int("page", page),
						slog.Any("error", out.err),
					)
					if !opts.ContinueOnError {
						return abort(fmt.Errorf("%s %s: %w", entity, out.id, out.err))
					}
					if firstFailedPage == 0 {
						firstFailedPage = page
					}
					continue
				}

				switch out.result.Outcome {
				case Created:
					stats.Created++
				case Updated:
					stats.Updated++
				default:
					stats.Skipped++
				}
				im.metrics.IncItem(entity, out.result.Outcome.String())
				totalProcessed++
				checkpoint(page - 1)
			}

			if err := ctx.Err(); err != nil {
				return abort(err)
			}
		}
		processed += len(items)

		if truncated {
			break
		}
		checkpoint(page)
		slog.Info("page complete",
			slog.String("entity", entity),
			slog.Int("page", page),
			slog.Int("total_pages", result.TotalPages),
			slog.Int("processed", processed),
		)
		if !result.HasMore() {
			break
		}
		page++
	}

	if firstFailedPage > 0 {
		slog.Warn("checkpoint held before first page with failed items",
			slog.String("entity", entity),
			slog.Int("page", firstFailedPage),
		)
	}
	stats.State = models.StateCompleted
	stats.FinishedAt = im.now()
	slog.Info("import finished",
		slog.String("entity", entity),
		slog.Int("created", stats.Created),
		slog.Int("updated", stats.Updated),
		slog.Int("skipped", stats.Skipped),
		slog.Int("failed", stats.Failed),
		slog.Duration("elapsed", stats.Duration()),
	)
	return stats, nil
}

// processBatch runs every item of batch concurrently and waits for all of
// them. Results keep the input order.
func (im *Importer[T]) processBatch(ctx context.Context, batch []T, opts Options) []itemResult {
	out := make([]itemResult, len(batch))
	var wg sync.WaitGroup
	for i, item := range batch {
		wg.Add(1)
		go func(i int, item T) {
			defer wg.Done()
			out[i] = im.processItem(ctx, item, opts)
		}(i, item)
	}
	wg.Wait()
	return out
}

func (im *Importer[T]) processItem(ctx context.Context, item T, opts Options) (res itemResult) {
	entity := im.strategy.Entity()
	id := im.strategy.ExternalID(item)
	res.id = id
	start := im.now()
	defer func() {
		if r := recover(); r != nil {
			res.err = fmt.Errorf("panic: %v", r)
		}
		im.metrics.ObserveItem(entity, im.now().Sub(start))
	}()

	var existing *store.Record
	if rec, ok := im.mappings.Get(entity, id); ok {
		if u, ok := im.strategy.(Updater); !ok || !u.UpdatesMapped() {
			res.result = Result{Outcome: Skipped, Reason: "already imported"}
			return res
		}
		existing = &rec
	}

	if f, ok := im.strategy.(Filter[T]); ok {
		if keep, reason := f.Keep(item); !keep {
			slog.Debug("item filtered",
				slog.String("entity", entity),
				slog.String("external_id", id),
				slog.String("reason", reason),
			)
			res.result = Result{Outcome: Skipped, Reason: reason}
			return res
		}
	}

	result, err := im.strategy.Process(ctx, item, existing, opts.DryRun)
	if err != nil {
		res.err = err
		return res
	}
	res.result = result

	if opts.DryRun || result.InternalID == 0 {
		return res
	}
	if err := im.mappings.Record(entity, id, result.InternalID, result.Metadata); err != nil {
		res.err = fmt.Errorf("record mapping: %w", err)
	}
	return res
}

func (im *Importer[T]) saveCheckpoint(key string, page, total int, stats *models.Stats) {
	now := im.now()
	cp := store.Checkpoint{LastCompletedPage: max(page, 0), TotalProcessed: total, LastProcessedAt: &now}
	if err := im.checkpoints.Save(key, cp); err != nil {
		stats.Errors++
		slog.Warn("checkpoint not saved",
			slog.String("key", key),
			slog.Int("page", page),
			slog.Any("error", err),
		)
	}
}

func withDefaults(opts Options) Options {
	if opts.Limit <= 0 {
		opts.Limit = 100
	}
	if opts.PerPage <= 0 {
		opts.PerPage = 20
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return opts
}
