// Package executor owns the run lifecycle from queued to terminal: filter
// resolution, generator invocation, export materialization and ledger
// updates.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/reportmill/internal/export"
	"github.com/reportmill/internal/generator"
	"github.com/reportmill/internal/models"
	"github.com/reportmill/internal/storage"
	"github.com/reportmill/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// checkpointRows is how often the worker looks for timeout and cancellation
// between generator reads.
const checkpointRows = 100

type Options struct {
	Workers        int
	QueueSize      int
	TenantParallel int64 // concurrent runs per tenant; caps load on the generator
	Timeout        time.Duration
	PreviewRows    int
}

type Executor struct {
	runs     *store.Runs
	defs     *store.Definitions
	registry *generator.Registry
	files    *storage.Store
	opts     Options
	logger   *zap.Logger

	queue      chan uint
	tenantSems map[string]*semaphore.Weighted
	semMu      sync.Mutex
	hooks      []func(*models.ReportRun)
	wg         sync.WaitGroup
	cancel     context.CancelFunc
}

func New(runs *store.Runs, defs *store.Definitions, registry *generator.Registry, files *storage.Store, opts Options, logger *zap.Logger) *Executor {
	return &Executor{
		runs:       runs,
		defs:       defs,
		registry:   registry,
		files:      files,
		opts:       opts,
		logger:     logger,
		queue:      make(chan uint, opts.QueueSize),
		tenantSems: make(map[string]*semaphore.Weighted),
	}
}

// OnFinished registers a hook invoked with the final run record after every
// terminal transition. The delivery dispatcher and failure notifier hang off
// this.
func (e *Executor) OnFinished(fn func(*models.ReportRun)) {
	e.hooks = append(e.hooks, fn)
}

// Start launches the worker pool and requeues runs left queued by a previous
// process.
func (e *Executor) Start(ctx context.Context) error {
	ctx, e.cancel = context.WithCancel(ctx)

	queued, err := e.runs.Queued()
	if err != nil {
		return fmt.Errorf("failed to recover queued runs: %w", err)
	}
	for _, run := range queued {
		e.Enqueue(run.ID)
	}

	for i := 0; i < e.opts.Workers; i++ {
		e.wg.Add(1)
		go e.worker(ctx)
	}
	return nil
}

func (e *Executor) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}

// Enqueue hands a queued run to the worker pool without blocking the
// caller. A full queue is not fatal: the run stays queued in the ledger and
// is picked up on the next restart.
func (e *Executor) Enqueue(runID uint) bool {
	select {
	case e.queue <- runID:
		return true
	default:
		e.logger.Warn("executor queue full, run deferred", zap.Uint("run_id", runID))
		return false
	}
}

func (e *Executor) worker(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case runID := <-e.queue:
			e.execute(ctx, runID)
		}
	}
}

func (e *Executor) tenantSem(tenant string) *semaphore.Weighted {
	e.semMu.Lock()
	defer e.semMu.Unlock()
	sem, ok := e.tenantSems[tenant]
	if !ok {
		sem = semaphore.NewWeighted(e.opts.TenantParallel)
		e.tenantSems[tenant] = sem
	}
	return sem
}

func (e *Executor) execute(ctx context.Context, runID uint) {
	run, err := e.runs.Get(runID)
	if err != nil {
		e.logger.Error("failed to load run", zap.Uint("run_id", runID), zap.Error(err))
		return
	}
	if run.Status != models.RunStatusQueued {
		return // cancelled or already picked up elsewhere
	}

	sem := e.tenantSem(run.Tenant)
	if err := sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer sem.Release(1)

	run, err = e.runs.MarkRunning(runID)
	if err != nil {
		// a cancel that landed while the run sat queued is not an error
		if !errors.Is(err, models.ErrTerminalRun) {
			e.logger.Error("failed to start run", zap.Uint("run_id", runID), zap.Error(err))
		}
		return
	}

	final := e.runOnce(ctx, run)
	if final == nil {
		return
	}

	e.logger.Info("run finished",
		zap.String("code", final.Code),
		zap.String("tenant", final.Tenant),
		zap.String("status", string(final.Status)),
		zap.Int64("rows", final.RowCount),
		zap.Int64("duration_ms", final.DurationMs),
	)
	for _, hook := range e.hooks {
		hook(final)
	}
}

// runOnce drives a single running run to a terminal status and returns the
// final record.
func (e *Executor) runOnce(ctx context.Context, run *models.ReportRun) *models.ReportRun {
	def, loc := e.resolveDefinition(run)

	filters := run.FiltersUsed
	if def != nil {
		filters = def.DefaultFilters.Merge(run.FiltersUsed)
	}
	resolved, err := ResolveFilters(filters, time.Now(), loc)
	if err != nil {
		return e.fail(run, err.Error())
	}

	formats := []models.ExportFormat{models.FormatJSON}
	if def != nil && len(def.ExportFormats) > 0 {
		formats = def.ExportFormats
	}

	gen, err := e.registry.Lookup(run.Kind)
	if err != nil {
		return e.fail(run, (&models.GeneratorError{Kind: run.Kind, Err: err}).Error())
	}

	runCtx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	it, err := gen.Generate(runCtx, run.Kind, resolved)
	if err != nil {
		return e.fail(run, (&models.GeneratorError{Kind: run.Kind, Err: err}).Error())
	}
	defer it.Close()

	result, err := e.materialize(runCtx, run, it, formats)
	if err != nil {
		e.files.Discard(run.Code)
		if errors.Is(err, errCancelled) {
			final, terr := e.runs.MarkCancelled(run.ID)
			if terr != nil {
				e.logger.Error("failed to cancel run", zap.Uint("run_id", run.ID), zap.Error(terr))
				return nil
			}
			return final
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return e.fail(run, (&models.GeneratorError{Kind: run.Kind, Timeout: true}).Error())
		}
		return e.fail(run, (&models.GeneratorError{Kind: run.Kind, Err: err}).Error())
	}

	final, err := e.runs.MarkSuccess(run.ID, result.files, result.rowCount, result.bytes, result.preview, resolved)
	if err != nil {
		e.files.Discard(run.Code)
		e.logger.Error("failed to finish run", zap.Uint("run_id", run.ID), zap.Error(err))
		return nil
	}
	return final
}

// resolveDefinition loads the run's definition through its weak reference.
// A deleted definition is still readable for history, a missing one leaves
// the run to execute on its own filters.
func (e *Executor) resolveDefinition(run *models.ReportRun) (*models.ReportDefinition, *time.Location) {
	loc := time.UTC
	if run.DefinitionID == nil {
		return nil, loc
	}
	def, err := e.defs.GetAny(*run.DefinitionID)
	if err != nil {
		return nil, loc
	}
	if def.Schedule != nil {
		if l, err := time.LoadLocation(def.Schedule.Timezone); err == nil {
			loc = l
		}
	}
	return def, loc
}

var errCancelled = errors.New("run cancelled")

type runResult struct {
	files    []models.RunFile
	rowCount int64
	bytes    int64
	preview  []map[string]any
}

// materialize streams the iterator into one writer per requested format,
// collecting the preview sample along the way. Timeout and cancellation are
// checked between row batches, never preemptively.
func (e *Executor) materialize(ctx context.Context, run *models.ReportRun, it generator.RowIterator, formats []models.ExportFormat) (*runResult, error) {
	dir, err := e.files.RunDir(run.Code)
	if err != nil {
		return nil, err
	}

	columns := it.Columns()
	writers := make(map[models.ExportFormat]export.Writer, len(formats))
	paths := make(map[models.ExportFormat]string, len(formats))
	for _, format := range formats {
		path := filepath.Join(dir, fmt.Sprintf("%s.%s", run.Code, export.Extension(format)))
		w, err := export.NewWriter(format, path, columns)
		if err != nil {
			closeAll(writers)
			return nil, err
		}
		writers[format] = w
		paths[format] = path
	}

	result := &runResult{}
	for {
		if result.rowCount%checkpointRows == 0 {
			if err := ctx.Err(); err != nil {
				closeAll(writers)
				return nil, err
			}
			cancelled, err := e.runs.CancelRequested(run.ID)
			if err == nil && cancelled {
				closeAll(writers)
				return nil, errCancelled
			}
		}

		row, err := it.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			closeAll(writers)
			return nil, err
		}

		if len(result.preview) < e.opts.PreviewRows {
			result.preview = append(result.preview, row)
		}
		for _, w := range writers {
			if err := w.WriteRow(row); err != nil {
				closeAll(writers)
				return nil, err
			}
		}
		result.rowCount++
	}

	for format, w := range writers {
		if err := w.Close(); err != nil {
			return nil, err
		}
		path := paths[format]
		size, err := e.files.Size(path)
		if err != nil {
			return nil, err
		}
		result.files = append(result.files, models.RunFile{
			Name:   filepath.Base(path),
			Format: format,
			Path:   path,
			Bytes:  size,
		})
		result.bytes += size
	}
	return result, nil
}

func closeAll(writers map[models.ExportFormat]export.Writer) {
	for _, w := range writers {
		w.Close()
	}
}

func (e *Executor) fail(run *models.ReportRun, message string) *models.ReportRun {
	e.files.Discard(run.Code)
	final, err := e.runs.MarkError(run.ID, message)
	if err != nil {
		e.logger.Error("failed to record run error", zap.Uint("run_id", run.ID), zap.Error(err))
		return nil
	}
	return final
}
