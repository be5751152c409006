package executor

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/reportmill/internal/database"
	"github.com/reportmill/internal/generator"
	"github.com/reportmill/internal/models"
	"github.com/reportmill/internal/storage"
	"github.com/reportmill/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type testEnv struct {
	exec     *Executor
	runs     *store.Runs
	defs     *store.Definitions
	registry *generator.Registry
	db       *gorm.DB
	root     string
	finished chan *models.ReportRun
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	dir := t.TempDir()

	db, err := database.Open(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })

	root := filepath.Join(dir, "artifacts")
	files, err := storage.New(root)
	require.NoError(t, err)

	env := &testEnv{
		runs:     store.NewRuns(db),
		defs:     store.NewDefinitions(db),
		registry: generator.NewRegistry(),
		db:       db,
		root:     root,
		finished: make(chan *models.ReportRun, 8),
	}
	env.exec = New(env.runs, env.defs, env.registry, files, opts, zap.NewNop())
	env.exec.OnFinished(func(run *models.ReportRun) { env.finished <- run })

	require.NoError(t, env.exec.Start(context.Background()))
	t.Cleanup(env.exec.Stop)
	return env
}

func defaultOptions() Options {
	return Options{
		Workers:        2,
		QueueSize:      16,
		TenantParallel: 2,
		Timeout:        5 * time.Second,
		PreviewRows:    2,
	}
}

func (env *testEnv) waitFinished(t *testing.T) *models.ReportRun {
	t.Helper()
	select {
	case run := <-env.finished:
		return run
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for run to finish")
		return nil
	}
}

func salesRows(n int) []map[string]any {
	rows := make([]map[string]any, n)
	for i := range rows {
		rows[i] = map[string]any{"region": "emea", "units": i}
	}
	return rows
}

func registerSliceGenerator(env *testEnv, kind models.ReportKind, rows []map[string]any) {
	env.registry.Register(kind, generator.Func(
		func(ctx context.Context, kind models.ReportKind, filters models.Filters) (generator.RowIterator, error) {
			return generator.NewSliceIterator([]string{"region", "units"}, rows), nil
		}))
}

func createDefinition(t *testing.T, env *testEnv) *models.ReportDefinition {
	t.Helper()
	def := &models.ReportDefinition{
		Tenant:         "acme",
		Code:           "daily-sales",
		Kind:           models.KindSales,
		ExportFormats:  []models.ExportFormat{models.FormatCSV, models.FormatJSON},
		DefaultFilters: models.Filters{Date: &models.DateFilter{Preset: models.PresetToday}},
		IsActive:       true,
	}
	require.NoError(t, env.defs.Create(def))
	return def
}

func createQueuedRun(t *testing.T, env *testEnv, def *models.ReportDefinition) *models.ReportRun {
	t.Helper()
	run := &models.ReportRun{
		Tenant:      "acme",
		Kind:        models.KindSales,
		TriggeredBy: models.TriggerManual,
	}
	if def != nil {
		run.DefinitionID = &def.ID
	}
	require.NoError(t, env.runs.Create(run))
	return run
}

func TestExecuteSuccess(t *testing.T) {
	env := newTestEnv(t, defaultOptions())
	registerSliceGenerator(env, models.KindSales, salesRows(5))
	def := createDefinition(t, env)
	run := createQueuedRun(t, env, def)

	require.True(t, env.exec.Enqueue(run.ID))
	final := env.waitFinished(t)

	assert.Equal(t, models.RunStatusSuccess, final.Status)
	assert.Equal(t, int64(5), final.RowCount)
	assert.Positive(t, final.Bytes)
	require.NotNil(t, final.StartedAt)
	require.NotNil(t, final.FinishedAt)

	require.Len(t, final.Files, 2)
	for _, f := range final.Files {
		info, err := os.Stat(f.Path)
		require.NoError(t, err, "artifact %s must exist", f.Name)
		assert.Equal(t, info.Size(), f.Bytes)
	}

	// preview capped at the configured sample size
	assert.Len(t, final.PreviewSample, 2)

	// the definition's preset resolved to a concrete range at execution time
	require.NotNil(t, final.FiltersUsed.Date)
	assert.Empty(t, final.FiltersUsed.Date.Preset)
	require.NotNil(t, final.FiltersUsed.Date.From)
	require.NotNil(t, final.FiltersUsed.Date.To)
}

func TestExecuteWithoutDefinitionDefaultsToJSON(t *testing.T) {
	env := newTestEnv(t, defaultOptions())
	registerSliceGenerator(env, models.KindSales, salesRows(3))
	run := createQueuedRun(t, env, nil)

	require.True(t, env.exec.Enqueue(run.ID))
	final := env.waitFinished(t)

	assert.Equal(t, models.RunStatusSuccess, final.Status)
	require.Len(t, final.Files, 1)
	assert.Equal(t, models.FormatJSON, final.Files[0].Format)
}

func TestExecuteGeneratorErrorDiscardsArtifacts(t *testing.T) {
	env := newTestEnv(t, defaultOptions())
	env.registry.Register(models.KindSales, generator.Func(
		func(ctx context.Context, kind models.ReportKind, filters models.Filters) (generator.RowIterator, error) {
			return &failingIterator{failAfter: 3}, nil
		}))
	def := createDefinition(t, env)
	run := createQueuedRun(t, env, def)

	require.True(t, env.exec.Enqueue(run.ID))
	final := env.waitFinished(t)

	assert.Equal(t, models.RunStatusError, final.Status)
	assert.Contains(t, final.Error, "source exploded")
	assert.Empty(t, final.Files)

	// all-or-nothing: no partial files survive
	_, err := os.Stat(filepath.Join(env.root, final.Code))
	assert.True(t, os.IsNotExist(err))
}

func TestExecuteNoGeneratorRegistered(t *testing.T) {
	env := newTestEnv(t, defaultOptions())
	run := createQueuedRun(t, env, nil)

	require.True(t, env.exec.Enqueue(run.ID))
	final := env.waitFinished(t)

	assert.Equal(t, models.RunStatusError, final.Status)
	assert.Contains(t, final.Error, "sales")
}

func TestExecuteTimeout(t *testing.T) {
	opts := defaultOptions()
	opts.Timeout = time.Nanosecond
	env := newTestEnv(t, opts)
	registerSliceGenerator(env, models.KindSales, salesRows(5))
	run := createQueuedRun(t, env, nil)

	require.True(t, env.exec.Enqueue(run.ID))
	final := env.waitFinished(t)

	assert.Equal(t, models.RunStatusError, final.Status)
	assert.Equal(t, "timeout", final.Error)
}

func TestExecuteSkipsCancelledQueuedRun(t *testing.T) {
	env := newTestEnv(t, defaultOptions())
	registerSliceGenerator(env, models.KindSales, salesRows(3))
	run := createQueuedRun(t, env, nil)

	_, err := env.runs.RequestCancel(run.ID)
	require.NoError(t, err)

	require.True(t, env.exec.Enqueue(run.ID))

	// drain with a second run so we know the worker got past the first
	probe := createQueuedRun(t, env, nil)
	require.True(t, env.exec.Enqueue(probe.ID))
	final := env.waitFinished(t)
	assert.Equal(t, probe.ID, final.ID)

	got, err := env.runs.Get(run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCancelled, got.Status)
	assert.Empty(t, got.Files)
}

func TestExecuteCancelAtCheckpoint(t *testing.T) {
	env := newTestEnv(t, defaultOptions())

	run := createQueuedRun(t, env, nil)
	env.registry.Register(models.KindSales, generator.Func(
		func(ctx context.Context, kind models.ReportKind, filters models.Filters) (generator.RowIterator, error) {
			return &cancellingIterator{db: env.db, runID: run.ID, flagAt: 10}, nil
		}))

	require.True(t, env.exec.Enqueue(run.ID))
	final := env.waitFinished(t)

	assert.Equal(t, models.RunStatusCancelled, final.Status)
	assert.Empty(t, final.Files)
	_, err := os.Stat(filepath.Join(env.root, final.Code))
	assert.True(t, os.IsNotExist(err))
}

func TestRecoverQueuedOnStart(t *testing.T) {
	dir := t.TempDir()
	db, err := database.Open(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })

	runs := store.NewRuns(db)
	orphan := &models.ReportRun{Tenant: "acme", Kind: models.KindSales, TriggeredBy: models.TriggerManual}
	require.NoError(t, runs.Create(orphan))

	files, err := storage.New(filepath.Join(dir, "artifacts"))
	require.NoError(t, err)

	registry := generator.NewRegistry()
	registry.Register(models.KindSales, generator.Func(
		func(ctx context.Context, kind models.ReportKind, filters models.Filters) (generator.RowIterator, error) {
			return generator.NewSliceIterator([]string{"region"}, salesRows(1)), nil
		}))

	finished := make(chan *models.ReportRun, 1)
	exec := New(runs, store.NewDefinitions(db), registry, files, defaultOptions(), zap.NewNop())
	exec.OnFinished(func(run *models.ReportRun) { finished <- run })

	require.NoError(t, exec.Start(context.Background()))
	t.Cleanup(exec.Stop)

	select {
	case final := <-finished:
		assert.Equal(t, orphan.ID, final.ID)
		assert.Equal(t, models.RunStatusSuccess, final.Status)
	case <-time.After(5 * time.Second):
		t.Fatal("queued run was not recovered")
	}
}

// failingIterator yields a few rows then fails mid-stream.
type failingIterator struct {
	served    int
	failAfter int
}

func (it *failingIterator) Columns() []string { return []string{"region", "units"} }

func (it *failingIterator) Next() (map[string]any, error) {
	if it.served >= it.failAfter {
		return nil, errors.New("source exploded")
	}
	it.served++
	return map[string]any{"region": "emea", "units": it.served}, nil
}

func (it *failingIterator) Close() error { return nil }

// cancellingIterator sets the run's cancel flag after flagAt rows, then keeps
// serving so the next checkpoint observes it.
type cancellingIterator struct {
	db     *gorm.DB
	runID  uint
	flagAt int
	served int
}

func (it *cancellingIterator) Columns() []string { return []string{"region", "units"} }

func (it *cancellingIterator) Next() (map[string]any, error) {
	if it.served == it.flagAt {
		err := it.db.Model(&models.ReportRun{}).
			Where("id = ?", it.runID).
			Update("cancel_requested", true).Error
		if err != nil {
			return nil, err
		}
	}
	if it.served >= 100000 {
		return nil, io.EOF
	}
	it.served++
	return map[string]any{"region": "emea", "units": it.served}, nil
}

func (it *cancellingIterator) Close() error { return nil }
