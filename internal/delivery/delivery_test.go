package delivery

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/reportmill/internal/database"
	"github.com/reportmill/internal/models"
	"github.com/reportmill/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testEnv struct {
	dispatcher *Dispatcher
	deliveries *store.Deliveries
	defs       *store.Definitions
	slept      []time.Duration
	mu         sync.Mutex
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })

	env := &testEnv{
		deliveries: store.NewDeliveries(db),
		defs:       store.NewDefinitions(db),
	}
	env.dispatcher = NewDispatcher(env.deliveries, env.defs, Options{
		WebhookTimeout: 5 * time.Second,
		MaxAttempts:    3,
		BackoffBase:    time.Second,
	}, zap.NewNop())
	env.dispatcher.sleep = func(d time.Duration) {
		env.mu.Lock()
		env.slept = append(env.slept, d)
		env.mu.Unlock()
	}
	return env
}

func testFile(t *testing.T, format models.ExportFormat, body string) models.RunFile {
	t.Helper()
	path := filepath.Join(t.TempDir(), "report."+string(format))
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return models.RunFile{Name: filepath.Base(path), Format: format, Path: path, Bytes: int64(len(body))}
}

func successfulRun(t *testing.T, file models.RunFile) *models.ReportRun {
	t.Helper()
	return &models.ReportRun{
		Tenant:      "acme",
		Kind:        models.KindSales,
		Code:        "sales-20240101T090000-deadbeef",
		TriggeredBy: models.TriggerSchedule,
		Status:      models.RunStatusSuccess,
		Files:       []models.RunFile{file},
	}
}

func TestWebhookDeliverySuccess(t *testing.T) {
	var gotBody atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "sales-20240101T090000-deadbeef", r.Header.Get("X-Report-Run"))
		assert.Equal(t, "sales", r.Header.Get("X-Report-Kind"))
		body, _ := io.ReadAll(r.Body)
		gotBody.Store(string(body))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	env := newTestEnv(t)
	run := successfulRun(t, testFile(t, models.FormatJSON, `[{"region":"emea"}]`))
	run.ID = 1

	env.dispatcher.Fanout(run, []models.Recipient{
		{Channel: models.ChannelWebhook, Target: srv.URL, Format: models.FormatJSON},
	})

	assert.Equal(t, `[{"region":"emea"}]`, gotBody.Load())

	logs, err := env.deliveries.ForRun(run.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.DeliverySuccess, logs[0].Outcome)
	assert.Equal(t, 1, logs[0].Attempt)
	assert.True(t, logs[0].Final)
	assert.Empty(t, env.slept)
}

func TestWebhookDeliveryRetriesThenFails(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	env := newTestEnv(t)
	run := successfulRun(t, testFile(t, models.FormatCSV, "region\nemea\n"))
	run.ID = 2

	env.dispatcher.Fanout(run, []models.Recipient{
		{Channel: models.ChannelWebhook, Target: srv.URL, Format: models.FormatCSV},
	})

	assert.Equal(t, int32(3), calls.Load())

	logs, err := env.deliveries.ForRun(run.ID)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	for i, log := range logs {
		assert.Equal(t, i+1, log.Attempt)
		assert.Equal(t, models.DeliveryFailed, log.Outcome)
		assert.Contains(t, log.Error, "502")
	}
	assert.Equal(t, int64(1000), logs[0].BackoffMs)
	assert.Equal(t, int64(2000), logs[1].BackoffMs)
	assert.Equal(t, int64(0), logs[2].BackoffMs, "no wait after the last attempt")
	assert.False(t, logs[0].Final)
	assert.False(t, logs[1].Final)
	assert.True(t, logs[2].Final)

	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, env.slept)
}

func TestDeliverySkippedOnFormatMismatch(t *testing.T) {
	env := newTestEnv(t)
	run := successfulRun(t, testFile(t, models.FormatCSV, "region\nemea\n"))
	run.ID = 3

	// the recipient wants pdf but the run only exported csv
	env.dispatcher.Fanout(run, []models.Recipient{
		{Channel: models.ChannelEmail, Target: "ops@acme.test", Format: models.FormatPDF},
	})

	logs, err := env.deliveries.ForRun(run.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.DeliverySkipped, logs[0].Outcome)
	assert.True(t, logs[0].Final)
	assert.Contains(t, logs[0].Error, "format")
}

func TestFanoutReachesEveryRecipient(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	env := newTestEnv(t)
	run := successfulRun(t, testFile(t, models.FormatJSON, "[]"))
	run.ID = 4

	env.dispatcher.Fanout(run, []models.Recipient{
		{Channel: models.ChannelWebhook, Target: srv.URL, Format: models.FormatJSON},
		{Channel: models.ChannelWebhook, Target: srv.URL, Format: models.FormatJSON},
		{Channel: models.ChannelWebhook, Target: srv.URL, Format: models.FormatPDF}, // skipped
	})

	assert.Equal(t, int32(2), calls.Load())

	logs, err := env.deliveries.ForRun(run.ID)
	require.NoError(t, err)
	assert.Len(t, logs, 3)
}

func TestRunFinishedIgnoresNonScheduleRuns(t *testing.T) {
	env := newTestEnv(t)

	defID := uint(1)
	manual := &models.ReportRun{
		Status: models.RunStatusSuccess, TriggeredBy: models.TriggerManual, DefinitionID: &defID,
	}
	failed := &models.ReportRun{
		Status: models.RunStatusError, TriggeredBy: models.TriggerSchedule, DefinitionID: &defID,
	}
	orphan := &models.ReportRun{
		Status: models.RunStatusSuccess, TriggeredBy: models.TriggerSchedule,
	}

	env.dispatcher.RunFinished(manual)
	env.dispatcher.RunFinished(failed)
	env.dispatcher.RunFinished(orphan)
	env.dispatcher.Wait()

	logs, err := env.deliveries.ForRun(0)
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestRunFinishedDeliversScheduleRun(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	env := newTestEnv(t)

	def := &models.ReportDefinition{
		Tenant:        "acme",
		Code:          "daily-sales",
		Kind:          models.KindSales,
		ExportFormats: []models.ExportFormat{models.FormatJSON},
		IsActive:      true,
		Schedule: &models.ReportSchedule{
			IsEnabled: true,
			Frequency: models.FrequencyDaily,
			Timezone:  "UTC",
			TimeOfDay: "09:00",
			Recipients: []models.Recipient{
				{Channel: models.ChannelWebhook, Target: srv.URL, Format: models.FormatJSON},
			},
		},
	}
	require.NoError(t, env.defs.Create(def))

	run := successfulRun(t, testFile(t, models.FormatJSON, "[]"))
	run.ID = 9
	run.DefinitionID = &def.ID

	env.dispatcher.RunFinished(run)
	env.dispatcher.Wait()

	assert.Equal(t, int32(1), calls.Load())

	logs, err := env.deliveries.ForRun(run.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.DeliverySuccess, logs[0].Outcome)
}
