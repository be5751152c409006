// Package dispatch scans for elapsed schedules and turns each due slot into
// exactly one queued run.
package dispatch

import (
	"errors"
	"time"

	"github.com/reportmill/internal/models"
	"github.com/reportmill/internal/schedule"
	"github.com/reportmill/internal/store"
	"go.uber.org/zap"
)

// Enqueuer hands a queued run to the executor's work queue.
type Enqueuer interface {
	Enqueue(runID uint) bool
}

// Dispatcher is stateless between ticks: all scheduling state lives on the
// definition rows, so any number of processes can run this loop
// concurrently and restart safely.
type Dispatcher struct {
	defs     *store.Definitions
	runs     *store.Runs
	exec     Enqueuer
	interval time.Duration
	logger   *zap.Logger
	stopChan chan struct{}
	done     chan struct{}
}

func New(defs *store.Definitions, runs *store.Runs, exec Enqueuer, interval time.Duration, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		defs:     defs,
		runs:     runs,
		exec:     exec,
		interval: interval,
		logger:   logger,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (d *Dispatcher) Start() {
	go func() {
		defer close(d.done)
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()

		d.Tick(time.Now())
		for {
			select {
			case <-ticker.C:
				d.Tick(time.Now())
			case <-d.stopChan:
				return
			}
		}
	}()
}

func (d *Dispatcher) Stop() {
	close(d.stopChan)
	<-d.done
}

// Tick runs one scan. One failing definition never stops the loop.
func (d *Dispatcher) Tick(now time.Time) {
	due, err := d.defs.Due(now)
	if err != nil {
		d.logger.Error("due scan failed", zap.Error(err))
		return
	}

	for i := range due {
		def := &due[i]
		if err := d.fire(def); err != nil {
			d.logger.Error("failed to fire schedule",
				zap.Uint("definition_id", def.ID),
				zap.String("code", def.Code),
				zap.Error(err),
			)
		}
	}
}

// fire claims the definition's due slot and, if the claim wins, inserts the
// slot's run and enqueues it. At most one run is created per
// (definition, slot) no matter how many dispatchers race here.
func (d *Dispatcher) fire(def *models.ReportDefinition) error {
	slot := *def.Schedule.NextRunAt

	next, err := schedule.NextRun(def.Schedule, slot)
	if err != nil {
		return err
	}

	if err := d.defs.ClaimSlot(def.ID, slot, next); err != nil {
		if errors.Is(err, models.ErrSlotConflict) {
			return nil // another dispatcher advanced it first
		}
		return err
	}

	run := &models.ReportRun{
		Tenant:       def.Tenant,
		DefinitionID: &def.ID,
		Kind:         def.Kind,
		TriggeredBy:  models.TriggerSchedule,
		ScheduledFor: &slot,
	}
	if err := d.runs.Create(run); err != nil {
		return err
	}

	d.logger.Info("scheduled run queued",
		zap.String("definition", def.Code),
		zap.String("run", run.Code),
		zap.Time("slot", slot),
	)
	d.exec.Enqueue(run.ID)
	return nil
}
