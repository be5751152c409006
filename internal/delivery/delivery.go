// Package delivery fans a successful run's files out to the schedule's
// recipients. Delivery failures are their own failure domain: they are
// retried, logged, and never touch the run's status.
package delivery

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/reportmill/internal/models"
	"github.com/reportmill/internal/store"
	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

var contentTypes = map[models.ExportFormat]string{
	models.FormatCSV:  "text/csv",
	models.FormatJSON: "application/json",
	models.FormatXLSX: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	models.FormatPDF:  "application/pdf",
}

// Deliverable is one concrete delivery channel bound to a target.
type Deliverable interface {
	Channel() models.DeliveryChannel
	Deliver(ctx context.Context, run *models.ReportRun, file models.RunFile) error
}

// EmailSender delivers a run file as a mail attachment.
type EmailSender struct {
	dialer *gomail.Dialer
	from   string
	target string
}

func (s *EmailSender) Channel() models.DeliveryChannel { return models.ChannelEmail }

func (s *EmailSender) Deliver(_ context.Context, run *models.ReportRun, file models.RunFile) error {
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", s.target)
	m.SetHeader("Subject", fmt.Sprintf("Report %s (%s)", run.Code, run.Kind))
	m.SetBody("text/plain", fmt.Sprintf(
		"Report run %s finished with %d rows.\nGenerated: %s\n",
		run.Code, run.RowCount, time.Now().Format(time.RFC3339)))
	m.Attach(file.Path)
	return s.dialer.DialAndSend(m)
}

// WebhookSender POSTs the file body to the target URL. Retries are handled
// by the dispatcher, not by the HTTP client.
type WebhookSender struct {
	client *resty.Client
	target string
}

func (s *WebhookSender) Channel() models.DeliveryChannel { return models.ChannelWebhook }

func (s *WebhookSender) Deliver(ctx context.Context, run *models.ReportRun, file models.RunFile) error {
	body, err := os.ReadFile(file.Path)
	if err != nil {
		return err
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", contentTypes[file.Format]).
		SetHeader("X-Report-Run", run.Code).
		SetHeader("X-Report-Kind", string(run.Kind)).
		SetBody(body).
		Post(s.target)
	if err != nil {
		return err
	}
	if resp.StatusCode() < 200 || resp.StatusCode() > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode())
	}
	return nil
}

type Options struct {
	SMTPHost       string
	SMTPPort       int
	EmailFrom      string
	EmailPassword  string
	WebhookTimeout time.Duration
	MaxAttempts    int
	BackoffBase    time.Duration
}

// Dispatcher delivers successful schedule-triggered runs to the owning
// schedule's recipients with bounded retries.
type Dispatcher struct {
	deliveries *store.Deliveries
	defs       *store.Definitions
	dialer     *gomail.Dialer
	webhook    *resty.Client
	opts       Options
	logger     *zap.Logger

	// sleep is swapped out by tests to avoid real backoff waits
	sleep func(time.Duration)
	wg    sync.WaitGroup
}

func NewDispatcher(deliveries *store.Deliveries, defs *store.Definitions, opts Options, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		deliveries: deliveries,
		defs:       defs,
		dialer:     gomail.NewDialer(opts.SMTPHost, opts.SMTPPort, opts.EmailFrom, opts.EmailPassword),
		webhook:    resty.New().SetTimeout(opts.WebhookTimeout),
		opts:       opts,
		logger:     logger,
		sleep:      time.Sleep,
	}
}

// RunFinished is the executor hook. Only successful schedule-triggered runs
// fan out; manual and API runs are never auto-delivered.
func (d *Dispatcher) RunFinished(run *models.ReportRun) {
	if run.Status != models.RunStatusSuccess || run.TriggeredBy != models.TriggerSchedule {
		return
	}
	if run.DefinitionID == nil {
		return
	}

	def, err := d.defs.GetAny(*run.DefinitionID)
	if err != nil || def.Schedule == nil {
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.Fanout(run, def.Schedule.Recipients)
	}()
}

// Wait blocks until all in-flight fanouts complete. Used at shutdown and in
// tests.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Fanout delivers to every recipient concurrently. Log appends are safe per
// recipient because the delivery log is append-only.
func (d *Dispatcher) Fanout(run *models.ReportRun, recipients []models.Recipient) {
	var wg sync.WaitGroup
	for _, r := range recipients {
		wg.Add(1)
		go func(recipient models.Recipient) {
			defer wg.Done()
			d.deliverRecipient(run, recipient)
		}(r)
	}
	wg.Wait()
}

func (d *Dispatcher) deliverRecipient(run *models.ReportRun, recipient models.Recipient) {
	file, ok := findFile(run.Files, recipient.Format)
	if !ok {
		// configuration mismatch, not a failure: the schedule asks for a
		// format the definition does not export
		d.logger.Warn("recipient format not exported, delivery skipped",
			zap.String("run", run.Code),
			zap.String("target", recipient.Target),
			zap.String("format", string(recipient.Format)),
		)
		d.append(run, recipient, 1, models.DeliverySkipped, "format not in definition export formats", 0, true)
		return
	}

	sender := d.senderFor(recipient)
	ctx := context.Background()

	for attempt := 1; attempt <= d.opts.MaxAttempts; attempt++ {
		err := sender.Deliver(ctx, run, file)
		if err == nil {
			d.append(run, recipient, attempt, models.DeliverySuccess, "", 0, true)
			return
		}

		last := attempt == d.opts.MaxAttempts
		var backoff time.Duration
		if !last {
			backoff = d.opts.BackoffBase << (attempt - 1)
		}
		d.append(run, recipient, attempt, models.DeliveryFailed, err.Error(), backoff.Milliseconds(), last)

		if last {
			d.logger.Warn("delivery permanently failed",
				zap.String("run", run.Code),
				zap.String("channel", string(recipient.Channel)),
				zap.String("target", recipient.Target),
				zap.Int("attempts", attempt),
				zap.Error(err),
			)
			return
		}
		d.sleep(backoff)
	}
}

func (d *Dispatcher) senderFor(recipient models.Recipient) Deliverable {
	if recipient.Channel == models.ChannelEmail {
		return &EmailSender{dialer: d.dialer, from: d.opts.EmailFrom, target: recipient.Target}
	}
	return &WebhookSender{client: d.webhook, target: recipient.Target}
}

func (d *Dispatcher) append(run *models.ReportRun, recipient models.Recipient, attempt int, outcome models.DeliveryOutcome, errMsg string, backoffMs int64, final bool) {
	entry := &models.DeliveryLog{
		Tenant:    run.Tenant,
		RunID:     run.ID,
		Channel:   recipient.Channel,
		Target:    recipient.Target,
		Format:    recipient.Format,
		Attempt:   attempt,
		Outcome:   outcome,
		Error:     errMsg,
		BackoffMs: backoffMs,
		Final:     final,
	}
	if err := d.deliveries.Append(entry); err != nil {
		d.logger.Error("failed to append delivery log", zap.String("run", run.Code), zap.Error(err))
	}
}

func findFile(files []models.RunFile, format models.ExportFormat) (models.RunFile, bool) {
	for _, f := range files {
		if f.Format == format {
			return f, true
		}
	}
	return models.RunFile{}, false
}
