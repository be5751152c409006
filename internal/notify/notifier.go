// Package notify posts run-failure notifications to an ops channel.
package notify

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/reportmill/internal/models"
	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

type SlackNotifier struct {
	client  *slack.Client
	channel string
	logger  *zap.Logger
}

// NewSlackNotifier returns nil when no token is configured; callers treat a
// nil notifier as disabled.
func NewSlackNotifier(token, channel string, logger *zap.Logger) *SlackNotifier {
	if token == "" {
		return nil
	}
	return &SlackNotifier{
		client:  slack.New(token),
		channel: channel,
		logger:  logger,
	}
}

// RunFinished is the executor hook. Only failed runs are announced.
func (n *SlackNotifier) RunFinished(run *models.ReportRun) {
	if n == nil || run.Status != models.RunStatusError {
		return
	}

	attachment := slack.Attachment{
		Color: "#ff0000",
		Title: "Report run failed: " + run.Code,
		Fields: []slack.AttachmentField{
			{Title: "Tenant", Value: run.Tenant, Short: true},
			{Title: "Kind", Value: string(run.Kind), Short: true},
			{Title: "Triggered by", Value: string(run.TriggeredBy), Short: true},
			{Title: "Duration", Value: strconv.FormatInt(run.DurationMs, 10) + "ms", Short: true},
			{Title: "Error", Value: run.Error, Short: false},
		},
		Footer: "reportmill",
		Ts:     json.Number(strconv.FormatInt(time.Now().Unix(), 10)),
	}

	_, _, err := n.client.PostMessage(n.channel, slack.MsgOptionAttachments(attachment))
	if err != nil {
		n.logger.Warn("failed to post failure notification", zap.String("run", run.Code), zap.Error(err))
	}
}
