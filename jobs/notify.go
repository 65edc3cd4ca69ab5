package jobs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/microcosm-cc/bluemonday"

	"github.com/odyssey-erp/dre-ingest/internal/pipeline"
)

// EmailEnqueuer is satisfied by *Client.
type EmailEnqueuer interface {
	EnqueueSendEmail(ctx context.Context, payload SendEmailPayload) (*asynq.TaskInfo, error)
}

// MailNotifier queues a summary email for every finished run.
type MailNotifier struct {
	queue  EmailEnqueuer
	to     string
	policy *bluemonday.Policy
}

// NewMailNotifier returns nil when to is empty so callers can wire it unconditionally.
func NewMailNotifier(queue EmailEnqueuer, to string) *MailNotifier {
	if strings.TrimSpace(to) == "" || queue == nil {
		return nil
	}
	return &MailNotifier{queue: queue, to: to, policy: bluemonday.StrictPolicy()}
}

// Notify implements pipeline.Notifier.
func (n *MailNotifier) Notify(ctx context.Context, res pipeline.Result) error {
	if n == nil {
		return nil
	}
	_, err := n.queue.EnqueueSendEmail(ctx, SendEmailPayload{
		To:      n.to,
		Subject: fmt.Sprintf("[DRE] ingestion %s: %s", res.Status, res.BatchID),
		Body:    n.render(res),
	})
	if err != nil {
		return fmt.Errorf("notify: enqueue email: %w", err)
	}
	return nil
}

func (n *MailNotifier) render(res pipeline.Result) string {
	var b strings.Builder
	b.WriteString("<h2>Execução DRE</h2>\n<table>\n")
	row := func(label, value string) {
		fmt.Fprintf(&b, "<tr><th align=\"left\">%s</th><td>%s</td></tr>\n", label, n.policy.Sanitize(value))
	}
	row("Execução", res.ExecutionID.String())
	row("Batch", res.BatchID)
	row("Arquivo", res.FileName)
	row("Status", string(res.Status))
	row("Registros processados", fmt.Sprint(res.RecordsProcessed))
	row("Registros com falha", fmt.Sprint(res.RecordsFailed))
	row("Linhas ignoradas", fmt.Sprint(res.Skipped))
	if res.ErrorMessage != "" {
		row("Erro", res.ErrorMessage)
	}
	b.WriteString("</table>\n")
	if len(res.Steps) > 0 {
		b.WriteString("<ol>\n")
		for _, s := range res.Steps {
			fmt.Fprintf(&b, "<li>%s %s <b>%s</b> %s</li>\n",
				s.At.UTC().Format(time.RFC3339),
				n.policy.Sanitize(s.Step),
				n.policy.Sanitize(string(s.Status)),
				n.policy.Sanitize(s.Message))
		}
		b.WriteString("</ol>\n")
	}
	return b.String()
}
