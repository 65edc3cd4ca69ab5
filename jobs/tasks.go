package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"
	"strings"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeSendEmail is the task type for sending transactional emails.
	TaskTypeSendEmail = "mail:send"
)

// SendEmailPayload describes the information required to send an email.
type SendEmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	// Body is an HTML fragment.
	Body string `json:"body"`
}

// NewSendEmailTask constructs an Asynq task.
func NewSendEmailTask(payload SendEmailPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSendEmail, data, asynq.Queue(QueueDefault), asynq.MaxRetry(5)), nil
}

// Mailer delivers one message.
type Mailer interface {
	Send(ctx context.Context, msg SendEmailPayload) error
}

// SMTPMailer sends through a plain SMTP relay such as Mailpit or Postfix.
type SMTPMailer struct {
	Addr string
	From string
	Auth smtp.Auth
}

// NewSMTPMailer builds a mailer for host:port.
func NewSMTPMailer(host string, port int, from string) *SMTPMailer {
	return &SMTPMailer{Addr: net.JoinHostPort(host, strconv.Itoa(port)), From: from}
}

// Send implements Mailer.
func (m *SMTPMailer) Send(ctx context.Context, msg SendEmailPayload) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	recipients := splitRecipients(msg.To)
	if len(recipients) == 0 {
		return errors.New("mail: no recipients")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", m.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(recipients, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", strings.NewReplacer("\r", " ", "\n", " ").Replace(msg.Subject))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
	b.WriteString(msg.Body)
	return smtp.SendMail(m.Addr, m.Auth, m.From, recipients, []byte(b.String()))
}

func splitRecipients(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// SendEmailJob handles TaskTypeSendEmail.
type SendEmailJob struct {
	Mailer Mailer
	Logger *slog.Logger
}

// Handle processes TaskTypeSendEmail tasks.
func (j *SendEmailJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload SendEmailPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decode mail payload: %v: %w", err, asynq.SkipRetry)
	}
	if len(splitRecipients(payload.To)) == 0 {
		return fmt.Errorf("mail without recipients: %w", asynq.SkipRetry)
	}
	if j.Mailer == nil {
		j.log().Info("mailer not configured, dropping email", slog.String("to", payload.To), slog.String("subject", payload.Subject))
		return nil
	}
	if err := j.Mailer.Send(ctx, payload); err != nil {
		j.log().Warn("send email", slog.String("to", payload.To), slog.Any("error", err))
		return err
	}
	j.log().Info("email sent", slog.String("to", payload.To), slog.String("subject", payload.Subject))
	return nil
}

func (j *SendEmailJob) log() *slog.Logger {
	if j.Logger == nil {
		return slog.Default()
	}
	return j.Logger
}
