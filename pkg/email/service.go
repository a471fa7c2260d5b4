package email

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jordanlanch/occasions/pkg/logger"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// ErrRejected marks a provider response that will not succeed on retry.
var ErrRejected = errors.New("email rejected by provider")

// Message is one outgoing email.
type Message struct {
	ToEmail    string
	ToName     string
	ReplyTo    string
	ReplyName  string
	Subject    string
	HTML       string
	Text       string
	Categories []string
	CustomArgs map[string]string
	NoRetry    bool // one attempt only; the caller reports the error itself
}

// Sender delivers a message and returns the provider message id.
type Sender interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// Config holds email delivery settings
type Config struct {
	FromEmail     string
	FromName      string
	APIKey        string
	RetryAttempts int
	RetryBackoff  time.Duration
}

type sendGridClient interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// Service handles email sending
type Service struct {
	cfg         Config
	client      sendGridClient
	useSendGrid bool
	logger      logger.Logger
}

// NewService creates a new email service.
// If an API key is configured, emails are sent via SendGrid.
// Otherwise they are logged (development mode).
func NewService(cfg Config, log logger.Logger) *Service {
	if cfg.RetryAttempts < 1 {
		cfg.RetryAttempts = 1
	}
	s := &Service{cfg: cfg, logger: log, useSendGrid: cfg.APIKey != ""}
	if s.useSendGrid {
		s.client = sendgrid.NewSendClient(cfg.APIKey)
		log.Info("email service initialized with SendGrid")
	} else {
		log.Warn("email service in console-only mode (set SENDGRID_API_KEY for production)")
	}
	return s
}

// Send delivers msg, retrying transient provider failures with exponential backoff.
func (s *Service) Send(ctx context.Context, msg Message) (string, error) {
	if msg.ToEmail == "" {
		return "", fmt.Errorf("%w: missing recipient", ErrRejected)
	}
	if !s.useSendGrid {
		return s.logToConsole(msg), nil
	}

	sgMail := s.build(msg)
	backoff := s.cfg.RetryBackoff
	attempts := s.cfg.RetryAttempts
	if msg.NoRetry {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		id, err := s.sendOnce(ctx, sgMail)
		if err == nil {
			s.logger.Info("email sent", "to", msg.ToEmail, "message_id", id, "attempt", attempt)
			return id, nil
		}
		lastErr = err
		if errors.Is(err, ErrRejected) || attempt == attempts {
			break
		}

		s.logger.Warn("email send failed, retrying", "to", msg.ToEmail, "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("failed to send email: %w", ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	s.logger.Error("email send failed", "to", msg.ToEmail, "error", lastErr)
	return "", fmt.Errorf("failed to send email: %w", lastErr)
}

func (s *Service) sendOnce(ctx context.Context, m *mail.SGMailV3) (string, error) {
	resp, err := s.client.SendWithContext(ctx, m)
	if err != nil {
		return "", err
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return "", fmt.Errorf("sendgrid returned status %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return "", fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, resp.Body)
	}
	return messageID(resp), nil
}

func (s *Service) build(msg Message) *mail.SGMailV3 {
	from := mail.NewEmail(s.cfg.FromName, s.cfg.FromEmail)
	to := mail.NewEmail(msg.ToName, msg.ToEmail)

	m := mail.NewSingleEmail(from, msg.Subject, to, msg.Text, msg.HTML)
	if msg.ReplyTo != "" {
		m.SetReplyTo(mail.NewEmail(msg.ReplyName, msg.ReplyTo))
	}
	if len(msg.Categories) > 0 {
		m.AddCategories(msg.Categories...)
	}
	for k, v := range msg.CustomArgs {
		m.SetCustomArg(k, v)
	}
	return m
}

func messageID(resp *rest.Response) string {
	for k, v := range resp.Headers {
		if http.CanonicalHeaderKey(k) == "X-Message-Id" && len(v) > 0 {
			return v[0]
		}
	}
	return ""
}

// logToConsole logs email details (development mode)
func (s *Service) logToConsole(msg Message) string {
	id := "console-" + uuid.NewString()
	s.logger.Info("email not sent (development mode)",
		"to", msg.ToEmail,
		"to_name", msg.ToName,
		"subject", msg.Subject,
		"from", s.cfg.FromEmail,
		"message_id", id,
	)
	return id
}
