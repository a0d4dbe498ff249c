package delivery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/harunnryd/tally/internal/config"
	tallyErrors "github.com/harunnryd/tally/internal/errors"
	"github.com/harunnryd/tally/internal/logger"
)

// SMTP sends through an authenticated SMTP relay.
type SMTP struct {
	host     string
	port     int
	username string
	password string
	from     string
	fromName string
	policy   mail.TLSPolicy
	timeout  time.Duration
}

func NewSMTP(cfg config.DeliveryConfig) (*SMTP, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, tallyErrors.InvalidInput("delivery host is required")
	}

	from := cfg.From
	if from == "" {
		from = cfg.Username
	}
	if from == "" {
		return nil, tallyErrors.InvalidInput("delivery from address is required")
	}

	policy, err := parseTLSPolicy(cfg.TLSPolicy)
	if err != nil {
		return nil, err
	}

	timeout, err := config.DurationOrDefault(cfg.Timeout, config.DefaultDeliveryTimeout)
	if err != nil {
		return nil, tallyErrors.InvalidInput(fmt.Sprintf("delivery timeout: %v", err))
	}

	port := cfg.Port
	if port <= 0 {
		port = config.DefaultDeliveryPort
	}

	return &SMTP{
		host:     cfg.Host,
		port:     port,
		username: cfg.Username,
		password: cfg.Password,
		from:     from,
		fromName: cfg.FromName,
		policy:   policy,
		timeout:  timeout,
	}, nil
}

func parseTLSPolicy(s string) (mail.TLSPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "mandatory":
		return mail.TLSMandatory, nil
	case "opportunistic":
		return mail.TLSOpportunistic, nil
	case "none":
		return mail.NoTLS, nil
	default:
		return mail.TLSMandatory, tallyErrors.InvalidInput(fmt.Sprintf("unknown tls_policy %q", s))
	}
}

func (s *SMTP) Send(ctx context.Context, msg Message) bool {
	log := logger.From(ctx)

	m, err := s.build(msg)
	if err != nil {
		log.Error("Failed to build message", "to", msg.To, "error", err)
		return false
	}

	opts := []mail.Option{
		mail.WithPort(s.port),
		mail.WithTLSPolicy(s.policy),
		mail.WithTimeout(s.timeout),
	}
	if s.username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.username),
			mail.WithPassword(s.password),
		)
	}

	client, err := mail.NewClient(s.host, opts...)
	if err != nil {
		log.Error("Failed to create SMTP client", "host", s.host, "error", err)
		return false
	}

	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		log.Error("Failed to send message", "to", msg.To, "subject", msg.Subject, "error", err)
		return false
	}

	log.Info("Message sent", "to", msg.To, "subject", msg.Subject)
	return true
}

func (s *SMTP) build(msg Message) (*mail.Msg, error) {
	m := mail.NewMsg()
	if s.fromName != "" {
		if err := m.FromFormat(s.fromName, s.from); err != nil {
			return nil, fmt.Errorf("from: %w", err)
		}
	} else if err := m.From(s.from); err != nil {
		return nil, fmt.Errorf("from: %w", err)
	}

	if msg.ToName != "" {
		if err := m.AddToFormat(msg.ToName, msg.To); err != nil {
			return nil, fmt.Errorf("to: %w", err)
		}
	} else if err := m.To(msg.To); err != nil {
		return nil, fmt.Errorf("to: %w", err)
	}

	m.Subject(msg.Subject)
	m.SetBodyString(mail.TypeTextPlain, msg.Text)
	if msg.HTML != "" {
		m.AddAlternativeString(mail.TypeTextHTML, msg.HTML)
	}
	return m, nil
}
