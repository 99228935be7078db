// File: /services/email_service.go
package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
	"tourops-api/config"
	"tourops-api/models"
)

// MessageSender delivers prepared messages. *gomail.Dialer satisfies it.
type MessageSender interface {
	DialAndSend(m ...*gomail.Message) error
}

const mailQueueSize = 64

type mailJob struct {
	kind string
	send func() error
}

type EmailService struct {
	config *config.Config
	sender MessageSender
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan mailJob
	done   chan struct{}
}

// NewEmailService returns nil when no SMTP host is configured; every method
// is safe to call on a nil service.
func NewEmailService(cfg *config.Config, logger *zap.Logger) *EmailService {
	if cfg.SMTPHost == "" {
		return nil
	}
	dialer := gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword)
	return NewEmailServiceWithSender(cfg, dialer, logger)
}

func NewEmailServiceWithSender(cfg *config.Config, sender MessageSender, logger *zap.Logger) *EmailService {
	if logger == nil {
		logger = zap.NewNop()
	}
	es := &EmailService{
		config: cfg,
		sender: sender,
		logger: logger,
		queue:  make(chan mailJob, mailQueueSize),
		done:   make(chan struct{}),
	}
	go es.work()
	return es
}

func (es *EmailService) work() {
	defer close(es.done)
	for job := range es.queue {
		if err := job.send(); err != nil {
			es.logger.Warn("Failed to send email", zap.String("kind", job.kind), zap.Error(err))
		}
	}
}

// enqueue hands a send to the worker. It drops the message when the queue
// is full or the service is closed.
func (es *EmailService) enqueue(kind string, send func() error) bool {
	es.mu.RLock()
	defer es.mu.RUnlock()
	if es.closed {
		es.logger.Warn("Email service closed, message dropped", zap.String("kind", kind))
		return false
	}
	select {
	case es.queue <- mailJob{kind: kind, send: send}:
		return true
	default:
		es.logger.Warn("Email queue full, message dropped", zap.String("kind", kind))
		return false
	}
}

// Close stops accepting messages and waits for queued ones until ctx ends
func (es *EmailService) Close(ctx context.Context) error {
	if es == nil {
		return nil
	}
	es.mu.Lock()
	if !es.closed {
		es.closed = true
		close(es.queue)
	}
	es.mu.Unlock()

	select {
	case <-es.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("email queue not drained: %w", ctx.Err())
	}
}

// QueueRoundCompletedEmail sends the round completed mail in the background
func (es *EmailService) QueueRoundCompletedEmail(trip models.Trip, round models.Round, recipients []string) bool {
	if es == nil || len(recipients) == 0 {
		return false
	}
	return es.enqueue("round_completed", func() error {
		return es.SendRoundCompletedEmail(&trip, &round, recipients)
	})
}

// QueueAccountCreatedEmail sends the welcome mail in the background
func (es *EmailService) QueueAccountCreatedEmail(user models.User) bool {
	if es == nil || user.Email == "" {
		return false
	}
	return es.enqueue("account_created", func() error {
		return es.SendAccountCreatedEmail(&user)
	})
}

func (es *EmailService) newMessage(to []string, subject string) *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("From", fmt.Sprintf("%s <%s>", es.config.FromName, es.config.FromEmail))
	m.SetHeader("To", to...)
	m.SetHeader("Subject", subject)
	return m
}

// SendRoundCompletedEmail tells the leads of a trip that every bus has
// finalized a round.
func (es *EmailService) SendRoundCompletedEmail(trip *models.Trip, round *models.Round, recipients []string) error {
	if es == nil || len(recipients) == 0 {
		return nil
	}

	finishedAt := "-"
	if round.ActualTime != nil {
		finishedAt = round.ActualTime.UTC().Format(time.RFC1123)
	}

	m := es.newMessage(recipients, fmt.Sprintf("%s: %s completed", trip.Name, round.Name))

	htmlBody := fmt.Sprintf(`
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Round completed</title>
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { background: #0f766e; color: white; padding: 20px; border-radius: 10px 10px 0 0; }
        .content { background: #f8f9fa; padding: 30px; border-radius: 0 0 10px 10px; }
        .footer { text-align: center; margin-top: 20px; color: #666; font-size: 14px; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header">
            <h1>%s</h1>
            <p>Stop %d completed</p>
        </div>
        <div class="content">
            <p><strong>%s</strong> at %s has been finalized by every bus.</p>
            <p>Completed at: %s</p>
        </div>
        <div class="footer">
            <p>This is an automated email, please do not reply.</p>
        </div>
    </div>
</body>
</html>`, trip.Name, round.Sequence, round.Name, round.Location, finishedAt)

	textBody := fmt.Sprintf(`%s

Stop %d, %s at %s, has been finalized by every bus.
Completed at: %s

This is an automated email, please do not reply.
`, trip.Name, round.Sequence, round.Name, round.Location, finishedAt)

	m.SetBody("text/plain", textBody)
	m.AddAlternative("text/html", htmlBody)

	if err := es.sender.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	es.logger.Info("Round completed email sent",
		zap.String("round_id", round.ID),
		zap.String("to", strings.Join(recipients, ",")),
	)
	return nil
}

// SendAccountCreatedEmail welcomes a user created by an administrator
func (es *EmailService) SendAccountCreatedEmail(user *models.User) error {
	if es == nil || user.Email == "" {
		return nil
	}

	m := es.newMessage([]string{user.Email}, "Your Tour Operations account")
	m.SetBody("text/plain", fmt.Sprintf(`Hello %s!

An account has been created for you.

Username: %s

Sign in with the password you received from your administrator and change it after the first login.

This is an automated email, please do not reply.
`, user.Name, user.Username))

	if err := es.sender.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	es.logger.Info("Account email sent", zap.Uint("user_id", user.ID))
	return nil
}
