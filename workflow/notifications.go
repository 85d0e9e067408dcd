package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/XCarlosEduardoX/backend-darkmart-sub000/config"
	"github.com/XCarlosEduardoX/backend-darkmart-sub000/gateway"
	"github.com/XCarlosEduardoX/backend-darkmart-sub000/mailer"
	"github.com/XCarlosEduardoX/backend-darkmart-sub000/models"
	"github.com/sirupsen/logrus"
)

// ErrSendInProgress: a concurrent confirmation send for the same
// (orderId, transactionId) is already in flight; the caller drops the
// request instead of queueing it.
var ErrSendInProgress = errors.New("confirmation send already in progress")

// ErrVoucherRateLimited: a voucher notice for this transaction went out
// within the rate window.
var ErrVoucherRateLimited = errors.New("voucher notice rate limited")

// Dispatcher owns the two transactional-email channels. Its dedup markers
// and rate-limit timestamps are process-local: they do not survive restarts
// and do not coordinate across instances.
type Dispatcher struct {
	Sender mailer.Sender
	Logger *logrus.Logger
	From   config.MailConfig

	MaxAttempts   int
	BaseDelay     time.Duration
	VoucherWindow time.Duration

	now   func() time.Time
	sleep func(time.Duration)

	mu            sync.Mutex
	inFlight      map[string]struct{}
	voucherSentAt map[string]time.Time
}

// NewDispatcher builds a dispatcher with defaults from env.
// Env:
// - MAIL_MAX_ATTEMPTS (default 3)
// - MAIL_BASE_DELAY_MS (default 2000)
// - VOUCHER_NOTICE_WINDOW_SECONDS (default 60)
func NewDispatcher(sender mailer.Sender, from config.MailConfig, logger *logrus.Logger) *Dispatcher {
	return &Dispatcher{
		Sender:        sender,
		Logger:        logger,
		From:          from,
		MaxAttempts:   config.IntFromEnv("MAIL_MAX_ATTEMPTS", 3),
		BaseDelay:     time.Duration(config.IntFromEnv("MAIL_BASE_DELAY_MS", 2000)) * time.Millisecond,
		VoucherWindow: time.Duration(config.IntFromEnv("VOUCHER_NOTICE_WINDOW_SECONDS", 60)) * time.Second,
		now:           time.Now,
		sleep:         time.Sleep,
		inFlight:      map[string]struct{}{},
		voucherSentAt: map[string]time.Time{},
	}
}

// SendOrderConfirmation sends the completion email, at most one in flight
// per (orderId, transactionId).
func (d *Dispatcher) SendOrderConfirmation(ctx context.Context, order *models.Order, transactionId string) error {
	key := fmt.Sprintf("%d|%s", order.ID, transactionId)

	d.mu.Lock()
	if _, busy := d.inFlight[key]; busy {
		d.mu.Unlock()
		return ErrSendInProgress
	}
	d.inFlight[key] = struct{}{}
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.inFlight, key)
		d.mu.Unlock()
	}()

	msg := mailer.Message{
		To:          order.CustomerEmail,
		ToName:      order.CustomerName,
		FromAddress: d.From.FromAddress,
		FromName:    d.From.FromName,
		Subject:     fmt.Sprintf("Order %s confirmed", order.OrderNumber),
		TextBody: fmt.Sprintf(
			"Hi %s,\n\nyour payment was received and order %s is confirmed. Total: %s.\n\nThanks for shopping with us.",
			order.CustomerName, order.OrderNumber, order.Total.StringFixed(2),
		),
	}
	if err := d.sendWithRetry(ctx, msg); err != nil {
		d.Logger.WithFields(logrus.Fields{
			"field":          "NotificationDispatcher",
			"channel":        "order_confirmation",
			"order_id":       order.ID,
			"transaction_id": transactionId,
		}).Error("confirmation send failed: " + err.Error())
		return err
	}
	return nil
}

// SendVoucherNotice sends the cash-voucher email, at most once per
// transaction id per VoucherWindow. A failed send clears the window so a
// legitimate retry is not blocked by the limiter.
func (d *Dispatcher) SendVoucherNotice(ctx context.Context, order *models.Order, transactionId string, voucher *gateway.VoucherDisplay) error {
	now := d.now()

	d.mu.Lock()
	if sentAt, seen := d.voucherSentAt[transactionId]; seen && now.Sub(sentAt) < d.VoucherWindow {
		d.mu.Unlock()
		return ErrVoucherRateLimited
	}
	d.voucherSentAt[transactionId] = now
	d.mu.Unlock()

	msg := mailer.Message{
		To:          order.CustomerEmail,
		ToName:      order.CustomerName,
		FromAddress: d.From.FromAddress,
		FromName:    d.From.FromName,
		Subject:     fmt.Sprintf("Payment voucher for order %s", order.OrderNumber),
		TextBody: fmt.Sprintf(
			"Hi %s,\n\nyour order %s is reserved. Pay the cash voucher to complete it:\n%s\n\nReference: %s",
			order.CustomerName, order.OrderNumber, voucher.HostedVoucherURL, voucher.Reference,
		),
	}
	if err := d.sendWithRetry(ctx, msg); err != nil {
		d.mu.Lock()
		delete(d.voucherSentAt, transactionId)
		d.mu.Unlock()
		d.Logger.WithFields(logrus.Fields{
			"field":          "NotificationDispatcher",
			"channel":        "cash_voucher",
			"order_id":       order.ID,
			"transaction_id": transactionId,
		}).Error("voucher notice send failed: " + err.Error())
		return err
	}
	return nil
}

// sendWithRetry runs the transport with bounded attempts and exponential
// backoff; a rate-limited response doubles the next delay.
func (d *Dispatcher) sendWithRetry(ctx context.Context, msg mailer.Message) error {
	maxAttempts := d.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	sleep := d.sleep
	if sleep == nil {
		sleep = time.Sleep
	}
	policy := RetryPolicy{MaxAttempts: maxAttempts, BaseBackoff: d.BaseDelay}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = d.Sender.Send(ctx, msg)
		if lastErr == nil {
			return nil
		}
		if attempt < maxAttempts {
			delay := policy.Backoff(attempt)
			if errors.Is(lastErr, mailer.ErrRateLimited) {
				delay *= 2
			}
			sleep(delay)
		}
	}
	return lastErr
}
