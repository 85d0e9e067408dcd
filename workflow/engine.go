package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/XCarlosEduardoX/backend-darkmart-sub000/config"
	"github.com/XCarlosEduardoX/backend-darkmart-sub000/gateway"
	"github.com/XCarlosEduardoX/backend-darkmart-sub000/mailer"
	"github.com/XCarlosEduardoX/backend-darkmart-sub000/models"
	"github.com/XCarlosEduardoX/backend-darkmart-sub000/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ErrEventDeferred: the correlation key stayed busy past the bounded wait.
// The event is acknowledged but left unrecorded, so gateway redelivery
// retries it later.
var ErrEventDeferred = errors.New("event deferred: correlation key busy")

// GatewayAPI is the subset of the gateway REST client the engine consumes.
type GatewayAPI interface {
	RetrievePaymentIntent(ctx context.Context, id string) (*gateway.PaymentIntent, error)
	RetrieveCheckoutSession(ctx context.Context, id string, expand []string) (*gateway.CheckoutSession, error)
}

// Engine applies verified gateway events to order state exactly once:
// ledger check -> correlation lock -> bounded-retry apply -> ledger commit.
type Engine struct {
	Ledger  EventLedger
	Orders  OrderStore
	Stocks  *StockReconciler
	Intents IntentStore
	Gateway GatewayAPI
	Mail    *Dispatcher
	Locks   *CorrelationLocks
	Retry   RetryPolicy
	Logger  *logrus.Logger

	// DB is used for cross-instance advisory locks; nil in unit tests.
	DB *gorm.DB

	now func() time.Time
}

// NewEngine wires an engine over explicit collaborators.
func NewEngine(ledger EventLedger, orders OrderStore, stocks StockStore, intents IntentStore, gw GatewayAPI, mail *Dispatcher, logger *logrus.Logger) *Engine {
	return &Engine{
		Ledger:  ledger,
		Orders:  orders,
		Stocks:  &StockReconciler{Stocks: stocks, Logger: logger},
		Intents: intents,
		Gateway: gw,
		Mail:    mail,
		Locks:   NewCorrelationLocks(),
		Retry:   EventRetryPolicy(),
		Logger:  logger,
		now:     time.Now,
	}
}

// NewDefaultEngine wires the production engine over gorm stores and the
// configured gateway/mail clients. Mail falls back to a log-only sender when
// the provider is not configured (local/dev).
func NewDefaultEngine(db *gorm.DB, logger *logrus.Logger) (*Engine, error) {
	gwCfg, err := config.LoadGatewayConfig()
	if err != nil {
		return nil, err
	}
	gwClient, err := gateway.NewClient(gwCfg)
	if err != nil {
		return nil, err
	}

	var sender mailer.Sender
	mailCfg, err := config.LoadMailConfig()
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "Engine"}).
			Warn("mail provider not configured; using log-only sender: " + err.Error())
		sender = mailer.LogSender{Logger: logger}
	} else {
		sender, err = mailer.NewClient(mailCfg)
		if err != nil {
			return nil, err
		}
	}

	engine := NewEngine(
		&GormEventLedger{DB: db},
		&GormOrderStore{DB: db},
		&GormStockStore{DB: db},
		&GormIntentStore{DB: db},
		gwClient,
		NewDispatcher(sender, mailCfg, logger),
		logger,
	)
	engine.DB = db
	return engine, nil
}

// ProcessEvent drives one event through the pipeline. Every return except
// ErrSignatureVerification (handled upstream) is still acknowledged to the
// gateway; a non-nil error only means the event stays out of the ledger so
// redelivery can retry it.
func (e *Engine) ProcessEvent(ctx context.Context, event gateway.Event) error {
	logger := e.Logger.WithFields(e.eventFields(ctx, event))

	exists, err := e.Ledger.Exists(ctx, event.ID)
	if err != nil {
		return err
	}
	if exists {
		logger.Info("duplicate event; already applied, acknowledging without side effects")
		return nil
	}

	key := event.CorrelationKey()
	if !e.Locks.AcquireWithWait(ctx, key, event.ID) {
		holder, _ := e.Locks.Holder(key)
		logger.WithFields(logrus.Fields{"holder_event_id": holder}).
			Warn("correlation key busy past bounded wait; deferring event")
		return ErrEventDeferred
	}
	defer e.Locks.Release(key)

	if err := e.Retry.Run(ctx, func(ctx context.Context) error {
		return e.applyEvent(ctx, event)
	}); err != nil {
		// Deliberately no ledger commit: the producer's at-least-once
		// redelivery will retry this event later.
		config.LogError(e.Logger, "workflow", "ProcessEvent", "apply exhausted", event.ID, err)
		return err
	}

	if err := e.Ledger.Record(ctx, event.ID, string(event.Type), event.CreatedAt); err != nil {
		config.LogError(e.Logger, "workflow", "ProcessEvent", "ledger commit", event.ID, err)
		return err
	}
	logger.Info("event applied and recorded")
	return nil
}

// applyEvent is the retried unit of work.
func (e *Engine) applyEvent(ctx context.Context, event gateway.Event) error {
	logger := e.Logger.WithFields(e.eventFields(ctx, event))
	key := event.CorrelationKey()

	// Cross-instance serialization; the in-memory gate only covers this
	// process. Connection-scoped, so it must run on the store's DB handle.
	if e.DB != nil {
		if err := AcquireIntentLock(e.DB, key); err != nil {
			logger.Warn("advisory intent lock unavailable: " + err.Error())
		} else {
			defer ReleaseIntentLock(e.DB, key)
		}
	}

	order, err := e.Orders.FindByCorrelation(ctx, key)
	if errors.Is(err, utils.ErrorRecordNotFound) && event.Session != nil && event.Session.ID != "" && event.Session.ID != key {
		// Session events correlate by intent id once the session has one, but
		// the order row may still only know the session id from checkout.
		order, err = e.Orders.FindByCorrelation(ctx, event.Session.ID)
	}
	if errors.Is(err, utils.ErrorRecordNotFound) {
		logger.Warn("no order for correlation key; acknowledging event without effects")
		return nil
	}
	if err != nil {
		return err
	}

	intent, session := e.resolveGatewayObjects(ctx, event, order, logger)
	detected := DetectPaymentMethod(session, intent, order)

	if intent != nil {
		if err := e.upsertIntentSnapshot(ctx, event, intent, detected); err != nil {
			return err
		}
	}

	if target, drives := targetStatusFor(event.Type); drives {
		if err := e.applyTransition(ctx, event, order, target, key, logger); err != nil {
			return err
		}
	}

	// Voucher notice is independent of the status transition outcome.
	if event.Type == gateway.EventPaymentIntentRequiresAction && detected.IsCashVoucher {
		if voucher := voucherDisplayOf(event, intent); voucher != nil {
			err := e.Mail.SendVoucherNotice(ctx, order, key, voucher)
			switch {
			case errors.Is(err, ErrVoucherRateLimited):
				logger.Info("voucher notice suppressed by rate window")
			case err != nil:
				// NotificationError is non-fatal to the event.
				logger.Error("voucher notice failed: " + err.Error())
			}
		}
	}

	return nil
}

func (e *Engine) applyTransition(ctx context.Context, event gateway.Event, order *models.Order, target models.OrderStatus, key string, logger *logrus.Entry) error {
	tr, err := PlanTransition(order, target, e.now())
	if errors.Is(err, ErrInvalidTransition) {
		// Non-fatal: skip the status update, keep independent side effects.
		logger.WithFields(logrus.Fields{
			"order_id":    order.ID,
			"from_status": order.OrderStatus,
			"to_status":   target,
		}).Error("transition rejected by state machine")
		return nil
	}
	if err != nil {
		return err
	}
	if tr.NoOp {
		logger.WithFields(logrus.Fields{"order_id": order.ID, "status": target}).
			Info("order already in target status")
		return nil
	}

	if order.PaymentIntentId == "" && key != order.CorrelationId {
		tr.Patch["payment_intent_id"] = key
	}
	if err := e.Orders.ApplyPatch(ctx, order, tr.Patch); err != nil {
		return err
	}
	order.OrderStatus = target

	if tr.EnteredCompleted {
		e.Stocks.Adjust(ctx, order.Details, AdjustMinus)
		if err := e.Mail.SendOrderConfirmation(ctx, order, key); err != nil && !errors.Is(err, ErrSendInProgress) {
			// Non-fatal: logged inside the dispatcher as well.
			logger.Error("order confirmation failed: " + err.Error())
		}
	}
	if tr.RestockItems {
		e.Stocks.Adjust(ctx, order.Details, AdjustPlus)
	}

	logger.WithFields(logrus.Fields{
		"order_id":    order.ID,
		"from_status": tr.From,
		"to_status":   tr.To,
	}).Info("order status transitioned")
	return nil
}

// resolveGatewayObjects fills in whichever of intent/session the event did
// not carry, via gateway lookups. Lookup failures degrade gracefully: the
// detector just sees less evidence.
func (e *Engine) resolveGatewayObjects(ctx context.Context, event gateway.Event, order *models.Order, logger *logrus.Entry) (*gateway.PaymentIntent, *gateway.CheckoutSession) {
	intent := event.Intent
	session := event.Session

	if e.Gateway == nil {
		return intent, session
	}

	if intent == nil {
		if id := event.CorrelationKey(); id != "" && id != event.ID {
			fetched, err := e.Gateway.RetrievePaymentIntent(ctx, id)
			if err != nil {
				logger.Warn("payment intent lookup failed; continuing without it: " + err.Error())
			} else {
				intent = fetched
			}
		}
	}
	if session == nil && order.CorrelationId != "" {
		fetched, err := e.Gateway.RetrieveCheckoutSession(ctx, order.CorrelationId, []string{"payment_intent"})
		if err != nil {
			logger.Warn("checkout session lookup failed; continuing without it: " + err.Error())
		} else {
			session = fetched
		}
	}
	return intent, session
}

func (e *Engine) upsertIntentSnapshot(ctx context.Context, event gateway.Event, intent *gateway.PaymentIntent, detected DetectedMethod) error {
	raw, _ := utils.MarshalToJSON(intent)
	snap := &models.PaymentIntentRecord{
		IntentId:  intent.ID,
		Status:    intent.Status,
		Amount:    intent.Amount,
		Currency:  intent.Currency,
		Method:    detected.Method,
		RawDetail: raw,
	}
	if detected.Suffix != "" {
		snap.CardSuffix = &detected.Suffix
	}
	return e.Intents.UpsertSnapshot(ctx, snap)
}

// targetStatusFor maps an event type to the order status it drives. The
// second return is false for event types that carry no status semantics.
func targetStatusFor(t gateway.EventType) (models.OrderStatus, bool) {
	switch t {
	case gateway.EventPaymentIntentSucceeded, gateway.EventCheckoutSessionCompleted:
		return models.OrderStatusCompleted, true
	case gateway.EventPaymentIntentRequiresAction:
		return models.OrderStatusProcessing, true
	case gateway.EventPaymentIntentFailed:
		return models.OrderStatusFailed, true
	case gateway.EventPaymentIntentCanceled:
		return models.OrderStatusCanceled, true
	case gateway.EventCheckoutSessionExpired:
		return models.OrderStatusExpired, true
	case gateway.EventChargeRefunded:
		return models.OrderStatusRefunded, true
	}
	return "", false
}

func voucherDisplayOf(event gateway.Event, intent *gateway.PaymentIntent) *gateway.VoucherDisplay {
	if event.Intent != nil && event.Intent.NextAction != nil && event.Intent.NextAction.VoucherDisplay != nil {
		return event.Intent.NextAction.VoucherDisplay
	}
	if intent != nil && intent.NextAction != nil && intent.NextAction.VoucherDisplay != nil {
		return intent.NextAction.VoucherDisplay
	}
	return nil
}

func (e *Engine) eventFields(ctx context.Context, event gateway.Event) logrus.Fields {
	fields := logrus.Fields{
		"field":      "PaymentEventEngine",
		"event_id":   event.ID,
		"event_type": event.Type,
	}
	if correlationId, ok := utils.GetCorrelationIdFromContext(ctx); ok {
		fields["correlation_id"] = correlationId
	}
	if actor, ok := utils.GetActorFromContext(ctx); ok {
		fields["actor"] = actor
	}
	return fields
}
