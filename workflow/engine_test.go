package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/XCarlosEduardoX/backend-darkmart-sub000/gateway"
	"github.com/XCarlosEduardoX/backend-darkmart-sub000/models"
	"github.com/XCarlosEduardoX/backend-darkmart-sub000/utils"
)

type fakeLedger struct {
	mu       sync.Mutex
	applied  map[string]bool
	recorded int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{applied: map[string]bool{}}
}

func (l *fakeLedger) Exists(_ context.Context, eventId string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.applied[eventId], nil
}

func (l *fakeLedger) Record(_ context.Context, eventId, _ string, _ time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.applied[eventId] = true
	l.recorded++
	return nil
}

// fakeOrderStore serves copies of a single order and applies patches to the
// backing row, mimicking re-read semantics across retry attempts.
type fakeOrderStore struct {
	mu          sync.Mutex
	order       models.Order
	finds       int
	patchCalls  int
	stalePasses int // ApplyPatch returns ErrStaleOrder for the first N calls
	patches     []map[string]interface{}
}

func (s *fakeOrderStore) FindByCorrelation(_ context.Context, key string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finds++
	if key != s.order.CorrelationId && key != s.order.PaymentIntentId {
		return nil, utils.ErrorRecordNotFound
	}
	copied := s.order
	copied.Details = append([]models.OrderDetail(nil), s.order.Details...)
	return &copied, nil
}

func (s *fakeOrderStore) ApplyPatch(_ context.Context, order *models.Order, patch map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patchCalls++
	if s.patchCalls <= s.stalePasses {
		return ErrStaleOrder
	}
	s.patches = append(s.patches, patch)
	if status, ok := patch["order_status"].(models.OrderStatus); ok {
		s.order.OrderStatus = status
	}
	if intentId, ok := patch["payment_intent_id"].(string); ok {
		s.order.PaymentIntentId = intentId
	}
	s.order.Version++
	order.Version++
	return nil
}

type fakeIntentStore struct {
	mu    sync.Mutex
	snaps []*models.PaymentIntentRecord
}

func (s *fakeIntentStore) UpsertSnapshot(_ context.Context, snap *models.PaymentIntentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps = append(s.snaps, snap)
	return nil
}

type fakeGatewayAPI struct {
	intent  *gateway.PaymentIntent
	session *gateway.CheckoutSession
}

func (g *fakeGatewayAPI) RetrievePaymentIntent(_ context.Context, id string) (*gateway.PaymentIntent, error) {
	if g.intent == nil || g.intent.ID != id {
		return nil, errors.New("no such payment_intent")
	}
	return g.intent, nil
}

func (g *fakeGatewayAPI) RetrieveCheckoutSession(_ context.Context, id string, _ []string) (*gateway.CheckoutSession, error) {
	if g.session == nil || g.session.ID != id {
		return nil, errors.New("no such checkout.session")
	}
	return g.session, nil
}

type engineFixture struct {
	engine  *Engine
	ledger  *fakeLedger
	orders  *fakeOrderStore
	stocks  *fakeStockStore
	intents *fakeIntentStore
	sender  *fakeSender
}

func newEngineFixture(order models.Order) *engineFixture {
	f := &engineFixture{
		ledger:  newFakeLedger(),
		orders:  &fakeOrderStore{order: order},
		stocks:  newFakeStockStore(),
		intents: &fakeIntentStore{},
		sender:  &fakeSender{},
	}
	logger := discardLogger()
	f.engine = NewEngine(f.ledger, f.orders, f.stocks, f.intents, &fakeGatewayAPI{}, newTestDispatcher(f.sender), logger)
	f.engine.Retry = RetryPolicy{MaxAttempts: 3, BaseBackoff: time.Millisecond, Sleep: func(time.Duration) {}}
	f.engine.Locks.WaitInterval = time.Millisecond
	return f
}

func pendingOrder() models.Order {
	return models.Order{
		ID:            11,
		OrderNumber:   "DM-2041",
		CorrelationId: "cs_live_a1",
		OrderStatus:   models.OrderStatusPending,
		CustomerName:  "Ana",
		CustomerEmail: "ana@example.com",
		Details: []models.OrderDetail{
			{OrderId: 11, Sku: "hoodie-black", Qty: 1},
			{OrderId: 11, Sku: "sticker-pack", Qty: 2},
		},
	}
}

func succeededEvent(eventId, intentId string) gateway.Event {
	return gateway.Event{
		ID:        eventId,
		Type:      gateway.EventPaymentIntentSucceeded,
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Intent: &gateway.PaymentIntent{
			ID:                 intentId,
			Status:             gateway.IntentStatusSucceeded,
			Amount:             15900,
			Currency:           "mxn",
			PaymentMethodTypes: []string{"card"},
		},
	}
}

func TestEngine_SucceededEventCompletesOrder(t *testing.T) {
	f := newEngineFixture(pendingOrder())
	f.orders.order.PaymentIntentId = "pi_1"
	f.stocks.products["hoodie-black"] = 5
	f.stocks.products["sticker-pack"] = 5

	if err := f.engine.ProcessEvent(context.Background(), succeededEvent("evt_1", "pi_1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if f.orders.order.OrderStatus != models.OrderStatusCompleted {
		t.Fatalf("order must be completed, got %s", f.orders.order.OrderStatus)
	}
	if f.stocks.products["hoodie-black"] != 4 || f.stocks.products["sticker-pack"] != 3 {
		t.Fatalf("stock must be deducted per line item: %v", f.stocks.products)
	}
	if f.sender.sentCount() != 1 {
		t.Fatalf("expected 1 confirmation email, got %d", f.sender.sentCount())
	}
	if len(f.intents.snaps) != 1 || f.intents.snaps[0].IntentId != "pi_1" {
		t.Fatalf("intent snapshot must be upserted: %+v", f.intents.snaps)
	}
	if f.ledger.recorded != 1 {
		t.Fatalf("expected 1 ledger commit, got %d", f.ledger.recorded)
	}
}

func TestEngine_DuplicateDeliveryHasNoEffects(t *testing.T) {
	f := newEngineFixture(pendingOrder())
	f.orders.order.PaymentIntentId = "pi_1"
	f.stocks.products["hoodie-black"] = 5
	f.stocks.products["sticker-pack"] = 5
	event := succeededEvent("evt_1", "pi_1")

	if err := f.engine.ProcessEvent(context.Background(), event); err != nil {
		t.Fatalf("first delivery failed: %v", err)
	}
	patchesAfterFirst := f.orders.patchCalls
	stockCallsAfterFirst := len(f.stocks.calls)

	if err := f.engine.ProcessEvent(context.Background(), event); err != nil {
		t.Fatalf("redelivery must be acknowledged cleanly: %v", err)
	}

	if f.orders.patchCalls != patchesAfterFirst {
		t.Fatal("redelivery must not touch the order")
	}
	if len(f.stocks.calls) != stockCallsAfterFirst {
		t.Fatal("redelivery must not touch stock")
	}
	if f.sender.sentCount() != 1 {
		t.Fatalf("redelivery must not resend email, got %d deliveries", f.sender.sentCount())
	}
	if f.ledger.recorded != 1 {
		t.Fatalf("duplicate must not re-commit the ledger, got %d", f.ledger.recorded)
	}
}

func TestEngine_CancelAfterCompletionRestocks(t *testing.T) {
	order := pendingOrder()
	order.OrderStatus = models.OrderStatusCompleted
	order.PaymentCredited = true
	order.PaymentIntentId = "pi_1"
	f := newEngineFixture(order)
	f.stocks.products["hoodie-black"] = 4
	f.stocks.products["sticker-pack"] = 3

	event := gateway.Event{
		ID:        "evt_2",
		Type:      gateway.EventPaymentIntentCanceled,
		CreatedAt: time.Now(),
		Intent:    &gateway.PaymentIntent{ID: "pi_1", Status: gateway.IntentStatusCanceled},
	}
	if err := f.engine.ProcessEvent(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if f.orders.order.OrderStatus != models.OrderStatusCanceled {
		t.Fatalf("order must be canceled, got %s", f.orders.order.OrderStatus)
	}
	if f.stocks.products["hoodie-black"] != 5 || f.stocks.products["sticker-pack"] != 5 {
		t.Fatalf("stock must be restored on regression from completed: %v", f.stocks.products)
	}
	if len(f.orders.patches) != 1 {
		t.Fatalf("expected 1 patch, got %d", len(f.orders.patches))
	}
	if f.orders.patches[0]["payment_credited"] != false || f.orders.patches[0]["order_canceled"] != true {
		t.Fatalf("cancel patch wrong: %v", f.orders.patches[0])
	}
	if f.sender.sentCount() != 0 {
		t.Fatal("cancellation must not send a confirmation email")
	}
}

func TestEngine_StaleOrderRetriedThenRecordedOnce(t *testing.T) {
	f := newEngineFixture(pendingOrder())
	f.orders.order.PaymentIntentId = "pi_1"
	f.orders.stalePasses = 2
	f.stocks.products["hoodie-black"] = 5
	f.stocks.products["sticker-pack"] = 5

	if err := f.engine.ProcessEvent(context.Background(), succeededEvent("evt_3", "pi_1")); err != nil {
		t.Fatalf("retry should have absorbed the version conflicts: %v", err)
	}

	if f.orders.patchCalls != 3 {
		t.Fatalf("expected 3 patch attempts, got %d", f.orders.patchCalls)
	}
	if f.orders.finds != 3 {
		t.Fatalf("each attempt must re-read the order, got %d reads", f.orders.finds)
	}
	if f.orders.order.OrderStatus != models.OrderStatusCompleted {
		t.Fatalf("order must be completed after the surviving attempt, got %s", f.orders.order.OrderStatus)
	}
	if f.ledger.recorded != 1 {
		t.Fatalf("expected exactly 1 ledger commit, got %d", f.ledger.recorded)
	}
}

func TestEngine_ExhaustedApplyLeavesEventUnrecorded(t *testing.T) {
	f := newEngineFixture(pendingOrder())
	f.orders.order.PaymentIntentId = "pi_1"
	f.orders.stalePasses = 10

	err := f.engine.ProcessEvent(context.Background(), succeededEvent("evt_4", "pi_1"))
	if !errors.Is(err, ErrStaleOrder) {
		t.Fatalf("expected the exhausted apply error, got %v", err)
	}
	if f.ledger.recorded != 0 {
		t.Fatal("a failed event must stay out of the ledger so redelivery can retry it")
	}
	if exists, _ := f.ledger.Exists(context.Background(), "evt_4"); exists {
		t.Fatal("event id must not be marked applied")
	}
}

func TestEngine_BusyCorrelationKeyDefersEvent(t *testing.T) {
	f := newEngineFixture(pendingOrder())
	f.orders.order.PaymentIntentId = "pi_1"
	if !f.engine.Locks.TryAcquire("pi_1", "evt_other") {
		t.Fatal("setup acquire failed")
	}

	err := f.engine.ProcessEvent(context.Background(), succeededEvent("evt_5", "pi_1"))
	if !errors.Is(err, ErrEventDeferred) {
		t.Fatalf("expected ErrEventDeferred, got %v", err)
	}
	if f.orders.patchCalls != 0 {
		t.Fatal("a deferred event must not touch the order")
	}
	if f.ledger.recorded != 0 {
		t.Fatal("a deferred event must stay out of the ledger")
	}
}

func TestEngine_UnmatchedCorrelationAcknowledged(t *testing.T) {
	f := newEngineFixture(pendingOrder())

	if err := f.engine.ProcessEvent(context.Background(), succeededEvent("evt_6", "pi_unknown")); err != nil {
		t.Fatalf("orphan events must be acknowledged, got %v", err)
	}
	if f.ledger.recorded != 1 {
		t.Fatal("an acknowledged orphan must still be ledgered to suppress redelivery")
	}
	if f.orders.patchCalls != 0 {
		t.Fatal("orphan events must not patch anything")
	}
}

func TestEngine_RequiresActionSendsVoucherNotice(t *testing.T) {
	f := newEngineFixture(pendingOrder())
	f.orders.order.PaymentIntentId = "pi_1"

	event := gateway.Event{
		ID:        "evt_7",
		Type:      gateway.EventPaymentIntentRequiresAction,
		CreatedAt: time.Now(),
		Intent: &gateway.PaymentIntent{
			ID:                 "pi_1",
			Status:             gateway.IntentStatusRequiresAction,
			PaymentMethodTypes: []string{"cash_voucher"},
			NextAction: &gateway.NextAction{
				Type:           "voucher_display",
				VoucherDisplay: &gateway.VoucherDisplay{HostedVoucherURL: "https://pay.example/v/9", Reference: "555000"},
			},
		},
	}
	if err := f.engine.ProcessEvent(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if f.orders.order.OrderStatus != models.OrderStatusProcessing {
		t.Fatalf("requires_action must move the order to processing, got %s", f.orders.order.OrderStatus)
	}
	if f.sender.sentCount() != 1 {
		t.Fatalf("expected the voucher notice, got %d deliveries", f.sender.sentCount())
	}
	if len(f.stocks.calls) != 0 {
		t.Fatal("requires_action must not touch stock")
	}
	if len(f.intents.snaps) == 0 || f.intents.snaps[0].Method != models.PaymentMethodCashVoucher {
		t.Fatalf("snapshot must carry the detected voucher method: %+v", f.intents.snaps)
	}
}

func TestEngine_RefundEventOnCompletedOrder(t *testing.T) {
	order := pendingOrder()
	order.OrderStatus = models.OrderStatusCompleted
	order.PaymentCredited = true
	order.PaymentIntentId = "pi_1"
	f := newEngineFixture(order)

	event := gateway.Event{
		ID:        "evt_8",
		Type:      gateway.EventChargeRefunded,
		CreatedAt: time.Now(),
		Charge:    &gateway.Charge{ID: "ch_1", PaymentIntentId: "pi_1", Status: "succeeded"},
	}
	if err := f.engine.ProcessEvent(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if f.orders.order.OrderStatus != models.OrderStatusRefunded {
		t.Fatalf("order must be refunded, got %s", f.orders.order.OrderStatus)
	}
	if len(f.stocks.calls) != 0 {
		t.Fatal("refund must not restock")
	}
	if f.orders.patches[0]["payment_credited"] != false {
		t.Fatalf("refund must clear payment_credited: %v", f.orders.patches[0])
	}
}

func TestEngine_InvalidTransitionAcknowledgedWithoutPatch(t *testing.T) {
	order := pendingOrder()
	order.OrderStatus = models.OrderStatusRefunded
	order.PaymentIntentId = "pi_1"
	f := newEngineFixture(order)

	if err := f.engine.ProcessEvent(context.Background(), succeededEvent("evt_9", "pi_1")); err != nil {
		t.Fatalf("rejected transitions are non-fatal, got %v", err)
	}
	if f.orders.patchCalls != 0 {
		t.Fatal("rejected transition must not patch the order")
	}
	if f.ledger.recorded != 1 {
		t.Fatal("the event is still consumed and ledgered")
	}
}

func TestEngine_SessionEventBackfillsIntentId(t *testing.T) {
	f := newEngineFixture(pendingOrder())

	event := gateway.Event{
		ID:        "evt_10",
		Type:      gateway.EventCheckoutSessionCompleted,
		CreatedAt: time.Now(),
		Session: &gateway.CheckoutSession{
			ID:              "cs_live_a1",
			PaymentIntentId: "pi_late",
			PaymentStatus:   "paid",
		},
	}
	if err := f.engine.ProcessEvent(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if f.orders.order.PaymentIntentId != "pi_late" {
		t.Fatalf("completing session must backfill payment_intent_id, got %q", f.orders.order.PaymentIntentId)
	}
	if f.orders.order.OrderStatus != models.OrderStatusCompleted {
		t.Fatalf("order must be completed, got %s", f.orders.order.OrderStatus)
	}
}
