package workflow

import (
	"errors"
	"time"

	"github.com/XCarlosEduardoX/backend-darkmart-sub000/models"
)

// ErrInvalidTransition marks a rejected order-status change. Non-fatal to
// event processing: the caller logs it and continues with independent side
// effects.
var ErrInvalidTransition = errors.New("invalid order status transition")

// orderTransitions is the single source of truth for allowed status changes.
// completed -> pending is a deliberate escape valve for delayed-settlement
// instruments (a voucher marked paid can be reverted by the gateway).
var orderTransitions = map[models.OrderStatus][]models.OrderStatus{
	models.OrderStatusPending: {
		models.OrderStatusProcessing, models.OrderStatusCompleted, models.OrderStatusFailed,
		models.OrderStatusCanceled, models.OrderStatusExpired,
	},
	models.OrderStatusProcessing: {
		models.OrderStatusCompleted, models.OrderStatusFailed, models.OrderStatusCanceled,
		models.OrderStatusPending,
	},
	models.OrderStatusCompleted: {
		models.OrderStatusRefunded, models.OrderStatusCanceled, models.OrderStatusPending,
	},
	models.OrderStatusFailed: {
		models.OrderStatusPending, models.OrderStatusProcessing,
	},
	models.OrderStatusCanceled: {
		models.OrderStatusPending,
	},
	models.OrderStatusExpired: {
		models.OrderStatusPending,
	},
	models.OrderStatusRefunded: {}, // terminal
}

func CanTransition(from, to models.OrderStatus) bool {
	for _, allowed := range orderTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition is the planned outcome of applying a target status to an order.
// Patch holds the column updates to persist; the engine applies it via the
// order store's compare-and-swap update.
type Transition struct {
	From models.OrderStatus
	To   models.OrderStatus

	// NoOp: order already has the target status; nothing to persist.
	NoOp bool

	Patch map[string]interface{}

	// EnteredCompleted: the order just became completed (confirmation email
	// and stock deduction follow).
	EnteredCompleted bool

	// RestockItems: regression out of completed into failed/canceled/expired;
	// line-item stock must be restored.
	RestockItems bool
}

// PlanTransition validates target against the transition table and computes
// the resulting column patch. Pure; persistence and side effects are the
// engine's job.
func PlanTransition(order *models.Order, target models.OrderStatus, now time.Time) (Transition, error) {
	tr := Transition{From: order.OrderStatus, To: target}

	if order.OrderStatus == target {
		tr.NoOp = true
		return tr, nil
	}
	if !CanTransition(order.OrderStatus, target) {
		return Transition{}, ErrInvalidTransition
	}

	patch := map[string]interface{}{
		"order_status": target,
	}

	switch target {
	case models.OrderStatusCompleted:
		tr.EnteredCompleted = true
		patch["payment_credited"] = true
		patch["refund_requested"] = false
		patch["order_canceled"] = false
		if order.OrderDate == nil {
			patch["order_date"] = now.UTC()
		}
	case models.OrderStatusCanceled:
		patch["order_canceled"] = true
		if order.OrderStatus == models.OrderStatusCompleted {
			tr.RestockItems = true
			patch["payment_credited"] = false
		}
	case models.OrderStatusFailed, models.OrderStatusExpired:
		if order.OrderStatus == models.OrderStatusCompleted {
			tr.RestockItems = true
			patch["payment_credited"] = false
		}
	case models.OrderStatusRefunded:
		patch["payment_credited"] = false
		patch["refund_requested"] = false
	}

	tr.Patch = patch
	return tr, nil
}
