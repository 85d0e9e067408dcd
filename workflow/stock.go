package workflow

import (
	"context"

	"github.com/XCarlosEduardoX/backend-darkmart-sub000/models"
	"github.com/sirupsen/logrus"
)

type AdjustDirection string

const (
	AdjustMinus AdjustDirection = "minus"
	AdjustPlus  AdjustDirection = "plus"
)

// StockReconciler applies symmetric increment/decrement of stock counters
// for order line items. A line item whose stock-bearing entity cannot be
// resolved is logged and skipped; the rest of the items still process
// (partial-failure tolerant, not atomic across the order).
type StockReconciler struct {
	Stocks StockStore
	Logger *logrus.Logger
}

func (r *StockReconciler) Adjust(ctx context.Context, items []models.OrderDetail, direction AdjustDirection) {
	for _, item := range items {
		if item.Qty <= 0 {
			continue
		}
		delta := item.Qty
		clamp := false
		if direction == AdjustMinus {
			delta = -item.Qty
			clamp = true
		}

		var (
			found bool
			err   error
			ref   string
		)
		if item.VariantSku != nil && *item.VariantSku != "" {
			ref = *item.VariantSku
			found, err = r.Stocks.AdjustVariantBySku(ctx, ref, delta, clamp)
		} else {
			ref = item.Sku
			found, err = r.Stocks.AdjustProductBySkuOrSlug(ctx, ref, delta, clamp)
		}

		if err != nil || !found {
			fields := logrus.Fields{
				"field":     "StockReconciler",
				"order_id":  item.OrderId,
				"ref":       ref,
				"direction": direction,
				"qty":       item.Qty,
			}
			if err != nil {
				r.Logger.WithFields(fields).Error("stock adjustment failed: " + err.Error())
			} else {
				r.Logger.WithFields(fields).Error("stock entity not found; skipping line item")
			}
			continue
		}
	}
}
