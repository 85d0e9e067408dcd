package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/XCarlosEduardoX/backend-darkmart-sub000/config"
	"github.com/XCarlosEduardoX/backend-darkmart-sub000/models"
	"github.com/XCarlosEduardoX/backend-darkmart-sub000/utils"
	"gorm.io/gorm"
)

// ErrStaleOrder signals that the optimistic-concurrency token moved under a
// status update. Treated as retryable: the retry orchestrator re-reads and
// re-plans on the next attempt.
var ErrStaleOrder = errors.New("order was modified concurrently")

// OrderStore resolves and mutates the order aggregate.
type OrderStore interface {
	FindByCorrelation(ctx context.Context, key string) (*models.Order, error)
	// ApplyPatch persists the column patch with a compare-and-swap on the
	// order's version; ErrStaleOrder on conflict.
	ApplyPatch(ctx context.Context, order *models.Order, patch map[string]interface{}) error
}

// StockStore mutates stock counters. Adjustments are single atomic UPDATEs
// with the zero clamp computed in SQL, so there is no read-modify-write
// window. The bool return reports whether the entity resolved.
type StockStore interface {
	AdjustVariantBySku(ctx context.Context, sku string, delta int, clampZero bool) (bool, error)
	AdjustProductBySkuOrSlug(ctx context.Context, ref string, delta int, clampZero bool) (bool, error)
}

// IntentStore upserts the last-known gateway snapshot per transaction.
type IntentStore interface {
	UpsertSnapshot(ctx context.Context, snap *models.PaymentIntentRecord) error
}

type GormOrderStore struct {
	DB *gorm.DB
}

func (s *GormOrderStore) FindByCorrelation(ctx context.Context, key string) (*models.Order, error) {
	var order models.Order
	err := s.DB.WithContext(ctx).
		Preload("Details").
		Where("correlation_id = ? OR payment_intent_id = ?", key, key).
		First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (s *GormOrderStore) ApplyPatch(ctx context.Context, order *models.Order, patch map[string]interface{}) error {
	updates := make(map[string]interface{}, len(patch)+1)
	for k, v := range patch {
		updates[k] = v
	}
	updates["version"] = order.Version + 1

	res := s.DB.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND version = ?", order.ID, order.Version).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleOrder
	}
	order.Version++
	return nil
}

type GormStockStore struct {
	DB *gorm.DB
}

func (s *GormStockStore) AdjustVariantBySku(ctx context.Context, sku string, delta int, clampZero bool) (bool, error) {
	res := s.DB.WithContext(ctx).
		Model(&models.ProductVariant{}).
		Where("sku = ?", sku).
		Update("stock_quantity", stockExpr(delta, clampZero))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *GormStockStore) AdjustProductBySkuOrSlug(ctx context.Context, ref string, delta int, clampZero bool) (bool, error) {
	res := s.DB.WithContext(ctx).
		Model(&models.Product{}).
		Where("sku = ? OR slug = ?", ref, ref).
		Update("stock_quantity", stockExpr(delta, clampZero))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func stockExpr(delta int, clampZero bool) interface{} {
	if clampZero {
		// decrement clamps at zero; increment is unclamped
		return gorm.Expr("GREATEST(stock_quantity + ?, 0)", delta)
	}
	return gorm.Expr("stock_quantity + ?", delta)
}

type GormIntentStore struct {
	DB *gorm.DB
}

const intentCacheTTL = 24 * time.Hour

// UpsertSnapshot creates the record on first sighting and updates it on
// later sightings only when status, method, amount or suffix changed.
// The redis copy backs the ops read endpoint; cache failures are ignored.
func (s *GormIntentStore) UpsertSnapshot(ctx context.Context, snap *models.PaymentIntentRecord) error {
	var existing models.PaymentIntentRecord
	err := s.DB.WithContext(ctx).
		Where("intent_id = ?", snap.IntentId).
		First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if cerr := s.DB.WithContext(ctx).Create(snap).Error; cerr != nil {
			if isDuplicateKeyErr(cerr) {
				// concurrent first sighting; the other writer won
				return nil
			}
			return cerr
		}
	case err != nil:
		return err
	default:
		if !existing.Changed(snap) {
			return nil
		}
		uerr := s.DB.WithContext(ctx).
			Model(&models.PaymentIntentRecord{}).
			Where("id = ?", existing.ID).
			Updates(map[string]interface{}{
				"status":      snap.Status,
				"amount":      snap.Amount,
				"currency":    snap.Currency,
				"method":      snap.Method,
				"card_suffix": snap.CardSuffix,
				"raw_detail":  snap.RawDetail,
			}).Error
		if uerr != nil {
			return uerr
		}
	}

	_ = config.SetRedisObject("payment_intent:"+snap.IntentId, snap, intentCacheTTL)
	return nil
}
