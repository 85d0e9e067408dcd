package workflow

import (
	"context"
	"time"

	"github.com/XCarlosEduardoX/backend-darkmart-sub000/gateway"
	"github.com/XCarlosEduardoX/backend-darkmart-sub000/models"
	"github.com/XCarlosEduardoX/backend-darkmart-sub000/utils"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ReplaySweeper drains stored replay payloads in the background: operators
// enqueue verified raw events via the replay ops endpoint and the sweeper
// re-applies them through the engine. At-least-once is safe because the
// engine dedups against the processed-event ledger.
type ReplaySweeper struct {
	DB        *gorm.DB
	Engine    *Engine
	Logger    *logrus.Logger
	WorkerID  string
	BatchSize int
	Interval  time.Duration
	LockTTL   time.Duration
}

func NewReplaySweeper(db *gorm.DB, engine *Engine, logger *logrus.Logger) *ReplaySweeper {
	return &ReplaySweeper{
		DB:        db,
		Engine:    engine,
		Logger:    logger,
		WorkerID:  "sweeper-" + uuid.NewString(),
		BatchSize: 50,
		Interval:  5 * time.Second,
		LockTTL:   30 * time.Second,
	}
}

func (s *ReplaySweeper) Run(ctx context.Context) {
	if s == nil || s.DB == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		s.processOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.Interval):
		}
	}
}

func (s *ReplaySweeper) processOnce(ctx context.Context) {
	now := time.Now().UTC()
	staleBefore := now.Add(-s.LockTTL)

	var claimed []models.ReplayEvent
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.
			Where("applied_at IS NULL").
			Where("(locked_at IS NULL OR locked_at <= ?)", staleBefore).
			Order("id ASC").
			Limit(s.BatchSize).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		if err := q.Find(&claimed).Error; err != nil {
			return err
		}
		for i := range claimed {
			if err := tx.Model(&models.ReplayEvent{}).
				Where("id = ?", claimed[i].ID).
				Updates(map[string]interface{}{
					"locked_at": &now,
					"locked_by": &s.WorkerID,
				}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil || len(claimed) == 0 {
		return
	}

	for _, rec := range claimed {
		procCtx := utils.SetActorInContext(ctx, "sweeper")
		procCtx = utils.SetCorrelationIdInContext(procCtx, s.WorkerID)

		event, perr := gateway.ParseEvent(rec.Payload)
		if perr == nil {
			perr = s.Engine.ProcessEvent(procCtx, event)
		}

		if perr != nil {
			errMsg := perr.Error()
			_ = s.DB.WithContext(ctx).Model(&models.ReplayEvent{}).
				Where("id = ?", rec.ID).
				Updates(map[string]interface{}{
					"attempts":   rec.Attempts + 1,
					"last_error": &errMsg,
					"locked_at":  nil,
					"locked_by":  nil,
				}).Error
			s.Logger.WithFields(logrus.Fields{
				"field":     "ReplaySweeper",
				"record_id": rec.ID,
				"event_id":  rec.EventId,
			}).Error("replay failed: " + errMsg)
			continue
		}

		_ = s.DB.WithContext(ctx).Model(&models.ReplayEvent{}).
			Where("id = ?", rec.ID).
			Updates(map[string]interface{}{
				"applied_at": &now,
				"locked_at":  nil,
				"locked_by":  nil,
			}).Error
	}
}
