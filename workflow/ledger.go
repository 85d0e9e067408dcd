package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/XCarlosEduardoX/backend-darkmart-sub000/models"
	mysqlDriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

// EventLedger is the durable record of already-applied event ids, the
// idempotency backbone. Record is only called after the event has been fully
// and successfully applied.
type EventLedger interface {
	Exists(ctx context.Context, eventId string) (bool, error)
	Record(ctx context.Context, eventId, eventType string, receivedAt time.Time) error
}

type GormEventLedger struct {
	DB *gorm.DB
}

func (l *GormEventLedger) Exists(ctx context.Context, eventId string) (bool, error) {
	var count int64
	err := l.DB.WithContext(ctx).
		Model(&models.ProcessedEvent{}).
		Where("event_id = ?", eventId).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Record inserts the ledger row. A duplicate insert is a no-op, not an
// error: two racing deliveries of the same event may both reach commit.
func (l *GormEventLedger) Record(ctx context.Context, eventId, eventType string, receivedAt time.Time) error {
	row := models.ProcessedEvent{
		EventId:     eventId,
		EventType:   eventType,
		ReceivedAt:  receivedAt.UTC(),
		ProcessedAt: time.Now().UTC(),
	}
	err := l.DB.WithContext(ctx).Create(&row).Error
	if err != nil && isDuplicateKeyErr(err) {
		return nil
	}
	return err
}

func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}
