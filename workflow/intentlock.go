package workflow

import (
	"fmt"

	"gorm.io/gorm"
)

// AcquireIntentLock serializes event application per payment intent across
// instances using MySQL advisory locks. The in-memory CorrelationLocks gate
// only covers one process; this one covers the fleet.
// NOTE: GET_LOCK is connection-scoped, so this must be called on the same
// *gorm.DB that performs the subsequent updates.
func AcquireIntentLock(tx *gorm.DB, intentId string) error {
	lockName := fmt.Sprintf("payment-intent:%s", intentId)
	var ok int
	if err := tx.Raw("SELECT GET_LOCK(?, 10)", lockName).Scan(&ok).Error; err != nil {
		return err
	}
	if ok != 1 {
		return fmt.Errorf("could not acquire intent lock for intent_id=%s", intentId)
	}
	return nil
}

func ReleaseIntentLock(tx *gorm.DB, intentId string) {
	lockName := fmt.Sprintf("payment-intent:%s", intentId)
	var _ok int
	_ = tx.Raw("SELECT RELEASE_LOCK(?)", lockName).Scan(&_ok).Error
}
