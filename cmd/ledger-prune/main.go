// ledger-prune removes processed-event ledger rows older than a cutoff.
// The ledger is append-only from the engine's point of view; pruning is an
// explicit operator action because it trades replay protection for space.
//
// Usage:
//
//	ledger-prune -days 180 [-dry-run]
package main

import (
	"flag"
	"log"
	"time"

	"github.com/XCarlosEduardoX/backend-darkmart-sub000/config"
	"github.com/XCarlosEduardoX/backend-darkmart-sub000/models"
)

func main() {
	days := flag.Int("days", 180, "delete ledger rows processed more than this many days ago")
	dryRun := flag.Bool("dry-run", false, "count matching rows without deleting")
	flag.Parse()

	if *days <= 0 {
		log.Fatal("days must be positive")
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()

	cutoff := time.Now().UTC().AddDate(0, 0, -*days)

	var count int64
	if err := db.Model(&models.ProcessedEvent{}).
		Where("processed_at < ?", cutoff).
		Count(&count).Error; err != nil {
		log.Fatalf("count failed: %v", err)
	}

	if *dryRun {
		log.Printf("dry-run: %d ledger rows older than %s", count, cutoff.Format(time.RFC3339))
		return
	}

	res := db.Where("processed_at < ?", cutoff).Delete(&models.ProcessedEvent{})
	if res.Error != nil {
		log.Fatalf("delete failed: %v", res.Error)
	}
	log.Printf("pruned %d ledger rows older than %s", res.RowsAffected, cutoff.Format(time.RFC3339))
}
