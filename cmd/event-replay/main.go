// event-replay re-runs a stored or on-disk raw event payload through the
// reconciliation engine. Already-ledgered events short-circuit safely, so
// this is harmless to run against processed events.
//
// Usage:
//
//	event-replay -file payload.json
//	event-replay -replay-id 42
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/XCarlosEduardoX/backend-darkmart-sub000/config"
	"github.com/XCarlosEduardoX/backend-darkmart-sub000/gateway"
	"github.com/XCarlosEduardoX/backend-darkmart-sub000/models"
	"github.com/XCarlosEduardoX/backend-darkmart-sub000/utils"
	"github.com/XCarlosEduardoX/backend-darkmart-sub000/workflow"
)

func main() {
	file := flag.String("file", "", "path to a raw event payload JSON file")
	replayID := flag.Int("replay-id", 0, "id of a stored replay_events row")
	flag.Parse()

	if (*file == "") == (*replayID == 0) {
		log.Fatal("exactly one of -file or -replay-id is required")
	}

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	db := config.GetDB()
	logger := config.GetLogger()

	var payload []byte
	if *file != "" {
		data, err := os.ReadFile(*file)
		if err != nil {
			log.Fatalf("read payload: %v", err)
		}
		payload = data
	} else {
		var row models.ReplayEvent
		if err := db.First(&row, *replayID).Error; err != nil {
			log.Fatalf("load replay row %d: %v", *replayID, err)
		}
		payload = row.Payload
	}

	event, err := gateway.ParseEvent(payload)
	if err != nil {
		log.Fatalf("parse event: %v", err)
	}

	engine, err := workflow.NewDefaultEngine(db, logger)
	if err != nil {
		log.Fatalf("engine init: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	ctx = utils.SetActorInContext(ctx, "replay-cli")

	if err := engine.ProcessEvent(ctx, event); err != nil {
		log.Fatalf("replay of %s failed: %v", event.ID, err)
	}
	log.Printf("event %s (%s) applied", event.ID, event.Type)
}
