package models

import (
	"log"

	"github.com/XCarlosEduardoX/backend-darkmart-sub000/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Order{}, &OrderDetail{},
		&Product{}, &ProductVariant{},
		&ProcessedEvent{}, &ReplayEvent{},
		&PaymentIntentRecord{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
