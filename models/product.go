package models

import "time"

// Product rows pre-exist as catalog data; the engine only mutates
// StockQuantity, and only through the stock reconciler.
type Product struct {
	ID            int       `gorm:"primary_key" json:"id"`
	Sku           string    `gorm:"size:100;uniqueIndex" json:"sku"`
	Slug          string    `gorm:"size:150;uniqueIndex" json:"slug"`
	Name          string    `gorm:"size:200" json:"name"`
	StockQuantity int       `gorm:"not null;default:0" json:"stock_quantity"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type ProductVariant struct {
	ID            int       `gorm:"primary_key" json:"id"`
	ProductId     int       `gorm:"index;not null" json:"product_id"`
	Sku           string    `gorm:"size:100;uniqueIndex" json:"sku"`
	Name          string    `gorm:"size:200" json:"name"`
	StockQuantity int       `gorm:"not null;default:0" json:"stock_quantity"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
