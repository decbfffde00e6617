package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Keyword is one tracked (marketplace, child ASIN, keyword) identity plus the latest
// period metrics reported for it.
type Keyword struct {
	ID            uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	MarketplaceID uuid.UUID `gorm:"column:marketplace_id;type:uuid;not null;uniqueIndex:idx_si_keywords_identity,priority:1"`
	ChildASIN     string    `gorm:"column:child_asin;not null;uniqueIndex:idx_si_keywords_identity,priority:2"`
	Keyword       string    `gorm:"column:keyword;not null;uniqueIndex:idx_si_keywords_identity,priority:3"`
	KeywordText   string    `gorm:"column:keyword_text;not null"`
	SKU           *string   `gorm:"column:sku"`
	Title         *string   `gorm:"column:title"`
	Tracked       bool      `gorm:"column:tracked;not null;default:false"`

	Sales            decimal.NullDecimal `gorm:"column:sales;type:numeric(18,6)"`
	ACOS             decimal.NullDecimal `gorm:"column:acos;type:numeric(18,6)"`
	Conversion       decimal.NullDecimal `gorm:"column:conversion;type:numeric(18,6)"`
	Spent            decimal.NullDecimal `gorm:"column:spent;type:numeric(18,6)"`
	ConversionDelta  decimal.NullDecimal `gorm:"column:conversion_delta;type:numeric(18,6)"`
	MarketConversion decimal.NullDecimal `gorm:"column:market_conversion;type:numeric(18,6)"`
	ASINConversion   decimal.NullDecimal `gorm:"column:asin_conversion;type:numeric(18,6)"`
	PurchaseShare    decimal.NullDecimal `gorm:"column:purchase_share;type:numeric(18,6)"`
	Orders           *int64              `gorm:"column:orders"`
	Units            *int64              `gorm:"column:units"`
	Clicks           *int64              `gorm:"column:clicks"`
	QueryVolume      *int64              `gorm:"column:query_volume"`

	MetricsPeriodStart *time.Time `gorm:"column:metrics_period_start;type:date"`
	MetricsPeriodEnd   *time.Time `gorm:"column:metrics_period_end;type:date"`
	ImportRunID        *uuid.UUID `gorm:"column:import_run_id;type:uuid"`
	CreatedAt          time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (Keyword) TableName() string { return "si_keywords" }
