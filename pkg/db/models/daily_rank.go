package models

import (
	"time"

	"github.com/google/uuid"
)

// DailyRank holds the organic and sponsored positions of one keyword on one day.
// A nil rank with the out-of-range flag unset means the portal had no data.
type DailyRank struct {
	ID                  uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	KeywordID           uuid.UUID  `gorm:"column:keyword_id;type:uuid;not null;uniqueIndex:idx_si_daily_ranks_keyword_date,priority:1"`
	RankDate            time.Time  `gorm:"column:rank_date;type:date;not null;uniqueIndex:idx_si_daily_ranks_keyword_date,priority:2"`
	OrganicRank         *int       `gorm:"column:organic_rank"`
	OrganicOutOfRange   bool       `gorm:"column:organic_out_of_range;not null;default:false"`
	SponsoredRank       *int       `gorm:"column:sponsored_rank"`
	SponsoredOutOfRange bool       `gorm:"column:sponsored_out_of_range;not null;default:false"`
	MarketplaceID       uuid.UUID  `gorm:"column:marketplace_id;type:uuid;not null"`
	ChildASIN           string     `gorm:"column:child_asin;not null"`
	Keyword             string     `gorm:"column:keyword;not null"`
	ImportRunID         *uuid.UUID `gorm:"column:import_run_id;type:uuid"`
	CreatedAt           time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (DailyRank) TableName() string { return "si_daily_ranks" }
