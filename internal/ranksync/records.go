package ranksync

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/rankings-ingest/internal/rankings"
	"github.com/angelmondragon/rankings-ingest/pkg/db/models"
)

func keywordRow(rec rankings.KeywordRecord, importRunID *uuid.UUID, now time.Time) models.Keyword {
	m := rec.Metrics
	return models.Keyword{
		ID:                 uuid.New(),
		MarketplaceID:      rec.MarketplaceID,
		ChildASIN:          rec.Identity.ASIN,
		Keyword:            rec.Identity.Keyword,
		KeywordText:        rec.KeywordText,
		SKU:                rec.SKU,
		Title:              rec.Title,
		Tracked:            rec.Tracked,
		Sales:              m.Sales,
		ACOS:               m.ACOS,
		Conversion:         m.Conversion,
		Spent:              m.Spent,
		ConversionDelta:    m.ConversionDelta,
		MarketConversion:   m.MarketConversion,
		ASINConversion:     m.ASINConversion,
		PurchaseShare:      m.PurchaseShare,
		Orders:             m.Orders,
		Units:              m.Units,
		Clicks:             m.Clicks,
		QueryVolume:        m.QueryVolume,
		MetricsPeriodStart: calendarPtr(rec.PeriodStart),
		MetricsPeriodEnd:   calendarPtr(rec.PeriodEnd),
		ImportRunID:        importRunID,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

func rankRow(rec rankings.RankRecord, keywordID, marketplaceID uuid.UUID, importRunID *uuid.UUID, now time.Time) models.DailyRank {
	organic, organicOut := rec.Organic.Column()
	sponsored, sponsoredOut := rec.Sponsored.Column()
	return models.DailyRank{
		ID:                  uuid.New(),
		KeywordID:           keywordID,
		RankDate:            rankings.CalendarDate(rec.Date),
		OrganicRank:         organic,
		OrganicOutOfRange:   organicOut,
		SponsoredRank:       sponsored,
		SponsoredOutOfRange: sponsoredOut,
		MarketplaceID:       marketplaceID,
		ChildASIN:           rec.Identity.ASIN,
		Keyword:             rec.Identity.Keyword,
		ImportRunID:         importRunID,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

func calendarPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	d := rankings.CalendarDate(*t)
	return &d
}
