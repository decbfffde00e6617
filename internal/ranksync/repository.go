package ranksync

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/rankings-ingest/internal/repo"
	"github.com/angelmondragon/rankings-ingest/pkg/db/models"
	"github.com/angelmondragon/rankings-ingest/pkg/pagination"
)

// KeywordRef is the slice of a keyword row needed to resolve rank identities.
type KeywordRef struct {
	ID        uuid.UUID
	ChildASIN string
	Keyword   string
}

// Repository is the store contract the sync engine writes through.
type Repository interface {
	UpsertKeywords(ctx context.Context, rows []models.Keyword) error
	UpsertRanks(ctx context.Context, rows []models.DailyRank) error
	KeywordPage(ctx context.Context, marketplaceID uuid.UUID, page pagination.Page) ([]KeywordRef, error)
	CountKeywords(ctx context.Context, marketplaceID uuid.UUID) (int64, error)
	CountRanks(ctx context.Context, marketplaceID uuid.UUID) (int64, error)
}

var keywordConflict = clause.OnConflict{
	Columns: []clause.Column{{Name: "marketplace_id"}, {Name: "child_asin"}, {Name: "keyword"}},
	DoUpdates: clause.AssignmentColumns([]string{
		"keyword_text", "sku", "title", "tracked",
		"sales", "acos", "conversion", "spent", "conversion_delta", "market_conversion",
		"asin_conversion", "purchase_share", "orders", "units", "clicks", "query_volume",
		"metrics_period_start", "metrics_period_end", "import_run_id", "updated_at",
	}),
}

var rankConflict = clause.OnConflict{
	Columns: []clause.Column{{Name: "keyword_id"}, {Name: "rank_date"}},
	DoUpdates: clause.AssignmentColumns([]string{
		"organic_rank", "organic_out_of_range", "sponsored_rank", "sponsored_out_of_range",
		"marketplace_id", "child_asin", "keyword", "import_run_id", "updated_at",
	}),
}

type gormRepository struct {
	repo.Base
}

// NewRepository returns the gorm-backed store.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{Base: repo.NewBase(db)}
}

func (r *gormRepository) UpsertKeywords(ctx context.Context, rows []models.Keyword) error {
	if len(rows) == 0 {
		return nil
	}
	return r.DB(ctx).Clauses(keywordConflict).Create(&rows).Error
}

func (r *gormRepository) UpsertRanks(ctx context.Context, rows []models.DailyRank) error {
	if len(rows) == 0 {
		return nil
	}
	return r.DB(ctx).Clauses(rankConflict).Create(&rows).Error
}

func (r *gormRepository) KeywordPage(ctx context.Context, marketplaceID uuid.UUID, page pagination.Page) ([]KeywordRef, error) {
	var refs []KeywordRef
	err := r.DB(ctx).
		Model(&models.Keyword{}).
		Select("id", "child_asin", "keyword").
		Where("marketplace_id = ?", marketplaceID).
		Order("id").
		Offset(page.Offset).
		Limit(page.Limit).
		Scan(&refs).Error
	return refs, err
}

func (r *gormRepository) CountKeywords(ctx context.Context, marketplaceID uuid.UUID) (int64, error) {
	var n int64
	err := r.DB(ctx).Model(&models.Keyword{}).Where("marketplace_id = ?", marketplaceID).Count(&n).Error
	return n, err
}

func (r *gormRepository) CountRanks(ctx context.Context, marketplaceID uuid.UUID) (int64, error) {
	var n int64
	err := r.DB(ctx).Model(&models.DailyRank{}).Where("marketplace_id = ?", marketplaceID).Count(&n).Error
	return n, err
}
