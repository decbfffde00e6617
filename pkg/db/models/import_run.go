package models

import (
	"time"

	"github.com/google/uuid"

	dbtypes "github.com/angelmondragon/rankings-ingest/pkg/db/types"
	"github.com/angelmondragon/rankings-ingest/pkg/enums"
)

// ImportSourceScaleInsights tags rows produced by the keyword ranking export.
const ImportSourceScaleInsights = "SCALEINSIGHTS"

// ImportRun is the audit record of one country's processing within a run.
type ImportRun struct {
	ID            uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	RunID         uuid.UUID          `gorm:"column:run_id;type:uuid;not null;index"`
	MarketplaceID uuid.UUID          `gorm:"column:marketplace_id;type:uuid;not null"`
	CountryCode   string             `gorm:"column:country_code;not null"`
	Source        string             `gorm:"column:source;not null"`
	Status        enums.ImportStatus `gorm:"column:status;not null"`
	DateFrom      time.Time          `gorm:"column:date_from;type:date;not null"`
	DateTo        time.Time          `gorm:"column:date_to;type:date;not null"`
	FileName      string             `gorm:"column:file_name;not null"`
	FileSizeBytes int64              `gorm:"column:file_size_bytes;not null;default:0"`
	KeywordRows   int                `gorm:"column:keyword_rows;not null;default:0"`
	RankRows      int                `gorm:"column:rank_rows;not null;default:0"`
	SkippedRows   int                `gorm:"column:skipped_rows;not null;default:0"`
	FailedRows    int                `gorm:"column:failed_rows;not null;default:0"`
	WarningCount  int                `gorm:"column:warning_count;not null;default:0"`
	ErrorMessage  *string            `gorm:"column:error_message"`
	Metadata      dbtypes.JSONMap    `gorm:"column:metadata;type:jsonb"`
	StartedAt     time.Time          `gorm:"column:started_at;not null"`
	CompletedAt   *time.Time         `gorm:"column:completed_at"`
	CreatedAt     time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

func (ImportRun) TableName() string { return "import_runs" }
