package importruns

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/rankings-ingest/pkg/config"
	"github.com/angelmondragon/rankings-ingest/pkg/db/models"
	dbtypes "github.com/angelmondragon/rankings-ingest/pkg/db/types"
	"github.com/angelmondragon/rankings-ingest/pkg/enums"
	pkgerrors "github.com/angelmondragon/rankings-ingest/pkg/errors"
)

const maxErrorMessageLength = 4000

// OpenParams describe a country run that is about to fetch.
type OpenParams struct {
	RunID     uuid.UUID
	Country   config.Country
	DateFrom  time.Time
	DateTo    time.Time
	FileName  string
	StartedAt time.Time
}

// CloseParams carry the final state of a country run.
type CloseParams struct {
	Status        enums.ImportStatus
	FileSizeBytes int64
	KeywordRows   int
	RankRows      int
	SkippedRows   int
	FailedRows    int
	WarningCount  int
	DateFrom      *time.Time
	DateTo        *time.Time
	Err           error
	Metadata      map[string]any
	CompletedAt   time.Time
}

// Recorder opens and closes ImportRun rows. It is the only writer of import_runs.
type Recorder interface {
	Open(ctx context.Context, params OpenParams) (uuid.UUID, error)
	Close(ctx context.Context, id uuid.UUID, params CloseParams) error
}

// StoreRecorder writes ImportRuns through a Repository.
type StoreRecorder struct {
	repo Repository
}

func NewRecorder(repo Repository) (*StoreRecorder, error) {
	if repo == nil {
		return nil, fmt.Errorf("import run repository required")
	}
	return &StoreRecorder{repo: repo}, nil
}

func (r *StoreRecorder) Open(ctx context.Context, params OpenParams) (uuid.UUID, error) {
	if params.RunID == uuid.Nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "run id is required")
	}
	if params.Country.MarketplaceID == uuid.Nil {
		return uuid.Nil, pkgerrors.Newf(pkgerrors.CodeValidation, "country %q has no marketplace id", params.Country.Code)
	}
	if params.DateTo.Before(params.DateFrom) {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "date range is inverted")
	}
	started := params.StartedAt
	if started.IsZero() {
		started = time.Now().UTC()
	}
	run := &models.ImportRun{
		ID:            uuid.New(),
		RunID:         params.RunID,
		MarketplaceID: params.Country.MarketplaceID,
		CountryCode:   params.Country.Code,
		Source:        models.ImportSourceScaleInsights,
		Status:        enums.ImportStatusPending,
		DateFrom:      dateOnly(params.DateFrom),
		DateTo:        dateOnly(params.DateTo),
		FileName:      params.FileName,
		Metadata:      dbtypes.JSONMap{},
		StartedAt:     started,
	}
	if err := r.repo.Create(ctx, run); err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create import run")
	}
	return run.ID, nil
}

func (r *StoreRecorder) Close(ctx context.Context, id uuid.UUID, params CloseParams) error {
	if !params.Status.IsTerminal() {
		return pkgerrors.Newf(pkgerrors.CodeValidation, "import run cannot close with status %q", params.Status)
	}
	run, err := r.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.Newf(pkgerrors.CodeValidation, "import run %s not found", id)
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load import run")
	}

	completed := params.CompletedAt
	if completed.IsZero() {
		completed = time.Now().UTC()
	}
	run.Status = params.Status
	run.FileSizeBytes = params.FileSizeBytes
	run.KeywordRows = params.KeywordRows
	run.RankRows = params.RankRows
	run.SkippedRows = params.SkippedRows
	run.FailedRows = params.FailedRows
	run.WarningCount = params.WarningCount
	run.CompletedAt = &completed
	if params.DateFrom != nil && params.DateTo != nil {
		run.DateFrom, run.DateTo = dateOnly(*params.DateFrom), dateOnly(*params.DateTo)
	}
	if params.Err != nil {
		msg := truncateMessage(params.Err.Error())
		run.ErrorMessage = &msg
		params.Metadata = withError(params.Metadata, params.Err)
	}
	if run.Metadata == nil {
		run.Metadata = dbtypes.JSONMap{}
	}
	for k, v := range params.Metadata {
		run.Metadata[k] = v
	}

	if err := r.repo.Update(ctx, run); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update import run")
	}
	return nil
}

func withError(meta map[string]any, err error) map[string]any {
	out := make(map[string]any, len(meta)+2)
	for k, v := range meta {
		out[k] = v
	}
	out["error_code"] = string(pkgerrors.CodeOf(err))
	out["error_chain"] = pkgerrors.Dump(err)
	return out
}

func truncateMessage(msg string) string {
	msg = strings.TrimSpace(msg)
	if utf8.RuneCountInString(msg) <= maxErrorMessageLength {
		return msg
	}
	return string([]rune(msg)[:maxErrorMessageLength])
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// NoopRecorder hands out ids without persisting anything. Dry runs use it.
type NoopRecorder struct{}

func (NoopRecorder) Open(context.Context, OpenParams) (uuid.UUID, error) { return uuid.New(), nil }

func (NoopRecorder) Close(context.Context, uuid.UUID, CloseParams) error { return nil }
