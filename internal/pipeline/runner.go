package pipeline

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/angelmondragon/rankings-ingest/internal/importruns"
	"github.com/angelmondragon/rankings-ingest/internal/portal"
	"github.com/angelmondragon/rankings-ingest/internal/rankings"
	"github.com/angelmondragon/rankings-ingest/internal/ranksync"
	"github.com/angelmondragon/rankings-ingest/pkg/config"
	"github.com/angelmondragon/rankings-ingest/pkg/enums"
	pkgerrors "github.com/angelmondragon/rankings-ingest/pkg/errors"
	"github.com/angelmondragon/rankings-ingest/pkg/logger"
	"github.com/angelmondragon/rankings-ingest/pkg/metrics"
)

const maxSummaryError = 500

// Fetcher downloads one country's export.
type Fetcher interface {
	Download(ctx context.Context, downloadCode string, from, to time.Time) ([]byte, error)
}

// Syncer writes merged records for one country.
type Syncer interface {
	Sync(ctx context.Context, in ranksync.Input) (ranksync.Result, error)
}

// RunnerParams wire a Runner. Recorder and Sinks are optional.
type RunnerParams struct {
	Logger            *logger.Logger
	Countries         config.CountryTable
	Fetcher           Fetcher
	Merger            *rankings.Merger
	Syncer            Syncer
	Recorder          importruns.Recorder
	Sinks             []SummarySink
	Metrics           *metrics.IngestMetrics
	InterCountryDelay time.Duration
	Now               func() time.Time
}

// Runner processes countries one after another: open ImportRun, download, size check,
// merge, sync, close ImportRun. A country's failure never stops the next one.
type Runner struct {
	logg      *logger.Logger
	countries config.CountryTable
	fetcher   Fetcher
	merger    *rankings.Merger
	syncer    Syncer
	recorder  importruns.Recorder
	sinks     []SummarySink
	metrics   *metrics.IngestMetrics
	delay     time.Duration
	now       func() time.Time
	sleep     func(context.Context, time.Duration) error
}

func NewRunner(params RunnerParams) (*Runner, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Fetcher == nil {
		return nil, fmt.Errorf("fetcher required")
	}
	if len(params.Countries.Codes()) == 0 {
		return nil, fmt.Errorf("country table is empty")
	}
	merger := params.Merger
	if merger == nil {
		merger = rankings.NewMerger(rankings.MergerOptions{})
	}
	recorder := params.Recorder
	if recorder == nil {
		recorder = importruns.NoopRecorder{}
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	delay := params.InterCountryDelay
	if delay < 0 {
		delay = 0
	}
	return &Runner{
		logg:      params.Logger,
		countries: params.Countries,
		fetcher:   params.Fetcher,
		merger:    merger,
		syncer:    params.Syncer,
		recorder:  recorder,
		sinks:     params.Sinks,
		metrics:   params.Metrics,
		delay:     delay,
		now:       now,
		sleep:     sleepContext,
	}, nil
}

// Run validates req, processes every selected country and emits the summary. The error
// is non-nil only when the request is invalid; country failures live in the summary.
func (r *Runner) Run(ctx context.Context, req Request) (RunSummary, error) {
	started := r.now()
	window, err := req.Window(started)
	if err != nil {
		return RunSummary{}, err
	}
	countries, err := r.countries.Select(req.Countries...)
	if err != nil {
		return RunSummary{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "select countries")
	}
	if !req.DryRun && r.syncer == nil {
		return RunSummary{}, pkgerrors.New(pkgerrors.CodeValidation, "a syncer is required unless dry_run is set")
	}

	runID := uuid.New()
	ctx = r.logg.WithRunID(ctx, runID.String())
	summary := RunSummary{
		RunID:     runID.String(),
		StartedAt: started,
		DryRun:    req.DryRun,
		DateFrom:  window.From.Format(DateLayout),
		DateTo:    window.To.Format(DateLayout),
	}
	r.logg.Info(r.logg.WithFields(ctx, map[string]any{
		"countries": len(countries),
		"window":    window.String(),
		"dry_run":   req.DryRun,
	}), "rankings run starting")

	for i, country := range countries {
		if i > 0 {
			if err := r.sleep(ctx, r.delay); err != nil {
				r.logg.Warn(ctx, "run canceled between countries")
			}
		}
		if ctx.Err() != nil {
			summary.add(CountrySummary{
				Country:   country.Code,
				Status:    enums.ImportStatusFailed,
				ErrorCode: string(pkgerrors.CodeInternal),
				Error:     "run canceled: " + ctx.Err().Error(),
			})
			continue
		}
		summary.add(r.runCountry(ctx, runID, country, window, req.DryRun))
	}

	summary.FinishedAt = r.now()
	summary.DurationMS = summary.FinishedAt.Sub(started).Milliseconds()
	if err := EmitAll(context.WithoutCancel(ctx), summary, r.sinks...); err != nil {
		r.logg.Error(ctx, "summary sink failed", err)
	}
	return summary, nil
}

func fileName(country config.Country, window Window) string {
	return fmt.Sprintf("KeywordRanking_%s_%s_%s.xlsx", country.Code, window.From.Format(DateLayout), window.To.Format(DateLayout))
}

// countryRun accumulates one country's progress while its stages run.
type countryRun struct {
	summary CountrySummary
	close   importruns.CloseParams
	err     error
}

func (c *countryRun) fail(err error) {
	c.err = err
	c.summary.Status = statusFor(err)
}

func statusFor(err error) enums.ImportStatus {
	if pkgerrors.MetadataFor(pkgerrors.CodeOf(err)).Severity == pkgerrors.SeveritySkip {
		return enums.ImportStatusSkipped
	}
	return enums.ImportStatusFailed
}

func (r *Runner) runCountry(ctx context.Context, runID uuid.UUID, country config.Country, window Window, dryRun bool) CountrySummary {
	start := r.now()
	ctx = r.logg.WithCountry(ctx, country.Code)
	recorder := r.recorder
	if dryRun {
		recorder = importruns.NoopRecorder{}
	}

	run := &countryRun{summary: CountrySummary{Country: country.Code}}
	importRunID, err := recorder.Open(ctx, importruns.OpenParams{
		RunID:     runID,
		Country:   country,
		DateFrom:  window.From,
		DateTo:    window.To,
		FileName:  fileName(country, window),
		StartedAt: start,
	})
	if err != nil {
		run.fail(err)
		r.logg.Error(ctx, "open import run failed", err)
		return r.finish(ctx, run, start)
	}
	if !dryRun {
		run.summary.ImportRunID = importRunID.String()
		ctx = r.logg.WithImportRunID(ctx, importRunID.String())
	}

	r.process(ctx, run, country, window, importRunID, dryRun)

	run.close.Status = run.summary.Status
	run.close.Err = run.err
	run.close.CompletedAt = r.now()
	if err := recorder.Close(context.WithoutCancel(ctx), importRunID, run.close); err != nil {
		r.logg.Error(ctx, "close import run failed", err)
		if run.err == nil {
			run.fail(err)
		}
	}
	return r.finish(ctx, run, start)
}

func (r *Runner) process(ctx context.Context, run *countryRun, country config.Country, window Window, importRunID uuid.UUID, dryRun bool) {
	stageCtx := r.logg.WithStage(ctx, "download")
	payload, err := r.fetcher.Download(stageCtx, country.DownloadCode, window.From, window.To)
	if err != nil {
		run.fail(err)
		r.logg.Error(stageCtx, "download failed", err)
		return
	}
	run.summary.PayloadBytes = len(payload)
	run.close.FileSizeBytes = int64(len(payload))
	r.metrics.SetPayloadBytes(country.Code, len(payload))

	if err := portal.CheckSize(payload, country); err != nil {
		run.fail(err)
		run.summary.Warnings++
		run.close.WarningCount = 1
		r.metrics.AddWarnings(country.Code, string(pkgerrors.CodeSizeThreshold), 1)
		r.logg.Warn(r.logg.WithField(stageCtx, "bytes", len(payload)), err.Error())
		return
	}

	stageCtx = r.logg.WithStage(ctx, "merge")
	wb, err := rankings.ReadWorkbook(payload)
	if err != nil {
		run.fail(err)
		r.logg.Error(stageCtx, "workbook unreadable", err)
		return
	}
	merged, err := r.merger.Merge(wb, country.MarketplaceID)
	if err != nil {
		run.fail(err)
		r.logg.Error(stageCtx, "merge failed", err)
		return
	}
	r.recordMerge(stageCtx, run, merged)

	if dryRun {
		run.summary.Status = enums.ImportStatusSuccess
		r.logg.Info(stageCtx, "dry run, skipping sync")
		return
	}

	stageCtx = r.logg.WithStage(ctx, "sync")
	res, err := r.syncer.Sync(stageCtx, ranksync.Input{
		MarketplaceID: country.MarketplaceID,
		ImportRunID:   &importRunID,
		Keywords:      merged.Keywords,
		Ranks:         merged.Ranks,
	})
	r.recordSync(country, run, res)
	if err != nil {
		run.fail(err)
		r.logg.Error(stageCtx, "sync failed", err)
		return
	}
	run.summary.Status = enums.ImportStatusSuccess
	if res.Partial() {
		run.summary.Status = enums.ImportStatusPartial
	}
}

func (r *Runner) recordMerge(ctx context.Context, run *countryRun, merged rankings.MergeResult) {
	stats := merged.Stats
	run.summary.KeywordsMerged = len(merged.Keywords)
	run.summary.RanksMerged = len(merged.Ranks)
	run.summary.RowsSkipped = stats.RowsSkipped
	run.summary.Warnings += len(merged.Warnings)
	run.close.SkippedRows = stats.RowsSkipped
	run.close.WarningCount += len(merged.Warnings)
	if len(merged.Dates) > 0 {
		from, to := merged.DateFrom(), merged.DateTo()
		run.close.DateFrom, run.close.DateTo = &from, &to
	}
	run.close.Metadata = map[string]any{
		"keywords_parsed":   stats.KeywordsParsed,
		"keywords_kept":     stats.KeywordsKept,
		"keywords_filtered": stats.KeywordsFiltered,
		"rank_entries":      stats.RankEntries,
		"ranks_filtered":    stats.RanksFiltered,
		"organic_cells":     stats.OrganicCells,
		"sponsored_cells":   stats.SponsoredCells,
		"decode_warnings":   stats.DecodeWarnings,
		"metric_warnings":   stats.MetricWarnings,
		"date_count":        stats.DateCount,
	}

	byCode := map[pkgerrors.Code]int{}
	for _, w := range merged.Warnings {
		byCode[w.Code]++
		r.logg.Debug(ctx, w.String())
	}
	for code, n := range byCode {
		r.metrics.AddWarnings(run.summary.Country, string(code), n)
	}

	fields := map[string]any{
		"keywords":          stats.KeywordsKept,
		"keywords_filtered": stats.KeywordsFiltered,
		"rank_entries":      stats.RankEntries,
		"organic_cells":     stats.OrganicCells,
		"sponsored_cells":   stats.SponsoredCells,
		"dates":             stats.DateCount,
		"warnings":          len(merged.Warnings),
	}
	if len(merged.Dates) > 0 {
		fields["date_from"] = merged.DateFrom().Format(DateLayout)
		fields["date_to"] = merged.DateTo().Format(DateLayout)
	}
	r.logg.Info(r.logg.WithFields(ctx, fields), "workbook merged")
}

func (r *Runner) recordSync(country config.Country, run *countryRun, res ranksync.Result) {
	run.summary.KeywordsWritten = res.KeywordsWritten
	run.summary.RanksWritten = res.RanksWritten
	run.summary.RowsFailed = res.FailedRows()
	run.summary.Warnings += len(res.Warnings)
	run.close.KeywordRows = res.KeywordsWritten
	run.close.RankRows = res.RanksWritten
	run.close.FailedRows = res.FailedRows()
	run.close.WarningCount += len(res.Warnings)
	if run.close.Metadata == nil {
		run.close.Metadata = map[string]any{}
	}
	run.close.Metadata["ranks_unresolved"] = res.RanksUnresolved
	run.close.Metadata["keywords_resolved"] = res.Resolved

	r.metrics.AddRows(country.Code, metrics.RowKindKeywords, res.KeywordsWritten)
	r.metrics.AddRows(country.Code, metrics.RowKindRanks, res.RanksWritten)
	r.metrics.AddRows(country.Code, metrics.RowKindFailed, res.FailedRows())
	for _, w := range res.Warnings {
		r.metrics.AddWarnings(country.Code, string(w.Code), 1)
	}
}

func (r *Runner) finish(ctx context.Context, run *countryRun, start time.Time) CountrySummary {
	duration := r.now().Sub(start)
	run.summary.DurationMS = duration.Milliseconds()
	if run.err != nil {
		run.summary.ErrorCode = string(pkgerrors.CodeOf(run.err))
		run.summary.Error = truncateRunes(run.err.Error(), maxSummaryError)
	}
	r.metrics.ObserveCountry(run.summary.Country, string(run.summary.Status), duration)
	r.logg.Info(r.logg.WithFields(ctx, map[string]any{
		"status":      string(run.summary.Status),
		"duration_ms": run.summary.DurationMS,
	}), "country done")
	return run.summary
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// truncateRunes cuts s to at most max runes.
func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}
