package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/rankings-ingest/internal/pipeline"
	"github.com/angelmondragon/rankings-ingest/pkg/logger"
)

const (
	rankingsPullJobName = "rankings-pull"
	rankingsPullDays    = pipeline.DefaultDays
)

type RankingsPullJobParams struct {
	Logger    *logger.Logger
	Runner    pullRunner
	LastRun   lastRunMarker
	Days      int
	Countries []string
}

type pullRunner interface {
	Run(ctx context.Context, req pipeline.Request) (pipeline.RunSummary, error)
}

type lastRunMarker interface {
	MarkLastRun(ctx context.Context, job string, at time.Time) error
}

func NewRankingsPullJob(params RankingsPullJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Runner == nil {
		return nil, fmt.Errorf("pipeline runner required")
	}
	days := params.Days
	if days <= 0 {
		days = rankingsPullDays
	}
	return &rankingsPullJob{
		logg:      params.Logger,
		runner:    params.Runner,
		lastRun:   params.LastRun,
		days:      days,
		countries: append([]string(nil), params.Countries...),
		now:       time.Now,
	}, nil
}

type rankingsPullJob struct {
	logg      *logger.Logger
	runner    pullRunner
	lastRun   lastRunMarker
	days      int
	countries []string
	now       func() time.Time
}

func (j *rankingsPullJob) Name() string { return rankingsPullJobName }

// Run pulls the rolling window for every configured country. Any failed country fails the
// job so the cron metrics count it; the summary has already been emitted by then.
func (j *rankingsPullJob) Run(ctx context.Context) error {
	summary, err := j.runner.Run(ctx, pipeline.Request{Countries: j.countries, Days: j.days})
	if err != nil {
		return fmt.Errorf("rankings pull: %w", err)
	}
	if j.lastRun != nil {
		if err := j.lastRun.MarkLastRun(ctx, rankingsPullJobName, j.now().UTC()); err != nil {
			j.logg.Warn(ctx, "failed to record last run: "+err.Error())
		}
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"run_id":           summary.RunID,
		"days":             j.days,
		"countries":        summary.Totals.Countries,
		"failed":           summary.Totals.Failed,
		"keywords_written": summary.Totals.KeywordsWritten,
		"ranks_written":    summary.Totals.RanksWritten,
	})
	if summary.AnyFailed() {
		j.logg.Warn(logCtx, "rankings pull finished with failed countries")
		return fmt.Errorf("rankings pull: %d of %d countries failed", summary.Totals.Failed, summary.Totals.Countries)
	}
	j.logg.Info(logCtx, "rankings pull complete")
	return nil
}
