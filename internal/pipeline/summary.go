package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/rankings-ingest/pkg/enums"
	"github.com/angelmondragon/rankings-ingest/pkg/logger"
)

// CountrySummary is the outcome of one country within a run.
type CountrySummary struct {
	Country         string             `json:"country"`
	Status          enums.ImportStatus `json:"status"`
	ImportRunID     string             `json:"import_run_id,omitempty"`
	PayloadBytes    int                `json:"payload_bytes"`
	KeywordsMerged  int                `json:"keywords_merged"`
	RanksMerged     int                `json:"ranks_merged"`
	KeywordsWritten int                `json:"keywords_written"`
	RanksWritten    int                `json:"ranks_written"`
	RowsSkipped     int                `json:"rows_skipped"`
	RowsFailed      int                `json:"rows_failed"`
	Warnings        int                `json:"warnings"`
	DurationMS      int64              `json:"duration_ms"`
	ErrorCode       string             `json:"error_code,omitempty"`
	Error           string             `json:"error,omitempty"`
}

// Failed reports whether the country ended in the failed status.
func (c CountrySummary) Failed() bool {
	return c.Status == enums.ImportStatusFailed
}

// Totals aggregate every country of a run.
type Totals struct {
	Countries       int `json:"countries"`
	Succeeded       int `json:"succeeded"`
	Partial         int `json:"partial"`
	Skipped         int `json:"skipped"`
	Failed          int `json:"failed"`
	KeywordsWritten int `json:"keywords_written"`
	RanksWritten    int `json:"ranks_written"`
	RowsFailed      int `json:"rows_failed"`
	Warnings        int `json:"warnings"`
}

// RunSummary is the structured report handed to every SummarySink.
type RunSummary struct {
	RunID      string           `json:"run_id"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	DurationMS int64            `json:"duration_ms"`
	DryRun     bool             `json:"dry_run"`
	DateFrom   string           `json:"date_from"`
	DateTo     string           `json:"date_to"`
	Countries  []CountrySummary `json:"countries"`
	Totals     Totals           `json:"totals"`
}

// AnyFailed reports whether at least one country failed.
func (s RunSummary) AnyFailed() bool {
	return s.Totals.Failed > 0
}

func (s *RunSummary) add(c CountrySummary) {
	s.Countries = append(s.Countries, c)
	t := &s.Totals
	t.Countries++
	switch c.Status {
	case enums.ImportStatusSuccess:
		t.Succeeded++
	case enums.ImportStatusPartial:
		t.Partial++
	case enums.ImportStatusSkipped:
		t.Skipped++
	default:
		t.Failed++
	}
	t.KeywordsWritten += c.KeywordsWritten
	t.RanksWritten += c.RanksWritten
	t.RowsFailed += c.RowsFailed
	t.Warnings += c.Warnings
}

// SummarySink receives the run summary once all countries are done.
type SummarySink interface {
	Emit(ctx context.Context, summary RunSummary) error
}

// EmitAll delivers summary to every sink and combines their errors.
func EmitAll(ctx context.Context, summary RunSummary, sinks ...SummarySink) error {
	var err error
	for _, sink := range sinks {
		if sink == nil {
			continue
		}
		err = multierr.Append(err, sink.Emit(ctx, summary))
	}
	return err
}

// LogSink writes the summary as structured log lines.
type LogSink struct {
	Logger *logger.Logger
}

func (s LogSink) Emit(ctx context.Context, summary RunSummary) error {
	if s.Logger == nil {
		return fmt.Errorf("log sink has no logger")
	}
	ctx = s.Logger.WithRunID(ctx, summary.RunID)
	for _, c := range summary.Countries {
		fields := map[string]any{
			"status":           string(c.Status),
			"keywords_written": c.KeywordsWritten,
			"ranks_written":    c.RanksWritten,
			"rows_failed":      c.RowsFailed,
			"warnings":         c.Warnings,
			"duration_ms":      c.DurationMS,
		}
		if c.Error != "" {
			fields["error"] = c.Error
		}
		countryCtx := s.Logger.WithFields(s.Logger.WithCountry(ctx, c.Country), fields)
		if c.Failed() {
			s.Logger.Warn(countryCtx, "country failed")
			continue
		}
		s.Logger.Info(countryCtx, "country finished")
	}
	s.Logger.Info(s.Logger.WithFields(ctx, map[string]any{
		"countries":        summary.Totals.Countries,
		"succeeded":        summary.Totals.Succeeded,
		"partial":          summary.Totals.Partial,
		"skipped":          summary.Totals.Skipped,
		"failed":           summary.Totals.Failed,
		"keywords_written": summary.Totals.KeywordsWritten,
		"ranks_written":    summary.Totals.RanksWritten,
		"duration_ms":      summary.DurationMS,
		"dry_run":          summary.DryRun,
		"date_from":        summary.DateFrom,
		"date_to":          summary.DateTo,
	}), "run summary")
	return nil
}

// Publisher is the slice of the Pub/Sub client the summary sink needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, data []byte, attrs map[string]string) (string, error)
}

// PubSubSink publishes the summary as JSON on a topic.
type PubSubSink struct {
	Publisher Publisher
	Topic     string
}

func (s PubSubSink) Emit(ctx context.Context, summary RunSummary) error {
	if s.Publisher == nil || s.Topic == "" {
		return fmt.Errorf("pubsub sink is not configured")
	}
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal run summary: %w", err)
	}
	attrs := map[string]string{
		"run_id":  summary.RunID,
		"event":   "rankings.run.completed",
		"failed":  fmt.Sprintf("%d", summary.Totals.Failed),
		"dry_run": fmt.Sprintf("%t", summary.DryRun),
	}
	if _, err := s.Publisher.Publish(ctx, s.Topic, data, attrs); err != nil {
		return fmt.Errorf("publish run summary: %w", err)
	}
	return nil
}
