package pipeline

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"github.com/angelmondragon/rankings-ingest/internal/importruns"
	"github.com/angelmondragon/rankings-ingest/internal/portal"
	"github.com/angelmondragon/rankings-ingest/internal/rankings"
	"github.com/angelmondragon/rankings-ingest/internal/ranksync"
	"github.com/angelmondragon/rankings-ingest/pkg/config"
	"github.com/angelmondragon/rankings-ingest/pkg/logger"
	"github.com/angelmondragon/rankings-ingest/pkg/metrics"
)

// BootstrapParams carry the process-level clients both commands share. DB may be nil
// for a dry-run-only process; Publisher may be nil when no summary topic is configured.
type BootstrapParams struct {
	Config     *config.Config
	Logger     *logger.Logger
	DB         *gorm.DB
	Publisher  Publisher
	Registerer prometheus.Registerer
}

// NewRunnerFromConfig builds a Runner over the portal client, the merge engine, the
// sync engine and the import run ledger.
func NewRunnerFromConfig(params BootstrapParams) (*Runner, error) {
	cfg := params.Config
	if cfg == nil {
		return nil, fmt.Errorf("config required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if err := cfg.Portal.Validate(); err != nil {
		return nil, err
	}
	countries, err := config.LoadCountryTable(cfg.Run.CountriesFile)
	if err != nil {
		return nil, fmt.Errorf("load country table: %w", err)
	}
	client, err := portal.NewClientFromConfig(cfg.Portal, params.Logger)
	if err != nil {
		return nil, fmt.Errorf("portal client: %w", err)
	}

	runnerParams := RunnerParams{
		Logger:            params.Logger,
		Countries:         countries,
		Fetcher:           client,
		Merger:            rankings.NewMerger(rankings.MergerOptions{TrackedOrSpendOnly: cfg.Merge.TrackedOrSpendOnly}),
		Sinks:             []SummarySink{LogSink{Logger: params.Logger}},
		InterCountryDelay: cfg.Run.InterCountryDelay,
	}
	if params.Registerer != nil {
		runnerParams.Metrics = metrics.NewIngestMetrics(params.Registerer)
	}
	if params.DB != nil {
		engine, err := ranksync.NewEngine(ranksync.NewRepository(params.DB), ranksync.OptionsFromConfig(cfg.Sync), params.Logger)
		if err != nil {
			return nil, fmt.Errorf("sync engine: %w", err)
		}
		recorder, err := importruns.NewRecorder(importruns.NewRepository(params.DB))
		if err != nil {
			return nil, fmt.Errorf("import run recorder: %w", err)
		}
		runnerParams.Syncer = engine
		runnerParams.Recorder = recorder
	}
	if params.Publisher != nil && cfg.PubSub.Enabled() {
		runnerParams.Sinks = append(runnerParams.Sinks, PubSubSink{Publisher: params.Publisher, Topic: cfg.PubSub.SummaryTopic})
	}
	return NewRunner(runnerParams)
}
