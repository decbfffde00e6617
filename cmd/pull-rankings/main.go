package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/rankings-ingest/internal/pipeline"
	"github.com/angelmondragon/rankings-ingest/pkg/config"
	"github.com/angelmondragon/rankings-ingest/pkg/db"
	"github.com/angelmondragon/rankings-ingest/pkg/instance"
	"github.com/angelmondragon/rankings-ingest/pkg/logger"
	"github.com/angelmondragon/rankings-ingest/pkg/migrate"
	"github.com/angelmondragon/rankings-ingest/pkg/pubsub"
)

const serviceName = "pull-rankings"

type countryList []string

func (c *countryList) String() string { return strings.Join(*c, ",") }

func (c *countryList) Set(value string) error {
	for _, code := range strings.Split(value, ",") {
		if code = strings.TrimSpace(code); code != "" {
			*c = append(*c, code)
		}
	}
	return nil
}

func main() {
	os.Exit(run())
}

func run() int {
	logg := logger.New(logger.Options{ServiceName: serviceName})
	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	var countries countryList
	flag.Var(&countries, "country", "country code to pull (repeatable or comma separated; \"all\" for every country)")
	days := flag.Int("days", 0, "number of days back from today; ignored when -from-date is set")
	fromDate := flag.String("from-date", "", "first day of the window (YYYY-MM-DD)")
	toDate := flag.String("to-date", "", "last day of the window (YYYY-MM-DD), defaults to today")
	dryRun := flag.Bool("dry-run", false, "download and merge without writing to the database")
	countriesFile := flag.String("countries-file", "", "override RANKPULL_COUNTRIES_FILE")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		return 1
	}
	cfg.Service.Kind = serviceName
	if *countriesFile != "" {
		cfg.Run.CountriesFile = *countriesFile
	}
	if *days == 0 && *fromDate == "" {
		*days = cfg.Run.DefaultDays
	}

	logg = logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.GetID(),
	})

	params := pipeline.BootstrapParams{
		Config:     cfg,
		Logger:     logg,
		Registerer: prometheus.NewRegistry(),
	}

	if !*dryRun {
		dbClient, err := db.New(ctx, cfg.DB, logg)
		if err != nil {
			logg.Error(ctx, "failed to bootstrap database", err)
			return 1
		}
		defer func() {
			if err := dbClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing database", err)
			}
		}()
		if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
			logg.Error(ctx, "failed to run dev migrations", err)
			return 1
		}
		params.DB = dbClient.DB()
	}

	if cfg.PubSub.Enabled() {
		psClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
		if err != nil {
			logg.Error(ctx, "failed to bootstrap pubsub", err)
			return 1
		}
		defer func() {
			if err := psClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing pubsub", err)
			}
		}()
		params.Publisher = psClient
	}

	runner, err := pipeline.NewRunnerFromConfig(params)
	if err != nil {
		logg.Error(ctx, "failed to build pipeline", err)
		return 1
	}

	summary, err := runner.Run(ctx, pipeline.Request{
		Countries: countries,
		Days:      *days,
		FromDate:  *fromDate,
		ToDate:    *toDate,
		DryRun:    *dryRun,
	})
	if err != nil {
		logg.Error(ctx, "invalid request", err)
		return 2
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		fmt.Fprintf(os.Stderr, "failed to print summary: %v\n", err)
	}
	if summary.AnyFailed() {
		return 1
	}
	return 0
}
