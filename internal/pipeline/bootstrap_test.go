package pipeline

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/rankings-ingest/pkg/config"
	"github.com/angelmondragon/rankings-ingest/pkg/logger"
)

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, string, []byte, map[string]string) (string, error) {
	return "msg-1", nil
}

func bootstrapConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Portal: config.PortalConfig{
			BaseURL:  "https://portal.example.com",
			Email:    "ops@example.com",
			Password: "hunter2",
		},
		Run:    config.RunConfig{CountriesFile: filepath.Join(t.TempDir(), "countries.yaml")},
		PubSub: config.PubSubConfig{SummaryTopic: "rankings-runs"},
	}
}

func TestNewRunnerFromConfigWiresStore(t *testing.T) {
	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	require.NoError(t, err)

	runner, err := NewRunnerFromConfig(BootstrapParams{
		Config:     bootstrapConfig(t),
		Logger:     logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		DB:         conn,
		Publisher:  nopPublisher{},
		Registerer: prometheus.NewRegistry(),
	})
	require.NoError(t, err)

	assert.NotNil(t, runner.syncer)
	assert.NotNil(t, runner.metrics)
	assert.Len(t, runner.sinks, 2)
	assert.Equal(t, config.DefaultCountries().Codes(), runner.countries.Codes())
}

func TestNewRunnerFromConfigWithoutStoreIsDryRunOnly(t *testing.T) {
	cfg := bootstrapConfig(t)
	cfg.PubSub.SummaryTopic = ""
	runner, err := NewRunnerFromConfig(BootstrapParams{
		Config:    cfg,
		Logger:    logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		Publisher: nopPublisher{},
	})
	require.NoError(t, err)
	assert.Nil(t, runner.syncer)
	assert.Len(t, runner.sinks, 1)

	_, err = runner.Run(context.Background(), Request{Countries: []string{"US"}})
	assert.Error(t, err)
}

func TestNewRunnerFromConfigRequiresCredentials(t *testing.T) {
	cfg := bootstrapConfig(t)
	cfg.Portal.Password = ""
	_, err := NewRunnerFromConfig(BootstrapParams{
		Config: cfg,
		Logger: logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
	})
	assert.Error(t, err)
}
