package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/angelmondragon/rankings-ingest/pkg/enums"
	"github.com/angelmondragon/rankings-ingest/pkg/logger"
)

type fakePublisher struct {
	topic string
	data  []byte
	attrs map[string]string
	err   error
}

func (p *fakePublisher) Publish(_ context.Context, topic string, data []byte, attrs map[string]string) (string, error) {
	p.topic, p.data, p.attrs = topic, data, attrs
	if p.err != nil {
		return "", p.err
	}
	return "msg-1", nil
}

type failingSink struct{ err error }

func (s failingSink) Emit(context.Context, RunSummary) error { return s.err }

func sampleSummary() RunSummary {
	var s RunSummary
	s.RunID = "run-1"
	s.DateFrom, s.DateTo = "2026-01-01", "2026-01-08"
	s.add(CountrySummary{Country: "US", Status: enums.ImportStatusSuccess, KeywordsWritten: 10, RanksWritten: 40, Warnings: 1})
	s.add(CountrySummary{Country: "CA", Status: enums.ImportStatusPartial, KeywordsWritten: 5, RanksWritten: 18, RowsFailed: 2})
	s.add(CountrySummary{Country: "UK", Status: enums.ImportStatusSkipped, Warnings: 1})
	s.add(CountrySummary{Country: "DE", Status: enums.ImportStatusFailed, Error: "boom"})
	return s
}

func TestRunSummaryTotals(t *testing.T) {
	s := sampleSummary()
	assert.Equal(t, Totals{
		Countries: 4, Succeeded: 1, Partial: 1, Skipped: 1, Failed: 1,
		KeywordsWritten: 15, RanksWritten: 58, RowsFailed: 2, Warnings: 2,
	}, s.Totals)
	assert.True(t, s.AnyFailed())
	assert.True(t, s.Countries[3].Failed())
	assert.False(t, s.Countries[2].Failed())
}

func TestPubSubSinkPublishesJSON(t *testing.T) {
	pub := &fakePublisher{}
	sink := PubSubSink{Publisher: pub, Topic: "rankings-summaries"}
	require.NoError(t, sink.Emit(context.Background(), sampleSummary()))

	assert.Equal(t, "rankings-summaries", pub.topic)
	assert.Equal(t, "run-1", pub.attrs["run_id"])
	assert.Equal(t, "1", pub.attrs["failed"])

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(pub.data, &decoded))
	assert.Equal(t, "2026-01-01", decoded["date_from"])
	countries, ok := decoded["countries"].([]any)
	require.True(t, ok)
	assert.Len(t, countries, 4)
	first := countries[0].(map[string]any)
	assert.Equal(t, "US", first["country"])
	assert.Equal(t, "success", first["status"])
	assert.EqualValues(t, 40, first["ranks_written"])
}

func TestPubSubSinkErrors(t *testing.T) {
	assert.Error(t, PubSubSink{}.Emit(context.Background(), RunSummary{}))

	pub := &fakePublisher{err: errors.New("unavailable")}
	err := PubSubSink{Publisher: pub, Topic: "t"}.Emit(context.Background(), RunSummary{})
	assert.ErrorContains(t, err, "publish run summary")
}

func TestLogSinkWritesCountriesAndTotals(t *testing.T) {
	var buf bytes.Buffer
	sink := LogSink{Logger: logger.New(logger.Options{ServiceName: "pipeline-test", Output: &buf})}
	require.NoError(t, sink.Emit(context.Background(), sampleSummary()))

	out := buf.String()
	assert.Contains(t, out, `"run_id":"run-1"`)
	assert.Contains(t, out, `"country":"DE"`)
	assert.Contains(t, out, "country failed")
	assert.Contains(t, out, "run summary")

	assert.Error(t, LogSink{}.Emit(context.Background(), RunSummary{}))
}

func TestEmitAllCombinesErrors(t *testing.T) {
	pub := &fakePublisher{}
	err := EmitAll(context.Background(), sampleSummary(),
		failingSink{err: errors.New("first")},
		nil,
		PubSubSink{Publisher: pub, Topic: "t"},
		failingSink{err: errors.New("second")},
	)
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 2)
	assert.NotEmpty(t, pub.data, "a failing sink does not stop the others")
}
