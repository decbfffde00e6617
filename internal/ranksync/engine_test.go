package ranksync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/rankings-ingest/internal/rankings"
	"github.com/angelmondragon/rankings-ingest/pkg/db/models"
	pkgerrors "github.com/angelmondragon/rankings-ingest/pkg/errors"
)

func TestSyncShoeRackEndToEnd(t *testing.T) {
	conn := newTestDB(t)
	engine := newTestEngine(t, NewRepository(conn), fastOptions())
	in := shoeRackInput(t)

	res, err := engine.Sync(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, 3, res.KeywordsWritten)
	assert.Equal(t, 4, res.RanksWritten)
	assert.False(t, res.Partial())
	assert.Empty(t, res.Warnings)

	var kw models.Keyword
	require.NoError(t, conn.Where("child_asin = ? AND keyword = ?", "B00SHOE01", "shoe rack").First(&kw).Error)
	require.True(t, kw.Spent.Valid)
	assert.True(t, kw.Spent.Decimal.Equal(decimal.NewFromInt(12)), kw.Spent.Decimal.String())
	assert.Equal(t, "shoe rack", kw.KeywordText)
	assert.True(t, kw.Tracked)
	require.NotNil(t, kw.ImportRunID)
	assert.Equal(t, *in.ImportRunID, *kw.ImportRunID)

	var rank models.DailyRank
	require.NoError(t, conn.Where("keyword_id = ? AND rank_date = ?", kw.ID, time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)).First(&rank).Error)
	assert.Equal(t, rankings.PositionAt(15), rankings.OutcomeFromColumn(rank.OrganicRank, rank.OrganicOutOfRange))
	assert.Equal(t, rankings.Beyond(97), rankings.OutcomeFromColumn(rank.SponsoredRank, rank.SponsoredOutOfRange))
	assert.Equal(t, "B00SHOE01", rank.ChildASIN)
}

func TestSyncIsIdempotent(t *testing.T) {
	conn := newTestDB(t)
	repo := NewRepository(conn)
	engine := newTestEngine(t, repo, fastOptions())
	ctx := context.Background()
	in := shoeRackInput(t)

	_, err := engine.Sync(ctx, in)
	require.NoError(t, err)
	var firstIDs []uuid.UUID
	require.NoError(t, conn.Model(&models.Keyword{}).Order("child_asin, keyword").Pluck("id", &firstIDs).Error)

	again := shoeRackInput(t)
	res, err := engine.Sync(ctx, again)
	require.NoError(t, err)
	assert.Equal(t, 4, res.RanksWritten)

	keywords, err := repo.CountKeywords(ctx, testMarketplace)
	require.NoError(t, err)
	ranks, err := repo.CountRanks(ctx, testMarketplace)
	require.NoError(t, err)
	assert.Equal(t, int64(3), keywords)
	assert.Equal(t, int64(4), ranks)

	var secondIDs []uuid.UUID
	require.NoError(t, conn.Model(&models.Keyword{}).Order("child_asin, keyword").Pluck("id", &secondIDs).Error)
	assert.Equal(t, firstIDs, secondIDs, "conflicting upserts keep the original ids")

	var kw models.Keyword
	require.NoError(t, conn.Where("keyword = ?", "shoe rack").First(&kw).Error)
	assert.Equal(t, *again.ImportRunID, *kw.ImportRunID)
}

func TestSyncUpdatesMetricsInPlace(t *testing.T) {
	conn := newTestDB(t)
	engine := newTestEngine(t, NewRepository(conn), fastOptions())
	ctx := context.Background()

	in := keywordInput(1)
	in.Keywords[0].Metrics.Spent = decimal.NewNullDecimal(decimal.NewFromInt(5))
	_, err := engine.Sync(ctx, in)
	require.NoError(t, err)

	in.Keywords[0].Metrics.Spent = decimal.NewNullDecimal(decimal.RequireFromString("7.5"))
	in.Ranks[0].Sponsored = rankings.Beyond(50)
	_, err = engine.Sync(ctx, in)
	require.NoError(t, err)

	var rows []models.Keyword
	require.NoError(t, conn.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Spent.Decimal.Equal(decimal.RequireFromString("7.5")))

	var ranks []models.DailyRank
	require.NoError(t, conn.Find(&ranks).Error)
	require.Len(t, ranks, 1)
	assert.Equal(t, rankings.Beyond(50), rankings.OutcomeFromColumn(ranks[0].SponsoredRank, ranks[0].SponsoredOutOfRange))
}

func TestResolvePagesPastOnePage(t *testing.T) {
	conn := newTestDB(t)
	scripted := &scriptedRepo{Repository: NewRepository(conn)}
	engine := newTestEngine(t, scripted, fastOptions())
	ctx := context.Background()

	in := keywordInput(5)
	res, err := engine.Sync(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Resolved)
	assert.Equal(t, 5, res.RanksWritten)

	scripted.pagesSeen = nil
	ids, err := engine.Resolve(ctx, testMarketplace)
	require.NoError(t, err)
	assert.Len(t, ids, 5)
	seen := map[uuid.UUID]bool{}
	for identity, id := range ids {
		assert.False(t, seen[id], "duplicate id for %s", identity)
		seen[id] = true
	}
	require.Len(t, scripted.pagesSeen, 3)
	assert.Equal(t, 0, scripted.pagesSeen[0].Offset)
	assert.Equal(t, 2, scripted.pagesSeen[1].Offset)
	assert.Equal(t, 4, scripted.pagesSeen[2].Offset)
}

func TestSyncDropsUnresolvedRanks(t *testing.T) {
	conn := newTestDB(t)
	scripted := &scriptedRepo{Repository: NewRepository(conn), hidden: map[string]bool{"keyword b": true}}
	opts := fastOptions()
	opts.ResolvePageSize = 100
	engine := newTestEngine(t, scripted, opts)

	res, err := engine.Sync(context.Background(), keywordInput(3))
	require.NoError(t, err)
	assert.Equal(t, 3, res.KeywordsWritten)
	assert.Equal(t, 2, res.RanksWritten)
	assert.Equal(t, 1, res.RanksUnresolved)
	assert.True(t, res.Partial())
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, pkgerrors.CodeUnresolvedIdentity, res.Warnings[0].Code)
}

func TestSyncRetriesTransientBatchFailures(t *testing.T) {
	conn := newTestDB(t)
	scripted := &scriptedRepo{
		Repository:  NewRepository(conn),
		keywordErrs: []error{errors.New("connection reset by peer")},
	}
	engine := newTestEngine(t, scripted, fastOptions())

	res, err := engine.Sync(context.Background(), keywordInput(2))
	require.NoError(t, err)
	assert.Equal(t, 2, scripted.keywordCalls)
	assert.Equal(t, 2, res.KeywordsWritten)
	assert.False(t, res.Partial())
}

func TestSyncMarksExhaustedBatchPartialAndContinues(t *testing.T) {
	conn := newTestDB(t)
	integrity := &pgconn.PgError{Code: "23505", Message: "duplicate key value"}
	scripted := &scriptedRepo{
		Repository: NewRepository(conn),
		rankErrs:   []error{integrity},
	}
	engine := newTestEngine(t, scripted, fastOptions())

	res, err := engine.Sync(context.Background(), keywordInput(4))
	require.NoError(t, err)
	assert.Equal(t, 4, res.KeywordsWritten)
	assert.Equal(t, 2, res.RanksFailed)
	assert.Equal(t, 2, res.RanksWritten)
	assert.Equal(t, 2, scripted.rankCalls, "integrity errors are not retried")
	assert.True(t, res.Partial())
	assert.Equal(t, 2, res.FailedRows())
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, pkgerrors.CodeBatchWrite, res.Warnings[0].Code)
}

func TestSyncGivesUpAfterMaxRetries(t *testing.T) {
	conn := newTestDB(t)
	transient := errors.New("connection refused")
	scripted := &scriptedRepo{
		Repository:  NewRepository(conn),
		keywordErrs: []error{transient, transient, transient},
	}
	engine := newTestEngine(t, scripted, fastOptions())

	res, err := engine.Sync(context.Background(), keywordInput(3))
	require.NoError(t, err)
	assert.Equal(t, 4, scripted.keywordCalls, "three failed attempts, then the second batch")
	assert.Equal(t, 2, res.KeywordsFailed)
	assert.Equal(t, 1, res.KeywordsWritten)
	assert.Equal(t, 1, res.RanksWritten)
	assert.Equal(t, 2, res.RanksUnresolved)
}

func TestFixedModeWaitsBeforeResolving(t *testing.T) {
	conn := newTestDB(t)
	opts := fastOptions()
	opts.ConsistencyWait = 3 * time.Second
	engine := newTestEngine(t, NewRepository(conn), opts)

	var waited []time.Duration
	engine.sleep = func(_ context.Context, d time.Duration) error {
		waited = append(waited, d)
		return nil
	}
	_, err := engine.Sync(context.Background(), keywordInput(1))
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{3 * time.Second}, waited)
}

func TestFixedModeHonorsCancellation(t *testing.T) {
	conn := newTestDB(t)
	opts := fastOptions()
	opts.ConsistencyWait = time.Hour
	engine := newTestEngine(t, NewRepository(conn), opts)

	ctx, cancel := context.WithCancel(context.Background())
	engine.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return sleepContext(ctx, d)
	}
	res, err := engine.Sync(ctx, keywordInput(1))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, res.KeywordsWritten)
	assert.Zero(t, res.RanksWritten)
}

func TestPollModeRetriesUntilVisible(t *testing.T) {
	conn := newTestDB(t)
	scripted := &scriptedRepo{Repository: NewRepository(conn), hideFirstPages: 2}
	opts := fastOptions()
	opts.ConsistencyMode = ConsistencyPoll
	opts.ResolvePageSize = 100
	engine := newTestEngine(t, scripted, opts)
	engine.sleep = func(context.Context, time.Duration) error {
		t.Fatal("poll mode must not use the fixed wait")
		return nil
	}

	res, err := engine.Sync(context.Background(), keywordInput(3))
	require.NoError(t, err)
	assert.Equal(t, 3, scripted.pageCalls)
	assert.Equal(t, 3, res.RanksWritten)
	assert.Zero(t, res.RanksUnresolved)
}

func TestPollModeProceedsWhenAttemptsRunOut(t *testing.T) {
	conn := newTestDB(t)
	scripted := &scriptedRepo{Repository: NewRepository(conn), hideFirstPages: 100}
	opts := fastOptions()
	opts.ConsistencyMode = ConsistencyPoll
	opts.PollAttempts = 3
	engine := newTestEngine(t, scripted, opts)

	res, err := engine.Sync(context.Background(), keywordInput(2))
	require.NoError(t, err)
	assert.Equal(t, 3, scripted.pageCalls)
	assert.Equal(t, 2, res.RanksUnresolved)
	assert.True(t, res.Partial())
}

func TestPollModeSurfacesFailedFinalResolve(t *testing.T) {
	conn := newTestDB(t)
	scripted := &scriptedRepo{
		Repository: NewRepository(conn),
		hidden:     map[string]bool{"keyword a": true},
		pageErrs:   []error{nil, errors.New("permission denied for table si_keywords")},
	}
	opts := fastOptions()
	opts.ConsistencyMode = ConsistencyPoll
	opts.ResolvePageSize = 100
	engine := newTestEngine(t, scripted, opts)

	res, err := engine.Sync(context.Background(), keywordInput(3))
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeDependency))
	assert.Equal(t, 2, scripted.pageCalls)
	assert.Zero(t, res.RanksWritten)
}

func TestSyncValidatesInput(t *testing.T) {
	engine := newTestEngine(t, NewRepository(newTestDB(t)), fastOptions())
	_, err := engine.Sync(context.Background(), Input{})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))

	_, err = NewEngine(nil, Options{}, testLogger())
	assert.Error(t, err)
}

func TestOptionsNormalized(t *testing.T) {
	opts := Options{ConsistencyMode: " POLL ", BatchMaxRetries: -1}.normalized()
	assert.Equal(t, ConsistencyPoll, opts.ConsistencyMode)
	assert.Equal(t, defaultKeywordBatchSize, opts.KeywordBatchSize)
	assert.Equal(t, defaultRankBatchSize, opts.RankBatchSize)
	assert.Equal(t, 10000, opts.ResolvePageSize)
	assert.Zero(t, opts.BatchMaxRetries)

	assert.Equal(t, ConsistencyFixed, Options{ConsistencyMode: "bogus"}.normalized().ConsistencyMode)
}
