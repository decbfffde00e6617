package ranksync

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/rankings-ingest/internal/rankings"
	"github.com/angelmondragon/rankings-ingest/internal/rankings/rankingstest"
	"github.com/angelmondragon/rankings-ingest/pkg/db/models"
	"github.com/angelmondragon/rankings-ingest/pkg/logger"
	"github.com/angelmondragon/rankings-ingest/pkg/migrate"
	"github.com/angelmondragon/rankings-ingest/pkg/pagination"
)

var testMarketplace = uuid.MustParse("8a3f6a0e-5d0c-4c8e-9b1e-3f8f3c0f1a01")

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:ranksync_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	require.NoError(t, err)
	require.NoError(t, migrate.AutoMigrate(context.Background(), conn))
	return conn
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "ranksync-test", Output: io.Discard})
}

func fastOptions() Options {
	return Options{
		KeywordBatchSize: 2,
		RankBatchSize:    2,
		ResolvePageSize:  2,
		ConsistencyMode:  ConsistencyFixed,
		ConsistencyWait:  time.Millisecond,
		PollAttempts:     4,
		BatchMaxRetries:  2,
		BatchBackoff:     time.Millisecond,
	}
}

func newTestEngine(t *testing.T, repo Repository, opts Options) *Engine {
	t.Helper()
	engine, err := NewEngine(repo, opts, testLogger())
	require.NoError(t, err)
	return engine
}

func shoeRackInput(t *testing.T) Input {
	t.Helper()
	wb, err := rankings.ReadWorkbook(rankingstest.ShoeRack(t))
	require.NoError(t, err)
	merged, err := rankings.NewMerger(rankings.MergerOptions{}).Merge(wb, testMarketplace)
	require.NoError(t, err)
	runID := uuid.New()
	return Input{
		MarketplaceID: testMarketplace,
		ImportRunID:   &runID,
		Keywords:      merged.Keywords,
		Ranks:         merged.Ranks,
	}
}

func keywordInput(n int) Input {
	in := Input{MarketplaceID: testMarketplace}
	day := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		identity := rankings.NewIdentity("B00TEST0"+string(rune('A'+i)), "keyword "+string(rune('a'+i)))
		in.Keywords = append(in.Keywords, rankings.KeywordRecord{
			Identity:      identity,
			MarketplaceID: testMarketplace,
			KeywordText:   identity.Keyword,
			Source:        rankings.SheetOrganic,
		})
		in.Ranks = append(in.Ranks, rankings.RankRecord{
			Identity: identity,
			Date:     day,
			Organic:  rankings.PositionAt(i + 1),
		})
	}
	return in
}

// scriptedRepo wraps a real repository and injects failures or hides rows.
type scriptedRepo struct {
	Repository

	mu             sync.Mutex
	keywordErrs    []error
	pageErrs       []error
	rankErrs       []error
	hideFirstPages int
	hidden         map[string]bool
	keywordCalls   int
	rankCalls      int
	pageCalls      int
	pagesSeen      []pagination.Page
}

func (s *scriptedRepo) UpsertKeywords(ctx context.Context, rows []models.Keyword) error {
	s.mu.Lock()
	s.keywordCalls++
	var err error
	if len(s.keywordErrs) > 0 {
		err, s.keywordErrs = s.keywordErrs[0], s.keywordErrs[1:]
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.Repository.UpsertKeywords(ctx, rows)
}

func (s *scriptedRepo) UpsertRanks(ctx context.Context, rows []models.DailyRank) error {
	s.mu.Lock()
	s.rankCalls++
	var err error
	if len(s.rankErrs) > 0 {
		err, s.rankErrs = s.rankErrs[0], s.rankErrs[1:]
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.Repository.UpsertRanks(ctx, rows)
}

func (s *scriptedRepo) KeywordPage(ctx context.Context, marketplaceID uuid.UUID, page pagination.Page) ([]KeywordRef, error) {
	s.mu.Lock()
	s.pageCalls++
	s.pagesSeen = append(s.pagesSeen, page)
	var pageErr error
	if len(s.pageErrs) > 0 {
		pageErr, s.pageErrs = s.pageErrs[0], s.pageErrs[1:]
	}
	hideAll := s.hideFirstPages > 0
	if hideAll {
		s.hideFirstPages--
	}
	s.mu.Unlock()
	if pageErr != nil {
		return nil, pageErr
	}
	if hideAll {
		return nil, nil
	}
	refs, err := s.Repository.KeywordPage(ctx, marketplaceID, page)
	if err != nil || len(s.hidden) == 0 {
		return refs, err
	}
	kept := refs[:0]
	for _, ref := range refs {
		if !s.hidden[ref.Keyword] {
			kept = append(kept, ref)
		}
	}
	return kept, nil
}
