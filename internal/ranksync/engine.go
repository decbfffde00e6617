package ranksync

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/angelmondragon/rankings-ingest/internal/rankings"
	"github.com/angelmondragon/rankings-ingest/pkg/config"
	"github.com/angelmondragon/rankings-ingest/pkg/db"
	"github.com/angelmondragon/rankings-ingest/pkg/db/models"
	pkgerrors "github.com/angelmondragon/rankings-ingest/pkg/errors"
	"github.com/angelmondragon/rankings-ingest/pkg/logger"
	"github.com/angelmondragon/rankings-ingest/pkg/pagination"
)

const (
	ConsistencyFixed = "fixed"
	ConsistencyPoll  = "poll"

	defaultKeywordBatchSize = 500
	defaultRankBatchSize    = 2000
	defaultPollAttempts     = 5
	defaultBatchBackoff     = time.Second
)

// Options tune batching, the consistency wait and batch retries.
type Options struct {
	KeywordBatchSize int
	RankBatchSize    int
	ResolvePageSize  int
	ConsistencyMode  string
	ConsistencyWait  time.Duration
	PollAttempts     int
	BatchMaxRetries  int
	BatchBackoff     time.Duration
}

// OptionsFromConfig maps the sync settings onto engine options.
func OptionsFromConfig(cfg config.SyncConfig) Options {
	return Options{
		KeywordBatchSize: cfg.KeywordBatchSize,
		RankBatchSize:    cfg.RankBatchSize,
		ResolvePageSize:  cfg.ResolvePageSize,
		ConsistencyMode:  cfg.ConsistencyMode,
		ConsistencyWait:  cfg.ConsistencyWait,
		PollAttempts:     cfg.PollAttempts,
		BatchMaxRetries:  cfg.BatchMaxRetries,
		BatchBackoff:     cfg.BatchBackoff,
	}
}

func (o Options) normalized() Options {
	if o.KeywordBatchSize <= 0 {
		o.KeywordBatchSize = defaultKeywordBatchSize
	}
	if o.RankBatchSize <= 0 {
		o.RankBatchSize = defaultRankBatchSize
	}
	o.ResolvePageSize = pagination.NormalizeSize(o.ResolvePageSize)
	o.ConsistencyMode = strings.ToLower(strings.TrimSpace(o.ConsistencyMode))
	if o.ConsistencyMode != ConsistencyPoll {
		o.ConsistencyMode = ConsistencyFixed
	}
	if o.ConsistencyWait < 0 {
		o.ConsistencyWait = 0
	}
	if o.PollAttempts <= 0 {
		o.PollAttempts = defaultPollAttempts
	}
	if o.BatchMaxRetries < 0 {
		o.BatchMaxRetries = 0
	}
	if o.BatchBackoff <= 0 {
		o.BatchBackoff = defaultBatchBackoff
	}
	return o
}

// Input is one country's merged records.
type Input struct {
	MarketplaceID uuid.UUID
	ImportRunID   *uuid.UUID
	Keywords      []rankings.KeywordRecord
	Ranks         []rankings.RankRecord
}

// Warning is a non-fatal sync problem.
type Warning struct {
	Code    pkgerrors.Code
	Message string
	Rows    int
}

// Result counts what one Sync wrote.
type Result struct {
	KeywordsWritten int
	KeywordsFailed  int
	RanksWritten    int
	RanksFailed     int
	RanksUnresolved int
	Resolved        int
	Warnings        []Warning
}

// Partial reports whether any row was dropped or failed.
func (r Result) Partial() bool {
	return r.KeywordsFailed > 0 || r.RanksFailed > 0 || r.RanksUnresolved > 0
}

// FailedRows is every row that did not reach the store.
func (r Result) FailedRows() int {
	return r.KeywordsFailed + r.RanksFailed + r.RanksUnresolved
}

// Engine writes merged records in the strict order keywords, consistency wait, identity
// resolution, ranks.
type Engine struct {
	repo  Repository
	opts  Options
	logg  *logger.Logger
	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

func NewEngine(repo Repository, opts Options, logg *logger.Logger) (*Engine, error) {
	if repo == nil {
		return nil, fmt.Errorf("repository required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Engine{
		repo:  repo,
		opts:  opts.normalized(),
		logg:  logg,
		now:   func() time.Time { return time.Now().UTC() },
		sleep: sleepContext,
	}, nil
}

// Sync runs every phase for one country. Batch failures make the result partial; only a
// failed resolution or a canceled context returns an error.
func (e *Engine) Sync(ctx context.Context, in Input) (Result, error) {
	if in.MarketplaceID == uuid.Nil {
		return Result{}, pkgerrors.New(pkgerrors.CodeValidation, "marketplace id is required")
	}
	var res Result

	written := e.UpsertKeywords(ctx, in, &res)
	if err := ctx.Err(); err != nil {
		return res, err
	}

	ids, err := e.AwaitIdentities(ctx, in.MarketplaceID, written)
	if err != nil {
		return res, err
	}
	res.Resolved = len(ids)

	e.UpsertRanks(ctx, in, ids, &res)
	if err := ctx.Err(); err != nil {
		return res, err
	}

	e.logg.Info(e.logg.WithFields(ctx, map[string]any{
		"keywords_written": res.KeywordsWritten,
		"keywords_failed":  res.KeywordsFailed,
		"ranks_written":    res.RanksWritten,
		"ranks_failed":     res.RanksFailed,
		"ranks_unresolved": res.RanksUnresolved,
	}), "sync complete")
	return res, nil
}

// UpsertKeywords writes keyword batches and returns the identities that were written.
func (e *Engine) UpsertKeywords(ctx context.Context, in Input, res *Result) []rankings.Identity {
	now := e.now()
	written := make([]rankings.Identity, 0, len(in.Keywords))
	for start := 0; start < len(in.Keywords); start += e.opts.KeywordBatchSize {
		end := min(start+e.opts.KeywordBatchSize, len(in.Keywords))
		chunk := in.Keywords[start:end]
		rows := make([]models.Keyword, 0, len(chunk))
		for _, rec := range chunk {
			rows = append(rows, keywordRow(rec, in.ImportRunID, now))
		}

		err := e.writeBatch(ctx, func(ctx context.Context) error {
			return e.repo.UpsertKeywords(ctx, rows)
		})
		if err != nil {
			e.batchFailed(ctx, res, "keyword", start, len(rows), err)
			res.KeywordsFailed += len(rows)
			continue
		}
		res.KeywordsWritten += len(rows)
		for _, rec := range chunk {
			written = append(written, rec.Identity)
		}
	}
	return written
}

// AwaitIdentities waits until the written keywords are visible and resolves them. In fixed
// mode it sleeps once and resolves; in poll mode it resolves with backoff until every
// expected identity appears or the attempts run out.
func (e *Engine) AwaitIdentities(ctx context.Context, marketplaceID uuid.UUID, expected []rankings.Identity) (map[rankings.Identity]uuid.UUID, error) {
	if e.opts.ConsistencyMode == ConsistencyFixed {
		if err := e.sleep(ctx, e.opts.ConsistencyWait); err != nil {
			return nil, err
		}
		return e.Resolve(ctx, marketplaceID)
	}

	base := e.opts.ConsistencyWait
	if base <= 0 {
		base = time.Millisecond
	}
	var (
		ids        map[rankings.Identity]uuid.UUID
		resolveErr error
	)
	backoff := retry.WithMaxRetries(uint64(e.opts.PollAttempts-1), retry.NewExponential(base))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		resolved, err := e.Resolve(ctx, marketplaceID)
		resolveErr = err
		if err != nil {
			return err
		}
		ids = resolved
		if missing := countMissing(ids, expected); missing > 0 {
			e.logg.Debug(e.logg.WithField(ctx, "missing", missing), "keywords not visible yet")
			return retry.RetryableError(fmt.Errorf("%d keywords not visible", missing))
		}
		return nil
	})
	// a stale partial map is only usable when the last attempt merely came up short
	if resolveErr != nil {
		return nil, resolveErr
	}
	if err != nil && ids == nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

func countMissing(ids map[rankings.Identity]uuid.UUID, expected []rankings.Identity) int {
	missing := 0
	for _, identity := range expected {
		if _, ok := ids[identity]; !ok {
			missing++
		}
	}
	return missing
}

// Resolve pages through the marketplace's keywords by offset and maps identity to id.
func (e *Engine) Resolve(ctx context.Context, marketplaceID uuid.UUID) (map[rankings.Identity]uuid.UUID, error) {
	ids := map[rankings.Identity]uuid.UUID{}
	err := pagination.Each(e.opts.ResolvePageSize, func(page pagination.Page) (int, error) {
		refs, err := e.repo.KeywordPage(ctx, marketplaceID, page)
		if err != nil {
			return 0, err
		}
		for _, ref := range refs {
			ids[rankings.NewIdentity(ref.ChildASIN, ref.Keyword)] = ref.ID
		}
		return len(refs), nil
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve keyword ids")
	}
	return ids, nil
}

// UpsertRanks attaches resolved ids and writes rank batches. Unresolved identities are
// dropped and counted.
func (e *Engine) UpsertRanks(ctx context.Context, in Input, ids map[rankings.Identity]uuid.UUID, res *Result) {
	now := e.now()
	rows := make([]models.DailyRank, 0, len(in.Ranks))
	unresolved := 0
	for _, rec := range in.Ranks {
		id, ok := ids[rec.Identity]
		if !ok {
			unresolved++
			continue
		}
		rows = append(rows, rankRow(rec, id, in.MarketplaceID, in.ImportRunID, now))
	}
	if unresolved > 0 {
		res.RanksUnresolved += unresolved
		res.Warnings = append(res.Warnings, Warning{
			Code:    pkgerrors.CodeUnresolvedIdentity,
			Message: fmt.Sprintf("%d rank rows without a resolved keyword", unresolved),
			Rows:    unresolved,
		})
		e.logg.Warn(e.logg.WithField(ctx, "rows", unresolved), "dropping unresolved rank rows")
	}

	for start := 0; start < len(rows); start += e.opts.RankBatchSize {
		end := min(start+e.opts.RankBatchSize, len(rows))
		batch := rows[start:end]
		err := e.writeBatch(ctx, func(ctx context.Context) error {
			return e.repo.UpsertRanks(ctx, batch)
		})
		if err != nil {
			e.batchFailed(ctx, res, "rank", start, len(batch), err)
			res.RanksFailed += len(batch)
			continue
		}
		res.RanksWritten += len(batch)
	}
}

// writeBatch retries write as a whole. Errors the database will repeat are not retried.
func (e *Engine) writeBatch(ctx context.Context, write func(context.Context) error) error {
	backoff := retry.WithMaxRetries(uint64(e.opts.BatchMaxRetries), retry.NewExponential(e.opts.BatchBackoff))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := write(ctx)
		if err == nil {
			return nil
		}
		if db.IsRetryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func (e *Engine) batchFailed(ctx context.Context, res *Result, kind string, offset, rows int, err error) {
	res.Warnings = append(res.Warnings, Warning{
		Code:    pkgerrors.CodeBatchWrite,
		Message: fmt.Sprintf("%s batch at offset %d: %v", kind, offset, err),
		Rows:    rows,
	})
	e.logg.Error(e.logg.WithFields(ctx, map[string]any{
		"batch":  kind,
		"offset": offset,
		"rows":   rows,
	}), "batch write failed", err)
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
