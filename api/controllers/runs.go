package controllers

import (
	"context"
	"net/http"

	"github.com/angelmondragon/rankings-ingest/api/responses"
	"github.com/angelmondragon/rankings-ingest/api/validators"
	"github.com/angelmondragon/rankings-ingest/internal/pipeline"
	pkgerrors "github.com/angelmondragon/rankings-ingest/pkg/errors"
	"github.com/angelmondragon/rankings-ingest/pkg/logger"
)

// PullRunner executes one ingestion request.
type PullRunner interface {
	Run(ctx context.Context, req pipeline.Request) (pipeline.RunSummary, error)
}

// RunLock is the lock the scheduled job also takes.
type RunLock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// TriggerRun runs an on-demand pull synchronously and answers with its summary. The
// summary is returned with 200 even when countries failed; callers read Totals.Failed.
func TriggerRun(runner PullRunner, lock RunLock, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		var req pipeline.Request
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		locked, err := lock.Acquire(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "acquire run lock"))
			return
		}
		if !locked {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConflict, "a rankings pull is already running"))
			return
		}
		defer func() {
			if relErr := lock.Release(context.WithoutCancel(ctx)); relErr != nil {
				logg.Error(ctx, "failed to release run lock", relErr)
			}
		}()

		summary, err := runner.Run(ctx, req)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, summary)
	}
}
