package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/angelmondragon/rankings-ingest/api/responses"
	"github.com/angelmondragon/rankings-ingest/pkg/config"
	"github.com/angelmondragon/rankings-ingest/pkg/db"
	pkgerrors "github.com/angelmondragon/rankings-ingest/pkg/errors"
	"github.com/angelmondragon/rankings-ingest/pkg/logger"
)

const readyTimeout = 3 * time.Second

const envHeader = "X-Rankings-Env"

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings every named dependency. Nil pingers are skipped, which is how an
// optional Redis shows up.
func HealthReady(cfg *config.Config, logg *logger.Logger, deps map[string]db.Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()

		checks := map[string]string{}
		failed := map[string]string{}
		for name, dep := range deps {
			if dep == nil {
				checks[name] = "disabled"
				continue
			}
			if err := dep.Ping(ctx); err != nil {
				failed[name] = err.Error()
				checks[name] = "down"
				continue
			}
			checks[name] = "ok"
		}
		if len(failed) > 0 {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeDependency, "dependency check failed").WithDetails(failed))
			return
		}
		responses.WriteSuccess(w, map[string]any{"status": "ready", "checks": checks})
	}
}
