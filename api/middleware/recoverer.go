package middleware

import (
	"fmt"
	"net/http"

	"github.com/angelmondragon/rankings-ingest/api/responses"
	pkgerrors "github.com/angelmondragon/rankings-ingest/pkg/errors"
	"github.com/angelmondragon/rankings-ingest/pkg/logger"
)

func Recoverer(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					err := fmt.Errorf("panic: %v", rec)
					ctx := r.Context()
					if logg != nil {
						ctx = logg.WithField(ctx, "panic", rec)
					}
					responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "panic"))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
