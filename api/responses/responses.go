package responses

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	pkgerrors "github.com/angelmondragon/rankings-ingest/pkg/errors"
	"github.com/angelmondragon/rankings-ingest/pkg/logger"
	"github.com/angelmondragon/rankings-ingest/pkg/types"
)

var statusByCode = map[pkgerrors.Code]int{
	pkgerrors.CodeValidation: http.StatusBadRequest,
	pkgerrors.CodeConflict:   http.StatusConflict,
	pkgerrors.CodeAuth:       http.StatusBadGateway,
	pkgerrors.CodeDownload:   http.StatusBadGateway,
	pkgerrors.CodeDependency: http.StatusServiceUnavailable,
}

// StatusFor maps an error code onto the HTTP status the worker API answers with.
func StatusFor(code pkgerrors.Code) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func WriteSuccess(w http.ResponseWriter, data any) {
	WriteSuccessStatus(w, http.StatusOK, data)
}

func WriteSuccessStatus(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, types.SuccessEnvelope{Data: data})
}

// WriteError renders err as an error envelope. Only validation and conflict errors
// expose their own message and details; everything else answers with the code summary.
func WriteError(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	typed := pkgerrors.As(err)
	if typed == nil {
		typed = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "unexpected error")
	}
	meta := pkgerrors.MetadataFor(typed.Code())

	payload := types.ErrorEnvelope{
		Error: types.APIError{
			Code:    string(typed.Code()),
			Message: meta.Summary,
		},
	}
	switch typed.Code() {
	case pkgerrors.CodeValidation, pkgerrors.CodeConflict:
		if m := typed.Message(); m != "" {
			payload.Error.Message = m
		}
		if details := typed.Details(); details != nil {
			payload.Error.Details = details
		}
	}

	if logg != nil {
		dump := pkgerrors.Dump(err)
		ctx = logg.WithFields(ctx, map[string]any{
			"error_code":  dump.Code,
			"error_chain": dump.Chain,
			"pg_code":     dump.PGCode,
		})
		logg.Error(ctx, "request.error", err)
	}

	writeJSON(w, StatusFor(typed.Code()), payload)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf(`{"level":"error","msg":"failed to encode response","err":"%v"}`, err)
	}
}
