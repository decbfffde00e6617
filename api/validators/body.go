package validators

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	pkgerrors "github.com/angelmondragon/rankings-ingest/pkg/errors"
)

const maxBodyBytes = 64 << 10

type selfValidating interface {
	Validate() error
}

// DecodeJSONBody strictly decodes the request body into dest and runs its Validate
// method when it has one. An empty body leaves dest at its zero value.
func DecodeJSONBody(r *http.Request, dest any) error {
	body := http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	defer func() {
		_, _ = io.Copy(io.Discard, body)
	}()
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil && !errors.Is(err, io.EOF) {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid request body").
			WithDetails(map[string]any{"error": err.Error()})
	}
	if v, ok := dest.(selfValidating); ok {
		return v.Validate()
	}
	return nil
}
