package portal

import (
	"github.com/angelmondragon/rankings-ingest/pkg/config"
	pkgerrors "github.com/angelmondragon/rankings-ingest/pkg/errors"
)

// ValidateSize reports whether payload meets the country's minimum export size.
func ValidateSize(payload []byte, country config.Country) bool {
	return int64(len(payload)) >= country.MinFileSize
}

// CheckSize is ValidateSize returning a SIZE_THRESHOLD error with the measured size.
func CheckSize(payload []byte, country config.Country) error {
	if ValidateSize(payload, country) {
		return nil
	}
	return pkgerrors.Newf(pkgerrors.CodeSizeThreshold, "%s export is %d bytes, below minimum %d", country.Code, len(payload), country.MinFileSize).
		WithDetails(map[string]any{"size_bytes": len(payload), "min_bytes": country.MinFileSize})
}
