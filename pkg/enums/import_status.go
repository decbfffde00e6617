package enums

import "fmt"

// ImportStatus maps to the status column of import_runs.
type ImportStatus string

const (
	ImportStatusPending ImportStatus = "pending"
	ImportStatusSuccess ImportStatus = "success"
	ImportStatusPartial ImportStatus = "partial"
	ImportStatusFailed  ImportStatus = "failed"
	ImportStatusSkipped ImportStatus = "skipped"
)

var validImportStatuses = []ImportStatus{
	ImportStatusPending,
	ImportStatusSuccess,
	ImportStatusPartial,
	ImportStatusFailed,
	ImportStatusSkipped,
}

// IsValid checks whether the given status matches the canonical enum.
func (s ImportStatus) IsValid() bool {
	for _, candidate := range validImportStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is expected.
func (s ImportStatus) IsTerminal() bool {
	return s.IsValid() && s != ImportStatusPending
}

// ParseImportStatus converts raw strings into ImportStatus.
func ParseImportStatus(value string) (ImportStatus, error) {
	for _, candidate := range validImportStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid import status %q", value)
}
