package instance

import (
	"os"

	"github.com/angelmondragon/rankings-ingest/pkg/env"
)

// GetID returns the worker instance identifier: RANKPULL_WORKER_ID, then the hostname,
// then a fixed default.
func GetID() string {
	if id := env.Get("RANKPULL_WORKER_ID", ""); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "rankings-worker-0"
}
