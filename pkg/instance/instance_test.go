package instance

import "testing"

func TestGetIDPrefersEnv(t *testing.T) {
	t.Setenv("RANKPULL_WORKER_ID", "worker-7")
	if got := GetID(); got != "worker-7" {
		t.Fatalf("expected worker-7, got %q", got)
	}
}

func TestGetIDFallsBack(t *testing.T) {
	t.Setenv("RANKPULL_WORKER_ID", "")
	if got := GetID(); got == "" {
		t.Fatal("expected non-empty fallback id")
	}
}
