package main

import "testing"

func TestLockName(t *testing.T) {
	if got := lockName(""); got != "local:rankings-pull" {
		t.Fatalf("unexpected lock name %q", got)
	}
	if got := lockName("prod"); got != "prod:rankings-pull" {
		t.Fatalf("unexpected lock name %q", got)
	}
}
