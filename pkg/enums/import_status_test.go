package enums

import "testing"

func TestImportStatusParsing(t *testing.T) {
	for _, raw := range []string{"pending", "success", "partial", "failed", "skipped"} {
		status, err := ParseImportStatus(raw)
		if err != nil {
			t.Fatalf("parse %q: %v", raw, err)
		}
		if !status.IsValid() {
			t.Fatalf("expected %q to be valid", raw)
		}
	}
	if _, err := ParseImportStatus("completed"); err == nil {
		t.Fatal("expected unknown status to fail")
	}
}

func TestImportStatusTerminal(t *testing.T) {
	if ImportStatusPending.IsTerminal() {
		t.Fatal("pending must not be terminal")
	}
	for _, s := range []ImportStatus{ImportStatusSuccess, ImportStatusPartial, ImportStatusFailed, ImportStatusSkipped} {
		if !s.IsTerminal() {
			t.Fatalf("expected %s to be terminal", s)
		}
	}
	if ImportStatus("bogus").IsTerminal() {
		t.Fatal("invalid status must not be terminal")
	}
}
