package errors

import (
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

func TestDumpCapturesPgxDetails(t *testing.T) {
	pgErr := &pgconn.PgError{
		Code:           "23505",
		ConstraintName: "idx_si_keywords_identity",
		TableName:      "si_keywords",
		Message:        "duplicate key value violates unique constraint",
	}
	err := Wrap(CodeBatchWrite, fmt.Errorf("insert batch 2: %w", pgErr), "keyword upsert")

	d := Dump(err)
	if d.Code != CodeBatchWrite {
		t.Fatalf("expected batch write code, got %q", d.Code)
	}
	if d.PGCode != "23505" || d.PGConstraint != "idx_si_keywords_identity" {
		t.Fatalf("unexpected pg details: %+v", d)
	}
	if len(d.Chain) != 3 {
		t.Fatalf("expected 3 chain entries, got %d", len(d.Chain))
	}
	fields := d.Fields()
	if fields["pg_table"] != "si_keywords" {
		t.Fatalf("expected pg_table in fields, got %v", fields)
	}
}

func TestDumpCapturesLibPQDetails(t *testing.T) {
	d := Dump(&pq.Error{Code: "40001", Message: "could not serialize access"})
	if d.PGCode != "40001" {
		t.Fatalf("expected pq code, got %q", d.PGCode)
	}
	if _, ok := d.Fields()["code"]; ok {
		t.Fatalf("untyped error should not carry a code field")
	}
}

func TestDumpNil(t *testing.T) {
	if d := Dump(nil); d.TopMessage != "" || len(d.Chain) != 0 {
		t.Fatalf("expected empty dump, got %+v", d)
	}
}
