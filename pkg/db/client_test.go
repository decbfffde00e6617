package db

import (
	"context"
	"errors"
	"testing"

	"github.com/angelmondragon/rankings-ingest/pkg/config"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type testModel struct {
	ID   int
	Name string
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := conn.AutoMigrate(&testModel{}); err != nil {
		t.Fatalf("failed to migrate sqlite: %v", err)
	}
	return conn
}

func TestWithTx_CommitsAndRollbacks(t *testing.T) {
	db := newTestDB(t)
	client := &Client{conn: db}

	ctx := context.Background()
	if err := client.WithTx(ctx, func(tx *gorm.DB) error {
		return tx.Create(&testModel{Name: "committed"}).Error
	}); err != nil {
		t.Fatalf("WithTx commit failed: %v", err)
	}

	var count int64
	if err := db.Model(&testModel{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 record, got %d", count)
	}

	err := client.WithTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(&testModel{Name: "rolled"}).Error; err != nil {
			return err
		}
		return errors.New("boom")
	})
	if err == nil {
		t.Fatal("expected WithTx to return an error")
	}
	if err := db.Model(&testModel{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed after rollback: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected rollback to leave 1 record, got %d", count)
	}
}

func TestPing(t *testing.T) {
	db := newTestDB(t)
	client := &Client{conn: db}
	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("unexpected ping error: %v", err)
	}
}

func TestNewFromGormWrapsConnection(t *testing.T) {
	db := newTestDB(t)
	client := NewFromGorm(db)
	if client.DB() != db {
		t.Fatal("expected wrapped connection to be returned")
	}
}

func TestNewOpensSQLite(t *testing.T) {
	client, err := New(context.Background(), config.DBConfig{
		Driver: config.DBDriverSQLite,
		DSN:    "file:dbclient_" + t.Name() + "?mode=memory&cache=shared",
	}, nil)
	if err != nil {
		t.Fatalf("New sqlite: %v", err)
	}
	defer client.Close()
	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("ping sqlite: %v", err)
	}
}

func TestNewRequiresDSN(t *testing.T) {
	if _, err := New(context.Background(), config.DBConfig{}, nil); err == nil {
		t.Fatal("expected missing dsn to fail")
	}
}

func TestIsRetryableClassifiesSQLState(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "canceled", err: context.Canceled, want: false},
		{name: "unique", err: &pgconn.PgError{Code: "23505"}, want: false},
		{name: "bad data", err: &pgconn.PgError{Code: "22P02"}, want: false},
		{name: "serialization", err: &pgconn.PgError{Code: "40001"}, want: true},
		{name: "connection", err: &pgconn.PgError{Code: "08006"}, want: true},
		{name: "transport", err: errors.New("read: connection reset by peer"), want: true},
	}
	for _, tc := range cases {
		if got := IsRetryable(tc.err); got != tc.want {
			t.Fatalf("%s: expected %v got %v", tc.name, tc.want, got)
		}
	}
}

func TestIsUniqueViolation(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "idx_si_daily_ranks_keyword_date"}
	if !IsUniqueViolation(pgErr, "") || !IsUniqueViolation(pgErr, "idx_si_daily_ranks_keyword_date") {
		t.Fatal("expected pg unique violation to match")
	}
	if IsUniqueViolation(pgErr, "other") {
		t.Fatal("constraint name mismatch should not match")
	}
	if !IsUniqueViolation(errors.New("UNIQUE constraint failed: si_keywords.keyword"), "") {
		t.Fatal("expected sqlite unique message to match")
	}
}
