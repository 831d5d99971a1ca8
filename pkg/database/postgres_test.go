package database

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"billingstack/pkg/logging"
)

func TestConnectRequiresURL(t *testing.T) {
	if _, err := Connect(DefaultConfig(), logging.NewTestLogger()); err == nil {
		t.Fatalf("expected error for empty URL")
	}
}

func TestApplySchema(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("CREATE SCHEMA IF NOT EXISTS collector").WillReturnResult(sqlmock.NewResult(0, 0))

	if err := ApplySchema(context.Background(), db, "CREATE SCHEMA IF NOT EXISTS collector"); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
