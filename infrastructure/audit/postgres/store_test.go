package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/sagexd08/autofi-core/infrastructure/audit"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(sqlx.NewDb(db, "postgres")), mock
}

func TestStore_Append(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO audit_log`)).
		WithArgs(sqlmock.AnyArg(), "approval", "appr-1", "resolve", "alice",
			"PENDING", "APPROVED", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := s.Append(ctx, audit.Entry{
		ResourceType: "approval",
		ResourceID:   "appr-1",
		Action:       "resolve",
		Actor:        "alice",
		FromState:    "PENDING",
		ToState:      "APPROVED",
		Metadata:     map[string]string{"note": "looks fine"},
	})
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestStore_ListByResource(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "resource_type", "resource_id", "action", "actor", "from_state", "to_state", "metadata", "created_at"}).
		AddRow("entry-1", "approval", "appr-1", "resolve", "alice", "PENDING", "APPROVED", []byte(`{"note":"looks fine"}`), now)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, resource_type, resource_id, action, actor, from_state, to_state, metadata, created_at`)).
		WithArgs("approval", "appr-1").
		WillReturnRows(rows)

	entries, err := s.ListByResource(ctx, "approval", "appr-1")
	if err != nil {
		t.Fatalf("ListByResource() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("len(entries) = %d, want 1", len(entries))
	}
	if entries[0].Actor != "alice" || entries[0].Metadata["note"] != "looks fine" {
		t.Errorf("entries[0] = %+v, unexpected contents", entries[0])
	}
}

func TestStore_ListRecent_DefaultsLimit(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	rows := sqlmock.NewRows([]string{"id", "resource_type", "resource_id", "action", "actor", "from_state", "to_state", "metadata", "created_at"})
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, resource_type, resource_id, action, actor, from_state, to_state, metadata, created_at`)).
		WithArgs(100).
		WillReturnRows(rows)

	if _, err := s.ListRecent(ctx, 0); err != nil {
		t.Fatalf("ListRecent() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
