package storage

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
)

func newMockBackend(t *testing.T) (*PostgresBackend, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPostgresBackend(sqlx.NewDb(db, "sqlmock")), mock
}

func TestPostgresBackendWriteReturnsEntityKey(t *testing.T) {
	backend, mock := newMockBackend(t)

	mock.ExpectExec("INSERT INTO storage_entries").
		WithArgs("nest-a:SERVICE_STATUS:svc-1", sqlmock.AnyArg(), []byte("payload")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	entityKey, err := backend.Write(context.Background(), "nest-a:SERVICE_STATUS:svc-1", []byte("payload"))
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if entityKey == "" {
		t.Fatal("expected a non-empty entity key")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresBackendWritePropagatesError(t *testing.T) {
	backend, mock := newMockBackend(t)

	mock.ExpectExec("INSERT INTO storage_entries").
		WillReturnError(errors.New("connection reset"))

	if _, err := backend.Write(context.Background(), "nest-a:SERVICE_STATUS:svc-1", []byte("payload")); err == nil {
		t.Fatal("expected an error")
	}
}

func TestPostgresBackendReadFound(t *testing.T) {
	backend, mock := newMockBackend(t)

	rows := sqlmock.NewRows([]string{"entity_key", "wrapped"}).
		AddRow("entity-123", []byte("wrapped-bytes"))
	mock.ExpectQuery("SELECT entity_key, wrapped FROM storage_entries").
		WithArgs("nest-a:SERVICE_STATUS:svc-1").
		WillReturnRows(rows)

	payload, entityKey, ok, err := backend.Read(context.Background(), "nest-a:SERVICE_STATUS:svc-1")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !ok {
		t.Fatal("expected found=true")
	}
	if entityKey != "entity-123" || string(payload) != "wrapped-bytes" {
		t.Fatalf("unexpected result: %s %q", entityKey, payload)
	}
}

func TestPostgresBackendReadNotFound(t *testing.T) {
	backend, mock := newMockBackend(t)

	mock.ExpectQuery("SELECT entity_key, wrapped FROM storage_entries").
		WithArgs("nest-a:SERVICE_STATUS:missing").
		WillReturnError(sql.ErrNoRows)

	_, _, ok, err := backend.Read(context.Background(), "nest-a:SERVICE_STATUS:missing")
	if err != nil {
		t.Fatalf("expected no error on a cache-style miss, got %v", err)
	}
	if ok {
		t.Fatal("expected found=false")
	}
}

func TestPostgresBackendDelete(t *testing.T) {
	backend, mock := newMockBackend(t)

	mock.ExpectExec("DELETE FROM storage_entries").
		WithArgs("nest-a:SERVICE_STATUS:svc-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := backend.Delete(context.Background(), "nest-a:SERVICE_STATUS:svc-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
}

func TestPostgresBackendQueryPrefix(t *testing.T) {
	backend, mock := newMockBackend(t)

	rows := sqlmock.NewRows([]string{"isolation_key"}).
		AddRow("nest-a:MONITORING_DATA:1").
		AddRow("nest-a:MONITORING_DATA:2")
	mock.ExpectQuery("SELECT isolation_key FROM storage_entries").
		WithArgs("nest-a:MONITORING_DATA:%").
		WillReturnRows(rows)

	keys, err := backend.QueryPrefix(context.Background(), "nest-a:MONITORING_DATA:")
	if err != nil {
		t.Fatalf("query prefix: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys, got %d", len(keys))
	}
}

func TestPostgresBackendHealthy(t *testing.T) {
	backend, mock := newMockBackend(t)

	mock.ExpectPing()
	if !backend.Healthy(context.Background()) {
		t.Fatal("expected healthy")
	}

	mock.ExpectPing().WillReturnError(errors.New("no connection"))
	if backend.Healthy(context.Background()) {
		t.Fatal("expected unhealthy once ping fails")
	}
}
