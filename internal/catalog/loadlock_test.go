package catalog_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/jonesrussell/north-cloud/feedmaker/internal/catalog"
)

func TestAcquireLoadLock_Free(t *testing.T) {
	c, mock, cleanup := newCatalog(t, t.TempDir(), "")
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT lock_time FROM lock_for_concurrent_loading").
		WillReturnRows(sqlmock.NewRows([]string{"lock_time"}))
	mock.ExpectExec("INSERT INTO lock_for_concurrent_loading").
		WithArgs(fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := c.AcquireLoadLock(context.Background()); err != nil {
		t.Fatalf("AcquireLoadLock() error = %v", err)
	}

	expectationsMet(t, mock)
}

func TestAcquireLoadLock_StaleLockTakenOver(t *testing.T) {
	c, mock, cleanup := newCatalog(t, t.TempDir(), "")
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT lock_time FROM lock_for_concurrent_loading").
		WillReturnRows(sqlmock.NewRows([]string{"lock_time"}).AddRow(fixedNow.Add(-70 * time.Second)))
	mock.ExpectExec("DELETE FROM lock_for_concurrent_loading").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO lock_for_concurrent_loading").
		WithArgs(fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := c.AcquireLoadLock(context.Background()); err != nil {
		t.Fatalf("AcquireLoadLock() error = %v", err)
	}

	expectationsMet(t, mock)
}

func TestAcquireLoadLock_FreshLockBusy(t *testing.T) {
	c, mock, cleanup := newCatalog(t, t.TempDir(), "")
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT lock_time FROM lock_for_concurrent_loading").
		WillReturnRows(sqlmock.NewRows([]string{"lock_time"}).AddRow(fixedNow.Add(-30 * time.Second)))
	mock.ExpectRollback()

	err := c.AcquireLoadLock(context.Background())
	if !errors.Is(err, catalog.ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}

	expectationsMet(t, mock)
}

func TestAcquireLoadLock_SerializationFailureBusy(t *testing.T) {
	c, mock, cleanup := newCatalog(t, t.TempDir(), "")
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT lock_time FROM lock_for_concurrent_loading").
		WillReturnError(&pq.Error{Code: "40001", Message: "could not serialize access"})
	mock.ExpectRollback()

	err := c.AcquireLoadLock(context.Background())
	if !errors.Is(err, catalog.ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}

	expectationsMet(t, mock)
}

func TestReleaseLoadLock(t *testing.T) {
	c, mock, cleanup := newCatalog(t, t.TempDir(), "")
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM lock_for_concurrent_loading").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := c.ReleaseLoadLock(context.Background()); err != nil {
		t.Fatalf("ReleaseLoadLock() error = %v", err)
	}

	expectationsMet(t, mock)
}
