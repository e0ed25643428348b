package queue

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

// Error-path coverage for the store using a mocked database. The happy paths
// run against real SQLite in queue_test.go; these verify that backend
// failures surface as wrapped errors instead of being swallowed.

func TestStoreClaimPropagatesBackendError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("UPDATE jobs").WillReturnError(sqlmock.ErrCancelled)

	store := NewStore(db, "tag")
	_, err = store.ClaimNext("w1")
	if err == nil {
		t.Fatal("expected claim to surface the database error")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestStoreStatsPropagatesBackendError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT status, COUNT").WillReturnError(sqlmock.ErrCancelled)

	store := NewStore(db, "tag")
	_, err = store.Stats()
	if err == nil {
		t.Fatal("expected stats to surface the database error")
	}
}

func TestStoreCreatePropagatesBackendError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("INSERT INTO jobs").WillReturnError(sqlmock.ErrCancelled)

	store := NewStore(db, "tag")
	err = store.CreateJob(NewJob("tag", "/music/doomed.flac", nil))
	if err == nil {
		t.Fatal("expected create to surface the database error")
	}
}
