package store

import (
	"path/filepath"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := testDB(t)

	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 1 {
		t.Errorf("version = %d, want 1", result.Version)
	}
}

func TestLastOpenedRoundTrip(t *testing.T) {
	db := testDB(t)

	if _, ok, err := db.LastOpened(); err != nil || ok {
		t.Fatalf("LastOpened() on fresh db = (_, %v, %v), want (_, false, nil)", ok, err)
	}

	if err := db.SetLastOpened(7); err != nil {
		t.Fatal(err)
	}
	if err := db.SetLastOpened(9); err != nil {
		t.Fatal(err)
	}
	id, ok, err := db.LastOpened()
	if err != nil || !ok {
		t.Fatalf("LastOpened() = (_, %v, %v)", ok, err)
	}
	if id != 9 {
		t.Errorf("LastOpened() = %d, want 9", id)
	}

	if err := db.ClearLastOpened(); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := db.LastOpened(); ok {
		t.Error("LastOpened() still set after ClearLastOpened")
	}
}

func TestLastOpenedSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	if err := db.SetLastOpened(3); err != nil {
		t.Fatal(err)
	}
	_ = db.Close()

	db, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()
	id, ok, err := db.LastOpened()
	if err != nil || !ok || id != 3 {
		t.Errorf("LastOpened() after reopen = (%d, %v, %v), want (3, true, nil)", id, ok, err)
	}
}
