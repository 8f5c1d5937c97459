package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bdougie/fresque/internal/models"
)

func record(id string, step int, at time.Time) models.RunRecord {
	return models.RunRecord{
		ID:        id,
		Step:      step,
		Status:    models.StatusSucceeded,
		CreatedAt: at,
	}
}

func TestFileStorageBatches(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStorage(dir)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < batchSize-1; i++ {
		if err := s.AddRecord(ctx, record("r", 1, base)); err != nil {
			t.Fatalf("AddRecord: %v", err)
		}
	}
	if _, err := os.Stat(s.Path()); !os.IsNotExist(err) {
		t.Fatal("ledger written before the batch filled")
	}

	if err := s.AddRecord(ctx, record("r", 1, base)); err != nil {
		t.Fatalf("AddRecord: %v", err)
	}
	data, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatalf("ledger not flushed at batch size: %v", err)
	}
	var onDisk []models.RunRecord
	if err := json.Unmarshal(data, &onDisk); err != nil {
		t.Fatalf("ledger is not a JSON array: %v", err)
	}
	if len(onDisk) != batchSize {
		t.Errorf("records on disk = %d, want %d", len(onDisk), batchSize)
	}
}

func TestFileStorageRecent(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStorage(dir)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := s.AddRecord(ctx, record("a", 1, base)); err != nil {
		t.Fatal(err)
	}
	if err := s.AddRecord(ctx, record("b", 2, base.Add(time.Second))); err != nil {
		t.Fatal(err)
	}
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	// pending record must be visible before it is flushed
	if err := s.AddRecord(ctx, record("c", 3, base.Add(2*time.Second))); err != nil {
		t.Fatal(err)
	}

	got, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 || got[0].ID != "c" || got[1].ID != "b" {
		t.Errorf("Recent(2) = %+v, want c then b", got)
	}

	// a fresh instance sees only what was flushed
	if err := s.Flush(); err != nil {
		t.Fatal(err)
	}
	reopened := NewFileStorage(dir)
	all, err := reopened.Recent(ctx, 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("reopened ledger has %d records, want 3", len(all))
	}
	if _, err := os.Stat(filepath.Join(dir, LedgerFile+".tmp")); !os.IsNotExist(err) {
		t.Error("temporary ledger file left behind")
	}
}

func TestFileStorageCorrupt(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStorage(dir)
	if err := os.WriteFile(s.Path(), []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Recent(context.Background(), 10); err == nil {
		t.Error("expected error for corrupt ledger")
	}
}

func TestNop(t *testing.T) {
	var s Storage = Nop{}
	if err := s.AddRecord(context.Background(), record("a", 1, time.Now())); err != nil {
		t.Fatal(err)
	}
	got, err := s.Recent(context.Background(), 5)
	if err != nil || got == nil || len(got) != 0 {
		t.Errorf("Recent = %v, %v; want empty slice", got, err)
	}
}

func TestPostgresConnString(t *testing.T) {
	c := PostgresConfig{Host: "db", Port: "5433", User: "u", Password: "p", DBName: "fresque"}
	if got := c.ConnString(); got != "postgres://u:p@db:5433/fresque" {
		t.Errorf("ConnString = %q", got)
	}
}
