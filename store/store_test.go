package store

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestMappingOverwriteKeepsSingleRecord(t *testing.T) {
	dir := t.TempDir()
	s, err := NewMappingStore(dir)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	if err := s.Record("products", "42", 100, map[string]any{"slug": "old"}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := s.Record("products", "42", 200, map[string]any{"slug": "new"}); err != nil {
		t.Fatalf("record: %v", err)
	}

	reopened, err := NewMappingStore(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	all := reopened.All("products")
	if len(all) != 1 {
		t.Fatalf("records = %d, want 1", len(all))
	}
	rec := all["42"]
	if rec.InternalID != 200 {
		t.Fatalf("internal id = %d, want 200", rec.InternalID)
	}
	if rec.String("slug") != "new" {
		t.Fatalf("slug = %q, want new", rec.String("slug"))
	}
	if rec.ImportedAt.IsZero() {
		t.Fatalf("importedAt not persisted")
	}
}

func TestMappingFileShape(t *testing.T) {
	dir := t.TempDir()
	s, _ := NewMappingStore(dir)
	s.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }

	if err := s.Record("categories", "7", 55, map[string]any{"name": "Scarves", "parent": 0}); err != nil {
		t.Fatalf("record: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "categories-mappings.json"))
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	var raw map[string]map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("decode: %v", err)
	}
	entry := raw["7"]
	if entry["internalId"] != float64(55) {
		t.Fatalf("internalId = %v, want 55", entry["internalId"])
	}
	if entry["importedAt"] != "2024-03-01T12:00:00Z" {
		t.Fatalf("importedAt = %v", entry["importedAt"])
	}
	if entry["name"] != "Scarves" {
		t.Fatalf("metadata not flattened: %v", entry)
	}
}

func TestMappingLoadsLegacyShapes(t *testing.T) {
	dir := t.TempDir()
	legacy := `{"1": 10, "2": {"strapiId": 20, "slug": "b"}, "3": {"internalId": 30, "importedAt": "2024-01-02T03:04:05Z"}}`
	if err := os.WriteFile(filepath.Join(dir, "users-mappings.json"), []byte(legacy), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	s, _ := NewMappingStore(dir)
	tests := []struct {
		key  string
		want int
	}{
		{"1", 10},
		{"2", 20},
		{"3", 30},
	}
	for _, tt := range tests {
		rec, ok := s.Get("users", tt.key)
		if !ok || rec.InternalID != tt.want {
			t.Fatalf("Get(%s) = %+v, %v; want id %d", tt.key, rec, ok, tt.want)
		}
	}
	if rec, _ := s.Get("users", "2"); rec.String("slug") != "b" {
		t.Fatalf("legacy metadata lost: %+v", rec)
	}
}

func TestMappingCorruptFileStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "orders-mappings.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	s, _ := NewMappingStore(dir)
	if s.IsImported("orders", "1") {
		t.Fatalf("corrupt file should load empty")
	}
	if err := s.Record("orders", "1", 5, nil); err != nil {
		t.Fatalf("record after corrupt load: %v", err)
	}
	if !s.IsImported("orders", "1") {
		t.Fatalf("record should be visible")
	}
}

func TestMappingRemoveAndClear(t *testing.T) {
	s, _ := NewMappingStore(t.TempDir())
	_ = s.Record("variations", "1", 11, nil)
	_ = s.Record("variations", "2", 12, nil)

	removed, err := s.Remove("variations", "1")
	if err != nil || !removed {
		t.Fatalf("remove = %v, %v", removed, err)
	}
	if removed, _ := s.Remove("variations", "missing"); removed {
		t.Fatalf("remove of missing key reported true")
	}
	if s.IsImported("variations", "1") {
		t.Fatalf("removed mapping still present")
	}

	if err := s.Clear("variations"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if len(s.All("variations")) != 0 {
		t.Fatalf("clear left records behind")
	}
}

func TestMappingExportRestore(t *testing.T) {
	src, _ := NewMappingStore(t.TempDir())
	_ = src.Record("products", "1", 101, map[string]any{"slug": "a"})
	_ = src.Record("media", "url:https://x/y.jpg", 9, map[string]any{"url": "/uploads/y.jpg"})

	backup := filepath.Join(t.TempDir(), "backup.json")
	if err := src.Export(backup); err != nil {
		t.Fatalf("export: %v", err)
	}

	dst, _ := NewMappingStore(t.TempDir())
	if err := dst.Restore(backup); err != nil {
		t.Fatalf("restore: %v", err)
	}
	rec, ok := dst.Get("media", "url:https://x/y.jpg")
	if !ok || rec.InternalID != 9 || rec.String("url") != "/uploads/y.jpg" {
		t.Fatalf("restored media mapping = %+v, %v", rec, ok)
	}

	stats := dst.Stats()
	if stats["products"].Count != 1 || stats["media"].Count != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	s, err := NewCheckpointStore(t.TempDir())
	if err != nil {
		t.Fatalf("new checkpoint store: %v", err)
	}

	if cp := s.Load("users"); cp.LastCompletedPage != 0 || cp.LastProcessedAt != nil {
		t.Fatalf("missing checkpoint should be zero, got %+v", cp)
	}

	now := time.Now().UTC().Truncate(time.Second)
	key := CheckpointKey("products", "cat-12")
	if err := s.Save(key, Checkpoint{LastCompletedPage: 3, TotalProcessed: 42, LastProcessedAt: &now}); err != nil {
		t.Fatalf("save: %v", err)
	}

	cp := s.Load(key)
	if cp.LastCompletedPage != 3 || cp.TotalProcessed != 42 || cp.LastProcessedAt == nil || !cp.LastProcessedAt.Equal(now) {
		t.Fatalf("loaded checkpoint = %+v", cp)
	}

	all, err := s.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if _, ok := all["products-cat-12"]; !ok {
		t.Fatalf("list missing scoped key: %v", all)
	}

	if err := s.Reset(key); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if cp := s.Load(key); cp.LastCompletedPage != 0 {
		t.Fatalf("reset checkpoint = %+v", cp)
	}
	if err := s.Reset(key); err != nil {
		t.Fatalf("second reset should be a no-op, got %v", err)
	}
}

func TestCheckpointNullTimestamp(t *testing.T) {
	dir := t.TempDir()
	body := `{"lastCompletedPage": 2, "totalProcessed": 10, "lastProcessedAt": null}`
	if err := os.WriteFile(filepath.Join(dir, "orders-progress.json"), []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	s, _ := NewCheckpointStore(dir)
	cp := s.Load("orders")
	if cp.LastCompletedPage != 2 || cp.LastProcessedAt != nil {
		t.Fatalf("checkpoint = %+v", cp)
	}
}

func TestAcquireLockIsExclusive(t *testing.T) {
	dir := t.TempDir()
	first, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("first lock: %v", err)
	}

	if _, err := AcquireLock(dir); !errors.Is(err, ErrLocked) {
		t.Fatalf("second lock error = %v, want ErrLocked", err)
	}

	if err := first.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	again, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("lock after release: %v", err)
	}
	again.Release()
}
