package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const mappingSuffix = "-mappings.json"

// TypeStats summarises the mappings of one entity type.
type TypeStats struct {
	Count  int
	Oldest time.Time
	Newest time.Time
}

// MappingStore persists external id to internal id mappings, one JSON file
// per entity type. Every Record call rewrites the whole file before
// returning.
type MappingStore struct {
	dir string
	now func() time.Time

	mu    sync.Mutex
	types map[string]map[string]Record
}

// NewMappingStore opens a store rooted at dir, creating it if needed.
func NewMappingStore(dir string) (*MappingStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create mapping dir: %w", err)
	}
	return &MappingStore{
		dir:   dir,
		now:   time.Now,
		types: make(map[string]map[string]Record),
	}, nil
}

// Dir returns the directory holding the mapping files.
func (s *MappingStore) Dir() string {
	return s.dir
}

// IsImported reports whether externalID already has a mapping.
func (s *MappingStore) IsImported(entity, externalID string) bool {
	_, ok := s.Get(entity, externalID)
	return ok
}

// Get returns the mapping for externalID.
func (s *MappingStore) Get(entity, externalID string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.loadLocked(entity)[externalID]
	return rec, ok
}

// Record stores or overwrites the mapping for externalID and flushes the
// entity file. The in-memory value is kept even if the flush fails, so the
// next successful flush persists it.
func (s *MappingStore) Record(entity, externalID string, internalID int, metadata map[string]any) error {
	if externalID == "" {
		return fmt.Errorf("record %s mapping: empty external id", entity)
	}

	meta := make(map[string]any, len(metadata))
	for k, v := range metadata {
		meta[k] = v
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.loadLocked(entity)
	records[externalID] = Record{
		InternalID: internalID,
		ImportedAt: s.now().UTC(),
		Metadata:   meta,
	}
	if err := s.flushLocked(entity, records); err != nil {
		return fmt.Errorf("record %s mapping %s: %w", entity, externalID, err)
	}
	return nil
}

// All returns a copy of every mapping of one entity type.
func (s *MappingStore) All(entity string) map[string]Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.loadLocked(entity)
	out := make(map[string]Record, len(records))
	for k, v := range records {
		out[k] = v
	}
	return out
}

// Remove deletes one mapping. It reports whether the mapping existed.
func (s *MappingStore) Remove(entity, externalID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.loadLocked(entity)
	if _, ok := records[externalID]; !ok {
		return false, nil
	}
	delete(records, externalID)
	if err := s.flushLocked(entity, records); err != nil {
		return true, fmt.Errorf("remove %s mapping %s: %w", entity, externalID, err)
	}
	return true, nil
}

// Clear drops every mapping of one entity type.
func (s *MappingStore) Clear(entity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.types[entity] = make(map[string]Record)
	if err := s.flushLocked(entity, s.types[entity]); err != nil {
		return fmt.Errorf("clear %s mappings: %w", entity, err)
	}
	slog.Info("mappings cleared", slog.String("entity", entity))
	return nil
}

// Types lists the entity types with a mapping file on disk or in memory.
func (s *MappingStore) Types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{}, len(s.types))
	for entity := range s.types {
		seen[entity] = struct{}{}
	}
	matches, _ := filepath.Glob(filepath.Join(s.dir, "*"+mappingSuffix))
	for _, m := range matches {
		seen[strings.TrimSuffix(filepath.Base(m), mappingSuffix)] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for entity := range seen {
		out = append(out, entity)
	}
	sort.Strings(out)
	return out
}

// Stats returns mapping counts and import time bounds per entity type.
func (s *MappingStore) Stats() map[string]TypeStats {
	out := make(map[string]TypeStats)
	for _, entity := range s.Types() {
		var st TypeStats
		for _, rec := range s.All(entity) {
			st.Count++
			if rec.ImportedAt.IsZero() {
				continue
			}
			if st.Oldest.IsZero() || rec.ImportedAt.Before(st.Oldest) {
				st.Oldest = rec.ImportedAt
			}
			if rec.ImportedAt.After(st.Newest) {
				st.Newest = rec.ImportedAt
			}
		}
		out[entity] = st
	}
	return out
}

// Export writes every entity type into one backup document at path.
func (s *MappingStore) Export(path string) error {
	backup := make(map[string]map[string]Record)
	for _, entity := range s.Types() {
		backup[entity] = s.All(entity)
	}
	if err := writeJSON(path, backup); err != nil {
		return fmt.Errorf("export mappings: %w", err)
	}
	return nil
}

// Restore loads a backup written by Export, replacing the mappings of every
// entity type it contains.
func (s *MappingStore) Restore(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read mapping backup: %w", err)
	}
	var backup map[string]map[string]Record
	if err := json.Unmarshal(data, &backup); err != nil {
		return fmt.Errorf("decode mapping backup: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for entity, records := range backup {
		if records == nil {
			records = make(map[string]Record)
		}
		s.types[entity] = records
		if err := s.flushLocked(entity, records); err != nil {
			return fmt.Errorf("restore %s mappings: %w", entity, err)
		}
	}
	return nil
}

func (s *MappingStore) path(entity string) string {
	return filepath.Join(s.dir, entity+mappingSuffix)
}

// loadLocked returns the cached map for entity, reading the file on first
// use. Missing or corrupt files yield an empty map.
func (s *MappingStore) loadLocked(entity string) map[string]Record {
	if records, ok := s.types[entity]; ok {
		return records
	}

	records := make(map[string]Record)
	s.types[entity] = records

	path := s.path(entity)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			slog.Debug("no mapping file yet", slog.String("entity", entity))
		} else {
			slog.Warn("mapping file unreadable, starting empty",
				slog.String("entity", entity),
				slog.String("path", path),
				slog.Any("error", err),
			)
		}
		return records
	}

	if err := json.Unmarshal(data, &records); err != nil {
		slog.Warn("mapping file corrupt, starting empty",
			slog.String("entity", entity),
			slog.String("path", path),
			slog.Any("error", err),
		)
		records = make(map[string]Record)
		s.types[entity] = records
		return records
	}

	slog.Debug("mappings loaded", slog.String("entity", entity), slog.Int("count", len(records)))
	return records
}

func (s *MappingStore) flushLocked(entity string, records map[string]Record) error {
	return writeJSON(s.path(entity), records)
}
