package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const checkpointSuffix = "-progress.json"

// Checkpoint is the persisted pagination cursor of one entity import.
type Checkpoint struct {
	LastCompletedPage int        `json:"lastCompletedPage"`
	TotalProcessed    int        `json:"totalProcessed"`
	LastProcessedAt   *time.Time `json:"lastProcessedAt"`
}

// CheckpointKey names the checkpoint of an entity type, optionally narrowed
// to a filter scope such as one category.
func CheckpointKey(entity, scope string) string {
	if scope == "" {
		return entity
	}
	return entity + "-" + scope
}

// CheckpointStore keeps one progress file per checkpoint key.
type CheckpointStore struct {
	dir string
	mu  sync.Mutex
}

// NewCheckpointStore opens a store rooted at dir, creating it if needed.
func NewCheckpointStore(dir string) (*CheckpointStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	return &CheckpointStore{dir: dir}, nil
}

// Load returns the checkpoint for key. A missing or corrupt file is a zero
// checkpoint.
func (s *CheckpointStore) Load(key string) Checkpoint {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(key)
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("checkpoint unreadable, starting from scratch",
				slog.String("key", key),
				slog.Any("error", err),
			)
		}
		return Checkpoint{}
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		slog.Warn("checkpoint corrupt, starting from scratch",
			slog.String("key", key),
			slog.String("path", path),
			slog.Any("error", err),
		)
		return Checkpoint{}
	}
	if cp.LastCompletedPage < 0 {
		cp.LastCompletedPage = 0
	}
	return cp
}

// Save persists cp for key.
func (s *CheckpointStore) Save(key string, cp Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := writeJSON(s.path(key), cp); err != nil {
		return fmt.Errorf("save checkpoint %s: %w", key, err)
	}
	return nil
}

// Reset deletes the checkpoint for key.
func (s *CheckpointStore) Reset(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("reset checkpoint %s: %w", key, err)
	}
	slog.Info("checkpoint reset", slog.String("key", key))
	return nil
}

// List returns every checkpoint on disk keyed by checkpoint key.
func (s *CheckpointStore) List() (map[string]Checkpoint, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*"+checkpointSuffix))
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	out := make(map[string]Checkpoint, len(matches))
	for _, m := range matches {
		key := strings.TrimSuffix(filepath.Base(m), checkpointSuffix)
		out[key] = s.Load(key)
	}
	return out, nil
}

func (s *CheckpointStore) path(key string) string {
	return filepath.Join(s.dir, key+checkpointSuffix)
}
