package orchestrator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Store is the persistence abstraction for asset state.
// Implementations can be in-memory or file-backed.
// The Repository uses Store for all reads and writes and serializes access;
// Store implementations themselves do not need to be concurrency-safe.
type Store interface {
	GetAsset(id AssetID) (*Asset, bool)
	SetAsset(a *Asset)
	ListAssetIDs() []AssetID

	// Persist writes the current snapshot to the backing medium.
	// In-memory implementations may make this a no-op.
	Persist() error
}

// InMemoryStore is an in-memory implementation of Store.
type InMemoryStore struct {
	assets map[AssetID]*Asset
}

// NewInMemoryStore returns a new empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		assets: make(map[AssetID]*Asset),
	}
}

// GetAsset implements Store.GetAsset.
func (s *InMemoryStore) GetAsset(id AssetID) (*Asset, bool) {
	a, ok := s.assets[id]
	return a, ok
}

// SetAsset implements Store.SetAsset.
func (s *InMemoryStore) SetAsset(a *Asset) {
	s.assets[a.ID] = a
}

// ListAssetIDs implements Store.ListAssetIDs.
func (s *InMemoryStore) ListAssetIDs() []AssetID {
	ids := make([]AssetID, 0, len(s.assets))
	for id := range s.assets {
		ids = append(ids, id)
	}
	return ids
}

// Persist implements Store.Persist as a no-op.
func (s *InMemoryStore) Persist() error {
	return nil
}

// FileStore keeps the full asset set in memory and persists it as one
// human-readable JSON snapshot. Every Persist rewrites the whole file through
// a temp-file rename, so readers of the file never observe a half-written
// snapshot.
type FileStore struct {
	path   string
	assets map[AssetID]*Asset
}

// NewFileStore loads the snapshot at path. A missing or unreadable file
// yields an empty store together with the load error; callers may log the
// error and continue, since startup must not fail on a corrupt snapshot.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{
		path:   path,
		assets: make(map[AssetID]*Asset),
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return s, fmt.Errorf("read snapshot: %w", err)
	}
	if err := json.Unmarshal(data, &s.assets); err != nil {
		s.assets = make(map[AssetID]*Asset)
		return s, fmt.Errorf("decode snapshot: %w", err)
	}
	return s, nil
}

// GetAsset implements Store.GetAsset.
func (s *FileStore) GetAsset(id AssetID) (*Asset, bool) {
	a, ok := s.assets[id]
	return a, ok
}

// SetAsset implements Store.SetAsset. The change is in-memory until Persist.
func (s *FileStore) SetAsset(a *Asset) {
	s.assets[a.ID] = a
}

// ListAssetIDs implements Store.ListAssetIDs.
func (s *FileStore) ListAssetIDs() []AssetID {
	ids := make([]AssetID, 0, len(s.assets))
	for id := range s.assets {
		ids = append(ids, id)
	}
	return ids
}

// Persist implements Store.Persist: marshal the whole snapshot, write to a
// temp file in the same directory, then rename over the target.
func (s *FileStore) Persist() error {
	data, err := json.MarshalIndent(s.assets, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}
