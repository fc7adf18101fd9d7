package orchestrator

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Repository defines the concurrency-safe contract for accessing and mutating
// asset state. All mutation funnels through a single writer lock so two
// pipeline stages finishing concurrently can never lose each other's updates,
// and reads always observe a fully written record.
type Repository interface {
	// AllocateID returns a new unique asset id. IDs are never reused.
	AllocateID() AssetID

	// GetAsset returns a deep copy of the asset, or ErrNotFound.
	GetAsset(id AssetID) (*Asset, error)

	// PutAsset validates and stores the asset, replacing any existing record,
	// and persists the snapshot. A persistence failure is returned wrapped in
	// ErrStoreWrite; the in-memory record is still updated, so retrying the
	// write does not require redoing the work that produced it.
	PutAsset(a *Asset) error

	// UpdateAsset applies mutate to a copy of the stored asset under the
	// writer lock, then validates, stores, and persists the result.
	// Returns ErrNotFound if the asset does not exist.
	UpdateAsset(id AssetID, mutate func(*Asset) error) error

	// ListAssets returns deep copies of all assets, ordered by id.
	ListAssets() []*Asset

	// AssetCount returns the number of stored assets. Used for metrics.
	AssetCount() int
}

var (
	// ErrNotFound is returned when a referenced asset, resolution, or segment
	// does not exist.
	ErrNotFound = errors.New("not found")

	// ErrStoreWrite is returned when the metadata snapshot could not be
	// persisted. The transcoded artifacts already exist on disk, so the
	// correct recovery is to retry the metadata write, not the transcode.
	ErrStoreWrite = errors.New("store write failed")

	// ErrInvalidAsset is returned when a record violates the asset invariants
	// and is rejected at the store boundary.
	ErrInvalidAsset = errors.New("invalid asset")
)

// AssetRepository is the Repository implementation backed by a Store.
type AssetRepository struct {
	mu    sync.RWMutex
	store Store
}

// NewAssetRepository constructs a repository that uses the given Store.
func NewAssetRepository(store Store) *AssetRepository {
	return &AssetRepository{store: store}
}

// AllocateID implements Repository.AllocateID.
func (r *AssetRepository) AllocateID() AssetID {
	return AssetID(uuid.NewString())
}

// GetAsset implements Repository.GetAsset.
func (r *AssetRepository) GetAsset(id AssetID) (*Asset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.store.GetAsset(id)
	if !ok {
		return nil, fmt.Errorf("asset %q: %w", id, ErrNotFound)
	}
	return a.Clone(), nil
}

// PutAsset implements Repository.PutAsset.
func (r *AssetRepository) PutAsset(a *Asset) error {
	if err := validateAsset(a); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.store.SetAsset(a.Clone())
	if err := r.store.Persist(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreWrite, err)
	}
	return nil
}

// UpdateAsset implements Repository.UpdateAsset.
func (r *AssetRepository) UpdateAsset(id AssetID, mutate func(*Asset) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.store.GetAsset(id)
	if !ok {
		return fmt.Errorf("asset %q: %w", id, ErrNotFound)
	}

	updated := a.Clone()
	if err := mutate(updated); err != nil {
		return err
	}
	if err := validateAsset(updated); err != nil {
		return err
	}

	r.store.SetAsset(updated)
	if err := r.store.Persist(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreWrite, err)
	}
	return nil
}

// ListAssets implements Repository.ListAssets.
func (r *AssetRepository) ListAssets() []*Asset {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.store.ListAssetIDs()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	assets := make([]*Asset, 0, len(ids))
	for _, id := range ids {
		if a, ok := r.store.GetAsset(id); ok {
			assets = append(assets, a.Clone())
		}
	}
	return assets
}

// AssetCount implements Repository.AssetCount.
func (r *AssetRepository) AssetCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.store.ListAssetIDs())
}

// validateAsset rejects records that violate the data-model invariants
// before they reach the store.
func validateAsset(a *Asset) error {
	if a == nil || a.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidAsset)
	}
	if a.SourcePath == "" {
		return fmt.Errorf("%w: missing source path", ErrInvalidAsset)
	}
	if a.DurationSeconds < 0 {
		return fmt.Errorf("%w: negative duration", ErrInvalidAsset)
	}
	if a.SegmentCount < 0 {
		return fmt.Errorf("%w: negative segment count", ErrInvalidAsset)
	}

	for name, v := range a.Resolutions {
		if v == nil || v.Name != name {
			return fmt.Errorf("%w: resolution %q mis-keyed", ErrInvalidAsset, name)
		}
		if a.OriginalWidth > 0 && a.OriginalHeight > 0 {
			if v.Width > a.OriginalWidth || v.Height > a.OriginalHeight {
				return fmt.Errorf("%w: resolution %q upscales the source", ErrInvalidAsset, name)
			}
		}
	}

	for name, set := range a.Segments {
		if name != ResolutionOriginal {
			if v, ok := a.Resolutions[name]; !ok || v.Path == "" {
				return fmt.Errorf("%w: segments for %q without a completed variant", ErrInvalidAsset, name)
			}
		}
		for idx, seg := range set {
			if seg == nil || seg.Index != idx {
				return fmt.Errorf("%w: segment %d of %q mis-keyed", ErrInvalidAsset, idx, name)
			}
			if idx < 1 || (a.SegmentCount > 0 && idx > a.SegmentCount) {
				return fmt.Errorf("%w: segment index %d of %q out of range", ErrInvalidAsset, idx, name)
			}
		}
	}

	return nil
}
