package orchestrator

import (
	"errors"
	"testing"
)

func validTestAsset(id AssetID) *Asset {
	return &Asset{
		ID:              id,
		Filename:        "clip.mp4",
		SourcePath:      "/v/clip.mp4",
		DurationSeconds: 120,
	}
}

func TestAssetRepository_AllocateID_unique(t *testing.T) {
	repo := NewAssetRepository(NewInMemoryStore())

	seen := make(map[AssetID]bool)
	for i := 0; i < 100; i++ {
		id := repo.AllocateID()
		if id == "" {
			t.Fatal("AllocateID returned empty id")
		}
		if seen[id] {
			t.Fatalf("AllocateID returned duplicate id %s", id)
		}
		seen[id] = true
	}
}

func TestAssetRepository_GetAsset_not_found(t *testing.T) {
	repo := NewAssetRepository(NewInMemoryStore())

	_, err := repo.GetAsset(AssetID("missing"))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAssetRepository_PutAsset_and_get(t *testing.T) {
	repo := NewAssetRepository(NewInMemoryStore())

	if err := repo.PutAsset(validTestAsset("a1")); err != nil {
		t.Fatalf("PutAsset: %v", err)
	}

	got, err := repo.GetAsset(AssetID("a1"))
	if err != nil {
		t.Fatalf("GetAsset: %v", err)
	}
	if got.DurationSeconds != 120 {
		t.Errorf("GetAsset: %+v", got)
	}

	// Returned asset is a copy; mutating it must not touch stored state.
	got.DurationSeconds = 999
	got2, _ := repo.GetAsset(AssetID("a1"))
	if got2.DurationSeconds != 120 {
		t.Error("GetAsset must return a deep copy")
	}
}

func TestAssetRepository_PutAsset_validation(t *testing.T) {
	repo := NewAssetRepository(NewInMemoryStore())

	t.Run("missing_id", func(t *testing.T) {
		a := validTestAsset("")
		if err := repo.PutAsset(a); !errors.Is(err, ErrInvalidAsset) {
			t.Errorf("expected ErrInvalidAsset, got %v", err)
		}
	})

	t.Run("negative_duration", func(t *testing.T) {
		a := validTestAsset("a1")
		a.DurationSeconds = -1
		if err := repo.PutAsset(a); !errors.Is(err, ErrInvalidAsset) {
			t.Errorf("expected ErrInvalidAsset, got %v", err)
		}
	})

	t.Run("upscaling_variant", func(t *testing.T) {
		a := validTestAsset("a1")
		a.OriginalWidth, a.OriginalHeight = 1280, 720
		a.Resolutions = map[ResolutionName]*ResolutionVariant{
			"1080p": {Name: "1080p", Width: 1920, Height: 1080, Path: "/r/1080p.mp4"},
		}
		if err := repo.PutAsset(a); !errors.Is(err, ErrInvalidAsset) {
			t.Errorf("expected ErrInvalidAsset, got %v", err)
		}
	})

	t.Run("segments_without_variant", func(t *testing.T) {
		a := validTestAsset("a1")
		a.SegmentCount = 1
		a.Segments = map[ResolutionName]map[int]*Segment{
			"720p": {1: {Index: 1, Path: "/s/1.mp4"}},
		}
		if err := repo.PutAsset(a); !errors.Is(err, ErrInvalidAsset) {
			t.Errorf("expected ErrInvalidAsset, got %v", err)
		}
	})

	t.Run("segment_index_out_of_range", func(t *testing.T) {
		a := validTestAsset("a1")
		a.SegmentCount = 2
		a.Segments = map[ResolutionName]map[int]*Segment{
			ResolutionOriginal: {3: {Index: 3, Path: "/s/3.mp4"}},
		}
		if err := repo.PutAsset(a); !errors.Is(err, ErrInvalidAsset) {
			t.Errorf("expected ErrInvalidAsset, got %v", err)
		}
	})

	t.Run("original_segments_need_no_variant", func(t *testing.T) {
		a := validTestAsset("a1")
		a.SegmentCount = 1
		a.Segments = map[ResolutionName]map[int]*Segment{
			ResolutionOriginal: {1: {Index: 1, StartTime: 0, Duration: 120, Path: "/s/1.mp4"}},
		}
		if err := repo.PutAsset(a); err != nil {
			t.Errorf("original segments should be valid without a variant: %v", err)
		}
	})
}

func TestAssetRepository_UpdateAsset(t *testing.T) {
	repo := NewAssetRepository(NewInMemoryStore())
	_ = repo.PutAsset(validTestAsset("a1"))

	t.Run("mutation_persisted", func(t *testing.T) {
		err := repo.UpdateAsset(AssetID("a1"), func(a *Asset) error {
			a.SegmentCount = 4
			return nil
		})
		if err != nil {
			t.Fatalf("UpdateAsset: %v", err)
		}
		got, _ := repo.GetAsset(AssetID("a1"))
		if got.SegmentCount != 4 {
			t.Errorf("expected segment count 4, got %d", got.SegmentCount)
		}
	})

	t.Run("not_found", func(t *testing.T) {
		err := repo.UpdateAsset(AssetID("missing"), func(a *Asset) error { return nil })
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("mutate_error_propagates_and_aborts", func(t *testing.T) {
		wantErr := errors.New("boom")
		err := repo.UpdateAsset(AssetID("a1"), func(a *Asset) error {
			a.SegmentCount = 99
			return wantErr
		})
		if !errors.Is(err, wantErr) {
			t.Errorf("expected mutate error, got %v", err)
		}
		got, _ := repo.GetAsset(AssetID("a1"))
		if got.SegmentCount == 99 {
			t.Error("failed mutation must not be stored")
		}
	})

	t.Run("invalid_result_rejected", func(t *testing.T) {
		err := repo.UpdateAsset(AssetID("a1"), func(a *Asset) error {
			a.DurationSeconds = -5
			return nil
		})
		if !errors.Is(err, ErrInvalidAsset) {
			t.Errorf("expected ErrInvalidAsset, got %v", err)
		}
	})
}

// failingStore wraps an in-memory store with a Persist that always fails.
type failingStore struct {
	*InMemoryStore
}

func (s *failingStore) Persist() error {
	return errors.New("disk full")
}

func TestAssetRepository_store_write_failure(t *testing.T) {
	repo := NewAssetRepository(&failingStore{NewInMemoryStore()})

	err := repo.PutAsset(validTestAsset("a1"))
	if !errors.Is(err, ErrStoreWrite) {
		t.Fatalf("expected ErrStoreWrite, got %v", err)
	}

	// The in-memory record is kept so retrying the metadata write does not
	// require redoing the work that produced it.
	if _, err := repo.GetAsset(AssetID("a1")); err != nil {
		t.Errorf("record should survive a failed persist: %v", err)
	}
}

func TestAssetRepository_ListAssets_sorted(t *testing.T) {
	repo := NewAssetRepository(NewInMemoryStore())
	for _, id := range []AssetID{"c", "a", "b"} {
		_ = repo.PutAsset(validTestAsset(id))
	}

	assets := repo.ListAssets()
	if len(assets) != 3 {
		t.Fatalf("expected 3 assets, got %d", len(assets))
	}
	if assets[0].ID != "a" || assets[1].ID != "b" || assets[2].ID != "c" {
		t.Errorf("expected sorted ids, got %v %v %v", assets[0].ID, assets[1].ID, assets[2].ID)
	}

	if repo.AssetCount() != 3 {
		t.Errorf("AssetCount: got %d", repo.AssetCount())
	}
}
