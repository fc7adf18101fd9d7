package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultWorkerPoolSize bounds how many engine invocations run concurrently
// within one stage.
const DefaultWorkerPoolSize = 4

// ErrPrecondition is returned when a stage is invoked before its required
// prior stage completed. The stage fails fast with no partial work.
var ErrPrecondition = errors.New("stage precondition not met")

// UnitError reports the failure of one unit (one segment, one rung) within a
// stage. Timeouts are flagged separately for diagnosis but count as failures.
type UnitError struct {
	Unit    string `json:"unit"`
	Error   string `json:"error"`
	Timeout bool   `json:"timeout,omitempty"`
}

// StageResult is the structured outcome of one stage invocation. Success
// means the stage itself ran to completion; individual units may still have
// failed, which the counts and Errors expose so callers can detect partial
// success.
type StageResult struct {
	Success        bool        `json:"success"`
	RequestedCount int         `json:"requestedCount"`
	CreatedCount   int         `json:"createdCount"`
	Errors         []UnitError `json:"errors,omitempty"`
}

// Service drives the four-stage pipeline (ingest, segment-original,
// generate-resolutions, segment-resolutions) and resolves playback lookups.
// It holds no state of its own beyond what it reads and writes through the
// Repository, which makes every stage resumable after a restart.
type Service struct {
	repo          Repository
	engine        Engine
	log           *slog.Logger
	workers       int
	segmentDir    string
	resolutionDir string

	stageMu    sync.Mutex
	stageLocks map[AssetID]*sync.Mutex
}

// NewService returns a Service. If workers <= 0, DefaultWorkerPoolSize is used.
func NewService(repo Repository, engine Engine, log *slog.Logger, workers int, segmentDir, resolutionDir string) *Service {
	if workers <= 0 {
		workers = DefaultWorkerPoolSize
	}
	return &Service{
		repo:          repo,
		engine:        engine,
		log:           log,
		workers:       workers,
		segmentDir:    segmentDir,
		resolutionDir: resolutionDir,
		stageLocks:    make(map[AssetID]*sync.Mutex),
	}
}

// lockStage serializes stage invocations per asset. Units within one stage
// still run concurrently, but two stage calls for the same asset never
// overlap, so a given output path is written by at most one task at a time.
// The returned func releases the lock.
func (s *Service) lockStage(id AssetID) func() {
	s.stageMu.Lock()
	mu, ok := s.stageLocks[id]
	if !ok {
		mu = &sync.Mutex{}
		s.stageLocks[id] = mu
	}
	s.stageMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// AllocateID reserves a fresh asset id. Callers that store the source file
// before ingesting use it to scope the stored filename to the asset.
func (s *Service) AllocateID() AssetID {
	return s.repo.AllocateID()
}

// Ingest registers an uploaded file as a new asset and probes its duration.
// A failed probe leaves DurationSeconds at 0; ingestion still succeeds, and
// stages that need the duration will fail fast instead. An empty id
// allocates a fresh one.
func (s *Service) Ingest(ctx context.Context, id AssetID, filename, sourcePath string) (*Asset, error) {
	if id == "" {
		id = s.repo.AllocateID()
	}

	duration, err := s.engine.ProbeDuration(ctx, sourcePath)
	if err != nil {
		s.log.Warn("duration probe failed, ingesting with unknown duration",
			slog.String("asset_id", string(id)),
			slog.String("error", err.Error()))
		duration = 0
	}

	asset := &Asset{
		ID:              id,
		Filename:        filename,
		SourcePath:      sourcePath,
		DurationSeconds: duration,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.repo.PutAsset(asset); err != nil {
		return nil, err
	}

	s.log.Info("asset ingested",
		slog.String("asset_id", string(id)),
		slog.Float64("duration_seconds", duration))
	return asset, nil
}

// SegmentOriginal splits the source file into n evenly timed segments.
// Changing n from a previous run invalidates every recorded segment set,
// for the original and all resolutions alike.
func (s *Service) SegmentOriginal(ctx context.Context, id AssetID, n int) (StageResult, error) {
	if n < 1 {
		return StageResult{}, fmt.Errorf("%w: segment count must be >= 1", ErrPrecondition)
	}

	unlock := s.lockStage(id)
	defer unlock()

	asset, err := s.repo.GetAsset(id)
	if err != nil {
		return StageResult{}, err
	}
	if asset.DurationSeconds <= 0 {
		return StageResult{}, fmt.Errorf("%w: asset duration unknown", ErrPrecondition)
	}

	boundaries := SegmentBoundaries(asset.DurationSeconds, n)
	created := make([]*Segment, len(boundaries))

	units := make([]unit, 0, len(boundaries))
	for i, b := range boundaries {
		i, b := i, b
		outPath := s.segmentPath(id, ResolutionOriginal, b.Index)
		units = append(units, unit{
			name: fmt.Sprintf("original/%d", b.Index),
			run: func(ctx context.Context) error {
				if err := s.engine.ExtractSegment(ctx, asset.SourcePath, b.StartTime, b.Duration, outPath); err != nil {
					return err
				}
				created[i] = &Segment{Index: b.Index, StartTime: b.StartTime, Duration: b.Duration, Path: outPath}
				return nil
			},
		})
	}

	result := s.runUnits(ctx, "segment-original", id, units)

	err = s.repo.UpdateAsset(id, func(a *Asset) error {
		if a.SegmentCount != 0 && a.SegmentCount != n {
			// A changed count invalidates every existing segment set.
			a.Segments = nil
		}
		a.SegmentCount = n
		setSegments(a, ResolutionOriginal, created)
		return nil
	})
	if err != nil {
		return result, err
	}

	result.Success = true
	return result, nil
}

// GenerateResolutions probes the source resolution and rescales the asset to
// every ladder rung that fits inside it. The offered rung set is
// deterministic given the same source resolution; re-running overwrites.
func (s *Service) GenerateResolutions(ctx context.Context, id AssetID) (StageResult, error) {
	unlock := s.lockStage(id)
	defer unlock()

	asset, err := s.repo.GetAsset(id)
	if err != nil {
		return StageResult{}, err
	}

	width, height, err := s.engine.ProbeResolution(ctx, asset.SourcePath)
	if err != nil {
		return StageResult{}, fmt.Errorf("%w: source resolution unknown", ErrPrecondition)
	}

	rungs := FilterLadder(width, height)
	created := make([]*ResolutionVariant, len(rungs))

	units := make([]unit, 0, len(rungs))
	for i, rung := range rungs {
		i, rung := i, rung
		outPath := s.resolutionPath(id, rung.Name)
		units = append(units, unit{
			name: string(rung.Name),
			run: func(ctx context.Context) error {
				if err := s.engine.Rescale(ctx, asset.SourcePath, rung.Width, rung.Height, outPath); err != nil {
					return err
				}
				created[i] = &ResolutionVariant{Name: rung.Name, Width: rung.Width, Height: rung.Height, Path: outPath}
				return nil
			},
		})
	}

	result := s.runUnits(ctx, "generate-resolutions", id, units)

	err = s.repo.UpdateAsset(id, func(a *Asset) error {
		a.OriginalWidth = width
		a.OriginalHeight = height
		a.Resolutions = make(map[ResolutionName]*ResolutionVariant, len(created))
		for _, v := range created {
			if v != nil {
				a.Resolutions[v.Name] = v
			}
		}
		// Segment sets of rungs that no longer have a completed variant are stale.
		for name := range a.Segments {
			if name != ResolutionOriginal && !a.HasVariant(name) {
				delete(a.Segments, name)
			}
		}
		return nil
	})
	if err != nil {
		return result, err
	}

	result.Success = true
	return result, nil
}

// SegmentResolutions splits every completed resolution variant, and the
// original, into the asset's established segment count. Requires that
// segmentation was requested and at least one variant exists.
func (s *Service) SegmentResolutions(ctx context.Context, id AssetID) (StageResult, error) {
	unlock := s.lockStage(id)
	defer unlock()

	asset, err := s.repo.GetAsset(id)
	if err != nil {
		return StageResult{}, err
	}
	if asset.SegmentCount < 1 {
		return StageResult{}, fmt.Errorf("%w: no segment count set", ErrPrecondition)
	}
	if asset.DurationSeconds <= 0 {
		return StageResult{}, fmt.Errorf("%w: asset duration unknown", ErrPrecondition)
	}

	type target struct {
		name ResolutionName
		path string
	}
	targets := []target{}
	for name, v := range asset.Resolutions {
		if v.Path != "" {
			targets = append(targets, target{name: name, path: v.Path})
		}
	}
	if len(targets) == 0 {
		return StageResult{}, fmt.Errorf("%w: no completed resolution variants", ErrPrecondition)
	}
	targets = append(targets, target{name: ResolutionOriginal, path: asset.SourcePath})

	boundaries := SegmentBoundaries(asset.DurationSeconds, asset.SegmentCount)
	created := make(map[ResolutionName][]*Segment, len(targets))
	units := make([]unit, 0, len(targets)*len(boundaries))

	for _, tgt := range targets {
		tgt := tgt
		segs := make([]*Segment, len(boundaries))
		created[tgt.name] = segs
		for i, b := range boundaries {
			i, b := i, b
			outPath := s.segmentPath(id, tgt.name, b.Index)
			units = append(units, unit{
				name: fmt.Sprintf("%s/%d", tgt.name, b.Index),
				run: func(ctx context.Context) error {
					if err := s.engine.ExtractSegment(ctx, tgt.path, b.StartTime, b.Duration, outPath); err != nil {
						return err
					}
					segs[i] = &Segment{Index: b.Index, StartTime: b.StartTime, Duration: b.Duration, Path: outPath}
					return nil
				},
			})
		}
	}

	result := s.runUnits(ctx, "segment-resolutions", id, units)

	err = s.repo.UpdateAsset(id, func(a *Asset) error {
		for name, segs := range created {
			setSegments(a, name, segs)
		}
		return nil
	})
	if err != nil {
		return result, err
	}

	result.Success = true
	return result, nil
}

// ListAssets returns all assets, ordered by id.
func (s *Service) ListAssets() []*Asset {
	return s.repo.ListAssets()
}

// Resolve maps a logical (asset, resolution, segment) reference to the file
// that serves it. index 0 means the whole asset: the source file for
// ResolutionOriginal, the variant file otherwise. A metadata record whose
// file is gone from disk yields ErrNotFound, never a dangling path.
func (s *Service) Resolve(id AssetID, name ResolutionName, index int) (string, error) {
	asset, err := s.repo.GetAsset(id)
	if err != nil {
		return "", err
	}

	var path string
	switch {
	case index == 0 && name == ResolutionOriginal:
		path = asset.SourcePath
	case index == 0:
		v, ok := asset.Resolutions[name]
		if !ok || v.Path == "" {
			return "", fmt.Errorf("resolution %q of asset %q: %w", name, id, ErrNotFound)
		}
		path = v.Path
	default:
		seg, ok := asset.Segments[name][index]
		if !ok || seg.Path == "" {
			return "", fmt.Errorf("segment %d of %q for asset %q: %w", index, name, id, ErrNotFound)
		}
		path = seg.Path
	}

	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("file %s: %w", path, ErrNotFound)
	}
	return path, nil
}

// unit is one independently succeeding or failing piece of stage work.
type unit struct {
	name string
	run  func(ctx context.Context) error
}

// runUnits executes units on a bounded pool. A failing unit never aborts its
// siblings; cancellation stops scheduling units that have not started yet.
// Output paths are distinct per unit by construction, so no two concurrent
// tasks write the same file.
func (s *Service) runUnits(ctx context.Context, stage string, id AssetID, units []unit) StageResult {
	unitErrs := make([]*UnitError, len(units))

	g := new(errgroup.Group)
	g.SetLimit(s.workers)

	for i, u := range units {
		i, u := i, u
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				unitErrs[i] = &UnitError{Unit: u.name, Error: "canceled before start"}
				return nil
			}
			if err := u.run(ctx); err != nil {
				timeout := errors.Is(err, ErrTimeout)
				unitErrs[i] = &UnitError{Unit: u.name, Error: err.Error(), Timeout: timeout}
				s.log.Error("unit failed",
					slog.String("stage", stage),
					slog.String("asset_id", string(id)),
					slog.String("unit", u.name),
					slog.Bool("timeout", timeout),
					slog.String("error", err.Error()))
			}
			return nil
		})
	}
	_ = g.Wait()

	result := StageResult{RequestedCount: len(units)}
	for _, ue := range unitErrs {
		if ue != nil {
			result.Errors = append(result.Errors, *ue)
		} else {
			result.CreatedCount++
		}
	}

	s.log.Info("stage finished",
		slog.String("stage", stage),
		slog.String("asset_id", string(id)),
		slog.Int("requested", result.RequestedCount),
		slog.Int("created", result.CreatedCount))
	return result
}

// setSegments replaces the segment set for one resolution with the units
// that actually succeeded.
func setSegments(a *Asset, name ResolutionName, segs []*Segment) {
	set := make(map[int]*Segment)
	for _, seg := range segs {
		if seg != nil {
			set[seg.Index] = seg
		}
	}
	if a.Segments == nil {
		a.Segments = make(map[ResolutionName]map[int]*Segment)
	}
	a.Segments[name] = set
}

func (s *Service) segmentPath(id AssetID, name ResolutionName, index int) string {
	return filepath.Join(s.segmentDir, string(id), string(name), "segment_"+strconv.Itoa(index)+".mp4")
}

func (s *Service) resolutionPath(id AssetID, name ResolutionName) string {
	return filepath.Join(s.resolutionDir, string(id), string(name)+".mp4")
}
