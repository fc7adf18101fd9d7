package orchestrator

// LadderRung is one target resolution of the fixed ladder.
type LadderRung struct {
	Name   ResolutionName
	Width  int
	Height int
}

// Ladder is the fixed ordered set of target resolutions, largest first.
var Ladder = []LadderRung{
	{Name: "4k", Width: 3840, Height: 2160},
	{Name: "1440p", Width: 2560, Height: 1440},
	{Name: "1080p", Width: 1920, Height: 1080},
	{Name: "720p", Width: 1280, Height: 720},
	{Name: "480p", Width: 854, Height: 480},
	{Name: "360p", Width: 640, Height: 360},
	{Name: "240p", Width: 426, Height: 240},
	{Name: "144p", Width: 256, Height: 144},
}

// FilterLadder returns the rungs that fit inside the source dimensions.
// A rung is offered only when both its width and height are at most the
// source's, so a variant is never an upscale.
func FilterLadder(srcWidth, srcHeight int) []LadderRung {
	rungs := make([]LadderRung, 0, len(Ladder))
	for _, rung := range Ladder {
		if rung.Width <= srcWidth && rung.Height <= srcHeight {
			rungs = append(rungs, rung)
		}
	}
	return rungs
}

// SegmentBoundary is the computed time range of one segment before extraction.
type SegmentBoundary struct {
	Index     int
	StartTime float64
	Duration  float64
}

// SegmentBoundaries divides [0, duration) evenly into n contiguous ranges.
// Indexes are 1-based. Boundaries partition the full duration with no gaps
// or overlaps; n < 1 or a non-positive duration yields nil.
func SegmentBoundaries(duration float64, n int) []SegmentBoundary {
	if n < 1 || duration <= 0 {
		return nil
	}
	segDur := duration / float64(n)
	boundaries := make([]SegmentBoundary, 0, n)
	for i := 0; i < n; i++ {
		boundaries = append(boundaries, SegmentBoundary{
			Index:     i + 1,
			StartTime: float64(i) * segDur,
			Duration:  segDur,
		})
	}
	return boundaries
}
