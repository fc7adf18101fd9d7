package orchestrator

import (
	"math"
	"testing"
)

func TestFilterLadder_720p_source(t *testing.T) {
	rungs := FilterLadder(1280, 720)

	want := []ResolutionName{"720p", "480p", "360p", "240p", "144p"}
	if len(rungs) != len(want) {
		t.Fatalf("expected %d rungs, got %d: %v", len(want), len(rungs), rungs)
	}
	for i, name := range want {
		if rungs[i].Name != name {
			t.Errorf("rung %d: expected %s, got %s", i, name, rungs[i].Name)
		}
	}
}

func TestFilterLadder_full_ladder_for_4k(t *testing.T) {
	rungs := FilterLadder(3840, 2160)
	if len(rungs) != len(Ladder) {
		t.Errorf("4k source should offer the full ladder, got %d rungs", len(rungs))
	}
}

func TestFilterLadder_never_upscales(t *testing.T) {
	for _, src := range [][2]int{{1280, 720}, {854, 480}, {1920, 1080}, {640, 360}} {
		for _, rung := range FilterLadder(src[0], src[1]) {
			if rung.Width > src[0] || rung.Height > src[1] {
				t.Errorf("source %dx%d offered upscaling rung %s (%dx%d)",
					src[0], src[1], rung.Name, rung.Width, rung.Height)
			}
		}
	}
}

func TestFilterLadder_tiny_source(t *testing.T) {
	if rungs := FilterLadder(100, 80); len(rungs) != 0 {
		t.Errorf("source smaller than 144p should offer no rungs, got %v", rungs)
	}
}

func TestSegmentBoundaries_even_division(t *testing.T) {
	boundaries := SegmentBoundaries(120, 4)
	if len(boundaries) != 4 {
		t.Fatalf("expected 4 boundaries, got %d", len(boundaries))
	}

	wantStarts := []float64{0, 30, 60, 90}
	for i, b := range boundaries {
		if b.Index != i+1 {
			t.Errorf("boundary %d: expected index %d, got %d", i, i+1, b.Index)
		}
		if b.StartTime != wantStarts[i] {
			t.Errorf("boundary %d: expected start %v, got %v", i, wantStarts[i], b.StartTime)
		}
		if b.Duration != 30 {
			t.Errorf("boundary %d: expected duration 30, got %v", i, b.Duration)
		}
	}
}

func TestSegmentBoundaries_partition_without_gaps(t *testing.T) {
	const epsilon = 1e-9
	for _, n := range []int{1, 2, 3, 7, 100} {
		duration := 97.3
		boundaries := SegmentBoundaries(duration, n)

		var sum float64
		for i, b := range boundaries {
			sum += b.Duration
			if i > 0 {
				prev := boundaries[i-1]
				if math.Abs(b.StartTime-(prev.StartTime+prev.Duration)) > epsilon {
					t.Errorf("n=%d: gap between segment %d and %d", n, prev.Index, b.Index)
				}
			}
		}
		if math.Abs(sum-duration) > epsilon {
			t.Errorf("n=%d: durations sum to %v, want %v", n, sum, duration)
		}
	}
}

func TestSegmentBoundaries_invalid_input(t *testing.T) {
	if b := SegmentBoundaries(120, 0); b != nil {
		t.Errorf("n=0 should yield nil, got %v", b)
	}
	if b := SegmentBoundaries(0, 4); b != nil {
		t.Errorf("zero duration should yield nil, got %v", b)
	}
}
