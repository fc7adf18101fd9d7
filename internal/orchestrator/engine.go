package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Engine is the adapter contract for the external transcoding tool.
// Implementations perform no retries; retry policy belongs to the pipeline.
type Engine interface {
	ProbeDuration(ctx context.Context, path string) (float64, error)
	ProbeResolution(ctx context.Context, path string) (width, height int, err error)
	ExtractSegment(ctx context.Context, path string, startTime, duration float64, outPath string) error
	Rescale(ctx context.Context, path string, width, height int, outPath string) error
}

var (
	// ErrProbeFailed is returned when the engine could not determine the
	// duration or resolution of a file.
	ErrProbeFailed = errors.New("probe failed")

	// ErrEngineFailed is returned when the engine process reported failure or
	// produced an empty or missing output file.
	ErrEngineFailed = errors.New("engine failed")

	// ErrTimeout is returned when an engine invocation exceeded its bound.
	// Bookkeeping treats it like ErrEngineFailed; logs distinguish it.
	ErrTimeout = errors.New("engine timed out")
)

// EngineTimeouts bounds each engine operation.
type EngineTimeouts struct {
	Probe   time.Duration
	Extract time.Duration
	Rescale time.Duration
}

// DefaultEngineTimeouts returns the standard per-operation bounds.
func DefaultEngineTimeouts() EngineTimeouts {
	return EngineTimeouts{
		Probe:   30 * time.Second,
		Extract: 300 * time.Second,
		Rescale: 600 * time.Second,
	}
}

// FFmpegEngine invokes ffmpeg/ffprobe as subprocesses. Exit code, stderr
// text, and the stat of the output file are the only contract surfaces;
// stdout is parsed only for probe values.
type FFmpegEngine struct {
	ffmpegPath  string
	ffprobePath string
	timeouts    EngineTimeouts
}

// NewFFmpegEngine returns an engine using the given binary paths. Empty
// paths fall back to "ffmpeg" and "ffprobe" on PATH.
func NewFFmpegEngine(ffmpegPath, ffprobePath string, timeouts EngineTimeouts) *FFmpegEngine {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpegEngine{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath, timeouts: timeouts}
}

// ProbeDuration implements Engine.ProbeDuration.
func (e *FFmpegEngine) ProbeDuration(ctx context.Context, path string) (float64, error) {
	out, err := e.runProbe(ctx, durationArgs(path))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrProbeFailed, err)
	}
	return parseProbeDuration(out)
}

// ProbeResolution implements Engine.ProbeResolution.
func (e *FFmpegEngine) ProbeResolution(ctx context.Context, path string) (int, int, error) {
	out, err := e.runProbe(ctx, resolutionArgs(path))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrProbeFailed, err)
	}
	return parseProbeResolution(out)
}

// ExtractSegment implements Engine.ExtractSegment.
func (e *FFmpegEngine) ExtractSegment(ctx context.Context, path string, startTime, duration float64, outPath string) error {
	return e.runConstruct(ctx, e.timeouts.Extract, extractArgs(path, startTime, duration, outPath), outPath)
}

// Rescale implements Engine.Rescale.
func (e *FFmpegEngine) Rescale(ctx context.Context, path string, width, height int, outPath string) error {
	return e.runConstruct(ctx, e.timeouts.Rescale, rescaleArgs(path, width, height, outPath), outPath)
}

func (e *FFmpegEngine) runProbe(ctx context.Context, args []string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeouts.Probe)
	defer cancel()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, e.ffprobePath, args...)
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", ErrTimeout
		}
		return "", fmt.Errorf("%v: %s", err, stderrTail(&stderr))
	}
	return string(out), nil
}

func (e *FFmpegEngine) runConstruct(ctx context.Context, timeout time.Duration, args []string, outPath string) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("%w: create output dir: %v", ErrEngineFailed, err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("%w after %s", ErrTimeout, timeout)
		}
		return fmt.Errorf("%w: %v: %s", ErrEngineFailed, err, stderrTail(&stderr))
	}

	return verifyOutput(outPath)
}

// verifyOutput treats a missing or zero-byte output as failure even when the
// process reported success.
func verifyOutput(outPath string) error {
	info, err := os.Stat(outPath)
	if err != nil {
		return fmt.Errorf("%w: output missing: %v", ErrEngineFailed, err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("%w: output %s is empty", ErrEngineFailed, outPath)
	}
	return nil
}

func durationArgs(path string) []string {
	return []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	}
}

func resolutionArgs(path string) []string {
	return []string{
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height",
		"-of", "csv=p=0",
		path,
	}
}

// extractArgs re-encodes the time range rather than stream-copying it, so
// every segment is independently decodable from frame zero.
func extractArgs(path string, startTime, duration float64, outPath string) []string {
	return []string{
		"-i", path,
		"-ss", formatSeconds(startTime),
		"-t", formatSeconds(duration),
		"-c:v", "libx264",
		"-c:a", "aac",
		"-preset", "fast",
		"-crf", "23",
		"-movflags", "+faststart",
		"-y",
		outPath,
	}
}

func rescaleArgs(path string, width, height int, outPath string) []string {
	return []string{
		"-i", path,
		"-vf", fmt.Sprintf("scale=%d:%d:flags=lanczos", width, height),
		"-c:v", "libx264",
		"-c:a", "aac",
		"-preset", "medium",
		"-crf", "23",
		"-movflags", "+faststart",
		"-y",
		outPath,
	}
}

func parseProbeDuration(out string) (float64, error) {
	s := strings.TrimSpace(out)
	d, err := strconv.ParseFloat(s, 64)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("%w: unparsable duration %q", ErrProbeFailed, s)
	}
	return d, nil
}

func parseProbeResolution(out string) (int, int, error) {
	s := strings.TrimSpace(out)
	parts := strings.Split(s, ",")
	if len(parts) < 2 {
		return 0, 0, fmt.Errorf("%w: unparsable resolution %q", ErrProbeFailed, s)
	}
	w, errW := strconv.Atoi(strings.TrimSpace(parts[0]))
	h, errH := strconv.Atoi(strings.TrimSpace(parts[1]))
	if errW != nil || errH != nil || w <= 0 || h <= 0 {
		return 0, 0, fmt.Errorf("%w: unparsable resolution %q", ErrProbeFailed, s)
	}
	return w, h, nil
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

// stderrTail keeps the last part of stderr for error messages.
func stderrTail(buf *bytes.Buffer) string {
	const max = 400
	s := strings.TrimSpace(buf.String())
	if len(s) > max {
		s = "..." + s[len(s)-max:]
	}
	return s
}
