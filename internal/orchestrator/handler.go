package orchestrator

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"vod-orchestrator/internal/platform/metrics"

	"github.com/go-chi/chi/v5"
)

// Handler exposes pipeline and playback HTTP endpoints using go-chi.
type Handler struct {
	svc            *Service
	log            *slog.Logger
	metrics        *metrics.Metrics
	uploadDir      string
	maxUploadBytes int64
}

// NewHandler returns a Handler that uses the given Service, Logger, and
// optional Metrics. Metrics may be nil to disable metric recording (e.g. in
// tests). Uploaded source files are written under uploadDir, capped at
// maxUploadBytes each.
func NewHandler(svc *Service, log *slog.Logger, m *metrics.Metrics, uploadDir string, maxUploadBytes int64) *Handler {
	return &Handler{svc: svc, log: log, metrics: m, uploadDir: uploadDir, maxUploadBytes: maxUploadBytes}
}

// Routes mounts all endpoints on a chi router.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/videos", h.Upload)
	r.Get("/videos", h.ListVideos)
	r.Route("/videos/{video_id}", func(r chi.Router) {
		r.Get("/", h.GetVideo)
		r.Post("/segment", h.SegmentVideo)
		r.Post("/resolutions", h.CreateResolutions)
		r.Post("/segment_resolutions", h.SegmentResolutions)
		r.Get("/segments/{resolution}/{index}", h.GetSegmentFile)
	})
}

// Upload handles POST /videos: a multipart upload with field "video".
// The file is stored under the upload dir prefixed with the allocated asset
// id, so two uploads sharing a filename keep separate source files. The
// asset is then ingested (duration probed; a failed probe still ingests with
// duration 0).
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	file, header, err := r.FormFile("video")
	if err != nil {
		h.log.Debug("upload rejected", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, "no file selected")
		return
	}
	defer file.Close()

	filename := filepath.Base(header.Filename)
	if filename == "" || filename == "." || filename == string(filepath.Separator) {
		writeError(w, http.StatusBadRequest, "no file selected")
		return
	}

	id := h.svc.AllocateID()
	dstPath := filepath.Join(h.uploadDir, string(id)+"_"+filename)
	if err := saveUpload(file, h.uploadDir, dstPath); err != nil {
		h.log.Error("save upload failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "upload failed")
		return
	}

	asset, err := h.svc.Ingest(r.Context(), id, filename, dstPath)
	if err != nil {
		h.log.Error("ingest failed", slog.String("error", err.Error()))
		writeError(w, statusFor(err), "ingest failed")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"success":         true,
		"videoId":         asset.ID,
		"filename":        asset.Filename,
		"durationSeconds": asset.DurationSeconds,
	})
	if h.metrics != nil {
		h.metrics.IncAssetsIngested()
	}
}

// ListVideos handles GET /videos.
func (h *Handler) ListVideos(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.ListAssets())
}

// GetVideo handles GET /videos/{video_id} by streaming the whole source file.
func (h *Handler) GetVideo(w http.ResponseWriter, r *http.Request) {
	id := AssetID(chi.URLParam(r, "video_id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing video id")
		return
	}

	path, err := h.svc.Resolve(id, ResolutionOriginal, 0)
	if err != nil {
		writeError(w, statusFor(err), "video not found")
		return
	}
	http.ServeFile(w, r, path)
}

// SegmentVideo handles POST /videos/{video_id}/segment.
// Body: { "numSegments": 4 }.
func (h *Handler) SegmentVideo(w http.ResponseWriter, r *http.Request) {
	id := AssetID(chi.URLParam(r, "video_id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing video id")
		return
	}

	var req struct {
		NumSegments int `json:"numSegments"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log.Debug("invalid segment body", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.svc.SegmentOriginal(r.Context(), id, req.NumSegments)
	h.writeStageResult(w, "segment-original", id, result, err)
}

// CreateResolutions handles POST /videos/{video_id}/resolutions.
func (h *Handler) CreateResolutions(w http.ResponseWriter, r *http.Request) {
	id := AssetID(chi.URLParam(r, "video_id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing video id")
		return
	}

	result, err := h.svc.GenerateResolutions(r.Context(), id)
	h.writeStageResult(w, "generate-resolutions", id, result, err)
}

// SegmentResolutions handles POST /videos/{video_id}/segment_resolutions.
func (h *Handler) SegmentResolutions(w http.ResponseWriter, r *http.Request) {
	id := AssetID(chi.URLParam(r, "video_id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing video id")
		return
	}

	result, err := h.svc.SegmentResolutions(r.Context(), id)
	h.writeStageResult(w, "segment-resolutions", id, result, err)
}

// GetSegmentFile handles GET /videos/{video_id}/segments/{resolution}/{index}.
// resolution may be "original".
func (h *Handler) GetSegmentFile(w http.ResponseWriter, r *http.Request) {
	id := AssetID(chi.URLParam(r, "video_id"))
	name := ResolutionName(chi.URLParam(r, "resolution"))
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if id == "" || name == "" || err != nil || index < 1 {
		writeError(w, http.StatusBadRequest, "invalid segment reference")
		return
	}

	path, err := h.svc.Resolve(id, name, index)
	if err != nil {
		writeError(w, statusFor(err), "segment not found")
		return
	}
	http.ServeFile(w, r, path)
}

// writeStageResult maps a stage outcome onto the HTTP response and records
// stage metrics. Per-unit failures do not fail the call; the counts let the
// caller detect partial success.
func (h *Handler) writeStageResult(w http.ResponseWriter, stage string, id AssetID, result StageResult, err error) {
	if err != nil {
		h.log.Error("stage failed",
			slog.String("stage", stage),
			slog.String("asset_id", string(id)),
			slog.String("error", err.Error()))
		writeError(w, statusFor(err), err.Error())
		return
	}

	if h.metrics != nil {
		h.metrics.IncStageRuns(stage)
		h.metrics.AddUnitsCreated(result.CreatedCount)
		h.metrics.AddUnitsFailed(len(result.Errors))
		for _, ue := range result.Errors {
			if ue.Timeout {
				h.metrics.IncEngineTimeouts()
			}
		}
	}

	writeJSON(w, http.StatusOK, result)
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrPrecondition):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidAsset):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func saveUpload(src multipart.File, dir, dstPath string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	dst, err := os.Create(dstPath)
	if err != nil {
		return err
	}
	defer dst.Close()
	if _, err := io.Copy(dst, src); err != nil {
		os.Remove(dstPath)
		return err
	}
	return nil
}
