package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/framekit-api/internal/extract"
	"github.com/maauso/framekit-api/internal/gif"
	"github.com/maauso/framekit-api/internal/job"
	"github.com/maauso/framekit-api/internal/storage"
	"github.com/maauso/framekit-api/internal/tasks"
)

// DefaultMaxUploadBytes bounds a task request body when no option is given.
const DefaultMaxUploadBytes = 1 << 30

// multipartMemory is the part of a multipart body kept in memory; the rest
// spills to temporary files.
const multipartMemory = 32 << 20

// JobService creates, dispatches and reads jobs.
type JobService interface {
	Create(ctx context.Context, moduleID string, input map[string]any) (job.Ticket, error)
	Dispatch(t job.Ticket, params any)
	Fail(ctx context.Context, t job.Ticket, cause error) error
	Get(ctx context.Context, key job.Key) (*job.Record, error)
}

// FileStore stores uploads and resolves /files/ URLs.
type FileStore interface {
	SaveUpload(ctx context.Context, dir, name string, data io.Reader) (string, error)
	Resolve(url string) (string, error)
}

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	jobs      JobService
	files     FileStore
	validator *validator.Validate
	logger    *slog.Logger
	maxUpload int64
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithMaxUploadBytes limits the size of task request bodies.
func WithMaxUploadBytes(n int64) HandlerOption {
	return func(h *Handlers) {
		if n > 0 {
			h.maxUpload = n
		}
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(jobs JobService, files FileStore, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		jobs:      jobs,
		files:     files,
		validator: validator.New(),
		logger:    logger,
		maxUpload: DefaultMaxUploadBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// ExtractFrames handles POST /api/tasks/extract-frames requests.
func (h *Handlers) ExtractFrames(w http.ResponseWriter, r *http.Request) {
	if !h.parseForm(w, r) {
		return
	}
	var form ExtractFramesForm
	if err := decodeExtractFramesForm(r, &form); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "INVALID_FORM")
		return
	}
	if _, err := tasks.OutputDirName(form.OutputDir, uploadName(r)); err != nil {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	h.accept(w, r, tasks.ModuleExtractFrames, &form, func(video, name string) any {
		p := tasks.ExtractFramesParams{
			VideoPath: video,
			InputName: name,
			End:       extract.EndOfVideo,
			TargetFPS: float64(form.NFPS),
			OutputDir: form.OutputDir,
			Crop:      form.Crop.Request(),
		}
		if form.StartSec != nil {
			p.Start = *form.StartSec
		}
		if form.EndSec != nil {
			p.End = *form.EndSec
		}
		return p
	})
}

// MP4ToGIF handles POST /api/tasks/mp4-to-gif requests.
func (h *Handlers) MP4ToGIF(w http.ResponseWriter, r *http.Request) {
	if !h.parseForm(w, r) {
		return
	}
	var form GIFForm
	if err := decodeGIFForm(r, &form); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "INVALID_FORM")
		return
	}

	h.accept(w, r, tasks.ModuleGIF, &form, func(video, name string) any {
		p := tasks.GIFParams{
			VideoPath:  video,
			InputName:  name,
			End:        gif.EndOfVideo,
			ColorDepth: 256,
			Scale:      1,
			Crop:       form.Crop.Request(),
		}
		if form.StartSec != nil {
			p.Start = *form.StartSec
		}
		if form.EndSec != nil {
			p.End = *form.EndSec
		}
		if form.ColorDepth != nil {
			p.ColorDepth = *form.ColorDepth
		}
		if form.Scale != nil {
			p.Scale = *form.Scale
		}
		return p
	})
}

// ExtractSingleFrame handles POST /api/tasks/extract-single-frame requests.
func (h *Handlers) ExtractSingleFrame(w http.ResponseWriter, r *http.Request) {
	if !h.parseForm(w, r) {
		return
	}
	var form SingleFrameForm
	if err := decodeSingleFrameForm(r, &form); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "INVALID_FORM")
		return
	}

	h.accept(w, r, tasks.ModuleSingleFrame, &form, func(video, name string) any {
		return tasks.SingleFrameParams{
			VideoPath: video,
			InputName: name,
			Timestamp: *form.Timestamp,
			Crop:      form.Crop.Request(),
		}
	})
}

// GetJob handles GET /api/jobs/{module_id}/{job_id} requests.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	key := job.Key{ModuleID: r.PathValue("module_id"), JobID: r.PathValue("job_id")}
	if err := key.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid module or job ID", "INVALID_JOB_KEY")
		return
	}

	rec, err := h.jobs.Get(r.Context(), key)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
			return
		}
		h.logger.Error("failed to get job",
			slog.String("module_id", key.ModuleID),
			slog.String("job_id", key.JobID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get job", "JOB_FETCH_FAILED")
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// Download handles GET /api/download?path=/files/... requests. The file is
// sent as an attachment rather than displayed inline.
func (h *Handlers) Download(w http.ResponseWriter, r *http.Request) {
	p, err := h.files.Resolve(r.URL.Query().Get("path"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid file path", "INVALID_PATH")
		return
	}

	f, err := os.Open(p) // #nosec G304 - path is resolved under the storage root
	if err != nil {
		writeError(w, http.StatusNotFound, "file not found", "FILE_NOT_FOUND")
		return
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		writeError(w, http.StatusNotFound, "file not found", "FILE_NOT_FOUND")
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", attachment(filepath.Base(p)))
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

// parseForm limits the body and parses the multipart form. It writes the
// error response and returns false on failure.
func (h *Handlers) parseForm(w http.ResponseWriter, r *http.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload too large", "UPLOAD_TOO_LARGE")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form", "INVALID_FORM")
		return false
	}
	return true
}

// accept validates form, stores the uploaded video in a new job directory
// and dispatches the job. build maps the stored video to operation params.
// uploadName is the stored name of the "video" part, or "" when there is none.
func uploadName(r *http.Request) string {
	if r.MultipartForm == nil || len(r.MultipartForm.File["video"]) == 0 {
		return ""
	}
	return storage.SanitizeName(r.MultipartForm.File["video"][0].Filename, "video")
}

func (h *Handlers) accept(w http.ResponseWriter, r *http.Request, module string, form any, build func(video, name string) any) {
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	if err := h.validator.Struct(form); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("module_id", module),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	file, header, err := r.FormFile("video")
	if err != nil {
		writeError(w, http.StatusBadRequest, "video file is required", "MISSING_VIDEO")
		return
	}
	defer func() { _ = file.Close() }()

	ctx := r.Context()
	name := storage.SanitizeName(header.Filename, "video")
	ticket, err := h.jobs.Create(ctx, module, map[string]any{
		"input_filename": name,
		"params":         form,
	})
	if err != nil {
		h.logger.Error("failed to create job",
			slog.String("module_id", module),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to create job", "JOB_CREATION_FAILED")
		return
	}

	video, err := h.files.SaveUpload(ctx, ticket.Dir, name, file)
	if err != nil {
		h.logger.Error("failed to store upload",
			slog.String("module_id", module),
			slog.String("job_id", ticket.Key.JobID),
			slog.String("error", err.Error()),
		)
		if failErr := h.jobs.Fail(context.WithoutCancel(ctx), ticket, err); failErr != nil {
			h.logger.Error("failed to mark job failed", slog.String("error", failErr.Error()))
		}
		writeError(w, http.StatusInternalServerError, "failed to store upload", "UPLOAD_FAILED")
		return
	}

	h.jobs.Dispatch(ticket, build(video, name))

	h.logger.Info("task accepted",
		slog.String("module_id", module),
		slog.String("job_id", ticket.Key.JobID),
		slog.String("input_filename", name),
	)

	writeJSON(w, http.StatusAccepted, TaskResponse{
		JobID:         ticket.Key.JobID,
		ModuleID:      module,
		Status:        string(job.StatusPending),
		InputFilename: name,
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
