// Package tasks binds the media operations to job module IDs.
//
// Each operation receives its typed parameters through job.Task.Params,
// prepares the input video (optionally cropping it), runs the engine and
// builds the success payload stored in the job record.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/maauso/framekit-api/internal/archive"
	"github.com/maauso/framekit-api/internal/extract"
	"github.com/maauso/framekit-api/internal/gif"
	"github.com/maauso/framekit-api/internal/job"
	"github.com/maauso/framekit-api/internal/media"
	"github.com/maauso/framekit-api/internal/storage"
)

// Module IDs.
const (
	ModuleExtractFrames = "extract-frames"
	ModuleGIF           = "mp4-to-gif"
	ModuleSingleFrame   = "extract-single-frame"
)

// DefaultPreviewLimit is the number of file URLs returned as previews.
const DefaultPreviewLimit = 8

// ErrBadParams is returned when a task carries parameters of the wrong type.
var ErrBadParams = errors.New("unexpected task parameters")

// Metrics receives domain counters.
type Metrics interface {
	FramesWritten(module string, n int)
	CropFallback()
}

type nopMetrics struct{}

func (nopMetrics) FramesWritten(string, int) {}
func (nopMetrics) CropFallback()             {}

// Deps are the collaborators shared by all operations.
type Deps struct {
	Opener    media.Opener
	Cropper   media.Cropper
	Files     storage.Storage
	Zipper    *archive.Zipper
	Publisher storage.Publisher
	Extractor *extract.Engine
	Assembler *gif.Assembler
	Metrics   Metrics
	Logger    *slog.Logger
	// PreviewLimit bounds the previews list. Zero means DefaultPreviewLimit.
	PreviewLimit int
}

func (d *Deps) defaults() {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Metrics == nil {
		d.Metrics = nopMetrics{}
	}
	if d.Publisher == nil {
		d.Publisher = storage.NopPublisher{}
	}
	if d.Zipper == nil {
		d.Zipper = archive.NewZipper()
	}
	if d.Extractor == nil {
		d.Extractor = extract.NewEngine(d.Logger)
	}
	if d.Assembler == nil {
		d.Assembler = gif.NewAssembler(d.Logger)
	}
	if d.PreviewLimit <= 0 {
		d.PreviewLimit = DefaultPreviewLimit
	}
}

// Register adds every operation to reg.
func Register(reg *job.Registry, d Deps) error {
	if d.Opener == nil || d.Cropper == nil || d.Files == nil {
		return errors.New("tasks: opener, cropper and file storage are required")
	}
	d.defaults()

	ops := map[string]job.Operation{
		ModuleExtractFrames: &extractFrames{deps: d},
		ModuleGIF:           &toGIF{deps: d},
		ModuleSingleFrame:   &singleFrame{deps: d},
	}
	for _, name := range []string{ModuleExtractFrames, ModuleGIF, ModuleSingleFrame} {
		if err := reg.Register(name, ops[name]); err != nil {
			return err
		}
	}
	return nil
}

// prepareVideo crops src when requested and opens the resulting file.
// A failed crop is counted and the original file is used.
func (d *Deps) prepareVideo(ctx context.Context, task job.Task, src string, crop *media.CropRequest, rep job.Reporter, log *slog.Logger) (media.Video, media.CropResult, error) {
	res := media.CropResult{Path: src}
	if crop != nil {
		rep.Report(1, "cropping video")
		probe, err := d.Opener.Open(ctx, src)
		if err != nil {
			return nil, res, err
		}
		info := probe.Info()
		_ = probe.Close()

		res = media.PrepareCrop(ctx, d.Cropper, task.Dir, src, info.Width, info.Height, crop, log)
		if res.Fallback() {
			d.Metrics.CropFallback()
		}
	}

	v, err := d.Opener.Open(ctx, res.Path)
	if err != nil {
		return nil, res, err
	}
	return v, res, nil
}

// urls maps paths to /files/ references.
func (d *Deps) urls(paths []string) ([]string, error) {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		u, err := d.Files.URL(p)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

func (d *Deps) previews(urls []string) []string {
	n := min(len(urls), d.PreviewLimit)
	return append([]string(nil), urls[:n]...)
}

// publish copies path to object storage. Failures are logged and leave the
// payload untouched.
func (d *Deps) publish(ctx context.Context, key job.Key, path, field string, payload map[string]any, log *slog.Logger) {
	objectKey := strings.Join([]string{key.ModuleID, key.JobID, filepath.Base(path)}, "/")
	url, err := d.Publisher.Publish(ctx, objectKey, path)
	if err != nil {
		if !errors.Is(err, storage.ErrNotConfigured) {
			log.Warn("failed to publish artifact",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
		}
		return
	}
	payload[field] = url
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func badParams(want string, got any) error {
	return fmt.Errorf("%w: want %s, got %T", ErrBadParams, want, got)
}

func taskLogger(l *slog.Logger, key job.Key) *slog.Logger {
	return l.With(
		slog.String("module_id", key.ModuleID),
		slog.String("job_id", key.JobID),
	)
}
