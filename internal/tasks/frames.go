package tasks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/maauso/framekit-api/internal/archive"
	"github.com/maauso/framekit-api/internal/extract"
	"github.com/maauso/framekit-api/internal/job"
	"github.com/maauso/framekit-api/internal/media"
	"github.com/maauso/framekit-api/internal/storage"
)

// ExtractFramesParams is the request for the extract-frames module.
type ExtractFramesParams struct {
	VideoPath string
	// InputName is the client's file name; it prefixes every frame file.
	InputName string
	Start     float64
	// End is in seconds, or extract.EndOfVideo.
	End       float64
	TargetFPS float64
	// OutputDir is the name of the frames directory inside the job directory.
	OutputDir string
	Crop      *media.CropRequest
}

// ErrInvalidOutputDir is returned when output_dir names a file the job already owns.
var ErrInvalidOutputDir = errors.New("invalid output directory")

// OutputDirName returns the frames directory name for outputDir. It fails when
// the name, or its archive, would collide with the upload or the job record.
func OutputDirName(outputDir, uploadName string) (string, error) {
	name := storage.SanitizeName(outputDir, "frames")
	for _, reserved := range []string{job.MetaFileName, uploadName} {
		if reserved != "" && (name == reserved || name+".zip" == reserved) {
			return "", fmt.Errorf("%w: %q is already used by the job", ErrInvalidOutputDir, name)
		}
	}
	return name, nil
}

type extractFrames struct {
	deps Deps
}

func (op *extractFrames) Run(ctx context.Context, task job.Task, rep job.Reporter) (map[string]any, error) {
	p, ok := task.Params.(ExtractFramesParams)
	if !ok {
		return nil, badParams("ExtractFramesParams", task.Params)
	}
	d := &op.deps
	log := taskLogger(d.Logger, task.Key)

	dirName, err := OutputDirName(p.OutputDir, filepath.Base(p.VideoPath))
	if err != nil {
		return nil, err
	}

	v, _, err := d.prepareVideo(ctx, task, p.VideoPath, p.Crop, rep, log)
	if err != nil {
		return nil, err
	}
	defer func() { _ = v.Close() }()

	outDir := filepath.Join(task.Dir, dirName)
	if fi, err := os.Stat(outDir); err == nil && !fi.IsDir() {
		return nil, fmt.Errorf("%w: %q is already used by the job", ErrInvalidOutputDir, dirName)
	}
	res, err := d.Extractor.Extract(ctx, v, extract.Request{
		InputName: p.InputName,
		Start:     p.Start,
		End:       p.End,
		TargetFPS: p.TargetFPS,
	}, outDir, rep)
	d.Metrics.FramesWritten(task.Key.ModuleID, res.Saved)
	if err != nil {
		return nil, err
	}

	rep.Report(90, "packing results")
	zipPath := filepath.Join(task.Dir, dirName+".zip")
	if _, err := d.Zipper.ZipDir(ctx, outDir, zipPath); err != nil {
		return nil, fmt.Errorf("archive frames: %w", err)
	}

	rep.Report(95, "listing files")
	files, err := archive.ListFiles(outDir)
	if err != nil {
		return nil, err
	}
	urls, err := d.urls(files)
	if err != nil {
		return nil, err
	}
	archiveURL, err := d.Files.URL(zipPath)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"message":        fmt.Sprintf("extracted %d frames", res.Saved),
		"job_id":         task.Key.JobID,
		"input_filename": p.InputName,
		"archive":        archiveURL,
		"files":          urls,
		"total_files":    len(urls),
		"previews":       d.previews(urls),
	}
	d.publish(ctx, task.Key, zipPath, "archive_url", payload, log)

	log.Info("frames extracted", "saved", res.Saved)
	return payload, nil
}
