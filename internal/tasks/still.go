package tasks

import (
	"context"
	"fmt"

	"github.com/maauso/framekit-api/internal/job"
	"github.com/maauso/framekit-api/internal/media"
)

// SingleFrameParams is the request for the extract-single-frame module.
type SingleFrameParams struct {
	VideoPath string
	InputName string
	Timestamp float64
	// Crop is applied to the decoded image; it is clamped, not even-aligned.
	Crop *media.CropRequest
}

type singleFrame struct {
	deps Deps
}

func (op *singleFrame) Run(ctx context.Context, task job.Task, rep job.Reporter) (map[string]any, error) {
	p, ok := task.Params.(SingleFrameParams)
	if !ok {
		return nil, badParams("SingleFrameParams", task.Params)
	}
	d := &op.deps
	log := taskLogger(d.Logger, task.Key)

	v, err := d.Opener.Open(ctx, p.VideoPath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = v.Close() }()

	rep.Report(10, "reading frame")
	path, err := d.Extractor.Still(ctx, v, stem(p.VideoPath), p.Timestamp, p.Crop, task.Dir)
	if err != nil {
		return nil, err
	}
	d.Metrics.FramesWritten(task.Key.ModuleID, 1)

	url, err := d.Files.URL(path)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"message":        fmt.Sprintf("saved frame at %.2fs", p.Timestamp),
		"job_id":         task.Key.JobID,
		"input_filename": p.InputName,
		"files":          []string{url},
		"previews":       []string{url},
		"total_files":    1,
		"timestamp":      p.Timestamp,
	}
	d.publish(ctx, task.Key, path, "published_url", payload, log)

	log.Info("frame saved", "path", path)
	return payload, nil
}
