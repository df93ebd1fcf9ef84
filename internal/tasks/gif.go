package tasks

import (
	"context"
	"path/filepath"

	"github.com/maauso/framekit-api/internal/gif"
	"github.com/maauso/framekit-api/internal/job"
	"github.com/maauso/framekit-api/internal/media"
)

// GIFParams is the request for the mp4-to-gif module.
type GIFParams struct {
	VideoPath string
	InputName string
	Start     float64
	// End is in seconds, or gif.EndOfVideo.
	End        float64
	ColorDepth int
	Scale      float64
	Crop       *media.CropRequest
}

type toGIF struct {
	deps Deps
}

func (op *toGIF) Run(ctx context.Context, task job.Task, rep job.Reporter) (map[string]any, error) {
	p, ok := task.Params.(GIFParams)
	if !ok {
		return nil, badParams("GIFParams", task.Params)
	}
	d := &op.deps
	log := taskLogger(d.Logger, task.Key)

	v, crop, err := d.prepareVideo(ctx, task, p.VideoPath, p.Crop, rep, log)
	if err != nil {
		return nil, err
	}
	defer func() { _ = v.Close() }()

	// The GIF is named after the file actually read, so a cropped source
	// yields a name carrying the crop rectangle.
	out := filepath.Join(task.Dir, stem(crop.Path)+".gif")
	res, err := d.Assembler.Assemble(ctx, v, gif.Request{
		Start:      p.Start,
		End:        p.End,
		ColorDepth: p.ColorDepth,
		Scale:      p.Scale,
	}, out, rep)
	if err != nil {
		return nil, err
	}
	d.Metrics.FramesWritten(task.Key.ModuleID, res.Frames)

	rep.Report(95, "listing files")
	url, err := d.Files.URL(out)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"message":        "gif created",
		"job_id":         task.Key.JobID,
		"input_filename": p.InputName,
		"files":          []string{url},
		"previews":       []string{url},
		"total_files":    1,
		"frames":         res.Frames,
		"start_sec":      res.Start,
		"end_sec":        res.End,
	}
	d.publish(ctx, task.Key, out, "published_url", payload, log)

	log.Info("gif created", "frames", res.Frames)
	return payload, nil
}
