// Package extract samples frames from a video between two timestamps and
// writes them as JPEG images, reporting progress as it goes.
package extract

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"

	"github.com/maauso/framekit-api/internal/media"
)

// EndOfVideo requests extraction up to the end of the clip.
const EndOfVideo = -1

// Progress bands. Setup owns [0,5), sampling owns [5,90) and the caller's
// archiving and listing steps own [90,100].
const (
	progressSetup    = 5.0
	progressSampling = 85.0
)

// Push throttling: a progress write happens only after this many new frames
// or this many percentage points since the previous write.
const (
	pushEveryFrames  = 10
	pushEveryPercent = 5.0
)

var (
	// ErrInvalidRange is returned when the requested time window does not fit the clip.
	ErrInvalidRange = errors.New("invalid time range")
	// ErrInvalidTarget is returned when the target frame rate is not positive.
	ErrInvalidTarget = errors.New("target fps must be positive")
	// ErrNoFramesProduced is returned when the window contained no decodable frames.
	ErrNoFramesProduced = errors.New("no frames produced")
)

// Reporter receives progress updates.
type Reporter interface {
	Report(progress float64, message string)
}

// Request describes one extraction.
type Request struct {
	// InputName prefixes every output file name.
	InputName string
	// Start and End are in seconds. End may be EndOfVideo.
	Start float64
	End   float64
	// TargetFPS is the desired number of saved frames per second of video.
	TargetFPS float64
}

// Result summarizes a finished extraction.
type Result struct {
	Saved int
	Files []string
}

// Plan is the frame window and sampling interval derived from a request.
type Plan struct {
	StartFrame int
	// EndFrame is the last frame read, inclusive. The window [Start, End) is
	// half-open, so a frame stamped exactly at End is not read and
	// EndFrame = ceil(End*FPS)-1, capped at the last frame of the video.
	EndFrame int
	Interval int
}

// FramesToProcess returns the number of frames the plan reads.
func (p Plan) FramesToProcess() int {
	return p.EndFrame - p.StartFrame + 1
}

// ExpectedSaved returns the number of frames the plan keeps if every frame decodes.
func (p Plan) ExpectedSaved() int {
	if p.EndFrame < p.StartFrame {
		return 0
	}
	return (p.EndFrame-p.StartFrame)/p.Interval + 1
}

// Interval returns how many source frames separate two kept frames.
// It is at least 1, so a target above the source rate keeps every frame.
func Interval(fps, target float64) int {
	return max(1, int(math.RoundToEven(fps/target)))
}

// NewPlan validates the window against info and converts it to frame indices.
// The window is half-open: a frame stamped exactly at End is not read.
func NewPlan(info media.VideoInfo, start, end, target float64) (Plan, error) {
	if info.FPS <= 0 {
		return Plan{}, fmt.Errorf("%w: unusable frame rate", media.ErrOpenVideo)
	}
	if !(target > 0) || math.IsInf(target, 0) {
		return Plan{}, fmt.Errorf("%w: got %v", ErrInvalidTarget, target)
	}

	duration := info.Duration
	if end == EndOfVideo {
		end = duration
	}
	if !finite(start) || !finite(end) || start < 0 || end > duration || start >= end {
		return Plan{}, fmt.Errorf("%w: [%.2f, %.2f] (video duration: %.2fs)", ErrInvalidRange, start, end, duration)
	}

	// Small epsilon so that float noise in end*fps does not pull in the frame at End.
	last := int(math.Ceil(end*info.FPS-1e-6)) - 1
	return Plan{
		StartFrame: int(start * info.FPS),
		EndFrame:   min(last, info.FrameCount-1),
		Interval:   Interval(info.FPS, target),
	}, nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// FrameName returns the deterministic output name for a frame at seconds.
func FrameName(inputName string, seconds float64) string {
	return fmt.Sprintf("%s_frame_%.2fs.jpg", inputName, seconds)
}

// uniqueFrameName is FrameName, suffixed with the frame index when two frames
// round to the same hundredth of a second.
func uniqueFrameName(used map[string]struct{}, inputName string, seconds float64, index int) string {
	name := FrameName(inputName, seconds)
	if _, taken := used[name]; taken {
		name = fmt.Sprintf("%s_frame_%.2fs_%d.jpg", inputName, seconds, index)
	}
	used[name] = struct{}{}
	return name
}

// Engine writes sampled frames to disk.
type Engine struct {
	logger  *slog.Logger
	quality int
}

// Option configures an Engine.
type Option func(*Engine)

// WithJPEGQuality sets the JPEG quality (1-100). Default is 95.
func WithJPEGQuality(q int) Option {
	return func(e *Engine) {
		if q >= 1 && q <= 100 {
			e.quality = q
		}
	}
}

// NewEngine creates an Engine.
func NewEngine(logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{logger: logger, quality: 95}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract reads v sequentially over the request window and writes every
// Interval-th frame to outDir. Frames written before a read error stay on disk.
func (e *Engine) Extract(ctx context.Context, v media.Video, req Request, outDir string, rep Reporter) (Result, error) {
	info := v.Info()
	plan, err := NewPlan(info, req.Start, req.End, req.TargetFPS)
	if err != nil {
		return Result{}, err
	}
	if err := os.MkdirAll(outDir, 0750); err != nil {
		return Result{}, fmt.Errorf("create output directory: %w", err)
	}

	rep.Report(progressSetup, fmt.Sprintf("extracting about %d frames", max(1, plan.FramesToProcess()/plan.Interval)))
	e.logger.Debug("extraction planned",
		slog.Int("start_frame", plan.StartFrame),
		slog.Int("end_frame", plan.EndFrame),
		slog.Int("interval", plan.Interval),
	)

	if err := v.Seek(plan.StartFrame); err != nil {
		return Result{}, fmt.Errorf("seek to frame %d: %w", plan.StartFrame, err)
	}

	var res Result
	used := make(map[string]struct{})
	push := throttle{lastProgress: progressSetup}
	total := float64(plan.FramesToProcess())

	for cur := plan.StartFrame; cur <= plan.EndFrame; cur++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		img, err := v.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return res, fmt.Errorf("read frame %d: %w", cur, err)
		}

		count := cur - plan.StartFrame
		if count%plan.Interval != 0 {
			continue
		}

		path := filepath.Join(outDir, uniqueFrameName(used, req.InputName, float64(cur)/info.FPS, cur))
		if err := writeJPEG(path, img, e.quality); err != nil {
			return res, err
		}
		res.Saved++
		res.Files = append(res.Files, path)

		progress := progressSetup + float64(count)/total*progressSampling
		if push.due(res.Saved, progress) {
			rep.Report(progress, fmt.Sprintf("extracted %d frames", res.Saved))
		}
	}

	if res.Saved == 0 {
		return res, ErrNoFramesProduced
	}
	return res, nil
}

// throttle tracks the frame count and progress at the last write separately.
type throttle struct {
	lastSaved    int
	lastProgress float64
}

func (t *throttle) due(saved int, progress float64) bool {
	if saved-t.lastSaved < pushEveryFrames && progress-t.lastProgress < pushEveryPercent {
		return false
	}
	t.lastSaved = saved
	t.lastProgress = progress
	return true
}

func writeJPEG(path string, img image.Image, quality int) error {
	f, err := os.Create(path) // #nosec G304 - path is built from the job directory
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: quality}); err != nil {
		_ = f.Close()
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", filepath.Base(path), err)
	}
	return nil
}
