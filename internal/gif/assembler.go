// Package gif turns a window of a video into a looping animated GIF.
package gif

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	stdgif "image/gif"
	"io"
	"log/slog"
	"math"

	"github.com/google/renameio/v2"
	"github.com/soniakeys/quant/median"
	"golang.org/x/image/draw"

	"github.com/maauso/framekit-api/internal/media"
)

// EndOfVideo requests a GIF up to the end of the clip.
const EndOfVideo = -1

// DefaultRate is the tick rate used when the source frame rate is unusable.
const DefaultRate = 10.0

const (
	minScale = 0.1
	maxScale = 1.0

	progressSampling = 5.0
	progressEncoding = 85.0
)

// ErrNoFrames is returned when the window yields no frames.
var ErrNoFrames = errors.New("no frames in gif window")

// Reporter receives progress updates.
type Reporter interface {
	Report(progress float64, message string)
}

// Request describes one GIF conversion.
type Request struct {
	// Start and End are in seconds. End may be EndOfVideo.
	Start float64
	End   float64
	// Rate overrides the sampling rate in ticks per second. Zero means the
	// source frame rate.
	Rate float64
	// ColorDepth is the maximum palette size per frame, 2..256.
	ColorDepth int
	// Scale resizes frames and is clamped to [0.1, 1.0].
	Scale float64
}

// Result describes a written GIF.
type Result struct {
	Frames  int
	Rate    float64
	DelayMS int
	Start   float64
	End     float64
}

// Window clamps end to the clip and widens an inverted window to the whole clip.
func Window(duration, start, end float64) (float64, float64) {
	if math.IsNaN(start) || math.IsInf(start, 0) || start < 0 {
		start = 0
	}
	if end == EndOfVideo || math.IsNaN(end) || math.IsInf(end, 0) || end > duration {
		end = duration
	}
	if start > end {
		return 0, duration
	}
	return start, end
}

// ClampScale bounds s to [0.1, 1.0].
func ClampScale(s float64) float64 {
	return math.Max(minScale, math.Min(maxScale, s))
}

// Ticks returns the sampling timestamps for a window: t/rate for every t in
// [floor(start*rate), floor(end*rate)) while t/rate is before duration.
func Ticks(duration, start, end, rate float64) []float64 {
	var out []float64
	for t := int(start * rate); t < int(end*rate); t++ {
		ts := float64(t) / rate
		if ts >= duration {
			break
		}
		out = append(out, ts)
	}
	return out
}

// Assembler samples, scales and encodes frames.
type Assembler struct {
	logger *slog.Logger
}

// NewAssembler creates an Assembler.
func NewAssembler(logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{logger: logger}
}

// Assemble writes the GIF for req to outPath. The file appears only once
// fully written.
func (a *Assembler) Assemble(ctx context.Context, v media.Video, req Request, outPath string, rep Reporter) (Result, error) {
	info := v.Info()
	start, end := Window(info.Duration, req.Start, req.End)
	if start != req.Start {
		a.logger.Info("inverted gif window, using whole clip",
			slog.Float64("start", req.Start),
			slog.Float64("end", req.End),
		)
	}

	rate := req.Rate
	if rate <= 0 {
		rate = info.FPS
	}
	if rate <= 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
		rate = DefaultRate
	}
	scale := ClampScale(req.Scale)
	depth := min(max(req.ColorDepth, 2), 256)

	ticks := Ticks(info.Duration, start, end, rate)
	if len(ticks) == 0 {
		return Result{}, fmt.Errorf("%w: [%.2f, %.2f)", ErrNoFrames, start, end)
	}

	rep.Report(progressSampling, fmt.Sprintf("sampling %d frames", len(ticks)))

	delayMS := int(math.Round(1000 / rate))
	anim := &stdgif.GIF{LoopCount: 0}
	lastReported := progressSampling

	for i, ts := range ticks {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		frame, err := v.FrameAt(ts)
		if err != nil {
			if i > 0 && errors.Is(err, io.EOF) {
				break
			}
			return Result{}, fmt.Errorf("read frame at %.3fs: %w", ts, err)
		}

		anim.Image = append(anim.Image, palettize(resize(frame, scale), depth))
		anim.Delay = append(anim.Delay, centiseconds(delayMS))

		progress := progressSampling + float64(i+1)/float64(len(ticks))*(progressEncoding-progressSampling)
		if progress-lastReported >= 5 {
			rep.Report(progress, fmt.Sprintf("sampled %d/%d frames", i+1, len(ticks)))
			lastReported = progress
		}
	}

	rep.Report(progressEncoding, "encoding gif")
	if err := writeGIF(outPath, anim); err != nil {
		return Result{}, err
	}

	return Result{
		Frames:  len(anim.Image),
		Rate:    rate,
		DelayMS: delayMS,
		Start:   start,
		End:     end,
	}, nil
}

// resize scales img by s with Catmull-Rom resampling. s == 1 returns img.
func resize(img image.Image, s float64) image.Image {
	if s == 1 {
		return img
	}
	b := img.Bounds()
	w := max(1, int(float64(b.Dx())*s))
	h := max(1, int(float64(b.Dy())*s))
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// palettize reduces img to at most n colors with a median-cut palette built
// from the frame itself, dithered with Floyd-Steinberg.
func palettize(img image.Image, n int) *image.Paletted {
	palette := median.Quantizer(n).Quantize(make(color.Palette, 0, n), img)
	if len(palette) == 0 {
		palette = color.Palette{color.Black}
	}
	b := img.Bounds()
	pm := image.NewPaletted(image.Rect(0, 0, b.Dx(), b.Dy()), palette)
	draw.FloydSteinberg.Draw(pm, pm.Bounds(), img, b.Min)
	return pm
}

// centiseconds converts a frame delay to GIF units, never below 1.
func centiseconds(ms int) int {
	return max(1, int(math.Round(float64(ms)/10)))
}

func writeGIF(path string, anim *stdgif.GIF) error {
	pf, err := renameio.NewPendingFile(path, renameio.WithPermissions(0644))
	if err != nil {
		return fmt.Errorf("create gif: %w", err)
	}
	defer func() { _ = pf.Cleanup() }()

	if err := stdgif.EncodeAll(pf, anim); err != nil {
		return fmt.Errorf("encode gif: %w", err)
	}
	if err := pf.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("write gif: %w", err)
	}
	return nil
}
