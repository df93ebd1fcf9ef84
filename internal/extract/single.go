package extract

import (
	"context"
	"fmt"
	"image"
	"path/filepath"

	"golang.org/x/image/draw"

	"github.com/maauso/framekit-api/internal/media"
)

// ErrInvalidTimestamp is returned when a still is requested outside the clip.
var ErrInvalidTimestamp = fmt.Errorf("%w: timestamp outside video", ErrInvalidRange)

// Still writes the frame shown at seconds into dir as
// <stem>_frame_<seconds>s.jpg. An optional crop is clamped to the frame
// without even alignment; a degenerate crop leaves the frame whole.
func (e *Engine) Still(ctx context.Context, v media.Video, stem string, seconds float64, crop *media.CropRequest, dir string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	info := v.Info()
	if !finite(seconds) || seconds < 0 || (info.Duration > 0 && seconds > info.Duration) {
		return "", fmt.Errorf("%w: %.2f (video duration: %.2fs)", ErrInvalidTimestamp, seconds, info.Duration)
	}

	if err := v.Seek(info.FrameIndex(seconds)); err != nil {
		return "", fmt.Errorf("seek: %w", err)
	}
	img, err := v.Next()
	if err != nil {
		return "", fmt.Errorf("read frame at %.2fs: %w", seconds, err)
	}

	if crop != nil {
		if r, ok := media.ClampRect(img.Bounds(), *crop); ok && r.Dx() > 1 && r.Dy() > 1 {
			img = subImage(img, r)
		}
	}

	path := filepath.Join(dir, FrameName(stem, seconds))
	if err := writeJPEG(path, img, e.quality); err != nil {
		return "", err
	}
	return path, nil
}

func subImage(img image.Image, r image.Rectangle) image.Image {
	if s, ok := img.(interface {
		SubImage(image.Rectangle) image.Image
	}); ok {
		return s.SubImage(r)
	}
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), img, r.Min, draw.Src)
	return dst
}
