package media

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"path/filepath"
	"strings"
)

// CropRequest is a caller-supplied rectangle in source pixels. It is not
// trusted: it may be negative, odd or outside the frame.
type CropRequest struct {
	X, Y, W, H int
}

// Rect is a normalized crop rectangle: inside the frame, with even origin
// and size, and width and height greater than one.
type Rect struct {
	X, Y, W, H int
}

func (r Rect) String() string {
	return fmt.Sprintf("%d_%d_%d_%d", r.X, r.Y, r.W, r.H)
}

// NormalizeCrop fits req inside a width x height frame and aligns it to even
// coordinates for 4:2:0 encoders. It returns false when the result would be
// degenerate, meaning no crop should be applied.
func NormalizeCrop(width, height int, req CropRequest) (Rect, bool) {
	x, y := max(req.X, 0), max(req.Y, 0)
	w, h := max(req.W, 0), max(req.H, 0)

	if w <= 1 || h <= 1 {
		return Rect{}, false
	}
	if x >= width || y >= height {
		return Rect{}, false
	}

	w = min(w, width-x)
	h = min(h, height-y)

	x, y = even(x), even(y)
	w, h = even(w), even(h)
	if w <= 1 || h <= 1 {
		return Rect{}, false
	}

	// Aligning x and y down can still leave the far edge outside the frame.
	if x+w > width {
		w = even(width - x)
	}
	if y+h > height {
		h = even(height - y)
	}
	if w <= 1 || h <= 1 {
		return Rect{}, false
	}

	return Rect{X: x, Y: y, W: w, H: h}, true
}

// ClampRect fits req inside bounds without parity alignment. It is used for
// still images, which have no chroma constraints.
func ClampRect(bounds image.Rectangle, req CropRequest) (image.Rectangle, bool) {
	r := image.Rect(req.X, req.Y, req.X+max(req.W, 0), req.Y+max(req.H, 0)).
		Add(bounds.Min).
		Intersect(bounds)
	if r.Empty() {
		return image.Rectangle{}, false
	}
	return r, true
}

func even(n int) int {
	return n - n%2
}

// CropResult reports what PrepareCrop did.
type CropResult struct {
	// Path is the file the caller should process: the cropped copy, or the
	// original when no crop was applied.
	Path string
	// Rect is the normalized rectangle, valid when Applied is true.
	Rect Rect
	// Applied is true when Path points to a cropped copy.
	Applied bool
	// Err is set when a crop was requested but the re-encode failed.
	Err error
}

// Fallback returns true when a crop was attempted and the original file is used instead.
func (r CropResult) Fallback() bool {
	return r.Err != nil
}

// PrepareCrop returns the file a job should read. With no request, or a
// request that normalizes to nothing, it returns src. Otherwise it re-encodes
// src into dir as <stem>__crop_<x>_<y>_<w>_<h>.mp4. A failed re-encode is
// logged and src is returned; it never fails the caller.
func PrepareCrop(ctx context.Context, c Cropper, dir, src string, width, height int, req *CropRequest, logger *slog.Logger) CropResult {
	if req == nil {
		return CropResult{Path: src}
	}
	if logger == nil {
		logger = slog.Default()
	}

	rect, ok := NormalizeCrop(width, height, *req)
	if !ok {
		logger.Info("crop request ignored",
			slog.Int("x", req.X), slog.Int("y", req.Y),
			slog.Int("w", req.W), slog.Int("h", req.H),
		)
		return CropResult{Path: src}
	}

	stem := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	dst := filepath.Join(dir, fmt.Sprintf("%s__crop_%s.mp4", stem, rect))

	if err := c.CropVideo(ctx, src, dst, rect); err != nil {
		logger.Warn("crop failed, using original video",
			slog.String("path", src),
			slog.String("rect", rect.String()),
			slog.String("error", err.Error()),
		)
		return CropResult{Path: src, Err: err}
	}

	return CropResult{Path: dst, Rect: rect, Applied: true}
}
