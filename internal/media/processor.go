// Package media provides video probing, frame decoding and crop re-encoding.
// Decoding and encoding are delegated to the ffmpeg and ffprobe binaries.
package media

import (
	"context"
	"image"
)

// VideoInfo describes the video stream of a source file.
type VideoInfo struct {
	Width      int
	Height     int
	FPS        float64
	FrameCount int
	// Duration is FrameCount/FPS, or 0 when the frame rate is unknown.
	Duration float64
}

// frameEpsilon absorbs float error in seconds*FPS, so a timestamp computed
// as n/FPS maps back to frame n and not n-1.
const frameEpsilon = 1e-5

// FrameIndex maps a timestamp to a frame index, clamped to the last frame.
func (i VideoInfo) FrameIndex(seconds float64) int {
	idx := int(seconds*i.FPS + frameEpsilon)
	if idx > i.FrameCount-1 {
		idx = i.FrameCount - 1
	}
	if idx < 0 {
		idx = 0
	}
	return idx
}

// Video is an open, forward-reading frame source.
type Video interface {
	// Info returns the stream properties read when the video was opened.
	Info() VideoInfo
	// Seek positions the reader so the next call to Next returns frame.
	Seek(frame int) error
	// Next decodes the next frame. It returns io.EOF after the last frame.
	Next() (image.Image, error)
	// FrameAt returns the frame shown at seconds.
	FrameAt(seconds float64) (image.Image, error)
	// Close releases the decoder.
	Close() error
}

// Opener opens videos for decoding.
type Opener interface {
	Open(ctx context.Context, path string) (Video, error)
}

// Cropper re-encodes a video restricted to a rectangle.
type Cropper interface {
	CropVideo(ctx context.Context, src, dst string, r Rect) error
}
