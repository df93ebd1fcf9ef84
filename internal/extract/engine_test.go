package extract

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/framekit-api/internal/media"
)

// fakeVideo produces solid frames whose red channel encodes the frame index.
type fakeVideo struct {
	info   media.VideoInfo
	pos    int
	seeks  []int
	failAt int
}

func newFakeVideo(fps float64, frames, w, h int) *fakeVideo {
	return &fakeVideo{
		info: media.VideoInfo{
			Width: w, Height: h, FPS: fps, FrameCount: frames,
			Duration: float64(frames) / fps,
		},
		failAt: -1,
	}
}

func (f *fakeVideo) Info() media.VideoInfo { return f.info }

func (f *fakeVideo) Seek(frame int) error {
	f.seeks = append(f.seeks, frame)
	f.pos = frame
	return nil
}

func (f *fakeVideo) Next() (image.Image, error) {
	if f.pos >= f.info.FrameCount {
		return nil, io.EOF
	}
	if f.pos == f.failAt {
		return nil, errors.New("corrupt packet")
	}
	img := image.NewRGBA(image.Rect(0, 0, f.info.Width, f.info.Height))
	c := color.RGBA{R: uint8(f.pos % 256), A: 255}
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	f.pos++
	return img, nil
}

func (f *fakeVideo) FrameAt(seconds float64) (image.Image, error) {
	f.pos = f.info.FrameIndex(seconds)
	return f.Next()
}

func (f *fakeVideo) Close() error { return nil }

type recordingReporter struct {
	mu       sync.Mutex
	progress []float64
	messages []string
}

func (r *recordingReporter) Report(progress float64, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, progress)
	r.messages = append(r.messages, message)
}

func TestInterval(t *testing.T) {
	tests := []struct {
		fps, target float64
		want        int
	}{
		{30, 5, 6},
		{30, 1, 30},
		{30, 60, 1},
		{25, 10, 2},
		{29.97, 10, 3},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Interval(tt.fps, tt.target), "fps=%v target=%v", tt.fps, tt.target)
	}
}

func TestNewPlan(t *testing.T) {
	info := media.VideoInfo{FPS: 30, FrameCount: 300, Duration: 10}

	t.Run("half window", func(t *testing.T) {
		p, err := NewPlan(info, 0, 5, 5)
		require.NoError(t, err)
		assert.Equal(t, Plan{StartFrame: 0, EndFrame: 149, Interval: 6}, p)
		assert.Equal(t, 25, p.ExpectedSaved())
		assert.Equal(t, 150, p.FramesToProcess())
	})

	t.Run("end of video sentinel", func(t *testing.T) {
		p, err := NewPlan(info, 2, EndOfVideo, 30)
		require.NoError(t, err)
		assert.Equal(t, 60, p.StartFrame)
		assert.Equal(t, 299, p.EndFrame)
		assert.Equal(t, 1, p.Interval)
	})

	t.Run("fractional end", func(t *testing.T) {
		p, err := NewPlan(info, 1.5, 2.51, 30)
		require.NoError(t, err)
		assert.Equal(t, 45, p.StartFrame)
		assert.Equal(t, 75, p.EndFrame)
	})

	t.Run("invalid ranges", func(t *testing.T) {
		for _, r := range [][2]float64{{-1, 5}, {0, 10.5}, {5, 5}, {6, 3}} {
			_, err := NewPlan(info, r[0], r[1], 5)
			assert.ErrorIs(t, err, ErrInvalidRange, "range %v", r)
		}
	})

	t.Run("non-finite bounds", func(t *testing.T) {
		nan, inf := math.NaN(), math.Inf(1)
		for _, r := range [][2]float64{{nan, 5}, {0, nan}, {nan, nan}, {0, inf}, {math.Inf(-1), 5}} {
			_, err := NewPlan(info, r[0], r[1], 5)
			assert.ErrorIs(t, err, ErrInvalidRange, "range %v", r)
		}
	})

	t.Run("invalid target", func(t *testing.T) {
		for _, target := range []float64{0, -2, math.NaN(), math.Inf(1)} {
			_, err := NewPlan(info, 0, 5, target)
			assert.ErrorIs(t, err, ErrInvalidTarget, "target %v", target)
		}
	})

	t.Run("zero fps is fatal", func(t *testing.T) {
		_, err := NewPlan(media.VideoInfo{FrameCount: 100}, 0, EndOfVideo, 5)
		assert.ErrorIs(t, err, media.ErrOpenVideo)
	})
}

func TestEngine_Extract_ScenarioCount(t *testing.T) {
	v := newFakeVideo(30, 300, 16, 8)
	rep := &recordingReporter{}
	dir := t.TempDir()

	res, err := NewEngine(nil).Extract(context.Background(), v, Request{
		InputName: "clip.mp4", Start: 0, End: 5, TargetFPS: 5,
	}, dir, rep)
	require.NoError(t, err)

	assert.Equal(t, 25, res.Saved)
	assert.Len(t, res.Files, 25)
	assert.Equal(t, []int{0}, v.seeks)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 25)

	assert.Equal(t, filepath.Join(dir, "clip.mp4_frame_0.00s.jpg"), res.Files[0])
	assert.Equal(t, filepath.Join(dir, "clip.mp4_frame_0.20s.jpg"), res.Files[1])
	assert.Equal(t, filepath.Join(dir, "clip.mp4_frame_4.80s.jpg"), res.Files[24])
}

func TestEngine_Extract_HighFrameRateNamesAreUnique(t *testing.T) {
	v := newFakeVideo(240, 24, 8, 8)
	dir := t.TempDir()

	res, err := NewEngine(nil).Extract(context.Background(), v, Request{
		InputName: "fast", Start: 0, End: EndOfVideo, TargetFPS: 240,
	}, dir, &recordingReporter{})
	require.NoError(t, err)
	require.Equal(t, 24, res.Saved)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 24)

	seen := make(map[string]bool)
	for _, f := range res.Files {
		assert.False(t, seen[f], "duplicate %s", f)
		seen[f] = true
	}
	assert.Equal(t, filepath.Join(dir, "fast_frame_0.00s.jpg"), res.Files[0])
	assert.Equal(t, filepath.Join(dir, "fast_frame_0.00s_1.jpg"), res.Files[1])
}

func TestEngine_Extract_CountProperty(t *testing.T) {
	cases := []struct {
		fps        float64
		frames     int
		start, end float64
		target     float64
	}{
		{30, 300, 0, 10, 5},
		{30, 300, 1.25, 7.5, 4},
		{25, 100, 0.5, EndOfVideo, 10},
		{24, 48, 0, 2, 48},
		{10, 50, 4.9, 5, 1},
	}
	for _, c := range cases {
		v := newFakeVideo(c.fps, c.frames, 4, 4)
		plan, err := NewPlan(v.Info(), c.start, c.end, c.target)
		require.NoError(t, err)

		res, err := NewEngine(nil).Extract(context.Background(), v, Request{
			InputName: "v", Start: c.start, End: c.end, TargetFPS: c.target,
		}, t.TempDir(), &recordingReporter{})
		require.NoError(t, err)
		assert.Equal(t, plan.ExpectedSaved(), res.Saved, "case %+v", c)
	}
}

func TestEngine_Extract_ProgressIsThrottledAndMonotonic(t *testing.T) {
	v := newFakeVideo(30, 3000, 4, 4)
	rep := &recordingReporter{}

	res, err := NewEngine(nil).Extract(context.Background(), v, Request{
		InputName: "long", Start: 0, End: EndOfVideo, TargetFPS: 30,
	}, t.TempDir(), rep)
	require.NoError(t, err)
	require.Equal(t, 3000, res.Saved)

	require.NotEmpty(t, rep.progress)
	assert.Equal(t, 5.0, rep.progress[0])
	assert.IsNonDecreasing(t, rep.progress)
	for _, p := range rep.progress {
		assert.GreaterOrEqual(t, p, 5.0)
		assert.Less(t, p, 90.0)
	}
	// One write per ten frames at most, plus the setup write.
	assert.LessOrEqual(t, len(rep.progress), 3000/10+1)
}

func TestEngine_Extract_InvalidRange(t *testing.T) {
	v := newFakeVideo(30, 300, 4, 4)
	rep := &recordingReporter{}

	_, err := NewEngine(nil).Extract(context.Background(), v, Request{
		InputName: "v", Start: 3, End: 1, TargetFPS: 5,
	}, t.TempDir(), rep)
	assert.ErrorIs(t, err, ErrInvalidRange)
	assert.Empty(t, rep.progress)
}

func TestEngine_Extract_NoFrames(t *testing.T) {
	v := newFakeVideo(30, 300, 4, 4)
	v.info.FrameCount = 0
	v.info.Duration = 10

	_, err := NewEngine(nil).Extract(context.Background(), v, Request{
		InputName: "v", Start: 0, End: 5, TargetFPS: 5,
	}, t.TempDir(), &recordingReporter{})
	assert.ErrorIs(t, err, ErrNoFramesProduced)
}

func TestEngine_Extract_ReadErrorKeepsPartialOutput(t *testing.T) {
	v := newFakeVideo(10, 100, 4, 4)
	v.failAt = 25
	dir := t.TempDir()

	res, err := NewEngine(nil).Extract(context.Background(), v, Request{
		InputName: "v", Start: 0, End: EndOfVideo, TargetFPS: 10,
	}, dir, &recordingReporter{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read frame 25")
	assert.Equal(t, 25, res.Saved)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 25)
}

func TestEngine_Extract_StopsAtEOF(t *testing.T) {
	v := newFakeVideo(10, 100, 4, 4)
	// Decoder yields fewer frames than the container claims.
	short := &shortVideo{fakeVideo: v, limit: 40}

	res, err := NewEngine(nil).Extract(context.Background(), short, Request{
		InputName: "v", Start: 0, End: EndOfVideo, TargetFPS: 10,
	}, t.TempDir(), &recordingReporter{})
	require.NoError(t, err)
	assert.Equal(t, 40, res.Saved)
}

type shortVideo struct {
	*fakeVideo
	limit int
}

func (s *shortVideo) Next() (image.Image, error) {
	if s.pos >= s.limit {
		return nil, io.EOF
	}
	return s.fakeVideo.Next()
}

func TestEngine_Still(t *testing.T) {
	v := newFakeVideo(30, 300, 64, 32)
	dir := t.TempDir()
	e := NewEngine(nil)

	path, err := e.Still(context.Background(), v, "clip", 2.5, nil, dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "clip_frame_2.50s.jpg"), path)
	assert.Equal(t, []int{75}, v.seeks)

	img := decodeJPEG(t, path)
	assert.Equal(t, 64, img.Bounds().Dx())
	assert.Equal(t, 32, img.Bounds().Dy())
}

func TestEngine_Still_LastFrame(t *testing.T) {
	v := newFakeVideo(30, 300, 8, 8)

	_, err := NewEngine(nil).Still(context.Background(), v, "clip", 10, nil, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, []int{299}, v.seeks)
}

func TestEngine_Still_Crop(t *testing.T) {
	v := newFakeVideo(30, 300, 64, 32)
	e := NewEngine(nil)

	path, err := e.Still(context.Background(), v, "clip", 1, &media.CropRequest{X: 51, Y: 21, W: 100, H: 100}, t.TempDir())
	require.NoError(t, err)
	img := decodeJPEG(t, path)
	assert.Equal(t, 13, img.Bounds().Dx())
	assert.Equal(t, 11, img.Bounds().Dy())

	path, err = e.Still(context.Background(), v, "clip2", 1, &media.CropRequest{X: 0, Y: 0, W: 1, H: 1}, t.TempDir())
	require.NoError(t, err)
	img = decodeJPEG(t, path)
	assert.Equal(t, 64, img.Bounds().Dx(), "degenerate crop keeps the full frame")
}

func TestEngine_Still_InvalidTimestamp(t *testing.T) {
	v := newFakeVideo(30, 300, 8, 8)
	e := NewEngine(nil)

	_, err := e.Still(context.Background(), v, "clip", -0.5, nil, t.TempDir())
	assert.ErrorIs(t, err, ErrInvalidRange)

	_, err = e.Still(context.Background(), v, "clip", 10.5, nil, t.TempDir())
	assert.ErrorIs(t, err, ErrInvalidTimestamp)

	for _, ts := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		dir := t.TempDir()
		_, err = e.Still(context.Background(), v, "clip", ts, nil, dir)
		assert.ErrorIs(t, err, ErrInvalidTimestamp, "timestamp %v", ts)
		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Empty(t, entries)
	}
}

func decodeJPEG(t *testing.T, path string) image.Image {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	img, err := jpeg.Decode(f)
	require.NoError(t, err)
	return img
}
