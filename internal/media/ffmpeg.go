package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
)

// Static errors for media operations.
var (
	// ErrFFprobeExecution is returned when the ffprobe command fails.
	ErrFFprobeExecution = errors.New("ffprobe execution failed")
	// ErrOpenVideo is returned when a video cannot be opened for decoding.
	ErrOpenVideo = errors.New("cannot open video")
	// ErrInvalidCrop is returned when a crop rectangle is outside the frame or degenerate.
	ErrInvalidCrop = errors.New("invalid crop rectangle")
)

// Compile-time checks.
var (
	_ Opener  = (*FFmpegProcessor)(nil)
	_ Cropper = (*FFmpegProcessor)(nil)
)

// FFmpegProcessor implements Opener and Cropper using the ffmpeg CLI.
type FFmpegProcessor struct {
	// ffmpegPath is the path to the ffmpeg binary. Defaults to "ffmpeg".
	ffmpegPath string
	// ffprobePath is the path to the ffprobe binary. Defaults to "ffprobe".
	ffprobePath string
}

// NewFFmpegProcessor creates a new FFmpegProcessor.
// Empty paths default to "ffmpeg" and "ffprobe" (found via PATH).
func NewFFmpegProcessor(ffmpegPath, ffprobePath string) *FFmpegProcessor {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpegProcessor{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath}
}

// CropVideo re-encodes src into dst keeping only r. The output is H.264 with
// yuv420p pixels, AAC audio and the moov atom at the front.
func (p *FFmpegProcessor) CropVideo(ctx context.Context, src, dst string, r Rect) error {
	if r.W <= 1 || r.H <= 1 || r.X < 0 || r.Y < 0 {
		return fmt.Errorf("%w: %s", ErrInvalidCrop, r)
	}

	args := []string{
		"-y",
		"-i", src,
		"-vf", fmt.Sprintf("crop=%d:%d:%d:%d", r.W, r.H, r.X, r.Y),
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-preset", "veryfast",
		"-crf", "18",
		"-c:a", "aac",
		"-movflags", "+faststart",
		dst,
	}
	return p.runFFmpeg(ctx, args)
}

// runFFmpeg executes ffmpeg with the given arguments and returns an error
// containing stderr output if the command fails.
func (p *FFmpegProcessor) runFFmpeg(ctx context.Context, args []string) error {
	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, p.ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
		}
		return &FFmpegError{
			Args:   args,
			Stderr: stderr.String(),
			Err:    err,
		}
	}

	return nil
}

// FFmpegError represents an error from running ffmpeg, including the stderr output.
type FFmpegError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *FFmpegError) Error() string {
	return fmt.Sprintf("ffmpeg error: %v\nargs: %v\nstderr: %s", e.Err, e.Args, e.Stderr)
}

func (e *FFmpegError) Unwrap() error {
	return e.Err
}

type probeOutput struct {
	Streams []struct {
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		AvgFrameRate string `json:"avg_frame_rate"`
		RFrameRate   string `json:"r_frame_rate"`
		NbFrames     string `json:"nb_frames"`
		Duration     string `json:"duration"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe reads the first video stream's geometry, frame rate and frame count.
// When the container does not record a frame count it is derived from the
// duration.
func (p *FFmpegProcessor) Probe(ctx context.Context, path string) (VideoInfo, error) {
	// #nosec G204 - ffprobePath is set by the application, not user input
	cmd := exec.CommandContext(ctx, p.ffprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,avg_frame_rate,r_frame_rate,nb_frames,duration:format=duration",
		"-of", "json",
		path,
	)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return VideoInfo{}, fmt.Errorf("ffprobe cancelled: %w", ctx.Err())
		}
		return VideoInfo{}, fmt.Errorf("%w: %w, stderr: %s", ErrFFprobeExecution, err, stderr.String())
	}

	return parseProbe(stdout.Bytes())
}

func parseProbe(data []byte) (VideoInfo, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return VideoInfo{}, fmt.Errorf("parse ffprobe output: %w", err)
	}
	if len(out.Streams) == 0 {
		return VideoInfo{}, fmt.Errorf("%w: no video stream", ErrOpenVideo)
	}
	s := out.Streams[0]

	info := VideoInfo{Width: s.Width, Height: s.Height}
	info.FPS = parseRate(s.AvgFrameRate)
	if info.FPS <= 0 {
		info.FPS = parseRate(s.RFrameRate)
	}

	duration := parseFloat(s.Duration)
	if duration <= 0 {
		duration = parseFloat(out.Format.Duration)
	}

	if n, err := strconv.Atoi(s.NbFrames); err == nil && n > 0 {
		info.FrameCount = n
	} else if info.FPS > 0 {
		info.FrameCount = int(math.Round(duration * info.FPS))
	}

	if info.FPS > 0 {
		info.Duration = float64(info.FrameCount) / info.FPS
	}
	return info, nil
}

// parseRate parses an ffprobe rational such as "30000/1001".
func parseRate(s string) float64 {
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		return parseFloat(s)
	}
	n, d := parseFloat(num), parseFloat(den)
	if d == 0 {
		return 0
	}
	return n / d
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}
