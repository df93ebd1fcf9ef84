package media

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os/exec"
	"strconv"
)

// Open probes path and returns a Video that decodes it through an ffmpeg
// rawvideo pipe. Failures wrap ErrOpenVideo.
func (p *FFmpegProcessor) Open(ctx context.Context, path string) (Video, error) {
	info, err := p.Probe(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOpenVideo, err)
	}
	if info.FPS <= 0 {
		return nil, fmt.Errorf("%w: unusable frame rate", ErrOpenVideo)
	}
	if info.Width <= 0 || info.Height <= 0 {
		return nil, fmt.Errorf("%w: invalid dimensions %dx%d", ErrOpenVideo, info.Width, info.Height)
	}
	return &ffmpegVideo{ctx: ctx, bin: p.ffmpegPath, path: path, info: info}, nil
}

// ffmpegVideo reads RGBA frames from an ffmpeg subprocess. Seeking restarts
// the subprocess at the frame's timestamp; reading is always sequential.
type ffmpegVideo struct {
	ctx  context.Context
	bin  string
	path string
	info VideoInfo

	cmd    *exec.Cmd
	stdout io.ReadCloser
	reader *bufio.Reader
	stderr bytes.Buffer

	// pos is the index of the frame the next call to Next returns.
	pos int
}

func (v *ffmpegVideo) Info() VideoInfo {
	return v.info
}

func (v *ffmpegVideo) Seek(frame int) error {
	if frame < 0 {
		frame = 0
	}
	if v.cmd != nil && frame == v.pos {
		return nil
	}
	v.stop()
	v.pos = frame
	return nil
}

func (v *ffmpegVideo) Next() (image.Image, error) {
	if v.pos >= v.info.FrameCount {
		return nil, io.EOF
	}
	if v.cmd == nil {
		if err := v.start(); err != nil {
			return nil, err
		}
	}

	img := image.NewRGBA(image.Rect(0, 0, v.info.Width, v.info.Height))
	if _, err := io.ReadFull(v.reader, img.Pix); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read frame %d: %w", v.pos, err)
	}
	v.pos++
	return img, nil
}

func (v *ffmpegVideo) FrameAt(seconds float64) (image.Image, error) {
	idx := v.info.FrameIndex(seconds)
	if idx < v.pos || v.cmd == nil {
		if err := v.Seek(idx); err != nil {
			return nil, err
		}
	}
	for v.pos < idx {
		if _, err := v.Next(); err != nil {
			return nil, err
		}
	}
	return v.Next()
}

func (v *ffmpegVideo) Close() error {
	v.stop()
	return nil
}

func (v *ffmpegVideo) start() error {
	ts := float64(v.pos) / v.info.FPS
	args := []string{
		"-v", "error",
		"-noautorotate",
		"-ss", strconv.FormatFloat(ts, 'f', 6, 64),
		"-i", v.path,
		"-map", "0:v:0",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-vsync", "0",
		"-",
	}

	// #nosec G204 - bin is set by the application, not user input
	cmd := exec.CommandContext(v.ctx, v.bin, args...)
	v.stderr.Reset()
	cmd.Stderr = &v.stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create decoder pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: start decoder: %w", ErrOpenVideo, err)
	}

	v.cmd = cmd
	v.stdout = stdout
	v.reader = bufio.NewReaderSize(stdout, v.info.Width*v.info.Height*4)
	return nil
}

func (v *ffmpegVideo) stop() {
	if v.cmd == nil {
		return
	}
	_ = v.stdout.Close()
	if v.cmd.Process != nil {
		_ = v.cmd.Process.Kill()
	}
	_ = v.cmd.Wait()
	v.cmd = nil
	v.stdout = nil
	v.reader = nil
}
