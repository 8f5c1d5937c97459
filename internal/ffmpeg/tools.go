package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Dimensions of the first video stream of a media file
type Dimensions struct {
	Width  int
	Height int
	PixFmt string
}

type probeOutput struct {
	Streams []struct {
		Width  int    `json:"width"`
		Height int    `json:"height"`
		PixFmt string `json:"pix_fmt"`
	} `json:"streams"`
}

// Tools binds the ffmpeg and ffprobe executables to a Runner
type Tools struct {
	ffmpegPath  string
	ffprobePath string
	runner      Runner
}

// NewTools creates a Tools. Empty paths resolve ffmpeg/ffprobe from PATH.
func NewTools(ffmpegPath, ffprobePath string, runner Runner) *Tools {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Tools{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath, runner: runner}
}

// Exec runs ffmpeg non-interactively, overwriting outputs and logging only errors
func (t *Tools) Exec(ctx context.Context, args ...string) error {
	full := append([]string{"-hide_banner", "-loglevel", "error", "-y"}, args...)
	_, err := t.runner.Run(ctx, t.ffmpegPath, full...)
	return err
}

// ProbeDimensions reads width, height and pixel format of path's first video stream
func (t *Tools) ProbeDimensions(ctx context.Context, path string) (Dimensions, error) {
	out, err := t.runner.Run(ctx, t.ffprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,pix_fmt",
		"-of", "json",
		path,
	)
	if err != nil {
		return Dimensions{}, err
	}

	var parsed probeOutput
	if err := json.Unmarshal(out.Stdout, &parsed); err != nil {
		return Dimensions{}, fmt.Errorf("failed to unmarshal ffprobe output for %s: %w", path, err)
	}
	if len(parsed.Streams) == 0 {
		return Dimensions{}, fmt.Errorf("no video stream in %s", path)
	}

	s := parsed.Streams[0]
	return Dimensions{Width: s.Width, Height: s.Height, PixFmt: strings.TrimSpace(s.PixFmt)}, nil
}

// ProbeHeight returns the pixel height of the image at path
func (t *Tools) ProbeHeight(ctx context.Context, path string) (int, error) {
	d, err := t.ProbeDimensions(ctx, path)
	if err != nil {
		return 0, err
	}
	if d.Height <= 0 {
		return 0, fmt.Errorf("invalid height %d for %s", d.Height, path)
	}
	return d.Height, nil
}

// ProbePixelFormat returns the pixel format name of path, e.g. "rgba"
func (t *Tools) ProbePixelFormat(ctx context.Context, path string) (string, error) {
	d, err := t.ProbeDimensions(ctx, path)
	if err != nil {
		return "", err
	}
	if d.PixFmt == "" {
		return "", fmt.Errorf("no pixel format reported for %s", path)
	}
	return d.PixFmt, nil
}
