package thumbnail

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// DefaultFormat is the image format of generated thumbnails
const DefaultFormat = "png"

// Extractor produces a still image from a video
type Extractor interface {
	// Extract writes a single frame taken at offset at to out
	Extract(ctx context.Context, video, out string, at time.Duration) error
}

// Runner executes an external command and returns its combined output
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// CommandRunner implements Runner with os/exec
type CommandRunner struct{}

// Run executes name with args
func (CommandRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	return cmd.CombinedOutput()
}

// FFmpeg implements Extractor by shelling out to ffmpeg
type FFmpeg struct {
	path   string
	runner Runner
}

// NewFFmpeg creates an extractor using the ffmpeg binary at path. An empty
// path resolves ffmpeg from PATH.
func NewFFmpeg(path string, runner Runner) *FFmpeg {
	if path == "" {
		path = "ffmpeg"
	}
	if runner == nil {
		runner = CommandRunner{}
	}
	return &FFmpeg{path: path, runner: runner}
}

// Path returns the configured ffmpeg binary
func (f *FFmpeg) Path() string {
	return f.path
}

// Extract grabs one frame at the given offset. The output format follows the
// extension of out.
func (f *FFmpeg) Extract(ctx context.Context, video, out string, at time.Duration) error {
	if at < 0 {
		at = 0
	}

	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-y",
		"-ss", formatOffset(at),
		"-i", video,
		"-frames:v", "1",
		"-f", "image2",
		// single image; otherwise image2 expands %d in out as a sequence pattern
		"-update", "1",
		out,
	}

	output, err := f.runner.Run(ctx, f.path, args...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("ffmpeg interrupted: %w", ctxErr)
		}
		return fmt.Errorf("ffmpeg failed: %w: %s", err, strings.TrimSpace(string(output)))
	}

	// ffmpeg exits 0 without writing a frame when the offset is past the end
	info, err := os.Stat(out)
	if err != nil {
		return fmt.Errorf("ffmpeg produced no image at %s (offset beyond video length?)", formatOffset(at))
	}
	if info.Size() == 0 {
		return fmt.Errorf("ffmpeg produced an empty image at %s", formatOffset(at))
	}
	return nil
}

// Available checks that the ffmpeg binary can be executed
func (f *FFmpeg) Available(ctx context.Context) error {
	output, err := f.runner.Run(ctx, f.path, "-hide_banner", "-version")
	if err != nil {
		return fmt.Errorf("%s not executable: %w", f.path, err)
	}
	if !strings.Contains(string(output), "ffmpeg") {
		return fmt.Errorf("%s does not look like ffmpeg", f.path)
	}
	return nil
}

func formatOffset(d time.Duration) string {
	return fmt.Sprintf("%.3f", d.Seconds())
}
