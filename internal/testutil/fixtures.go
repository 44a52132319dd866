package testutil

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// WriteFile creates path (and its parents) with the given content
func WriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

// PNG returns a solid w×h PNG image
func PNG(w, h int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 40, B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}

// Extractor is a thumbnail extractor double. It writes a small PNG to the
// requested output unless Err is set.
type Extractor struct {
	Err error
	// Before runs ahead of the write, e.g. to observe the staged video
	Before func(video, out string)

	mu    sync.Mutex
	calls []ExtractCall
}

// ExtractCall records one Extract invocation
type ExtractCall struct {
	Video string
	Out   string
	At    time.Duration
}

// Extract implements the thumbnail extractor contract
func (e *Extractor) Extract(ctx context.Context, video, out string, at time.Duration) error {
	e.mu.Lock()
	e.calls = append(e.calls, ExtractCall{Video: video, Out: out, At: at})
	e.mu.Unlock()

	if e.Before != nil {
		e.Before(video, out)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.Err != nil {
		return e.Err
	}
	return os.WriteFile(out, PNG(4, 3), 0644)
}

// Calls returns the recorded invocations
func (e *Extractor) Calls() []ExtractCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]ExtractCall(nil), e.calls...)
}
