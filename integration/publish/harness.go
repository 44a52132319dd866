//go:build integration

package publish

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/schaermu/crsm/internal/objectstore"
)

const (
	minioImage     = "quay.io/minio/minio:latest"
	accessKey      = "crsm-test"
	secretKey      = "crsm-test-secret"
	testBucket     = "crsm-integration"
	defaultTimeout = 5 * time.Minute
	readyTimeout   = 30 * time.Second
)

// Harness runs a throwaway MinIO server in docker
type Harness struct {
	t           *testing.T
	containerID string
	endpoint    string
	keepOnFail  bool
}

// NewHarness creates a new test harness. Tests are skipped when docker or
// ffmpeg are not installed.
func NewHarness(t *testing.T) *Harness {
	t.Helper()
	for _, bin := range []string{"docker", "ffmpeg"} {
		if _, err := exec.LookPath(bin); err != nil {
			t.Skipf("%s not found in PATH", bin)
		}
	}
	return &Harness{
		t:          t,
		keepOnFail: os.Getenv("INTEGRATION_KEEP_CONTAINER") == "1",
	}
}

// StartContainer starts MinIO on a random loopback port
func (h *Harness) StartContainer(ctx context.Context) error {
	h.t.Helper()
	h.t.Log("Starting minio container")

	cmd := exec.CommandContext(ctx,
		"docker", "run",
		"-d",
		"--rm",
		"-p", "127.0.0.1::9000",
		"-e", "MINIO_ROOT_USER="+accessKey,
		"-e", "MINIO_ROOT_PASSWORD="+secretKey,
		minioImage,
		"server", "/data",
	)
	cmd.Stderr = &testWriter{t: h.t, prefix: "[docker] "}

	out, err := cmd.Output()
	if err != nil {
		return fmt.Errorf("docker run: %w", err)
	}
	h.containerID = strings.TrimSpace(string(out))
	h.t.Logf("Container started: %s", h.containerID)

	port, err := exec.CommandContext(ctx, "docker", "port", h.containerID, "9000/tcp").Output()
	if err != nil {
		return fmt.Errorf("docker port: %w", err)
	}
	// "127.0.0.1:49153", possibly followed by an IPv6 line
	h.endpoint = strings.TrimSpace(strings.SplitN(string(port), "\n", 2)[0])
	return nil
}

// Cleanup stops the container; --rm removes it
func (h *Harness) Cleanup(ctx context.Context) {
	h.t.Helper()
	if h.containerID == "" {
		return
	}

	if h.keepOnFail && h.t.Failed() {
		h.t.Logf("Test failed and INTEGRATION_KEEP_CONTAINER=1, keeping container %s", h.containerID)
		h.t.Logf("Endpoint: http://%s (user %s)", h.endpoint, accessKey)
		h.t.Logf("To cleanup: docker stop %s", h.containerID)
		return
	}

	h.t.Logf("Stopping container %s", h.containerID)
	cmd := exec.CommandContext(ctx, "docker", "stop", h.containerID)
	if err := cmd.Run(); err != nil {
		h.t.Logf("Warning: failed to stop container: %v", err)
	}
}

// Config returns store settings pointing at the container
func (h *Harness) Config() objectstore.Config {
	return objectstore.Config{
		Endpoint:  "http://" + h.endpoint,
		Region:    "us-east-1",
		Bucket:    testBucket,
		AccessKey: accessKey,
		SecretKey: secretKey,
	}
}

// Client returns a raw client for assertions the Store interface does not
// cover
func (h *Harness) Client() (*minio.Client, error) {
	return minio.New(h.endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Region: "us-east-1",
	})
}

// CreateBucket waits for the server to accept requests and creates the test
// bucket
func (h *Harness) CreateBucket(ctx context.Context) error {
	h.t.Helper()
	client, err := h.Client()
	if err != nil {
		return err
	}

	deadline := time.Now().Add(readyTimeout)
	for {
		err = client.MakeBucket(ctx, testBucket, minio.MakeBucketOptions{Region: "us-east-1"})
		if err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("minio not ready after %s: %w", readyTimeout, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// MakeVideo renders a short synthetic clip with ffmpeg
func (h *Harness) MakeVideo(ctx context.Context, dir, name string, seconds int) string {
	h.t.Helper()
	path := filepath.Join(dir, name)
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-hide_banner", "-loglevel", "error",
		"-f", "lavfi", "-i", fmt.Sprintf("testsrc=duration=%d:size=320x240:rate=10", seconds),
		"-pix_fmt", "yuv420p",
		"-y", path,
	)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		h.t.Fatalf("render %s: %v\n%s", name, err, stderr.String())
	}
	return path
}

// testWriter wraps test logging for command output
type testWriter struct {
	t      *testing.T
	prefix string
}

func (w *testWriter) Write(p []byte) (n int, err error) {
	for _, line := range strings.Split(string(p), "\n") {
		if line != "" {
			w.t.Log(w.prefix + line)
		}
	}
	return len(p), nil
}

var _ io.Writer = (*testWriter)(nil)

func testLogger(t *testing.T) *slog.Logger {
	return slog.New(slog.NewTextHandler(&testWriter{t: t, prefix: "[crsm] "}, &slog.HandlerOptions{Level: slog.LevelDebug}))
}
