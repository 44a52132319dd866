package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	gosync "sync"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/schaermu/crsm/internal/config"
	"github.com/schaermu/crsm/internal/coordinator"
	"github.com/schaermu/crsm/internal/objectstore"
	"github.com/schaermu/crsm/internal/testutil"
)

// fakeFFmpeg answers -version and writes a small PNG for extractions
type fakeFFmpeg struct {
	err error
}

func (f *fakeFFmpeg) Run(_ context.Context, _ string, args ...string) ([]byte, error) {
	for _, a := range args {
		if a == "-version" {
			return []byte("ffmpeg version 6.1"), nil
		}
	}
	if f.err != nil {
		return []byte("Invalid data found when processing input"), f.err
	}
	return nil, os.WriteFile(args[len(args)-1], testutil.PNG(4, 3), 0644)
}

// fakeRemote implements remoteStore for testing
type fakeRemote struct {
	mu      gosync.Mutex
	objects map[string]objectstore.Object
	pingErr error
}

func (f *fakeRemote) List(context.Context, string) ([]objectstore.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []objectstore.Object
	for _, o := range f.objects {
		out = append(out, o)
	}
	return out, nil
}

func (f *fakeRemote) Put(_ context.Context, key string, r io.Reader, size int64, opts objectstore.PutOptions) error {
	if _, err := io.Copy(io.Discard, r); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = objectstore.Object{Key: key, Size: size, Fingerprint: opts.Fingerprint}
	return nil
}

func (f *fakeRemote) Ping(context.Context) error { return f.pingErr }

type cliEnv struct {
	dir     string
	config  string
	remote  *fakeRemote
	ffmpeg  *fakeFFmpeg
	launchs []string
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg"))

	env := &cliEnv{
		dir:    dir,
		config: filepath.Join(dir, "config.yaml"),
		remote: &fakeRemote{objects: make(map[string]objectstore.Object)},
		ffmpeg: &fakeFFmpeg{},
	}
	testutil.WriteFile(t, env.config, fmt.Sprintf(`library:
  path: %q
index:
  dsn: %q
thumbnail:
  offset: "1s"
`, filepath.Join(dir, "library"), filepath.Join(dir, "state", "crsm.db")))

	origRunner, origRemote, origLaunch := commandRunner, newRemote, launch
	t.Cleanup(func() {
		commandRunner, newRemote, launch = origRunner, origRemote, origLaunch
	})
	commandRunner = env.ffmpeg
	newRemote = func(*config.Config, *slog.Logger) (remoteStore, error) { return env.remote, nil }
	launch = func(_ context.Context, target string) error {
		env.launchs = append(env.launchs, target)
		return nil
	}
	return env
}

// resetFlags restores every flag to its default between invocations
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func (e *cliEnv) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(append([]string{"--config", e.config}, args...))
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	err := rootCmd.Execute()
	return out.String(), err
}

func (e *cliEnv) source(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(e.dir, "src", name)
	testutil.WriteFile(t, p, content)
	return p
}

func TestSetupLogger(t *testing.T) {
	origLevel := logLevel
	origFormat := logFormat
	t.Cleanup(func() {
		logLevel = origLevel
		logFormat = origFormat
	})

	for _, tc := range []struct {
		name      string
		logLevel  string
		logFormat string
	}{
		{name: "debug/text", logLevel: "debug", logFormat: "text"},
		{name: "info/json", logLevel: "info", logFormat: "json"},
		{name: "warn/text", logLevel: "warn", logFormat: "text"},
		{name: "error/text", logLevel: "error", logFormat: "text"},
		{name: "unknown/text", logLevel: "unknown", logFormat: "text"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			logLevel = tc.logLevel
			logFormat = tc.logFormat

			if logger := setupLogger(); logger == nil {
				t.Fatal("setupLogger returned nil")
			}
		})
	}
}

func TestSetupSignalHandler(t *testing.T) {
	ctx, cancel := setupSignalHandler()
	if ctx == nil {
		t.Fatal("setupSignalHandler returned nil context")
	}

	cancel()

	<-ctx.Done()
	if err := ctx.Err(); err == nil {
		t.Fatal("expected context error after cancel, got nil")
	}
}

func TestVersionCmd(t *testing.T) {
	var out bytes.Buffer
	versionCmd.SetOut(&out)
	t.Cleanup(func() { versionCmd.SetOut(nil) })

	versionCmd.Run(versionCmd, []string{})

	if !strings.HasPrefix(out.String(), "crsm dev\n") {
		t.Errorf("unexpected version output: %q", out.String())
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"validation", &coordinator.ValidationError{Source: "x", Err: errors.New("bad")}, 1},
		{"conflict", &coordinator.ConflictError{Path: "videos/a.mp4"}, 1},
		{"ambiguous", &coordinator.AmbiguousTargetError{Title: "a"}, 1},
		{"not found", fmt.Errorf("wrapped: %w", &coordinator.NotFoundError{Identifier: "7"}), 1},
		{"transfer", &coordinator.TransferError{}, 2},
		{"thumbnail", &coordinator.ThumbnailError{}, 2},
		{"index", &coordinator.IndexError{}, 2},
		{"files kept", &coordinator.FilesNotRemovedWarning{Err: errors.New("busy")}, 2},
		{"user", userError(errors.New("bad config")), 1},
		{"runtime", runtimeError(errors.New("upload failed")), 2},
		{"cobra", errors.New(`unknown flag: --bogus`), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.err); got != tt.want {
				t.Errorf("exitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestParseFields(t *testing.T) {
	tests := []struct {
		spec    string
		want    string
		wantErr bool
	}{
		{spec: "id,title", want: "id,title"},
		{spec: " title , size ", want: "title,size"},
		{spec: "*", want: strings.Join(allFields, ",")},
		{spec: "id,bogus", wantErr: true},
		{spec: ",", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			got, err := parseFields(tt.spec)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseFields(%q) error = %v, wantErr %v", tt.spec, err, tt.wantErr)
			}
			if !tt.wantErr && strings.Join(got, ",") != tt.want {
				t.Errorf("parseFields(%q) = %v, want %s", tt.spec, got, tt.want)
			}
		})
	}
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	origCfgFile := cfgFile
	t.Cleanup(func() { cfgFile = origCfgFile })

	cfgFile = filepath.Join(t.TempDir(), "nonexistent.yaml")
	if _, err := loadConfig(setupLogger()); err == nil {
		t.Fatal("expected error for missing config file, got nil")
	}
}

func TestCLI_AddListRemove(t *testing.T) {
	env := newCLIEnv(t)
	src := env.source(t, "talk_show.mp4", "video bytes")

	out, err := env.run(t, "", "add", src)
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if !strings.Contains(out, `Added: "talk show" (id 1, video: videos/talk_show.mp4, thumbnail: thumbnails/talk_show.png)`) {
		t.Errorf("unexpected add output: %q", out)
	}
	if _, err := os.Stat(src); err != nil {
		t.Error("copy mode must keep the source")
	}

	out, err = env.run(t, "", "ls", "--fields", "*")
	if err != nil {
		t.Fatalf("ls failed: %v", err)
	}
	for _, want := range []string{"VIDEO_PATH", "talk show", "videos/talk_show.mp4", "thumbnails/talk_show.png", "11 B"} {
		if !strings.Contains(out, want) {
			t.Errorf("ls output missing %q:\n%s", want, out)
		}
	}

	out, err = env.run(t, "y\n", "rm", "talk show")
	if err != nil {
		t.Fatalf("rm failed: %v", err)
	}
	if !strings.Contains(out, `Removed: "talk show"`) {
		t.Errorf("unexpected rm output: %q", out)
	}
	if _, err := os.Stat(filepath.Join(env.dir, "library", "videos", "talk_show.mp4")); !os.IsNotExist(err) {
		t.Error("video file should be deleted")
	}

	out, err = env.run(t, "", "ls")
	if err != nil {
		t.Fatalf("ls failed: %v", err)
	}
	if strings.Contains(out, "talk show") {
		t.Errorf("removed entry still listed:\n%s", out)
	}
}

func TestCLI_AddMoveWithTitle(t *testing.T) {
	env := newCLIEnv(t)
	src := env.source(t, "raw.mkv", "raw")

	out, err := env.run(t, "", "add", src, "--move", "--title", "Episode 1", "--thumb-at", "5s")
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if !strings.Contains(out, `"Episode 1"`) {
		t.Errorf("unexpected output: %q", out)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Error("move mode must consume the source")
	}
}

func TestCLI_AddFailures(t *testing.T) {
	env := newCLIEnv(t)

	_, err := env.run(t, "", "add", env.source(t, "notes.txt", "text"))
	if code := exitCode(err); code != 1 {
		t.Errorf("unsupported file: exit code %d, want 1 (%v)", code, err)
	}

	env.ffmpeg.err = errors.New("exit status 1")
	src := env.source(t, "broken.mp4", "not really a video")
	_, err = env.run(t, "", "add", src)
	if code := exitCode(err); code != 2 {
		t.Errorf("thumbnail failure: exit code %d, want 2 (%v)", code, err)
	}
	if _, err := os.Stat(src); err != nil {
		t.Error("source must survive a failed add")
	}
	entries, _ := os.ReadDir(filepath.Join(env.dir, "library", "videos"))
	if len(entries) != 0 {
		t.Errorf("failed add left files behind: %v", entries)
	}

	env.ffmpeg.err = nil
	if _, err := env.run(t, "", "add", src); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	_, err = env.run(t, "", "add", src)
	if code := exitCode(err); code != 1 {
		t.Errorf("duplicate add: exit code %d, want 1 (%v)", code, err)
	}
	if _, err := env.run(t, "", "add", src, "--force"); err != nil {
		t.Errorf("forced add failed: %v", err)
	}
}

func TestCLI_RmCancelledAndAmbiguous(t *testing.T) {
	env := newCLIEnv(t)
	for _, name := range []string{"a.mp4", "b.mp4"} {
		if _, err := env.run(t, "", "add", env.source(t, name, name), "--title", "Same"); err != nil {
			t.Fatal(err)
		}
	}

	out, err := env.run(t, "", "rm", "Same", "--yes")
	if code := exitCode(err); code != 1 {
		t.Errorf("ambiguous rm: exit code %d, want 1 (%v)", code, err)
	}
	if !strings.Contains(out, "videos/a.mp4") || !strings.Contains(out, "videos/b.mp4") {
		t.Errorf("expected matches to be listed:\n%s", out)
	}

	out, err = env.run(t, "n\n", "rm", "1")
	if err != nil {
		t.Fatalf("cancelled rm failed: %v", err)
	}
	if !strings.Contains(out, "Cancelled.") {
		t.Errorf("unexpected output: %q", out)
	}

	_, err = env.run(t, "", "rm", "42", "--yes")
	if code := exitCode(err); code != 1 {
		t.Errorf("unknown id: exit code %d, want 1 (%v)", code, err)
	}

	if _, err := env.run(t, "", "rm", "2", "--yes", "--keep-files"); err != nil {
		t.Fatalf("rm --keep-files failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(env.dir, "library", "videos", "b.mp4")); err != nil {
		t.Error("--keep-files must keep the video")
	}
}

func TestCLI_Live(t *testing.T) {
	env := newCLIEnv(t)
	if _, err := env.run(t, "", "add", env.source(t, "talk.mp4", "talk")); err != nil {
		t.Fatal(err)
	}
	publish := []string{"live", "--bucket", "radio", "--public-base-url", "https://cdn.example.com/"}

	out, err := env.run(t, "", append(publish, "--dry-run")...)
	if err != nil {
		t.Fatalf("dry-run failed: %v", err)
	}
	if !strings.Contains(out, "Dry run: would upload 3") {
		t.Errorf("unexpected dry-run output:\n%s", out)
	}
	if len(env.remote.objects) != 0 {
		t.Error("dry-run must not upload")
	}

	out, err = env.run(t, "", publish...)
	if err != nil {
		t.Fatalf("live failed: %v", err)
	}
	if !strings.Contains(out, "Uploaded 3") || !strings.Contains(out, "Catalog: ") {
		t.Errorf("unexpected live output:\n%s", out)
	}
	for _, key := range []string{"videos/talk.mp4", "thumbnails/talk.png", "catalog.json"} {
		if _, ok := env.remote.objects[key]; !ok {
			t.Errorf("expected %s to be uploaded", key)
		}
	}

	out, err = env.run(t, "", publish...)
	if err != nil {
		t.Fatalf("second live failed: %v", err)
	}
	if !strings.Contains(out, "Uploaded 0 (0 B), skipped 3") {
		t.Errorf("second run should skip everything:\n%s", out)
	}
}

func TestCLI_LiveConfiguration(t *testing.T) {
	env := newCLIEnv(t)

	_, err := env.run(t, "", "live")
	if code := exitCode(err); code != 1 {
		t.Errorf("missing bucket: exit code %d, want 1 (%v)", code, err)
	}

	called := false
	newRemote = func(*config.Config, *slog.Logger) (remoteStore, error) {
		called = true
		return env.remote, nil
	}
	out, err := env.run(t, "", "live", "--no-sync", "--public-base-url", "https://cdn.example.com")
	if err != nil {
		t.Fatalf("live --no-sync failed: %v", err)
	}
	if called {
		t.Error("--no-sync must not contact the remote")
	}
	if !strings.Contains(out, "(0 entries)") {
		t.Errorf("unexpected output: %q", out)
	}
	body, err := os.ReadFile(filepath.Join(env.dir, "library", "catalog.json"))
	if err != nil || string(body) != "[]\n" {
		t.Errorf("expected empty local catalog, got %q (%v)", body, err)
	}
}

func TestCLI_ThumbnailAndPlay(t *testing.T) {
	env := newCLIEnv(t)
	if _, err := env.run(t, "", "add", env.source(t, "talk.mp4", "talk")); err != nil {
		t.Fatal(err)
	}

	out, err := env.run(t, "", "thumbnail", "talk", "--view")
	if err != nil {
		t.Fatalf("thumbnail failed: %v", err)
	}
	if !strings.Contains(out, "Resolution: 4x3") || !strings.Contains(out, "Format:     png") {
		t.Errorf("unexpected thumbnail output:\n%s", out)
	}

	out, err = env.run(t, "", "play", "1")
	if err != nil {
		t.Fatalf("play failed: %v", err)
	}
	if !strings.Contains(out, `Playing: "talk"`) {
		t.Errorf("unexpected play output: %q", out)
	}

	if _, err := env.run(t, "", "open"); err != nil {
		t.Fatalf("open failed: %v", err)
	}

	want := []string{
		filepath.Join(env.dir, "library", "thumbnails", "talk.png"),
		filepath.Join(env.dir, "library", "videos", "talk.mp4"),
		filepath.Join(env.dir, "library"),
	}
	if strings.Join(env.launchs, "\n") != strings.Join(want, "\n") {
		t.Errorf("launched %v, want %v", env.launchs, want)
	}
}

func TestCLI_Doctor(t *testing.T) {
	env := newCLIEnv(t)
	if _, err := env.run(t, "", "add", env.source(t, "talk.mp4", "talk")); err != nil {
		t.Fatal(err)
	}

	out, err := env.run(t, "", "doctor", "--no-aws")
	if err != nil {
		t.Fatalf("doctor failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "0 failed") {
		t.Errorf("unexpected doctor output:\n%s", out)
	}

	if err := os.Remove(filepath.Join(env.dir, "library", "thumbnails", "talk.png")); err != nil {
		t.Fatal(err)
	}
	out, err = env.run(t, "", "doctor", "--no-aws")
	if code := exitCode(err); code != 1 {
		t.Errorf("doctor with missing file: exit code %d, want 1", code)
	}
	if !strings.Contains(out, "missing file for ID 1") {
		t.Errorf("expected missing file report:\n%s", out)
	}
}

func TestCLI_DBRequiresSQLite(t *testing.T) {
	env := newCLIEnv(t)
	testutil.WriteFile(t, env.config, `index:
  driver: postgres
  dsn: "postgres://crsm@localhost/crsm"
`)

	_, err := env.run(t, "", "db")
	if code := exitCode(err); code != 1 || err == nil || !strings.Contains(err.Error(), "sqlite") {
		t.Errorf("expected sqlite-only error with exit 1, got %d (%v)", code, err)
	}
}
