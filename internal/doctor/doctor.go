package doctor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/schaermu/crsm/internal/config"
	"github.com/schaermu/crsm/internal/index"
	"github.com/schaermu/crsm/internal/library"
)

// Status is the outcome of a single check
type Status string

const (
	StatusOK   Status = "ok"
	StatusFail Status = "fail"
	StatusSkip Status = "skip"
)

// Result is one check outcome within a phase
type Result struct {
	Phase   string
	Status  Status
	Message string
}

// Report collects the results of a doctor run in phase order
type Report struct {
	Results []Result
}

func (r *Report) add(phase string, s Status, format string, args ...any) {
	r.Results = append(r.Results, Result{Phase: phase, Status: s, Message: fmt.Sprintf(format, args...)})
}

// Count returns the number of results with status s
func (r *Report) Count(s Status) int {
	n := 0
	for _, res := range r.Results {
		if res.Status == s {
			n++
		}
	}
	return n
}

// Failed reports whether any check failed
func (r *Report) Failed() bool {
	return r.Count(StatusFail) > 0
}

// Tool reports whether an external program is usable
type Tool interface {
	Available(ctx context.Context) error
}

// Pinger reports whether the remote bucket is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Checker runs read-only health checks against a configured installation
type Checker struct {
	cfg    *config.Config
	lib    *library.Library
	ffmpeg Tool
	remote Pinger
	logger *slog.Logger
}

// New creates a checker. remote may be nil to skip the remote phase.
func New(cfg *config.Config, lib *library.Library, ffmpeg Tool, remote Pinger, logger *slog.Logger) *Checker {
	return &Checker{
		cfg:    cfg,
		lib:    lib,
		ffmpeg: ffmpeg,
		remote: remote,
		logger: logger,
	}
}

// Run executes every phase. Later phases that depend on a failed earlier
// one are skipped.
func (c *Checker) Run(ctx context.Context) *Report {
	r := &Report{}

	c.checkConfig(r)
	libOK := c.checkFilesystem(r)
	c.checkTools(ctx, r)

	store := c.checkIndex(ctx, r)
	if store != nil {
		defer func() { _ = store.Close() }()
		if libOK {
			c.checkConsistency(ctx, r, store)
		} else {
			r.add("consistency", StatusSkip, "library unavailable")
		}
	} else {
		r.add("consistency", StatusSkip, "index unavailable")
	}

	c.checkRemote(ctx, r)

	c.logger.Debug("doctor finished", "ok", r.Count(StatusOK), "failed", r.Count(StatusFail))
	return r
}

func (c *Checker) checkConfig(r *Report) {
	const phase = "config"
	r.add(phase, StatusOK, "configuration loaded")

	if c.remote == nil {
		return
	}
	if c.cfg.S3.Bucket != "" {
		r.add(phase, StatusOK, "s3 bucket configured: %s", c.cfg.S3.Bucket)
	} else {
		r.add(phase, StatusFail, "s3 bucket not configured")
	}
	if c.cfg.S3.PublicBaseURL != "" {
		r.add(phase, StatusOK, "public base url configured")
	} else {
		r.add(phase, StatusFail, "public base url not configured")
	}
}

func (c *Checker) checkFilesystem(r *Report) bool {
	const phase = "filesystem"

	if !isDir(c.lib.Root()) {
		r.add(phase, StatusFail, "library path does not exist: %s", c.lib.Root())
		return false
	}
	r.add(phase, StatusOK, "library path exists: %s", c.lib.Root())

	ok := true
	for _, dir := range []struct{ name, path string }{
		{"videos", c.lib.VideosPath()},
		{"thumbnails", c.lib.ThumbnailsPath()},
	} {
		switch {
		case !isDir(dir.path):
			r.add(phase, StatusFail, "%s directory does not exist: %s", dir.name, dir.path)
			ok = false
		case !writable(dir.path):
			r.add(phase, StatusFail, "%s directory not writable: %s", dir.name, dir.path)
			ok = false
		default:
			r.add(phase, StatusOK, "%s directory writable", dir.name)
		}
	}

	if c.cfg.Index.Driver == index.DriverSQLite {
		dsn := c.cfg.Index.DSN
		switch {
		case fileExists(dsn):
			r.add(phase, StatusOK, "index file exists: %s", dsn)
		case writable(filepath.Dir(dsn)):
			r.add(phase, StatusOK, "index directory writable: %s", filepath.Dir(dsn))
		default:
			r.add(phase, StatusFail, "index directory not writable: %s", filepath.Dir(dsn))
		}
	}

	return ok
}

func (c *Checker) checkTools(ctx context.Context, r *Report) {
	if err := c.ffmpeg.Available(ctx); err != nil {
		r.add("tools", StatusFail, "ffmpeg unavailable: %v", err)
		return
	}
	r.add("tools", StatusOK, "ffmpeg available")
}

func (c *Checker) checkIndex(ctx context.Context, r *Report) *index.Store {
	const phase = "index"

	if c.cfg.Index.Driver == index.DriverSQLite && !fileExists(c.cfg.Index.DSN) {
		r.add(phase, StatusSkip, "index not created yet")
		return nil
	}

	store, err := index.Open(ctx, c.cfg.Index.Driver, c.cfg.Index.DSN)
	if err != nil {
		r.add(phase, StatusFail, "index error: %v", err)
		return nil
	}
	r.add(phase, StatusOK, "index opens (%s)", store.Driver())

	if err := store.CheckSchema(ctx); err != nil {
		r.add(phase, StatusFail, "%v", err)
		_ = store.Close()
		return nil
	}
	r.add(phase, StatusOK, "videos table present")
	return store
}

func (c *Checker) checkConsistency(ctx context.Context, r *Report, store *index.Store) {
	const phase = "consistency"

	assets, err := store.All(ctx)
	if err != nil {
		r.add(phase, StatusFail, "failed to read records: %v", err)
		return
	}

	tracked := make(map[string]bool, 2*len(assets))
	problems := 0
	for _, a := range assets {
		for _, rel := range []string{a.VideoPath, a.ThumbnailPath} {
			tracked[rel] = true
			if !c.lib.Exists(rel) {
				r.add(phase, StatusFail, "missing file for ID %d: %s", a.ID, rel)
				problems++
			}
		}
	}

	for _, sub := range []string{library.VideosDir, library.ThumbnailsDir} {
		files, err := c.lib.ListFiles(sub)
		if err != nil {
			r.add(phase, StatusFail, "failed to list %s: %v", sub, err)
			problems++
			continue
		}
		for _, rel := range files {
			if !tracked[rel] {
				r.add(phase, StatusFail, "orphaned file: %s", rel)
				problems++
			}
		}
	}

	staging, err := c.lib.ListStaging()
	if err != nil {
		r.add(phase, StatusFail, "failed to list staging files: %v", err)
		problems++
	}
	for _, p := range staging {
		r.add(phase, StatusFail, "leftover from interrupted operation: %s", p)
		problems++
	}

	if problems == 0 {
		r.add(phase, StatusOK, "%d records consistent with repository", len(assets))
	}
}

func (c *Checker) checkRemote(ctx context.Context, r *Report) {
	if c.remote == nil {
		r.add("remote", StatusSkip, "remote checks disabled")
		return
	}
	if err := c.remote.Ping(ctx); err != nil {
		r.add("remote", StatusFail, "bucket unreachable: %v", err)
		return
	}
	r.add("remote", StatusOK, "bucket reachable")
}

func isDir(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}
