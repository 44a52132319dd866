package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/schaermu/crsm/internal/catalog"
	"github.com/schaermu/crsm/internal/index"
	"github.com/schaermu/crsm/internal/library"
	"github.com/schaermu/crsm/internal/objectstore"
)

// DefaultConcurrency bounds parallel uploads when none is configured
const DefaultConcurrency = 4

// ErrCatalogWithheld marks a catalog upload skipped because an asset it
// references did not reach the remote.
var ErrCatalogWithheld = errors.New("catalog withheld: not every asset was published")

// Options controls a publish run
type Options struct {
	Prefix        string
	PublicBaseURL string
	Concurrency   int
	UploadTimeout time.Duration
	GzipCatalog   bool
	DryRun        bool
	// NoCatalog leaves the catalog out entirely
	NoCatalog bool
	// NoSync writes the local catalog and stops before contacting the remote
	NoSync bool
}

// Engine publishes the repository to the remote store
type Engine struct {
	lib    *library.Library
	store  *index.Store
	remote objectstore.Store
	logger *slog.Logger
	opts   Options
}

// NewEngine creates a new publish engine. remote may be nil when NoSync is
// set.
func NewEngine(lib *library.Library, store *index.Store, remote objectstore.Store, logger *slog.Logger, opts Options) *Engine {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	return &Engine{
		lib:    lib,
		store:  store,
		remote: remote,
		logger: logger,
		opts:   opts,
	}
}

// Run rebuilds the catalog, plans against the remote listing and either
// executes the plan or, on dry-run, reports it.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	e.logger.Info("starting publish",
		"prefix", e.opts.Prefix,
		"dry_run", e.opts.DryRun,
		"no_catalog", e.opts.NoCatalog,
		"no_sync", e.opts.NoSync)

	assets, err := e.store.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read index: %w", err)
	}

	var (
		catalogObj  *LocalObject
		catalogPath string
		entries     int
	)
	if !e.opts.NoCatalog {
		built := catalog.Build(assets, e.opts.PublicBaseURL, e.opts.Prefix)
		entries = len(built)
		body, err := catalog.Encode(built)
		if err != nil {
			return nil, err
		}

		if !e.opts.DryRun {
			if err := catalog.Write(e.lib.Root(), body); err != nil {
				return nil, err
			}
			catalogPath = e.lib.CatalogPath()
			e.logger.Info("catalog written", "path", catalogPath, "entries", entries)
		}

		published := body
		if e.opts.GzipCatalog {
			if published, err = catalog.Compress(body); err != nil {
				return nil, err
			}
		}
		obj := CatalogObject(e.opts.Prefix, published, e.opts.GzipCatalog)
		catalogObj = &obj
	}

	if e.opts.NoSync {
		e.logger.Info("sync disabled, skipping remote")
		return &Report{DryRun: e.opts.DryRun, CatalogPath: catalogPath, CatalogEntries: entries}, nil
	}
	if e.remote == nil {
		return nil, fmt.Errorf("no remote store configured")
	}

	plan, err := e.buildPlan(ctx, assets, catalogObj)
	if err != nil {
		return nil, err
	}

	e.logger.Info("publish plan",
		"upload", plan.Count(ActionUpload),
		"skip", plan.Count(ActionSkip),
		"unavailable", len(plan.Unavailable))

	var report *Report
	if e.opts.DryRun {
		report = e.ReportDryRun(plan)
		e.logger.Info("dry-run complete, nothing uploaded")
	} else {
		report = e.Execute(ctx, plan)
	}
	report.CatalogPath = catalogPath
	report.CatalogEntries = entries
	return report, nil
}

// buildPlan collects local state and lists the remote
func (e *Engine) buildPlan(ctx context.Context, assets []index.Asset, catalogObj *LocalObject) (*Plan, error) {
	local, unavailable := Collect(ctx, e.lib, assets, e.opts.Prefix, e.logger)
	if catalogObj != nil {
		local = append(local, *catalogObj)
	}

	remote, err := e.remote.List(ctx, listPrefix(e.opts.Prefix))
	if err != nil {
		return nil, fmt.Errorf("failed to list remote objects: %w", err)
	}
	e.logger.Debug("listed remote objects", "count", len(remote))

	plan := BuildPlan(local, remote)
	plan.Unavailable = unavailable
	return plan, nil
}

func listPrefix(prefix string) string {
	p := strings.Trim(prefix, "/")
	if p == "" {
		return ""
	}
	return p + "/"
}

// Execute uploads every directive marked for upload. Assets go first with
// bounded parallelism; a failed upload does not cancel its siblings. The
// catalog is uploaded only after all assets succeeded.
func (e *Engine) Execute(ctx context.Context, plan *Plan) *Report {
	results := make([]Result, len(plan.Directives))

	var g errgroup.Group
	g.SetLimit(e.opts.Concurrency)

	catalogIdx := -1
	for i, d := range plan.Directives {
		if d.Kind == KindCatalog {
			catalogIdx = i
			continue
		}
		if d.Action == ActionSkip {
			results[i] = Result{Directive: d, Status: StatusSkipped}
			continue
		}
		g.Go(func() error {
			results[i] = e.upload(ctx, d)
			return nil
		})
	}
	_ = g.Wait()

	if catalogIdx >= 0 {
		d := plan.Directives[catalogIdx]
		switch {
		case d.Action == ActionSkip:
			results[catalogIdx] = Result{Directive: d, Status: StatusSkipped}
		case len(plan.Unavailable) > 0 || anyFailed(results):
			e.logger.Warn("withholding catalog upload", "key", d.Key)
			results[catalogIdx] = Result{Directive: d, Status: StatusFailed, Err: ErrCatalogWithheld}
		default:
			results[catalogIdx] = e.upload(ctx, d)
		}
	}

	e.recordFingerprints(ctx, results)

	return newReport(false, plan, results)
}

// recordFingerprints writes the signatures of rehashed files that reached or
// already matched the remote back to the index, so later runs can reuse them
// without reading the files again. Failures are logged only.
func (e *Engine) recordFingerprints(ctx context.Context, results []Result) {
	refreshed := make(map[int64][]LocalObject)
	for _, r := range results {
		if !r.Local.Rehashed || r.Status == StatusFailed {
			continue
		}
		refreshed[r.Local.AssetID] = append(refreshed[r.Local.AssetID], r.Local)
	}
	if len(refreshed) == 0 {
		return
	}

	err := e.store.Update(ctx, func(tx *index.Tx) error {
		for id, objs := range refreshed {
			a, err := tx.Get(ctx, id)
			if errors.Is(err, index.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			for _, o := range objs {
				switch o.Kind {
				case KindVideo:
					a.Video = o.Fingerprint
				case KindThumbnail:
					a.Thumbnail = o.Fingerprint
				}
			}
			if err := tx.Replace(ctx, &a); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		e.logger.Warn("failed to record refreshed fingerprints", "error", err)
		return
	}
	e.logger.Debug("recorded refreshed fingerprints", "assets", len(refreshed))
}

func anyFailed(results []Result) bool {
	for _, r := range results {
		if r.Status == StatusFailed {
			return true
		}
	}
	return false
}

func (e *Engine) upload(ctx context.Context, d Directive) Result {
	if e.opts.UploadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.UploadTimeout)
		defer cancel()
	}

	err := e.put(ctx, d)
	if err != nil {
		e.logger.Error("upload failed", "key", d.Key, "error", err)
		return Result{Directive: d, Status: StatusFailed, Err: err}
	}
	e.logger.Info("uploaded", "key", d.Key, "reason", d.Reason, "size", d.Local.Fingerprint.Size)
	return Result{Directive: d, Status: StatusUploaded}
}

func (e *Engine) put(ctx context.Context, d Directive) error {
	r, size, err := d.Local.open()
	if err != nil {
		return err
	}
	defer r.Close()

	if size != d.Local.Fingerprint.Size {
		return fmt.Errorf("%s changed since planning (size %d, expected %d)", d.Key, size, d.Local.Fingerprint.Size)
	}

	return e.remote.Put(ctx, d.Key, r, size, objectstore.PutOptions{
		ContentType:     d.Local.ContentType,
		ContentEncoding: d.Local.ContentEncoding,
		Fingerprint:     d.Local.Fingerprint.SHA256,
	})
}

// ReportDryRun describes what Execute would do without touching the remote
func (e *Engine) ReportDryRun(plan *Plan) *Report {
	results := make([]Result, len(plan.Directives))
	for i, d := range plan.Directives {
		if d.Action == ActionUpload {
			e.logger.Info("[dry-run] would upload", "key", d.Key, "reason", d.Reason)
			results[i] = Result{Directive: d, Status: StatusWouldUpload}
			continue
		}
		e.logger.Debug("[dry-run] would skip", "key", d.Key)
		results[i] = Result{Directive: d, Status: StatusSkipped}
	}
	return newReport(true, plan, results)
}
