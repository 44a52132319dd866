package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/schaermu/crsm/internal/fingerprint"
	"github.com/schaermu/crsm/internal/index"
	"github.com/schaermu/crsm/internal/library"
	"github.com/schaermu/crsm/internal/thumbnail"
)

// Options tunes the coordinator
type Options struct {
	ThumbnailFormat  string
	ThumbnailTimeout time.Duration
}

// Coordinator keeps the repository files and the index consistent across
// ingest and removal.
type Coordinator struct {
	lib       *library.Library
	store     *index.Store
	extractor thumbnail.Extractor
	logger    *slog.Logger
	opts      Options
	newOpID   func() string

	// beforeCommit runs after the files are placed; tests use it to inject
	// late failures
	beforeCommit func() error
}

// New creates a coordinator over an open index
func New(lib *library.Library, store *index.Store, extractor thumbnail.Extractor, logger *slog.Logger, opts Options) *Coordinator {
	if opts.ThumbnailFormat == "" {
		opts.ThumbnailFormat = thumbnail.DefaultFormat
	}
	return &Coordinator{
		lib:       lib,
		store:     store,
		extractor: extractor,
		logger:    logger,
		opts:      opts,
		newOpID:   uuid.NewString,
	}
}

// IngestRequest describes one video to bring into the repository
type IngestRequest struct {
	Source  string
	Title   string
	Mode    library.Mode
	Force   bool
	ThumbAt time.Duration
}

// IngestResult is the committed record of a successful ingest
type IngestResult struct {
	Asset    index.Asset
	Replaced bool
}

// RemoveResult describes what Remove deleted
type RemoveResult struct {
	Asset     index.Asset
	Removed   []string
	Missing   []string
	KeptFiles bool
}

// DefaultTitle derives a title from a video filename
func DefaultTitle(name string) string {
	stem := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	return strings.ReplaceAll(stem, "_", " ")
}

// Ingest places a video and its thumbnail into the repository and records
// them in the index. Either all of it happens or none of it does.
func (c *Coordinator) Ingest(ctx context.Context, req IngestRequest) (IngestResult, error) {
	src, err := c.validate(req)
	if err != nil {
		return IngestResult{}, err
	}

	mode := req.Mode
	if mode == "" {
		mode = library.ModeCopy
	}

	name := filepath.Base(src)
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	videoRel := library.VideoRel(name)
	thumbRel := library.ThumbnailRel(stem + "." + c.opts.ThumbnailFormat)

	title := req.Title
	if strings.TrimSpace(title) == "" {
		title = DefaultTitle(name)
	}

	existing, found, err := c.checkConflicts(ctx, videoRel, thumbRel, req.Force)
	if err != nil {
		return IngestResult{}, err
	}

	// files that must be parked aside when replacing
	displaced := []string{videoRel, thumbRel}
	if found && existing.ThumbnailPath != thumbRel {
		displaced = append(displaced, existing.ThumbnailPath)
	}

	if err := c.lib.Init(); err != nil {
		return IngestResult{}, &TransferError{Failure{Step: "prepare repository", Err: err}}
	}

	opID := c.newOpID()
	logger := c.logger.With("op", opID, "video", videoRel)
	logger.Info("ingesting", "source", src, "mode", mode, "force", req.Force)

	undo := &undoStack{logger: logger}
	abort := func(step string, err error) Failure {
		f := Failure{Step: step, Err: err}
		f.RolledBack, f.RollbackErr = undo.rollback()
		return f
	}

	// Stage the video next to its final name
	stagedVideo := c.lib.StagingPath(videoRel, opID)
	if err := library.Transfer(ctx, src, stagedVideo, mode); err != nil {
		return IngestResult{}, &TransferError{abort("transfer", err)}
	}
	if mode == library.ModeMove {
		undo.push("restore source "+src, func() error {
			return library.Move(context.Background(), stagedVideo, src)
		})
	} else {
		undo.push("delete staged video", func() error {
			return removeQuiet(stagedVideo)
		})
	}

	// Extract the thumbnail from the staged copy
	stagedThumb := c.lib.StagingPath(thumbRel, opID)
	undo.push("delete staged thumbnail", func() error {
		return removeQuiet(stagedThumb)
	})
	if err := c.extract(ctx, stagedVideo, stagedThumb, req.ThumbAt); err != nil {
		return IngestResult{}, &ThumbnailError{abort("thumbnail extraction", err)}
	}

	videoFP, err := fingerprint.Compute(stagedVideo)
	if err != nil {
		return IngestResult{}, &TransferError{abort("fingerprint video", err)}
	}
	thumbFP, err := fingerprint.Compute(stagedThumb)
	if err != nil {
		return IngestResult{}, &TransferError{abort("fingerprint thumbnail", err)}
	}

	if err := ctx.Err(); err != nil {
		return IngestResult{}, &TransferError{abort("prepare commit", err)}
	}

	tx, err := c.store.Begin(ctx)
	if err != nil {
		return IngestResult{}, &IndexError{abort("begin transaction", err)}
	}
	undo.push("roll back index transaction", tx.Rollback)

	asset := index.Asset{
		Title:         title,
		VideoPath:     videoRel,
		ThumbnailPath: thumbRel,
		Video:         videoFP,
		Thumbnail:     thumbFP,
	}
	if found {
		asset.ID = existing.ID
		err = tx.Replace(ctx, &asset)
	} else {
		err = tx.Insert(ctx, &asset)
	}
	if err != nil {
		return IngestResult{}, &IndexError{abort("write record", err)}
	}

	var backups []string
	if req.Force {
		for _, rel := range displaced {
			if !c.lib.Exists(rel) {
				continue
			}
			abs := c.lib.Abs(rel)
			backup := c.lib.BackupPath(rel, opID)
			if err := library.Rename(abs, backup); err != nil {
				return IngestResult{}, &TransferError{abort("park "+rel, err)}
			}
			undo.push("restore "+rel, func() error {
				return library.Rename(backup, abs)
			})
			backups = append(backups, backup)
		}
	}

	for _, p := range []struct{ staged, rel string }{
		{stagedVideo, videoRel},
		{stagedThumb, thumbRel},
	} {
		staged, abs := p.staged, c.lib.Abs(p.rel)
		if err := library.Rename(staged, abs); err != nil {
			return IngestResult{}, &TransferError{abort("place "+p.rel, err)}
		}
		undo.push("unplace "+p.rel, func() error {
			return library.Rename(abs, staged)
		})
	}

	if c.beforeCommit != nil {
		if err := c.beforeCommit(); err != nil {
			return IngestResult{}, &IndexError{abort("commit", err)}
		}
	}
	if err := ctx.Err(); err != nil {
		return IngestResult{}, &IndexError{abort("commit", err)}
	}
	if err := tx.Commit(); err != nil {
		return IngestResult{}, &IndexError{abort("commit", err)}
	}
	undo.discard()

	for _, b := range backups {
		if err := removeQuiet(b); err != nil {
			logger.Warn("failed to delete replaced file", "path", b, "error", err)
		}
	}

	logger.Info("ingest committed", "id", asset.ID, "title", asset.Title, "replaced", found)
	return IngestResult{Asset: asset, Replaced: found}, nil
}

func (c *Coordinator) validate(req IngestRequest) (string, error) {
	if req.Source == "" {
		return "", &ValidationError{Source: req.Source, Err: errors.New("no source given")}
	}
	src, err := filepath.Abs(req.Source)
	if err != nil {
		return "", &ValidationError{Source: req.Source, Err: err}
	}

	switch req.Mode {
	case "", library.ModeCopy, library.ModeMove:
	default:
		return "", &ValidationError{Source: src, Err: fmt.Errorf("unknown transfer mode %q", req.Mode)}
	}

	info, err := os.Stat(src)
	if err != nil {
		return "", &ValidationError{Source: src, Err: err}
	}
	if !info.Mode().IsRegular() {
		return "", &ValidationError{Source: src, Err: errors.New("not a regular file")}
	}
	if !library.IsSupported(src) {
		return "", &ValidationError{
			Source: src,
			Err:    fmt.Errorf("unsupported extension %q (supported: %s)", filepath.Ext(src), strings.Join(library.SupportedExtensions, " ")),
		}
	}
	if filepath.Dir(src) == c.lib.VideosPath() {
		return "", &ValidationError{Source: src, Err: errors.New("source is already inside the repository")}
	}
	return src, nil
}

// checkConflicts looks for records or files occupying the destinations. A
// thumbnail owned by a different record is a conflict even when forcing.
func (c *Coordinator) checkConflicts(ctx context.Context, videoRel, thumbRel string, force bool) (index.Asset, bool, error) {
	existing, err := c.store.FindByVideoPath(ctx, videoRel)
	found := err == nil
	if err != nil && !errors.Is(err, index.ErrNotFound) {
		return index.Asset{}, false, &IndexError{Failure{Step: "lookup", Err: err}}
	}

	owner, err := c.store.FindByThumbnailPath(ctx, thumbRel)
	switch {
	case err == nil:
		if !found || owner.ID != existing.ID {
			return index.Asset{}, false, &ConflictError{Path: thumbRel, ExistingID: owner.ID}
		}
	case !errors.Is(err, index.ErrNotFound):
		return index.Asset{}, false, &IndexError{Failure{Step: "lookup", Err: err}}
	}

	if force {
		return existing, found, nil
	}
	if found {
		return index.Asset{}, false, &ConflictError{Path: videoRel, ExistingID: existing.ID}
	}
	for _, rel := range []string{videoRel, thumbRel} {
		if c.lib.Exists(rel) {
			return index.Asset{}, false, &ConflictError{Path: rel}
		}
	}
	return existing, found, nil
}

func (c *Coordinator) extract(ctx context.Context, video, out string, at time.Duration) error {
	if c.opts.ThumbnailTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.ThumbnailTimeout)
		defer cancel()
	}
	return c.extractor.Extract(ctx, video, out, at)
}

// Remove deletes a record and, unless keepFiles is set, its files. The index
// deletion is final even when some files cannot be removed; that case is
// reported with a FilesNotRemovedWarning next to a valid result.
func (c *Coordinator) Remove(ctx context.Context, identifier string, keepFiles bool) (RemoveResult, error) {
	asset, err := c.Resolve(ctx, identifier)
	if err != nil {
		return RemoveResult{}, err
	}

	logger := c.logger.With("id", asset.ID, "video", asset.VideoPath)

	err = c.store.Update(ctx, func(tx *index.Tx) error {
		return tx.Delete(ctx, asset.ID)
	})
	if errors.Is(err, index.ErrNotFound) {
		return RemoveResult{}, &NotFoundError{Identifier: identifier}
	}
	if err != nil {
		return RemoveResult{}, &IndexError{Failure{Step: "delete record", Err: err}}
	}
	logger.Info("record removed")

	result := RemoveResult{Asset: asset, KeptFiles: keepFiles}
	if keepFiles {
		return result, nil
	}

	var (
		failed []string
		errs   []error
	)
	for _, rel := range []string{asset.VideoPath, asset.ThumbnailPath} {
		removed, err := library.RemoveFile(c.lib.Abs(rel))
		switch {
		case err != nil:
			logger.Error("failed to delete file", "path", rel, "error", err)
			failed = append(failed, rel)
			errs = append(errs, err)
		case !removed:
			logger.Warn("file already missing", "path", rel)
			result.Missing = append(result.Missing, rel)
		default:
			result.Removed = append(result.Removed, rel)
		}
	}

	if len(failed) > 0 {
		return result, &FilesNotRemovedWarning{Asset: asset, Paths: failed, Err: errors.Join(errs...)}
	}
	return result, nil
}

// Resolve maps an identifier to exactly one record. An all-digit identifier
// is a record key; anything else must match one title exactly.
func (c *Coordinator) Resolve(ctx context.Context, identifier string) (index.Asset, error) {
	if identifier == "" {
		return index.Asset{}, &ValidationError{Source: identifier, Err: errors.New("empty identifier")}
	}

	if isDigits(identifier) {
		id, err := strconv.ParseInt(identifier, 10, 64)
		if err != nil {
			return index.Asset{}, &NotFoundError{Identifier: identifier}
		}
		asset, err := c.store.Get(ctx, id)
		if errors.Is(err, index.ErrNotFound) {
			return index.Asset{}, &NotFoundError{Identifier: identifier}
		}
		if err != nil {
			return index.Asset{}, &IndexError{Failure{Step: "lookup", Err: err}}
		}
		return asset, nil
	}

	matches, err := c.store.FindByTitle(ctx, identifier)
	if err != nil {
		return index.Asset{}, &IndexError{Failure{Step: "lookup", Err: err}}
	}
	switch len(matches) {
	case 0:
		return index.Asset{}, &NotFoundError{Identifier: identifier}
	case 1:
		return matches[0], nil
	default:
		return index.Asset{}, &AmbiguousTargetError{Title: identifier, Matches: matches}
	}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func removeQuiet(path string) error {
	_, err := library.RemoveFile(path)
	return err
}
