package coordinator

import (
	"fmt"
	"strings"

	"github.com/schaermu/crsm/internal/index"
)

// ValidationError reports a source file that cannot be ingested
type ValidationError struct {
	Source string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid source %s: %v", e.Source, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// ConflictError reports a destination already occupied by a record or an
// untracked file. ExistingID is zero for untracked files.
type ConflictError struct {
	Path       string
	ExistingID int64
}

func (e *ConflictError) Error() string {
	if e.ExistingID != 0 {
		return fmt.Sprintf("%s already belongs to record %d (use --force to replace)", e.Path, e.ExistingID)
	}
	return fmt.Sprintf("%s already exists in the repository (use --force to replace)", e.Path)
}

// AmbiguousTargetError reports a title that matches more than one record
type AmbiguousTargetError struct {
	Title   string
	Matches []index.Asset
}

func (e *AmbiguousTargetError) Error() string {
	ids := make([]string, 0, len(e.Matches))
	for _, m := range e.Matches {
		ids = append(ids, fmt.Sprintf("%d", m.ID))
	}
	return fmt.Sprintf("title %q matches %d records (ids %s); use the id instead",
		e.Title, len(e.Matches), strings.Join(ids, ", "))
}

// NotFoundError reports an identifier that resolves to no record
type NotFoundError struct {
	Identifier string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no record matches %q", e.Identifier)
}

func (e *NotFoundError) Unwrap() error { return index.ErrNotFound }

// Failure carries the failing step of an operation and the outcome of its
// rollback.
type Failure struct {
	Step        string
	Err         error
	RolledBack  []string
	RollbackErr error
}

func (f *Failure) describe(kind string) string {
	msg := fmt.Sprintf("%s failed during %s: %v", kind, f.Step, f.Err)
	if f.RollbackErr != nil {
		msg += fmt.Sprintf("; rollback incomplete: %v", f.RollbackErr)
	}
	return msg
}

// TransferError reports a filesystem failure moving files into or within
// the repository
type TransferError struct{ Failure }

func (e *TransferError) Error() string { return e.describe("transfer") }
func (e *TransferError) Unwrap() error { return e.Err }

// ThumbnailError reports a failed thumbnail extraction
type ThumbnailError struct{ Failure }

func (e *ThumbnailError) Error() string { return e.describe("thumbnail extraction") }
func (e *ThumbnailError) Unwrap() error { return e.Err }

// IndexError reports a failed index read or write
type IndexError struct{ Failure }

func (e *IndexError) Error() string { return e.describe("index update") }
func (e *IndexError) Unwrap() error { return e.Err }

// FilesNotRemovedWarning is returned by Remove alongside a valid result when
// the record is gone but some of its files could not be deleted.
type FilesNotRemovedWarning struct {
	Asset index.Asset
	Paths []string
	Err   error
}

func (e *FilesNotRemovedWarning) Error() string {
	return fmt.Sprintf("record %d removed but files remain (%s): %v",
		e.Asset.ID, strings.Join(e.Paths, ", "), e.Err)
}

func (e *FilesNotRemovedWarning) Unwrap() error { return e.Err }
