package library

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
)

// Mode selects how a source file is placed into the repository
type Mode string

const (
	ModeCopy Mode = "copy"
	ModeMove Mode = "move"
)

// renameFunc is swapped in tests to simulate EXDEV and permission failures.
var renameFunc = os.Rename

// CrossDeviceError marks a rename that failed because source and
// destination are on different filesystems.
type CrossDeviceError struct {
	Src string
	Dst string
	Err error
}

func (e *CrossDeviceError) Error() string {
	return fmt.Sprintf("cross-device rename %q -> %q: %v", e.Src, e.Dst, e.Err)
}

func (e *CrossDeviceError) Unwrap() error { return e.Err }

// IsCrossDevice reports whether err is a CrossDeviceError
func IsCrossDevice(err error) bool {
	var e *CrossDeviceError
	return errors.As(err, &e)
}

// Rename wraps os.Rename and classifies EXDEV failures
func Rename(src, dst string) error {
	if err := renameFunc(src, dst); err != nil {
		if isEXDEV(err) {
			return &CrossDeviceError{Src: src, Dst: dst, Err: err}
		}
		return err
	}
	return nil
}

// Transfer places src at dst using mode. dst must not exist.
func Transfer(ctx context.Context, src, dst string, mode Mode) error {
	switch mode {
	case ModeCopy:
		return Copy(ctx, src, dst)
	case ModeMove:
		return Move(ctx, src, dst)
	default:
		return fmt.Errorf("unknown transfer mode: %s", mode)
	}
}

// Move renames src to dst. Across filesystems it copies, syncs and only then
// removes the source, so the source is never lost before dst is durable.
func Move(ctx context.Context, src, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := Rename(src, dst)
	if err == nil {
		_ = syncDirBestEffort(filepath.Dir(dst))
		return nil
	}
	if !IsCrossDevice(err) {
		return err
	}

	if err := Copy(ctx, src, dst); err != nil {
		return err
	}
	if err := os.Remove(src); err != nil {
		// the move did not happen; drop the copy
		_ = os.Remove(dst)
		return fmt.Errorf("failed to remove source after copy: %w", err)
	}
	return nil
}

// Copy copies src to dst through a temp file in dst's directory, syncing
// before the final rename. The copy observes ctx cancellation.
func Copy(ctx context.Context, src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}

	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		_ = srcFile.Close()
	}()

	srcInfo, err := srcFile.Stat()
	if err != nil {
		return err
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(dst), ".crsm-tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}() // cleanup on error

	if _, err := io.Copy(tmpFile, &ctxReader{ctx: ctx, r: srcFile}); err != nil {
		_ = tmpFile.Close()
		return err
	}

	if err := tmpFile.Chmod(srcInfo.Mode().Perm()); err != nil {
		_ = tmpFile.Close()
		return err
	}

	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		return err
	}

	if err := tmpFile.Close(); err != nil {
		return err
	}

	if err := Rename(tmpPath, dst); err != nil {
		return err
	}

	_ = syncDirBestEffort(filepath.Dir(dst))
	return nil
}

// RemoveFile deletes path. It reports false without error when the file was
// already gone.
func RemoveFile(path string) (bool, error) {
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// WriteFileAtomic replaces dir/name with data via temp file and rename
func WriteFileAtomic(dir, name string, data []byte) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(0644); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := Rename(tmpName, filepath.Join(dir, name)); err != nil {
		return err
	}

	_ = syncDirBestEffort(dir)
	return nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

func syncDirBestEffort(dir string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
