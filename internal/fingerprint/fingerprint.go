package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"time"
)

// Fingerprint is the change-detection signature of a managed file
type Fingerprint struct {
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
	SHA256  string    `json:"sha256"`
}

// IsZero reports whether no signature has been recorded
func (f Fingerprint) IsZero() bool {
	return f.Size == 0 && f.ModTime.IsZero() && f.SHA256 == ""
}

// Equal compares content identity. Modification time is not part of identity.
func (f Fingerprint) Equal(other Fingerprint) bool {
	return f.Size == other.Size && f.SHA256 != "" && f.SHA256 == other.SHA256
}

// SameStat reports whether info still matches the recorded size and mtime.
func (f Fingerprint) SameStat(info os.FileInfo) bool {
	return f.Size == info.Size() && f.ModTime.Equal(info.ModTime())
}

// Compute stats and hashes the file at path
func Compute(path string) (Fingerprint, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Fingerprint{}, err
	}
	if !info.Mode().IsRegular() {
		return Fingerprint{}, fmt.Errorf("%s is not a regular file", path)
	}

	sum, err := fileHash(path)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("failed to hash %s: %w", path, err)
	}

	return Fingerprint{
		Size:    info.Size(),
		ModTime: info.ModTime().UTC(),
		SHA256:  sum,
	}, nil
}

// FromBytes fingerprints an in-memory object. ModTime is left zero.
func FromBytes(b []byte) Fingerprint {
	sum := sha256.Sum256(b)
	return Fingerprint{
		Size:   int64(len(b)),
		SHA256: hex.EncodeToString(sum[:]),
	}
}

// Resolve returns the current fingerprint of path, reusing the stored hash
// when size and mtime are unchanged since it was recorded. The boolean is
// true when the file had to be rehashed.
func Resolve(path string, stored Fingerprint) (Fingerprint, bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Fingerprint{}, false, err
	}

	if stored.SHA256 != "" && stored.SameStat(info) {
		return stored, false, nil
	}

	fp, err := Compute(path)
	if err != nil {
		return Fingerprint{}, false, err
	}
	return fp, true, nil
}

// fileHash computes the SHA256 hash of a file
func fileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = f.Close()
	}()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
