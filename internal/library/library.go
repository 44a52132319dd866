package library

import (
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

const (
	// VideosDir is the repository subdirectory holding video files
	VideosDir = "videos"
	// ThumbnailsDir is the repository subdirectory holding thumbnails
	ThumbnailsDir = "thumbnails"
	// CatalogFile is the catalog location relative to the repository root
	CatalogFile = "catalog.json"

	stagingPrefix = ".crsm-"
)

// SupportedExtensions are the video extensions accepted for ingest
var SupportedExtensions = []string{
	".mp4",
	".m4v",
	".mov",
	".mkv",
	".webm",
}

// IsSupported returns true if the file has a whitelisted video extension
func IsSupported(p string) bool {
	ext := strings.ToLower(filepath.Ext(p))
	for _, valid := range SupportedExtensions {
		if ext == valid {
			return true
		}
	}
	return false
}

// Library is the on-disk repository layout rooted at an absolute path
type Library struct {
	root string
}

// New creates a Library rooted at root
func New(root string) *Library {
	return &Library{root: filepath.Clean(root)}
}

// Root returns the repository root
func (l *Library) Root() string {
	return l.root
}

// Init creates the videos and thumbnails directories
func (l *Library) Init() error {
	for _, dir := range []string{l.VideosPath(), l.ThumbnailsPath()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

// VideosPath returns the absolute videos directory
func (l *Library) VideosPath() string {
	return filepath.Join(l.root, VideosDir)
}

// ThumbnailsPath returns the absolute thumbnails directory
func (l *Library) ThumbnailsPath() string {
	return filepath.Join(l.root, ThumbnailsDir)
}

// CatalogPath returns the absolute catalog file location
func (l *Library) CatalogPath() string {
	return filepath.Join(l.root, CatalogFile)
}

// Abs converts a repository-relative, slash separated path to an absolute one
func (l *Library) Abs(rel string) string {
	return filepath.Join(l.root, filepath.FromSlash(rel))
}

// VideoRel returns the repository-relative path for a video filename
func VideoRel(name string) string {
	return path.Join(VideosDir, name)
}

// ThumbnailRel returns the repository-relative path for a thumbnail filename
func ThumbnailRel(name string) string {
	return path.Join(ThumbnailsDir, name)
}

// StagingPath returns a hidden sibling of rel used while an operation is in
// flight. It lives in the same directory so the final placement is a rename.
func (l *Library) StagingPath(rel, opID string) string {
	abs := l.Abs(rel)
	return filepath.Join(filepath.Dir(abs), stagingPrefix+opID+"-"+filepath.Base(abs))
}

// BackupPath returns the hidden name an existing file is parked under while a
// forced replace is being committed.
func (l *Library) BackupPath(rel, opID string) string {
	abs := l.Abs(rel)
	return filepath.Join(filepath.Dir(abs), stagingPrefix+opID+"-old-"+filepath.Base(abs))
}

// IsStaging reports whether name is a leftover staging or backup file
func IsStaging(name string) bool {
	return strings.HasPrefix(name, stagingPrefix)
}

// ListFiles returns the repository-relative paths of all regular files in the
// given subdirectory, sorted. Hidden files are skipped. A missing directory
// yields no files.
func (l *Library) ListFiles(sub string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(l.root, sub))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var files []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") || !e.Type().IsRegular() {
			continue
		}
		files = append(files, path.Join(sub, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// ListStaging returns absolute paths of staging leftovers from interrupted
// operations in both asset directories.
func (l *Library) ListStaging() ([]string, error) {
	var files []string
	for _, dir := range []string{l.VideosPath(), l.ThumbnailsPath()} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		for _, e := range entries {
			if IsStaging(e.Name()) {
				files = append(files, filepath.Join(dir, e.Name()))
			}
		}
	}
	sort.Strings(files)
	return files, nil
}

// Exists reports whether a repository-relative path exists
func (l *Library) Exists(rel string) bool {
	_, err := os.Lstat(l.Abs(rel))
	return err == nil
}
