package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/schaermu/crsm/internal/index"
	"github.com/schaermu/crsm/internal/library"
)

// ContentType of the encoded catalog
const ContentType = "application/json"

// Entry is one published asset
type Entry struct {
	Title        string `json:"title"`
	VideoURL     string `json:"video_url"`
	ThumbnailURL string `json:"thumbnail_url"`
}

// Build projects index records into catalog entries ordered by title, then
// by record key.
func Build(assets []index.Asset, publicBaseURL, prefix string) []Entry {
	sorted := make([]index.Asset, len(assets))
	copy(sorted, assets)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Title != sorted[j].Title {
			return sorted[i].Title < sorted[j].Title
		}
		return sorted[i].ID < sorted[j].ID
	})

	entries := make([]Entry, 0, len(sorted))
	for _, a := range sorted {
		entries = append(entries, Entry{
			Title:        a.Title,
			VideoURL:     URL(publicBaseURL, prefix, a.VideoPath),
			ThumbnailURL: URL(publicBaseURL, prefix, a.ThumbnailPath),
		})
	}
	return entries
}

// URL joins the public base URL, the optional prefix and a repository
// relative path with exactly one slash between non-empty parts. Prefix and
// path segments are percent-escaped; the base URL is taken as is.
func URL(publicBaseURL, prefix, rel string) string {
	return joinNonEmpty(
		strings.TrimRight(publicBaseURL, "/"),
		escapePath(strings.Trim(prefix, "/")),
		escapePath(strings.TrimLeft(rel, "/")),
	)
}

func escapePath(p string) string {
	if p == "" {
		return ""
	}
	segs := strings.Split(p, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}

// Key returns the object key of a repository relative path under prefix
func Key(prefix, rel string) string {
	return joinNonEmpty(strings.Trim(prefix, "/"), strings.TrimLeft(rel, "/"))
}

func joinNonEmpty(parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "/")
}

// Encode renders entries as an indented JSON array with a trailing newline.
// Identical input always yields identical bytes.
func Encode(entries []Entry) ([]byte, error) {
	if entries == nil {
		entries = []Entry{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(entries); err != nil {
		return nil, fmt.Errorf("failed to encode catalog: %w", err)
	}
	return buf.Bytes(), nil
}

// Compress gzips body without a name or timestamp in the header, so the
// output is as stable as the input.
func Compress(body []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, err
	}
	// the zero time.Time is not year 1970 and would not encode as MTIME 0
	zw.ModTime = time.Unix(0, 0)
	if _, err := zw.Write(body); err != nil {
		_ = zw.Close()
		return nil, fmt.Errorf("failed to compress catalog: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to compress catalog: %w", err)
	}
	return buf.Bytes(), nil
}

// Write atomically replaces the catalog file under the repository root
func Write(root string, body []byte) error {
	if err := library.WriteFileAtomic(root, library.CatalogFile, body); err != nil {
		return fmt.Errorf("failed to write catalog: %w", err)
	}
	return nil
}
