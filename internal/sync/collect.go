package sync

import (
	"context"
	"log/slog"
	"mime"
	"path"
	"strings"

	"github.com/schaermu/crsm/internal/catalog"
	"github.com/schaermu/crsm/internal/fingerprint"
	"github.com/schaermu/crsm/internal/index"
	"github.com/schaermu/crsm/internal/library"
)

var contentTypes = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/x-m4v",
	".mov":  "video/quicktime",
	".mkv":  "video/x-matroska",
	".webm": "video/webm",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".json": "application/json",
}

func contentType(key string) string {
	ext := strings.ToLower(path.Ext(key))
	if ct, ok := contentTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// Collect fingerprints the video and thumbnail of every record. Stored
// hashes are reused when size and modification time still match. A file that
// cannot be read is reported and left out; it never aborts collection.
func Collect(ctx context.Context, lib *library.Library, assets []index.Asset, prefix string, logger *slog.Logger) ([]LocalObject, []*PublishError) {
	var (
		objects []LocalObject
		failed  []*PublishError
	)
	seen := make(map[string]bool)

	for _, a := range assets {
		for _, f := range []struct {
			rel    string
			kind   Kind
			stored fingerprint.Fingerprint
		}{
			{a.VideoPath, KindVideo, a.Video},
			{a.ThumbnailPath, KindThumbnail, a.Thumbnail},
		} {
			key := catalog.Key(prefix, f.rel)
			if seen[key] {
				continue
			}
			seen[key] = true

			if err := ctx.Err(); err != nil {
				failed = append(failed, &PublishError{Key: key, Op: "collect", Err: err})
				continue
			}

			abs := lib.Abs(f.rel)
			fp, rehashed, err := fingerprint.Resolve(abs, f.stored)
			if err != nil {
				logger.Warn("local file unavailable", "path", f.rel, "id", a.ID, "error", err)
				failed = append(failed, &PublishError{Key: key, Op: "collect", Err: err})
				continue
			}
			if rehashed {
				logger.Warn("file changed since ingest, rehashed", "path", f.rel, "id", a.ID)
			}

			objects = append(objects, LocalObject{
				Key:         key,
				Kind:        f.kind,
				Path:        abs,
				Fingerprint: fp,
				ContentType: contentType(f.rel),
				AssetID:     a.ID,
				Rehashed:    rehashed,
			})
		}
	}

	return objects, failed
}

// CatalogObject wraps an encoded catalog body for publishing
func CatalogObject(prefix string, body []byte, gzipped bool) LocalObject {
	obj := LocalObject{
		Key:         catalog.Key(prefix, library.CatalogFile),
		Kind:        KindCatalog,
		Body:        body,
		Fingerprint: fingerprint.FromBytes(body),
		ContentType: catalog.ContentType,
	}
	if gzipped {
		obj.ContentEncoding = "gzip"
	}
	return obj
}
