package index

import (
	"context"
	"time"

	"github.com/schaermu/crsm/internal/fingerprint"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS videos (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  title TEXT NOT NULL,
  video_path TEXT NOT NULL UNIQUE,
  thumbnail_path TEXT NOT NULL,
  video_size INTEGER NOT NULL,
  video_mtime INTEGER NOT NULL,
  video_sha256 TEXT NOT NULL,
  thumbnail_size INTEGER NOT NULL,
  thumbnail_mtime INTEGER NOT NULL,
  thumbnail_sha256 TEXT NOT NULL,
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_videos_title ON videos(title);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS videos (
  id BIGSERIAL PRIMARY KEY,
  title TEXT NOT NULL,
  video_path TEXT NOT NULL UNIQUE,
  thumbnail_path TEXT NOT NULL,
  video_size BIGINT NOT NULL,
  video_mtime BIGINT NOT NULL,
  video_sha256 TEXT NOT NULL,
  thumbnail_size BIGINT NOT NULL,
  thumbnail_mtime BIGINT NOT NULL,
  thumbnail_sha256 TEXT NOT NULL,
  created_at BIGINT NOT NULL,
  updated_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_videos_title ON videos(title);
`

const columns = `id, title, video_path, thumbnail_path,
	video_size, video_mtime, video_sha256,
	thumbnail_size, thumbnail_mtime, thumbnail_sha256,
	created_at, updated_at`

func (s *Store) migrate(ctx context.Context) error {
	schema := sqliteSchema
	if s.driver == DriverPostgres {
		schema = postgresSchema
	}
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// row is the storage shape of an Asset. Times are unix nanoseconds so both
// drivers round-trip them exactly.
type row struct {
	ID              int64  `db:"id"`
	Title           string `db:"title"`
	VideoPath       string `db:"video_path"`
	ThumbnailPath   string `db:"thumbnail_path"`
	VideoSize       int64  `db:"video_size"`
	VideoMTime      int64  `db:"video_mtime"`
	VideoSHA256     string `db:"video_sha256"`
	ThumbnailSize   int64  `db:"thumbnail_size"`
	ThumbnailMTime  int64  `db:"thumbnail_mtime"`
	ThumbnailSHA256 string `db:"thumbnail_sha256"`
	CreatedAt       int64  `db:"created_at"`
	UpdatedAt       int64  `db:"updated_at"`
}

func (r row) toAsset() Asset {
	return Asset{
		ID:            r.ID,
		Title:         r.Title,
		VideoPath:     r.VideoPath,
		ThumbnailPath: r.ThumbnailPath,
		Video: fingerprint.Fingerprint{
			Size:    r.VideoSize,
			ModTime: fromNanos(r.VideoMTime),
			SHA256:  r.VideoSHA256,
		},
		Thumbnail: fingerprint.Fingerprint{
			Size:    r.ThumbnailSize,
			ModTime: fromNanos(r.ThumbnailMTime),
			SHA256:  r.ThumbnailSHA256,
		},
		CreatedAt: fromNanos(r.CreatedAt),
		UpdatedAt: fromNanos(r.UpdatedAt),
	}
}

func fromAsset(a Asset) row {
	return row{
		ID:              a.ID,
		Title:           a.Title,
		VideoPath:       a.VideoPath,
		ThumbnailPath:   a.ThumbnailPath,
		VideoSize:       a.Video.Size,
		VideoMTime:      toNanos(a.Video.ModTime),
		VideoSHA256:     a.Video.SHA256,
		ThumbnailSize:   a.Thumbnail.Size,
		ThumbnailMTime:  toNanos(a.Thumbnail.ModTime),
		ThumbnailSHA256: a.Thumbnail.SHA256,
		CreatedAt:       toNanos(a.CreatedAt),
		UpdatedAt:       toNanos(a.UpdatedAt),
	}
}

func toAssets(rows []row) []Asset {
	assets := make([]Asset, 0, len(rows))
	for _, r := range rows {
		assets = append(assets, r.toAsset())
	}
	return assets
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
