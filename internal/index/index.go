package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/schaermu/crsm/internal/fingerprint"
)

// Supported index drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// ErrNotFound is returned when no record matches a lookup
var ErrNotFound = errors.New("asset not found")

// Asset is the index record of one managed video and its thumbnail
type Asset struct {
	ID            int64                   `json:"id"`
	Title         string                  `json:"title"`
	VideoPath     string                  `json:"video_path"`
	ThumbnailPath string                  `json:"thumbnail_path"`
	Video         fingerprint.Fingerprint `json:"video"`
	Thumbnail     fingerprint.Fingerprint `json:"thumbnail"`
	CreatedAt     time.Time               `json:"created_at"`
	UpdatedAt     time.Time               `json:"updated_at"`
}

// Store is a handle on the metadata index
type Store struct {
	db     *sqlx.DB
	driver string
}

// Open connects to the index and ensures the schema exists. For sqlite, dsn
// is a file path; its parent directory is created if needed.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	var connStr string
	switch driver {
	case DriverSQLite:
		if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
			return nil, fmt.Errorf("failed to create index directory: %w", err)
		}
		connStr = sqliteDSN(dsn)
	case DriverPostgres:
		connStr = dsn
	default:
		return nil, fmt.Errorf("unsupported index driver: %s", driver)
	}

	db, err := sqlx.Open(driver, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to index: %w", err)
	}

	s := &Store{db: db, driver: driver}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply index schema: %w", err)
	}
	return s, nil
}

// sqliteDSN appends connection pragmas understood by modernc.org/sqlite.
// Write transactions take the lock up front so concurrent invocations
// serialize instead of failing on lock upgrade.
func sqliteDSN(path string) string {
	return path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_txlock=immediate"
}

// Close releases the index handle
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying connection pool
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Driver returns the driver name the store was opened with
func (s *Store) Driver() string {
	return s.driver
}

// CheckSchema verifies that the assets table is present and readable
func (s *Store) CheckSchema(ctx context.Context) error {
	var n int
	if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM videos"); err != nil {
		return fmt.Errorf("videos table not readable: %w", err)
	}
	return nil
}

// Get returns the record with the given key
func (s *Store) Get(ctx context.Context, id int64) (Asset, error) {
	return getAsset(ctx, s.db, "id", id)
}

// FindByVideoPath returns the record owning a repository-relative video path
func (s *Store) FindByVideoPath(ctx context.Context, videoPath string) (Asset, error) {
	return getAsset(ctx, s.db, "video_path", videoPath)
}

// FindByThumbnailPath returns the record referencing a thumbnail path
func (s *Store) FindByThumbnailPath(ctx context.Context, thumbnailPath string) (Asset, error) {
	return getAsset(ctx, s.db, "thumbnail_path", thumbnailPath)
}

// FindByTitle returns all records with exactly this title, ordered by key
func (s *Store) FindByTitle(ctx context.Context, title string) ([]Asset, error) {
	var rows []row
	q := s.db.Rebind("SELECT " + columns + " FROM videos WHERE title = ? ORDER BY id")
	if err := s.db.SelectContext(ctx, &rows, q, title); err != nil {
		return nil, err
	}
	return toAssets(rows), nil
}

// All returns every record ordered by key
func (s *Store) All(ctx context.Context) ([]Asset, error) {
	var rows []row
	if err := s.db.SelectContext(ctx, &rows, "SELECT "+columns+" FROM videos ORDER BY id"); err != nil {
		return nil, err
	}
	return toAssets(rows), nil
}

// ListOptions filters and pages List results
type ListOptions struct {
	Limit  int
	Offset int
	Search string // title substring
	SortBy string // "id" or "title"
	Desc   bool
}

// List returns a page of records. A non-positive Limit returns all rows
// after Offset.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]Asset, error) {
	var (
		where []string
		args  []interface{}
	)
	if opts.Search != "" {
		where = append(where, `title LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(opts.Search)+"%")
	}

	var order string
	switch opts.SortBy {
	case "", "id":
		order = "id"
	case "title":
		order = "title"
	default:
		return nil, fmt.Errorf("invalid sort column: %s", opts.SortBy)
	}
	dir := "ASC"
	if opts.Desc {
		dir = "DESC"
	}

	q := "SELECT " + columns + " FROM videos"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += fmt.Sprintf(" ORDER BY %s %s, id %s", order, dir, dir)
	if opts.Limit > 0 {
		q += " LIMIT ? OFFSET ?"
		args = append(args, opts.Limit, opts.Offset)
	}

	var rows []row
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(q), args...); err != nil {
		return nil, err
	}

	assets := toAssets(rows)
	if opts.Limit <= 0 && opts.Offset > 0 {
		if opts.Offset >= len(assets) {
			return []Asset{}, nil
		}
		assets = assets[opts.Offset:]
	}
	return assets, nil
}

// Begin starts a write transaction
func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx}, nil
}

// Update runs fn inside a transaction, committing when fn returns nil
func (s *Store) Update(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Tx is a short-lived write transaction on the index
type Tx struct {
	tx *sqlx.Tx
}

// Get returns the record with the given key as seen by the transaction
func (t *Tx) Get(ctx context.Context, id int64) (Asset, error) {
	return getAsset(ctx, t.tx, "id", id)
}

// Insert adds a record and assigns its key. Zero timestamps are set to now.
func (t *Tx) Insert(ctx context.Context, a *Asset) error {
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = now
	}

	r := fromAsset(*a)
	q := t.tx.Rebind(`INSERT INTO videos (
			title, video_path, thumbnail_path,
			video_size, video_mtime, video_sha256,
			thumbnail_size, thumbnail_mtime, thumbnail_sha256,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`)

	var id int64
	err := t.tx.QueryRowxContext(ctx, q,
		r.Title, r.VideoPath, r.ThumbnailPath,
		r.VideoSize, r.VideoMTime, r.VideoSHA256,
		r.ThumbnailSize, r.ThumbnailMTime, r.ThumbnailSHA256,
		r.CreatedAt, r.UpdatedAt,
	).Scan(&id)
	if err != nil {
		return fmt.Errorf("failed to insert asset: %w", err)
	}

	a.ID = id
	return nil
}

// Replace overwrites the mutable fields of an existing record in place. The
// key and creation time are preserved.
func (t *Tx) Replace(ctx context.Context, a *Asset) error {
	existing, err := t.Get(ctx, a.ID)
	if err != nil {
		return err
	}

	a.CreatedAt = existing.CreatedAt
	a.UpdatedAt = time.Now().UTC()

	r := fromAsset(*a)
	q := t.tx.Rebind(`UPDATE videos SET
			title = ?, video_path = ?, thumbnail_path = ?,
			video_size = ?, video_mtime = ?, video_sha256 = ?,
			thumbnail_size = ?, thumbnail_mtime = ?, thumbnail_sha256 = ?,
			updated_at = ?
		WHERE id = ?`)

	res, err := t.tx.ExecContext(ctx, q,
		r.Title, r.VideoPath, r.ThumbnailPath,
		r.VideoSize, r.VideoMTime, r.VideoSHA256,
		r.ThumbnailSize, r.ThumbnailMTime, r.ThumbnailSHA256,
		r.UpdatedAt, r.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update asset %d: %w", a.ID, err)
	}
	return expectOneRow(res)
}

// Delete removes the record with the given key
func (t *Tx) Delete(ctx context.Context, id int64) error {
	res, err := t.tx.ExecContext(ctx, t.tx.Rebind("DELETE FROM videos WHERE id = ?"), id)
	if err != nil {
		return fmt.Errorf("failed to delete asset %d: %w", id, err)
	}
	return expectOneRow(res)
}

// Commit makes the transaction's writes visible
func (t *Tx) Commit() error {
	return t.tx.Commit()
}

// Rollback discards the transaction. Rolling back a finished transaction is
// a no-op.
func (t *Tx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type queryer interface {
	sqlx.QueryerContext
	Rebind(query string) string
}

func getAsset(ctx context.Context, q queryer, column string, value interface{}) (Asset, error) {
	var r row
	query := q.Rebind("SELECT " + columns + " FROM videos WHERE " + column + " = ?")
	if err := sqlx.GetContext(ctx, q, &r, query, value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Asset{}, ErrNotFound
		}
		return Asset{}, err
	}
	return r.toAsset(), nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
