package index

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/schaermu/crsm/internal/fingerprint"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), DriverSQLite, filepath.Join(t.TempDir(), "state", "crsm.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func insert(t *testing.T, s *Store, title, name string) Asset {
	t.Helper()
	a := Asset{
		Title:         title,
		VideoPath:     "videos/" + name + ".mp4",
		ThumbnailPath: "thumbnails/" + name + ".png",
		Video: fingerprint.Fingerprint{
			Size:    100,
			ModTime: time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC),
			SHA256:  "aa",
		},
		Thumbnail: fingerprint.Fingerprint{Size: 10, ModTime: time.Unix(1700000000, 0).UTC(), SHA256: "bb"},
	}
	err := s.Update(context.Background(), func(tx *Tx) error {
		return tx.Insert(context.Background(), &a)
	})
	if err != nil {
		t.Fatalf("insert %s failed: %v", name, err)
	}
	return a
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	if _, err := Open(context.Background(), "mysql", "x"); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crsm.db")
	for i := 0; i < 2; i++ {
		s, err := Open(context.Background(), DriverSQLite, path)
		if err != nil {
			t.Fatalf("open #%d failed: %v", i+1, err)
		}
		if err := s.CheckSchema(context.Background()); err != nil {
			t.Errorf("schema check failed: %v", err)
		}
		_ = s.Close()
	}
}

func TestInsertAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a := insert(t, s, "talk", "talk")
	if a.ID == 0 {
		t.Fatal("expected key to be assigned")
	}

	got, err := s.Get(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "talk" || got.VideoPath != "videos/talk.mp4" {
		t.Errorf("unexpected record: %+v", got)
	}
	if !got.Video.ModTime.Equal(a.Video.ModTime) {
		t.Errorf("mtime did not round-trip: %v != %v", got.Video.ModTime, a.Video.ModTime)
	}
	if !got.Video.Equal(a.Video) || !got.Thumbnail.Equal(a.Thumbnail) {
		t.Error("fingerprints did not round-trip")
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("timestamps should be set")
	}

	byPath, err := s.FindByVideoPath(ctx, "videos/talk.mp4")
	if err != nil {
		t.Fatal(err)
	}
	if byPath.ID != a.ID {
		t.Errorf("expected id %d, got %d", a.ID, byPath.ID)
	}

	byThumb, err := s.FindByThumbnailPath(ctx, "thumbnails/talk.png")
	if err != nil {
		t.Fatal(err)
	}
	if byThumb.ID != a.ID {
		t.Errorf("expected id %d, got %d", a.ID, byThumb.ID)
	}

	if _, err := s.Get(ctx, a.ID+100); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.FindByVideoPath(ctx, "videos/none.mp4"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestInsert_DuplicateVideoPath(t *testing.T) {
	s := openTestStore(t)
	insert(t, s, "talk", "talk")

	a := Asset{Title: "again", VideoPath: "videos/talk.mp4", ThumbnailPath: "thumbnails/talk.png"}
	err := s.Update(context.Background(), func(tx *Tx) error {
		return tx.Insert(context.Background(), &a)
	})
	if err == nil {
		t.Fatal("expected unique constraint violation")
	}
}

func TestReplace_PreservesKeyAndCreatedAt(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	orig := insert(t, s, "talk", "talk")

	updated := orig
	updated.Title = "Talk (remastered)"
	updated.Video.SHA256 = "cc"
	updated.Video.Size = 200
	updated.CreatedAt = time.Time{}

	if err := s.Update(ctx, func(tx *Tx) error { return tx.Replace(ctx, &updated) }); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(ctx, orig.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != orig.ID {
		t.Errorf("key changed: %d -> %d", orig.ID, got.ID)
	}
	if !got.CreatedAt.Equal(orig.CreatedAt) {
		t.Errorf("created_at changed: %v -> %v", orig.CreatedAt, got.CreatedAt)
	}
	if got.Title != "Talk (remastered)" || got.Video.Size != 200 || got.Video.SHA256 != "cc" {
		t.Errorf("fields not updated: %+v", got)
	}
	if got.UpdatedAt.Before(orig.UpdatedAt) {
		t.Error("updated_at should not move backwards")
	}

	missing := Asset{ID: orig.ID + 99}
	if err := s.Update(ctx, func(tx *Tx) error { return tx.Replace(ctx, &missing) }); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing record, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	a := insert(t, s, "talk", "talk")

	if err := s.Update(ctx, func(tx *Tx) error { return tx.Delete(ctx, a.ID) }); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, a.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected record to be gone, got %v", err)
	}
	if err := s.Update(ctx, func(tx *Tx) error { return tx.Delete(ctx, a.ID) }); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestRollback_DiscardsWrites(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	a := Asset{Title: "talk", VideoPath: "videos/talk.mp4", ThumbnailPath: "thumbnails/talk.png"}
	if err := tx.Insert(ctx, &a); err != nil {
		t.Fatal(err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatal(err)
	}
	if err := tx.Rollback(); err != nil {
		t.Errorf("second rollback should be a no-op, got %v", err)
	}

	all, err := s.All(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 0 {
		t.Errorf("expected no records after rollback, got %d", len(all))
	}
}

func TestUpdate_ErrorRollsBack(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.Update(ctx, func(tx *Tx) error {
		a := Asset{Title: "talk", VideoPath: "videos/talk.mp4", ThumbnailPath: "thumbnails/talk.png"}
		if err := tx.Insert(ctx, &a); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	all, err := s.All(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 0 {
		t.Errorf("expected no records, got %d", len(all))
	}
}

func TestFindByTitle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	first := insert(t, s, "A", "a1")
	second := insert(t, s, "A", "a2")
	insert(t, s, "B", "b")

	matches, err := s.FindByTitle(ctx, "A")
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 2 || matches[0].ID != first.ID || matches[1].ID != second.ID {
		t.Errorf("unexpected matches: %+v", matches)
	}

	none, err := s.FindByTitle(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if len(none) != 0 {
		t.Errorf("title match must be exact, got %d", len(none))
	}
}

func TestList(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	insert(t, s, "Chill Beats", "chill")
	insert(t, s, "Alpha", "alpha")
	insert(t, s, "Deep 100%", "deep")

	tests := []struct {
		name   string
		opts   ListOptions
		titles []string
	}{
		{name: "default", opts: ListOptions{}, titles: []string{"Chill Beats", "Alpha", "Deep 100%"}},
		{name: "by title", opts: ListOptions{SortBy: "title"}, titles: []string{"Alpha", "Chill Beats", "Deep 100%"}},
		{name: "desc", opts: ListOptions{Desc: true}, titles: []string{"Deep 100%", "Alpha", "Chill Beats"}},
		{name: "limit offset", opts: ListOptions{Limit: 1, Offset: 1}, titles: []string{"Alpha"}},
		{name: "offset only", opts: ListOptions{Offset: 2}, titles: []string{"Deep 100%"}},
		{name: "offset beyond", opts: ListOptions{Offset: 9}, titles: []string{}},
		{name: "search", opts: ListOptions{Search: "Beat"}, titles: []string{"Chill Beats"}},
		{name: "search escapes wildcard", opts: ListOptions{Search: "0%"}, titles: []string{"Deep 100%"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.List(ctx, tt.opts)
			if err != nil {
				t.Fatal(err)
			}
			titles := make([]string, 0, len(got))
			for _, a := range got {
				titles = append(titles, a.Title)
			}
			if len(titles) != len(tt.titles) {
				t.Fatalf("expected %v, got %v", tt.titles, titles)
			}
			for i := range titles {
				if titles[i] != tt.titles[i] {
					t.Fatalf("expected %v, got %v", tt.titles, titles)
				}
			}
		})
	}

	if _, err := s.List(ctx, ListOptions{SortBy: "size"}); err == nil {
		t.Error("expected error for invalid sort column")
	}
}
