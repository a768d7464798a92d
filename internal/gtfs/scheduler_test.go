package gtfs

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"nexttrain/internal/storage"
)

func openTestDB(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "test.db"), discard)
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// zipServer serves the zip with an ETag and honours If-None-Match.
func zipServer(t *testing.T, zipPath string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	body, err := os.ReadFile(zipPath)
	if err != nil {
		t.Fatalf("read zip: %v", err)
	}
	var downloads atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		downloads.Add(1)
		w.Header().Set("ETag", `"v1"`)
		w.Header().Set("Last-Modified", "Mon, 02 Jun 2025 10:00:00 GMT")
		w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv, &downloads
}

func TestScheduler_EnsureDataImports(t *testing.T) {
	db := openTestDB(t)
	srv, downloads := zipServer(t, writeZip(t, lirrFiles))
	dir := t.TempDir()

	s := NewScheduler(NewDownloader(srv.URL, dir, discard), db, time.UTC, discard)
	ctx := context.Background()

	if err := s.EnsureData(ctx); err != nil {
		t.Fatalf("EnsureData: %v", err)
	}
	if !db.HasData(ctx) {
		t.Fatal("database should have data after import")
	}

	stop, err := db.Stop(ctx, "1")
	if err != nil || stop == nil {
		t.Fatalf("Stop(1) = (%v, %v)", stop, err)
	}
	if stop.StopName != "Grand Central" || stop.StopCode != "GCT" {
		t.Errorf("Stop(1) = %+v", stop)
	}
	if broken, _ := db.Stop(ctx, "999"); broken != nil {
		t.Errorf("stop without coordinates should be skipped, got %+v", broken)
	}

	names, err := db.RouteNames(ctx)
	if err != nil {
		t.Fatalf("RouteNames: %v", err)
	}
	if names["1"] != "Babylon Branch" {
		t.Errorf("RouteNames[1] = %q, want Babylon Branch", names["1"])
	}

	if etag, _ := db.GetMetadata(ctx, "etag"); etag != `"v1"` {
		t.Errorf("etag = %q, want \"v1\"", etag)
	}

	// second call is a no-op
	if err := s.EnsureData(ctx); err != nil {
		t.Fatalf("EnsureData (again): %v", err)
	}
	if n := downloads.Load(); n != 1 {
		t.Errorf("downloads = %d, want 1", n)
	}

	// downloaded zip is removed after import
	leftovers, _ := filepath.Glob(filepath.Join(dir, "gtfs-*.zip"))
	if len(leftovers) != 0 {
		t.Errorf("temp zips left behind: %v", leftovers)
	}
}

func TestScheduler_CheckAndUpdateNotModified(t *testing.T) {
	db := openTestDB(t)
	srv, downloads := zipServer(t, writeZip(t, lirrFiles))
	s := NewScheduler(NewDownloader(srv.URL, t.TempDir(), discard), db, time.UTC, discard)
	ctx := context.Background()

	if err := s.ForceUpdate(ctx); err != nil {
		t.Fatalf("ForceUpdate: %v", err)
	}
	if err := s.CheckAndUpdate(ctx); err != nil {
		t.Fatalf("CheckAndUpdate: %v", err)
	}
	if n := downloads.Load(); n != 1 {
		t.Errorf("downloads = %d, want 1 (304 on recheck)", n)
	}
	if !db.HasData(ctx) {
		t.Error("not-modified check must keep existing data")
	}
}

func TestScheduler_DownloadError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	db := openTestDB(t)
	s := NewScheduler(NewDownloader(srv.URL, t.TempDir(), discard), db, time.UTC, discard)
	if err := s.EnsureData(context.Background()); err == nil {
		t.Error("EnsureData should fail on 404")
	}
}

func TestNext3AM(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}

	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"before 3am", time.Date(2025, 6, 15, 1, 0, 0, 0, ny), time.Date(2025, 6, 15, 3, 0, 0, 0, ny)},
		{"at 3am", time.Date(2025, 6, 15, 3, 0, 0, 0, ny), time.Date(2025, 6, 16, 3, 0, 0, 0, ny)},
		{"evening", time.Date(2025, 6, 15, 22, 0, 0, 0, ny), time.Date(2025, 6, 16, 3, 0, 0, 0, ny)},
		{"utc input", time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC), time.Date(2025, 6, 16, 3, 0, 0, 0, ny)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := next3AM(tt.now, ny); !got.Equal(tt.want) {
				t.Errorf("next3AM(%v) = %v, want %v", tt.now, got, tt.want)
			}
		})
	}
}
