package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func seedObjects(t *testing.T, storage *LocalStorage, objects map[string]string) {
	t.Helper()
	srcDir := t.TempDir()
	for obj, content := range objects {
		src := filepath.Join(srcDir, filepath.Base(obj))
		if err := os.WriteFile(src, []byte(content), 0644); err != nil {
			t.Fatalf("failed to write source file: %v", err)
		}
		if err := storage.Upload(context.Background(), src, obj); err != nil {
			t.Fatalf("Upload %s failed: %v", obj, err)
		}
	}
}

func TestBatchDownloader_BasicDownload(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}
	seedObjects(t, storage, map[string]string{
		"refresh/orders.tbl.u1":   "1|2|",
		"refresh/lineitem.tbl.u1": "1|1|",
		"refresh/delete.1":        "1|",
	})

	dir := t.TempDir()
	downloader := NewBatchDownloader(storage, 2, dir)
	result, err := downloader.Download(context.Background(), []string{
		"refresh/orders.tbl.u1", "refresh/lineitem.tbl.u1", "refresh/delete.1",
	})
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	if result.Downloads != 3 || result.CacheHits != 0 {
		t.Errorf("expected 3 downloads and 0 cache hits, got %d and %d", result.Downloads, result.CacheHits)
	}
	if len(result.Errors) != 0 {
		t.Errorf("unexpected errors: %v", result.Errors)
	}

	data, err := os.ReadFile(filepath.Join(dir, "orders.tbl.u1"))
	if err != nil {
		t.Fatalf("downloaded file missing: %v", err)
	}
	if string(data) != "1|2|" {
		t.Errorf("content mismatch: got %q", data)
	}
}

func TestBatchDownloader_CacheHit(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}
	seedObjects(t, storage, map[string]string{"refresh/delete.4": "remote|"})

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "delete.4"), []byte("local|"), 0644); err != nil {
		t.Fatal(err)
	}

	result, err := NewBatchDownloader(storage, 1, dir).Download(context.Background(), []string{"refresh/delete.4"})
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	if result.CacheHits != 1 || result.Downloads != 0 {
		t.Errorf("expected a cache hit, got %+v", result)
	}

	data, _ := os.ReadFile(filepath.Join(dir, "delete.4"))
	if string(data) != "local|" {
		t.Errorf("cached file was overwritten: %q", data)
	}
}

func TestBatchDownloader_PartialFailure(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}
	seedObjects(t, storage, map[string]string{"refresh/orders.tbl.u7": "x|"})

	dir := t.TempDir()
	result, err := NewBatchDownloader(storage, 4, dir).Download(context.Background(), []string{
		"refresh/orders.tbl.u7", "refresh/lineitem.tbl.u7",
	})
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	if result.Downloads != 1 {
		t.Errorf("expected 1 download, got %d", result.Downloads)
	}
	if !errors.Is(result.Errors["refresh/lineitem.tbl.u7"], ErrObjectNotFound) {
		t.Errorf("expected ErrObjectNotFound, got %v", result.Errors["refresh/lineitem.tbl.u7"])
	}
	if _, err := os.Stat(filepath.Join(dir, "lineitem.tbl.u7")); !os.IsNotExist(err) {
		t.Error("failed download left a file behind")
	}
}

func TestBatchDownloader_CancelledContext(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = NewBatchDownloader(storage, 1, t.TempDir()).Download(ctx, []string{"a", "b"})
	if err == nil {
		t.Error("expected error for cancelled context")
	}
}
