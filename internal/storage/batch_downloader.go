package storage

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sync"

	"golang.org/x/sync/semaphore"
)

// BatchDownloader pulls several objects into one local directory in parallel.
// Files already present locally are kept and count as cache hits.
type BatchDownloader struct {
	storage     ObjectStorage
	concurrency int
	dir         string
}

// BatchResult contains the outcome of a batch download.
type BatchResult struct {
	LocalPaths map[string]string
	Errors     map[string]error
	CacheHits  int
	Downloads  int
}

// NewBatchDownloader creates a downloader writing into dir.
func NewBatchDownloader(storage ObjectStorage, concurrency int, dir string) *BatchDownloader {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &BatchDownloader{
		storage:     storage,
		concurrency: concurrency,
		dir:         dir,
	}
}

// Download fetches objectPaths into the downloader's directory, naming each
// local file after the last element of its object path. Per-object failures
// are reported in BatchResult.Errors; the returned error is set only when the
// context ends before every download was scheduled.
func (b *BatchDownloader) Download(ctx context.Context, objectPaths []string) (*BatchResult, error) {
	result := &BatchResult{
		LocalPaths: make(map[string]string),
		Errors:     make(map[string]error),
	}

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		sem = semaphore.NewWeighted(int64(b.concurrency))
	)

	for _, objectPath := range objectPaths {
		local := b.LocalPath(objectPath)
		if _, err := os.Stat(local); err == nil {
			result.LocalPaths[objectPath] = local
			result.CacheHits++
			continue
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			wg.Wait()
			return result, fmt.Errorf("batch download interrupted: %w", err)
		}

		wg.Add(1)
		go func(objectPath, local string) {
			defer sem.Release(1)
			defer wg.Done()

			// Download into a temp name so a failed transfer never looks cached.
			tmp := local + ".part"
			err := b.storage.Download(ctx, objectPath, tmp)
			if err == nil {
				err = os.Rename(tmp, local)
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				os.Remove(tmp)
				result.Errors[objectPath] = err
				return
			}
			result.LocalPaths[objectPath] = local
			result.Downloads++
		}(objectPath, local)
	}

	wg.Wait()
	return result, nil
}

// LocalPath returns where objectPath is stored locally.
func (b *BatchDownloader) LocalPath(objectPath string) string {
	return filepath.Join(b.dir, path.Base(objectPath))
}
