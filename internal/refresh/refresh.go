// Package refresh locates the numbered refresh data sets consumed by refresh
// streams: orders.tbl.u<seq>, lineitem.tbl.u<seq> and delete.<seq>.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"

	ierrors "github.com/arkilian/indexsearch/internal/errors"
	"github.com/arkilian/indexsearch/internal/storage"
)

// Staging tables the refresh files are bulk loaded into.
const (
	OrdersStaging   = "orders_temp"
	LineitemStaging = "lineitem_temp"
	DeleteStaging   = "rfdelete"
)

// Load is one bulk load of a refresh file into its staging table.
type Load struct {
	Path  string
	Table string
}

// Set is the local paths of the refresh files for one sequence number.
type Set struct {
	Seq      int
	Orders   string
	Lineitem string
	Delete   string
}

// Loads returns the bulk loads of the set, delete file first.
func (s Set) Loads() []Load {
	return []Load{
		{Path: s.Delete, Table: DeleteStaging},
		{Path: s.Orders, Table: OrdersStaging},
		{Path: s.Lineitem, Table: LineitemStaging},
	}
}

// FileNames returns the three file names of sequence number seq.
func FileNames(seq int) []string {
	return []string{
		fmt.Sprintf("orders.tbl.u%d", seq),
		fmt.Sprintf("lineitem.tbl.u%d", seq),
		fmt.Sprintf("delete.%d", seq),
	}
}

// Source resolves refresh sets in a local directory, optionally pulling
// missing files from object storage first.
type Source struct {
	dir        string
	remote     storage.ObjectStorage
	prefix     string
	downloader *storage.BatchDownloader
	logger     *slog.Logger
}

// NewSource returns a source over dir. remote may be nil.
func NewSource(dir string, remote storage.ObjectStorage, prefix string, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Source{
		dir:    dir,
		remote: remote,
		prefix: prefix,
		logger: logger.With("component", "refresh"),
	}
	if remote != nil {
		s.downloader = storage.NewBatchDownloader(remote, 6, dir)
	}
	return s
}

// Dir returns the local refresh directory.
func (s *Source) Dir() string {
	return s.dir
}

// Set returns the local paths for seq without checking them.
func (s *Source) Set(seq int) Set {
	names := FileNames(seq)
	return Set{
		Seq:      seq,
		Orders:   filepath.Join(s.dir, names[0]),
		Lineitem: filepath.Join(s.dir, names[1]),
		Delete:   filepath.Join(s.dir, names[2]),
	}
}

// Check returns the set for seq, or a DataFileMissing error naming every
// absent file.
func (s *Source) Check(seq int) (Set, error) {
	set := s.Set(seq)
	var missing []string
	for _, p := range []string{set.Orders, set.Lineitem, set.Delete} {
		if _, err := os.Stat(p); err != nil {
			if !os.IsNotExist(err) {
				return set, fmt.Errorf("refresh: stat %s: %w", p, err)
			}
			missing = append(missing, filepath.Base(p))
		}
	}
	if len(missing) > 0 {
		return set, ierrors.NewRefreshError(ierrors.CodeDataFileMissing,
			fmt.Sprintf("refresh set %d incomplete in %s", seq, s.dir), nil).
			WithDetails(map[string]interface{}{"seq": seq, "missing": missing})
	}
	return set, nil
}

// Prepare makes the sets first..first+count-1 available locally, downloading
// absent files when a remote is configured, and fails with DataFileMissing
// if any set remains incomplete.
func (s *Source) Prepare(ctx context.Context, first, count int) ([]Set, error) {
	if s.downloader != nil {
		if err := s.fetch(ctx, first, count); err != nil {
			return nil, err
		}
	}

	sets := make([]Set, 0, count)
	for seq := first; seq < first+count; seq++ {
		set, err := s.Check(seq)
		if err != nil {
			return nil, err
		}
		sets = append(sets, set)
	}
	return sets, nil
}

func (s *Source) fetch(ctx context.Context, first, count int) error {
	var objects []string
	for seq := first; seq < first+count; seq++ {
		for _, name := range FileNames(seq) {
			objects = append(objects, path.Join(s.prefix, name))
		}
	}

	// Fail before any transfer when the bucket cannot complete every set.
	if missing, err := s.missingRemote(ctx, objects); err != nil {
		return err
	} else if len(missing) > 0 {
		return ierrors.NewRefreshError(ierrors.CodeDataFileMissing,
			fmt.Sprintf("refresh objects missing from storage under %q", s.prefix), nil).
			WithDetails(map[string]interface{}{"first": first, "count": count, "missing": missing})
	}

	result, err := s.downloader.Download(ctx, objects)
	if err != nil {
		return fmt.Errorf("refresh: fetch sets %d..%d: %w", first, first+count-1, err)
	}

	var notFound []string
	for obj, err := range result.Errors {
		if errors.Is(err, storage.ErrObjectNotFound) {
			notFound = append(notFound, obj)
			continue
		}
		return fmt.Errorf("refresh: fetch %s: %w", obj, err)
	}
	if len(notFound) > 0 {
		sort.Strings(notFound)
		return ierrors.NewRefreshError(ierrors.CodeDataFileMissing,
			fmt.Sprintf("refresh objects missing from storage under %q", s.prefix), nil).
			WithDetails(map[string]interface{}{"first": first, "count": count, "missing": notFound})
	}

	if result.Downloads > 0 {
		s.logger.Info("refresh files fetched", "first", first, "count", count,
			"downloads", result.Downloads, "cache_hits", result.CacheHits)
	}
	return nil
}

// missingRemote returns the objects that are neither cached locally nor
// listed under the remote prefix, sorted.
func (s *Source) missingRemote(ctx context.Context, objects []string) ([]string, error) {
	listed, err := s.remote.ListObjects(ctx, s.prefix)
	if err != nil {
		return nil, fmt.Errorf("refresh: list %q: %w", s.prefix, err)
	}
	present := make(map[string]bool, len(listed))
	for _, obj := range listed {
		present[obj] = true
	}

	var missing []string
	for _, obj := range objects {
		if present[obj] {
			continue
		}
		if _, err := os.Stat(s.downloader.LocalPath(obj)); err == nil {
			continue
		}
		missing = append(missing, obj)
	}
	sort.Strings(missing)
	return missing, nil
}
