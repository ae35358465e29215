package refresh

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ierrors "github.com/arkilian/indexsearch/internal/errors"
	"github.com/arkilian/indexsearch/internal/storage"
)

func writeSet(t *testing.T, dir string, seq int) {
	t.Helper()
	for _, name := range FileNames(seq) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("1|\n"), 0o644))
	}
}

func TestFileNames(t *testing.T) {
	assert.Equal(t, []string{"orders.tbl.u12", "lineitem.tbl.u12", "delete.12"}, FileNames(12))
}

func TestSource_Check(t *testing.T) {
	dir := t.TempDir()
	writeSet(t, dir, 1)
	src := NewSource(dir, nil, "", nil)

	set, err := src.Check(1)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "orders.tbl.u1"), set.Orders)

	loads := set.Loads()
	require.Len(t, loads, 3)
	assert.Equal(t, DeleteStaging, loads[0].Table)
	assert.Equal(t, set.Lineitem, loads[2].Path)

	_, err = src.Check(2)
	require.Error(t, err)
	assert.ErrorIs(t, err, ierrors.ErrDataFileMissing)
}

func TestSource_CheckPartialSet(t *testing.T) {
	dir := t.TempDir()
	writeSet(t, dir, 3)
	require.NoError(t, os.Remove(filepath.Join(dir, "delete.3")))

	_, err := NewSource(dir, nil, "", nil).Check(3)
	require.Error(t, err)
	assert.ErrorIs(t, err, ierrors.ErrDataFileMissing)

	var se *ierrors.SearchError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, []string{"delete.3"}, se.Details["missing"])
}

func TestSource_PrepareLocalOnly(t *testing.T) {
	dir := t.TempDir()
	for seq := 4; seq <= 6; seq++ {
		writeSet(t, dir, seq)
	}
	src := NewSource(dir, nil, "", nil)

	sets, err := src.Prepare(context.Background(), 4, 3)
	require.NoError(t, err)
	require.Len(t, sets, 3)
	assert.Equal(t, 6, sets[2].Seq)

	_, err = src.Prepare(context.Background(), 5, 3)
	assert.ErrorIs(t, err, ierrors.ErrDataFileMissing)
}

func TestSource_PrepareFetchesFromStorage(t *testing.T) {
	remoteDir := t.TempDir()
	remote, err := storage.NewLocalStorage(remoteDir)
	require.NoError(t, err)
	staged := t.TempDir()
	writeSet(t, staged, 2)
	for _, name := range FileNames(2) {
		require.NoError(t, remote.Upload(context.Background(), filepath.Join(staged, name), "tpch/refresh/"+name))
	}

	local := t.TempDir()
	src := NewSource(local, remote, "tpch/refresh", nil)

	sets, err := src.Prepare(context.Background(), 2, 1)
	require.NoError(t, err)
	require.Len(t, sets, 1)
	assert.FileExists(t, filepath.Join(local, "lineitem.tbl.u2"))

	_, err = src.Prepare(context.Background(), 2, 2)
	require.Error(t, err)
	assert.ErrorIs(t, err, ierrors.ErrDataFileMissing)
}

func TestSource_PrepareChecksListingBeforeDownloading(t *testing.T) {
	remoteDir := t.TempDir()
	remote, err := storage.NewLocalStorage(remoteDir)
	require.NoError(t, err)
	staged := t.TempDir()
	writeSet(t, staged, 7)
	for _, name := range FileNames(7) {
		require.NoError(t, remote.Upload(context.Background(), filepath.Join(staged, name), "refresh/"+name))
	}

	local := t.TempDir()
	// set 8 is complete locally, set 9 exists nowhere
	writeSet(t, local, 8)
	src := NewSource(local, remote, "refresh", nil)

	_, err = src.Prepare(context.Background(), 7, 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, ierrors.ErrDataFileMissing)

	var se *ierrors.SearchError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, []string{"refresh/delete.9", "refresh/lineitem.tbl.u9", "refresh/orders.tbl.u9"}, se.Details["missing"])
	assert.NoFileExists(t, filepath.Join(local, "orders.tbl.u7"), "nothing is fetched for an incomplete range")

	sets, err := src.Prepare(context.Background(), 7, 2)
	require.NoError(t, err)
	require.Len(t, sets, 2)
	assert.FileExists(t, filepath.Join(local, "orders.tbl.u7"))
}
