package stream_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkilian/indexsearch/internal/database/dbtest"
	ierrors "github.com/arkilian/indexsearch/internal/errors"
	"github.com/arkilian/indexsearch/internal/refresh"
	"github.com/arkilian/indexsearch/internal/stream"
)

func newRunner(t *testing.T) (*stream.Runner, string) {
	t.Helper()
	db := dbtest.Open(t)
	dir := t.TempDir()
	return stream.NewRunner(db, refresh.NewSource(dir, nil, "", nil), dbtest.QueryCount, nil), dir
}

func TestRunner_QueryStream(t *testing.T) {
	r, _ := newRunner(t)

	profile, err := r.QueryStream(context.Background())
	require.NoError(t, err)
	require.Len(t, profile, dbtest.QueryCount)

	labels := make(map[string]bool)
	for _, p := range profile {
		assert.False(t, labels[p.Label], "duplicate label %s", p.Label)
		labels[p.Label] = true
	}
}

func TestRunner_QueryStreamSessionsAreIndependent(t *testing.T) {
	r, _ := newRunner(t)

	first, err := r.QueryStream(context.Background())
	require.NoError(t, err)
	second, err := r.QueryStream(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first[0].Label, second[0].Label)
}

func TestRunner_RefreshStream(t *testing.T) {
	db := dbtest.Open(t)
	dir := t.TempDir()
	dbtest.WriteRefreshFiles(t, dir, 1, 5)
	r := stream.NewRunner(db, refresh.NewSource(dir, nil, "", nil), dbtest.QueryCount, nil)

	orders := dbtest.Count(t, db, "orders")
	profile, err := r.RefreshStream(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, profile, 2)
	assert.Equal(t, stream.InsertRefreshLabel, profile[0].Label)
	assert.Equal(t, stream.DeleteRefreshLabel, profile[1].Label)
	assert.Greater(t, profile[0].Duration, 0.0)

	assert.Equal(t, orders, dbtest.Count(t, db, "orders"))
	assert.Equal(t, 0, dbtest.Count(t, db, "rfdelete"))
}

func TestRunner_InsertThenDeleteRefresh(t *testing.T) {
	db := dbtest.Open(t)
	dir := t.TempDir()
	dbtest.WriteRefreshFiles(t, dir, 2, 3)
	r := stream.NewRunner(db, refresh.NewSource(dir, nil, "", nil), dbtest.QueryCount, nil)
	ctx := context.Background()

	orders := dbtest.Count(t, db, "orders")
	require.NoError(t, r.LoadRefreshData(ctx, 2))
	_, err := r.InsertRefresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, orders+3, dbtest.Count(t, db, "orders"))

	_, err = r.DeleteRefresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, orders, dbtest.Count(t, db, "orders"))
}

func TestRunner_RefreshStreamMissingFiles(t *testing.T) {
	r, _ := newRunner(t)

	_, err := r.RefreshStream(context.Background(), 9)
	require.Error(t, err)
	assert.ErrorIs(t, err, ierrors.ErrDataFileMissing)
}
