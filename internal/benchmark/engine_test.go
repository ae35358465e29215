package benchmark

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ierrors "github.com/arkilian/indexsearch/internal/errors"
	"github.com/arkilian/indexsearch/internal/refresh"
	"github.com/arkilian/indexsearch/internal/sequence"
	"github.com/arkilian/indexsearch/pkg/types"
)

type fakeRunner struct {
	queries  int
	duration float64

	mu        sync.Mutex
	loaded    []int
	refreshed []int

	queryCalls   atomic.Int32
	queryHook    func(ctx context.Context, call int32) error
	refreshError error
	missingFrom  int
}

func (f *fakeRunner) QueryCount() int { return f.queries }

func (f *fakeRunner) QueryStream(ctx context.Context) (types.Profile, error) {
	call := f.queryCalls.Add(1)
	if f.queryHook != nil {
		if err := f.queryHook(ctx, call); err != nil {
			return nil, err
		}
	}
	p := make(types.Profile, f.queries)
	for i := range p {
		p[i] = types.ProfileSample{Label: fmt.Sprint(i + 1), Duration: f.duration}
	}
	return p, nil
}

func (f *fakeRunner) LoadRefreshData(ctx context.Context, seq int) error {
	if f.missingFrom > 0 && seq >= f.missingFrom {
		return ierrors.NewRefreshError(ierrors.CodeDataFileMissing, fmt.Sprintf("set %d missing", seq), nil)
	}
	f.mu.Lock()
	f.loaded = append(f.loaded, seq)
	f.mu.Unlock()
	return nil
}

func (f *fakeRunner) InsertRefresh(ctx context.Context) (types.ProfileSample, error) {
	return types.ProfileSample{Label: "RF1", Duration: f.duration}, nil
}

func (f *fakeRunner) DeleteRefresh(ctx context.Context) (types.ProfileSample, error) {
	return types.ProfileSample{Label: "RF2", Duration: f.duration}, nil
}

func (f *fakeRunner) RefreshStream(ctx context.Context, seq int) (types.Profile, error) {
	if f.refreshError != nil {
		return nil, f.refreshError
	}
	if err := f.LoadRefreshData(ctx, seq); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.refreshed = append(f.refreshed, seq)
	f.mu.Unlock()
	return types.Profile{{Label: "RF1", Duration: f.duration}, {Label: "RF2", Duration: f.duration}}, nil
}

type fixedSize struct {
	data, index float64
	calls       int
}

func (s *fixedSize) StorageSize(ctx context.Context) (float64, float64, error) {
	s.calls++
	return s.data, s.index, nil
}

func testConfig() Config {
	return Config{ScaleFactor: 1, Streams: 2, WorkerTimeout: 5 * time.Second, JoinGrace: time.Second}
}

func newStore(t *testing.T) *sequence.FileStore {
	return sequence.NewFileStore(filepath.Join(t.TempDir(), "refresh_stream_number.txt"))
}

func TestEngine_PowerTest(t *testing.T) {
	r := &fakeRunner{queries: 22, duration: 1}
	e := NewEngine(testConfig(), r, newStore(t), nil)

	power, profile, err := e.PowerTest(context.Background(), 4)
	require.NoError(t, err)
	assert.InDelta(t, 3600, power, 1e-9)
	assert.Len(t, profile, 24)
	assert.Equal(t, "RF1", profile[22].Label)
	assert.Equal(t, []int{4}, r.loaded)
}

func TestEngine_ThroughputTest(t *testing.T) {
	r := &fakeRunner{queries: 22, duration: 0.01}
	e := NewEngine(testConfig(), r, newStore(t), nil)

	throughput, err := e.ThroughputTest(context.Background(), 5)
	require.NoError(t, err)
	assert.Greater(t, throughput, 0.0)
	assert.Equal(t, int32(2), r.queryCalls.Load())
	assert.Equal(t, []int{5, 6}, r.refreshed)
}

func TestEngine_ThroughputTestRunsWorkersConcurrently(t *testing.T) {
	var waiting sync.WaitGroup
	waiting.Add(2)
	r := &fakeRunner{queries: 22, duration: 0.01}
	r.queryHook = func(ctx context.Context, call int32) error {
		// both query streams must be in flight at the same time to pass
		waiting.Done()
		waiting.Wait()
		return nil
	}
	e := NewEngine(testConfig(), r, newStore(t), nil)

	_, err := e.ThroughputTest(context.Background(), 1)
	require.NoError(t, err)
}

func TestEngine_ThroughputTestWorkerNeverReports(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	r := &fakeRunner{queries: 22, duration: 0.01}
	r.queryHook = func(ctx context.Context, call int32) error {
		if call == 1 {
			<-release // ignores cancellation
		}
		return nil
	}
	cfg := testConfig()
	cfg.WorkerTimeout = 100 * time.Millisecond
	cfg.JoinGrace = 50 * time.Millisecond
	e := NewEngine(cfg, r, newStore(t), nil)

	start := time.Now()
	_, err := e.ThroughputTest(context.Background(), 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ierrors.ErrWorkerTimeout)
	assert.ErrorIs(t, err, ierrors.ErrWorkerFailure)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestEngine_ThroughputTestCancelsOnTimeout(t *testing.T) {
	cancelled := make(chan struct{})
	r := &fakeRunner{queries: 22, duration: 0.01}
	r.queryHook = func(ctx context.Context, call int32) error {
		if call == 1 {
			<-ctx.Done()
			close(cancelled)
			return ctx.Err()
		}
		return nil
	}
	cfg := testConfig()
	cfg.WorkerTimeout = 50 * time.Millisecond
	e := NewEngine(cfg, r, newStore(t), nil)

	_, err := e.ThroughputTest(context.Background(), 1)
	assert.ErrorIs(t, err, ierrors.ErrWorkerTimeout)

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("stuck worker was not cancelled")
	}
}

func TestEngine_ThroughputTestWorkerError(t *testing.T) {
	r := &fakeRunner{queries: 22, duration: 0.01, refreshError: errors.New("lost connection")}
	r.queryHook = func(ctx context.Context, call int32) error {
		<-ctx.Done()
		return ctx.Err()
	}
	e := NewEngine(testConfig(), r, newStore(t), nil)

	_, err := e.ThroughputTest(context.Background(), 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ierrors.ErrWorkerFailure)
	assert.Contains(t, err.Error(), "lost connection")
}

func TestEngine_ThroughputTestWorkerPanic(t *testing.T) {
	r := &fakeRunner{queries: 22, duration: 0.01}
	r.queryHook = func(ctx context.Context, call int32) error {
		if call == 2 {
			panic("boom")
		}
		return nil
	}
	e := NewEngine(testConfig(), r, newStore(t), nil)

	_, err := e.ThroughputTest(context.Background(), 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ierrors.ErrWorkerFailure)
	assert.Contains(t, err.Error(), "panicked")
}

func TestEngine_QphHAdvancesSequence(t *testing.T) {
	r := &fakeRunner{queries: 22, duration: 0.01}
	store := newStore(t)
	require.NoError(t, store.Write(3))
	e := NewEngine(testConfig(), r, store, nil)

	m, err := e.QphH(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, Composite(m.Power, m.Throughput), m.QphH, 1e-9)
	assert.Greater(t, m.BenchmarkTime, 0.0)
	assert.ElementsMatch(t, []int{3, 4, 5}, r.loaded)

	next, err := store.Read()
	require.NoError(t, err)
	assert.Equal(t, 6, next)
}

func TestEngine_QphHMissingFileLeavesSequence(t *testing.T) {
	r := &fakeRunner{queries: 22, duration: 0.01, missingFrom: 2}
	store := newStore(t)
	e := NewEngine(testConfig(), r, store, nil)

	_, err := e.QphH(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ierrors.ErrDataFileMissing)

	seq, err := store.Read()
	require.NoError(t, err)
	assert.Equal(t, 1, seq)
}

type failingPreparer struct{}

func (failingPreparer) Prepare(ctx context.Context, first, count int) ([]refresh.Set, error) {
	return nil, ierrors.NewRefreshError(ierrors.CodeDataFileMissing, "no sets", nil)
}

func TestEngine_QphHPreparesBeforeConsuming(t *testing.T) {
	r := &fakeRunner{queries: 22, duration: 0.01}
	store := newStore(t)
	require.NoError(t, store.Write(8))
	e := NewEngine(testConfig(), r, store, nil).WithPreparer(failingPreparer{})

	_, err := e.QphH(context.Background())
	assert.ErrorIs(t, err, ierrors.ErrDataFileMissing)
	assert.Empty(t, r.loaded)

	seq, err := store.Read()
	require.NoError(t, err)
	assert.Equal(t, 8, seq)
}

func TestEngine_StorageSizeAndRuntime(t *testing.T) {
	r := &fakeRunner{queries: 22, duration: 0.5}
	sizes := &fixedSize{data: 1024, index: 12.5}
	e := NewEngine(testConfig(), r, newStore(t), sizes)

	m, err := e.StorageSize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1024.0, m.DataSize)
	assert.Equal(t, 12.5, m.IndexSize)
	assert.Equal(t, 1, sizes.calls)

	m, err = e.Runtime(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 11, m.Time, 1e-9)

	_, err = NewEngine(testConfig(), r, newStore(t), nil).StorageSize(context.Background())
	assert.Error(t, err)
}
