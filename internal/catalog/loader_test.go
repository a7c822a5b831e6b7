package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type countingSource struct {
	calls   atomic.Int32
	records []BookRecord
	err     error
}

func (s *countingSource) Name() string { return "counting" }

func (s *countingSource) Fetch(context.Context) ([]BookRecord, error) {
	s.calls.Add(1)
	return s.records, s.err
}

type panicSource struct{}

func (panicSource) Name() string { return "panic" }

func (panicSource) Fetch(context.Context) ([]BookRecord, error) { panic("boom") }

func TestLoaderMissingSourceYieldsEmptyUnavailable(t *testing.T) {
	l := NewLoader(NewFileSource(filepath.Join(t.TempDir(), "missing.json")), 0, nil)
	c, cond := l.Load(context.Background())
	assert.True(t, c.Empty())
	assert.Equal(t, ConditionUnavailable, cond.Kind)
	assert.True(t, errors.Is(cond.Err(), ErrCatalogUnavailable))
}

func TestLoaderCorruptSourceYieldsEmptyCorrupt(t *testing.T) {
	src := &countingSource{err: fmt.Errorf("%w: bad", ErrCatalogCorrupt)}
	c, cond := NewLoader(src, 0, nil).Load(context.Background())
	assert.True(t, c.Empty())
	assert.Equal(t, ConditionCorrupt, cond.Kind)
}

func TestLoaderIgnoresCancelledCaller(t *testing.T) {
	path := filepath.Join(t.TempDir(), "books.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"title":"Dế Mèn phiêu lưu ký","author":"Tô Hoài","language":"vi"}]`), 0o644))
	l := NewLoader(NewFileSource(path), 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c, cond := l.Load(ctx)
	require.True(t, cond.OK(), "condition = %+v", cond)
	assert.Equal(t, 1, c.Len())

	c, cond = l.Load(context.Background())
	require.True(t, cond.OK(), "condition = %+v", cond)
	assert.Equal(t, 1, c.Len())
}

func TestLoaderDoesNotCacheTimedOutFetch(t *testing.T) {
	src := &countingSource{
		records: []BookRecord{{Title: "A"}},
		err:     fmt.Errorf("%w: %w", ErrCatalogUnavailable, context.DeadlineExceeded),
	}
	l := NewLoader(src, 0, nil)

	c, cond := l.Load(context.Background())
	assert.True(t, c.Empty())
	assert.Equal(t, ConditionUnavailable, cond.Kind)

	src.err = nil
	c, cond = l.Load(context.Background())
	require.True(t, cond.OK())
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, int32(2), src.calls.Load())
}

func TestLoaderMemoizesUntilInvalidated(t *testing.T) {
	src := &countingSource{records: []BookRecord{{Title: "A"}}}
	l := NewLoader(src, 0, nil)

	for i := 0; i < 3; i++ {
		c, cond := l.Load(context.Background())
		require.True(t, cond.OK())
		require.Equal(t, 1, c.Len())
	}
	assert.EqualValues(t, 1, src.calls.Load())

	l.Invalidate()
	_, _ = l.Load(context.Background())
	assert.EqualValues(t, 2, src.calls.Load())
}

func TestLoaderConcurrentFirstLoadFetchesOnce(t *testing.T) {
	src := &countingSource{records: []BookRecord{{Title: "A"}}}
	l := NewLoader(src, 0, nil)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = l.Load(context.Background())
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, src.calls.Load())
}

func TestLoaderTTLExpiry(t *testing.T) {
	src := &countingSource{records: []BookRecord{{Title: "A"}}}
	l := NewLoader(src, 20*time.Millisecond, nil)

	_, _ = l.Load(context.Background())
	time.Sleep(40 * time.Millisecond)
	_, _ = l.Load(context.Background())
	assert.EqualValues(t, 2, src.calls.Load())
}

func TestLoaderRecoversFromSourcePanic(t *testing.T) {
	c, cond := NewLoader(panicSource{}, 0, nil).Load(context.Background())
	assert.True(t, c.Empty())
	assert.Equal(t, ConditionCorrupt, cond.Kind)
}

func TestLoaderHookReportsChanges(t *testing.T) {
	src := &countingSource{records: []BookRecord{{Title: "A"}}}
	l := NewLoader(src, 0, nil)

	var changes []bool
	l.SetLoadHook(func(_ Catalog, _ Condition, changed bool) {
		changes = append(changes, changed)
	})

	_, _ = l.Load(context.Background())
	l.Invalidate()
	_, _ = l.Load(context.Background())
	src.records = []BookRecord{{Title: "B"}}
	l.Invalidate()
	_, _ = l.Load(context.Background())

	assert.Equal(t, []bool{true, false, true}, changes)
}

func TestWatcherInvalidatesOnWrite(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreTopFunction("github.com/patrickmn/go-cache.(*janitor).Run"))

	path := filepath.Join(t.TempDir(), "books.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"title":"A"}]`), 0o644))

	l := NewLoader(NewFileSource(path), 0, nil)
	c, _ := l.Load(context.Background())
	require.Equal(t, "A", c.Records()[0].Title)

	changed := make(chan struct{}, 1)
	w, err := NewWatcher(path, l, func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	}, nil)
	require.NoError(t, err)
	w.debounce = 30 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte(`[{"title":"B"}]`), 0o644))

	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for catalog change notification")
	}

	c, cond := l.Load(context.Background())
	require.True(t, cond.OK())
	assert.Equal(t, "B", c.Records()[0].Title)
}
