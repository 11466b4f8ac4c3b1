package readstate

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeFlush struct {
	mu      sync.Mutex
	batches [][]string
	err     error
}

func (f *fakeFlush) flush(_ context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	sorted := make([]string, len(ids))
	copy(sorted, ids)
	sort.Strings(sorted)
	f.batches = append(f.batches, sorted)
	return f.err
}

func (f *fakeFlush) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func (f *fakeFlush) batch(i int) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.batches[i]
}

func newTracker(f *fakeFlush, window time.Duration, cap int) *Tracker {
	return New(Config{
		Window: window,
		Cap:    cap,
		Flush:  f.flush,
		Log:    zap.NewNop().Sugar(),
	})
}

func TestBatchesWithinWindow(t *testing.T) {
	t.Parallel()
	f := &fakeFlush{}
	tr := newTracker(f, 20*time.Millisecond, 100)

	tr.MarkRead("a")
	tr.MarkRead("b", "c")
	require.Equal(t, 0, f.count())

	require.Eventually(t, func() bool { return f.count() == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, []string{"a", "b", "c"}, f.batch(0))
}

func TestIdempotentRemotely(t *testing.T) {
	t.Parallel()
	f := &fakeFlush{}
	tr := newTracker(f, 10*time.Millisecond, 100)

	tr.MarkRead("a")
	require.Eventually(t, func() bool { return f.count() == 1 }, time.Second, 5*time.Millisecond)

	// marking again must not produce another remote write
	tr.MarkRead("a")
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, f.count())
}

func TestCapFlushesImmediately(t *testing.T) {
	t.Parallel()
	f := &fakeFlush{}
	tr := newTracker(f, time.Hour, 2)

	tr.MarkRead("a", "b")
	require.Equal(t, 1, f.count())
	require.Equal(t, []string{"a", "b"}, f.batch(0))
}

func TestObservePreventsRedundantWrite(t *testing.T) {
	t.Parallel()
	f := &fakeFlush{}
	tr := newTracker(f, 10*time.Millisecond, 100)

	// id already read remotely, seen via an inbound event
	tr.Observe("a")
	tr.MarkRead("a", "b")

	require.Eventually(t, func() bool { return f.count() == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, []string{"b"}, f.batch(0))
}

func TestFlushFailureIsNotRetried(t *testing.T) {
	t.Parallel()
	f := &fakeFlush{err: errors.New("write rejected")}
	tr := newTracker(f, 10*time.Millisecond, 100)

	tr.MarkRead("a")
	require.Eventually(t, func() bool { return f.count() == 1 }, time.Second, 5*time.Millisecond)

	// no rollback: the id stays marked and is not re-sent
	tr.MarkRead("a")
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, f.count())
}

func TestCloseFlushesPending(t *testing.T) {
	t.Parallel()
	f := &fakeFlush{}
	tr := newTracker(f, time.Hour, 100)

	tr.MarkRead("a", "b")
	tr.Close()
	require.Equal(t, 1, f.count())
	require.Equal(t, []string{"a", "b"}, f.batch(0))

	// closed tracker ignores further marks; Close is idempotent
	tr.MarkRead("c")
	tr.Close()
	require.Equal(t, 1, f.count())
}
