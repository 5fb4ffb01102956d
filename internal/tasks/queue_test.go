package tasks

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmit_ReportsSuccessAndFailure(t *testing.T) {
	q := New(2)
	defer q.Terminate()

	results := make(chan error, 2)
	boom := errors.New("boom")

	require.True(t, q.Submit("ok", func() error { return nil }, func(err error) { results <- err }))
	require.True(t, q.Submit("fail", func() error { return boom }, func(err error) { results <- err }))
	q.Wait()
	close(results)

	var errs []error
	for err := range results {
		errs = append(errs, err)
	}
	require.Len(t, errs, 2)
	assert.Contains(t, errs, error(nil))
	assert.Contains(t, errs, boom)
}

func TestSubmit_BoundsConcurrency(t *testing.T) {
	q := New(2)
	defer q.Terminate()

	var running, peak atomic.Int32
	release := make(chan struct{})
	var wg sync.WaitGroup

	for i := 0; i < 6; i++ {
		wg.Add(1)
		q.Submit("job", func() error {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			<-release
			running.Add(-1)
			return nil
		}, func(error) { wg.Done() })
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Equal(t, int32(0), running.Load())
}

func TestTerminate_AbandonsPendingJobs(t *testing.T) {
	q := New(1)

	started := make(chan struct{})
	release := make(chan struct{})
	var pendingRan atomic.Bool
	var firstDone atomic.Bool

	q.Submit("blocker", func() error {
		close(started)
		<-release
		return nil
	}, func(error) { firstDone.Store(true) })
	<-started

	q.Submit("pending", func() error {
		pendingRan.Store(true)
		return nil
	}, nil)

	q.Terminate()
	close(release)
	q.Wait()

	assert.True(t, firstDone.Load(), "in-flight job should finish")
	assert.False(t, pendingRan.Load(), "pending job should be abandoned")
	assert.False(t, q.Submit("late", func() error { return nil }, nil))
}

func TestSubmit_RecoversPanic(t *testing.T) {
	q := New(1)
	defer q.Terminate()

	var got error
	q.Submit("panics", func() error { panic("bad") }, func(err error) { got = err })
	q.Wait()

	require.Error(t, got)
	assert.Contains(t, got.Error(), "panicked")
}
