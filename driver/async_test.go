package driver

import (
	"context"
	"sync"
	"testing"

	"github.com/shardwire/mongocore/internal/assert"
)

func TestAsyncExecutorRunsSubmittedWork(t *testing.T) {
	exec := NewAsyncExecutor(2)

	var wg sync.WaitGroup
	wg.Add(1)
	var gotErr error
	exec.Submit(context.Background(), func(ctx context.Context) error {
		return nil
	}, func(err error) {
		gotErr = err
		wg.Done()
	})

	wg.Wait()
	assert.NoError(t, gotErr)
}

func TestAsyncExecutorBoundsConcurrency(t *testing.T) {
	exec := NewAsyncExecutor(1)

	started := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(1)
	exec.Submit(context.Background(), func(ctx context.Context) error {
		started <- struct{}{}
		<-release
		return nil
	}, func(error) { wg.Done() })

	<-started // first operation now holds the only slot.

	secondStarted := make(chan struct{}, 1)
	wg.Add(1)
	exec.Submit(context.Background(), func(ctx context.Context) error {
		secondStarted <- struct{}{}
		return nil
	}, func(error) { wg.Done() })

	select {
	case <-secondStarted:
		t.Fatal("second operation ran while the only concurrency slot was held")
	default:
	}

	close(release)
	wg.Wait()
}

func TestAsyncExecutorCanceledContextSkipsWork(t *testing.T) {
	exec := NewAsyncExecutor(1)

	// Occupy the only slot so the next Submit has to wait, putting it on
	// the semaphore's slow path where a canceled context actually matters
	// (an uncontended Acquire succeeds regardless of ctx).
	started := make(chan struct{})
	release := make(chan struct{})
	var holderWG sync.WaitGroup
	holderWG.Add(1)
	exec.Submit(context.Background(), func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}, func(error) { holderWG.Done() })
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ran := false
	var wg sync.WaitGroup
	wg.Add(1)
	exec.Submit(ctx, func(ctx context.Context) error {
		ran = true
		return nil
	}, func(err error) {
		assert.Error(t, err)
		wg.Done()
	})

	wg.Wait()
	assert.False(t, ran)

	close(release)
	holderWG.Wait()
}
