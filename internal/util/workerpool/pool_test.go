package workerpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWorkerPool_RunsAndDrainsOnStop(t *testing.T) {
	p := NewWorkerPool(&Config{Name: "test", MaxWorkers: 2, QueueSize: 64, Logger: zap.NewNop()})

	var ran atomic.Int32
	for i := 0; i < 50; i++ {
		require.True(t, p.TrySubmit(Task{ID: "t", Fn: func(context.Context) error {
			ran.Add(1)
			return nil
		}}))
	}

	require.NoError(t, p.Stop(5*time.Second))
	assert.Equal(t, int32(50), ran.Load())

	stats := p.Stats()
	assert.Equal(t, uint64(50), stats.TotalTasks)
	assert.Equal(t, uint64(50), stats.CompletedTasks)
}

func TestWorkerPool_RejectsWhenFull(t *testing.T) {
	p := NewWorkerPool(&Config{Name: "full", MaxWorkers: 1, QueueSize: 1})

	release := make(chan struct{})
	started := make(chan struct{})
	require.True(t, p.TrySubmit(Task{Fn: func(context.Context) error {
		close(started)
		<-release
		return nil
	}}))
	<-started

	require.True(t, p.TrySubmit(Task{Fn: func(context.Context) error { return nil }}))
	assert.False(t, p.TrySubmit(Task{Fn: func(context.Context) error { return nil }}))
	assert.ErrorContains(t, p.Submit(Task{Fn: func(context.Context) error { return nil }}), "queue is full")

	close(release)
	require.NoError(t, p.Stop(time.Second))
	assert.Equal(t, uint64(2), p.Stats().RejectedTasks)
	assert.ErrorContains(t, p.Submit(Task{Fn: func(context.Context) error { return nil }}), "stopped")
}

func TestWorkerPool_FailuresAndPanics(t *testing.T) {
	p := NewWorkerPool(&Config{Name: "errs", MaxWorkers: 2, QueueSize: 8})

	var wg sync.WaitGroup
	wg.Add(2)
	p.TrySubmit(Task{ID: "err", Fn: func(context.Context) error {
		defer wg.Done()
		return errors.New("send failed")
	}})
	p.TrySubmit(Task{ID: "panic", Fn: func(context.Context) error {
		defer wg.Done()
		panic("boom")
	}})
	wg.Wait()

	require.NoError(t, p.Stop(time.Second))
	assert.Equal(t, uint64(2), p.Stats().FailedTasks)
}

func TestWorkerPool_StopIsIdempotent(t *testing.T) {
	p := NewWorkerPool(&Config{Name: "idem"})
	require.NoError(t, p.Stop(time.Second))
	require.NoError(t, p.Stop(time.Second))
}
