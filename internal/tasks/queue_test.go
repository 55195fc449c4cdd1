// SPDX-License-Identifier: MIT

package tasks

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// recordingProcessor tracks processed task IDs and simulates outcomes.
type recordingProcessor struct {
	mu        sync.Mutex
	processed []string
	fail      map[string]error
	panics    map[string]bool
	done      chan string
}

func newRecordingProcessor() *recordingProcessor {
	return &recordingProcessor{
		fail:   make(map[string]error),
		panics: make(map[string]bool),
		done:   make(chan string, 64),
	}
}

func (p *recordingProcessor) Process(_ context.Context, task *Task) error {
	p.mu.Lock()
	p.processed = append(p.processed, task.ID)
	p.mu.Unlock()
	defer func() { p.done <- task.ID }()

	if p.panics[task.ID] {
		panic("boom")
	}
	return p.fail[task.ID]
}

func waitFor(t *testing.T, ch <-chan string, want string) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case id := <-ch:
			if id == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for task %s", want)
		}
	}
}

func TestQueueProcessesTask(t *testing.T) {
	defer goleak.VerifyNone(t)

	store, err := OpenJSONStore(filepath.Join(t.TempDir(), "tasks.json"))
	require.NoError(t, err)

	ctx := context.Background()
	task := newTask("q1", TypeImage, time.Now().UTC())
	require.NoError(t, store.Create(ctx, task))

	p := newRecordingProcessor()
	q := NewQueue(store, p, 2)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = q.Run(runCtx)
	}()

	require.NoError(t, q.Enqueue("q1"))
	waitFor(t, p.done, "q1")

	// Completion is written after Process returns; poll briefly.
	require.Eventually(t, func() bool {
		got, err := store.Get(ctx, "q1")
		return err == nil && got.Status == StatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestQueueMarksFailedTask(t *testing.T) {
	defer goleak.VerifyNone(t)

	store, err := OpenJSONStore(filepath.Join(t.TempDir(), "tasks.json"))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newTask("bad", TypeStarUML, time.Now().UTC())))

	p := newRecordingProcessor()
	p.fail["bad"] = errors.New("render exploded")
	q := NewQueue(store, p, 1)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = q.Run(runCtx)
	}()

	require.NoError(t, q.Enqueue("bad"))
	waitFor(t, p.done, "bad")

	require.Eventually(t, func() bool {
		got, err := store.Get(ctx, "bad")
		return err == nil && got.Status == StatusFailed
	}, 5*time.Second, 10*time.Millisecond)

	got, err := store.Get(ctx, "bad")
	require.NoError(t, err)
	assert.Contains(t, got.Error, "render exploded")

	cancel()
	<-done
}

func TestQueueSurvivesProcessorPanic(t *testing.T) {
	defer goleak.VerifyNone(t)

	store, err := OpenJSONStore(filepath.Join(t.TempDir(), "tasks.json"))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newTask("boomer", TypeImage, time.Now().UTC())))
	require.NoError(t, store.Create(ctx, newTask("after", TypeImage, time.Now().UTC())))

	p := newRecordingProcessor()
	p.panics["boomer"] = true
	q := NewQueue(store, p, 1)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = q.Run(runCtx)
	}()

	require.NoError(t, q.Enqueue("boomer"))
	require.NoError(t, q.Enqueue("after"))
	waitFor(t, p.done, "after")

	require.Eventually(t, func() bool {
		got, err := store.Get(ctx, "boomer")
		return err == nil && got.Status == StatusFailed
	}, 5*time.Second, 10*time.Millisecond)

	got, err := store.Get(ctx, "boomer")
	require.NoError(t, err)
	assert.Contains(t, got.Error, "panic")

	cancel()
	<-done
}

func TestQueueRecoversInterruptedTasks(t *testing.T) {
	defer goleak.VerifyNone(t)

	store, err := OpenJSONStore(filepath.Join(t.TempDir(), "tasks.json"))
	require.NoError(t, err)

	ctx := context.Background()

	// Simulate a crash: one task stuck in processing, one still pending.
	stuck := newTask("stuck", TypeImage, time.Now().UTC())
	stuck.Status = StatusProcessing
	stuck.Progress = 40
	require.NoError(t, store.Create(ctx, stuck))
	require.NoError(t, store.Create(ctx, newTask("waiting", TypeStarUML, time.Now().UTC())))

	p := newRecordingProcessor()
	q := NewQueue(store, p, 1)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = q.Run(runCtx)
	}()

	waitFor(t, p.done, "stuck")
	waitFor(t, p.done, "waiting")

	require.Eventually(t, func() bool {
		a, err1 := store.Get(ctx, "stuck")
		b, err2 := store.Get(ctx, "waiting")
		return err1 == nil && err2 == nil &&
			a.Status == StatusCompleted && b.Status == StatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestQueueEnqueueFullQueue(t *testing.T) {
	store, err := OpenJSONStore(filepath.Join(t.TempDir(), "tasks.json"))
	require.NoError(t, err)

	// Not running, so the channel fills up.
	q := NewQueue(store, newRecordingProcessor(), 1)
	for i := 0; i < 256; i++ {
		require.NoError(t, q.Enqueue("x"))
	}
	assert.Error(t, q.Enqueue("overflow"))
}
