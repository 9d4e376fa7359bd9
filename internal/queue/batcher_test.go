package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// manualTimers is a TimerFactory that never fires on its own; tests trigger
// or inspect the scheduled flushes explicitly.
type manualTimers struct {
	mu     sync.Mutex
	timers []*manualTimer
}

type manualTimer struct {
	fn      func()
	stopped bool
}

func (m *manualTimer) Stop() bool {
	was := m.stopped
	m.stopped = true
	return !was
}

func (f *manualTimers) New(d time.Duration, fn func()) TimerHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	timer := &manualTimer{fn: fn}
	f.timers = append(f.timers, timer)
	return timer
}

// fire runs the i-th scheduled timer the way time.AfterFunc would.
func (f *manualTimers) fire(i int) {
	f.mu.Lock()
	timer := f.timers[i]
	f.mu.Unlock()
	timer.fn()
}

func (f *manualTimers) armed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, timer := range f.timers {
		if !timer.stopped {
			n++
		}
	}
	return n
}

func (f *manualTimers) scheduled() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.timers)
}

type flushCall struct {
	key    string
	events []string
}

func eventTypes(t *testing.T, events []Job) []string {
	t.Helper()
	var types []string
	for _, e := range events {
		var ev struct {
			Content string `json:"content"`
		}
		require.NoError(t, e.Unmarshal(&ev))
		types = append(types, ev.Content)
	}
	return types
}

func batchJob(t *testing.T, content string) Job {
	t.Helper()
	body, err := json.Marshal(map[string]any{"content": content})
	require.NoError(t, err)
	job, err := DecodeJob(body)
	require.NoError(t, err)
	return job
}

func TestBatcherDeclarationErrors(t *testing.T) {
	sink := testSink(t)

	_, err := NewBatcher(BatcherConfig{}, testLogger(), sink, func(context.Context, string, []Job) error { return nil })
	assert.ErrorIs(t, err, ErrWorkerDeclaration)

	_, err = NewBatcher(BatcherConfig{QueueName: "q"}, testLogger(), sink, nil)
	assert.ErrorIs(t, err, ErrWorkerDeclaration)
}

func TestBatcherGroupsByKeyInArrivalOrder(t *testing.T) {
	timers := &manualTimers{}
	var calls []flushCall

	b, err := NewBatcher(BatcherConfig{QueueName: "missed", NewTimer: timers.New}, testLogger(), testSink(t),
		func(ctx context.Context, key string, events []Job) error {
			calls = append(calls, flushCall{key: key, events: eventTypes(t, events)})
			return nil
		})
	require.NoError(t, err)

	b.Add("hamlet", batchJob(t, "hi hamlet"))
	b.Add("hamlet", batchJob(t, "goodbye hamlet"))
	b.Add("othello", batchJob(t, "where art thou, othello?"))
	b.Add("hamlet", batchJob(t, "hello again hamlet"))

	// One timer per key, regardless of how many events piled up.
	assert.Equal(t, 2, timers.scheduled())
	assert.Equal(t, 2, b.PendingKeys())

	b.FlushAll(context.Background())
	require.Len(t, calls, 2)

	byKey := map[string][]string{}
	for _, c := range calls {
		byKey[c.key] = c.events
	}
	assert.Equal(t, []string{"hi hamlet", "goodbye hamlet", "hello again hamlet"}, byKey["hamlet"])
	assert.Equal(t, []string{"where art thou, othello?"}, byKey["othello"])
	assert.Equal(t, 0, b.PendingKeys())
}

func TestBatcherSecondEventDoesNotRearmTimer(t *testing.T) {
	timers := &manualTimers{}
	b, err := NewBatcher(BatcherConfig{QueueName: "missed", NewTimer: timers.New}, testLogger(), testSink(t),
		func(context.Context, string, []Job) error { return nil })
	require.NoError(t, err)

	b.Add("hamlet", batchJob(t, "first"))
	b.Add("hamlet", batchJob(t, "second"))
	b.Add("hamlet", batchJob(t, "third"))

	// The window anchors to the first arrival.
	assert.Equal(t, 1, timers.scheduled())
	assert.Equal(t, 1, timers.armed())
}

func TestBatcherTimerFireFlushesAndIdles(t *testing.T) {
	timers := &manualTimers{}
	var calls []flushCall

	b, err := NewBatcher(BatcherConfig{QueueName: "missed", NewTimer: timers.New}, testLogger(), testSink(t),
		func(ctx context.Context, key string, events []Job) error {
			calls = append(calls, flushCall{key: key, events: eventTypes(t, events)})
			return nil
		})
	require.NoError(t, err)

	b.Add("hamlet", batchJob(t, "one"))
	b.Add("hamlet", batchJob(t, "two"))
	timers.fire(0)

	require.Len(t, calls, 1)
	assert.Equal(t, "hamlet", calls[0].key)
	assert.Equal(t, []string{"one", "two"}, calls[0].events)
	assert.Equal(t, 0, b.PendingKeys(), "key is idle after its window flushes")

	// The next event for the key starts a fresh window with a new timer.
	b.Add("hamlet", batchJob(t, "three"))
	assert.Equal(t, 2, timers.scheduled())
}

func TestBatcherManualFlushCancelsTimer(t *testing.T) {
	timers := &manualTimers{}
	var calls int

	b, err := NewBatcher(BatcherConfig{QueueName: "missed", NewTimer: timers.New}, testLogger(), testSink(t),
		func(ctx context.Context, key string, events []Job) error {
			calls++
			return nil
		})
	require.NoError(t, err)

	b.Add("hamlet", batchJob(t, "one"))
	b.FlushAll(context.Background())
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, timers.armed())

	// A stale timer firing after the manual flush must not produce a
	// second, duplicate flush.
	timers.fire(0)
	assert.Equal(t, 1, calls)
}

func TestBatcherStaleTimerDoesNotFlushNextWindow(t *testing.T) {
	timers := &manualTimers{}
	var calls []flushCall

	b, err := NewBatcher(BatcherConfig{QueueName: "missed", NewTimer: timers.New}, testLogger(), testSink(t),
		func(ctx context.Context, key string, events []Job) error {
			calls = append(calls, flushCall{key: key, events: eventTypes(t, events)})
			return nil
		})
	require.NoError(t, err)

	b.Add("hamlet", batchJob(t, "window one"))
	b.FlushAll(context.Background())

	// New window opens before the first window's timer gets to run.
	b.Add("hamlet", batchJob(t, "window two"))
	timers.fire(0)

	require.Len(t, calls, 1, "the stale timer must not flush the new window early")
	assert.Equal(t, []string{"window one"}, calls[0].events)
	assert.Equal(t, 1, b.PendingKeys())
}

func TestBatcherFlushFailureQuarantines(t *testing.T) {
	timers := &manualTimers{}
	sink := testSink(t)

	b, err := NewBatcher(BatcherConfig{QueueName: "missed", NewTimer: timers.New}, testLogger(), sink,
		func(ctx context.Context, key string, events []Job) error {
			return errors.New("notifier down")
		})
	require.NoError(t, err)

	b.Add("hamlet", batchJob(t, "lost one"))
	b.Add("hamlet", batchJob(t, "lost two"))
	b.FlushAll(context.Background())

	// Events were already acked when they were batched; the sink is the
	// no-data-loss fallback.
	lines := quarantineLines(t, sink, "missed")
	require.Len(t, lines, 1)
	require.Len(t, lines[0], 2)
	assert.Equal(t, "lost one", lines[0][0]["content"])
	assert.Equal(t, "lost two", lines[0][1]["content"])
}

func TestBatcherZeroWindowWithRealTimers(t *testing.T) {
	var mu sync.Mutex
	counts := map[string]int{}

	b, err := NewBatcher(BatcherConfig{QueueName: "missed", Window: time.Millisecond}, testLogger(), testSink(t),
		func(ctx context.Context, key string, events []Job) error {
			mu.Lock()
			counts[key] += len(events)
			mu.Unlock()
			return nil
		})
	require.NoError(t, err)

	b.Add("A", batchJob(t, "a1"))
	b.Add("A", batchJob(t, "a2"))
	b.Add("A", batchJob(t, "a3"))
	b.Add("B", batchJob(t, "b1"))
	b.FlushAll(context.Background())

	// FlushAll already drained everything; give any racing timers a chance
	// to fire and verify they stayed no-ops.
	time.Sleep(10 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, map[string]int{"A": 3, "B": 1}, counts)
}
