package missedmessage

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banterhq/banter/domain/email"
	"github.com/banterhq/banter/internal/queue"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type manualTimer struct {
	fn      func()
	stopped bool
}

func (t *manualTimer) Stop() bool {
	was := t.stopped
	t.stopped = true
	return !was
}

type manualTimers struct {
	timers []*manualTimer
}

func (m *manualTimers) factory(d time.Duration, fn func()) queue.TimerHandle {
	t := &manualTimer{fn: fn}
	m.timers = append(m.timers, t)
	return t
}

func (m *manualTimers) fire(i int) {
	t := m.timers[i]
	if !t.stopped {
		t.fn()
	}
}

func newTestWorker(t *testing.T, client queue.Client, timers *manualTimers) *Worker {
	t.Helper()
	sink := queue.NewErrorSink(t.TempDir(), testLogger())
	worker, err := NewWorker(Config{
		Window:   2 * time.Minute,
		NewTimer: timers.factory,
	}, client, testLogger(), sink)
	require.NoError(t, err)
	worker.Setup(client)
	return worker
}

// ingest publishes the events and runs the consumer until the local backlog
// drains.
func ingest(t *testing.T, client queue.Client, worker *Worker, events ...Event) {
	t.Helper()
	ctx := context.Background()
	for _, event := range events {
		require.NoError(t, Publish(ctx, client, event))
	}
	require.NoError(t, worker.Start(ctx))
}

func drainDigests(t *testing.T, client queue.Client) []email.SendEvent {
	t.Helper()
	bodies, err := client.Drain(context.Background(), email.QueueName, 0)
	require.NoError(t, err)
	digests := make([]email.SendEvent, 0, len(bodies))
	for _, body := range bodies {
		job, err := queue.DecodeJob(body)
		require.NoError(t, err)
		var send email.SendEvent
		require.NoError(t, job.Unmarshal(&send))
		digests = append(digests, send)
	}
	return digests
}

func TestWorker_AggregatesPerUser(t *testing.T) {
	client := queue.NewLocalClient()
	timers := &manualTimers{}
	worker := newTestWorker(t, client, timers)

	ingest(t, client, worker,
		Event{UserID: 7, Email: "hamlet@elsinore.dk", Name: "Hamlet", MessageID: 1, Sender: "Othello", Content: "one"},
		Event{UserID: 7, Email: "hamlet@elsinore.dk", Name: "Hamlet", MessageID: 2, Sender: "Othello", Content: "two"},
		Event{UserID: 7, Email: "hamlet@elsinore.dk", Name: "Hamlet", MessageID: 3, Sender: "Iago", Content: "three"},
		Event{UserID: 8, Email: "iago@elsinore.dk", MessageID: 4, Sender: "Hamlet", Content: "four"},
	)
	assert.Equal(t, 2, worker.PendingUsers())

	worker.FlushAll(context.Background())
	assert.Equal(t, 0, worker.PendingUsers())

	digests := drainDigests(t, client)
	require.Len(t, digests, 2)

	byTo := map[string]email.SendEvent{}
	for _, d := range digests {
		byTo[d.To] = d
	}
	hamlet, ok := byTo["hamlet@elsinore.dk"]
	require.True(t, ok)
	assert.Equal(t, TemplateName, hamlet.Template)
	assert.Equal(t, "Hamlet", hamlet.ToName)
	assert.EqualValues(t, 3, hamlet.Context["message_count"])

	iago, ok := byTo["iago@elsinore.dk"]
	require.True(t, ok)
	assert.EqualValues(t, 1, iago.Context["message_count"])
}

func TestWorker_TimerFireSendsDigest(t *testing.T) {
	client := queue.NewLocalClient()
	timers := &manualTimers{}
	worker := newTestWorker(t, client, timers)

	ingest(t, client, worker,
		Event{UserID: 7, Email: "hamlet@elsinore.dk", MessageID: 1, Sender: "Othello", Content: "one"},
		Event{UserID: 7, Email: "hamlet@elsinore.dk", MessageID: 2, Sender: "Othello", Content: "two"},
	)
	require.Len(t, timers.timers, 1)

	timers.fire(0)
	digests := drainDigests(t, client)
	require.Len(t, digests, 1)
	assert.EqualValues(t, 2, digests[0].Context["message_count"])
}

func TestWorker_StopFlushesPendingWindows(t *testing.T) {
	client := queue.NewLocalClient()
	timers := &manualTimers{}
	worker := newTestWorker(t, client, timers)

	ingest(t, client, worker,
		Event{UserID: 7, Email: "hamlet@elsinore.dk", MessageID: 1, Sender: "Othello", Content: "one"},
	)
	require.NoError(t, worker.Stop(context.Background()))

	digests := drainDigests(t, client)
	require.Len(t, digests, 1)
	assert.Equal(t, "hamlet@elsinore.dk", digests[0].To)
}

func TestWorker_MalformedEventIsQuarantined(t *testing.T) {
	client := queue.NewLocalClient()
	dir := t.TempDir()
	sink := queue.NewErrorSink(dir, testLogger())
	worker, err := NewWorker(Config{
		Window:   2 * time.Minute,
		NewTimer: (&manualTimers{}).factory,
	}, client, testLogger(), sink)
	require.NoError(t, err)
	worker.Setup(client)

	ctx := context.Background()
	require.NoError(t, Publish(ctx, client, Event{UserID: 7, MessageID: 1})) // no email
	require.NoError(t, worker.Start(ctx))

	assert.Equal(t, 0, worker.PendingUsers())
	data, err := os.ReadFile(sink.Path(QueueName))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"user_id":7`)

	line := strings.TrimSpace(string(data))
	_, payload, found := strings.Cut(line, "\t")
	require.True(t, found)
	assert.True(t, json.Valid([]byte(payload)))
}

func TestBuildDigest_SenderNameOnlyWhenSingleSender(t *testing.T) {
	same := buildDigest([]Event{
		{UserID: 7, Email: "a@b.c", Sender: "Othello", Content: "one"},
		{UserID: 7, Email: "a@b.c", Sender: "Othello", Content: "two"},
	})
	assert.Equal(t, "Othello", same.Context["sender_name"])
	assert.Equal(t, false, same.Context["single"])

	mixed := buildDigest([]Event{
		{UserID: 7, Email: "a@b.c", Sender: "Othello", Content: "one"},
		{UserID: 7, Email: "a@b.c", Sender: "Iago", Content: "two"},
	})
	_, hasSender := mixed.Context["sender_name"]
	assert.False(t, hasSender)
}

func TestBuildDigest_CollectsTriggers(t *testing.T) {
	send := buildDigest([]Event{
		{UserID: 7, Email: "a@b.c", Sender: "Othello", Trigger: "mention"},
		{UserID: 7, Email: "a@b.c", Sender: "Othello", Trigger: "private_message"},
	})
	assert.Equal(t, []string{"mention", "private_message"}, send.Context["triggers"])
}
