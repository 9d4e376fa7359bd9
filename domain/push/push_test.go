package push

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banterhq/banter/internal/queue"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func pushJob(t *testing.T, event Event) queue.Job {
	t.Helper()
	client := queue.NewLocalClient()
	require.NoError(t, Publish(context.Background(), client, event))
	bodies, err := client.Drain(context.Background(), QueueName, 1)
	require.NoError(t, err)
	require.Len(t, bodies, 1)
	job, err := queue.DecodeJob(bodies[0])
	require.NoError(t, err)
	return job
}

func bouncerServer(t *testing.T, status int, got *[]Event) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/remotes/push/notify", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		if got != nil {
			var event Event
			require.NoError(t, decodeJSON(r.Body, &event))
			*got = append(*got, event)
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func decodeJSON(r io.Reader, v any) error {
	return json.NewDecoder(r).Decode(v)
}

func TestWorker_Consume_ForwardsToBouncer(t *testing.T) {
	var got []Event
	srv := bouncerServer(t, http.StatusOK, &got)
	bouncer := NewHTTPBouncer(srv.URL, "test-token", time.Second, testLogger())
	worker := NewWorker(bouncer, testLogger())

	err := worker.Consume(context.Background(), pushJob(t, Event{
		Type:       EventAdd,
		UserID:     42,
		MessageIDs: []int64{101, 102},
	}))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, EventAdd, got[0].Type)
	assert.Equal(t, int64(42), got[0].UserID)
	assert.Equal(t, []int64{101, 102}, got[0].MessageIDs)
}

func TestWorker_Consume_BouncerUnavailableIsRetryable(t *testing.T) {
	srv := bouncerServer(t, http.StatusBadGateway, nil)
	bouncer := NewHTTPBouncer(srv.URL, "test-token", time.Second, testLogger())
	worker := NewWorker(bouncer, testLogger())

	err := worker.Consume(context.Background(), pushJob(t, Event{Type: EventRemove, UserID: 42}))
	require.Error(t, err)
	assert.False(t, queue.IsPermanent(err))
}

func TestWorker_Consume_BouncerRejectionIsPermanent(t *testing.T) {
	srv := bouncerServer(t, http.StatusUnprocessableEntity, nil)
	bouncer := NewHTTPBouncer(srv.URL, "test-token", time.Second, testLogger())
	worker := NewWorker(bouncer, testLogger())

	err := worker.Consume(context.Background(), pushJob(t, Event{Type: EventAdd, UserID: 42}))
	require.Error(t, err)
	assert.True(t, queue.IsPermanent(err))
}

func TestWorker_Consume_NetworkErrorIsRetryable(t *testing.T) {
	srv := bouncerServer(t, http.StatusOK, nil)
	url := srv.URL
	srv.Close()
	bouncer := NewHTTPBouncer(url, "test-token", time.Second, testLogger())
	worker := NewWorker(bouncer, testLogger())

	err := worker.Consume(context.Background(), pushJob(t, Event{Type: EventAdd, UserID: 42}))
	require.Error(t, err)
	assert.False(t, queue.IsPermanent(err))
}

func TestWorker_Consume_MalformedEventIsPermanent(t *testing.T) {
	worker := NewWorker(&noOpBouncer{log: testLogger()}, testLogger())

	tests := []struct {
		name  string
		event Event
	}{
		{name: "unknown type", event: Event{Type: "poke", UserID: 42}},
		{name: "missing user", event: Event{Type: EventAdd}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := worker.Consume(context.Background(), pushJob(t, tt.event))
			require.Error(t, err)
			assert.True(t, queue.IsPermanent(err))
		})
	}
}

func TestWorker_Consume_NoOpBouncerDropsEvent(t *testing.T) {
	worker := NewWorker(&noOpBouncer{log: testLogger()}, testLogger())
	err := worker.Consume(context.Background(), pushJob(t, Event{Type: EventAdd, UserID: 42}))
	assert.NoError(t, err)
}
