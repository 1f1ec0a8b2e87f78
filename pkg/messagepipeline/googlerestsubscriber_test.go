package messagepipeline_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/illmade-knight/go-pullsink/pkg/messagepipeline"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

// fakePubsubREST stands in for the Pub/Sub v1 REST endpoints of one subscription.
type fakePubsubREST struct {
	mu         sync.Mutex
	pullStatus []int // status to answer each pull with; 200 once exhausted
	pullBody   string
	pulls      []map[string]interface{}
	acks       [][]string
}

func (f *fakePubsubREST) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/projects/test-project/subscriptions/test-sub:pull", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]interface{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		f.mu.Lock()
		call := len(f.pulls)
		f.pulls = append(f.pulls, req)
		status := http.StatusOK
		if call < len(f.pullStatus) {
			status = f.pullStatus[call]
		}
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = fmt.Fprintf(w, `{"error":{"code":%d,"message":"fake failure"}}`, status)
			return
		}
		_, _ = w.Write([]byte(f.pullBody))
	})
	mux.HandleFunc("/v1/projects/test-project/subscriptions/test-sub:acknowledge", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			AckIds []string `json:"ackIds"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		f.mu.Lock()
		f.acks = append(f.acks, req.AckIds)
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	})
	return mux
}

func (f *fakePubsubREST) pullCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pulls)
}

func newRESTSubscriber(t *testing.T, fake *fakePubsubREST, retries int) *messagepipeline.GoogleRESTSubscriber {
	t.Helper()
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)

	cfg := messagepipeline.NewGoogleSubscriberClientDefaults()
	cfg.NoAuth = true
	cfg.Endpoint = srv.URL + "/"
	cfg.NumRetries = retries
	cfg.RetryDelay = time.Millisecond

	sub, err := messagepipeline.NewGoogleRESTSubscriber(context.Background(), cfg, zerolog.Nop(), option.WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Close() })
	return sub
}

func TestGoogleRESTSubscriber_Pull(t *testing.T) {
	fake := &fakePubsubREST{pullBody: `{"receivedMessages":[
		{"ackId":"a1","deliveryAttempt":2,"message":{"data":"aGVsbG8=","messageId":"m1","publishTime":"2024-05-01T10:00:00.5Z","attributes":{"k":"v"}}},
		{"ackId":"a2"}
	]}`}
	sub := newRESTSubscriber(t, fake, 0)

	msgs, err := sub.Pull(context.Background(), "projects/test-project/subscriptions/test-sub", 7, true)

	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "a1", msgs[0].AckID)
	assert.Equal(t, 2, msgs[0].DeliveryAttempt)
	require.NotNil(t, msgs[0].Message)
	assert.Equal(t, "aGVsbG8=", msgs[0].Message.Data, "REST payloads stay base64-encoded")
	assert.Equal(t, "m1", msgs[0].Message.MessageID)
	assert.Equal(t, map[string]string{"k": "v"}, msgs[0].Message.Attributes)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 500_000_000, time.UTC), msgs[0].Message.PublishTime.UTC())
	assert.Nil(t, msgs[1].Message)

	require.Equal(t, 1, fake.pullCount())
	assert.Equal(t, float64(7), fake.pulls[0]["maxMessages"])
	assert.Equal(t, true, fake.pulls[0]["returnImmediately"])
}

func TestGoogleRESTSubscriber_PullRetriesTransientErrors(t *testing.T) {
	fake := &fakePubsubREST{
		pullStatus: []int{http.StatusServiceUnavailable},
		pullBody:   `{"receivedMessages":[{"ackId":"a1","message":{"data":"eA==","messageId":"m1"}}]}`,
	}
	sub := newRESTSubscriber(t, fake, 2)

	msgs, err := sub.Pull(context.Background(), "projects/test-project/subscriptions/test-sub", 1, true)

	require.NoError(t, err)
	assert.Len(t, msgs, 1)
	assert.GreaterOrEqual(t, fake.pullCount(), 2)
}

func TestGoogleRESTSubscriber_PullDoesNotRetryClientErrors(t *testing.T) {
	fake := &fakePubsubREST{pullStatus: []int{http.StatusBadRequest, http.StatusBadRequest, http.StatusBadRequest}}
	sub := newRESTSubscriber(t, fake, 2)

	_, err := sub.Pull(context.Background(), "projects/test-project/subscriptions/test-sub", 1, true)

	require.Error(t, err)
	assert.Equal(t, 1, fake.pullCount())
}

func TestGoogleRESTSubscriber_Acknowledge(t *testing.T) {
	fake := &fakePubsubREST{}
	sub := newRESTSubscriber(t, fake, 0)

	err := sub.Acknowledge(context.Background(), "projects/test-project/subscriptions/test-sub", []string{"a1", "a2"})

	require.NoError(t, err)
	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.Len(t, fake.acks, 1)
	assert.Equal(t, []string{"a1", "a2"}, fake.acks[0])
}

func TestGoogleRESTSubscriber_WithConsumer(t *testing.T) {
	fake := &fakePubsubREST{pullBody: `{"receivedMessages":[
		{"ackId":"a1","message":{"data":"b25l","messageId":"m1"}},
		{"ackId":"a2","message":{"data":"dHdv","messageId":"m2"}}
	]}`}
	sub := newRESTSubscriber(t, fake, 0)

	cfg := messagepipeline.NewBatchingConsumerDefaults("test-project", "test-sub")
	cfg.BatchSize = 2
	consumer, err := messagepipeline.NewBatchingConsumer(cfg, sub, nil, nil, zerolog.Nop())
	require.NoError(t, err)

	msgs := consumer.PullMessages(context.Background())
	require.Len(t, msgs, 2)
	assert.Equal(t, []byte("one"), msgs[0].Payload)
	assert.Equal(t, []byte("two"), msgs[1].Payload)

	require.NoError(t, consumer.AckMessages(context.Background()))
	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.Len(t, fake.acks, 1)
	assert.Equal(t, []string{"a1", "a2"}, fake.acks[0])
}
