package messagepipeline_test

import (
	"context"
	"encoding/base64"
	"sync"
	"time"

	"github.com/illmade-knight/go-pullsink/pkg/types"
)

// ====================================================================================
// This file contains mocks for the interfaces defined in this package.
// ====================================================================================

// envelope builds a ReceivedMessage carrying payload the way the REST API does.
func envelope(ackID, msgID string, payload []byte) types.ReceivedMessage {
	return types.ReceivedMessage{
		AckID: ackID,
		Message: &types.PubsubMessage{
			Data:      base64.StdEncoding.EncodeToString(payload),
			MessageID: msgID,
		},
	}
}

// --- MockSubscriberClient ---

type pullCall struct {
	Subscription      string
	MaxMessages       int
	ReturnImmediately bool
}

// MockSubscriberClient serves scripted pull responses. Once Responses is
// exhausted every pull is empty, unless PullFn is set, in which case PullFn
// answers every call.
type MockSubscriberClient struct {
	mu        sync.Mutex
	Responses [][]types.ReceivedMessage
	PullFn    func(call int, maxMessages int) ([]types.ReceivedMessage, error)
	AckErr    error

	pulls []pullCall
	acks  [][]string
}

func (m *MockSubscriberClient) Pull(_ context.Context, subscription string, maxMessages int, returnImmediately bool) ([]types.ReceivedMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	call := len(m.pulls)
	m.pulls = append(m.pulls, pullCall{Subscription: subscription, MaxMessages: maxMessages, ReturnImmediately: returnImmediately})
	if m.PullFn != nil {
		return m.PullFn(call, maxMessages)
	}
	if call < len(m.Responses) {
		return m.Responses[call], nil
	}
	return nil, nil
}

func (m *MockSubscriberClient) Acknowledge(ctx context.Context, _ string, ackIDs []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, len(ackIDs))
	copy(ids, ackIDs)
	m.acks = append(m.acks, ids)
	return m.AckErr
}

func (m *MockSubscriberClient) GetPulls() []pullCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]pullCall, len(m.pulls))
	copy(out, m.pulls)
	return out
}

func (m *MockSubscriberClient) GetAcks() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]string, len(m.acks))
	copy(out, m.acks)
	return out
}

// --- countingHealth ---

type countingHealth struct {
	mu      sync.Mutex
	touches int
}

func (h *countingHealth) Touch() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.touches++
}

func (h *countingHealth) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.touches
}

// --- MockBatchConsumer ---

// MockBatchConsumer hands out scripted batches, then empty ones.
type MockBatchConsumer struct {
	mu       sync.Mutex
	Batches  [][]types.DecodedMessage
	AckErr   error
	pulls    int
	acks     int
	ackedLen []int
	current  int
}

func (m *MockBatchConsumer) PullMessages(ctx context.Context) []types.DecodedMessage {
	m.mu.Lock()
	call := m.pulls
	m.pulls++
	m.mu.Unlock()

	if call < len(m.Batches) {
		m.mu.Lock()
		m.current = len(m.Batches[call])
		m.mu.Unlock()
		return m.Batches[call]
	}
	// Behave like an empty time window without holding up the test.
	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Millisecond):
	}
	m.mu.Lock()
	m.current = 0
	m.mu.Unlock()
	return nil
}

func (m *MockBatchConsumer) AckMessages(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acks++
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.AckErr != nil {
		return m.AckErr
	}
	m.ackedLen = append(m.ackedLen, m.current)
	return nil
}

func (m *MockBatchConsumer) GetAckCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acks
}

func (m *MockBatchConsumer) GetAckedLens() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int, len(m.ackedLen))
	copy(out, m.ackedLen)
	return out
}

func (m *MockBatchConsumer) GetPullCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pulls
}

// --- recordingProcessor ---

type recordingProcessor struct {
	mu   sync.Mutex
	seen []string
	// FailOn makes the processor fail for the message with this ID.
	FailOn  string
	PanicOn string
	Err     error
}

func (p *recordingProcessor) Process(_ context.Context, msg types.DecodedMessage) error {
	p.mu.Lock()
	p.seen = append(p.seen, msg.ID)
	p.mu.Unlock()
	if msg.ID == p.PanicOn {
		panic("processor exploded")
	}
	if msg.ID == p.FailOn {
		return p.Err
	}
	return nil
}

func (p *recordingProcessor) Seen() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.seen))
	copy(out, p.seen)
	return out
}

// --- fakeRecorder ---

type fakeRecorder struct {
	mu       sync.Mutex
	outcomes []string
	skipped  []string
	pulls    int
	acks     int
}

func (r *fakeRecorder) RecordPull(int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pulls++
}

func (r *fakeRecorder) RecordSkipped(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skipped = append(r.skipped, reason)
}

func (r *fakeRecorder) RecordBatch(int, time.Duration) {}

func (r *fakeRecorder) RecordAck(int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.acks++
}

func (r *fakeRecorder) RecordCycle(outcome string, _ int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

func (r *fakeRecorder) Outcomes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.outcomes))
	copy(out, r.outcomes)
	return out
}

func (r *fakeRecorder) Skipped() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.skipped))
	copy(out, r.skipped)
	return out
}

func decoded(ids ...string) []types.DecodedMessage {
	msgs := make([]types.DecodedMessage, len(ids))
	for i, id := range ids {
		msgs[i] = types.DecodedMessage{ID: id, Payload: []byte("payload-" + id)}
	}
	return msgs
}
