package messagepipeline

import (
	"context"
	"time"

	"github.com/illmade-knight/go-pullsink/pkg/types"
)

// ====================================================================================
// This file defines the contracts between the batching consumer, the transport it
// pulls through, and the service loop that hands messages to processors.
// ====================================================================================

// --- Transport ---

// SubscriberClient is the narrow view of a Pub/Sub backend the consumer needs.
// Implementations authenticate themselves and surface failures as errors.
type SubscriberClient interface {
	// Pull requests up to maxMessages envelopes from the fully qualified subscription.
	// With returnImmediately set the call does not wait for messages to arrive.
	Pull(ctx context.Context, subscription string, maxMessages int, returnImmediately bool) ([]types.ReceivedMessage, error)
	// Acknowledge acks every id in a single request.
	Acknowledge(ctx context.Context, subscription string, ackIDs []string) error
}

// --- Consumer ---

// BatchConsumer is the part of the BatchingConsumer the PullService drives.
type BatchConsumer interface {
	// PullMessages accumulates one batch and returns its decoded messages.
	PullMessages(ctx context.Context) []types.DecodedMessage
	// AckMessages acknowledges every message returned by the last PullMessages call.
	AckMessages(ctx context.Context) error
}

// HealthSignal is touched once per polling iteration so a supervisor can tell
// the consumer is alive while it waits on the network.
type HealthSignal interface {
	Touch()
}

// --- Processor ---

// MessageProcessor handles one decoded message. A returned error aborts the
// rest of the cycle, and the cycle's messages are left unacknowledged.
type MessageProcessor func(ctx context.Context, msg types.DecodedMessage) error

// --- Observability ---

// Recorder receives operational measurements from the consumer and the service.
type Recorder interface {
	RecordPull(received int, err error)
	RecordSkipped(reason string)
	RecordBatch(size int, wait time.Duration)
	RecordAck(count int, err error)
	RecordCycle(outcome string, processed int)
}

// NopRecorder discards every measurement.
type NopRecorder struct{}

func (NopRecorder) RecordPull(int, error) {}
func (NopRecorder) RecordSkipped(string) {}
func (NopRecorder) RecordBatch(int, time.Duration) {}
func (NopRecorder) RecordAck(int, error) {}
func (NopRecorder) RecordCycle(string, int) {}

type nopHealth struct{}

func (nopHealth) Touch() {}
