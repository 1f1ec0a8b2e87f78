package messagepipeline

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/illmade-knight/go-pullsink/pkg/types"
	"github.com/rs/zerolog"
)

// MaxBatchSize is the largest batch a consumer will accumulate. Larger
// configured values are clamped to it.
const MaxBatchSize = 1000

// DefaultBackoffInterval is the pause after a non-empty pull when no policy is configured.
const DefaultBackoffInterval = time.Second

// Reasons an envelope is left out of a decoded batch.
const (
	SkipNoMessage   = "no_message"
	SkipUndecodable = "undecodable"
)

// SubscriptionName returns the fully qualified resource name of a subscription.
func SubscriptionName(projectID, subscriptionID string) string {
	return fmt.Sprintf("projects/%s/subscriptions/%s", projectID, subscriptionID)
}

// BatchingConsumerConfig holds the per-run batch parameters.
type BatchingConsumerConfig struct {
	ProjectID      string
	SubscriptionID string
	BatchSize      int
	TimeWindow     time.Duration
	// NumRetries is validated here but only used by the transport's pull retries.
	NumRetries int
	// Backoff defaults to a FixedBackoff of DefaultBackoffInterval.
	Backoff BackoffPolicy
}

// NewBatchingConsumerDefaults provides a config with sensible defaults.
func NewBatchingConsumerDefaults(projectID, subscriptionID string) *BatchingConsumerConfig {
	return &BatchingConsumerConfig{
		ProjectID:      projectID,
		SubscriptionID: subscriptionID,
		BatchSize:      100,
		TimeWindow:     10 * time.Second,
		Backoff:        &FixedBackoff{Interval: DefaultBackoffInterval},
	}
}

// BatchingConsumer turns a stream of small, possibly empty pulls into batches
// bounded by count and elapsed time, decodes them, and later acknowledges them.
type BatchingConsumer struct {
	client       SubscriberClient
	subscription string
	batchSize    int
	timeWindow   time.Duration
	backoff      BackoffPolicy
	health       HealthSignal
	recorder     Recorder
	logger       zerolog.Logger

	// mu is held for a whole pull or acknowledge so ackIDs is never touched
	// while either is in flight.
	mu     sync.Mutex
	ackIDs []string
}

// NewBatchingConsumer validates cfg and resolves the subscription name.
// health and recorder may be nil.
func NewBatchingConsumer(
	cfg *BatchingConsumerConfig,
	client SubscriberClient,
	health HealthSignal,
	recorder Recorder,
	logger zerolog.Logger,
) (*BatchingConsumer, error) {
	if cfg == nil {
		return nil, errors.New("BatchingConsumerConfig cannot be nil")
	}
	if client == nil {
		return nil, errors.New("subscriber client cannot be nil")
	}
	if cfg.ProjectID == "" || cfg.SubscriptionID == "" {
		return nil, errors.New("project and subscription IDs are required")
	}
	if cfg.BatchSize < 1 {
		return nil, fmt.Errorf("batch size must be at least 1, got %d", cfg.BatchSize)
	}
	if cfg.TimeWindow <= 0 {
		return nil, fmt.Errorf("time window must be positive, got %s", cfg.TimeWindow)
	}
	if cfg.NumRetries < 0 {
		return nil, fmt.Errorf("num retries cannot be negative, got %d", cfg.NumRetries)
	}

	subscription := SubscriptionName(cfg.ProjectID, cfg.SubscriptionID)
	logger = logger.With().Str("component", "BatchingConsumer").Str("subscription", subscription).Logger()

	batchSize := cfg.BatchSize
	if batchSize > MaxBatchSize {
		logger.Warn().Int("configured_batch_size", batchSize).Int("batch_size", MaxBatchSize).Msg("Batch size above maximum, clamping.")
		batchSize = MaxBatchSize
	}

	backoff := cfg.Backoff
	if backoff == nil {
		backoff = &FixedBackoff{Interval: DefaultBackoffInterval}
	}
	if health == nil {
		health = nopHealth{}
	}
	if recorder == nil {
		recorder = NopRecorder{}
	}

	logger.Info().
		Int("batch_size", batchSize).
		Dur("time_window", cfg.TimeWindow).
		Int("num_retries", cfg.NumRetries).
		Msg("Batching consumer configured.")

	return &BatchingConsumer{
		client:       client,
		subscription: subscription,
		batchSize:    batchSize,
		timeWindow:   cfg.TimeWindow,
		backoff:      backoff,
		health:       health,
		recorder:     recorder,
		logger:       logger,
	}, nil
}

// BatchSize returns the effective, clamped batch size.
func (c *BatchingConsumer) BatchSize() int { return c.batchSize }

// Subscription returns the fully qualified subscription name.
func (c *BatchingConsumer) Subscription() string { return c.subscription }

// WaitForMessages pulls into batch until it holds BatchSize envelopes or the
// time window has elapsed. Empty pulls do not end the wait. A transport error
// is returned as a *TransportError with batch holding whatever arrived before it.
func (c *BatchingConsumer) WaitForMessages(ctx context.Context, batch *[]types.ReceivedMessage) error {
	start := time.Now()
	c.backoff.Reset()

	for len(*batch) < c.batchSize && time.Since(start) < c.timeWindow {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.health.Touch()

		remaining := c.batchSize - len(*batch)
		c.logger.Debug().Int("remaining", remaining).Msg("Messages waiting for.")

		received, err := c.client.Pull(ctx, c.subscription, remaining, true)
		c.recorder.RecordPull(len(received), err)
		if err != nil {
			return wrapTransport("pull", c.subscription, err)
		}
		if len(received) > remaining {
			c.logger.Warn().Int("requested", remaining).Int("received", len(received)).Msg("Pull returned more than requested, surplus left for redelivery.")
			received = received[:remaining]
		}
		*batch = append(*batch, received...)
		if len(*batch) >= c.batchSize {
			break
		}

		delay := c.backoff.Delay(len(received))
		if left := c.timeWindow - time.Since(start); delay > left {
			delay = left
		}
		if delay <= 0 {
			continue
		}
		if err := sleepContext(ctx, delay); err != nil {
			return err
		}
	}
	return nil
}

// PullMessages waits for one batch, decodes it and rebuilds the pending ack
// set from it. Errors are logged rather than returned; whatever was collected
// before an error is still decoded and returned.
func (c *BatchingConsumer) PullMessages(ctx context.Context) []types.DecodedMessage {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	batch := make([]types.ReceivedMessage, 0, c.batchSize)
	if err := c.WaitForMessages(ctx, &batch); err != nil {
		if ctx.Err() != nil {
			c.logger.Debug().Err(err).Int("collected", len(batch)).Msg("Pull interrupted by context.")
		} else {
			c.logger.Error().Err(err).Int("collected", len(batch)).Msg("Error pulling messages from subscription.")
		}
	}
	c.logger.Debug().Int("received", len(batch)).Msg("Messages received.")
	c.recorder.RecordBatch(len(batch), time.Since(start))

	return c.decodeBatch(batch)
}

// decodeBatch replaces the pending ack set with the ack IDs of every envelope
// that decodes, keeping decoded messages and ack IDs index-aligned.
func (c *BatchingConsumer) decodeBatch(batch []types.ReceivedMessage) []types.DecodedMessage {
	c.ackIDs = make([]string, 0, len(batch))
	decoded := make([]types.DecodedMessage, 0, len(batch))

	for _, received := range batch {
		msg := received.Message
		if msg == nil {
			c.logger.Debug().Str("ack_id", received.AckID).Msg("Envelope has no message, skipping.")
			c.recorder.RecordSkipped(SkipNoMessage)
			continue
		}
		payload, err := base64.StdEncoding.DecodeString(msg.Data)
		if err != nil {
			c.logger.Error().Err(err).
				Str("msg_id", msg.MessageID).
				Int("delivery_attempt", received.DeliveryAttempt).
				Msg("Message data is not valid base64, leaving it unacknowledged. It is redelivered until the subscription's dead-letter policy moves it aside.")
			c.recorder.RecordSkipped(SkipUndecodable)
			continue
		}
		decoded = append(decoded, types.DecodedMessage{
			ID:          msg.MessageID,
			Payload:     payload,
			PublishTime: msg.PublishTime,
			Attributes:  msg.Attributes,
		})
		c.ackIDs = append(c.ackIDs, received.AckID)
	}
	return decoded
}

// AckMessages acknowledges the pending ack set in a single request. An empty
// set makes no call at all, since Pub/Sub rejects an acknowledge with no IDs.
// On failure the set is kept and the error is returned as a *TransportError;
// the backend redelivers after its ack deadline.
func (c *BatchingConsumer) AckMessages(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.ackIDs) == 0 {
		c.logger.Debug().Msg("No pending acknowledgements, skipping acknowledge call.")
		return nil
	}

	err := c.client.Acknowledge(ctx, c.subscription, c.ackIDs)
	c.recorder.RecordAck(len(c.ackIDs), err)
	if err != nil {
		return wrapTransport("acknowledge", c.subscription, err)
	}
	c.logger.Debug().Int("acked", len(c.ackIDs)).Msg("Messages acknowledged.")
	c.ackIDs = nil
	return nil
}

// PendingAckIDs returns a copy of the ack IDs awaiting acknowledgement.
func (c *BatchingConsumer) PendingAckIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, len(c.ackIDs))
	copy(ids, c.ackIDs)
	return ids
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
