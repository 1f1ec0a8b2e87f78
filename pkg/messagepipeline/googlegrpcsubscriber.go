package messagepipeline

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	vkit "cloud.google.com/go/pubsub/apiv1"
	"cloud.google.com/go/pubsub/apiv1/pubsubpb"
	"github.com/illmade-knight/go-pullsink/pkg/types"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// GoogleGRPCSubscriber implements SubscriberClient over the Pub/Sub gRPC API.
// gRPC carries raw bytes, so payloads are base64-encoded into the same envelope
// the REST API produces.
type GoogleGRPCSubscriber struct {
	client  *vkit.SubscriberClient
	retrier pullRetrier
	logger  zerolog.Logger
}

// NewGoogleGRPCSubscriber creates a gRPC subscriber client. The client library
// honours PUBSUB_EMULATOR_HOST. Extra options are applied after those derived from cfg.
func NewGoogleGRPCSubscriber(
	ctx context.Context,
	cfg *GoogleSubscriberClientConfig,
	logger zerolog.Logger,
	opts ...option.ClientOption,
) (*GoogleGRPCSubscriber, error) {
	if cfg == nil {
		return nil, errors.New("GoogleSubscriberClientConfig cannot be nil")
	}
	logger = logger.With().Str("component", "GoogleGRPCSubscriber").Logger()

	clientOpts := append(cfg.clientOptions(logger, true), opts...)
	client, err := vkit.NewSubscriberClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("pubsub.NewSubscriberClient: %w", err)
	}
	// Drop the library's built-in retries: pulls are retried by the pull
	// retrier only and acknowledgements are never retried.
	client.CallOptions.Pull = nil
	client.CallOptions.Acknowledge = nil
	return &GoogleGRPCSubscriber{
		client:  client,
		retrier: newPullRetrier(cfg, isRetryableGRPC, logger),
		logger:  logger,
	}, nil
}

// Pull issues one synchronous Pull RPC.
func (s *GoogleGRPCSubscriber) Pull(ctx context.Context, subscription string, maxMessages int, returnImmediately bool) ([]types.ReceivedMessage, error) {
	req := &pubsubpb.PullRequest{
		Subscription:      subscription,
		MaxMessages:       int32(maxMessages),
		ReturnImmediately: returnImmediately, //nolint:staticcheck // needed for a non-blocking pull
	}

	var resp *pubsubpb.PullResponse
	err := s.retrier.do(ctx, func() error {
		var pullErr error
		resp, pullErr = s.client.Pull(ctx, req)
		return pullErr
	})
	if err != nil {
		return nil, fmt.Errorf("gRPC pull failed: %w", err)
	}

	received := make([]types.ReceivedMessage, 0, len(resp.GetReceivedMessages()))
	for _, rm := range resp.GetReceivedMessages() {
		msg := types.ReceivedMessage{
			AckID:           rm.GetAckId(),
			DeliveryAttempt: int(rm.GetDeliveryAttempt()),
		}
		if m := rm.GetMessage(); m != nil {
			msg.Message = &types.PubsubMessage{
				Data:       base64.StdEncoding.EncodeToString(m.GetData()),
				MessageID:  m.GetMessageId(),
				Attributes: m.GetAttributes(),
			}
			if m.GetPublishTime() != nil {
				msg.Message.PublishTime = m.GetPublishTime().AsTime()
			}
		}
		received = append(received, msg)
	}
	return received, nil
}

// Acknowledge issues one Acknowledge RPC.
func (s *GoogleGRPCSubscriber) Acknowledge(ctx context.Context, subscription string, ackIDs []string) error {
	err := s.client.Acknowledge(ctx, &pubsubpb.AcknowledgeRequest{
		Subscription: subscription,
		AckIds:       ackIDs,
	})
	if err != nil {
		return fmt.Errorf("gRPC acknowledge failed: %w", err)
	}
	return nil
}

// Close releases the underlying gRPC connection.
func (s *GoogleGRPCSubscriber) Close() error {
	return s.client.Close()
}

func isRetryableGRPC(err error) bool {
	switch status.Code(err) {
	case codes.Unavailable, codes.ResourceExhausted, codes.Aborted, codes.Internal:
		return true
	default:
		return false
	}
}
