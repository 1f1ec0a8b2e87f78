package messagepipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/illmade-knight/go-pullsink/pkg/types"
	"github.com/rs/zerolog"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	pubsubapi "google.golang.org/api/pubsub/v1"
)

// GoogleRESTSubscriber implements SubscriberClient over the Pub/Sub v1 REST API.
// Payloads arrive base64-encoded, exactly as the consumer expects them.
type GoogleRESTSubscriber struct {
	service *pubsubapi.Service
	retrier pullRetrier
	logger  zerolog.Logger
}

// NewGoogleRESTSubscriber creates an authenticated REST client. Extra options are
// applied after those derived from cfg.
func NewGoogleRESTSubscriber(
	ctx context.Context,
	cfg *GoogleSubscriberClientConfig,
	logger zerolog.Logger,
	opts ...option.ClientOption,
) (*GoogleRESTSubscriber, error) {
	if cfg == nil {
		return nil, errors.New("GoogleSubscriberClientConfig cannot be nil")
	}
	logger = logger.With().Str("component", "GoogleRESTSubscriber").Logger()

	clientOpts := cfg.clientOptions(logger, false)
	clientOpts = append(clientOpts, option.WithScopes(pubsubapi.PubsubScope))
	clientOpts = append(clientOpts, opts...)

	service, err := pubsubapi.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("pubsub.NewService: %w", err)
	}
	return &GoogleRESTSubscriber{
		service: service,
		retrier: newPullRetrier(cfg, isRetryableHTTP, logger),
		logger:  logger,
	}, nil
}

// Pull issues one projects.subscriptions.pull request.
func (s *GoogleRESTSubscriber) Pull(ctx context.Context, subscription string, maxMessages int, returnImmediately bool) ([]types.ReceivedMessage, error) {
	req := &pubsubapi.PullRequest{
		MaxMessages:       int64(maxMessages),
		ReturnImmediately: returnImmediately,
	}

	var resp *pubsubapi.PullResponse
	err := s.retrier.do(ctx, func() error {
		var pullErr error
		resp, pullErr = s.service.Projects.Subscriptions.Pull(subscription, req).Context(ctx).Do()
		return pullErr
	})
	if err != nil {
		return nil, fmt.Errorf("REST pull failed: %w", err)
	}

	received := make([]types.ReceivedMessage, 0, len(resp.ReceivedMessages))
	for _, rm := range resp.ReceivedMessages {
		if rm == nil {
			continue
		}
		msg := types.ReceivedMessage{
			AckID:           rm.AckId,
			DeliveryAttempt: int(rm.DeliveryAttempt),
		}
		if rm.Message != nil {
			msg.Message = &types.PubsubMessage{
				Data:        rm.Message.Data,
				MessageID:   rm.Message.MessageId,
				PublishTime: parsePublishTime(rm.Message.PublishTime),
				Attributes:  rm.Message.Attributes,
			}
		}
		received = append(received, msg)
	}
	return received, nil
}

// Acknowledge issues one projects.subscriptions.acknowledge request.
func (s *GoogleRESTSubscriber) Acknowledge(ctx context.Context, subscription string, ackIDs []string) error {
	req := &pubsubapi.AcknowledgeRequest{AckIds: ackIDs}
	if _, err := s.service.Projects.Subscriptions.Acknowledge(subscription, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("REST acknowledge failed: %w", err)
	}
	return nil
}

// Close is a no-op; the REST service holds no connections of its own.
func (s *GoogleRESTSubscriber) Close() error { return nil }

func isRetryableHTTP(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= http.StatusInternalServerError
	}
	// Anything else never reached the API, e.g. a refused connection.
	return true
}

func parsePublishTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t
}
