package messagepipeline

import (
	"context"
	"errors"
	"time"

	"github.com/avast/retry-go"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// --- Google Cloud Pub/Sub subscriber clients ---

// GoogleSubscriberClientConfig holds the settings shared by the REST and gRPC
// subscriber clients.
type GoogleSubscriberClientConfig struct {
	CredentialsFile string // Optional
	// Endpoint overrides the service endpoint, e.g. for an emulator.
	Endpoint string
	// NoAuth disables authentication. Only meant for emulators and tests.
	NoAuth bool
	// NumRetries is how many times a failed pull is retried. Acknowledge is never retried.
	NumRetries int
	RetryDelay time.Duration
}

// NewGoogleSubscriberClientDefaults provides a config with sensible defaults.
func NewGoogleSubscriberClientDefaults() *GoogleSubscriberClientConfig {
	return &GoogleSubscriberClientConfig{
		RetryDelay: 200 * time.Millisecond,
	}
}

func (cfg *GoogleSubscriberClientConfig) clientOptions(logger zerolog.Logger, grpcTransport bool) []option.ClientOption {
	var opts []option.ClientOption
	switch {
	case cfg.NoAuth:
		opts = append(opts, option.WithoutAuthentication())
		if grpcTransport {
			opts = append(opts, option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
		}
		logger.Warn().Msg("Pub/Sub client authentication disabled.")
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
		logger.Info().Str("credentials_file", cfg.CredentialsFile).Msg("Using specified credentials file for Pub/Sub client.")
	default:
		logger.Info().Msg("Using Application Default Credentials (ADC) for Pub/Sub client.")
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	return opts
}

// pullRetrier retries pulls that fail with a transient error.
type pullRetrier struct {
	attempts  uint
	delay     time.Duration
	retryable func(error) bool
	logger    zerolog.Logger
}

func newPullRetrier(cfg *GoogleSubscriberClientConfig, retryable func(error) bool, logger zerolog.Logger) pullRetrier {
	retries := cfg.NumRetries
	if retries < 0 {
		retries = 0
	}
	delay := cfg.RetryDelay
	if delay <= 0 {
		delay = 200 * time.Millisecond
	}
	return pullRetrier{
		attempts:  uint(retries) + 1,
		delay:     delay,
		retryable: retryable,
		logger:    logger,
	}
}

func (r pullRetrier) do(ctx context.Context, fn func() error) error {
	return retry.Do(
		fn,
		retry.Context(ctx),
		retry.Attempts(r.attempts),
		retry.Delay(r.delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return false
			}
			return r.retryable(err)
		}),
		retry.OnRetry(func(n uint, err error) {
			r.logger.Warn().Err(err).Uint("attempt", n+1).Msg("Pull failed with a transient error, retrying.")
		}),
	)
}
