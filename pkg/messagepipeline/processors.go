package messagepipeline

import (
	"context"
	"unicode/utf8"

	"github.com/illmade-knight/go-pullsink/pkg/types"
	"github.com/rs/zerolog"
)

// NewLogProcessor returns a processor that logs every message it is given.
// Payloads that are not valid UTF-8 are logged as their size only.
func NewLogProcessor(logger zerolog.Logger) MessageProcessor {
	logger = logger.With().Str("component", "LogProcessor").Logger()
	return func(_ context.Context, msg types.DecodedMessage) error {
		event := logger.Info().Str("msg_id", msg.ID).Int("size", len(msg.Payload))
		if utf8.Valid(msg.Payload) {
			event = event.Str("payload", string(msg.Payload))
		}
		event.Msg("Message received.")
		return nil
	}
}

// ChainProcessors runs processors in order and stops at the first error.
func ChainProcessors(processors ...MessageProcessor) MessageProcessor {
	return func(ctx context.Context, msg types.DecodedMessage) error {
		for _, p := range processors {
			if err := p(ctx, msg); err != nil {
				return err
			}
		}
		return nil
	}
}
