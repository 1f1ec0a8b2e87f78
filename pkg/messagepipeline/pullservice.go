package messagepipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/illmade-knight/go-pullsink/pkg/types"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/illmade-knight/go-pullsink/pkg/messagepipeline"

// DefaultSettleTimeout bounds processing and acknowledging a pulled batch.
const DefaultSettleTimeout = 30 * time.Second

// PullServiceConfig holds the optional collaborators of a PullService.
type PullServiceConfig struct {
	// Recorder defaults to NopRecorder.
	Recorder Recorder
	// Tracer defaults to the global OpenTelemetry tracer provider.
	Tracer trace.Tracer
	// SettleTimeout bounds processing and acknowledging a batch once it has
	// been pulled. Cancelling the loop's context does not interrupt this
	// phase. Defaults to DefaultSettleTimeout.
	SettleTimeout time.Duration
}

// PullService runs the pull, process, acknowledge cycle until its context ends.
// A failure in one cycle is logged and recorded and never stops the loop;
// the failed cycle's messages are redelivered by the backend.
type PullService struct {
	consumer  BatchConsumer
	processor MessageProcessor
	recorder  Recorder
	tracer    trace.Tracer
	settle    time.Duration
	logger    zerolog.Logger

	mu       sync.Mutex
	cancel   context.CancelFunc
	doneChan chan struct{}
}

// NewPullService creates a new PullService.
func NewPullService(
	cfg PullServiceConfig,
	consumer BatchConsumer,
	processor MessageProcessor,
	logger zerolog.Logger,
) (*PullService, error) {
	if consumer == nil {
		return nil, errors.New("consumer cannot be nil")
	}
	if processor == nil {
		return nil, errors.New("processor cannot be nil")
	}
	if cfg.Recorder == nil {
		cfg.Recorder = NopRecorder{}
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer(tracerName)
	}
	if cfg.SettleTimeout <= 0 {
		cfg.SettleTimeout = DefaultSettleTimeout
	}
	return &PullService{
		consumer:  consumer,
		processor: processor,
		recorder:  cfg.Recorder,
		tracer:    cfg.Tracer,
		settle:    cfg.SettleTimeout,
		logger:    logger.With().Str("service", "PullService").Logger(),
		doneChan:  make(chan struct{}),
	}, nil
}

// RunCycle performs one iteration. Messages are processed in pull order; the
// first processor failure aborts the remaining messages and the acknowledge.
// processed counts the messages whose processor returned successfully.
// ctx only interrupts the pull; a batch already pulled is processed and
// acknowledged under a detached context bounded by the settle timeout, so a
// shutdown does not leave processed messages to be redelivered.
func (s *PullService) RunCycle(ctx context.Context) (processed int, err error) {
	ctx, span := s.tracer.Start(ctx, "pullsink.cycle")
	defer func() {
		span.SetAttributes(attribute.Int("pullsink.messages.processed", processed))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during pull cycle: %v", r)
		}
	}()

	msgs := s.consumer.PullMessages(ctx)
	span.SetAttributes(attribute.Int("pullsink.messages.pulled", len(msgs)))
	if len(msgs) == 0 {
		return 0, nil
	}

	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.settle)
	defer cancel()

	for i, msg := range msgs {
		if err := s.process(settleCtx, i, msg); err != nil {
			return i, err
		}
	}

	if err := s.consumer.AckMessages(settleCtx); err != nil {
		return len(msgs), err
	}
	return len(msgs), nil
}

func (s *PullService) process(ctx context.Context, index int, msg types.DecodedMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &ProcessingError{MessageID: msg.ID, Index: index, Err: fmt.Errorf("processor panic: %v", r)}
		}
	}()
	if err := s.processor(ctx, msg); err != nil {
		return &ProcessingError{MessageID: msg.ID, Index: index, Err: err}
	}
	return nil
}

// Run loops over RunCycle until ctx is done, then returns nil.
func (s *PullService) Run(ctx context.Context) error {
	s.logger.Info().Msg("Pull loop started.")
	for {
		if ctx.Err() != nil {
			s.logger.Info().Msg("Pull loop stopped.")
			return nil
		}
		processed, err := s.RunCycle(ctx)
		s.observe(processed, err)
	}
}

func (s *PullService) observe(processed int, err error) {
	switch {
	case err == nil && processed == 0:
		s.recorder.RecordCycle(OutcomeEmpty, 0)
	case err == nil:
		s.recorder.RecordCycle(OutcomeProcessed, processed)
		s.logger.Debug().Int("processed", processed).Msg("Cycle processed and acknowledged.")
	case errors.Is(err, context.Canceled):
		s.recorder.RecordCycle(OutcomeCanceled, processed)
		s.logger.Info().Err(err).Int("processed", processed).Msg("Cycle canceled, messages left for redelivery.")
	default:
		outcome := classify(err)
		s.recorder.RecordCycle(outcome, processed)
		s.logger.Error().Err(err).Str("outcome", outcome).Int("processed", processed).Msg("Cycle failed, messages left for redelivery.")
	}
}

// Start runs the loop in a background goroutine.
func (s *PullService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return errors.New("pull service already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go func() {
		defer close(s.doneChan)
		_ = s.Run(runCtx)
	}()
	s.logger.Info().Msg("Pull service started.")
	return nil
}

// Stop cancels the loop and waits for the in-flight cycle to finish,
// bounded by ctx.
func (s *PullService) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}

	s.logger.Info().Msg("Stopping pull service...")
	cancel()
	select {
	case <-s.doneChan:
		s.logger.Info().Msg("Pull service stopped.")
		return nil
	case <-ctx.Done():
		s.logger.Error().Err(ctx.Err()).Msg("Timeout waiting for pull loop to finish.")
		return ctx.Err()
	}
}

// Done returns a channel that is closed once the service has stopped. For a
// service that was never started the channel is already closed.
func (s *PullService) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return s.doneChan
}
