package messagepipeline

import (
	"errors"
	"fmt"
)

// Cycle outcomes reported to the Recorder.
const (
	OutcomeEmpty           = "empty"
	OutcomeProcessed       = "processed"
	OutcomeProcessingError = "processing_error"
	OutcomeTransportError  = "transport_error"
	OutcomeUnexpectedError = "unexpected_error"
	OutcomeCanceled        = "canceled"
)

// TransportError is a network, auth or backend failure during a pull or acknowledge.
type TransportError struct {
	Op           string
	Subscription string
	Err          error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s on %s: %v", e.Op, e.Subscription, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProcessingError is a failure raised by a MessageProcessor.
type ProcessingError struct {
	MessageID string
	// Index is the position of the failing message within its batch.
	Index int
	Err   error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("processing message %s (index %d): %v", e.MessageID, e.Index, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

// wrapTransport tags err as a TransportError unless it already is one.
func wrapTransport(op, subscription string, err error) error {
	if err == nil {
		return nil
	}
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	return &TransportError{Op: op, Subscription: subscription, Err: err}
}

// classify maps a cycle error onto the outcome it is recorded under.
func classify(err error) string {
	var pe *ProcessingError
	var te *TransportError
	switch {
	case err == nil:
		return OutcomeProcessed
	case errors.As(err, &pe):
		return OutcomeProcessingError
	case errors.As(err, &te):
		return OutcomeTransportError
	default:
		return OutcomeUnexpectedError
	}
}
