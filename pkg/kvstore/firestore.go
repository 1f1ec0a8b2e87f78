package kvstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"github.com/illmade-knight/go-pullsink/pkg/messagepipeline"
	"github.com/illmade-knight/go-pullsink/pkg/types"
	"github.com/rs/zerolog"
)

// MessageDocument is the Firestore document written for every message.
type MessageDocument struct {
	Payload     []byte            `firestore:"payload"`
	PublishTime time.Time         `firestore:"publish_time"`
	Attributes  map[string]string `firestore:"attributes,omitempty"`
	IngestedAt  time.Time         `firestore:"ingested_at"`
}

// DocumentWriter creates or overwrites one document.
type DocumentWriter interface {
	Set(ctx context.Context, collection, id string, data interface{}) error
}

type firestoreAdapter struct {
	client *firestore.Client
}

// NewFirestoreDocumentWriter wraps a *firestore.Client as a DocumentWriter.
func NewFirestoreDocumentWriter(client *firestore.Client) DocumentWriter {
	if client == nil {
		return nil
	}
	return &firestoreAdapter{client: client}
}

func (a *firestoreAdapter) Set(ctx context.Context, collection, id string, data interface{}) error {
	_, err := a.client.Collection(collection).Doc(id).Set(ctx, data)
	return err
}

// FirestoreSink writes one document per message, keyed by message ID, so a
// redelivered message overwrites its earlier document.
type FirestoreSink struct {
	writer     DocumentWriter
	collection string
	logger     zerolog.Logger
}

// NewFirestoreSink creates a sink writing into collection.
func NewFirestoreSink(writer DocumentWriter, collection string, logger zerolog.Logger) (*FirestoreSink, error) {
	if writer == nil {
		return nil, errors.New("firestore writer cannot be nil")
	}
	if collection == "" {
		return nil, errors.New("firestore collection is required")
	}
	return &FirestoreSink{
		writer:     writer,
		collection: collection,
		logger:     logger.With().Str("component", "FirestoreSink").Str("collection", collection).Logger(),
	}, nil
}

// Store writes msg. Messages without an ID get a random UUID.
func (s *FirestoreSink) Store(ctx context.Context, msg types.DecodedMessage) error {
	id := msg.ID
	if id == "" {
		id = uuid.New().String()
	}
	doc := MessageDocument{
		Payload:     msg.Payload,
		PublishTime: msg.PublishTime,
		Attributes:  msg.Attributes,
		IngestedAt:  time.Now().UTC(),
	}
	if err := s.writer.Set(ctx, s.collection, id, doc); err != nil {
		return fmt.Errorf("firestore set for %s: %w", id, err)
	}
	s.logger.Debug().Str("doc_id", id).Msg("Message stored in Firestore.")
	return nil
}

// Processor adapts the sink to the pull service.
func (s *FirestoreSink) Processor() messagepipeline.MessageProcessor {
	return s.Store
}
