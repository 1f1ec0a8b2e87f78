package icestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/illmade-knight/go-pullsink/pkg/messagepipeline"
	"github.com/illmade-knight/go-pullsink/pkg/types"
	"github.com/rs/zerolog"
)

// GCSArchiverConfig holds the destination of archived messages.
type GCSArchiverConfig struct {
	BucketName   string
	ObjectPrefix string
}

// ArchivedMessage is the JSON document stored for each message.
type ArchivedMessage struct {
	ID          string            `json:"id"`
	PublishTime time.Time         `json:"publish_time"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	// Payload is base64-encoded by encoding/json.
	Payload    []byte    `json:"payload"`
	ArchivedAt time.Time `json:"archived_at"`
}

// GCSArchiver writes every message it processes to its own GCS object.
type GCSArchiver struct {
	client GCSClient
	config GCSArchiverConfig
	now    func() time.Time
	logger zerolog.Logger
}

// NewGCSArchiver creates an archiver for the configured bucket.
func NewGCSArchiver(client GCSClient, config GCSArchiverConfig, logger zerolog.Logger) (*GCSArchiver, error) {
	if client == nil {
		return nil, errors.New("GCS client cannot be nil")
	}
	if config.BucketName == "" {
		return nil, errors.New("GCS bucket name is required")
	}
	return &GCSArchiver{
		client: client,
		config: config,
		now:    time.Now,
		logger: logger.With().Str("component", "GCSArchiver").Str("bucket", config.BucketName).Logger(),
	}, nil
}

// ObjectName returns <prefix>/<yyyy>/<mm>/<dd>/<id>.json, dated by publish
// time, or by archive time when the publish time is unknown.
func (a *GCSArchiver) ObjectName(id string, publishTime, archivedAt time.Time) string {
	day := publishTime
	if day.IsZero() {
		day = archivedAt
	}
	day = day.UTC()
	return path.Join(
		a.config.ObjectPrefix,
		fmt.Sprintf("%04d", day.Year()),
		fmt.Sprintf("%02d", int(day.Month())),
		fmt.Sprintf("%02d", day.Day()),
		id+".json",
	)
}

// Archive stores msg and returns the object name it was written to. Messages
// without an ID are stored under a random UUID.
func (a *GCSArchiver) Archive(ctx context.Context, msg types.DecodedMessage) (string, error) {
	id := msg.ID
	if id == "" {
		id = uuid.New().String()
	}
	record := ArchivedMessage{
		ID:          id,
		PublishTime: msg.PublishTime,
		Attributes:  msg.Attributes,
		Payload:     msg.Payload,
		ArchivedAt:  a.now().UTC(),
	}
	objectName := a.ObjectName(id, msg.PublishTime, record.ArchivedAt)

	data, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("json encoding failed for %s: %w", objectName, err)
	}

	w := a.client.Bucket(a.config.BucketName).Object(objectName).NewWriter(ctx, "application/json")
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("failed to write GCS object %s: %w", objectName, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to close GCS object writer for %s: %w", objectName, err)
	}

	a.logger.Debug().Str("object_name", objectName).Int("bytes_written", len(data)).Msg("Message archived.")
	return objectName, nil
}

// Processor adapts the archiver to the pull service.
func (a *GCSArchiver) Processor() messagepipeline.MessageProcessor {
	return func(ctx context.Context, msg types.DecodedMessage) error {
		_, err := a.Archive(ctx, msg)
		return err
	}
}
