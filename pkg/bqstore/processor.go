package bqstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"cloud.google.com/go/bigquery"
	"github.com/illmade-knight/go-pullsink/pkg/messagepipeline"
	"github.com/illmade-knight/go-pullsink/pkg/types"
)

// MessageRow is the BigQuery row written for every message.
type MessageRow struct {
	MessageID   string    `bigquery:"message_id"`
	PublishTime time.Time `bigquery:"publish_time"`
	Payload     []byte    `bigquery:"payload"`
	// PayloadText holds the payload when it is valid UTF-8.
	PayloadText bigquery.NullString `bigquery:"payload_text"`
	// Attributes is the message attributes as a JSON object.
	Attributes string    `bigquery:"attributes"`
	IngestedAt time.Time `bigquery:"ingested_at"`
}

// NewMessageRow converts a decoded message into a row.
func NewMessageRow(msg types.DecodedMessage, ingestedAt time.Time) (*MessageRow, error) {
	row := &MessageRow{
		MessageID:   msg.ID,
		PublishTime: msg.PublishTime,
		Payload:     msg.Payload,
		IngestedAt:  ingestedAt,
	}
	if utf8.Valid(msg.Payload) {
		row.PayloadText = bigquery.NullString{StringVal: string(msg.Payload), Valid: true}
	}
	if len(msg.Attributes) > 0 {
		attrs, err := json.Marshal(msg.Attributes)
		if err != nil {
			return nil, fmt.Errorf("encoding attributes of %s: %w", msg.ID, err)
		}
		row.Attributes = string(attrs)
	}
	return row, nil
}

// NewBigQueryProcessor returns a processor inserting one row per message.
func NewBigQueryProcessor(inserter DataBatchInserter[MessageRow]) (messagepipeline.MessageProcessor, error) {
	if inserter == nil {
		return nil, errors.New("inserter cannot be nil")
	}
	return func(ctx context.Context, msg types.DecodedMessage) error {
		row, err := NewMessageRow(msg, time.Now().UTC())
		if err != nil {
			return err
		}
		return inserter.InsertBatch(ctx, []*MessageRow{row})
	}, nil
}
