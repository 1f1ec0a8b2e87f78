package bqstore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/illmade-knight/go-pullsink/pkg/bqstore"
	"github.com/illmade-knight/go-pullsink/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessageRow(t *testing.T) {
	publishTime := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	ingestedAt := publishTime.Add(time.Second)

	row, err := bqstore.NewMessageRow(types.DecodedMessage{
		ID:          "m1",
		Payload:     []byte(`{"temp":21.5}`),
		PublishTime: publishTime,
		Attributes:  map[string]string{"device": "d1"},
	}, ingestedAt)

	require.NoError(t, err)
	assert.Equal(t, "m1", row.MessageID)
	assert.Equal(t, publishTime, row.PublishTime)
	assert.Equal(t, ingestedAt, row.IngestedAt)
	assert.Equal(t, bigquery.NullString{StringVal: `{"temp":21.5}`, Valid: true}, row.PayloadText)
	assert.JSONEq(t, `{"device":"d1"}`, row.Attributes)
}

func TestNewMessageRow_BinaryPayload(t *testing.T) {
	row, err := bqstore.NewMessageRow(types.DecodedMessage{ID: "m1", Payload: []byte{0xff, 0x00}}, time.Now())

	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0x00}, row.Payload)
	assert.False(t, row.PayloadText.Valid)
	assert.Empty(t, row.Attributes)
}

func TestMessageRow_SchemaInference(t *testing.T) {
	schema, err := bigquery.InferSchema(bqstore.MessageRow{})
	require.NoError(t, err)

	fields := make(map[string]bigquery.FieldType)
	for _, f := range schema {
		fields[f.Name] = f.Type
	}
	assert.Equal(t, bigquery.StringFieldType, fields["message_id"])
	assert.Equal(t, bigquery.TimestampFieldType, fields["publish_time"])
	assert.Equal(t, bigquery.BytesFieldType, fields["payload"])
	assert.Equal(t, bigquery.StringFieldType, fields["payload_text"])
	assert.Equal(t, bigquery.TimestampFieldType, fields["ingested_at"])
}

func TestBigQueryProcessor_InsertsOneRowPerMessage(t *testing.T) {
	inserter := &MockDataBatchInserter[bqstore.MessageRow]{}
	processor, err := bqstore.NewBigQueryProcessor(inserter)
	require.NoError(t, err)

	require.NoError(t, processor(context.Background(), types.DecodedMessage{ID: "m1", Payload: []byte("a")}))
	require.NoError(t, processor(context.Background(), types.DecodedMessage{ID: "m2", Payload: []byte("b")}))

	received := inserter.GetReceivedItems()
	require.Len(t, received, 2)
	require.Len(t, received[0], 1)
	assert.Equal(t, "m1", received[0][0].MessageID)
	assert.Equal(t, "m2", received[1][0].MessageID)
	assert.False(t, received[1][0].IngestedAt.IsZero())
}

func TestBigQueryProcessor_PropagatesInsertError(t *testing.T) {
	insertErr := errors.New("quota exceeded")
	inserter := &MockDataBatchInserter[bqstore.MessageRow]{
		InsertBatchFn: func(context.Context, []*bqstore.MessageRow) error { return insertErr },
	}
	processor, err := bqstore.NewBigQueryProcessor(inserter)
	require.NoError(t, err)

	err = processor(context.Background(), types.DecodedMessage{ID: "m1"})
	assert.ErrorIs(t, err, insertErr)
}

func TestNewBigQueryProcessor_RequiresInserter(t *testing.T) {
	_, err := bqstore.NewBigQueryProcessor(nil)
	assert.Error(t, err)
}
