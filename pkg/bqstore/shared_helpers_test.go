package bqstore_test

import (
	"context"
	"sync"

	"github.com/illmade-knight/go-pullsink/pkg/types"
)

// MockDataBatchInserter is a mock implementation of bqstore.DataBatchInserter.
type MockDataBatchInserter[T any] struct {
	mu            sync.Mutex
	receivedItems [][]*T
	InsertBatchFn func(ctx context.Context, items []*T) error
}

func (m *MockDataBatchInserter[T]) InsertBatch(ctx context.Context, items []*T) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.receivedItems = append(m.receivedItems, items)
	if m.InsertBatchFn != nil {
		return m.InsertBatchFn(ctx, items)
	}
	return nil
}

func (m *MockDataBatchInserter[T]) Close() error { return nil }

func (m *MockDataBatchInserter[T]) GetReceivedItems() [][]*T {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.receivedItems
}

func testMessage(id, payload string) types.DecodedMessage {
	return types.DecodedMessage{ID: id, Payload: []byte(payload)}
}
