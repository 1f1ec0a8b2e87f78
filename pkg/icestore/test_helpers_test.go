package icestore_test

import (
	"bytes"
	"context"
	"errors"
	"sync"

	"github.com/illmade-knight/go-pullsink/pkg/icestore"
)

// --- Mock GCS Client Components ---

// mockGCSWriter writes to an in-memory buffer.
type mockGCSWriter struct {
	mu       sync.Mutex
	buf      bytes.Buffer
	closed   bool
	closeErr error
}

func (m *mockGCSWriter) Write(p []byte) (n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, errors.New("write on closed writer")
	}
	return m.buf.Write(p)
}

func (m *mockGCSWriter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.New("already closed")
	}
	m.closed = true
	return m.closeErr
}

func (m *mockGCSWriter) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.buf.Bytes()
}

type mockGCSObjectHandle struct {
	writer      *mockGCSWriter
	contentType string
	closeErr    error
}

func (m *mockGCSObjectHandle) NewWriter(_ context.Context, contentType string) icestore.GCSWriter {
	m.contentType = contentType
	if m.writer == nil {
		m.writer = &mockGCSWriter{closeErr: m.closeErr}
	}
	return m.writer
}

// mockGCSBucketHandle keeps every object it hands out.
type mockGCSBucketHandle struct {
	mu       sync.Mutex
	objects  map[string]*mockGCSObjectHandle
	closeErr error
}

func (m *mockGCSBucketHandle) Object(name string) icestore.GCSObjectHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objects == nil {
		m.objects = make(map[string]*mockGCSObjectHandle)
	}
	if _, ok := m.objects[name]; !ok {
		m.objects[name] = &mockGCSObjectHandle{closeErr: m.closeErr}
	}
	return m.objects[name]
}

func (m *mockGCSBucketHandle) object(name string) (*mockGCSObjectHandle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.objects[name]
	return h, ok
}

type mockGCSClient struct {
	bucket     *mockGCSBucketHandle
	bucketName string
}

func newMockGCSClient() *mockGCSClient {
	return &mockGCSClient{bucket: &mockGCSBucketHandle{}}
}

func (m *mockGCSClient) Bucket(name string) icestore.GCSBucketHandle {
	m.bucketName = name
	return m.bucket
}
