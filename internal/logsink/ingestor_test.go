package logsink

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type recordingSink struct {
	mu      sync.Mutex
	entries []Entry
	err     error
	block   chan struct{}
}

func (s *recordingSink) Send(ctx context.Context, entry Entry) error {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func TestIngestor_DeliversAndDrains(t *testing.T) {
	sink := &recordingSink{}
	ing := NewIngestor(zap.NewNop(), sink, nil, Options{BufferSize: 10, Workers: 1})
	ing.Start(context.Background())

	for n := 0; n < 5; n++ {
		ing.Log(NewEntry("m", []byte(`{}`)))
	}
	ing.Stop()

	assert.Equal(t, 5, sink.count())
}

func TestIngestor_FailingSinkIsSwallowed(t *testing.T) {
	sink := &recordingSink{err: errors.New("sink down")}
	ing := NewIngestor(zap.NewNop(), sink, nil, Options{BufferSize: 1, Workers: 1})
	ing.Start(context.Background())

	assert.NotPanics(t, func() {
		ing.Log(NewEntry("m", []byte(`{}`)))
		ing.Stop()
	})
	assert.Equal(t, 1, sink.count())
}

func TestIngestor_LogNeverBlocks(t *testing.T) {
	block := make(chan struct{})
	sink := &recordingSink{block: block}
	ing := NewIngestor(zap.NewNop(), sink, nil, Options{BufferSize: 1, Workers: 1, Timeout: time.Second})
	ing.Start(context.Background())

	done := make(chan struct{})
	go func() {
		// worker holds one, buffer holds one, the rest are dropped
		for n := 0; n < 50; n++ {
			ing.Log(NewEntry("m", []byte(`{}`)))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Log blocked on a stalled sink")
	}

	close(block)
	ing.Stop()
	assert.LessOrEqual(t, sink.count(), 2)
}

func TestIngestor_LogAfterStop(t *testing.T) {
	ing := NewIngestor(zap.NewNop(), &recordingSink{}, nil, Options{})
	ing.Start(context.Background())
	ing.Stop()

	assert.NotPanics(t, func() {
		ing.Log(NewEntry("m", []byte(`{}`)))
		ing.Stop()
	})
}
