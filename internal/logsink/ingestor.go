package logsink

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/nulzo/chat-relay/internal/metrics"
	"go.uber.org/zap"
)

// Ingestor hands entries to background workers. Log never blocks: when the
// buffer is full the entry is dropped.
type Ingestor interface {
	Log(entry Entry)
	Start(ctx context.Context)
	Stop()
}

type Options struct {
	BufferSize int
	Workers    int
	Timeout    time.Duration
}

type ingestor struct {
	logger  *zap.Logger
	sink    Sink
	metrics *metrics.Recorder

	entries chan Entry
	workers int
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewIngestor(logger *zap.Logger, sink Sink, recorder *metrics.Recorder, opts Options) Ingestor {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 1000
	}
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	return &ingestor{
		logger:  logger,
		sink:    sink,
		metrics: recorder,
		entries: make(chan Entry, opts.BufferSize),
		workers: opts.Workers,
		timeout: opts.Timeout,
	}
}

func (i *ingestor) Log(entry Entry) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	if i.closed {
		return
	}

	select {
	case i.entries <- entry:
	default:
		i.metrics.ObserveDropped()
		i.logger.Warn("Log sink buffer full, dropping entry", zap.String("message", entry.Message))
	}
}

func (i *ingestor) Start(ctx context.Context) {
	for n := 0; n < i.workers; n++ {
		i.wg.Add(1)
		go i.worker(ctx)
	}
}

// Stop refuses new entries, lets the workers drain what is buffered and
// closes the sink if it holds a connection.
func (i *ingestor) Stop() {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return
	}
	i.closed = true
	close(i.entries)
	i.mu.Unlock()

	i.wg.Wait()

	if c, ok := i.sink.(io.Closer); ok {
		if err := c.Close(); err != nil {
			i.logger.Warn("Failed to close log sink", zap.Error(err))
		}
	}
}

func (i *ingestor) worker(ctx context.Context) {
	defer i.wg.Done()

	for {
		select {
		case entry, ok := <-i.entries:
			if !ok {
				return
			}
			i.send(entry)
		case <-ctx.Done():
			return
		}
	}
}

func (i *ingestor) send(entry Entry) {
	// detached from the request context: the request may finish first
	ctx, cancel := context.WithTimeout(context.Background(), i.timeout)
	defer cancel()

	if err := i.sink.Send(ctx, entry); err != nil {
		i.logger.Warn("Failed to ship request log", zap.Error(err))
	}
}
