package audit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Sink persists a batch of events.
type Sink interface {
	WriteEvents(ctx context.Context, events []Event) error
}

// Writer provides buffered, async writing of audit events
type Writer struct {
	sink   Sink
	logger *zap.Logger

	// Buffered channel for incoming events
	buffer chan Event

	batchSize     int
	flushInterval time.Duration
	workers       int
	writeTimeout  time.Duration

	// Lifecycle
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once

	stats writerStats
}

type writerStats struct {
	received      atomic.Int64
	written       atomic.Int64
	batches       atomic.Int64
	writeErrors   atomic.Int64
	failed        atomic.Int64
	dropped       atomic.Int64
	lastFlushTime atomic.Value // time.Time
}

// WriterConfig holds configuration for the audit writer
type WriterConfig struct {
	BufferSize    int           // Size of the event buffer
	BatchSize     int           // Max events per sink write
	FlushInterval time.Duration // How often to flush incomplete batches
	Workers       int           // Number of concurrent write workers
	WriteTimeout  time.Duration // Deadline for one sink write
}

// DefaultWriterConfig returns sensible defaults for an interactive client
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		BufferSize:    1024,
		BatchSize:     50,
		FlushInterval: 500 * time.Millisecond,
		Workers:       1,
		WriteTimeout:  10 * time.Second,
	}
}

// NewWriter creates a buffered writer. Call Start before Record.
func NewWriter(sink Sink, cfg WriterConfig, logger *zap.Logger) *Writer {
	def := DefaultWriterConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Writer{
		sink:          sink,
		logger:        logger.Named("audit"),
		buffer:        make(chan Event, cfg.BufferSize),
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		workers:       cfg.Workers,
		writeTimeout:  cfg.WriteTimeout,
		ctx:           ctx,
		cancel:        cancel,
	}
	w.stats.lastFlushTime.Store(time.Time{})
	return w
}

// Start begins the background write workers
func (w *Writer) Start() {
	for i := 0; i < w.workers; i++ {
		w.wg.Add(1)
		go w.writeWorker()
	}
}

// Record queues an event and returns immediately. When the buffer is full
// the event is dropped and counted.
func (w *Writer) Record(e Event) {
	w.stats.received.Add(1)
	e.stamp(time.Now())

	select {
	case w.buffer <- e:
	default:
		w.stats.dropped.Add(1)
	}
}

func (w *Writer) writeWorker() {
	defer w.wg.Done()

	batch := make([]Event, 0, w.batchSize)
	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case e := <-w.buffer:
			batch = append(batch, e)
			if len(batch) >= w.batchSize {
				w.writeBatch(batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				w.writeBatch(batch)
				batch = batch[:0]
			}

		case <-w.ctx.Done():
			w.drainBuffer(batch)
			return
		}
	}
}

// drainBuffer writes all remaining events during shutdown
func (w *Writer) drainBuffer(current []Event) {
	if len(current) > 0 {
		w.writeBatch(current)
	}

	batch := make([]Event, 0, w.batchSize)
	for {
		select {
		case e := <-w.buffer:
			batch = append(batch, e)
			if len(batch) >= w.batchSize {
				w.writeBatch(batch)
				batch = batch[:0]
			}
		default:
			if len(batch) > 0 {
				w.writeBatch(batch)
			}
			return
		}
	}
}

func (w *Writer) writeBatch(batch []Event) {
	ctx, cancel := context.WithTimeout(context.Background(), w.writeTimeout)
	defer cancel()

	// The sink may retain the slice; hand it a copy since batch is reused.
	events := make([]Event, len(batch))
	copy(events, batch)

	if err := w.sink.WriteEvents(ctx, events); err != nil {
		w.stats.writeErrors.Add(1)
		w.stats.failed.Add(int64(len(events)))
		w.logger.Warn("audit batch write failed", zap.Int("events", len(events)), zap.Error(err))
		return
	}
	w.stats.written.Add(int64(len(events)))
	w.stats.batches.Add(1)
	w.stats.lastFlushTime.Store(time.Now())
}

// Stop drains the buffer and waits for workers, up to timeout.
func (w *Writer) Stop(timeout time.Duration) error {
	var err error
	w.stopOnce.Do(func() {
		w.cancel()

		done := make(chan struct{})
		go func() {
			w.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(timeout):
			err = fmt.Errorf("audit writer shutdown timed out after %s", timeout)
		}
	})
	return err
}

// Stats is a point-in-time view of writer activity
type Stats struct {
	Received       int64
	Written        int64
	Batches        int64
	WriteErrors    int64
	Failed         int64 // events lost with a failed batch
	Dropped        int64
	BufferSize     int
	BufferCapacity int
	LastFlushTime  time.Time
}

// Pending returns the number of events still waiting for a write attempt
func (s Stats) Pending() int64 {
	return s.Received - s.Written - s.Failed - s.Dropped
}

// Stats returns current counters
func (w *Writer) Stats() Stats {
	lastFlush, _ := w.stats.lastFlushTime.Load().(time.Time)
	return Stats{
		Received:       w.stats.received.Load(),
		Written:        w.stats.written.Load(),
		Batches:        w.stats.batches.Load(),
		WriteErrors:    w.stats.writeErrors.Load(),
		Failed:         w.stats.failed.Load(),
		Dropped:        w.stats.dropped.Load(),
		BufferSize:     len(w.buffer),
		BufferCapacity: cap(w.buffer),
		LastFlushTime:  lastFlush,
	}
}
