package logger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	channelBuffer = 10_000
	batchSize     = 100
	flushInterval = time.Second
	shipTimeout   = 5 * time.Second
)

// Entry is one log line as shipped to external sinks.
type Entry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Component string         `json:"component"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Sink delivers a batch of entries to one external destination.
type Sink interface {
	Name() string
	Ship(ctx context.Context, entries []Entry) error
}

// Shipper fans log entries out to sinks in batches so shipping never blocks
// the request path. Entries are written to a buffered channel and flushed by
// a background goroutine; if the channel fills up, new entries are dropped
// and counted in Dropped.
type Shipper struct {
	ch        chan Entry
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	dropped int64

	baseCtx context.Context
	sinks   []Sink
	log     *slog.Logger
}

// NewShipper starts the background flush loop. Sink failures are logged to
// slogger and otherwise swallowed.
func NewShipper(ctx context.Context, slogger *slog.Logger, sinks ...Sink) *Shipper {
	s := &Shipper{
		ch:      make(chan Entry, channelBuffer),
		done:    make(chan struct{}),
		baseCtx: ctx,
		sinks:   sinks,
		log:     slogger,
	}
	s.wg.Add(1)
	go s.run()
	return s
}

// Enqueue submits an entry without blocking. Entries beyond the buffer are
// dropped.
func (s *Shipper) Enqueue(e Entry) {
	select {
	case s.ch <- e:
	default:
		atomic.AddInt64(&s.dropped, 1)
	}
}

// Dropped returns how many entries were discarded because the buffer was
// full.
func (s *Shipper) Dropped() int64 {
	return atomic.LoadInt64(&s.dropped)
}

// Close drains buffered entries, flushes them, and stops the loop.
func (s *Shipper) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
	})
	s.wg.Wait()
	return nil
}

func (s *Shipper) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]Entry, 0, batchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		for _, sink := range s.sinks {
			ctx, cancel := context.WithTimeout(s.baseCtx, shipTimeout)
			if err := sink.Ship(ctx, batch); err != nil && s.log != nil {
				s.log.Warn("log sink delivery failed",
					slog.String("sink", sink.Name()),
					slog.Int("entries", len(batch)),
					slog.Any("error", err),
				)
			}
			cancel()
		}
		batch = batch[:0]
	}

	for {
		select {
		case entry := <-s.ch:
			batch = append(batch, entry)
			if len(batch) >= batchSize {
				flush()
			}

		case <-ticker.C:
			flush()

		case <-s.done:
			for {
				select {
				case entry := <-s.ch:
					batch = append(batch, entry)
					if len(batch) >= batchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}
