// Package sink implements the bounded, time- and size-triggered transcript batch writer (C3).
package sink

import (
	"context"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kgr0831/transcription-worker/internal/metrics"
	"github.com/kgr0831/transcription-worker/internal/store"
)

const (
	// DefaultBatchSize flushes once the queue reaches this length.
	DefaultBatchSize = 10
	// DefaultBatchInterval flushes the oldest pending row once it has waited this long.
	DefaultBatchInterval = 100 * time.Millisecond
	// DefaultQueueCap is the hard cap; past it the oldest pending row is dropped.
	DefaultQueueCap = 500
)

// Inserter is the subset of store.Gateway the sink needs.
type Inserter interface {
	InsertTranscripts(ctx context.Context, rows []store.TranscriptRow) error
	GetRoom(ctx context.Context, roomID uuid.UUID) (*store.Room, error)
}

// TimebaseReader converts a wall-clock instant to seconds-from-t0.
type TimebaseReader interface {
	Relative(now time.Time) (float64, error)
}

// Config tunes the sink's batching behavior; zero values fall back to the package defaults.
type Config struct {
	BatchSize     int
	BatchInterval time.Duration
	QueueCap      int
}

// pending is a transcript row captured before its relative timestamp is known.
type pending struct {
	row        store.TranscriptRow
	enqueuedAt time.Time
}

// Sink is the per-room transcript batch writer. Exactly one exists per owned room; C4 instances
// enqueue into it from their own goroutines, and it serializes flushes on its own loop.
type Sink struct {
	gw   Inserter
	tb   TimebaseReader
	room uuid.UUID

	batchSize     int
	batchInterval time.Duration
	queueCap      int

	mu    sync.Mutex
	queue []pending

	dropped int64

	orgOnce sync.Once
	orgRef  string

	ctx    context.Context
	cancel context.CancelFunc
	wake   chan struct{}
	done   chan struct{}

	log *log.Logger
}

// New constructs a sink for roomID and starts its flush loop.
func New(ctx context.Context, gw Inserter, tb TimebaseReader, roomID uuid.UUID, cfg Config) *Sink {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchInterval <= 0 {
		cfg.BatchInterval = DefaultBatchInterval
	}
	if cfg.QueueCap <= 0 {
		cfg.QueueCap = DefaultQueueCap
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &Sink{
		gw:            gw,
		tb:            tb,
		room:          roomID,
		batchSize:     cfg.BatchSize,
		batchInterval: cfg.BatchInterval,
		queueCap:      cfg.QueueCap,
		ctx:           sctx,
		cancel:        cancel,
		wake:          make(chan struct{}, 1),
		done:          make(chan struct{}),
		log:           log.New(os.Stdout, "[sink:"+roomID.String()+"] ", log.LstdFlags),
	}
	go s.run()
	return s
}

// Enqueue adds a finalized transcript fragment. Only is_final fragments may be enqueued; callers
// (the utterance aggregator) must filter partials before calling this.
func (s *Sink) Enqueue(row store.TranscriptRow) {
	s.mu.Lock()
	if len(s.queue) >= s.queueCap {
		s.queue = s.queue[1:]
		atomic.AddInt64(&s.dropped, 1)
		metrics.SinkDrops.Inc()
		s.log.Printf("queue overflow, dropped oldest pending row (cap=%d)", s.queueCap)
	}
	s.queue = append(s.queue, pending{row: row, enqueuedAt: time.Now()})
	ready := len(s.queue) >= s.batchSize
	s.mu.Unlock()

	if ready {
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
}

// Dropped returns the cumulative count of rows dropped for overflow.
func (s *Sink) Dropped() int64 { return atomic.LoadInt64(&s.dropped) }

func (s *Sink) run() {
	defer close(s.done)
	ticker := time.NewTicker(s.batchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.wake:
			s.flushReady(false)
		case <-ticker.C:
			s.flushReady(true)
		}
	}
}

// flushReady flushes once if the batch-size or, when byAge, the batch-interval trigger holds.
func (s *Sink) flushReady(byAge bool) {
	s.mu.Lock()
	if len(s.queue) == 0 {
		s.mu.Unlock()
		return
	}
	oldestAge := time.Since(s.queue[0].enqueuedAt)
	trigger := len(s.queue) >= s.batchSize || (byAge && oldestAge >= s.batchInterval)
	if !trigger {
		s.mu.Unlock()
		return
	}
	batch := s.queue
	s.queue = nil
	s.mu.Unlock()

	s.writeBatch(batch)
}

// writeBatch computes relative timestamps and inserts. It does not attach an organization
// attribution to the rows; orgAttribution is not called on this path. On failure the batch is prepended back iff that would not exceed the cap; otherwise
// it is dropped with an error log.
func (s *Sink) writeBatch(batch []pending) {
	rows := make([]store.TranscriptRow, 0, len(batch))
	for _, p := range batch {
		rel, err := s.tb.Relative(p.row.WallClockTimestamp)
		if err != nil {
			s.log.Printf("timebase not ready, dropping row: %v", err)
			continue
		}
		p.row.RelativeTimestampSeconds = rel
		rows = append(rows, p.row)
	}
	if len(rows) == 0 {
		return
	}

	if err := s.gw.InsertTranscripts(s.ctx, rows); err != nil {
		s.mu.Lock()
		if len(s.queue)+len(batch) <= s.queueCap {
			s.queue = append(batch, s.queue...)
			s.mu.Unlock()
			s.log.Printf("batch insert failed, re-queued %d rows: %v", len(batch), err)
		} else {
			s.mu.Unlock()
			s.log.Printf("batch insert failed and re-queue would exceed cap, dropped %d rows: %v", len(batch), err)
		}
		return
	}
}

// orgAttribution lazily loads and caches the room's organization attribution.
func (s *Sink) orgAttribution() string {
	s.orgOnce.Do(func() {
		room, err := s.gw.GetRoom(s.ctx, s.room)
		if err != nil {
			s.log.Printf("failed to load org attribution: %v", err)
			return
		}
		s.orgRef = room.ServerRef
	})
	return s.orgRef
}

// Stop cancels the flush loop and synchronously flushes any remaining buffer.
func (s *Sink) Stop() error {
	s.cancel()
	<-s.done

	s.mu.Lock()
	batch := s.queue
	s.queue = nil
	s.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	rows := make([]store.TranscriptRow, 0, len(batch))
	for _, p := range batch {
		rel, err := s.tb.Relative(p.row.WallClockTimestamp)
		if err != nil {
			continue
		}
		p.row.RelativeTimestampSeconds = rel
		rows = append(rows, p.row)
	}
	if len(rows) == 0 {
		return nil
	}
	return s.gw.InsertTranscripts(context.Background(), rows)
}
