package sink

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kgr0831/transcription-worker/internal/store"
)

type fakeInserter struct {
	mu       sync.Mutex
	batches  [][]store.TranscriptRow
	failNext bool
}

func (f *fakeInserter) InsertTranscripts(ctx context.Context, rows []store.TranscriptRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return assertErr
	}
	batch := append([]store.TranscriptRow(nil), rows...)
	f.batches = append(f.batches, batch)
	return nil
}

func (f *fakeInserter) GetRoom(ctx context.Context, roomID uuid.UUID) (*store.Room, error) {
	return &store.Room{ID: roomID, ServerRef: "server-1"}, nil
}

func (f *fakeInserter) totalRows() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.batches {
		n += len(b)
	}
	return n
}

var assertErr = assertError("insert failed")

type assertError string

func (e assertError) Error() string { return string(e) }

type fakeTimebase struct{}

func (fakeTimebase) Relative(now time.Time) (float64, error) { return 1.5, nil }

func TestSink_FlushesOnBatchSize(t *testing.T) {
	ins := &fakeInserter{}
	roomID := uuid.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := New(ctx, ins, fakeTimebase{}, roomID, Config{BatchSize: 3, BatchInterval: time.Hour, QueueCap: 10})
	defer s.Stop()

	for i := 0; i < 3; i++ {
		s.Enqueue(store.TranscriptRow{RoomID: roomID, Text: "row"})
	}

	require.Eventually(t, func() bool { return ins.totalRows() == 3 }, time.Second, 5*time.Millisecond)
}

func TestSink_FlushesOnAge(t *testing.T) {
	ins := &fakeInserter{}
	roomID := uuid.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := New(ctx, ins, fakeTimebase{}, roomID, Config{BatchSize: 100, BatchInterval: 20 * time.Millisecond, QueueCap: 10})
	defer s.Stop()

	s.Enqueue(store.TranscriptRow{RoomID: roomID, Text: "row"})

	require.Eventually(t, func() bool { return ins.totalRows() == 1 }, time.Second, 5*time.Millisecond)
}

func TestSink_OverflowDropsOldest(t *testing.T) {
	ins := &fakeInserter{}
	roomID := uuid.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := New(ctx, ins, fakeTimebase{}, roomID, Config{BatchSize: 1000, BatchInterval: time.Hour, QueueCap: 2})
	defer s.Stop()

	s.Enqueue(store.TranscriptRow{Text: "first"})
	s.Enqueue(store.TranscriptRow{Text: "second"})
	s.Enqueue(store.TranscriptRow{Text: "third"})

	assert.EqualValues(t, 1, s.Dropped())
}

func TestSink_StopFlushesRemaining(t *testing.T) {
	ins := &fakeInserter{}
	roomID := uuid.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := New(ctx, ins, fakeTimebase{}, roomID, Config{BatchSize: 100, BatchInterval: time.Hour, QueueCap: 10})
	s.Enqueue(store.TranscriptRow{RoomID: roomID, Text: "row"})

	require.NoError(t, s.Stop())
	assert.Equal(t, 1, ins.totalRows())
}
