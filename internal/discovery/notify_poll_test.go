package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/kgr0831/transcription-worker/internal/store"
)

type fakeRoomLister struct {
	rooms []store.Room
}

func (f *fakeRoomLister) ClaimableRooms(ctx context.Context, mode string, limit int) ([]store.Room, error) {
	return f.rooms, nil
}

func TestPollNotifier_EmitsOnCheckNow(t *testing.T) {
	id := uuid.New()
	lister := &fakeRoomLister{rooms: []store.Room{{ID: id}}}
	checkNow := make(chan struct{}, 1)
	p := &pollNotifier{gw: lister, mode: "transcription", interval: time.Hour, checkNow: checkNow}

	out := make(chan Candidate, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx, out)

	checkNow <- struct{}{}

	select {
	case got := <-out:
		require.Equal(t, id, got.RoomID)
		require.Equal(t, MethodPolling, got.Method)
	case <-time.After(time.Second):
		t.Fatal("expected a candidate from check-now poll")
	}
}

func TestPollNotifier_EmitsOnTicker(t *testing.T) {
	id := uuid.New()
	lister := &fakeRoomLister{rooms: []store.Room{{ID: id}}}
	p := &pollNotifier{gw: lister, mode: "transcription", interval: 10 * time.Millisecond, checkNow: make(chan struct{})}

	out := make(chan Candidate, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx, out)

	select {
	case got := <-out:
		require.Equal(t, id, got.RoomID)
		require.Equal(t, MethodPolling, got.Method)
	case <-time.After(time.Second):
		t.Fatal("expected a candidate from ticker poll")
	}
}
