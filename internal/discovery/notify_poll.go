package discovery

import (
	"context"
	"log"
	"os"
	"time"
)

// pollNotifier periodically lists claimable rooms directly from the store. It is the fallback
// channel that works even when LISTEN/NOTIFY and the realtime changefeed are both unavailable.
type pollNotifier struct {
	gw       RoomLister
	mode     string
	interval time.Duration
	checkNow <-chan struct{}
}

func (p *pollNotifier) Run(ctx context.Context, out chan<- Candidate) {
	logger := log.New(os.Stdout, "[discovery:poll] ", log.LstdFlags)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	poll := func() {
		rooms, err := p.gw.ClaimableRooms(ctx, p.mode, 50)
		if err != nil {
			logger.Printf("list claimable rooms failed: %v", err)
			return
		}
		for _, r := range rooms {
			select {
			case out <- Candidate{RoomID: r.ID, Method: MethodPolling}:
			case <-ctx.Done():
				return
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			poll()
		case <-p.checkNow:
			poll()
		}
	}
}
