package discovery

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// realtimeEvent is one row-change event delivered by the store's realtime changefeed.
type realtimeEvent struct {
	Table  string `json:"table"`
	RoomID string `json:"room_id"`
}

// realtimeNotifier subscribes to the coordination database's realtime changefeed over a
// websocket and forwards room-table events as candidates. It reconnects on idle timeout or
// connection loss, waiting retry between attempts.
type realtimeNotifier struct {
	url     string
	timeout time.Duration
	retry   time.Duration
}

func (n *realtimeNotifier) Run(ctx context.Context, out chan<- Candidate) {
	logger := log.New(os.Stdout, "[discovery:realtime] ", log.LstdFlags)

	for {
		if ctx.Err() != nil {
			return
		}
		if err := n.subscribeOnce(ctx, out, logger); err != nil {
			logger.Printf("subscription ended: %v, retrying in %s", err, n.retry)
		}
		select {
		case <-time.After(n.retry):
		case <-ctx.Done():
			return
		}
	}
}

func (n *realtimeNotifier) subscribeOnce(ctx context.Context, out chan<- Candidate, logger *log.Logger) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, n.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		conn.Close()
		close(done)
	}()
	defer func() { <-done }()

	logger.Printf("subscribed to realtime changefeed")

	for {
		if n.timeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(n.timeout))
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var ev realtimeEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			logger.Printf("malformed changefeed event: %v", err)
			continue
		}
		if ev.Table != "rooms" {
			continue
		}
		id, err := uuid.Parse(ev.RoomID)
		if err != nil {
			logger.Printf("malformed room_id in changefeed event: %v", err)
			continue
		}

		select {
		case out <- Candidate{RoomID: id, Method: MethodRealtime}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
