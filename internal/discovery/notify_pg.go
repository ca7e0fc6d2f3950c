package discovery

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const listenChannel = "room_changes"

// roomChangePayload is the NOTIFY payload emitted by the coordination database's room-change
// trigger.
type roomChangePayload struct {
	RoomID string `json:"room_id"`
}

// pgNotifier holds a dedicated LISTEN connection and forwards NOTIFY payloads as candidates.
// It reconnects with backoff on any connection error; a stalled or refused notify channel never
// blocks the worker, since polling and the realtime notifier cover the same ground.
type pgNotifier struct {
	dsn string
}

func (n *pgNotifier) Run(ctx context.Context, out chan<- Candidate) {
	logger := log.New(os.Stdout, "[discovery:pgnotify] ", log.LstdFlags)
	backoff := time.Second

	for {
		if ctx.Err() != nil {
			return
		}
		if err := n.listenOnce(ctx, out, logger); err != nil {
			logger.Printf("listener stopped: %v, retrying in %s", err, backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second
	}
}

func (n *pgNotifier) listenOnce(ctx context.Context, out chan<- Candidate, logger *log.Logger) error {
	conn, err := pgx.Connect(ctx, n.dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)

	if _, err := conn.Exec(ctx, "LISTEN "+listenChannel); err != nil {
		return err
	}
	logger.Printf("listening on %s", listenChannel)

	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}

		var payload roomChangePayload
		if err := json.Unmarshal([]byte(notification.Payload), &payload); err != nil {
			logger.Printf("malformed notify payload: %v", err)
			continue
		}
		id, err := uuid.Parse(payload.RoomID)
		if err != nil {
			logger.Printf("malformed room_id in notify payload: %v", err)
			continue
		}

		select {
		case out <- Candidate{RoomID: id, Method: MethodNotify}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
