// Package timebase establishes and loads a room's t0, the origin instant every transcript
// timestamp in that room is relative to.
package timebase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kgr0831/transcription-worker/internal/store"
)

// ErrNotInitialized is returned by Relative before Initialize has completed.
var ErrNotInitialized = errors.New("timebase: not initialized")

// Setter is the subset of store.Gateway a Timebase needs; narrowed for testability.
type Setter interface {
	GetRoom(ctx context.Context, roomID uuid.UUID) (*store.Room, error)
	SetTimebaseOriginIfNull(ctx context.Context, roomID uuid.UUID, origin time.Time) error
}

// Timebase converts wall-clock instants into seconds-from-t0 for a single room.
type Timebase struct {
	gw     Setter
	roomID uuid.UUID
	origin time.Time
	set    bool
}

// New constructs an uninitialized Timebase for roomID.
func New(gw Setter, roomID uuid.UUID) *Timebase {
	return &Timebase{gw: gw, roomID: roomID}
}

// Initialize loads the room's existing origin or, if unset, proposes now and adopts whichever
// value the store ends up holding — a losing contender must adopt the winner's origin, since t0
// is set-once across the cluster.
func (t *Timebase) Initialize(ctx context.Context) (time.Time, error) {
	room, err := t.gw.GetRoom(ctx, t.roomID)
	if err != nil {
		return time.Time{}, fmt.Errorf("timebase: load room %s: %w", t.roomID, err)
	}
	if room.TimebaseOrigin != nil {
		t.origin = *room.TimebaseOrigin
		t.set = true
		return t.origin, nil
	}

	candidate := time.Now().UTC()
	if err := t.gw.SetTimebaseOriginIfNull(ctx, t.roomID, candidate); err != nil {
		return time.Time{}, fmt.Errorf("timebase: set origin for %s: %w", t.roomID, err)
	}

	room, err = t.gw.GetRoom(ctx, t.roomID)
	if err != nil {
		return time.Time{}, fmt.Errorf("timebase: reload room %s: %w", t.roomID, err)
	}
	if room.TimebaseOrigin == nil {
		return time.Time{}, fmt.Errorf("timebase: origin still unset for %s after claim attempt", t.roomID)
	}
	t.origin = *room.TimebaseOrigin
	t.set = true
	return t.origin, nil
}

// Origin returns the loaded t0; only valid after Initialize succeeds.
func (t *Timebase) Origin() time.Time { return t.origin }

// Relative returns seconds elapsed from t0 to now (or the given instant).
func (t *Timebase) Relative(now time.Time) (float64, error) {
	if !t.set {
		return 0, ErrNotInitialized
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return now.Sub(t.origin).Seconds(), nil
}
