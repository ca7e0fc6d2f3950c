// Package discovery surfaces claimable-room candidates to C9 through three independent
// channels — Postgres LISTEN/NOTIFY, a realtime changefeed websocket, and interval polling —
// de-duplicated through a shared cache window (C8).
package discovery

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kgr0831/transcription-worker/internal/store"
)

// RoomLister is the subset of store.Gateway the polling notifier needs.
type RoomLister interface {
	ClaimableRooms(ctx context.Context, mode string, limit int) ([]store.Room, error)
}

// Config tunes the aggregator and its notifiers.
type Config struct {
	Mode                string
	PollingInterval     time.Duration
	RealtimeTimeout     time.Duration
	RealtimeRetry       time.Duration
	ClaimCacheDuration  time.Duration
	EnablePolling       bool
	EnableDatabaseNotify bool

	DirectDSN   string // for pgx LISTEN/NOTIFY; empty disables it regardless of EnableDatabaseNotify
	RealtimeURL string // empty disables the realtime notifier
}

// Candidate is one claimable room surfaced by a notifier, tagged with the channel that found it
// (realtime | notify | polling) so callers can attribute claim metrics per discovery method.
type Candidate struct {
	RoomID uuid.UUID
	Method string
}

const (
	MethodRealtime = "realtime"
	MethodNotify   = "notify"
	MethodPolling  = "polling"
)

// Discovery merges candidate rooms from every enabled notifier and de-duplicates them through a
// rolling cache window, so the same room does not trigger a claim attempt from every channel
// within one window.
type Discovery struct {
	cfg Config
	gw  RoomLister

	candidates chan Candidate
	checkNow   chan struct{}

	dedup *dedupCache

	notifiers []notifier

	log *log.Logger
}

// notifier is implemented by each discovery channel.
type notifier interface {
	Run(ctx context.Context, out chan<- Candidate)
}

// New constructs a Discovery with whichever notifiers cfg enables.
func New(cfg Config, gw RoomLister) *Discovery {
	if cfg.PollingInterval <= 0 {
		cfg.PollingInterval = 5 * time.Second
	}
	if cfg.ClaimCacheDuration <= 0 {
		cfg.ClaimCacheDuration = 30 * time.Second
	}

	d := &Discovery{
		cfg:        cfg,
		gw:         gw,
		candidates: make(chan Candidate, 64),
		checkNow:   make(chan struct{}, 1),
		dedup:      newDedupCache(cfg.ClaimCacheDuration),
		log:        log.New(os.Stdout, "[discovery] ", log.LstdFlags),
	}

	if cfg.EnablePolling {
		d.notifiers = append(d.notifiers, &pollNotifier{gw: gw, mode: cfg.Mode, interval: cfg.PollingInterval, checkNow: d.checkNow})
	}
	if cfg.EnableDatabaseNotify && cfg.DirectDSN != "" {
		d.notifiers = append(d.notifiers, &pgNotifier{dsn: cfg.DirectDSN})
	}
	if cfg.RealtimeURL != "" {
		d.notifiers = append(d.notifiers, &realtimeNotifier{
			url:     cfg.RealtimeURL,
			timeout: cfg.RealtimeTimeout,
			retry:   cfg.RealtimeRetry,
		})
	}

	return d
}

// Start runs every enabled notifier until ctx is canceled.
func (d *Discovery) Start(ctx context.Context) {
	raw := make(chan Candidate, 64)

	var wg sync.WaitGroup
	for _, n := range d.notifiers {
		wg.Add(1)
		go func(n notifier) {
			defer wg.Done()
			n.Run(ctx, raw)
		}(n)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case c := <-raw:
				if d.dedup.shouldEmit(c.RoomID) {
					select {
					case d.candidates <- c:
					default:
						d.log.Printf("candidate channel full, dropping room %s", c.RoomID)
					}
				}
			}
		}
	}()

	go func() {
		wg.Wait()
	}()
}

// Candidates delivers de-duplicated claimable rooms as they are discovered.
func (d *Discovery) Candidates() <-chan Candidate { return d.candidates }

// CheckNow requests an immediate poll pass, bypassing the polling notifier's interval timer.
func (d *Discovery) CheckNow() {
	select {
	case d.checkNow <- struct{}{}:
	default:
	}
}

// Clear forgets roomID in the dedup cache so it can be legitimately re-announced once this
// processing pass completes.
func (d *Discovery) Clear(roomID uuid.UUID) {
	d.dedup.clear(roomID)
}
