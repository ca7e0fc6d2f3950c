// Package worker implements the manager process that owns C9: claim one room at a time,
// drive its transcription pipeline end to end, release it, and repeat, while a separate
// heartbeat loop keeps the store aware this worker is alive.
package worker

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kgr0831/transcription-worker/internal/config"
	"github.com/kgr0831/transcription-worker/internal/discovery"
	"github.com/kgr0831/transcription-worker/internal/metrics"
	"github.com/kgr0831/transcription-worker/internal/store"
)

// Manager runs the single-room claim/process/release loop for one worker process.
type Manager struct {
	cfg  *config.Config
	gw   *store.Gateway
	disc *discovery.Discovery

	mu             sync.Mutex
	processingRoom *uuid.UUID

	log *log.Logger
}

// New constructs a Manager; cfg.Mode must include transcription for Run to do anything.
func New(cfg *config.Config, gw *store.Gateway, disc *discovery.Discovery) *Manager {
	return &Manager{
		cfg:  cfg,
		gw:   gw,
		disc: disc,
		log:  log.New(os.Stdout, "[worker] ", log.LstdFlags),
	}
}

// Run registers the worker, starts discovery and the heartbeat/reap loops, and processes rooms
// one at a time until ctx is canceled.
func (m *Manager) Run(ctx context.Context) error {
	if err := m.gw.RegisterWorker(ctx, m.cfg.WorkerID, string(m.cfg.Mode)); err != nil {
		return err
	}

	m.disc.Start(ctx)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); m.heartbeatLoop(ctx) }()
	go func() { defer wg.Done(); m.reapLoop(ctx) }()

	m.claimLoop(ctx)

	wg.Wait()
	return m.gw.StopWorker(context.Background(), m.cfg.WorkerID)
}

func (m *Manager) claimLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-m.disc.Candidates():
			if !ok {
				return
			}
			m.tryClaimAndProcess(ctx, c)
		}
	}
}

func (m *Manager) tryClaimAndProcess(ctx context.Context, c discovery.Candidate) {
	roomID := c.RoomID

	m.mu.Lock()
	busy := m.processingRoom != nil
	m.mu.Unlock()
	if busy {
		return
	}

	claimed, err := m.gw.ClaimRoom(ctx, m.cfg.WorkerID, roomID)
	if err != nil {
		m.log.Printf("claim room %s failed: %v", roomID, err)
		return
	}
	if !claimed {
		metrics.RoomClaimConflicts.Inc()
		return
	}
	metrics.RoomClaims.WithLabelValues(c.Method).Inc()

	m.mu.Lock()
	m.processingRoom = &roomID
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.processingRoom = nil
		m.mu.Unlock()
	}()

	roomRow, err := m.gw.GetRoom(ctx, roomID)
	if err != nil {
		m.log.Printf("load claimed room %s failed: %v", roomID, err)
		return
	}

	instance := newRoomInstance(m.cfg, m.gw, *roomRow)
	if err := instance.run(ctx, roomRow.Name); err != nil {
		m.log.Printf("room %s processing ended with error: %v", roomID, err)
	}

	if err := m.gw.ReleaseRoom(context.Background(), m.cfg.WorkerID, roomID); err != nil {
		m.log.Printf("release room %s failed: %v", roomID, err)
	}
	m.disc.Clear(roomID)
	m.disc.CheckNow()
}

func (m *Manager) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Heartbeat.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mu.Lock()
			current := m.processingRoom
			m.mu.Unlock()
			if err := m.gw.UpdateHeartbeat(ctx, m.cfg.WorkerID, current); err != nil {
				m.log.Printf("heartbeat failed: %v", err)
			}
		}
	}
}

func (m *Manager) reapLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Heartbeat.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := m.gw.ReapStaleWorkers(ctx, m.cfg.Heartbeat.StaleThreshold)
			if err != nil {
				m.log.Printf("reap stale workers failed: %v", err)
				continue
			}
			if n > 0 {
				m.log.Printf("reaped %d stale workers", n)
			}
		}
	}
}
