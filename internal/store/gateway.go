package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var logger = log.New(os.Stdout, "[store] ", log.LstdFlags)

// StaleAfter is the heartbeat staleness threshold used by ClaimRoom and ReapStaleWorkers: a
// worker whose last heartbeat is older than this no longer holds its claimed room.
const StaleAfter = 45 * time.Second

// ErrNotFound is returned when a row-scoped lookup matches nothing.
var ErrNotFound = errors.New("store: not found")

// Gateway is the typed coordination-store client (C1).
type Gateway struct {
	db *gorm.DB
}

// Open connects to Postgres via gorm.
func Open(ctx context.Context, dsn string) (*Gateway, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	logger.Printf("connected")
	return &Gateway{db: db}, nil
}

// NewWithDB wraps an already-open gorm.DB — used by tests with a sqlmock-backed dialector.
func NewWithDB(db *gorm.DB) *Gateway { return &Gateway{db: db} }

// ClaimRoom atomically assigns ownership of room to worker: only rooms in pending/active status
// with no live owner (unclaimed or stale heartbeat) are claimable.
func (g *Gateway) ClaimRoom(ctx context.Context, workerID string, roomID uuid.UUID) (bool, error) {
	now := time.Now().UTC()
	staleCutoff := now.Add(-StaleAfter)

	var claimed bool
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Room{}).
			Where("id = ?", roomID).
			Where("status IN ?", []string{RoomPending, RoomActive}).
			Where("owner_worker_id IS NULL OR owner_heartbeat_at < ?", staleCutoff).
			Updates(map[string]any{
				"owner_worker_id":    workerID,
				"owner_claimed_at":   now,
				"owner_heartbeat_at": now,
				"status":             RoomProcessing,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return nil
		}
		claimed = true

		return tx.Model(&Worker{}).
			Where("id = ?", workerID).
			Updates(map[string]any{
				"current_room_id":  roomID,
				"last_heartbeat_at": now,
			}).Error
	})
	if err != nil {
		return false, fmt.Errorf("store: claim room %s: %w", roomID, err)
	}
	return claimed, nil
}

// UpdateHeartbeat records worker liveness. roomID may be nil and must overwrite, never coalesce
// with, the worker's prior current_room_id.
func (g *Gateway) UpdateHeartbeat(ctx context.Context, workerID string, roomID *uuid.UUID) error {
	res := g.db.WithContext(ctx).Model(&Worker{}).Where("id = ?", workerID).Updates(map[string]any{
		"last_heartbeat_at": time.Now().UTC(),
		"current_room_id":   roomID,
		"status":            WorkerActive,
	})
	if res.Error != nil {
		return fmt.Errorf("store: update heartbeat for %s: %w", workerID, res.Error)
	}
	return nil
}

// ReleaseRoom clears ownership columns iff the room is currently owned by worker, and clears the
// worker's current_room_id iff it still points at room. Idempotent: a second call is a no-op.
func (g *Gateway) ReleaseRoom(ctx context.Context, workerID string, roomID uuid.UUID) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&Room{}).
			Where("id = ? AND owner_worker_id = ?", roomID, workerID).
			Updates(map[string]any{
				"owner_worker_id":    nil,
				"owner_claimed_at":   nil,
				"owner_heartbeat_at": nil,
			}).Error; err != nil {
			return err
		}
		return tx.Model(&Worker{}).
			Where("id = ? AND current_room_id = ?", workerID, roomID).
			Update("current_room_id", nil).Error
	})
}

// ReapStaleWorkers clears owner columns on rooms owned by workers whose heartbeat is older than
// threshold, marks those workers stopped, and returns the number reaped.
func (g *Gateway) ReapStaleWorkers(ctx context.Context, threshold time.Duration) (int, error) {
	if threshold <= 0 {
		threshold = StaleAfter
	}
	cutoff := time.Now().UTC().Add(-threshold)

	var n int
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var stale []Worker
		if err := tx.Where("status = ? AND last_heartbeat_at < ?", WorkerActive, cutoff).Find(&stale).Error; err != nil {
			return err
		}
		if len(stale) == 0 {
			return nil
		}
		ids := make([]string, len(stale))
		for i, w := range stale {
			ids[i] = w.ID
		}

		if err := tx.Model(&Room{}).Where("owner_worker_id IN ?", ids).Updates(map[string]any{
			"owner_worker_id":    nil,
			"owner_claimed_at":   nil,
			"owner_heartbeat_at": nil,
		}).Error; err != nil {
			return err
		}

		res := tx.Model(&Worker{}).Where("id IN ?", ids).Updates(map[string]any{
			"status":           WorkerStopped,
			"current_room_id":  nil,
		})
		if res.Error != nil {
			return res.Error
		}
		n = int(res.RowsAffected)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("store: reap stale workers: %w", err)
	}
	return n, nil
}

// RegisterWorker inserts or resurrects the worker's own row at process start.
func (g *Gateway) RegisterWorker(ctx context.Context, workerID, mode string) error {
	w := Worker{
		ID:              workerID,
		Mode:            mode,
		Status:          WorkerActive,
		LastHeartbeatAt: time.Now().UTC(),
	}
	return g.db.WithContext(ctx).Save(&w).Error
}

// StopWorker marks the worker's own row stopped with no current room, for graceful shutdown.
func (g *Gateway) StopWorker(ctx context.Context, workerID string) error {
	return g.db.WithContext(ctx).Model(&Worker{}).Where("id = ?", workerID).Updates(map[string]any{
		"status":           WorkerStopped,
		"current_room_id":  nil,
	}).Error
}

// GetRoom loads a room by id.
func (g *Gateway) GetRoom(ctx context.Context, roomID uuid.UUID) (*Room, error) {
	var r Room
	if err := g.db.WithContext(ctx).First(&r, "id = ?", roomID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &r, nil
}

// ClaimableRooms returns claimable rooms (pending/active, unowned or stale-owned) ordered oldest
// first, filtered by mode, for the polling notifier.
func (g *Gateway) ClaimableRooms(ctx context.Context, mode string, limit int) ([]Room, error) {
	cutoff := time.Now().UTC().Add(-StaleAfter)
	q := g.db.WithContext(ctx).
		Where("status IN ?", []string{RoomPending, RoomActive}).
		Where("owner_worker_id IS NULL OR owner_heartbeat_at < ?", cutoff).
		Order("created_at ASC").
		Limit(limit)
	q = applyModeFilter(q, mode)

	var rooms []Room
	if err := q.Find(&rooms).Error; err != nil {
		return nil, err
	}
	return rooms, nil
}

func applyModeFilter(q *gorm.DB, mode string) *gorm.DB {
	switch mode {
	case ModeTranscription:
		return q.Where("transcription_enabled = ?", true)
	case ModeAIJobs:
		return q.Where("transcription_enabled = ?", false)
	default:
		return q
	}
}

// SetTimebaseOriginIfNull performs the set-once write for a room's t0: only the first writer
// wins; callers must re-read afterward to adopt the cluster-wide value.
func (g *Gateway) SetTimebaseOriginIfNull(ctx context.Context, roomID uuid.UUID, origin time.Time) error {
	return g.db.WithContext(ctx).Model(&Room{}).
		Where("id = ? AND timebase_origin IS NULL", roomID).
		Update("timebase_origin", origin).Error
}

// UpsertParticipant creates or reactivates a participant row keyed by (room_id, identity).
func (g *Gateway) UpsertParticipant(ctx context.Context, roomID uuid.UUID, identity, connType string) (*Participant, error) {
	var p Participant
	err := g.db.WithContext(ctx).Where("room_id = ? AND identity = ?", roomID, identity).First(&p).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		p = Participant{
			RoomID:         roomID,
			Identity:       identity,
			ConnectionType: connType,
			JoinedAt:       time.Now().UTC(),
			IsActive:       true,
		}
		if err := g.db.WithContext(ctx).Create(&p).Error; err != nil {
			return nil, err
		}
		return &p, nil
	case err != nil:
		return nil, err
	default:
		if err := g.db.WithContext(ctx).Model(&p).Updates(map[string]any{
			"is_active": true,
			"left_at":   nil,
		}).Error; err != nil {
			return nil, err
		}
		return &p, nil
	}
}

// MarkParticipantLeft closes out a participant's occupancy.
func (g *Gateway) MarkParticipantLeft(ctx context.Context, participantID uuid.UUID) error {
	now := time.Now().UTC()
	return g.db.WithContext(ctx).Model(&Participant{}).Where("id = ?", participantID).Updates(map[string]any{
		"is_active": false,
		"left_at":   now,
	}).Error
}

// MarkRoomParticipantsInactive closes out any still-active participants during finalize.
func (g *Gateway) MarkRoomParticipantsInactive(ctx context.Context, roomID uuid.UUID) error {
	now := time.Now().UTC()
	return g.db.WithContext(ctx).Model(&Participant{}).
		Where("room_id = ? AND is_active = ?", roomID, true).
		Updates(map[string]any{"is_active": false, "left_at": now}).Error
}

// CreateSTTSession opens a new session row for a participant's track.
func (g *Gateway) CreateSTTSession(ctx context.Context, roomID, participantID uuid.UUID, externalTag string) (*STTSession, error) {
	s := STTSession{
		RoomID:             roomID,
		ParticipantID:      participantID,
		ExternalSessionTag: externalTag,
		Status:             SessionActive,
		StartedAt:          time.Now().UTC(),
	}
	if err := g.db.WithContext(ctx).Create(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// CompleteSTTSession finalizes a session with its accumulated statistics.
func (g *Gateway) CompleteSTTSession(ctx context.Context, id uuid.UUID, audioMinutes float64, transcriptCount int, avgConfidence float64) error {
	now := time.Now().UTC()
	return g.db.WithContext(ctx).Model(&STTSession{}).Where("id = ?", id).Updates(map[string]any{
		"status":             SessionCompleted,
		"ended_at":           now,
		"audio_minutes":      audioMinutes,
		"transcript_count":   transcriptCount,
		"average_confidence": avgConfidence,
	}).Error
}

// FailSTTSession marks a session failed with the provider's reason.
func (g *Gateway) FailSTTSession(ctx context.Context, id uuid.UUID, reason string) error {
	now := time.Now().UTC()
	return g.db.WithContext(ctx).Model(&STTSession{}).Where("id = ?", id).Updates(map[string]any{
		"status":        SessionFailed,
		"ended_at":      now,
		"error_message": reason,
	}).Error
}

// InsertTranscripts bulk-inserts a batch of finalized transcript rows (C3's flush call).
func (g *Gateway) InsertTranscripts(ctx context.Context, rows []TranscriptRow) error {
	if len(rows) == 0 {
		return nil
	}
	return g.db.WithContext(ctx).Create(&rows).Error
}

// FinalizeRoom marks a room completed. Idempotent: a room already completed keeps its original
// closed_at because the WHERE clause only matches rooms not yet completed.
func (g *Gateway) FinalizeRoom(ctx context.Context, roomID uuid.UUID) error {
	now := time.Now().UTC()
	return g.db.WithContext(ctx).Model(&Room{}).
		Where("id = ? AND status <> ?", roomID, RoomCompleted).
		Updates(map[string]any{
			"status":    RoomCompleted,
			"closed_at": now,
		}).Error
}

// EnsureAIJobs inserts the canonical job set for a room iff no job row exists yet for it. Shared
// by the worker's best-effort fallback scheduler and, conceptually, the external webhook — both
// are idempotent against the same existence check.
func (g *Gateway) EnsureAIJobs(ctx context.Context, roomID uuid.UUID, inputPayload string) error {
	var count int64
	if err := g.db.WithContext(ctx).Model(&AIJob{}).Where("room_id = ?", roomID).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	jobTypes := []string{JobSummary, JobActionItems, JobSentiment, JobSpeakerAnalytics}
	jobs := make([]AIJob, 0, len(jobTypes))
	for _, jt := range jobTypes {
		jobs = append(jobs, AIJob{
			RoomID:       roomID,
			JobType:      jt,
			Priority:     JobPriority[jt],
			Status:       JobPending,
			InputPayload: inputPayload,
		})
	}
	// A race against the external webhook inserting concurrently is acceptable: both outcomes
	// (worker inserts, webhook inserts, or both attempt and one wins) are fine.
	return g.db.WithContext(ctx).Create(&jobs).Error
}

// ClaimNextAIJob selects and marks running the highest-priority pending job (C10).
func (g *Gateway) ClaimNextAIJob(ctx context.Context) (*AIJob, error) {
	var job AIJob
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("status = ?", JobPending).
			Order("priority DESC, created_at ASC").
			Limit(1).
			First(&job).Error; err != nil {
			return err
		}
		now := time.Now().UTC()
		res := tx.Model(&AIJob{}).Where("id = ? AND status = ?", job.ID, JobPending).Updates(map[string]any{
			"status":     JobRunning,
			"started_at": now,
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// CompleteAIJob records a successful job result.
func (g *Gateway) CompleteAIJob(ctx context.Context, id uuid.UUID, result string) error {
	now := time.Now().UTC()
	return g.db.WithContext(ctx).Model(&AIJob{}).Where("id = ?", id).Updates(map[string]any{
		"status":       JobCompleted,
		"result":       result,
		"completed_at": now,
	}).Error
}

// FailAIJob records a failed job attempt.
func (g *Gateway) FailAIJob(ctx context.Context, id uuid.UUID, reason string) error {
	now := time.Now().UTC()
	return g.db.WithContext(ctx).Model(&AIJob{}).Where("id = ?", id).Updates(map[string]any{
		"status":       JobFailed,
		"error_message": reason,
		"completed_at": now,
	}).Error
}
