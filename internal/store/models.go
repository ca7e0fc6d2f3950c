// Package store is the typed gateway over the coordination database: rooms, workers,
// participants, STT sessions, transcript rows and AI job rows.
package store

import (
	"time"

	"github.com/google/uuid"
)

// Room lifecycle states.
const (
	RoomPending    = "pending"
	RoomActive     = "active"
	RoomProcessing = "processing"
	RoomCompleted  = "completed"
	RoomClosed     = "closed"
)

// Worker lifecycle states.
const (
	WorkerActive  = "active"
	WorkerStopped = "stopped"
)

// Worker modes, mirrored from internal/config to avoid a config->store import cycle.
const (
	ModeTranscription = "transcription"
	ModeAIJobs        = "ai-jobs"
	ModeBoth          = "both"
)

// STT session states.
const (
	SessionActive    = "active"
	SessionCompleted = "completed"
	SessionFailed    = "failed"
)

// AI job states and types.
const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"

	JobSummary         = "summary"
	JobActionItems     = "action_items"
	JobSentiment       = "sentiment"
	JobSpeakerAnalytics = "speaker_analytics"
)

// JobPriority is the canonical priority assigned to each job type.
var JobPriority = map[string]int{
	JobSummary:          100,
	JobActionItems:       90,
	JobSentiment:         70,
	JobSpeakerAnalytics:  50,
}

// Room is a conferencing session row.
type Room struct {
	ID                    uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Name                  string    `gorm:"type:varchar(200);not null"`
	ServerRef             string    `gorm:"type:varchar(200);not null"`
	Status                string    `gorm:"type:varchar(20);not null;default:'pending';index"`
	AIEnabled             bool      `gorm:"not null;default:false"`
	TranscriptionEnabled  bool      `gorm:"not null;default:true"`
	EmptyTimeoutSeconds   int       `gorm:"not null;default:60"`
	OwnerWorkerID         *string   `gorm:"type:varchar(64);index"`
	OwnerClaimedAt        *time.Time
	OwnerHeartbeatAt      *time.Time
	TimebaseOrigin        *time.Time
	CreatedAt             time.Time `gorm:"not null;autoCreateTime"`
	ClosedAt              *time.Time
}

func (Room) TableName() string { return "rooms" }

// Worker is a process instance of this program.
type Worker struct {
	ID              string `gorm:"type:varchar(64);primaryKey"`
	Mode            string `gorm:"type:varchar(20);not null"`
	Status          string `gorm:"type:varchar(20);not null;default:'active'"`
	CurrentRoomID   *uuid.UUID `gorm:"type:uuid;index"`
	LastHeartbeatAt time.Time  `gorm:"not null"`
	StartedAt       time.Time  `gorm:"not null;autoCreateTime"`
}

func (Worker) TableName() string { return "workers" }

// Participant is a human (or, transiently, the worker itself) occupant of a room.
type Participant struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	RoomID         uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_room_identity"`
	Identity       string    `gorm:"type:varchar(200);not null;uniqueIndex:idx_room_identity"`
	ConnectionType string    `gorm:"type:varchar(50)"`
	JoinedAt       time.Time `gorm:"not null;autoCreateTime"`
	LeftAt         *time.Time
	IsActive       bool   `gorm:"not null;default:true"`
	Metadata       string `gorm:"type:text"`
}

func (Participant) TableName() string { return "participants" }

// STTSession is one streaming-STT session for a participant's audio track.
type STTSession struct {
	ID                 uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	RoomID             uuid.UUID `gorm:"type:uuid;not null;index"`
	ParticipantID      uuid.UUID `gorm:"type:uuid;not null;index"`
	ExternalSessionTag string    `gorm:"type:varchar(200)"`
	Status             string    `gorm:"type:varchar(20);not null;default:'active'"`
	StartedAt          time.Time `gorm:"not null;autoCreateTime"`
	EndedAt            *time.Time
	AudioMinutes        float64
	TranscriptCount     int
	AverageConfidence   float64
	ErrorMessage        *string
}

func (STTSession) TableName() string { return "stt_sessions" }

// TranscriptRow is one finalized, t0-relative transcript fragment.
type TranscriptRow struct {
	ID                       uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	RoomID                   uuid.UUID `gorm:"type:uuid;not null;index"`
	STTSessionID             uuid.UUID `gorm:"type:uuid;not null;index"`
	ParticipantID            uuid.UUID `gorm:"type:uuid;not null;index"`
	Text                     string    `gorm:"type:text;not null"`
	IsFinal                  bool      `gorm:"not null;default:true"`
	Confidence               float64
	RelativeTimestampSeconds float64 `gorm:"not null"`
	StartTime                float64
	EndTime                  float64
	Language                 string    `gorm:"type:varchar(10)"`
	WallClockTimestamp       time.Time `gorm:"not null"`
	Metadata                 string    `gorm:"type:text"`
}

func (TranscriptRow) TableName() string { return "transcripts" }

// AIJob is one post-call analysis work item (C10's input).
type AIJob struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	RoomID       uuid.UUID `gorm:"type:uuid;not null;index"`
	JobType      string    `gorm:"type:varchar(40);not null"`
	Priority     int       `gorm:"not null"`
	Status       string    `gorm:"type:varchar(20);not null;default:'pending';index"`
	InputPayload string    `gorm:"type:text"`
	Result       *string   `gorm:"type:text"`
	ErrorMessage *string
	CreatedAt    time.Time `gorm:"not null;autoCreateTime"`
	StartedAt    *time.Time
	CompletedAt  *time.Time
}

func (AIJob) TableName() string { return "ai_jobs" }
