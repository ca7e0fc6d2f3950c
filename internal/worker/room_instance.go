package worker

import (
	"context"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/kgr0831/transcription-worker/internal/audio"
	"github.com/kgr0831/transcription-worker/internal/calldetect"
	"github.com/kgr0831/transcription-worker/internal/config"
	"github.com/kgr0831/transcription-worker/internal/metrics"
	"github.com/kgr0831/transcription-worker/internal/room"
	"github.com/kgr0831/transcription-worker/internal/sink"
	"github.com/kgr0831/transcription-worker/internal/stt"
	"github.com/kgr0831/transcription-worker/internal/store"
	"github.com/kgr0831/transcription-worker/internal/timebase"
)

// roomInstance owns every per-room component for the duration of one claim: the LiveKit
// session, the timebase, the transcript sink, and one streaming STT pipeline per participant
// audio track. It runs until the room empties out (calldetect) or the worker is asked to stop.
type roomInstance struct {
	cfg    *config.Config
	gw     *store.Gateway
	roomID uuid.UUID

	emptyTimeout time.Duration

	sess     *room.Session
	tb       *timebase.Timebase
	sk       *sink.Sink
	detector *calldetect.Detector

	mu           sync.Mutex
	participants map[string]*participantPipeline

	done chan struct{}
	once sync.Once

	log *log.Logger
}

// participantPipeline is one speaker's audio->STT->aggregator chain.
type participantPipeline struct {
	identity  string
	partID    uuid.UUID
	sessionID uuid.UUID
	startedAt time.Time
	adapter   *audio.Adapter
	sttClient *stt.Client
	cancel    context.CancelFunc

	// failed is set once the session's terminal status has already been written as 'failed', so
	// teardown's drain pass doesn't also try to complete it.
	failed atomic.Bool
}

func newRoomInstance(cfg *config.Config, gw *store.Gateway, roomRow store.Room) *roomInstance {
	timeout := time.Duration(roomRow.EmptyTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	ri := &roomInstance{
		cfg:          cfg,
		gw:           gw,
		roomID:       roomRow.ID,
		emptyTimeout: timeout,
		participants: make(map[string]*participantPipeline),
		done:         make(chan struct{}),
		log:          log.New(os.Stdout, "[room-instance:"+roomRow.ID.String()+"] ", log.LstdFlags),
	}
	ri.tb = timebase.New(gw, roomRow.ID)
	return ri
}

// run joins the room, streams audio to STT until the room empties, then finalizes. Blocks until
// the room is done or ctx is canceled.
func (ri *roomInstance) run(ctx context.Context, roomName string) error {
	if _, err := ri.tb.Initialize(ctx); err != nil {
		return err
	}

	ri.sk = sink.New(ctx, ri.gw, ri.tb, ri.roomID, sink.Config{})
	ri.detector = calldetect.New(ri.emptyTimeout, func() { ri.signalDone() })

	ri.sess = room.New(room.Config{
		Host:           ri.cfg.LiveKit.Host,
		APIKey:         ri.cfg.LiveKit.APIKey,
		APISecret:      ri.cfg.LiveKit.APISecret,
		RoomName:       roomName,
		WorkerIdentity: "worker-" + ri.cfg.WorkerID,
	}, room.Callbacks{
		OnParticipantJoined: ri.onParticipantJoined,
		OnParticipantLeft:   ri.onParticipantLeft,
		OnAudioTrack:        ri.onAudioTrack,
		OnParticipantCount: func(n int) {
			ri.detector.OnParticipantCount(n)
		},
	})

	if err := ri.sess.Join(); err != nil {
		return err
	}
	metrics.OwnedRooms.Inc()
	defer metrics.OwnedRooms.Dec()

	select {
	case <-ctx.Done():
	case <-ri.done:
	}

	ri.teardown()
	return ri.finalize(context.Background())
}

func (ri *roomInstance) signalDone() {
	ri.once.Do(func() { close(ri.done) })
}

func (ri *roomInstance) onParticipantJoined(identity string) {
	p, err := ri.gw.UpsertParticipant(context.Background(), ri.roomID, identity, "webrtc")
	if err != nil {
		ri.log.Printf("upsert participant %s failed: %v", identity, err)
		return
	}
	ri.mu.Lock()
	ri.participants[identity] = &participantPipeline{identity: identity, partID: p.ID}
	ri.mu.Unlock()
}

func (ri *roomInstance) onParticipantLeft(identity string) {
	ri.mu.Lock()
	pp, ok := ri.participants[identity]
	if ok {
		delete(ri.participants, identity)
	}
	ri.mu.Unlock()

	if !ok {
		return
	}

	ri.closePipeline(pp)
	if err := ri.gw.MarkParticipantLeft(context.Background(), pp.partID); err != nil {
		ri.log.Printf("mark participant %s left failed: %v", identity, err)
	}
}

// closePipeline drains/closes a participant's STT client and audio adapter and writes the
// session's terminal store status: 'completed' with its accumulated stats, unless the session
// already transitioned to 'failed' on the provider-error path.
func (ri *roomInstance) closePipeline(pp *participantPipeline) {
	if pp.sttClient != nil {
		if pp.sttClient.State() == stt.StateActive {
			drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = pp.sttClient.Drain(drainCtx)
			cancel()
		} else {
			_ = pp.sttClient.Close()
		}
	}
	if pp.adapter != nil {
		pp.adapter.Close()
	}
	if pp.cancel != nil {
		pp.cancel()
	}

	if pp.sessionID == uuid.Nil || pp.failed.Load() {
		return
	}
	count, avgConfidence := 0, 0.0
	if pp.sttClient != nil {
		count, avgConfidence = pp.sttClient.Stats()
	}
	audioMinutes := 0.0
	if !pp.startedAt.IsZero() {
		audioMinutes = time.Since(pp.startedAt).Minutes()
	}
	if err := ri.gw.CompleteSTTSession(context.Background(), pp.sessionID, audioMinutes, count, avgConfidence); err != nil {
		ri.log.Printf("complete stt session %s failed: %v", pp.sessionID, err)
	}
}

func (ri *roomInstance) onAudioTrack(identity, trackSID string, track *webrtc.TrackRemote) {
	ri.mu.Lock()
	pp, ok := ri.participants[identity]
	ri.mu.Unlock()
	if !ok {
		ri.log.Printf("audio track for unknown participant %s, skipping", identity)
		return
	}

	session, err := ri.gw.CreateSTTSession(context.Background(), ri.roomID, pp.partID, trackSID)
	if err != nil {
		ri.log.Printf("create stt session for %s failed: %v", identity, err)
		return
	}
	pp.sessionID = session.ID
	pp.startedAt = session.StartedAt

	adapter, err := audio.New(identity, trackSID, int(track.Codec().ClockRate), int(track.Codec().Channels))
	if err != nil {
		ri.log.Printf("create audio adapter for %s failed: %v", identity, err)
		pp.failed.Store(true)
		_ = ri.gw.FailSTTSession(context.Background(), session.ID, err.Error())
		return
	}
	pp.adapter = adapter

	client := stt.New(stt.Config{
		WSURL:          ri.cfg.Provider.WSURL,
		BearerToken:    ri.cfg.Provider.BearerToken,
		Language:       ri.cfg.Provider.Language,
		SampleRate:     16000,
		OperatingPoint: ri.cfg.Provider.OperatingPoint,
		EnablePartials: ri.cfg.Provider.EnablePartials,
		MaxDelaySec:    ri.cfg.Provider.MaxDelaySec,
	}, identity)
	pp.sttClient = client

	ctx, cancel := context.WithCancel(context.Background())
	pp.cancel = cancel

	if err := client.Open(ctx); err != nil {
		ri.log.Printf("open stt client for %s failed: %v", identity, err)
		pp.failed.Store(true)
		_ = ri.gw.FailSTTSession(context.Background(), session.ID, err.Error())
		return
	}
	metrics.ActiveSTTStreams.Inc()

	go ri.pumpAudio(ctx, pp, track)
	go ri.pumpUtterances(ctx, pp)
}

func (ri *roomInstance) pumpAudio(ctx context.Context, pp *participantPipeline, track *webrtc.TrackRemote) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		if err := pp.adapter.Decode(pkt.Payload); err != nil {
			ri.log.Printf("decode audio for %s failed: %v", pp.identity, err)
			continue
		}
	}
}

func (ri *roomInstance) pumpUtterances(ctx context.Context, pp *participantPipeline) {
	defer metrics.ActiveSTTStreams.Dec()
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-pp.adapter.Frames():
			if !ok {
				return
			}
			if err := pp.sttClient.SendAudio(frame.PCM); err != nil {
				// Drop the frame and keep going, so a queued provider error is still read below.
				continue
			}
		case u, ok := <-pp.sttClient.Utterances:
			if !ok {
				return
			}
			ri.sk.Enqueue(store.TranscriptRow{
				RoomID:                   ri.roomID,
				STTSessionID:             pp.sessionID,
				ParticipantID:            pp.partID,
				Text:                     u.Text,
				IsFinal:                  true,
				Confidence:               u.Confidence,
				StartTime:                u.StartTime,
				EndTime:                  u.EndTime,
				Language:                 u.Language,
				WallClockTimestamp:       u.WallClock,
			})
		case err, ok := <-pp.sttClient.Errors:
			if !ok {
				return
			}
			ri.log.Printf("stt session %s for %s failed: %v", pp.sessionID, pp.identity, err)
			pp.failed.Store(true)
			if failErr := ri.gw.FailSTTSession(context.Background(), pp.sessionID, err.Error()); failErr != nil {
				ri.log.Printf("mark stt session %s failed: %v", pp.sessionID, failErr)
			}
			return
		}
	}
}

func (ri *roomInstance) teardown() {
	ri.detector.Stop()

	ri.mu.Lock()
	pipelines := make([]*participantPipeline, 0, len(ri.participants))
	for _, pp := range ri.participants {
		pipelines = append(pipelines, pp)
	}
	ri.mu.Unlock()

	for _, pp := range pipelines {
		ri.closePipeline(pp)
	}

	ri.sess.Leave()
	if err := ri.sk.Stop(); err != nil {
		ri.log.Printf("final sink flush failed: %v", err)
	}
	if err := ri.gw.MarkRoomParticipantsInactive(context.Background(), ri.roomID); err != nil {
		ri.log.Printf("mark room participants inactive failed: %v", err)
	}
}

// finalize performs the idempotent end-of-room bookkeeping: mark the room completed and ensure
// its AI jobs exist. Safe to call more than once (both FinalizeRoom and EnsureAIJobs are
// idempotent store operations).
func (ri *roomInstance) finalize(ctx context.Context) error {
	if err := ri.gw.FinalizeRoom(ctx, ri.roomID); err != nil {
		return err
	}
	if err := ri.gw.EnsureAIJobs(ctx, ri.roomID, ri.roomID.String()); err != nil {
		ri.log.Printf("ensure ai jobs failed: %v", err)
	}
	return nil
}
