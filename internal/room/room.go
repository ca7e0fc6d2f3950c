// Package room wires one claimed conferencing room to LiveKit as a hidden, non-publishing
// subscriber (C6): it mints its own join token, tracks participant membership, and forwards
// audio-track subscriptions and participant-count changes to the caller's callbacks.
package room

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/livekit/protocol/auth"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/webrtc/v4"
)

// Config configures a Session's LiveKit connection.
type Config struct {
	Host             string
	APIKey           string
	APISecret        string
	RoomName         string
	WorkerIdentity   string
	TokenTTL         time.Duration
}

// Callbacks are invoked as LiveKit room events arrive; Join also invokes OnParticipantJoined for
// each participant already in the room. All are optional.
type Callbacks struct {
	OnParticipantJoined  func(identity string)
	OnParticipantLeft    func(identity string)
	OnAudioTrack         func(identity, trackSID string, track *webrtc.TrackRemote)
	OnParticipantCount   func(n int)
}

// Session is one worker's hidden-subscriber membership in a LiveKit room.
type Session struct {
	cfg  Config
	cb   Callbacks
	room *lksdk.Room

	mu           sync.Mutex
	participants map[string]bool

	log *log.Logger
}

// New constructs an unconnected Session.
func New(cfg Config, cb Callbacks) *Session {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 6 * time.Hour
	}
	return &Session{
		cfg:          cfg,
		cb:           cb,
		participants: make(map[string]bool),
		log:          log.New(os.Stdout, "[room:"+cfg.RoomName+"] ", log.LstdFlags),
	}
}

// Join mints a hidden, subscribe-only access token and connects to the room.
func (s *Session) Join() error {
	token, err := s.mintToken()
	if err != nil {
		return fmt.Errorf("room: mint token: %w", err)
	}

	callback := &lksdk.RoomCallback{
		ParticipantCallback: lksdk.ParticipantCallback{
			OnTrackSubscribed: s.onTrackSubscribed,
		},
		OnParticipantConnected:    s.onParticipantConnected,
		OnParticipantDisconnected: s.onParticipantDisconnected,
	}

	r, err := lksdk.ConnectToRoomWithToken(s.cfg.Host, token, callback, lksdk.WithAutoSubscribe(true))
	if err != nil {
		return fmt.Errorf("room: connect: %w", err)
	}
	s.room = r

	for _, p := range r.GetRemoteParticipants() {
		s.trackJoin(p.Identity())
		if s.cb.OnParticipantJoined != nil {
			s.cb.OnParticipantJoined(p.Identity())
		}
	}
	s.emitCount()

	s.log.Printf("joined as hidden subscriber, %d participants present", len(r.GetRemoteParticipants()))
	return nil
}

func (s *Session) mintToken() (string, error) {
	grant := &auth.VideoGrant{
		RoomJoin: true,
		Room:     s.cfg.RoomName,
		Hidden:   true,
	}
	grant.SetCanPublish(false)
	grant.SetCanSubscribe(true)
	grant.SetCanPublishData(false)

	at := auth.NewAccessToken(s.cfg.APIKey, s.cfg.APISecret).
		SetIdentity(s.cfg.WorkerIdentity).
		SetVideoGrant(grant).
		SetValidFor(s.cfg.TokenTTL)
	return at.ToJWT()
}

func (s *Session) onTrackSubscribed(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
	if track.Kind() != webrtc.RTPCodecTypeAudio {
		return
	}
	if rp.Identity() == s.cfg.WorkerIdentity {
		return
	}
	if s.cb.OnAudioTrack != nil {
		s.cb.OnAudioTrack(rp.Identity(), pub.SID(), track)
	}
}

func (s *Session) onParticipantConnected(rp *lksdk.RemoteParticipant) {
	if rp.Identity() == s.cfg.WorkerIdentity {
		return
	}
	s.trackJoin(rp.Identity())
	s.emitCount()
	if s.cb.OnParticipantJoined != nil {
		s.cb.OnParticipantJoined(rp.Identity())
	}
}

func (s *Session) onParticipantDisconnected(rp *lksdk.RemoteParticipant) {
	if rp.Identity() == s.cfg.WorkerIdentity {
		return
	}
	s.trackLeave(rp.Identity())
	s.emitCount()
	if s.cb.OnParticipantLeft != nil {
		s.cb.OnParticipantLeft(rp.Identity())
	}
}

func (s *Session) trackJoin(identity string) {
	s.mu.Lock()
	s.participants[identity] = true
	s.mu.Unlock()
}

func (s *Session) trackLeave(identity string) {
	s.mu.Lock()
	delete(s.participants, identity)
	s.mu.Unlock()
}

// ParticipantCount returns the number of non-worker participants currently tracked.
func (s *Session) ParticipantCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.participants)
}

func (s *Session) emitCount() {
	if s.cb.OnParticipantCount != nil {
		s.cb.OnParticipantCount(s.ParticipantCount())
	}
}

// Leave disconnects from the room.
func (s *Session) Leave() {
	if s.room != nil {
		s.room.Disconnect()
	}
}
