package stt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// State is a client's position in the Idle -> Opening -> Active -> Draining -> Closed|Failed
// lifecycle.
type State int32

const (
	StateIdle State = iota
	StateOpening
	StateActive
	StateDraining
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOpening:
		return "opening"
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ErrNotActive is returned by SendAudio outside the Active state.
var ErrNotActive = errors.New("stt: client not active")

// Config configures a single streaming session against the provider.
type Config struct {
	WSURL       string
	BearerToken string
	Language    string
	SampleRate  int
	OpenTimeout time.Duration

	// OperatingPoint selects the provider's accuracy/latency tradeoff (e.g. "enhanced").
	OperatingPoint string
	// EnablePartials requests AddPartialTranscript frames in addition to finals.
	EnablePartials bool
	// MaxDelaySec bounds how long the provider may hold audio before emitting a final result.
	MaxDelaySec float64
}

// Client drives one participant's streaming STT session: dial, StartRecognition handshake,
// audio relay, provider frame dispatch into the utterance aggregator, and graceful draining.
type Client struct {
	cfg   Config
	label string

	state int32 // State, accessed atomically

	conn    *websocket.Conn
	writeMu sync.Mutex

	agg *Aggregator

	statsMu         sync.Mutex
	transcriptCount int
	confidenceSum   float64

	Utterances chan Utterance
	Errors     chan error

	ctx    context.Context
	cancel context.CancelFunc
	recvWG sync.WaitGroup

	log *log.Logger
}

// New constructs a Client; label identifies the session in logs (participant identity).
func New(cfg Config, label string) *Client {
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 10 * time.Second
	}
	c := &Client{
		cfg:        cfg,
		label:      label,
		Utterances: make(chan Utterance, 32),
		Errors:     make(chan error, 1),
		log:        log.New(os.Stdout, "[stt:"+label+"] ", log.LstdFlags),
	}
	c.agg = NewAggregator(func(u Utterance) {
		c.statsMu.Lock()
		c.transcriptCount++
		c.confidenceSum += u.Confidence
		c.statsMu.Unlock()

		select {
		case c.Utterances <- u:
		default:
			c.log.Printf("utterance channel full, dropping flushed utterance")
		}
	})
	return c
}

// Stats returns the session's transcript count and average confidence across every finalized
// utterance flushed so far.
func (c *Client) Stats() (transcriptCount int, averageConfidence float64) {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	if c.transcriptCount == 0 {
		return 0, 0
	}
	return c.transcriptCount, c.confidenceSum / float64(c.transcriptCount)
}

func (c *Client) setState(s State) { atomic.StoreInt32(&c.state, int32(s)) }

// State returns the client's current lifecycle state.
func (c *Client) State() State { return State(atomic.LoadInt32(&c.state)) }

// Open dials the provider and performs the StartRecognition handshake. On success the client is
// Active and the caller may begin calling SendAudio.
func (c *Client) Open(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&c.state, int32(StateIdle), int32(StateOpening)) {
		return fmt.Errorf("stt: Open called from state %s", c.State())
	}

	cctx, cancel := context.WithCancel(ctx)
	c.ctx = cctx
	c.cancel = cancel

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.OpenTimeout}
	header := make(map[string][]string)
	if c.cfg.BearerToken != "" {
		header["Authorization"] = []string{"Bearer " + c.cfg.BearerToken}
	}
	conn, _, err := dialer.DialContext(cctx, c.cfg.WSURL, header)
	if err != nil {
		c.setState(StateFailed)
		cancel()
		return fmt.Errorf("stt: dial: %w", err)
	}
	c.conn = conn

	start := StartRecognitionMessage{
		Message: ClientStartRecognition,
		AudioFormat: AudioFormat{
			Type:       "raw",
			Encoding:   "pcm_s16le",
			SampleRate: c.cfg.SampleRate,
		},
		Transcription: TranscriptionConfig{
			Language:        c.cfg.Language,
			OperatingPoint:  c.cfg.OperatingPoint,
			EnablePartials:  c.cfg.EnablePartials,
			MaxDelaySeconds: c.cfg.MaxDelaySec,
		},
	}
	if err := c.writeJSON(start); err != nil {
		c.setState(StateFailed)
		conn.Close()
		cancel()
		return fmt.Errorf("stt: send StartRecognition: %w", err)
	}

	if err := c.awaitRecognitionStarted(); err != nil {
		c.setState(StateFailed)
		conn.Close()
		cancel()
		return err
	}

	c.setState(StateActive)
	c.recvWG.Add(1)
	go c.receiveLoop()
	return nil
}

func (c *Client) awaitRecognitionStarted() error {
	_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.OpenTimeout))
	defer c.conn.SetReadDeadline(time.Time{})

	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("stt: await RecognitionStarted: %w", err)
	}
	var env ServerEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("stt: decode handshake reply: %w", err)
	}
	switch env.Message {
	case ServerRecognitionStarted:
		return nil
	case ServerError:
		return fmt.Errorf("stt: provider rejected StartRecognition: %s (%s)", env.Reason, env.Code)
	default:
		return fmt.Errorf("stt: unexpected handshake reply %q", env.Message)
	}
}

// SendAudio relays one PCM frame to the provider as a binary websocket frame.
func (c *Client) SendAudio(pcm []byte) error {
	if c.State() != StateActive {
		return ErrNotActive
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(websocket.BinaryMessage, pcm); err != nil {
		return fmt.Errorf("stt: send audio: %w", err)
	}
	return nil
}

// Drain signals end-of-audio by sending an empty-payload binary frame, then waits (bounded by
// ctx) for the provider's EndOfTranscript, or for the receive loop to end otherwise, before
// closing the connection. The aggregator's tail
// utterance is flushed via Close.
func (c *Client) Drain(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&c.state, int32(StateActive), int32(StateDraining)) {
		return fmt.Errorf("stt: Drain called from state %s", c.State())
	}

	c.writeMu.Lock()
	err := c.conn.WriteMessage(websocket.BinaryMessage, nil)
	c.writeMu.Unlock()
	if err != nil {
		c.log.Printf("failed to send EndOfStream sentinel: %v", err)
	}

	select {
	case <-ctx.Done():
	case <-c.ctx.Done():
	}
	return c.Close()
}

// Close tears down the connection and stops the aggregator, flushing any pending utterance.
func (c *Client) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	var err error
	if c.conn != nil {
		err = c.conn.Close()
	}
	c.recvWG.Wait()
	c.agg.Stop()
	if c.State() != StateFailed {
		c.setState(StateClosed)
	}
	return err
}

func (c *Client) receiveLoop() {
	defer c.recvWG.Done()
	// Canceling the session context when the loop ends wakes a pending Drain.
	defer c.cancel()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.State() != StateClosed && c.State() != StateDraining {
				c.setState(StateFailed)
				select {
				case c.Errors <- fmt.Errorf("stt: read: %w", err):
				default:
				}
			}
			return
		}

		var env ServerEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.log.Printf("failed to decode frame: %v", err)
			continue
		}

		switch env.Message {
		case ServerAddTranscript:
			var msg TranscriptMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				c.log.Printf("failed to decode AddTranscript: %v", err)
				continue
			}
			for _, r := range msg.Results {
				c.agg.AddFinal(r)
			}
		case ServerAddPartialTranscript:
			// Partial results are not persisted; this worker only stores finalized utterances.
		case ServerEndOfTranscript:
			return
		case ServerWarning:
			c.log.Printf("provider warning: %s", env.Reason)
		case ServerError:
			c.setState(StateFailed)
			select {
			case c.Errors <- fmt.Errorf("stt: provider error %s: %s", env.Code, env.Reason):
			default:
			}
			return
		}
	}
}

func (c *Client) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}
