// Package audio adapts one subscribed LiveKit audio track into a stream of mono 16kHz PCM
// frames for C4's streaming STT client (C5).
package audio

import (
	"context"
	"fmt"
	"log"
	"os"

	"layeh.com/gopus"
)

const (
	defaultChannels = 2
	frameMs         = 20
	outSampleRate   = 16000

	// initialMonoBufSamples sizes the reused downmix buffer before any real frame has been seen.
	initialMonoBufSamples = 4800
)

// Frame is one decoded, downmixed PCM window ready to relay to the STT provider.
type Frame struct {
	PCM       []byte // little-endian int16 mono samples
	TrackSID  string
}

// Adapter decodes the Opus RTP payloads of one subscribed track to PCM, downmixes to mono,
// and resamples to the STT provider's expected rate, emitting Frames on Frames().
type Adapter struct {
	identity string
	trackSID string

	dec        *gopus.Decoder
	sourceRate int
	channels   int

	monoBuf []int16

	frames chan Frame

	ctx    context.Context
	cancel context.CancelFunc

	log *log.Logger
}

// New constructs an Adapter for one participant's audio track. channels is the track's native
// channel count (mono, stereo, or otherwise); a non-positive value falls back to stereo.
func New(identity, trackSID string, sourceRate, channels int) (*Adapter, error) {
	if sourceRate <= 0 {
		sourceRate = 48000
	}
	if channels <= 0 {
		channels = defaultChannels
	}
	dec, err := gopus.NewDecoder(sourceRate, channels)
	if err != nil {
		return nil, fmt.Errorf("audio: create opus decoder for %s: %w", identity, err)
	}
	return &Adapter{
		identity:   identity,
		trackSID:   trackSID,
		dec:        dec,
		sourceRate: sourceRate,
		channels:   channels,
		monoBuf:    make([]int16, initialMonoBufSamples),
		frames:     make(chan Frame, 64),
		log:        log.New(os.Stdout, "[audio:"+identity+"] ", log.LstdFlags),
	}, nil
}

// Frames returns the channel Decode delivers PCM frames on.
func (a *Adapter) Frames() <-chan Frame { return a.frames }

// frameSize is the samples-per-channel in one 20ms window at the decoder's source rate.
func (a *Adapter) frameSize() int { return a.sourceRate * frameMs / 1000 }

// Decode decodes one Opus RTP payload, downmixes stereo to mono, and resamples to 16kHz,
// pushing the result onto Frames(). Called from the track's own read loop goroutine
// (internal/worker's pumpAudio).
func (a *Adapter) Decode(opusPayload []byte) error {
	pcm, err := a.dec.Decode(opusPayload, a.frameSize(), false)
	if err != nil {
		return fmt.Errorf("audio: decode opus for %s: %w", a.identity, err)
	}

	mono := a.downmix(pcm)
	resampled := resampleLinear(mono, a.sourceRate, outSampleRate)

	frame := Frame{PCM: int16sToBytes(resampled), TrackSID: a.trackSID}
	select {
	case a.frames <- frame:
	default:
		a.log.Printf("frame channel full, dropping decoded frame")
	}
	return nil
}

// Close releases decoder-adjacent resources and closes the output channel.
func (a *Adapter) Close() {
	a.monoBuf = nil
	close(a.frames)
}

// downmix collapses one decoded frame into mono using a buffer reused across calls, growing it
// only when a larger frame than any seen so far arrives. Mono input is passed through; N-channel
// input is averaged across its channels.
func (a *Adapter) downmix(pcm []int16) []int16 {
	if a.channels <= 1 {
		n := len(pcm)
		if cap(a.monoBuf) < n {
			a.monoBuf = make([]int16, n)
		}
		mono := a.monoBuf[:n]
		copy(mono, pcm)
		return mono
	}

	n := len(pcm) / a.channels
	if cap(a.monoBuf) < n {
		a.monoBuf = make([]int16, n)
	}
	mono := a.monoBuf[:n]
	for i := range mono {
		var sum int32
		for c := 0; c < a.channels; c++ {
			sum += int32(pcm[i*a.channels+c])
		}
		mono[i] = int16(sum / int32(a.channels))
	}
	return mono
}

// resampleLinear does nearest-ratio linear interpolation resampling; adequate for speech-only
// 48kHz -> 16kHz downsampling ahead of a streaming STT provider.
func resampleLinear(in []int16, srcRate, dstRate int) []int16 {
	if srcRate == dstRate || len(in) == 0 {
		return in
	}
	outLen := len(in) * dstRate / srcRate
	out := make([]int16, outLen)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range out {
		srcPos := float64(i) * ratio
		idx := int(srcPos)
		if idx >= len(in)-1 {
			out[i] = in[len(in)-1]
			continue
		}
		frac := srcPos - float64(idx)
		out[i] = int16(float64(in[idx])*(1-frac) + float64(in[idx+1])*frac)
	}
	return out
}

func int16sToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}
