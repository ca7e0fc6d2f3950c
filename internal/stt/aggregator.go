package stt

import (
	"strings"
	"sync"
	"time"
)

const (
	// flushMaxChars caps how long an accumulated utterance may grow before a forced flush.
	flushMaxChars = 500
	// flushIdleTimeout flushes a pending utterance once no new final words arrive for this long.
	flushIdleTimeout = 2 * time.Second
)

var sentenceTerminators = []string{".", "!", "?", "。", "！", "？"}

// Utterance is one finalized, aggregated span of speech ready to become a transcript row.
type Utterance struct {
	Text       string
	Confidence float64
	StartTime  float64
	EndTime    float64
	Language   string
	WallClock  time.Time
}

// Aggregator merges a stream of word/punctuation-level final results into utterance-sized
// transcript rows, flushing on a sentence terminator, a size cap, or an idle timer — whichever
// comes first.
type Aggregator struct {
	onFlush func(Utterance)

	mu          sync.Mutex
	text        strings.Builder
	confSum     float64
	confN       int
	startTime   float64
	endTime     float64
	language    string
	lastWordAt  time.Time
	hasPending  bool
	flushing    bool

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewAggregator starts the idle-timer goroutine and returns an Aggregator delivering flushed
// utterances to onFlush. onFlush must not block for long; it runs on whichever goroutine
// triggers the flush: the idle checker, the caller of AddFinal, or the caller of Stop.
func NewAggregator(onFlush func(Utterance)) *Aggregator {
	a := &Aggregator{
		onFlush: onFlush,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	go a.idleChecker()
	return a
}

func (a *Aggregator) idleChecker() {
	defer close(a.doneCh)
	ticker := time.NewTicker(flushIdleTimeout / 4)
	defer ticker.Stop()
	for {
		select {
		case <-a.stopCh:
			return
		case <-ticker.C:
			a.mu.Lock()
			idle := a.hasPending && time.Since(a.lastWordAt) >= flushIdleTimeout
			a.mu.Unlock()
			if idle {
				a.flush()
			}
		}
	}
}

// AddFinal appends a finalized word/punctuation result, flushing immediately if this result ends
// a sentence or pushes the accumulated text past the size cap.
func (a *Aggregator) AddFinal(r TranscriptResult) {
	alt := bestAlternative(r)

	a.mu.Lock()
	if !a.hasPending {
		a.startTime = r.StartTime
	}
	if a.text.Len() > 0 && r.Type == "word" {
		a.text.WriteByte(' ')
	}
	a.text.WriteString(alt.Content)
	a.confSum += alt.Confidence
	a.confN++
	a.endTime = r.EndTime
	a.language = alt.Language
	a.lastWordAt = time.Now()
	a.hasPending = true

	trigger := a.text.Len() >= flushMaxChars || endsSentence(alt.Content)
	a.mu.Unlock()

	if trigger {
		a.flush()
	}
}

func endsSentence(s string) bool {
	s = strings.TrimSpace(s)
	for _, t := range sentenceTerminators {
		if strings.HasSuffix(s, t) {
			return true
		}
	}
	return false
}

func bestAlternative(r TranscriptResult) TranscriptAlternative {
	if len(r.Alternatives) == 0 {
		return TranscriptAlternative{}
	}
	best := r.Alternatives[0]
	for _, alt := range r.Alternatives[1:] {
		if alt.Confidence > best.Confidence {
			best = alt
		}
	}
	return best
}

// flush emits the pending utterance, guarded against overlapping concurrent flushes (the idle
// checker and an in-line sentence-boundary trigger can otherwise race).
func (a *Aggregator) flush() {
	a.mu.Lock()
	if a.flushing || !a.hasPending {
		a.mu.Unlock()
		return
	}
	a.flushing = true
	u := Utterance{
		Text:      strings.TrimSpace(a.text.String()),
		StartTime: a.startTime,
		EndTime:   a.endTime,
		Language:  a.language,
		WallClock: time.Now().UTC(),
	}
	if a.confN > 0 {
		u.Confidence = a.confSum / float64(a.confN)
	}
	a.text.Reset()
	a.confSum, a.confN = 0, 0
	a.hasPending = false
	a.mu.Unlock()

	if u.Text != "" {
		a.onFlush(u)
	}

	a.mu.Lock()
	a.flushing = false
	a.mu.Unlock()
}

// Stop flushes any pending utterance and stops the idle checker.
func (a *Aggregator) Stop() {
	close(a.stopCh)
	<-a.doneCh
	a.flush()
}
