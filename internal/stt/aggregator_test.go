package stt

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func word(text string, conf float64) TranscriptResult {
	return TranscriptResult{
		Type:         "word",
		Alternatives: []TranscriptAlternative{{Content: text, Confidence: conf, Language: "en"}},
	}
}

func TestAggregator_FlushesOnSentenceTerminator(t *testing.T) {
	var mu sync.Mutex
	var got []Utterance
	agg := NewAggregator(func(u Utterance) {
		mu.Lock()
		got = append(got, u)
		mu.Unlock()
	})
	defer agg.Stop()

	agg.AddFinal(word("hello", 0.9))
	agg.AddFinal(word("world.", 0.95))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "hello world.", got[0].Text)
}

func TestAggregator_FlushesOnSizeCap(t *testing.T) {
	var mu sync.Mutex
	var got []Utterance
	agg := NewAggregator(func(u Utterance) {
		mu.Lock()
		got = append(got, u)
		mu.Unlock()
	})
	defer agg.Stop()

	long := make([]byte, flushMaxChars)
	for i := range long {
		long[i] = 'a'
	}
	agg.AddFinal(word(string(long), 0.5))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestAggregator_FlushesOnIdleTimeout(t *testing.T) {
	var mu sync.Mutex
	var got []Utterance
	agg := NewAggregator(func(u Utterance) {
		mu.Lock()
		got = append(got, u)
		mu.Unlock()
	})
	defer agg.Stop()

	agg.AddFinal(word("partial", 0.8))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 4*time.Second, 10*time.Millisecond)
}

func TestAggregator_StopFlushesPending(t *testing.T) {
	var got []Utterance
	agg := NewAggregator(func(u Utterance) { got = append(got, u) })

	agg.AddFinal(word("trailing", 0.7))
	agg.Stop()

	require.Len(t, got, 1)
	assert.Equal(t, "trailing", got[0].Text)
}
