package calldetect

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDetector_FiresAfterEmptyTimeout(t *testing.T) {
	var fired int32
	d := New(30*time.Millisecond, func() { atomic.AddInt32(&fired, 1) })

	d.OnParticipantCount(0)
	time.Sleep(60 * time.Millisecond)

	assert.EqualValues(t, 1, atomic.LoadInt32(&fired))
}

func TestDetector_NonZeroCountCancelsTimer(t *testing.T) {
	var fired int32
	d := New(30*time.Millisecond, func() { atomic.AddInt32(&fired, 1) })

	d.OnParticipantCount(0)
	time.Sleep(10 * time.Millisecond)
	d.OnParticipantCount(1)
	time.Sleep(40 * time.Millisecond)

	assert.EqualValues(t, 0, atomic.LoadInt32(&fired))
}

func TestDetector_FiresExactlyOnce(t *testing.T) {
	var fired int32
	d := New(10*time.Millisecond, func() { atomic.AddInt32(&fired, 1) })

	d.Force()
	d.Force()
	d.OnParticipantCount(0)
	time.Sleep(30 * time.Millisecond)

	assert.EqualValues(t, 1, atomic.LoadInt32(&fired))
}

func TestDetector_StopPreventsFurtherFiring(t *testing.T) {
	var fired int32
	d := New(10*time.Millisecond, func() { atomic.AddInt32(&fired, 1) })

	d.Stop()
	d.OnParticipantCount(0)
	time.Sleep(30 * time.Millisecond)

	assert.EqualValues(t, 0, atomic.LoadInt32(&fired))
}
