package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDownmix_AveragesStereoChannels(t *testing.T) {
	a := &Adapter{channels: 2, monoBuf: make([]int16, initialMonoBufSamples)}
	stereo := []int16{100, 200, -50, 50}
	mono := a.downmix(stereo)

	assert.Equal(t, []int16{150, 0}, mono)
}

func TestDownmix_PassesThroughMono(t *testing.T) {
	a := &Adapter{channels: 1, monoBuf: make([]int16, initialMonoBufSamples)}
	in := []int16{10, -20, 30}
	mono := a.downmix(in)

	assert.Equal(t, in, mono)
}

func TestDownmix_AveragesMultiChannel(t *testing.T) {
	a := &Adapter{channels: 4, monoBuf: make([]int16, initialMonoBufSamples)}
	in := []int16{4, 8, 12, 16}
	mono := a.downmix(in)

	assert.Equal(t, []int16{10}, mono)
}

func TestDownmix_GrowsBufferForLargerFrame(t *testing.T) {
	a := &Adapter{channels: 2, monoBuf: make([]int16, 2)}
	stereo := make([]int16, 20)
	mono := a.downmix(stereo)

	assert.Len(t, mono, 10)
}

func TestResampleLinear_NoOpAtSameRate(t *testing.T) {
	in := []int16{1, 2, 3}
	out := resampleLinear(in, 16000, 16000)
	assert.Equal(t, in, out)
}

func TestResampleLinear_DownsamplesToExpectedLength(t *testing.T) {
	in := make([]int16, 960) // 20ms at 48kHz
	out := resampleLinear(in, 48000, 16000)

	assert.Equal(t, 320, len(out)) // 20ms at 16kHz
}

func TestInt16sToBytes_LittleEndian(t *testing.T) {
	b := int16sToBytes([]int16{1, -1})
	assert.Equal(t, []byte{1, 0, 0xFF, 0xFF}, b)
}
