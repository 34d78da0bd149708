package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWAV_RoundTrip(t *testing.T) {
	samples := make([]int16, 3*FrameSamples)
	for i := range samples {
		samples[i] = int16(i*31 - 5000)
	}

	wav := EncodeWAV(samples, SampleRate)
	require.Len(t, wav, 44+len(samples)*2)

	decoded, rate, err := DecodeWAV(wav)
	require.NoError(t, err)
	assert.Equal(t, SampleRate, rate)
	assert.Equal(t, samples, decoded)
}

func TestWAV_EmptyPayload(t *testing.T) {
	wav := EncodeWAV(nil, SampleRate)
	decoded, rate, err := DecodeWAV(wav)
	require.NoError(t, err)
	assert.Equal(t, SampleRate, rate)
	assert.Empty(t, decoded)
}

func TestDecodeWAV_Malformed(t *testing.T) {
	t.Run("truncated", func(t *testing.T) {
		_, _, err := DecodeWAV([]byte("RIFF"))
		assert.Error(t, err)
	})

	t.Run("not riff", func(t *testing.T) {
		junk := make([]byte, 64)
		_, _, err := DecodeWAV(junk)
		assert.ErrorIs(t, err, ErrNotWAV)
	})

	t.Run("stereo rejected", func(t *testing.T) {
		wav := EncodeWAV([]int16{1, 2, 3, 4}, SampleRate)
		wav[22] = 2 // channel count
		_, _, err := DecodeWAV(wav)
		assert.ErrorIs(t, err, ErrUnsupportedWAV)
	})
}
