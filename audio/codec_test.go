package audio

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsFormatSupported(t *testing.T) {
	testCases := []struct {
		name     string
		format   string
		expected bool
	}{
		{name: "PCM16", format: "pcm16", expected: true},
		{name: "G711 ulaw", format: "g711_ulaw", expected: true},
		{name: "G711 alaw", format: "g711_alaw", expected: true},
		{name: "Opus not supported", format: "opus", expected: false},
		{name: "Empty string", format: "", expected: false},
		{name: "Case sensitive", format: "PCM16", expected: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, IsFormatSupported(tc.format))
		})
	}
}

func TestBase64RoundTrip(t *testing.T) {
	testCases := [][]byte{
		{},
		{0x00},
		{0xff, 0x00, 0x7f, 0x80},
		bytes.Repeat([]byte{0xab, 0xcd}, 1024),
	}

	for _, data := range testCases {
		decoded, err := DecodeBase64(EncodeBase64(data))
		require.NoError(t, err)
		assert.Equal(t, data, decoded)
	}
}

func TestDecodeBase64_Invalid(t *testing.T) {
	_, err := DecodeBase64("not base64 at all!!!")
	assert.Error(t, err)
}

func TestPCM16ToFloat32_Scaling(t *testing.T) {
	buf := pcm16Buffer(t, []int16{-32768, -1, 0, 1, 32767})
	samples := PCM16ToFloat32(buf)

	require.Len(t, samples, 5)
	assert.InDelta(t, -1.0, samples[0], 1e-6)
	assert.InDelta(t, -1.0/32768.0, samples[1], 1e-9)
	assert.InDelta(t, 0.0, samples[2], 1e-9)
	assert.InDelta(t, 1.0/32767.0, samples[3], 1e-9)
	assert.InDelta(t, 1.0, samples[4], 1e-6)
}

func TestFloat32ToPCM16_Clamping(t *testing.T) {
	buf := Float32ToPCM16([]float32{-2.0, -1.0, 0.0, 1.0, 2.0})

	require.Len(t, buf, 10)
	assert.Equal(t, int16(-32768), int16(binary.LittleEndian.Uint16(buf[0:2])))
	assert.Equal(t, int16(-32768), int16(binary.LittleEndian.Uint16(buf[2:4])))
	assert.Equal(t, int16(0), int16(binary.LittleEndian.Uint16(buf[4:6])))
	assert.Equal(t, int16(32767), int16(binary.LittleEndian.Uint16(buf[6:8])))
	assert.Equal(t, int16(32767), int16(binary.LittleEndian.Uint16(buf[8:10])))
}

// Round-tripping any PCM16 buffer through float32 must reproduce every
// sample within one least-significant bit.
func TestPCM16RoundTrip(t *testing.T) {
	src := make([]int16, 0, 2048)
	for s := -32768; s <= 32767; s += 37 {
		src = append(src, int16(s))
	}
	src = append(src, -32768, -1, 0, 1, 32767)

	buf := pcm16Buffer(t, src)
	out := Float32ToPCM16(PCM16ToFloat32(buf))
	require.Len(t, out, len(buf))

	for i := range src {
		got := int16(binary.LittleEndian.Uint16(out[i*2 : i*2+2]))
		diff := int(got) - int(src[i])
		if diff < 0 {
			diff = -diff
		}
		assert.LessOrEqual(t, diff, 1, "sample %d: want %d got %d", i, src[i], got)
	}
}

func TestResample_Identity(t *testing.T) {
	samples := []float32{0.1, -0.2, 0.3, -0.4, 0.5}

	for _, rate := range []int{8000, 16000, 24000, 44100} {
		out := Resample(samples, rate, rate)
		assert.Equal(t, samples, out)
	}
}

func TestResample_Downsample(t *testing.T) {
	// 48kHz -> 24kHz halves the sample count.
	samples := make([]float32, 480)
	for i := range samples {
		samples[i] = float32(math.Sin(float64(i) / 10))
	}

	out := Resample(samples, 48000, 24000)
	assert.Len(t, out, 240)
	// First output sample maps to input index 0 exactly.
	assert.Equal(t, samples[0], out[0])
}

func TestResample_Upsample(t *testing.T) {
	samples := []float32{0.0, 1.0}

	out := Resample(samples, 8000, 16000)
	require.Len(t, out, 4)
	assert.Equal(t, float32(0.0), out[0])
	assert.InDelta(t, 0.5, out[1], 1e-6)
	// Positions at or past the final input index clamp to the last sample.
	assert.Equal(t, float32(1.0), out[2])
	assert.Equal(t, float32(1.0), out[3])
}

func TestResample_Empty(t *testing.T) {
	assert.Empty(t, Resample(nil, 8000, 16000))
	assert.Empty(t, Resample([]float32{}, 16000, 8000))
}

func pcm16Buffer(t *testing.T, samples []int16) []byte {
	t.Helper()
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:i*2+2], uint16(s))
	}
	return buf
}
