// Package audio provides the payload conversion utilities used by the relay:
// format validation, base64 round trips, PCM16/float32 conversion and
// linear resampling. All functions are pure and allocation-bounded.
package audio

import (
	"encoding/base64"
	"encoding/binary"
	"math"
)

// Formats the relay accepts in session configuration. This set is closed:
// payloads in any other format are rejected before they reach the upstream.
const (
	FormatPCM16    = "pcm16"
	FormatG711Ulaw = "g711_ulaw"
	FormatG711Alaw = "g711_alaw"
)

var supportedFormats = map[string]struct{}{
	FormatPCM16:    {},
	FormatG711Ulaw: {},
	FormatG711Alaw: {},
}

// IsFormatSupported reports whether name is one of the accepted audio formats.
func IsFormatSupported(name string) bool {
	_, ok := supportedFormats[name]
	return ok
}

// SupportedFormats returns the closed set of accepted format names.
func SupportedFormats() []string {
	return []string{FormatPCM16, FormatG711Ulaw, FormatG711Alaw}
}

// EncodeBase64 encodes a binary buffer to its standard base64 text form.
func EncodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeBase64 decodes standard base64 text back to the original bytes.
func DecodeBase64(encoded string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(encoded)
}

// PCM16ToFloat32 interprets buf as little-endian 16-bit signed samples and
// maps each sample into [-1, 1]. Negative samples are divided by 32768 and
// non-negative samples by 32767, matching the asymmetric PCM16 range.
// A trailing odd byte is ignored.
func PCM16ToFloat32(buf []byte) []float32 {
	samples := make([]float32, len(buf)/2)
	for i := range samples {
		s := int16(binary.LittleEndian.Uint16(buf[i*2 : i*2+2]))
		if s < 0 {
			samples[i] = float32(s) / 32768.0
		} else {
			samples[i] = float32(s) / 32767.0
		}
	}
	return samples
}

// Float32ToPCM16 clamps each sample to [-1, 1] and maps it back to a
// little-endian 16-bit signed buffer using the same asymmetric scaling as
// PCM16ToFloat32. The result is 2×len(samples) bytes.
func Float32ToPCM16(samples []float32) []byte {
	buf := make([]byte, len(samples)*2)
	for i, f := range samples {
		if f > 1 {
			f = 1
		} else if f < -1 {
			f = -1
		}
		var s int16
		if f < 0 {
			s = int16(math.Round(float64(f) * 32768.0))
		} else {
			s = int16(math.Round(float64(f) * 32767.0))
		}
		binary.LittleEndian.PutUint16(buf[i*2:i*2+2], uint16(s))
	}
	return buf
}

// Resample converts samples from fromRate to toRate using linear
// interpolation. Equal rates return a copy of the input. The output length
// is round(len(samples) / (fromRate/toRate)); interpolation past the last
// input index clamps to the final sample.
func Resample(samples []float32, fromRate, toRate int) []float32 {
	if fromRate == toRate {
		out := make([]float32, len(samples))
		copy(out, samples)
		return out
	}
	if len(samples) == 0 {
		return []float32{}
	}

	ratio := float64(fromRate) / float64(toRate)
	outLen := int(math.Round(float64(len(samples)) / ratio))
	out := make([]float32, outLen)

	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}
		frac := float32(pos - float64(idx))
		out[i] = samples[idx]*(1-frac) + samples[idx+1]*frac
	}
	return out
}
