package decode

import (
	"encoding/binary"
	"fmt"
	"math"
)

// toInt16 scales an integer sample of the given bit depth to int16. 8-bit
// samples are unsigned as stored in WAV files.
func toInt16(v, depth int) int16 {
	switch {
	case depth == 8:
		return int16((v - 128) << 8)
	case depth > 16:
		return int16(v >> (depth - 16))
	case depth > 0 && depth < 16:
		return int16(v << (16 - depth))
	default:
		return int16(v)
	}
}

func floatToInt16(f float32) int16 {
	switch {
	case f != f:
		return 0
	case f >= 1:
		return math.MaxInt16
	case f <= -1:
		return math.MinInt16
	}
	return int16(f * 32767)
}

// toStereo converts interleaved samples with the given channel count to
// interleaved stereo. Mono is duplicated into both channels; surround keeps the
// front left and right channels.
func toStereo(samples []int16, channels int) ([]int16, error) {
	switch {
	case channels <= 0:
		return nil, fmt.Errorf("decode: invalid channel count %d", channels)
	case channels == 2:
		return samples[:len(samples)/2*2], nil
	case channels == 1:
		out := make([]int16, len(samples)*2)
		for i, s := range samples {
			out[i*2] = s
			out[i*2+1] = s
		}
		return out, nil
	}
	frames := len(samples) / channels
	out := make([]int16, frames*2)
	for i := range frames {
		out[i*2] = samples[i*channels]
		out[i*2+1] = samples[i*channels+1]
	}
	return out, nil
}

// resampleStereo resamples interleaved stereo from srcRate to dstRate using
// linear interpolation. If the rates match, or either is non-positive, the
// input is returned unchanged.
func resampleStereo(pcm []int16, srcRate, dstRate int) []int16 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcFrames := len(pcm) / 2
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]int16, dstFrames*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstFrames {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		l0, r0 := pcm[srcIdx*2], pcm[srcIdx*2+1]
		l1, r1 := l0, r0
		if srcIdx+1 < srcFrames {
			l1, r1 = pcm[(srcIdx+1)*2], pcm[(srcIdx+1)*2+1]
		}

		out[i*2] = int16(float64(l0)*(1-frac) + float64(l1)*frac)
		out[i*2+1] = int16(float64(r0)*(1-frac) + float64(r1)*frac)
	}
	return out
}

func encodeLE(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func decodeLE(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}
