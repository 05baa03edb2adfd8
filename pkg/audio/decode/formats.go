package decode

import (
	"errors"
	"fmt"
	"io"

	"github.com/go-audio/aiff"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	gomp3 "github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
)

var (
	errNotWAV  = errors.New("decode: not a WAV file")
	errNotAIFF = errors.New("decode: not an AIFF file")
)

// raw is decoded audio before channel and rate conversion.
type raw struct {
	samples  []int16
	channels int
	rate     int
}

func decodeWAV(rs io.ReadSeeker) (raw, error) {
	dec := wav.NewDecoder(rs)
	if !dec.IsValidFile() {
		return raw{}, errNotWAV
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return raw{}, fmt.Errorf("decode: wav: %w", err)
	}
	depth := buf.SourceBitDepth
	if depth == 0 {
		depth = int(dec.BitDepth)
	}
	return fromIntBuffer(buf, depth)
}

func decodeAIFF(rs io.ReadSeeker) (raw, error) {
	dec := aiff.NewDecoder(rs)
	if !dec.IsValidFile() {
		return raw{}, errNotAIFF
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return raw{}, fmt.Errorf("decode: aiff: %w", err)
	}
	depth := buf.SourceBitDepth
	if depth == 0 {
		depth = int(dec.BitDepth)
	}
	// AIFF stores 8-bit samples signed, unlike WAV.
	if depth == 8 {
		out := make([]int16, len(buf.Data))
		for i, v := range buf.Data {
			out[i] = int16(v << 8)
		}
		return raw{samples: out, channels: buf.Format.NumChannels, rate: buf.Format.SampleRate}, nil
	}
	return fromIntBuffer(buf, depth)
}

func fromIntBuffer(buf *goaudio.IntBuffer, depth int) (raw, error) {
	if buf == nil || buf.Format == nil {
		return raw{}, errors.New("decode: missing format")
	}
	out := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		out[i] = toInt16(v, depth)
	}
	return raw{samples: out, channels: buf.Format.NumChannels, rate: buf.Format.SampleRate}, nil
}

// decodeMP3 reads the whole stream. go-mp3 always produces stereo signed
// 16-bit little-endian output.
func decodeMP3(r io.Reader) (raw, error) {
	dec, err := gomp3.NewDecoder(r)
	if err != nil {
		return raw{}, fmt.Errorf("decode: mp3: %w", err)
	}
	data, err := io.ReadAll(dec)
	if err != nil {
		return raw{}, fmt.Errorf("decode: mp3: %w", err)
	}
	return raw{samples: decodeLE(data), channels: 2, rate: dec.SampleRate()}, nil
}

func decodeVorbis(r io.Reader) (raw, error) {
	data, format, err := oggvorbis.ReadAll(r)
	if err != nil {
		return raw{}, fmt.Errorf("decode: vorbis: %w", err)
	}
	out := make([]int16, len(data))
	for i, f := range data {
		out[i] = floatToInt16(f)
	}
	return raw{samples: out, channels: format.Channels, rate: format.SampleRate}, nil
}
