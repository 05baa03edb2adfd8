// Package decode turns sample files into the PCM layout every polyvox
// backend mixes: interleaved stereo, signed 16-bit little-endian, at the
// backend's sample rate.
//
// Supported containers are chosen by file extension:
//
//	.wav         github.com/go-audio/wav
//	.aif, .aiff  github.com/go-audio/aiff
//	.mp3         github.com/hajimehoshi/go-mp3
//	.ogg, .oga   github.com/jfreymuth/oggvorbis
package decode

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrUnsupportedFormat is returned for files whose extension has no decoder.
var ErrUnsupportedFormat = errors.New("decode: unsupported format")

// Channels is the channel count of every [PCM] produced by this package.
const Channels = 2

// bytesPerFrame is the size of one stereo int16 frame.
const bytesPerFrame = Channels * 2

// PCM is decoded audio in the backend layout.
type PCM struct {
	// Data holds interleaved L/R signed 16-bit little-endian samples.
	Data []byte

	// SampleRate is the rate of Data in Hz.
	SampleRate int
}

// Frames returns the number of stereo frames in p.
func (p *PCM) Frames() int { return len(p.Data) / bytesPerFrame }

// Duration returns the playing time of p.
func (p *PCM) Duration() time.Duration {
	if p.SampleRate <= 0 {
		return 0
	}
	return time.Duration(int64(p.Frames()) * int64(time.Second) / int64(p.SampleRate))
}

// OffsetBytes converts a playback position into a byte offset into Data. The
// result is frame aligned and clamped to [0, len(Data)].
func (p *PCM) OffsetBytes(d time.Duration) int {
	if d <= 0 || p.SampleRate <= 0 {
		return 0
	}
	frame := int64(d) * int64(p.SampleRate) / int64(time.Second)
	return int(min(frame, int64(p.Frames()))) * bytesPerFrame
}

// File decodes the file at path, resampled to sampleRate. A non-positive
// sampleRate keeps the file's native rate.
func File(path string, sampleRate int) (*PCM, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("decode: open %q: %w", path, err)
	}
	defer f.Close()

	pcm, err := Reader(f, filepath.Ext(path), sampleRate)
	if err != nil {
		return nil, fmt.Errorf("decode: %q: %w", path, err)
	}
	return pcm, nil
}

// Probe returns the playing time of the file at path.
func Probe(path string) (time.Duration, error) {
	pcm, err := File(path, 0)
	if err != nil {
		return 0, err
	}
	return pcm.Duration(), nil
}

// Reader decodes r as format, which is a file extension with or without the
// leading dot (e.g. ".wav", "mp3"). See [File] for sampleRate.
func Reader(r io.Reader, format string, sampleRate int) (*PCM, error) {
	var (
		src raw
		err error
	)
	switch strings.ToLower(strings.TrimPrefix(format, ".")) {
	case "wav", "wave":
		var rs io.ReadSeeker
		if rs, err = readSeeker(r); err == nil {
			src, err = decodeWAV(rs)
		}
	case "aif", "aiff":
		var rs io.ReadSeeker
		if rs, err = readSeeker(r); err == nil {
			src, err = decodeAIFF(rs)
		}
	case "mp3":
		src, err = decodeMP3(r)
	case "ogg", "oga":
		src, err = decodeVorbis(r)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return nil, err
	}

	stereo, err := toStereo(src.samples, src.channels)
	if err != nil {
		return nil, err
	}
	rate := src.rate
	if sampleRate > 0 && sampleRate != rate {
		stereo = resampleStereo(stereo, rate, sampleRate)
		rate = sampleRate
	}
	return &PCM{Data: encodeLE(stereo), SampleRate: rate}, nil
}

// readSeeker returns r as an io.ReadSeeker, buffering it in memory when it is
// not one already. The go-audio decoders need to seek between chunks.
func readSeeker(r io.Reader) (io.ReadSeeker, error) {
	if rs, ok := r.(io.ReadSeeker); ok {
		return rs, nil
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decode: read: %w", err)
	}
	return bytes.NewReader(data), nil
}

// NewReader returns a reader over Data starting at position offset. A
// looping reader wraps around at the end and never reports io.EOF; its offset
// wraps as well.
func (p *PCM) NewReader(offset time.Duration, loop bool) io.Reader {
	if loop {
		if d := p.Duration(); d > 0 {
			offset %= d
		}
	}
	return &pcmReader{data: p.Data, pos: p.OffsetBytes(offset), loop: loop}
}

type pcmReader struct {
	data []byte
	pos  int
	loop bool
}

func (r *pcmReader) Read(b []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	n := 0
	for n < len(b) {
		if r.pos >= len(r.data) {
			if !r.loop {
				break
			}
			r.pos = 0
		}
		c := copy(b[n:], r.data[r.pos:])
		r.pos += c
		n += c
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}
