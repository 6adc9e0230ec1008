package audio

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/wav"
)

// resampleQuality is passed to beep.Resample when a file's rate differs
// from the output rate.
const resampleQuality = 3

// Decoder turns bytes read from storage into PCM for the output format.
//
// Decode fills p with whole frames and returns the number of bytes
// written. It returns 0, io.EOF once the source is exhausted.
type Decoder interface {
	Decode(p []byte) (int, error)
	Close() error
}

// NewDecoder picks a decoder from the extension of path. Compressed formats
// parse their header from r here, so a corrupt header fails immediately.
// Unknown extensions are treated as raw PCM already in the output format.
// size is the stored file size, or 0 if unknown; it bounds header parsing.
func NewDecoder(path string, r io.Reader, size int64, out Format) (dec Decoder, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			dec, err = nil, fmt.Errorf("failed to decode %s header: %v", path, rec)
		}
	}()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		s, format, err := mp3.Decode(io.NopCloser(r))
		if err != nil {
			return nil, fmt.Errorf("failed to decode mp3 header: %w", err)
		}
		return streamOrError(newStreamDecoder(s, format, out))
	case ".wav":
		checked, err := checkWAVHeader(r, size)
		if err != nil {
			return nil, fmt.Errorf("failed to decode wav header: %w", err)
		}
		s, format, err := wav.Decode(checked)
		if err != nil {
			return nil, fmt.Errorf("failed to decode wav header: %w", err)
		}
		return streamOrError(newStreamDecoder(s, format, out))
	default:
		return &rawDecoder{r: r}, nil
	}
}

// rawDecoder passes PCM through unchanged.
type rawDecoder struct {
	r io.Reader
}

func (d *rawDecoder) Decode(p []byte) (int, error) {
	n, err := d.r.Read(p)
	if n > 0 {
		return n, nil
	}
	if err == nil {
		return 0, nil
	}
	return 0, err
}

func (d *rawDecoder) Close() error { return nil }

// streamDecoder pulls samples from a beep streamer and encodes them as
// signed 16-bit PCM.
type streamDecoder struct {
	src     beep.StreamSeekCloser
	stream  beep.Streamer
	out     beep.Format
	samples [][2]float64
}

// streamOrError keeps a failed construction from yielding a typed nil.
func streamOrError(d *streamDecoder, err error) (Decoder, error) {
	if err != nil {
		return nil, err
	}
	return d, nil
}

func newStreamDecoder(src beep.StreamSeekCloser, in beep.Format, out Format) (*streamDecoder, error) {
	if in.SampleRate <= 0 || in.NumChannels < 1 {
		src.Close()
		return nil, fmt.Errorf("invalid stream format: %d Hz, %d channels", in.SampleRate, in.NumChannels)
	}
	d := &streamDecoder{src: src, stream: src, out: out.beep()}
	if in.SampleRate != d.out.SampleRate {
		d.stream = beep.Resample(resampleQuality, in.SampleRate, d.out.SampleRate, src)
	}
	return d, nil
}

func (d *streamDecoder) Decode(p []byte) (n int, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			n, err = 0, fmt.Errorf("decode failed: %v", rec)
		}
	}()

	width := d.out.Width()
	frames := len(p) / width
	if frames == 0 {
		return 0, io.ErrShortBuffer
	}
	if cap(d.samples) < frames {
		d.samples = make([][2]float64, frames)
	}

	got, ok := d.stream.Stream(d.samples[:frames])
	if !ok || got == 0 {
		if err := d.stream.Err(); err != nil {
			return 0, err
		}
		if got == 0 {
			return 0, io.EOF
		}
	}

	off := 0
	for _, s := range d.samples[:got] {
		off += d.out.EncodeSigned(p[off:], s)
	}
	return off, nil
}

func (d *streamDecoder) Close() error {
	return d.src.Close()
}
