// Package audio holds the streaming decoders and the output device the
// playback engine feeds.
package audio

import (
	"time"

	"github.com/gopxl/beep/v2"
)

// bytesPerSample is fixed: every decoder emits signed 16-bit little-endian PCM.
const bytesPerSample = 2

// Format describes the interleaved PCM stream accepted by the output.
type Format struct {
	SampleRate int
	Channels   int
}

// FrameSize is the number of bytes holding one sample for every channel.
func (f Format) FrameSize() int {
	return f.Channels * bytesPerSample
}

// ByteRate is the number of PCM bytes played per second.
func (f Format) ByteRate() int {
	return f.SampleRate * f.FrameSize()
}

// BytesInDuration returns how many whole frames, in bytes, play in d.
func (f Format) BytesInDuration(d time.Duration) int {
	frames := int64(d) * int64(f.SampleRate) / int64(time.Second)
	return int(frames) * f.FrameSize()
}

// Duration returns the play time of n PCM bytes.
func (f Format) Duration(n int) time.Duration {
	if f.ByteRate() == 0 {
		return 0
	}
	frames := int64(n / f.FrameSize())
	return time.Duration(frames * int64(time.Second) / int64(f.SampleRate))
}

func (f Format) beep() beep.Format {
	return beep.Format{
		SampleRate:  beep.SampleRate(f.SampleRate),
		NumChannels: f.Channels,
		Precision:   bytesPerSample,
	}
}
