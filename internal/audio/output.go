package audio

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Output accepts PCM without blocking.
//
// Feed returns false when the device cannot take all of p right now; the
// caller keeps p and offers it again later.
type Output interface {
	Feed(p []byte) bool
	SetVolume(level int)
}

// DeviceOutput models the I2S DMA FIFO of the codec. Queued bytes drain
// at the format byte rate as wall time passes. Accepted PCM is optionally
// copied to a sink file.
type DeviceOutput struct {
	format   Format
	capacity int
	now      func() time.Time

	mu      sync.Mutex
	queued  int
	last    time.Time
	volume  int
	played  int64
	sink    io.WriteCloser
	sinkErr error
}

// NewDeviceOutput creates an output with a FIFO of capacity bytes. sinkPath
// is "null" (or empty) to discard audio, otherwise a file that receives the
// raw PCM stream.
func NewDeviceOutput(format Format, capacity int, sinkPath string) (*DeviceOutput, error) {
	o := &DeviceOutput{
		format:   format,
		capacity: capacity,
		now:      time.Now,
	}
	o.last = o.now()

	if sinkPath != "" && sinkPath != "null" {
		f, err := os.OpenFile(sinkPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open audio sink %s: %w", sinkPath, err)
		}
		o.sink = f
	}
	return o, nil
}

func (o *DeviceOutput) Feed(p []byte) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.drain()
	// A block larger than the FIFO is accepted only into an empty FIFO.
	if o.queued > 0 && o.queued+len(p) > o.capacity {
		return false
	}

	if o.sink != nil && o.sinkErr == nil {
		if _, err := o.sink.Write(p); err != nil {
			o.sinkErr = err
		}
	}
	o.queued += len(p)
	o.played += int64(len(p))
	return true
}

// drain removes what the device played since the last call.
func (o *DeviceOutput) drain() {
	now := o.now()
	if o.queued == 0 {
		o.last = now
		return
	}
	n := o.format.BytesInDuration(now.Sub(o.last))
	if n == 0 {
		return
	}
	if n >= o.queued {
		o.queued = 0
		o.last = now
		return
	}
	o.queued -= n
	o.last = o.last.Add(o.format.Duration(n))
}

func (o *DeviceOutput) SetVolume(level int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.volume = level
}

func (o *DeviceOutput) Volume() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.volume
}

// Queued returns the bytes still waiting in the FIFO.
func (o *DeviceOutput) Queued() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.drain()
	return o.queued
}

// Played returns the total number of bytes accepted.
func (o *DeviceOutput) Played() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.played
}

// Close flushes the sink. The first sink write error, if any, is returned.
func (o *DeviceOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.sink == nil {
		return nil
	}
	err := o.sink.Close()
	o.sink = nil
	if o.sinkErr != nil {
		return fmt.Errorf("audio sink write failed: %w", o.sinkErr)
	}
	return err
}
