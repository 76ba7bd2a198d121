package audioio

import (
	"github.com/smallnest/ringbuffer"
)

// Framer reassembles arbitrarily sized chunks into fixed-size analysis
// frames. Capture backends deliver 10-20ms chunks while detectors analyze
// larger windows; the framer bridges the two.
//
// When the backlog exceeds its capacity the oldest samples are discarded,
// so a stalled consumer never grows memory without bound.
//
// Framer is not safe for concurrent use.
type Framer struct {
	frameSize int
	rb        *ringbuffer.RingBuffer
	dropped   int64
}

// DefaultFramerBacklog is the number of frames a Framer buffers.
const DefaultFramerBacklog = 8

// NewFramer creates a framer producing frames of frameSize samples.
func NewFramer(frameSize int) *Framer {
	if frameSize <= 0 {
		frameSize = 2048
	}
	return &Framer{
		frameSize: frameSize,
		rb:        ringbuffer.New(frameSize * 2 * DefaultFramerBacklog).SetBlocking(false),
	}
}

// FrameSize returns the number of samples per frame.
func (f *Framer) FrameSize() int {
	return f.frameSize
}

// Write appends mono samples to the backlog.
func (f *Framer) Write(samples []int16) {
	data := SamplesToBytes(samples)

	capacity := f.rb.Capacity()
	if len(data) > capacity {
		skip := len(data) - capacity
		f.dropped += int64(skip / 2)
		data = data[skip:]
	}

	if need := len(data) - f.rb.Free(); need > 0 {
		f.discard(need)
	}

	_, _ = f.rb.Write(data)
}

// discard drops n bytes (rounded up to whole samples) from the front.
func (f *Framer) discard(n int) {
	if n%2 != 0 {
		n++
	}
	buf := make([]byte, n)
	read, _ := f.rb.Read(buf)
	f.dropped += int64(read / 2)
}

// Next returns the next complete frame, or false when fewer than
// FrameSize samples are buffered.
func (f *Framer) Next() ([]int16, bool) {
	need := f.frameSize * 2
	if f.rb.Length() < need {
		return nil, false
	}
	buf := make([]byte, need)
	n, err := f.rb.Read(buf)
	if err != nil || n != need {
		return nil, false
	}
	return BytesToSamples(buf), true
}

// Buffered returns the number of samples waiting for a full frame.
func (f *Framer) Buffered() int {
	return f.rb.Length() / 2
}

// Dropped returns the number of samples discarded due to backlog overflow.
func (f *Framer) Dropped() int64 {
	return f.dropped
}

// Reset clears the backlog.
func (f *Framer) Reset() {
	f.rb.Reset()
}
