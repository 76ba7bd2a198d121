// Package opusdec decodes Opus packets from remote microphones into PCM16
// chunks for the activity detector. It wraps libopus via hraban/opus.
package opusdec

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"gopkg.in/hraban/opus.v2"

	"github.com/teslashibe/go-rehearse/pkg/audioio"
)

// SampleRate is the Opus native rate. Browsers and WebRTC peers send 48kHz.
const SampleRate = 48000

// maxFrameSamples holds 120ms at 48kHz, the longest legal Opus frame.
const maxFrameSamples = 5760

// ErrEmptyPacket is returned for zero-length payloads.
var ErrEmptyPacket = errors.New("opusdec: empty packet")

// Decoder turns Opus packets into PCM16 chunks. It is safe for concurrent
// use; calls are serialized because libopus decoders are stateful.
type Decoder struct {
	mu       sync.Mutex
	dec      *opus.Decoder
	channels int
	buf      []int16

	packets atomic.Int64
	errors  atomic.Int64
}

// Stats counts decoded packets and decode failures.
type Stats struct {
	Packets int64 `json:"packets"`
	Errors  int64 `json:"errors"`
}

// New creates a decoder for the given channel count at 48kHz.
func New(channels int) (*Decoder, error) {
	if channels <= 0 {
		channels = 1
	}
	dec, err := opus.NewDecoder(SampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("create opus decoder: %w", err)
	}
	return &Decoder{
		dec:      dec,
		channels: channels,
		buf:      make([]int16, maxFrameSamples*channels),
	}, nil
}

// Decode decodes one packet. The returned chunk owns its samples.
func (d *Decoder) Decode(packet []byte) (audioio.AudioChunk, error) {
	if len(packet) == 0 {
		return audioio.AudioChunk{}, ErrEmptyPacket
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	n, err := d.dec.Decode(packet, d.buf)
	if err != nil {
		d.errors.Add(1)
		return audioio.AudioChunk{}, fmt.Errorf("decode opus: %w", err)
	}
	d.packets.Add(1)

	samples := make([]int16, n*d.channels)
	copy(samples, d.buf[:n*d.channels])

	return audioio.AudioChunk{
		Samples:    samples,
		SampleRate: SampleRate,
		Channels:   d.channels,
	}, nil
}

// Stats returns decoder counters.
func (d *Decoder) Stats() Stats {
	return Stats{Packets: d.packets.Load(), Errors: d.errors.Load()}
}
