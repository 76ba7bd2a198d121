package opusdec

import (
	"errors"
	"math"
	"testing"

	"gopkg.in/hraban/opus.v2"
)

func TestDecodeRoundTrip(t *testing.T) {
	enc, err := opus.NewEncoder(SampleRate, 1, opus.AppVoIP)
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}

	// 20ms of 440Hz tone
	pcm := make([]int16, 960)
	for i := range pcm {
		pcm[i] = int16(8000 * math.Sin(2*math.Pi*440*float64(i)/SampleRate))
	}
	packet := make([]byte, 4000)
	n, err := enc.Encode(pcm, packet)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	dec, err := New(1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	chunk, err := dec.Decode(packet[:n])
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(chunk.Samples) != 960 {
		t.Errorf("decoded %d samples, want 960", len(chunk.Samples))
	}
	if chunk.SampleRate != SampleRate || chunk.Channels != 1 {
		t.Errorf("format = %dch@%d", chunk.Channels, chunk.SampleRate)
	}
	if got := dec.Stats(); got.Packets != 1 || got.Errors != 0 {
		t.Errorf("Stats() = %+v", got)
	}
}

func TestDecodeEmpty(t *testing.T) {
	dec, err := New(1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := dec.Decode(nil); !errors.Is(err, ErrEmptyPacket) {
		t.Errorf("Decode(nil) = %v, want ErrEmptyPacket", err)
	}
}
