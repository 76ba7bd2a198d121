package audioio

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"
)

func TestRemoteSource_PushBeforeStart(t *testing.T) {
	src := NewRemoteSource(DefaultConfig(), nil)
	defer src.Close()

	err := src.Push(AudioChunk{Samples: []int16{1, 2}, SampleRate: 48000, Channels: 1})
	if !errors.Is(err, ErrNotRunning) {
		t.Errorf("Push() = %v, want ErrNotRunning", err)
	}
}

func TestRemoteSource_NormalizesInput(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SampleRate = 16000
	src := NewRemoteSource(cfg, nil)
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := src.Start(ctx); err != nil {
		t.Fatal(err)
	}

	// 20ms of 32kHz stereo
	stereo := make([]int16, 640*2)
	for i := range stereo {
		stereo[i] = 1000
	}
	if err := src.Push(AudioChunk{Samples: stereo, SampleRate: 32000, Channels: 2}); err != nil {
		t.Fatal(err)
	}

	chunk, err := src.Read(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if chunk.Channels != 1 || chunk.SampleRate != 16000 {
		t.Errorf("chunk format = %dch@%d, want mono@16000", chunk.Channels, chunk.SampleRate)
	}
	if len(chunk.Samples) != 320 {
		t.Errorf("len(Samples) = %d, want 320", len(chunk.Samples))
	}
	if chunk.Samples[10] != 1000 {
		t.Errorf("sample value = %d, want 1000", chunk.Samples[10])
	}
}

func TestRemoteSource_OverrunDrops(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QueueDepth = 2
	src := NewRemoteSource(cfg, nil)
	defer src.Close()

	if err := src.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		if err := src.PushPCM16([]byte{1, 0, 2, 0}, 48000, 1); err != nil {
			t.Fatal(err)
		}
	}

	stats := src.Stats()
	if stats.ChunksRead != 2 || stats.Overruns != 3 {
		t.Errorf("stats = %+v, want 2 delivered 3 dropped", stats)
	}
}

func TestRemoteSource_StopClosesStream(t *testing.T) {
	src := NewRemoteSource(DefaultConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	if err := src.Start(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()

	readCtx, readCancel := context.WithTimeout(context.Background(), time.Second)
	defer readCancel()
	if _, err := src.Read(readCtx); err != io.EOF {
		t.Errorf("Read() after cancel = %v, want io.EOF", err)
	}

	if err := src.Close(); err != nil {
		t.Fatal(err)
	}
	if err := src.Start(context.Background()); err != io.ErrClosedPipe {
		t.Errorf("Start() after Close = %v, want ErrClosedPipe", err)
	}
}
