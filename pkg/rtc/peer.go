// Package rtc ingests a browser microphone over WebRTC. Opus packets
// arriving on the remote audio track are decoded and pushed into an
// audio sink, typically an audioio.RemoteSource owned by a session.
package rtc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"

	"github.com/teslashibe/go-rehearse/internal/log"
	"github.com/teslashibe/go-rehearse/pkg/audioio"
	"github.com/teslashibe/go-rehearse/pkg/audioio/opusdec"
)

// Errors
var (
	ErrClosed      = errors.New("rtc: peer closed")
	ErrInvalidSDP  = errors.New("rtc: offer must be an SDP offer")
	ErrNoAudioSink = errors.New("rtc: no audio sink")
)

// Sink receives decoded PCM. *audioio.RemoteSource satisfies it.
type Sink interface {
	Push(chunk audioio.AudioChunk) error
}

// decoder is the part of opusdec.Decoder the peer needs.
type decoder interface {
	Decode(packet []byte) (audioio.AudioChunk, error)
}

// Config configures a peer connection.
type Config struct {
	// ICEServers are STUN/TURN URLs. Empty means host candidates only.
	ICEServers []string `yaml:"ice_servers" json:"ice_servers"`

	// Channels is the decoded channel count (1 for mono).
	Channels int `yaml:"channels" json:"channels"`
}

// DefaultConfig returns a mono, host-only configuration.
func DefaultConfig() Config {
	return Config{Channels: 1}
}

// Stats counts packets seen on the audio track.
type Stats struct {
	Packets      int64 `json:"packets"`
	Bytes        int64 `json:"bytes"`
	Lost         int64 `json:"lost"`
	DecodeErrors int64 `json:"decode_errors"`
	PushErrors   int64 `json:"push_errors"`
}

// Peer is one receive-only audio peer connection.
type Peer struct {
	pc     *webrtc.PeerConnection
	sink   Sink
	dec    decoder
	logger *slog.Logger

	done      chan struct{}
	closeOnce sync.Once

	// Last sequence number, for loss accounting.
	seqMu   sync.Mutex
	lastSeq uint16
	haveSeq bool

	packets      atomic.Int64
	bytes        atomic.Int64
	lost         atomic.Int64
	decodeErrors atomic.Int64
	pushErrors   atomic.Int64
}

// NewPeer creates a receive-only peer that decodes audio into sink.
func NewPeer(cfg Config, sink Sink, logger *slog.Logger) (*Peer, error) {
	if sink == nil {
		return nil, ErrNoAudioSink
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}

	dec, err := opusdec.New(cfg.Channels)
	if err != nil {
		return nil, err
	}

	var rtcCfg webrtc.Configuration
	if len(cfg.ICEServers) > 0 {
		rtcCfg.ICEServers = []webrtc.ICEServer{{URLs: cfg.ICEServers}}
	}

	pc, err := webrtc.NewPeerConnection(rtcCfg)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		pc.Close()
		return nil, fmt.Errorf("add audio transceiver: %w", err)
	}

	p := newPeer(sink, dec, logger)
	p.pc = pc

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if track.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		p.logger.Info("audio track received", "codec", track.Codec().MimeType)
		go p.readTrack(track)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.logger.Debug("connection state", "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			p.markDone()
		}
	})

	return p, nil
}

func newPeer(sink Sink, dec decoder, logger *slog.Logger) *Peer {
	return &Peer{
		sink:   sink,
		dec:    dec,
		logger: log.Or(logger, "rtc"),
		done:   make(chan struct{}),
	}
}

// Answer applies a remote offer and returns the local answer once ICE
// gathering completes, so the caller needs no trickle signalling.
func (p *Peer) Answer(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	select {
	case <-p.done:
		return webrtc.SessionDescription{}, ErrClosed
	default:
	}
	if offer.Type != webrtc.SDPTypeOffer {
		return webrtc.SessionDescription{}, ErrInvalidSDP
	}

	if err := p.pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set remote description: %w", err)
	}

	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}

	gathered := webrtc.GatheringCompletePromise(p.pc)
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}

	select {
	case <-gathered:
	case <-ctx.Done():
		return webrtc.SessionDescription{}, ctx.Err()
	}

	return *p.pc.LocalDescription(), nil
}

// readTrack decodes RTP packets until the track ends.
func (p *Peer) readTrack(track *webrtc.TrackRemote) {
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			p.logger.Debug("audio track ended", "error", err)
			return
		}
		p.handlePacket(pkt)
	}
}

// handlePacket accounts for one RTP packet and forwards its audio.
func (p *Peer) handlePacket(pkt *rtp.Packet) {
	p.packets.Add(1)
	p.bytes.Add(int64(len(pkt.Payload)))
	p.trackSequence(pkt.SequenceNumber)

	if len(pkt.Payload) == 0 {
		return
	}

	chunk, err := p.dec.Decode(pkt.Payload)
	if err != nil {
		if p.decodeErrors.Add(1) <= 5 {
			p.logger.Warn("opus decode failed", "error", err, "payload_bytes", len(pkt.Payload))
		}
		return
	}

	if err := p.sink.Push(chunk); err != nil {
		if p.pushErrors.Add(1) == 1 {
			p.logger.Warn("audio sink rejected chunk", "error", err)
		}
	}
}

// trackSequence counts gaps in the 16-bit RTP sequence, handling wrap.
// Reordered or duplicate packets are not counted as loss.
func (p *Peer) trackSequence(seq uint16) {
	p.seqMu.Lock()
	defer p.seqMu.Unlock()

	if !p.haveSeq {
		p.lastSeq = seq
		p.haveSeq = true
		return
	}
	diff := seq - p.lastSeq
	if diff == 0 || diff >= 0x8000 {
		return
	}
	if diff > 1 {
		p.lost.Add(int64(diff - 1))
	}
	p.lastSeq = seq
}

// Stats returns packet counters.
func (p *Peer) Stats() Stats {
	return Stats{
		Packets:      p.packets.Load(),
		Bytes:        p.bytes.Load(),
		Lost:         p.lost.Load(),
		DecodeErrors: p.decodeErrors.Load(),
		PushErrors:   p.pushErrors.Load(),
	}
}

// Done is closed when the connection fails or the peer is closed.
func (p *Peer) Done() <-chan struct{} {
	return p.done
}

func (p *Peer) markDone() {
	p.closeOnce.Do(func() { close(p.done) })
}

// Close tears down the peer connection. It is safe to call more than once.
func (p *Peer) Close() error {
	p.markDone()
	if p.pc == nil {
		return nil
	}
	return p.pc.Close()
}
