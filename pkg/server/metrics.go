package server

import (
	"fmt"
	"sync/atomic"

	"github.com/gofiber/fiber/v2"
)

// stats are service counters exposed on /metrics.
type stats struct {
	sessionsStarted   atomic.Uint64
	sessionsCompleted atomic.Uint64
	sessionsAborted   atomic.Uint64
	saveFailures      atomic.Uint64
	messagesReceived  atomic.Uint64
	messagesSent      atomic.Uint64
	audioChunks       atomic.Uint64
	framesReceived    atomic.Uint64
	feedback          atomic.Uint64
	rtcPeers          atomic.Uint64
}

// Stats is a snapshot of service counters.
type Stats struct {
	ActiveSessions    int    `json:"active_sessions"`
	Watchers          int    `json:"watchers"`
	SessionsStarted   uint64 `json:"sessions_started"`
	SessionsCompleted uint64 `json:"sessions_completed"`
	SessionsAborted   uint64 `json:"sessions_aborted"`
	SaveFailures      uint64 `json:"save_failures"`
	MessagesReceived  uint64 `json:"messages_received"`
	MessagesSent      uint64 `json:"messages_sent"`
	AudioChunks       uint64 `json:"audio_chunks"`
	FramesReceived    uint64 `json:"frames_received"`
	FeedbackRequests  uint64 `json:"feedback_requests"`
	RTCPeers          uint64 `json:"rtc_peers"`
}

// GetStats returns service counters.
func (s *Server) GetStats() Stats {
	return Stats{
		ActiveSessions:    s.ActiveSessions(),
		Watchers:          s.watch.ClientCount(),
		SessionsStarted:   s.stats.sessionsStarted.Load(),
		SessionsCompleted: s.stats.sessionsCompleted.Load(),
		SessionsAborted:   s.stats.sessionsAborted.Load(),
		SaveFailures:      s.stats.saveFailures.Load(),
		MessagesReceived:  s.stats.messagesReceived.Load(),
		MessagesSent:      s.stats.messagesSent.Load(),
		AudioChunks:       s.stats.audioChunks.Load(),
		FramesReceived:    s.stats.framesReceived.Load(),
		FeedbackRequests:  s.stats.feedback.Load(),
		RTCPeers:          s.stats.rtcPeers.Load(),
	}
}

// handleMetrics writes counters in the Prometheus text format.
func (s *Server) handleMetrics(c *fiber.Ctx) error {
	st := s.GetStats()
	c.Set(fiber.HeaderContentType, "text/plain; version=0.0.4")
	return c.SendString(fmt.Sprintf(`# HELP rehearse_sessions_active Running practice sessions
# TYPE rehearse_sessions_active gauge
rehearse_sessions_active %d

# HELP rehearse_watchers Connected live-score watchers
# TYPE rehearse_watchers gauge
rehearse_watchers %d

# HELP rehearse_sessions_started_total Sessions started
# TYPE rehearse_sessions_started_total counter
rehearse_sessions_started_total %d

# HELP rehearse_sessions_completed_total Sessions that ran to the end of their timer
# TYPE rehearse_sessions_completed_total counter
rehearse_sessions_completed_total %d

# HELP rehearse_sessions_aborted_total Sessions stopped early
# TYPE rehearse_sessions_aborted_total counter
rehearse_sessions_aborted_total %d

# HELP rehearse_save_failures_total Records that could not be stored
# TYPE rehearse_save_failures_total counter
rehearse_save_failures_total %d

# HELP rehearse_messages_received_total Websocket messages received
# TYPE rehearse_messages_received_total counter
rehearse_messages_received_total %d

# HELP rehearse_messages_sent_total Websocket messages sent
# TYPE rehearse_messages_sent_total counter
rehearse_messages_sent_total %d

# HELP rehearse_audio_chunks_total Microphone chunks received
# TYPE rehearse_audio_chunks_total counter
rehearse_audio_chunks_total %d

# HELP rehearse_frames_received_total Video frames and landmark sets received
# TYPE rehearse_frames_received_total counter
rehearse_frames_received_total %d

# HELP rehearse_feedback_requests_total Coaching feedback requests
# TYPE rehearse_feedback_requests_total counter
rehearse_feedback_requests_total %d

# HELP rehearse_rtc_peers_total WebRTC peers attached
# TYPE rehearse_rtc_peers_total counter
rehearse_rtc_peers_total %d
`, st.ActiveSessions, st.Watchers, st.SessionsStarted, st.SessionsCompleted, st.SessionsAborted,
		st.SaveFailures, st.MessagesReceived, st.MessagesSent, st.AudioChunks, st.FramesReceived,
		st.FeedbackRequests, st.RTCPeers))
}

