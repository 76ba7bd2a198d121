package server

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/pion/webrtc/v3"
	"github.com/spf13/cast"

	"github.com/teslashibe/go-rehearse/pkg/coach"
	"github.com/teslashibe/go-rehearse/pkg/rtc"
	"github.com/teslashibe/go-rehearse/pkg/session"
)

// rtcAnswerTimeout bounds ICE gathering for an offer.
const rtcAnswerTimeout = 10 * time.Second

// handleHealth reports liveness.
func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":   "ok",
		"version":  s.opts.Version,
		"sessions": s.ActiveSessions(),
		"watchers": s.watch.ClientCount(),
	})
}

// handleScenarios lists the practice scenarios.
func (s *Server) handleScenarios(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"scenarios": s.deps.Catalog.List()})
}

// handleScenarioPrompt returns a generated practice prompt for a
// scenario, or the scenario's own text when generation is unavailable.
func (s *Server) handleScenarioPrompt(c *fiber.Ctx) error {
	scenario, ok := s.deps.Catalog.Find(c.Params("id"))
	if !ok {
		return fiber.NewError(fiber.StatusNotFound, "unknown scenario")
	}
	prompt, generated := s.deps.Coach.NextPrompt(c.UserContext(), scenario)
	if !generated {
		prompt = scenario.Text
	}
	return c.JSON(fiber.Map{
		"scenario_id": scenario.ID,
		"prompt":      prompt,
		"generated":   generated,
	})
}

// handleSessions returns the caller's history with analytics.
func (s *Server) handleSessions(c *fiber.Ctx) error {
	if s.deps.Store == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "no session store configured")
	}
	records, err := s.deps.Store.ListAll(c.UserContext(), userID(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"sessions":  records,
		"analytics": session.Analyze(records),
	})
}

// handleBaseline returns the caller's mean score for a category.
func (s *Server) handleBaseline(c *fiber.Ctx) error {
	if s.deps.Store == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "no session store configured")
	}
	category := c.Query("category", s.deps.Aggregator.BaselineCategory)
	avg, found, err := s.deps.Store.BaselineAverage(c.UserContext(), userID(c), category)
	if err != nil {
		return err
	}

	resp := fiber.Map{"category": category, "found": found, "average": nil}
	if found {
		resp["average"] = avg
	}
	return c.JSON(resp)
}

// feedbackRequest is the loose form of coach.Request. Records from older
// clients may carry string-typed or missing fields, so the record is
// coerced rather than decoded strictly.
type feedbackRequest struct {
	Record     map[string]any `json:"record"`
	SelfRating any            `json:"self_rating"`
	Reflection string         `json:"reflection"`
}

// handleFeedback generates coaching feedback for a record. Feedback
// always succeeds; without a provider the text is canned.
func (s *Server) handleFeedback(c *fiber.Ctx) error {
	var body feedbackRequest
	if err := c.BodyParser(&body); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid feedback request: "+err.Error())
	}
	if body.Record == nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid feedback request: record is required")
	}

	req := coach.Request{
		Record:     session.SanitizeRaw(body.Record),
		SelfRating: cast.ToInt(body.SelfRating),
		Reflection: strings.TrimSpace(body.Reflection),
	}

	s.stats.feedback.Add(1)
	return c.JSON(s.deps.Coach.Generate(c.UserContext(), req))
}

// rtcOfferRequest carries a browser SDP offer for an active session.
type rtcOfferRequest struct {
	SessionID string `json:"session_id"`
	Type      string `json:"type"`
	SDP       string `json:"sdp"`
}

// handleRTCOffer answers a WebRTC offer and attaches the peer's audio
// track to the caller's running session.
func (s *Server) handleRTCOffer(c *fiber.Ctx) error {
	var req rtcOfferRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid offer: "+err.Error())
	}
	if req.Type != webrtc.SDPTypeOffer.String() || req.SDP == "" {
		return fiber.NewError(fiber.StatusBadRequest, "expected an SDP offer")
	}

	a, ok := s.lookup(req.SessionID)
	if !ok || a.sess.UserID() != userID(c) {
		return fiber.NewError(fiber.StatusNotFound, "no active session")
	}

	peer, err := rtc.NewPeer(s.opts.RTC, a.remote, s.deps.Logger)
	if err != nil {
		return err
	}
	if err := a.attachPeer(peer); err != nil {
		peer.Close()
		if errors.Is(err, rtc.ErrClosed) {
			return fiber.NewError(fiber.StatusNotFound, "no active session")
		}
		return fiber.NewError(fiber.StatusConflict, err.Error())
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), rtcAnswerTimeout)
	defer cancel()

	answer, err := peer.Answer(ctx, webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: req.SDP})
	if err != nil {
		a.detachPeer(peer)
		peer.Close()
		if errors.Is(err, rtc.ErrInvalidSDP) {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		return err
	}

	s.stats.rtcPeers.Add(1)
	return c.JSON(fiber.Map{
		"type": answer.Type.String(),
		"sdp":  answer.SDP,
	})
}
