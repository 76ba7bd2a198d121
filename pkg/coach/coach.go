package coach

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/teslashibe/go-rehearse/pkg/inference"
	"github.com/teslashibe/go-rehearse/pkg/session"
)

// Generation parameters.
const (
	Temperature    = 0.55
	MaxTokens      = 140
	DefaultTimeout = 15 * time.Second

	systemPrompt = "You are a speaking confidence coach. You analyze behavioral and delivery cues, not grammar."
)

// Fallback texts.
const (
	FallbackSummary    = "Your confidence was affected by hesitation and limited expressiveness. Focus on steady eye contact and completing one idea fully before pausing."
	UnavailableSummary = "AI feedback is unavailable right now. You can still improve by practicing consistently."
)

var fallbackTips = []string{
	"Try structuring your explanation as problem, solution, result.",
	"Practice speaking continuously even if imperfect.",
}

// Request asks for feedback on one record.
type Request struct {
	Record session.Record `json:"record"`
	// SelfRating is the user's 1-5 confidence rating; zero means 3.
	SelfRating int `json:"self_rating"`
	// Reflection is optional free text from the user.
	Reflection string `json:"reflection,omitempty"`
}

// Feedback is the coaching result.
type Feedback struct {
	Summary string   `json:"summary"`
	Tips    []string `json:"tips"`
	Signals []Signal `json:"signals"`
	// Fallback is set when the text is canned rather than generated.
	Fallback bool `json:"fallback"`
}

// Coach generates feedback through an optional inference provider.
type Coach struct {
	provider inference.Provider
	timeout  time.Duration
	logger   *slog.Logger
}

// New creates a coach. A nil provider always yields fallback text.
func New(provider inference.Provider, logger *slog.Logger) *Coach {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coach{
		provider: provider,
		timeout:  DefaultTimeout,
		logger:   logger.With("component", "coach"),
	}
}

// Enabled reports whether a provider is configured.
func (c *Coach) Enabled() bool { return c.provider != nil }

// Generate returns feedback for req. It never fails; provider errors
// produce fallback text.
func (c *Coach) Generate(ctx context.Context, req Request) Feedback {
	signals := Analyze(req.Record, req.SelfRating)

	if c.provider == nil {
		return Feedback{
			Summary:  UnavailableSummary,
			Tips:     append([]string(nil), fallbackTips...),
			Signals:  signals,
			Fallback: true,
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.provider.Chat(ctx, &inference.ChatRequest{
		Messages: []inference.Message{
			inference.NewSystemMessage(systemPrompt),
			inference.NewUserMessage(BuildPrompt(req, signals)),
		},
		MaxTokens:   MaxTokens,
		Temperature: Temperature,
		JSON:        true,
	})
	if err != nil {
		c.logger.Warn("feedback generation failed, using fallback",
			"provider", c.provider.Name(),
			"error", err,
		)
		return Feedback{
			Summary:  FallbackSummary,
			Tips:     append([]string(nil), fallbackTips...),
			Signals:  signals,
			Fallback: true,
		}
	}

	summary, tips := parseReply(resp.Message.Content)
	if summary == "" {
		summary = FallbackSummary
	}
	return Feedback{
		Summary: summary,
		Tips:    tips,
		Signals: signals,
	}
}

// BuildPrompt renders the user prompt for req.
func BuildPrompt(req Request, signals []Signal) string {
	r := req.Record
	var b strings.Builder

	b.WriteString("Speaking behavior summary:\n\n")
	if r.ScenarioTitle != "" {
		fmt.Fprintf(&b, "Scenario: %s\n\n", r.ScenarioTitle)
	}

	b.WriteString("Detected confidence signals:\n")
	for _, s := range signals {
		fmt.Fprintf(&b, "- %s\n", s)
	}

	b.WriteString("\nMetrics:\n")
	fmt.Fprintf(&b, "- Average confidence: %.0f/100\n", r.AvgConfidence)
	fmt.Fprintf(&b, "- Silence ratio: %.2f\n", r.SilenceRatio)
	fmt.Fprintf(&b, "- Long pauses: %d\n", r.LongPauseCount)
	fmt.Fprintf(&b, "- Speech bursts: %d\n", r.SpeechBursts)
	fmt.Fprintf(&b, "- Volume variance: %.4f\n", r.VolumeVariance)
	if r.CameraEnabled {
		fmt.Fprintf(&b, "- Eye contact ratio: %.2f\n", r.EyeContactRatio)
		fmt.Fprintf(&b, "- Head movement ratio: %.2f\n", r.HeadMovementRatio)
	}
	fmt.Fprintf(&b, "- Self-rated confidence: %d/5\n", ClampRating(req.SelfRating))
	if reflection := strings.TrimSpace(req.Reflection); reflection != "" {
		fmt.Fprintf(&b, "- User reflection: %q\n", reflection)
	}

	b.WriteString(`
Task:
Explain what these signals say about the user's confidence.
Then give ONE concrete improvement action.

Rules:
- Do NOT ask questions
- Do NOT correct grammar
- Max 3 short sentences
- Be direct and practical

Respond as JSON: {"summary": "...", "tips": ["..."]}
`)
	return b.String()
}

// parseReply accepts a JSON object, optionally fenced, or plain text.
func parseReply(text string) (string, []string) {
	text = strings.TrimSpace(text)
	body := strings.TrimPrefix(text, "```json")
	body = strings.TrimPrefix(body, "```")
	body = strings.TrimSpace(strings.TrimSuffix(body, "```"))

	var parsed struct {
		Summary string   `json:"summary"`
		Tips    []string `json:"tips"`
	}
	if strings.HasPrefix(body, "{") && json.Unmarshal([]byte(body), &parsed) == nil {
		tips := make([]string, 0, len(parsed.Tips))
		for _, t := range parsed.Tips {
			if t = strings.TrimSpace(t); t != "" {
				tips = append(tips, t)
			}
		}
		return strings.TrimSpace(parsed.Summary), tips
	}
	return text, []string{}
}

// NextPrompt asks the provider for one new practice prompt based on
// scenario. It reports false when no provider is configured or the call
// fails.
func (c *Coach) NextPrompt(ctx context.Context, scenario session.Scenario) (string, bool) {
	if c.provider == nil {
		return "", false
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	prompt := fmt.Sprintf("Generate one short speaking practice prompt based on this scenario: %s\n\nKeep it realistic and pressure-based. Reply with the prompt only.", scenario.Title)
	resp, err := c.provider.Chat(ctx, &inference.ChatRequest{
		Messages:    []inference.Message{inference.NewUserMessage(prompt)},
		MaxTokens:   MaxTokens,
		Temperature: 0.8,
	})
	if err != nil {
		c.logger.Warn("prompt generation failed", "scenario", scenario.ID, "error", err)
		return "", false
	}

	text := strings.Trim(strings.TrimSpace(resp.Message.Content), `"`)
	if text == "" {
		return "", false
	}
	return text, true
}
