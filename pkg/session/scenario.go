package session

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultDuration applies when a scenario does not set one.
const DefaultDuration = 90 * time.Second

// Categories with special meaning in analytics.
const (
	CategoryCasual         = "casual"
	CategorySelfEvaluation = "self_evaluation"
)

// Scenario is a speaking prompt. Category, Difficulty and Stakes are
// opaque labels copied into the record.
type Scenario struct {
	ID         string `yaml:"id" json:"id"`
	Title      string `yaml:"title" json:"title"`
	Text       string `yaml:"text" json:"text"`
	Category   string `yaml:"category" json:"category"`
	Difficulty string `yaml:"difficulty" json:"difficulty,omitempty"`
	Stakes     string `yaml:"stakes" json:"stakes,omitempty"`
	// Seconds is the speaking time; zero means DefaultDuration.
	Seconds int `yaml:"duration" json:"duration"`
}

// Duration returns the speaking time.
func (s Scenario) Duration() time.Duration {
	if s.Seconds <= 0 {
		return DefaultDuration
	}
	return time.Duration(s.Seconds) * time.Second
}

// DefaultScenarios returns the built-in catalog.
func DefaultScenarios() []Scenario {
	return []Scenario{
		{
			ID:         "casual",
			Title:      "Weekend Recap",
			Text:       "Tell a friend what you did last weekend.",
			Category:   CategoryCasual,
			Difficulty: "easy",
			Stakes:     "low",
			Seconds:    60,
		},
		{
			ID:         "project",
			Title:      "Project Explanation",
			Text:       "Explain your project to a senior who is listening silently and taking notes.",
			Category:   "technical",
			Difficulty: "medium",
			Stakes:     "medium",
			Seconds:    90,
		},
		{
			ID:         "intro",
			Title:      "Interview Introduction",
			Text:       "Introduce yourself to an interviewer who is not smiling or reacting.",
			Category:   CategorySelfEvaluation,
			Difficulty: "medium",
			Stakes:     "high",
			Seconds:    60,
		},
		{
			ID:         "concept",
			Title:      "Technical Concept Explanation",
			Text:       "Explain a technical concept you know well to someone evaluating your clarity.",
			Category:   "technical",
			Difficulty: "hard",
			Stakes:     "high",
			Seconds:    120,
		},
	}
}

// Catalog is a set of scenarios addressable by ID.
type Catalog struct {
	list []Scenario
	byID map[string]Scenario
}

// NewCatalog indexes scenarios. Later duplicates replace earlier ones.
func NewCatalog(scenarios []Scenario) *Catalog {
	c := &Catalog{byID: make(map[string]Scenario, len(scenarios))}
	for _, s := range scenarios {
		if _, dup := c.byID[s.ID]; !dup {
			c.list = append(c.list, s)
		} else {
			for i := range c.list {
				if c.list[i].ID == s.ID {
					c.list[i] = s
				}
			}
		}
		c.byID[s.ID] = s
	}
	return c
}

// LoadCatalog reads a YAML list of scenarios. An empty path yields the
// built-in catalog.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return NewCatalog(DefaultScenarios()), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenarios: %w", err)
	}

	var doc struct {
		Scenarios []Scenario `yaml:"scenarios"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse scenarios: %w", err)
	}
	for i, s := range doc.Scenarios {
		if s.ID == "" {
			return nil, fmt.Errorf("scenario %d: id is required", i)
		}
	}
	return NewCatalog(doc.Scenarios), nil
}

// List returns scenarios in catalog order.
func (c *Catalog) List() []Scenario {
	return append([]Scenario(nil), c.list...)
}

// Find looks up a scenario by ID.
func (c *Catalog) Find(id string) (Scenario, bool) {
	s, ok := c.byID[id]
	return s, ok
}
