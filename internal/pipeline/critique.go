package pipeline

import "strings"

// Critique is the engine's review of a delivered component. It never blocks delivery.
type Critique struct {
	Score   int      `json:"score"`
	Issues  []string `json:"issues"`
	Summary string   `json:"summary"`
}

func parseCritique(raw string) (*Critique, error) {
	var c Critique
	if err := decodeJSON(raw, &c); err != nil {
		return nil, err
	}
	if c.Score < 0 {
		c.Score = 0
	}
	if c.Score > 100 {
		c.Score = 100
	}
	c.Issues = trimAll(c.Issues)
	c.Summary = strings.TrimSpace(c.Summary)
	return &c, nil
}
