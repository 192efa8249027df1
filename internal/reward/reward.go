// Package reward maps a finished session's score to a reward tier.
//
// Tiers are per-level configuration because levels have different maximum
// attainable scores. Resolution picks the tier with the highest MinScore the
// score still meets; the lowest tier is the floor every finished session gets.
package reward

import (
	"errors"
	"fmt"
	"slices"
)

// Tier is one reward band.
type Tier struct {
	// Name identifies the tier (e.g., "major", "minor").
	Name string `json:"name"`

	// MinScore is the inclusive score threshold for this tier.
	MinScore int `json:"min_score"`

	// Card is an optional asset reference shown to the learner.
	Card string `json:"card,omitempty"`
}

// DefaultTiers is used for levels that declare no tiers of their own.
var DefaultTiers = []Tier{
	{Name: "major", MinScore: 6, Card: "cards/boss.png"},
	{Name: "minor", MinScore: 0, Card: "cards/light.png"},
}

// Table resolves scores to tiers. It is immutable and safe for concurrent use.
type Table struct {
	tiers []Tier // sorted by MinScore, highest first
}

// NewTable validates tiers and returns a Table. An empty list yields
// [DefaultTiers].
//
// Rules:
//   - Names must be non-empty and unique.
//   - MinScore must be >= 0.
//   - No two tiers may share a MinScore.
func NewTable(tiers []Tier) (*Table, error) {
	if len(tiers) == 0 {
		tiers = DefaultTiers
	}

	var errs []error
	names := make(map[string]bool, len(tiers))
	scores := make(map[int]string, len(tiers))
	for i, t := range tiers {
		if t.Name == "" {
			errs = append(errs, fmt.Errorf("tier[%d]: name must not be empty", i))
		} else if names[t.Name] {
			errs = append(errs, fmt.Errorf("tier[%d]: duplicate name %q", i, t.Name))
		}
		names[t.Name] = true
		if t.MinScore < 0 {
			errs = append(errs, fmt.Errorf("tier %q: min_score must be >= 0, got %d", t.Name, t.MinScore))
		}
		if other, ok := scores[t.MinScore]; ok {
			errs = append(errs, fmt.Errorf("tier %q: min_score %d already used by %q", t.Name, t.MinScore, other))
		}
		scores[t.MinScore] = t.Name
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("reward: %w", errors.Join(errs...))
	}

	sorted := slices.Clone(tiers)
	slices.SortFunc(sorted, func(a, b Tier) int { return b.MinScore - a.MinScore })
	return &Table{tiers: sorted}, nil
}

// Resolve returns the tier for score.
func (t *Table) Resolve(score int) Tier {
	for _, tier := range t.tiers {
		if score >= tier.MinScore {
			return tier
		}
	}
	return t.tiers[len(t.tiers)-1]
}

// Tiers returns the tiers ordered from highest to lowest threshold.
func (t *Table) Tiers() []Tier {
	return slices.Clone(t.tiers)
}

// Max returns the highest tier.
func (t *Table) Max() Tier {
	return t.tiers[0]
}
