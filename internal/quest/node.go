// Package quest defines the node graphs learners traverse and validates them
// once at load time.
//
// A [Level] is the loaded, uncompiled definition. [Compile] checks every
// structural rule and returns an immutable [Graph] that is safe to share
// between sessions. A [Store] keeps all compiled graphs by level id.
package quest

import (
	"slices"

	"github.com/MrWong99/pingquest/internal/match"
)

// RequiredBossHits is the number of consecutive successful judgments a boss
// encounter needs before the learner advances to the goal.
const RequiredBossHits = 3

// NodeID identifies a node within one level.
type NodeID string

// Variant is the role a node plays in the graph. It is a closed set:
// [Normal], [Gate], [Treasure], [Goal] and [Boss].
type Variant interface {
	// Kind returns the variant name as used in quest files.
	Kind() string
	sealed()
}

// Normal is a plain step with one expected utterance.
type Normal struct{}

// Gate is a checkpoint in front of the boss. It behaves like [Normal] for
// judging; the key check happens when the transition targets a boss.
type Gate struct{}

// Treasure grants the key when answered correctly.
type Treasure struct{}

// Goal is the single terminal node.
type Goal struct{}

// Boss is an encounter that needs [RequiredBossHits] successful judgments.
// Challenges[i] is the expected utterance while the learner has i hits.
type Boss struct {
	Challenges []string
}

func (Normal) Kind() string   { return "normal" }
func (Gate) Kind() string     { return "gate" }
func (Treasure) Kind() string { return "treasure" }
func (Goal) Kind() string     { return "goal" }
func (Boss) Kind() string     { return "boss" }

func (Normal) sealed()   {}
func (Gate) sealed()     {}
func (Treasure) sealed() {}
func (Goal) sealed()     {}
func (Boss) sealed()     {}

// Edge is an outgoing transition.
type Edge struct {
	// To is the target node.
	To NodeID

	// Cue is an optional branch word. When a node has several edges and the
	// learner's utterance contains an edge's cue, that edge is taken instead of
	// the first one.
	Cue string
}

// Node is one step in a level graph.
type Node struct {
	ID NodeID

	// Prompt is spoken to the learner when the node becomes current.
	Prompt string

	// Expected is the utterance the learner must say. Empty marks a non-judged
	// step. Ignored for [Boss] nodes, which use their challenge list.
	Expected string

	// Edges are the outgoing transitions in declaration order.
	Edges []Edge

	// Variant is the node's role. A nil Variant is treated as [Normal].
	Variant Variant

	// FromDeck marks a node whose expected utterance (or boss challenges) is
	// filled from the level's phrase deck.
	FromDeck bool
}

// IsBoss reports whether the node is a boss encounter.
func (n Node) IsBoss() bool {
	_, ok := n.Variant.(Boss)
	return ok
}

// IsTreasure reports whether the node grants the key.
func (n Node) IsTreasure() bool {
	_, ok := n.Variant.(Treasure)
	return ok
}

// IsGoal reports whether the node is the terminal goal.
func (n Node) IsGoal() bool {
	_, ok := n.Variant.(Goal)
	return ok
}

// Kind returns the variant name, defaulting to "normal".
func (n Node) Kind() string {
	if n.Variant == nil {
		return Normal{}.Kind()
	}
	return n.Variant.Kind()
}

// ExpectedFor returns the utterance the learner must say given the number of
// boss hits collected so far. For a boss it indexes the challenge list, so the
// selection is deterministic; once all challenges are passed it returns "".
func (n Node) ExpectedFor(bossHits int) string {
	if b, ok := n.Variant.(Boss); ok {
		if bossHits < 0 || bossHits >= len(b.Challenges) {
			return ""
		}
		return b.Challenges[bossHits]
	}
	return n.Expected
}

// Judged reports whether the node has anything to judge at bossHits. An
// expected utterance that normalizes to nothing (e.g. "?!") can never be
// matched, so such a node is a non-judged step.
func (n Node) Judged(bossHits int) bool {
	return match.Normalize(n.ExpectedFor(bossHits)) != ""
}

func (n Node) clone() Node {
	n.Edges = slices.Clone(n.Edges)
	if b, ok := n.Variant.(Boss); ok {
		n.Variant = Boss{Challenges: slices.Clone(b.Challenges)}
	}
	return n
}

// VariantForKind maps a quest-file kind name to its [Variant]. Boss variants
// are returned without challenges. The second result is false for unknown
// names.
func VariantForKind(kind string) (Variant, bool) {
	switch kind {
	case "", "normal":
		return Normal{}, true
	case "gate":
		return Gate{}, true
	case "treasure":
		return Treasure{}, true
	case "goal":
		return Goal{}, true
	case "boss":
		return Boss{}, true
	default:
		return nil, false
	}
}
