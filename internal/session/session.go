// Package session holds the mutable record of one learner's progress through
// a quest graph, plus the append-only transcript of what was said.
//
// A [State] is a plain value. The turn orchestrator owns it for the session's
// lifetime, passes it into its reducer and stores the returned value; nothing
// else mutates it.
package session

import (
	"slices"
	"sync"

	"github.com/MrWong99/pingquest/internal/quest"
)

// State is where the learner is in the graph.
type State struct {
	// CurrentNode is the node whose prompt is being answered.
	CurrentNode quest.NodeID `json:"current_node"`

	// HasKey is set once a treasure node is answered correctly.
	HasKey bool `json:"has_key"`

	// Score counts successful judgments. It never decreases.
	Score int `json:"score"`

	// BossHits counts successful judgments in the current boss encounter,
	// in [0, quest.RequiredBossHits].
	BossHits int `json:"boss_hits"`

	// TurnIndex counts judged attempts, successful or not.
	TurnIndex int `json:"turn_index"`
}

// New returns the initial state for a session on g.
func New(g *quest.Graph) State {
	return State{CurrentNode: g.Start()}
}

// Completed reports whether the learner has reached the goal of g.
func (s State) Completed(g *quest.Graph) bool {
	return s.CurrentNode == g.Goal()
}

// Speaker identifies who produced a transcript entry.
type Speaker string

const (
	SpeakerSystem  Speaker = "system"
	SpeakerLearner Speaker = "learner"
)

// Turn is one immutable transcript entry.
type Turn struct {
	Speaker  Speaker `json:"speaker"`
	Text     string  `json:"text"`
	Sequence int     `json:"sequence"`
}

// Transcript is the ordered, append-only log of a session. It is safe for
// concurrent use so readers can copy it while a turn is running.
type Transcript struct {
	mu    sync.Mutex
	turns []Turn
}

// Append adds an entry and returns it with its sequence number set.
// Sequence numbers start at 1.
func (t *Transcript) Append(speaker Speaker, text string) Turn {
	t.mu.Lock()
	defer t.mu.Unlock()
	turn := Turn{Speaker: speaker, Text: text, Sequence: len(t.turns) + 1}
	t.turns = append(t.turns, turn)
	return turn
}

// Turns returns a copy of all entries in order.
func (t *Transcript) Turns() []Turn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.turns)
}

// Len returns the number of entries.
func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.turns)
}

// Since returns the entries with a sequence number greater than seq.
func (t *Transcript) Since(seq int) []Turn {
	t.mu.Lock()
	defer t.mu.Unlock()
	if seq < 0 {
		seq = 0
	}
	if seq >= len(t.turns) {
		return nil
	}
	return slices.Clone(t.turns[seq:])
}
