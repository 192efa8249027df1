package turn

import (
	"fmt"
	"strings"

	"github.com/MrWong99/pingquest/internal/match"
	"github.com/MrWong99/pingquest/internal/quest"
	"github.com/MrWong99/pingquest/internal/session"
)

// Advance applies one judged (or non-judged) attempt to s and returns the next
// state. It never mutates its inputs.
//
// Rules:
//   - A miss only increments TurnIndex.
//   - A hit on an ordinary node scores, collects the key on a treasure and
//     moves along the chosen edge.
//   - A hit on a boss scores and counts a boss hit; the third hit moves to
//     the goal.
//   - A non-judged step moves along the chosen edge on any non-empty
//     utterance, without scoring.
//   - A move onto a boss without the key lands on the boss's nearest treasure
//     instead.
//
// Advance returns [ErrSessionCompleted] when s is already at the goal.
func Advance(g *quest.Graph, s session.State, j Judgment) (session.State, error) {
	node, err := g.NodeFor(s.CurrentNode)
	if err != nil {
		return s, err
	}
	if node.IsGoal() {
		return s, ErrSessionCompleted
	}

	if !node.Judged(s.BossHits) {
		if strings.TrimSpace(j.Utterance) == "" {
			return s, nil
		}
		return moveTo(g, s, chooseEdge(node, j.Utterance))
	}

	s.TurnIndex++
	if !j.OK {
		return s, nil
	}
	s.Score++

	if node.IsBoss() {
		s.BossHits++
		if s.BossHits >= quest.RequiredBossHits {
			s.CurrentNode = g.Goal()
		}
		return s, nil
	}

	if node.IsTreasure() {
		s.HasKey = true
	}
	return moveTo(g, s, chooseEdge(node, j.Utterance))
}

// chooseEdge picks the edge whose cue the utterance contains, falling back to
// the first edge.
func chooseEdge(node quest.Node, utterance string) quest.NodeID {
	for _, e := range node.Edges {
		if match.ContainsWord(utterance, e.Cue) {
			return e.To
		}
	}
	return node.Edges[0].To
}

// moveTo sets the current node to target, enforcing the key gate.
func moveTo(g *quest.Graph, s session.State, target quest.NodeID) (session.State, error) {
	next, err := g.NodeFor(target)
	if err != nil {
		return s, err
	}
	if next.IsBoss() && !s.HasKey {
		treasure, ok := g.NearestTreasure(target)
		if !ok {
			return s, fmt.Errorf("turn: boss %q has no treasure to redirect to", target)
		}
		target = treasure
	}
	s.CurrentNode = target
	return s, nil
}
