package quest

import (
	"errors"
	"fmt"

	"github.com/MrWong99/pingquest/internal/match"
	"github.com/MrWong99/pingquest/internal/reward"
)

// Level is a loaded, not yet validated quest definition.
type Level struct {
	// ID uniquely identifies the level (e.g., "1", "pingpong").
	ID string

	// Title is a human-readable label.
	Title string

	// Start is the node a new session begins on.
	Start NodeID

	// Nodes holds the node definitions in declaration order.
	Nodes []Node

	// Rewards are the level's reward tiers. Empty means [reward.DefaultTiers].
	Rewards []reward.Tier
}

// Graph is a compiled, validated level. It is immutable and safe for
// concurrent use by any number of sessions.
type Graph struct {
	id      string
	title   string
	start   NodeID
	goal    NodeID
	order   []NodeID
	nodes   map[NodeID]Node
	rewards *reward.Table

	// nearestTreasure maps each boss to the treasure closest to it, measured
	// over edges in either direction.
	nearestTreasure map[NodeID]NodeID
}

// Compile validates level and builds its [Graph]. All problems found are
// reported together in a [*ValidationError].
//
// Rules:
//   - level and node ids are non-empty; node ids are unique
//   - start is defined and is neither a boss nor the goal
//   - every edge target exists and no node transitions to itself
//   - exactly one goal node, without outgoing edges
//   - every other node has at least one edge
//   - boss edges lead only to the goal
//   - each boss has exactly [RequiredBossHits] non-empty challenges
//   - a level with a boss has a treasure connected to it
//   - the goal is reachable from start
func Compile(level Level) (*Graph, error) {
	g := &Graph{
		id:              level.ID,
		title:           level.Title,
		start:           level.Start,
		nodes:           make(map[NodeID]Node, len(level.Nodes)),
		nearestTreasure: make(map[NodeID]NodeID),
	}

	var errs []error
	if level.ID == "" {
		errs = append(errs, errors.New("level id must not be empty"))
	}

	for i, n := range level.Nodes {
		if n.ID == "" {
			errs = append(errs, fmt.Errorf("node[%d]: id must not be empty", i))
			continue
		}
		if _, dup := g.nodes[n.ID]; dup {
			errs = append(errs, fmt.Errorf("node %q: duplicate id", n.ID))
			continue
		}
		if n.Variant == nil {
			n.Variant = Normal{}
		}
		g.nodes[n.ID] = n.clone()
		g.order = append(g.order, n.ID)
	}

	switch start, ok := g.nodes[level.Start]; {
	case level.Start == "":
		errs = append(errs, errors.New("start must not be empty"))
	case !ok:
		errs = append(errs, &UnknownNodeError{Level: level.ID, ID: level.Start})
	case start.IsBoss() || start.IsGoal():
		errs = append(errs, fmt.Errorf("start node %q must not be a %s", start.ID, start.Kind()))
	}

	var goals []NodeID
	for _, id := range g.order {
		n := g.nodes[id]
		errs = append(errs, g.checkNode(n)...)
		if n.IsGoal() {
			goals = append(goals, id)
		}
	}
	switch len(goals) {
	case 0:
		errs = append(errs, errors.New("no goal node defined"))
	case 1:
		g.goal = goals[0]
	default:
		errs = append(errs, fmt.Errorf("exactly one goal node allowed, found %d: %v", len(goals), goals))
	}

	table, err := reward.NewTable(level.Rewards)
	if err != nil {
		errs = append(errs, err)
	}
	g.rewards = table

	// Reachability only makes sense once every edge resolves.
	if len(errs) == 0 {
		errs = append(errs, g.checkReachability()...)
	}

	if len(errs) > 0 {
		return nil, &ValidationError{Level: level.ID, Err: errors.Join(errs...)}
	}
	return g, nil
}

func (g *Graph) checkNode(n Node) []error {
	var errs []error
	for _, e := range n.Edges {
		target, ok := g.nodes[e.To]
		switch {
		case !ok:
			errs = append(errs, &UnknownNodeError{Level: g.id, ID: e.To, From: n.ID})
		case e.To == n.ID:
			errs = append(errs, fmt.Errorf("node %q: transitions to itself", n.ID))
		case n.IsBoss() && !target.IsGoal():
			errs = append(errs, fmt.Errorf("boss %q: transitions to %s %q, only the goal is allowed", n.ID, target.Kind(), e.To))
		}
	}

	switch v := n.Variant.(type) {
	case Goal:
		if len(n.Edges) > 0 {
			errs = append(errs, fmt.Errorf("goal %q: must not have transitions", n.ID))
		}
	case Boss:
		if len(v.Challenges) != RequiredBossHits {
			errs = append(errs, fmt.Errorf("boss %q: needs exactly %d challenges, got %d", n.ID, RequiredBossHits, len(v.Challenges)))
		}
		for i, c := range v.Challenges {
			if match.Normalize(c) == "" {
				errs = append(errs, fmt.Errorf("boss %q: challenge %d is empty", n.ID, i))
			}
		}
	}
	if !n.IsGoal() && len(n.Edges) == 0 {
		errs = append(errs, fmt.Errorf("node %q: needs at least one transition", n.ID))
	}
	return errs
}

func (g *Graph) checkReachability() []error {
	var errs []error

	seen := map[NodeID]bool{g.start: true}
	queue := []NodeID{g.start}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, e := range g.nodes[id].Edges {
			if !seen[e.To] {
				seen[e.To] = true
				queue = append(queue, e.To)
			}
		}
	}
	if !seen[g.goal] {
		errs = append(errs, fmt.Errorf("goal %q is not reachable from start %q", g.goal, g.start))
	}

	for _, id := range g.order {
		if !g.nodes[id].IsBoss() {
			continue
		}
		t, ok := g.findNearestTreasure(id)
		if !ok {
			errs = append(errs, fmt.Errorf("boss %q: no treasure connected to it", id))
			continue
		}
		g.nearestTreasure[id] = t
	}
	return errs
}

// findNearestTreasure runs a breadth-first search from boss over edges in
// either direction. Neighbours are visited in node declaration order, then
// edge order, so ties resolve to the treasure declared first.
func (g *Graph) findNearestTreasure(boss NodeID) (NodeID, bool) {
	adj := make(map[NodeID][]NodeID, len(g.nodes))
	for _, id := range g.order {
		for _, e := range g.nodes[id].Edges {
			adj[id] = append(adj[id], e.To)
			adj[e.To] = append(adj[e.To], id)
		}
	}

	seen := map[NodeID]bool{boss: true}
	queue := []NodeID{boss}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if g.nodes[id].IsTreasure() {
			return id, true
		}
		for _, next := range adj[id] {
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	return "", false
}

// ID returns the level id.
func (g *Graph) ID() string { return g.id }

// Title returns the level title.
func (g *Graph) Title() string { return g.title }

// Start returns the start node id.
func (g *Graph) Start() NodeID { return g.start }

// Goal returns the goal node id.
func (g *Graph) Goal() NodeID { return g.goal }

// Rewards returns the level's reward table.
func (g *Graph) Rewards() *reward.Table { return g.rewards }

// NodeFor returns the node with the given id or an [*UnknownNodeError].
func (g *Graph) NodeFor(id NodeID) (Node, error) {
	n, ok := g.nodes[id]
	if !ok {
		return Node{}, &UnknownNodeError{Level: g.id, ID: id}
	}
	return n.clone(), nil
}

// Nodes returns all nodes in declaration order.
func (g *Graph) Nodes() []Node {
	out := make([]Node, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.nodes[id].clone())
	}
	return out
}

// NearestTreasure returns the treasure a learner without the key is sent to
// instead of the given boss. The second result is false when boss is not a
// boss node.
func (g *Graph) NearestTreasure(boss NodeID) (NodeID, bool) {
	t, ok := g.nearestTreasure[boss]
	return t, ok
}

// MaxScore returns the score of a session that answers every judged node on
// the longest simple path exactly once. It is a rough upper bound used to
// sanity-check reward tiers in logs.
func (g *Graph) MaxScore() int {
	best := 0
	var walk func(id NodeID, seen map[NodeID]bool, score int)
	walk = func(id NodeID, seen map[NodeID]bool, score int) {
		n := g.nodes[id]
		switch {
		case n.IsBoss():
			score += RequiredBossHits
		case n.Judged(0):
			score++
		}
		if score > best {
			best = score
		}
		seen[id] = true
		for _, e := range n.Edges {
			if !seen[e.To] {
				walk(e.To, seen, score)
			}
		}
		delete(seen, id)
	}
	walk(g.start, map[NodeID]bool{}, 0)
	return best
}
