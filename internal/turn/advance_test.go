package turn_test

import (
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/MrWong99/pingquest/internal/quest"
	"github.com/MrWong99/pingquest/internal/session"
	"github.com/MrWong99/pingquest/internal/turn"
)

// ─── helpers ──────────────────────────────────────────────────────────────────

const (
	startLine    = "I like apples."
	gateLine     = "I play tennis."
	treasureLine = "I have a key."
)

var bossLines = []string{"I am brave.", "I am strong.", "I am ready."}

// islandGraph is start → gate → boss → goal with a treasure hanging off the
// gate. The gate's only edge leads to the boss, so a learner without the key
// is redirected to the treasure.
func islandGraph(t *testing.T) *quest.Graph {
	t.Helper()
	g, err := quest.Compile(quest.Level{
		ID:    "island",
		Title: "Island",
		Start: "start",
		Nodes: []quest.Node{
			{ID: "start", Prompt: "Hello.", Expected: startLine, Edges: []quest.Edge{{To: "gate"}}},
			{ID: "gate", Prompt: "A goblin.", Expected: gateLine, Edges: []quest.Edge{{To: "boss"}}, Variant: quest.Gate{}},
			{ID: "treasure", Prompt: "A chest.", Expected: treasureLine, Edges: []quest.Edge{{To: "gate"}}, Variant: quest.Treasure{}},
			{ID: "boss", Prompt: "The boss.", Edges: []quest.Edge{{To: "goal"}}, Variant: quest.Boss{Challenges: bossLines}},
			{ID: "goal", Prompt: "You win!", Variant: quest.Goal{}},
		},
	})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return g
}

// forkGraph starts with a non-judged choice between two paths.
func forkGraph(t *testing.T) *quest.Graph {
	t.Helper()
	g, err := quest.Compile(quest.Level{
		ID:    "fork",
		Start: "start",
		Nodes: []quest.Node{
			{ID: "start", Prompt: "Say left or right.", Edges: []quest.Edge{{To: "left", Cue: "left"}, {To: "right", Cue: "right"}}},
			{ID: "left", Expected: "I go left.", Edges: []quest.Edge{{To: "treasure"}}},
			{ID: "right", Expected: "I go right.", Edges: []quest.Edge{{To: "gate"}}},
			{ID: "treasure", Expected: treasureLine, Edges: []quest.Edge{{To: "gate"}}, Variant: quest.Treasure{}},
			{ID: "gate", Expected: gateLine, Edges: []quest.Edge{{To: "boss"}}, Variant: quest.Gate{}},
			{ID: "boss", Edges: []quest.Edge{{To: "goal"}}, Variant: quest.Boss{Challenges: bossLines}},
			{ID: "goal", Variant: quest.Goal{}},
		},
	})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return g
}

func advance(t *testing.T, g *quest.Graph, s session.State, utterance string) session.State {
	t.Helper()
	node, err := g.NodeFor(s.CurrentNode)
	if err != nil {
		t.Fatalf("NodeFor(%q): %v", s.CurrentNode, err)
	}
	next, err := turn.Advance(g, s, turn.Judge(node, s.BossHits, utterance))
	if err != nil {
		t.Fatalf("Advance(%+v, %q): %v", s, utterance, err)
	}
	return next
}

// ─── rules ────────────────────────────────────────────────────────────────────

func TestAdvance(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		state     session.State
		utterance string
		want      session.State
	}{
		{
			name:      "miss only counts the attempt",
			state:     session.State{CurrentNode: "start"},
			utterance: "I like bananas.",
			want:      session.State{CurrentNode: "start", TurnIndex: 1},
		},
		{
			name:      "empty recognition is a miss",
			state:     session.State{CurrentNode: "start", TurnIndex: 4},
			utterance: "",
			want:      session.State{CurrentNode: "start", TurnIndex: 5},
		},
		{
			name:      "hit scores and advances",
			state:     session.State{CurrentNode: "start"},
			utterance: "i LIKE apples!!",
			want:      session.State{CurrentNode: "gate", Score: 1, TurnIndex: 1},
		},
		{
			name:      "gate without key redirects to treasure",
			state:     session.State{CurrentNode: "gate", Score: 1, TurnIndex: 1},
			utterance: gateLine,
			want:      session.State{CurrentNode: "treasure", Score: 2, TurnIndex: 2},
		},
		{
			name:      "treasure grants the key",
			state:     session.State{CurrentNode: "treasure", Score: 2, TurnIndex: 2},
			utterance: treasureLine,
			want:      session.State{CurrentNode: "gate", HasKey: true, Score: 3, TurnIndex: 3},
		},
		{
			name:      "gate with key reaches the boss",
			state:     session.State{CurrentNode: "gate", HasKey: true, Score: 3, TurnIndex: 3},
			utterance: gateLine,
			want:      session.State{CurrentNode: "boss", HasKey: true, Score: 4, TurnIndex: 4},
		},
		{
			name:      "first boss hit stays on boss",
			state:     session.State{CurrentNode: "boss", HasKey: true, Score: 4, TurnIndex: 4},
			utterance: bossLines[0],
			want:      session.State{CurrentNode: "boss", HasKey: true, Score: 5, BossHits: 1, TurnIndex: 5},
		},
		{
			name:      "boss expects the challenge selected by hits",
			state:     session.State{CurrentNode: "boss", HasKey: true, Score: 5, BossHits: 1, TurnIndex: 5},
			utterance: bossLines[0],
			want:      session.State{CurrentNode: "boss", HasKey: true, Score: 5, BossHits: 1, TurnIndex: 6},
		},
		{
			name:      "boss miss keeps hits",
			state:     session.State{CurrentNode: "boss", HasKey: true, Score: 5, BossHits: 2, TurnIndex: 6},
			utterance: "I am tired.",
			want:      session.State{CurrentNode: "boss", HasKey: true, Score: 5, BossHits: 2, TurnIndex: 7},
		},
		{
			name:      "third boss hit reaches the goal",
			state:     session.State{CurrentNode: "boss", HasKey: true, Score: 5, BossHits: 2, TurnIndex: 7},
			utterance: bossLines[2],
			want:      session.State{CurrentNode: "goal", HasKey: true, Score: 6, BossHits: 3, TurnIndex: 8},
		},
	}

	g := islandGraph(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := advance(t, g, tt.state, tt.utterance)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("state mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestAdvance_DoesNotMutateInput(t *testing.T) {
	t.Parallel()

	g := islandGraph(t)
	in := session.State{CurrentNode: "start"}
	_ = advance(t, g, in, startLine)
	if in != (session.State{CurrentNode: "start"}) {
		t.Errorf("input state mutated: %+v", in)
	}
}

func TestAdvance_GoalIsTerminal(t *testing.T) {
	t.Parallel()

	g := islandGraph(t)
	s := session.State{CurrentNode: "goal", Score: 6, BossHits: 3}
	_, err := turn.Advance(g, s, turn.Judgment{Utterance: "anything"})
	if !errors.Is(err, turn.ErrSessionCompleted) {
		t.Fatalf("err = %v, want ErrSessionCompleted", err)
	}
}

func TestAdvance_UnknownNode(t *testing.T) {
	t.Parallel()

	g := islandGraph(t)
	_, err := turn.Advance(g, session.State{CurrentNode: "nowhere"}, turn.Judgment{})
	var unknown *quest.UnknownNodeError
	if !errors.As(err, &unknown) {
		t.Fatalf("err = %v, want *quest.UnknownNodeError", err)
	}
}

func TestAdvance_NonJudgedStep(t *testing.T) {
	t.Parallel()

	g := forkGraph(t)
	tests := []struct {
		utterance string
		want      quest.NodeID
	}{
		{"Right, please!", "right"},
		{"left", "left"},
		{"I don't know", "left"},
		{"   ", "start"},
		{"", "start"},
	}
	for _, tt := range tests {
		got := advance(t, g, session.New(g), tt.utterance)
		if got.CurrentNode != tt.want {
			t.Errorf("utterance %q: node = %q, want %q", tt.utterance, got.CurrentNode, tt.want)
		}
		if got.Score != 0 || got.TurnIndex != 0 {
			t.Errorf("utterance %q: non-judged step scored: %+v", tt.utterance, got)
		}
	}
}

// A node whose expected line normalizes to nothing can never be matched, so it
// is walked like a non-judged step instead of locking the learner in place.
func TestAdvance_UnmatchableExpected(t *testing.T) {
	t.Parallel()

	g, err := quest.Compile(quest.Level{
		ID:    "shout",
		Start: "start",
		Nodes: []quest.Node{
			{ID: "start", Prompt: "Shout!", Expected: "?!", Edges: []quest.Edge{{To: "gate"}}},
			{ID: "gate", Expected: gateLine, Edges: []quest.Edge{{To: "boss"}}, Variant: quest.Gate{}},
			{ID: "treasure", Expected: treasureLine, Edges: []quest.Edge{{To: "gate"}}, Variant: quest.Treasure{}},
			{ID: "boss", Edges: []quest.Edge{{To: "goal"}}, Variant: quest.Boss{Challenges: bossLines}},
			{ID: "goal", Variant: quest.Goal{}},
		},
	})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	start, _ := g.NodeFor("start")

	if j := turn.Judge(start, 0, "anything at all"); j.Judged() {
		t.Errorf("Judge = %+v, want an unjudged attempt", j)
	}
	if got, want := turn.PromptText(start, 0), "Shout!"; got != want {
		t.Errorf("PromptText = %q, want %q", got, want)
	}
	if got := g.MaxScore(); got != 4 {
		t.Errorf("MaxScore = %d, want 4", got)
	}

	tests := []struct {
		utterance string
		want      quest.NodeID
	}{
		{"?!", "gate"},
		{"whatever", "gate"},
		{"", "start"},
	}
	for _, tt := range tests {
		got := advance(t, g, session.New(g), tt.utterance)
		if got.CurrentNode != tt.want {
			t.Errorf("utterance %q: node = %q, want %q", tt.utterance, got.CurrentNode, tt.want)
		}
		if got.Score != 0 || got.TurnIndex != 0 {
			t.Errorf("utterance %q: unmatchable step scored: %+v", tt.utterance, got)
		}
	}
}

func TestAdvance_CuesIgnoredOnJudgedNodes(t *testing.T) {
	t.Parallel()

	g := forkGraph(t)
	s := advance(t, g, session.New(g), "right")
	s = advance(t, g, s, "I go right.")
	if s.CurrentNode != "gate" || s.Score != 1 {
		t.Fatalf("state = %+v, want gate with score 1", s)
	}
}

// ─── properties ───────────────────────────────────────────────────────────────

// TestAdvance_RandomWalks drives both graphs with random utterances and checks
// the invariants after every step.
func TestAdvance_RandomWalks(t *testing.T) {
	t.Parallel()

	vocabulary := []string{
		"", "nonsense", "left", "right", startLine, gateLine, treasureLine,
		"I go left.", "I go right.", bossLines[0], bossLines[1], bossLines[2],
	}
	for _, g := range []*quest.Graph{islandGraph(t), forkGraph(t)} {
		rng := rand.New(rand.NewPCG(7, uint64(len(g.ID()))))
		for walk := 0; walk < 200; walk++ {
			s := session.New(g)
			for step := 0; step < 60 && !s.Completed(g); step++ {
				prev := s
				utterance := vocabulary[rng.IntN(len(vocabulary))]
				s = advance(t, g, s, utterance)

				if s.Score < prev.Score {
					t.Fatalf("%s: score decreased %d → %d", g.ID(), prev.Score, s.Score)
				}
				if s.BossHits < prev.BossHits || s.BossHits > quest.RequiredBossHits {
					t.Fatalf("%s: boss hits %d → %d", g.ID(), prev.BossHits, s.BossHits)
				}
				if s.TurnIndex < prev.TurnIndex {
					t.Fatalf("%s: turn index decreased", g.ID())
				}
				node, err := g.NodeFor(s.CurrentNode)
				if err != nil {
					t.Fatalf("%s: %v", g.ID(), err)
				}
				if node.IsBoss() && !s.HasKey {
					t.Fatalf("%s: reached boss without key: %+v", g.ID(), s)
				}
				if s.CurrentNode == g.Goal() && s.BossHits != quest.RequiredBossHits {
					t.Fatalf("%s: goal reached with %d boss hits", g.ID(), s.BossHits)
				}
			}
		}
	}
}

func TestPromptText(t *testing.T) {
	t.Parallel()

	g := islandGraph(t)
	boss, _ := g.NodeFor("boss")
	goal, _ := g.NodeFor("goal")
	tests := []struct {
		name string
		node quest.Node
		hits int
		want string
	}{
		{"boss first round", boss, 0, "The boss. Say: I am brave."},
		{"boss last round", boss, 2, "The boss. Say: I am ready."},
		{"goal", goal, 3, "You win!"},
		{"bare expected", quest.Node{Expected: "Hi."}, 0, "Say: Hi."},
	}
	for _, tt := range tests {
		if got := turn.PromptText(tt.node, tt.hits); got != tt.want {
			t.Errorf("%s: PromptText = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestJudge(t *testing.T) {
	t.Parallel()

	g := islandGraph(t)
	start, _ := g.NodeFor("start")

	hit := turn.Judge(start, 0, "i like APPLES")
	if !hit.OK || hit.NearMiss || hit.Similarity != 1 {
		t.Errorf("hit = %+v", hit)
	}
	near := turn.Judge(start, 0, "I like apple.")
	if near.OK || !near.NearMiss {
		t.Errorf("near = %+v, want a near miss", near)
	}
	silent := turn.Judge(start, 0, "")
	if silent.OK || silent.NearMiss || silent.Similarity != 0 || !silent.Judged() {
		t.Errorf("silent = %+v", silent)
	}
}

func TestPhase_String(t *testing.T) {
	t.Parallel()

	if got := turn.Recognizing.String(); got != "recognizing" {
		t.Errorf("Recognizing = %q", got)
	}
	if got := turn.Phase(42).String(); got != "phase(42)" {
		t.Errorf("Phase(42) = %q", got)
	}
}
