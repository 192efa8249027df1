package quest_test

import (
	"errors"
	"testing"

	"github.com/MrWong99/pingquest/internal/quest"
)

func TestStore(t *testing.T) {
	t.Parallel()

	b := islandLevel()
	b.ID = "b"
	a := islandLevel()
	a.ID = "a"

	s, err := quest.NewStore(b, a)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if s.Len() != 2 {
		t.Errorf("Len = %d, want 2", s.Len())
	}
	levels := s.Levels()
	if levels[0].ID() != "a" || levels[1].ID() != "b" {
		t.Errorf("Levels not sorted: %s, %s", levels[0].ID(), levels[1].ID())
	}
	g, err := s.Level("b")
	if err != nil || g.ID() != "b" {
		t.Errorf("Level(b) = %v, %v", g, err)
	}
}

func TestStore_UnknownLevel(t *testing.T) {
	t.Parallel()

	s, _ := quest.NewStore(islandLevel())
	if _, err := s.Level("nope"); !errors.Is(err, quest.ErrUnknownLevel) {
		t.Fatalf("err = %v, want ErrUnknownLevel", err)
	}
}

func TestStore_ValidatesEachLevel(t *testing.T) {
	t.Parallel()

	good := islandLevel()
	bad := islandLevel()
	bad.ID = "bad"
	bad.Nodes[0].Edges = edges("start")

	_, err := quest.NewStore(good, bad)
	var ve *quest.ValidationError
	if !errors.As(err, &ve) || ve.Level != "bad" {
		t.Fatalf("err = %v, want ValidationError for level bad", err)
	}
}

func TestStore_DuplicateID(t *testing.T) {
	t.Parallel()

	if _, err := quest.NewStore(islandLevel(), islandLevel()); err == nil {
		t.Fatal("expected duplicate id error")
	}
}
