package quest

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
)

// ErrUnknownLevel is returned by [Store.Level] for ids that were not loaded.
var ErrUnknownLevel = errors.New("quest: unknown level")

// Store holds every compiled level by id. It is read-only after construction
// and safe for concurrent use.
type Store struct {
	graphs map[string]*Graph
	ids    []string
}

// NewStore compiles each level and indexes it by id. Every level is validated
// independently; all failures are returned together.
func NewStore(levels ...Level) (*Store, error) {
	s := &Store{graphs: make(map[string]*Graph, len(levels))}
	var errs []error
	for _, lvl := range levels {
		if _, dup := s.graphs[lvl.ID]; dup {
			errs = append(errs, fmt.Errorf("quest: duplicate level id %q", lvl.ID))
			continue
		}
		g, err := Compile(lvl)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		s.graphs[lvl.ID] = g
		s.ids = append(s.ids, lvl.ID)

		if top := g.Rewards().Max(); top.MinScore > g.MaxScore() {
			slog.Warn("quest: top reward tier is out of reach",
				"level", lvl.ID, "tier", top.Name, "min_score", top.MinScore, "max_score", g.MaxScore())
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	slices.SortFunc(s.ids, strings.Compare)
	return s, nil
}

// Level returns the compiled graph for id.
func (s *Store) Level(id string) (*Graph, error) {
	g, ok := s.graphs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownLevel, id)
	}
	return g, nil
}

// Levels returns all graphs sorted by id.
func (s *Store) Levels() []*Graph {
	out := make([]*Graph, 0, len(s.ids))
	for _, id := range s.ids {
		out = append(out, s.graphs[id])
	}
	return out
}

// Len returns the number of levels.
func (s *Store) Len() int { return len(s.ids) }
