package quest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"unicode"
)

// Phrase is one row of a phrase deck.
type Phrase struct {
	Question string
	Answer   string
}

// Utterance returns the sentence the learner is expected to say for this
// phrase: the question rewritten to first person.
func (p Phrase) Utterance() string {
	return FirstPerson(p.Question)
}

// ErrDeckHeader is returned when a deck has no "question" and "answer" columns.
var ErrDeckHeader = errors.New("quest: deck header must contain question and answer columns")

// LoadDeck reads a phrase deck CSV file from disk.
func LoadDeck(path string) ([]Phrase, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("quest: open deck %q: %w", path, err)
	}
	defer f.Close()

	deck, err := ReadDeck(f)
	if err != nil {
		return nil, fmt.Errorf("quest: read deck %q: %w", path, err)
	}
	return deck, nil
}

// ReadDeck parses CSV with a header row naming "question" and "answer"
// columns (case-insensitive, any order). Rows missing either cell are skipped.
func ReadDeck(r io.Reader) ([]Phrase, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("quest: read deck header: %w", err)
	}
	qi, ai := -1, -1
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "question":
			qi = i
		case "answer":
			ai = i
		}
	}
	if qi < 0 || ai < 0 {
		return nil, ErrDeckHeader
	}

	var deck []Phrase
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("quest: read deck row: %w", err)
		}
		if qi >= len(rec) || ai >= len(rec) {
			continue
		}
		q, a := strings.TrimSpace(rec[qi]), strings.TrimSpace(rec[ai])
		if q == "" || a == "" {
			continue
		}
		deck = append(deck, Phrase{Question: q, Answer: a})
	}
	return deck, nil
}

// FirstPerson rewrites a leading "You" to "I", keeping the case of the first
// letter and dropping whitespace in front of it. Strings that do not start
// with the word "you" are returned unchanged.
//
//	FirstPerson("You play baseball?") == "I play baseball?"
//	FirstPerson("young people")       == "young people"
func FirstPerson(s string) string {
	t := strings.TrimLeftFunc(s, unicode.IsSpace)
	if len(t) < 3 || !strings.EqualFold(t[:3], "you") {
		return s
	}
	if len(t) > 3 && isWordByte(t[3]) {
		return s
	}
	if t[0] == 'Y' {
		return "I" + t[3:]
	}
	return "i" + t[3:]
}

func isWordByte(b byte) bool {
	return b == '_' || ('0' <= b && b <= '9') || ('a' <= b && b <= 'z') || ('A' <= b && b <= 'Z')
}

// ApplyDeck fills the expected utterances of every node marked FromDeck, in
// declaration order. A judged node takes one phrase; a boss takes
// [RequiredBossHits] phrases as its challenges. It returns a copy of level
// and fails when the deck runs out.
func ApplyDeck(level Level, deck []Phrase) (Level, error) {
	need := 0
	for _, n := range level.Nodes {
		if !n.FromDeck {
			continue
		}
		if n.IsBoss() {
			need += RequiredBossHits
		} else {
			need++
		}
	}
	if need > len(deck) {
		return Level{}, fmt.Errorf("quest: level %q: deck has %d phrases, need %d", level.ID, len(deck), need)
	}

	out := level
	out.Nodes = make([]Node, len(level.Nodes))
	next := 0
	for i, n := range level.Nodes {
		n = n.clone()
		if n.FromDeck {
			if n.IsBoss() {
				challenges := make([]string, 0, RequiredBossHits)
				for _, p := range deck[next : next+RequiredBossHits] {
					challenges = append(challenges, p.Utterance())
				}
				n.Variant = Boss{Challenges: challenges}
				next += RequiredBossHits
			} else {
				n.Expected = deck[next].Utterance()
				next++
			}
		}
		out.Nodes[i] = n
	}
	out.Rewards = slices.Clone(level.Rewards)
	return out, nil
}
