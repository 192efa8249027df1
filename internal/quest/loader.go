package quest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"strings"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/pingquest/internal/reward"
)

// File is the on-disk representation of a level, shared by the YAML and HCL
// formats.
//
// YAML example:
//
//	id: "1"
//	title: "Ping-pong island"
//	start: start
//	deck: level1.csv
//	nodes:
//	  - id: start
//	    prompt: "Say left or right."
//	    next:
//	      - {to: left, cue: left}
//	      - {to: right, cue: right}
//	  - id: boss
//	    kind: boss
//	    challenges: ["I like tea.", "I play tennis.", "I am happy."]
//	    next: [goal]
//
// HCL example:
//
//	id    = "1"
//	start = "start"
//	node "start" {
//	  prompt = "Say left or right."
//	  next "left" { cue = "left" }
//	}
//	reward "major" {
//	  min_score = 6
//	}
type File struct {
	ID      string       `yaml:"id" hcl:"id"`
	Title   string       `yaml:"title" hcl:"title,optional"`
	Start   string       `yaml:"start" hcl:"start"`
	Deck    string       `yaml:"deck" hcl:"deck,optional"`
	Rewards []RewardFile `yaml:"rewards" hcl:"reward,block"`
	Nodes   []NodeFile   `yaml:"nodes" hcl:"node,block"`
}

// RewardFile is one reward tier in a level file.
type RewardFile struct {
	Name     string `yaml:"name" hcl:"name,label"`
	MinScore int    `yaml:"min_score" hcl:"min_score"`
	Card     string `yaml:"card" hcl:"card,optional"`
}

// NodeFile is one node in a level file.
type NodeFile struct {
	ID         string     `yaml:"id" hcl:"id,label"`
	Kind       string     `yaml:"kind" hcl:"kind,optional"`
	Prompt     string     `yaml:"prompt" hcl:"prompt,optional"`
	Expect     string     `yaml:"expect" hcl:"expect,optional"`
	FromDeck   bool       `yaml:"from_deck" hcl:"from_deck,optional"`
	Challenges []string   `yaml:"challenges" hcl:"challenges,optional"`
	Next       []EdgeFile `yaml:"next" hcl:"next,block"`
}

// EdgeFile is one transition in a level file. In YAML a bare string is
// shorthand for an edge without a cue.
type EdgeFile struct {
	To  string `yaml:"to" hcl:"to,label"`
	Cue string `yaml:"cue" hcl:"cue,optional"`
}

// UnmarshalYAML accepts either a mapping or a bare node id.
func (e *EdgeFile) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		e.To = value.Value
		return nil
	}
	type plain EdgeFile
	return value.Decode((*plain)(e))
}

// Level converts the file into a [Level]. It checks only what the file format
// can get wrong (unknown kinds, misplaced challenges); graph rules are left to
// [Compile].
func (f *File) Level() (Level, error) {
	lvl := Level{
		ID:    f.ID,
		Title: f.Title,
		Start: NodeID(f.Start),
	}
	var errs []error
	for _, nf := range f.Nodes {
		v, ok := VariantForKind(nf.Kind)
		if !ok {
			errs = append(errs, fmt.Errorf("node %q: unknown kind %q", nf.ID, nf.Kind))
			continue
		}
		if _, boss := v.(Boss); boss {
			v = Boss{Challenges: nf.Challenges}
			if nf.Expect != "" {
				errs = append(errs, fmt.Errorf("boss %q: use challenges instead of expect", nf.ID))
			}
		} else if len(nf.Challenges) > 0 {
			errs = append(errs, fmt.Errorf("node %q: challenges are only allowed on a boss", nf.ID))
		}

		n := Node{
			ID:       NodeID(nf.ID),
			Prompt:   nf.Prompt,
			Expected: nf.Expect,
			Variant:  v,
			FromDeck: nf.FromDeck,
		}
		for _, ef := range nf.Next {
			n.Edges = append(n.Edges, Edge{To: NodeID(ef.To), Cue: ef.Cue})
		}
		lvl.Nodes = append(lvl.Nodes, n)
	}
	for _, rf := range f.Rewards {
		lvl.Rewards = append(lvl.Rewards, reward.Tier{Name: rf.Name, MinScore: rf.MinScore, Card: rf.Card})
	}
	if len(errs) > 0 {
		return Level{}, fmt.Errorf("quest: level %q: %w", f.ID, errors.Join(errs...))
	}
	return lvl, nil
}

// ParseYAML decodes a YAML level file. Unknown keys are rejected.
func ParseYAML(r io.Reader) (*File, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("quest: decode yaml: %w", err)
	}
	return &f, nil
}

// ParseHCL decodes an HCL level file. filename is used in diagnostics only.
func ParseHCL(src []byte, filename string) (*File, error) {
	parser := hclparse.NewParser()
	hf, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("quest: parse hcl %s: %w", filename, diags)
	}
	var f File
	if diags := gohcl.DecodeBody(hf.Body, nil, &f); diags.HasErrors() {
		return nil, fmt.Errorf("quest: decode hcl %s: %w", filename, diags)
	}
	return &f, nil
}

// IsLevelFile reports whether name has an extension the loaders understand.
func IsLevelFile(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".yaml", ".yml", ".hcl":
		return true
	}
	return false
}

// LoadFS reads one level file from fsys. When the file names a deck, the deck
// is read relative to the file and applied with [ApplyDeck].
func LoadFS(fsys fs.FS, name string) (Level, error) {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return Level{}, fmt.Errorf("quest: read %q: %w", name, err)
	}

	var f *File
	if strings.EqualFold(path.Ext(name), ".hcl") {
		f, err = ParseHCL(data, name)
	} else {
		f, err = ParseYAML(bytes.NewReader(data))
	}
	if err != nil {
		return Level{}, fmt.Errorf("quest: load %q: %w", name, err)
	}

	lvl, err := f.Level()
	if err != nil {
		return Level{}, err
	}
	if f.Deck == "" {
		return lvl, nil
	}

	df, err := fsys.Open(path.Join(path.Dir(name), f.Deck))
	if err != nil {
		return Level{}, fmt.Errorf("quest: level %q: open deck: %w", lvl.ID, err)
	}
	defer df.Close()
	deck, err := ReadDeck(df)
	if err != nil {
		return Level{}, fmt.Errorf("quest: level %q: %w", lvl.ID, err)
	}
	return ApplyDeck(lvl, deck)
}

// LoadDir reads every .yaml, .yml and .hcl file directly inside dir, in name
// order. Subdirectories are ignored.
func LoadDir(dir string) ([]Level, error) {
	return loadAll(os.DirFS(dir))
}

func loadAll(fsys fs.FS) ([]Level, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("quest: list levels: %w", err)
	}
	var (
		levels []Level
		errs   []error
	)
	for _, e := range entries {
		if e.IsDir() || !IsLevelFile(e.Name()) {
			continue
		}
		lvl, err := LoadFS(fsys, e.Name())
		if err != nil {
			errs = append(errs, err)
			continue
		}
		levels = append(levels, lvl)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return levels, nil
}
