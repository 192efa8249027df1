package reward_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/MrWong99/pingquest/internal/reward"
)

func TestNewTable_Defaults(t *testing.T) {
	t.Parallel()

	tbl, err := reward.NewTable(nil)
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	if diff := cmp.Diff(reward.DefaultTiers, tbl.Tiers()); diff != "" {
		t.Errorf("tiers mismatch (-want +got):\n%s", diff)
	}
}

func TestResolve(t *testing.T) {
	t.Parallel()

	tbl, err := reward.NewTable([]reward.Tier{
		{Name: "bronze", MinScore: 0},
		{Name: "gold", MinScore: 8},
		{Name: "silver", MinScore: 4},
	})
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}

	tests := []struct {
		score int
		want  string
	}{
		{0, "bronze"},
		{3, "bronze"},
		{4, "silver"},
		{7, "silver"},
		{8, "gold"},
		{100, "gold"},
	}
	for _, tt := range tests {
		if got := tbl.Resolve(tt.score).Name; got != tt.want {
			t.Errorf("Resolve(%d) = %q, want %q", tt.score, got, tt.want)
		}
	}
	if tbl.Max().Name != "gold" {
		t.Errorf("Max = %q, want gold", tbl.Max().Name)
	}
}

func TestResolve_FloorBelowLowestThreshold(t *testing.T) {
	t.Parallel()

	tbl, err := reward.NewTable([]reward.Tier{{Name: "major", MinScore: 6}, {Name: "minor", MinScore: 2}})
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	if got := tbl.Resolve(1).Name; got != "minor" {
		t.Errorf("Resolve(1) = %q, want floor tier minor", got)
	}
}

func TestResolve_DefaultMajorAtSix(t *testing.T) {
	t.Parallel()

	tbl, _ := reward.NewTable(nil)
	if got := tbl.Resolve(6).Name; got != "major" {
		t.Errorf("Resolve(6) = %q, want major", got)
	}
	if got := tbl.Resolve(5).Name; got != "minor" {
		t.Errorf("Resolve(5) = %q, want minor", got)
	}
}

func TestNewTable_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		tiers []reward.Tier
	}{
		{"empty name", []reward.Tier{{Name: "", MinScore: 0}}},
		{"duplicate name", []reward.Tier{{Name: "a", MinScore: 0}, {Name: "a", MinScore: 3}}},
		{"negative score", []reward.Tier{{Name: "a", MinScore: -1}}},
		{"shared threshold", []reward.Tier{{Name: "a", MinScore: 2}, {Name: "b", MinScore: 2}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := reward.NewTable(tt.tiers); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
