package character

import (
	"testing"

	"github.com/google/uuid"

	"github.com/chapterbridge/nlp-pack-worker/internal/models"
	"github.com/chapterbridge/nlp-pack-worker/internal/schema"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Arthur Leywin", "arthur leywin"},
		{"  Art   ", "art"},
		{"Arthur, Leywin!", "arthur leywin"},
		{"O'Brien", "o'brien"},
		{"Jean-Luc", "jean-luc"},
		{"ARTHUR", "arthur"},
		{"Artħur", "artħur"},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	names := []string{"Arthur Leywin", "  ARTHUR!! ", "Jean-Luc Picard", "O'Brien"}
	for _, n := range names {
		once := Normalize(n)
		twice := Normalize(once)
		if once != twice {
			t.Errorf("Normalize not idempotent for %q: %q vs %q", n, once, twice)
		}
	}
}

func TestFindMatchByAlias(t *testing.T) {
	existing := []*models.Character{
		{ID: uuid.New(), Name: "Arthur Leywin", Aliases: []string{"Art", "The Sovereign"}},
		{ID: uuid.New(), Name: "Sylvie", Aliases: nil},
	}

	got := FindMatch(existing, "Art", nil)
	if got == nil || got.Name != "Arthur Leywin" {
		t.Fatalf("FindMatch by alias = %v, want Arthur Leywin", got)
	}

	got = FindMatch(existing, "ART!", nil)
	if got == nil || got.Name != "Arthur Leywin" {
		t.Fatalf("FindMatch case/punct-insensitive = %v, want Arthur Leywin", got)
	}

	got = FindMatch(existing, "Someone New", []string{"Sylvie"})
	if got == nil || got.Name != "Sylvie" {
		t.Fatalf("FindMatch via incoming alias overlapping existing name = %v, want Sylvie", got)
	}

	if got := FindMatch(existing, "Nobody", []string{"Nope"}); got != nil {
		t.Fatalf("FindMatch = %v, want no match", got)
	}
}

func TestMergeAliasesDedupAndExcludesCanonical(t *testing.T) {
	got := mergeAliases("Arthur Leywin", []string{"Art"}, []string{"ART", "The Sovereign", "Arthur Leywin"})
	want := []string{"Art", "The Sovereign"}
	if len(got) != len(want) {
		t.Fatalf("mergeAliases = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("mergeAliases[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestMergeFactsDedupByText(t *testing.T) {
	seg1 := 1
	existing := []models.CharacterFact{
		{Fact: "is a sword saint", Segment: &seg1, Source: "segment_1"},
	}
	merged := mergeFacts(existing, []string{"Is A Sword Saint", "learned fireball"}, 1)
	if len(merged) != 2 {
		t.Fatalf("mergeFacts same-segment dedup = %#v, want 2 facts", merged)
	}

	merged2 := mergeFacts(merged, []string{"is a sword saint"}, 2)
	if len(merged2) != 2 {
		t.Fatalf("mergeFacts cross-segment repeat = %#v, want 2 facts (text dedup, segment ignored)", merged2)
	}
}

func TestResolveDescription(t *testing.T) {
	tests := []struct {
		name, existing, incoming, want string
	}{
		{"existing empty takes new", "", "A promising young mage.", "A promising young mage."},
		{"existing boilerplate replaced", "Unknown", "A promising young mage with a tragic past.", "A promising young mage with a tragic past."},
		{"short new description kept old", "A promising young mage with a tragic past.", "A mage.", "A promising young mage with a tragic past."},
		{
			"substantially longer new description replaces",
			"A young mage.",
			"A young mage who has survived the collapse of his home continent and now studies at the Tower under a new identity, haunted by the memory of his first life.",
			"A young mage who has survived the collapse of his home continent and now studies at the Tower under a new identity, haunted by the memory of his first life.",
		},
		{"empty incoming keeps existing", "A mage.", "", "A mage."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := resolveDescription(tt.existing, tt.incoming); got != tt.want {
				t.Errorf("resolveDescription(%q, %q) = %q, want %q", tt.existing, tt.incoming, got, tt.want)
			}
		})
	}
}

func TestNewFromUpdateDiscardsBoilerplateDescription(t *testing.T) {
	workID := uuid.New()
	update := schema.CharacterUpdate{
		Name:           "Arthur Leywin",
		Aliases:        []string{"Art"},
		CharacterFacts: []string{"protagonist"},
		Description:    "Unknown",
	}
	c := NewFromUpdate(workID, update, 1, "v1")
	if c.Description != "" {
		t.Errorf("Description = %q, want empty (boilerplate discarded)", c.Description)
	}
	if c.WorkID != workID {
		t.Errorf("WorkID = %v, want %v", c.WorkID, workID)
	}
	if len(c.Aliases) != 1 || c.Aliases[0] != "Art" {
		t.Errorf("Aliases = %v, want [Art]", c.Aliases)
	}
	if len(c.CharacterFacts) != 1 || c.CharacterFacts[0].Source != "segment_1" {
		t.Errorf("CharacterFacts = %#v, want one fact stamped segment_1", c.CharacterFacts)
	}
}

// TestCharacterMergeAcrossSegments is the literal end-to-end scenario:
// segment 1 introduces Arthur Leywin with alias "Art"; segment 3 refers
// to him only as "Art" with a new fact and a richer description. The
// merge must resolve identity via the alias, add the new fact without
// duplicating the old one, and adopt the longer description.
func TestCharacterMergeAcrossSegments(t *testing.T) {
	workID := uuid.New()

	update1 := schema.CharacterUpdate{
		Name:           "Arthur Leywin",
		Aliases:        []string{"Art"},
		CharacterFacts: []string{"is the protagonist"},
		Description:    "A young mage.",
	}
	c1 := NewFromUpdate(workID, update1, 1, "v1")

	existing := []*models.Character{&c1}
	update3 := schema.CharacterUpdate{
		Name:           "Art",
		Aliases:        nil,
		CharacterFacts: []string{"is the protagonist", "awakens the Sovereign's Sight"},
		Description:    "A young mage who awakens a rare and ancient bloodline power.",
	}

	match := FindMatch(existing, update3.Name, update3.Aliases)
	if match == nil {
		t.Fatal("expected segment 3's 'Art' to resolve to the segment 1 character")
	}

	merged := MergeInto(match, update3, 3, "v1")
	if merged.ID != c1.ID {
		t.Errorf("merged ID = %v, want %v (same character)", merged.ID, c1.ID)
	}
	if len(merged.CharacterFacts) != 2 {
		t.Fatalf("CharacterFacts = %#v, want 2 (dedup across segments)", merged.CharacterFacts)
	}
	if merged.Description != update3.Description {
		t.Errorf("Description = %q, want replaced with segment 3's longer description", merged.Description)
	}
	if len(merged.Aliases) != 1 || merged.Aliases[0] != "Art" {
		t.Errorf("Aliases = %v, want [Art] preserved", merged.Aliases)
	}
}
