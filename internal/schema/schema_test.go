package schema

import (
	"encoding/json"
	"testing"
)

func TestValidateAndNormalize(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantOK  bool
		wantErr string
	}{
		{
			name: "valid minimal document",
			raw: `{
				"segment_summary": {"summary": "Something happened.", "summary_short": "Stuff.", "events": ["a"], "beats": [], "key_dialogue": [], "tone": {"primary": "tense", "secondary": [], "intensity": 0.5}},
				"segment_entities": {"characters": [], "locations": [], "items": [], "time_refs": [], "organizations": [], "factions": [], "titles_ranks": [], "skills": [], "creatures": [], "concepts": [], "relationships": [], "emotions": [], "keywords": []},
				"character_updates": []
			}`,
			wantOK: true,
		},
		{
			name:    "empty summary rejected",
			raw:     `{"segment_summary": {"summary": ""}, "segment_entities": {}, "character_updates": []}`,
			wantOK:  false,
			wantErr: "segment_summary.summary is empty after coercion",
		},
		{
			name:    "missing segment_summary rejected",
			raw:     `{"segment_entities": {}, "character_updates": []}`,
			wantOK:  false,
			wantErr: "segment_summary.summary is empty after coercion",
		},
		{
			name:    "malformed json rejected",
			raw:     `{not json`,
			wantOK:  false,
			wantErr: "invalid JSON",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, normalized, errMsg := ValidateAndNormalize([]byte(tt.raw))
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v (err=%q)", ok, tt.wantOK, errMsg)
			}
			if tt.wantOK && normalized == nil {
				t.Fatal("expected normalized result on success")
			}
			if !tt.wantOK && tt.wantErr != "" && !contains(errMsg, tt.wantErr) {
				t.Errorf("error = %q, want substring %q", errMsg, tt.wantErr)
			}
		})
	}
}

func TestEntitiesNullCoercedToEmptyArray(t *testing.T) {
	raw := `{
		"segment_summary": {"summary": "x"},
		"segment_entities": {"locations": null, "characters": "Arthur"},
		"character_updates": []
	}`
	ok, n, errMsg := ValidateAndNormalize([]byte(raw))
	if !ok {
		t.Fatalf("expected ok, got error %q", errMsg)
	}
	if n.Entities.Locations == nil || len(n.Entities.Locations) != 0 {
		t.Errorf("Locations = %#v, want empty non-nil slice", n.Entities.Locations)
	}
	if len(n.Entities.Characters) != 1 || n.Entities.Characters[0] != "Arthur" {
		t.Errorf("Characters = %#v, want scalar coerced to single-element array", n.Entities.Characters)
	}
}

func TestCharacterUpdatesFilterGenericNames(t *testing.T) {
	raw := `{
		"segment_summary": {"summary": "x"},
		"segment_entities": {},
		"character_updates": [
			{"name": "Arthur Leywin", "aliases": ["Art"], "character_facts": ["protagonist"]},
			{"name": "He", "aliases": []},
			{"name": "pria", "aliases": []},
			{"name": "", "aliases": []},
			{"name": 42}
		]
	}`
	ok, n, errMsg := ValidateAndNormalize([]byte(raw))
	if !ok {
		t.Fatalf("expected ok, got error %q", errMsg)
	}
	if len(n.CharacterUpdates) != 1 {
		t.Fatalf("CharacterUpdates = %#v, want exactly one surviving entry", n.CharacterUpdates)
	}
	if n.CharacterUpdates[0].Name != "Arthur Leywin" {
		t.Errorf("Name = %q, want Arthur Leywin", n.CharacterUpdates[0].Name)
	}
}

func TestToneIntensityClamped(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{-5, 0},
		{0, 0},
		{0.5, 0.5},
		{1, 1},
		{3.2, 1},
	}
	for _, tt := range tests {
		m := map[string]any{"intensity": tt.in}
		got := toTone(m).Intensity
		if got != tt.want {
			t.Errorf("toTone(intensity=%v).Intensity = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	raw := `{
		"segment_summary": {"summary": "Something happened.", "events": "single-event-string"},
		"segment_entities": {"characters": null, "locations": "Riverside"},
		"character_updates": [{"name": "Arthur", "aliases": "Art", "character_facts": ["brave"]}]
	}`
	ok1, n1, _ := ValidateAndNormalize([]byte(raw))
	if !ok1 {
		t.Fatal("first normalization failed")
	}
	reencoded, err := json.Marshal(toRawShape(n1))
	if err != nil {
		t.Fatalf("re-encode: %v", err)
	}
	ok2, n2, _ := ValidateAndNormalize(reencoded)
	if !ok2 {
		t.Fatal("second normalization failed")
	}
	if len(n1.Entities.Locations) != len(n2.Entities.Locations) || n1.Entities.Locations[0] != n2.Entities.Locations[0] {
		t.Errorf("normalize not idempotent on Locations: %v vs %v", n1.Entities.Locations, n2.Entities.Locations)
	}
	if len(n1.CharacterUpdates) != len(n2.CharacterUpdates) {
		t.Errorf("normalize not idempotent on CharacterUpdates: %v vs %v", n1.CharacterUpdates, n2.CharacterUpdates)
	}
}

// toRawShape re-wraps a Normalized result into the top-level document
// shape ValidateAndNormalize expects, purely for the idempotence test.
func toRawShape(n *Normalized) map[string]any {
	updates := make([]map[string]any, 0, len(n.CharacterUpdates))
	for _, u := range n.CharacterUpdates {
		updates = append(updates, map[string]any{
			"name":            u.Name,
			"aliases":         u.Aliases,
			"character_facts": u.CharacterFacts,
			"description":     u.Description,
		})
	}
	return map[string]any{
		"segment_summary": map[string]any{
			"summary":       n.Summary.Summary,
			"summary_short": n.Summary.SummaryShort,
			"events":        n.Summary.Events,
			"beats":         n.Summary.Beats,
			"key_dialogue":  n.Summary.KeyDialogue,
			"tone":          n.Summary.Tone,
		},
		"segment_entities": map[string]any{
			"characters":    n.Entities.Characters,
			"locations":     n.Entities.Locations,
			"items":         n.Entities.Items,
			"time_refs":     n.Entities.TimeRefs,
			"organizations": n.Entities.Organizations,
			"factions":      n.Entities.Factions,
			"titles_ranks":  n.Entities.TitlesRanks,
			"skills":        n.Entities.Skills,
			"creatures":     n.Entities.Creatures,
			"concepts":      n.Entities.Concepts,
			"relationships": n.Entities.Relationships,
			"emotions":      n.Entities.Emotions,
			"keywords":      n.Entities.Keywords,
		},
		"character_updates": updates,
	}
}

func contains(haystack, needle string) bool {
	return len(needle) == 0 || (len(haystack) >= len(needle) && indexOf(haystack, needle) >= 0)
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}
