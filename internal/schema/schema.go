// Package schema implements Component A: validating, coercing, and
// repairing the model's nlp-pack response, grounded on the source
// worker's schema.py (validate_and_normalize, build_repair_prompt),
// using an unmarshal-then-validate approach.
package schema

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/chapterbridge/nlp-pack-worker/internal/models"
)

// genericNameBlocklist rejects pronouns, kinship words, and
// placeholders as character names — language-agnostic per the
// glossary, extended with the Indonesian-language terms the source
// corpus's prompts actually encountered.
var genericNameBlocklist = map[string]bool{
	"ayah": true, "ibu": true, "bapak": true, "kakak": true, "adik": true,
	"anak": true, "orang tua": true, "pria": true, "wanita": true,
	"laki-laki": true, "perempuan": true, "orang": true, "orang kekar": true,
	"pria berbaju": true, "wanita muda": true, "pemuda": true,
	"anak laki-laki": true, "anak perempuan": true, "gadis": true, "bocah": true,
	"he": true, "she": true, "they": true, "person": true, "man": true,
	"woman": true, "boy": true, "girl": true, "father": true, "mother": true,
	"brother": true, "sister": true, "parent": true, "child": true,
	"unknown": true, "unnamed": true, "none": true, "n/a": true,
}

// BoilerplatePhrases are descriptions too generic to be worth keeping;
// the character merge engine (internal/character) uses this list too,
// so it is exported rather than duplicated.
var BoilerplatePhrases = map[string]bool{
	"unknown": true, "n/a": true, "none": true, "no description": true,
	"to be determined": true, "main character": true, "protagonist": true,
	"antagonist": true, "supporting character": true,
}

// Beat is one structural story beat.
type Beat = models.Beat

// KeyDialogueLine is one notable quote.
type KeyDialogueLine = models.KeyDialogueLine

// Tone is the emotional register of a segment.
type Tone = models.Tone

// Summary is the normalized segment_summary object.
type Summary struct {
	Summary      string
	SummaryShort string
	Events       []string
	Beats        []Beat
	KeyDialogue  []KeyDialogueLine
	Tone         Tone
}

// Entities is the normalized segment_entities object: thirteen arrays,
// never nil after normalization.
type Entities struct {
	Characters    []string
	Locations     []string
	Items         []string
	TimeRefs      []string
	Organizations []string
	Factions      []string
	TitlesRanks   []string
	Skills        []string
	Creatures     []string
	Concepts      []string
	Relationships []string
	Emotions      []string
	Keywords      []string
}

// CharacterUpdate is one accepted entry of character_updates, already
// filtered against the generic-name blocklist.
type CharacterUpdate struct {
	Name           string
	Aliases        []string
	CharacterFacts []string
	Description    string
}

// Normalized is the full output of ValidateAndNormalize.
type Normalized struct {
	Summary          Summary
	Entities         Entities
	CharacterUpdates []CharacterUpdate
}

// ValidateAndNormalize implements the validation contract: coerce
// missing/null substructure, coerce scalar/null list fields, reject an
// empty summary, and filter character_updates to named, non-generic
// entries. ok=false means the caller may attempt one repair
// round-trip (internal/llm).
func ValidateAndNormalize(raw []byte) (ok bool, normalized *Normalized, errMsg string) {
	var top map[string]any
	if err := json.Unmarshal(raw, &top); err != nil {
		return false, nil, fmt.Sprintf("invalid JSON: %v", err)
	}

	n := &Normalized{}
	n.Summary = normalizeSummary(asMap(top["segment_summary"]))
	n.Entities = normalizeEntities(asMap(top["segment_entities"]))
	n.CharacterUpdates = normalizeCharacterUpdates(top["character_updates"])

	if strings.TrimSpace(n.Summary.Summary) == "" {
		return false, nil, "segment_summary.summary is empty after coercion"
	}

	return true, n, ""
}

// MediaTypeAllowsCharacters reports whether character_updates should be
// consulted for this media type (novel only).
func MediaTypeAllowsCharacters(mt models.MediaType) bool {
	return mt == models.MediaNovel
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	if m == nil {
		return map[string]any{}
	}
	return m
}

func normalizeSummary(m map[string]any) Summary {
	return Summary{
		Summary:      asString(m["summary"]),
		SummaryShort: asString(m["summary_short"]),
		Events:       toStringArray(m["events"]),
		Beats:        toBeats(m["beats"]),
		KeyDialogue:  toKeyDialogue(m["key_dialogue"]),
		Tone:         toTone(asMap(m["tone"])),
	}
}

func normalizeEntities(m map[string]any) Entities {
	return Entities{
		Characters:    toStringArray(m["characters"]),
		Locations:     toStringArray(m["locations"]),
		Items:         toStringArray(m["items"]),
		TimeRefs:      toStringArray(m["time_refs"]),
		Organizations: toStringArray(m["organizations"]),
		Factions:      toStringArray(m["factions"]),
		TitlesRanks:   toStringArray(m["titles_ranks"]),
		Skills:        toStringArray(m["skills"]),
		Creatures:     toStringArray(m["creatures"]),
		Concepts:      toStringArray(m["concepts"]),
		Relationships: toStringArray(m["relationships"]),
		Emotions:      toStringArray(m["emotions"]),
		Keywords:      toStringArray(m["keywords"]),
	}
}

func normalizeCharacterUpdates(v any) []CharacterUpdate {
	list, _ := v.([]any)
	out := make([]CharacterUpdate, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		nameStr, _ := m["name"].(string)
		name := strings.TrimSpace(nameStr)
		if name == "" {
			continue
		}
		if genericNameBlocklist[strings.ToLower(name)] {
			continue
		}
		facts := toStringArray(m["character_facts"])
		if len(facts) == 0 {
			// original_source's qwen_client.py prompt calls this field
			// "facts"; accept either key.
			facts = toStringArray(m["facts"])
		}
		out = append(out, CharacterUpdate{
			Name:           name,
			Aliases:        toStringArray(m["aliases"]),
			CharacterFacts: facts,
			Description:    asString(m["description"]),
		})
	}
	return out
}

func toBeats(v any) []Beat {
	list, _ := v.([]any)
	out := make([]Beat, 0, len(list))
	for _, item := range list {
		switch val := item.(type) {
		case map[string]any:
			out = append(out, Beat{Type: asString(val["type"]), Description: asString(val["description"])})
		case string:
			out = append(out, Beat{Description: val})
		}
	}
	return out
}

func toKeyDialogue(v any) []KeyDialogueLine {
	list, _ := v.([]any)
	out := make([]KeyDialogueLine, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		line := KeyDialogueLine{
			Speaker: asString(m["speaker"]),
			Text:    asString(m["text"]),
		}
		if to := asString(m["to"]); to != "" {
			line.To = &to
		}
		if importance := asString(m["importance"]); importance != "" {
			line.Importance = &importance
		}
		out = append(out, line)
	}
	return out
}

func toTone(m map[string]any) Tone {
	intensity := asFloat(m["intensity"])
	if intensity < 0 {
		intensity = 0
	}
	if intensity > 1 {
		intensity = 1
	}
	return Tone{
		Primary:   asString(m["primary"]),
		Secondary: toStringArray(m["secondary"]),
		Intensity: intensity,
	}
}

// toStringArray implements the coercion rule:
// null -> [], scalar -> [scalar], array -> element-wise stringified.
func toStringArray(v any) []string {
	switch val := v.(type) {
	case nil:
		return []string{}
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			out = append(out, asStringScalar(item))
		}
		return out
	default:
		s := asStringScalar(val)
		if s == "" {
			return []string{}
		}
		return []string{s}
	}
}

func asString(v any) string {
	return asStringScalar(v)
}

func asStringScalar(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

func asFloat(v any) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case string:
		f, _ := strconv.ParseFloat(val, 64)
		return f
	default:
		return 0
	}
}

// BuildRepairPrompt builds the one-shot repair prompt handed back to
// the model, truncating the invalid document to 2000 characters like
// the source worker's build_repair_prompt.
func BuildRepairPrompt(invalidContent, validationError string) string {
	truncated := invalidContent
	if len(truncated) > 2000 {
		truncated = truncated[:2000]
	}
	return fmt.Sprintf(`The following JSON output is invalid or does not match the required schema.

Error: %s

Invalid output:
%s

Return ONLY the corrected JSON object. Do not include any explanation, markdown formatting, or code fences.`, validationError, truncated)
}
