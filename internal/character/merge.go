// Package character implements alias-aware identity resolution and
// fact/alias/description merging for a work's character dossier.
// Grounded on the source worker's character_merge.py for the overall
// shape (find match, merge aliases, merge facts, replace-or-keep
// description, insert-if-no-match), with NFKC normalization and a
// length/boilerplate-aware description-replacement rule in place of a
// plain overwrite.
//
// This package is pure: it has no database dependency. The duplicate-
// key race (insert loses to a concurrent writer) is handled by the
// caller (internal/processor), which re-reads and calls MergeInto on
// conflict.
package character

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/chapterbridge/nlp-pack-worker/internal/models"
	"github.com/chapterbridge/nlp-pack-worker/internal/schema"
)

// Normalize produces the canonical comparison form of a name or alias:
// Unicode NFKC, lowercased, trimmed, internal whitespace collapsed,
// quotes and punctuation dropped except apostrophe and hyphen.
func Normalize(s string) string {
	s = norm.NFKC.String(s)
	s = strings.ToLower(s)

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsPunct(r) && r != '\'' && r != '-' {
			continue
		}
		b.WriteRune(r)
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// IsBoilerplateDescription reports whether a description's normalized
// form is one of the glossary's boilerplate phrases.
func IsBoilerplateDescription(desc string) bool {
	return schema.BoilerplatePhrases[Normalize(desc)]
}

// FindMatch resolves identity: build the search set of
// the update's normalized name and aliases, then scan existing
// characters (in the order of the given slice) for any normalized name
// or alias overlapping the search set. First match wins.
func FindMatch(existing []*models.Character, name string, aliases []string) *models.Character {
	search := make(map[string]bool, 1+len(aliases))
	search[Normalize(name)] = true
	for _, a := range aliases {
		search[Normalize(a)] = true
	}

	for _, c := range existing {
		if search[Normalize(c.Name)] {
			return c
		}
		for _, a := range c.Aliases {
			if search[Normalize(a)] {
				return c
			}
		}
	}
	return nil
}

// mergeAliases unions existing and incoming aliases, deduplicated by
// normalized form and preserving first-seen original casing, with the
// canonical name excluded.
func mergeAliases(canonicalName string, existingAliases, incomingAliases []string) []string {
	canonNorm := Normalize(canonicalName)
	seen := make(map[string]bool, len(existingAliases)+len(incomingAliases))
	out := make([]string, 0, len(existingAliases)+len(incomingAliases))

	add := func(alias string) {
		n := Normalize(alias)
		if n == "" || n == canonNorm || seen[n] {
			return
		}
		seen[n] = true
		out = append(out, alias)
	}
	for _, a := range existingAliases {
		add(a)
	}
	for _, a := range incomingAliases {
		add(a)
	}
	return out
}

// mergeFacts concatenates existing facts with new ones (stamped with
// the current segment number and a "segment_N" source), deduplicating
// by normalized fact text alone: a fact repeated in a later segment is
// not kept a second time just because its segment number differs.
func mergeFacts(existing []models.CharacterFact, newFactTexts []string, segmentNumber int) []models.CharacterFact {
	seen := make(map[string]bool, len(existing)+len(newFactTexts))
	out := make([]models.CharacterFact, 0, len(existing)+len(newFactTexts))

	for _, f := range existing {
		k := Normalize(f.Fact)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, f)
	}
	for _, text := range newFactTexts {
		if strings.TrimSpace(text) == "" {
			continue
		}
		k := Normalize(text)
		if seen[k] {
			continue
		}
		seen[k] = true
		seg := segmentNumber
		out = append(out, models.CharacterFact{
			Fact:    text,
			Segment: &seg,
			Source:  fmt.Sprintf("segment_%d", segmentNumber),
		})
	}
	return out
}

// resolveDescription implements the description replacement rule: replace
// only if the incoming description is non-empty AND (the existing one
// is empty, or boilerplate, or the new one is both >50 characters and
// >1.5x the existing length).
func resolveDescription(existingDesc, newDesc string) string {
	newDesc = strings.TrimSpace(newDesc)
	if newDesc == "" {
		return existingDesc
	}
	existingTrimmed := strings.TrimSpace(existingDesc)
	if existingTrimmed == "" {
		return newDesc
	}
	if IsBoilerplateDescription(existingTrimmed) {
		return newDesc
	}
	if len(newDesc) > 50 && float64(len(newDesc)) > 1.5*float64(len(existingTrimmed)) {
		return newDesc
	}
	return existingDesc
}

// MergeInto applies an incoming update onto an existing character,
// returning the updated record (the caller persists it). The
// existing record's ID/WorkID are preserved.
func MergeInto(existing *models.Character, update schema.CharacterUpdate, segmentNumber int, modelVersion string) models.Character {
	merged := *existing
	merged.Aliases = mergeAliases(existing.Name, existing.Aliases, update.Aliases)
	merged.CharacterFacts = mergeFacts(existing.CharacterFacts, update.CharacterFacts, segmentNumber)
	merged.Description = resolveDescription(existing.Description, update.Description)
	merged.ModelVersion = modelVersion
	return merged
}

// NewFromUpdate builds a brand-new character row for an update with
// no existing match: aliases deduplicated with the canonical name
// excluded, facts stamped with the segment number, and a boilerplate
// description discarded.
func NewFromUpdate(workID uuid.UUID, update schema.CharacterUpdate, segmentNumber int, modelVersion string) models.Character {
	desc := strings.TrimSpace(update.Description)
	if IsBoilerplateDescription(desc) {
		desc = ""
	}
	return models.Character{
		ID:             uuid.New(),
		WorkID:         workID,
		Name:           update.Name,
		Aliases:        mergeAliases(update.Name, nil, update.Aliases),
		CharacterFacts: mergeFacts(nil, update.CharacterFacts, segmentNumber),
		Description:    desc,
		ModelVersion:   modelVersion,
	}
}
