package llm

import (
	"fmt"

	"github.com/chapterbridge/nlp-pack-worker/internal/models"
)

// buildSystemPrompt builds the instruction half of the prompt: the
// output contract, plus a work-title context line that tells the
// model to extract only from the provided text (not from any
// knowledge of the work it may have memorized), grounded on the
// source worker's build_system_prompt.
func buildSystemPrompt(mediaType models.MediaType, workTitle string) string {
	workContext := ""
	if workTitle != "" {
		workContext = fmt.Sprintf("\n\nWORK: %q. Extract ONLY from the text below. Do not draw on any outside knowledge of this work.\n", workTitle)
	}

	charInstruction := characterInstruction(mediaType)
	charExample := characterExample(mediaType)

	return fmt.Sprintf(`You are an expert narrative analyst. Process the following %s content and produce a single JSON object with this structure:%s

1. segment_summary: a detailed factual summary of events (summary: 2-4 paragraphs, summary_short: 1-2 sentences), a chronological events list, structural beats (objects with type and description), key_dialogue (objects with speaker, text, optional to and importance), and tone (object with primary string, secondary array, intensity 0-1).

2. segment_entities: every field is an array and must never be null -
characters, locations, items, time_refs, organizations, factions, titles_ranks, skills, creatures, concepts, relationships, emotions, keywords.

3. character_updates (media_type: %s):
%s

EXAMPLE SHAPE:
{
  "segment_summary": {...},
  "segment_entities": {...},
%s
}

RULES:
- Extract only from the provided text. No external knowledge, no other stories.
- Character names must be actual proper nouns from the text, never pronouns or role words like "the protagonist".
- Every segment_entities field is an array, [] if empty.
- Output only valid JSON, no markdown fences, no commentary.`, mediaType, workContext, mediaType, charInstruction, charExample)
}

func characterInstruction(mediaType models.MediaType) string {
	if mediaType != models.MediaNovel {
		return "- Return an empty array [] (not applicable for this media type)."
	}
	return `- An array of objects, one per NAMED character appearing in this segment:
  * name: the character's actual name as written (never a generic term, role, or pronoun)
  * aliases: alternate names or nicknames used for them, [] if none
  * character_facts: short fact strings observed in this segment (role, occupation, traits, abilities, goals, relationships, appearance, anything else notable)`
}

func characterExample(mediaType models.MediaType) string {
	if mediaType != models.MediaNovel {
		return `  "character_updates": []`
	}
	return `  "character_updates": [
    {
      "name": "Arthur Leywin",
      "aliases": ["Art"],
      "character_facts": ["protagonist", "learning magic", "protective of his family"]
    }
  ]`
}

// buildUserPrompt wraps the source text in explicit delimiters so the
// model cannot confuse instruction text with content, grounded on the
// source worker's build_user_prompt.
func buildUserPrompt(sourceText string, mediaType models.MediaType) string {
	return fmt.Sprintf(`Analyze this %s content and output structured JSON.

---BEGIN CONTENT---
%s
---END CONTENT---

Extract only from the content above. Output valid JSON only.`, mediaType, sourceText)
}
