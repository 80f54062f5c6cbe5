package extractor

import (
	"context"
	"regexp"
	"strings"

	"github.com/chapterbridge/nlp-pack-worker/internal/models"
)

var (
	tagRegex   = regexp.MustCompile(`<[^>]+>`)
	braceRegex = regexp.MustCompile(`\{[^}]+\}`)
	noiseRegex = regexp.MustCompile(`(?i)` + strings.Join([]string{
		`\[MUSIC\]`,
		`\[♪.*?\]`,
		`♪.*?♪`,
		`\[.*?PLAYING\]`,
		`\(.*?music.*?\)`,
		`\[SILENCE\]`,
	}, "|"))
)

// SubtitleExtractor pulls chronological dialogue lines out of an
// SRT or VTT cue file, dropping music/SFX cue markers and timing
// metadata.
type SubtitleExtractor struct{}

func (SubtitleExtractor) MediaType() models.MediaType { return models.MediaAnime }

// Extract concatenates dialogue from every subtitle asset, in the
// order given, one line per cue.
func (e SubtitleExtractor) Extract(_ context.Context, assets []Asset) (string, error) {
	var out []string
	for _, a := range assets {
		var lines []string
		if looksLikeVTT(a.R2Key, string(a.Content)) {
			lines = parseVTT(string(a.Content))
		} else {
			lines = parseSRT(string(a.Content))
		}
		out = append(out, cleanDialogueLines(lines)...)
	}
	return strings.Join(out, "\n"), nil
}

func looksLikeVTT(key, content string) bool {
	return strings.HasSuffix(strings.ToLower(key), ".vtt") || strings.HasPrefix(strings.TrimSpace(content), "WEBVTT")
}

func parseSRT(content string) []string {
	var lines []string
	var current []string
	inText := false

	for _, raw := range strings.Split(content, "\n") {
		line := strings.TrimSpace(raw)

		switch {
		case line == "":
			if len(current) > 0 {
				lines = append(lines, strings.Join(current, " "))
				current = nil
			}
			inText = false
		case isDigits(line):
			inText = false
		case strings.Contains(line, "-->"):
			inText = true
		case inText:
			cleaned := stripCueMarkup(line)
			if cleaned != "" {
				current = append(current, cleaned)
			}
		}
	}
	if len(current) > 0 {
		lines = append(lines, strings.Join(current, " "))
	}
	return lines
}

func parseVTT(content string) []string {
	var lines []string
	var current []string
	inCue := false

	for _, raw := range strings.Split(content, "\n") {
		line := strings.TrimSpace(raw)

		switch {
		case strings.HasPrefix(line, "WEBVTT") || strings.HasPrefix(line, "NOTE"):
			continue
		case strings.Contains(line, "-->"):
			inCue = true
		case line == "":
			if len(current) > 0 {
				lines = append(lines, strings.Join(current, " "))
				current = nil
			}
			inCue = false
		case inCue:
			cleaned := stripCueMarkup(line)
			if cleaned != "" {
				current = append(current, cleaned)
			}
		}
	}
	if len(current) > 0 {
		lines = append(lines, strings.Join(current, " "))
	}
	return lines
}

func stripCueMarkup(line string) string {
	line = tagRegex.ReplaceAllString(line, "")
	line = braceRegex.ReplaceAllString(line, "")
	return strings.TrimSpace(line)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// cleanDialogueLines strips noise cues and drops exact repeats seen
// anywhere earlier in the file, matching the source extractor's
// file-wide (not merely adjacent) deduplication.
func cleanDialogueLines(lines []string) []string {
	seen := make(map[string]bool, len(lines))
	out := make([]string, 0, len(lines))

	for _, line := range lines {
		line = strings.TrimSpace(noiseRegex.ReplaceAllString(line, ""))
		if len(line) < 2 {
			continue
		}
		normalized := strings.ToLower(line)
		if seen[normalized] {
			continue
		}
		seen[normalized] = true
		out = append(out, line)
	}
	return out
}
