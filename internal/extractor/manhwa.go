package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/chapterbridge/nlp-pack-worker/internal/models"
)

var (
	pageNumRegex   = regexp.MustCompile(`(?i)page[-_]?(\d+)`)
	trailingNumRegex = regexp.MustCompile(`(\d+)\.json$`)
)

// ManhwaExtractor reconstructs reading-order page text from a page's
// OCR JSON assets, tolerating whichever of a handful of common OCR
// output shapes the asset happens to be in.
type ManhwaExtractor struct{}

func (ManhwaExtractor) MediaType() models.MediaType { return models.MediaManhwa }

type manhwaPage struct {
	number int
	lines  []string
}

// Extract parses every OCR JSON asset, recovers its page number from
// its blob key, and emits pages in ascending order with a page-number
// header. A page whose JSON fails to parse is logged and skipped
// rather than failing the whole segment.
func (e ManhwaExtractor) Extract(_ context.Context, assets []Asset) (string, error) {
	pages := make([]manhwaPage, 0, len(assets))

	for _, a := range assets {
		var raw any
		if err := json.Unmarshal(a.Content, &raw); err != nil {
			log.Warn().Str("r2_key", a.R2Key).Err(err).Msg("failed to parse OCR JSON asset")
			continue
		}
		lines := linesFromOCR(raw)
		if len(lines) == 0 {
			continue
		}
		pages = append(pages, manhwaPage{number: pageNumberFromKey(a.R2Key), lines: lines})
	}

	sort.Slice(pages, func(i, j int) bool { return pages[i].number < pages[j].number })

	parts := make([]string, 0, len(pages))
	for _, p := range pages {
		parts = append(parts, fmt.Sprintf("[PAGE %04d]\n%s", p.number, strings.Join(p.lines, "\n")))
	}
	return strings.Join(parts, "\n\n"), nil
}

func pageNumberFromKey(key string) int {
	if m := pageNumRegex.FindStringSubmatch(key); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return n
		}
	}
	if m := trailingNumRegex.FindStringSubmatch(key); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return n
		}
	}
	return 0
}

// linesFromOCR supports the same handful of shapes as the source
// extractor: a bare array of {"text"} objects or strings,
// {"lines": [...]}, {"blocks": [{"lines": [...]}]}, {"text": "..."},
// and {"words": [...]}.
func linesFromOCR(raw any) []string {
	switch v := raw.(type) {
	case []any:
		return textsFromList(v)
	case map[string]any:
		if lines, ok := v["lines"]; ok {
			return textsFromList(asList(lines))
		}
		if blocks, ok := v["blocks"]; ok {
			var out []string
			for _, b := range asList(blocks) {
				bm, ok := b.(map[string]any)
				if !ok {
					continue
				}
				if lines, ok := bm["lines"]; ok {
					out = append(out, textsFromList(asList(lines))...)
				} else if text, ok := bm["text"].(string); ok {
					out = append(out, text)
				}
			}
			return trimNonEmpty(out)
		}
		if text, ok := v["text"]; ok {
			switch t := text.(type) {
			case string:
				return trimNonEmpty(strings.Split(t, "\n"))
			case []any:
				return textsFromList(t)
			}
		}
		if words, ok := v["words"]; ok {
			list := asList(words)
			parts := make([]string, 0, len(list))
			for _, w := range list {
				switch wv := w.(type) {
				case map[string]any:
					if text, ok := wv["text"].(string); ok {
						parts = append(parts, text)
					}
				case string:
					parts = append(parts, wv)
				}
			}
			if len(parts) > 0 {
				return []string{strings.Join(parts, " ")}
			}
		}
	}
	return nil
}

func asList(v any) []any {
	l, _ := v.([]any)
	return l
}

func textsFromList(list []any) []string {
	out := make([]string, 0, len(list))
	for _, item := range list {
		switch v := item.(type) {
		case map[string]any:
			if text, ok := v["text"].(string); ok {
				out = append(out, text)
			}
		case string:
			out = append(out, v)
		}
	}
	return trimNonEmpty(out)
}

func trimNonEmpty(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}
