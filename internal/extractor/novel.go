package extractor

import (
	"context"
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"

	"github.com/chapterbridge/nlp-pack-worker/internal/models"
)

var removeTags = []string{
	"script", "style", "nav", "footer", "header", "aside",
	"noscript", "iframe", "form", "button", "input", "select",
	"textarea", "svg", "canvas", "video", "audio", "figure",
	"figcaption", "meta", "link",
}

var (
	clutterClassRegex  = regexp.MustCompile(`(?i)(ad|sidebar|widget|social|share|comment|footer|header|nav|menu)`)
	contentClassRegex  = regexp.MustCompile(`(?i)(content|chapter|reading|text|entry|article|post-content)`)
	whitespaceRegex    = regexp.MustCompile(`\s+`)
	novelBoilerplate   = regexp.MustCompile(`(?i)` + strings.Join([]string{
		`chapter\s+\d+\s*[-:]\s*$`,
		`^advertisement$`,
		`^sponsored\s+content$`,
		`^please\s+support\s+us`,
		`^join\s+our\s+discord`,
		`^read\s+more\s+at`,
		`^translator[:\s]`,
		`^editor[:\s]`,
		`^proofreader[:\s]`,
		`^tip\s+jar`,
		`^patreon`,
		`^ko-?fi`,
		`^copyright\s+\d{4}`,
		`all\s+rights\s+reserved`,
		`^next\s+chapter`,
		`^previous\s+chapter`,
		`^table\s+of\s+contents`,
		`^loading`,
		`^comments?\s*\(\d+\)`,
	}, "|") + ``)
)

// NovelExtractor pulls readable story paragraphs out of a chapter's
// raw HTML, stripping navigation chrome and translator/site
// boilerplate.
type NovelExtractor struct{}

func (NovelExtractor) MediaType() models.MediaType { return models.MediaNovel }

// Extract concatenates cleaned paragraphs from every HTML asset
// (normally just one) in the order given, separated by blank lines.
func (e NovelExtractor) Extract(_ context.Context, assets []Asset) (string, error) {
	var out []string
	for _, a := range assets {
		paras, err := extractParagraphs(string(a.Content))
		if err != nil {
			continue
		}
		out = append(out, cleanParagraphs(paras)...)
	}
	return strings.Join(out, "\n\n"), nil
}

func extractParagraphs(htmlContent string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if err != nil {
		return nil, err
	}

	for _, tag := range removeTags {
		doc.Find(tag).Remove()
	}
	doc.Find("*").FilterFunction(func(_ int, s *goquery.Selection) bool {
		class, _ := s.Attr("class")
		return clutterClassRegex.MatchString(class)
	}).Remove()

	content := doc.Find("*").FilterFunction(func(_ int, s *goquery.Selection) bool {
		class, _ := s.Attr("class")
		return contentClassRegex.MatchString(class)
	}).First()
	if content.Length() == 0 {
		content = doc.Find("article").First()
	}
	if content.Length() == 0 {
		content = doc.Find("main").First()
	}
	if content.Length() == 0 {
		content = doc.Find("body").First()
	}
	if content.Length() == 0 {
		content = doc.Selection
	}

	var paragraphs []string
	content.Find("p, div").Each(func(_ int, s *goquery.Selection) {
		if s.Find("p, div").Length() > 0 {
			return
		}
		text := strings.TrimSpace(s.Text())
		if len(text) > 10 {
			paragraphs = append(paragraphs, text)
		}
	})
	return paragraphs, nil
}

func cleanParagraphs(paragraphs []string) []string {
	seen := make(map[string]bool, len(paragraphs))
	out := make([]string, 0, len(paragraphs))

	for _, para := range paragraphs {
		para = strings.TrimSpace(whitespaceRegex.ReplaceAllString(para, " "))
		if novelBoilerplate.MatchString(para) {
			continue
		}

		normalized := strings.ToLower(para)
		if seen[normalized] {
			continue
		}

		if len(para) < 20 && !hasLetter(para) {
			continue
		}

		seen[normalized] = true
		out = append(out, para)
	}
	return out
}

func hasLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}
