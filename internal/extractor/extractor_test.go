package extractor

import (
	"context"
	"strings"
	"testing"

	"github.com/chapterbridge/nlp-pack-worker/internal/models"
)

func TestRegistryResolvesAllMediaTypes(t *testing.T) {
	reg := Default()
	for _, mt := range []models.MediaType{models.MediaNovel, models.MediaAnime, models.MediaManhwa} {
		e, err := reg.For(mt)
		if err != nil {
			t.Fatalf("For(%s): %v", mt, err)
		}
		if e.MediaType() != mt {
			t.Errorf("extractor for %s reports MediaType() = %s", mt, e.MediaType())
		}
	}
}

func TestRegistryUnknownMediaType(t *testing.T) {
	reg := Default()
	if _, err := reg.For(models.MediaType("webtoon")); err == nil {
		t.Fatal("expected error for unregistered media type")
	}
}

func TestNovelExtractorStripsChromeAndDedupes(t *testing.T) {
	html := `<html><body>
		<nav>Home | Library</nav>
		<div class="chapter-content">
			<p>Arthur stepped into the ruined hall, sword drawn.</p>
			<p>Arthur stepped into the ruined hall, sword drawn.</p>
			<p>Translator: please support us on Patreon</p>
			<p>The air was heavy with the scent of old magic.</p>
		</div>
		<footer>Copyright 2024 - all rights reserved</footer>
	</body></html>`

	got, err := NovelExtractor{}.Extract(context.Background(), []Asset{{R2Key: "ch1.html", Content: []byte(html)}})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if strings.Count(got, "sword drawn") != 1 {
		t.Errorf("expected duplicate paragraph removed, got: %q", got)
	}
	if strings.Contains(got, "Patreon") || strings.Contains(got, "Home | Library") || strings.Contains(got, "rights reserved") {
		t.Errorf("boilerplate/chrome leaked into output: %q", got)
	}
	if !strings.Contains(got, "old magic") {
		t.Errorf("expected real paragraph retained, got: %q", got)
	}
}

func TestSubtitleExtractorParsesSRTAndDropsNoise(t *testing.T) {
	srt := "1\n00:00:01,000 --> 00:00:03,000\n[MUSIC]\n\n2\n00:00:04,000 --> 00:00:06,000\n<i>Hello there.</i>\n\n3\n00:00:07,000 --> 00:00:09,000\nHello there.\n\n"

	got, err := SubtitleExtractor{}.Extract(context.Background(), []Asset{{R2Key: "ep1.srt", Content: []byte(srt)}})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if strings.Count(got, "Hello there.") != 1 {
		t.Errorf("expected repeated dialogue deduped file-wide, got: %q", got)
	}
	if strings.Contains(got, "MUSIC") {
		t.Errorf("music cue leaked into output: %q", got)
	}
}

func TestSubtitleExtractorParsesVTT(t *testing.T) {
	vtt := "WEBVTT\n\n00:00:01.000 --> 00:00:03.000\nGood morning.\n\n00:00:04.000 --> 00:00:06.000\n[SILENCE]\n"

	got, err := SubtitleExtractor{}.Extract(context.Background(), []Asset{{R2Key: "ep1.vtt", Content: []byte(vtt)}})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !strings.Contains(got, "Good morning.") {
		t.Errorf("expected cue text retained, got: %q", got)
	}
	if strings.Contains(got, "SILENCE") {
		t.Errorf("silence cue leaked into output: %q", got)
	}
}

func TestManhwaExtractorOrdersPagesAndSkipsMalformed(t *testing.T) {
	assets := []Asset{
		{R2Key: "page-0002.json", Content: []byte(`{"lines": [{"text": "Second page line."}]}`)},
		{R2Key: "page-0001.json", Content: []byte(`{"lines": [{"text": "First page line."}]}`)},
		{R2Key: "page-0003.json", Content: []byte(`not json`)},
	}

	got, err := ManhwaExtractor{}.Extract(context.Background(), assets)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	firstIdx := strings.Index(got, "First page line.")
	secondIdx := strings.Index(got, "Second page line.")
	if firstIdx == -1 || secondIdx == -1 || firstIdx > secondIdx {
		t.Fatalf("expected pages in ascending order, got: %q", got)
	}
	if !strings.Contains(got, "[PAGE 0001]") {
		t.Errorf("expected zero-padded page header, got: %q", got)
	}
}

func TestManhwaExtractorBlocksAndWordsShapes(t *testing.T) {
	blocks := `{"blocks": [{"lines": [{"text": "Block line one."}]}, {"text": "Block text two."}]}`
	got, err := ManhwaExtractor{}.Extract(context.Background(), []Asset{{R2Key: "p1.json", Content: []byte(blocks)}})
	if err != nil {
		t.Fatalf("Extract blocks: %v", err)
	}
	if !strings.Contains(got, "Block line one.") || !strings.Contains(got, "Block text two.") {
		t.Errorf("expected both block lines, got: %q", got)
	}

	words := `{"words": ["Hello", "world"]}`
	got, err = ManhwaExtractor{}.Extract(context.Background(), []Asset{{R2Key: "p1.json", Content: []byte(words)}})
	if err != nil {
		t.Fatalf("Extract words: %v", err)
	}
	if !strings.Contains(got, "Hello world") {
		t.Errorf("expected words joined into a line, got: %q", got)
	}
}
