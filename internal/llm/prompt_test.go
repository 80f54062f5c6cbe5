package llm

import (
	"strings"
	"testing"
	"time"

	"github.com/chapterbridge/nlp-pack-worker/internal/models"
)

func TestBuildSystemPromptNovelIncludesCharacterInstructions(t *testing.T) {
	p := buildSystemPrompt(models.MediaNovel, "The Beginning After the End")
	if !strings.Contains(p, "character_facts") {
		t.Error("expected novel prompt to mention character_facts")
	}
	if !strings.Contains(p, "The Beginning After the End") {
		t.Error("expected work title to be embedded in the context line")
	}
}

func TestBuildSystemPromptNonNovelSuppressesCharacters(t *testing.T) {
	for _, mt := range []models.MediaType{models.MediaAnime, models.MediaManhwa} {
		p := buildSystemPrompt(mt, "")
		if !strings.Contains(p, "not applicable for this media type") {
			t.Errorf("expected %s prompt to disable character_updates, got: %s", mt, p)
		}
		if strings.Contains(p, "character_facts") {
			t.Errorf("expected %s prompt to omit character_facts instructions", mt)
		}
	}
}

func TestBuildSystemPromptOmitsWorkContextWhenTitleEmpty(t *testing.T) {
	p := buildSystemPrompt(models.MediaNovel, "")
	if strings.Contains(p, `WORK:`) {
		t.Error("expected no WORK context line when title is empty")
	}
}

func TestBuildUserPromptDelimitsContent(t *testing.T) {
	p := buildUserPrompt("Once upon a time.", models.MediaNovel)
	if !strings.Contains(p, "---BEGIN CONTENT---") || !strings.Contains(p, "---END CONTENT---") {
		t.Error("expected content delimiters")
	}
	if !strings.Contains(p, "Once upon a time.") {
		t.Error("expected source text embedded between delimiters")
	}
}

func TestBackoffDelaySchedule(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 2 * time.Second},
		{1, 4 * time.Second},
		{2, 8 * time.Second},
		{3, 16 * time.Second},
		{4, 30 * time.Second},
		{10, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := backoffDelay(tt.attempt); got != tt.want {
			t.Errorf("backoffDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestShouldRetryOnStatusCodes(t *testing.T) {
	retryable := []string{
		"request failed: 429 Too Many Requests",
		"upstream error: 503 Service Unavailable",
		"dial tcp: connection timeout",
	}
	for _, msg := range retryable {
		if !shouldRetry(&stringError{msg}) {
			t.Errorf("shouldRetry(%q) = false, want true", msg)
		}
	}

	nonRetryable := []string{
		"invalid request: 400 Bad Request",
		"unauthorized: 401",
	}
	for _, msg := range nonRetryable {
		if shouldRetry(&stringError{msg}) {
			t.Errorf("shouldRetry(%q) = true, want false", msg)
		}
	}
}

type stringError struct{ s string }

func (e *stringError) Error() string { return e.s }
