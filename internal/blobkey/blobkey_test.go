package blobkey

import (
	"fmt"
	"testing"

	"github.com/google/uuid"

	"github.com/chapterbridge/nlp-pack-worker/internal/models"
)

func TestCleanedTextRoundTrip(t *testing.T) {
	work := uuid.New()
	edition := uuid.New()

	for n := 0; n < 10000; n += 37 {
		got := CleanedText(models.MediaNovel, work, edition, "chapter", n)
		want := fmt.Sprintf("derived/novel/%s/%s/chapter-%04d/cleaned.txt", work, edition, n)
		if got != want {
			t.Fatalf("CleanedText(%d) = %q, want %q", n, got, want)
		}
	}
}

func TestCleanedTextZeroPadsToFourDigits(t *testing.T) {
	work, edition := uuid.New(), uuid.New()
	tests := []struct {
		n    int
		want string
	}{
		{0, "0000"},
		{7, "0007"},
		{42, "0042"},
		{999, "0999"},
		{1000, "1000"},
		{9999, "9999"},
	}
	for _, tt := range tests {
		key := CleanedText(models.MediaAnime, work, edition, "episode", tt.n)
		suffix := fmt.Sprintf("episode-%s/cleaned.txt", tt.want)
		if len(key) < len(suffix) || key[len(key)-len(suffix):] != suffix {
			t.Errorf("CleanedText(%d) = %q, want suffix %q", tt.n, key, suffix)
		}
	}
}
