package enqueue

import (
	"context"
	"os"
	"testing"

	"github.com/chapterbridge/nlp-pack-worker/internal/database"
)

// These integration tests exercise a real scan against Postgres; they
// are skipped unless DATABASE_URL is set, matching this codebase's
// existing integration test style.
func newTestScanner(t *testing.T) *Scanner {
	t.Helper()
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}
	db, err := database.Connect(dbURL)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	return New(database.NewSegmentRepository(db), database.NewPipelineJobRepository(db))
}

func TestDryRunDoesNotEnqueue(t *testing.T) {
	s := newTestScanner(t)

	stats, err := s.Run(context.Background(), Options{DryRun: true, Limit: 5})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Found < stats.Enqueued {
		t.Errorf("enqueued count %d exceeds found count %d", stats.Enqueued, stats.Found)
	}
}

func TestScanRespectsLimit(t *testing.T) {
	s := newTestScanner(t)

	stats, err := s.Run(context.Background(), Options{DryRun: true, Limit: 2})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Found > 2 {
		t.Errorf("expected at most 2 candidates with Limit=2, got %d", stats.Found)
	}
}
