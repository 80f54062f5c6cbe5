package processor

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/chapterbridge/nlp-pack-worker/internal/config"
	"github.com/chapterbridge/nlp-pack-worker/internal/database"
	"github.com/chapterbridge/nlp-pack-worker/internal/extractor"
	"github.com/chapterbridge/nlp-pack-worker/internal/llm"
	"github.com/chapterbridge/nlp-pack-worker/internal/models"
	"github.com/chapterbridge/nlp-pack-worker/internal/storage"
)

// These integration tests exercise the literal end-to-end scenarios
// against a real Postgres instance and vLLM/blob backend; they are
// skipped unless the environment is configured, matching this
// codebase's existing DATABASE_URL-gated integration test style.
func newTestProcessor(t *testing.T) (*Processor, *database.DB) {
	t.Helper()
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}
	db, err := database.Connect(dbURL)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	s3URL := os.Getenv("R2_ENDPOINT")
	if s3URL == "" {
		t.Skip("R2_ENDPOINT not set, skipping integration test")
	}
	blobs, err := storage.NewClient(context.Background(), s3URL, "auto",
		os.Getenv("R2_BUCKET"), os.Getenv("R2_ACCESS_KEY_ID"), os.Getenv("R2_SECRET_ACCESS_KEY"), 3, time.Second)
	if err != nil {
		t.Fatalf("storage client: %v", err)
	}

	llmClient, err := llm.NewClient(os.Getenv("VLLM_BASE_URL"), os.Getenv("VLLM_API_KEY"), os.Getenv("VLLM_MODEL"), 360*time.Second, 2)
	if err != nil {
		t.Fatalf("llm client: %v", err)
	}

	cfg := &config.Config{ModelVersion: "test-model-v1"}

	p := New(
		database.NewWorkRepository(db),
		database.NewSegmentRepository(db),
		database.NewAssetRepository(db),
		database.NewSegmentSummaryRepository(db),
		database.NewSegmentEntitiesRepository(db),
		database.NewCharacterRepository(db),
		extractor.Default(),
		llmClient,
		blobs,
		cfg,
	)
	return p, db
}

// TestNovelSegmentHappyPath exercises scenario 1: a fresh novel segment
// with raw HTML is enriched into a summary, entities, and characters.
func TestNovelSegmentHappyPath(t *testing.T) {
	p, _ := newTestProcessor(t)

	job := &models.PipelineJob{
		ID:        uuid.New(),
		SegmentID: uuid.MustParse(envOrSkip(t, "TEST_NOVEL_SEGMENT_ID")),
		Input:     models.JobInput{Task: models.TaskNLPPackV1},
	}

	out, err := p.Process(context.Background(), job)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !out.SummaryUpserted || !out.EntitiesUpserted {
		t.Errorf("expected both summary and entities upserted on first run, got %#v", out)
	}
}

// TestIdempotentRerun exercises scenario 2: running the same segment a
// second time without force leaves summary/entities untouched.
func TestIdempotentRerun(t *testing.T) {
	p, _ := newTestProcessor(t)

	job := &models.PipelineJob{
		ID:        uuid.New(),
		SegmentID: uuid.MustParse(envOrSkip(t, "TEST_NOVEL_SEGMENT_ID")),
		Input:     models.JobInput{Task: models.TaskNLPPackV1},
	}

	first, err := p.Process(context.Background(), job)
	if err != nil {
		t.Fatalf("first Process: %v", err)
	}
	second, err := p.Process(context.Background(), job)
	if err != nil {
		t.Fatalf("second Process: %v", err)
	}
	if !first.Skipped && second.Skipped {
		return // fully enriched on first pass, correctly skipped on second
	}
	if second.SummaryUpserted || second.EntitiesUpserted {
		t.Errorf("expected second run to skip already-present outputs, got %#v", second)
	}
}

// TestDryRunDoesNotWrite exercises --segment-id/--no-write mode: the
// returned document reports what would have happened, but a second
// real run still sees the segment as unenriched.
func TestDryRunDoesNotWrite(t *testing.T) {
	p, _ := newTestProcessor(t)

	job := &models.PipelineJob{
		ID:        uuid.New(),
		SegmentID: uuid.MustParse(envOrSkip(t, "TEST_NOVEL_SEGMENT_ID")),
		Input:     models.JobInput{Task: models.TaskNLPPackV1},
	}

	dry, err := p.ProcessDryRun(context.Background(), job)
	if err != nil {
		t.Fatalf("ProcessDryRun: %v", err)
	}
	if dry.Skipped {
		t.Skip("segment already fully enriched from a prior run, dry-run has nothing to exercise")
	}
	if !dry.SummaryUpserted || !dry.EntitiesUpserted {
		t.Errorf("expected dry-run output to report what would be written, got %#v", dry)
	}

	real, err := p.Process(context.Background(), job)
	if err != nil {
		t.Fatalf("Process after dry run: %v", err)
	}
	if real.Skipped {
		t.Error("dry run must not have persisted anything, but the real run found the segment already enriched")
	}
}

func envOrSkip(t *testing.T, key string) string {
	t.Helper()
	v := os.Getenv(key)
	if v == "" {
		t.Skipf("%s not set, skipping scenario test", key)
	}
	return v
}
