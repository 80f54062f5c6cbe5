package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/chapterbridge/nlp-pack-worker/internal/config"
	"github.com/chapterbridge/nlp-pack-worker/internal/database"
	"github.com/chapterbridge/nlp-pack-worker/internal/dispatch"
	"github.com/chapterbridge/nlp-pack-worker/internal/events"
	"github.com/chapterbridge/nlp-pack-worker/internal/extractor"
	"github.com/chapterbridge/nlp-pack-worker/internal/httpserver"
	"github.com/chapterbridge/nlp-pack-worker/internal/llm"
	"github.com/chapterbridge/nlp-pack-worker/internal/models"
	"github.com/chapterbridge/nlp-pack-worker/internal/processor"
	"github.com/chapterbridge/nlp-pack-worker/internal/storage"
	"github.com/chapterbridge/nlp-pack-worker/migrations"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	segmentID := flag.String("segment-id", "", "process a single segment without touching the queue")
	noWrite := flag.Bool("no-write", false, "suppress all catalogue and blob writes (required with --segment-id)")
	dryRun := flag.Bool("dry-run", false, "alias for --no-write")
	force := flag.Bool("force", false, "reprocess a segment even if outputs already exist (single-segment mode only)")
	flag.Parse()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		os.Exit(1)
	}

	db, err := database.Connect(cfg.SupabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := migrations.Run(db.DB); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	ctx := context.Background()
	blobs, err := storage.NewClient(ctx, cfg.R2Endpoint, "auto", cfg.R2Bucket, cfg.R2AccessKeyID, cfg.R2SecretAccessKey, cfg.R2MaxRetries, cfg.R2RetryDelay)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize storage client")
	}

	llmClient, err := llm.NewClient(cfg.VLLMBaseURL, cfg.VLLMAPIKey, cfg.VLLMModel,
		time.Duration(cfg.ModelTimeoutSeconds)*time.Second, cfg.ModelMaxRetries)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize model client")
	}

	proc := processor.New(
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

	jobRepo := database.NewPipelineJobRepository(db)

	if *segmentID != "" {
		runSingleSegment(ctx, proc, jobRepo, *segmentID, *noWrite || *dryRun, *force)
		return
	}

	pub, err := events.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize job-lifecycle event publisher")
	}
	if pub != nil {
		defer pub.Close()
	}

	counters := &httpserver.Counters{}
	d := dispatch.New(jobRepo, proc, pub, cfg, counters)

	if err := d.RecoverStaleLeases(ctx); err != nil {
		log.Error().Err(err).Msg("stale lease recovery failed, continuing")
	}

	httpSrv := httpserver.New(cfg.HTTPAddr, db, counters)
	httpSrv.Start()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	go func() {
		_ = d.Run(runCtx)
		close(done)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info().Msg("shutdown signal received, waiting for in-flight jobs")
		cancel()
	case <-done:
		log.Info().Msg("graceful restart threshold reached")
	}

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		log.Warn().Msg("worker pool shutdown timeout")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("health server shutdown error")
	}

	log.Info().Msg("worker exited")
}

// runSingleSegment implements --segment-id mode: it builds a synthetic
// job for the targeted segment and runs it directly, bypassing the
// claim queue. --no-write/--dry-run is required since there is no
// real queued pipeline_jobs row to finalize.
func runSingleSegment(ctx context.Context, proc *processor.Processor, jobRepo *database.PipelineJobRepository, rawSegmentID string, noWrite, force bool) {
	segID, err := uuid.Parse(rawSegmentID)
	if err != nil {
		log.Error().Err(err).Str("segment_id", rawSegmentID).Msg("invalid --segment-id")
		os.Exit(1)
	}
	if !noWrite {
		log.Error().Msg("--segment-id requires --no-write or --dry-run")
		os.Exit(1)
	}

	job := &models.PipelineJob{
		ID:        uuid.New(),
		SegmentID: segID,
		Input:     models.JobInput{Task: models.TaskNLPPackV1, Force: force},
	}

	out, err := proc.ProcessDryRun(ctx, job)
	if err != nil {
		log.Error().Err(err).Str("segment_id", segID.String()).Msg("dry-run processing failed")
		os.Exit(1)
	}
	log.Info().Str("segment_id", segID.String()).
		Bool("skipped", out.Skipped).
		Bool("summary_upserted", out.SummaryUpserted).
		Bool("entities_upserted", out.EntitiesUpserted).
		Interface("characters", out.Characters).
		Msg("dry-run complete")
}
