package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/chapterbridge/nlp-pack-worker/internal/config"
	"github.com/chapterbridge/nlp-pack-worker/internal/database"
	"github.com/chapterbridge/nlp-pack-worker/internal/enqueue"
	"github.com/chapterbridge/nlp-pack-worker/internal/models"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	var (
		force     bool
		limit     int
		workID    string
		mediaType string
		dryRun    bool
	)
	flag.BoolVar(&force, "force", false, "enqueue even for segments that already have a pending job")
	flag.BoolVar(&force, "f", false, "shorthand for --force")
	flag.IntVar(&limit, "limit", 0, "stop after this many segments (0 = no limit)")
	flag.IntVar(&limit, "l", 0, "shorthand for --limit")
	flag.StringVar(&workID, "work-id", "", "restrict the scan to a single work")
	flag.StringVar(&workID, "w", "", "shorthand for --work-id")
	flag.StringVar(&mediaType, "media-type", "", "restrict the scan to one media type: novel, manhwa, or anime")
	flag.StringVar(&mediaType, "m", "", "shorthand for --media-type")
	flag.BoolVar(&dryRun, "dry-run", false, "report what would be enqueued without writing any jobs")
	flag.BoolVar(&dryRun, "n", false, "shorthand for --dry-run")
	flag.Parse()

	opts := enqueue.Options{
		Force:  force,
		Limit:  limit,
		DryRun: dryRun,
	}
	if workID != "" {
		id, err := uuid.Parse(workID)
		if err != nil {
			log.Fatal().Err(err).Str("work_id", workID).Msg("invalid --work-id")
		}
		opts.WorkID = &id
	}
	if mediaType != "" {
		mt := models.MediaType(mediaType)
		switch mt {
		case models.MediaNovel, models.MediaManhwa, models.MediaAnime:
			opts.MediaType = mt
		default:
			log.Fatal().Str("media_type", mediaType).Msg("invalid --media-type, want one of: novel, manhwa, anime")
		}
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	db, err := database.Connect(cfg.SupabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	scanner := enqueue.New(database.NewSegmentRepository(db), database.NewPipelineJobRepository(db))

	stats, err := scanner.Run(context.Background(), opts)
	if err != nil {
		log.Fatal().Err(err).Msg("enqueue scan failed")
	}

	mode := "enqueued"
	if dryRun {
		mode = "would enqueue"
	}
	fmt.Printf("found=%d %s=%d skipped_pending=%d skipped_complete=%d skipped_no_asset=%d\n",
		stats.Found, mode, stats.Enqueued, stats.SkippedPending, stats.SkippedComplete, stats.SkippedNoAsset)
}
