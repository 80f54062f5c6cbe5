// Package enqueue implements the offline scanner that creates
// pipeline_jobs rows for segments missing NLP outputs, grounded on the
// source worker's enqueue script.
package enqueue

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/chapterbridge/nlp-pack-worker/internal/database"
	"github.com/chapterbridge/nlp-pack-worker/internal/models"
)

const scanPageSize = 500

// Options filters and controls a single scan run.
type Options struct {
	WorkID    *uuid.UUID
	EditionID *uuid.UUID
	MediaType models.MediaType // empty means no filter
	Limit     int              // 0 means unlimited
	Force     bool
	DryRun    bool
}

// Stats tallies what a scan did.
type Stats struct {
	Found           int
	Enqueued        int
	SkippedPending  int
	SkippedComplete int
	SkippedNoAsset  int
}

// Scanner finds segments missing outputs and enqueues jobs for them.
type Scanner struct {
	segments *database.SegmentRepository
	jobs     *database.PipelineJobRepository
}

func New(segments *database.SegmentRepository, jobs *database.PipelineJobRepository) *Scanner {
	return &Scanner{segments: segments, jobs: jobs}
}

// Run pages through segments (optionally filtered by work, edition and
// media type) and enqueues a job for each one that has its raw source
// asset, is not already complete (unless Force), and has no queued or
// running job (unless Force), per the source worker's
// get_segments_missing_nlp + enqueue_jobs pipeline. Limit caps the
// number of scanned segments taken as candidates; it is applied before
// the asset, completeness and pending checks, so skipped segments count
// towards it.
func (s *Scanner) Run(ctx context.Context, opts Options) (Stats, error) {
	var stats Stats
	var candidates []database.MissingOutputsRow

	for offset := 0; ; offset += scanPageSize {
		page, err := s.segments.ScanMissingOutputs(ctx, opts.WorkID, opts.EditionID, offset, scanPageSize)
		if err != nil {
			return stats, fmt.Errorf("scan missing outputs at offset %d: %w", offset, err)
		}
		if len(page) == 0 {
			break
		}
		for _, row := range page {
			if opts.MediaType != "" && row.MediaType != opts.MediaType {
				continue
			}
			candidates = append(candidates, row)
		}
		if len(page) < scanPageSize {
			break
		}
		if opts.Limit > 0 && len(candidates) >= opts.Limit {
			break
		}
	}

	if opts.Limit > 0 && len(candidates) > opts.Limit {
		candidates = candidates[:opts.Limit]
	}
	stats.Found = len(candidates)
	log.Info().Int("count", stats.Found).Msg("segments missing NLP output")

	pending, err := s.checkPending(ctx, candidates)
	if err != nil {
		return stats, err
	}

	for _, row := range candidates {
		if !row.HasRawAsset {
			stats.SkippedNoAsset++
			continue
		}
		if !opts.Force && row.HasSummary && row.HasEntities {
			stats.SkippedComplete++
			continue
		}
		if !opts.Force && pending[row.SegmentID] {
			stats.SkippedPending++
			continue
		}

		label := fmt.Sprintf("%s %s-%d", row.MediaType, row.SegmentType, row.Number)
		if opts.DryRun {
			log.Info().Str("segment_id", row.SegmentID.String()).Str("segment", label).Msg("[dry run] would enqueue")
			stats.Enqueued++
			continue
		}

		if err := s.jobs.Enqueue(ctx, row.SegmentID, row.EditionID, row.WorkID, opts.Force); err != nil {
			return stats, fmt.Errorf("enqueue segment %s: %w", row.SegmentID, err)
		}
		log.Info().Str("segment_id", row.SegmentID.String()).Str("segment", label).Msg("enqueued")
		stats.Enqueued++
	}

	return stats, nil
}

// checkPending batches the already-queued/running check across every
// candidate segment instead of issuing one round trip per segment.
func (s *Scanner) checkPending(ctx context.Context, candidates []database.MissingOutputsRow) (map[uuid.UUID]bool, error) {
	ids := make([]uuid.UUID, len(candidates))
	for i, row := range candidates {
		ids[i] = row.SegmentID
	}
	pending, err := s.jobs.BatchPending(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("check pending jobs: %w", err)
	}
	return pending, nil
}
