// Package processor implements Component C: turning one claimed
// pipeline_jobs row into persisted segment_summaries,
// segment_entities, and character rows, via the extractor and llm
// packages. Grounded on this codebase's existing
// JobProcessor.ProcessJob/processJobPipeline shape in the narration
// build, adapted to the catalogue-enrichment domain.
package processor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/chapterbridge/nlp-pack-worker/internal/blobkey"
	"github.com/chapterbridge/nlp-pack-worker/internal/character"
	"github.com/chapterbridge/nlp-pack-worker/internal/config"
	"github.com/chapterbridge/nlp-pack-worker/internal/database"
	"github.com/chapterbridge/nlp-pack-worker/internal/extractor"
	"github.com/chapterbridge/nlp-pack-worker/internal/llm"
	"github.com/chapterbridge/nlp-pack-worker/internal/models"
	"github.com/chapterbridge/nlp-pack-worker/internal/schema"
	"github.com/chapterbridge/nlp-pack-worker/internal/storage"
)

// sourceAssetTypes maps a media type to the raw asset kind its
// extractor reads from.
var sourceAssetTypes = map[models.MediaType]string{
	models.MediaNovel:  models.AssetRawHTML,
	models.MediaAnime:  models.AssetRawSubtitle,
	models.MediaManhwa: models.AssetOCRJSON,
}

const maxCharacterMergeRetries = 3

// Processor runs the end-to-end enrichment pipeline for one segment.
type Processor struct {
	workRepo      *database.WorkRepository
	segmentRepo   *database.SegmentRepository
	assetRepo     *database.AssetRepository
	summaryRepo   *database.SegmentSummaryRepository
	entitiesRepo  *database.SegmentEntitiesRepository
	characterRepo *database.CharacterRepository
	extractors    *extractor.Registry
	llmClient     *llm.Client
	blobs         *storage.Client
	cfg           *config.Config
}

// New builds a Processor from its repository and client dependencies.
func New(
	workRepo *database.WorkRepository,
	segmentRepo *database.SegmentRepository,
	assetRepo *database.AssetRepository,
	summaryRepo *database.SegmentSummaryRepository,
	entitiesRepo *database.SegmentEntitiesRepository,
	characterRepo *database.CharacterRepository,
	extractors *extractor.Registry,
	llmClient *llm.Client,
	blobs *storage.Client,
	cfg *config.Config,
) *Processor {
	return &Processor{
		workRepo:      workRepo,
		segmentRepo:   segmentRepo,
		assetRepo:     assetRepo,
		summaryRepo:   summaryRepo,
		entitiesRepo:  entitiesRepo,
		characterRepo: characterRepo,
		extractors:    extractors,
		llmClient:     llmClient,
		blobs:         blobs,
		cfg:           cfg,
	}
}

// ErrInputMissing signals a segment with no raw source asset to
// extract from. This fails the job without retry.
var ErrInputMissing = fmt.Errorf("segment has no raw source asset")

// Process runs the pipeline for one job's segment and returns the
// terminal output document. Every write (summary, entities, each
// character) is independently idempotent: a second run with force=false
// after a partial success only fills in what is still missing.
func (p *Processor) Process(ctx context.Context, job *models.PipelineJob) (*models.OutputDoc, error) {
	return p.process(ctx, job, false)
}

// ProcessDryRun runs the same pipeline but suppresses every catalogue
// and blob write; the returned document reflects what would have
// happened. Used by the worker binary's --segment-id/--no-write mode.
func (p *Processor) ProcessDryRun(ctx context.Context, job *models.PipelineJob) (*models.OutputDoc, error) {
	return p.process(ctx, job, true)
}

func (p *Processor) process(ctx context.Context, job *models.PipelineJob, dryRun bool) (*models.OutputDoc, error) {
	seg, err := p.segmentRepo.GetWithEdition(ctx, job.SegmentID)
	if err != nil {
		return nil, fmt.Errorf("load segment: %w", err)
	}

	hasSummary, err := p.summaryRepo.Exists(ctx, seg.ID)
	if err != nil {
		return nil, fmt.Errorf("check existing summary: %w", err)
	}
	hasEntities, err := p.entitiesRepo.Exists(ctx, seg.ID)
	if err != nil {
		return nil, fmt.Errorf("check existing entities: %w", err)
	}
	needsCharacters := schema.MediaTypeAllowsCharacters(seg.MediaType)

	if hasSummary && hasEntities && !job.Input.Force {
		log.Info().Str("segment_id", seg.ID.String()).Msg("segment already fully enriched, skipping")
		return &models.OutputDoc{Skipped: true, Reason: "already_exists"}, nil
	}

	sourceText, stats, err := p.extractSourceText(ctx, seg, dryRun)
	if err != nil {
		return nil, err
	}

	workTitle, err := p.workRepo.GetTitle(ctx, seg.WorkID)
	if err != nil {
		log.Warn().Err(err).Str("work_id", seg.WorkID.String()).Msg("failed to load work title, proceeding without context")
	}

	result, err := p.llmClient.Process(ctx, sourceText, seg.MediaType, workTitle)
	if err != nil {
		return nil, fmt.Errorf("model processing: %w", err)
	}
	result.Stats.SegmentType = stats.SegmentType
	result.Stats.SegmentNumber = stats.SegmentNumber
	result.Stats.PageCount = stats.PageCount
	result.Stats.ParagraphCount = stats.ParagraphCount
	result.Stats.SubtitleBlocks = stats.SubtitleBlocks

	out := &models.OutputDoc{
		ModelVersion: p.cfg.ModelVersion,
		Stats:        result.Stats,
	}

	if job.Input.Force || !hasSummary {
		if !dryRun {
			summary := result.Normalized.Summary
			if err := p.summaryRepo.Upsert(ctx, &models.SegmentSummary{
				SegmentID:    seg.ID,
				Summary:      summary.Summary,
				SummaryShort: summary.SummaryShort,
				Events:       summary.Events,
				Beats:        summary.Beats,
				KeyDialogue:  summary.KeyDialogue,
				Tone:         summary.Tone,
				ModelVersion: p.cfg.ModelVersion,
			}); err != nil {
				return nil, fmt.Errorf("write summary: %w", err)
			}
		}
		out.SummaryUpserted = true
	} else {
		out.SummarySkipped = true
	}

	if job.Input.Force || !hasEntities {
		if !dryRun {
			e := result.Normalized.Entities
			if err := p.entitiesRepo.Upsert(ctx, &models.SegmentEntities{
				SegmentID:     seg.ID,
				Characters:    e.Characters,
				Locations:     e.Locations,
				Items:         e.Items,
				TimeRefs:      e.TimeRefs,
				Organizations: e.Organizations,
				Factions:      e.Factions,
				TitlesRanks:   e.TitlesRanks,
				Skills:        e.Skills,
				Creatures:     e.Creatures,
				Concepts:      e.Concepts,
				Relationships: e.Relationships,
				Emotions:      e.Emotions,
				Keywords:      e.Keywords,
				ModelVersion:  p.cfg.ModelVersion,
			}); err != nil {
				return nil, fmt.Errorf("write entities: %w", err)
			}
		}
		out.EntitiesUpserted = true
	} else {
		out.EntitiesSkipped = true
	}

	if needsCharacters && len(result.Normalized.CharacterUpdates) > 0 {
		charStats, err := p.mergeCharacters(ctx, seg.WorkID, result.Normalized.CharacterUpdates, seg.Number, dryRun)
		if err != nil {
			return nil, fmt.Errorf("merge characters: %w", err)
		}
		out.Characters = charStats
	}

	return out, nil
}

// extractSourceText resolves and extracts the segment's raw text,
// materializing a cleaned-text asset for every novel segment unless
// dryRun is set, per the source worker's main.py write_cleaned_text
// step.
func (p *Processor) extractSourceText(ctx context.Context, seg *models.SegmentWithEdition, dryRun bool) (string, models.Stats, error) {
	stats := models.Stats{MediaType: seg.MediaType, SegmentType: seg.SegmentType, SegmentNumber: seg.Number}

	assetType, ok := sourceAssetTypes[seg.MediaType]
	if !ok {
		return "", stats, fmt.Errorf("no source asset type mapped for media type %q", seg.MediaType)
	}

	assets, err := p.assetRepo.ListBySegmentAndType(ctx, seg.ID, assetType)
	if err != nil {
		return "", stats, fmt.Errorf("list source assets: %w", err)
	}
	if len(assets) == 0 {
		return "", stats, fmt.Errorf("%w: segment %s media type %s", ErrInputMissing, seg.ID, seg.MediaType)
	}

	ex, err := p.extractors.For(seg.MediaType)
	if err != nil {
		return "", stats, err
	}

	fetched := make([]extractor.Asset, 0, len(assets))
	for _, a := range assets {
		content, err := p.blobs.Fetch(ctx, a.R2Key)
		if err != nil {
			return "", stats, fmt.Errorf("fetch asset %s: %w", a.R2Key, err)
		}
		fetched = append(fetched, extractor.Asset{R2Key: a.R2Key, Content: content})
	}

	text, err := ex.Extract(ctx, fetched)
	if err != nil {
		return "", stats, fmt.Errorf("extract text: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", stats, fmt.Errorf("%w: extractor produced no text for segment %s", ErrInputMissing, seg.ID)
	}

	switch seg.MediaType {
	case models.MediaManhwa:
		n := len(assets)
		stats.PageCount = &n
	case models.MediaAnime:
		n := strings.Count(text, "\n") + 1
		stats.SubtitleBlocks = &n
	case models.MediaNovel:
		n := strings.Count(text, "\n\n") + 1
		stats.ParagraphCount = &n
		if !dryRun {
			p.writeCleanedText(ctx, seg, text)
		}
	}

	return text, stats, nil
}

// writeCleanedText stores the extracted novel text at its derived key
// and links it to the segment, best-effort: a failure here does not
// fail the job, since the cleaned-text asset is an enrichment, not an
// input the model needs.
func (p *Processor) writeCleanedText(ctx context.Context, seg *models.SegmentWithEdition, text string) {
	key := blobkey.CleanedTextForSegment(seg)
	meta, err := p.blobs.PutText(ctx, key, text)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("failed to write cleaned-text asset")
		return
	}
	asset := &models.Asset{R2Key: meta.Key, AssetType: models.AssetCleanedText, SizeBytes: meta.Bytes, Digest: &meta.SHA256}
	if err := p.assetRepo.Insert(ctx, asset); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("failed to record cleaned-text asset")
		return
	}
	if err := p.assetRepo.LinkSegmentAsset(ctx, seg.ID, asset.ID, nil); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("failed to link cleaned-text asset")
	}
}

// mergeCharacters applies every accepted character update to the
// work's dossier, resolving identity by alias and handling the
// unique-key race with a bounded re-read-and-merge retry, grounded on
// the source worker's upsert_character.
func (p *Processor) mergeCharacters(ctx context.Context, workID uuid.UUID, updates []schema.CharacterUpdate, segmentNumber int, dryRun bool) (models.CharacterStats, error) {
	var stats models.CharacterStats

	existing, err := p.characterRepo.ListByWork(ctx, workID)
	if err != nil {
		return stats, fmt.Errorf("list existing characters: %w", err)
	}

	for _, update := range updates {
		match := character.FindMatch(existing, update.Name, update.Aliases)
		if match == nil {
			if dryRun {
				stats.Inserted++
				continue
			}
			inserted, err := p.insertCharacterWithRetry(ctx, workID, update, segmentNumber, &existing)
			if err != nil {
				return stats, err
			}
			if inserted {
				stats.Inserted++
			} else {
				stats.Updated++
			}
			continue
		}

		if dryRun {
			stats.Updated++
			continue
		}
		merged := character.MergeInto(match, update, segmentNumber, p.cfg.ModelVersion)
		if err := p.characterRepo.Update(ctx, &merged); err != nil {
			return stats, fmt.Errorf("update character %s: %w", merged.ID, err)
		}
		*match = merged
		stats.Updated++
	}

	return stats, nil
}

// insertCharacterWithRetry inserts a brand-new character, and on a
// unique_violation (another job for the same work won the race)
// re-reads the row that beat us and merges into it instead. If that row
// cannot be read back, the insert is tried again, up to
// maxCharacterMergeRetries attempts in all.
func (p *Processor) insertCharacterWithRetry(ctx context.Context, workID uuid.UUID, update schema.CharacterUpdate, segmentNumber int, existing *[]*models.Character) (inserted bool, err error) {
	for attempt := 0; attempt < maxCharacterMergeRetries; attempt++ {
		c := character.NewFromUpdate(workID, update, segmentNumber, p.cfg.ModelVersion)
		err = p.characterRepo.Insert(ctx, &c)
		if err == nil {
			*existing = append(*existing, &c)
			return true, nil
		}
		if !isConflict(err) {
			return false, fmt.Errorf("insert character %q: %w", update.Name, err)
		}

		winner, findErr := p.characterRepo.FindByExactName(ctx, workID, update.Name)
		if errors.Is(findErr, database.ErrNotFound) {
			continue
		}
		if findErr != nil {
			return false, fmt.Errorf("re-read after conflict for %q: %w", update.Name, findErr)
		}
		merged := character.MergeInto(winner, update, segmentNumber, p.cfg.ModelVersion)
		if updateErr := p.characterRepo.Update(ctx, &merged); updateErr != nil {
			return false, fmt.Errorf("merge after conflict for %q: %w", update.Name, updateErr)
		}
		*existing = append(*existing, &merged)
		return false, nil
	}
	return false, fmt.Errorf("exhausted %d retries inserting character %q", maxCharacterMergeRetries, update.Name)
}

func isConflict(err error) bool {
	return errors.Is(err, database.ErrConflict)
}
