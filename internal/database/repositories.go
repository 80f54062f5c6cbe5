package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/chapterbridge/nlp-pack-worker/internal/models"
)

// ErrNotFound is returned by repository lookups that find no row.
var ErrNotFound = errors.New("not found")

// pqUniqueViolation is the Postgres SQLSTATE for unique_violation.
const pqUniqueViolation = "23505"

// isUniqueViolation reports whether err is a Postgres unique_violation.
// Callers racing a concurrent insert on the same key catch this and
// re-read-and-merge rather than propagating it.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == pqUniqueViolation
	}
	return false
}

// WorkRepository reads the subset of `works` this worker needs.
type WorkRepository struct {
	db *DB
}

func NewWorkRepository(db *DB) *WorkRepository { return &WorkRepository{db: db} }

// GetTitle returns a work's title, used only for prompt context.
func (r *WorkRepository) GetTitle(ctx context.Context, workID uuid.UUID) (string, error) {
	var title string
	err := r.db.QueryRowContext(ctx, `SELECT title FROM works WHERE id = $1`, workID).Scan(&title)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return title, err
}

// SegmentRepository reads segments joined with their edition.
type SegmentRepository struct {
	db *DB
}

func NewSegmentRepository(db *DB) *SegmentRepository { return &SegmentRepository{db: db} }

// GetWithEdition fetches a segment along with its edition's media_type
// and work_id. Missing segment or edition is a fatal, job-failing
// condition.
func (r *SegmentRepository) GetWithEdition(ctx context.Context, segmentID uuid.UUID) (*models.SegmentWithEdition, error) {
	query := `
		SELECT s.id, s.edition_id, s.segment_type, s.number, s.title, s.created_at,
			e.media_type, e.work_id
		FROM segments s
		JOIN editions e ON e.id = s.edition_id
		WHERE s.id = $1
	`
	row := &models.SegmentWithEdition{}
	err := r.db.QueryRowContext(ctx, query, segmentID).Scan(
		&row.ID, &row.EditionID, &row.SegmentType, &row.Number, &row.Title, &row.CreatedAt,
		&row.MediaType, &row.WorkID,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return row, err
}

// MissingOutputsRow is one candidate segment from the enqueue scanner's
// scan, carrying enough of the join to decide whether a job is needed.
type MissingOutputsRow struct {
	SegmentID   uuid.UUID
	SegmentType string
	Number      int
	MediaType   models.MediaType
	WorkID      uuid.UUID
	EditionID   uuid.UUID
	HasSummary  bool
	HasEntities bool
	HasRawAsset bool
}

// ScanMissingOutputs pages over every segment (optionally filtered by
// work and edition), reporting for each whether a summary row, an
// entities row and a media-type-appropriate raw asset exist; it does
// not filter out segments that already have both outputs, which is left
// to the caller. pageSize bounds each round trip; callers page by
// supplying an increasing offset.
func (r *SegmentRepository) ScanMissingOutputs(ctx context.Context, workID, editionID *uuid.UUID, offset, pageSize int) ([]MissingOutputsRow, error) {
	query := `
		SELECT
			s.id, s.segment_type, s.number, e.media_type, e.work_id, e.id,
			(ss.segment_id IS NOT NULL) AS has_summary,
			(se.segment_id IS NOT NULL) AS has_entities,
			EXISTS (
				SELECT 1 FROM segment_assets sa
				JOIN assets a ON a.id = sa.asset_id
				WHERE sa.segment_id = s.id AND (
					(e.media_type = 'novel' AND a.asset_type IN ('raw_html', 'cleaned_text')) OR
					(e.media_type = 'manhwa' AND a.asset_type = 'raw_image') OR
					(e.media_type = 'anime' AND a.asset_type = 'raw_subtitle')
				)
			) AS has_raw_asset
		FROM segments s
		JOIN editions e ON e.id = s.edition_id
		LEFT JOIN segment_summaries ss ON ss.segment_id = s.id
		LEFT JOIN segment_entities se ON se.segment_id = s.id
		WHERE ($1::uuid IS NULL OR e.work_id = $1)
		  AND ($2::uuid IS NULL OR e.id = $2)
		ORDER BY e.work_id, s.number
		OFFSET $3 LIMIT $4
	`
	rows, err := r.db.QueryContext(ctx, query, workID, editionID, offset, pageSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MissingOutputsRow
	for rows.Next() {
		var row MissingOutputsRow
		if err := rows.Scan(&row.SegmentID, &row.SegmentType, &row.Number, &row.MediaType,
			&row.WorkID, &row.EditionID, &row.HasSummary, &row.HasEntities, &row.HasRawAsset); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// AssetRepository reads and writes blob-store asset records.
type AssetRepository struct {
	db *DB
}

func NewAssetRepository(db *DB) *AssetRepository { return &AssetRepository{db: db} }

// ListBySegmentAndType returns the assets of a given type linked to a
// segment, in no particular order (callers that need page ordering,
// i.e. manhwa, sort by key themselves).
func (r *AssetRepository) ListBySegmentAndType(ctx context.Context, segmentID uuid.UUID, assetType string) ([]*models.Asset, error) {
	query := `
		SELECT a.id, a.r2_key, a.asset_type, a.size_bytes, a.digest, a.created_at
		FROM assets a
		JOIN segment_assets sa ON sa.asset_id = a.id
		WHERE sa.segment_id = $1 AND a.asset_type = $2
	`
	rows, err := r.db.QueryContext(ctx, query, segmentID, assetType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assets []*models.Asset
	for rows.Next() {
		a := &models.Asset{}
		if err := rows.Scan(&a.ID, &a.R2Key, &a.AssetType, &a.SizeBytes, &a.Digest, &a.CreatedAt); err != nil {
			return nil, err
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

// GetByR2Key looks up an asset by its blob-store key.
func (r *AssetRepository) GetByR2Key(ctx context.Context, key string) (*models.Asset, error) {
	a := &models.Asset{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, r2_key, asset_type, size_bytes, digest, created_at
		FROM assets WHERE r2_key = $1
	`, key).Scan(&a.ID, &a.R2Key, &a.AssetType, &a.SizeBytes, &a.Digest, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return a, err
}

// Insert creates a new asset row, generating its ID.
func (r *AssetRepository) Insert(ctx context.Context, a *models.Asset) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO assets (id, r2_key, asset_type, size_bytes, digest, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, a.ID, a.R2Key, a.AssetType, a.SizeBytes, a.Digest, a.CreatedAt)
	return err
}

// LinkSegmentAsset upserts the many-to-many link between a segment and
// an asset with an optional role.
func (r *AssetRepository) LinkSegmentAsset(ctx context.Context, segmentID, assetID uuid.UUID, role *string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO segment_assets (segment_id, asset_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (segment_id, asset_id) DO UPDATE SET role = EXCLUDED.role
	`, segmentID, assetID, role)
	return err
}

// SegmentSummaryRepository handles the segment_summaries table.
type SegmentSummaryRepository struct {
	db *DB
}

func NewSegmentSummaryRepository(db *DB) *SegmentSummaryRepository {
	return &SegmentSummaryRepository{db: db}
}

// Exists reports whether a summary row is already present for a segment.
func (r *SegmentSummaryRepository) Exists(ctx context.Context, segmentID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM segment_summaries WHERE segment_id = $1)`, segmentID).Scan(&exists)
	return exists, err
}

// Upsert writes a SegmentSummary, replacing any existing row for the
// segment (callers gate this on force.)
func (r *SegmentSummaryRepository) Upsert(ctx context.Context, s *models.SegmentSummary) error {
	events, err := json.Marshal(s.Events)
	if err != nil {
		return fmt.Errorf("marshal events: %w", err)
	}
	beats, err := json.Marshal(s.Beats)
	if err != nil {
		return fmt.Errorf("marshal beats: %w", err)
	}
	dialogue, err := json.Marshal(s.KeyDialogue)
	if err != nil {
		return fmt.Errorf("marshal key_dialogue: %w", err)
	}
	tone, err := json.Marshal(s.Tone)
	if err != nil {
		return fmt.Errorf("marshal tone: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO segment_summaries (segment_id, summary, summary_short, events, beats, key_dialogue, tone, model_version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (segment_id) DO UPDATE SET
			summary = EXCLUDED.summary,
			summary_short = EXCLUDED.summary_short,
			events = EXCLUDED.events,
			beats = EXCLUDED.beats,
			key_dialogue = EXCLUDED.key_dialogue,
			tone = EXCLUDED.tone,
			model_version = EXCLUDED.model_version
	`, s.SegmentID, s.Summary, s.SummaryShort, events, beats, dialogue, tone, s.ModelVersion)
	return err
}

// SegmentEntitiesRepository handles the segment_entities table.
type SegmentEntitiesRepository struct {
	db *DB
}

func NewSegmentEntitiesRepository(db *DB) *SegmentEntitiesRepository {
	return &SegmentEntitiesRepository{db: db}
}

// Exists reports whether an entities row is already present for a segment.
func (r *SegmentEntitiesRepository) Exists(ctx context.Context, segmentID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM segment_entities WHERE segment_id = $1)`, segmentID).Scan(&exists)
	return exists, err
}

// Upsert writes a SegmentEntities row, all thirteen arrays included.
func (r *SegmentEntitiesRepository) Upsert(ctx context.Context, e *models.SegmentEntities) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO segment_entities (
			segment_id, characters, locations, items, time_refs, organizations,
			factions, titles_ranks, skills, creatures, concepts, relationships,
			emotions, keywords, model_version
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (segment_id) DO UPDATE SET
			characters = EXCLUDED.characters,
			locations = EXCLUDED.locations,
			items = EXCLUDED.items,
			time_refs = EXCLUDED.time_refs,
			organizations = EXCLUDED.organizations,
			factions = EXCLUDED.factions,
			titles_ranks = EXCLUDED.titles_ranks,
			skills = EXCLUDED.skills,
			creatures = EXCLUDED.creatures,
			concepts = EXCLUDED.concepts,
			relationships = EXCLUDED.relationships,
			emotions = EXCLUDED.emotions,
			keywords = EXCLUDED.keywords,
			model_version = EXCLUDED.model_version
	`, e.SegmentID, pq.Array(e.Characters), pq.Array(e.Locations), pq.Array(e.Items),
		pq.Array(e.TimeRefs), pq.Array(e.Organizations), pq.Array(e.Factions),
		pq.Array(e.TitlesRanks), pq.Array(e.Skills), pq.Array(e.Creatures),
		pq.Array(e.Concepts), pq.Array(e.Relationships), pq.Array(e.Emotions),
		pq.Array(e.Keywords), e.ModelVersion)
	return err
}

// CharacterRepository handles the characters table, including the
// duplicate-key race handlingthis worker requires.
type CharacterRepository struct {
	db *DB
}

func NewCharacterRepository(db *DB) *CharacterRepository { return &CharacterRepository{db: db} }

// ListByWork returns a work's characters ordered by id. Ids are random
// UUIDs and the table holds no insertion timestamp, so this order is
// stable but is not insertion order.
func (r *CharacterRepository) ListByWork(ctx context.Context, workID uuid.UUID) ([]*models.Character, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, work_id, name, aliases, character_facts, description, model_version
		FROM characters WHERE work_id = $1 ORDER BY id ASC
	`, workID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Character
	for rows.Next() {
		c := &models.Character{}
		var aliases pq.StringArray
		var factsJSON []byte
		if err := rows.Scan(&c.ID, &c.WorkID, &c.Name, &aliases, &factsJSON, &c.Description, &c.ModelVersion); err != nil {
			return nil, err
		}
		c.Aliases = []string(aliases)
		if len(factsJSON) > 0 {
			if err := json.Unmarshal(factsJSON, &c.CharacterFacts); err != nil {
				return nil, fmt.Errorf("unmarshal character_facts: %w", err)
			}
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// FindByExactName looks up a character by case-insensitive exact name
// match (lower(name) = lower($2), not a scan), used by the insert-path
// race recovery.
func (r *CharacterRepository) FindByExactName(ctx context.Context, workID uuid.UUID, name string) (*models.Character, error) {
	c := &models.Character{}
	var aliases pq.StringArray
	var factsJSON []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT id, work_id, name, aliases, character_facts, description, model_version
		FROM characters WHERE work_id = $1 AND lower(name) = lower($2)
	`, workID, name).Scan(&c.ID, &c.WorkID, &c.Name, &aliases, &factsJSON, &c.Description, &c.ModelVersion)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.Aliases = []string(aliases)
	if len(factsJSON) > 0 {
		if err := json.Unmarshal(factsJSON, &c.CharacterFacts); err != nil {
			return nil, fmt.Errorf("unmarshal character_facts: %w", err)
		}
	}
	return c, nil
}

// Insert creates a new character row. Returns an error wrapping
// ErrConflict if the insert hit a unique_violation because another
// worker won the race on (work_id, lower(name)); the caller
// (internal/processor) is responsible for the bounded
// re-read-and-update retry.
func (r *CharacterRepository) Insert(ctx context.Context, c *models.Character) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	facts, err := json.Marshal(c.CharacterFacts)
	if err != nil {
		return fmt.Errorf("marshal character_facts: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO characters (id, work_id, name, aliases, character_facts, description, model_version)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, c.ID, c.WorkID, c.Name, pq.Array(c.Aliases), facts, c.Description, c.ModelVersion)
	if isUniqueViolation(err) {
		log.Debug().Str("work_id", c.WorkID.String()).Str("name", c.Name).Msg("character insert raced, unique_violation")
		return fmt.Errorf("character already exists: %w", ErrConflict)
	}
	return err
}

// Update rewrites an existing character's mutable fields.
func (r *CharacterRepository) Update(ctx context.Context, c *models.Character) error {
	facts, err := json.Marshal(c.CharacterFacts)
	if err != nil {
		return fmt.Errorf("marshal character_facts: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		UPDATE characters SET aliases = $1, character_facts = $2, description = $3, model_version = $4
		WHERE id = $5
	`, pq.Array(c.Aliases), facts, c.Description, c.ModelVersion, c.ID)
	return err
}

// ErrConflict signals a unique_violation the caller should resolve by
// re-reading and merging rather than treating as a hard failure.
var ErrConflict = errors.New("conflict")

// PipelineJobRepository claims, finalizes, and enqueues pipeline_jobs
// rows — the storage half of the dispatch engine and enqueue scanner.
type PipelineJobRepository struct {
	db *DB
}

func NewPipelineJobRepository(db *DB) *PipelineJobRepository {
	return &PipelineJobRepository{db: db}
}

// ClaimNext selects and marks running the oldest queued job of type
// summarize/nlp_pack_v1, preferring SELECT ... FOR UPDATE SKIP LOCKED
// inside a transaction; lib/pq exposes this directly as ordinary SQL,
// so no RPC indirection is needed here (contrast with the CAS fallback
// used when skip-locked isn't available at all, e.g. against a
// PostgREST-only backend — kept as ClaimNextCAS for that case).
// Returns (nil, nil) when the queue is empty.
func (r *PipelineJobRepository) ClaimNext(ctx context.Context) (*models.PipelineJob, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	row := tx.QueryRowContext(ctx, `
		SELECT id, job_type, segment_id, edition_id, work_id, input, status, attempt, created_at
		FROM pipeline_jobs
		WHERE status = 'queued' AND job_type = $1 AND input->>'task' = $2
		ORDER BY created_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`, models.JobTypeSummarize, models.TaskNLPPackV1)

	job, err := scanJob(row)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select next job: %w", err)
	}

	job.Attempt++
	now := time.Now().UTC()
	job.StartedAt = &now
	job.Status = models.JobRunning
	_, err = tx.ExecContext(ctx, `
		UPDATE pipeline_jobs SET status = 'running', started_at = $1, attempt = $2 WHERE id = $3
	`, now, job.Attempt, job.ID)
	if err != nil {
		return nil, fmt.Errorf("mark running: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	return job, nil
}

// ClaimNextCAS is the compare-and-swap fallback, used
// when the catalogue store cannot express row-locked claims (e.g. a
// PostgREST/Supabase REST tier without a raw-SQL escape hatch). Two
// distinct worker processes racing here may both read the same row,
// but only one UPDATE's WHERE clause will still match; the loser's
// RETURNING yields no row and it gets (nil, nil), the same result as
// an empty queue. This module
// talks to Postgres directly via lib/pq, so ClaimNext is what actually
// runs in production; this is kept for parity with the degraded-store
// degraded-store branch this worker still supports.
func (r *PipelineJobRepository) ClaimNextCAS(ctx context.Context) (*models.PipelineJob, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE pipeline_jobs SET status = 'running', started_at = now(), attempt = attempt + 1
		WHERE id = (
			SELECT id FROM pipeline_jobs
			WHERE status = 'queued' AND job_type = $1 AND input->>'task' = $2
			ORDER BY created_at ASC LIMIT 1
		) AND status = 'queued'
		RETURNING id, job_type, segment_id, edition_id, work_id, input, status, attempt, created_at
	`, models.JobTypeSummarize, models.TaskNLPPackV1)

	job, err := scanJob(row)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return job, err
}

func scanJob(row *sql.Row) (*models.PipelineJob, error) {
	job := &models.PipelineJob{}
	var inputJSON []byte
	err := row.Scan(&job.ID, &job.JobType, &job.SegmentID, &job.EditionID, &job.WorkID,
		&inputJSON, &job.Status, &job.Attempt, &job.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(inputJSON) > 0 {
		if err := json.Unmarshal(inputJSON, &job.Input); err != nil {
			return nil, fmt.Errorf("unmarshal job input: %w", err)
		}
	}
	return job, nil
}

// GetByID fetches a job by id, used by --segment-id single-job mode
// and tests.
func (r *PipelineJobRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.PipelineJob, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, job_type, segment_id, edition_id, work_id, input, status, attempt, created_at
		FROM pipeline_jobs WHERE id = $1
	`, id)
	return scanJob(row)
}

// SetSuccess finalizes a job as successful with its output document.
func (r *PipelineJobRepository) SetSuccess(ctx context.Context, jobID uuid.UUID, output *models.OutputDoc) error {
	outJSON, err := json.Marshal(output)
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		UPDATE pipeline_jobs SET status = 'success', finished_at = now(), output = $1 WHERE id = $2
	`, outJSON, jobID)
	return err
}

// SetFailed finalizes a job as failed with a descriptive error string.
func (r *PipelineJobRepository) SetFailed(ctx context.Context, jobID uuid.UUID, errMsg string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE pipeline_jobs SET status = 'failed', finished_at = now(), error = $1 WHERE id = $2
	`, errMsg, jobID)
	return err
}

// FailIfOverAttemptCap fails a job immediately if it has met or
// exceeded MAX_RETRIES_PER_JOB,. Returns true if it did.
func (r *PipelineJobRepository) FailIfOverAttemptCap(ctx context.Context, job *models.PipelineJob, maxRetries int) (bool, error) {
	if job.Attempt < maxRetries {
		return false, nil
	}
	return true, r.SetFailed(ctx, job.ID, "Exceeded max retries")
}

// ResetStaleJobs finds jobs stuck in running past timeoutMinutes and
// marks them failed (never requeued — the enqueue scanner re-enqueues
// on its next pass). Returns the
// count of jobs reset.
func (r *PipelineJobRepository) ResetStaleJobs(ctx context.Context, timeoutMinutes, maxAttempts int) (int, error) {
	cutoff := time.Now().UTC().Add(-time.Duration(timeoutMinutes) * time.Minute)

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, attempt FROM pipeline_jobs WHERE status = 'running' AND started_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	type stale struct {
		id      uuid.UUID
		attempt int
	}
	var staleJobs []stale
	for rows.Next() {
		var s stale
		if err := rows.Scan(&s.id, &s.attempt); err != nil {
			rows.Close()
			return 0, err
		}
		staleJobs = append(staleJobs, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, s := range staleJobs {
		msg := fmt.Sprintf("Job timeout after %d minutes (interrupted/crashed). Will retry.", timeoutMinutes)
		if s.attempt >= maxAttempts {
			msg = fmt.Sprintf("Job timeout after %d minutes (interrupted/crashed). Max retries exceeded.", timeoutMinutes)
		}
		if err := r.SetFailed(ctx, s.id, msg); err != nil {
			return len(staleJobs), fmt.Errorf("reset stale job %s: %w", s.id, err)
		}
	}
	return len(staleJobs), nil
}

// CheckPending reports whether a segment already has a queued or
// running summarize job, (used by the single-job
// check_pending_job path; bulk scans use BatchPending instead).
func (r *PipelineJobRepository) CheckPending(ctx context.Context, segmentID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM pipeline_jobs
			WHERE segment_id = $1 AND job_type = $2 AND status IN ('queued', 'running')
		)
	`, segmentID, models.JobTypeSummarize).Scan(&exists)
	return exists, err
}

// BatchPending returns the subset of segmentIDs that already have a
// queued or running summarize job, queried in chunks of ~200 ids per
// a few hundred ids at a time.
func (r *PipelineJobRepository) BatchPending(ctx context.Context, segmentIDs []uuid.UUID) (map[uuid.UUID]bool, error) {
	pending := make(map[uuid.UUID]bool, len(segmentIDs))
	const chunkSize = 200
	for i := 0; i < len(segmentIDs); i += chunkSize {
		end := i + chunkSize
		if end > len(segmentIDs) {
			end = len(segmentIDs)
		}
		chunk := segmentIDs[i:end]

		rows, err := r.db.QueryContext(ctx, `
			SELECT DISTINCT segment_id FROM pipeline_jobs
			WHERE segment_id = ANY($1) AND job_type = $2 AND status IN ('queued', 'running')
		`, pq.Array(chunk), models.JobTypeSummarize)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var id uuid.UUID
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, err
			}
			pending[id] = true
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return pending, nil
}

// Enqueue inserts a new queued pipeline_jobs row for a segment.
func (r *PipelineJobRepository) Enqueue(ctx context.Context, segmentID, editionID, workID uuid.UUID, force bool) error {
	input, err := json.Marshal(models.JobInput{Task: models.TaskNLPPackV1, Force: force})
	if err != nil {
		return fmt.Errorf("marshal job input: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO pipeline_jobs (id, job_type, segment_id, edition_id, work_id, input, status, attempt, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'queued', 0, now())
	`, uuid.New(), models.JobTypeSummarize, segmentID, editionID, workID, input)
	return err
}
