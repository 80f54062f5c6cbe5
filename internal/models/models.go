// Package models defines the catalogue entities the nlp pack worker
// reads and writes. The catalogue schema itself lives outside this
// module; these types describe the subset of columns the core
// consumes.
package models

import (
	"time"

	"github.com/google/uuid"
)

// MediaType enumerates the editions this worker knows how to process.
type MediaType string

const (
	MediaNovel  MediaType = "novel"
	MediaManhwa MediaType = "manhwa"
	MediaAnime  MediaType = "anime"
)

// AssetType enumerates the blob kinds referenced by SegmentAsset rows.
const (
	AssetRawHTML     = "raw_html"
	AssetCleanedText = "cleaned_text"
	AssetRawSubtitle = "raw_subtitle"
	AssetOCRJSON     = "ocr_json"
	AssetRawImage    = "raw_image"
)

// Job lifecycle states.
const (
	JobQueued  = "queued"
	JobRunning = "running"
	JobSuccess = "success"
	JobFailed  = "failed"
)

// JobType is always "summarize" for this worker; kept as a named
// constant since PipelineJob rows from other pipelines may share the
// table.
const JobTypeSummarize = "summarize"

// TaskNLPPackV1 is the `input.task` discriminator this worker claims.
const TaskNLPPackV1 = "nlp_pack_v1"

// Work is a novel/comic/anime series. The core only reads its title
// (for prompt context) and owns its Character rows.
type Work struct {
	ID    uuid.UUID `json:"id"`
	Title string    `json:"title"`
}

// Edition is a specific published edition of a Work.
type Edition struct {
	ID        uuid.UUID `json:"id"`
	WorkID    uuid.UUID `json:"work_id"`
	MediaType MediaType `json:"media_type"`
}

// Segment is an ordered, numbered unit of content within an Edition.
type Segment struct {
	ID          uuid.UUID `json:"id"`
	EditionID   uuid.UUID `json:"edition_id"`
	SegmentType string    `json:"segment_type"`
	Number      int       `json:"number"`
	Title       *string   `json:"title,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// SegmentWithEdition is the join the processor needs to know a
// segment's media type and work without a second round trip.
type SegmentWithEdition struct {
	Segment
	MediaType MediaType `json:"media_type"`
	WorkID    uuid.UUID `json:"work_id"`
}

// Asset is a blob-store object referenced by one or more segments.
type Asset struct {
	ID        uuid.UUID `json:"id"`
	R2Key     string    `json:"r2_key"`
	AssetType string    `json:"asset_type"`
	SizeBytes int64     `json:"size_bytes"`
	Digest    *string   `json:"digest,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// SegmentAsset links a Segment to an Asset with an optional role.
type SegmentAsset struct {
	SegmentID uuid.UUID `json:"segment_id"`
	AssetID   uuid.UUID `json:"asset_id"`
	Role      *string   `json:"role,omitempty"`
}

// Beat is one structural story beat in a SegmentSummary.
type Beat struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

// KeyDialogueLine is one notable quote in a SegmentSummary.
type KeyDialogueLine struct {
	Speaker    string  `json:"speaker"`
	Text       string  `json:"text"`
	To         *string `json:"to,omitempty"`
	Importance *string `json:"importance,omitempty"`
}

// Tone captures the emotional register of a segment.
type Tone struct {
	Primary   string   `json:"primary"`
	Secondary []string `json:"secondary"`
	Intensity float64  `json:"intensity"`
}

// SegmentSummary is the one-row-per-segment narrative digest.
type SegmentSummary struct {
	SegmentID    uuid.UUID         `json:"segment_id"`
	Summary      string            `json:"summary"`
	SummaryShort string            `json:"summary_short"`
	Events       []string          `json:"events"`
	Beats        []Beat            `json:"beats"`
	KeyDialogue  []KeyDialogueLine `json:"key_dialogue"`
	Tone         Tone              `json:"tone"`
	ModelVersion string            `json:"model_version"`
}

// SegmentEntities is the one-row-per-segment entity extraction. Every
// field is an array; the model contract never permits null here after
// normalization (internal/schema coerces at the boundary).
type SegmentEntities struct {
	SegmentID     uuid.UUID `json:"segment_id"`
	Characters    []string  `json:"characters"`
	Locations     []string  `json:"locations"`
	Items         []string  `json:"items"`
	TimeRefs      []string  `json:"time_refs"`
	Organizations []string  `json:"organizations"`
	Factions      []string  `json:"factions"`
	TitlesRanks   []string  `json:"titles_ranks"`
	Skills        []string  `json:"skills"`
	Creatures     []string  `json:"creatures"`
	Concepts      []string  `json:"concepts"`
	Relationships []string  `json:"relationships"`
	Emotions      []string  `json:"emotions"`
	Keywords      []string  `json:"keywords"`
	ModelVersion  string    `json:"model_version"`
}

// CharacterFact is one dossier fact, stamped with the segment it was
// observed in.
type CharacterFact struct {
	Fact    string `json:"fact"`
	Chapter *int   `json:"chapter,omitempty"`
	Segment *int   `json:"segment,omitempty"`
	Source  string `json:"source,omitempty"`
}

// Character is one distinct person in a Work. Uniqueness is enforced
// by the catalogue on (work_id, lower(name)).
type Character struct {
	ID            uuid.UUID       `json:"id"`
	WorkID        uuid.UUID       `json:"work_id"`
	Name          string          `json:"name"`
	Aliases       []string        `json:"aliases"`
	CharacterFacts []CharacterFact `json:"character_facts"`
	Description   string          `json:"description"`
	ModelVersion  string          `json:"model_version"`
}

// JobInput is the PipelineJob.input document this worker reads/writes.
type JobInput struct {
	Task  string `json:"task"`
	Force bool   `json:"force"`
}

// PipelineJob is a unit of work claimed and finalized by the dispatch
// engine.
type PipelineJob struct {
	ID         uuid.UUID  `json:"id"`
	JobType    string     `json:"job_type"`
	SegmentID  uuid.UUID  `json:"segment_id"`
	EditionID  uuid.UUID  `json:"edition_id"`
	WorkID     uuid.UUID  `json:"work_id"`
	Input      JobInput   `json:"input"`
	Status     string     `json:"status"`
	Attempt    int        `json:"attempt"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Error      *string    `json:"error,omitempty"`
	Output     *OutputDoc `json:"output,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Stats carries the processing metrics.
type Stats struct {
	MediaType        MediaType `json:"media_type"`
	SegmentType      string    `json:"segment_type"`
	SegmentNumber    int       `json:"segment_number"`
	InputChars       int       `json:"input_chars"`
	InputTokensEst   int       `json:"input_tokens_est"`
	OutputChars      int       `json:"output_chars"`
	ModelLatencyMS   int64     `json:"model_latency_ms"`
	RetriesCount     int       `json:"retries_count"`
	RepairAttempted  bool      `json:"repair_attempted"`
	RepairSucceeded  bool      `json:"repair_succeeded"`
	PageCount        *int      `json:"page_count,omitempty"`
	ParagraphCount   *int      `json:"paragraph_count,omitempty"`
	SubtitleBlocks   *int      `json:"subtitle_blocks,omitempty"`
}

// CharacterStats summarizes what the merge engine did for one job.
type CharacterStats struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Skipped  int `json:"skipped"`
}

// OutputDoc is the terminal descriptor written to PipelineJob.output on
// success.
type OutputDoc struct {
	ModelVersion      string         `json:"model_version"`
	Stats             Stats          `json:"stats"`
	SummaryUpserted   bool           `json:"summary_upserted"`
	SummarySkipped    bool           `json:"summary_skipped"`
	EntitiesUpserted  bool           `json:"entities_upserted"`
	EntitiesSkipped   bool           `json:"entities_skipped"`
	Characters        CharacterStats `json:"characters"`
	Skipped           bool           `json:"skipped,omitempty"`
	Reason            string         `json:"reason,omitempty"`
}
