// Package blobkey builds the deterministic blob-store key convention
// derived assets live under, grounded on the source worker's
// key_builder.py.
package blobkey

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/chapterbridge/nlp-pack-worker/internal/models"
)

// CleanedText returns the derived key for a segment's cleaned source
// text: derived/{media_type}/{work_id}/{edition_id}/{segment_type}-{NNNN}/cleaned.txt
func CleanedText(mediaType models.MediaType, workID, editionID uuid.UUID, segmentType string, segmentNumber int) string {
	return fmt.Sprintf("derived/%s/%s/%s/%s-%04d/cleaned.txt", mediaType, workID, editionID, segmentType, segmentNumber)
}

// CleanedTextForSegment is a convenience wrapper taking the joined
// segment+edition row the processor already has in hand.
func CleanedTextForSegment(seg *models.SegmentWithEdition) string {
	return CleanedText(seg.MediaType, seg.WorkID, seg.EditionID, seg.SegmentType, seg.Number)
}
