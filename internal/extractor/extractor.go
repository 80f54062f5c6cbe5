// Package extractor turns a segment's raw assets into the plain text
// the model prompt is built from, one strategy per media type. The
// three strategies are grounded on the source worker's
// text_extractors package (novel_html.py, subtitle_srt.py,
// manhwa_ocr.py), behind one Extractor interface and a Registry keyed
// by media type.
package extractor

import (
	"context"
	"fmt"

	"github.com/chapterbridge/nlp-pack-worker/internal/models"
)

// Asset is the minimal view an extractor needs of a raw asset: its
// blob key (to recover page ordering for manhwa) and its fetched
// bytes.
type Asset struct {
	R2Key   string
	Content []byte
}

// Extractor turns one segment's raw assets into clean text ready for
// prompting. Implementations must tolerate a partially malformed
// asset (e.g. one bad OCR JSON page) without failing the whole
// segment.
type Extractor interface {
	MediaType() models.MediaType
	Extract(ctx context.Context, assets []Asset) (string, error)
}

// Registry resolves the extractor for a segment's media type.
type Registry struct {
	byMedia map[models.MediaType]Extractor
}

// NewRegistry builds a registry from the given extractors, keyed by
// their own MediaType().
func NewRegistry(extractors ...Extractor) *Registry {
	r := &Registry{byMedia: make(map[models.MediaType]Extractor, len(extractors))}
	for _, e := range extractors {
		r.byMedia[e.MediaType()] = e
	}
	return r
}

// Default builds the registry with all three built-in extractors.
func Default() *Registry {
	return NewRegistry(NovelExtractor{}, SubtitleExtractor{}, ManhwaExtractor{})
}

// For returns the extractor registered for mediaType, or an error if
// none is registered — every media typethe registry knows about must resolve.
func (r *Registry) For(mediaType models.MediaType) (Extractor, error) {
	e, ok := r.byMedia[mediaType]
	if !ok {
		return nil, fmt.Errorf("no extractor registered for media type %q", mediaType)
	}
	return e, nil
}
