package rag

import (
	"context"
	"sort"
	"strings"

	"videorag/ai"
	"videorag/core"
	"videorag/storage"
)

// Retriever answers similarity and timestamp-window lookups against
// the vector store.
type Retriever struct {
	Embedder ai.Embedder
	Store    storage.VectorStore
}

// Search embeds the query and returns matches as scored results,
// highest score first. Score is 1 minus cosine distance, floored at
// zero so far-away matches never go negative.
func (r *Retriever) Search(ctx context.Context, query string, f storage.Filter, topK int) ([]core.SearchResult, error) {
	vectors, err := r.Embedder.EmbedTexts(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	matches, err := r.Store.Query(ctx, vectors[0], topK, f)
	if err != nil {
		return nil, err
	}
	results := make([]core.SearchResult, 0, len(matches))
	for _, m := range matches {
		results = append(results, toSearchResult(m))
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results, nil
}

func toSearchResult(m storage.Match) core.SearchResult {
	ts := m.Meta.Timestamp
	if ts == 0 && m.Meta.Kind == core.KindTranscript {
		ts = m.Meta.Start
	}
	return core.SearchResult{
		ID:        m.ID,
		Content:   m.Document,
		Score:     Score(m.Distance),
		Timestamp: ts,
		VideoID:   m.Meta.VideoID,
		Kind:      m.Meta.Kind,
		Metadata: map[string]string{
			"frame_path":     m.Meta.FramePath,
			"thumbnail_path": m.Meta.ThumbnailPath,
		},
	}
}

// Score converts a cosine distance into a relevance score in [0,1].
func Score(distance float64) float64 {
	s := 1 - distance
	if s < 0 {
		return 0
	}
	return s
}

// ContentAround returns the transcript and visual units inside the
// window around ts, both sorted ascending in time. Transcript units
// must lie fully inside the window; visual units match on their own
// timestamp.
func (r *Retriever) ContentAround(ctx context.Context, videoID string, ts, window float64) ([]core.ContentUnit, []core.ContentUnit, error) {
	lo := ts - window
	if lo < 0 {
		lo = 0
	}
	hi := ts + window
	records, err := r.Store.Fetch(ctx, storage.Filter{VideoID: videoID})
	if err != nil {
		return nil, nil, err
	}
	var transcripts, visuals []core.ContentUnit
	for _, rec := range records {
		switch rec.Meta.Kind {
		case core.KindTranscript:
			if rec.Meta.Start >= lo && rec.Meta.End <= hi {
				transcripts = append(transcripts, recordToUnit(rec))
			}
		case core.KindVisual:
			if rec.Meta.Timestamp >= lo && rec.Meta.Timestamp <= hi {
				visuals = append(visuals, recordToUnit(rec))
			}
		}
	}
	sort.Slice(transcripts, func(i, j int) bool { return transcripts[i].Start < transcripts[j].Start })
	sort.Slice(visuals, func(i, j int) bool { return visuals[i].Timestamp < visuals[j].Timestamp })
	return transcripts, visuals, nil
}

func recordToUnit(rec storage.Record) core.ContentUnit {
	return core.ContentUnit{
		ID:            rec.ID,
		VideoID:       rec.Meta.VideoID,
		Kind:          rec.Meta.Kind,
		Text:          rec.Document,
		Start:         rec.Meta.Start,
		End:           rec.Meta.End,
		Timestamp:     rec.Meta.Timestamp,
		FramePath:     rec.Meta.FramePath,
		ThumbnailPath: rec.Meta.ThumbnailPath,
	}
}

// ResolveVideoID matches a requested id against the indexed videos,
// tolerating the youtube_ prefix in either direction.
func (r *Retriever) ResolveVideoID(ctx context.Context, videoID string) (string, []string, error) {
	available, err := r.Store.VideoIDs(ctx)
	if err != nil {
		return "", nil, err
	}
	known := map[string]bool{}
	for _, id := range available {
		known[id] = true
	}
	if known[videoID] {
		return videoID, available, nil
	}
	if known["youtube_"+videoID] {
		return "youtube_" + videoID, available, nil
	}
	if stripped, ok := strings.CutPrefix(videoID, "youtube_"); ok && known[stripped] {
		return stripped, available, nil
	}
	return "", available, core.NotFound("video", videoID)
}
