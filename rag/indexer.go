// Package rag implements the retrieval side: indexing content units
// into the vector store, similarity search, timestamp-window lookups
// and grounded answer generation.
package rag

import (
	"context"
	"fmt"
	"log"

	"videorag/ai"
	"videorag/core"
	"videorag/storage"
)

// Indexer writes embedded content units into the vector store.
type Indexer struct {
	Embedder ai.Embedder
	Store    storage.VectorStore
	Dim      int
}

// IndexVideo embeds and upserts the transcript and visual units of a
// video in one pass. Embedding failures degrade per batch to zero
// vectors instead of aborting, so the text still survives for
// timestamp lookups. Returns false when there was nothing to index.
func (ix *Indexer) IndexVideo(ctx context.Context, videoID string, units []core.ContentUnit) (bool, error) {
	var records []storage.Record
	byKind := map[core.ContentKind][]core.ContentUnit{}
	for _, u := range units {
		if u.Text == "" {
			continue
		}
		byKind[u.Kind] = append(byKind[u.Kind], u)
	}
	for _, kind := range []core.ContentKind{core.KindTranscript, core.KindVisual} {
		batch := byKind[kind]
		if len(batch) == 0 {
			continue
		}
		texts := make([]string, len(batch))
		for i, u := range batch {
			texts[i] = u.Text
		}
		vectors, err := ix.Embedder.EmbedTexts(ctx, texts)
		if err != nil || len(vectors) != len(batch) {
			log.Printf("Warning: embedding %s units for %s failed (%v), storing zero vectors", kind, videoID, err)
			vectors = make([][]float32, len(batch))
			for i := range vectors {
				vectors[i] = ai.ZeroVector(ix.Dim)
			}
		}
		for i, u := range batch {
			records = append(records, storage.Record{
				ID:       u.ID,
				Document: u.Text,
				Vector:   vectors[i],
				Meta: storage.Meta{
					VideoID:       videoID,
					Kind:          u.Kind,
					Start:         u.Start,
					End:           u.End,
					Timestamp:     u.Timestamp,
					FramePath:     u.FramePath,
					ThumbnailPath: u.ThumbnailPath,
				},
			})
		}
	}
	if len(records) == 0 {
		log.Printf("No content to index for video %s", videoID)
		return false, nil
	}
	if _, err := ix.Store.Upsert(ctx, records); err != nil {
		return false, fmt.Errorf("index video %s: %w", videoID, err)
	}
	log.Printf("Indexed %d content pieces for video %s", len(records), videoID)
	return true, nil
}

// DeleteVideo removes every indexed unit of the video.
func (ix *Indexer) DeleteVideo(ctx context.Context, videoID string) (int, error) {
	return ix.Store.Delete(ctx, storage.Filter{VideoID: videoID})
}

// VideoStats counts indexed units per kind for one video.
type VideoStats struct {
	VideoID           string `json:"video_id"`
	TranscriptChunks  int    `json:"transcript_chunks"`
	FrameDescriptions int    `json:"frame_descriptions"`
	TotalContent      int    `json:"total_content"`
}

func (ix *Indexer) Stats(ctx context.Context, videoID string) (VideoStats, error) {
	t, err := ix.Store.Count(ctx, storage.Filter{VideoID: videoID, Kinds: []core.ContentKind{core.KindTranscript}})
	if err != nil {
		return VideoStats{}, err
	}
	v, err := ix.Store.Count(ctx, storage.Filter{VideoID: videoID, Kinds: []core.ContentKind{core.KindVisual}})
	if err != nil {
		return VideoStats{}, err
	}
	return VideoStats{VideoID: videoID, TranscriptChunks: t, FrameDescriptions: v, TotalContent: t + v}, nil
}

// AvailableVideos lists the ids that have any indexed content.
func (ix *Indexer) AvailableVideos(ctx context.Context) ([]string, error) {
	return ix.Store.VideoIDs(ctx)
}
