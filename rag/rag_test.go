package rag

import (
	"context"
	"errors"
	"math"
	"testing"

	"videorag/ai"
	"videorag/config"
	"videorag/core"
	"videorag/storage"
)

func testConfig() *config.Config {
	return &config.Config{
		EmbeddingDim:          16,
		TimestampTolerance:    30,
		VisualRelevanceCutoff: 0.3,
		MaxContextTranscripts: 5,
		MaxContextFrames:      3,
		MaxHistoryTurns:       5,
		LowConfidence:         0.2,
		HighConfidence:        0.8,
	}
}

type failingEmbedder struct{}

func (failingEmbedder) EmbedTexts(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("embedding down")
}

func newTestIndexer() (*Indexer, *storage.Memory) {
	store := storage.NewMemory()
	return &Indexer{Embedder: ai.NewMock(16), Store: store, Dim: 16}, store
}

func TestScoreConversion(t *testing.T) {
	cases := []struct{ distance, want float64 }{
		{0, 1},
		{0.5, 0.5},
		{1, 0},
		{1.5, 0},
	}
	for _, c := range cases {
		if got := Score(c.distance); math.Abs(got-c.want) > 1e-9 {
			t.Errorf("Score(%f) = %f, want %f", c.distance, got, c.want)
		}
	}
}

func TestIndexVideoEmptyReturnsFalse(t *testing.T) {
	ix, _ := newTestIndexer()
	indexed, err := ix.IndexVideo(context.Background(), "v1", nil)
	if err != nil {
		t.Fatal(err)
	}
	if indexed {
		t.Fatal("empty content must not report indexed")
	}
}

func TestIndexVideoAndStats(t *testing.T) {
	ctx := context.Background()
	ix, _ := newTestIndexer()
	units := []core.ContentUnit{
		core.TranscriptUnit("v1", 0, "hello there", 0, 5),
		core.TranscriptUnit("v1", 1, "general conversation", 5, 10),
		core.VisualUnit("v1", 0, "a person waving", 2, "f.jpg", "t.jpg"),
	}
	indexed, err := ix.IndexVideo(ctx, "v1", units)
	if err != nil {
		t.Fatal(err)
	}
	if !indexed {
		t.Fatal("expected content to be indexed")
	}
	stats, err := ix.Stats(ctx, "v1")
	if err != nil {
		t.Fatal(err)
	}
	if stats.TranscriptChunks != 2 || stats.FrameDescriptions != 1 || stats.TotalContent != 3 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestIndexVideoDegradesToZeroVectors(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	ix := &Indexer{Embedder: failingEmbedder{}, Store: store, Dim: 16}
	indexed, err := ix.IndexVideo(ctx, "v1", []core.ContentUnit{
		core.TranscriptUnit("v1", 0, "still stored", 0, 5),
	})
	if err != nil {
		t.Fatal(err)
	}
	if !indexed {
		t.Fatal("degraded embedding must still index")
	}
	recs, _ := store.Fetch(ctx, storage.Filter{VideoID: "v1"})
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	for _, v := range recs[0].Vector {
		if v != 0 {
			t.Fatal("expected zero vector after embedding failure")
		}
	}
}

func TestDeleteVideoScopesToVideo(t *testing.T) {
	ctx := context.Background()
	ix, store := newTestIndexer()
	ix.IndexVideo(ctx, "v1", []core.ContentUnit{
		core.TranscriptUnit("v1", 0, "first", 0, 5),
		core.TranscriptUnit("v1", 1, "second", 5, 10),
		core.VisualUnit("v1", 0, "a scene", 2, "", ""),
	})
	ix.IndexVideo(ctx, "v2", []core.ContentUnit{
		core.TranscriptUnit("v2", 0, "other video", 0, 5),
	})

	deleted, err := ix.DeleteVideo(ctx, "v1")
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 3 {
		t.Fatalf("deleted = %d, want 3", deleted)
	}
	n, _ := store.Count(ctx, storage.Filter{VideoID: "v1"})
	if n != 0 {
		t.Fatalf("count after delete = %d", n)
	}
	n, _ = store.Count(ctx, storage.Filter{VideoID: "v2"})
	if n != 1 {
		t.Fatalf("other video lost records: %d", n)
	}
}

func TestSearchRanksByRelevance(t *testing.T) {
	ctx := context.Background()
	ix, store := newTestIndexer()
	ix.IndexVideo(ctx, "v1", []core.ContentUnit{
		core.TranscriptUnit("v1", 0, "hello hello hello", 0, 5),
		core.TranscriptUnit("v1", 1, "world world world", 5, 10),
	})
	r := &Retriever{Embedder: ai.NewMock(16), Store: store}
	results, err := r.Search(ctx, "hello", storage.Filter{VideoID: "v1"}, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Content != "hello hello hello" {
		t.Fatalf("wrong ranking: %q first", results[0].Content)
	}
	if results[0].Score <= results[1].Score {
		t.Fatalf("scores not descending: %f, %f", results[0].Score, results[1].Score)
	}
}

func TestContentAroundWindow(t *testing.T) {
	ctx := context.Background()
	ix, store := newTestIndexer()
	ix.IndexVideo(ctx, "v1", []core.ContentUnit{
		core.TranscriptUnit("v1", 0, "inside", 50, 70),
		core.TranscriptUnit("v1", 1, "straddles the edge", 80, 100),
		core.TranscriptUnit("v1", 2, "far away", 500, 520),
		core.VisualUnit("v1", 0, "frame inside", 60, "", ""),
		core.VisualUnit("v1", 1, "frame outside", 200, "", ""),
	})
	r := &Retriever{Embedder: ai.NewMock(16), Store: store}
	transcripts, visuals, err := r.ContentAround(ctx, "v1", 60, 30)
	if err != nil {
		t.Fatal(err)
	}
	// Window is [30, 90]; the chunk ending at 100 is not fully inside.
	if len(transcripts) != 1 || transcripts[0].Text != "inside" {
		t.Fatalf("transcripts: %+v", transcripts)
	}
	if len(visuals) != 1 || visuals[0].Text != "frame inside" {
		t.Fatalf("visuals: %+v", visuals)
	}
}

func TestResolveVideoID(t *testing.T) {
	ctx := context.Background()
	ix, store := newTestIndexer()
	ix.IndexVideo(ctx, "youtube_abc12345678", []core.ContentUnit{
		core.TranscriptUnit("youtube_abc12345678", 0, "content", 0, 5),
	})
	ix.IndexVideo(ctx, "plain", []core.ContentUnit{
		core.TranscriptUnit("plain", 0, "content", 0, 5),
	})
	r := &Retriever{Embedder: ai.NewMock(16), Store: store}

	cases := []struct{ in, want string }{
		{"plain", "plain"},
		{"youtube_abc12345678", "youtube_abc12345678"},
		{"abc12345678", "youtube_abc12345678"},
		{"youtube_plain", "plain"},
	}
	for _, c := range cases {
		got, _, err := r.ResolveVideoID(ctx, c.in)
		if err != nil {
			t.Errorf("ResolveVideoID(%q): %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("ResolveVideoID(%q) = %q, want %q", c.in, got, c.want)
		}
	}

	if _, available, err := r.ResolveVideoID(ctx, "missing"); !core.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	} else if len(available) != 2 {
		t.Fatalf("available videos = %v", available)
	}
}

func TestExtractTimestamps(t *testing.T) {
	candidates := []float64{0, 5, 40}

	got := ExtractTimestamps("See [00:05] for details.", candidates, 30)
	if len(got) != 1 || got[0] != 5 {
		t.Fatalf("expected [5], got %v", got)
	}

	// 300s is more than 30s from every candidate.
	got = ExtractTimestamps("At [05:00] nothing matches.", candidates, 30)
	if len(got) != 0 {
		t.Fatalf("expected no snaps, got %v", got)
	}

	// Duplicate references collapse; output is ascending.
	got = ExtractTimestamps("[00:41] then [00:04] then [00:39]", candidates, 30)
	if len(got) != 2 || got[0] != 5 || got[1] != 40 {
		t.Fatalf("expected [5 40], got %v", got)
	}

	if got = ExtractTimestamps("[00:10]", nil, 30); len(got) != 0 {
		t.Fatalf("no candidates must yield empty, got %v", got)
	}
}

func TestAnswerEmptyContextApologizes(t *testing.T) {
	ctx := context.Background()
	_, store := newTestIndexer()
	a := &Answerer{
		Retriever: &Retriever{Embedder: ai.NewMock(16), Store: store},
		Generator: ai.NewMock(16),
		Cfg:       testConfig(),
	}
	res, err := a.Answer(ctx, "v1", "what happens?", nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Confidence != 0.2 {
		t.Fatalf("confidence = %f, want low", res.Confidence)
	}
	if res.Answer == "" || len(res.Sources) != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestAnswerWithContext(t *testing.T) {
	ctx := context.Background()
	ix, store := newTestIndexer()
	ix.IndexVideo(ctx, "v1", []core.ContentUnit{
		core.TranscriptUnit("v1", 0, "the speaker greets the audience", 0, 5),
	})
	a := &Answerer{
		Retriever: &Retriever{Embedder: ai.NewMock(16), Store: store},
		Generator: ai.NewMock(16),
		Cfg:       testConfig(),
	}
	res, err := a.Answer(ctx, "v1", "greets", []core.ChatMessage{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatal(err)
	}
	if res.Confidence != 0.8 {
		t.Fatalf("confidence = %f, want high", res.Confidence)
	}
	if len(res.Sources) != 1 {
		t.Fatalf("sources = %+v", res.Sources)
	}
}

func TestAnswerKeepsTranscriptDespiteStrongVisuals(t *testing.T) {
	ctx := context.Background()
	ix, store := newTestIndexer()
	var units []core.ContentUnit
	// Visual matches score higher than the transcript for this query.
	for i := 0; i < 8; i++ {
		units = append(units, core.VisualUnit("v1", i, "crowd", float64(i*10), "", ""))
	}
	units = append(units, core.TranscriptUnit("v1", 0, "crowd cheering loudly today", 0, 5))
	ix.IndexVideo(ctx, "v1", units)
	a := &Answerer{
		Retriever: &Retriever{Embedder: ai.NewMock(16), Store: store},
		Generator: ai.NewMock(16),
		Cfg:       testConfig(),
	}
	res, err := a.Answer(ctx, "v1", "crowd", nil)
	if err != nil {
		t.Fatal(err)
	}
	var transcripts, visuals int
	for _, s := range res.Sources {
		switch s.Kind {
		case core.KindTranscript:
			transcripts++
		case core.KindVisual:
			visuals++
		}
	}
	if transcripts != 1 {
		t.Fatalf("transcript source missing: %+v", res.Sources)
	}
	if visuals > 3 {
		t.Fatalf("visual sources not capped: %d", visuals)
	}
}

func TestAnswerCapsContext(t *testing.T) {
	ctx := context.Background()
	ix, store := newTestIndexer()
	var units []core.ContentUnit
	for i := 0; i < 10; i++ {
		units = append(units, core.TranscriptUnit("v1", i, "repeated topic sentence", float64(i*10), float64(i*10+5)))
	}
	ix.IndexVideo(ctx, "v1", units)
	a := &Answerer{
		Retriever: &Retriever{Embedder: ai.NewMock(16), Store: store},
		Generator: ai.NewMock(16),
		Cfg:       testConfig(),
	}
	res, err := a.Answer(ctx, "v1", "topic", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Sources) > 5 {
		t.Fatalf("context not capped: %d sources", len(res.Sources))
	}
}
