package pipeline

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"videorag/ai"
	"videorag/captions"
	"videorag/config"
	"videorag/core"
	"videorag/media"
	"videorag/rag"
	"videorag/storage"
)

type fakeDecoder struct {
	info     media.Info
	probeErr error
}

func (f *fakeDecoder) Probe(context.Context, string) (media.Info, error) {
	return f.info, f.probeErr
}

func (f *fakeDecoder) ExtractFrame(_ context.Context, _ string, _ float64, outPath string, _ string) error {
	return os.WriteFile(outPath, []byte("jpg"), 0o644)
}

type fakeCaptions struct {
	entries []captions.Entry
	err     error
}

func (f *fakeCaptions) Fetch(context.Context, string) ([]captions.Entry, error) {
	return f.entries, f.err
}

type recordingSink struct {
	mu     sync.Mutex
	states []core.ProcessingState
}

func (s *recordingSink) Publish(state core.ProcessingState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, state)
}

func (s *recordingSink) all() []core.ProcessingState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.ProcessingState{}, s.states...)
}

func bytesReader(s string) io.Reader { return strings.NewReader(s) }

func testCfg(t *testing.T) *config.Config {
	dir := t.TempDir()
	return &config.Config{
		EmbeddingDim:          16,
		StorageDir:            filepath.Join(dir, "storage"),
		UploadDir:             filepath.Join(dir, "uploads"),
		TempDir:               filepath.Join(dir, "temp"),
		FrameBudget:           4,
		FrameSampleRate:       0.05,
		FrameBatchSize:        3,
		PseudoTranscriptTail:  5,
		TimestampTolerance:    30,
		VisualRelevanceCutoff: 0.3,
		MaxContextTranscripts: 5,
		MaxContextFrames:      3,
		MaxHistoryTurns:       5,
		LowConfidence:         0.2,
		HighConfidence:        0.8,
	}
}

func newTestPipeline(t *testing.T, cfg *config.Config, caps CaptionSource, dec media.Decoder) (*Pipeline, *storage.VideoStore, *storage.Memory, *recordingSink) {
	videos := storage.NewVideoStore(cfg.StorageDir)
	store := storage.NewMemory()
	mock := ai.NewMock(cfg.EmbeddingDim)
	sink := &recordingSink{}
	p := New(cfg, mock, caps,
		&media.Extractor{Decoder: dec, StorageDir: cfg.StorageDir},
		videos,
		&rag.Indexer{Embedder: mock, Store: store, Dim: cfg.EmbeddingDim},
		sink)
	return p, videos, store, sink
}

func writeVideoFile(t *testing.T, cfg *config.Config, name string) string {
	if err := os.MkdirAll(cfg.StorageDir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(cfg.StorageDir, name)
	if err := os.WriteFile(path, []byte("video"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestPseudoTranscriptChaining(t *testing.T) {
	frames := []core.Frame{
		{Timestamp: 0, Description: "opening scene"},
		{Timestamp: 10, Description: "a dialogue"},
		{Timestamp: 25, Description: "closing scene"},
	}
	units := PseudoTranscript("v1", frames, 5)
	if len(units) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(units))
	}
	for i := 0; i < len(units)-1; i++ {
		if units[i].End != units[i+1].Start {
			t.Fatalf("chunk %d end %f != chunk %d start %f", i, units[i].End, i+1, units[i+1].Start)
		}
	}
	last := units[len(units)-1]
	if last.End != last.Start+5 {
		t.Fatalf("last chunk end %f, want start+5", last.End)
	}
	for _, u := range units {
		if u.Text[:8] != "Visual: " {
			t.Fatalf("missing prefix: %q", u.Text)
		}
	}
}

func TestPseudoTranscriptSkipsUndescribed(t *testing.T) {
	frames := []core.Frame{
		{Timestamp: 0, Description: "described"},
		{Timestamp: 10},
		{Timestamp: 20, Description: "also described"},
	}
	units := PseudoTranscript("v1", frames, 5)
	if len(units) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(units))
	}
	// Undescribed frame drops out entirely; chunks chain across it.
	if units[0].End != 20 {
		t.Fatalf("first chunk end %f, want 20", units[0].End)
	}
}

func TestChaptersFromTranscript(t *testing.T) {
	long := ""
	for i := 0; i < 30; i++ {
		long += "lengthy "
	}
	transcript := []core.ContentUnit{
		core.TranscriptUnit("v1", 0, "short intro", 0, 10),
		core.TranscriptUnit("v1", 1, long, 10, 20),
		core.TranscriptUnit("v1", 2, "third part", 20, 30),
		core.TranscriptUnit("v1", 3, "never a chapter", 30, 40),
	}
	chapters := Chapters(transcript)
	if len(chapters) != 3 {
		t.Fatalf("expected 3 chapters, got %d", len(chapters))
	}
	if chapters[0].Title != "Section 1" || chapters[2].Title != "Section 3" {
		t.Fatalf("titles: %q, %q", chapters[0].Title, chapters[2].Title)
	}
	if chapters[0].Description != "short intro" {
		t.Fatalf("short description must be untouched: %q", chapters[0].Description)
	}
	if len(chapters[1].Description) != 103 {
		t.Fatalf("long description not clipped: %d bytes", len(chapters[1].Description))
	}
	if chapters[1].Description[100:] != "..." {
		t.Fatal("clipped description must end in ellipsis")
	}
}

func TestChaptersDefault(t *testing.T) {
	chapters := Chapters(nil)
	if len(chapters) != 3 {
		t.Fatalf("expected 3 default chapters, got %d", len(chapters))
	}
	for i, c := range chapters {
		if c.Start != float64(i)*120 || c.End != float64(i+1)*120 {
			t.Fatalf("chapter %d bounds: %f-%f", i, c.Start, c.End)
		}
	}
}

func TestRunTranscriptOnlyVideo(t *testing.T) {
	cfg := testCfg(t)
	caps := &fakeCaptions{entries: []captions.Entry{
		{Text: "hello from captions", Start: 0, Duration: 4},
		{Text: "more captions", Start: 4, Duration: 4},
	}}
	p, videos, store, sink := newTestPipeline(t, cfg, caps, &fakeDecoder{})

	rec := &core.VideoRecord{ID: "youtube_abc12345678", Title: "t", SourceURL: "https://youtu.be/abc12345678", Status: core.StatusTranscriptOnly}
	if err := videos.Save(rec); err != nil {
		t.Fatal(err)
	}
	if err := p.Run(context.Background(), rec.ID); err != nil {
		t.Fatal(err)
	}

	n, _ := store.Count(context.Background(), storage.Filter{VideoID: rec.ID, Kinds: []core.ContentKind{core.KindTranscript}})
	if n != 2 {
		t.Fatalf("transcript units indexed = %d, want 2", n)
	}
	n, _ = store.Count(context.Background(), storage.Filter{VideoID: rec.ID, Kinds: []core.ContentKind{core.KindVisual}})
	if n != 0 {
		t.Fatalf("visual units indexed for transcript-only video: %d", n)
	}

	loaded, _ := videos.Load(rec.ID)
	if loaded.Status != core.StatusCompleted {
		t.Fatalf("status = %s, want completed", loaded.Status)
	}
	if loaded.Summary == "" {
		t.Fatal("summary not stored")
	}

	states := sink.all()
	if len(states) == 0 {
		t.Fatal("no progress published")
	}
	last := states[len(states)-1]
	if last.Status != string(core.StatusCompleted) || last.Progress != 1.0 {
		t.Fatalf("final state: %+v", last)
	}
	// Progress never decreases until the terminal state.
	for i := 1; i < len(states); i++ {
		if states[i].Progress < states[i-1].Progress {
			t.Fatalf("progress regressed at %d: %+v", i, states)
		}
	}
}

func TestRunUploadedVideoIndexesVisualContent(t *testing.T) {
	cfg := testCfg(t)
	// 60s at 1 fps keeps the grid at 3 frames (60*0.05 = 3).
	dec := &fakeDecoder{info: media.Info{Duration: 60, FPS: 1}}
	p, videos, store, sink := newTestPipeline(t, cfg, nil, dec)

	path := writeVideoFile(t, cfg, "in.mp4")
	rec := &core.VideoRecord{ID: "vid1", Title: "t", FilePath: path, Status: core.StatusUploaded, Duration: 60}
	videos.Save(rec)

	if err := p.Run(context.Background(), "vid1"); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	visual, _ := store.Count(ctx, storage.Filter{VideoID: "vid1", Kinds: []core.ContentKind{core.KindVisual}})
	if visual != 3 {
		t.Fatalf("visual units = %d, want 3", visual)
	}
	// No captions: every frame becomes a pseudo-transcript chunk too.
	transcript, _ := store.Count(ctx, storage.Filter{VideoID: "vid1", Kinds: []core.ContentKind{core.KindTranscript}})
	if transcript != 3 {
		t.Fatalf("pseudo-transcript units = %d, want 3", transcript)
	}

	loaded, _ := videos.Load("vid1")
	if loaded.ThumbnailPath == "" {
		t.Fatal("thumbnail not recorded")
	}
	if _, err := os.Stat(loaded.ThumbnailPath); err != nil {
		t.Fatalf("thumbnail file missing: %v", err)
	}

	var sawNote bool
	for _, s := range sink.all() {
		if s.Note != "" {
			sawNote = true
		}
	}
	if !sawNote {
		t.Fatal("missing transcript note was not published")
	}
}

func TestRunFailurePublishesFailedState(t *testing.T) {
	cfg := testCfg(t)
	dec := &fakeDecoder{probeErr: errors.New("corrupt container")}
	p, videos, _, sink := newTestPipeline(t, cfg, nil, dec)

	path := writeVideoFile(t, cfg, "bad.mp4")
	videos.Save(&core.VideoRecord{ID: "vid1", Title: "t", FilePath: path, Status: core.StatusUploaded})

	err := p.Run(context.Background(), "vid1")
	if err == nil {
		t.Fatal("expected failure")
	}
	var perr *core.PipelineError
	if !errors.As(err, &perr) {
		t.Fatalf("expected pipeline error, got %T", err)
	}

	loaded, _ := videos.Load("vid1")
	if loaded.Status != core.StatusFailed || loaded.Error == "" {
		t.Fatalf("metadata after failure: %+v", loaded)
	}

	states := sink.all()
	last := states[len(states)-1]
	if last.Status != string(core.StatusFailed) || last.Progress != 0 {
		t.Fatalf("final state: %+v", last)
	}
}

func TestRunRejectsDuplicate(t *testing.T) {
	cfg := testCfg(t)
	p, videos, _, _ := newTestPipeline(t, cfg, &fakeCaptions{}, &fakeDecoder{})
	videos.Save(&core.VideoRecord{ID: "vid1", Title: "t", Status: core.StatusTranscriptOnly, SourceURL: "https://youtu.be/abc12345678"})

	p.mu.Lock()
	p.inflight["vid1"] = true
	p.mu.Unlock()

	err := p.Run(context.Background(), "vid1")
	if !core.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRunMissingVideo(t *testing.T) {
	cfg := testCfg(t)
	p, _, _, _ := newTestPipeline(t, cfg, nil, &fakeDecoder{})
	if err := p.Run(context.Background(), "ghost"); !core.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestTrackerFallback(t *testing.T) {
	cfg := testCfg(t)
	videos := storage.NewVideoStore(cfg.StorageDir)
	tracker := NewStatusTracker(videos)

	videos.Save(&core.VideoRecord{ID: "done", Status: core.StatusCompleted})
	videos.Save(&core.VideoRecord{ID: "busy", Status: core.StatusProcessing})

	state, err := tracker.Get("done")
	if err != nil {
		t.Fatal(err)
	}
	if state.Status != string(core.StatusCompleted) || state.Progress != 1.0 {
		t.Fatalf("completed fallback: %+v", state)
	}

	state, _ = tracker.Get("busy")
	if state.Status != string(core.StatusProcessing) || state.Progress != 0.5 {
		t.Fatalf("processing fallback: %+v", state)
	}

	if _, err := tracker.Get("ghost"); !core.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}

	// Live state wins over fallback.
	tracker.Set(core.ProcessingState{VideoID: "done", Status: "processing", Progress: 0.3})
	state, _ = tracker.Get("done")
	if state.Progress != 0.3 {
		t.Fatalf("live state not returned: %+v", state)
	}
}

func TestIntakeRemote(t *testing.T) {
	cfg := testCfg(t)
	in := &Intake{Cfg: cfg, Videos: storage.NewVideoStore(cfg.StorageDir), Decoder: &fakeDecoder{}}

	rec, err := in.IngestRemote(context.Background(), "https://www.youtube.com/watch?v=dQw4w9WgXcQ", "")
	if err != nil {
		t.Fatal(err)
	}
	if rec.ID != "youtube_dQw4w9WgXcQ" {
		t.Fatalf("id = %s", rec.ID)
	}
	if rec.Status != core.StatusTranscriptOnly {
		t.Fatalf("status = %s", rec.Status)
	}

	rec, err = in.IngestRemote(context.Background(), "https://youtu.be/dQw4w9WgXcQ", "titled")
	if err != nil {
		t.Fatal(err)
	}
	if rec.ID != "youtube_dQw4w9WgXcQ" || rec.Title != "titled" {
		t.Fatalf("short url: %+v", rec)
	}

	for _, u := range []string{
		"https://www.youtube.com/embed/dQw4w9WgXcQ",
		"https://www.youtube.com/shorts/dQw4w9WgXcQ",
		"https://m.youtube.com/watch?v=dQw4w9WgXcQ",
	} {
		rec, err = in.IngestRemote(context.Background(), u, "")
		if err != nil {
			t.Fatalf("%s: %v", u, err)
		}
		if rec.ID != "youtube_dQw4w9WgXcQ" {
			t.Fatalf("%s: id = %s", u, rec.ID)
		}
	}

	for _, u := range []string{
		"https://example.com/nothing-here",
		"https://example.com/dQw4w9WgXcQ",
		"https://example.com/watch?v=dQw4w9WgXcQ",
		"https://www.youtube.com/watch?v=tooshort",
		"https://youtu.be/",
		"not a url",
	} {
		if _, err := in.IngestRemote(context.Background(), u, ""); !core.IsValidation(err) {
			t.Fatalf("%s: expected validation error, got %v", u, err)
		}
	}
}

func TestIntakeUpload(t *testing.T) {
	cfg := testCfg(t)
	videos := storage.NewVideoStore(cfg.StorageDir)
	in := &Intake{Cfg: cfg, Videos: videos, Decoder: &fakeDecoder{info: media.Info{Duration: 42, FPS: 30}}}

	rec, err := in.IngestUpload(context.Background(), "clip.mp4", "", bytesReader("data"))
	if err != nil {
		t.Fatal(err)
	}
	if rec.Title != "clip.mp4" || rec.Duration != 42 || rec.Status != core.StatusUploaded {
		t.Fatalf("record: %+v", rec)
	}
	if _, err := os.Stat(rec.FilePath); err != nil {
		t.Fatalf("stored file missing: %v", err)
	}
	if _, err := videos.Load(rec.ID); err != nil {
		t.Fatalf("metadata missing: %v", err)
	}

	bad := &Intake{Cfg: cfg, Videos: videos, Decoder: &fakeDecoder{probeErr: errors.New("not a video")}}
	if _, err := bad.IngestUpload(context.Background(), "junk.bin", "", bytesReader("junk")); !core.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
