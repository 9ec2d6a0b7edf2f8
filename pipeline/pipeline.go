// Package pipeline drives a video from registration to indexed,
// searchable content: frame sampling and description, caption
// fetching, pseudo-transcript fallback, chapters, indexing, summary
// and thumbnail. Progress is published to the status tracker and any
// other configured sinks at fixed checkpoints.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"videorag/ai"
	"videorag/captions"
	"videorag/config"
	"videorag/core"
	"videorag/media"
	"videorag/metrics"
	"videorag/rag"
	"videorag/storage"
)

// CaptionSource fetches the best caption track for a video; the
// captions.Chain is the production implementation.
type CaptionSource interface {
	Fetch(ctx context.Context, videoID string) ([]captions.Entry, error)
}

type Pipeline struct {
	Cfg       *config.Config
	AI        ai.Client
	Captions  CaptionSource
	Extractor *media.Extractor
	Videos    *storage.VideoStore
	Indexer   *rag.Indexer
	Sink      ProgressSink

	mu       sync.Mutex
	inflight map[string]bool
}

func New(cfg *config.Config, aiClient ai.Client, caps CaptionSource, ext *media.Extractor,
	videos *storage.VideoStore, indexer *rag.Indexer, sink ProgressSink) *Pipeline {
	return &Pipeline{
		Cfg:       cfg,
		AI:        aiClient,
		Captions:  caps,
		Extractor: ext,
		Videos:    videos,
		Indexer:   indexer,
		Sink:      sink,
		inflight:  map[string]bool{},
	}
}

// Run processes one video end to end. A second Run for the same video
// while the first is still going is rejected.
func (p *Pipeline) Run(ctx context.Context, videoID string) error {
	p.mu.Lock()
	if p.inflight[videoID] {
		p.mu.Unlock()
		return core.Validationf("video %s is already being processed", videoID)
	}
	p.inflight[videoID] = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.inflight, videoID)
		p.mu.Unlock()
	}()

	rec, err := p.Videos.Load(videoID)
	if err != nil {
		return err
	}

	if err := p.process(ctx, rec); err != nil {
		log.Printf("Error processing video %s: %v", videoID, err)
		p.report(videoID, string(core.StatusFailed), 0.0, fmt.Sprintf("Processing failed: %v", err), "")
		if serr := p.Videos.SetStatus(videoID, core.StatusFailed, err.Error()); serr != nil {
			log.Printf("Error updating metadata for %s: %v", videoID, serr)
		}
		metrics.PipelineRuns.WithLabelValues(string(core.StatusFailed)).Inc()
		return &core.PipelineError{VideoID: videoID, Stage: stageOf(err), Err: err}
	}
	metrics.PipelineRuns.WithLabelValues(string(core.StatusCompleted)).Inc()
	return nil
}

func (p *Pipeline) process(ctx context.Context, rec *core.VideoRecord) error {
	videoID := rec.ID
	p.report(videoID, string(core.StatusProcessing), 0.1, "Starting video processing...", "")

	// Frame extraction and description.
	var frames []core.Frame
	transcriptOnly := rec.Status == core.StatusTranscriptOnly || rec.FilePath == ""
	if transcriptOnly {
		p.report(videoID, string(core.StatusProcessing), 0.3, "Processing transcript-only video...", "")
	} else {
		extracted, err := p.stageFrames(ctx, rec)
		if err != nil {
			return stageErr("frames", err)
		}
		p.report(videoID, string(core.StatusProcessing), 0.3, "Frames extracted, analyzing content...", "")
		frames, err = p.stageDescribe(ctx, videoID, extracted)
		if err != nil {
			return stageErr("describe", err)
		}
	}

	// Captions.
	p.report(videoID, string(core.StatusProcessing), 0.6, "Extracting transcript...", "")
	var transcript []core.ContentUnit
	if rec.SourceURL != "" && p.Captions != nil {
		entries, err := p.stageCaptions(ctx, videoID)
		if err != nil {
			return stageErr("captions", err)
		}
		transcript = captions.Normalize(videoID, entries)
	}

	// Pseudo-transcript from frame descriptions when captions came up
	// empty.
	p.report(videoID, string(core.StatusProcessing), 0.7, "Processing video content...", "")
	hadTranscript := len(transcript) > 0
	if !hadTranscript && len(frames) > 0 {
		transcript = PseudoTranscript(videoID, frames, p.Cfg.PseudoTranscriptTail)
		log.Printf("Generated pseudo-transcript with %d chunks from visual content", len(transcript))
	}

	// Chapters.
	p.report(videoID, string(core.StatusProcessing), 0.8, "Generating chapters...", "")
	chapters := Chapters(transcript)
	if dir, err := p.Videos.VideoDir(videoID); err == nil {
		if err := core.SaveJSON(filepath.Join(dir, "chapters.json"), chapters); err != nil {
			log.Printf("Warning: failed to save chapters for %s: %v", videoID, err)
		}
	}

	// Indexing.
	p.report(videoID, string(core.StatusProcessing), 0.8, "Creating embeddings and indexing...", "")
	note := ""
	if !hadTranscript {
		note = "No transcripts were found for this video. Limited search capabilities may be available based on visual content."
	}
	units := append([]core.ContentUnit{}, transcript...)
	visuals := visualUnits(videoID, frames)
	units = append(units, visuals...)
	if err := p.stageIndex(ctx, videoID, units); err != nil {
		return stageErr("index", err)
	}
	metrics.IndexedUnits.WithLabelValues(string(core.KindTranscript)).Add(float64(len(transcript)))
	metrics.IndexedUnits.WithLabelValues(string(core.KindVisual)).Add(float64(len(visuals)))

	// Summary.
	p.report(videoID, string(core.StatusProcessing), 0.9, "Generating summary...", note)
	rec.Summary = p.stageSummary(ctx, transcript, frames)

	// Thumbnail.
	if !transcriptOnly {
		thumb, err := p.Extractor.Thumbnail(ctx, videoID, rec.FilePath, rec.Duration)
		if err != nil {
			log.Printf("Warning: thumbnail generation failed for %s: %v", videoID, err)
		} else {
			rec.ThumbnailPath = thumb
		}
	}

	rec.Status = core.StatusCompleted
	rec.Error = ""
	if err := p.Videos.Save(rec); err != nil {
		return stageErr("finalize", err)
	}
	p.cleanupTemp(videoID)
	p.report(videoID, string(core.StatusCompleted), 1.0, "Video processing completed successfully", note)
	log.Printf("Video %s processing completed successfully", videoID)
	return nil
}

func (p *Pipeline) stageFrames(ctx context.Context, rec *core.VideoRecord) ([]media.FramePair, error) {
	defer observeStage("frames")()
	info, err := p.Extractor.Decoder.Probe(ctx, rec.FilePath)
	if err != nil {
		return nil, err
	}
	rec.Duration = info.Duration
	timestamps := media.SampleTimestamps(info.Duration, info.FPS, p.Cfg.FrameBudget, p.Cfg.FrameSampleRate)
	return p.Extractor.Frames(ctx, rec.ID, rec.FilePath, timestamps)
}

// stageDescribe runs the vision model over each extracted frame,
// pacing the calls to stay under provider rate limits. A frame whose
// description fails is skipped, not fatal.
func (p *Pipeline) stageDescribe(ctx context.Context, videoID string, pairs []media.FramePair) ([]core.Frame, error) {
	defer observeStage("describe")()
	frames := make([]core.Frame, 0, len(pairs))
	for i, pair := range pairs {
		if i > 0 {
			delay := p.Cfg.FrameAnalysisDelay.Duration()
			if i%p.Cfg.FrameBatchSize == 0 {
				delay = p.Cfg.FrameBatchDelay.Duration()
			}
			if err := sleepCtx(ctx, delay); err != nil {
				return nil, err
			}
		}
		desc, err := p.AI.DescribeImage(ctx, pair.FramePath)
		if err != nil {
			log.Printf("Warning: failed to describe frame at %.2fs: %v", pair.Timestamp, err)
			continue
		}
		frames = append(frames, core.Frame{
			Ordinal:       pair.Ordinal,
			VideoID:       videoID,
			Timestamp:     pair.Timestamp,
			Path:          pair.FramePath,
			ThumbnailPath: pair.ThumbnailPath,
			Description:   desc,
		})
	}
	return frames, nil
}

func (p *Pipeline) stageCaptions(ctx context.Context, videoID string) ([]captions.Entry, error) {
	defer observeStage("captions")()
	return p.Captions.Fetch(ctx, videoID)
}

func (p *Pipeline) stageIndex(ctx context.Context, videoID string, units []core.ContentUnit) error {
	defer observeStage("index")()
	indexed, err := p.Indexer.IndexVideo(ctx, videoID, units)
	if err != nil {
		return err
	}
	if !indexed {
		log.Printf("No content to index for video %s", videoID)
	}
	return nil
}

func (p *Pipeline) stageSummary(ctx context.Context, transcript []core.ContentUnit, frames []core.Frame) string {
	defer observeStage("summary")()
	var parts []string
	if len(transcript) > 0 {
		n := len(transcript)
		if n > 10 {
			n = 10
		}
		texts := make([]string, n)
		for i := 0; i < n; i++ {
			texts[i] = transcript[i].Text
		}
		parts = append(parts, "Transcript: "+strings.Join(texts, " "))
	}
	if len(frames) > 0 {
		n := len(frames)
		if n > 5 {
			n = 5
		}
		descs := make([]string, 0, n)
		for _, f := range frames[:n] {
			if f.Description != "" {
				descs = append(descs, f.Description)
			}
		}
		if len(descs) > 0 {
			parts = append(parts, "Visual content: "+strings.Join(descs, " "))
		}
	}
	if len(parts) == 0 {
		return "No content available for summary generation."
	}

	prompt := fmt.Sprintf(`Create a comprehensive summary of this video based on the following content:

%s

Provide:
1. Main topics covered (2-3 bullet points)
2. Key visual elements or scenes
3. Overall theme or purpose
4. Duration and pacing notes

Keep the summary concise but informative (3-4 sentences).`, strings.Join(parts, "\n"))

	summary, err := p.AI.Generate(ctx, prompt)
	if err != nil {
		log.Printf("Warning: summary generation failed: %v", err)
		return "Unable to generate summary"
	}
	return summary
}

func (p *Pipeline) report(videoID, status string, progress float64, message, note string) {
	if p.Sink == nil {
		return
	}
	p.Sink.Publish(core.ProcessingState{
		VideoID:  videoID,
		Status:   status,
		Progress: progress,
		Message:  message,
		Note:     note,
	})
}

func (p *Pipeline) cleanupTemp(videoID string) {
	dir := filepath.Join(p.Cfg.TempDir, videoID)
	if err := os.RemoveAll(dir); err != nil {
		log.Printf("Warning: failed to clean temp files for %s: %v", videoID, err)
	}
}

// PseudoTranscript turns ordered frame descriptions into transcript
// chunks. Each chunk runs from its frame to the next one; the last
// chunk gets a fixed tail. Text is prefixed so answers can tell
// visual narration from real captions.
func PseudoTranscript(videoID string, frames []core.Frame, tail float64) []core.ContentUnit {
	var units []core.ContentUnit
	described := make([]core.Frame, 0, len(frames))
	for _, f := range frames {
		if f.Description != "" {
			described = append(described, f)
		}
	}
	for i, f := range described {
		end := f.Timestamp + tail
		if i < len(described)-1 {
			end = described[i+1].Timestamp
		}
		units = append(units, core.TranscriptUnit(videoID, i, "Visual: "+f.Description, f.Timestamp, end))
	}
	return units
}

// Chapters derives a coarse outline: the first three transcript
// chunks become sections, with descriptions clipped at 100 bytes.
// Without a transcript, three fixed two-minute chapters stand in.
func Chapters(transcript []core.ContentUnit) []core.Chapter {
	if len(transcript) == 0 {
		chapters := make([]core.Chapter, 3)
		for i := range chapters {
			chapters[i] = core.Chapter{
				ID:          fmt.Sprintf("chapter_%d", i),
				Title:       fmt.Sprintf("Chapter %d", i+1),
				Start:       float64(i) * 120,
				End:         float64(i+1) * 120,
				Description: fmt.Sprintf("Video content - part %d", i+1),
			}
		}
		return chapters
	}
	n := len(transcript)
	if n > 3 {
		n = 3
	}
	chapters := make([]core.Chapter, 0, n)
	for i, chunk := range transcript[:n] {
		desc := chunk.Text
		if len(desc) > 100 {
			desc = desc[:100] + "..."
		}
		chapters = append(chapters, core.Chapter{
			ID:          fmt.Sprintf("transcript_chapter_%d", i),
			Title:       fmt.Sprintf("Section %d", i+1),
			Start:       chunk.Start,
			End:         chunk.End,
			Description: desc,
		})
	}
	return chapters
}

func visualUnits(videoID string, frames []core.Frame) []core.ContentUnit {
	var units []core.ContentUnit
	for _, f := range frames {
		if f.Description == "" {
			continue
		}
		units = append(units, core.VisualUnit(videoID, len(units), f.Description, f.Timestamp, f.Path, f.ThumbnailPath))
	}
	return units
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func observeStage(stage string) func() {
	start := time.Now()
	return func() {
		metrics.StageSeconds.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	}
}

type stagedError struct {
	stage string
	err   error
}

func (e *stagedError) Error() string { return e.stage + ": " + e.err.Error() }
func (e *stagedError) Unwrap() error { return e.err }

func stageErr(stage string, err error) error {
	return &stagedError{stage: stage, err: err}
}

func stageOf(err error) string {
	if se, ok := err.(*stagedError); ok {
		return se.stage
	}
	return "process"
}
