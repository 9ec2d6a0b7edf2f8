package core

import (
	"fmt"
	"time"
)

// ========== Video lifecycle ==========

type VideoStatus string

const (
	StatusUploaded       VideoStatus = "uploaded"
	StatusProcessing     VideoStatus = "processing"
	StatusCompleted      VideoStatus = "completed"
	StatusFailed         VideoStatus = "failed"
	StatusTranscriptOnly VideoStatus = "transcript_only"
)

// Terminal reports whether the status is an end state of the pipeline.
func (s VideoStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// VideoRecord is the durable per-video metadata record. One record per
// ingested video; the status tracker is only a cache on top of it.
type VideoRecord struct {
	ID            string      `json:"id"`
	Title         string      `json:"title"`
	FilePath      string      `json:"file_path,omitempty"`
	SourceURL     string      `json:"source_url,omitempty"`
	ThumbnailPath string      `json:"thumbnail_path,omitempty"`
	Status        VideoStatus `json:"status"`
	Duration      float64     `json:"duration,omitempty"`
	Summary       string      `json:"summary,omitempty"`
	Error         string      `json:"error,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// ========== Content units ==========

type ContentKind string

const (
	KindTranscript ContentKind = "transcript"
	KindVisual     ContentKind = "visual"
)

// ContentUnit is the atomic indexable fact derived from a video: either
// a transcript span (Start/End) or a frame description (Timestamp plus
// frame locators). Units are owned by the index, not the VideoRecord.
type ContentUnit struct {
	ID      string      `json:"id"`
	VideoID string      `json:"video_id"`
	Kind    ContentKind `json:"kind"`
	Text    string      `json:"text"`

	// transcript anchor
	Start float64 `json:"start,omitempty"`
	End   float64 `json:"end,omitempty"`

	// visual anchor
	Timestamp     float64 `json:"timestamp,omitempty"`
	FramePath     string  `json:"frame_path,omitempty"`
	ThumbnailPath string  `json:"thumbnail_path,omitempty"`
}

// Anchor returns the unit's temporal anchor: Start for transcript
// units, Timestamp for visual ones.
func (u ContentUnit) Anchor() float64 {
	if u.Kind == KindVisual {
		return u.Timestamp
	}
	return u.Start
}

// TranscriptUnit builds a transcript ContentUnit with the canonical
// {video}_{kind}_{ordinal} identifier.
func TranscriptUnit(videoID string, ordinal int, text string, start, end float64) ContentUnit {
	return ContentUnit{
		ID:      fmt.Sprintf("%s_transcript_%d", videoID, ordinal),
		VideoID: videoID,
		Kind:    KindTranscript,
		Text:    text,
		Start:   start,
		End:     end,
	}
}

// VisualUnit builds a visual ContentUnit with the canonical identifier.
func VisualUnit(videoID string, ordinal int, text string, ts float64, framePath, thumbPath string) ContentUnit {
	return ContentUnit{
		ID:            fmt.Sprintf("%s_visual_%d", videoID, ordinal),
		VideoID:       videoID,
		Kind:          KindVisual,
		Text:          text,
		Timestamp:     ts,
		FramePath:     framePath,
		ThumbnailPath: thumbPath,
	}
}

// Frame is a sampled frame before description.
type Frame struct {
	Ordinal       int     `json:"ordinal"`
	VideoID       string  `json:"video_id"`
	Timestamp     float64 `json:"timestamp"`
	Path          string  `json:"path"`
	ThumbnailPath string  `json:"thumbnail_path,omitempty"`
	Description   string  `json:"description,omitempty"`
}

// Chapter is a derived summary segment, regenerated wholesale on every
// pipeline run.
type Chapter struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	Description string  `json:"description,omitempty"`
}

// ========== Pipeline status ==========

// ProcessingState is the transient per-video status tuple reported by
// the pipeline at each checkpoint and read by polling clients. Not
// durable across restarts; VideoRecord.Status is the fallback.
type ProcessingState struct {
	VideoID  string  `json:"video_id"`
	Status   string  `json:"status"`
	Progress float64 `json:"progress"`
	Message  string  `json:"message,omitempty"`
	Note     string  `json:"note,omitempty"`
}

// ========== Retrieval ==========

// SearchResult is one ranked hit from the vector store, score already
// converted from distance to relevance in [0,1].
type SearchResult struct {
	ID        string            `json:"id"`
	Content   string            `json:"content"`
	Score     float64           `json:"score"`
	Timestamp float64           `json:"timestamp"`
	VideoID   string            `json:"video_id"`
	Kind      ContentKind       `json:"kind"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// QueryResult is a grounded answer: generated text plus the sources it
// was grounded on and the timestamps it validly references.
type QueryResult struct {
	Answer     string         `json:"answer"`
	Sources    []SearchResult `json:"sources"`
	Confidence float64        `json:"confidence"`
	Timestamps []float64      `json:"timestamp_references"`
}

// ChatMessage is one conversation turn carried along with a chat query.
type ChatMessage struct {
	Role      string   `json:"role"`
	Content   string   `json:"content"`
	Timestamp *float64 `json:"timestamp,omitempty"`
}
