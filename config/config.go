package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Config carries API credentials, storage locations and the tunable
// processing thresholds. Loaded from config.json with environment
// overrides; every numeric knob the pipeline and the query engine use
// lives here.
type Config struct {
	APIKey         string `json:"api_key"`
	BaseURL        string `json:"base_url"`
	EmbeddingModel string `json:"embedding_model"`
	ChatModel      string `json:"chat_model"`
	VisionModel    string `json:"vision_model"`
	EmbeddingDim   int    `json:"embedding_dim"`

	PostgresURL      string `json:"postgres_url"`
	MilvusAddr       string `json:"milvus_addr"`
	MilvusCollection string `json:"milvus_collection"`
	AMQPURL          string `json:"amqp_url"`

	StorageDir string `json:"storage_dir"`
	UploadDir  string `json:"upload_dir"`
	TempDir    string `json:"temp_dir"`
	Port       string `json:"port"`

	CaptionLanguage string `json:"caption_language"`

	// Frame sampling and analysis pacing.
	FrameBudget        int     `json:"frame_budget"`
	FrameSampleRate    float64 `json:"frame_sample_rate"`
	FrameBatchSize     int     `json:"frame_batch_size"`
	FrameAnalysisDelay Seconds `json:"frame_analysis_delay_sec"`
	FrameBatchDelay    Seconds `json:"frame_batch_delay_sec"`

	// Query-side thresholds.
	PseudoTranscriptTail  float64 `json:"pseudo_transcript_tail_sec"`
	TimestampTolerance    float64 `json:"timestamp_tolerance_sec"`
	VisualRelevanceCutoff float64 `json:"visual_relevance_cutoff"`
	MaxContextTranscripts int     `json:"max_context_transcripts"`
	MaxContextFrames      int     `json:"max_context_frames"`
	MaxHistoryTurns       int     `json:"max_history_turns"`
	LowConfidence         float64 `json:"low_confidence"`
	HighConfidence        float64 `json:"high_confidence"`
}

// Seconds is a duration configured as a plain number of seconds.
type Seconds float64

func (s Seconds) Duration() time.Duration {
	return time.Duration(float64(s) * float64(time.Second))
}

// Load reads config.json if present, applies environment overrides and
// fills defaults. Unlike the status tracker the config is immutable
// after load, so a package-level cache is safe.
func Load() (*Config, error) {
	cached.once.Do(func() {
		cached.cfg, cached.err = load()
	})
	return cached.cfg, cached.err
}

var cached struct {
	once sync.Once
	cfg  *Config
	err  error
}

func load() (*Config, error) {
	cfg := &Config{}
	if data, err := os.ReadFile("config.json"); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config.json: %w", err)
		}
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() {
	set := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	set(&c.APIKey, "API_KEY")
	set(&c.BaseURL, "BASE_URL")
	set(&c.EmbeddingModel, "EMBEDDING_MODEL")
	set(&c.ChatModel, "CHAT_MODEL")
	set(&c.VisionModel, "VISION_MODEL")
	set(&c.PostgresURL, "POSTGRES_URL")
	set(&c.MilvusAddr, "MILVUS_ADDR")
	set(&c.MilvusCollection, "MILVUS_COLLECTION")
	set(&c.AMQPURL, "AMQP_URL")
	set(&c.StorageDir, "STORAGE_DIR")
	set(&c.UploadDir, "UPLOAD_DIR")
	set(&c.TempDir, "TEMP_DIR")
	set(&c.Port, "PORT")
	set(&c.CaptionLanguage, "CAPTION_LANGUAGE")
	if v := os.Getenv("EMBEDDING_DIM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.EmbeddingDim = n
		}
	}
	if v := os.Getenv("FRAME_BUDGET"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.FrameBudget = n
		}
	}
}

func (c *Config) applyDefaults() {
	def := func(dst *string, v string) {
		if *dst == "" {
			*dst = v
		}
	}
	def(&c.BaseURL, "https://api.openai.com/v1")
	def(&c.EmbeddingModel, "text-embedding-3-small")
	def(&c.ChatModel, "gpt-4o-mini")
	def(&c.VisionModel, "gpt-4o-mini")
	def(&c.MilvusAddr, "localhost:19530")
	def(&c.MilvusCollection, "video_content")
	def(&c.StorageDir, "storage")
	def(&c.UploadDir, "uploads")
	def(&c.TempDir, "temp")
	def(&c.Port, "8000")
	def(&c.CaptionLanguage, "en")
	if c.EmbeddingDim <= 0 {
		c.EmbeddingDim = 1536
	}
	if c.FrameBudget <= 0 {
		c.FrameBudget = 20
	}
	if c.FrameSampleRate <= 0 {
		c.FrameSampleRate = 0.05
	}
	if c.FrameBatchSize <= 0 {
		c.FrameBatchSize = 3
	}
	if c.FrameAnalysisDelay <= 0 {
		c.FrameAnalysisDelay = 1
	}
	if c.FrameBatchDelay <= 0 {
		c.FrameBatchDelay = 2
	}
	if c.PseudoTranscriptTail <= 0 {
		c.PseudoTranscriptTail = 5
	}
	if c.TimestampTolerance <= 0 {
		c.TimestampTolerance = 30
	}
	if c.VisualRelevanceCutoff <= 0 {
		c.VisualRelevanceCutoff = 0.3
	}
	if c.MaxContextTranscripts <= 0 {
		c.MaxContextTranscripts = 5
	}
	if c.MaxContextFrames <= 0 {
		c.MaxContextFrames = 3
	}
	if c.MaxHistoryTurns <= 0 {
		c.MaxHistoryTurns = 5
	}
	if c.LowConfidence <= 0 {
		c.LowConfidence = 0.2
	}
	if c.HighConfidence <= 0 {
		c.HighConfidence = 0.8
	}
}

// Validate checks the fields required to talk to the model API.
func (c *Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.APIKey) == "" {
		problems = append(problems, "api_key is required")
	}
	if strings.TrimSpace(c.BaseURL) == "" {
		problems = append(problems, "base_url is required")
	}
	if strings.TrimSpace(c.EmbeddingModel) == "" {
		problems = append(problems, "embedding_model is required")
	}
	if len(problems) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(problems, "; "))
	}
	return nil
}

// HasValidAPI reports whether model API calls can be attempted at all.
func (c *Config) HasValidAPI() bool {
	return strings.TrimSpace(c.APIKey) != "" && strings.TrimSpace(c.BaseURL) != ""
}
