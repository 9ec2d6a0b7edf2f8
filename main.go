package main

import (
	"context"
	"log"
	"net/http"
	"os"

	"videorag/ai"
	"videorag/captions"
	"videorag/config"
	"videorag/media"
	"videorag/pipeline"
	"videorag/rag"
	"videorag/server"
	"videorag/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	for _, dir := range []string{cfg.StorageDir, cfg.UploadDir, cfg.TempDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatalf("failed to create %s: %v", dir, err)
		}
	}

	ctx := context.Background()

	aiClient := ai.Pick(cfg)
	store := storage.NewFromEnv(ctx, cfg)
	defer store.Close(ctx)
	videos := storage.NewVideoStore(cfg.StorageDir)

	indexer := &rag.Indexer{Embedder: aiClient, Store: store, Dim: cfg.EmbeddingDim}
	retriever := &rag.Retriever{Embedder: aiClient, Store: store}
	answerer := &rag.Answerer{Retriever: retriever, Generator: aiClient, Cfg: cfg}

	tracker := pipeline.NewStatusTracker(videos)
	sinks := pipeline.MultiSink{tracker, pipeline.LogSink{}}
	if cfg.AMQPURL != "" {
		amqpSink, err := pipeline.NewAMQPSink(cfg.AMQPURL)
		if err != nil {
			log.Printf("Warning: AMQP unavailable, status events stay local: %v", err)
		} else {
			defer amqpSink.Close()
			sinks = append(sinks, amqpSink)
			log.Printf("Publishing status events to %s", cfg.AMQPURL)
		}
	}

	caps := captions.NewChain(captions.NewYouTube(), cfg.CaptionLanguage)
	extractor := &media.Extractor{Decoder: media.FFmpeg{}, StorageDir: cfg.StorageDir}
	pipe := pipeline.New(cfg, aiClient, caps, extractor, videos, indexer, sinks)

	srv := &server.Server{
		Cfg:       cfg,
		Intake:    &pipeline.Intake{Cfg: cfg, Videos: videos, Decoder: media.FFmpeg{}},
		Pipeline:  pipe,
		Tracker:   tracker,
		Videos:    videos,
		Indexer:   indexer,
		Retriever: retriever,
		Answerer:  answerer,
	}

	if !cfg.HasValidAPI() {
		log.Printf("Warning: no API credentials configured, set AI=mock for offline use")
	}
	log.Printf("Server starting on port %s", cfg.Port)
	if err := http.ListenAndServe(":"+cfg.Port, srv.Routes()); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
