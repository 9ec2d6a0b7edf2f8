// Package server exposes the HTTP API: video intake and lifecycle,
// processing status, outline and thumbnail access, chat and search.
package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"videorag/config"
	"videorag/core"
	"videorag/metrics"
	"videorag/pipeline"
	"videorag/rag"
	"videorag/storage"
)

type Server struct {
	Cfg       *config.Config
	Intake    *pipeline.Intake
	Pipeline  *pipeline.Pipeline
	Tracker   *pipeline.StatusTracker
	Videos    *storage.VideoStore
	Indexer   *rag.Indexer
	Retriever *rag.Retriever
	Answerer  *rag.Answerer
}

func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /videos/upload", s.handleUpload)
	mux.HandleFunc("POST /videos/youtube", s.handleYouTube)
	mux.HandleFunc("GET /videos", s.handleListVideos)
	mux.HandleFunc("GET /videos/{id}", s.handleGetVideo)
	mux.HandleFunc("DELETE /videos/{id}", s.handleDeleteVideo)
	mux.HandleFunc("GET /videos/{id}/status", s.handleStatus)
	mux.HandleFunc("GET /videos/{id}/outline", s.handleOutline)
	mux.HandleFunc("GET /videos/{id}/thumbnail", s.handleThumbnail)
	mux.HandleFunc("POST /chat/message", s.handleChat)
	mux.HandleFunc("GET /search/semantic", s.handleSemanticSearch)
	mux.HandleFunc("GET /search/context", s.handleContextSearch)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())
	return mux
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case core.IsValidation(err):
		core.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case core.IsNotFound(err):
		core.WriteJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	default:
		log.Printf("Internal error: %v", err)
		core.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
}

func (s *Server) startProcessing(videoID string) {
	go func() {
		if err := s.Pipeline.Run(context.Background(), videoID); err != nil {
			log.Printf("Pipeline run for %s ended with error: %v", videoID, err)
		}
	}()
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(512 << 20); err != nil {
		writeError(w, core.Validationf("invalid multipart form: %v", err))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, core.Validationf("no file provided"))
		return
	}
	defer file.Close()

	rec, err := s.Intake.IngestUpload(r.Context(), header.Filename, r.FormValue("title"), file)
	if err != nil {
		writeError(w, err)
		return
	}
	s.startProcessing(rec.ID)
	core.WriteJSON(w, http.StatusOK, rec)
}

type youtubeRequest struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

func (s *Server) handleYouTube(w http.ResponseWriter, r *http.Request) {
	var req youtubeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, core.Validationf("invalid json"))
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		writeError(w, core.Validationf("url required"))
		return
	}
	rec, err := s.Intake.IngestRemote(r.Context(), req.URL, req.Title)
	if err != nil {
		writeError(w, err)
		return
	}
	s.startProcessing(rec.ID)
	core.WriteJSON(w, http.StatusOK, rec)
}

func (s *Server) handleListVideos(w http.ResponseWriter, r *http.Request) {
	videos, err := s.Videos.List()
	if err != nil {
		writeError(w, err)
		return
	}
	if videos == nil {
		videos = []*core.VideoRecord{}
	}
	core.WriteJSON(w, http.StatusOK, map[string]any{"videos": videos, "total": len(videos)})
}

func (s *Server) handleGetVideo(w http.ResponseWriter, r *http.Request) {
	rec, err := s.Videos.Load(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	core.WriteJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeleteVideo(w http.ResponseWriter, r *http.Request) {
	videoID := r.PathValue("id")
	if err := s.Videos.Delete(videoID); err != nil {
		writeError(w, err)
		return
	}
	deleted, err := s.Indexer.DeleteVideo(r.Context(), videoID)
	if err != nil {
		log.Printf("Warning: failed to delete index for %s: %v", videoID, err)
	}
	s.Tracker.Delete(videoID)
	core.WriteJSON(w, http.StatusOK, map[string]any{
		"message":       "Video deleted",
		"video_id":      videoID,
		"units_deleted": deleted,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	state, err := s.Tracker.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	core.WriteJSON(w, http.StatusOK, state)
}

type outlineResponse struct {
	VideoID  string         `json:"video_id"`
	Title    string         `json:"title"`
	Duration float64        `json:"duration"`
	Chapters []core.Chapter `json:"chapters"`
	Summary  string         `json:"summary"`
}

func (s *Server) handleOutline(w http.ResponseWriter, r *http.Request) {
	videoID := r.PathValue("id")
	rec, err := s.Videos.Load(videoID)
	if err != nil {
		writeError(w, err)
		return
	}
	chapters := []core.Chapter{}
	chaptersPath := filepath.Join(s.Cfg.StorageDir, videoID, "chapters.json")
	if err := core.LoadJSON(chaptersPath, &chapters); err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: failed to read chapters for %s: %v", videoID, err)
	}
	core.WriteJSON(w, http.StatusOK, outlineResponse{
		VideoID:  videoID,
		Title:    rec.Title,
		Duration: rec.Duration,
		Chapters: chapters,
		Summary:  rec.Summary,
	})
}

func (s *Server) handleThumbnail(w http.ResponseWriter, r *http.Request) {
	videoID := r.PathValue("id")
	path := filepath.Join(s.Cfg.StorageDir, videoID, "thumbnail.jpg")
	if _, err := os.Stat(path); err != nil {
		writeError(w, core.NotFound("thumbnail", videoID))
		return
	}
	http.ServeFile(w, r, path)
}

type chatRequest struct {
	VideoID string             `json:"video_id"`
	Message string             `json:"message"`
	History []core.ChatMessage `json:"chat_history"`
}

type chatResponse struct {
	Response   string    `json:"response"`
	Timestamps []float64 `json:"timestamp_references"`
	Confidence float64   `json:"confidence"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, core.Validationf("invalid json"))
		return
	}
	if strings.TrimSpace(req.VideoID) == "" || strings.TrimSpace(req.Message) == "" {
		writeError(w, core.Validationf("video_id and message required"))
		return
	}
	metrics.Queries.Inc()

	targetID, available, err := s.Retriever.ResolveVideoID(r.Context(), req.VideoID)
	if err != nil {
		if core.IsNotFound(err) {
			core.WriteJSON(w, http.StatusOK, chatResponse{
				Response:   "Video '" + req.VideoID + "' not found. Available videos: [" + strings.Join(available, ", ") + "]",
				Timestamps: []float64{},
				Confidence: 0,
			})
			return
		}
		writeError(w, err)
		return
	}

	result, err := s.Answerer.Answer(r.Context(), targetID, req.Message, req.History)
	if err != nil {
		writeError(w, err)
		return
	}
	core.WriteJSON(w, http.StatusOK, chatResponse{
		Response:   result.Answer,
		Timestamps: result.Timestamps,
		Confidence: result.Confidence,
	})
}

func (s *Server) handleSemanticSearch(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, core.Validationf("q required"))
		return
	}
	metrics.Queries.Inc()

	f := storage.Filter{VideoID: r.URL.Query().Get("video_id")}
	switch r.URL.Query().Get("kind") {
	case "transcript":
		f.Kinds = []core.ContentKind{core.KindTranscript}
	case "visual":
		f.Kinds = []core.ContentKind{core.KindVisual}
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	results, err := s.Retriever.Search(r.Context(), query, f, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if results == nil {
		results = []core.SearchResult{}
	}
	core.WriteJSON(w, http.StatusOK, map[string]any{"query": query, "results": results, "total": len(results)})
}

func (s *Server) handleContextSearch(w http.ResponseWriter, r *http.Request) {
	videoID := r.URL.Query().Get("video_id")
	if videoID == "" {
		writeError(w, core.Validationf("video_id required"))
		return
	}
	ts, err := strconv.ParseFloat(r.URL.Query().Get("timestamp"), 64)
	if err != nil {
		writeError(w, core.Validationf("timestamp required"))
		return
	}
	window := 30.0
	if v := r.URL.Query().Get("window"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			window = f
		}
	}

	transcripts, visuals, err := s.Retriever.ContentAround(r.Context(), videoID, ts, window)
	if err != nil {
		writeError(w, err)
		return
	}
	if transcripts == nil {
		transcripts = []core.ContentUnit{}
	}
	if visuals == nil {
		visuals = []core.ContentUnit{}
	}
	core.WriteJSON(w, http.StatusOK, map[string]any{
		"video_id":    videoID,
		"timestamp":   ts,
		"window":      window,
		"transcripts": transcripts,
		"frames":      visuals,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	core.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
