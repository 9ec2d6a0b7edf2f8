package pipeline

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"videorag/config"
	"videorag/core"
	"videorag/media"
	"videorag/storage"
)

// Intake registers new videos: uploaded files are validated and moved
// into per-video storage, remote URLs become transcript-only records.
type Intake struct {
	Cfg     *config.Config
	Videos  *storage.VideoStore
	Decoder media.Decoder
}

// IngestUpload stores an uploaded video file and creates its record.
// The file is probed before it is accepted; anything ffprobe cannot
// read is rejected as invalid.
func (in *Intake) IngestUpload(ctx context.Context, filename, title string, r io.Reader) (*core.VideoRecord, error) {
	if filename == "" {
		return nil, core.Validationf("no file provided")
	}
	if err := os.MkdirAll(in.Cfg.UploadDir, 0o755); err != nil {
		return nil, err
	}
	tempPath := filepath.Join(in.Cfg.UploadDir, fmt.Sprintf("temp_%s_%s", uuid.New().String(), filepath.Base(filename)))
	f, err := os.Create(tempPath)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(tempPath)
		return nil, err
	}
	f.Close()

	info, err := in.Decoder.Probe(ctx, tempPath)
	if err != nil {
		os.Remove(tempPath)
		return nil, core.Validationf("invalid video file: %v", err)
	}

	videoID := uuid.New().String()
	dir, err := in.Videos.VideoDir(videoID)
	if err != nil {
		os.Remove(tempPath)
		return nil, err
	}
	destPath := filepath.Join(dir, "source"+strings.ToLower(filepath.Ext(filename)))
	if err := moveFile(tempPath, destPath); err != nil {
		os.Remove(tempPath)
		return nil, err
	}

	if title == "" {
		title = filename
	}
	rec := &core.VideoRecord{
		ID:       videoID,
		Title:    title,
		FilePath: destPath,
		Status:   core.StatusUploaded,
		Duration: info.Duration,
	}
	if err := in.Videos.Save(rec); err != nil {
		return nil, err
	}
	log.Printf("Registered uploaded video %s (%s, %.1fs)", videoID, title, info.Duration)
	return rec, nil
}

var youtubeIDPattern = regexp.MustCompile(`^[0-9A-Za-z_-]{11}$`)

// youtubeVideoID extracts the 11-character video id from the URL forms
// YouTube serves: watch?v=, youtu.be short links, and /embed/, /shorts/,
// /v/ and /live/ paths. Other hosts never match.
func youtubeVideoID(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	host = strings.TrimPrefix(host, "m.")
	switch host {
	case "youtube.com":
		if id := u.Query().Get("v"); youtubeIDPattern.MatchString(id) {
			return id, true
		}
		parts := strings.Split(strings.Trim(u.Path, "/"), "/")
		if len(parts) == 2 && youtubeIDPattern.MatchString(parts[1]) {
			switch parts[0] {
			case "embed", "shorts", "v", "live":
				return parts[1], true
			}
		}
	case "youtu.be":
		if id := strings.Trim(u.Path, "/"); youtubeIDPattern.MatchString(id) {
			return id, true
		}
	}
	return "", false
}

// IngestRemote registers a YouTube URL as a transcript-only video.
// The video itself is never downloaded; captions are the only source.
func (in *Intake) IngestRemote(_ context.Context, rawURL, title string) (*core.VideoRecord, error) {
	id, ok := youtubeVideoID(rawURL)
	if !ok {
		return nil, core.Validationf("could not extract video id from URL: %s", rawURL)
	}
	videoID := "youtube_" + id
	if title == "" {
		title = "YouTube video " + id
	}
	rec := &core.VideoRecord{
		ID:        videoID,
		Title:     title,
		SourceURL: rawURL,
		Status:    core.StatusTranscriptOnly,
	}
	if err := in.Videos.Save(rec); err != nil {
		return nil, err
	}
	log.Printf("Registered YouTube video %s", videoID)
	return rec, nil
}

// moveFile renames when possible and falls back to copy across
// filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
