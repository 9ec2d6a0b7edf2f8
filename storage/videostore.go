package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"videorag/core"
)

// VideoStore persists video metadata as one metadata.json per video
// under the storage directory. The directory layout doubles as the
// home for frames and thumbnails.
type VideoStore struct {
	Dir string
}

func NewVideoStore(dir string) *VideoStore {
	return &VideoStore{Dir: dir}
}

func (s *VideoStore) path(videoID string) string {
	return filepath.Join(s.Dir, videoID, "metadata.json")
}

// VideoDir returns the per-video directory, creating it if needed.
func (s *VideoStore) VideoDir(videoID string) (string, error) {
	dir := filepath.Join(s.Dir, videoID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

func (s *VideoStore) Save(rec *core.VideoRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("video record has no id")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.UpdatedAt = time.Now().UTC()
	if _, err := s.VideoDir(rec.ID); err != nil {
		return err
	}
	return core.SaveJSON(s.path(rec.ID), rec)
}

func (s *VideoStore) Load(videoID string) (*core.VideoRecord, error) {
	var rec core.VideoRecord
	if err := core.LoadJSON(s.path(videoID), &rec); err != nil {
		if os.IsNotExist(err) {
			return nil, core.NotFound("video", videoID)
		}
		return nil, err
	}
	return &rec, nil
}

// List returns all stored videos, newest first.
func (s *VideoStore) List() ([]*core.VideoRecord, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []*core.VideoRecord
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		rec, err := s.Load(e.Name())
		if err != nil {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Delete removes the whole per-video directory including frames and
// thumbnails.
func (s *VideoStore) Delete(videoID string) error {
	if _, err := s.Load(videoID); err != nil {
		return err
	}
	return os.RemoveAll(filepath.Join(s.Dir, videoID))
}

// SetStatus updates the lifecycle state, recording the error message
// on failure and clearing it otherwise.
func (s *VideoStore) SetStatus(videoID string, status core.VideoStatus, errMsg string) error {
	rec, err := s.Load(videoID)
	if err != nil {
		return err
	}
	rec.Status = status
	rec.Error = errMsg
	return s.Save(rec)
}
