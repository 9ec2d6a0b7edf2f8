package pipeline

import (
	"sync"

	"videorag/core"
	"videorag/storage"
)

// StatusTracker holds the live processing state per video. When a
// video has no live entry (after a restart, typically) the state is
// synthesized from stored metadata.
type StatusTracker struct {
	mu     sync.RWMutex
	states map[string]core.ProcessingState
	videos *storage.VideoStore
}

func NewStatusTracker(videos *storage.VideoStore) *StatusTracker {
	return &StatusTracker{states: map[string]core.ProcessingState{}, videos: videos}
}

// Publish makes the tracker a ProgressSink.
func (t *StatusTracker) Publish(state core.ProcessingState) {
	t.Set(state)
}

func (t *StatusTracker) Set(state core.ProcessingState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.states[state.VideoID] = state
}

// Get returns the live state, falling back to metadata: a stored
// video mid-processing reads as halfway done, anything else as fully
// available.
func (t *StatusTracker) Get(videoID string) (core.ProcessingState, error) {
	t.mu.RLock()
	state, ok := t.states[videoID]
	t.mu.RUnlock()
	if ok {
		return state, nil
	}

	rec, err := t.videos.Load(videoID)
	if err != nil {
		return core.ProcessingState{}, err
	}
	state = core.ProcessingState{
		VideoID:  videoID,
		Status:   string(core.StatusCompleted),
		Progress: 1.0,
		Message:  "Video is available",
	}
	if rec.Status == core.StatusProcessing {
		state.Status = string(core.StatusProcessing)
		state.Progress = 0.5
	}
	t.Set(state)
	return state, nil
}

func (t *StatusTracker) Delete(videoID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.states, videoID)
}
