// Package media wraps the ffmpeg toolchain: stream probing, frame
// extraction at chosen timestamps, and thumbnail generation.
package media

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// Info holds the probed stream properties the pipeline cares about.
type Info struct {
	Duration float64
	FPS      float64
}

// Decoder is the subset of video operations the pipeline needs.
// FFmpeg implements it; tests substitute a fake.
type Decoder interface {
	Probe(ctx context.Context, videoPath string) (Info, error)
	// ExtractFrame writes the frame at ts to outPath, scaled per the
	// ffmpeg scale expression when one is given.
	ExtractFrame(ctx context.Context, videoPath string, ts float64, outPath string, scale string) error
}

// FFmpeg shells out to ffmpeg and ffprobe on PATH.
type FFmpeg struct{}

func (FFmpeg) Probe(ctx context.Context, videoPath string) (Info, error) {
	cmd := exec.CommandContext(ctx, "ffprobe", "-v", "quiet", "-print_format", "json",
		"-show_format", "-show_streams", videoPath)
	output, err := cmd.Output()
	if err != nil {
		return Info{}, fmt.Errorf("ffprobe failed: %v", err)
	}
	var probe struct {
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
		Streams []struct {
			CodecType    string `json:"codec_type"`
			AvgFrameRate string `json:"avg_frame_rate"`
		} `json:"streams"`
	}
	if err := json.Unmarshal(output, &probe); err != nil {
		return Info{}, fmt.Errorf("parse ffprobe output: %v", err)
	}
	info := Info{FPS: 30}
	if dur, err := strconv.ParseFloat(probe.Format.Duration, 64); err == nil {
		info.Duration = dur
	}
	for _, s := range probe.Streams {
		if s.CodecType != "video" {
			continue
		}
		if fps := parseFrameRate(s.AvgFrameRate); fps > 0 {
			info.FPS = fps
		}
		break
	}
	if info.Duration <= 0 {
		return Info{}, fmt.Errorf("no duration in ffprobe output for %s", videoPath)
	}
	return info, nil
}

// parseFrameRate handles ffprobe rational rates like "30000/1001".
func parseFrameRate(s string) float64 {
	num, den, found := strings.Cut(s, "/")
	if !found {
		f, _ := strconv.ParseFloat(s, 64)
		return f
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return n / d
}

func (FFmpeg) ExtractFrame(ctx context.Context, videoPath string, ts float64, outPath string, scale string) error {
	args := []string{
		"-v", "error",
		"-ss", fmt.Sprintf("%.3f", ts),
		"-i", videoPath,
		"-frames:v", "1",
	}
	if scale != "" {
		args = append(args, "-vf", "scale="+scale)
	}
	args = append(args, "-q:v", "2", "-y", outPath)
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("ffmpeg frame extraction failed: %v (%s)", err, out)
	}
	return nil
}

// SampleTimestamps builds the uniform sampling grid. The frame count
// is min(budget, max(1, totalFrames*rate)) where totalFrames is
// duration*fps, and timestamps start at zero with an even stride.
func SampleTimestamps(duration, fps float64, budget int, rate float64) []float64 {
	if duration <= 0 || budget <= 0 {
		return nil
	}
	if fps <= 0 {
		fps = 30
	}
	totalFrames := duration * fps
	n := int(totalFrames * rate)
	if n < 1 {
		n = 1
	}
	if n > budget {
		n = budget
	}
	stride := duration / float64(n)
	out := make([]float64, n)
	for i := range out {
		out[i] = stride * float64(i)
	}
	return out
}

// FramePair is one sampled frame with its thumbnail.
type FramePair struct {
	Ordinal       int
	Timestamp     float64
	FramePath     string
	ThumbnailPath string
}

// Extractor writes sampled frames and per-frame thumbnails under the
// per-video storage directory.
type Extractor struct {
	Decoder    Decoder
	StorageDir string
}

// Frames extracts full-size frames plus 320x180 thumbnails at the
// given timestamps, one pair per timestamp.
func (e *Extractor) Frames(ctx context.Context, videoID, videoPath string, timestamps []float64) ([]FramePair, error) {
	dir := filepath.Join(e.StorageDir, videoID, "frames")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	pairs := make([]FramePair, 0, len(timestamps))
	for i, ts := range timestamps {
		framePath := filepath.Join(dir, fmt.Sprintf("frame_%04d_%.2f.jpg", i, ts))
		thumbPath := filepath.Join(dir, fmt.Sprintf("thumb_frame_%04d_%.2f.jpg", i, ts))
		if err := e.Decoder.ExtractFrame(ctx, videoPath, ts, framePath, ""); err != nil {
			return pairs, err
		}
		if err := e.Decoder.ExtractFrame(ctx, videoPath, ts, thumbPath, "320:180"); err != nil {
			return pairs, err
		}
		pairs = append(pairs, FramePair{Ordinal: i, Timestamp: ts, FramePath: framePath, ThumbnailPath: thumbPath})
	}
	return pairs, nil
}

// Thumbnail writes the video poster image, taken at 10% of duration.
func (e *Extractor) Thumbnail(ctx context.Context, videoID, videoPath string, duration float64) (string, error) {
	dir := filepath.Join(e.StorageDir, videoID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	outPath := filepath.Join(dir, "thumbnail.jpg")
	if err := e.Decoder.ExtractFrame(ctx, videoPath, duration*0.1, outPath, "320:180"); err != nil {
		return "", err
	}
	return outPath, nil
}
