package captions

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// YouTube fetches caption tracks through the public timedtext endpoint.
type YouTube struct {
	HTTP    *http.Client
	BaseURL string
}

func NewYouTube() *YouTube {
	return &YouTube{
		HTTP:    &http.Client{Timeout: 30 * time.Second},
		BaseURL: "https://www.youtube.com/api/timedtext",
	}
}

// raw id: a YouTube provider sees ids without the source prefix.
func stripPrefix(videoID string) string {
	return strings.TrimPrefix(videoID, "youtube_")
}

type trackList struct {
	Tracks []struct {
		LangCode       string `xml:"lang_code,attr"`
		Kind           string `xml:"kind,attr"`
		LangTranslated string `xml:"lang_translated,attr"`
	} `xml:"track"`
}

func (y *YouTube) ListTracks(ctx context.Context, videoID string) ([]Track, error) {
	q := url.Values{"type": {"list"}, "v": {stripPrefix(videoID)}}
	body, err := y.get(ctx, q)
	if err != nil {
		return nil, err
	}
	var list trackList
	if err := xml.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("parse track list: %w", err)
	}
	tracks := make([]Track, 0, len(list.Tracks))
	for _, t := range list.Tracks {
		tracks = append(tracks, Track{
			Lang:         t.LangCode,
			Auto:         t.Kind == "asr",
			Translatable: t.LangTranslated != "",
		})
	}
	return tracks, nil
}

// json3 is the structured caption format; events carry millisecond
// offsets and segmented text runs.
type json3Body struct {
	Events []struct {
		StartMs    float64 `json:"tStartMs"`
		DurationMs float64 `json:"dDurationMs"`
		Segs       []struct {
			Text string `json:"utf8"`
		} `json:"segs"`
	} `json:"events"`
}

func (y *YouTube) FetchTrack(ctx context.Context, videoID string, track Track) ([]Entry, error) {
	q := url.Values{
		"v":    {stripPrefix(videoID)},
		"lang": {track.Lang},
		"fmt":  {"json3"},
	}
	if track.Auto {
		q.Set("kind", "asr")
	}
	body, err := y.get(ctx, q)
	if err != nil {
		return nil, err
	}
	var parsed json3Body
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse captions: %w", err)
	}
	entries := make([]Entry, 0, len(parsed.Events))
	for _, ev := range parsed.Events {
		var sb strings.Builder
		for _, seg := range ev.Segs {
			sb.WriteString(seg.Text)
		}
		text := strings.TrimSpace(sb.String())
		if text == "" {
			continue
		}
		entries = append(entries, Entry{
			Text:     text,
			Start:    ev.StartMs / 1000,
			Duration: ev.DurationMs / 1000,
		})
	}
	return entries, nil
}

func (y *YouTube) get(ctx context.Context, q url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, y.BaseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := y.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("timedtext status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 10<<20))
}
