// Package captions fetches subtitle tracks for remote videos and picks
// the best available track through an ordered fallback chain. Caption
// failures never abort ingestion; the pipeline falls back to a visual
// pseudo-transcript when the chain comes up empty.
package captions

import (
	"context"
	"log"
	"strings"

	"videorag/core"
)

// Entry is a single caption cue.
type Entry struct {
	Text     string
	Start    float64
	Duration float64
}

// Track describes an available caption track for a video.
type Track struct {
	Lang         string
	Auto         bool
	Translatable bool
	// TranslationLangs enumerates the languages the track can be
	// machine-translated into; empty means the provider did not say,
	// and any target is assumed reachable.
	TranslationLangs []string
}

// TranslatesTo reports whether the track can be machine-translated
// into lang.
func (t Track) TranslatesTo(lang string) bool {
	if !t.Translatable {
		return false
	}
	if len(t.TranslationLangs) == 0 {
		return true
	}
	for _, l := range t.TranslationLangs {
		if baseLang(l) == baseLang(lang) {
			return true
		}
	}
	return false
}

// Provider lists the tracks a video offers and fetches the cues of one
// of them.
type Provider interface {
	ListTracks(ctx context.Context, videoID string) ([]Track, error)
	FetchTrack(ctx context.Context, videoID string, track Track) ([]Entry, error)
}

// Strategy is one attempt in the fallback chain.
type Strategy interface {
	Name() string
	// Attempt picks a track from the available set, or false when the
	// strategy does not apply.
	Attempt(tracks []Track) (Track, bool)
}

// languageVariants maps a base language to the regional codes tried
// after the exact code misses.
var languageVariants = map[string][]string{
	"en": {"en-US", "en-GB"},
}

// autoLanguages are the languages tried for auto-generated tracks, in
// preference order.
var autoLanguages = []string{"en", "es", "fr", "de", "pt", "it"}

type exactLang struct{ lang string }

func (s exactLang) Name() string { return "exact language " + s.lang }

func (s exactLang) Attempt(tracks []Track) (Track, bool) {
	for _, t := range tracks {
		if !t.Auto && strings.EqualFold(t.Lang, s.lang) {
			return t, true
		}
	}
	return Track{}, false
}

type langVariants struct{ lang string }

func (s langVariants) Name() string { return "language variants of " + s.lang }

func (s langVariants) Attempt(tracks []Track) (Track, bool) {
	for _, variant := range languageVariants[baseLang(s.lang)] {
		for _, t := range tracks {
			if !t.Auto && strings.EqualFold(t.Lang, variant) {
				return t, true
			}
		}
	}
	return Track{}, false
}

type autoGenerated struct{}

func (autoGenerated) Name() string { return "auto-generated captions" }

func (autoGenerated) Attempt(tracks []Track) (Track, bool) {
	for _, lang := range autoLanguages {
		for _, t := range tracks {
			if t.Auto && baseLang(t.Lang) == lang {
				return t, true
			}
		}
	}
	return Track{}, false
}

type anyTrack struct{ lang string }

func (s anyTrack) Name() string { return "any available track" }

// Tracks translatable into the target language come first; failing
// that, any track beats none.
func (s anyTrack) Attempt(tracks []Track) (Track, bool) {
	for _, t := range tracks {
		if t.TranslatesTo(s.lang) {
			return t, true
		}
	}
	if len(tracks) > 0 {
		return tracks[0], true
	}
	return Track{}, false
}

// Chain runs the fallback strategies in order against one provider.
type Chain struct {
	provider   Provider
	strategies []Strategy
}

// NewChain builds the standard chain for a preferred language: exact
// match, regional variants, auto-generated in common languages, then
// any track at all preferring translatable ones.
func NewChain(provider Provider, lang string) *Chain {
	return &Chain{
		provider: provider,
		strategies: []Strategy{
			exactLang{lang: lang},
			langVariants{lang: lang},
			autoGenerated{},
			anyTrack{lang: lang},
		},
	}
}

// Fetch returns the cues of the best available track, or nil when no
// strategy yields a usable track. Provider errors are logged and
// treated as a miss so the next strategy still runs.
func (c *Chain) Fetch(ctx context.Context, videoID string) ([]Entry, error) {
	tracks, err := c.provider.ListTracks(ctx, videoID)
	if err != nil {
		log.Printf("Caption track listing failed for %s: %v", videoID, err)
		return nil, nil
	}
	for _, s := range c.strategies {
		track, ok := s.Attempt(tracks)
		if !ok {
			continue
		}
		entries, err := c.provider.FetchTrack(ctx, videoID, track)
		if err != nil {
			log.Printf("Caption fetch (%s, track %s) failed for %s: %v", s.Name(), track.Lang, videoID, err)
			continue
		}
		if len(entries) > 0 {
			log.Printf("Captions for %s: %s (track %s)", videoID, s.Name(), track.Lang)
			return entries, nil
		}
	}
	return nil, nil
}

// Normalize converts caption cues into transcript content units,
// dropping cues with empty text. Each unit ends at start+duration.
func Normalize(videoID string, entries []Entry) []core.ContentUnit {
	units := make([]core.ContentUnit, 0, len(entries))
	for _, e := range entries {
		text := strings.TrimSpace(e.Text)
		if text == "" {
			continue
		}
		units = append(units, core.TranscriptUnit(videoID, len(units), text, e.Start, e.Start+e.Duration))
	}
	return units
}

func baseLang(lang string) string {
	if i := strings.IndexAny(lang, "-_"); i >= 0 {
		return strings.ToLower(lang[:i])
	}
	return strings.ToLower(lang)
}
