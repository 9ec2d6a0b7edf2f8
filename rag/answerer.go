package rag

import (
	"context"
	"fmt"
	"log"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"videorag/ai"
	"videorag/config"
	"videorag/core"
	"videorag/storage"
)

// Answerer produces grounded chat answers over a single video.
type Answerer struct {
	Retriever *Retriever
	Generator ai.Generator
	Cfg       *config.Config
}

// Answer retrieves context for the question, generates a grounded
// response and extracts the timestamp references it cites. Retrieval
// runs once per kind so a run of strong visual matches cannot crowd
// the transcript out of the context, and vice versa. An empty context
// short-circuits to an apology without calling the model.
func (a *Answerer) Answer(ctx context.Context, videoID, question string, history []core.ChatMessage) (core.QueryResult, error) {
	transcripts, err := a.Retriever.Search(ctx, question,
		storage.Filter{VideoID: videoID, Kinds: []core.ContentKind{core.KindTranscript}}, a.Cfg.MaxContextTranscripts)
	if err != nil {
		return core.QueryResult{}, err
	}
	visuals, err := a.Retriever.Search(ctx, question,
		storage.Filter{VideoID: videoID, Kinds: []core.ContentKind{core.KindVisual}}, a.Cfg.MaxContextFrames)
	if err != nil {
		return core.QueryResult{}, err
	}
	results := append(transcripts, visuals...)

	contextText, candidates, sources := a.buildContext(results)
	if contextText == "" {
		return core.QueryResult{
			Answer:     fmt.Sprintf("I couldn't find relevant content in the video to answer your question: '%s'", question),
			Sources:    nil,
			Confidence: a.Cfg.LowConfidence,
			Timestamps: []float64{},
		}, nil
	}

	prompt := a.buildPrompt(contextText, question, history)
	answer, err := a.Generator.Generate(ctx, prompt)
	if err != nil {
		log.Printf("Warning: answer generation failed for %s: %v", videoID, err)
		answer = fmt.Sprintf("I found relevant content but encountered an error generating the response: %v", err)
	}

	return core.QueryResult{
		Answer:     answer,
		Sources:    sources,
		Confidence: a.Cfg.HighConfidence,
		Timestamps: ExtractTimestamps(answer, candidates, a.Cfg.TimestampTolerance),
	}, nil
}

// buildContext renders the retrieved units into the prompt context,
// bounded per kind, and collects the candidate timestamps the answer
// may reference.
func (a *Answerer) buildContext(results []core.SearchResult) (string, []float64, []core.SearchResult) {
	var transcripts, visuals []core.SearchResult
	for _, res := range results {
		switch res.Kind {
		case core.KindTranscript:
			if len(transcripts) < a.Cfg.MaxContextTranscripts {
				transcripts = append(transcripts, res)
			}
		case core.KindVisual:
			if res.Score >= a.Cfg.VisualRelevanceCutoff && len(visuals) < a.Cfg.MaxContextFrames {
				visuals = append(visuals, res)
			}
		}
	}
	if len(transcripts) == 0 && len(visuals) == 0 {
		return "", nil, nil
	}

	var parts []string
	var candidates []float64
	var used []core.SearchResult
	if len(transcripts) > 0 {
		parts = append(parts, "Transcript:")
		for _, res := range transcripts {
			parts = append(parts, fmt.Sprintf("[%.1fs]: %s", res.Timestamp, res.Content))
			candidates = append(candidates, res.Timestamp)
			used = append(used, res)
		}
	}
	if len(visuals) > 0 {
		parts = append(parts, "Visual content:")
		for _, res := range visuals {
			parts = append(parts, fmt.Sprintf("[%.1fs]: %s", res.Timestamp, res.Content))
			candidates = append(candidates, res.Timestamp)
			used = append(used, res)
		}
	}
	return strings.Join(parts, "\n"), candidates, used
}

func (a *Answerer) buildPrompt(contextText, question string, history []core.ChatMessage) string {
	var sb strings.Builder
	sb.WriteString("You are analyzing video content. Use the provided information to answer accurately.\n\n")
	sb.WriteString("Video Context:\n")
	sb.WriteString(contextText)
	sb.WriteString("\n")

	if len(history) > 0 {
		turns := history
		if n := a.Cfg.MaxHistoryTurns; len(turns) > n {
			turns = turns[len(turns)-n:]
		}
		sb.WriteString("\nPrevious conversation:\n")
		for _, msg := range turns {
			sb.WriteString(msg.Role)
			sb.WriteString(": ")
			sb.WriteString(msg.Content)
			sb.WriteString("\n")
		}
	}

	sb.WriteString("\nUser Question: ")
	sb.WriteString(question)
	sb.WriteString("\n\nAnswer based on the video content. Reference timestamps when relevant (format: [MM:SS]).")
	return sb.String()
}

var timestampPattern = regexp.MustCompile(`\[(\d{1,2}):(\d{2})\]`)

// ExtractTimestamps pulls [MM:SS] references out of an answer and
// snaps each to the nearest candidate timestamp within the tolerance.
// References with no candidate close enough are dropped. The result is
// deduplicated and sorted ascending.
func ExtractTimestamps(answer string, candidates []float64, tolerance float64) []float64 {
	out := []float64{}
	if len(candidates) == 0 {
		return out
	}
	seen := map[float64]bool{}
	for _, m := range timestampPattern.FindAllStringSubmatch(answer, -1) {
		minutes, _ := strconv.Atoi(m[1])
		seconds, _ := strconv.Atoi(m[2])
		ts := float64(minutes*60 + seconds)

		closest := candidates[0]
		for _, c := range candidates[1:] {
			if math.Abs(c-ts) < math.Abs(closest-ts) {
				closest = c
			}
		}
		if math.Abs(closest-ts) <= tolerance && !seen[closest] {
			seen[closest] = true
			out = append(out, closest)
		}
	}
	sort.Float64s(out)
	return out
}
