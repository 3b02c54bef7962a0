// Package insights mines advisor responses for durable findings and
// maintains the per-user canvas they accumulate on.
package insights

import (
	"strings"
	"unicode"
)

// Category buckets a finding on the canvas. Declaration order is display
// priority.
type Category string

const (
	CategoryProgress    Category = "progress"
	CategoryNextSteps   Category = "next_steps"
	CategoryObstacles   Category = "obstacles"
	CategoryMethodology Category = "methodology"
	CategoryTheory      Category = "theory"
	CategoryResources   Category = "resources"
)

// Categories lists all categories in display priority order.
var Categories = []Category{
	CategoryProgress,
	CategoryNextSteps,
	CategoryObstacles,
	CategoryMethodology,
	CategoryTheory,
	CategoryResources,
}

// Candidate is an extracted finding before canvas deduplication.
type Candidate struct {
	Category   Category
	Content    string
	Confidence float64
}

// categoryCues maps each category to the phrases that signal it. A sentence
// is scored by how many cues it hits.
var categoryCues = map[Category][]string{
	CategoryProgress: {
		"you have already", "you've already", "good progress", "milestone",
		"completed", "accomplished", "so far you", "you have done",
	},
	CategoryNextSteps: {
		"next step", "you should", "i recommend", "i suggest", "start by",
		"your next", "follow up", "then you can", "consider doing",
	},
	CategoryObstacles: {
		"challenge", "obstacle", "risk", "difficulty", "problem is",
		"be careful", "watch out", "limitation", "pitfall", "blocker",
	},
	CategoryMethodology: {
		"method", "approach", "procedure", "protocol", "sample size",
		"data collection", "analysis technique", "research design",
		"qualitative", "quantitative", "survey", "interview",
	},
	CategoryTheory: {
		"theory", "theoretical", "framework", "concept", "literature",
		"hypothesis", "according to", "model of", "paradigm",
	},
	CategoryResources: {
		"read", "resource", "tool", "dataset", "paper by", "book",
		"library", "software", "course", "tutorial",
	},
}

const (
	minSentenceLen = 25
	maxSentenceLen = 400
	minConfidence  = 0.4
	perCueBoost    = 0.2
	baseConfidence = 0.3
	maxPerResponse = 5
)

// Extractor mines findings from advisor text with cue-phrase rules. Rules
// keep extraction deterministic and free of a second model call per turn.
type Extractor struct{}

// NewExtractor creates a rule-based extractor.
func NewExtractor() *Extractor { return &Extractor{} }

// Extract returns the highest-confidence findings in the response, at most
// maxPerResponse of them.
func (e *Extractor) Extract(response string) []Candidate {
	var out []Candidate
	for _, sentence := range splitSentences(response) {
		if len(sentence) < minSentenceLen || len(sentence) > maxSentenceLen {
			continue
		}
		cat, conf := classify(sentence)
		if conf < minConfidence {
			continue
		}
		out = append(out, Candidate{Category: cat, Content: sentence, Confidence: conf})
		if len(out) == maxPerResponse {
			break
		}
	}
	return out
}

// classify picks the best-matching category for a sentence.
func classify(sentence string) (Category, float64) {
	lower := strings.ToLower(sentence)

	var (
		best     Category
		bestHits int
	)
	for _, cat := range Categories {
		hits := 0
		for _, cue := range categoryCues[cat] {
			if strings.Contains(lower, cue) {
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = cat, hits
		}
	}
	if bestHits == 0 {
		return "", 0
	}

	conf := baseConfidence + perCueBoost*float64(bestHits)
	if conf > 1 {
		conf = 1
	}
	return best, conf
}

// splitSentences breaks text on sentence-ending punctuation and newlines,
// trimming list markers.
func splitSentences(text string) []string {
	var (
		out []string
		sb  strings.Builder
	)
	flush := func() {
		s := strings.TrimSpace(sb.String())
		s = strings.TrimLeft(s, "-*•0123456789. \t")
		if s != "" {
			out = append(out, s)
		}
		sb.Reset()
	}
	for _, r := range text {
		switch r {
		case '.', '!', '?', '\n':
			if r != '\n' {
				sb.WriteRune(r)
			}
			flush()
		default:
			if sb.Len() == 0 && unicode.IsSpace(r) {
				continue
			}
			sb.WriteRune(r)
		}
	}
	flush()
	return out
}
