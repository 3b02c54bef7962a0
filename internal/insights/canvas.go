package insights

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/panelmind/panelmind/internal/storage"
)

// Near-duplicate threshold: insights whose contents are at least this
// similar (normalized Levenshtein) collapse into one canvas entry.
const dedupSimilarity = 0.8

// InsightStore is the slice of the session store the canvas needs.
type InsightStore interface {
	AddInsight(ctx context.Context, insight *storage.Insight) error
	ListInsights(ctx context.Context, userID string) ([]storage.Insight, error)
	ResetCanvas(ctx context.Context, userID string) error
}

// Section groups a user's insights under one category for display.
type Section struct {
	Category Category          `json:"category"`
	Insights []storage.Insight `json:"insights"`
}

// Canvas accumulates deduplicated insights per user across all sessions.
type Canvas struct {
	store     InsightStore
	extractor *Extractor
	logger    *log.Logger
}

// NewCanvas creates the canvas service.
func NewCanvas(store InsightStore, logger *log.Logger) *Canvas {
	return &Canvas{
		store:     store,
		extractor: NewExtractor(),
		logger:    logger.With("component", "canvas"),
	}
}

// Record extracts insights from an advisor response and appends the novel
// ones to the user's canvas. Extraction failures never fail a turn; errors
// here are logged upstream, not surfaced to the chat.
func (c *Canvas) Record(ctx context.Context, userID, personaID, response string) (int, error) {
	candidates := c.extractor.Extract(response)
	if len(candidates) == 0 {
		return 0, nil
	}

	existing, err := c.store.ListInsights(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to list insights: %w", err)
	}

	added := 0
	for _, cand := range candidates {
		if isDuplicate(cand, existing) {
			continue
		}
		insight := &storage.Insight{
			ID:            uuid.NewString(),
			UserID:        userID,
			Category:      string(cand.Category),
			Content:       cand.Content,
			SourcePersona: personaID,
			Confidence:    cand.Confidence,
			CreatedAt:     time.Now().UTC(),
		}
		if err := c.store.AddInsight(ctx, insight); err != nil {
			return added, fmt.Errorf("failed to add insight: %w", err)
		}
		existing = append(existing, *insight)
		added++
	}

	if added > 0 {
		c.logger.Debug("canvas updated", "user_id", userID, "added", added)
	}
	return added, nil
}

// Get returns the user's canvas as ordered sections. Empty categories are
// omitted; sections sort by category priority, insight count descending
// breaks ties.
func (c *Canvas) Get(ctx context.Context, userID string) ([]Section, error) {
	insights, err := c.store.ListInsights(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list insights: %w", err)
	}

	byCategory := make(map[Category][]storage.Insight)
	for _, ins := range insights {
		cat := Category(ins.Category)
		byCategory[cat] = append(byCategory[cat], ins)
	}

	priority := make(map[Category]int, len(Categories))
	for i, cat := range Categories {
		priority[cat] = i
	}

	sections := make([]Section, 0, len(byCategory))
	for _, cat := range Categories {
		if list, ok := byCategory[cat]; ok {
			sections = append(sections, Section{Category: cat, Insights: list})
		}
	}
	sort.SliceStable(sections, func(i, j int) bool {
		if priority[sections[i].Category] != priority[sections[j].Category] {
			return priority[sections[i].Category] < priority[sections[j].Category]
		}
		return len(sections[i].Insights) > len(sections[j].Insights)
	})
	return sections, nil
}

// Reset clears the user's canvas.
func (c *Canvas) Reset(ctx context.Context, userID string) error {
	return c.store.ResetCanvas(ctx, userID)
}

// isDuplicate reports whether a candidate is a near-copy of an insight
// already on the canvas. Same category plus fuzzy content match counts as a
// duplicate.
func isDuplicate(cand Candidate, existing []storage.Insight) bool {
	for _, ins := range existing {
		if ins.Category != string(cand.Category) {
			continue
		}
		if similar(cand.Content, ins.Content) {
			return true
		}
	}
	return false
}

func similar(a, b string) bool {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == b {
		return true
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return true
	}

	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	if longest == 0 {
		return true
	}
	dist := fuzzy.LevenshteinDistance(a, b)
	return 1-float64(dist)/float64(longest) >= dedupSimilarity
}
