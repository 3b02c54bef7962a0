package insights

import (
	"context"
	"io"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panelmind/panelmind/internal/storage"
)

type memInsightStore struct {
	insights []storage.Insight
}

func (m *memInsightStore) AddInsight(_ context.Context, ins *storage.Insight) error {
	m.insights = append(m.insights, *ins)
	return nil
}

func (m *memInsightStore) ListInsights(_ context.Context, userID string) ([]storage.Insight, error) {
	var out []storage.Insight
	for _, ins := range m.insights {
		if ins.UserID == userID {
			out = append(out, ins)
		}
	}
	return out, nil
}

func (m *memInsightStore) ResetCanvas(_ context.Context, userID string) error {
	kept := m.insights[:0]
	for _, ins := range m.insights {
		if ins.UserID != userID {
			kept = append(kept, ins)
		}
	}
	m.insights = kept
	return nil
}

func TestExtractor(t *testing.T) {
	e := NewExtractor()

	response := `You have already completed the literature review, which is solid progress.
Your next step should be to finalize the interview protocol before recruiting participants.
Be careful: a small sample size is a real limitation for generalizing your findings.
The weather is nice today.`

	candidates := e.Extract(response)
	require.NotEmpty(t, candidates)

	cats := make(map[Category]bool)
	for _, c := range candidates {
		cats[c.Category] = true
		assert.GreaterOrEqual(t, c.Confidence, minConfidence)
		assert.LessOrEqual(t, c.Confidence, 1.0)
		assert.NotEqual(t, "The weather is nice today", c.Content)
	}
	assert.True(t, cats[CategoryProgress])
	assert.True(t, cats[CategoryNextSteps])
}

func TestExtractor_NothingToFind(t *testing.T) {
	e := NewExtractor()
	assert.Empty(t, e.Extract("Hello! How can I help you today with your question?"))
	assert.Empty(t, e.Extract(""))
}

func TestExtractor_CapsPerResponse(t *testing.T) {
	e := NewExtractor()
	var text string
	for i := 0; i < 20; i++ {
		text += "Your next step should be to review chapter number " + string(rune('a'+i)) + " of the handbook carefully. "
	}
	assert.LessOrEqual(t, len(e.Extract(text)), maxPerResponse)
}

func TestCanvas_RecordAndGet(t *testing.T) {
	store := &memInsightStore{}
	canvas := NewCanvas(store, log.New(io.Discard))
	ctx := context.Background()

	added, err := canvas.Record(ctx, "user-1", "methodologist",
		"Your next step should be to draft the survey questions this week.")
	require.NoError(t, err)
	assert.Equal(t, 1, added)

	sections, err := canvas.Get(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, sections, 1)
	assert.Equal(t, CategoryNextSteps, sections[0].Category)
	assert.Equal(t, "methodologist", sections[0].Insights[0].SourcePersona)
}

func TestCanvas_DeduplicatesNearCopies(t *testing.T) {
	store := &memInsightStore{}
	canvas := NewCanvas(store, log.New(io.Discard))
	ctx := context.Background()

	_, err := canvas.Record(ctx, "user-1", "methodologist",
		"Your next step should be to draft the survey questions this week.")
	require.NoError(t, err)

	// Same advice from another persona, trivially reworded.
	added, err := canvas.Record(ctx, "user-1", "pragmatist",
		"Your next step should be to draft the survey questions this week!")
	require.NoError(t, err)
	assert.Zero(t, added)
	assert.Len(t, store.insights, 1)
}

func TestCanvas_DistinctContentKept(t *testing.T) {
	store := &memInsightStore{}
	canvas := NewCanvas(store, log.New(io.Discard))
	ctx := context.Background()

	_, err := canvas.Record(ctx, "user-1", "methodologist",
		"Your next step should be to draft the survey questions this week.")
	require.NoError(t, err)

	added, err := canvas.Record(ctx, "user-1", "methodologist",
		"Your next step should be to schedule a meeting with your faculty advisor.")
	require.NoError(t, err)
	assert.Equal(t, 1, added)
}

func TestCanvas_SectionOrdering(t *testing.T) {
	store := &memInsightStore{}
	canvas := NewCanvas(store, log.New(io.Discard))
	ctx := context.Background()

	// One progress insight against three theory insights: category priority
	// wins, not section size.
	seed := []storage.Insight{
		{ID: "i1", UserID: "user-1", Category: string(CategoryTheory), Content: "ground the framework in grounded theory"},
		{ID: "i2", UserID: "user-1", Category: string(CategoryTheory), Content: "compare against activity theory instead"},
		{ID: "i3", UserID: "user-1", Category: string(CategoryTheory), Content: "the paradigm shift literature is relevant"},
		{ID: "i4", UserID: "user-1", Category: string(CategoryProgress), Content: "the literature review is already complete"},
	}
	for i := range seed {
		require.NoError(t, store.AddInsight(ctx, &seed[i]))
	}

	sections, err := canvas.Get(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, sections, 2)

	assert.Equal(t, CategoryProgress, sections[0].Category)
	assert.Len(t, sections[0].Insights, 1)
	assert.Equal(t, CategoryTheory, sections[1].Category)
	assert.Len(t, sections[1].Insights, 3)
}

func TestCanvas_Reset(t *testing.T) {
	store := &memInsightStore{}
	canvas := NewCanvas(store, log.New(io.Discard))
	ctx := context.Background()

	_, err := canvas.Record(ctx, "user-1", "methodologist",
		"Your next step should be to draft the survey questions this week.")
	require.NoError(t, err)
	_, err = canvas.Record(ctx, "user-2", "methodologist",
		"Your next step should be to draft the survey questions this week.")
	require.NoError(t, err)

	require.NoError(t, canvas.Reset(ctx, "user-1"))

	sections, err := canvas.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, sections)

	sections, err = canvas.Get(ctx, "user-2")
	require.NoError(t, err)
	assert.NotEmpty(t, sections)
}
