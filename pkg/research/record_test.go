package research

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestRecord(t *testing.T) *Record {
	t.Helper()
	rec, err := NewRecord(Params{Query: "solid state batteries", Model: "gemini-1.5-pro", MaxSearches: 2}, t0)
	require.NoError(t, err)
	return rec
}

func TestParams_Validate(t *testing.T) {
	ok := Params{Query: "q", Model: "gemini-1.5-pro"}
	assert.NoError(t, ok.Validate())

	for name, p := range map[string]Params{
		"blank query":  {Query: "   ", Model: "gemini-1.5-pro"},
		"long query":   {Query: strings.Repeat("é", MaxQueryLength+1), Model: "gemini-1.5-pro"},
		"negative max": {Query: "q", Model: "gemini-1.5-pro", MaxSearches: -1},
		"no model":     {Query: "q"},
	} {
		assert.ErrorIs(t, p.Validate(), ErrInvalidQuery, name)
	}

	atLimit := Params{Query: strings.Repeat("é", MaxQueryLength), Model: "gemini-1.5-pro"}
	assert.NoError(t, atLimit.Validate())
}

func TestNewRecord(t *testing.T) {
	rec := newTestRecord(t)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, Processing, rec.Status)
	assert.NotNil(t, rec.Learnings)
	assert.Equal(t, t0, rec.CreatedAt)
	assert.Equal(t, "gemini-1.5-pro", rec.DistillModel())

	rec.SearchModel = "gpt-4o"
	assert.Equal(t, "gpt-4o", rec.DistillModel())

	other := newTestRecord(t)
	assert.NotEqual(t, rec.ID, other.ID)
}

func TestRecord_TransitionBumpsUpdatedAt(t *testing.T) {
	rec := newTestRecord(t)
	t1 := t0.Add(time.Minute)

	require.NoError(t, rec.Transition(StatusOf(StageGeneratingQueries), t1))
	assert.Equal(t, t1, rec.UpdatedAt)

	err := rec.Transition(Processing, t1.Add(time.Minute))
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, t1, rec.UpdatedAt)
}

func TestRecord_LearningsFrozenWhenTerminal(t *testing.T) {
	rec := newTestRecord(t)
	require.NoError(t, rec.AppendLearnings(t0, "a", "b"))
	require.NoError(t, rec.Transition(StatusOf(StageNoResults), t0))

	assert.ErrorIs(t, rec.AppendLearnings(t0, "c"), ErrFrozen)
	assert.Equal(t, []string{"a", "b"}, rec.Learnings)
}

func TestRecord_ReportAndErrorExclusive(t *testing.T) {
	rec := newTestRecord(t)
	require.NoError(t, rec.Transition(StatusOf(StageGeneratingReport), t0))
	require.NoError(t, rec.Complete("# Report", t0))
	assert.Equal(t, StatusOf(StageCompleted), rec.Status)
	assert.Error(t, rec.Fail("late failure", t0))
	assert.Empty(t, rec.Error)

	failed := newTestRecord(t)
	require.NoError(t, failed.Fail("boom", t0))
	assert.Equal(t, StatusOf(StageError), failed.Status)
	assert.Error(t, failed.Complete("report", t0))
	assert.Empty(t, failed.Report)
}

func TestRecord_CompleteOnlyAfterReportStage(t *testing.T) {
	rec := newTestRecord(t)
	assert.ErrorIs(t, rec.Complete("too early", t0), ErrInvalidTransition)
	assert.Empty(t, rec.Report)
}

func TestRecord_CloneIsDeep(t *testing.T) {
	rec := newTestRecord(t)
	require.NoError(t, rec.AppendLearnings(t0, "a"))

	c := rec.Clone()
	c.Learnings[0] = "changed"
	assert.Equal(t, "a", rec.Learnings[0])
}

func TestParseSerpQueries(t *testing.T) {
	got := ParseSerpQueries(`Sure! Here you go:
[{"query":"a","researchGoal":"b"}]
Hope this helps.`, "fallback topic")
	assert.Equal(t, []SerpQuery{{Query: "a", ResearchGoal: "b"}}, got)

	got = ParseSerpQueries("I cannot produce JSON today.", "fallback topic")
	assert.Equal(t, []SerpQuery{{Query: "fallback topic", ResearchGoal: "Research the main query"}}, got)

	got = ParseSerpQueries("[not, json]", "fallback topic")
	assert.Equal(t, "fallback topic", got[0].Query)

	got = ParseSerpQueries("```json\n[{\"query\":\"x\"},{\"query\":\"  \"},{\"query\":\"y\",\"researchGoal\":\"g\"}]\n```", "fallback topic")
	assert.Equal(t, []SerpQuery{
		{Query: "x", ResearchGoal: "Research this topic thoroughly"},
		{Query: "y", ResearchGoal: "g"},
	}, got)
}

func TestExtractLearnings(t *testing.T) {
	got := ExtractLearnings("# Learnings\n\n- one  \n   two\n## Sub\n\t\nthree")
	assert.Equal(t, []string{"- one", "two", "three"}, got)
	assert.Empty(t, ExtractLearnings("\n# only heading\n"))
}
