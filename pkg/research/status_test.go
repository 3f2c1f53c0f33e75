package research

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus_StringRoundTrip(t *testing.T) {
	for _, s := range []Status{
		Processing,
		StatusOf(StageGeneratingQueries),
		Searching(2, 5, "solar tariffs"),
		ProcessingResults(1, 1, "a: b"),
		StatusOf(StageNoResults),
	} {
		parsed, err := ParseStatus(s.String())
		require.NoError(t, err, s.String())
		assert.Equal(t, s, parsed)
	}
	assert.Equal(t, "searching: 2/5: solar tariffs", Searching(2, 5, "solar tariffs").String())
}

func TestParseStatus_Rejects(t *testing.T) {
	for _, raw := range []string{
		"",
		"thinking",
		"searching",
		"searching: x/2: q",
		"searching: 1-2: q",
		"completed: 1/1: q",
	} {
		_, err := ParseStatus(raw)
		assert.Error(t, err, raw)
	}
}

func TestStatus_JSON(t *testing.T) {
	b, err := json.Marshal(Searching(1, 3, "q"))
	require.NoError(t, err)
	assert.JSONEq(t, `"searching: 1/3: q"`, string(b))

	var s Status
	require.NoError(t, json.Unmarshal([]byte(`"generating_report"`), &s))
	assert.Equal(t, StatusOf(StageGeneratingReport), s)
}

func TestStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{Processing, StatusOf(StageGeneratingQueries), true},
		{StatusOf(StageGeneratingQueries), Searching(1, 2, "a"), true},
		{Searching(1, 2, "a"), ProcessingResults(1, 2, "a"), true},
		{ProcessingResults(1, 2, "a"), Searching(2, 2, "b"), true},
		{Searching(1, 2, "a"), Searching(2, 2, "b"), true},
		{Searching(2, 2, "b"), StatusOf(StageGeneratingReport), true},
		{StatusOf(StageGeneratingReport), StatusOf(StageCompleted), true},
		{StatusOf(StageGeneratingQueries), StatusOf(StageNoResults), true},
		{Searching(1, 1, "a"), StatusOf(StageError), true},

		{Searching(2, 2, "b"), Searching(1, 2, "a"), false},
		{ProcessingResults(1, 2, "a"), Searching(1, 2, "a"), false},
		{StatusOf(StageGeneratingQueries), Searching(3, 2, "a"), false},
		{StatusOf(StageGeneratingQueries), Searching(0, 2, "a"), false},
		{Searching(1, 1, "a"), StatusOf(StageCompleted), false},
		{StatusOf(StageGeneratingReport), StatusOf(StageGeneratingReport), false},
		{StatusOf(StageCompleted), StatusOf(StageError), false},
		{StatusOf(StageNoResults), Searching(1, 1, "a"), false},
		{StatusOf(StageError), StatusOf(StageNoResults), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.from.CanTransition(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestStage_Valid(t *testing.T) {
	assert.True(t, StageSearching.Valid())
	assert.True(t, StageNoResults.Valid())
	assert.False(t, Stage("running").Valid())
	assert.False(t, Stage("").Valid())
}
