package recovery

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caplearn/capsulegen/pkg/capsulegen/generr"
)

type outline struct {
	Title   string   `json:"title"`
	Modules []string `json:"modules"`
}

func TestExtractDirect(t *testing.T) {
	got, err := Extract[outline](`{"title":"Photosynthesis","modules":["Light","Dark"]}`)
	require.NoError(t, err)
	assert.Equal(t, StrategyDirect, got.Strategy)
	assert.False(t, got.Repaired)
	assert.Equal(t, "Photosynthesis", got.Value.Title)
}

func TestExtractCodeFence(t *testing.T) {
	raw := "```json\n{\"title\":\"X\",\"modules\":[]}\n```"
	got, err := Extract[outline](raw)
	require.NoError(t, err)
	assert.Equal(t, StrategyFence, got.Strategy)
	assert.False(t, got.Repaired)
	assert.Equal(t, "X", got.Value.Title)
}

func TestExtractPreambleAndFence(t *testing.T) {
	// The shape models produce most often: chatty preamble plus a fenced block.
	raw := "Here is the json:\n```json\n{\"title\":\"X\",\"modules\":[\"A\"]}\n```"
	got, err := Extract[outline](raw)
	require.NoError(t, err)
	assert.False(t, got.Repaired, "fence stripping is extraction, not repair")
	assert.Equal(t, "X", got.Value.Title)
}

func TestExtractBalancedSpan(t *testing.T) {
	raw := `Sure! The outline you asked for is {"title":"Y","modules":["M1"]} - let me know.`
	got, err := Extract[outline](raw)
	require.NoError(t, err)
	assert.Equal(t, StrategyBalanced, got.Strategy)
	assert.Equal(t, "Y", got.Value.Title)
}

func TestExtractBalancedSpanHonorsStrings(t *testing.T) {
	// Braces and escapes inside string literals must not confuse the scanner.
	raw := `noise {"title":"has } and \" inside","modules":[]} trailing`
	got, err := Extract[outline](raw)
	require.NoError(t, err)
	assert.Equal(t, `has } and " inside`, got.Value.Title)
}

func TestExtractTrailingComma(t *testing.T) {
	got, err := Extract[outline](`{"title":"Z","modules":["A","B",],}`)
	require.NoError(t, err)
	assert.Equal(t, StrategyRepair, got.Strategy)
	assert.True(t, got.Repaired)
	assert.Contains(t, got.Repairs, "remove_trailing_commas")
	assert.Equal(t, []string{"A", "B"}, got.Value.Modules)
}

func TestExtractSingleQuotes(t *testing.T) {
	got, err := Extract[map[string]string](`{'title': 'X'}`)
	require.NoError(t, err)
	assert.True(t, got.Repaired)
	assert.Contains(t, got.Repairs, "single_to_double_quotes")
	assert.Equal(t, "X", got.Value["title"])
}

func TestExtractUnquotedKeys(t *testing.T) {
	got, err := Extract[map[string]any](`{title: "X", count: 3}`)
	require.NoError(t, err)
	assert.True(t, got.Repaired)
	assert.Contains(t, got.Repairs, "quote_unquoted_keys")
	assert.Equal(t, "X", got.Value["title"])
}

func TestExtractBareNewlineInString(t *testing.T) {
	got, err := Extract[map[string]string]("{\"text\": \"line one\nline two\"}")
	require.NoError(t, err)
	assert.True(t, got.Repaired)
	assert.Equal(t, "line one\nline two", got.Value["text"])
}

func TestExtractFailure(t *testing.T) {
	_, err := Extract[outline]("I could not produce an outline for this topic.")
	require.Error(t, err)

	var ge *generr.Error
	require.True(t, errors.As(err, &ge))
	assert.Equal(t, generr.KindJSONMalformed, ge.Kind)
	assert.NotEmpty(t, ge.Context["strategies_attempted"])
	assert.NotEmpty(t, ge.Context["raw_prefix"])
}

func TestExtractFailureTruncatesRaw(t *testing.T) {
	long := make([]byte, 5000)
	for i := range long {
		long[i] = 'x'
	}
	_, err := Extract[outline](string(long))
	require.Error(t, err)

	var ge *generr.Error
	require.True(t, errors.As(err, &ge))
	assert.Len(t, ge.Context["raw_prefix"], 1000)
}

func TestRepairTextCombined(t *testing.T) {
	repaired, applied := repairText(`{'a': 'x', b: 2,}`)
	assert.Contains(t, applied, "single_to_double_quotes")
	assert.Contains(t, applied, "quote_unquoted_keys")
	assert.Contains(t, applied, "remove_trailing_commas")
	assert.JSONEq(t, `{"a":"x","b":2}`, repaired)
}

func TestExtractLibraryFallback(t *testing.T) {
	// Unterminated string: none of the cheap fixes apply, the repair
	// library has to finish the job.
	got, err := Extract[map[string]string](`{"title": "unfinished`)
	require.NoError(t, err)
	assert.Equal(t, StrategyLibrary, got.Strategy)
	assert.True(t, got.Repaired)
}
