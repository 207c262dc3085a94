package intent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	assert.Equal(t, SelectOption, Parse("SELECT-OPTION"))
	assert.Equal(t, ConversationSummary, Parse(" conversation summary "))
	assert.Equal(t, Unclear, Parse("launch_rocket"))
	assert.Equal(t, Unclear, Parse(""))
	assert.True(t, ExitWorkflow.WorkflowScoped())
	assert.False(t, Analyze.WorkflowScoped())
	assert.Len(t, Taxonomy(), 11)
}

func TestMatch(t *testing.T) {
	choices := []Choice{
		{Value: "weekly", Aliases: []string{"week"}},
		{Value: "monthly", Aliases: []string{"month"}},
		{Value: "5", Aliases: []string{"5%", "five percent"}},
	}

	cases := map[string]string{
		"Weekly":       "weekly",
		"weekly.":      "weekly",
		"  MONTH ":     "monthly",
		"weely":        "weekly",
		"5%":           "5",
		"five-percent": "5",
	}
	for in, want := range cases {
		got, ok := Match(choices, in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}

	for _, in := range []string{"", "yearly", "6", "weekly or monthly"} {
		_, ok := Match(choices, in)
		assert.False(t, ok, in)
	}
}

func TestMatchRejectsAmbiguousTypos(t *testing.T) {
	choices := []Choice{{Value: "rank"}, {Value: "bank"}}
	_, ok := Match(choices, "tank")
	assert.False(t, ok)
}

func TestWithinOneEdit(t *testing.T) {
	assert.True(t, withinOneEdit("county", "county"))
	assert.True(t, withinOneEdit("conty", "county"))
	assert.True(t, withinOneEdit("countyy", "county"))
	assert.True(t, withinOneEdit("countx", "county"))
	assert.False(t, withinOneEdit("cuonty", "county"))
	assert.False(t, withinOneEdit("cty", "county"))
}

func TestControlWordsRequireExactMatch(t *testing.T) {
	for _, typo := range []string{"edit", "rest", "quiet", "stpo"} {
		got, ok := fastPath(typo, geography)
		if ok {
			assert.NotEqual(t, ExitWorkflow, got.Type, typo)
			assert.NotEqual(t, RestartWorkflow, got.Type, typo)
		}
	}

	got, ok := fastPath("Exit", geography)
	assert.True(t, ok)
	assert.Equal(t, ExitWorkflow, got.Type)

	got, ok = fastPath("start over", geography)
	assert.True(t, ok)
	assert.Equal(t, RestartWorkflow, got.Type)
}
