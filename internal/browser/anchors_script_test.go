package browser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoalTokens(t *testing.T) {
	assert.Equal(t, []string{"click", "the", "more", "information", "link"}, goalTokens("Click the 'More information...' link"))
	assert.Empty(t, goalTokens("go to a"))
}

func TestBestAnchor(t *testing.T) {
	anchors := []anchor{
		{Index: 0, Text: "Home", Visible: true},
		{Index: 1, Text: "Pricing", Visible: true},
		{Index: 2, Text: "More information...", Href: "https://www.iana.org/domains/example", Visible: true},
	}

	tests := []struct {
		name  string
		goal  string
		index int
		score int
	}{
		{name: "best match", goal: "click the more information link", index: 2, score: 2},
		{name: "case insensitive", goal: "PRICING page", index: 1, score: 1},
		{name: "no match keeps first", goal: "sign up", index: 0, score: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			best, score, ok := bestAnchor(anchors, tt.goal)
			require.True(t, ok)
			assert.Equal(t, tt.index, best.Index)
			assert.Equal(t, tt.score, score)
		})
	}
}

func TestBestAnchor_PrefersVisibleOnTie(t *testing.T) {
	best, _, ok := bestAnchor([]anchor{
		{Index: 0, Text: "Login", Visible: false},
		{Index: 1, Text: "Login", Visible: true},
	}, "login")
	require.True(t, ok)
	assert.Equal(t, 1, best.Index)
}

func TestBestAnchor_Empty(t *testing.T) {
	_, _, ok := bestAnchor(nil, "anything")
	assert.False(t, ok)
}

func TestParseAnchors(t *testing.T) {
	anchors := parseAnchors([]interface{}{
		map[string]interface{}{"index": float64(0), "text": "Docs", "href": "/docs", "visible": true},
		"garbage",
		map[string]interface{}{"index": 3, "text": "Blog"},
	})

	require.Len(t, anchors, 2)
	assert.Equal(t, anchor{Index: 0, Text: "Docs", Href: "/docs", Visible: true}, anchors[0])
	assert.Equal(t, 3, anchors[1].Index)
	assert.False(t, anchors[1].Visible)

	assert.Nil(t, parseAnchors(nil))
}

func TestAnchorsScript_IndexesLocatorElements(t *testing.T) {
	assert.True(t, strings.HasPrefix(anchorsScript, "(links) => links.map("))
	assert.NotContains(t, anchorsScript, "querySelector")

	_, _, ok := bestAnchor(parseAnchors([]interface{}{}), "click docs")
	assert.False(t, ok)
}
