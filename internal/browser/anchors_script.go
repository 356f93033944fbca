package browser

import (
	"regexp"
	"strings"
)

// anchorsScript describes the links a locator resolved to. It runs through EvaluateAll, so index
// matches Nth on the same locator.
const anchorsScript = `(links) => links.map((a, index) => {
	const rect = a.getBoundingClientRect();
	const style = window.getComputedStyle(a);

	return {
		index: index,
		text: (a.innerText || a.textContent || '').trim(),
		href: a.getAttribute('href') || '',
		visible: rect.width > 0 && rect.height > 0 && style.display !== 'none' && style.visibility !== 'hidden',
	};
})`

type anchor struct {
	Index   int
	Text    string
	Href    string
	Visible bool
}

var tokenSplit = regexp.MustCompile(`[^a-z0-9]+`)

// goalTokens keeps lowercase alphanumeric words of three or more characters.
func goalTokens(goal string) []string {
	var tokens []string

	for _, t := range tokenSplit.Split(strings.ToLower(goal), -1) {
		if len(t) >= 3 {
			tokens = append(tokens, t)
		}
	}

	return tokens
}

// bestAnchor picks the anchor whose text contains the most goal tokens. Ties keep document order,
// and visible anchors win over hidden ones with the same score.
func bestAnchor(anchors []anchor, goal string) (anchor, int, bool) {
	if len(anchors) == 0 {
		return anchor{}, 0, false
	}

	tokens := goalTokens(goal)

	best, bestScore, found := anchor{}, -1, false
	for _, a := range anchors {
		text := strings.ToLower(a.Text)

		score := 0
		for _, t := range tokens {
			if strings.Contains(text, t) {
				score++
			}
		}

		if score > bestScore || (score == bestScore && a.Visible && !best.Visible) {
			best, bestScore, found = a, score, true
		}
	}

	return best, bestScore, found
}

func parseAnchors(result any) []anchor {
	items, ok := result.([]interface{})
	if !ok {
		return nil
	}

	anchors := make([]anchor, 0, len(items))

	for _, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}

		anchors = append(anchors, anchor{
			Index:   int(getFloat(m, "index")),
			Text:    getString(m, "text"),
			Href:    getString(m, "href"),
			Visible: getBool(m, "visible"),
		})
	}

	return anchors
}

func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}

	return ""
}

func getBool(m map[string]interface{}, key string) bool {
	if v, ok := m[key].(bool); ok {
		return v
	}

	return false
}

func getFloat(m map[string]interface{}, key string) float64 {
	if v, ok := m[key].(float64); ok {
		return v
	}

	if v, ok := m[key].(int); ok {
		return float64(v)
	}

	return 0
}
