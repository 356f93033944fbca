package planner

import (
	"strings"

	"vision-click/internal/entity"
)

const systemPrompt = `You are a vision-to-action tool. Given a single image, return ONLY this JSON with normalized coordinates in [0,1] relative to the image you received:
{
  "version":"1.0",
  "action":"click",
  "coords":{"space":"normalized","x": <float 0..1>,"y": <float 0..1>},
  "why":"<short>",
  "confidence": <0.0..1.0>
}
Rules:
- One JSON object. No extra text, no code fences.
- (0,0)=top-left, (1,1)=bottom-right.
- "action" is one of click, type, scroll, noop. Use scroll or noop without coords when the target is not visible.
- If uncertain, still output your best guess with confidence<=0.3.`

const strictNudge = "Return JSON only, no extra text."

// BuildPrompt returns the messages for one request. The strict variant is used for the single retry
// after an unparsable answer.
func BuildPrompt(goal string, strict bool) []entity.PromptMessage {
	var user strings.Builder

	user.WriteString("Goal: ")
	user.WriteString(strings.TrimSpace(goal))
	user.WriteString("\nReturn STRICT JSON with normalized x,y for the single best click to progress.")

	messages := make([]entity.PromptMessage, 0, 3)

	if strict {
		messages = append(messages, entity.PromptMessage{Role: entity.RoleSystem, Text: strictNudge})
	}

	return append(messages,
		entity.PromptMessage{Role: entity.RoleSystem, Text: systemPrompt},
		entity.PromptMessage{Role: entity.RoleUser, Text: user.String()},
	)
}
