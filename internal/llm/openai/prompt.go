package openai

import (
	"fmt"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"

	"claims-backend/internal/claims"
	"claims-backend/internal/llm"
)

const systemPrompt = "You are a restoration claim report auditor. Respond with JSON only. No markdown. Never omit keys."

const instructions = `Read the restoration report below and return one JSON object with this shape:
{
  "fields": {
    "claimNumber": string,
    "propertyAddress": string,
    "technicianName": string,
    "dateOfLoss": "YYYY-MM-DD",
    "inspectionDate": "YYYY-MM-DD",
    "insurerName": string
  },
  "reportType": one of WATER_DAMAGE | MOULD | FIRE_SMOKE | BIOHAZARD | GENERAL,
  "gapCandidates": [
    {"elementType": snake_case string, "description": string, "category": string, "severity": CRITICAL | HIGH | MEDIUM | LOW}
  ],
  "confidence": number between 0 and 1
}
Rules:
- Use "" for any field not stated in the report. Never guess.
- A gap is an element a compliant report for this job type should contain but this one does not.
- Prefer these element types when they apply: %s.
- category must be one of: %s.
- confidence reflects how legible and complete the source text was.`

// BuildMessages creates the chat messages for one extraction request.
func BuildMessages(input llm.ExtractInput, knownTypes []string, maxChars int) []goopenai.ChatCompletionMessage {
	categories := make([]string, 0, len(claims.Categories))
	for _, c := range claims.Categories {
		categories = append(categories, string(c))
	}
	developer := fmt.Sprintf(instructions, strings.Join(knownTypes, ", "), strings.Join(categories, ", "))

	var user strings.Builder
	if input.ReportTypeHint != "" {
		fmt.Fprintf(&user, "Report type hint: %s (%s)\n", input.ReportTypeHint, input.ReportTypeHint.Standard())
	}
	if input.FileName != "" {
		fmt.Fprintf(&user, "File: %s\n", input.FileName)
	}
	user.WriteString("### REPORT TEXT ###\n")
	user.WriteString(llm.Truncate(input.Text, maxChars))

	return []goopenai.ChatCompletionMessage{
		{Role: goopenai.ChatMessageRoleSystem, Content: systemPrompt},
		{Role: goopenai.ChatMessageRoleSystem, Content: developer},
		{Role: goopenai.ChatMessageRoleUser, Content: user.String()},
	}
}
