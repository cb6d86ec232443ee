package ai

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const analysisBodyLimit = 4000

// buildAnalysisPrompt renders the shared prompt used by every provider, so
// switching providers never changes the shape of the output.
func buildAnalysisPrompt(input AnalysisInput) string {
	body := input.Body
	if runes := []rune(body); len(runes) > analysisBodyLimit {
		body = string(runes[:analysisBodyLimit])
	}

	return fmt.Sprintf(`You are an email triage assistant. Analyze the email below and return a single JSON object with exactly these fields:

- "category": one of "work", "personal", "finance", "promotions", "social", "updates", "other"
- "priority": one of "high", "medium", "low"
- "sentiment": one of "positive", "neutral", "negative"
- "draft_reply": a short suggested reply (1-3 sentences) if the email expects a response, otherwise an empty string
- "confidence": a number between 0 and 1

Return ONLY the JSON object, no other text.

FROM: %s
SUBJECT: %s
BODY:
%s

JSON OUTPUT:`, input.Sender, input.Subject, body)
}

// parseAnalysisJSON extracts the JSON object from a model response that may
// be wrapped in markdown fences or surrounding prose.
func parseAnalysisJSON(responseText, model string) (*EmailAnalysis, error) {
	responseText = strings.TrimSpace(responseText)
	if strings.HasPrefix(responseText, "```json") {
		responseText = strings.TrimPrefix(responseText, "```json")
		responseText = strings.TrimSuffix(responseText, "```")
	} else if strings.HasPrefix(responseText, "```") {
		responseText = strings.TrimPrefix(responseText, "```")
		responseText = strings.TrimSuffix(responseText, "```")
	}
	responseText = strings.TrimSpace(responseText)

	jsonStart := strings.Index(responseText, "{")
	jsonEnd := strings.LastIndex(responseText, "}")
	if jsonStart != -1 && jsonEnd != -1 && jsonEnd > jsonStart {
		responseText = responseText[jsonStart : jsonEnd+1]
	}

	var raw struct {
		Category   string  `json:"category"`
		Priority   string  `json:"priority"`
		Sentiment  string  `json:"sentiment"`
		DraftReply string  `json:"draft_reply"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(responseText), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse analysis JSON: %v", err)
	}

	analysis := &EmailAnalysis{
		Category:   strings.ToLower(strings.TrimSpace(raw.Category)),
		Priority:   strings.ToLower(strings.TrimSpace(raw.Priority)),
		Sentiment:  strings.ToLower(strings.TrimSpace(raw.Sentiment)),
		DraftReply: strings.TrimSpace(raw.DraftReply),
		Confidence: raw.Confidence,
		ModelUsed:  model,
		AnalyzedAt: time.Now(),
	}

	if analysis.Category == "" {
		analysis.Category = "other"
	}
	switch analysis.Priority {
	case "high", "medium", "low":
	default:
		analysis.Priority = "medium"
	}
	switch analysis.Sentiment {
	case "positive", "neutral", "negative":
	default:
		analysis.Sentiment = "neutral"
	}
	if analysis.Confidence < 0 {
		analysis.Confidence = 0
	}
	if analysis.Confidence > 1 {
		analysis.Confidence = 1
	}

	return analysis, nil
}
