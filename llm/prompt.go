package llm

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"newswatch/domain"
)

const analysisPromptTemplate = `<start_of_turn>user
You are a financial and geopolitical news analyst. Analyze the article below and respond with a single JSON object, no prose, matching exactly this shape:

{
  "sentiment": {
    "overall": {"label": "positive|neutral|negative", "score": -1.0..1.0, "confidence": 0.0..1.0},
    "market": {"bullish": 0.0..1.0, "bearish": 0.0..1.0, "uncertainty": 0.0..1.0, "time_horizon": "short|medium|long"},
    "urgency": 0.0..1.0,
    "themes": ["..."],
    "geopolitical": {
      "stability_score": -1.0..1.0, "economic_impact": 0.0..1.0, "security_relevance": 0.0..1.0,
      "diplomatic_impact": {"global": 0.0..1.0, "western": 0.0..1.0, "regional": 0.0..1.0},
      "escalation_potential": 0.0..1.0,
      "regions_affected": ["ISO-3166 codes"],
      "impact_beneficiaries": ["codes"], "impact_affected": ["codes"],
      "time_horizon": "short_term|medium_term|long_term",
      "confidence": 0.0..1.0,
      "alliance_activation": ["..."], "conflict_type": "diplomatic|economic|military|hybrid"
    }
  },
  "impact": {"overall": 0.0..1.0, "volatility": 0.0..1.0}
}

If the article has no geopolitical dimension, set every geopolitical field to zero or empty and confidence to 0.

ARTICLE:
---
%s
---
<end_of_turn>
<start_of_turn>model
`

const repairPromptTemplate = `<start_of_turn>user
Your previous response was not valid JSON for the required analysis schema.

Problems: %s

Previous response:
---
%s
---

Respond again with ONLY the corrected JSON object, nothing else.
<end_of_turn>
<start_of_turn>model
`

// BuildPrompt renders the analysis prompt for one item, truncating the
// article text so the rendered prompt stays within maxChars.
func BuildPrompt(item *domain.Item, maxChars int) string {
	var sb strings.Builder
	sb.WriteString(item.Title)
	if item.Description != "" {
		sb.WriteString("\n\n")
		sb.WriteString(item.Description)
	}
	if item.Content != "" {
		sb.WriteString("\n\n")
		sb.WriteString(item.Content)
	}

	article := sb.String()
	overhead := len(analysisPromptTemplate)
	if maxChars > overhead && len(article) > maxChars-overhead {
		article = truncateRunes(article, maxChars-overhead)
	}

	return fmt.Sprintf(analysisPromptTemplate, article)
}

// BuildRepairPrompt asks the model to fix a response that failed validation.
func BuildRepairPrompt(problems string, previous string, maxChars int) string {
	if len(previous) > maxChars/2 {
		previous = truncateRunes(previous, maxChars/2)
	}
	return fmt.Sprintf(repairPromptTemplate, problems, previous)
}

// truncateRunes cuts at a rune boundary so multi-byte text never ends in a
// torn code point.
func truncateRunes(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.ValidString(s[:limit]) {
		limit--
	}
	return s[:limit]
}
