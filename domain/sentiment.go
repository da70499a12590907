package domain

import (
	"fmt"
	"strings"
)

// SentimentLabel is the overall tone classification.
type SentimentLabel string

const (
	SentimentPositive SentimentLabel = "positive"
	SentimentNeutral  SentimentLabel = "neutral"
	SentimentNegative SentimentLabel = "negative"
)

// OverallSentiment is the headline classification of an item.
type OverallSentiment struct {
	Label      SentimentLabel `json:"label"`
	Score      float64        `json:"score"`
	Confidence float64        `json:"confidence"`
}

// MarketSentiment captures market-facing signal strengths.
type MarketSentiment struct {
	Bullish     float64 `json:"bullish"`
	Bearish     float64 `json:"bearish"`
	Uncertainty float64 `json:"uncertainty"`
	TimeHorizon string  `json:"time_horizon"`
}

// DiplomaticImpact splits diplomatic effect by sphere.
type DiplomaticImpact struct {
	Global   float64 `json:"global"`
	Western  float64 `json:"western"`
	Regional float64 `json:"regional"`
}

// GeopoliticalSentiment is the geopolitical subtree of the analysis schema.
// Non-geopolitical items carry a zeroed subtree with Confidence=0.
type GeopoliticalSentiment struct {
	StabilityScore      float64          `json:"stability_score"`
	EconomicImpact      float64          `json:"economic_impact"`
	SecurityRelevance   float64          `json:"security_relevance"`
	DiplomaticImpact    DiplomaticImpact `json:"diplomatic_impact"`
	EscalationPotential float64          `json:"escalation_potential"`
	RegionsAffected     []string         `json:"regions_affected"`
	ImpactBeneficiaries []string         `json:"impact_beneficiaries"`
	ImpactAffected      []string         `json:"impact_affected"`
	TimeHorizon         string           `json:"time_horizon"`
	Confidence          float64          `json:"confidence"`
	AllianceActivation  []string         `json:"alliance_activation"`
	ConflictType        string           `json:"conflict_type"`
}

// Sentiment is the full sentiment document written to item_analysis.
type Sentiment struct {
	Overall      OverallSentiment      `json:"overall"`
	Market       MarketSentiment       `json:"market"`
	Urgency      float64               `json:"urgency"`
	Themes       []string              `json:"themes"`
	Geopolitical GeopoliticalSentiment `json:"geopolitical"`
}

// Impact is the impact document written to item_analysis.
type Impact struct {
	Overall    float64 `json:"overall"`
	Volatility float64 `json:"volatility"`
}

var validMarketHorizons = map[string]bool{"short": true, "medium": true, "long": true}

var validGeoHorizons = map[string]bool{"short_term": true, "medium_term": true, "long_term": true}

var validConflictTypes = map[string]bool{"diplomatic": true, "economic": true, "military": true, "hybrid": true}

// Validate checks the schema constraints on a provider response. Range
// violations and unknown enum values are reported together so a repair
// prompt can name every defect at once.
func (s *Sentiment) Validate() error {
	var problems []string

	switch s.Overall.Label {
	case SentimentPositive, SentimentNeutral, SentimentNegative:
	default:
		problems = append(problems, fmt.Sprintf("overall.label %q is not one of positive/neutral/negative", s.Overall.Label))
	}
	if s.Overall.Score < -1 || s.Overall.Score > 1 {
		problems = append(problems, "overall.score out of [-1,1]")
	}
	if err := unitRange("overall.confidence", s.Overall.Confidence); err != "" {
		problems = append(problems, err)
	}
	if err := unitRange("market.bullish", s.Market.Bullish); err != "" {
		problems = append(problems, err)
	}
	if err := unitRange("market.bearish", s.Market.Bearish); err != "" {
		problems = append(problems, err)
	}
	if err := unitRange("market.uncertainty", s.Market.Uncertainty); err != "" {
		problems = append(problems, err)
	}
	if !validMarketHorizons[s.Market.TimeHorizon] {
		problems = append(problems, fmt.Sprintf("market.time_horizon %q is not one of short/medium/long", s.Market.TimeHorizon))
	}
	if err := unitRange("urgency", s.Urgency); err != "" {
		problems = append(problems, err)
	}

	g := &s.Geopolitical
	if g.StabilityScore < -1 || g.StabilityScore > 1 {
		problems = append(problems, "geopolitical.stability_score out of [-1,1]")
	}
	for name, v := range map[string]float64{
		"geopolitical.economic_impact":            g.EconomicImpact,
		"geopolitical.security_relevance":         g.SecurityRelevance,
		"geopolitical.diplomatic_impact.global":   g.DiplomaticImpact.Global,
		"geopolitical.diplomatic_impact.western":  g.DiplomaticImpact.Western,
		"geopolitical.diplomatic_impact.regional": g.DiplomaticImpact.Regional,
		"geopolitical.escalation_potential":       g.EscalationPotential,
		"geopolitical.confidence":                 g.Confidence,
	} {
		if err := unitRange(name, v); err != "" {
			problems = append(problems, err)
		}
	}
	// A zeroed geopolitical subtree (confidence 0) is valid for
	// non-geopolitical items; enum fields may then be empty.
	if g.Confidence > 0 {
		if !validGeoHorizons[g.TimeHorizon] {
			problems = append(problems, fmt.Sprintf("geopolitical.time_horizon %q is not one of short_term/medium_term/long_term", g.TimeHorizon))
		}
		if !validConflictTypes[g.ConflictType] {
			problems = append(problems, fmt.Sprintf("geopolitical.conflict_type %q is not one of diplomatic/economic/military/hybrid", g.ConflictType))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid sentiment: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Validate checks the impact document ranges.
func (i *Impact) Validate() error {
	if err := unitRange("impact.overall", i.Overall); err != "" {
		return fmt.Errorf("invalid impact: %s", err)
	}
	if err := unitRange("impact.volatility", i.Volatility); err != "" {
		return fmt.Errorf("invalid impact: %s", err)
	}
	return nil
}

func unitRange(name string, v float64) string {
	if v < 0 || v > 1 {
		return name + " out of [0,1]"
	}
	return ""
}

// NeutralSentiment is the fallback written when analysis fails permanently.
// Every field is present so downstream consumers never see a partial document.
func NeutralSentiment() Sentiment {
	return Sentiment{
		Overall: OverallSentiment{Label: SentimentNeutral, Score: 0, Confidence: 0},
		Market:  MarketSentiment{TimeHorizon: "medium"},
		Themes:  []string{},
		Geopolitical: GeopoliticalSentiment{
			RegionsAffected:     []string{},
			ImpactBeneficiaries: []string{},
			ImpactAffected:      []string{},
			AllianceActivation:  []string{},
			TimeHorizon:         "",
			ConflictType:        "",
		},
	}
}

// NeutralImpact is the fallback impact paired with NeutralSentiment.
func NeutralImpact() Impact {
	return Impact{}
}
