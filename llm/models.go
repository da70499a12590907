package llm

// modelCosts maps a model tag to its per-item analysis cost in USD. Unknown
// tags fall back to the default so previews never estimate zero.
var modelCosts = map[string]float64{
	"gemma3:4b":      0.0004,
	"gemma3:12b":     0.0012,
	"gemma3:27b":     0.0028,
	"phi4-mini:3.8b": 0.0004,
	"qwen3:8b":       0.0009,
}

const defaultCostPerItem = 0.001

// CostPerItem returns the estimated USD cost of analyzing one item with the
// given model tag.
func CostPerItem(modelTag string) float64 {
	if cost, ok := modelCosts[modelTag]; ok {
		return cost
	}
	return defaultCostPerItem
}
