package budget

import "strings"

// ModelPricing holds per-token pricing for a model family. Callers key it
// by the model name string their own ProviderAdapter uses.
type ModelPricing struct {
	Input              float64
	Output             float64
	PromptCachingWrite float64
	PromptCachingRead  float64
	ContextWindow      int
}

// ModelPricingMap carries the reference models from both the Anthropic
// and OpenAI adapters wired into this repository. Provider adapters that
// add a model should extend this map rather than hand-roll their own.
var ModelPricingMap = map[string]ModelPricing{
	"claude-sonnet-4-0": {
		Input: 0.000003, Output: 0.000015,
		PromptCachingWrite: 0.00000375, PromptCachingRead: 0.0000003,
		ContextWindow: 200_000,
	},
	"claude-opus-4-0": {
		Input: 0.000015, Output: 0.000075,
		PromptCachingWrite: 0.00001875, PromptCachingRead: 0.0000015,
		ContextWindow: 200_000,
	},
	"claude-3-5-haiku-latest": {
		Input: 0.0000008, Output: 0.000004,
		PromptCachingWrite: 0.000001, PromptCachingRead: 0.00000008,
		ContextWindow: 200_000,
	},
	"gpt-4o": {
		Input: 0.0000025, Output: 0.00001,
		ContextWindow: 128_000,
	},
	"gpt-4o-mini": {
		Input: 0.00000015, Output: 0.0000006,
		ContextWindow: 128_000,
	},
}

// defaultPricing is used for an unrecognized model so cost accounting
// degrades to an estimate rather than a zero.
var defaultPricing = ModelPricingMap["claude-sonnet-4-0"]

// GetModelPricing resolves a model name to its pricing, falling back to a
// family match on substrings (e.g. any "claude-opus-4" variant resolves to
// the claude-opus-4-0 entry) and finally to defaultPricing.
func GetModelPricing(model string) ModelPricing {
	if p, ok := ModelPricingMap[model]; ok {
		return p
	}
	lower := strings.ToLower(model)
	for key, p := range ModelPricingMap {
		if strings.Contains(lower, key) {
			return p
		}
	}
	switch {
	case strings.Contains(lower, "opus"):
		return ModelPricingMap["claude-opus-4-0"]
	case strings.Contains(lower, "haiku"):
		return ModelPricingMap["claude-3-5-haiku-latest"]
	case strings.Contains(lower, "gpt-4o-mini"):
		return ModelPricingMap["gpt-4o-mini"]
	case strings.Contains(lower, "gpt"):
		return ModelPricingMap["gpt-4o"]
	}
	return defaultPricing
}

// Cost computes the USD cost of inputTokens/outputTokens against model's
// pricing.
func Cost(model string, inputTokens, outputTokens int) float64 {
	p := GetModelPricing(model)
	return float64(inputTokens)*p.Input + float64(outputTokens)*p.Output
}
