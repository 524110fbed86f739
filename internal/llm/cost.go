package llm

// modelRate is a fixed per-million-token price pair, USD. Rates are static
// snapshots taken at integration time, not fetched live; re-pricing a model
// means editing this table.
type modelRate struct {
	inputPerM  float64
	outputPerM float64
}

var modelRates = map[string]modelRate{
	// Anthropic
	"claude-sonnet-4-20250514":   {inputPerM: 3.00, outputPerM: 15.00},
	"claude-opus-4-20250514":     {inputPerM: 15.00, outputPerM: 75.00},
	"claude-3-5-sonnet-20241022": {inputPerM: 3.00, outputPerM: 15.00},
	"claude-3-haiku-20240307":    {inputPerM: 0.25, outputPerM: 1.25},

	// OpenAI
	"gpt-4o":        {inputPerM: 2.50, outputPerM: 10.00},
	"gpt-4-turbo":   {inputPerM: 10.00, outputPerM: 30.00},
	"gpt-4":         {inputPerM: 30.00, outputPerM: 60.00},
	"gpt-3.5-turbo": {inputPerM: 0.50, outputPerM: 1.50},
}

// fallbackRate is used for an unrecognized model id, deliberately priced at
// the high end so an unbudgeted model fails a run's cost axis fast rather
// than silently running for free.
var fallbackRate = modelRate{inputPerM: 15.00, outputPerM: 75.00}

// estimateCostUSD converts token counts into a dollar estimate for the
// BudgetUsage.EstimatedLLMCostUSD axis.
func estimateCostUSD(model string, inputTokens, outputTokens int) float64 {
	rate, ok := modelRates[model]
	if !ok {
		rate = fallbackRate
	}
	return float64(inputTokens)/1_000_000*rate.inputPerM + float64(outputTokens)/1_000_000*rate.outputPerM
}
