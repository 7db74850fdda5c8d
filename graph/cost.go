package graph

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// ModelPricing is the price of one model in USD per million tokens.
type ModelPricing struct {
	InputPer1M  float64
	OutputPer1M float64
}

// defaultModelPricing covers the models the adapters default to. Unknown
// models are still recorded, at zero cost.
var defaultModelPricing = map[string]ModelPricing{
	"gpt-4o-mini":              {InputPer1M: 0.15, OutputPer1M: 0.60},
	"gpt-4o":                   {InputPer1M: 2.50, OutputPer1M: 10.00},
	"gpt-3.5-turbo":            {InputPer1M: 0.50, OutputPer1M: 1.50},
	"text-embedding-3-small":   {InputPer1M: 0.02, OutputPer1M: 0},
	"text-embedding-3-large":   {InputPer1M: 0.13, OutputPer1M: 0},
	"claude-3-5-haiku-latest":  {InputPer1M: 0.80, OutputPer1M: 4.00},
	"claude-3-5-sonnet-latest": {InputPer1M: 3.00, OutputPer1M: 15.00},
	"gemini-1.5-flash":         {InputPer1M: 0.075, OutputPer1M: 0.30},
	"gemini-2.5-flash":         {InputPer1M: 0.30, OutputPer1M: 2.50},
}

// LLMCall is one recorded model invocation.
type LLMCall struct {
	RunID        string
	NodeID       string
	Model        string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	Timestamp    time.Time
}

// CostTracker accumulates token usage and cost across model calls. One
// tracker is normally shared by every run of a process; calls keep their
// run ID for attribution.
//
// Safe for concurrent use.
type CostTracker struct {
	Currency string

	mu           sync.RWMutex
	pricing      map[string]ModelPricing
	calls        []LLMCall
	totalCost    float64
	modelCosts   map[string]float64
	inputTokens  int64
	outputTokens int64
}

// NewCostTracker returns a tracker using the default pricing table.
func NewCostTracker(currency string) *CostTracker {
	pricing := make(map[string]ModelPricing, len(defaultModelPricing))
	for name, p := range defaultModelPricing {
		pricing[name] = p
	}
	return &CostTracker{
		Currency:   currency,
		pricing:    pricing,
		modelCosts: make(map[string]float64),
	}
}

// SetPricing overrides or adds the price of a model.
func (ct *CostTracker) SetPricing(model string, inputPer1M, outputPer1M float64) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.pricing[model] = ModelPricing{InputPer1M: inputPer1M, OutputPer1M: outputPer1M}
}

// RecordLLMCall records one call and returns its cost.
func (ct *CostTracker) RecordLLMCall(runID, nodeID, model string, inputTokens, outputTokens int) float64 {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	pricing := ct.pricing[model]
	cost := float64(inputTokens)/1_000_000.0*pricing.InputPer1M +
		float64(outputTokens)/1_000_000.0*pricing.OutputPer1M

	ct.calls = append(ct.calls, LLMCall{
		RunID:        runID,
		NodeID:       nodeID,
		Model:        model,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		CostUSD:      cost,
		Timestamp:    time.Now(),
	})
	ct.totalCost += cost
	ct.modelCosts[model] += cost
	ct.inputTokens += int64(inputTokens)
	ct.outputTokens += int64(outputTokens)

	return cost
}

// TotalCost returns the cumulative cost.
func (ct *CostTracker) TotalCost() float64 {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return ct.totalCost
}

// CostByModel returns a copy of the per-model cost breakdown.
func (ct *CostTracker) CostByModel() map[string]float64 {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	out := make(map[string]float64, len(ct.modelCosts))
	for k, v := range ct.modelCosts {
		out[k] = v
	}
	return out
}

// Calls returns a copy of the call history, optionally filtered by run ID.
func (ct *CostTracker) Calls(runID string) []LLMCall {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	out := make([]LLMCall, 0, len(ct.calls))
	for _, c := range ct.calls {
		if runID == "" || c.RunID == runID {
			out = append(out, c)
		}
	}
	return out
}

// TokenUsage returns cumulative input and output tokens.
func (ct *CostTracker) TokenUsage() (inputTokens, outputTokens int64) {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return ct.inputTokens, ct.outputTokens
}

// Reset clears all recorded calls and totals. Pricing is kept.
func (ct *CostTracker) Reset() {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.calls = nil
	ct.totalCost = 0
	ct.modelCosts = make(map[string]float64)
	ct.inputTokens = 0
	ct.outputTokens = 0
}

func (ct *CostTracker) String() string {
	ct.mu.RLock()
	defer ct.mu.RUnlock()

	models := make([]string, 0, len(ct.modelCosts))
	for m := range ct.modelCosts {
		models = append(models, m)
	}
	sort.Strings(models)

	s := fmt.Sprintf("calls=%d tokens_in=%d tokens_out=%d total=%.6f %s",
		len(ct.calls), ct.inputTokens, ct.outputTokens, ct.totalCost, ct.Currency)
	for _, m := range models {
		s += fmt.Sprintf(" %s=%.6f", m, ct.modelCosts[m])
	}
	return s
}
