package models

import "time"

// TokenUsage holds per-category token counts reported by the agent executor.
type TokenUsage struct {
	InputTokens      int64 `json:"input_tokens"`
	OutputTokens     int64 `json:"output_tokens"`
	CacheWriteTokens int64 `json:"cache_write_tokens"`
	CacheReadTokens  int64 `json:"cache_read_tokens"`
}

// Add accumulates another usage sample into u.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CacheWriteTokens += other.CacheWriteTokens
	u.CacheReadTokens += other.CacheReadTokens
}

// Total returns the sum of all token categories.
func (u TokenUsage) Total() int64 {
	return u.InputTokens + u.OutputTokens + u.CacheWriteTokens + u.CacheReadTokens
}

// IterationRecord is the immutable record of one executor invocation.
// Records are appended once per iteration and never mutated.
type IterationRecord struct {
	// Iteration is the 1-based iteration number.
	Iteration int `json:"iteration"`
	// CostUSD is the cost of this iteration alone.
	CostUSD float64 `json:"cost_usd"`
	// Usage is the token usage of this iteration alone.
	Usage TokenUsage `json:"usage"`
	// Timestamp is when the iteration finished, in UTC.
	Timestamp time.Time `json:"timestamp"`
	// OutputExcerpt holds the tail of the iteration output for display.
	OutputExcerpt string `json:"output_excerpt,omitempty"`
}

// ExcerptLimit is the maximum length kept in an IterationRecord excerpt.
const ExcerptLimit = 500

// Excerpt truncates output to the last ExcerptLimit bytes.
func Excerpt(output string) string {
	if len(output) <= ExcerptLimit {
		return output
	}
	return output[len(output)-ExcerptLimit:]
}
