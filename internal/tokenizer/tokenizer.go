// Package tokenizer estimates token usage for rate-limit budgeting.
package tokenizer

import "github.com/MikaelTHEoret/mastermind/pkg/types"

// Estimator approximates how many tokens a piece of text costs. Budgeting is
// approximate, so implementations favor speed over exact accounting.
type Estimator interface {
	Estimate(text string) int
}

// DefaultCharsPerToken is the coarse ratio used when no backend-specific
// estimator is configured.
const DefaultCharsPerToken = 4

// CharEstimator estimates tokens as the byte length divided by CharsPerToken.
type CharEstimator struct {
	CharsPerToken int
}

// Default returns the len/4 estimator.
func Default() CharEstimator {
	return CharEstimator{CharsPerToken: DefaultCharsPerToken}
}

// Estimate implements Estimator.
func (e CharEstimator) Estimate(text string) int {
	ratio := e.CharsPerToken
	if ratio <= 0 {
		ratio = DefaultCharsPerToken
	}
	return len(text) / ratio
}

// EstimatorFunc adapts a plain function to Estimator.
type EstimatorFunc func(text string) int

// Estimate implements Estimator.
func (f EstimatorFunc) Estimate(text string) int { return f(text) }

// EstimateMessages sums the estimate over every message's content.
func EstimateMessages(e Estimator, messages []types.Message) int {
	total := 0
	for _, m := range messages {
		total += e.Estimate(m.Content)
	}
	return total
}
