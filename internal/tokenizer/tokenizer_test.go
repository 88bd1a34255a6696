package tokenizer

import (
	"errors"
	"strings"
	"testing"

	"github.com/pkoukk/tiktoken-go"
	"github.com/stretchr/testify/assert"

	"github.com/MikaelTHEoret/mastermind/pkg/types"
)

func TestCharEstimator(t *testing.T) {
	e := Default()
	assert.Equal(t, 0, e.Estimate(""))
	assert.Equal(t, 0, e.Estimate("abc"))
	assert.Equal(t, 1, e.Estimate("abcd"))
	assert.Equal(t, 25, e.Estimate(strings.Repeat("x", 100)))

	assert.Equal(t, 50, CharEstimator{CharsPerToken: 2}.Estimate(strings.Repeat("x", 100)))
	assert.Equal(t, 25, CharEstimator{}.Estimate(strings.Repeat("x", 100)))
}

func TestEstimateMessages(t *testing.T) {
	msgs := []types.Message{
		types.SystemMessage(strings.Repeat("s", 40)),
		types.UserMessage(strings.Repeat("u", 80)),
	}
	assert.Equal(t, 30, EstimateMessages(Default(), msgs))

	words := EstimatorFunc(func(text string) int { return len(strings.Fields(text)) })
	assert.Equal(t, 3, EstimateMessages(words, []types.Message{types.UserMessage("one two three")}))
}

func TestTiktokenEstimator_FallsBackWithoutEncoding(t *testing.T) {
	var loads int
	e := &TiktokenEstimator{
		model: "openai/gpt-4o",
		load: func(model string) (*tiktoken.Tiktoken, error) {
			loads++
			return nil, errors.New("offline")
		},
		fallback: Default(),
	}

	assert.Equal(t, 0, e.Estimate(""))
	assert.Equal(t, 25, e.Estimate(strings.Repeat("x", 100)))
	assert.Equal(t, 2, e.Estimate("12345678"))
	assert.Equal(t, 1, loads)
}

func TestNormalizeModel(t *testing.T) {
	assert.Equal(t, "gpt-4o", normalizeModel("openai/gpt-4o"))
	assert.Equal(t, "gpt-4o-mini", normalizeModel("gpt-4o-mini"))
}
