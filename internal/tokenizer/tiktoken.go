package tokenizer

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

const defaultEncoding = "cl100k_base"

// TiktokenEstimator counts tokens with the BPE encoding of a model. Encodings
// are loaded on first use; when none can be loaded it estimates like
// CharEstimator.
type TiktokenEstimator struct {
	model string
	load  func(model string) (*tiktoken.Tiktoken, error)

	once     sync.Once
	enc      *tiktoken.Tiktoken
	fallback CharEstimator
}

// NewTiktokenEstimator returns an estimator for model. Unknown models use
// the cl100k_base encoding.
func NewTiktokenEstimator(model string) *TiktokenEstimator {
	return &TiktokenEstimator{model: model, load: loadEncoding, fallback: Default()}
}

func loadEncoding(model string) (*tiktoken.Tiktoken, error) {
	enc, err := tiktoken.EncodingForModel(normalizeModel(model))
	if err == nil {
		return enc, nil
	}
	return tiktoken.GetEncoding(defaultEncoding)
}

// normalizeModel strips a provider prefix such as "openai/".
func normalizeModel(model string) string {
	if i := strings.LastIndex(model, "/"); i >= 0 {
		return model[i+1:]
	}
	return model
}

// Estimate implements Estimator.
func (e *TiktokenEstimator) Estimate(text string) int {
	if text == "" {
		return 0
	}
	e.once.Do(func() {
		if enc, err := e.load(e.model); err == nil {
			e.enc = enc
		}
	})
	if e.enc == nil {
		return e.fallback.Estimate(text)
	}
	return len(e.enc.Encode(text, nil, nil))
}
