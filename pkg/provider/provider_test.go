package provider

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	llmerrors "github.com/MikaelTHEoret/mastermind/pkg/errors"
)

func TestConfig_Identity(t *testing.T) {
	assert.Equal(t, "openai", Config{Kind: KindOpenAI}.Identity())
	assert.Equal(t, "primary", Config{Kind: KindOpenAI, Name: "primary"}.Identity())
}

func TestConfig_CallTimeout(t *testing.T) {
	assert.Equal(t, DefaultTimeout, Config{}.CallTimeout())
	assert.Equal(t, 5*time.Second, Config{Timeout: 5 * time.Second}.CallTimeout())
}

func TestConfig_Credentials(t *testing.T) {
	assert.False(t, Config{Kind: KindOpenAI}.HasCredentials())
	assert.True(t, Config{Kind: KindOpenAI, APIKey: "sk-x"}.HasCredentials())
	assert.True(t, Config{Kind: KindOllama}.HasCredentials())
}

func TestConfig_Validate(t *testing.T) {
	hot := 3.0
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid", Config{Kind: KindOpenAI, Model: "gpt-4o"}, false},
		{"missing kind", Config{Model: "gpt-4o"}, true},
		{"missing model", Config{Kind: KindOpenAI}, true},
		{"temperature out of range", Config{Kind: KindOpenAI, Model: "m", Temperature: &hot}, true},
		{"negative limits", Config{Kind: KindOpenAI, Model: "m", TokensPerMinute: -1}, true},
		{"private cloud url", Config{Kind: KindOpenAI, Model: "m", BaseURL: "http://127.0.0.1:8080"}, true},
		{"private cloud url allowed", Config{Kind: KindOpenAI, Model: "m", BaseURL: "http://127.0.0.1:8080", AllowPrivateBaseURL: true}, false},
		{"local kind on loopback", Config{Kind: KindOllama, Model: "m", BaseURL: "http://localhost:11434"}, false},
		{"url with query", Config{Kind: KindOllama, Model: "m", BaseURL: "http://localhost:11434?x=1"}, true},
		{"same identity fallback", Config{Kind: KindOpenAI, Model: "m", Fallback: &Config{Kind: KindOpenAI, Model: "m"}}, true},
		{"chained fallback", Config{Kind: KindOpenAI, Model: "m", Fallback: &Config{
			Kind: KindOllama, Model: "m", Fallback: &Config{Kind: KindAnthropic, Model: "m"},
		}}, true},
		{"valid fallback", Config{Kind: KindOpenAI, Model: "m", Fallback: &Config{Kind: KindOllama, Model: "llama3.2"}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.True(t, llmerrors.IsConfiguration(err), "got %v", err)
				return
			}
			assert.NoError(t, err)
		})
	}
}
