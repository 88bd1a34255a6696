// Package providers maps backend kinds to adapter factories.
package providers

import (
	"sort"
	"strings"
	"sync"

	llmerrors "github.com/MikaelTHEoret/mastermind/pkg/errors"
	"github.com/MikaelTHEoret/mastermind/pkg/provider"
	"github.com/MikaelTHEoret/mastermind/providers/anthropic"
	"github.com/MikaelTHEoret/mastermind/providers/ollama"
	"github.com/MikaelTHEoret/mastermind/providers/openai"
)

var (
	registry   = make(map[string]provider.Factory)
	registryMu sync.RWMutex
)

func init() {
	Register(provider.KindOpenAI, openai.NewFromConfig)
	Register(provider.KindAnthropic, anthropic.NewFromConfig)
	Register(provider.KindOllama, ollama.NewFromConfig)
}

// Register registers a factory for a backend kind, replacing any existing one.
func Register(kind string, factory provider.Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[strings.ToLower(kind)] = factory
}

// Get returns the factory for the given kind.
func Get(kind string) (provider.Factory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[strings.ToLower(kind)]
	return f, ok
}

// Create builds an adapter from configuration.
func Create(cfg provider.Config) (provider.Provider, error) {
	factory, ok := Get(cfg.Kind)
	if !ok {
		return nil, llmerrors.NewConfigurationError(cfg.Identity(),
			"unknown backend kind "+cfg.Kind+" (available: "+strings.Join(List(), ", ")+")")
	}
	return factory(cfg)
}

// List returns the registered kinds in sorted order.
func List() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	kinds := make([]string, 0, len(registry))
	for kind := range registry {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}
