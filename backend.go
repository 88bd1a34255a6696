package mastermind

import (
	"context"
	"sync"

	"github.com/MikaelTHEoret/mastermind/pkg/provider"
	"github.com/MikaelTHEoret/mastermind/providers"
)

// backend pairs an adapter with its configuration and tracks whether the
// adapter has been initialized. Initialization happens on first use; a
// failed attempt is repeated on the next call.
type backend struct {
	cfg     provider.Config
	adapter provider.Provider

	mu    sync.Mutex
	ready bool
}

// newBackend resolves the adapter for cfg from the supplied instances or
// the registry. It never contacts the backend.
func newBackend(cfg provider.Config, instances map[string]provider.Provider) (*backend, error) {
	if p, ok := instances[cfg.Identity()]; ok {
		return &backend{cfg: cfg, adapter: p}, nil
	}
	p, err := providers.Create(cfg)
	if err != nil {
		return nil, err
	}
	return &backend{cfg: cfg, adapter: p}, nil
}

func (b *backend) name() string { return b.cfg.Identity() }

func (b *backend) ensureInitialized(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ready {
		return nil
	}
	if err := b.adapter.Initialize(ctx); err != nil {
		return err
	}
	b.ready = true
	return nil
}

func (b *backend) initialized() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ready
}
