package provider

import (
	"context"
	"time"
)

// FetchObserver receives one callback per provider call.
// kind is "file" or "config".
type FetchObserver interface {
	ObserveProviderFetch(provider, kind string, d time.Duration, found bool)
}

type observed struct {
	Provider
	obs FetchObserver
}

// Observe wraps p so every fetch is reported to obs. A nil obs returns p.
func Observe(p Provider, obs FetchObserver) Provider {
	if obs == nil || p == nil {
		return p
	}
	return &observed{Provider: p, obs: obs}
}

func (o *observed) GetFile(ctx context.Context, filePath, pkg string) (*File, error) {
	start := time.Now()
	f, err := o.Provider.GetFile(ctx, filePath, pkg)
	o.obs.ObserveProviderFetch(o.Name(), "file", time.Since(start), err == nil)
	return f, err
}

func (o *observed) GetConfigFile(ctx context.Context, filePath string) ([]byte, error) {
	start := time.Now()
	b, err := o.Provider.GetConfigFile(ctx, filePath)
	o.obs.ObserveProviderFetch(o.Name(), "config", time.Since(start), err == nil)
	return b, err
}
