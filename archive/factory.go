package archive

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/kbukum/devflow/logger"
)

// Factory builds a Storage for one provider.
type Factory func(ctx context.Context, cfg Config, log *logger.Logger) (Storage, error)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]Factory)
)

// RegisterFactory makes a provider available to New. Provider packages
// call it from init.
func RegisterFactory(provider string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[provider] = f
}

// Providers lists the registered provider names.
func Providers() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New builds the Storage selected by cfg.Provider.
func New(ctx context.Context, cfg Config, log *logger.Logger) (Storage, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop()
	}

	factoriesMu.RLock()
	f, ok := factories[cfg.Provider]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("archive: provider %q is not registered", cfg.Provider)
	}

	l := log.WithComponent("archive")
	l.Info("initializing archive", map[string]interface{}{"provider": cfg.Provider})
	return f(ctx, cfg, l)
}
