package search

import (
	"fmt"
	"sort"
	"sync"
)

// AdapterFactory creates an adapter for one engine connection
type AdapterFactory func(cfg *EngineConfig) (Adapter, error)

var (
	// Registry of adapter factories by engine type
	adapterFactories = make(map[Engine]AdapterFactory)
	factoriesMu      sync.RWMutex
)

// RegisterAdapterFactory registers a factory for creating search adapters
// This is called by search driver packages in their init() functions
func RegisterAdapterFactory(engine Engine, factory AdapterFactory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	adapterFactories[engine] = factory
}

// GetAdapterFactory returns the factory for a given engine
func GetAdapterFactory(engine Engine) (AdapterFactory, error) {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	factory, ok := adapterFactories[engine]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoAdapter, engine)
	}
	return factory, nil
}

// GetRegisteredEngines returns list of engines with registered factories
func GetRegisteredEngines() []Engine {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	engines := make([]Engine, 0, len(adapterFactories))
	for engine := range adapterFactories {
		engines = append(engines, engine)
	}
	sort.Slice(engines, func(i, j int) bool { return engines[i] < engines[j] })
	return engines
}

// NewAdapter creates an adapter through the registered factory
func NewAdapter(cfg *EngineConfig) (Adapter, error) {
	if cfg == nil {
		return nil, &ConfigurationError{Reason: "missing engine configuration"}
	}
	factory, err := GetAdapterFactory(cfg.Engine)
	if err != nil {
		return nil, err
	}
	return factory(cfg)
}

// RequireHosts fails when cfg names no host
func RequireHosts(cfg *EngineConfig) error {
	if cfg == nil || len(cfg.Hosts) == 0 || cfg.Hosts[0] == "" {
		engine := Engine("")
		if cfg != nil {
			engine = cfg.Engine
		}
		return &ConfigurationError{Engine: engine, Field: "hosts", Reason: "no host configured"}
	}
	return nil
}

// RequireAPIKey fails when cfg carries no API key
func RequireAPIKey(cfg *EngineConfig) error {
	if cfg == nil || cfg.APIKey == "" {
		engine := Engine("")
		if cfg != nil {
			engine = cfg.Engine
		}
		return &ConfigurationError{Engine: engine, Field: "api_key", Reason: "no API key configured"}
	}
	return nil
}
