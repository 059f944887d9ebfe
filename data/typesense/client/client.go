// Package client builds Typesense clients.
package client

import (
	"github.com/ncobase/nsearch/data/search"
	"github.com/typesense/typesense-go/typesense"
)

// NewClient creates a Typesense client for the first host of cfg
func NewClient(cfg *search.EngineConfig) (*typesense.Client, error) {
	if err := search.RequireHosts(cfg); err != nil {
		return nil, err
	}
	if err := search.RequireAPIKey(cfg); err != nil {
		return nil, err
	}
	return typesense.NewClient(
		typesense.WithServer(cfg.Host()),
		typesense.WithAPIKey(cfg.APIKey),
		typesense.WithConnectionTimeout(cfg.RequestTimeout()),
	), nil
}
