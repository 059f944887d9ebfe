// Package client builds Meilisearch service clients.
package client

import (
	"net/http"

	"github.com/meilisearch/meilisearch-go"
	esclient "github.com/ncobase/nsearch/data/elasticsearch/client"
	"github.com/ncobase/nsearch/data/search"
)

// NewClient creates a Meilisearch client for the first host of cfg
func NewClient(cfg *search.EngineConfig) (meilisearch.ServiceManager, error) {
	if err := search.RequireHosts(cfg); err != nil {
		return nil, err
	}
	httpClient := &http.Client{
		Timeout:   cfg.RequestTimeout(),
		Transport: esclient.HTTPTransport(cfg),
	}
	return meilisearch.New(cfg.Host(),
		meilisearch.WithAPIKey(cfg.APIKey),
		meilisearch.WithCustomClient(httpClient),
	), nil
}
