package meilisearch

import (
	"github.com/ncobase/nsearch/data/meilisearch/client"
	"github.com/ncobase/nsearch/data/search"
)

func init() {
	search.RegisterAdapterFactory(search.Meilisearch, newAdapter)
}

func newAdapter(cfg *search.EngineConfig) (search.Adapter, error) {
	ms, err := client.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return New(ms), nil
}
