package opensearch

import (
	"github.com/ncobase/nsearch/data/elasticsearch"
	"github.com/ncobase/nsearch/data/opensearch/client"
	"github.com/ncobase/nsearch/data/search"
)

func init() {
	search.RegisterAdapterFactory(search.OpenSearch, newAdapter)
}

func newAdapter(cfg *search.EngineConfig) (search.Adapter, error) {
	if err := search.RequireHosts(cfg); err != nil {
		return nil, err
	}
	c, err := client.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return elasticsearch.New(c, Flavor), nil
}
