package elasticsearch

import (
	"github.com/ncobase/nsearch/data/elasticsearch/client"
	"github.com/ncobase/nsearch/data/search"
)

func init() {
	search.RegisterAdapterFactory(search.Elasticsearch, newAdapter)
}

// newAdapter connects to the cluster named by cfg
func newAdapter(cfg *search.EngineConfig) (search.Adapter, error) {
	if err := search.RequireHosts(cfg); err != nil {
		return nil, err
	}
	es, err := client.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return New(es, Elastic), nil
}
