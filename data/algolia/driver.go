package algolia

import (
	"github.com/ncobase/nsearch/data/algolia/client"
	"github.com/ncobase/nsearch/data/search"
)

func init() {
	search.RegisterAdapterFactory(search.Algolia, newAdapter)
}

func newAdapter(cfg *search.EngineConfig) (search.Adapter, error) {
	c, err := client.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return New(c), nil
}
