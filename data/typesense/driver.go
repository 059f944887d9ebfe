package typesense

import (
	"github.com/ncobase/nsearch/data/search"
	"github.com/ncobase/nsearch/data/typesense/client"
)

func init() {
	search.RegisterAdapterFactory(search.Typesense, newAdapter)
}

func newAdapter(cfg *search.EngineConfig) (search.Adapter, error) {
	ts, err := client.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return New(ts), nil
}
