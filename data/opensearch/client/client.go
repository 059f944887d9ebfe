package client

import (
	"fmt"

	esclient "github.com/ncobase/nsearch/data/elasticsearch/client"
	"github.com/ncobase/nsearch/data/search"
	"github.com/opensearch-project/opensearch-go/v4"
)

// NewClient creates an OpenSearch client for cfg
func NewClient(cfg *search.EngineConfig) (*opensearch.Client, error) {
	if err := search.RequireHosts(cfg); err != nil {
		return nil, err
	}
	c, err := opensearch.NewClient(opensearch.Config{
		Addresses:  cfg.Hosts,
		Username:   cfg.Username,
		Password:   cfg.Password,
		Transport:  esclient.HTTPTransport(cfg),
		MaxRetries: 3,
	})
	if err != nil {
		return nil, fmt.Errorf("opensearch client creation error: %w", err)
	}
	return c, nil
}
