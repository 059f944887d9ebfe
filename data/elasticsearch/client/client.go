// Package client builds the HTTP clients of Elasticsearch-compatible
// clusters.
package client

import (
	"crypto/tls"
	"fmt"
	"net/http"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/ncobase/nsearch/data/search"
)

// HTTPTransport returns the round tripper shared by cluster clients
func HTTPTransport(cfg *search.EngineConfig) *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.ResponseHeaderTimeout = cfg.RequestTimeout()
	if cfg.InsecureSkipTLS {
		t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}
	return t
}

// NewClient creates an Elasticsearch client for cfg
func NewClient(cfg *search.EngineConfig) (*elasticsearch.Client, error) {
	if err := search.RequireHosts(cfg); err != nil {
		return nil, err
	}
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Hosts,
		Username:  cfg.Username,
		Password:  cfg.Password,
		APIKey:    cfg.APIKey,
		Transport: HTTPTransport(cfg),
	})
	if err != nil {
		return nil, fmt.Errorf("elasticsearch client creation error: %w", err)
	}
	return es, nil
}
