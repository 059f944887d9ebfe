package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gosimple/slug"
	"github.com/spf13/viper"
)

// Engine names accepted in configuration
const (
	EngineAlgolia       = "algolia"
	EngineElasticsearch = "elasticsearch"
	EngineOpenSearch    = "opensearch"
	EngineMeilisearch   = "meilisearch"
	EngineTypesense     = "typesense"
)

// Search represents search engine configuration
type Search struct {
	IndexPrefix   string         `yaml:"index_prefix" json:"index_prefix"`
	DefaultEngine string         `yaml:"default_engine" json:"default_engine"`
	Timeout       time.Duration  `yaml:"timeout" json:"timeout"`
	Algolia       *Algolia       `yaml:"algolia" json:"algolia"`
	Elasticsearch *Elasticsearch `yaml:"elasticsearch" json:"elasticsearch"`
	OpenSearch    *OpenSearch    `yaml:"opensearch" json:"opensearch"`
	Meilisearch   *Meilisearch   `yaml:"meilisearch" json:"meilisearch"`
	Typesense     *Typesense     `yaml:"typesense" json:"typesense"`
	Indexes       []*Index       `yaml:"indexes" json:"indexes"`
	Swap          *Swap          `yaml:"swap" json:"swap"`
	Breaker       *Breaker       `yaml:"breaker" json:"breaker"`
}

// Connection is the resolved connection settings of one engine.
type Connection struct {
	Hosts           []string      `mapstructure:"hosts" yaml:"hosts" json:"hosts"`
	APIKey          string        `mapstructure:"api_key" yaml:"api_key" json:"api_key"`
	AppID           string        `mapstructure:"app_id" yaml:"app_id" json:"app_id"`
	Username        string        `mapstructure:"username" yaml:"username" json:"username"`
	Password        string        `mapstructure:"password" yaml:"password" json:"password"`
	InsecureSkipTLS bool          `mapstructure:"insecure_skip_tls" yaml:"insecure_skip_tls" json:"insecure_skip_tls"`
	Timeout         time.Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
}

// Index is the configuration of one logical search index.
type Index struct {
	Handle       string      `mapstructure:"handle" yaml:"handle" json:"handle" validate:"required,max=128"`
	Name         string      `mapstructure:"name" yaml:"name" json:"name"`
	Engine       string      `mapstructure:"engine" yaml:"engine" json:"engine" validate:"omitempty,oneof=algolia elasticsearch opensearch meilisearch typesense"`
	Prefix       *string     `mapstructure:"prefix" yaml:"prefix" json:"prefix"`
	OverrideName string      `mapstructure:"override_name" yaml:"override_name" json:"override_name"`
	Connection   *Connection `mapstructure:"connection" yaml:"connection" json:"connection"`
	Fields       []*Field    `mapstructure:"fields" yaml:"fields" json:"fields" validate:"dive"`
}

// Field is one field mapping of an index.
type Field struct {
	Name    string         `mapstructure:"name" yaml:"name" json:"name" validate:"required"`
	Type    string         `mapstructure:"type" yaml:"type" json:"type" validate:"required,oneof=text keyword facet integer float boolean date geo_point object embedding"`
	Enabled *bool          `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Weight  int            `mapstructure:"weight" yaml:"weight" json:"weight" validate:"gte=0"`
	Role    string         `mapstructure:"role" yaml:"role" json:"role" validate:"omitempty,oneof=title url date summary thumbnail image"`
	Options map[string]any `mapstructure:"options" yaml:"options" json:"options"`
}

// IsEnabled reports whether the field is enabled; fields are enabled unless disabled explicitly.
func (f *Field) IsEnabled() bool {
	return f.Enabled == nil || *f.Enabled
}

// Swap represents reindex swap configuration
type Swap struct {
	BatchSize    int           `yaml:"batch_size" json:"batch_size"`
	AllowPartial bool          `yaml:"allow_partial" json:"allow_partial"`
	Verify       bool          `yaml:"verify" json:"verify"`
	Lock         string        `yaml:"lock" json:"lock"`
	LockTTL      time.Duration `yaml:"lock_ttl" json:"lock_ttl"`
	Redis        *Redis        `yaml:"redis" json:"redis"`
}

// Redis redis connection used by the distributed swap lock
type Redis struct {
	Addr     string `json:"addr" yaml:"addr"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
}

// Breaker circuit breaker settings applied per engine
type Breaker struct {
	Enabled          bool          `yaml:"enabled" json:"enabled"`
	MaxRequests      uint32        `yaml:"max_requests" json:"max_requests"`
	Interval         time.Duration `yaml:"interval" json:"interval"`
	Timeout          time.Duration `yaml:"timeout" json:"timeout"`
	FailureThreshold uint32        `yaml:"failure_threshold" json:"failure_threshold"`
}

// Connection returns the connection settings of engine, nil if the engine is unknown.
func (s *Search) Connection(engine string) *Connection {
	var conn *Connection
	switch engine {
	case EngineAlgolia:
		if s.Algolia != nil {
			conn = &Connection{AppID: s.Algolia.AppID, APIKey: s.Algolia.APIKey, Hosts: s.Algolia.Hosts}
		}
	case EngineElasticsearch:
		if s.Elasticsearch != nil {
			conn = &Connection{
				Hosts:    s.Elasticsearch.Addresses,
				Username: s.Elasticsearch.Username,
				Password: s.Elasticsearch.Password,
				APIKey:   s.Elasticsearch.APIKey,
			}
		}
	case EngineOpenSearch:
		if s.OpenSearch != nil {
			conn = &Connection{
				Hosts:           s.OpenSearch.Addresses,
				Username:        s.OpenSearch.Username,
				Password:        s.OpenSearch.Password,
				InsecureSkipTLS: s.OpenSearch.InsecureSkipTLS,
			}
		}
	case EngineMeilisearch:
		if s.Meilisearch != nil {
			conn = &Connection{Hosts: nonEmpty(s.Meilisearch.Host), APIKey: s.Meilisearch.APIKey}
		}
	case EngineTypesense:
		if s.Typesense != nil {
			conn = &Connection{Hosts: s.Typesense.Nodes, APIKey: s.Typesense.APIKey}
		}
	default:
		return nil
	}
	if conn == nil {
		conn = &Connection{}
	}
	conn.Timeout = s.Timeout
	return conn
}

// IndexByHandle returns the index configuration registered under handle.
func (s *Search) IndexByHandle(handle string) (*Index, bool) {
	for _, idx := range s.Indexes {
		if idx.Handle == handle {
			return idx, true
		}
	}
	return nil, false
}

// Validate checks index definitions
func (s *Search) Validate() error {
	validate := validator.New()
	seen := make(map[string]bool, len(s.Indexes))
	for _, idx := range s.Indexes {
		if err := validate.Struct(idx); err != nil {
			return fmt.Errorf("invalid index %q: %w", idx.Handle, err)
		}
		if seen[idx.Handle] {
			return fmt.Errorf("duplicate index handle %q", idx.Handle)
		}
		seen[idx.Handle] = true
	}
	switch s.DefaultEngine {
	case EngineAlgolia, EngineElasticsearch, EngineOpenSearch, EngineMeilisearch, EngineTypesense:
	default:
		return fmt.Errorf("unsupported default engine %q", s.DefaultEngine)
	}
	return nil
}

// getSearchConfig reads search configurations
func getSearchConfig(v *viper.Viper) (*Search, error) {
	s := &Search{
		IndexPrefix:   v.GetString("data.search.index_prefix"),
		DefaultEngine: strings.ToLower(getStringOrDefault(v, "data.search.default_engine", EngineElasticsearch)),
		Timeout:       getDurationOrDefault(v, "data.search.timeout", 10*time.Second),
		Algolia:       getAlgoliaConfigs(v),
		Elasticsearch: getElasticsearchConfigs(v),
		OpenSearch:    getOpenSearchConfigs(v),
		Meilisearch:   getMeilisearchConfigs(v),
		Typesense:     getTypesenseConfigs(v),
		Swap:          getSwapConfig(v),
		Breaker:       getBreakerConfig(v),
	}

	indexes, err := getIndexConfigs(v)
	if err != nil {
		return nil, err
	}
	s.Indexes = indexes

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// getIndexConfigs reads `data.search.indexes`, deriving missing handles from names
func getIndexConfigs(v *viper.Viper) ([]*Index, error) {
	var indexes []*Index
	if !v.IsSet("data.search.indexes") {
		return indexes, nil
	}
	if err := v.UnmarshalKey("data.search.indexes", &indexes); err != nil {
		return nil, fmt.Errorf("failed to decode data.search.indexes: %w", err)
	}
	for _, idx := range indexes {
		if idx.Handle == "" && idx.Name != "" {
			idx.Handle = slug.Make(idx.Name)
		}
		if idx.Name == "" {
			idx.Name = idx.Handle
		}
		idx.Engine = strings.ToLower(idx.Engine)
	}
	return indexes, nil
}

// getSwapConfig reads swap orchestration settings
func getSwapConfig(v *viper.Viper) *Swap {
	swap := &Swap{
		BatchSize:    getIntOrDefault(v, "data.search.swap.batch_size", 500),
		AllowPartial: getBoolOrDefault(v, "data.search.swap.allow_partial", false),
		Verify:       getBoolOrDefault(v, "data.search.swap.verify", true),
		Lock:         getStringOrDefault(v, "data.search.swap.lock", "local"),
		LockTTL:      getDurationOrDefault(v, "data.search.swap.lock_ttl", 30*time.Minute),
	}
	if swap.Lock == "redis" {
		swap.Redis = &Redis{
			Addr:     firstString(v, "data.search.swap.redis.addr", "data.redis.addr"),
			Username: firstString(v, "data.search.swap.redis.username", "data.redis.username"),
			Password: firstString(v, "data.search.swap.redis.password", "data.redis.password"),
			DB:       getIntOrDefault(v, "data.search.swap.redis.db", v.GetInt("data.redis.db")),
		}
	}
	return swap
}

// getBreakerConfig reads circuit breaker settings
func getBreakerConfig(v *viper.Viper) *Breaker {
	return &Breaker{
		Enabled:          getBoolOrDefault(v, "data.search.breaker.enabled", true),
		MaxRequests:      getUint32OrDefault(v, "data.search.breaker.max_requests", 1),
		Interval:         getDurationOrDefault(v, "data.search.breaker.interval", time.Minute),
		Timeout:          getDurationOrDefault(v, "data.search.breaker.timeout", 30*time.Second),
		FailureThreshold: getUint32OrDefault(v, "data.search.breaker.failure_threshold", 5),
	}
}

// Algolia algolia config struct
type Algolia struct {
	AppID  string   `json:"app_id" yaml:"app_id"`
	APIKey string   `json:"api_key" yaml:"api_key"`
	Hosts  []string `json:"hosts" yaml:"hosts"`
}

// getAlgoliaConfigs reads Algolia configurations
func getAlgoliaConfigs(v *viper.Viper) *Algolia {
	return &Algolia{
		AppID:  firstString(v, "data.search.algolia.app_id", "data.algolia.app_id"),
		APIKey: firstString(v, "data.search.algolia.api_key", "data.algolia.api_key"),
		Hosts:  firstStringSlice(v, "data.search.algolia.hosts", "data.algolia.hosts"),
	}
}

// OpenSearch opensearch config struct
type OpenSearch struct {
	Addresses       []string `json:"addresses" yaml:"addresses"`
	Username        string   `json:"username" yaml:"username"`
	Password        string   `json:"password" yaml:"password"`
	InsecureSkipTLS bool     `json:"insecure_skip_tls" yaml:"insecure_skip_tls"`
}

// getOpenSearchConfigs reads OpenSearch configurations
func getOpenSearchConfigs(v *viper.Viper) *OpenSearch {
	// Prefer `data.search.opensearch.*` but keep backward compatibility with `data.opensearch.*`.
	insecureSkipTLS := v.GetBool("data.search.opensearch.insecure_skip_tls")
	if !v.IsSet("data.search.opensearch.insecure_skip_tls") {
		insecureSkipTLS = v.GetBool("data.opensearch.insecure_skip_tls")
	}

	return &OpenSearch{
		Addresses:       firstStringSlice(v, "data.search.opensearch.addresses", "data.opensearch.addresses"),
		Username:        firstString(v, "data.search.opensearch.username", "data.opensearch.username"),
		Password:        firstString(v, "data.search.opensearch.password", "data.opensearch.password"),
		InsecureSkipTLS: insecureSkipTLS,
	}
}

// Elasticsearch elasticsearch config struct
type Elasticsearch struct {
	Addresses []string `json:"addresses" yaml:"addresses"`
	Username  string   `json:"username" yaml:"username"`
	Password  string   `json:"password" yaml:"password"`
	APIKey    string   `json:"api_key" yaml:"api_key"`
}

// getElasticsearchConfigs reads Elasticsearch configurations
func getElasticsearchConfigs(v *viper.Viper) *Elasticsearch {
	// Prefer `data.search.elasticsearch.*` but keep backward compatibility with `data.elasticsearch.*`.
	return &Elasticsearch{
		Addresses: firstStringSlice(v, "data.search.elasticsearch.addresses", "data.elasticsearch.addresses"),
		Username:  firstString(v, "data.search.elasticsearch.username", "data.elasticsearch.username"),
		Password:  firstString(v, "data.search.elasticsearch.password", "data.elasticsearch.password"),
		APIKey:    firstString(v, "data.search.elasticsearch.api_key", "data.elasticsearch.api_key"),
	}
}

// Meilisearch meilisearch config struct
type Meilisearch struct {
	Host   string `json:"host" yaml:"host"`
	APIKey string `json:"api_key" yaml:"api_key"`
}

// getMeilisearchConfigs reads Meilisearch configurations
func getMeilisearchConfigs(v *viper.Viper) *Meilisearch {
	return &Meilisearch{
		Host:   firstString(v, "data.search.meilisearch.host", "data.meilisearch.host"),
		APIKey: firstString(v, "data.search.meilisearch.api_key", "data.meilisearch.api_key"),
	}
}

// Typesense typesense config struct
type Typesense struct {
	Nodes  []string `json:"nodes" yaml:"nodes"`
	APIKey string   `json:"api_key" yaml:"api_key"`
}

// getTypesenseConfigs reads Typesense configurations, accepting a single host as well as a node list
func getTypesenseConfigs(v *viper.Viper) *Typesense {
	nodes := firstStringSlice(v, "data.search.typesense.nodes", "data.typesense.nodes")
	if len(nodes) == 0 {
		nodes = nonEmpty(firstString(v, "data.search.typesense.host", "data.typesense.host"))
	}
	return &Typesense{
		Nodes:  nodes,
		APIKey: firstString(v, "data.search.typesense.api_key", "data.typesense.api_key"),
	}
}

func nonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	return []string{s}
}
