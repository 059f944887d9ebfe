package search

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ncobase/nsearch/utils/convert"
)

// Engine represents search engine type
type Engine string

const (
	Algolia       Engine = "algolia"
	Elasticsearch Engine = "elasticsearch"
	OpenSearch    Engine = "opensearch"
	Meilisearch   Engine = "meilisearch"
	Typesense     Engine = "typesense"
)

// Engines lists every supported engine family
var Engines = []Engine{Algolia, Elasticsearch, OpenSearch, Meilisearch, Typesense}

// ParseEngine resolves an engine name, accepting common abbreviations
func ParseEngine(name string) (Engine, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "algolia":
		return Algolia, nil
	case "elasticsearch", "elastic", "es":
		return Elasticsearch, nil
	case "opensearch", "os":
		return OpenSearch, nil
	case "meilisearch", "meili":
		return Meilisearch, nil
	case "typesense":
		return Typesense, nil
	}
	return "", &ConfigurationError{Field: "engine", Reason: fmt.Sprintf("unsupported engine %q", name)}
}

// FieldType is the canonical field type shared by all backends
type FieldType string

const (
	FieldText      FieldType = "text"
	FieldKeyword   FieldType = "keyword"
	FieldFacet     FieldType = "facet"
	FieldInteger   FieldType = "integer"
	FieldFloat     FieldType = "float"
	FieldBoolean   FieldType = "boolean"
	FieldDate      FieldType = "date"
	FieldGeoPoint  FieldType = "geo_point"
	FieldObject    FieldType = "object"
	FieldEmbedding FieldType = "embedding"
)

// Valid reports whether t is a known canonical type
func (t FieldType) Valid() bool {
	switch t {
	case FieldText, FieldKeyword, FieldFacet, FieldInteger, FieldFloat,
		FieldBoolean, FieldDate, FieldGeoPoint, FieldObject, FieldEmbedding:
		return true
	}
	return false
}

// IsNumeric reports whether values of t support range filters and stats
func (t FieldType) IsNumeric() bool {
	return t == FieldInteger || t == FieldFloat || t == FieldDate
}

// Role is an optional semantic tag of a field mapping
type Role string

const (
	RoleTitle     Role = "title"
	RoleURL       Role = "url"
	RoleDate      Role = "date"
	RoleSummary   Role = "summary"
	RoleThumbnail Role = "thumbnail"
	RoleImage     Role = "image"
)

// FieldMapping is one canonical field of an Index
type FieldMapping struct {
	Name    string         `json:"indexFieldName" validate:"required"`
	Type    FieldType      `json:"indexFieldType" validate:"required"`
	Enabled bool           `json:"enabled"`
	Weight  int            `json:"weight" validate:"gte=0"`
	Role    Role           `json:"role,omitempty" validate:"omitempty,oneof=title url date summary thumbnail image"`
	Options map[string]any `json:"resolverConfig,omitempty"`
}

// Dimensions returns the vector dimension of an embedding mapping, 0 if unset
func (f FieldMapping) Dimensions() int {
	if f.Options == nil {
		return 0
	}
	for _, key := range []string{"dimensions", "dims", "dimension"} {
		if v, ok := f.Options[key]; ok {
			if n, err := convert.ToInt(v); err == nil && n > 0 {
				return int(n)
			}
		}
	}
	return 0
}

// EngineConfig is the connection of one adapter instance
type EngineConfig struct {
	Engine          Engine
	Hosts           []string
	APIKey          string
	AppID           string
	Username        string
	Password        string
	InsecureSkipTLS bool
	Timeout         time.Duration
}

// Merge returns a copy of c with the non-zero values of override applied
func (c EngineConfig) Merge(override *EngineConfig) EngineConfig {
	if override == nil {
		return c
	}
	out := c
	if len(override.Hosts) > 0 {
		out.Hosts = override.Hosts
	}
	if override.APIKey != "" {
		out.APIKey = override.APIKey
	}
	if override.AppID != "" {
		out.AppID = override.AppID
	}
	if override.Username != "" {
		out.Username = override.Username
	}
	if override.Password != "" {
		out.Password = override.Password
	}
	if override.InsecureSkipTLS {
		out.InsecureSkipTLS = true
	}
	if override.Timeout > 0 {
		out.Timeout = override.Timeout
	}
	return out
}

// Key identifies the connection for adapter memoization
func (c EngineConfig) Key() string {
	return fmt.Sprintf("%s|%s|%s|%s|%s", c.Engine, strings.Join(c.Hosts, ","), c.AppID, c.Username, c.APIKey)
}

// Host returns the first configured host
func (c EngineConfig) Host() string {
	if len(c.Hosts) == 0 {
		return ""
	}
	return c.Hosts[0]
}

// DefaultTimeout is the client-level timeout of engine transports
const DefaultTimeout = 10 * time.Second

// RequestTimeout returns Timeout, or DefaultTimeout when unset
func (c EngineConfig) RequestTimeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultTimeout
}

// Index is a named, logical search collection
type Index struct {
	Handle       string         `json:"handle" validate:"required"`
	Name         string         `json:"name"`
	Engine       Engine         `json:"engine"`
	Prefix       string         `json:"prefix,omitempty"`
	OverrideName string         `json:"overrideName,omitempty"`
	Fields       []FieldMapping `json:"fields" validate:"dive"`
	Connection   *EngineConfig  `json:"-"`
}

// PhysicalName returns the name sent to the backend
func (i *Index) PhysicalName() string {
	if i.OverrideName != "" {
		return i.OverrideName
	}
	return i.Prefix + i.Handle
}

// WithPhysicalName returns a copy of the index addressing another physical store
func (i *Index) WithPhysicalName(name string) *Index {
	cp := *i
	cp.OverrideName = name
	return &cp
}

// EnabledFields returns the enabled mappings in declaration order
func (i *Index) EnabledFields() []FieldMapping {
	out := make([]FieldMapping, 0, len(i.Fields))
	for _, f := range i.Fields {
		if f.Enabled {
			out = append(out, f)
		}
	}
	return out
}

// FieldTypes maps enabled field names to their canonical type
func (i *Index) FieldTypes() map[string]FieldType {
	out := make(map[string]FieldType, len(i.Fields))
	for _, f := range i.Fields {
		if f.Enabled {
			out[f.Name] = f.Type
		}
	}
	return out
}

// FieldByRole returns the enabled mapping holding role
func (i *Index) FieldByRole(role Role) (FieldMapping, bool) {
	for _, f := range i.Fields {
		if f.Enabled && f.Role == role {
			return f, true
		}
	}
	return FieldMapping{}, false
}

// firstOfType returns the first enabled mapping of type t
func (i *Index) firstOfType(t FieldType) (FieldMapping, bool) {
	for _, f := range i.Fields {
		if f.Enabled && f.Type == t {
			return f, true
		}
	}
	return FieldMapping{}, false
}

// GeoField returns the name of the first enabled geo_point mapping
func (i *Index) GeoField() string {
	f, _ := i.firstOfType(FieldGeoPoint)
	return f.Name
}

// EmbeddingField returns the first enabled embedding mapping
func (i *Index) EmbeddingField() (FieldMapping, bool) {
	return i.firstOfType(FieldEmbedding)
}

// SearchableFields returns enabled text mappings ordered by weight descending
func (i *Index) SearchableFields() []FieldMapping {
	var out []FieldMapping
	for _, f := range i.Fields {
		if f.Enabled && (f.Type == FieldText || f.Type == FieldKeyword || f.Type == FieldFacet) {
			out = append(out, f)
		}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Weight > out[b].Weight })
	return out
}

// SuggestField returns the field used for spelling suggestions: the title
// mapping when it is text, else the highest weighted text mapping.
func (i *Index) SuggestField() string {
	if f, ok := i.FieldByRole(RoleTitle); ok && f.Type == FieldText {
		return f.Name
	}
	for _, f := range i.SearchableFields() {
		if f.Type == FieldText {
			return f.Name
		}
	}
	return ""
}

var validate = validator.New()

// Validate checks the index definition
func (i *Index) Validate() error {
	if err := validate.Struct(i); err != nil {
		return &ConfigurationError{Engine: i.Engine, Field: "index", Reason: err.Error()}
	}
	roles := make(map[Role]string)
	for _, f := range i.Fields {
		if !f.Type.Valid() {
			return &ConfigurationError{Engine: i.Engine, Field: f.Name, Reason: fmt.Sprintf("unknown field type %q", f.Type)}
		}
		if !f.Enabled || f.Role == "" {
			continue
		}
		if other, ok := roles[f.Role]; ok {
			return &ConfigurationError{
				Engine: i.Engine,
				Field:  f.Name,
				Reason: fmt.Sprintf("role %q already held by %q", f.Role, other),
			}
		}
		roles[f.Role] = f.Name
	}
	return nil
}

// Document is a flat field → value map carrying objectID
type Document map[string]any

// ObjectIDKey is the document key holding the stable identifier
const ObjectIDKey = "objectID"

// ID returns the objectID as string
func (d Document) ID() string {
	return convert.ToString(d[ObjectIDKey])
}

// Clone returns a shallow copy
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// NormalizeDates returns a copy with date-typed fields converted to format
func (d Document) NormalizeDates(types map[string]FieldType, format DateFormat) Document {
	out := d.Clone()
	for name, t := range types {
		if t != FieldDate {
			continue
		}
		if v, ok := out[name]; ok && v != nil {
			out[name] = NormalizeDate(v, format)
		}
	}
	return out
}
