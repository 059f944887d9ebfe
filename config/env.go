package config

import (
	"os"
	"reflect"
	"regexp"
	"strings"

	"github.com/spf13/viper"
)

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

// ExpandEnv replaces ${VAR} and ${VAR:-default} with environment variable values.
func ExpandEnv(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return envVarRegex.ReplaceAllStringFunc(s, func(match string) string {
		expr := match[2 : len(match)-1]
		name, def, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(name)
		if val == "" && hasDefault {
			val = def
		}
		return val
	})
}

// expandViper resolves environment indirections in every value held by nv,
// including strings nested inside lists of maps.
func expandViper(nv *viper.Viper) {
	for _, key := range nv.AllKeys() {
		raw := nv.Get(key)
		expanded := expandValue(raw)
		if !reflect.DeepEqual(raw, expanded) {
			nv.Set(key, expanded)
		}
	}
}

func expandValue(value any) any {
	switch val := value.(type) {
	case string:
		return ExpandEnv(val)
	case []string:
		out := make([]string, len(val))
		for i, s := range val {
			out[i] = ExpandEnv(s)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = expandValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = expandValue(item)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			if ks, ok := k.(string); ok {
				out[ks] = expandValue(item)
			}
		}
		return out
	default:
		return value
	}
}
