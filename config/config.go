package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables overriding config keys,
// e.g. NSEARCH_DATA_SEARCH_MEILISEARCH_HOST.
const EnvPrefix = "NSEARCH"

var (
	config *Config
	path   string
	mu     sync.RWMutex
	v      *viper.Viper
)

// Config represents the configuration implementation.
type Config struct {
	AppName     string
	Environment string
	Server      *Server
	Logger      *Logger
	Observes    *Observes
	Search      *Search
	Viper       *viper.Viper
}

// Init loads the configuration from configPath and sets it globally.
func Init(configPath string) (*Config, error) {
	mu.Lock()
	defer mu.Unlock()

	nv := newViper()
	cfg, err := load(nv, configPath)
	if err != nil {
		return nil, err
	}
	v, path, config = nv, configPath, cfg
	return cfg, nil
}

// GetConfig returns the global configuration, loading it from the default
// locations on first use.
func GetConfig() (*Config, error) {
	mu.RLock()
	cfg := config
	mu.RUnlock()
	if cfg != nil {
		return cfg, nil
	}
	cfg, err := Init(path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize config: %w", err)
	}
	return cfg, nil
}

// LoadConfig loads the configuration from the file without touching the global state.
func LoadConfig(configPath string) (*Config, error) {
	return load(newViper(), configPath)
}

func newViper() *viper.Viper {
	nv := viper.New()
	nv.SetEnvPrefix(EnvPrefix)
	nv.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	nv.AutomaticEnv()
	return nv
}

// load reads the configuration file into nv and builds the Config.
func load(nv *viper.Viper, configPath string) (*Config, error) {
	if configPath != "" {
		nv.SetConfigFile(configPath)
	} else {
		nv.SetConfigName("config")
		nv.AddConfigPath(".")
		nv.AddConfigPath("$HOME/.nsearch")
		nv.AddConfigPath("/etc/nsearch")
		if ex, err := os.Executable(); err == nil {
			nv.AddConfigPath(filepath.Dir(ex))
		}
	}

	if err := nv.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return FromViper(nv)
}

// FromViper builds a Config from an already populated viper instance.
// Environment indirections are expanded before any value is read.
func FromViper(nv *viper.Viper) (*Config, error) {
	expandViper(nv)

	search, err := getSearchConfig(nv)
	if err != nil {
		return nil, err
	}

	return &Config{
		AppName:     nv.GetString("app_name"),
		Environment: nv.GetString("environment"),
		Server:      getServerConfig(nv),
		Logger:      getLoggerConfig(nv),
		Observes:    getObservesConfig(nv),
		Search:      search,
		Viper:       nv,
	}, nil
}

// Reload reloads the configuration from the file.
func Reload() (*Config, error) {
	mu.Lock()
	defer mu.Unlock()

	if v == nil {
		return nil, fmt.Errorf("config not initialized")
	}
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to reload config: %w", err)
	}
	cfg, err := FromViper(v)
	if err != nil {
		return nil, fmt.Errorf("failed to reload config: %w", err)
	}
	config = cfg
	return cfg, nil
}

// Watch watches the configuration file and reloads it when it changes.
// onError receives reload failures; the previous configuration stays active.
func Watch(callback func(*Config), onError func(error)) {
	mu.RLock()
	nv := v
	mu.RUnlock()
	if nv == nil {
		return
	}

	nv.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := Reload()
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		callback(cfg)
	})
	nv.WatchConfig()
}
