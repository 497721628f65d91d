package build

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/ije/gox/utils"
	"github.com/postjs/compiler/internal/app_dir"
	"github.com/postjs/compiler/internal/jsonc"
)

// Config is the project config, "postjs.config.json" in the source root.
type Config struct {
	SrcDir         string          `json:"srcDir"`
	OutputDir      string          `json:"outputDir"`
	BaseURL        string          `json:"baseUrl"`
	DefaultLocale  string          `json:"defaultLocale"`
	CacheDepsRaw   json.RawMessage `json:"cacheDeps"`
	CacheMaxSize   string          `json:"cacheMaxSize"`
	SharedCache    bool            `json:"sharedCache"`
	SourceHashSalt string          `json:"sourceHashSalt"`
	SourceMapRaw   json.RawMessage `json:"sourceMap"`
	Debounce       uint16          `json:"debounce"` // milliseconds
	FetchTimeout   uint16          `json:"fetchTimeout"` // seconds, zero means no timeout
	Port           uint16          `json:"port"`
	LogDir         string          `json:"logDir"`
	LogLevel       string          `json:"logLevel"`
	CacheDeps      bool            `json:"-"`
	SourceMap      bool            `json:"-"`
	CacheMaxBytes  int64           `json:"-"`
}

// LoadConfig loads the config file of the root directory. A missing file yields the default config,
// a malformed file yields the default config and a ConfigError.
func LoadConfig(root string) (*Config, error) {
	filename := filepath.Join(root, "postjs.config.json")
	config := &Config{}
	data, err := os.ReadFile(filename)
	if err != nil && !os.IsNotExist(err) {
		normalizeConfig(config)
		return config, &ConfigError{File: filename, Err: err}
	}
	if err == nil {
		if err := json.Unmarshal(jsonc.Strip(data), config); err != nil {
			config = &Config{}
			normalizeConfig(config)
			return config, &ConfigError{File: filename, Err: err}
		}
	}
	normalizeConfig(config)
	return config, nil
}

func DefaultConfig() *Config {
	config := &Config{}
	normalizeConfig(config)
	return config
}

func normalizeConfig(config *Config) {
	if config.SrcDir == "" {
		config.SrcDir = "."
	}
	if config.OutputDir == "" {
		config.OutputDir = "dist"
	}
	if config.BaseURL == "" {
		config.BaseURL = "/"
	}
	if config.DefaultLocale == "" {
		config.DefaultLocale = "en"
	}
	if config.Debounce == 0 {
		config.Debounce = 150
	}
	if config.Port == 0 {
		config.Port = 8080
		if v := os.Getenv("POSTJS_PORT"); v != "" {
			if p, e := strconv.Atoi(v); e == nil && p > 0 && p < 65536 {
				config.Port = uint16(p)
			}
		}
	}
	if config.LogLevel == "" {
		config.LogLevel = os.Getenv("POSTJS_LOG_LEVEL")
		if config.LogLevel == "" {
			config.LogLevel = "info"
		}
	}
	if config.CacheMaxSize != "" {
		n, err := utils.ParseBytes(config.CacheMaxSize)
		if err != nil {
			log.Warnf("invalid cacheMaxSize %q, the cache is unbounded", config.CacheMaxSize)
		} else {
			config.CacheMaxBytes = n
		}
	}
	config.CacheDeps = !bytes.Equal(config.CacheDepsRaw, []byte("false"))
	config.SourceMap = !bytes.Equal(config.SourceMapRaw, []byte("false"))
}

// Options returns the build options of the config for the project root.
func (config *Config) Options(root string, mode string) Options {
	opts := Options{
		Root:           filepath.Join(root, config.SrcDir),
		Mode:           mode,
		BaseURL:        config.BaseURL,
		DefaultLocale:  config.DefaultLocale,
		CacheRemote:    config.CacheDeps,
		CacheMaxBytes:  config.CacheMaxBytes,
		SourceHashSalt: config.SourceHashSalt,
		SourceMap:      config.SourceMap && mode != "production",
		FetchTimeout:   time.Duration(config.FetchTimeout) * time.Second,
	}
	if config.SharedCache {
		if dir, err := app_dir.RemoteCacheDir(); err == nil {
			opts.RemoteCacheDir = dir
		} else {
			log.Warnf("shared cache disabled: %v", err)
		}
	}
	return opts
}
