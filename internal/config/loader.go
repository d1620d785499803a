// Package config loads tripbundle configuration with viper. Layers, lowest
// first: built-in defaults, the first config.yaml found (explicit file or XDG
// paths), .env files, environment variables, bound flags, runtime overrides.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/fulmenhq/gofulmen/appidentity"
	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/tripbundle/tripbundle/internal/appid"
)

const defaultAppName = "tripbundle"

var (
	appConfig   *Config
	configMu    sync.RWMutex
	appIdentity *appidentity.Identity

	// DotEnvFiles are loaded, when present, before the environment is read.
	// Variables already set in the process win.
	DotEnvFiles = []string{".env"}
)

// Load reads configuration through the process-wide viper instance, which
// carries the CLI's config-file flag and bound flags.
func Load(ctx context.Context, runtimeOverrides ...map[string]any) (*Config, error) {
	return LoadWith(ctx, viper.GetViper(), runtimeOverrides...)
}

// LoadWith reads configuration through v. It is safe to call repeatedly.
func LoadWith(ctx context.Context, v *viper.Viper, runtimeOverrides ...map[string]any) (*Config, error) {
	if appIdentity == nil {
		identity, err := appid.Get(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load app identity: %w", err)
		}
		appIdentity = identity
	}
	prefix := envPrefix()

	if err := loadDotEnv(DotEnvFiles); err != nil {
		return nil, err
	}

	setDefaults(v)
	v.SetEnvPrefix(strings.TrimSuffix(prefix, "_"))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range envAliases(prefix) {
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	settings := v.AllSettings()
	if raw, ok := settings["rate_limits"].(map[string]any); ok {
		settings["rate_limits"] = flattenKeys("", raw)
	}

	envOverrides := map[string]any{}
	applyAILinkDynamicEnvOverrides(prefix, envOverrides)
	if value := strings.TrimSpace(os.Getenv(prefix + "RATE_LIMIT_MARGIN")); value != "" {
		margin, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid rate limit margin: %w", err)
		}
		envOverrides["rate_limit_margin"] = margin
	}
	mergeSettings(settings, envOverrides)
	applyProviderKeyEnv(settings)
	for _, overrides := range runtimeOverrides {
		mergeSettings(settings, overrides)
	}

	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			mapstructure.StringToFloat64HookFunc(),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := decoder.Decode(settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if strings.EqualFold(cfg.Store.Driver, "libsql") &&
		strings.TrimSpace(cfg.Store.URL) == "" && strings.TrimSpace(cfg.Store.Path) == "" {
		cfg.Store.Path = DefaultStorePath()
	}

	setConfig(cfg)
	return cfg, nil
}

// GetConfig returns the current application configuration (thread-safe)
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

func setConfig(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	appConfig = cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	// longer than planner.request_timeout so a full plan can be written back
	v.SetDefault("server.write_timeout", "200s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("planner.max_concurrency", 4)
	v.SetDefault("planner.destination_timeout", "90s")
	v.SetDefault("planner.request_timeout", "3m")
	v.SetDefault("planner.max_bundles", 3)
	v.SetDefault("planner.max_results_per_query", 5)
	v.SetDefault("planner.max_evidence", 12)
	v.SetDefault("planner.max_interest_queries", 4)
	v.SetDefault("planner.min_evidence", 1)
	v.SetDefault("planner.snippet_chars", 400)
	v.SetDefault("planner.role", "itinerary-fragment")
	v.SetDefault("planner.model", "")

	v.SetDefault("search.provider", "tavily")
	v.SetDefault("search.base_url", "https://api.tavily.com")
	v.SetDefault("search.api_key", "")
	v.SetDefault("search.search_depth", "basic")
	v.SetDefault("search.timeout", "20s")

	v.SetDefault("ailink.default_provider", "openai")
	v.SetDefault("ailink.default_timeout", "60s")
	v.SetDefault("ailink.prompts_dir", "")
	v.SetDefault("ailink.providers", map[string]any{
		"openai": map[string]any{
			"enabled":     true,
			"ai_provider": "openai",
			"models":      map[string]any{"default": "gpt-4o-mini"},
		},
		"gemini": map[string]any{
			"enabled":     true,
			"ai_provider": "gemini",
			"models":      map[string]any{"default": "gemini-2.0-flash"},
		},
	})
	v.SetDefault("ailink.routing", map[string]any{})

	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.path", "")
	v.SetDefault("store.url", "")
	v.SetDefault("store.auth_token", "")
	v.SetDefault("store.redis_addr", "")
	v.SetDefault("store.redis_password", "")
	v.SetDefault("store.redis_db", 0)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "SIMPLE")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.insecure", false)
	v.SetDefault("tracing.sample_ratio", 1.0)

	v.SetDefault("rate_limits", map[string]any{})
	v.SetDefault("rate_limit_margin", 0.9)
}

// envAliases maps config keys to short env names kept alongside the
// automatic PREFIX_SECTION_KEY form.
func envAliases(prefix string) map[string][]string {
	return map[string][]string{
		"server.host":             {prefix + "HOST"},
		"server.port":             {prefix + "PORT"},
		"server.read_timeout":     {prefix + "READ_TIMEOUT"},
		"server.write_timeout":    {prefix + "WRITE_TIMEOUT"},
		"server.shutdown_timeout": {prefix + "SHUTDOWN_TIMEOUT"},
		"logging.level":           {prefix + "LOG_LEVEL"},
		"logging.profile":         {prefix + "LOG_PROFILE"},
		"store.driver":            {prefix + "DB_DRIVER"},
		"store.path":              {prefix + "DB_PATH"},
		"store.url":               {prefix + "DB_URL"},
		"store.auth_token":        {prefix + "DB_AUTH_TOKEN"},
		"store.redis_addr":        {prefix + "REDIS_ADDR", "REDIS_ADDR"},
		"store.redis_password":    {prefix + "REDIS_PASSWORD", "REDIS_PASSWORD"},
		"search.api_key":          {prefix + "SEARCH_API_KEY", "TAVILY_API_KEY"},
		"tracing.endpoint":        {"OTEL_EXPORTER_OTLP_ENDPOINT"},
	}
}

func envPrefix() string {
	prefix := "TRIPBUNDLE_"
	if appIdentity != nil && strings.TrimSpace(appIdentity.EnvPrefix) != "" {
		prefix = appIdentity.EnvPrefix
	}
	if !strings.HasSuffix(prefix, "_") {
		prefix += "_"
	}
	return prefix
}

func loadDotEnv(files []string) error {
	existing := make([]string, 0, len(files))
	for _, file := range files {
		if _, err := os.Stat(file); err == nil {
			existing = append(existing, file)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// readConfigFile reads the explicitly set file, or the first user config file
// that exists. Having no config file is not an error.
func readConfigFile(v *viper.Viper) error {
	if v.ConfigFileUsed() == "" {
		for _, path := range userConfigPaths() {
			if _, err := os.Stat(path); err == nil {
				v.SetConfigFile(path)
				break
			}
		}
	}
	if v.ConfigFileUsed() == "" {
		return nil
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config %s: %w", v.ConfigFileUsed(), err)
	}
	return nil
}

func userConfigPaths() []string {
	configName, binaryName := appNamesForPaths()
	legacy := []string{}
	if binaryName != configName {
		legacy = append(legacy, binaryName)
	}
	return gfconfig.GetAppConfigPaths(configName, legacy...)
}

// applyProviderKeyEnv fills an enabled provider's credential list from the
// conventional vendor variables when nothing else configured one.
func applyProviderKeyEnv(settings map[string]any) {
	vendorKeys := map[string]string{
		"openai": "OPENAI_API_KEY",
		"gemini": "GEMINI_API_KEY",
	}
	ailink := ensureMap(settings, "ailink")
	providers := ensureMap(ailink, "providers")

	ids := make([]string, 0, len(providers))
	for id := range providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		provider, ok := providers[id].(map[string]any)
		if !ok {
			continue
		}
		driver, _ := provider["ai_provider"].(string)
		envName, ok := vendorKeys[strings.ToLower(driver)]
		if !ok {
			continue
		}
		key := strings.TrimSpace(os.Getenv(envName))
		if key == "" {
			continue
		}
		if creds, _ := provider["credentials"].([]any); len(creds) > 0 {
			continue
		}
		provider["credentials"] = []any{map[string]any{
			"enabled": true,
			"label":   strings.ToLower(envName),
			"api_key": key,
		}}
	}
}

// flattenKeys undoes viper's key splitting for maps keyed by hostnames.
func flattenKeys(prefix string, in map[string]any) map[string]any {
	out := map[string]any{}
	for key, value := range in {
		full := key
		if prefix != "" {
			full = prefix + "." + key
		}
		if nested, ok := value.(map[string]any); ok {
			for k, v := range flattenKeys(full, nested) {
				out[k] = v
			}
			continue
		}
		out[full] = value
	}
	return out
}

// mergeSettings deep-merges src into dst; src wins on conflicts.
func mergeSettings(dst, src map[string]any) {
	for key, value := range src {
		key = strings.ToLower(key)
		srcMap, srcIsMap := value.(map[string]any)
		dstMap, dstIsMap := dst[key].(map[string]any)
		if srcIsMap && dstIsMap {
			mergeSettings(dstMap, srcMap)
			continue
		}
		dst[key] = value
	}
}

func appNamesForPaths() (configName string, binaryName string) {
	configName = defaultAppName
	binaryName = defaultAppName
	if appIdentity == nil {
		return configName, binaryName
	}
	if strings.TrimSpace(appIdentity.ConfigName) != "" {
		configName = appIdentity.ConfigName
	}
	if strings.TrimSpace(appIdentity.BinaryName) != "" {
		binaryName = appIdentity.BinaryName
	}
	return configName, binaryName
}

// DefaultConfigPath returns the XDG-compliant path to the user config file.
func DefaultConfigPath() string {
	configName, _ := appNamesForPaths()
	configDir := gfconfig.GetAppConfigDir(configName)
	if strings.TrimSpace(configDir) == "" {
		return ""
	}
	return filepath.Join(configDir, "config.yaml")
}

// DefaultStorePath returns the XDG-compliant path to the libsql database file.
func DefaultStorePath() string {
	configName, binaryName := appNamesForPaths()
	dataDir := gfconfig.GetAppDataDir(configName)
	if strings.TrimSpace(dataDir) == "" {
		return "./" + binaryName + ".db"
	}
	return filepath.Join(dataDir, binaryName+".db")
}
