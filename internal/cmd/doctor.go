package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tripbundle/tripbundle/internal/config"
	"github.com/tripbundle/tripbundle/internal/core/store"
	"github.com/tripbundle/tripbundle/internal/observability"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Run diagnostic checks on the installation: runtime, config, the rate-limit
store, and whether server-side LLM and search keys are present. Keys are
reported as set or not set, never printed.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		log := observability.CLILogger
		identity := GetAppIdentity()
		appName := "tripbundle"
		if identity != nil && identity.BinaryName != "" {
			appName = identity.BinaryName
		}
		log.Info("=== " + appName + " doctor ===")
		log.Info("")

		allChecks := true
		const totalChecks = 8
		step := func(n int, label string) string { return fmt.Sprintf("[%d/%d] %s...", n, totalChecks, label) }

		goVersion := runtime.Version()
		log.Info(step(1, "Checking Go runtime")+" ✅ "+goVersion,
			zap.String("go_version", goVersion),
			zap.String("os", runtime.GOOS),
			zap.String("arch", runtime.GOARCH))

		version := crucible.GetVersion()
		if version.Crucible != "" && version.Gofulmen != "" {
			log.Info(fmt.Sprintf("%s ✅ gofulmen v%s, crucible v%s", step(2, "Checking Fulmen libraries"), version.Gofulmen, version.Crucible))
		} else {
			log.Error(step(2, "Checking Fulmen libraries") + " ❌ embedded versions missing")
			allChecks = false
		}

		configPath := config.DefaultConfigPath()
		if fileExists(configPath) {
			log.Info(step(3, "Checking config file")+" ✅ "+configPath, zap.String("config_path", configPath))
		} else {
			log.Info(step(3, "Checking config file")+" ℹ️  "+configPath+" (not created; defaults and environment apply)",
				zap.String("config_path", configPath))
		}

		cfg, cfgErr := loadConfig(ctx)
		if cfgErr != nil {
			log.Error(step(4, "Loading config")+" ❌", zap.Error(cfgErr))
			log.Warn("⚠️  Remaining checks skipped.")
			return
		}
		log.Info(step(4, "Loading config") + " ✅")

		rates, limiter, storeErr := openRateStore(ctx)
		if storeErr != nil {
			log.Error(step(5, "Opening rate-limit store")+" ❌ "+cfg.Store.Driver, zap.Error(storeErr))
			allChecks = false
		} else {
			entries, err := rates.ListRateLimits(ctx, store.RateLimitQuery{All: true})
			if err != nil {
				log.Error(step(5, "Opening rate-limit store")+" ❌ "+rates.Driver(), zap.Error(err))
				allChecks = false
			} else {
				log.Info(fmt.Sprintf("%s ✅ %s (%d endpoint(s) tracked, %d limit(s) configured)",
					step(5, "Opening rate-limit store"), describeStore(cfg.Store, rates.Driver()), len(entries), len(limiter.Endpoints())))
			}
			_ = rates.Close()
		}

		p, err := buildPlanner(ctx, cfg, nil)
		if err != nil {
			log.Error(step(6, "Wiring planner")+" ❌", zap.Error(err))
			allChecks = false
		} else {
			defer func() { _ = p.Close() }()
			log.Info(step(6, "Wiring planner") + " ✅")
		}

		provider, model, llmReady := "", "", false
		if p != nil {
			provider, model, llmReady = plannerInfo(cfg, p.LLM)
		}
		if llmReady {
			log.Info(fmt.Sprintf("%s ✅ %s (%s)", step(7, "Checking server LLM key"), provider, orDash(model)))
		} else {
			log.Warn(fmt.Sprintf("%s ⚠️  %s has no key; requests must supply openai_api_key", step(7, "Checking server LLM key"), orDash(provider)))
		}

		if strings.TrimSpace(cfg.Search.APIKey) != "" {
			log.Info(step(8, "Checking server search key") + " ✅ set")
		} else {
			log.Warn(step(8, "Checking server search key") + " ⚠️  not set; requests must supply tavily_api_key")
		}

		log.Info("")
		if allChecks {
			log.Info(fmt.Sprintf("✅ All checks passed! Your %s installation is healthy.", appName))
		} else {
			log.Warn("⚠️  Some checks failed. Review the output above for details.")
		}
	},
}

var doctorInitForce bool

var doctorInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter config file",
	Long:  "Write a starter config file. API keys are left to environment variables.",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := config.DefaultConfigPath()
		if configPath == "" {
			return fmt.Errorf("config path not resolved")
		}
		if fileExists(configPath) && !doctorInitForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", configPath)
		}
		if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
		if err := os.WriteFile(configPath, []byte(starterConfig()), 0o600); err != nil {
			return fmt.Errorf("write config file: %w", err)
		}
		observability.CLILogger.Info("Config initialized", zap.String("path", configPath))
		return nil
	},
}

var doctorConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Show configuration paths and effective settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd.Context())
		if err != nil {
			return err
		}
		return writeConfigReport(cmd.OutOrStdout(), cfg, config.DefaultConfigPath())
	},
}

var doctorValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the current config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := config.DefaultConfigPath()
		if !fileExists(configPath) {
			return fmt.Errorf("config file not found: %s", configPath)
		}
		if _, err := loadConfig(cmd.Context()); err != nil {
			return err
		}
		observability.CLILogger.Info("Config is valid", zap.String("path", configPath))
		return nil
	},
}

// writeConfigReport renders effective settings. Secrets appear only as
// set/not set.
func writeConfigReport(w io.Writer, cfg *config.Config, configPath string) error {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Setting", "Value"})
	t.AppendRows([]table.Row{
		{"config file", fmt.Sprintf("%s (%s)", configPath, existenceStatus(fileExists(configPath)))},
		{"server", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)},
		{"store", describeStore(cfg.Store, cfg.Store.Driver)},
		{"search.provider", orDash(cfg.Search.Provider)},
		{"search.api_key", secretStatus(cfg.Search.APIKey)},
		{"ailink.default_provider", orDash(cfg.AILink.DefaultProvider)},
		{"planner.role", orDash(cfg.Planner.Role)},
		{"planner.model", orDash(cfg.Planner.Model)},
		{"planner.max_concurrency", cfg.Planner.MaxConcurrency},
		{"planner.request_timeout", cfg.Planner.RequestTimeout.String()},
		{"planner.max_bundles", cfg.Planner.MaxBundles},
		{"metrics", fmt.Sprintf("%t (port %d)", cfg.Metrics.Enabled, cfg.Metrics.Port)},
		{"tracing", fmt.Sprintf("%t", cfg.Tracing.Enabled)},
	})
	for _, id := range sortedProviderIDs(cfg) {
		provider := cfg.AILink.Providers[id]
		hasKey := false
		for _, cred := range provider.Credentials {
			if strings.TrimSpace(cred.APIKey) != "" {
				hasKey = true
				break
			}
		}
		t.AppendRow(table.Row{"ailink.providers." + id, fmt.Sprintf("enabled=%t key=%s", provider.Enabled, existenceLabel(hasKey))})
	}
	t.Render()
	return nil
}

func describeStore(cfg config.StoreConfig, driver string) string {
	switch driver {
	case store.DriverRedis:
		return "redis " + orDash(cfg.RedisAddr)
	case store.DriverLibsql:
		if cfg.URL != "" {
			return "libsql (remote)"
		}
		path := cfg.Path
		if path == "" {
			path = config.DefaultStorePath()
		}
		if info, err := os.Stat(path); err == nil {
			return fmt.Sprintf("libsql %s (%s)", path, formatFileSize(info.Size()))
		}
		return "libsql " + path + " (not created yet)"
	default:
		return orDash(driver)
	}
}

func starterConfig() string {
	return strings.Join([]string{
		"# tripbundle config - created by 'tripbundle doctor init'",
		"# Keys are read from OPENAI_API_KEY / GEMINI_API_KEY / TAVILY_API_KEY.",
		"server:",
		"  host: localhost",
		"  port: 8080",
		"planner:",
		"  max_concurrency: 4",
		"  request_timeout: 3m",
		"  max_bundles: 3",
		"search:",
		"  provider: tavily",
		"ailink:",
		"  default_provider: openai",
		"store:",
		"  driver: memory",
		"logging:",
		"  level: info",
	}, "\n") + "\n"
}

func sortedProviderIDs(cfg *config.Config) []string {
	ids := make([]string, 0, len(cfg.AILink.Providers))
	for id := range cfg.AILink.Providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// formatFileSize returns a human-readable file size
func formatFileSize(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)
	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d bytes", bytes)
	}
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

func existenceStatus(exists bool) string {
	if exists {
		return "exists"
	}
	return "missing"
}

func existenceLabel(set bool) string {
	if set {
		return "set"
	}
	return "not set"
}

func secretStatus(value string) string {
	return existenceLabel(strings.TrimSpace(value) != "")
}

func orDash(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.AddCommand(doctorInitCmd)
	doctorCmd.AddCommand(doctorConfigCmd)
	doctorCmd.AddCommand(doctorValidateCmd)

	doctorInitCmd.Flags().BoolVar(&doctorInitForce, "force", false, "overwrite existing config file")
}
