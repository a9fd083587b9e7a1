package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ggonzalez94/hubroute/internal/registry"
	"gopkg.in/yaml.v3"
)

const envPrefix = "HUBROUTE_"

type GlobalFlags struct {
	ConfigPath     string
	JSON           bool
	Plain          bool
	Select         string
	ResultsOnly    bool
	EnableCommands string
	Timeout        string
	Retries        int
	LogLevel       string
	Chain          string
	RPCURL         string
	Account        string
	Partner        string
	APIURL         string
	Slippage       float64
	QuoteInterval  string
	NoTelemetry    bool
}

// Settings is everything the host supplies once at start-up.
type Settings struct {
	OutputMode     string
	SelectFields   []string
	ResultsOnly    bool
	EnableCommands []string
	Timeout        time.Duration
	Retries        int
	LogLevel       string

	Chain         string
	RPCURL        string
	Account       string
	Partner       string
	APIURL        string
	Slippage      float64
	QuoteInterval time.Duration

	BIEndpoint        string
	TelemetryDisabled bool
	MetricsAddr       string
	KeySource         string

	PrefsPath      string
	PrefsLockPath  string
	OrdersPath     string
	OrdersLockPath string
}

type fileConfig struct {
	Output   string `yaml:"output"`
	Timeout  string `yaml:"timeout"`
	Retries  *int   `yaml:"retries"`
	LogLevel string `yaml:"log_level"`
	Chain    struct {
		ID     string `yaml:"id"`
		RPCURL string `yaml:"rpc_url"`
	} `yaml:"chain"`
	Hub struct {
		APIURL        string   `yaml:"api_url"`
		Partner       string   `yaml:"partner"`
		Slippage      *float64 `yaml:"slippage"`
		QuoteInterval string   `yaml:"quote_interval"`
	} `yaml:"hub"`
	Telemetry struct {
		Endpoint string `yaml:"endpoint"`
		Disabled *bool  `yaml:"disabled"`
	} `yaml:"telemetry"`
	Metrics struct {
		Addr string `yaml:"addr"`
	} `yaml:"metrics"`
	Signer struct {
		KeySource string `yaml:"key_source"`
		Account   string `yaml:"account"`
	} `yaml:"signer"`
	Storage struct {
		PrefsPath      string `yaml:"prefs_path"`
		PrefsLockPath  string `yaml:"prefs_lock_path"`
		OrdersPath     string `yaml:"orders_path"`
		OrdersLockPath string `yaml:"orders_lock_path"`
	} `yaml:"storage"`
}

func Load(flags GlobalFlags) (Settings, error) {
	settings, err := defaultSettings()
	if err != nil {
		return Settings{}, err
	}

	cfgPath, err := resolveConfigPath(flags.ConfigPath)
	if err != nil {
		return Settings{}, err
	}

	if err := applyFileConfig(cfgPath, &settings); err != nil {
		return Settings{}, err
	}

	applyEnv(&settings)

	if err := applyFlags(flags, &settings); err != nil {
		return Settings{}, err
	}

	if settings.OutputMode == "" {
		settings.OutputMode = "json"
	}
	if settings.Timeout <= 0 {
		settings.Timeout = 10 * time.Second
	}
	if settings.Retries < 0 {
		settings.Retries = 0
	}
	if settings.QuoteInterval <= 0 {
		settings.QuoteInterval = 10 * time.Second
	}
	if settings.Slippage < 0 || settings.Slippage >= 100 {
		return Settings{}, fmt.Errorf("slippage must be within [0, 100), got %v", settings.Slippage)
	}

	return settings, nil
}

func defaultSettings() (Settings, error) {
	dir, err := defaultDataDir()
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		OutputMode:     "json",
		Timeout:        10 * time.Second,
		Retries:        2,
		LogLevel:       "warn",
		Chain:          "polygon",
		APIURL:         registry.HubAPIURL,
		Slippage:       0.5,
		QuoteInterval:  10 * time.Second,
		BIEndpoint:     registry.BIEndpoint,
		KeySource:      "auto",
		PrefsPath:      filepath.Join(dir, "prefs.db"),
		PrefsLockPath:  filepath.Join(dir, "prefs.lock"),
		OrdersPath:     filepath.Join(dir, "orders.db"),
		OrdersLockPath: filepath.Join(dir, "orders.lock"),
	}, nil
}

func resolveConfigPath(input string) (string, error) {
	if strings.TrimSpace(input) != "" {
		return input, nil
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "hubroute", "config.yaml"), nil
}

func defaultDataDir() (string, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".cache")
	}
	return filepath.Join(base, "hubroute"), nil
}

func applyFileConfig(path string, settings *Settings) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}

	if cfg.Output != "" {
		settings.OutputMode = strings.ToLower(cfg.Output)
	}
	if cfg.Timeout != "" {
		d, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return fmt.Errorf("config timeout: %w", err)
		}
		settings.Timeout = d
	}
	if cfg.Retries != nil {
		settings.Retries = *cfg.Retries
	}
	setString(&settings.LogLevel, cfg.LogLevel)
	setString(&settings.Chain, cfg.Chain.ID)
	setString(&settings.RPCURL, cfg.Chain.RPCURL)
	setString(&settings.APIURL, cfg.Hub.APIURL)
	setString(&settings.Partner, cfg.Hub.Partner)
	if cfg.Hub.Slippage != nil {
		settings.Slippage = *cfg.Hub.Slippage
	}
	if cfg.Hub.QuoteInterval != "" {
		d, err := time.ParseDuration(cfg.Hub.QuoteInterval)
		if err != nil {
			return fmt.Errorf("config hub.quote_interval: %w", err)
		}
		settings.QuoteInterval = d
	}
	setString(&settings.BIEndpoint, cfg.Telemetry.Endpoint)
	if cfg.Telemetry.Disabled != nil {
		settings.TelemetryDisabled = *cfg.Telemetry.Disabled
	}
	setString(&settings.MetricsAddr, cfg.Metrics.Addr)
	setString(&settings.KeySource, cfg.Signer.KeySource)
	setString(&settings.Account, cfg.Signer.Account)
	setString(&settings.PrefsPath, cfg.Storage.PrefsPath)
	setString(&settings.PrefsLockPath, cfg.Storage.PrefsLockPath)
	setString(&settings.OrdersPath, cfg.Storage.OrdersPath)
	setString(&settings.OrdersLockPath, cfg.Storage.OrdersLockPath)
	return nil
}

func setString(dst *string, v string) {
	if strings.TrimSpace(v) != "" {
		*dst = strings.TrimSpace(v)
	}
}

func applyEnv(settings *Settings) {
	env := func(name string) string { return os.Getenv(envPrefix + name) }

	if v := env("OUTPUT"); v != "" {
		settings.OutputMode = strings.ToLower(v)
	}
	if v := env("TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.Timeout = d
		}
	}
	if v := env("RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.Retries = n
		}
	}
	if v := env("SLIPPAGE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			settings.Slippage = f
		}
	}
	if v := env("QUOTE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.QuoteInterval = d
		}
	}
	if v := env("NO_TELEMETRY"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.TelemetryDisabled = b
		}
	}
	setString(&settings.LogLevel, env("LOG_LEVEL"))
	setString(&settings.Chain, env("CHAIN"))
	setString(&settings.RPCURL, env("RPC_URL"))
	setString(&settings.Account, env("ACCOUNT"))
	setString(&settings.Partner, env("PARTNER"))
	setString(&settings.APIURL, env("API_URL"))
	setString(&settings.BIEndpoint, env("BI_ENDPOINT"))
	setString(&settings.MetricsAddr, env("METRICS_ADDR"))
	setString(&settings.KeySource, env("KEY_SOURCE"))
	setString(&settings.PrefsPath, env("PREFS_PATH"))
	setString(&settings.PrefsLockPath, env("PREFS_LOCK_PATH"))
	setString(&settings.OrdersPath, env("ORDERS_PATH"))
	setString(&settings.OrdersLockPath, env("ORDERS_LOCK_PATH"))
}

func applyFlags(flags GlobalFlags, settings *Settings) error {
	if flags.JSON && flags.Plain {
		return fmt.Errorf("cannot use --json and --plain together")
	}
	if flags.JSON {
		settings.OutputMode = "json"
	}
	if flags.Plain {
		settings.OutputMode = "plain"
	}
	settings.SelectFields = splitList(flags.Select)
	settings.ResultsOnly = flags.ResultsOnly
	if allowed := splitList(flags.EnableCommands); len(allowed) > 0 {
		settings.EnableCommands = allowed
	}

	if flags.Timeout != "" {
		d, err := time.ParseDuration(flags.Timeout)
		if err != nil {
			return fmt.Errorf("parse --timeout: %w", err)
		}
		settings.Timeout = d
	}
	if flags.Retries >= 0 {
		settings.Retries = flags.Retries
	}
	if flags.QuoteInterval != "" {
		d, err := time.ParseDuration(flags.QuoteInterval)
		if err != nil {
			return fmt.Errorf("parse --quote-interval: %w", err)
		}
		settings.QuoteInterval = d
	}
	if flags.Slippage >= 0 {
		settings.Slippage = flags.Slippage
	}
	if flags.NoTelemetry {
		settings.TelemetryDisabled = true
	}
	setString(&settings.LogLevel, flags.LogLevel)
	setString(&settings.Chain, flags.Chain)
	setString(&settings.RPCURL, flags.RPCURL)
	setString(&settings.Account, flags.Account)
	setString(&settings.Partner, flags.Partner)
	setString(&settings.APIURL, flags.APIURL)

	if settings.OutputMode != "json" && settings.OutputMode != "plain" {
		return fmt.Errorf("output must be json or plain")
	}
	return nil
}

func splitList(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if f := strings.TrimSpace(part); f != "" {
			out = append(out, f)
		}
	}
	return out
}
