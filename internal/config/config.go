package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const appName = "tabdigest"

type Config struct {
	Browser BrowserConfig `mapstructure:"browser"`
	Collect CollectConfig `mapstructure:"collect"`
	Server  ServerConfig  `mapstructure:"server"`
	Client  ClientConfig  `mapstructure:"client"`
	Output  OutputConfig  `mapstructure:"output"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type BrowserConfig struct {
	CDPURL            string   `mapstructure:"cdp_url"`
	Window            string   `mapstructure:"window"`
	RestrictedSchemes []string `mapstructure:"restricted_schemes"`
}

type CollectConfig struct {
	Mode       string `mapstructure:"mode"`
	TabTimeout int    `mapstructure:"tab_timeout"`
	DelayMS    int    `mapstructure:"delay_ms"`
	AllFrames  bool   `mapstructure:"all_frames"`
}

type ServerConfig struct {
	BindAddr string `mapstructure:"bind_addr"`
}

type ClientConfig struct {
	Remote string `mapstructure:"remote"`
}

type OutputConfig struct {
	CombinedFile string `mapstructure:"combined_file"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// DefaultRestrictedSchemes are URL schemes the browser refuses to run
// injected scripts in.
var DefaultRestrictedSchemes = []string{
	"chrome:",
	"about:",
	"chrome-extension:",
	"devtools:",
	"edge:",
	"brave:",
	"view-source:",
}

func Default() *Config {
	return &Config{
		Browser: BrowserConfig{
			CDPURL:            "http://127.0.0.1:9222",
			Window:            "current",
			RestrictedSchemes: append([]string(nil), DefaultRestrictedSchemes...),
		},
		Collect: CollectConfig{
			Mode:       "text",
			TabTimeout: 15,
			DelayMS:    0,
			AllFrames:  false,
		},
		Server: ServerConfig{
			BindAddr: "127.0.0.1:8787",
		},
		Client: ClientConfig{
			Remote: "",
		},
		Output: OutputConfig{
			CombinedFile: "",
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "",
		},
	}
}

// Load reads the optional .env file, the TOML config file and TABDIGEST_*
// environment variables, in increasing order of precedence.
func Load(configFile string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "error", err)
	}

	cfg := Default()
	v := viper.New()
	setDefaults(v, cfg)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		configDir, err := DefaultConfigDir()
		if err != nil {
			return cfg, err
		}
		v.AddConfigPath(configDir)
		v.SetConfigType("toml")
		v.SetConfigName("config")
	}

	v.SetEnvPrefix(strings.ToUpper(appName))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// Config file not found is not an error, we'll use defaults
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return cfg, fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return cfg, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("browser.cdp_url", cfg.Browser.CDPURL)
	v.SetDefault("browser.window", cfg.Browser.Window)
	v.SetDefault("browser.restricted_schemes", cfg.Browser.RestrictedSchemes)
	v.SetDefault("collect.mode", cfg.Collect.Mode)
	v.SetDefault("collect.tab_timeout", cfg.Collect.TabTimeout)
	v.SetDefault("collect.delay_ms", cfg.Collect.DelayMS)
	v.SetDefault("collect.all_frames", cfg.Collect.AllFrames)
	v.SetDefault("server.bind_addr", cfg.Server.BindAddr)
	v.SetDefault("client.remote", cfg.Client.Remote)
	v.SetDefault("output.combined_file", cfg.Output.CombinedFile)
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.file", cfg.Logging.File)
}

func (c *Config) Validate() error {
	switch c.Browser.Window {
	case "current", "all":
	default:
		return fmt.Errorf("invalid browser.window %q (expected current or all)", c.Browser.Window)
	}
	switch c.Collect.Mode {
	case "text", "readability", "markdown":
	default:
		return fmt.Errorf("invalid collect.mode %q (expected text, readability or markdown)", c.Collect.Mode)
	}
	if c.Collect.TabTimeout < 0 {
		return fmt.Errorf("collect.tab_timeout must not be negative")
	}
	if c.Collect.DelayMS < 0 {
		return fmt.Errorf("collect.delay_ms must not be negative")
	}
	return nil
}

// DefaultConfigDir returns $XDG_CONFIG_HOME/tabdigest, falling back to
// ~/.config/tabdigest.
func DefaultConfigDir() (string, error) {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("error finding home directory: %w", err)
		}
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, appName), nil
}

func DefaultConfigPath() string {
	dir, err := DefaultConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "config.toml")
}

func (c *Config) CreateExampleConfig(configPath string) error {
	configDir := filepath.Dir(configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	exampleContent := `# tabdigest configuration file

[browser]
# Remote debugging endpoint of a running browser
# (start it with --remote-debugging-port=9222)
cdp_url = "http://127.0.0.1:9222"

# Which tabs to list: "current" (window of the most recent tab) or "all"
window = "current"

# Tabs with these URL prefixes are never listed; the browser refuses
# script injection into them
restricted_schemes = ["chrome:", "about:", "chrome-extension:", "devtools:", "edge:", "brave:", "view-source:"]

[collect]
# Extraction mode: text (visible body text), readability, markdown
mode = "text"
tab_timeout = 15          # seconds per tab (0 = no limit)
delay_ms = 0              # pause between tabs
all_frames = false        # also evaluate inside child frames

[server]
# Address for "tabdigest serve"
bind_addr = "127.0.0.1:8787"

[client]
# Collector URL; empty runs the collector in-process
remote = ""

[output]
# Write the combined tab text here after each local run (empty = skip)
combined_file = ""

[logging]
level = "info"            # debug, info, warn, error
file = ""                 # Log file path (empty = stderr only)
`

	return os.WriteFile(configPath, []byte(exampleContent), 0644)
}
