package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/byteowlz/tabdigest/internal/browser"
	"github.com/byteowlz/tabdigest/internal/config"
	"github.com/byteowlz/tabdigest/internal/extract"
	"github.com/byteowlz/tabdigest/internal/logging"
)

// Exit codes for granular error handling
const (
	ExitSuccess      = 0
	ExitBrowserError = 1
	ExitProcessError = 2
	ExitInvalidInput = 3
	ExitConfigError  = 4
	ExitFileIOError  = 5
	ExitPartialError = 6 // some tabs had no content
)

const version = "0.3.0"

var (
	cfgFile    string
	cdpURL     string
	remoteURL  string
	mode       string
	timeout    int
	delayMS    int
	allWindows bool
	allFrames  bool
	verbose    bool
	quiet      bool

	cfg       *config.Config
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "tabdigest",
	Short: "Pick open browser tabs and digest their text",
	Long: `tabdigest lists the tabs of a running browser, lets you pick some of them
and collects their visible text into one combined digest.

The browser must expose its remote debugging endpoint, e.g.
  chromium --remote-debugging-port=9222`,
	Version:            version,
	PersistentPreRunE:  setup,
	PersistentPostRunE: teardown,
	RunE:               runPick,
	SilenceErrors:      true,
	SilenceUsage:       true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		var ee *exitErr
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(ExitInvalidInput)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/tabdigest/config.toml)")

	// Browser flags
	flags.StringVar(&cdpURL, "cdp-url", "", "browser remote debugging endpoint")
	flags.BoolVar(&allWindows, "all-windows", false, "list tabs of every window, not only the current one")

	// Collector flags
	flags.StringVar(&remoteURL, "remote", "", "collector URL started with 'tabdigest serve' (default: in-process)")
	flags.StringVarP(&mode, "mode", "m", "", "extraction mode (text|readability|markdown)")
	flags.IntVar(&timeout, "timeout", 0, "per-tab timeout in seconds")
	flags.IntVar(&delayMS, "delay", 0, "delay in milliseconds between tabs")
	flags.BoolVar(&allFrames, "all-frames", false, "also evaluate inside child frames")

	// System flags
	flags.BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
	flags.BoolVarP(&quiet, "quiet", "q", false, "suppress all non-content output")

	rootCmd.AddCommand(tabsCmd, processCmd, serveCmd)
}

// setup loads the config, applies explicitly set flags on top of it and
// installs the logger.
func setup(cmd *cobra.Command, _ []string) error {
	if cfgFile == "" {
		ensureConfigFile()
	}

	loaded, err := config.Load(cfgFile)
	if err != nil {
		return exitError(ExitConfigError, "failed to load config: %v", err)
	}
	cfg = loaded

	applyFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return exitError(ExitInvalidInput, "%v", err)
	}

	closer, err := logging.Setup(logging.Options{
		Level:   cfg.Logging.Level,
		File:    cfg.Logging.File,
		Console: logConsole(cmd),
	})
	if err != nil {
		return exitError(ExitFileIOError, "failed to set up logging: %v", err)
	}
	logCloser = closer

	slog.Debug("config loaded",
		"cdp_url", cfg.Browser.CDPURL,
		"window", cfg.Browser.Window,
		"mode", cfg.Collect.Mode,
		"remote", cfg.Client.Remote,
	)
	return nil
}

// logConsole is nil for the picker, which owns the terminal; its log lines
// only go to the file.
func logConsole(cmd *cobra.Command) io.Writer {
	if !cmd.HasParent() {
		return nil
	}
	return os.Stderr
}

func teardown(*cobra.Command, []string) error {
	if logCloser != nil {
		return logCloser.Close()
	}
	return nil
}

// ensureConfigFile writes the example config on first run.
func ensureConfigFile() {
	configPath := config.DefaultConfigPath()
	if configPath == "" {
		return
	}
	if _, err := os.Stat(configPath); !os.IsNotExist(err) {
		return
	}
	if err := config.Default().CreateExampleConfig(configPath); err != nil {
		if verbose && !quiet {
			fmt.Fprintf(os.Stderr, "Error creating config file: %v\n", err)
		}
		return
	}
	if !quiet {
		fmt.Fprintf(os.Stderr, "Created config file: %s\n", configPath)
	}
}

// applyFlags overrides config values with flags the user actually set.
func applyFlags(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("cdp-url") {
		c.Browser.CDPURL = cdpURL
	}
	if flags.Changed("all-windows") {
		if allWindows {
			c.Browser.Window = browser.WindowAll
		} else {
			c.Browser.Window = browser.WindowCurrent
		}
	}
	if flags.Changed("remote") {
		c.Client.Remote = remoteURL
	}
	if flags.Changed("mode") {
		c.Collect.Mode = mode
	}
	if flags.Changed("timeout") {
		c.Collect.TabTimeout = timeout
	}
	if flags.Changed("delay") {
		c.Collect.DelayMS = delayMS
	}
	if flags.Changed("all-frames") {
		c.Collect.AllFrames = allFrames
	}
	if flags.Changed("output") {
		c.Output.CombinedFile = outputFile
	}
	if flags.Changed("addr") {
		c.Server.BindAddr = bindAddr
	}

	switch {
	case quiet:
		c.Logging.Level = "error"
	case verbose:
		c.Logging.Level = "debug"
	}
}

func extractionMode(c *config.Config) extract.Mode {
	m, err := extract.ParseMode(c.Collect.Mode)
	if err != nil {
		// Validate already rejected unknown modes
		return extract.ModeText
	}
	return m
}

type exitErr struct {
	code int
	msg  string
}

func (e *exitErr) Error() string {
	return e.msg
}

func exitError(code int, format string, args ...any) *exitErr {
	msg := fmt.Sprintf(format, args...)
	if msg != "" && !quiet {
		fmt.Fprintf(os.Stderr, "%s\n", msg)
	}
	return &exitErr{code: code, msg: msg}
}
