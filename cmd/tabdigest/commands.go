package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/byteowlz/tabdigest/internal/browser"
	"github.com/byteowlz/tabdigest/internal/selector"
	"github.com/byteowlz/tabdigest/internal/transport"
)

var (
	outputFile string
	idFile     string
	jsonOutput bool
	showAll    bool
	bindAddr   string
)

var tabsCmd = &cobra.Command{
	Use:   "tabs",
	Short: "List tabs that can be digested",
	Args:  cobra.NoArgs,
	RunE:  runTabs,
}

var processCmd = &cobra.Command{
	Use:   "process [tab ids...]",
	Short: "Digest the given tabs without the picker",
	Long: `Collect the text of the given tabs and print the summary.

Tab ids are taken from the arguments, from --file, or from stdin (one per
line, lines starting with # are ignored):
  tabdigest tabs | cut -f1 | tabdigest process`,
	RunE: runProcess,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the collector as an HTTP service",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	tabsCmd.Flags().BoolVar(&jsonOutput, "json", false, "print tabs as JSON")
	tabsCmd.Flags().BoolVar(&showAll, "all", false, "include tabs scripts cannot run in")

	processCmd.Flags().StringVarP(&outputFile, "output", "o", "", "write the combined text to this file")
	processCmd.Flags().StringVarP(&idFile, "file", "f", "", "read tab ids from file (one per line)")

	serveCmd.Flags().StringVar(&bindAddr, "addr", "", "listen address (default from config)")
}

func runPick(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	be, err := newBackend(ctx, cfg)
	if err != nil {
		return exitError(ExitBrowserError, "%v", err)
	}
	defer closeBackend(be)

	model := selector.New(ctx, be, be, cfg.Browser.RestrictedSchemes)
	final, err := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	if err != nil {
		return exitError(ExitProcessError, "picker failed: %v", err)
	}

	// the alt screen is gone once the program exits, keep the last reply visible
	if m, ok := final.(selector.Model); ok && m.Status() != "" {
		fmt.Fprintln(cmd.OutOrStdout(), m.Status())
	}
	return nil
}

func runTabs(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	be, err := newBackend(ctx, cfg)
	if err != nil {
		return exitError(ExitBrowserError, "%v", err)
	}
	defer closeBackend(be)

	tabs, err := be.Tabs(ctx)
	if err != nil {
		return exitError(ExitBrowserError, "failed to list tabs: %v", err)
	}
	if !showAll {
		tabs = selector.Eligible(tabs, cfg.Browser.RestrictedSchemes)
	}

	return printTabs(cmd, tabs)
}

func printTabs(cmd *cobra.Command, tabs []browser.Tab) error {
	out := cmd.OutOrStdout()
	if jsonOutput {
		if tabs == nil {
			tabs = []browser.Tab{}
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(tabs)
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, t := range tabs {
		fmt.Fprintf(w, "%d\t%s\t%s\n", t.ID, t.Title, t.URL)
	}
	return w.Flush()
}

func runProcess(cmd *cobra.Command, args []string) error {
	ids, err := collectIDs(args, idFile, stdinReader())
	if err != nil {
		return exitError(ExitInvalidInput, "failed to read tab ids: %v", err)
	}
	if len(ids) == 0 {
		return exitError(ExitInvalidInput, "no tab ids provided")
	}

	ctx := cmd.Context()
	be, err := newBackend(ctx, cfg)
	if err != nil {
		return exitError(ExitBrowserError, "%v", err)
	}
	defer closeBackend(be)

	if verbose && !quiet {
		fmt.Fprintf(os.Stderr, "Processing %d tabs\n", len(ids))
	}

	d, err := be.Digest(ctx, ids)
	if err != nil {
		return exitError(ExitBrowserError, "request failed: %v", err)
	}
	if !d.Response.Success {
		return exitError(ExitProcessError, "Error: %s", d.Response.Error)
	}

	if cfg.Output.CombinedFile != "" {
		if err := writeCombined(cfg.Output.CombinedFile, d); err != nil {
			return exitError(ExitFileIOError, "%v", err)
		}
	}

	fmt.Fprintln(cmd.OutOrStdout(), d.Response.Summary)

	if d.Failed > 0 {
		if !quiet {
			fmt.Fprintf(os.Stderr, "%d of %d tabs had no content\n", d.Failed, len(ids))
		}
		return &exitErr{code: ExitPartialError}
	}
	return nil
}

func writeCombined(path string, d *digest) error {
	if !d.Local {
		slog.Warn("combined text is only available when collecting in-process", "file", path)
		return nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(d.Combined), 0644); err != nil {
		return fmt.Errorf("failed to write combined text to %s: %w", path, err)
	}
	slog.Debug("combined text saved", "file", path)
	return nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	if cfg.Client.Remote != "" {
		return exitError(ExitInvalidInput, "serve runs the collector itself, unset --remote")
	}

	bc, coll, err := newLocalCollector(cmd.Context(), cfg)
	if err != nil {
		return exitError(ExitBrowserError, "%v", err)
	}
	defer func() {
		if err := bc.Close(); err != nil {
			slog.Debug("browser client close failed", "error", err)
		}
	}()

	srv := &http.Server{
		Addr:              cfg.Server.BindAddr,
		Handler:           transport.NewServer(bc, coll, version),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("collector listening", "addr", cfg.Server.BindAddr, "docs", "http://"+cfg.Server.BindAddr+"/docs")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-errCh:
		return exitError(ExitBrowserError, "collector server failed: %v", err)
	case <-sigCh:
		slog.Info("shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("collector shutdown failed", "error", err)
	}
	return nil
}

func closeBackend(be backend) {
	if err := be.Close(); err != nil {
		slog.Debug("backend close failed", "error", err)
	}
}
