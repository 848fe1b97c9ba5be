package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byteowlz/tabdigest/internal/browser"
	"github.com/byteowlz/tabdigest/internal/config"
)

func TestParseIDs(t *testing.T) {
	ids, err := parseIDs([]string{"3", " 12 ", "", "7"})
	require.NoError(t, err)
	assert.Equal(t, []int{3, 12, 7}, ids)

	for _, bad := range []string{"abc", "0", "-4", "1.5"} {
		_, err := parseIDs([]string{bad})
		assert.Error(t, err, bad)
	}
}

func TestReadLines(t *testing.T) {
	in := strings.NewReader("# picked tabs\n4\n\n9\tNews\thttps://news.ycombinator.com\n  12  \n")

	lines, err := readLines(in)
	require.NoError(t, err)
	assert.Equal(t, []string{"4", "9", "12"}, lines)
}

func TestCollectIDs(t *testing.T) {
	dir := t.TempDir()
	idsPath := filepath.Join(dir, "ids.txt")
	require.NoError(t, os.WriteFile(idsPath, []byte("5\n# skip\n6\n"), 0644))

	t.Run("args first then file", func(t *testing.T) {
		ids, err := collectIDs([]string{"1"}, idsPath, strings.NewReader("99\n"))
		require.NoError(t, err)
		assert.Equal(t, []int{1, 5, 6}, ids)
	})

	t.Run("stdin when nothing else given", func(t *testing.T) {
		ids, err := collectIDs(nil, "", strings.NewReader("8\n2\n"))
		require.NoError(t, err)
		assert.Equal(t, []int{8, 2}, ids)
	})

	t.Run("nothing at all", func(t *testing.T) {
		ids, err := collectIDs(nil, "", nil)
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := collectIDs(nil, filepath.Join(dir, "nope.txt"), nil)
		assert.Error(t, err)
	})
}

func TestApplyFlags(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().StringVar(&cdpURL, "cdp-url", "", "")
	cmd.Flags().StringVarP(&mode, "mode", "m", "", "")
	cmd.Flags().IntVar(&timeout, "timeout", 0, "")
	cmd.Flags().BoolVar(&allWindows, "all-windows", false, "")
	t.Cleanup(func() {
		cdpURL, mode, timeout, allWindows = "", "", 0, false
	})

	require.NoError(t, cmd.Flags().Set("mode", "markdown"))
	require.NoError(t, cmd.Flags().Set("all-windows", "true"))

	c := config.Default()
	c.Collect.TabTimeout = 42
	applyFlags(cmd, c)

	assert.Equal(t, "markdown", c.Collect.Mode)
	assert.Equal(t, browser.WindowAll, c.Browser.Window)
	// untouched flags keep config values
	assert.Equal(t, 42, c.Collect.TabTimeout)
	assert.Equal(t, "http://127.0.0.1:9222", c.Browser.CDPURL)
}

func TestLogConsole(t *testing.T) {
	assert.Nil(t, logConsole(rootCmd))
	for _, sub := range []*cobra.Command{tabsCmd, processCmd, serveCmd} {
		assert.Equal(t, os.Stderr, logConsole(sub), sub.Name())
	}
}

func TestSubcommandsInheritSetup(t *testing.T) {
	for _, sub := range rootCmd.Commands() {
		if sub.Name() == "help" || sub.Name() == "completion" {
			continue
		}
		assert.Nil(t, sub.PersistentPreRunE, sub.Name())
	}
	require.NotNil(t, rootCmd.PersistentPreRunE)
	assert.Equal(t, rootCmd, tabsCmd.Root())
}

func TestWriteCombined(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out", "digest.txt")

	require.NoError(t, writeCombined(path, &digest{Combined: "Tab 1:\nhi", Local: true}))
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Tab 1:\nhi", string(got))

	remote := filepath.Join(dir, "remote.txt")
	require.NoError(t, writeCombined(remote, &digest{}))
	_, err = os.Stat(remote)
	assert.True(t, os.IsNotExist(err))
}

func TestExitError(t *testing.T) {
	quiet = true
	t.Cleanup(func() { quiet = false })

	err := exitError(ExitInvalidInput, "no tab ids provided")
	assert.Equal(t, ExitInvalidInput, err.code)
	assert.Equal(t, "no tab ids provided", err.Error())
}
