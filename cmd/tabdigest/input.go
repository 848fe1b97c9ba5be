package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// collectIDs gathers tab ids from args, then idsFile, and reads stdin only
// when neither was given.
func collectIDs(args []string, idsFile string, stdin io.Reader) ([]int, error) {
	var lines []string
	lines = append(lines, args...)

	if idsFile != "" {
		f, err := os.Open(idsFile)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		fileLines, err := readLines(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", idsFile, err)
		}
		lines = append(lines, fileLines...)
	}

	if len(args) == 0 && idsFile == "" && stdin != nil {
		stdinLines, err := readLines(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		lines = append(lines, stdinLines...)
	}

	return parseIDs(lines)
}

// readLines returns the non-empty lines of r, skipping # comments. Only the
// first whitespace separated field is kept, so "tabdigest tabs" output can be
// piped back in unchanged.
func readLines(r io.Reader) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, strings.Fields(line)[0])
	}
	return lines, scanner.Err()
}

func parseIDs(values []string) ([]int, error) {
	ids := make([]int, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		id, err := strconv.Atoi(v)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid tab id %q", v)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// stdinReader returns stdin when data is piped in, nil for a terminal.
func stdinReader() io.Reader {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return nil
	}
	if stat.Mode()&os.ModeCharDevice != 0 {
		return nil
	}
	return os.Stdin
}
