package kiss

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// GenerateManifest enumerates every file and directory under stageDir and
// writes the manifest into the staged installed-db entry for name. Paths are
// absolute (rooted at /), directories carry a trailing slash, and the list
// is sorted in reverse lexical order so directories follow their contents
// and deletion can walk it top to bottom. The manifest lists itself.
func GenerateManifest(stageDir, name string) error {
	dbDir := filepath.Join(stageDir, DBPath, name)
	if err := os.MkdirAll(dbDir, 0o755); err != nil {
		return fmt.Errorf("failed to create installed-db entry: %w", err)
	}
	manifestFile := filepath.Join(dbDir, "manifest")

	// The manifest must appear in itself, so the file exists before the
	// walk.
	if err := os.WriteFile(manifestFile, nil, 0o644); err != nil {
		return fmt.Errorf("failed to create manifest: %w", err)
	}

	var entries []string
	err := filepath.Walk(stageDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(stageDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		entry := "/" + filepath.ToSlash(rel)
		if info.IsDir() {
			entry += "/"
		}
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to walk stage: %w", err)
	}

	sort.Sort(sort.Reverse(sort.StringSlice(entries)))

	var b strings.Builder
	for _, entry := range entries {
		b.WriteString(entry)
		b.WriteByte('\n')
	}
	if err := os.WriteFile(manifestFile, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	debugf("manifest written to %s (%d entries)\n", manifestFile, len(entries))
	return nil
}

// ReadManifest returns a manifest's lines in file order (reverse-sorted).
func ReadManifest(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines, scanner.Err()
}

// manifestSet loads a manifest into a membership set.
func manifestSet(path string) (map[string]struct{}, error) {
	lines, err := ReadManifest(path)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(lines))
	for _, line := range lines {
		set[line] = struct{}{}
	}
	return set, nil
}
