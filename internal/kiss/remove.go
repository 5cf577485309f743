package kiss

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// dependents returns every installed package whose depends file names name.
func (c *Config) dependents(name string) []string {
	var out []string
	entries, err := os.ReadDir(c.Installed)
	if err != nil {
		return out
	}
	for _, e := range entries {
		if !e.IsDir() || e.Name() == name {
			continue
		}
		for _, dep := range ReadDepends(filepath.Join(c.Installed, e.Name())) {
			if dep.Name == name {
				out = append(out, e.Name())
				break
			}
		}
	}
	return out
}

// Remove deletes an installed package by walking its manifest. The manifest
// is stored reverse-sorted, so files go before the directories that held
// them. /etc is never touched.
func (s *State) Remove(name string) error {
	if err := ValidName(name); err != nil {
		return err
	}
	if !s.Cfg.IsInstalled(name) {
		return fmt.Errorf("%s: %w", name, ErrNotInstalled)
	}

	if !s.Cfg.Force {
		if deps := s.Cfg.dependents(name); len(deps) > 0 {
			return fmt.Errorf("%s: %w: %s", name, ErrRequiredBy, strings.Join(deps, " "))
		}
	}

	lines, err := ReadManifest(s.Cfg.manifestPath(name))
	if err != nil {
		return fmt.Errorf("%s: cannot read manifest: %w", name, err)
	}

	logf(name, "removing")

	// The walk must not be interrupted halfway: the entry directory itself
	// disappears as part of it, and a partial run would orphan files with
	// no manifest left to find them.
	EnterCritical()
	defer LeaveCritical()

	for _, line := range lines {
		if strings.HasPrefix(line, "/etc/") {
			continue
		}
		target := filepath.Join(s.Cfg.Root, strings.TrimPrefix(line, "/"))

		if strings.HasSuffix(line, "/") {
			removeEmptyDir(target)
			continue
		}
		if _, err := os.Lstat(target); err != nil {
			continue
		}
		if err := os.Remove(target); err != nil {
			warnf(name, "failed to remove %s: %v", target, err)
		}
	}

	LeaveCritical()
	logf(name, "removed")
	return nil
}

// RemoveAll resolves the removal set and removes the user-named roots in
// dependency order.
func (s *State) RemoveAll(roots []string) error {
	order, err := s.Resolve(roots, ResolveRemove)
	if err != nil {
		return err
	}

	named := make(map[string]struct{}, len(roots))
	for _, r := range roots {
		named[r] = struct{}{}
	}

	for _, name := range order {
		if _, ok := named[name]; !ok {
			continue
		}
		if err := s.Remove(name); err != nil {
			return err
		}
	}
	return nil
}
