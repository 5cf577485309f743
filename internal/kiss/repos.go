package kiss

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ValidName rejects names that would corrupt lookups or glob expansion.
func ValidName(name string) error {
	if name == "" {
		return fmt.Errorf("empty package name: %w", ErrInvalidPackage)
	}
	if strings.ContainsAny(name, "*![]") {
		return fmt.Errorf("invalid character in package name %q: %w", name, ErrInvalidPackage)
	}
	return nil
}

// Find locates a package definition by name. Repository roots are scanned in
// declared order with the installed database last; the first hit wins.
func (c *Config) Find(name string) (string, error) {
	paths, err := c.findAll(name, true)
	if err != nil {
		return "", err
	}
	return paths[0], nil
}

// FindAll returns every location providing name, for search.
func (c *Config) FindAll(name string) ([]string, error) {
	return c.findAll(name, false)
}

func (c *Config) findAll(name string, first bool) ([]string, error) {
	if err := ValidName(name); err != nil {
		return nil, err
	}
	if len(c.Path) == 0 {
		return nil, ErrNoSearchPath
	}

	roots := append(append([]string{}, c.Path...), c.Installed)

	var hits []string
	for _, root := range roots {
		try := filepath.Join(root, name)
		if info, err := os.Stat(try); err == nil && info.IsDir() {
			hits = append(hits, try)
			if first {
				return hits, nil
			}
		}
	}
	if len(hits) == 0 {
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	return hits, nil
}

// Search expands a shell-style pattern against every repository root and the
// installed database, returning matching definition paths in search-path
// order.
func (c *Config) Search(pattern string) ([]string, error) {
	if len(c.Path) == 0 {
		return nil, ErrNoSearchPath
	}

	roots := append(append([]string{}, c.Path...), c.Installed)

	var hits []string
	for _, root := range roots {
		entries, err := os.ReadDir(root)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			ok, err := filepath.Match(pattern, e.Name())
			if err != nil {
				return nil, fmt.Errorf("bad search pattern %q: %w", pattern, err)
			}
			if ok {
				hits = append(hits, filepath.Join(root, e.Name()))
			}
		}
	}
	if len(hits) == 0 {
		return nil, fmt.Errorf("%s: %w", pattern, ErrNotFound)
	}
	return hits, nil
}
