package kiss

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// InstalledPackage is one installed-db entry summary.
type InstalledPackage struct {
	Name    string
	Version string // "<version> <release>"
}

// IsInstalled reports whether name has an installed-db entry.
func (c *Config) IsInstalled(name string) bool {
	info, err := os.Stat(filepath.Join(c.Installed, name))
	return err == nil && info.IsDir()
}

// InstalledVersion reads the installed version-release pair for name.
func (c *Config) InstalledVersion(name string) (version, release string, err error) {
	entry := filepath.Join(c.Installed, name)
	if _, err := os.Stat(entry); err != nil {
		return "", "", fmt.Errorf("%s: %w", name, ErrNotInstalled)
	}
	return ReadVersion(entry)
}

// ListInstalled enumerates installed packages. With names given, each is
// verified instead; any missing name fails the whole call.
func (c *Config) ListInstalled(names ...string) ([]InstalledPackage, error) {
	if len(names) == 0 {
		entries, err := os.ReadDir(c.Installed)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, nil
			}
			return nil, fmt.Errorf("cannot read installed database: %w", err)
		}
		for _, e := range entries {
			if e.IsDir() {
				names = append(names, e.Name())
			}
		}
		sort.Strings(names)
	}

	var pkgs []InstalledPackage
	for _, name := range names {
		if err := ValidName(name); err != nil {
			return nil, err
		}
		ver, rel, err := c.InstalledVersion(name)
		if err != nil {
			return nil, err
		}
		pkgs = append(pkgs, InstalledPackage{Name: name, Version: ver + " " + rel})
	}
	return pkgs, nil
}

// manifestPath returns the installed manifest location for name.
func (c *Config) manifestPath(name string) string {
	return filepath.Join(c.Installed, name, "manifest")
}
