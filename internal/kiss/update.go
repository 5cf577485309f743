package kiss

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// managerName is this tool's own package name; updating it takes the
// special path below.
const managerName = "kiss"

// outdated compares every installed package against its repository
// definition and returns the names whose version-release differs.
func (s *State) outdated() ([]string, error) {
	installed, err := s.Cfg.ListInstalled()
	if err != nil {
		return nil, err
	}

	var out []string
	for _, pkg := range installed {
		pkgDir, err := s.Cfg.Find(pkg.Name)
		if err != nil {
			// Installed but gone from every repository; nothing to update
			// against.
			debugf("%s: no repository definition, skipping\n", pkg.Name)
			continue
		}
		version, release, err := ReadVersion(pkgDir)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", pkg.Name, err)
		}
		repo := version + " " + release
		if repo != pkg.Version {
			logf(pkg.Name, "%s -> %s", pkg.Version, repo)
			out = append(out, pkg.Name)
		}
	}
	return out, nil
}

// Update rebuilds every outdated package in dependency order. If the
// package manager itself is outdated it is rebuilt alone first and the
// process re-executes the new binary, so a stale manager never drives the
// rest of the upgrade.
func (s *State) Update() error {
	outdated, err := s.outdated()
	if err != nil {
		return err
	}
	if len(outdated) == 0 {
		logf("", "everything up to date")
		return nil
	}

	for _, name := range outdated {
		if name != managerName {
			continue
		}
		logf(managerName, "updating the package manager first")
		s.update = true
		if err := s.Build([]string{managerName}); err != nil {
			return err
		}
		logf(managerName, "restarting with the new package manager")
		return s.execSelf()
	}

	s.update = true
	return s.Build(outdated)
}

// execSelf replaces the process with the freshly installed manager binary,
// re-running update. Returns only on failure.
func (s *State) execSelf() error {
	self, err := os.Executable()
	if err != nil {
		self = filepath.Join(s.Cfg.Root, "usr/bin", managerName)
	}
	if err := unix.Exec(self, []string{managerName, "update"}, os.Environ()); err != nil {
		return fmt.Errorf("failed to re-exec %s: %w (re-run '%s update' manually)", self, err, managerName)
	}
	return nil
}
