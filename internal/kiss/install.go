package kiss

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/pgzip"
)

// criticalExecutables are never deleted during leftover pruning: removing
// the remove tool, the shell or the copy tool mid-upgrade would strand the
// system.
var criticalExecutables = map[string]bool{
	"rm": true, "sh": true, "cp": true, "busybox": true,
}

// inspectTarball scans a staged package tarball for its installed-db entry,
// returning the package name and the packaged manifest contents.
func inspectTarball(tarballPath string) (string, []byte, error) {
	f, err := os.Open(tarballPath)
	if err != nil {
		return "", nil, fmt.Errorf("cannot open %s: %w", tarballPath, err)
	}
	defer f.Close()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %s: %v", ErrInvalidPackage, tarballPath, err)
	}
	defer gz.Close()

	var name string
	var manifest []byte

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", nil, fmt.Errorf("%w: %s: %v", ErrInvalidPackage, tarballPath, err)
		}
		entry := path.Clean(strings.TrimPrefix(hdr.Name, "./"))

		if ok, _ := path.Match(DBPath+"/*/version", entry); ok {
			name = path.Base(path.Dir(entry))
			continue
		}
		if ok, _ := path.Match(DBPath+"/*/manifest", entry); ok {
			manifest, err = io.ReadAll(tr)
			if err != nil {
				return "", nil, fmt.Errorf("%w: %s: %v", ErrInvalidPackage, tarballPath, err)
			}
		}
	}
	if name == "" {
		return "", nil, fmt.Errorf("%s: %w: no installed-db entry inside", tarballPath, ErrInvalidPackage)
	}
	return name, manifest, nil
}

// resolveUnderRoot maps a manifest path through any directory symlinks that
// already exist under the target root, returning the canonical form. Paths
// whose parents do not exist yet come back unchanged.
func (c *Config) resolveUnderRoot(line string) string {
	dir := path.Dir(line)
	resolved, err := filepath.EvalSymlinks(filepath.Join(c.Root, strings.TrimPrefix(dir, "/")))
	if err != nil {
		return line
	}
	rel, err := filepath.Rel(c.Root, resolved)
	if err != nil || strings.HasPrefix(rel, "..") {
		return line
	}
	if rel == "." {
		return "/" + path.Base(line)
	}
	return "/" + filepath.ToSlash(rel) + "/" + path.Base(line)
}

// checkConflicts compares the incoming manifest (plus symlink-resolved
// variants of every path) against every installed manifest except the
// package's own. Directory lines never conflict; shared directories are the
// norm.
func (c *Config) checkConflicts(name string, manifest []byte) error {
	incoming := make(map[string]struct{})
	for _, line := range strings.Split(string(manifest), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasSuffix(line, "/") {
			continue
		}
		incoming[line] = struct{}{}
		incoming[c.resolveUnderRoot(line)] = struct{}{}
	}

	entries, err := os.ReadDir(c.Installed)
	if err != nil {
		return nil // empty system, nothing to conflict with
	}

	var conflicts []string
	for _, e := range entries {
		if !e.IsDir() || e.Name() == name {
			continue
		}
		lines, err := ReadManifest(filepath.Join(c.Installed, e.Name(), "manifest"))
		if err != nil {
			continue
		}
		for _, line := range lines {
			if strings.HasSuffix(line, "/") {
				continue
			}
			if _, ok := incoming[line]; ok {
				conflicts = append(conflicts, fmt.Sprintf("%s (%s)", line, e.Name()))
			}
		}
	}
	if len(conflicts) > 0 {
		return fmt.Errorf("%s: %w: %s", name, ErrConflict, strings.Join(conflicts, ", "))
	}
	return nil
}

// checkRuntimeDeps gates installation on every runtime dependency being
// installed. Missing dependencies are collected and reported together.
func (c *Config) checkRuntimeDeps(name, stageDir string) error {
	var missing []string
	for _, dep := range ReadDepends(filepath.Join(stageDir, DBPath, name)) {
		if dep.Make {
			continue
		}
		if !c.IsInstalled(dep.Name) {
			missing = append(missing, dep.Name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%s: %w: %s", name, ErrMissingDeps, strings.Join(missing, " "))
	}
	return nil
}

// pruneLeftovers deletes paths delivered by the old version but absent from
// the new one. /etc is never touched and the critical executables are kept.
// The old manifest is already reverse-sorted so contents precede their
// directories.
func (c *Config) pruneLeftovers(oldLines []string, newSet map[string]struct{}) {
	for _, line := range oldLines {
		if _, kept := newSet[line]; kept {
			continue
		}
		if strings.HasPrefix(line, "/etc/") {
			continue
		}
		if criticalExecutables[path.Base(line)] {
			continue
		}

		target := filepath.Join(c.Root, strings.TrimPrefix(line, "/"))
		if strings.HasSuffix(line, "/") {
			removeEmptyDir(target)
			continue
		}

		info, err := os.Lstat(target)
		if err != nil {
			continue
		}
		if info.Mode()&os.ModeSymlink != 0 {
			// A symlink to a directory may be load-bearing for other
			// packages; only non-directory symlinks go.
			if st, err := os.Stat(target); err == nil && st.IsDir() {
				continue
			}
		}
		if info.IsDir() {
			removeEmptyDir(target)
			continue
		}
		if err := os.Remove(target); err != nil {
			warnf("", "failed to remove leftover %s: %v", target, err)
		}
	}
}

// stageHasEtc reports whether the stage delivers anything under /etc.
func stageHasEtc(stageDir string) bool {
	info, err := os.Stat(filepath.Join(stageDir, "etc"))
	return err == nil && info.IsDir()
}

// Install applies a staged package tarball to the target root. The argument
// is either a tarball path or a package name resolved through the binary
// cache.
func (s *State) Install(arg string) error {
	tarballPath := arg
	if !strings.HasSuffix(arg, ".tar.gz") {
		if err := ValidName(arg); err != nil {
			return err
		}
		pkgDir, err := s.Cfg.Find(arg)
		if err != nil {
			return err
		}
		version, release, err := ReadVersion(pkgDir)
		if err != nil {
			return fmt.Errorf("%s: %w", arg, err)
		}
		tarballPath = filepath.Join(s.Cfg.BinDir, TarballName(arg, version, release))
	}
	if _, err := os.Stat(tarballPath); err != nil {
		return fmt.Errorf("%s: %w", arg, ErrNotBuilt)
	}

	name, manifest, err := inspectTarball(tarballPath)
	if err != nil {
		return err
	}

	// Conflicts abort before any target-root mutation.
	if err := s.Cfg.checkConflicts(name, manifest); err != nil {
		return err
	}

	stageDir := filepath.Join(s.Cfg.ExtractRoot, name)
	if err := os.RemoveAll(stageDir); err != nil {
		return fmt.Errorf("%s: failed to clear staging: %w", name, err)
	}
	if err := os.MkdirAll(stageDir, 0o755); err != nil {
		return fmt.Errorf("%s: failed to create staging: %w", name, err)
	}
	if err := extractPackageTarball(tarballPath, stageDir); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}

	if !s.Cfg.Force {
		if err := s.Cfg.checkRuntimeDeps(name, stageDir); err != nil {
			return err
		}
	}

	// The previous manifest drives leftover pruning on upgrade.
	var oldLines []string
	if s.Cfg.IsInstalled(name) {
		oldLines, _ = ReadManifest(s.Cfg.manifestPath(name))
	}
	newSet, err := manifestSet(filepath.Join(stageDir, DBPath, name, "manifest"))
	if err != nil {
		return fmt.Errorf("%s: staged manifest unreadable: %w", name, err)
	}

	logf(name, "installing %s", filepath.Base(tarballPath))

	// Interruptions are held for the whole mutation: the root always holds
	// a superset of old and new files until pruning finishes.
	EnterCritical()
	defer LeaveCritical()

	if err := mirrorTree(stageDir, s.Cfg.Root, mirrorOptions{skipEtc: true}); err != nil {
		return fmt.Errorf("%s: failed to sync stage: %w", name, err)
	}
	if stageHasEtc(stageDir) {
		if err := mirrorTree(stageDir, s.Cfg.Root, mirrorOptions{onlyEtc: true, ignoreExisting: true}); err != nil {
			return fmt.Errorf("%s: failed to sync /etc: %w", name, err)
		}
	}

	if len(oldLines) > 0 {
		s.Cfg.pruneLeftovers(oldLines, newSet)

		// Re-run the mirror twice: a path present in both manifests that
		// resolved to the same inode can be swept by pruning, and the
		// re-runs restore it. Failures here are warnings; the payload is
		// already in place.
		for i := 0; i < 2; i++ {
			if err := mirrorTree(stageDir, s.Cfg.Root, mirrorOptions{skipEtc: true}); err != nil {
				warnf(name, "mirror re-run failed: %v", err)
			}
			if stageHasEtc(stageDir) {
				if err := mirrorTree(stageDir, s.Cfg.Root, mirrorOptions{onlyEtc: true, ignoreExisting: true}); err != nil {
					warnf(name, "mirror re-run failed: %v", err)
				}
			}
		}
	}

	LeaveCritical()

	s.runPostInstall(name)

	logf(name, "installed")
	return nil
}

// runPostInstall executes the package's post-install program when present.
// Failure is reported, never fatal.
func (s *State) runPostInstall(name string) {
	script := filepath.Join(s.Cfg.Installed, name, "post-install")
	info, err := os.Stat(script)
	if err != nil || info.Mode()&0o111 == 0 {
		return
	}

	logf(name, "running post-install")
	cmd := exec.Command(script)
	cmd.Dir = s.Cfg.Root
	if err := s.Exec.Run(cmd); err != nil {
		warnf(name, "post-install failed: %v", err)
	}
}
