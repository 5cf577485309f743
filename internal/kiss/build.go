package kiss

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// TarballName returns the staged package filename for a version-release
// pair.
func TarballName(name, version, release string) string {
	return fmt.Sprintf("%s#%s-%s.tar.gz", name, version, release)
}

// openLogSink resolves the build-log destination. An empty sink streams to
// the terminal.
func (c *Config) openLogSink() (io.Writer, func(), error) {
	if c.LogSink == "" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.OpenFile(c.LogSink, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("cannot open build log %s: %w", c.LogSink, err)
	}
	return f, func() { f.Close() }, nil
}

// prepareSources populates the package's build tree: tar archives are
// extracted with their top-level directory stripped, zips are unpacked with
// their layout kept, everything else is copied verbatim into the requested
// destination.
func (s *State) prepareSources(name, pkgDir, buildDir string) error {
	sources, err := ReadSources(pkgDir)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}

	for _, src := range sources {
		destDir := filepath.Join(buildDir, src.Dest)
		if err := os.MkdirAll(destDir, 0o755); err != nil {
			return fmt.Errorf("%s: failed to create %s: %w", name, destDir, err)
		}

		path := s.Cfg.sourcePath(name, pkgDir, src)
		basename := filepath.Base(path)

		switch {
		case isTarArchive(basename):
			debugf("%s: extracting %s\n", name, basename)
			if err := extractTar(path, destDir, true); err != nil {
				return fmt.Errorf("%s: %w: %v", name, ErrExtractFailed, err)
			}
		case strings.HasSuffix(basename, ".zip"):
			debugf("%s: unzipping %s\n", name, basename)
			if err := unzip(path, destDir); err != nil {
				return fmt.Errorf("%s: %w: %v", name, ErrExtractFailed, err)
			}
		default:
			if err := copyFile(path, filepath.Join(destDir, basename)); err != nil {
				return fmt.Errorf("%s: failed to copy source %s: %w", name, basename, err)
			}
		}
	}
	return nil
}

// pruneJunk deletes the configured junk paths from the stage.
func (c *Config) pruneJunk(stageDir string) {
	for _, junk := range c.Junk {
		target := filepath.Join(stageDir, junk)
		if _, err := os.Lstat(target); err != nil {
			continue
		}
		if err := os.RemoveAll(target); err != nil {
			warnf("", "failed to prune %s: %v", target, err)
		}
	}
}

// BuildOne runs the full pipeline for a single package: extract, build,
// copy definition, strip, fix dependencies, prune junk, manifest, tar.
// Returns the tarball path.
func (s *State) BuildOne(name string) (string, error) {
	pkgDir, err := s.Cfg.Find(name)
	if err != nil {
		return "", err
	}
	version, release, err := ReadVersion(pkgDir)
	if err != nil {
		return "", fmt.Errorf("%s: %w", name, err)
	}

	buildDir := filepath.Join(s.Cfg.BuildRoot, name)
	stageDir := filepath.Join(s.Cfg.PkgRoot, name)
	for _, dir := range []string{buildDir, stageDir} {
		if err := os.RemoveAll(dir); err != nil {
			return "", fmt.Errorf("%s: failed to clear %s: %w", name, dir, err)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("%s: failed to create %s: %w", name, dir, err)
		}
	}

	logf(name, "building %s-%s", version, release)

	if err := s.prepareSources(name, pkgDir, buildDir); err != nil {
		return "", err
	}

	sink, closeSink, err := s.Cfg.openLogSink()
	if err != nil {
		return "", err
	}
	defer closeSink()

	cmd := exec.Command(filepath.Join(pkgDir, "build"), stageDir)
	cmd.Dir = buildDir
	cmd.Stdout = sink
	cmd.Stderr = sink
	if err := s.Exec.Run(cmd); err != nil {
		return "", fmt.Errorf("%s: %w: %v", name, ErrBuildFailed, err)
	}

	// The definition becomes the installed-db entry once the stage lands in
	// the target root.
	dbDir := filepath.Join(stageDir, DBPath, name)
	if err := copyDir(pkgDir, dbDir); err != nil {
		return "", fmt.Errorf("%s: failed to copy definition: %w", name, err)
	}

	if hasMarker(pkgDir, "nostrip") {
		debugf("%s: nostrip set, skipping strip\n", name)
	} else if err := s.stripStage(name, stageDir); err != nil {
		return "", fmt.Errorf("%s: %w", name, err)
	}

	if err := s.fixDeps(name, stageDir); err != nil {
		return "", fmt.Errorf("%s: %w", name, err)
	}

	s.Cfg.pruneJunk(stageDir)

	if err := GenerateManifest(stageDir, name); err != nil {
		return "", fmt.Errorf("%s: %w", name, err)
	}

	tarballPath := filepath.Join(s.Cfg.BinDir, TarballName(name, version, release))
	if err := createTarball(stageDir, tarballPath); err != nil {
		return "", fmt.Errorf("%s: failed to create tarball: %w", name, err)
	}

	logf(name, "built %s", filepath.Base(tarballPath))
	return tarballPath, nil
}

// Build is the build driver: resolve, lint, fetch, verify, then build each
// package in order, installing dependencies as soon as they are built so
// later packages can link against them.
func (s *State) Build(roots []string) error {
	if len(roots) == 0 {
		installed, err := s.Cfg.ListInstalled()
		if err != nil {
			return err
		}
		for _, pkg := range installed {
			roots = append(roots, pkg.Name)
		}
		if len(roots) == 0 {
			return fmt.Errorf("nothing installed to rebuild")
		}
	}
	for _, name := range roots {
		if err := ValidName(name); err != nil {
			return err
		}
	}

	order, err := s.Resolve(roots, ResolveBuild)
	if err != nil {
		return err
	}
	if len(order) > len(roots) {
		logf("", "resolved order: %s", strings.Join(order, " "))
	}

	// All linting precedes all fetching; missing checksum files are
	// reported as one complete list.
	var missing []string
	for _, name := range order {
		pkgDir, err := s.Cfg.Find(name)
		if err != nil {
			return err
		}
		if err := Lint(name, pkgDir); err != nil {
			return err
		}
		if _, err := os.Stat(filepath.Join(pkgDir, "checksums")); err != nil {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		for _, name := range missing {
			cPrintf(colError, "%s: missing checksums file\n", name)
		}
		return fmt.Errorf("%s: %w", strings.Join(missing, " "), ErrMissingChecksums)
	}

	for _, name := range order {
		if err := s.Fetch(name); err != nil {
			return err
		}
	}

	// All verification precedes any build step; mismatches are batched the
	// same way missing checksum files are.
	var mismatched []string
	for _, name := range order {
		if err := s.Verify(name); err != nil {
			if errors.Is(err, ErrChecksumMismatch) {
				cPrintf(colError, "%s: checksum mismatch\n", name)
				mismatched = append(mismatched, name)
				continue
			}
			return err
		}
	}
	if len(mismatched) > 0 {
		return fmt.Errorf("%s: %w", strings.Join(mismatched, " "), ErrChecksumMismatch)
	}

	for _, name := range order {
		pkgDir, err := s.Cfg.Find(name)
		if err != nil {
			return err
		}
		version, release, err := ReadVersion(pkgDir)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		tarballPath := filepath.Join(s.Cfg.BinDir, TarballName(name, version, release))

		if !s.isExplicit(name) {
			if _, err := os.Stat(tarballPath); err == nil {
				logf(name, "found pre-built tarball, installing")
				if err := s.Install(tarballPath); err != nil {
					return err
				}
				continue
			}
		}

		if _, err := s.BuildOne(name); err != nil {
			return err
		}

		// Dependencies install immediately so the packages after them can
		// link against the fresh artifacts. Explicit roots stay build-only
		// unless an update is driving.
		if !s.isExplicit(name) || s.update {
			if err := s.Install(tarballPath); err != nil {
				return err
			}
		}
	}
	return nil
}
