package kiss

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
	"lukechampine.com/blake3"
)

// cacheKey derives the shared-store filename for a download. Hashing the URL
// together with the package version means a version bump invalidates a stale
// archive that kept the same basename.
func cacheKey(url, version, basename string) string {
	h := blake3.New(32, nil)
	h.Write([]byte(url + version))
	return fmt.Sprintf("%x-%s", h.Sum(nil)[:16], basename)
}

// withDownloadLock serializes concurrent invocations downloading the same
// destination. The lock file lives next to the destination and is removed
// once the download lands.
func withDownloadLock(dest string, fn func() error) error {
	lockPath := dest + ".lock"
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create lock file: %w", err)
	}
	defer f.Close()
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("failed to acquire download lock: %w", err)
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN)

	err = fn()
	if _, statErr := os.Stat(dest); statErr == nil {
		_ = os.Remove(lockPath)
	}
	return err
}

// sourcePath returns where a fetched or local source lives on disk.
func (c *Config) sourcePath(name, pkgDir string, src Source) string {
	if src.Remote() {
		return filepath.Join(c.SourcesDir, name, filepath.Base(src.URL))
	}
	return filepath.Join(pkgDir, src.URL)
}

// Fetch ensures every source of name is present locally: remote sources are
// reused from the cache or downloaded through the injected downloader, local
// sources are verified to exist under the definition.
func (s *State) Fetch(name string) error {
	pkgDir, err := s.Cfg.Find(name)
	if err != nil {
		return err
	}
	sources, err := ReadSources(pkgDir)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	version, _, err := ReadVersion(pkgDir)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}

	pkgSrcDir := filepath.Join(s.Cfg.SourcesDir, name)
	if err := os.MkdirAll(pkgSrcDir, 0o755); err != nil {
		return fmt.Errorf("failed to create source directory: %w", err)
	}

	for _, src := range sources {
		if !src.Remote() {
			local := filepath.Join(pkgDir, src.URL)
			if _, err := os.Stat(local); err != nil {
				return fmt.Errorf("%s: local source %s missing: %w", name, src.URL, ErrNotFound)
			}
			continue
		}

		basename := filepath.Base(src.URL)
		linkPath := filepath.Join(pkgSrcDir, basename)
		if _, err := os.Stat(linkPath); err == nil {
			debugf("%s: found cached source %s\n", name, basename)
			continue
		}

		cachePath := filepath.Join(s.Cfg.CacheStore, cacheKey(src.URL, version, basename))
		err := withDownloadLock(cachePath, func() error {
			// Another invocation may have finished while we waited for the
			// lock.
			if _, err := os.Stat(cachePath); err == nil {
				return nil
			}
			logf(name, "downloading %s", src.URL)
			return s.DL.Download(s.Exec.Context, src.URL, cachePath)
		})
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}

		_ = os.Remove(linkPath)
		if err := os.Symlink(cachePath, linkPath); err != nil {
			return fmt.Errorf("%s: failed to link source into cache: %w", name, err)
		}
	}
	return nil
}
