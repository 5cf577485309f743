package kiss

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
)

// sha256File hashes one file.
func sha256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// computeChecksums hashes each path with a small worker pool, preserving
// input order in the result.
func computeChecksums(paths []string) ([]string, error) {
	results := make([]string, len(paths))

	numWorkers := runtime.NumCPU()
	if len(paths) < numWorkers {
		numWorkers = len(paths)
	}
	if numWorkers < 1 {
		numWorkers = 1
	}

	jobs := make(chan int, len(paths))
	var wg sync.WaitGroup
	var errOnce sync.Once
	var firstErr error

	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				hash, err := sha256File(paths[i])
				if err != nil {
					errOnce.Do(func() { firstErr = err })
					continue
				}
				results[i] = hash
			}
		}()
	}
	for i := range paths {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return results, nil
}

// Checksum computes the ordered checksum list for a package's sources. Every
// source must already be fetched or local.
func (s *State) Checksum(name string) ([]string, error) {
	pkgDir, err := s.Cfg.Find(name)
	if err != nil {
		return nil, err
	}
	sources, err := ReadSources(pkgDir)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	paths := make([]string, len(sources))
	for i, src := range sources {
		paths[i] = s.Cfg.sourcePath(name, pkgDir, src)
	}

	hashes, err := computeChecksums(paths)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	lines := make([]string, len(hashes))
	for i, hash := range hashes {
		lines[i] = fmt.Sprintf("%s  %s", hash, filepath.Base(paths[i]))
	}
	return lines, nil
}

// WriteChecksums regenerates a definition's checksums file from the sources
// currently on disk (the checksum action).
func (s *State) WriteChecksums(name string) error {
	pkgDir, err := s.Cfg.Find(name)
	if err != nil {
		return err
	}
	lines, err := s.Checksum(name)
	if err != nil {
		return err
	}
	data := ""
	for _, line := range lines {
		data += line + "\n"
	}
	if err := os.WriteFile(filepath.Join(pkgDir, "checksums"), []byte(data), 0o644); err != nil {
		return fmt.Errorf("%s: failed to write checksums: %w", name, err)
	}
	logf(name, "generated checksums")
	return nil
}

// Verify stream-compares the computed checksum list against the stored
// checksums file, byte-exact including trailing newlines. A mismatch is
// never auto-repaired.
func (s *State) Verify(name string) error {
	pkgDir, err := s.Cfg.Find(name)
	if err != nil {
		return err
	}
	stored, err := os.ReadFile(filepath.Join(pkgDir, "checksums"))
	if err != nil {
		return fmt.Errorf("%s: %w", name, ErrMissingChecksums)
	}

	lines, err := s.Checksum(name)
	if err != nil {
		return err
	}
	var computed bytes.Buffer
	for _, line := range lines {
		computed.WriteString(line)
		computed.WriteByte('\n')
	}

	if !bytes.Equal(stored, computed.Bytes()) {
		return fmt.Errorf("%s: %w", name, ErrChecksumMismatch)
	}
	return nil
}
