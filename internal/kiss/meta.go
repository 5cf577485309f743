package kiss

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Source is one line of a package's sources file.
type Source struct {
	URL  string // remote URL or path relative to the definition
	Dest string // subdirectory under the build tree, may be empty
}

// Remote reports whether the source is fetched over the network.
func (s Source) Remote() bool { return strings.Contains(s.URL, "://") }

// Dependency is one line of a depends file.
type Dependency struct {
	Name string
	Make bool // build-time only
}

// ReadVersion parses a definition's version file: one line, two
// whitespace-separated fields. An empty release field is an error.
func ReadVersion(pkgDir string) (version, release string, err error) {
	data, err := os.ReadFile(filepath.Join(pkgDir, "version"))
	if err != nil {
		return "", "", fmt.Errorf("could not read version file: %w", err)
	}
	fields := strings.Fields(string(data))
	if len(fields) < 2 || fields[0] == "" || fields[1] == "" {
		return "", "", fmt.Errorf("version file in %s needs '<version> <release>'", pkgDir)
	}
	return fields[0], fields[1], nil
}

// ReadSources parses a definition's sources file. A missing file yields an
// empty list.
func ReadSources(pkgDir string) ([]Source, error) {
	file, err := os.Open(filepath.Join(pkgDir, "sources"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("could not read sources file: %w", err)
	}
	defer file.Close()

	var sources []Source
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		src := Source{URL: fields[0]}
		if len(fields) > 1 {
			src.Dest = fields[1]
		}
		sources = append(sources, src)
	}
	return sources, scanner.Err()
}

// ReadDepends parses a depends file. Missing or unreadable files are treated
// as no dependencies, matching the resolver contract.
func ReadDepends(pkgDir string) []Dependency {
	file, err := os.Open(filepath.Join(pkgDir, "depends"))
	if err != nil {
		return nil
	}
	defer file.Close()

	var deps []Dependency
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		dep := Dependency{Name: fields[0]}
		if len(fields) > 1 && fields[1] == "make" {
			dep.Make = true
		}
		deps = append(deps, dep)
	}
	return deps
}

// hasMarker reports whether a marker file (nostrip, nodepends) is present in
// the definition.
func hasMarker(pkgDir, marker string) bool {
	_, err := os.Stat(filepath.Join(pkgDir, marker))
	return err == nil
}

// Lint asserts a definition is complete enough to build: sources present,
// build present and executable, version well-formed.
func Lint(name, pkgDir string) error {
	if _, err := os.Stat(filepath.Join(pkgDir, "sources")); err != nil {
		return fmt.Errorf("%s: sources file missing: %w", name, ErrInvalidPackage)
	}
	info, err := os.Stat(filepath.Join(pkgDir, "build"))
	if err != nil {
		return fmt.Errorf("%s: build file missing: %w", name, ErrInvalidPackage)
	}
	if info.Mode()&0o111 == 0 {
		return fmt.Errorf("%s: build file not executable: %w", name, ErrInvalidPackage)
	}
	if _, _, err := ReadVersion(pkgDir); err != nil {
		return fmt.Errorf("%s: %v: %w", name, err, ErrInvalidPackage)
	}
	return nil
}
