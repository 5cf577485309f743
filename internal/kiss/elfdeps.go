package kiss

import (
	"debug/elf"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// toolchainLibs are never recorded as dependencies: they belong to the
// compiler/libc packages every build already assumes.
var toolchainLibs = []string{
	"ld-*", "libc.so*", "libm.so*", "libpthread.so*", "libdl.so*",
	"libgcc_s.so*", "libstdc++.so*", "libcrypt.so*", "libc++.so*",
	"libc++abi.so*", "libmvec.so*", "libresolv.so*", "librt.so*",
	"libunwind.so*", "libutil.so*", "libxnet.so*",
}

func isToolchainLib(soname string) bool {
	for _, pat := range toolchainLibs {
		if ok, _ := filepath.Match(pat, soname); ok {
			return true
		}
	}
	return false
}

// libSearchDirs are the conventional shared-library locations scanned under
// the target root when resolving a soname to a path.
var libSearchDirs = []string{"usr/lib", "usr/lib64", "lib", "lib64", "usr/local/lib"}

// resolveLib locates soname under the target root and canonicalizes it
// through any directory or library symlinks, returning the manifest-form
// path (absolute, rooted at /). Empty when not found.
func (c *Config) resolveLib(soname string) string {
	for _, dir := range libSearchDirs {
		candidate := filepath.Join(c.Root, dir, soname)
		if _, err := os.Lstat(candidate); err != nil {
			continue
		}
		resolved, err := filepath.EvalSymlinks(candidate)
		if err != nil {
			resolved = candidate
		}
		rel, err := filepath.Rel(c.Root, resolved)
		if err != nil {
			continue
		}
		return "/" + filepath.ToSlash(rel)
	}
	return ""
}

// buildOwnerIndex maps every installed manifest line to its owning package,
// excluding one package. First owner wins on duplicates.
func (c *Config) buildOwnerIndex(exclude string) map[string]string {
	index := make(map[string]string)
	entries, err := os.ReadDir(c.Installed)
	if err != nil {
		return index
	}
	for _, e := range entries {
		if !e.IsDir() || e.Name() == exclude {
			continue
		}
		lines, err := ReadManifest(filepath.Join(c.Installed, e.Name(), "manifest"))
		if err != nil {
			continue
		}
		for _, line := range lines {
			if _, ok := index[line]; !ok {
				index[line] = e.Name()
			}
		}
	}
	return index
}

// fixDeps walks the stage for ELF objects, resolves each dynamic library
// reference to its owning installed package and records the owners in the
// staged depends file, sort-unique by first column. Failures to parse an
// individual file are ignored; it simply is not ELF.
func (s *State) fixDeps(name, stageDir string) error {
	if hasMarker(filepath.Join(stageDir, DBPath, name), "nodepends") {
		debugf("%s: nodepends set, skipping dependency fixup\n", name)
		return nil
	}

	owners := s.Cfg.buildOwnerIndex(name)
	found := make(map[string]struct{})

	err := filepath.Walk(stageDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || !info.Mode().IsRegular() {
			return err
		}
		f, err := elf.Open(path)
		if err != nil {
			return nil
		}
		libs, err := f.ImportedLibraries()
		f.Close()
		if err != nil {
			debugf("%s: cannot read dynamic section of %s: %v\n", name, path, err)
			return nil
		}
		for _, lib := range libs {
			if isToolchainLib(lib) {
				continue
			}
			resolved := s.Cfg.resolveLib(lib)
			if resolved == "" {
				continue
			}
			owner, ok := owners[resolved]
			if !ok || owner == name {
				continue
			}
			found[owner] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(found) == 0 {
		return nil
	}

	return mergeDepends(filepath.Join(stageDir, DBPath, name, "depends"), found)
}

// mergeDepends appends the detected owners to an existing depends file and
// rewrites it sort-unique by first column, preserving make annotations.
func mergeDepends(dependsFile string, detected map[string]struct{}) error {
	byName := make(map[string]string) // name -> full line
	if data, err := os.ReadFile(dependsFile); err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			fields := strings.Fields(line)
			if _, ok := byName[fields[0]]; !ok {
				byName[fields[0]] = line
			}
		}
	}
	for dep := range detected {
		if _, ok := byName[dep]; !ok {
			byName[dep] = dep
		}
	}

	names := make([]string, 0, len(byName))
	for n := range byName {
		names = append(names, n)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, n := range names {
		b.WriteString(byName[n])
		b.WriteByte('\n')
	}
	if err := os.WriteFile(dependsFile, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("failed to rewrite depends: %w", err)
	}
	return nil
}
