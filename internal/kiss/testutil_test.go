package kiss

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// testConfig builds a Config rooted in temporary directories with one
// repository registered.
func testConfig(t *testing.T) (*Config, string) {
	t.Helper()

	root := t.TempDir()
	repo := t.TempDir()
	cache := t.TempDir()

	cfg := &Config{
		Root:        root,
		Path:        []string{repo},
		Installed:   filepath.Join(root, DBPath),
		Pid:         "test",
		CacheDir:    cache,
		SourcesDir:  filepath.Join(cache, "sources"),
		BinDir:      filepath.Join(cache, "bin"),
		CacheStore:  filepath.Join(cache, "sources", "_cache"),
		BuildRoot:   filepath.Join(cache, "build-test"),
		PkgRoot:     filepath.Join(cache, "pkg-test"),
		ExtractRoot: filepath.Join(cache, "extract-test"),
		Junk:        append([]string{}, defaultJunk...),
	}
	if err := cfg.MakeScratchDirs(); err != nil {
		t.Fatalf("MakeScratchDirs: %v", err)
	}
	return cfg, repo
}

func testState(t *testing.T, cfg *Config) *State {
	t.Helper()
	return NewState(cfg, NewExecutor(context.Background()), &fakeDownloader{})
}

// fakeDownloader satisfies Downloader without a network.
type fakeDownloader struct {
	calls int
	data  map[string][]byte // url -> body; missing url is an error
}

func (d *fakeDownloader) Download(_ context.Context, url, dest string) error {
	d.calls++
	body, ok := d.data[url]
	if !ok {
		return ErrDownloadFailed
	}
	return os.WriteFile(dest, body, 0o644)
}

// writeDef creates a package definition in repo. deps are raw depends
// lines; files maps extra definition files (relative path -> content).
func writeDef(t *testing.T, repo, name, version string, deps []string, files map[string]string) string {
	t.Helper()

	pkgDir := filepath.Join(repo, name)
	if err := os.MkdirAll(pkgDir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", pkgDir, err)
	}
	if err := os.WriteFile(filepath.Join(pkgDir, "version"), []byte(version+"\n"), 0o644); err != nil {
		t.Fatalf("write version: %v", err)
	}
	if len(deps) > 0 {
		data := strings.Join(deps, "\n") + "\n"
		if err := os.WriteFile(filepath.Join(pkgDir, "depends"), []byte(data), 0o644); err != nil {
			t.Fatalf("write depends: %v", err)
		}
	}
	for rel, content := range files {
		path := filepath.Join(pkgDir, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir for %s: %v", rel, err)
		}
		mode := os.FileMode(0o644)
		if rel == "build" || rel == "post-install" {
			mode = 0o755
		}
		if err := os.WriteFile(path, []byte(content), mode); err != nil {
			t.Fatalf("write %s: %v", rel, err)
		}
	}
	return pkgDir
}

// installEntry fakes an installed-db entry directly, for tests that do not
// need a full install.
func installEntry(t *testing.T, cfg *Config, name, version string, deps []string) {
	t.Helper()

	entry := filepath.Join(cfg.Installed, name)
	if err := os.MkdirAll(entry, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", entry, err)
	}
	if err := os.WriteFile(filepath.Join(entry, "version"), []byte(version+"\n"), 0o644); err != nil {
		t.Fatalf("write version: %v", err)
	}
	if len(deps) > 0 {
		data := strings.Join(deps, "\n") + "\n"
		if err := os.WriteFile(filepath.Join(entry, "depends"), []byte(data), 0o644); err != nil {
			t.Fatalf("write depends: %v", err)
		}
	}
}

// makeTarball stages files (manifest path -> content) plus an installed-db
// entry and packages them, returning the tarball path. deps are raw depends
// lines for the staged entry.
func makeTarball(t *testing.T, cfg *Config, name, version, release string, files map[string]string, deps []string) string {
	t.Helper()

	stage := filepath.Join(t.TempDir(), "stage-"+name)
	for rel, content := range files {
		path := filepath.Join(stage, strings.TrimPrefix(rel, "/"))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir for %s: %v", rel, err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", rel, err)
		}
	}

	dbDir := filepath.Join(stage, DBPath, name)
	if err := os.MkdirAll(dbDir, 0o755); err != nil {
		t.Fatalf("mkdir db entry: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dbDir, "version"), []byte(version+" "+release+"\n"), 0o644); err != nil {
		t.Fatalf("write version: %v", err)
	}
	if len(deps) > 0 {
		data := strings.Join(deps, "\n") + "\n"
		if err := os.WriteFile(filepath.Join(dbDir, "depends"), []byte(data), 0o644); err != nil {
			t.Fatalf("write depends: %v", err)
		}
	}

	if err := GenerateManifest(stage, name); err != nil {
		t.Fatalf("GenerateManifest: %v", err)
	}

	tarball := filepath.Join(cfg.BinDir, TarballName(name, version, release))
	if err := createTarball(stage, tarball); err != nil {
		t.Fatalf("createTarball: %v", err)
	}
	return tarball
}

func mustExist(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Lstat(path); err != nil {
		t.Fatalf("expected %s to exist: %v", path, err)
	}
}

func mustNotExist(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Lstat(path); err == nil {
		t.Fatalf("expected %s to be absent", path)
	}
}
