package kiss

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFetchReusesCachedDownload(t *testing.T) {
	t.Parallel()
	cfg, repo := testConfig(t)
	writeDef(t, repo, "pkg", "1.0 1", nil, map[string]string{
		"sources": "https://ex/lib-1.0.tar.gz\n",
	})

	// Pre-place the source in the per-package cache.
	srcDir := filepath.Join(cfg.SourcesDir, "pkg")
	if err := os.MkdirAll(srcDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(srcDir, "lib-1.0.tar.gz"), []byte("cached"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := testState(t, cfg)
	dl := s.DL.(*fakeDownloader)
	if err := s.Fetch("pkg"); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if dl.calls != 0 {
		t.Errorf("downloader invoked %d times; want 0 (cache hit)", dl.calls)
	}
}

func TestFetchDownloadsAndLinks(t *testing.T) {
	t.Parallel()
	cfg, repo := testConfig(t)
	writeDef(t, repo, "pkg", "1.0 1", nil, map[string]string{
		"sources": "https://ex/lib-1.0.tar.gz\n",
	})

	s := testState(t, cfg)
	s.DL = &fakeDownloader{data: map[string][]byte{
		"https://ex/lib-1.0.tar.gz": []byte("bytes"),
	}}
	if err := s.Fetch("pkg"); err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	link := filepath.Join(cfg.SourcesDir, "pkg", "lib-1.0.tar.gz")
	data, err := os.ReadFile(link)
	if err != nil {
		t.Fatalf("source not linked into cache: %v", err)
	}
	if string(data) != "bytes" {
		t.Errorf("cached source = %q; want %q", data, "bytes")
	}
	if info, err := os.Lstat(link); err != nil || info.Mode()&os.ModeSymlink == 0 {
		t.Error("per-package source entry should be a symlink into the shared store")
	}
}

func TestFetchDownloadFailure(t *testing.T) {
	t.Parallel()
	cfg, repo := testConfig(t)
	writeDef(t, repo, "pkg", "1.0 1", nil, map[string]string{
		"sources": "https://ex/lib-1.0.tar.gz\n",
	})

	s := testState(t, cfg)
	if err := s.Fetch("pkg"); !errors.Is(err, ErrDownloadFailed) {
		t.Errorf("err = %v; want ErrDownloadFailed", err)
	}
	mustNotExist(t, filepath.Join(cfg.SourcesDir, "pkg", "lib-1.0.tar.gz"))
}

func TestFetchMissingLocalSource(t *testing.T) {
	t.Parallel()
	cfg, repo := testConfig(t)
	writeDef(t, repo, "pkg", "1.0 1", nil, map[string]string{
		"sources": "files/absent.patch\n",
	})

	s := testState(t, cfg)
	if err := s.Fetch("pkg"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v; want ErrNotFound", err)
	}
}

func TestFetchVersionBumpInvalidatesStore(t *testing.T) {
	t.Parallel()
	cfg, repo := testConfig(t)
	pkgDir := writeDef(t, repo, "pkg", "1.0 1", nil, map[string]string{
		"sources": "https://ex/lib.tar.gz\n",
	})

	s := testState(t, cfg)
	s.DL = &fakeDownloader{data: map[string][]byte{
		"https://ex/lib.tar.gz": []byte("v1"),
	}}
	if err := s.Fetch("pkg"); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	first := cacheKey("https://ex/lib.tar.gz", "1.0", "lib.tar.gz")

	// Bump the version; the same URL must key a different store entry.
	if err := os.WriteFile(filepath.Join(pkgDir, "version"), []byte("2.0 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	second := cacheKey("https://ex/lib.tar.gz", "2.0", "lib.tar.gz")
	if first == second {
		t.Error("cache key did not change across versions")
	}
}
