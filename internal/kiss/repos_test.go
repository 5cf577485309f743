package kiss

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestFindFirstWins(t *testing.T) {
	t.Parallel()
	cfg, repo := testConfig(t)
	second := t.TempDir()
	cfg.Path = append(cfg.Path, second)

	writeDef(t, repo, "a", "1.0 1", nil, nil)
	writeDef(t, second, "a", "2.0 1", nil, nil)

	hit, err := cfg.Find("a")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if hit != filepath.Join(repo, "a") {
		t.Errorf("Find returned %s; want the first repository's copy", hit)
	}
}

func TestFindScansInstalledLast(t *testing.T) {
	t.Parallel()
	cfg, _ := testConfig(t)
	installEntry(t, cfg, "ghost", "1.0 1", nil)

	hit, err := cfg.Find("ghost")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if hit != filepath.Join(cfg.Installed, "ghost") {
		t.Errorf("Find returned %s; want installed-db entry", hit)
	}
}

func TestFindNotFound(t *testing.T) {
	t.Parallel()
	cfg, _ := testConfig(t)
	if _, err := cfg.Find("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v; want ErrNotFound", err)
	}
}

func TestFindNoSearchPath(t *testing.T) {
	t.Parallel()
	cfg, _ := testConfig(t)
	cfg.Path = nil
	if _, err := cfg.Find("a"); !errors.Is(err, ErrNoSearchPath) {
		t.Errorf("err = %v; want ErrNoSearchPath", err)
	}
}

func TestFindAllReturnsEveryHit(t *testing.T) {
	t.Parallel()
	cfg, repo := testConfig(t)
	second := t.TempDir()
	cfg.Path = append(cfg.Path, second)

	writeDef(t, repo, "a", "1.0 1", nil, nil)
	writeDef(t, second, "a", "2.0 1", nil, nil)

	hits, err := cfg.FindAll("a")
	if err != nil {
		t.Fatalf("FindAll: %v", err)
	}
	if len(hits) != 2 {
		t.Errorf("got %d hits; want 2", len(hits))
	}
}

func TestSearchWildcards(t *testing.T) {
	t.Parallel()
	cfg, repo := testConfig(t)
	writeDef(t, repo, "zlib", "1.0 1", nil, nil)
	writeDef(t, repo, "zstd", "1.0 1", nil, nil)
	writeDef(t, repo, "make", "1.0 1", nil, nil)

	hits, err := cfg.Search("z*")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 2 {
		t.Errorf("got %v; want the two z packages", hits)
	}

	if _, err := cfg.Search("q*"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v; want ErrNotFound", err)
	}
}
