package kiss

import (
	"reflect"
	"testing"
)

func TestResolveLinearDeps(t *testing.T) {
	t.Parallel()
	cfg, repo := testConfig(t)
	writeDef(t, repo, "a", "1.0 1", []string{"b"}, nil)
	writeDef(t, repo, "b", "1.0 1", []string{"c"}, nil)
	writeDef(t, repo, "c", "1.0 1", nil, nil)

	s := testState(t, cfg)
	order, err := s.Resolve([]string{"a"}, ResolveBuild)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want := []string{"c", "b", "a"}
	if !reflect.DeepEqual(order, want) {
		t.Errorf("order = %v; want %v", order, want)
	}
	if !s.isExplicit("a") {
		t.Error("a should remain explicit")
	}
	if s.isExplicit("b") || s.isExplicit("c") {
		t.Error("dependencies must not be explicit")
	}
}

func TestResolveDiamond(t *testing.T) {
	t.Parallel()
	cfg, repo := testConfig(t)
	writeDef(t, repo, "a", "1.0 1", []string{"b", "c"}, nil)
	writeDef(t, repo, "b", "1.0 1", []string{"d"}, nil)
	writeDef(t, repo, "c", "1.0 1", []string{"d"}, nil)
	writeDef(t, repo, "d", "1.0 1", nil, nil)

	s := testState(t, cfg)
	order, err := s.Resolve([]string{"a"}, ResolveBuild)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want := []string{"d", "b", "c", "a"}
	if !reflect.DeepEqual(order, want) {
		t.Errorf("order = %v; want %v", order, want)
	}
}

func TestResolveDeterministic(t *testing.T) {
	t.Parallel()
	cfg, repo := testConfig(t)
	writeDef(t, repo, "a", "1.0 1", []string{"b", "c"}, nil)
	writeDef(t, repo, "b", "1.0 1", []string{"d"}, nil)
	writeDef(t, repo, "c", "1.0 1", []string{"d"}, nil)
	writeDef(t, repo, "d", "1.0 1", nil, nil)

	s := testState(t, cfg)
	first, err := s.Resolve([]string{"a"}, ResolveBuild)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := s.Resolve([]string{"a"}, ResolveBuild)
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("run %d: order %v != %v", i, again, first)
		}
	}
}

func TestResolveCycleTolerance(t *testing.T) {
	t.Parallel()
	cfg, repo := testConfig(t)
	writeDef(t, repo, "a", "1.0 1", []string{"b"}, nil)
	writeDef(t, repo, "b", "1.0 1", []string{"a"}, nil)

	s := testState(t, cfg)
	order, err := s.Resolve([]string{"a"}, ResolveInstall)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	// a -> b -> a: the cycle is cut at the revisit, never looping.
	want := []string{"b", "a"}
	if !reflect.DeepEqual(order, want) {
		t.Errorf("order = %v; want %v", order, want)
	}
}

func TestResolvePrunesInstalledDeps(t *testing.T) {
	t.Parallel()
	cfg, repo := testConfig(t)
	writeDef(t, repo, "a", "1.0 1", []string{"b"}, nil)
	writeDef(t, repo, "b", "1.0 1", nil, nil)
	installEntry(t, cfg, "b", "1.0 1", nil)

	s := testState(t, cfg)
	order, err := s.Resolve([]string{"a"}, ResolveBuild)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want := []string{"a"}
	if !reflect.DeepEqual(order, want) {
		t.Errorf("order = %v; want %v", order, want)
	}
}

func TestResolveInstalledRootStillBuilds(t *testing.T) {
	t.Parallel()
	cfg, repo := testConfig(t)
	writeDef(t, repo, "a", "1.0 1", nil, nil)
	installEntry(t, cfg, "a", "1.0 1", nil)

	s := testState(t, cfg)
	order, err := s.Resolve([]string{"a"}, ResolveBuild)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	// User-named roots are rebuilt even when installed.
	want := []string{"a"}
	if !reflect.DeepEqual(order, want) {
		t.Errorf("order = %v; want %v", order, want)
	}
}

func TestResolveDemotesTransitiveRoot(t *testing.T) {
	t.Parallel()
	cfg, repo := testConfig(t)
	writeDef(t, repo, "a", "1.0 1", []string{"b"}, nil)
	writeDef(t, repo, "b", "1.0 1", nil, nil)

	s := testState(t, cfg)
	order, err := s.Resolve([]string{"a", "b"}, ResolveBuild)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want := []string{"b", "a"}
	if !reflect.DeepEqual(order, want) {
		t.Errorf("order = %v; want %v", order, want)
	}
	if s.isExplicit("b") {
		t.Error("b is a's dependency, it must be demoted from the explicit set")
	}
	if !s.isExplicit("a") {
		t.Error("a must stay explicit")
	}
}

func TestResolveMissingDependsIsEmpty(t *testing.T) {
	t.Parallel()
	cfg, repo := testConfig(t)
	writeDef(t, repo, "a", "1.0 1", nil, nil)

	s := testState(t, cfg)
	order, err := s.Resolve([]string{"a"}, ResolveBuild)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(order) != 1 || order[0] != "a" {
		t.Errorf("order = %v; want [a]", order)
	}
}

func TestResolveNodepends(t *testing.T) {
	t.Parallel()
	cfg, repo := testConfig(t)
	writeDef(t, repo, "a", "1.0 1", []string{"b"}, map[string]string{"nodepends": ""})
	writeDef(t, repo, "b", "1.0 1", nil, nil)

	s := testState(t, cfg)
	order, err := s.Resolve([]string{"a"}, ResolveBuild)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(order) != 1 || order[0] != "a" {
		t.Errorf("order = %v; want [a]", order)
	}
}

func TestResolveUnknownDependencyFails(t *testing.T) {
	t.Parallel()
	cfg, repo := testConfig(t)
	writeDef(t, repo, "a", "1.0 1", []string{"ghost"}, nil)

	s := testState(t, cfg)
	if _, err := s.Resolve([]string{"a"}, ResolveBuild); err == nil {
		t.Fatal("expected error for unknown dependency")
	}
}
