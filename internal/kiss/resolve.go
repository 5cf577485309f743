package kiss

// ResolveMode selects the pruning rules for a traversal.
type ResolveMode int

const (
	ResolveBuild ResolveMode = iota
	ResolveInstall
	ResolveRemove
)

// Resolve walks the dependency graph depth-first from each root in the given
// order and returns the accumulated list: deepest prerequisites first,
// duplicates suppressed on insertion, cycles cut via the recursion-stack
// set. Roots that turn out to be transitive dependencies of other roots are
// demoted from the explicit set.
func (s *State) Resolve(roots []string, mode ResolveMode) ([]string, error) {
	s.reset()
	for _, name := range roots {
		s.explicit[name] = struct{}{}
	}

	for _, name := range roots {
		if err := s.visit(name, mode, true); err != nil {
			return nil, err
		}
	}

	// A root reached through another root's dependency chain is already in
	// the list; it will be handled as a dependency, so it stops being
	// explicit.
	for name := range s.explicit {
		if _, ok := s.depSet[name]; ok {
			delete(s.explicit, name)
		}
	}

	if mode == ResolveBuild {
		// Roots are appended after the dependency section so the caller can
		// separate explicit work from dependency work.
		for _, name := range roots {
			s.appendDep(name)
		}
	}
	return s.deps, nil
}

func (s *State) visit(name string, mode ResolveMode, root bool) error {
	if _, ok := s.depSet[name]; ok {
		return nil
	}
	// A node already on the recursion stack closes a cycle; cut it here
	// instead of looping.
	if _, ok := s.visiting[name]; ok {
		return nil
	}
	s.visiting[name] = struct{}{}
	defer delete(s.visiting, name)
	if mode == ResolveBuild && !s.isExplicit(name) && s.Cfg.IsInstalled(name) {
		return nil
	}

	pkgDir, err := s.Cfg.Find(name)
	if err != nil {
		if mode == ResolveRemove {
			// Removal only needs the installed entry; a definition gone from
			// every repository must not block it.
			pkgDir = ""
		} else {
			return err
		}
	}

	if pkgDir != "" && !hasMarker(pkgDir, "nodepends") {
		for _, dep := range ReadDepends(pkgDir) {
			if err := s.visit(dep.Name, mode, false); err != nil {
				return err
			}
		}
	}

	if !root || mode != ResolveBuild {
		s.appendDep(name)
	}
	return nil
}
