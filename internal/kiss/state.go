package kiss

import (
	"sync/atomic"
)

// criticalSection is consulted by the signal goroutine in main: while the
// value is 1, interrupts are held off so a half-applied install or remove
// cannot be left behind. A second interrupt still forces exit.
var criticalSection atomic.Int32

// EnterCritical marks the start of a filesystem mutation that must run to
// completion.
func EnterCritical() { criticalSection.Store(1) }

// LeaveCritical re-enables graceful cancellation.
func LeaveCritical() { criticalSection.Store(0) }

// InCritical reports whether a critical section is active.
func InCritical() bool { return criticalSection.Load() == 1 }

// State is the per-invocation pipeline context. The resolver accumulator,
// the explicit set and the update flag live here instead of in package-level
// variables so concurrent invocations and tests stay independent.
type State struct {
	Cfg  *Config
	Exec *Executor
	DL   Downloader

	deps     []string            // resolver accumulator, insertion order
	depSet   map[string]struct{} // membership mirror of deps
	visiting map[string]struct{} // recursion stack for cycle cutting
	explicit map[string]struct{} // user-named roots still explicit
	update   bool                // forces install of explicit roots after build
}

// NewState builds a State for one invocation.
func NewState(cfg *Config, exec *Executor, dl Downloader) *State {
	return &State{
		Cfg:      cfg,
		Exec:     exec,
		DL:       dl,
		depSet:   make(map[string]struct{}),
		visiting: make(map[string]struct{}),
		explicit: make(map[string]struct{}),
	}
}

// reset clears resolver state so a State can drive more than one top-level
// operation (the update procedure re-enters build).
func (s *State) reset() {
	s.deps = nil
	s.depSet = make(map[string]struct{})
	s.visiting = make(map[string]struct{})
	s.explicit = make(map[string]struct{})
}

func (s *State) appendDep(name string) {
	if _, ok := s.depSet[name]; ok {
		return
	}
	s.depSet[name] = struct{}{}
	s.deps = append(s.deps, name)
}

func (s *State) isExplicit(name string) bool {
	_, ok := s.explicit[name]
	return ok
}
