package kiss

import (
	"debug/elf"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
)

// elfType opens path as an ELF object and returns its type. Non-ELF files
// return elf.ET_NONE with no error.
func elfType(path string) (elf.Type, error) {
	f, err := elf.Open(path)
	if err != nil {
		return elf.ET_NONE, nil
	}
	defer f.Close()
	return f.Type, nil
}

// stripStage walks the stage and strips every ELF object according to its
// class: shared objects lose unneeded symbols, executables are fully
// stripped, relocatables keep symbols but lose debug info. Individual strip
// failures are tolerated; a missing strip binary skips the stage entirely.
func (s *State) stripStage(name, stageDir string) error {
	if _, err := exec.LookPath("strip"); err != nil {
		warnf(name, "strip not found, skipping strip stage")
		return nil
	}

	type job struct {
		path string
		args []string
	}
	var jobs []job

	err := filepath.Walk(stageDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || !info.Mode().IsRegular() {
			return err
		}
		t, err := elfType(path)
		if err != nil {
			return nil
		}
		switch t {
		case elf.ET_DYN:
			jobs = append(jobs, job{path, []string{"--strip-unneeded"}})
		case elf.ET_EXEC:
			jobs = append(jobs, job{path, nil})
		case elf.ET_REL:
			jobs = append(jobs, job{path, []string{"--strip-debug"}})
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		return nil
	}

	logf(name, "stripping %d files", len(jobs))

	maxConcurrency := runtime.GOMAXPROCS(0)
	if maxConcurrency < 4 {
		maxConcurrency = 4
	}
	limit := make(chan struct{}, maxConcurrency)
	var wg sync.WaitGroup

	for _, j := range jobs {
		wg.Add(1)
		limit <- struct{}{}
		go func(j job) {
			defer wg.Done()
			defer func() { <-limit }()
			cmd := exec.Command("strip", append(j.args, j.path)...)
			cmd.Stdout = io.Discard
			cmd.Stderr = io.Discard
			cmd.Stdin = nil
			if err := s.Exec.Run(cmd); err != nil {
				debugf("failed to strip %s: %v (continuing)\n", j.path, err)
			}
		}(j)
	}
	wg.Wait()
	return nil
}
