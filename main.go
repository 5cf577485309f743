package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kiss/internal/kiss"
)

var version = "dev" // overridden at build time

const usage = `kiss [b|c|i|l|r|s|u|v] [pkg...]
build     (b)  Build packages and their dependencies
checksum  (c)  Generate checksums for a package's sources
install   (i)  Install built packages or tarballs
list      (l)  List installed packages
remove    (r)  Remove installed packages
search    (s)  Search for packages (shell wildcards allowed)
update    (u)  Update outdated packages
version   (v)  Print version
help      (h)  Show this help`

func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	go func() {
		for {
			select {
			case <-sigs:
				if kiss.InCritical() {
					// A half-applied install or remove is worse than a slow
					// exit. Hold the first signal; a second one within the
					// window forces out.
					fmt.Fprintln(os.Stderr, "\ncritical operation in progress, interrupt again to force exit")
					select {
					case <-sigs:
						os.Exit(130)
					case <-time.After(5 * time.Second):
						continue
					case <-ctx.Done():
						return
					}
				}
				fmt.Fprintln(os.Stderr, "\ninterrupted, cancelling")
				cancel()
				select {
				case <-sigs:
					os.Exit(130)
				case <-time.After(500 * time.Millisecond):
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	if len(os.Args) < 2 {
		fmt.Println(usage)
		return 0
	}
	action, args := os.Args[1], os.Args[2:]

	cfg, err := kiss.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}

	state := kiss.NewState(cfg, kiss.NewExecutor(ctx), kiss.NewHTTPDownloader())

	switch action {
	case "version", "v":
		fmt.Println("kiss", version)
		return 0
	case "help", "h":
		fmt.Println(usage)
		return 0
	}

	if err := cfg.MakeScratchDirs(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	defer cfg.CleanScratchDirs()

	if err := dispatch(state, cfg, action, args); err != nil {
		if ctx.Err() != nil {
			fmt.Fprintln(os.Stderr, "error: cancelled")
			return 1
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}

// requireRoot gates actions that mutate a live root filesystem. A redirected
// KISS_ROOT is the caller's own tree and carries no privilege requirement.
func requireRoot(cfg *kiss.Config) error {
	if cfg.Root == "/" && os.Geteuid() != 0 {
		return errors.New("this action requires root privileges")
	}
	return nil
}

func dispatch(state *kiss.State, cfg *kiss.Config, action string, args []string) error {
	switch action {
	case "build", "b":
		return state.Build(args)

	case "checksum", "c":
		if len(args) == 0 {
			return errors.New("checksum needs at least one package name")
		}
		for _, name := range args {
			if err := state.Fetch(name); err != nil {
				return err
			}
			if err := state.WriteChecksums(name); err != nil {
				return err
			}
		}
		return nil

	case "install", "i":
		if len(args) == 0 {
			return errors.New("install needs a package name or tarball path")
		}
		if err := requireRoot(cfg); err != nil {
			return err
		}
		for _, arg := range args {
			if err := state.Install(arg); err != nil {
				return err
			}
		}
		return nil

	case "list", "l":
		pkgs, err := cfg.ListInstalled(args...)
		if err != nil {
			return err
		}
		for _, pkg := range pkgs {
			fmt.Println(pkg.Name, pkg.Version)
		}
		return nil

	case "remove", "r":
		if len(args) == 0 {
			return errors.New("remove needs at least one package name")
		}
		if err := requireRoot(cfg); err != nil {
			return err
		}
		return state.RemoveAll(args)

	case "search", "s":
		if len(args) == 0 {
			return errors.New("search needs at least one pattern")
		}
		for _, pattern := range args {
			hits, err := cfg.Search(pattern)
			if err != nil {
				return err
			}
			for _, hit := range hits {
				fmt.Println(hit)
			}
		}
		return nil

	case "update", "u":
		return state.Update()

	default:
		return fmt.Errorf("unknown action %q, see 'kiss help'", action)
	}
}
