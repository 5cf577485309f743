package kiss

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ConfigFile is the on-disk configuration read before KISS_* overrides.
const ConfigFile = "/etc/kiss.conf"

// DBPath is the installed-package database, relative to the target root.
const DBPath = "var/db/kiss/installed"

// defaultJunk lists stage paths pruned after every build unless KISS_RM
// overrides them. charset.alias conflicts between any two gettext-using
// packages, so it always goes.
var defaultJunk = []string{
	"usr/share/doc",
	"usr/share/gtk-doc",
	"usr/share/info",
	"usr/share/gettext",
	"usr/share/locale",
	"usr/share/bash-completion",
	"usr/share/zsh",
	"usr/share/polkit-1",
	"etc/bash_completion.d",
	"usr/lib/charset.alias",
}

// Config carries every tunable for one invocation. It is built once in main
// and threaded through the entry points; nothing here mutates after Load.
type Config struct {
	Root      string   // target root filesystem, default "/"
	Path      []string // repository roots, searched in order
	Installed string   // Root + DBPath

	Force bool   // bypass install/remove dependency gates
	Debug bool   // keep scratch dirs, enable debugf
	Pid   string // process key for scratch dir names

	CacheDir   string // <cache base>/kiss
	SourcesDir string // CacheDir/sources
	BinDir     string // CacheDir/bin
	CacheStore string // SourcesDir/_cache, shared download store

	BuildRoot   string // CacheDir/build-<pid>
	PkgRoot     string // CacheDir/pkg-<pid>
	ExtractRoot string // CacheDir/extract-<pid>

	Junk    []string // stage paths pruned after build
	LogSink string   // build output destination; "" streams to the terminal
}

var debugEnabled bool

// debugf prints debug messages when KISS_DEBUG=1.
func debugf(format string, args ...any) {
	if debugEnabled {
		fmt.Printf(format, args...)
	}
}

// loadConfigFile parses KEY=VALUE lines, ignoring comments and blanks.
func loadConfigFile(path string) map[string]string {
	values := make(map[string]string)
	file, err := os.Open(path)
	if err != nil {
		return values
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.Trim(strings.TrimSpace(parts[1]), `"'`)
		values[key] = val
	}
	return values
}

// mergeEnvOverrides layers KISS_* environment variables over file values.
func mergeEnvOverrides(values map[string]string) {
	for _, env := range os.Environ() {
		if strings.HasPrefix(env, "KISS_") || strings.HasPrefix(env, "XDG_CACHE_HOME=") {
			parts := strings.SplitN(env, "=", 2)
			if len(parts) == 2 {
				values[parts[0]] = parts[1]
			}
		}
	}
}

// LoadConfig reads ConfigFile, merges KISS_* overrides and applies defaults.
func LoadConfig() (*Config, error) {
	values := loadConfigFile(ConfigFile)
	mergeEnvOverrides(values)
	return NewConfig(values)
}

// NewConfig builds a Config from raw key/value settings. Split from
// LoadConfig so tests can construct configs without touching the process
// environment.
func NewConfig(values map[string]string) (*Config, error) {
	cfg := &Config{}

	cfg.Root = values["KISS_ROOT"]
	if cfg.Root == "" {
		cfg.Root = "/"
	}
	cfg.Installed = filepath.Join(cfg.Root, DBPath)

	if paths := values["KISS_PATH"]; paths != "" {
		for _, p := range strings.Split(paths, ":") {
			if p != "" {
				cfg.Path = append(cfg.Path, p)
			}
		}
	}

	cfg.Force = values["KISS_FORCE"] == "1"
	cfg.Debug = values["KISS_DEBUG"] == "1"
	debugEnabled = cfg.Debug

	cfg.Pid = values["KISS_PID"]
	if cfg.Pid == "" {
		cfg.Pid = strconv.Itoa(os.Getpid())
	}

	base := values["XDG_CACHE_HOME"]
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot determine cache directory: %w", err)
		}
		base = filepath.Join(home, ".cache")
	}
	cfg.CacheDir = filepath.Join(base, "kiss")
	cfg.SourcesDir = filepath.Join(cfg.CacheDir, "sources")
	cfg.BinDir = filepath.Join(cfg.CacheDir, "bin")
	cfg.CacheStore = filepath.Join(cfg.SourcesDir, "_cache")

	cfg.BuildRoot = filepath.Join(cfg.CacheDir, "build-"+cfg.Pid)
	cfg.PkgRoot = filepath.Join(cfg.CacheDir, "pkg-"+cfg.Pid)
	cfg.ExtractRoot = filepath.Join(cfg.CacheDir, "extract-"+cfg.Pid)

	if rm, ok := values["KISS_RM"]; ok && rm != "" {
		for _, p := range strings.Split(rm, ":") {
			if p != "" {
				cfg.Junk = append(cfg.Junk, strings.TrimPrefix(p, "/"))
			}
		}
	} else {
		cfg.Junk = append(cfg.Junk, defaultJunk...)
	}

	cfg.LogSink = values["KISS_LOG"]

	return cfg, nil
}

// MakeScratchDirs creates the per-invocation scratch tree plus the shared
// caches. Called once at startup.
func (c *Config) MakeScratchDirs() error {
	for _, dir := range []string{
		c.SourcesDir, c.BinDir, c.CacheStore,
		c.BuildRoot, c.PkgRoot, c.ExtractRoot,
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// CleanScratchDirs removes the per-invocation scratch tree. The shared
// source and binary caches survive. KISS_DEBUG=1 keeps everything for
// inspection.
func (c *Config) CleanScratchDirs() {
	if c.Debug {
		debugf("KISS_DEBUG set, keeping %s %s %s\n", c.BuildRoot, c.PkgRoot, c.ExtractRoot)
		return
	}
	for _, dir := range []string{c.BuildRoot, c.PkgRoot, c.ExtractRoot} {
		if err := os.RemoveAll(dir); err != nil {
			warnf("", "failed to clean %s: %v", dir, err)
		}
	}
}
