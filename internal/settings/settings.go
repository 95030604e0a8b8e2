// Package settings loads ck's layered JSONC configuration.
package settings

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/tailscale/hujson"

	"github.com/cachekit/ck/internal/topology"
)

// Settings holds all configuration options.
type Settings struct {
	// Generator
	Binary           string   `json:"binary,omitempty"`
	Prefix           string   `json:"prefix,omitempty"`
	Engine           string   `json:"engine,omitempty"`
	Instances        int      `json:"instances,omitempty"`
	ValueSize        int64    `json:"vsize,omitempty"`
	SlabMem          Size     `json:"slab_mem,omitempty"`
	PmemPaths        []string `json:"pmem_paths,omitempty"`
	Bind             string   `json:"bind,omitempty"`
	ThreadsPerSocket int      `json:"threads_per_socket,omitempty"`
	AdminPort        int      `json:"admin_port,omitempty"`
	ServerPort       int      `json:"server_port,omitempty"`

	// Test runner
	CasesDir        string `json:"cases_dir,omitempty"`
	Addr            string `json:"addr,omitempty"`
	PmemCleanupPath string `json:"pmem_cleanup_path,omitempty"`

	// Resolved (not serialized)
	EffectiveCwd string  `json:"-"`
	Sources      Sources `json:"-"`
}

// Sources tracks which config files were loaded.
type Sources struct {
	Global   string // Path to global config if loaded, empty otherwise
	Project  string // Path to .ck.json if loaded, empty otherwise
	Explicit string // Path to the -c file if given
}

// ConfigFileName is the project config file name.
const ConfigFileName = ".ck.json"

// Default returns the default settings. ThreadsPerSocket 0 means detect
// from the host.
func Default() Settings {
	topo := topology.Default()
	sizing := topology.DefaultSizing()

	return Settings{
		Prefix:          "test",
		Engine:          topology.Twemcache.String(),
		Instances:       topo.Instances,
		ValueSize:       sizing.ValueSize,
		SlabMem:         Size(sizing.SlabMem),
		Bind:            topology.BindAuto.String(),
		AdminPort:       topo.AdminPortBase,
		ServerPort:      topo.ServerPortBase,
		Addr:            fmt.Sprintf("127.0.0.1:%d", topo.ServerPortBase),
		PmemCleanupPath: "/dev/shm/pmem",
	}
}

// globalConfigPath returns $XDG_CONFIG_HOME/ck/config.json if set, otherwise
// ~/.config/ck/config.json, or "" when neither can be determined.
func globalConfigPath(env map[string]string) string {
	if xdg := env["XDG_CONFIG_HOME"]; xdg != "" {
		return filepath.Join(xdg, "ck", "config.json")
	}

	if home := env["HOME"]; home != "" {
		return filepath.Join(home, ".config", "ck", "config.json")
	}

	return ""
}

// LoadInput holds the inputs for [Load].
type LoadInput struct {
	WorkDirOverride string            // -C/--cwd flag value; if empty, os.Getwd() is used
	ConfigPath      string            // -c/--config flag value
	Env             map[string]string // environment variables
}

// Load loads settings with the following precedence (highest wins):
// 1. Defaults
// 2. Global user config (~/.config/ck/config.json or $XDG_CONFIG_HOME/ck/config.json)
// 3. Project config file (.ck.json in the work dir, if it exists)
// 4. Explicit config file via ConfigPath (must exist)
//
// Command flags are applied on top by the caller.
func Load(input LoadInput) (Settings, error) {
	workDir := input.WorkDirOverride
	if workDir == "" {
		var err error

		workDir, err = os.Getwd()
		if err != nil {
			return Settings{}, fmt.Errorf("cannot get working directory: %w", err)
		}
	} else if !filepath.IsAbs(workDir) {
		abs, err := filepath.Abs(workDir)
		if err != nil {
			return Settings{}, fmt.Errorf("resolve %s: %w", workDir, err)
		}

		workDir = abs
	}

	s := Default()
	s.EffectiveCwd = workDir

	if path := globalConfigPath(input.Env); path != "" {
		overlay, loaded, err := loadFile(path, false)
		if err != nil {
			return Settings{}, err
		}

		if loaded {
			s = merge(s, overlay)
			s.Sources.Global = path
		}
	}

	project := filepath.Join(workDir, ConfigFileName)

	overlay, loaded, err := loadFile(project, false)
	if err != nil {
		return Settings{}, err
	}

	if loaded {
		s = merge(s, overlay)
		s.Sources.Project = project
	}

	if input.ConfigPath != "" {
		path := s.Abs(input.ConfigPath)

		if _, statErr := os.Stat(path); statErr != nil {
			return Settings{}, fmt.Errorf("%w: %s", ErrConfigFileNotFound, input.ConfigPath)
		}

		overlay, _, err := loadFile(path, true)
		if err != nil {
			return Settings{}, err
		}

		s = merge(s, overlay)
		s.Sources.Explicit = path
	}

	if err := s.Validate(); err != nil {
		return Settings{}, err
	}

	return s, nil
}

// Abs resolves path against the effective working directory.
func (s Settings) Abs(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}

	return filepath.Join(s.EffectiveCwd, path)
}

// BinaryPath returns Binary resolved against the work dir when it is a
// relative path. A bare command name is returned as is.
func (s Settings) BinaryPath() string {
	if !strings.ContainsRune(s.Binary, filepath.Separator) {
		return s.Binary
	}

	return s.Abs(s.Binary)
}

// CasesPath returns the case directory: CasesDir, or a directory named
// after the engine.
func (s Settings) CasesPath() string {
	if s.CasesDir != "" {
		return s.Abs(s.CasesDir)
	}

	return s.Abs(s.Engine)
}

// Validate rejects negative numbers. Semantic checks (ports, binding,
// sizing) happen when the topology is built.
func (s Settings) Validate() error {
	for _, f := range []struct {
		name string
		v    int64
	}{
		{"instances", int64(s.Instances)},
		{"vsize", s.ValueSize},
		{"slab_mem", int64(s.SlabMem)},
		{"threads_per_socket", int64(s.ThreadsPerSocket)},
		{"admin_port", int64(s.AdminPort)},
		{"server_port", int64(s.ServerPort)},
	} {
		if f.v < 0 {
			return fmt.Errorf("%w: %w: %s=%d", ErrConfigInvalid, ErrNegativeValue, f.name, f.v)
		}
	}

	return nil
}

// loadFile loads a config file. A missing optional file returns loaded=false.
func loadFile(path string, mustExist bool) (Settings, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !mustExist {
			return Settings{}, false, nil
		}

		return Settings{}, false, fmt.Errorf("%w: %s", ErrConfigFileRead, path)
	}

	s, err := Parse(data)
	if err != nil {
		return Settings{}, false, fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, err)
	}

	return s, true, nil
}

// Parse decodes a JSONC settings document. Unknown keys are rejected.
func Parse(data []byte) (Settings, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Settings{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(standardized))
	dec.DisallowUnknownFields()

	var s Settings
	if err := dec.Decode(&s); err != nil {
		return Settings{}, fmt.Errorf("invalid JSON: %w", err)
	}

	return s, nil
}

func merge(base, overlay Settings) Settings {
	if overlay.Binary != "" {
		base.Binary = overlay.Binary
	}

	if overlay.Prefix != "" {
		base.Prefix = overlay.Prefix
	}

	if overlay.Engine != "" {
		base.Engine = overlay.Engine
	}

	if overlay.Instances != 0 {
		base.Instances = overlay.Instances
	}

	if overlay.ValueSize != 0 {
		base.ValueSize = overlay.ValueSize
	}

	if overlay.SlabMem != 0 {
		base.SlabMem = overlay.SlabMem
	}

	if overlay.PmemPaths != nil {
		base.PmemPaths = overlay.PmemPaths
	}

	if overlay.Bind != "" {
		base.Bind = overlay.Bind
	}

	if overlay.ThreadsPerSocket != 0 {
		base.ThreadsPerSocket = overlay.ThreadsPerSocket
	}

	if overlay.AdminPort != 0 {
		base.AdminPort = overlay.AdminPort
	}

	if overlay.ServerPort != 0 {
		base.ServerPort = overlay.ServerPort
	}

	if overlay.CasesDir != "" {
		base.CasesDir = overlay.CasesDir
	}

	if overlay.Addr != "" {
		base.Addr = overlay.Addr
	}

	if overlay.PmemCleanupPath != "" {
		base.PmemCleanupPath = overlay.PmemCleanupPath
	}

	return base
}

// --- Flags ---

// GenFlags registers the generator flags on fs, defaulting to the values
// already in s and writing parsed values back into s.
func (s *Settings) GenFlags(fs *pflag.FlagSet) {
	fs.StringVar(&s.Binary, "binary", s.Binary, "Path to the cache server binary")
	fs.StringVar(&s.Prefix, "prefix", s.Prefix, "Output directory")
	s.engineFlag(fs)
	fs.IntVar(&s.Instances, "instances", s.Instances, "Number of server instances")
	fs.Int64Var(&s.ValueSize, "vsize", s.ValueSize, "Value size in bytes")
	fs.Var(sizeFlag{&s.SlabMem}, "slab-mem", "Memory budget per instance (bytes or e.g. 4GiB)")
	fs.StringArrayVar(&s.PmemPaths, "pmem", s.PmemPaths, "Pmem datapool path (repeatable, taken verbatim)")
	fs.StringVar(&s.Bind, "bind", s.Bind, "Binding mode: auto, nodes, cores or none")
	fs.IntVar(&s.ThreadsPerSocket, "threads-per-socket", s.ThreadsPerSocket, "Hyperthread sibling offset for cores binding (0 = detect)")
	fs.IntVar(&s.AdminPort, "admin-port", s.AdminPort, "First admin port")
	fs.IntVar(&s.ServerPort, "server-port", s.ServerPort, "First server port")
}

// TestFlags registers the test runner flags.
func (s *Settings) TestFlags(fs *pflag.FlagSet) {
	s.engineFlag(fs)
	fs.StringVar(&s.CasesDir, "cases", s.CasesDir, "Case directory (default: named after the engine)")
	fs.StringVar(&s.Addr, "addr", s.Addr, "Server address host:port")
	fs.StringVar(&s.Binary, "binary", s.Binary, "Server binary; when set the runner starts its own server")
	fs.StringVar(&s.PmemCleanupPath, "pmem-path", s.PmemCleanupPath, "Datapool path removed after the run")
}

// PrefixFlag registers --prefix only.
func (s *Settings) PrefixFlag(fs *pflag.FlagSet) {
	fs.StringVar(&s.Prefix, "prefix", s.Prefix, "Output directory")
}

func (s *Settings) engineFlag(fs *pflag.FlagSet) {
	fs.StringVar(&s.Engine, "engine", s.Engine, "Cache engine: twemcache or slimcache")
}
