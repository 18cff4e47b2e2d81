// Package runtimecfg loads the YAML configuration that drives one
// Runtime: the subprocess to spawn, channel/queue capacities, restart
// policy, schema directory, and compatibility requirements. It mirrors
// the teacher's internal/config loading idiom (yaml-tagged structs, a
// New() default constructor, ~-expansion for filesystem paths) adapted
// to this runtime's own settings surface.
package runtimecfg

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"github.com/dkoosis/agentrt/internal/rticompat"
	"github.com/dkoosis/agentrt/internal/rtidispatch"
	"github.com/dkoosis/agentrt/internal/rticontract"
	"github.com/dkoosis/agentrt/internal/rtilog"
	"github.com/dkoosis/agentrt/internal/rtiotransport"
	"github.com/dkoosis/agentrt/internal/rtisupervisor"
)

var logger = rtilog.GetLogger("runtimecfg")

// Env var overrides, consulted after the YAML file is loaded so a
// deployment can override schema/CLI locations without editing the file.
const (
	EnvSchemaDir = "AGENTRT_SCHEMA_DIR"
	EnvCLIPath   = "AGENTRT_CLI_PATH"
)

// Subprocess names the agent CLI to spawn and its working directory.
type Subprocess struct {
	CLIPath string   `yaml:"cliPath"`
	Args    []string `yaml:"args"`
	Dir     string   `yaml:"dir"`
}

// Restart configures the supervisor's crash-restart policy.
type Restart struct {
	Mode          string `yaml:"mode"` // "never" or "onCrash"
	MaxRestarts   int    `yaml:"maxRestarts"`
	BaseBackoffMs int64  `yaml:"baseBackoffMs"`
	MaxBackoffMs  int64  `yaml:"maxBackoffMs"`
}

// Queues bounds the transport/dispatcher channel and queue capacities.
type Queues struct {
	OutboundCapacity      int `yaml:"outboundCapacity"`
	InboundCapacity       int `yaml:"inboundCapacity"`
	SinkCapacity          int `yaml:"sinkCapacity"`
	ServerRequestCapacity int `yaml:"serverRequestCapacity"`
	SubscriberCapacity    int `yaml:"subscriberCapacity"`
}

// ServerRequests configures unanswered server-request handling.
type ServerRequests struct {
	AutoDeclineUnknown bool  `yaml:"autoDeclineUnknown"`
	DefaultTimeoutMs   int64 `yaml:"defaultTimeoutMs"`
	TimeoutAction      string `yaml:"timeoutAction"` // "decline" or "error"
}

// Compatibility configures the minimum accepted subprocess version.
type Compatibility struct {
	Required   bool   `yaml:"required"`
	MinVersion string `yaml:"minVersion"` // "major.minor.patch"
}

// Shutdown bounds graceful-teardown timing.
type Shutdown struct {
	FlushTimeoutMs    int64 `yaml:"flushTimeoutMs"`
	TerminateGraceMs  int64 `yaml:"terminateGraceMs"`
}

// Settings is the top-level runtime configuration.
type Settings struct {
	Subprocess     Subprocess     `yaml:"subprocess"`
	SchemaDir      string         `yaml:"schemaDir"`
	Restart        Restart        `yaml:"restart"`
	Queues         Queues         `yaml:"queues"`
	ServerRequests ServerRequests `yaml:"serverRequests"`
	Compatibility  Compatibility  `yaml:"compatibility"`
	Shutdown       Shutdown       `yaml:"shutdown"`
	StrictContract bool           `yaml:"strictContract"`
}

// New returns Settings populated with sensible defaults, equivalent to
// running with no config file at all.
func New() *Settings {
	logger.Debug("building default runtime settings")
	return &Settings{
		Subprocess: Subprocess{CLIPath: "agent-cli"},
		Restart:    Restart{Mode: "onCrash", MaxRestarts: 5, BaseBackoffMs: 200, MaxBackoffMs: 30_000},
		Queues: Queues{
			OutboundCapacity: 1024, InboundCapacity: 1024,
			SinkCapacity: 0, ServerRequestCapacity: 64, SubscriberCapacity: 256,
		},
		ServerRequests: ServerRequests{AutoDeclineUnknown: true, DefaultTimeoutMs: 30_000, TimeoutAction: "decline"},
		Shutdown:       Shutdown{FlushTimeoutMs: 2_000, TerminateGraceMs: 5_000},
	}
}

// Load reads and parses a YAML file at path on top of New()'s defaults,
// then applies AGENTRT_SCHEMA_DIR/AGENTRT_CLI_PATH env var overrides. An
// empty path returns the defaults with only env overrides applied.
func Load(path string) (*Settings, error) {
	cfg := New()

	if path != "" {
		expanded, err := ExpandPath(path)
		if err != nil {
			return nil, errors.Wrapf(err, "runtimecfg: failed to expand config path %q", path)
		}
		data, err := os.ReadFile(expanded)
		if err != nil {
			return nil, errors.Wrapf(err, "runtimecfg: failed to read config file %q", expanded)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "runtimecfg: failed to parse config file %q", expanded)
		}
		logger.Info("loaded runtime configuration", "path", expanded)
	}

	if dir := os.Getenv(EnvSchemaDir); dir != "" {
		cfg.SchemaDir = dir
	}
	if cli := os.Getenv(EnvCLIPath); cli != "" {
		cfg.Subprocess.CLIPath = cli
	}

	return cfg, nil
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "runtimecfg: failed to get user home directory")
	}
	return filepath.Join(home, path[1:]), nil
}

// ProcessSpec materializes the rtiotransport.ProcessSpec this config describes.
func (s *Settings) ProcessSpec() rtiotransport.ProcessSpec {
	return rtiotransport.ProcessSpec{Program: s.Subprocess.CLIPath, Args: s.Subprocess.Args, Dir: s.Subprocess.Dir}
}

// TransportConfig materializes the rtiotransport.Config this config describes.
func (s *Settings) TransportConfig() rtiotransport.Config {
	return rtiotransport.Config{OutboundCapacity: s.Queues.OutboundCapacity, InboundCapacity: s.Queues.InboundCapacity}
}

// RestartPolicy materializes the rtisupervisor.RestartPolicy this config describes.
func (s *Settings) RestartPolicy() rtisupervisor.RestartPolicy {
	if s.Restart.Mode == "never" {
		return rtisupervisor.NeverRestart()
	}
	return rtisupervisor.OnCrash(s.Restart.MaxRestarts, s.Restart.BaseBackoffMs, s.Restart.MaxBackoffMs)
}

// DispatcherConfig materializes the rtidispatch.Config this config
// describes, with caps left at rtidispatch's own defaults.
func (s *Settings) DispatcherConfig() rtidispatch.Config {
	cfg := rtidispatch.DefaultConfig()
	cfg.SinkCapacity = s.Queues.SinkCapacity
	cfg.ServerRequestCapacity = s.Queues.ServerRequestCapacity
	cfg.SubscriberCapacity = s.Queues.SubscriberCapacity
	cfg.AutoDeclineUnknown = s.ServerRequests.AutoDeclineUnknown
	cfg.DefaultServerTimeoutMs = s.ServerRequests.DefaultTimeoutMs
	if s.ServerRequests.TimeoutAction == "error" {
		cfg.ServerTimeoutAction = rtidispatch.TimeoutError
	}
	return cfg
}

// ContractMode materializes the rticontract.Mode this config describes.
func (s *Settings) ContractMode() rticontract.Mode {
	if s.StrictContract {
		return rticontract.ModeStrict
	}
	return rticontract.ModeKnownMethods
}

// CompatibilityGuard materializes the rticompat.Guard this config
// describes. An empty MinVersion disables the version check while still
// honoring Required for parse failures.
func (s *Settings) CompatibilityGuard() (rticompat.Guard, error) {
	if s.Compatibility.MinVersion == "" {
		return rticompat.Guard{Required: s.Compatibility.Required}, nil
	}
	parts := strings.SplitN(s.Compatibility.MinVersion, ".", 3)
	if len(parts) != 3 {
		return rticompat.Guard{}, errors.Newf("runtimecfg: compatibility.minVersion %q is not major.minor.patch", s.Compatibility.MinVersion)
	}
	nums := make([]int, 3)
	for i, p := range parts {
		n, err := parseNonNegativeInt(p)
		if err != nil {
			return rticompat.Guard{}, errors.Wrapf(err, "runtimecfg: compatibility.minVersion %q", s.Compatibility.MinVersion)
		}
		nums[i] = n
	}
	return rticompat.Guard{
		MinVersion: rticompat.Version{Major: nums[0], Minor: nums[1], Patch: nums[2]},
		Required:   s.Compatibility.Required,
	}, nil
}

func parseNonNegativeInt(s string) (int, error) {
	n := 0
	if s == "" {
		return 0, errors.Newf("empty version component")
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, errors.Newf("version component %q is not numeric", s)
		}
		n = n*10 + int(r-'0')
	}
	return n, nil
}

// FlushTimeout and TerminateGrace return the shutdown timings as durations.
func (s *Settings) FlushTimeout() time.Duration {
	return time.Duration(s.Shutdown.FlushTimeoutMs) * time.Millisecond
}

func (s *Settings) TerminateGrace() time.Duration {
	return time.Duration(s.Shutdown.TerminateGraceMs) * time.Millisecond
}
