package config

import (
	"fmt"
	"strings"
	"time"
)

// Duration wraps time.Duration for YAML and TOML unmarshalling.
type Duration struct {
	time.Duration
	explicit bool
}

// UnmarshalText parses a textual duration, accepting empty strings.
func (d *Duration) UnmarshalText(text []byte) error {
	d.explicit = true
	if len(text) == 0 {
		d.Duration = 0
		return nil
	}
	dur, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = dur
	return nil
}

// MarshalText renders the duration using time.Duration formatting.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// IsSet reports whether the duration was explicitly provided or non-zero.
func (d Duration) IsSet() bool {
	return d.explicit || d.Duration != 0
}

// NewDuration returns an explicitly set Duration.
func NewDuration(d time.Duration) Duration {
	return Duration{Duration: d, explicit: true}
}

// Manifest mirrors the launch manifest document structure.
type Manifest struct {
	Version  string       `yaml:"version" toml:"version"`
	Launcher LauncherSpec `yaml:"launcher" toml:"launcher"`
	Children []*ChildSpec `yaml:"children" toml:"children"`

	// Path is the absolute path the manifest was loaded from, empty for the
	// built-in manifest.
	Path string `yaml:"-" toml:"-"`
}

// LauncherSpec holds supervisor-wide settings.
type LauncherSpec struct {
	Name         string   `yaml:"name" toml:"name"`
	Root         string   `yaml:"root" toml:"root"`
	GracePeriod  Duration `yaml:"gracePeriod" toml:"gracePeriod"`
	PollInterval Duration `yaml:"pollInterval" toml:"pollInterval"`
	ReadyTimeout Duration `yaml:"readyTimeout" toml:"readyTimeout"`
}

// ChildSpec describes one supervised program.
type ChildSpec struct {
	Name         string            `yaml:"name" toml:"name"`
	Executable   string            `yaml:"executable" toml:"executable"`
	Workdir      string            `yaml:"workdir,omitempty" toml:"workdir,omitempty"`
	Args         []string          `yaml:"args,omitempty" toml:"args,omitempty"`
	Env          map[string]string `yaml:"env,omitempty" toml:"env,omitempty"`
	Required     bool              `yaml:"required" toml:"required"`
	DependsOn    string            `yaml:"dependsOn,omitempty" toml:"dependsOn,omitempty"`
	Options      OptionsSpec       `yaml:"options,omitempty" toml:"options,omitempty"`
	Health       *ProbeSpec        `yaml:"health,omitempty" toml:"health,omitempty"`
	ReadyTimeout Duration          `yaml:"readyTimeout,omitempty" toml:"readyTimeout,omitempty"`
}

// OptionsSpec carries process creation options. HideWindow only has an
// effect on Windows; NewProcessGroup maps to a new process group on Windows
// and to Setpgid elsewhere.
type OptionsSpec struct {
	HideWindow      bool `yaml:"hideWindow,omitempty" toml:"hideWindow,omitempty"`
	NewProcessGroup bool `yaml:"newProcessGroup,omitempty" toml:"newProcessGroup,omitempty"`
}

// ProbeSpec configures the readiness probe of a child.
type ProbeSpec struct {
	Interval         Duration       `yaml:"interval,omitempty" toml:"interval,omitempty"`
	Timeout          Duration       `yaml:"timeout,omitempty" toml:"timeout,omitempty"`
	FailureThreshold int            `yaml:"failureThreshold,omitempty" toml:"failureThreshold,omitempty"`
	SuccessThreshold int            `yaml:"successThreshold,omitempty" toml:"successThreshold,omitempty"`
	HTTP             *HTTPProbeSpec `yaml:"http,omitempty" toml:"http,omitempty"`
	TCP              *TCPProbeSpec  `yaml:"tcp,omitempty" toml:"tcp,omitempty"`
	Command          *CommandProbe  `yaml:"cmd,omitempty" toml:"cmd,omitempty"`
}

// HTTPProbeSpec defines an HTTP probe.
type HTTPProbeSpec struct {
	URL          string `yaml:"url" toml:"url"`
	ExpectStatus []int  `yaml:"expectStatus,omitempty" toml:"expectStatus,omitempty"`
}

// TCPProbeSpec defines a TCP probe.
type TCPProbeSpec struct {
	Address string `yaml:"address" toml:"address"`
}

// CommandProbe defines a command probe.
type CommandProbe struct {
	Command []string `yaml:"command" toml:"command"`
	Timeout Duration `yaml:"timeout,omitempty" toml:"timeout,omitempty"`
}

const (
	DefaultLauncherName = "muther"
	DefaultGracePeriod  = 5 * time.Second
	DefaultPollInterval = 2 * time.Second
	DefaultReadyTimeout = 60 * time.Second
)

// ApplyDefaults fills in launcher-wide defaults.
func (m *Manifest) ApplyDefaults() error {
	m.Launcher.Name = strings.TrimSpace(m.Launcher.Name)
	if m.Launcher.Name == "" {
		m.Launcher.Name = DefaultLauncherName
	}
	if !m.Launcher.GracePeriod.IsSet() {
		m.Launcher.GracePeriod = NewDuration(DefaultGracePeriod)
	}
	if !m.Launcher.PollInterval.IsSet() {
		m.Launcher.PollInterval = NewDuration(DefaultPollInterval)
	}
	if !m.Launcher.ReadyTimeout.IsSet() {
		m.Launcher.ReadyTimeout = NewDuration(DefaultReadyTimeout)
	}
	for i, child := range m.Children {
		if child == nil {
			return fmt.Errorf("%s: child entry is null", childField(i))
		}
		child.Name = strings.TrimSpace(child.Name)
		child.DependsOn = strings.TrimSpace(child.DependsOn)
	}
	return nil
}

// Child returns the named child or nil.
func (m *Manifest) Child(name string) *ChildSpec {
	for _, child := range m.Children {
		if child != nil && child.Name == name {
			return child
		}
	}
	return nil
}

func fieldPath(parts ...string) string {
	return strings.Join(parts, ".")
}

func childField(idx int, parts ...string) string {
	base := fmt.Sprintf("children[%d]", idx)
	if len(parts) == 0 {
		return base
	}
	return base + "." + strings.Join(parts, ".")
}
