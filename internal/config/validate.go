package config

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"
)

var childNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// Validate enforces the invariants the JSON schema cannot express.
func (m *Manifest) Validate() error {
	if strings.TrimSpace(m.Version) == "" {
		return fmt.Errorf("%s: is required", fieldPath("version"))
	}
	if len(m.Children) == 0 {
		return fmt.Errorf("%s: must define at least one child", fieldPath("children"))
	}
	if m.Launcher.GracePeriod.Duration <= 0 {
		return fmt.Errorf("%s: must be positive", fieldPath("launcher", "gracePeriod"))
	}
	if m.Launcher.PollInterval.Duration <= 0 {
		return fmt.Errorf("%s: must be positive", fieldPath("launcher", "pollInterval"))
	}
	if m.Launcher.ReadyTimeout.Duration < 0 {
		return fmt.Errorf("%s: must be non-negative", fieldPath("launcher", "readyTimeout"))
	}

	seen := make(map[string]int, len(m.Children))
	for i, child := range m.Children {
		if child == nil {
			return fmt.Errorf("%s: child entry is null", childField(i))
		}
		if child.Name == "" {
			return fmt.Errorf("%s: is required", childField(i, "name"))
		}
		if !childNamePattern.MatchString(child.Name) {
			return fmt.Errorf("%s: invalid name %q", childField(i, "name"), child.Name)
		}
		if prev, dup := seen[child.Name]; dup {
			return fmt.Errorf("%s: duplicate name %q (also %s)", childField(i, "name"), child.Name, childField(prev))
		}
		if strings.TrimSpace(child.Executable) == "" {
			return fmt.Errorf("%s: is required", childField(i, "executable"))
		}
		if child.DependsOn != "" {
			if child.DependsOn == child.Name {
				return fmt.Errorf("%s: child cannot depend on itself", childField(i, "dependsOn"))
			}
			// Children start in listed order, so a dependency must come first.
			if _, ok := seen[child.DependsOn]; !ok {
				return fmt.Errorf("%s: references unknown or later child %q", childField(i, "dependsOn"), child.DependsOn)
			}
		}
		if child.ReadyTimeout.Duration < 0 {
			return fmt.Errorf("%s: must be non-negative", childField(i, "readyTimeout"))
		}
		for key := range child.Env {
			if strings.TrimSpace(key) == "" || strings.Contains(key, "=") {
				return fmt.Errorf("%s: invalid variable name %q", childField(i, "env"), key)
			}
		}
		if child.Health != nil {
			if err := child.Health.validate(childField(i, "health")); err != nil {
				return err
			}
		}
		seen[child.Name] = i
	}
	return nil
}

func (p *ProbeSpec) validate(path string) error {
	if p.HTTP == nil && p.TCP == nil && p.Command == nil {
		return fmt.Errorf("%s: must define an http, tcp or cmd probe", path)
	}
	if p.Interval.Duration < 0 {
		return fmt.Errorf("%s.interval: must be non-negative", path)
	}
	if p.Timeout.Duration < 0 {
		return fmt.Errorf("%s.timeout: must be non-negative", path)
	}
	if p.FailureThreshold < 0 {
		return fmt.Errorf("%s.failureThreshold: must be non-negative", path)
	}
	if p.SuccessThreshold < 0 {
		return fmt.Errorf("%s.successThreshold: must be non-negative", path)
	}
	if p.HTTP != nil {
		u, err := url.Parse(p.HTTP.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s.http.url: invalid URL %q", path, p.HTTP.URL)
		}
		for _, code := range p.HTTP.ExpectStatus {
			if code < 100 || code > 599 {
				return fmt.Errorf("%s.http.expectStatus: invalid status %d", path, code)
			}
		}
	}
	if p.TCP != nil {
		if _, _, err := net.SplitHostPort(p.TCP.Address); err != nil {
			return fmt.Errorf("%s.tcp.address: %w", path, err)
		}
	}
	if p.Command != nil && len(p.Command.Command) == 0 {
		return fmt.Errorf("%s.cmd.command: is required", path)
	}
	return nil
}
