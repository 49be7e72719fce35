package config

import (
	"github.com/Paintersrp/muther/internal/engine"
	"github.com/Paintersrp/muther/internal/probe"
	"github.com/Paintersrp/muther/internal/runtime"
)

// ChildSpecs converts the manifest children into supervisor launch requests
// in manifest order.
func (m *Manifest) ChildSpecs() []engine.ChildSpec {
	specs := make([]engine.ChildSpec, 0, len(m.Children))
	for _, child := range m.Children {
		if child == nil {
			continue
		}
		var env map[string]string
		if len(child.Env) > 0 {
			env = make(map[string]string, len(child.Env))
			for k, v := range child.Env {
				env[k] = v
			}
		}
		readyTimeout := child.ReadyTimeout.Duration
		if readyTimeout == 0 {
			readyTimeout = m.Launcher.ReadyTimeout.Duration
		}
		specs = append(specs, engine.ChildSpec{
			LaunchSpec: runtime.LaunchSpec{
				Name:       child.Name,
				Executable: child.Executable,
				Workdir:    child.Workdir,
				Args:       append([]string(nil), child.Args...),
				Env:        env,
				Options: runtime.Options{
					HideWindow:      child.Options.HideWindow,
					NewProcessGroup: child.Options.NewProcessGroup,
				},
			},
			Required:     child.Required,
			DependsOn:    child.DependsOn,
			Health:       child.Health.toProbe(),
			ReadyTimeout: readyTimeout,
		})
	}
	return specs
}

func (p *ProbeSpec) toProbe() *probe.Spec {
	if p == nil {
		return nil
	}
	spec := &probe.Spec{
		Interval:         p.Interval.Duration,
		Timeout:          p.Timeout.Duration,
		FailureThreshold: p.FailureThreshold,
		SuccessThreshold: p.SuccessThreshold,
	}
	if p.HTTP != nil {
		spec.HTTP = &probe.HTTPSpec{URL: p.HTTP.URL, ExpectStatus: append([]int(nil), p.HTTP.ExpectStatus...)}
	}
	if p.TCP != nil {
		spec.TCP = &probe.TCPSpec{Address: p.TCP.Address}
	}
	if p.Command != nil {
		spec.Command = &probe.CommandSpec{Command: append([]string(nil), p.Command.Command...), Timeout: p.Command.Timeout.Duration}
	}
	return spec
}
