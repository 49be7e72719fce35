package config

import (
	"os"
	"path/filepath"
	goruntime "runtime"
)

// Resolve expands environment references and turns every path absolute:
// the launcher root against baseDir, each workdir against the root and each
// executable against its workdir. On Windows ".exe" is appended to
// executables that have no extension.
func (m *Manifest) Resolve(baseDir string) {
	root := resolvePath(baseDir, os.ExpandEnv(m.Launcher.Root))
	m.Launcher.Root = root

	for _, child := range m.Children {
		if child == nil {
			continue
		}
		child.Workdir = resolvePath(root, os.ExpandEnv(child.Workdir))
		exe := resolvePath(child.Workdir, os.ExpandEnv(child.Executable))
		child.Executable = executableSuffix(exe, goruntime.GOOS)

		for i, arg := range child.Args {
			child.Args[i] = os.ExpandEnv(arg)
		}
		if len(child.Env) > 0 {
			expanded := make(map[string]string, len(child.Env))
			for k, v := range child.Env {
				expanded[k] = os.ExpandEnv(v)
			}
			child.Env = expanded
		}
	}
}

func resolvePath(base, path string) string {
	if path == "" {
		return filepath.Clean(base)
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Clean(filepath.Join(base, path))
}

func executableSuffix(path, goos string) string {
	if goos != "windows" {
		return path
	}
	if filepath.Ext(path) != "" {
		return path
	}
	return path + ".exe"
}
