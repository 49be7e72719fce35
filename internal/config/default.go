package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	defaultServerName = "server"
	defaultClientName = "client"
	defaultServerPort = "5001"
)

// DefaultRoot returns the directory containing the running executable with
// symlinks resolved. The built-in manifest lays its children out below it.
func DefaultRoot() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("locate launcher executable: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Dir(exe), nil
}

// Default returns the built-in manifest: the inference server and the game
// client installed under root/_internal. The server is required and hidden;
// the client is optional and waits for the server's port to accept
// connections.
func Default(root string) *Manifest {
	doc := &Manifest{
		Version: "1",
		Launcher: LauncherSpec{
			Name: DefaultLauncherName,
			Root: root,
		},
		Children: []*ChildSpec{
			{
				Name:       defaultServerName,
				Executable: "llama-server",
				Workdir:    filepath.Join("_internal", "mutherbrain"),
				Args: []string{
					"-m", "Qwen3-1.7B-Q4_K_M.gguf",
					"--port", defaultServerPort,
					"--n-gpu-layers", "29",
				},
				Required: true,
				Options: OptionsSpec{
					HideWindow: true,
				},
				Health: &ProbeSpec{
					Interval: NewDuration(500 * time.Millisecond),
					Timeout:  NewDuration(time.Second),
					TCP:      &TCPProbeSpec{Address: "127.0.0.1:" + defaultServerPort},
				},
			},
			{
				Name:       defaultClientName,
				Executable: "Muther2026Screen.exe",
				Workdir:    filepath.Join("_internal", "muthergame"),
				DependsOn:  defaultServerName,
			},
		},
	}
	// The built-in manifest is known to be valid.
	_ = doc.ApplyDefaults()
	doc.Resolve(root)
	return doc
}
