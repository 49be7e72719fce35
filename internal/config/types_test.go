package config

import (
	"path/filepath"
	"testing"
	"time"
)

func TestDurationUnmarshalText(t *testing.T) {
	var d Duration
	if d.IsSet() {
		t.Fatalf("zero duration must not be set")
	}
	if err := d.UnmarshalText([]byte("1m30s")); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if d.Duration != 90*time.Second || !d.IsSet() {
		t.Fatalf("unexpected duration %+v", d)
	}

	var empty Duration
	if err := empty.UnmarshalText(nil); err != nil {
		t.Fatalf("UnmarshalText(empty): %v", err)
	}
	if !empty.IsSet() || empty.Duration != 0 {
		t.Fatalf("explicit empty duration should be set and zero: %+v", empty)
	}

	if err := d.UnmarshalText([]byte("later")); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestDefaultManifest(t *testing.T) {
	root := t.TempDir()
	doc := Default(root)

	if err := doc.Validate(); err != nil {
		t.Fatalf("built-in manifest invalid: %v", err)
	}
	if got, want := doc.Launcher.GracePeriod.Duration, DefaultGracePeriod; got != want {
		t.Fatalf("grace period mismatch: got %s want %s", got, want)
	}

	server := doc.Child("server")
	if server == nil {
		t.Fatalf("server missing")
	}
	if !server.Required || !server.Options.HideWindow {
		t.Fatalf("server must be required and hidden: %+v", server)
	}
	if got, want := server.Workdir, filepath.Join(root, "_internal", "mutherbrain"); got != want {
		t.Fatalf("server workdir mismatch: got %q want %q", got, want)
	}
	if got, want := server.Executable, filepath.Join(server.Workdir, exeName("llama-server")); got != want {
		t.Fatalf("server executable mismatch: got %q want %q", got, want)
	}
	wantArgs := []string{"-m", "Qwen3-1.7B-Q4_K_M.gguf", "--port", "5001", "--n-gpu-layers", "29"}
	if len(server.Args) != len(wantArgs) {
		t.Fatalf("server args mismatch: %v", server.Args)
	}
	for i := range wantArgs {
		if server.Args[i] != wantArgs[i] {
			t.Fatalf("server args mismatch: %v", server.Args)
		}
	}
	if server.Health == nil || server.Health.TCP == nil || server.Health.TCP.Address != "127.0.0.1:5001" {
		t.Fatalf("server health probe mismatch: %+v", server.Health)
	}

	client := doc.Child("client")
	if client == nil {
		t.Fatalf("client missing")
	}
	if client.Required || client.DependsOn != "server" {
		t.Fatalf("client must be optional and depend on server: %+v", client)
	}
	if got, want := client.Executable, filepath.Join(root, "_internal", "muthergame", "Muther2026Screen.exe"); got != want {
		t.Fatalf("client executable mismatch: got %q want %q", got, want)
	}
}

func TestChildSpecsConversion(t *testing.T) {
	doc := Default(t.TempDir())
	doc.Launcher.ReadyTimeout = NewDuration(15 * time.Second)
	doc.Children[1].ReadyTimeout = NewDuration(3 * time.Second)
	doc.Children[0].Env = map[string]string{"CUDA_VISIBLE_DEVICES": "0"}

	specs := doc.ChildSpecs()
	if len(specs) != 2 {
		t.Fatalf("expected two specs, got %d", len(specs))
	}
	server, client := specs[0], specs[1]
	if server.Name != "server" || client.Name != "client" {
		t.Fatalf("order not preserved: %s, %s", server.Name, client.Name)
	}
	if !server.Options.HideWindow || !server.Required {
		t.Fatalf("server options lost: %+v", server)
	}
	if server.Health == nil || server.Health.TCP == nil {
		t.Fatalf("server probe lost")
	}
	if got, want := server.Health.Interval, 500*time.Millisecond; got != want {
		t.Fatalf("probe interval mismatch: got %s want %s", got, want)
	}
	if server.ReadyTimeout != 15*time.Second {
		t.Fatalf("launcher ready timeout not inherited: %s", server.ReadyTimeout)
	}
	if client.ReadyTimeout != 3*time.Second {
		t.Fatalf("child ready timeout not kept: %s", client.ReadyTimeout)
	}
	if client.DependsOn != "server" || client.Health != nil {
		t.Fatalf("client mismatch: %+v", client)
	}

	doc.Children[0].Env["CUDA_VISIBLE_DEVICES"] = "1"
	if server.Env["CUDA_VISIBLE_DEVICES"] != "0" {
		t.Fatalf("env must be copied")
	}
}
