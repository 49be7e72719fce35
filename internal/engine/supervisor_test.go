package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http/httptest"
	"os"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Paintersrp/muther/internal/metrics"
	"github.com/Paintersrp/muther/internal/probe"
	"github.com/Paintersrp/muther/internal/runtime"
	"github.com/Paintersrp/muther/internal/runtime/process"
)

type fakeHandle struct {
	name string
	pid  int

	// exitOnStop is how long after a graceful stop request the child exits.
	// A negative value means the request is ignored.
	exitOnStop time.Duration
	stopErr    error

	once   sync.Once
	exited chan struct{}
	mu     sync.Mutex
	status runtime.ExitStatus

	stopCalls atomic.Int32
	killCalls atomic.Int32
}

func newFakeHandle(name string, pid int, exitOnStop time.Duration) *fakeHandle {
	return &fakeHandle{
		name:       name,
		pid:        pid,
		exitOnStop: exitOnStop,
		exited:     make(chan struct{}),
		status:     runtime.ExitStatus{State: runtime.StateRunning},
	}
}

func (f *fakeHandle) Name() string { return f.name }
func (f *fakeHandle) PID() int     { return f.pid }

func (f *fakeHandle) IsAlive() bool {
	select {
	case <-f.exited:
		return false
	default:
		return true
	}
}

func (f *fakeHandle) exit(status runtime.ExitStatus) {
	f.once.Do(func() {
		f.mu.Lock()
		f.status = status
		f.mu.Unlock()
		close(f.exited)
	})
}

func (f *fakeHandle) RequestGracefulStop() error {
	f.stopCalls.Add(1)
	if f.stopErr != nil {
		return f.stopErr
	}
	if f.exitOnStop < 0 {
		return nil
	}
	go func() {
		time.Sleep(f.exitOnStop)
		f.exit(runtime.ExitStatus{State: runtime.StateExitedNormally})
	}()
	return nil
}

func (f *fakeHandle) WaitForExit(timeout time.Duration) (runtime.ExitStatus, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-f.exited:
		return f.Status(), true
	case <-timer.C:
		return f.Status(), false
	}
}

func (f *fakeHandle) ForceKill() error {
	f.killCalls.Add(1)
	f.exit(runtime.ExitStatus{State: runtime.StateKilled, Code: -1})
	return nil
}

func (f *fakeHandle) Status() runtime.ExitStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

type fakeSpawner struct {
	mu      sync.Mutex
	handles map[string]*fakeHandle
	errs    map[string]error
	spawned []string
}

func newFakeSpawner(handles ...*fakeHandle) *fakeSpawner {
	s := &fakeSpawner{handles: make(map[string]*fakeHandle), errs: make(map[string]error)}
	for _, h := range handles {
		s.handles[h.name] = h
	}
	return s
}

func (s *fakeSpawner) Spawn(_ context.Context, spec runtime.LaunchSpec) (runtime.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.errs[spec.Name]; err != nil {
		return nil, err
	}
	h, ok := s.handles[spec.Name]
	if !ok {
		return nil, errors.New("unexpected child " + spec.Name)
	}
	s.spawned = append(s.spawned, spec.Name)
	return h, nil
}

func (s *fakeSpawner) Spawned() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.spawned...)
}

func writeExecutable(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatalf("write executable: %v", err)
	}
	return path
}

func childSpec(t *testing.T, name string, required bool) ChildSpec {
	return ChildSpec{
		LaunchSpec: runtime.LaunchSpec{Name: name, Executable: writeExecutable(t, name)},
		Required:   required,
	}
}

func countEvents(events []Event, child string, typ EventType) int {
	n := 0
	for _, evt := range events {
		if evt.Child == child && evt.Type == typ {
			n++
		}
	}
	return n
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestShutdownRunsOnceUnderConcurrentTriggers(t *testing.T) {
	server := newFakeHandle("server", 10, 10*time.Millisecond)
	client := newFakeHandle("client", 11, 10*time.Millisecond)
	rec := &Recorder{}
	sup := New(newFakeSpawner(server, client), WithReporter(rec), WithGracePeriod(time.Second))

	if err := sup.Start(context.Background(), []ChildSpec{childSpec(t, "server", true), childSpec(t, "client", false)}); err != nil {
		t.Fatalf("start: %v", err)
	}

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if sup.Shutdown("signal: interrupt") {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	<-sup.Done()

	if got := wins.Load(); got != 1 {
		t.Fatalf("expected exactly one shutdown run, got %d", got)
	}
	for _, h := range []*fakeHandle{server, client} {
		if got := h.stopCalls.Load(); got != 1 {
			t.Fatalf("%s: expected one graceful stop request, got %d", h.name, got)
		}
		if got := h.killCalls.Load(); got != 0 {
			t.Fatalf("%s: expected no force kill, got %d", h.name, got)
		}
	}

	events := rec.Events()
	if got := countEvents(events, "", EventTypeShutdownComplete); got != 1 {
		t.Fatalf("expected one shutdown complete event, got %d", got)
	}
	if last := events[len(events)-1]; last.Type != EventTypeShutdownComplete {
		t.Fatalf("expected shutdown complete to be last, got %s", last.Type)
	}
	if sup.Phase() != PhaseTerminated {
		t.Fatalf("expected terminated phase, got %s", sup.Phase())
	}
	if sup.ShutdownReason() != "signal: interrupt" {
		t.Fatalf("unexpected shutdown reason %q", sup.ShutdownReason())
	}

	if sup.Shutdown(ReasonExit) {
		t.Fatalf("expected later shutdown call to be a no-op")
	}
}

func TestShutdownIsBoundedByGracePeriod(t *testing.T) {
	const grace = 200 * time.Millisecond
	handles := []*fakeHandle{
		newFakeHandle("a", 1, -1),
		newFakeHandle("b", 2, -1),
		newFakeHandle("c", 3, -1),
	}
	rec := &Recorder{}
	sup := New(newFakeSpawner(handles...), WithReporter(rec), WithGracePeriod(grace))

	var specs []ChildSpec
	for _, h := range handles {
		specs = append(specs, childSpec(t, h.name, true))
	}
	if err := sup.Start(context.Background(), specs); err != nil {
		t.Fatalf("start: %v", err)
	}

	started := time.Now()
	sup.Shutdown(ReasonExit)
	elapsed := time.Since(started)

	if elapsed < grace {
		t.Fatalf("shutdown returned before the grace period: %s", elapsed)
	}
	if elapsed > time.Duration(len(handles))*grace {
		t.Fatalf("shutdown took %s, want at most %s", elapsed, time.Duration(len(handles))*grace)
	}
	for _, h := range handles {
		if got := h.killCalls.Load(); got != 1 {
			t.Fatalf("%s: expected one force kill, got %d", h.name, got)
		}
		if h.IsAlive() {
			t.Fatalf("%s: still alive after shutdown", h.name)
		}
		if got := countEvents(rec.Events(), h.name, EventTypeKilled); got != 1 {
			t.Fatalf("%s: expected one killed event, got %d", h.name, got)
		}
	}
}

func TestShutdownForceKillsOnlyTheStubbornChild(t *testing.T) {
	const grace = 300 * time.Millisecond
	a := newFakeHandle("a", 1, 50*time.Millisecond)
	b := newFakeHandle("b", 2, -1)
	rec := &Recorder{}
	sup := New(newFakeSpawner(a, b), WithReporter(rec), WithGracePeriod(grace))

	if err := sup.Start(context.Background(), []ChildSpec{childSpec(t, "a", true), childSpec(t, "b", true)}); err != nil {
		t.Fatalf("start: %v", err)
	}

	started := time.Now()
	sup.Shutdown("signal: interrupt")
	elapsed := time.Since(started)

	if a.killCalls.Load() != 0 {
		t.Fatalf("expected a to exit gracefully")
	}
	if b.killCalls.Load() != 1 {
		t.Fatalf("expected b to be force-killed once")
	}
	if elapsed < grace || elapsed > grace+250*time.Millisecond {
		t.Fatalf("shutdown took %s, want about %s", elapsed, grace)
	}

	events := rec.Events()
	if got := countEvents(events, "a", EventTypeExited); got != 1 {
		t.Fatalf("expected one exit event for a, got %d", got)
	}
	if got := countEvents(events, "b", EventTypeExited); got != 0 {
		t.Fatalf("expected no exit event for killed b, got %d", got)
	}
	if got := countEvents(events, "b", EventTypeKilled); got != 1 {
		t.Fatalf("expected one killed event for b, got %d", got)
	}
	if last := events[len(events)-1]; last.Type != EventTypeShutdownComplete {
		t.Fatalf("expected shutdown complete last, got %s", last.Type)
	}
}

func TestShutdownForceKillsWhenGracefulStopFails(t *testing.T) {
	h := newFakeHandle("server", 5, -1)
	h.stopErr = errors.New("access denied")
	rec := &Recorder{}
	sup := New(newFakeSpawner(h), WithReporter(rec), WithGracePeriod(5*time.Second))

	if err := sup.Start(context.Background(), []ChildSpec{childSpec(t, "server", true)}); err != nil {
		t.Fatalf("start: %v", err)
	}

	started := time.Now()
	sup.Shutdown(ReasonExit)
	if elapsed := time.Since(started); elapsed > time.Second {
		t.Fatalf("expected immediate force kill, shutdown took %s", elapsed)
	}
	if h.killCalls.Load() != 1 {
		t.Fatalf("expected a force kill after failed graceful stop")
	}

	var sawErr bool
	for _, evt := range rec.Events() {
		if evt.Type == EventTypeError && evt.Reason == ReasonStopFailed {
			sawErr = true
		}
	}
	if !sawErr {
		t.Fatalf("expected stop failure to be reported")
	}
}

func TestShutdownSkipsChildrenThatAlreadyExited(t *testing.T) {
	a := newFakeHandle("a", 1, 0)
	rec := &Recorder{}
	sup := New(newFakeSpawner(a), WithReporter(rec))

	if err := sup.Start(context.Background(), []ChildSpec{childSpec(t, "a", true)}); err != nil {
		t.Fatalf("start: %v", err)
	}
	a.exit(runtime.ExitStatus{State: runtime.StateExitedAbnormally, Code: 2})

	sup.Shutdown(ReasonExit)
	if a.stopCalls.Load() != 0 || a.killCalls.Load() != 0 {
		t.Fatalf("expected no termination calls on an exited child")
	}
	events := rec.Events()
	if got := countEvents(events, "a", EventTypeExited); got != 1 {
		t.Fatalf("expected exit to be reported once, got %d", got)
	}
}

func TestMonitorReportsEachExitOnce(t *testing.T) {
	server := newFakeHandle("server", 1, 0)
	client := newFakeHandle("client", 2, 0)
	rec := &Recorder{}
	sup := New(newFakeSpawner(server, client), WithReporter(rec), WithPollInterval(10*time.Millisecond))

	if err := sup.Start(context.Background(), []ChildSpec{childSpec(t, "server", true), childSpec(t, "client", false)}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if sup.Phase() != PhaseRunning {
		t.Fatalf("expected running phase, got %s", sup.Phase())
	}

	monitorErr := make(chan error, 1)
	go func() { monitorErr <- sup.Monitor(context.Background()) }()

	client.exit(runtime.ExitStatus{State: runtime.StateExitedAbnormally, Code: 1})
	waitFor(t, time.Second, func() bool {
		return countEvents(rec.Events(), "client", EventTypeExited) > 0
	})
	time.Sleep(50 * time.Millisecond)

	events := rec.Events()
	if got := countEvents(events, "client", EventTypeExited); got != 1 {
		t.Fatalf("expected one exit event, got %d", got)
	}
	for _, evt := range events {
		if evt.Child == "client" && evt.Type == EventTypeExited && evt.Code != 1 {
			t.Fatalf("expected exit code 1, got %d", evt.Code)
		}
	}
	if server.stopCalls.Load() != 0 {
		t.Fatalf("a child exit must not stop its sibling")
	}
	if sup.Phase() != PhaseRunning {
		t.Fatalf("a child exit must not start shutdown, phase %s", sup.Phase())
	}

	sup.Shutdown(ReasonExit)
	select {
	case err := <-monitorErr:
		if err != nil {
			t.Fatalf("monitor: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("monitor did not return after shutdown")
	}
	if got := countEvents(rec.Events(), "client", EventTypeExited); got != 1 {
		t.Fatalf("expected shutdown not to report client exit again, got %d", got)
	}
}

func TestMonitorStopsOnContextCancel(t *testing.T) {
	sup := New(newFakeSpawner(), WithPollInterval(10*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sup.Monitor(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
}

func TestStartRejectsMissingRequiredExecutable(t *testing.T) {
	server := newFakeHandle("server", 1, 0)
	client := newFakeHandle("client", 2, 0)
	spawner := newFakeSpawner(server, client)
	rec := &Recorder{}
	sup := New(spawner, WithReporter(rec))

	missing := ChildSpec{
		LaunchSpec: runtime.LaunchSpec{Name: "server", Executable: filepath.Join(t.TempDir(), "llama-server")},
		Required:   true,
	}
	err := sup.Start(context.Background(), []ChildSpec{childSpec(t, "client", false), missing})
	if !errors.Is(err, ErrMissingExecutable) {
		t.Fatalf("expected ErrMissingExecutable, got %v", err)
	}
	if !errors.Is(err, runtime.ErrExecutableNotFound) {
		t.Fatalf("expected wrapped ErrExecutableNotFound, got %v", err)
	}
	var spawnErr *runtime.SpawnError
	if !errors.As(err, &spawnErr) || spawnErr.Name != "server" {
		t.Fatalf("expected SpawnError for server, got %v", err)
	}
	if got := spawner.Spawned(); len(got) != 0 {
		t.Fatalf("expected nothing spawned, got %v", got)
	}
}

func TestStartSkipsMissingOptionalChild(t *testing.T) {
	server := newFakeHandle("server", 1, 0)
	spawner := newFakeSpawner(server)
	rec := &Recorder{}
	sup := New(spawner, WithReporter(rec))

	client := ChildSpec{
		LaunchSpec: runtime.LaunchSpec{Name: "client", Executable: filepath.Join(t.TempDir(), "Muther2026Screen.exe")},
	}
	if err := sup.Start(context.Background(), []ChildSpec{childSpec(t, "server", true), client}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if got := spawner.Spawned(); len(got) != 1 || got[0] != "server" {
		t.Fatalf("expected only server spawned, got %v", got)
	}
	if got := countEvents(rec.Events(), "client", EventTypeSkipped); got != 1 {
		t.Fatalf("expected a skipped event for client, got %d", got)
	}
	sup.Shutdown(ReasonExit)
}

func TestStartTearsDownOnRequiredSpawnFailure(t *testing.T) {
	server := newFakeHandle("server", 1, 0)
	spawner := newFakeSpawner(server)
	spawner.errs["client"] = errors.New("bad image format")
	sup := New(spawner)

	err := sup.Start(context.Background(), []ChildSpec{childSpec(t, "server", true), childSpec(t, "client", true)})
	if err == nil {
		t.Fatalf("expected start to fail")
	}
	<-sup.Done()
	if server.stopCalls.Load() != 1 {
		t.Fatalf("expected started server to be stopped")
	}
	if sup.ShutdownReason() != ReasonStartupFailure {
		t.Fatalf("unexpected shutdown reason %q", sup.ShutdownReason())
	}
}

func TestStartContinuesOnOptionalSpawnFailure(t *testing.T) {
	server := newFakeHandle("server", 1, 0)
	spawner := newFakeSpawner(server)
	spawner.errs["client"] = errors.New("bad image format")
	rec := &Recorder{}
	sup := New(spawner, WithReporter(rec))

	if err := sup.Start(context.Background(), []ChildSpec{childSpec(t, "server", true), childSpec(t, "client", false)}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if got := countEvents(rec.Events(), "client", EventTypeError); got != 1 {
		t.Fatalf("expected one error event for client, got %d", got)
	}
	sup.Shutdown(ReasonExit)
}

func TestStartSkipsDependantOfMissingDependency(t *testing.T) {
	client := newFakeHandle("client", 2, 0)
	spawner := newFakeSpawner(client)
	rec := &Recorder{}
	sup := New(spawner, WithReporter(rec))

	server := ChildSpec{LaunchSpec: runtime.LaunchSpec{Name: "server", Executable: filepath.Join(t.TempDir(), "missing")}}
	dependant := childSpec(t, "client", false)
	dependant.DependsOn = "server"

	if err := sup.Start(context.Background(), []ChildSpec{server, dependant}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if got := spawner.Spawned(); len(got) != 0 {
		t.Fatalf("expected nothing spawned, got %v", got)
	}
	var reasons []string
	for _, evt := range rec.Events() {
		if evt.Child == "client" && evt.Type == EventTypeSkipped {
			reasons = append(reasons, evt.Reason)
		}
	}
	if len(reasons) != 1 || reasons[0] != ReasonDependency {
		t.Fatalf("expected one dependency skip, got %v", reasons)
	}
}

func TestStartWaitsForDependencyReadiness(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	server := newFakeHandle("server", 1, 0)
	client := newFakeHandle("client", 2, 0)
	spawner := newFakeSpawner(server, client)
	rec := &Recorder{}
	sup := New(spawner, WithReporter(rec))

	serverSpec := childSpec(t, "server", true)
	serverSpec.Health = &probe.Spec{
		Interval: 10 * time.Millisecond,
		Timeout:  100 * time.Millisecond,
		TCP:      &probe.TCPSpec{Address: ln.Addr().String()},
	}
	serverSpec.ReadyTimeout = 2 * time.Second
	clientSpec := childSpec(t, "client", false)
	clientSpec.DependsOn = "server"

	if err := sup.Start(context.Background(), []ChildSpec{serverSpec, clientSpec}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if got := spawner.Spawned(); len(got) != 2 || got[1] != "client" {
		t.Fatalf("expected server then client, got %v", got)
	}

	var order []EventType
	for _, evt := range rec.Events() {
		if (evt.Child == "server" && evt.Type == EventTypeReady) || (evt.Child == "client" && evt.Type == EventTypeSpawned) {
			order = append(order, evt.Type)
		}
	}
	if len(order) != 2 || order[0] != EventTypeReady {
		t.Fatalf("expected server ready before client spawn, got %v", order)
	}
	sup.Shutdown(ReasonExit)
}

func TestStartProceedsWhenDependencyNeverReady(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	server := newFakeHandle("server", 1, 0)
	client := newFakeHandle("client", 2, 0)
	spawner := newFakeSpawner(server, client)
	rec := &Recorder{}
	sup := New(spawner, WithReporter(rec))

	serverSpec := childSpec(t, "server", true)
	serverSpec.Health = &probe.Spec{
		Interval: 10 * time.Millisecond,
		Timeout:  50 * time.Millisecond,
		TCP:      &probe.TCPSpec{Address: addr},
	}
	serverSpec.ReadyTimeout = 150 * time.Millisecond
	clientSpec := childSpec(t, "client", false)
	clientSpec.DependsOn = "server"

	if err := sup.Start(context.Background(), []ChildSpec{serverSpec, clientSpec}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if got := spawner.Spawned(); len(got) != 2 {
		t.Fatalf("expected client to start anyway, got %v", got)
	}
	if got := countEvents(rec.Events(), "server", EventTypeUnready); got != 1 {
		t.Fatalf("expected one unready warning, got %d", got)
	}
	sup.Shutdown(ReasonExit)
}

func TestLaunchRefusedAfterShutdown(t *testing.T) {
	sup := New(newFakeSpawner(newFakeHandle("late", 1, 0)))
	sup.Shutdown(ReasonExit)

	if _, err := sup.Launch(context.Background(), childSpec(t, "late", false)); !errors.Is(err, ErrShuttingDown) {
		t.Fatalf("expected ErrShuttingDown, got %v", err)
	}
	if len(sup.Children()) != 0 {
		t.Fatalf("expected no children after refused launch")
	}
}

func TestLaunchRefusedAfterStartup(t *testing.T) {
	sup := New(newFakeSpawner(newFakeHandle("late", 1, 0)))
	if err := sup.Start(context.Background(), nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := sup.Launch(context.Background(), childSpec(t, "late", false)); !errors.Is(err, ErrStartupClosed) {
		t.Fatalf("expected ErrStartupClosed, got %v", err)
	}
	sup.Shutdown(ReasonExit)
}

func TestGuardShutsDownOnReturn(t *testing.T) {
	h := newFakeHandle("server", 1, 0)
	sup := New(newFakeSpawner(h))

	func() {
		defer sup.Guard()()
		if err := sup.Start(context.Background(), []ChildSpec{childSpec(t, "server", true)}); err != nil {
			t.Fatalf("start: %v", err)
		}
	}()

	if sup.ShutdownReason() != ReasonExit {
		t.Fatalf("unexpected shutdown reason %q", sup.ShutdownReason())
	}
	if h.IsAlive() {
		t.Fatalf("expected child to be stopped")
	}
}

func TestGuardShutsDownAndRepanics(t *testing.T) {
	h := newFakeHandle("server", 1, -1)
	sup := New(newFakeSpawner(h), WithGracePeriod(50*time.Millisecond))

	recovered := func() (r any) {
		defer func() { r = recover() }()
		defer sup.Guard()()
		if err := sup.Start(context.Background(), []ChildSpec{childSpec(t, "server", true)}); err != nil {
			t.Fatalf("start: %v", err)
		}
		panic("boom")
	}()

	if recovered != "boom" {
		t.Fatalf("expected panic to propagate, got %v", recovered)
	}
	if sup.ShutdownReason() != ReasonCrash {
		t.Fatalf("unexpected shutdown reason %q", sup.ShutdownReason())
	}
	if h.killCalls.Load() != 1 {
		t.Fatalf("expected stubborn child to be force-killed")
	}
}

func TestSupervisorTearsDownRealChildren(t *testing.T) {
	if goruntime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}

	rec := &Recorder{}
	sup := New(process.New(), WithReporter(rec), WithGracePeriod(300*time.Millisecond), WithPollInterval(20*time.Millisecond))

	specs := []ChildSpec{
		{
			LaunchSpec: runtime.LaunchSpec{
				Name:       "server",
				Executable: "/bin/sh",
				Args:       []string{"-c", "exec sleep 30"},
			},
			Required: true,
		},
		{
			LaunchSpec: runtime.LaunchSpec{
				Name:       "client",
				Executable: "/bin/sh",
				Args:       []string{"-c", "trap '' TERM; sleep 30"},
				Options:    runtime.Options{NewProcessGroup: true},
			},
		},
	}
	if err := sup.Start(context.Background(), specs); err != nil {
		t.Fatalf("start: %v", err)
	}

	started := time.Now()
	sup.Shutdown("signal: terminated")
	elapsed := time.Since(started)
	if elapsed > 3*time.Second {
		t.Fatalf("shutdown took %s", elapsed)
	}

	for _, h := range sup.Children() {
		if h.IsAlive() {
			t.Fatalf("%s still alive after shutdown", h.Name())
		}
	}
	if got := countEvents(rec.Events(), "client", EventTypeKilled); got != 1 {
		t.Fatalf("expected client to be force-killed, got %d killed events", got)
	}
	if got := countEvents(rec.Events(), "server", EventTypeExited); got != 1 {
		t.Fatalf("expected server to exit on its stop request, got %d exit events", got)
	}
}

func TestStartOnlyOnce(t *testing.T) {
	rec := &Recorder{}
	sup := New(newFakeSpawner(), WithReporter(rec))
	if err := sup.Start(context.Background(), nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	if got := countEvents(rec.Events(), "", EventTypeRunning); got != 1 {
		t.Fatalf("expected one running event, got %d", got)
	}
	if err := sup.Start(context.Background(), nil); !errors.Is(err, ErrStartupClosed) {
		t.Fatalf("expected ErrStartupClosed, got %v", err)
	}
	sup.Shutdown(ReasonExit)
	if err := sup.Start(context.Background(), nil); !errors.Is(err, ErrShuttingDown) {
		t.Fatalf("expected ErrShuttingDown, got %v", err)
	}
}

func closedTCPHealth(t *testing.T) *probe.Spec {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return &probe.Spec{
		Interval: 10 * time.Millisecond,
		Timeout:  50 * time.Millisecond,
		TCP:      &probe.TCPSpec{Address: addr},
	}
}

func TestStartInterruptedWhileAwaitingRequiredDependency(t *testing.T) {
	server := newFakeHandle("server", 1, 0)
	client := newFakeHandle("client", 2, 0)
	spawner := newFakeSpawner(server, client)
	rec := &Recorder{}
	sup := New(spawner, WithReporter(rec), WithGracePeriod(200*time.Millisecond))

	serverSpec := childSpec(t, "server", true)
	serverSpec.Health = closedTCPHealth(t)
	serverSpec.ReadyTimeout = 5 * time.Second
	clientSpec := childSpec(t, "client", true)
	clientSpec.DependsOn = "server"

	go func() {
		time.Sleep(100 * time.Millisecond)
		sup.Shutdown("signal: interrupt")
	}()

	start := time.Now()
	err := sup.Start(context.Background(), []ChildSpec{serverSpec, clientSpec})
	if !errors.Is(err, ErrShuttingDown) {
		t.Fatalf("expected ErrShuttingDown, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("readiness wait was not cut short by shutdown: %s", elapsed)
	}
	<-sup.Done()

	if got := spawner.Spawned(); len(got) != 1 || got[0] != "server" {
		t.Fatalf("expected only server to be spawned, got %v", got)
	}
	if reason := sup.ShutdownReason(); reason != "signal: interrupt" {
		t.Fatalf("unexpected shutdown reason %q", reason)
	}
	for _, evt := range rec.Events() {
		if evt.Type == EventTypeError || evt.Reason == ReasonStartupFailure {
			t.Fatalf("interrupt reported as a startup failure: %+v", evt)
		}
	}
}

func TestStartReturnsContextErrorWhileAwaitingDependency(t *testing.T) {
	server := newFakeHandle("server", 1, 0)
	client := newFakeHandle("client", 2, 0)
	rec := &Recorder{}
	sup := New(newFakeSpawner(server, client), WithReporter(rec))

	serverSpec := childSpec(t, "server", true)
	serverSpec.Health = closedTCPHealth(t)
	serverSpec.ReadyTimeout = 5 * time.Second
	clientSpec := childSpec(t, "client", true)
	clientSpec.DependsOn = "server"

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	err := sup.Start(ctx, []ChildSpec{serverSpec, clientSpec})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if got := countEvents(rec.Events(), "client", EventTypeError); got != 0 {
		t.Fatalf("cancellation must not be reported as a startup failure")
	}
	sup.Shutdown(ReasonContextCancelled)
}

// exitRaceHandle starts shutdown from inside the first IsAlive call, the
// moment a poll has passed its latch check but not yet reported the exit.
type exitRaceHandle struct {
	*fakeHandle
	once    sync.Once
	onAlive func()
}

func (h *exitRaceHandle) IsAlive() bool {
	alive := h.fakeHandle.IsAlive()
	if h.onAlive != nil {
		h.once.Do(h.onAlive)
	}
	return alive
}

func TestMonitorLeavesExitsDuringShutdownToTeardown(t *testing.T) {
	inner := newFakeHandle("client", 2, 0)
	handle := &exitRaceHandle{fakeHandle: inner}
	rec := &Recorder{}
	spawner := runtime.SpawnerFunc(func(context.Context, runtime.LaunchSpec) (runtime.Handle, error) {
		return handle, nil
	})
	sup := New(spawner, WithReporter(rec), WithPollInterval(10*time.Millisecond))

	if err := sup.Start(context.Background(), []ChildSpec{childSpec(t, "client", true)}); err != nil {
		t.Fatalf("start: %v", err)
	}
	inner.exit(runtime.ExitStatus{State: runtime.StateExitedNormally})
	handle.onAlive = func() {
		if !sup.ShutdownAsync("signal: terminated") {
			t.Errorf("expected to win the shutdown latch")
		}
	}

	if err := sup.Monitor(context.Background()); err != nil {
		t.Fatalf("monitor: %v", err)
	}
	<-sup.Done()

	var exits []Event
	for _, evt := range rec.Events() {
		if evt.Child == "client" && evt.Type == EventTypeExited {
			exits = append(exits, evt)
		}
	}
	if len(exits) != 1 {
		t.Fatalf("expected one exit event, got %d", len(exits))
	}
	if exits[0].Reason != ReasonShutdown {
		t.Fatalf("expected exit attributed to shutdown, got %q", exits[0].Reason)
	}
}

func TestShutdownAsyncHasOneWinner(t *testing.T) {
	a := newFakeHandle("a", 1, 0)
	rec := &Recorder{}
	sup := New(newFakeSpawner(a), WithReporter(rec))
	if err := sup.Start(context.Background(), []ChildSpec{childSpec(t, "a", true)}); err != nil {
		t.Fatalf("start: %v", err)
	}

	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if sup.ShutdownAsync("api request") {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()
	if winners.Load() != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners.Load())
	}
	select {
	case <-sup.Stopping():
	default:
		t.Fatalf("expected Stopping to be closed once ShutdownAsync returns")
	}
	<-sup.Done()
	if got := countEvents(rec.Events(), "", EventTypeShutdownComplete); got != 1 {
		t.Fatalf("expected one shutdown complete event, got %d", got)
	}
}

func TestForceKillRecordsKilledExit(t *testing.T) {
	name := "killed_metric_child"
	metrics.ResetChild(name)
	t.Cleanup(func() { metrics.ResetChild(name) })

	stubborn := newFakeHandle(name, 1, -1)
	sup := New(newFakeSpawner(stubborn), WithGracePeriod(20*time.Millisecond))
	if err := sup.Start(context.Background(), []ChildSpec{childSpec(t, name, true)}); err != nil {
		t.Fatalf("start: %v", err)
	}
	sup.Shutdown(ReasonExit)

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	for _, line := range []string{
		fmt.Sprintf("muther_child_exits_total{child=\"%s\",state=\"killed\"} 1", name),
		fmt.Sprintf("muther_child_force_kills_total{child=\"%s\"} 1", name),
	} {
		if !strings.Contains(body, line) {
			t.Fatalf("expected metric line %q in body:\n%s", line, body)
		}
	}
}
