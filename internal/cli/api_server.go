package cli

import (
	stdcontext "context"
	"fmt"
	"net"
	"time"

	"github.com/Paintersrp/muther/internal/api"
	httpapi "github.com/Paintersrp/muther/internal/api/http"
	"github.com/Paintersrp/muther/internal/config"
	"github.com/Paintersrp/muther/internal/engine"
	"github.com/Paintersrp/muther/internal/metrics"
	"github.com/Paintersrp/muther/internal/runtime"
)

type apiServer struct {
	server *httpapi.Server
	cancel stdcontext.CancelFunc
	errCh  chan error
}

func startAPIServer(addr string, ctrl api.Controller) (*apiServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen for api on %s: %w", addr, err)
	}
	server, err := httpapi.NewServer(httpapi.Config{
		Controller: ctrl,
		Listener:   ln,
		Metrics:    metrics.Handler(),
	})
	if err != nil {
		ln.Close()
		return nil, err
	}
	ctx, cancel := stdcontext.WithCancel(stdcontext.Background())
	s := &apiServer{server: server, cancel: cancel, errCh: make(chan error, 1)}
	go func() {
		s.errCh <- server.Run(ctx)
	}()
	return s, nil
}

func (s *apiServer) Addr() string {
	return s.server.Addr()
}

func (s *apiServer) Close() error {
	s.cancel()
	return <-s.errCh
}

// supervisorController answers API requests from a live supervisor.
type supervisorController struct {
	sup      *engine.Supervisor
	launcher string
	session  string
	required map[string]bool
}

func newSupervisorController(sup *engine.Supervisor, doc *config.Manifest, session string) *supervisorController {
	required := make(map[string]bool, len(doc.Children))
	for _, child := range doc.Children {
		required[child.Name] = child.Required
	}
	return &supervisorController{
		sup:      sup,
		launcher: doc.Launcher.Name,
		session:  session,
		required: required,
	}
}

func (c *supervisorController) Status(stdcontext.Context) (*api.StatusReport, error) {
	report := &api.StatusReport{
		Launcher:    c.launcher,
		Session:     c.session,
		Phase:       c.sup.Phase().String(),
		Reason:      c.sup.ShutdownReason(),
		GeneratedAt: time.Now().UTC(),
		Children:    []api.ChildReport{},
	}
	for _, h := range c.sup.Children() {
		status := h.Status()
		child := api.ChildReport{
			Name:     h.Name(),
			PID:      h.PID(),
			Required: c.required[h.Name()],
			Alive:    h.IsAlive(),
			State:    status.State.String(),
		}
		if status.State != runtime.StateRunning {
			code := status.Code
			child.Code = &code
		}
		report.Children = append(report.Children, child)
	}
	return report, nil
}

// Shutdown starts the shutdown sequence without waiting for it to finish,
// so the response is written before the server itself is torn down. Only the
// request that wins the supervisor's latch is accepted.
func (c *supervisorController) Shutdown(_ stdcontext.Context, reason string) (*api.ShutdownResult, error) {
	if !c.sup.ShutdownAsync(reason) {
		return nil, api.ErrShuttingDown
	}
	return &api.ShutdownResult{Reason: reason, RequestedAt: time.Now().UTC()}, nil
}
