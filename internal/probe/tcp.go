package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
)

type tcpProber struct {
	address string
	dialer  func(ctx context.Context, network, address string) (net.Conn, error)
}

func newTCPProber(spec *TCPSpec) Prober {
	return &tcpProber{
		address: spec.Address,
		dialer:  (&net.Dialer{}).DialContext,
	}
}

// Probe succeeds once something accepts connections on the address. A
// refused connection is the normal state while a server is still loading.
func (p *tcpProber) Probe(ctx context.Context) error {
	conn, err := p.dialer(ctx, "tcp", p.address)
	if err != nil {
		if errors.Is(err, syscall.ECONNREFUSED) {
			return fmt.Errorf("dial %s: nothing listening yet", p.address)
		}
		return fmt.Errorf("dial %s: %w", p.address, err)
	}
	return conn.Close()
}
