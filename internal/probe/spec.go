package probe

import "time"

// Spec describes how readiness of a child is established. At least one of
// HTTP, TCP or Command must be set; when several are set the child is ready as
// soon as any of them succeeds.
type Spec struct {
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold int
	SuccessThreshold int

	HTTP    *HTTPSpec
	TCP     *TCPSpec
	Command *CommandSpec
}

// HTTPSpec probes an HTTP endpoint with GET.
type HTTPSpec struct {
	URL          string
	ExpectStatus []int
}

// TCPSpec probes that a TCP address accepts connections.
type TCPSpec struct {
	Address string
}

// CommandSpec probes by running a command; exit status zero means ready.
type CommandSpec struct {
	Command []string
	Timeout time.Duration
}
