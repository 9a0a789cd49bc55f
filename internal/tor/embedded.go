package tor

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/nao1215/tornago"

	"github.com/nao1215/proxyprobe/internal/model"
)

// DefaultStartupTimeout bounds the daemon bootstrap.
const DefaultStartupTimeout = 3 * time.Minute

// EmbeddedTor manages an embedded Tor daemon using tornago.
type EmbeddedTor struct {
	process        *tornago.TorProcess
	socksAddr      string
	controlAddr    string
	startupTimeout time.Duration
}

// EmbeddedTorOption configures an EmbeddedTor instance.
type EmbeddedTorOption func(*EmbeddedTor)

// WithStartupTimeout sets the maximum time to wait for Tor to bootstrap.
func WithStartupTimeout(timeout time.Duration) EmbeddedTorOption {
	return func(e *EmbeddedTor) {
		if timeout > 0 {
			e.startupTimeout = timeout
		}
	}
}

// NewEmbeddedTor creates a new embedded Tor manager.
// Call Start to launch the daemon.
func NewEmbeddedTor(opts ...EmbeddedTorOption) *EmbeddedTor {
	e := &EmbeddedTor{
		startupTimeout: DefaultStartupTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start launches the daemon on OS-assigned ports and blocks until it has
// bootstrapped, then verifies that its SOCKS port answers.
func (e *EmbeddedTor) Start(ctx context.Context) error {
	launchCfg, err := tornago.NewTorLaunchConfig(
		tornago.WithTorSocksAddr(":0"),
		tornago.WithTorControlAddr(":0"),
		tornago.WithTorStartupTimeout(e.startupTimeout),
	)
	if err != nil {
		return fmt.Errorf("failed to create Tor launch config: %w", err)
	}

	process, err := tornago.StartTorDaemon(launchCfg)
	if err != nil {
		return fmt.Errorf("failed to start embedded Tor daemon: %w", err)
	}

	if err := ctx.Err(); err != nil {
		_ = process.Stop() //nolint:errcheck // best effort cleanup
		return err
	}

	socksAddr := normalizeLoopback(process.SocksAddr())
	if err := checkSOCKSPort(ctx, socksAddr); err != nil {
		_ = process.Stop() //nolint:errcheck // best effort cleanup
		return fmt.Errorf("embedded Tor: %w", err)
	}

	e.process = process
	e.socksAddr = socksAddr
	e.controlAddr = normalizeLoopback(process.ControlAddr())
	return nil
}

// Stop shuts down the daemon. It is safe to call on an unstarted instance.
func (e *EmbeddedTor) Stop() error {
	if e.process == nil {
		return nil
	}
	err := e.process.Stop()
	e.process = nil
	e.socksAddr = ""
	e.controlAddr = ""
	return err
}

// SocksAddr returns the SOCKS5 address of the running daemon, or "".
func (e *EmbeddedTor) SocksAddr() string {
	return e.socksAddr
}

// ControlAddr returns the control port address of the running daemon, or "".
func (e *EmbeddedTor) ControlAddr() string {
	return e.controlAddr
}

// IsRunning reports whether the daemon is running.
func (e *EmbeddedTor) IsRunning() bool {
	return e.process != nil
}

// Target returns the daemon's SOCKS port as a probe target.
func (e *EmbeddedTor) Target(timeout time.Duration) (model.ProbeTarget, error) {
	if !e.IsRunning() {
		return model.ProbeTarget{}, ErrNotRunning
	}
	return SOCKSTarget(e.socksAddr, timeout)
}

// SOCKSTarget builds a socks5 probe target from a "host:port" address.
func SOCKSTarget(addr string, timeout time.Duration) (model.ProbeTarget, error) {
	if !isValidSocksAddress(addr) {
		return model.ProbeTarget{}, fmt.Errorf("%w: %q", ErrInvalidSocksAddress, addr)
	}
	host, portStr, _ := net.SplitHostPort(addr) //nolint:errcheck // validated above
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return model.ProbeTarget{}, fmt.Errorf("%w: %q", ErrInvalidSocksAddress, addr)
	}
	return model.ProbeTarget{
		Host:    host,
		Port:    uint16(port),
		Timeout: timeout,
		Scheme:  model.SchemeSOCKS5,
	}, nil
}

// normalizeLoopback fills in 127.0.0.1 for addresses such as ":9050".
func normalizeLoopback(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil || host != "" {
		return addr
	}
	return net.JoinHostPort("127.0.0.1", port)
}
