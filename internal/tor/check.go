package tor

import (
	"context"
	"fmt"
	"net"

	"github.com/nao1215/proxyprobe/internal/transport"
)

// checkSOCKSPort verifies that addr completes an unauthenticated SOCKS5
// handshake and answers a CONNECT request.
func checkSOCKSPort(ctx context.Context, addr string) error {
	target, err := SOCKSTarget(addr, 0)
	if err != nil {
		return err
	}
	if status := transport.CheckSOCKS5(ctx, target); status != transport.ProxyStatusOK {
		return fmt.Errorf("SOCKS port %s: %w", addr, status.Err())
	}
	return nil
}

// isValidSocksAddress reports whether address is "host:port" with a port in 1-65535.
func isValidSocksAddress(address string) bool {
	host, port, err := net.SplitHostPort(address)
	if err != nil || host == "" || port == "" {
		return false
	}
	n := 0
	for _, c := range port {
		if c < '0' || c > '9' {
			return false
		}
		n = n*10 + int(c-'0')
		if n > 65535 {
			return false
		}
	}
	return n >= 1
}
