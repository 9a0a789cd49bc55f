package tor

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"

	"github.com/nao1215/proxyprobe/internal/transport"
)

// serveOnce accepts one connection on a loopback listener and hands it to fn.
func serveOnce(t *testing.T, fn func(conn net.Conn)) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		fn(conn)
	}()
	return ln.Addr().String()
}

// fakeSOCKS5 answers the greeting with method and the CONNECT with reply.
func fakeSOCKS5(method, reply byte) func(net.Conn) {
	return func(conn net.Conn) {
		greeting := make([]byte, 3)
		if _, err := io.ReadFull(conn, greeting); err != nil {
			return
		}
		if _, err := conn.Write([]byte{0x05, method}); err != nil {
			return
		}
		header := make([]byte, 5)
		if _, err := io.ReadFull(conn, header); err != nil {
			return
		}
		rest := make([]byte, int(header[4])+2)
		if _, err := io.ReadFull(conn, rest); err != nil {
			return
		}
		_, _ = conn.Write([]byte{0x05, reply, 0x00, 0x01, 0, 0, 0, 0, 0, 0})
	}
}

// TestCheckSOCKSPort tests the readiness check of a daemon's SOCKS port.
func TestCheckSOCKSPort(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		handler func(net.Conn)
		wantErr error
	}{
		{name: "connect succeeds", handler: fakeSOCKS5(0x00, 0x00)},
		{name: "host unreachable still ready", handler: fakeSOCKS5(0x00, 0x04)},
		{name: "requires auth", handler: fakeSOCKS5(0xFF, 0x00), wantErr: transport.ErrProxyAuthRejected},
		{
			name: "http server",
			handler: func(conn net.Conn) {
				_, _ = conn.Write([]byte("HTTP/1.1 400 Bad Request\r\n\r\n"))
			},
			wantErr: transport.ErrProxyNotSOCKS5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			addr := serveOnce(t, tt.handler)
			err := checkSOCKSPort(context.Background(), addr)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("checkSOCKSPort() error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("checkSOCKSPort() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	t.Run("cannot connect", func(t *testing.T) {
		t.Parallel()

		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatal(err)
		}
		addr := ln.Addr().String()
		ln.Close()

		if err := checkSOCKSPort(context.Background(), addr); !errors.Is(err, transport.ErrProxyCannotConnect) {
			t.Errorf("checkSOCKSPort() error = %v, want cannot connect", err)
		}
	})

	t.Run("invalid address", func(t *testing.T) {
		t.Parallel()

		if err := checkSOCKSPort(context.Background(), "no-port"); !errors.Is(err, ErrInvalidSocksAddress) {
			t.Errorf("checkSOCKSPort() error = %v, want ErrInvalidSocksAddress", err)
		}
	})
}
