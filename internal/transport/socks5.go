package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"time"

	"github.com/nao1215/proxyprobe/internal/model"
)

// checkProxyTimeout bounds the SOCKS5 handshake check when the caller's
// context has no earlier deadline.
const checkProxyTimeout = 5 * time.Second

// SOCKS5 protocol constants
const (
	socks5Version       = 0x05
	socks5AuthNone      = 0x00
	socks5AuthUserPass  = 0x02
	socks5AuthNoAccept  = 0xFF
	socks5CmdConnect    = 0x01
	socks5AddrTypeDomID = 0x03
	socks5UserPassVer   = 0x01

	// socks5TestHost is the CONNECT destination used to confirm the proxy
	// processes requests. Any reply code counts; only the framing matters.
	socks5TestHost = "www.google.com"
)

// CheckSOCKS5 performs a SOCKS5 handshake against the target and reports
// whether it behaves like a SOCKS5 proxy. Credentials on the target are
// offered with username/password authentication.
func CheckSOCKS5(ctx context.Context, target model.ProbeTarget) ProxyStatus {
	ctx, cancel := context.WithTimeout(ctx, checkProxyTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", target.Address())
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ProxyStatusTimeout
		}
		return ProxyStatusCannotConnect
	}
	defer conn.Close()

	deadline, _ := ctx.Deadline()
	if err := conn.SetDeadline(deadline); err != nil {
		return ProxyStatusCannotConnect
	}

	creds := target.Credentials
	greeting := []byte{socks5Version, 0x01, socks5AuthNone}
	if creds != nil && creds.Username != "" {
		greeting = []byte{socks5Version, 0x02, socks5AuthNone, socks5AuthUserPass}
	}
	if _, err := conn.Write(greeting); err != nil {
		return ProxyStatusCannotConnect
	}

	authResp := make([]byte, 2)
	if _, err := io.ReadFull(conn, authResp); err != nil {
		return readFailureStatus(err)
	}
	if authResp[0] != socks5Version {
		return ProxyStatusWrongType
	}

	switch authResp[1] {
	case socks5AuthNone:
	case socks5AuthUserPass:
		if creds == nil || creds.Username == "" {
			return ProxyStatusAuthRejected
		}
		if status := userPassAuth(conn, creds); status != ProxyStatusOK {
			return status
		}
	case socks5AuthNoAccept:
		return ProxyStatusAuthRejected
	default:
		return ProxyStatusWrongType
	}

	testPort := uint16(80)
	connectReq := []byte{
		socks5Version,
		socks5CmdConnect,
		0x00, // reserved
		socks5AddrTypeDomID,
		byte(len(socks5TestHost)),
	}
	connectReq = append(connectReq, []byte(socks5TestHost)...)
	connectReq = append(connectReq, byte(testPort>>8), byte(testPort&0xFF))
	if _, err := conn.Write(connectReq); err != nil {
		return ProxyStatusCannotConnect
	}

	// version + reply + reserved + address type
	connectResp := make([]byte, 4)
	if _, err := io.ReadFull(conn, connectResp); err != nil {
		return readFailureStatus(err)
	}
	if connectResp[0] != socks5Version {
		return ProxyStatusWrongType
	}
	return ProxyStatusOK
}

// userPassAuth runs the RFC 1929 username/password sub-negotiation.
func userPassAuth(conn net.Conn, creds *model.Credentials) ProxyStatus {
	if len(creds.Username) > 255 || len(creds.Password) > 255 {
		return ProxyStatusAuthRejected
	}
	req := []byte{socks5UserPassVer, byte(len(creds.Username))}
	req = append(req, creds.Username...)
	req = append(req, byte(len(creds.Password)))
	req = append(req, creds.Password...)
	if _, err := conn.Write(req); err != nil {
		return ProxyStatusCannotConnect
	}

	resp := make([]byte, 2)
	if _, err := io.ReadFull(conn, resp); err != nil {
		return readFailureStatus(err)
	}
	if resp[1] != 0x00 {
		return ProxyStatusAuthRejected
	}
	return ProxyStatusOK
}

func readFailureStatus(err error) ProxyStatus {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return ProxyStatusTimeout
	}
	return ProxyStatusWrongType
}
