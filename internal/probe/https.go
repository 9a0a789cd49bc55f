package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nao1215/proxyprobe/internal/model"
)

// maxConnectHeaderSize caps the CONNECT response header block.
const maxConnectHeaderSize = 16 << 10

// errNoResponse means the proxy closed the connection without sending a byte.
var errNoResponse = errors.New("proxy closed connection without response")

var headerTerminator = []byte("\r\n\r\n")

// HTTPS asks the proxy to open a CONNECT tunnel and classifies the status.
//
// A 2xx status means supported. Any other status means not supported, with
// the code and a hint preserved. A connection closed before any byte arrived
// leaves Supported nil. The socket is closed exactly once, either when the
// probe returns or when ctx is done, whichever comes first.
func (p *Prober) HTTPS(ctx context.Context, target model.ProbeTarget) (*model.HTTPSResult, error) {
	if target.Scheme == model.SchemeSOCKS5 {
		return p.httpsOverSOCKS(ctx, target)
	}

	c, err := p.client(target)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	conn, err := c.DialProxy(ctx)
	if err != nil {
		return nil, err
	}

	var closeOnce sync.Once
	closeConn := func() {
		closeOnce.Do(func() { _ = conn.Close() })
	}
	defer closeConn()
	stop := context.AfterFunc(ctx, closeConn)
	defer stop()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	connectTarget := p.connectTarget()
	var req strings.Builder
	fmt.Fprintf(&req, "CONNECT %s HTTP/1.1\r\n", connectTarget)
	fmt.Fprintf(&req, "Host: %s\r\n", connectTarget)
	if auth := c.ProxyAuthorization(); auth != "" {
		fmt.Fprintf(&req, "Proxy-Authorization: %s\r\n", auth)
	}
	req.WriteString("\r\n")

	if _, err := io.WriteString(conn, req.String()); err != nil {
		return nil, ctxOr(ctx, err)
	}

	statusLine, err := ReadConnectResponse(conn)
	elapsed := time.Since(start).Milliseconds()
	if errors.Is(err, errNoResponse) {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return &model.HTTPSResult{ResponseMillis: elapsed, Hint: "no response from proxy"}, nil
	}
	if err != nil {
		return nil, ctxOr(ctx, err)
	}

	res, err := ClassifyConnectStatus(statusLine)
	if err != nil {
		return nil, err
	}
	res.ResponseMillis = elapsed

	p.logger.Debug("https probe finished",
		"proxy", target.Address(),
		"status", res.StatusCode)
	return res, nil
}

func (p *Prober) connectTarget() string {
	if p.env.ConnectTarget != "" {
		return p.env.ConnectTarget
	}
	return "www.google.com:443"
}

// httpsOverSOCKS reports HTTPS support for SOCKS5 proxies by opening a
// tunnel to the connect target.
func (p *Prober) httpsOverSOCKS(ctx context.Context, target model.ProbeTarget) (*model.HTTPSResult, error) {
	c, err := p.client(target)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	conn, err := c.DialThrough(ctx, "tcp", p.connectTarget())
	if err != nil {
		return nil, err
	}
	_ = conn.Close()

	supported := true
	return &model.HTTPSResult{
		Supported:      &supported,
		StatusLine:     "SOCKS5 tunnel established",
		ResponseMillis: time.Since(start).Milliseconds(),
	}, nil
}

// ReadConnectResponse reads from r until the end of the response header
// block and returns the status line. Partial reads are accumulated.
//
// If r is closed before any byte arrives it returns errNoResponse. If r is
// closed after a complete status line but before the blank line, the status
// line is still returned.
func ReadConnectResponse(r io.Reader) (string, error) {
	var buf bytes.Buffer
	chunk := make([]byte, 1024)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			if end := bytes.Index(buf.Bytes(), headerTerminator); end >= 0 {
				return firstLine(buf.Bytes()[:end]), nil
			}
			if buf.Len() > maxConnectHeaderSize {
				return "", fmt.Errorf("%w: CONNECT response headers exceed %d bytes", model.ErrMalformed, maxConnectHeaderSize)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return "", err
			}
			if buf.Len() == 0 {
				return "", errNoResponse
			}
			if i := bytes.IndexByte(buf.Bytes(), '\n'); i >= 0 {
				return firstLine(buf.Bytes()), nil
			}
			return "", fmt.Errorf("%w: incomplete CONNECT response %q", model.ErrMalformed, buf.String())
		}
	}
}

func firstLine(b []byte) string {
	if i := bytes.IndexByte(b, '\n'); i >= 0 {
		b = b[:i]
	}
	return strings.TrimRight(string(b), "\r")
}

// ClassifyConnectStatus parses a CONNECT status line such as
// "HTTP/1.1 200 Connection established".
func ClassifyConnectStatus(statusLine string) (*model.HTTPSResult, error) {
	fields := strings.Fields(statusLine)
	if len(fields) < 2 || !strings.HasPrefix(fields[0], "HTTP/") || len(fields[1]) != 3 {
		return nil, fmt.Errorf("%w: bad CONNECT status line %q", model.ErrMalformed, statusLine)
	}
	code, err := strconv.Atoi(fields[1])
	if err != nil || code < 100 {
		return nil, fmt.Errorf("%w: bad CONNECT status code %q", model.ErrMalformed, fields[1])
	}

	supported := fields[1][0] == '2'
	res := &model.HTTPSResult{
		Supported:  &supported,
		StatusCode: code,
		StatusLine: statusLine,
	}
	switch {
	case supported:
	case code == http.StatusProxyAuthRequired:
		res.Hint = "proxy authentication required"
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		res.Hint = "auth may be required"
	case code >= 500:
		res.Hint = "proxy-side error, support undetermined"
	case code >= 400:
		res.Hint = "CONNECT not supported"
	}
	return res, nil
}

// ctxOr prefers the context error when the context ended, since closing the
// socket on cancellation surfaces as a generic "use of closed connection".
func ctxOr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}
