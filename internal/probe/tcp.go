package probe

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/Mozart409/uptime-forge/internal/config"
)

// TCPDriver attempts a bare connection to host:port. An established
// connection is immediately closed; that alone counts as success.
type TCPDriver struct {
	dialer net.Dialer
}

func NewTCPDriver() *TCPDriver {
	return &TCPDriver{}
}

func (d *TCPDriver) Check(ctx context.Context, ep config.Endpoint) Outcome {
	start := time.Now()
	out := Outcome{CheckedAt: start.UTC()}

	addr := strings.TrimPrefix(ep.ResolvedAddr(), "tcp://")

	conn, err := d.dialer.DialContext(ctx, "tcp", addr)
	out.LatencyMS = millis(start)
	if err != nil {
		out.ErrorType = classifyDialError(err)
		out.Error = err.Error()
		return out
	}
	_ = conn.Close()
	out.Success = true
	return out
}

func classifyDialError(err error) ErrorType {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return ErrTCPRefused
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ErrTimeout
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ErrDNS
	}
	return ErrConnection
}
