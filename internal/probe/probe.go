package probe

import (
	"context"
	"time"

	"github.com/Mozart409/uptime-forge/internal/config"
)

// ErrorType classifies a failed probe. The set is closed; the persistence
// sink stores the string value in the error_type column.
type ErrorType string

const (
	ErrTimeout        ErrorType = "timeout"
	ErrDNS            ErrorType = "dns"
	ErrDNSNxdomain    ErrorType = "dns_nxdomain"
	ErrDNSMismatch    ErrorType = "dns_mismatch"
	ErrTLS            ErrorType = "tls"
	ErrConnection     ErrorType = "connection"
	ErrTCPRefused     ErrorType = "tcp_refused"
	ErrStatusMismatch ErrorType = "status_mismatch"
	ErrClientBuild    ErrorType = "client_build"
)

// Outcome is the result of one probe attempt. Immutable once produced.
type Outcome struct {
	CheckedAt  time.Time `json:"checked_at"`
	Success    bool      `json:"success"`
	StatusCode int       `json:"status_code,omitempty"` // HTTP only, 0 otherwise
	LatencyMS  float64   `json:"latency_ms"`
	ErrorType  ErrorType `json:"error_type,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Driver performs exactly one probe attempt against an endpoint. The caller
// bounds the attempt with the deadline on ctx; drivers must observe it.
type Driver interface {
	Check(ctx context.Context, ep config.Endpoint) Outcome
}

// Dispatcher routes an endpoint to the driver for its check kind.
type Dispatcher struct {
	HTTP Driver
	TCP  Driver
	DNS  Driver
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		HTTP: NewHTTPDriver(),
		TCP:  NewTCPDriver(),
		DNS:  NewDNSDriver(),
	}
}

func (d *Dispatcher) Check(ctx context.Context, ep config.Endpoint) Outcome {
	switch ep.Kind {
	case config.KindTCP:
		return d.TCP.Check(ctx, ep)
	case config.KindDNS:
		return d.DNS.Check(ctx, ep)
	default:
		return d.HTTP.Check(ctx, ep)
	}
}

func millis(start time.Time) float64 {
	return time.Since(start).Seconds() * 1000
}
