package probe

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/Mozart409/uptime-forge/internal/config"
)

// HTTPDriver issues the configured method/headers/body against the endpoint
// URL and compares the response status to expected_status.
type HTTPDriver struct{}

func NewHTTPDriver() *HTTPDriver {
	return &HTTPDriver{}
}

func (d *HTTPDriver) Check(ctx context.Context, ep config.Endpoint) Outcome {
	start := time.Now()
	out := Outcome{CheckedAt: start.UTC()}

	// The client is built per check: skip_tls_verification is a per-endpoint
	// flag and must never leak into a shared transport.
	client := &http.Client{
		Timeout: ep.Timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: ep.SkipTLSVerification,
				MinVersion:         tls.VersionTLS12,
			},
		},
	}

	var body io.Reader
	if b := ep.ResolvedBody(); b != "" {
		body = strings.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, ep.Method, ep.ResolvedAddr(), body)
	if err != nil {
		out.ErrorType = ErrClientBuild
		out.Error = fmt.Sprintf("build request: %v", err)
		return out
	}
	for k, v := range ep.ResolvedHeaders() {
		req.Header.Set(k, v)
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", "uptime-forge")
	}

	resp, err := client.Do(req)
	out.LatencyMS = millis(start)
	if err != nil {
		out.ErrorType = classifyTransportError(err)
		out.Error = err.Error()
		return out
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	out.StatusCode = resp.StatusCode
	if resp.StatusCode == ep.ExpectedStatus {
		out.Success = true
	} else {
		out.ErrorType = ErrStatusMismatch
		out.Error = fmt.Sprintf("expected status %d, got %d", ep.ExpectedStatus, resp.StatusCode)
	}
	return out
}

// classifyTransportError maps a failed round trip onto the error taxonomy by
// inspecting the cause chain.
func classifyTransportError(err error) ErrorType {
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
	var certErr *tls.CertificateVerificationError
	var recErr tls.RecordHeaderError
	var unkAuth x509.UnknownAuthorityError
	var hostErr x509.HostnameError
	var invErr x509.CertificateInvalidError
	if errors.As(err, &certErr) || errors.As(err, &recErr) ||
		errors.As(err, &unkAuth) || errors.As(err, &hostErr) || errors.As(err, &invErr) {
		return ErrTLS
	}
	return ErrConnection
}
