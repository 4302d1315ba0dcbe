package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/Mozart409/uptime-forge/internal/config"
)

// DefaultDNSServer is queried when an endpoint does not name its own
// resolver.
const DefaultDNSServer = "8.8.8.8:53"

type exchangeFunc func(ctx context.Context, msg *dns.Msg, server string) (*dns.Msg, time.Duration, error)

// DNSDriver resolves the endpoint hostname and, when expected_records is
// set, requires every expected record to appear in the answer set.
type DNSDriver struct {
	server   string
	exchange exchangeFunc
}

func NewDNSDriver() *DNSDriver {
	client := &dns.Client{}
	return &DNSDriver{
		server:   DefaultDNSServer,
		exchange: client.ExchangeContext,
	}
}

func (d *DNSDriver) Check(ctx context.Context, ep config.Endpoint) Outcome {
	start := time.Now()
	out := Outcome{CheckedAt: start.UTC()}

	host := strings.TrimPrefix(ep.ResolvedAddr(), "dns://")
	server := ep.DNSServer
	if server == "" {
		server = d.server
	}

	records, errType, err := d.lookup(ctx, host, server)
	out.LatencyMS = millis(start)
	if err != nil {
		out.ErrorType = errType
		out.Error = err.Error()
		return out
	}

	if len(ep.ExpectedRecords) == 0 {
		if len(records) == 0 {
			out.ErrorType = ErrDNS
			out.Error = "DNS resolution returned no records"
			return out
		}
		out.Success = true
		return out
	}

	for _, want := range ep.ExpectedRecords {
		found := false
		for _, got := range records {
			if got == want {
				found = true
				break
			}
		}
		if !found {
			out.ErrorType = ErrDNSMismatch
			out.Error = fmt.Sprintf("expected records %v, got %v", ep.ExpectedRecords, records)
			return out
		}
	}
	out.Success = true
	return out
}

// lookup queries A records, falling back to AAAA when the name has no A
// records, and returns the resolved addresses as strings.
func (d *DNSDriver) lookup(ctx context.Context, host, server string) ([]string, ErrorType, error) {
	var records []string
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		msg := new(dns.Msg)
		msg.SetQuestion(dns.Fqdn(host), qtype)

		resp, _, err := d.exchange(ctx, msg, server)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, ErrTimeout, fmt.Errorf("DNS lookup timed out: %w", err)
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return nil, ErrTimeout, fmt.Errorf("DNS lookup timed out: %w", err)
			}
			return nil, ErrDNS, fmt.Errorf("DNS query failed: %w", err)
		}
		if resp.Rcode == dns.RcodeNameError {
			return nil, ErrDNSNxdomain, fmt.Errorf("no such name: %s", host)
		}
		if resp.Rcode != dns.RcodeSuccess {
			return nil, ErrDNS, fmt.Errorf("DNS error: %s", dns.RcodeToString[resp.Rcode])
		}
		for _, ans := range resp.Answer {
			switch rr := ans.(type) {
			case *dns.A:
				records = append(records, rr.A.String())
			case *dns.AAAA:
				records = append(records, rr.AAAA.String())
			}
		}
		if len(records) > 0 && qtype == dns.TypeA {
			break
		}
	}
	return records, "", nil
}
