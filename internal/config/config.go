package config

import (
	"fmt"
	"hash/fnv"
	"net/url"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Kind selects which driver probes an endpoint.
type Kind string

const (
	KindHTTP Kind = "http"
	KindTCP  Kind = "tcp"
	KindDNS  Kind = "dns"
)

// Endpoint is one monitoring target. Immutable after load; the scheduler
// compares endpoints across reloads by Name and Hash().
type Endpoint struct {
	Name                string
	Addr                string
	Kind                Kind
	Description         string
	Group               string
	Tags                []string
	Interval            time.Duration
	Timeout             time.Duration
	ExpectedStatus      int
	SkipTLSVerification bool
	Method              string
	Headers             map[string]string
	Body                string
	Retries             int
	RetryDelay          time.Duration
	AlertAfterFailures  int
	AlertChannels       []string
	ExpectedRecords     []string
	DNSServer           string
}

type ServerConfig struct {
	Addr                 string
	ReloadConfigInterval time.Duration
}

type Config struct {
	Server    ServerConfig
	Endpoints []Endpoint
}

// Warning is a non-fatal validation finding. The configured value is still
// honored.
type Warning struct {
	Endpoint string
	Message  string
}

var envVarPattern = regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*)\}`)

// SubstituteEnv replaces ${VAR} tokens with values from the process
// environment. Unset variables substitute as the empty string. Headers and
// bodies are substituted at request time so rotated secrets take effect
// without a reload.
func SubstituteEnv(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(m string) string {
		name := envVarPattern.FindStringSubmatch(m)[1]
		return os.Getenv(name)
	})
}

// ResolvedAddr returns the address with ${VAR} tokens substituted.
func (e Endpoint) ResolvedAddr() string {
	return SubstituteEnv(e.Addr)
}

// ResolvedHeaders substitutes ${VAR} tokens in header values.
func (e Endpoint) ResolvedHeaders() map[string]string {
	if len(e.Headers) == 0 {
		return nil
	}
	out := make(map[string]string, len(e.Headers))
	for k, v := range e.Headers {
		out[k] = SubstituteEnv(v)
	}
	return out
}

// ResolvedBody substitutes ${VAR} tokens in the request body.
func (e Endpoint) ResolvedBody() string {
	return SubstituteEnv(e.Body)
}

// Hash is a structural hash over the whole endpoint definition. Endpoints
// whose hash differs across a reload get their task restarted, so any config
// edit (including display-only fields) takes effect on the next reconcile.
func (e Endpoint) Hash() uint64 {
	h := fnv.New64a()
	w := func(parts ...string) {
		for _, p := range parts {
			h.Write([]byte(p))
			h.Write([]byte{0})
		}
	}
	// Each list is prefixed with its field name and length so elements can
	// never be attributed to a neighboring field.
	list := func(field string, items []string) {
		w(fmt.Sprintf("%s#%d", field, len(items)))
		w(items...)
	}
	w(e.Name, e.Addr, string(e.Kind), e.Method, e.Body, e.DNSServer)
	w(e.Description, e.Group)
	w(e.Interval.String(), e.Timeout.String(), e.RetryDelay.String())
	w(fmt.Sprintf("%d|%d|%d|%t", e.ExpectedStatus, e.Retries, e.AlertAfterFailures, e.SkipTLSVerification))

	keys := make([]string, 0, len(e.Headers))
	for k := range e.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	w(fmt.Sprintf("headers#%d", len(keys)))
	for _, k := range keys {
		w(k, e.Headers[k])
	}
	list("tags", e.Tags)
	list("channels", e.AlertChannels)
	list("records", e.ExpectedRecords)
	return h.Sum64()
}

type rawEndpoint struct {
	Addr                string            `mapstructure:"addr"`
	Type                string            `mapstructure:"type"`
	Description         string            `mapstructure:"description"`
	Group               string            `mapstructure:"group"`
	Tags                []string          `mapstructure:"tags"`
	Interval            int               `mapstructure:"interval"`
	Timeout             int               `mapstructure:"timeout"`
	ExpectedStatus      int               `mapstructure:"expected_status"`
	SkipTLSVerification bool              `mapstructure:"skip_tls_verification"`
	Method              string            `mapstructure:"method"`
	Headers             map[string]string `mapstructure:"headers"`
	Body                string            `mapstructure:"body"`
	Retries             int               `mapstructure:"retries"`
	RetryDelay          *int              `mapstructure:"retry_delay"`
	AlertAfterFailures  *int              `mapstructure:"alert_after_failures"`
	AlertChannels       []string          `mapstructure:"alert_channels"`
	ExpectedRecords     []string          `mapstructure:"expected_records"`
	DNSServer           string            `mapstructure:"dns_server"`
}

type rawConfig struct {
	Server struct {
		Addr                 string `mapstructure:"addr"`
		ReloadConfigInterval *int   `mapstructure:"reload_config_interval"`
	} `mapstructure:"server"`
	Endpoints map[string]rawEndpoint `mapstructure:"endpoints"`
}

const (
	defaultInterval           = 60 * time.Second
	defaultTimeout            = 10 * time.Second
	defaultExpectedStatus     = 200
	defaultRetryDelay         = 5 * time.Second
	defaultAlertAfterFailures = 3
	defaultReloadInterval     = 60 * time.Second
)

// Load reads and validates the TOML config file. Validation errors are fatal
// for the snapshot being loaded; warnings are returned for the caller to log.
func Load(path string) (*Config, []Warning, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var raw rawConfig
	if err := v.Unmarshal(&raw); err != nil {
		return nil, nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Addr:                 raw.Server.Addr,
			ReloadConfigInterval: defaultReloadInterval,
		},
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":3000"
	}
	if raw.Server.ReloadConfigInterval != nil {
		cfg.Server.ReloadConfigInterval = time.Duration(*raw.Server.ReloadConfigInterval) * time.Second
	}

	for name, re := range raw.Endpoints {
		cfg.Endpoints = append(cfg.Endpoints, fromRaw(name, re))
	}
	sort.Slice(cfg.Endpoints, func(i, j int) bool { return cfg.Endpoints[i].Name < cfg.Endpoints[j].Name })

	warnings, err := Validate(cfg.Endpoints)
	if err != nil {
		return nil, warnings, err
	}
	return cfg, warnings, nil
}

func fromRaw(name string, re rawEndpoint) Endpoint {
	e := Endpoint{
		Name:                name,
		Addr:                re.Addr,
		Kind:                Kind(strings.ToLower(re.Type)),
		Description:         re.Description,
		Group:               re.Group,
		Tags:                re.Tags,
		Interval:            time.Duration(re.Interval) * time.Second,
		Timeout:             time.Duration(re.Timeout) * time.Second,
		ExpectedStatus:      re.ExpectedStatus,
		SkipTLSVerification: re.SkipTLSVerification,
		Method:              strings.ToUpper(re.Method),
		Headers:             re.Headers,
		Body:                re.Body,
		Retries:             re.Retries,
		RetryDelay:          defaultRetryDelay,
		AlertAfterFailures:  defaultAlertAfterFailures,
		AlertChannels:       re.AlertChannels,
		ExpectedRecords:     re.ExpectedRecords,
		DNSServer:           re.DNSServer,
	}
	if e.Kind == "" {
		e.Kind = KindHTTP
	}
	if e.Interval == 0 {
		e.Interval = defaultInterval
	}
	if e.Timeout == 0 {
		e.Timeout = defaultTimeout
	}
	if e.ExpectedStatus == 0 {
		e.ExpectedStatus = defaultExpectedStatus
	}
	if e.Method == "" {
		e.Method = "GET"
	}
	if re.RetryDelay != nil {
		e.RetryDelay = time.Duration(*re.RetryDelay) * time.Second
	}
	if re.AlertAfterFailures != nil {
		e.AlertAfterFailures = *re.AlertAfterFailures
	}
	return e
}

// Validate checks endpoint invariants. The returned error aggregates every
// fatal finding; warnings are advisory only.
func Validate(endpoints []Endpoint) ([]Warning, error) {
	var warnings []Warning
	var errs []string

	for _, e := range endpoints {
		if e.Kind != KindHTTP && e.Kind != KindTCP && e.Kind != KindDNS {
			errs = append(errs, fmt.Sprintf("[%s] unknown check type %q", e.Name, e.Kind))
			continue
		}
		if e.Timeout >= e.Interval {
			errs = append(errs, fmt.Sprintf("[%s] timeout (%s) must be less than interval (%s)", e.Name, e.Timeout, e.Interval))
		}
		switch e.Kind {
		case KindHTTP:
			addr := e.ResolvedAddr()
			if u, err := url.Parse(addr); err != nil || u.Scheme == "" || u.Host == "" {
				errs = append(errs, fmt.Sprintf("[%s] invalid URL %q", e.Name, addr))
			}
		case KindTCP:
			addr := strings.TrimPrefix(e.Addr, "tcp://")
			if !strings.Contains(addr, ":") {
				errs = append(errs, fmt.Sprintf("[%s] TCP address %q must include port (host:port)", e.Name, e.Addr))
			}
		case KindDNS:
			addr := strings.TrimPrefix(e.Addr, "dns://")
			if strings.Contains(addr, "://") {
				errs = append(errs, fmt.Sprintf("[%s] DNS address %q should be a hostname, not a URL", e.Name, e.Addr))
			}
		}
		if e.Interval < 10*time.Second {
			warnings = append(warnings, Warning{
				Endpoint: e.Name,
				Message:  fmt.Sprintf("interval (%s) is very aggressive, consider >= 10s", e.Interval),
			})
		}
		if e.Retries > 0 && e.RetryDelay == 0 {
			warnings = append(warnings, Warning{
				Endpoint: e.Name,
				Message:  "retries configured but retry_delay is 0",
			})
		}
	}

	if len(errs) > 0 {
		return warnings, fmt.Errorf("configuration errors:\n  %s", strings.Join(errs, "\n  "))
	}
	return warnings, nil
}
