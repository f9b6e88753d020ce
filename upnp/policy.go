package upnp

import (
	"crypto/tls"
	"net/http"
	"time"
)

// HTTPAuth is an opaque HTTP Basic credential applied to every request a
// Device or Service makes.
type HTTPAuth struct {
	Username string
	Password string
}

// ClientCert names a PEM-encoded client certificate/key pair used for TLS
// client authentication against an https:// description URL.
type ClientCert struct {
	CertFile string
	KeyFile  string
}

// SessionPolicy holds the per-device HTTP auth, header, timeout, and TLS
// trust settings described in §4.F. Every policy is resolved on top of the
// library default: no auth, no extra headers, a 30s timeout, strict TLS
// verification. The zero value itself has a zero Timeout, which leaves the
// HTTP client without a timeout.
type SessionPolicy struct {
	HTTPAuth           *HTTPAuth
	HTTPHeaders        http.Header
	Timeout            time.Duration
	AllowSelfSignedSSL bool
	Cert               *ClientCert
	SSDPInPort         int
}

// DefaultTimeout is the SOAP/HTTP timeout applied when a SessionPolicy
// leaves Timeout unset, per §4.C.
const DefaultTimeout = 30 * time.Second

func defaultPolicy() *SessionPolicy {
	return &SessionPolicy{
		HTTPHeaders: make(http.Header),
		Timeout:     DefaultTimeout,
	}
}

func (p *SessionPolicy) clone() *SessionPolicy {
	if p == nil {
		return defaultPolicy()
	}
	c := *p
	c.HTTPHeaders = p.HTTPHeaders.Clone()
	if c.HTTPHeaders == nil {
		c.HTTPHeaders = make(http.Header)
	}
	return &c
}

// PolicyOption mutates a SessionPolicy. Options are applied in three layers,
// shallowest wins: per-call options are applied after device-level options,
// which are applied after the library defaults.
type PolicyOption func(*SessionPolicy)

// WithHTTPAuth sets the HTTP Basic credential used for requests.
func WithHTTPAuth(a *HTTPAuth) PolicyOption {
	return func(p *SessionPolicy) { p.HTTPAuth = a }
}

// WithNoHTTPAuth explicitly clears any HTTP auth set by a shallower layer —
// the "explicit null" case in §4.F's layering rule.
func WithNoHTTPAuth() PolicyOption {
	return func(p *SessionPolicy) { p.HTTPAuth = nil }
}

// WithHTTPHeaders merges h into the outgoing request headers.
func WithHTTPHeaders(h http.Header) PolicyOption {
	return func(p *SessionPolicy) {
		for k, vs := range h {
			for _, v := range vs {
				p.HTTPHeaders.Add(k, v)
			}
		}
	}
}

// WithTimeout overrides the HTTP timeout.
func WithTimeout(d time.Duration) PolicyOption {
	return func(p *SessionPolicy) { p.Timeout = d }
}

// WithAllowSelfSignedSSL relaxes TLS certificate verification.
func WithAllowSelfSignedSSL(allow bool) PolicyOption {
	return func(p *SessionPolicy) { p.AllowSelfSignedSSL = allow }
}

// WithClientCert supplies a TLS client certificate for https:// endpoints.
func WithClientCert(c *ClientCert) PolicyOption {
	return func(p *SessionPolicy) { p.Cert = c }
}

// WithSSDPInPort fixes the local UDP port SSDP discovery binds to instead of
// an ephemeral one.
func WithSSDPInPort(port int) PolicyOption {
	return func(p *SessionPolicy) { p.SSDPInPort = port }
}

func resolvePolicy(base *SessionPolicy, opts ...PolicyOption) *SessionPolicy {
	p := base.clone()
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func applyPolicyToRequest(req *http.Request, p *SessionPolicy) {
	if p == nil {
		return
	}
	for k, vs := range p.HTTPHeaders {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if p.HTTPAuth != nil {
		req.SetBasicAuth(p.HTTPAuth.Username, p.HTTPAuth.Password)
	}
}

// buildHTTPClient constructs an *http.Client honouring the timeout and,
// for https:// endpoints, the TLS trust and client-certificate settings of
// p.
func buildHTTPClient(p *SessionPolicy) (*http.Client, error) {
	client := &http.Client{Timeout: p.Timeout}

	tlsConfig := &tls.Config{}
	needsTransport := false

	if p.AllowSelfSignedSSL {
		tlsConfig.InsecureSkipVerify = true
		needsTransport = true
	}
	if p.Cert != nil {
		cert, err := tls.LoadX509KeyPair(p.Cert.CertFile, p.Cert.KeyFile)
		if err != nil {
			return nil, &TransportError{Op: "loading client certificate", Err: err}
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
		needsTransport = true
	}
	if needsTransport {
		client.Transport = &http.Transport{TLSClientConfig: tlsConfig}
	}

	return client, nil
}
