package upnp

import (
	"fmt"
	"strings"
)

// Sentinel errors identifying the seven error kinds the library surfaces.
// Wrap one of these with errors.Is/errors.As rather than matching strings.
var (
	ErrValidation = fmt.Errorf("upnpclient: validation error")
	ErrParse      = fmt.Errorf("upnpclient: parse error")
	ErrTransport  = fmt.Errorf("upnpclient: transport error")
	ErrTimeout    = fmt.Errorf("upnpclient: timeout")
	ErrHTTP       = fmt.Errorf("upnpclient: http error")
	ErrSOAPFault  = fmt.Errorf("upnpclient: soap fault")
	ErrDiscovery  = fmt.Errorf("upnpclient: discovery error")
)

// ValidationError reports one or more argument problems found before any
// network I/O took place: bad datatype, out-of-range value, a value outside
// allowed_values, a missing required argument, or an unexpected argument.
type ValidationError struct {
	Action  string
	Reasons map[string]string // argument name -> reason; "" key for action-level reasons
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "upnpclient: validation failed for action %q", e.Action)
	for name, reason := range e.Reasons {
		if name == "" {
			fmt.Fprintf(&b, "; %s", reason)
			continue
		}
		fmt.Fprintf(&b, "; %s: %s", name, reason)
	}
	return b.String()
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// ParseError reports malformed XML, a missing required element, or a
// dangling relatedStateVariable reference.
type ParseError struct {
	Context string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("upnpclient: parse error: %s", e.Context)
	}
	return fmt.Sprintf("upnpclient: parse error: %s: %v", e.Context, e.Err)
}

func (e *ParseError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrParse}
	}
	return []error{ErrParse, e.Err}
}

// TransportError reports connection refused, DNS failure, TLS handshake
// failure, or socket bind failure.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("upnpclient: transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() []error { return []error{ErrTransport, e.Err} }

// TimeoutError reports an operation that exceeded its deadline.
type TimeoutError struct {
	Op  string
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("upnpclient: %s timed out", e.Op)
}

func (e *TimeoutError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrTimeout}
	}
	return []error{ErrTimeout, e.Err}
}

// HTTPError reports a non-2xx HTTP response that did not carry a parseable
// SOAP fault body.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("upnpclient: http error: %s", e.Status)
}

func (e *HTTPError) Unwrap() error { return ErrHTTP }

// SOAPFaultError reports a SOAP 1.1 <Fault> response, optionally carrying a
// UPnP errorCode/errorDescription pair from its <detail>.
type SOAPFaultError struct {
	FaultCode            string
	FaultString          string
	HasUPnPError         bool
	UPnPErrorCode        int
	UPnPErrorDescription string
}

func (e *SOAPFaultError) Error() string {
	if e.HasUPnPError {
		return fmt.Sprintf("upnpclient: soap fault %s (%s): upnp error %d: %s",
			e.FaultCode, e.FaultString, e.UPnPErrorCode, e.UPnPErrorDescription)
	}
	return fmt.Sprintf("upnpclient: soap fault %s (%s)", e.FaultCode, e.FaultString)
}

func (e *SOAPFaultError) Unwrap() error { return ErrSOAPFault }

// DiscoveryError reports that SSDP discovery found no usable network
// interfaces, or that SSDPInPort conflicted with another setting.
type DiscoveryError struct {
	Reason string
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("upnpclient: discovery error: %s", e.Reason)
}

func (e *DiscoveryError) Unwrap() error { return ErrDiscovery }
