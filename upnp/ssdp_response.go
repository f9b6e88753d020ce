package upnp

import (
	"bufio"
	"bytes"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// SSDPResponse is one parsed M-SEARCH response, per §4.E.
type SSDPResponse struct {
	Location *url.URL
	Server   string
	ST       string
	USN      string
	Ext      string
	Host     string
	MaxAge   time.Duration
	Headers  http.Header
}

// parseSSDPResponse parses a raw UDP datagram as an HTTP/1.1 status line
// plus headers, the wire format SSDP reuses for M-SEARCH responses.
func parseSSDPResponse(raw []byte) (*SSDPResponse, error) {
	resp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(raw)), nil)
	if err != nil {
		return nil, &ParseError{Context: "parsing ssdp response", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &ParseError{Context: "ssdp response status was not 200 OK"}
	}

	out := &SSDPResponse{
		Server:  resp.Header.Get("Server"),
		ST:      resp.Header.Get("ST"),
		USN:     resp.Header.Get("USN"),
		Ext:     resp.Header.Get("Ext"),
		Host:    resp.Header.Get("Host"),
		Headers: resp.Header,
	}

	if loc := strings.TrimSpace(resp.Header.Get("Location")); loc != "" {
		locURL, err := url.Parse(loc)
		if err != nil {
			return nil, &ParseError{Context: "parsing ssdp Location header", Err: err}
		}
		out.Location = locURL
	}

	if cc := resp.Header.Get("Cache-Control"); cc != "" {
		out.MaxAge = parseMaxAge(cc)
	}

	return out, nil
}

// parseMaxAge extracts the max-age directive from a Cache-Control header
// such as "max-age=1800". An absent or malformed directive yields 0.
func parseMaxAge(cacheControl string) time.Duration {
	for _, directive := range strings.Split(cacheControl, ",") {
		directive = strings.TrimSpace(directive)
		k, v, ok := strings.Cut(directive, "=")
		if !ok || !strings.EqualFold(strings.TrimSpace(k), "max-age") {
			continue
		}
		secs, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			continue
		}
		return time.Duration(secs) * time.Second
	}
	return 0
}
