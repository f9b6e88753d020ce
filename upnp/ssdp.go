package upnp

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/jackpal/gateway"
	"golang.org/x/net/ipv4"

	"github.com/flyte/upnpclient/log"
)

// multicastAddr is the well-known SSDP multicast group and port (§6).
var multicastAddr = &net.UDPAddr{IP: net.IPv4(239, 255, 255, 250), Port: 1900}

const defaultST = "ssdp:all"

// DiscoverOptions configures one Discover call, per §4.E.
type DiscoverOptions struct {
	// MX is the advertised max-wait in the M-SEARCH request. Defaults to
	// timeout truncated to whole seconds if zero. Must not exceed timeout.
	MX time.Duration
	// ST is the search target. Defaults to "ssdp:all".
	ST string
}

// Discover runs one SSDP M-SEARCH round across every routable local IPv4
// interface, collecting unique (by USN, first-wins) responses until timeout
// elapses. Each interface's responses are kept in arrival order and added as
// one batch when that interface's receive loop ends, so between interfaces
// "first" follows the order in which their loops finish, not arrival time.
// It is a blocking call per §5: no background goroutines survive its return.
func Discover(ctx context.Context, timeout time.Duration, opts DiscoverOptions, policyOpts ...PolicyOption) ([]*SSDPResponse, error) {
	st := opts.ST
	if st == "" {
		st = defaultST
	}
	mx := opts.MX
	if mx == 0 {
		mx = truncateToSeconds(timeout)
	}
	if mx > timeout {
		return nil, &ValidationError{Action: "discover", Reasons: map[string]string{"mx": "mx must not exceed timeout"}}
	}
	if mx < 0 {
		return nil, &ValidationError{Action: "discover", Reasons: map[string]string{"mx": "mx must be non-negative"}}
	}

	policy := resolvePolicy(defaultPolicy(), policyOpts...)

	ifaces, err := routableIPv4Interfaces()
	if err != nil {
		return nil, &DiscoveryError{Reason: fmt.Sprintf("enumerating interfaces: %v", err)}
	}
	if len(ifaces) == 0 {
		return nil, &DiscoveryError{Reason: "no routable IPv4 interfaces found"}
	}
	ifaces = rankByGateway(ifaces)

	deadline := time.Now().Add(timeout)
	payload := buildMSearch(st, mx)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		collected []*SSDPResponse
		failures  int
		succeeded int
	)

	for _, ifc := range ifaces {
		wg.Add(1)
		go func(ifc net.Interface) {
			defer wg.Done()
			responses, err := discoverOnInterface(ctx, ifc, payload, deadline, policy.SSDPInPort)
			if err != nil {
				mu.Lock()
				failures++
				mu.Unlock()
				log.Logger().Debug().Err(err).Str("interface", ifc.Name).Msg("ssdp discovery failed on interface")
				return
			}
			mu.Lock()
			succeeded++
			collected = append(collected, responses...)
			mu.Unlock()
		}(ifc)
	}
	wg.Wait()

	if succeeded == 0 && failures > 0 {
		return nil, &DiscoveryError{Reason: "ssdp discovery failed on every interface"}
	}

	return dedupeByUSN(collected), nil
}

// dedupeByUSN keeps, for each distinct USN, the first response encountered
// in responses' order (§4.E/§8).
func dedupeByUSN(responses []*SSDPResponse) []*SSDPResponse {
	seen := make(map[string]struct{}, len(responses))
	out := make([]*SSDPResponse, 0, len(responses))
	for _, r := range responses {
		if _, dup := seen[r.USN]; dup {
			continue
		}
		seen[r.USN] = struct{}{}
		out = append(out, r)
	}
	return out
}

func truncateToSeconds(d time.Duration) time.Duration {
	return (d / time.Second) * time.Second
}

// buildMSearch renders the exact CRLF-terminated M-SEARCH request §4.E/§6
// specify, with a trailing blank line.
func buildMSearch(st string, mx time.Duration) []byte {
	lines := []string{
		"M-SEARCH * HTTP/1.1",
		fmt.Sprintf("HOST: %s", multicastAddr.String()),
		`MAN: "ssdp:discover"`,
		fmt.Sprintf("MX: %d", int(mx/time.Second)),
		fmt.Sprintf("ST: %s", st),
		"",
		"",
	}
	return []byte(strings.Join(lines, "\r\n"))
}

// routableIPv4Interfaces returns every up, multicast-capable interface that
// owns at least one non-loopback IPv4 address.
func routableIPv4Interfaces() ([]net.Interface, error) {
	all, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	var out []net.Interface
	for _, ifc := range all {
		if ifc.Flags&net.FlagUp == 0 || ifc.Flags&net.FlagMulticast == 0 {
			continue
		}
		addrs, err := ifc.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipNet.IP.To4()
			if ip4 == nil || ip4.IsLoopback() {
				continue
			}
			out = append(out, ifc)
			break
		}
	}
	return out, nil
}

// rankByGateway moves the interface whose subnet owns the default gateway
// to the front, best-effort, so its discovery goroutine is started first.
// It does not decide which duplicate Discover keeps. Failure to determine
// the gateway is never fatal; discovery proceeds over every interface
// regardless.
func rankByGateway(ifaces []net.Interface) []net.Interface {
	gw, err := gateway.DiscoverGateway()
	if err != nil || gw == nil {
		return ifaces
	}
	for i, ifc := range ifaces {
		addrs, err := ifc.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if ok && ipNet.Contains(gw) {
				ranked := make([]net.Interface, 0, len(ifaces))
				ranked = append(ranked, ifc)
				ranked = append(ranked, ifaces[:i]...)
				ranked = append(ranked, ifaces[i+1:]...)
				return ranked
			}
		}
	}
	return ifaces
}

// discoverOnInterface sends one M-SEARCH on ifc and collects responses until
// deadline, waking at least once per min(remaining, 1s) to respect ctx
// cancellation per §5.
func discoverOnInterface(ctx context.Context, ifc net.Interface, payload []byte, deadline time.Time, inPort int) ([]*SSDPResponse, error) {
	conn, err := net.ListenMulticastUDP("udp4", &ifc, &net.UDPAddr{IP: multicastAddr.IP, Port: inPort})
	if err != nil {
		if strings.Contains(err.Error(), "no such network interface") {
			return nil, nil
		}
		return nil, &TransportError{Op: fmt.Sprintf("binding ssdp socket on %s", ifc.Name), Err: err}
	}
	defer conn.Close()

	pc := ipv4.NewPacketConn(conn)
	if err := pc.SetMulticastTTL(2); err != nil {
		return nil, &TransportError{Op: fmt.Sprintf("setting multicast ttl on %s", ifc.Name), Err: err}
	}
	_ = pc.SetMulticastInterface(&ifc)

	if _, err := conn.WriteTo(payload, multicastAddr); err != nil {
		return nil, &TransportError{Op: fmt.Sprintf("sending m-search on %s", ifc.Name), Err: err}
	}

	var responses []*SSDPResponse
	buf := make([]byte, 65535)

	for {
		if ctx.Err() != nil {
			return responses, nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return responses, nil
		}
		wake := remaining
		if wake > time.Second {
			wake = time.Second
		}
		if err := conn.SetReadDeadline(time.Now().Add(wake)); err != nil {
			return responses, &TransportError{Op: fmt.Sprintf("setting read deadline on %s", ifc.Name), Err: err}
		}

		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return responses, nil
		}
		if n == 0 {
			continue
		}

		resp, err := parseSSDPResponse(buf[:n])
		if err != nil {
			log.Logger().Debug().Err(err).Msg("discarding unparseable ssdp datagram")
			continue
		}
		responses = append(responses, resp)
	}
}
