package upnp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/flyte/upnpclient/log"
)

// NewDevice fetches location, parses the device-description and every
// referenced SCPD, and returns a fully navigable Device tree (§4.D). opts
// become this Device's stored SessionPolicy, used as the device-level layer
// for every subsequent call unless overridden.
func NewDevice(ctx context.Context, location string, opts ...PolicyOption) (*Device, error) {
	locURL, err := url.Parse(location)
	if err != nil {
		return nil, &ParseError{Context: "parsing device location", Err: err}
	}

	policy := resolvePolicy(defaultPolicy(), opts...)
	client, err := buildHTTPClient(policy)
	if err != nil {
		return nil, err
	}

	root, err := fetchDeviceTree(ctx, client, policy, locURL)
	if err != nil {
		return nil, err
	}

	if err := fillServiceIdentity(ctx, client, policy, root); err != nil {
		return nil, err
	}

	assignFlatServices(root)
	root.serviceIndex = buildServiceIndex(root.Services)

	return root, nil
}

// NewDeviceFromSSDP upgrades an SSDPResponse into a full Device by fetching
// its Location, per §4.E's "optional upgrade".
func NewDeviceFromSSDP(ctx context.Context, resp *SSDPResponse, opts ...PolicyOption) (*Device, error) {
	if resp.Location == nil {
		return nil, &ParseError{Context: "ssdp response has no Location"}
	}
	return NewDevice(ctx, resp.Location.String(), opts...)
}

func fetchDeviceTree(ctx context.Context, client *http.Client, policy *SessionPolicy, location *url.URL) (*Device, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location.String(), nil)
	if err != nil {
		return nil, &TransportError{Op: "building description request", Err: err}
	}
	applyPolicyToRequest(req, policy)

	resp, err := client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, &TimeoutError{Op: "fetching device description", Err: ctxErr}
		}
		return nil, &TransportError{Op: "fetching device description", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return nil, &HTTPError{StatusCode: resp.StatusCode, Status: resp.Status, Body: body}
	}

	var raw rawRoot
	if err := decodeXML(resp.Body, &raw); err != nil {
		return nil, err
	}

	urlBase, err := determineURLBase(location, raw.URLBase)
	if err != nil {
		return nil, &ParseError{Context: "determining URLBase", Err: err}
	}

	device, err := buildDevice(raw.Device, location, urlBase)
	if err != nil {
		return nil, err
	}

	device.policy = policy
	device.client = client
	assignUDNFallbacks(device)

	return device, nil
}

// assignUDNFallbacks synthesizes a UDN for any device whose description
// omitted <UDN>, so that identity-by-UDN dedup and lookups still hold. Real
// hardware always sets UDN; this only guards against malformed documents.
func assignUDNFallbacks(d *Device) {
	if strings.TrimSpace(d.UDN) == "" {
		d.UDN = "uuid:" + uuid.New().String()
		log.Logger().Debug().Str("friendlyName", d.FriendlyName).Msg("device description omitted UDN; synthesized one")
	}
	for _, child := range d.DeviceList {
		child.policy = d.policy
		child.client = d.client
		assignUDNFallbacks(child)
	}
}

// fillServiceIdentity fetches and parses the SCPD of every service in the
// tree.
func fillServiceIdentity(ctx context.Context, client *http.Client, policy *SessionPolicy, d *Device) error {
	for _, svc := range d.directServices {
		if err := fetchSCPD(ctx, client, policy, svc); err != nil {
			return err
		}
	}
	for _, child := range d.DeviceList {
		if err := fillServiceIdentity(ctx, client, policy, child); err != nil {
			return err
		}
	}
	return nil
}

func fetchSCPD(ctx context.Context, client *http.Client, policy *SessionPolicy, svc *Service) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, svc.SCPDURL.String(), nil)
	if err != nil {
		return &TransportError{Op: "building scpd request", Err: err}
	}
	applyPolicyToRequest(req, policy)

	resp, err := client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return &TimeoutError{Op: "fetching scpd", Err: ctxErr}
		}
		return &TransportError{Op: fmt.Sprintf("fetching scpd for %s", svc.ServiceID), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return &HTTPError{StatusCode: resp.StatusCode, Status: resp.Status, Body: body}
	}

	var raw rawSCPD
	if err := decodeXML(resp.Body, &raw); err != nil {
		return err
	}

	return populateSCPD(raw, svc)
}

// Call is a convenience wrapper mirroring the original library's
// CallActionMixin: it finds actionName on any of the device's services and
// invokes it, returning a *ValidationError if no service offers it.
func (d *Device) Call(ctx context.Context, actionName string, args map[string]ArgValue, opts ...PolicyOption) (map[string]ArgValue, error) {
	for _, svc := range d.Services {
		if _, ok := svc.Action(actionName); ok {
			return svc.Call(ctx, actionName, args, opts...)
		}
	}
	return nil, &ValidationError{Action: actionName, Reasons: map[string]string{"": "action does not exist on any service"}}
}

// Call finds actionName on this service and invokes it.
func (s *Service) Call(ctx context.Context, actionName string, args map[string]ArgValue, opts ...PolicyOption) (map[string]ArgValue, error) {
	action, ok := s.Action(actionName)
	if !ok {
		return nil, &ValidationError{Action: actionName, Reasons: map[string]string{"": "action does not exist"}}
	}
	return action.Invoke(ctx, args, opts...)
}

// Invoke validates args against the action's declared in-arguments, makes
// the SOAP call, and decodes the declared out-arguments (§4.C). opts layer
// on top of the owning Device's stored SessionPolicy.
func (a *Action) Invoke(ctx context.Context, args map[string]ArgValue, opts ...PolicyOption) (map[string]ArgValue, error) {
	device := a.service.device
	policy := resolvePolicy(device.policy, opts...)

	client := device.client
	if policy.AllowSelfSignedSSL != device.policy.AllowSelfSignedSSL || policy.Cert != device.policy.Cert ||
		policy.Timeout != device.policy.Timeout {
		c, err := buildHTTPClient(policy)
		if err != nil {
			return nil, err
		}
		client = c
	}

	return invokeAction(ctx, client, policy, a, args)
}
