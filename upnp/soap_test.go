package upnp

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testWANIPConnAction(t *testing.T, controlURL *url.URL) *Action {
	t.Helper()
	svc := &Service{
		ServiceType: "urn:schemas-upnp-org:service:WANIPConnection:1",
		ServiceID:   "urn:upnp-org:serviceId:WANIPConn1",
		ControlURL:  controlURL,
		StateVars:   make(map[string]*StateVariable),
	}
	var rawSCPDDoc rawSCPD
	require.NoError(t, decodeXML(strings.NewReader(wanIPConnSCPDXML), &rawSCPDDoc))
	require.NoError(t, populateSCPD(rawSCPDDoc, svc))
	svc.device = &Device{}
	action, ok := svc.Action("AddPortMapping")
	require.True(t, ok)
	action.service.device.policy = defaultPolicy()
	return action
}

func addPortMappingArgs() map[string]ArgValue {
	return map[string]ArgValue{
		"NewRemoteHost":             StringArg("0.0.0.0"),
		"NewExternalPort":           IntArg(12345),
		"NewProtocol":               StringArg("TCP"),
		"NewInternalPort":           IntArg(12345),
		"NewInternalClient":         StringArg("192.168.1.10"),
		"NewEnabled":                StringArg("1"),
		"NewPortMappingDescription": StringArg("Testing"),
		"NewLeaseDuration":          IntArg(10000),
	}
}

func TestInvokeAction_HappyPath(t *testing.T) {
	var gotSOAPAction, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotSOAPAction = r.Header.Get("SOAPACTION")
		w.Header().Set("Content-Type", "text/xml")
		fmt.Fprint(w, `<?xml version="1.0"?>
<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/">
  <s:Body>
    <u:AddPortMappingResponse xmlns:u="urn:schemas-upnp-org:service:WANIPConnection:1"></u:AddPortMappingResponse>
  </s:Body>
</s:Envelope>`)
	}))
	defer srv.Close()

	controlURL, err := url.Parse(srv.URL)
	require.NoError(t, err)

	action := testWANIPConnAction(t, controlURL)
	client := &http.Client{}

	out, err := invokeAction(context.Background(), client, defaultPolicy(), action, addPortMappingArgs())
	require.NoError(t, err)
	assert.Empty(t, out)

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, `"urn:schemas-upnp-org:service:WANIPConnection:1#AddPortMapping"`, gotSOAPAction)
}

func TestInvokeAction_SOAPFaultSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/xml")
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `<?xml version="1.0"?>
<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/">
  <s:Body>
    <s:Fault>
      <faultcode>s:Client</faultcode>
      <faultstring>UPnPError</faultstring>
      <detail>
        <UPnPError xmlns="urn:schemas-upnp-org:control-1-0">
          <errorCode>718</errorCode>
          <errorDescription>ConflictInMappingEntry</errorDescription>
        </UPnPError>
      </detail>
    </s:Fault>
  </s:Body>
</s:Envelope>`)
	}))
	defer srv.Close()

	controlURL, err := url.Parse(srv.URL)
	require.NoError(t, err)

	action := testWANIPConnAction(t, controlURL)
	client := &http.Client{}

	_, err = invokeAction(context.Background(), client, defaultPolicy(), action, addPortMappingArgs())
	require.Error(t, err)

	var fault *SOAPFaultError
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, 718, fault.UPnPErrorCode)
	assert.Equal(t, "ConflictInMappingEntry", fault.UPnPErrorDescription)
}

func TestInvokeAction_ValidationShortCircuitsNoHTTPCall(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	controlURL, err := url.Parse(srv.URL)
	require.NoError(t, err)

	action := testWANIPConnAction(t, controlURL)
	client := &http.Client{}

	args := addPortMappingArgs()
	args["NewProtocol"] = StringArg("ICMP")

	_, err = invokeAction(context.Background(), client, defaultPolicy(), action, args)
	require.Error(t, err)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.False(t, called, "an invalid argument must prevent any network call")
}
