package upnp

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const igdRootDescXML = `<?xml version="1.0"?>
<root xmlns="urn:schemas-upnp-org:device-1-0">
  <device>
    <deviceType>urn:schemas-upnp-org:device:InternetGatewayDevice:1</deviceType>
    <friendlyName>Test Gateway</friendlyName>
    <manufacturer>Acme</manufacturer>
    <modelName>Router 3000</modelName>
    <UDN>uuid:0a1b2c3d-0000-0000-0000-000000000001</UDN>
    <deviceList>
      <device>
        <deviceType>urn:schemas-upnp-org:device:WANDevice:1</deviceType>
        <friendlyName>WANDevice</friendlyName>
        <UDN>uuid:0a1b2c3d-0000-0000-0000-000000000002</UDN>
        <serviceList>
          <service>
            <serviceType>urn:schemas-upnp-org:service:WANCommonInterfaceConfig:1</serviceType>
            <serviceId>urn:upnp-org:serviceId:WANCommonIFC1</serviceId>
            <controlURL>/upnp/control/WANCommonIFC1</controlURL>
            <eventSubURL>/upnp/event/WANCommonIFC1</eventSubURL>
            <SCPDURL>/WANCommonIFC1.xml</SCPDURL>
          </service>
        </serviceList>
        <deviceList>
          <device>
            <deviceType>urn:schemas-upnp-org:device:WANConnectionDevice:1</deviceType>
            <friendlyName>WANConnectionDevice</friendlyName>
            <UDN>uuid:0a1b2c3d-0000-0000-0000-000000000003</UDN>
            <serviceList>
              <service>
                <serviceType>urn:schemas-upnp-org:service:WANIPConnection:1</serviceType>
                <serviceId>urn:upnp-org:serviceId:WANIPConn1</serviceId>
                <controlURL>/upnp/control/WANIPConn1</controlURL>
                <eventSubURL>/upnp/event/WANIPConn1</eventSubURL>
                <SCPDURL>/WANIPConn1.xml</SCPDURL>
              </service>
            </serviceList>
          </device>
        </deviceList>
      </device>
    </deviceList>
    <serviceList>
      <service>
        <serviceType>urn:schemas-upnp-org:service:Layer3Forwarding:1</serviceType>
        <serviceId>urn:upnp-org:serviceId:Layer3Forwarding1</serviceId>
        <controlURL>/upnp/control/Layer3Forwarding1</controlURL>
        <eventSubURL>/upnp/event/Layer3Forwarding1</eventSubURL>
        <SCPDURL>/Layer3Forwarding1.xml</SCPDURL>
      </service>
    </serviceList>
  </device>
</root>`

const wanIPConnSCPDXML = `<?xml version="1.0"?>
<scpd xmlns="urn:schemas-upnp-org:service-1-0">
  <serviceStateTable>
    <stateVariable sendEvents="no">
      <name>RemoteHost</name>
      <dataType>string</dataType>
    </stateVariable>
    <stateVariable sendEvents="no">
      <name>ExternalPort</name>
      <dataType>ui2</dataType>
    </stateVariable>
    <stateVariable sendEvents="no">
      <name>PortMappingProtocol</name>
      <dataType>string</dataType>
      <allowedValueList>
        <allowedValue>TCP</allowedValue>
        <allowedValue>UDP</allowedValue>
      </allowedValueList>
    </stateVariable>
    <stateVariable sendEvents="no">
      <name>InternalPort</name>
      <dataType>ui2</dataType>
    </stateVariable>
    <stateVariable sendEvents="no">
      <name>InternalClient</name>
      <dataType>string</dataType>
    </stateVariable>
    <stateVariable sendEvents="no">
      <name>PortMappingEnabled</name>
      <dataType>boolean</dataType>
    </stateVariable>
    <stateVariable sendEvents="no">
      <name>PortMappingDescription</name>
      <dataType>string</dataType>
    </stateVariable>
    <stateVariable sendEvents="no">
      <name>PortMappingLeaseDuration</name>
      <dataType>ui4</dataType>
    </stateVariable>
  </serviceStateTable>
  <actionList>
    <action>
      <name>AddPortMapping</name>
      <argumentList>
        <argument>
          <name>NewRemoteHost</name>
          <direction>in</direction>
          <relatedStateVariable>RemoteHost</relatedStateVariable>
        </argument>
        <argument>
          <name>NewExternalPort</name>
          <direction>in</direction>
          <relatedStateVariable>ExternalPort</relatedStateVariable>
        </argument>
        <argument>
          <name>NewProtocol</name>
          <direction>in</direction>
          <relatedStateVariable>PortMappingProtocol</relatedStateVariable>
        </argument>
        <argument>
          <name>NewInternalPort</name>
          <direction>in</direction>
          <relatedStateVariable>InternalPort</relatedStateVariable>
        </argument>
        <argument>
          <name>NewInternalClient</name>
          <direction>in</direction>
          <relatedStateVariable>InternalClient</relatedStateVariable>
        </argument>
        <argument>
          <name>NewEnabled</name>
          <direction>in</direction>
          <relatedStateVariable>PortMappingEnabled</relatedStateVariable>
        </argument>
        <argument>
          <name>NewPortMappingDescription</name>
          <direction>in</direction>
          <relatedStateVariable>PortMappingDescription</relatedStateVariable>
        </argument>
        <argument>
          <name>NewLeaseDuration</name>
          <direction>in</direction>
          <relatedStateVariable>PortMappingLeaseDuration</relatedStateVariable>
        </argument>
      </argumentList>
    </action>
  </actionList>
</scpd>`

const emptySCPDXML = `<?xml version="1.0"?><scpd xmlns="urn:schemas-upnp-org:service-1-0"></scpd>`

func buildTestDevice(t *testing.T) *Device {
	t.Helper()

	loc, err := url.Parse("http://10.0.0.1:80/rootDesc.xml")
	require.NoError(t, err)

	var raw rawRoot
	require.NoError(t, decodeXML(strings.NewReader(igdRootDescXML), &raw))

	urlBase, err := determineURLBase(loc, raw.URLBase)
	require.NoError(t, err)

	device, err := buildDevice(raw.Device, loc, urlBase)
	require.NoError(t, err)

	for _, svc := range flattenDirect(device) {
		body := emptySCPDXML
		if strings.HasSuffix(svc.ServiceID, "WANIPConn1") {
			body = wanIPConnSCPDXML
		}
		var rawSCPDDoc rawSCPD
		require.NoError(t, decodeXML(strings.NewReader(body), &rawSCPDDoc))
		require.NoError(t, populateSCPD(rawSCPDDoc, svc))
	}

	assignFlatServices(device)
	device.serviceIndex = buildServiceIndex(device.Services)
	return device
}

func flattenDirect(d *Device) []*Service {
	out := append([]*Service(nil), d.directServices...)
	for _, c := range d.DeviceList {
		out = append(out, flattenDirect(c)...)
	}
	return out
}

func TestBuildDevice_RootAndSCPDParse(t *testing.T) {
	device := buildTestDevice(t)

	require.Len(t, device.Services, 3)
	ids := make([]string, len(device.Services))
	for i, s := range device.Services {
		ids[i] = s.ServiceID
	}
	assert.ElementsMatch(t, []string{
		"urn:upnp-org:serviceId:Layer3Forwarding1",
		"urn:upnp-org:serviceId:WANCommonIFC1",
		"urn:upnp-org:serviceId:WANIPConn1",
	}, ids)
}

func TestAction_ArgsInOrderAndSchema(t *testing.T) {
	device := buildTestDevice(t)

	svc, ok := device.Service("WANIPConn1")
	require.True(t, ok)

	action, ok := svc.Action("AddPortMapping")
	require.True(t, ok)

	require.Len(t, action.ArgsIn, 8)
	wantOrder := []string{
		"NewRemoteHost", "NewExternalPort", "NewProtocol", "NewInternalPort",
		"NewInternalClient", "NewEnabled", "NewPortMappingDescription", "NewLeaseDuration",
	}
	for i, name := range wantOrder {
		assert.Equal(t, name, action.ArgsIn[i].Name)
	}

	var protocolArg, portArg NamedArgDef
	for _, a := range action.ArgsIn {
		switch a.Name {
		case "NewProtocol":
			protocolArg = a
		case "NewExternalPort":
			portArg = a
		}
	}
	assert.Equal(t, "ui2", portArg.Def.DataType)
	_, hasTCP := protocolArg.Def.AllowedValues["TCP"]
	_, hasUDP := protocolArg.Def.AllowedValues["UDP"]
	assert.True(t, hasTCP)
	assert.True(t, hasUDP)
}

func TestDevice_ServiceLookupThreeForms(t *testing.T) {
	device := buildTestDevice(t)

	full, ok := device.Service("urn:upnp-org:serviceId:WANIPConn1")
	require.True(t, ok)

	bySegment, ok := device.Service("WANIPConn1")
	require.True(t, ok)

	assert.Same(t, full, bySegment)

	bySanitised, ok := device.Service("urnupnporgserviceIdWANIPConn1")
	require.True(t, ok)

	assert.Same(t, full, bySanitised)
}

func TestPopulateSCPD_DanglingRelatedStateVariableIsParseError(t *testing.T) {
	svc := &Service{StateVars: make(map[string]*StateVariable), device: &Device{}}
	raw := rawSCPD{
		ActionList: []rawAction{{
			Name: "Broken",
			Arguments: []rawArgument{{
				Name: "NewThing", Direction: "in", RelatedStateVariable: "DoesNotExist",
			}},
		}},
	}
	err := populateSCPD(raw, svc)
	assert.Error(t, err)
	assert.ErrorIs(t, err, ErrParse)
}
