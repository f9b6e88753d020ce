package upnp

import (
	"encoding/xml"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/html/charset"
)

// decodeXML decodes src (a device-description or SCPD document) into doc,
// tolerating non-UTF-8 encodings some vendors emit — the same
// CharsetReader wiring used by github.com/huin/goupnp.
func decodeXML(src io.Reader, doc interface{}) error {
	dec := xml.NewDecoder(src)
	dec.CharsetReader = charset.NewReaderLabel
	dec.Strict = false
	if err := dec.Decode(doc); err != nil {
		return &ParseError{Context: "decoding xml", Err: err}
	}
	return nil
}

type rawRoot struct {
	XMLName  xml.Name  `xml:"root"`
	URLBase  string    `xml:"URLBase"`
	Device   rawDevice `xml:"device"`
}

type rawDevice struct {
	DeviceType       string       `xml:"deviceType"`
	FriendlyName     string       `xml:"friendlyName"`
	Manufacturer     string       `xml:"manufacturer"`
	ManufacturerURL  string       `xml:"manufacturerURL"`
	ModelDescription string       `xml:"modelDescription"`
	ModelName        string       `xml:"modelName"`
	ModelNumber      string       `xml:"modelNumber"`
	ModelURL         string       `xml:"modelURL"`
	SerialNumber     string       `xml:"serialNumber"`
	UDN              string       `xml:"UDN"`
	UPC              string       `xml:"UPC"`
	PresentationURL  string       `xml:"presentationURL"`
	ServiceList      []rawService `xml:"serviceList>service"`
	DeviceList       []rawDevice  `xml:"deviceList>device"`
}

type rawService struct {
	ServiceType string `xml:"serviceType"`
	ServiceID  string `xml:"serviceId"`
	SCPDURL    string `xml:"SCPDURL"`
	ControlURL string `xml:"controlURL"`
	EventSubURL string `xml:"eventSubURL"`
}

type rawSCPD struct {
	XMLName           xml.Name       `xml:"scpd"`
	ActionList        []rawAction    `xml:"actionList>action"`
	ServiceStateTable []rawStateVar  `xml:"serviceStateTable>stateVariable"`
}

type rawAction struct {
	Name      string        `xml:"name"`
	Arguments []rawArgument `xml:"argumentList>argument"`
}

type rawArgument struct {
	Name                  string `xml:"name"`
	Direction             string `xml:"direction"`
	RelatedStateVariable  string `xml:"relatedStateVariable"`
}

type rawStateVar struct {
	SendEvents        string                `xml:"sendEvents,attr"`
	Name              string                `xml:"name"`
	DataType          string                `xml:"dataType"`
	DefaultValue      *string               `xml:"defaultValue"`
	AllowedValueList  *rawAllowedValueList  `xml:"allowedValueList"`
	AllowedValueRange *rawAllowedValueRange `xml:"allowedValueRange"`
}

type rawAllowedValueList struct {
	AllowedValue []string `xml:"allowedValue"`
}

type rawAllowedValueRange struct {
	Minimum string `xml:"minimum"`
	Maximum string `xml:"maximum"`
	Step    string `xml:"step"`
}

// resolveURL resolves ref against base, the way urljoin/ResolveReference
// does: an absent or empty ref yields base itself.
func resolveURL(base *url.URL, ref string) (*url.URL, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return base, nil
	}
	parsed, err := url.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", ref, err)
	}
	return base.ResolveReference(parsed), nil
}

// determineURLBase implements §4.B's URLBase rule: an explicit <URLBase>
// wins; otherwise the base is computed from the description location by
// stripping its path back to the last '/'.
func determineURLBase(location *url.URL, urlBaseStr string) (*url.URL, error) {
	urlBaseStr = strings.TrimSpace(urlBaseStr)
	if urlBaseStr == "" {
		base := *location
		base.Path = base.Path[:strings.LastIndex(base.Path, "/")+1]
		base.RawPath = ""
		base.RawQuery = ""
		base.Fragment = ""
		return &base, nil
	}
	return resolveURL(location, urlBaseStr)
}

// buildDevice projects a rawDevice (and, recursively, its embedded devices)
// into a *Device tree, resolving every service's SCPDURL/controlURL/
// eventSubURL against urlBase.
func buildDevice(raw rawDevice, location, urlBase *url.URL) (*Device, error) {
	d := &Device{
		Location:         location,
		URLBase:          urlBase,
		DeviceType:       raw.DeviceType,
		FriendlyName:     raw.FriendlyName,
		Manufacturer:     raw.Manufacturer,
		ManufacturerURL:  raw.ManufacturerURL,
		ModelDescription: raw.ModelDescription,
		ModelName:        raw.ModelName,
		ModelNumber:      raw.ModelNumber,
		ModelURL:         raw.ModelURL,
		SerialNumber:     raw.SerialNumber,
		UDN:              raw.UDN,
		UPC:              raw.UPC,
		PresentationURL:  raw.PresentationURL,
	}

	for _, rs := range raw.ServiceList {
		scpdURL, err := resolveURL(urlBase, rs.SCPDURL)
		if err != nil {
			return nil, &ParseError{Context: "resolving SCPDURL", Err: err}
		}
		controlURL, err := resolveURL(urlBase, rs.ControlURL)
		if err != nil {
			return nil, &ParseError{Context: "resolving controlURL", Err: err}
		}
		eventSubURL, err := resolveURL(urlBase, rs.EventSubURL)
		if err != nil {
			return nil, &ParseError{Context: "resolving eventSubURL", Err: err}
		}
		svc := &Service{
			ServiceType: rs.ServiceType,
			ServiceID:   rs.ServiceID,
			SCPDURL:     scpdURL,
			ControlURL:  controlURL,
			EventSubURL: eventSubURL,
			StateVars:   make(map[string]*StateVariable),
			device:      d,
		}
		d.directServices = append(d.directServices, svc)
	}

	for _, rd := range raw.DeviceList {
		child, err := buildDevice(rd, location, urlBase)
		if err != nil {
			return nil, err
		}
		d.DeviceList = append(d.DeviceList, child)
	}

	return d, nil
}


func parseValueRange(r *rawAllowedValueRange) (*ValueRange, error) {
	if r == nil {
		return nil, nil
	}
	min, err := strconv.ParseFloat(strings.TrimSpace(r.Minimum), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid allowedValueRange minimum %q: %w", r.Minimum, err)
	}
	max, err := strconv.ParseFloat(strings.TrimSpace(r.Maximum), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid allowedValueRange maximum %q: %w", r.Maximum, err)
	}
	vr := &ValueRange{Min: min, Max: max}
	if step := strings.TrimSpace(r.Step); step != "" {
		s, err := strconv.ParseFloat(step, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid allowedValueRange step %q: %w", r.Step, err)
		}
		vr.Step = s
		vr.HasStep = true
	}
	return vr, nil
}

// populateSCPD parses an SCPD document into svc's StateVars and Actions,
// cross-linking every argument's relatedStateVariable. A dangling reference
// is a parse error per §4.B.
func populateSCPD(raw rawSCPD, svc *Service) error {
	for _, rv := range raw.ServiceStateTable {
		name := strings.TrimSpace(rv.Name)
		sendEvents := true
		if se := strings.TrimSpace(rv.SendEvents); se != "" {
			sendEvents = strings.EqualFold(se, "yes")
		}
		sv := &StateVariable{
			Name:       name,
			DataType:   strings.TrimSpace(rv.DataType),
			SendEvents: sendEvents,
		}
		if rv.DefaultValue != nil {
			sv.DefaultValue = *rv.DefaultValue
			sv.HasDefaultValue = true
		}
		if rv.AllowedValueList != nil {
			sv.AllowedValues = make(map[string]struct{}, len(rv.AllowedValueList.AllowedValue))
			for _, av := range rv.AllowedValueList.AllowedValue {
				sv.AllowedValues[av] = struct{}{}
			}
		}
		vr, err := parseValueRange(rv.AllowedValueRange)
		if err != nil {
			return &ParseError{Context: fmt.Sprintf("stateVariable %q", name), Err: err}
		}
		sv.AllowedValueRange = vr
		svc.StateVars[name] = sv
	}

	for _, ra := range raw.ActionList {
		action := &Action{Name: strings.TrimSpace(ra.Name), service: svc}
		for _, arg := range ra.Arguments {
			argName := strings.TrimSpace(arg.Name)
			relName := strings.TrimSpace(arg.RelatedStateVariable)
			sv, ok := svc.StateVars[relName]
			if !ok {
				return &ParseError{Context: fmt.Sprintf(
					"action %q argument %q: relatedStateVariable %q not found", action.Name, argName, relName)}
			}
			def := &ArgDef{
				Name:              relName,
				DataType:          sv.DataType,
				AllowedValues:     sv.AllowedValues,
				AllowedValueRange: sv.AllowedValueRange,
			}
			named := NamedArgDef{Name: argName, Def: def}
			if strings.EqualFold(strings.TrimSpace(arg.Direction), "in") {
				action.ArgsIn = append(action.ArgsIn, named)
			} else {
				action.ArgsOut = append(action.ArgsOut, named)
			}
		}
		svc.Actions = append(svc.Actions, action)
	}

	svc.actionIndex = buildActionIndex(svc.Actions)
	return nil
}
