package upnp

import (
	"net/http"
	"net/url"
	"regexp"
	"strings"
)

// StateVariable is a named, typed value owned by a Service; it supplies the
// type schema used by any Argument whose relatedStateVariable names it.
type StateVariable struct {
	Name            string
	DataType        string
	SendEvents      bool
	DefaultValue    string
	HasDefaultValue bool
	AllowedValues   map[string]struct{}
	AllowedValueRange *ValueRange
}

// ArgDef is the typed signature of one action argument, resolved from its
// relatedStateVariable.
type ArgDef struct {
	Name              string
	DataType          string
	AllowedValues     map[string]struct{}
	AllowedValueRange *ValueRange
}

// NamedArgDef pairs an argument's declared name with its resolved type
// signature, preserving the SCPD's declaration order.
type NamedArgDef struct {
	Name string
	Def  *ArgDef
}

// Action is a callable operation on a Service, with typed in/out argument
// lists in SCPD declaration order.
type Action struct {
	Name    string
	ArgsIn  []NamedArgDef
	ArgsOut []NamedArgDef

	service *Service
}

// Service represents one UPnP service exposed by a Device.
type Service struct {
	ServiceType string
	ServiceID   string
	SCPDURL     *url.URL
	ControlURL  *url.URL
	EventSubURL *url.URL

	Actions   []*Action
	StateVars map[string]*StateVariable

	actionIndex map[string]*Action

	device *Device
}

// Device represents one UPnP device at a known description URL.
type Device struct {
	Location *url.URL
	URLBase  *url.URL

	FriendlyName      string
	Manufacturer      string
	ManufacturerURL   string
	ModelDescription  string
	ModelName         string
	ModelNumber       string
	ModelURL          string
	SerialNumber      string
	UDN               string
	UPC               string
	DeviceType        string
	PresentationURL   string

	// Services is the flat, ordered sequence of every Service owned by
	// this device and, transitively, by its embedded devices, with this
	// device's own services first.
	Services   []*Service
	DeviceList []*Device

	// directServices holds the services declared directly on this
	// device's <serviceList>, before flattening; Services is derived
	// from it once the whole tree has been built.
	directServices []*Service

	serviceIndex map[string]*Service

	policy *SessionPolicy
	client *http.Client
}

// Service looks up a Service by its full serviceId, by the segment after the
// last ':' in its serviceId, or by a sanitised identifier-safe form of
// either. All three forms are frozen at construction time and resolve to the
// same *Service.
func (d *Device) Service(key string) (*Service, bool) {
	s, ok := d.serviceIndex[key]
	return s, ok
}

// Action looks up an Action on this service by its declared name.
func (s *Service) Action(name string) (*Action, bool) {
	a, ok := s.actionIndex[name]
	return a, ok
}

var nonIdentifierChars = regexp.MustCompile(`[^A-Za-z0-9_]`)

func sanitizeIdentifier(s string) string {
	return nonIdentifierChars.ReplaceAllString(s, "")
}

func lastSegment(s string) string {
	if idx := strings.LastIndex(s, ":"); idx >= 0 && idx+1 < len(s) {
		return s[idx+1:]
	}
	return s
}

// buildServiceIndex constructs the frozen three-form lookup table described
// in §4.D. Earlier (root-first) entries win when two services' keys collide.
func buildServiceIndex(services []*Service) map[string]*Service {
	index := make(map[string]*Service, len(services)*3)
	add := func(key string, s *Service) {
		if key == "" {
			return
		}
		if _, exists := index[key]; !exists {
			index[key] = s
		}
	}
	for _, s := range services {
		add(s.ServiceID, s)
		add(lastSegment(s.ServiceID), s)
		add(sanitizeIdentifier(s.ServiceID), s)
		add(sanitizeIdentifier(lastSegment(s.ServiceID)), s)
	}
	return index
}

// assignFlatServices computes d.Services (and, recursively, every embedded
// device's Services) from directServices, root first.
func assignFlatServices(d *Device) []*Service {
	flat := append([]*Service(nil), d.directServices...)
	for _, child := range d.DeviceList {
		flat = append(flat, assignFlatServices(child)...)
	}
	d.Services = flat
	return flat
}

func buildActionIndex(actions []*Action) map[string]*Action {
	index := make(map[string]*Action, len(actions))
	for _, a := range actions {
		if _, exists := index[a.Name]; !exists {
			index[a.Name] = a
		}
	}
	return index
}
