package upnp

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/flyte/upnpclient/log"
)

const soapEnvelopeNS = "http://schemas.xmlsoap.org/soap/envelope/"

// node is a generic XML tree used to walk SOAP response bodies whose
// element names (the action's "<u:ActionNameResponse>") aren't known until
// runtime.
type node struct {
	XMLName  xml.Name
	Nodes    []node `xml:",any"`
	Chardata string `xml:",chardata"`
}

func findChild(n node, localName string) (node, bool) {
	for _, c := range n.Nodes {
		if c.XMLName.Local == localName {
			return c, true
		}
	}
	return node{}, false
}

func textOf(n node) string {
	return strings.TrimSpace(n.Chardata)
}

// buildEnvelope constructs the SOAP 1.1 envelope body for invoking
// actionName on a service whose type is serviceType, with in-arguments
// encoded in argsIn's declared order.
func buildEnvelope(serviceType, actionName string, argsIn []NamedArgDef, encoded map[string]string) []byte {
	var b bytes.Buffer
	b.WriteString(`<?xml version="1.0"?>` + "\n")
	b.WriteString(`<s:Envelope xmlns:s="` + soapEnvelopeNS + `" s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/">`)
	b.WriteString(`<s:Body>`)
	fmt.Fprintf(&b, `<u:%s xmlns:u="%s">`, actionName, xmlAttrEscape(serviceType))
	for _, arg := range argsIn {
		fmt.Fprintf(&b, "<%s>", arg.Name)
		xml.EscapeText(&b, []byte(encoded[arg.Name]))
		fmt.Fprintf(&b, "</%s>", arg.Name)
	}
	fmt.Fprintf(&b, `</u:%s>`, actionName)
	b.WriteString(`</s:Body>`)
	b.WriteString(`</s:Envelope>`)
	return b.Bytes()
}

func xmlAttrEscape(s string) string {
	var b bytes.Buffer
	xml.EscapeText(&b, []byte(s))
	return b.String()
}

var xmlDeclPattern = regexp.MustCompile(`(?i)<\?xml.*?\?>`)

// stripExtraXMLDeclarations keeps the first <?xml ... ?> prolog (if any) and
// removes any further ones a misbehaving device embedded further in the
// body, e.g. when a SOAP fault's <detail> echoes back one of the device's
// own config files.
func stripExtraXMLDeclarations(body []byte) []byte {
	s := string(body)
	first := xmlDeclPattern.FindString(s)
	rest := xmlDeclPattern.ReplaceAllString(s, "")
	if first == "" {
		return []byte(rest)
	}
	return []byte(first + rest)
}

// invokeAction validates args against action's declared in-arguments,
// builds and sends the SOAP request, and decodes the declared out-arguments
// from the response. No I/O occurs if validation fails.
func invokeAction(ctx context.Context, client *http.Client, policy *SessionPolicy, action *Action, args map[string]ArgValue) (map[string]ArgValue, error) {
	svc := action.service

	encoded := make(map[string]string, len(action.ArgsIn))
	reasons := map[string]string{}

	seen := make(map[string]struct{}, len(args))
	for name := range args {
		seen[name] = struct{}{}
	}

	for _, arg := range action.ArgsIn {
		v, ok := args[arg.Name]
		if !ok {
			reasons[arg.Name] = "missing required argument"
			continue
		}
		delete(seen, arg.Name)

		wire, err := EncodeArg(arg.Def.DataType, v)
		if err != nil {
			reasons[arg.Name] = err.Error()
			continue
		}
		if err := ValidateEncoded(arg.Def.DataType, wire, arg.Def.AllowedValues, arg.Def.AllowedValueRange); err != nil {
			reasons[arg.Name] = err.Error()
			continue
		}
		encoded[arg.Name] = wire
	}
	for extra := range seen {
		reasons[extra] = "unexpected argument"
	}
	if len(reasons) > 0 {
		return nil, &ValidationError{Action: action.Name, Reasons: reasons}
	}

	body := buildEnvelope(svc.ServiceType, action.Name, action.ArgsIn, encoded)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, svc.ControlURL.String(), bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Op: "building soap request", Err: err}
	}
	req.Header.Set("Content-Type", `text/xml; charset="utf-8"`)
	req.Header["SOAPACTION"] = []string{fmt.Sprintf(`"%s#%s"`, svc.ServiceType, action.Name)}
	applyPolicyToRequest(req, policy)

	log.Logger().Debug().Str("action", action.Name).Str("url", svc.ControlURL.String()).Msg("soap request")

	resp, err := client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, &TimeoutError{Op: "soap request", Err: ctxErr}
		}
		return nil, &TransportError{Op: "soap request", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: "reading soap response", Err: err}
	}

	log.Logger().Debug().Str("action", action.Name).Int("status", resp.StatusCode).Msg("soap response")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if fault, ok := parseSOAPFault(respBody); ok {
			return nil, fault
		}
		return nil, &HTTPError{StatusCode: resp.StatusCode, Status: resp.Status, Body: respBody}
	}

	return decodeActionResponse(action, respBody)
}

func parseSOAPFault(body []byte) (*SOAPFaultError, bool) {
	var env struct {
		Body node `xml:"Body"`
	}
	if err := xml.Unmarshal(stripExtraXMLDeclarations(body), &env); err != nil {
		return nil, false
	}
	fault, ok := findChild(env.Body, "Fault")
	if !ok {
		return nil, false
	}
	out := &SOAPFaultError{
		FaultCode:   textOf(mustChild(fault, "faultcode")),
		FaultString: textOf(mustChild(fault, "faultstring")),
	}
	if detail, ok := findChild(fault, "detail"); ok {
		if upnpErr, ok := findChild(detail, "UPnPError"); ok {
			if codeNode, ok := findChild(upnpErr, "errorCode"); ok {
				if code, err := strconv.Atoi(textOf(codeNode)); err == nil {
					out.HasUPnPError = true
					out.UPnPErrorCode = code
				}
			}
			if descNode, ok := findChild(upnpErr, "errorDescription"); ok {
				out.UPnPErrorDescription = textOf(descNode)
			}
		}
	}
	return out, true
}

func mustChild(n node, localName string) node {
	c, _ := findChild(n, localName)
	return c
}

// decodeActionResponse extracts the <u:ActionNameResponse> body and decodes
// each declared out-argument via the type codec. The result is a map keyed by
// out-argument name, so it does not keep the declared order.
func decodeActionResponse(action *Action, body []byte) (map[string]ArgValue, error) {
	var env struct {
		Body node `xml:"Body"`
	}
	if err := xml.Unmarshal(stripExtraXMLDeclarations(body), &env); err != nil {
		return nil, &ParseError{Context: "decoding soap response envelope", Err: err}
	}

	expectedName := action.Name + "Response"
	responseNode, ok := findChild(env.Body, expectedName)
	if !ok {
		return nil, &ParseError{Context: fmt.Sprintf(
			"soap response body did not contain a %q element", expectedName)}
	}

	out := make(map[string]ArgValue, len(action.ArgsOut))
	for _, arg := range action.ArgsOut {
		child, ok := findChild(responseNode, arg.Name)
		if !ok {
			return nil, &ParseError{Context: fmt.Sprintf(
				"soap response missing expected out argument %q", arg.Name)}
		}

		var wire string
		if len(child.Nodes) > 0 {
			// Some devices return an argument value that is itself XML
			// (e.g. embedding one of their own config files) without
			// wrapping it in CDATA. Re-serialise the nested elements as
			// the argument's textual value instead of discarding them.
			var b bytes.Buffer
			for _, n := range child.Nodes {
				raw, err := xml.Marshal(n)
				if err == nil {
					b.Write(raw)
				}
			}
			wire = b.String()
		} else {
			wire = textOf(child)
		}

		v, err := DecodeArg(arg.Def.DataType, wire)
		if err != nil {
			return nil, &ParseError{Context: fmt.Sprintf("decoding out argument %q", arg.Name), Err: err}
		}
		out[arg.Name] = v
	}

	return out, nil
}
