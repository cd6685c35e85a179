/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package soap encodes UPnP control requests and decodes action responses
// and faults.
package soap

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

const (
	EnvelopeNS    = "http://schemas.xmlsoap.org/soap/envelope/"
	EncodingStyle = "http://schemas.xmlsoap.org/soap/encoding/"
	ControlNS     = "urn:schemas-upnp-org:control-1-0"
)

// FormatSOAPAction builds the SOAPAction request header value.
func FormatSOAPAction(serviceType, action string) string {
	return fmt.Sprintf("%q", serviceType+"#"+action)
}

// FormatValue converts an argument to its wire string: booleans become
// "1"/"0", numerics decimal strings.
func FormatValue(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		if t {
			return "1"
		}

		return "0"
	case int:
		return strconv.Itoa(t)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int64:
		return strconv.FormatInt(t, 10)
	case uint:
		return strconv.FormatUint(uint64(t), 10)
	case uint32:
		return strconv.FormatUint(uint64(t), 10)
	case uint64:
		return strconv.FormatUint(t, 10)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

// EncodeRequest builds the request envelope for an action. A non-empty
// serviceType produces the typed form (u:Action bound to the service
// namespace); an empty one produces an unqualified action element.
// Arguments are emitted in sorted name order.
func EncodeRequest(serviceType, action string, args map[string]interface{}) []byte {
	var buf bytes.Buffer

	buf.WriteString(xml.Header)
	buf.WriteString(`<s:Envelope xmlns:s="` + EnvelopeNS + `" s:encodingStyle="` + EncodingStyle + `">`)
	buf.WriteString(`<s:Body>`)

	if serviceType != "" {
		buf.WriteString(`<u:` + action + ` xmlns:u="` + serviceType + `">`)
	} else {
		buf.WriteString(`<` + action + `>`)
	}

	names := make([]string, 0, len(args))
	for name := range args {
		names = append(names, name)
	}

	sort.Strings(names)

	for _, name := range names {
		buf.WriteString(`<` + name + `>`)
		_ = xml.EscapeText(&buf, []byte(FormatValue(args[name])))
		buf.WriteString(`</` + name + `>`)
	}

	if serviceType != "" {
		buf.WriteString(`</u:` + action + `>`)
	} else {
		buf.WriteString(`</` + action + `>`)
	}

	buf.WriteString(`</s:Body></s:Envelope>`)

	return buf.Bytes()
}

// element is a generic XML node retaining both parsed children and the
// raw inner document.
type element struct {
	XMLName  xml.Name
	Inner    []byte    `xml:",innerxml"`
	Chardata string    `xml:",chardata"`
	Children []element `xml:",any"`
}

func (e *element) text() string {
	if len(e.Children) > 0 {
		// The argument itself contains nested XML; return the raw
		// subtree as its value.
		return string(e.Inner)
	}

	return strings.TrimSpace(e.Chardata)
}

func (e *element) child(local string) *element {
	for i := range e.Children {
		if e.Children[i].XMLName.Local == local {
			return &e.Children[i]
		}
	}

	return nil
}

func parseEnvelope(body []byte) (*element, error) {
	var env element

	if err := xml.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedEnvelope, err)
	}

	if env.XMLName.Local != "Envelope" {
		return nil, fmt.Errorf("%w: root element is %q", ErrMalformedEnvelope, env.XMLName.Local)
	}

	soapBody := env.child("Body")
	if soapBody == nil {
		return nil, fmt.Errorf("%w: no Body element", ErrMalformedEnvelope)
	}

	return soapBody, nil
}

// DecodeResponse locates <ActionResponse> in the body and flattens its
// children into a name to string-value map. With a non-empty serviceType
// the response element must be bound to that namespace.
func DecodeResponse(body []byte, serviceType, action string) (map[string]string, error) {
	soapBody, err := parseEnvelope(body)
	if err != nil {
		return nil, err
	}

	want := action + "Response"

	var response *element

	for i := range soapBody.Children {
		c := &soapBody.Children[i]
		if c.XMLName.Local != want {
			continue
		}

		if serviceType != "" && c.XMLName.Space != serviceType {
			continue
		}

		response = c

		break
	}

	if response == nil {
		return nil, fmt.Errorf("%w: %s", ErrMissingResponse, want)
	}

	out := make(map[string]string, len(response.Children))
	for i := range response.Children {
		arg := &response.Children[i]
		out[arg.XMLName.Local] = arg.text()
	}

	return out, nil
}

// DecodeFault extracts the UPnP error from a SOAP fault body. Any missing
// expected node is a protocol error.
func DecodeFault(body []byte) (*UPnPError, error) {
	soapBody, err := parseEnvelope(body)
	if err != nil {
		return nil, err
	}

	fault := soapBody.child("Fault")
	if fault == nil {
		return nil, ErrMissingFault
	}

	upnpErr := &UPnPError{}

	if fc := fault.child("faultcode"); fc != nil {
		upnpErr.FaultCode = fc.text()
	}

	if fs := fault.child("faultstring"); fs != nil {
		upnpErr.FaultString = fs.text()
	}

	detail := fault.child("detail")
	if detail == nil {
		return nil, ErrMissingUPnPError
	}

	inner := detail.child("UPnPError")
	if inner == nil {
		return nil, ErrMissingUPnPError
	}

	codeNode := inner.child("errorCode")
	if codeNode == nil {
		return nil, ErrMissingUPnPError
	}

	code, convErr := strconv.Atoi(codeNode.text())
	if convErr != nil {
		return nil, fmt.Errorf("%w: bad errorCode %q", ErrMissingUPnPError, codeNode.text())
	}

	upnpErr.Code = code

	if desc := inner.child("errorDescription"); desc != nil {
		upnpErr.Description = desc.text()
	}

	return upnpErr, nil
}
