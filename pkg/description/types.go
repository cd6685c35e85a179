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

// Package description retrieves and parses UPnP device and service
// description documents.
package description

import (
	"encoding/xml"
	"net/url"
)

const (
	DeviceNS  = "urn:schemas-upnp-org:device-1-0"
	ServiceNS = "urn:schemas-upnp-org:service-1-0"
)

// Root is a parsed device description document.
type Root struct {
	XMLName xml.Name `xml:"root"`
	Device  Device   `xml:"device"`

	// BaseURL is the description URL the relative service URLs were
	// resolved against.
	BaseURL string `xml:"-"`
}

// Device describes one (possibly embedded) device.
type Device struct {
	DeviceType      string    `xml:"deviceType"`
	FriendlyName    string    `xml:"friendlyName"`
	Manufacturer    string    `xml:"manufacturer"`
	ModelName       string    `xml:"modelName"`
	ModelNumber     string    `xml:"modelNumber"`
	SerialNumber    string    `xml:"serialNumber"`
	UDN             string    `xml:"UDN"`
	PresentationURL URLField  `xml:"presentationURL"`
	Services        []Service `xml:"serviceList>service"`
	EmbeddedDevices []Device  `xml:"deviceList>device"`
}

// Service describes one service entry of a device.
type Service struct {
	ServiceType string   `xml:"serviceType"`
	ServiceID   string   `xml:"serviceId"`
	SCPDURL     URLField `xml:"SCPDURL"`
	ControlURL  URLField `xml:"controlURL"`
	EventSubURL URLField `xml:"eventSubURL"`
}

// URLField holds a URL given as text in the document, resolved against
// the description's base URL after parsing.
type URLField struct {
	Str string `xml:",chardata"`

	URL *url.URL `xml:"-"`
	OK  bool     `xml:"-"`
}

func (f *URLField) resolve(base *url.URL) {
	if f.Str == "" {
		f.OK = false
		return
	}

	u, err := url.Parse(f.Str)
	if err != nil {
		f.OK = false
		return
	}

	f.URL = base.ResolveReference(u)
	f.OK = true
}

func (d *Device) resolveURLs(base *url.URL) {
	d.PresentationURL.resolve(base)

	for i := range d.Services {
		d.Services[i].SCPDURL.resolve(base)
		d.Services[i].ControlURL.resolve(base)
		d.Services[i].EventSubURL.resolve(base)
	}

	for i := range d.EmbeddedDevices {
		d.EmbeddedDevices[i].resolveURLs(base)
	}
}

// VisitServices walks the device tree depth-first, calling f for every
// service of the root and all embedded devices.
func (d *Device) VisitServices(f func(*Service)) {
	for i := range d.Services {
		f(&d.Services[i])
	}

	for i := range d.EmbeddedDevices {
		d.EmbeddedDevices[i].VisitServices(f)
	}
}

// SCPD is a parsed service control protocol description.
type SCPD struct {
	XMLName        xml.Name        `xml:"scpd"`
	Actions        []Action        `xml:"actionList>action"`
	StateVariables []StateVariable `xml:"serviceStateTable>stateVariable"`
}

// Action is one declared service action.
type Action struct {
	Name      string     `xml:"name"`
	Arguments []Argument `xml:"argumentList>argument"`
}

// Argument is one declared action argument.
type Argument struct {
	Name            string `xml:"name"`
	Direction       string `xml:"direction"`
	RelatedStateVar string `xml:"relatedStateVariable"`
}

// StateVariable describes one service state variable.
type StateVariable struct {
	SendEvents    string   `xml:"sendEvents,attr"`
	Name          string   `xml:"name"`
	DataType      string   `xml:"dataType"`
	DefaultValue  string   `xml:"defaultValue"`
	AllowedValues []string `xml:"allowedValueList>allowedValue"`
}

// Evented reports whether the variable is pushed via subscription
// callbacks. An absent sendEvents attribute defaults to evented per the
// UPnP device architecture.
func (v *StateVariable) Evented() bool {
	return v.SendEvents != "no"
}
