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

// Package models holds the types shared between the discovery, registry
// and eventing packages.
package models

import (
	"fmt"
	"strings"
	"time"
)

const (
	// SSDPMulticastAddr is the well-known SSDP multicast group.
	SSDPMulticastAddr = "239.255.255.250:1900"

	// RootDeviceClass is the USN class announced by UPnP root devices.
	RootDeviceClass = "upnp:rootdevice"

	NTSAlive  = "ssdp:alive"
	NTSByebye = "ssdp:byebye"
)

// ServiceKey identifies a service within a device.
type ServiceKey struct {
	Manufacturer string `json:"manufacturer"`
	ServiceType  string `json:"service_type"`
}

func (k ServiceKey) String() string {
	return k.Manufacturer + "/" + k.ServiceType
}

// RouteInfo records which local interface a device was reached through.
type RouteInfo struct {
	Interface string `json:"interface"`
	LocalIP   string `json:"local_ip"`
}

// Sighting is one raw observation of a device, from an M-SEARCH response
// or a NOTIFY announcement.
type Sighting struct {
	USN      string
	USNClass string
	Location string
	IP       string
	Route    RouteInfo
	Headers  map[string]string
	SeenAt   time.Time
}

// DeviceHint names a device the operator expects to find on the network.
type DeviceHint struct {
	Name     string `json:"name"`
	UDN      string `json:"udn,omitempty"`
	MAC      string `json:"mac,omitempty"`
	Model    string `json:"model,omitempty"`
	LastIP   string `json:"last_ip,omitempty"`
	Required bool   `json:"required"`
}

// Matches reports whether a sighting satisfies this hint.
func (h *DeviceHint) Matches(usn, model string) bool {
	if h.UDN != "" {
		return strings.Contains(usn, h.UDN)
	}

	if h.Model != "" && model != "" {
		return strings.EqualFold(h.Model, model)
	}

	return false
}

// SplitUSN splits "uuid:<device-uuid>::<class>" into its UUID and class
// parts. A USN without a class part yields an empty class.
func SplitUSN(usn string) (uuid, class string, err error) {
	if !strings.HasPrefix(usn, "uuid:") {
		return "", "", fmt.Errorf("%w: %q", ErrMalformedUSN, usn)
	}

	rest := strings.TrimPrefix(usn, "uuid:")

	if idx := strings.Index(rest, "::"); idx >= 0 {
		return rest[:idx], rest[idx+2:], nil
	}

	return rest, "", nil
}
