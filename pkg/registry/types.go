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

package registry

import (
	"time"

	"github.com/carverauto/upnpradar/pkg/models"
)

// EventedVariable is one service state variable tracked by the registry.
type EventedVariable struct {
	Name          string
	DataType      string
	DefaultValue  string
	AllowedValues []string

	// Evented marks variables pushed via subscription callbacks;
	// non-evented variables only ever hold their default.
	Evented bool

	Value     string
	UpdatedAt time.Time
}

// ServiceRecord is the per-(device, service type) proxy state. All
// mutation happens under the owning registry's lock.
type ServiceRecord struct {
	Key         models.ServiceKey
	ServiceID   string
	ControlURL  string
	EventSubURL string
	SCPDURL     string

	SubscriptionID     string
	SubscriptionExpiry time.Time

	Variables map[string]*EventedVariable
}

// EventedVariableCount reports how many variables are subject to NOTIFY
// updates. A service with zero never holds a subscription.
func (s *ServiceRecord) EventedVariableCount() int {
	n := 0

	for _, v := range s.Variables {
		if v.Evented {
			n++
		}
	}

	return n
}

// DeviceRecord is one discovered root device. Instances handed out by
// the registry are clones; the registry owns the canonical copy.
type DeviceRecord struct {
	USN      string // uuid:<device-uuid>
	USNClass string

	FriendlyName string
	Manufacturer string
	ModelName    string
	ModelNumber  string

	Location string
	IP       string
	Routes   map[string]models.RouteInfo // keyed by interface name

	// LastRoute names the interface of the most recent sighting, so
	// callbacks can be addressed to the route the device answered on.
	LastRoute string

	LastAlive  time.Time
	LastByebye time.Time
	Available  bool

	Services map[models.ServiceKey]*ServiceRecord
}

// Service returns the service record for a key, or nil.
func (d *DeviceRecord) Service(key models.ServiceKey) *ServiceRecord {
	return d.Services[key]
}

func cloneVariable(v *EventedVariable) *EventedVariable {
	out := *v
	out.AllowedValues = append([]string(nil), v.AllowedValues...)

	return &out
}

func cloneService(s *ServiceRecord) *ServiceRecord {
	out := *s
	out.Variables = make(map[string]*EventedVariable, len(s.Variables))

	for name, v := range s.Variables {
		out.Variables[name] = cloneVariable(v)
	}

	return &out
}

func cloneDevice(d *DeviceRecord) *DeviceRecord {
	out := *d
	out.Routes = make(map[string]models.RouteInfo, len(d.Routes))

	for name, r := range d.Routes {
		out.Routes[name] = r
	}

	out.Services = make(map[models.ServiceKey]*ServiceRecord, len(d.Services))

	for key, s := range d.Services {
		out.Services[key] = cloneService(s)
	}

	return &out
}
