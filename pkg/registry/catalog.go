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

import "strings"

// DeviceDecorator customizes a freshly instantiated device record for a
// known vendor/model.
type DeviceDecorator func(*DeviceRecord)

// ServiceDecorator customizes a freshly instantiated service record for
// a known service type.
type ServiceDecorator func(*ServiceRecord)

type catalogKey struct {
	manufacturer string
	model        string
}

// Catalog is the explicit constructor table for device and service
// variants. It is built once at startup and read-only afterwards.
type Catalog struct {
	devices  map[catalogKey]DeviceDecorator
	services map[string]ServiceDecorator
}

func NewCatalog() *Catalog {
	return &Catalog{
		devices:  make(map[catalogKey]DeviceDecorator),
		services: make(map[string]ServiceDecorator),
	}
}

func (c *Catalog) RegisterDevice(manufacturer, model string, fn DeviceDecorator) {
	c.devices[catalogKey{
		manufacturer: strings.ToLower(manufacturer),
		model:        strings.ToLower(model),
	}] = fn
}

func (c *Catalog) RegisterService(serviceType string, fn ServiceDecorator) {
	c.services[serviceType] = fn
}

// decorateDevice applies the vendor decorator if one is registered;
// unknown vendor/model pairs fall back to the generic record.
func (c *Catalog) decorateDevice(d *DeviceRecord) {
	if c == nil {
		return
	}

	key := catalogKey{
		manufacturer: strings.ToLower(d.Manufacturer),
		model:        strings.ToLower(d.ModelName),
	}

	if fn, ok := c.devices[key]; ok {
		fn(d)
	}
}

func (c *Catalog) decorateService(s *ServiceRecord) {
	if c == nil {
		return
	}

	if fn, ok := c.services[s.Key.ServiceType]; ok {
		fn(s)
	}
}
