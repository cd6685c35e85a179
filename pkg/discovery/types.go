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

package discovery

import (
	"context"
	"time"

	"github.com/carverauto/upnpradar/pkg/models"
)

const (
	defaultResponseTimeout = 3 * time.Second
	defaultRetryCount      = 3
	defaultMX              = 2
)

// ARPConfig drives the SNMP last-resort phase: the gateway's ARP table
// is walked to correlate missing hint MACs to IP addresses.
type ARPConfig struct {
	Enabled   bool   `json:"enabled"`
	GatewayIP string `json:"gateway_ip"`
	Community string `json:"community"`
	Port      uint16 `json:"port"`
}

// Config carries everything the startup scan needs.
type Config struct {
	SearchTargets      []string            `json:"search_targets"`
	Hints              []models.DeviceHint `json:"hints"`
	ExcludedInterfaces []string            `json:"excluded_interfaces"`
	ResponseTimeout    time.Duration       `json:"response_timeout"`
	RetryCount         int                 `json:"retry_count"`
	MX                 int                 `json:"mx"`
	CachePath          string              `json:"cache_path"`
	ARP                ARPConfig           `json:"arp"`
}

func (c *Config) withDefaults() Config {
	out := *c

	if len(out.SearchTargets) == 0 {
		out.SearchTargets = []string{models.RootDeviceClass}
	}

	if out.ResponseTimeout == 0 {
		out.ResponseTimeout = defaultResponseTimeout
	}

	if out.RetryCount == 0 {
		out.RetryCount = defaultRetryCount
	}

	if out.MX == 0 {
		out.MX = defaultMX
	}

	return out
}

// RequiredHints returns the hints that must resolve for startup to
// succeed.
func (c *Config) RequiredHints() []models.DeviceHint {
	var out []models.DeviceHint

	for _, h := range c.Hints {
		if h.Required {
			out = append(out, h)
		}
	}

	return out
}

// NotifyMessage is one parsed SSDP NOTIFY announcement.
type NotifyMessage struct {
	USN      string
	UUID     string
	Class    string
	NTS      string
	Location string
	Host     string
	Headers  map[string]string
}

// ServiceNotifyHook is the extension point for non-rootdevice NOTIFY
// classes. The default is a no-op.
type ServiceNotifyHook func(msg *NotifyMessage, route models.RouteInfo)

// PrelookupHook runs before the M-SEARCH phase; the default is a no-op.
type PrelookupHook func(ctx context.Context, ifaces []Interface) error
