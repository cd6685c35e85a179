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
	"sync"

	"github.com/carverauto/upnpradar/pkg/models"
)

// FoundDevice is one deduplicated scan result, possibly seen over
// several interfaces.
type FoundDevice struct {
	USN      string
	Sighting models.Sighting
	Routes   map[string]models.RouteInfo
	HintName string
}

// ScanContext is the shared, thread-safe result set of one startup scan.
// Interface search goroutines feed it concurrently; it deduplicates by
// USN and tracks which requested hints have matched.
type ScanContext struct {
	mu      sync.Mutex
	hints   []models.DeviceHint
	found   map[string]*FoundDevice // by uuid:<uuid>
	matched map[string]string       // hint name -> USN
}

func NewScanContext(hints []models.DeviceHint) *ScanContext {
	return &ScanContext{
		hints:   hints,
		found:   make(map[string]*FoundDevice),
		matched: make(map[string]string),
	}
}

// Add registers a sighting, merging routes for an already-seen USN.
// It reports whether the scan is now complete (every hint that can match
// during the scan has matched).
func (c *ScanContext) Add(s *models.Sighting) (isNew, complete bool) {
	uuid, _, err := models.SplitUSN(s.USN)
	if err != nil {
		return false, false
	}

	key := "uuid:" + uuid

	c.mu.Lock()
	defer c.mu.Unlock()

	fd, seen := c.found[key]
	if !seen {
		fd = &FoundDevice{
			USN:      key,
			Sighting: *s,
			Routes:   make(map[string]models.RouteInfo),
		}
		c.found[key] = fd
	}

	if s.Route.Interface != "" {
		fd.Routes[s.Route.Interface] = s.Route
	}

	for i := range c.hints {
		h := &c.hints[i]

		if _, done := c.matched[h.Name]; done {
			continue
		}

		// Model-only hints cannot match until the description has been
		// fetched; they never stop the scan early.
		if h.UDN != "" && h.Matches(s.USN, "") {
			c.matched[h.Name] = key
			fd.HintName = h.Name
		}
	}

	return !seen, c.completeLocked()
}

// completeLocked reports whether every UDN-bearing hint has matched.
func (c *ScanContext) completeLocked() bool {
	for i := range c.hints {
		h := &c.hints[i]
		if h.UDN == "" {
			continue
		}

		if _, ok := c.matched[h.Name]; !ok {
			return false
		}
	}

	return len(c.hints) > 0
}

func (c *ScanContext) Complete() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.completeLocked()
}

// Devices returns the deduplicated scan results.
func (c *ScanContext) Devices() []*FoundDevice {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*FoundDevice, 0, len(c.found))
	for _, fd := range c.found {
		out = append(out, fd)
	}

	return out
}

// MatchingDevices maps each matched hint name to its found device.
func (c *ScanContext) MatchingDevices() map[string]*FoundDevice {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]*FoundDevice, len(c.matched))
	for name, usn := range c.matched {
		if fd, ok := c.found[usn]; ok {
			out[name] = fd
		}
	}

	return out
}

// HintMatched reports whether the named hint has matched.
func (c *ScanContext) HintMatched(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.matched[name]

	return ok
}

// MissingHints returns the hints that have not matched yet.
func (c *ScanContext) MissingHints() []models.DeviceHint {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []models.DeviceHint

	for i := range c.hints {
		if _, ok := c.matched[c.hints[i].Name]; !ok {
			out = append(out, c.hints[i])
		}
	}

	return out
}
