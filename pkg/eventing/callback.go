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

package eventing

import (
	"io"
	"net"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/carverauto/upnpradar/pkg/logger"
	"github.com/carverauto/upnpradar/pkg/registry"
)

// CallbackPath is where devices deliver NOTIFY events.
const CallbackPath = "/events"

const (
	maxNotifyBody = 256 << 10

	// captureBuffer bounds each capture channel; a consumer that falls
	// behind loses requests rather than stalling the router.
	captureBuffer = 16
)

func init() {
	chi.RegisterMethod("NOTIFY")
}

// EventHook observes applied state changes. The device and service are
// registry clones.
type EventHook func(dev *registry.DeviceRecord, svc *registry.ServiceRecord, changes map[string]string)

// Capture is one mirrored NOTIFY request, headers and body exactly as
// the device sent them.
type Capture struct {
	Header http.Header
	Body   []byte
}

// CallbackRouter receives GENA NOTIFY callbacks, resolves the SID to a
// registered service, and applies the carried variable changes. Devices
// always get a 200 back; a failed NOTIFY on our side is our problem,
// and an error response would make some devices tear down the
// subscription.
type CallbackRouter struct {
	registry *registry.Registry
	logger   logger.Logger
	onEvent  EventHook

	mu       sync.Mutex
	captures map[string]chan Capture // keyed by sender IP
}

func NewCallbackRouter(reg *registry.Registry, log logger.Logger) *CallbackRouter {
	return &CallbackRouter{
		registry: reg,
		logger:   log.WithComponent("callback"),
	}
}

// SetEventHook installs the applied-change observer.
func (c *CallbackRouter) SetEventHook(hook EventHook) { c.onEvent = hook }

// RegisterCapture starts mirroring NOTIFY traffic arriving from
// sourceIP. Registering the same address twice returns the existing
// channel.
func (c *CallbackRouter) RegisterCapture(sourceIP string) <-chan Capture {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.captures == nil {
		c.captures = make(map[string]chan Capture)
	}

	if ch, ok := c.captures[sourceIP]; ok {
		return ch
	}

	ch := make(chan Capture, captureBuffer)
	c.captures[sourceIP] = ch

	return ch
}

// UnregisterCapture stops mirroring for sourceIP and closes its channel.
func (c *CallbackRouter) UnregisterCapture(sourceIP string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ch, ok := c.captures[sourceIP]; ok {
		delete(c.captures, sourceIP)
		close(ch)
	}
}

// mirror forwards the raw request to the sender's capture context, if
// one is registered. The send never blocks the handler.
func (c *CallbackRouter) mirror(r *http.Request, body []byte) {
	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}

	c.mu.Lock()
	ch, ok := c.captures[host]
	c.mu.Unlock()

	if !ok {
		return
	}

	select {
	case ch <- Capture{Header: r.Header.Clone(), Body: body}:
	default:
		c.logger.Debug().Str("source", host).Msg("Capture channel full, dropping mirrored request")
	}
}

// Routes builds the chi router served by each per-interface listener.
func (c *CallbackRouter) Routes() chi.Router {
	r := chi.NewRouter()
	r.Method("NOTIFY", CallbackPath, http.HandlerFunc(c.handleNotify))

	return r
}

func (c *CallbackRouter) handleNotify(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxNotifyBody))

	// Acknowledge before processing; the device only cares that the
	// delivery landed.
	w.Header().Set("Content-Length", "0")
	w.WriteHeader(http.StatusOK)

	if err != nil {
		c.logger.Debug().Err(err).Msg("Failed to read NOTIFY body")
		return
	}

	c.mirror(r, body)

	sid := r.Header.Get("SID")
	if sid == "" {
		c.logger.Debug().Msg("Dropping NOTIFY without SID")
		return
	}

	dev, svc, ok := c.registry.ResolveSubscription(sid)
	if !ok {
		c.logger.Debug().Str("sid", sid).Msg("Dropping NOTIFY for unknown subscription")
		return
	}

	changes, err := ParsePropertySet(body)
	if err != nil {
		c.logger.Warn().Err(err).
			Str("sid", sid).
			Str("usn", dev.USN).
			Msg("Dropping unparseable NOTIFY body")

		return
	}

	updated, err := c.registry.ApplyEvent(sid, changes)
	if err != nil {
		c.logger.Debug().Err(err).Str("sid", sid).Msg("Event arrived for vanished subscription")
		return
	}

	c.logger.Debug().
		Str("usn", dev.USN).
		Str("service", svc.Key.ServiceType).
		Int("updated", updated).
		Msg("Applied event")

	if c.onEvent != nil && updated > 0 {
		c.onEvent(dev, svc, changes)
	}
}
