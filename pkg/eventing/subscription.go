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
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/carverauto/upnpradar/pkg/logger"
	"github.com/carverauto/upnpradar/pkg/models"
	"github.com/carverauto/upnpradar/pkg/registry"
)

const (
	// renewalWindow is how close to expiry a subscription must be before
	// a renewal is actually sent. Anything further out is a no-op.
	renewalWindow = 60 * time.Second

	// requestedTimeoutSeconds is what we ask for; the device may grant
	// less (or "infinite").
	requestedTimeoutSeconds = 1800

	// infiniteTimeoutSeconds caps a granted "Second-infinite" so the
	// renewal loop still revisits the subscription eventually.
	infiniteTimeoutSeconds = 86400

	defaultRequestTimeout = 10 * time.Second

	// userAgent identifies us on SUBSCRIBE/UNSUBSCRIBE requests. Some
	// devices log or gate on it.
	userAgent = "Linux/5.0 UPnP/1.1 upnpradar/1.0"
)

// HTTPDoer issues SUBSCRIBE and UNSUBSCRIBE requests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// CallbackURLFunc maps an interface-local IP to the NOTIFY callback URL
// the device on that interface should deliver events to.
type CallbackURLFunc func(localIP string) string

// Manager drives GENA event subscriptions for registered services.
type Manager struct {
	registry    *registry.Registry
	client      HTTPDoer
	callbackURL CallbackURLFunc
	timeout     time.Duration
	logger      logger.Logger
}

func NewManager(
	reg *registry.Registry, client HTTPDoer, callbackURL CallbackURLFunc, log logger.Logger) *Manager {
	if client == nil {
		client = http.DefaultClient
	}

	return &Manager{
		registry:    reg,
		client:      client,
		callbackURL: callbackURL,
		timeout:     defaultRequestTimeout,
		logger:      log.WithComponent("eventing"),
	}
}

// Subscribe establishes or renews the event subscription for one service.
// Services with no evented variables never subscribe; a live subscription
// not yet inside the renewal window is left alone.
func (m *Manager) Subscribe(ctx context.Context, usn string, key models.ServiceKey) error {
	dev := m.registry.LookupByUSN(usn)
	if dev == nil {
		return fmt.Errorf("%w: %s", registry.ErrUnknownDevice, usn)
	}

	svc := dev.Service(key)
	if svc == nil {
		return fmt.Errorf("%w: %s/%s", registry.ErrUnknownService, usn, key.ServiceType)
	}

	if svc.EventedVariableCount() == 0 {
		m.logger.Debug().
			Str("usn", usn).
			Str("service", key.ServiceType).
			Msg("Service has no evented variables, skipping subscription")

		return nil
	}

	if svc.SubscriptionID != "" && time.Until(svc.SubscriptionExpiry) > renewalWindow {
		return nil
	}

	if svc.EventSubURL == "" {
		return fmt.Errorf("%w: %s/%s", ErrNoEventEndpoint, usn, key.ServiceType)
	}

	reqCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	req, err := m.buildSubscribe(reqCtx, dev, svc)
	if err != nil {
		return err
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrSubscribeFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: device returned %d", ErrSubscribeFailed, resp.StatusCode)
	}

	sid := resp.Header.Get("SID")
	if sid == "" {
		// A 200 with no SID means the device no longer tracks this
		// subscription. Clear any stale entry so the renewal loop does
		// not keep extending a dead id; the next pass resubscribes
		// from scratch.
		if prev := m.registry.ClearSubscription(usn, key); prev != "" {
			m.logger.Warn().
				Str("usn", usn).
				Str("service", key.ServiceType).
				Str("sid", prev).
				Msg("Subscribe response carried no SID, clearing subscription")
		}

		return fmt.Errorf("%w: %s/%s", ErrMissingSID, usn, key.ServiceType)
	}

	granted := parseTimeoutHeader(resp.Header.Get("TIMEOUT"))
	expiry := time.Now().Add(time.Duration(granted) * time.Second)

	if err := m.registry.SetSubscription(usn, key, sid, expiry); err != nil {
		return err
	}

	m.logger.Info().
		Str("usn", usn).
		Str("service", key.ServiceType).
		Str("sid", sid).
		Int("granted_seconds", granted).
		Msg("Subscription established")

	return nil
}

func (m *Manager) buildSubscribe(
	ctx context.Context, dev *registry.DeviceRecord, svc *registry.ServiceRecord) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, "SUBSCRIBE", svc.EventSubURL, http.NoBody)
	if err != nil {
		return nil, err
	}

	req.Header.Set("HOST", req.URL.Host)
	req.Header.Set("USER-AGENT", userAgent)
	req.Header.Set("TIMEOUT", fmt.Sprintf("Second-%d", requestedTimeoutSeconds))

	if svc.SubscriptionID != "" {
		req.Header.Set("SID", svc.SubscriptionID)
		return req, nil
	}

	localIP := callbackRouteIP(dev)
	if localIP == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoCallbackRoute, dev.USN)
	}

	req.Header.Set("CALLBACK", "<"+m.callbackURL(localIP)+">")
	req.Header.Set("NT", "upnp:event")

	return req, nil
}

// Unsubscribe tears down a subscription. Local state clears first so a
// late NOTIFY cannot resurrect it; the device-side UNSUBSCRIBE is best
// effort and a 412 from a device that already forgot us is fine.
func (m *Manager) Unsubscribe(ctx context.Context, usn string, key models.ServiceKey) error {
	sid := m.registry.ClearSubscription(usn, key)
	if sid == "" {
		return nil
	}

	dev := m.registry.LookupByUSN(usn)
	if dev == nil {
		return nil
	}

	svc := dev.Service(key)
	if svc == nil || svc.EventSubURL == "" {
		return nil
	}

	reqCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, "UNSUBSCRIBE", svc.EventSubURL, http.NoBody)
	if err != nil {
		return err
	}

	req.Header.Set("HOST", req.URL.Host)
	req.Header.Set("USER-AGENT", userAgent)
	req.Header.Set("SID", sid)

	resp, err := m.client.Do(req)
	if err != nil {
		m.logger.Warn().Err(err).Str("usn", usn).Msg("Unsubscribe request failed")
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusPreconditionFailed {
		m.logger.Debug().Str("usn", usn).Str("sid", sid).Msg("Device had already dropped subscription")
	}

	return nil
}

// SubscribeDevice subscribes every service of a device, returning the
// first error after attempting all of them.
func (m *Manager) SubscribeDevice(ctx context.Context, usn string) error {
	dev := m.registry.LookupByUSN(usn)
	if dev == nil {
		return fmt.Errorf("%w: %s", registry.ErrUnknownDevice, usn)
	}

	var firstErr error

	for key := range dev.Services {
		if err := m.Subscribe(ctx, usn, key); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

// RenewDue walks every available device and renews subscriptions that
// are inside the renewal window. It reports how many renewals were sent.
func (m *Manager) RenewDue(ctx context.Context) int {
	renewed := 0

	for _, dev := range m.registry.Devices() {
		if !dev.Available {
			continue
		}

		for key, svc := range dev.Services {
			if svc.SubscriptionID == "" {
				continue
			}

			if time.Until(svc.SubscriptionExpiry) > renewalWindow {
				continue
			}

			if err := m.Subscribe(ctx, dev.USN, key); err != nil {
				m.logger.Warn().Err(err).
					Str("usn", dev.USN).
					Str("service", key.ServiceType).
					Msg("Subscription renewal failed")

				continue
			}

			renewed++
		}
	}

	return renewed
}

// parseTimeoutHeader parses "Second-1800" style TIMEOUT values.
// "Second-infinite" is treated as a day so renewals still happen.
func parseTimeoutHeader(value string) int {
	value = strings.TrimSpace(value)

	rest, ok := cutPrefixFold(value, "Second-")
	if !ok {
		return requestedTimeoutSeconds
	}

	if strings.EqualFold(rest, "infinite") {
		return infiniteTimeoutSeconds
	}

	secs, err := strconv.Atoi(rest)
	if err != nil || secs <= 0 {
		return requestedTimeoutSeconds
	}

	return secs
}

func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) < len(prefix) || !strings.EqualFold(s[:len(prefix)], prefix) {
		return s, false
	}

	return s[len(prefix):], true
}

// callbackRouteIP picks the local IP of the interface the device was
// most recently reached through, so the CALLBACK URL points at the
// listener the device can actually deliver to. Remaining routes are
// tried in name order to keep the fallback stable.
func callbackRouteIP(dev *registry.DeviceRecord) string {
	if route, ok := dev.Routes[dev.LastRoute]; ok && route.LocalIP != "" {
		return route.LocalIP
	}

	names := make([]string, 0, len(dev.Routes))
	for name := range dev.Routes {
		names = append(names, name)
	}

	sort.Strings(names)

	for _, name := range names {
		if ip := dev.Routes[name].LocalIP; ip != "" {
			return ip
		}
	}

	return ""
}
