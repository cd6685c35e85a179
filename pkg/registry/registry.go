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

// Package registry is the single source of truth for discovered devices,
// their services and event subscriptions. One lock serializes all state
// transitions; the lock is never held across network I/O.
package registry

import (
	"context"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/carverauto/upnpradar/pkg/description"
	"github.com/carverauto/upnpradar/pkg/logger"
	"github.com/carverauto/upnpradar/pkg/models"
)

// DescriptionFetcher retrieves device and service descriptions. Satisfied
// by *description.Fetcher.
type DescriptionFetcher interface {
	FetchRoot(ctx context.Context, location string) (*description.Root, error)
	FetchSCPD(ctx context.Context, scpdURL string) (*description.SCPD, error)
}

type subscriptionOwner struct {
	usn string
	key models.ServiceKey
}

// Registry owns all mutable discovery state.
type Registry struct {
	mu sync.Mutex

	fetcher DescriptionFetcher
	catalog *Catalog
	logger  logger.Logger

	devices    map[string]*DeviceRecord // by normalized USN (uuid:<uuid>)
	byLocation map[string]*DeviceRecord
	byIP       map[string]*DeviceRecord
	byHost     map[string]*DeviceRecord

	// subscription id -> owning service; a bijection while active
	subscriptions map[string]subscriptionOwner
}

// New builds an empty registry. The catalog may be nil.
func New(fetcher DescriptionFetcher, catalog *Catalog, log logger.Logger) *Registry {
	return &Registry{
		fetcher:       fetcher,
		catalog:       catalog,
		logger:        log.WithComponent("registry"),
		devices:       make(map[string]*DeviceRecord),
		byLocation:    make(map[string]*DeviceRecord),
		byIP:          make(map[string]*DeviceRecord),
		byHost:        make(map[string]*DeviceRecord),
		subscriptions: make(map[string]subscriptionOwner),
	}
}

// NormalizeUSN reduces a full USN to its uuid:<device-uuid> identity.
func NormalizeUSN(usn string) (string, string) {
	uuid, class, err := models.SplitUSN(usn)
	if err != nil {
		return usn, ""
	}

	return "uuid:" + uuid, class
}

func hostOf(location string) string {
	u, err := url.Parse(location)
	if err != nil {
		return ""
	}

	host := u.Host
	if h, _, splitErr := net.SplitHostPort(host); splitErr == nil {
		host = h
	}

	return host
}

// UpsertSighting records a device sighting, fetching its description when
// needed. The description and SCPD fetches happen outside the lock; the
// world is re-checked once the lock is re-acquired. A description failure
// leaves the device discoverable but un-enhanced.
func (r *Registry) UpsertSighting(ctx context.Context, s models.Sighting) *DeviceRecord {
	usn, class := NormalizeUSN(s.USN)

	root, scpds := r.fetchDescription(ctx, s.Location)

	r.mu.Lock()
	defer r.mu.Unlock()

	d, exists := r.devices[usn]

	if !exists {
		// Another identity may already own this location; evict its
		// location index entry so at most one record maps to it.
		if prev, ok := r.byLocation[s.Location]; ok && prev.USN != usn {
			r.logger.Warn().
				Str("location", s.Location).
				Str("previous_usn", prev.USN).
				Str("usn", usn).
				Msg("location changed identity")

			delete(r.byLocation, s.Location)
		}

		d = &DeviceRecord{
			USN:      usn,
			USNClass: class,
			Routes:   make(map[string]models.RouteInfo),
			Services: make(map[models.ServiceKey]*ServiceRecord),
		}
		r.devices[usn] = d
	}

	now := s.SeenAt
	if now.IsZero() {
		now = time.Now()
	}

	d.LastAlive = now
	d.Available = true
	d.Location = s.Location
	d.IP = s.IP

	if s.Route.Interface != "" {
		d.Routes[s.Route.Interface] = s.Route
		d.LastRoute = s.Route.Interface
	}

	if root != nil {
		r.applyDescriptionLocked(d, root, scpds)

		if !exists {
			r.catalog.decorateDevice(d)
		}
	}

	r.byLocation[s.Location] = d

	if s.IP != "" {
		r.byIP[s.IP] = d
	}

	if host := hostOf(s.Location); host != "" {
		r.byHost[host] = d
	}

	r.logger.Debug().
		Str("usn", usn).
		Str("location", s.Location).
		Bool("new", !exists).
		Msg("device sighting")

	return cloneDevice(d)
}

// fetchDescription retrieves the root description and every service's
// SCPD without holding the registry lock.
func (r *Registry) fetchDescription(
	ctx context.Context, location string) (*description.Root, map[models.ServiceKey]*description.SCPD) {
	if r.fetcher == nil || location == "" {
		return nil, nil
	}

	root, err := r.fetcher.FetchRoot(ctx, location)
	if err != nil {
		// One bad device must not block the scan; the record stays
		// discoverable without a service table.
		r.logger.Warn().Err(err).Str("location", location).Msg("description fetch failed")
		return nil, nil
	}

	scpds := make(map[models.ServiceKey]*description.SCPD)

	root.Device.VisitServices(func(svc *description.Service) {
		if !svc.SCPDURL.OK {
			return
		}

		key := models.ServiceKey{
			Manufacturer: root.Device.Manufacturer,
			ServiceType:  svc.ServiceType,
		}

		scpd, scpdErr := r.fetcher.FetchSCPD(ctx, svc.SCPDURL.URL.String())
		if scpdErr != nil {
			r.logger.Warn().Err(scpdErr).
				Str("service_type", svc.ServiceType).
				Msg("SCPD fetch failed")

			return
		}

		scpds[key] = scpd
	})

	return root, scpds
}

// applyDescriptionLocked merges a fetched description into the record.
// Services are matched by (manufacturer, serviceType) and updated in
// place, never duplicated.
func (r *Registry) applyDescriptionLocked(
	d *DeviceRecord, root *description.Root, scpds map[models.ServiceKey]*description.SCPD) {
	d.FriendlyName = root.Device.FriendlyName
	d.Manufacturer = root.Device.Manufacturer
	d.ModelName = root.Device.ModelName
	d.ModelNumber = root.Device.ModelNumber

	root.Device.VisitServices(func(svc *description.Service) {
		key := models.ServiceKey{
			Manufacturer: root.Device.Manufacturer,
			ServiceType:  svc.ServiceType,
		}

		rec, ok := d.Services[key]
		if !ok {
			rec = &ServiceRecord{
				Key:       key,
				Variables: make(map[string]*EventedVariable),
			}
			d.Services[key] = rec
		}

		rec.ServiceID = svc.ServiceID

		if svc.ControlURL.OK {
			rec.ControlURL = svc.ControlURL.URL.String()
		}

		if svc.EventSubURL.OK {
			rec.EventSubURL = svc.EventSubURL.URL.String()
		}

		if svc.SCPDURL.OK {
			rec.SCPDURL = svc.SCPDURL.URL.String()
		}

		if scpd, hasSCPD := scpds[key]; hasSCPD {
			r.applyVariableTableLocked(rec, scpd)
		}

		if !ok {
			r.catalog.decorateService(rec)
		}
	})
}

func (*Registry) applyVariableTableLocked(rec *ServiceRecord, scpd *description.SCPD) {
	for i := range scpd.StateVariables {
		sv := &scpd.StateVariables[i]

		v, ok := rec.Variables[sv.Name]
		if !ok {
			v = &EventedVariable{
				Name:  sv.Name,
				Value: sv.DefaultValue,
			}
			rec.Variables[sv.Name] = v
		}

		v.DataType = sv.DataType
		v.DefaultValue = sv.DefaultValue
		v.AllowedValues = append([]string(nil), sv.AllowedValues...)
		v.Evented = sv.Evented()
	}
}

// MarkAlive refreshes the availability of a known device. Unknown USNs
// are ignored.
func (r *Registry) MarkAlive(usn string) {
	key, _ := NormalizeUSN(usn)

	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[key]
	if !ok {
		return
	}

	d.LastAlive = time.Now()
	d.Available = true
}

// MarkByebye marks a device unavailable and invalidates every active
// subscription it held. A byebye for an unknown USN or a device without
// subscriptions is a no-op.
func (r *Registry) MarkByebye(usn, reason string) {
	key, _ := NormalizeUSN(usn)

	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[key]
	if !ok {
		return
	}

	d.LastByebye = time.Now()
	d.Available = false

	for _, svc := range d.Services {
		if svc.SubscriptionID == "" {
			continue
		}

		delete(r.subscriptions, svc.SubscriptionID)
		svc.SubscriptionID = ""
		svc.SubscriptionExpiry = time.Time{}

		for _, v := range svc.Variables {
			v.Value = v.DefaultValue
			v.UpdatedAt = time.Time{}
		}
	}

	r.logger.Info().Str("usn", key).Str("reason", reason).Msg("device byebye")
}

// LookupByUSN returns a snapshot of the device, or nil when unknown.
func (r *Registry) LookupByUSN(usn string) *DeviceRecord {
	key, _ := NormalizeUSN(usn)

	r.mu.Lock()
	defer r.mu.Unlock()

	if d, ok := r.devices[key]; ok {
		return cloneDevice(d)
	}

	return nil
}

func (r *Registry) LookupByHost(host string) *DeviceRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d, ok := r.byHost[host]; ok {
		return cloneDevice(d)
	}

	return nil
}

func (r *Registry) LookupByIP(ip string) *DeviceRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d, ok := r.byIP[ip]; ok {
		return cloneDevice(d)
	}

	return nil
}

// LookupByHint resolves an operator hint against the known devices.
func (r *Registry) LookupByHint(hint *models.DeviceHint) *DeviceRecord {
	if hint == nil {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, d := range r.devices {
		if hint.Matches(d.USN, d.ModelName) {
			return cloneDevice(d)
		}
	}

	return nil
}

// Devices returns snapshots of every known device.
func (r *Registry) Devices() []*DeviceRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*DeviceRecord, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, cloneDevice(d))
	}

	return out
}

// SetSubscription stores a freshly obtained subscription id for a
// service and registers it for callback routing. Registration happens
// under the lock, before the id is returned to the caller, so the id is
// routable as soon as SUBSCRIBE succeeds.
func (r *Registry) SetSubscription(usn string, key models.ServiceKey, sid string, expiry time.Time) error {
	usnKey, _ := NormalizeUSN(usn)

	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[usnKey]
	if !ok {
		return ErrUnknownDevice
	}

	svc, ok := d.Services[key]
	if !ok {
		return ErrUnknownService
	}

	if svc.SubscriptionID != "" && svc.SubscriptionID != sid {
		delete(r.subscriptions, svc.SubscriptionID)
	}

	svc.SubscriptionID = sid
	svc.SubscriptionExpiry = expiry
	r.subscriptions[sid] = subscriptionOwner{usn: usnKey, key: key}

	return nil
}

// ClearSubscription drops a service's subscription state and its routing
// entry, returning the previous id (empty when none existed).
func (r *Registry) ClearSubscription(usn string, key models.ServiceKey) string {
	usnKey, _ := NormalizeUSN(usn)

	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[usnKey]
	if !ok {
		return ""
	}

	svc, ok := d.Services[key]
	if !ok {
		return ""
	}

	prev := svc.SubscriptionID
	if prev != "" {
		delete(r.subscriptions, prev)
	}

	svc.SubscriptionID = ""
	svc.SubscriptionExpiry = time.Time{}

	return prev
}

// Subscription reports the current subscription entry for a service.
func (r *Registry) Subscription(usn string, key models.ServiceKey) (string, time.Time, bool) {
	usnKey, _ := NormalizeUSN(usn)

	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[usnKey]
	if !ok {
		return "", time.Time{}, false
	}

	svc, ok := d.Services[key]
	if !ok || svc.SubscriptionID == "" {
		return "", time.Time{}, false
	}

	return svc.SubscriptionID, svc.SubscriptionExpiry, true
}

// ResolveSubscription maps a subscription id back to snapshots of its
// owning device and service.
func (r *Registry) ResolveSubscription(sid string) (*DeviceRecord, *ServiceRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	owner, ok := r.subscriptions[sid]
	if !ok {
		return nil, nil, false
	}

	d, ok := r.devices[owner.usn]
	if !ok {
		return nil, nil, false
	}

	svc, ok := d.Services[owner.key]
	if !ok {
		return nil, nil, false
	}

	return cloneDevice(d), cloneService(svc), true
}

// ApplyEvent updates the evented-variable table owned by a subscription
// id. Unknown variable names are skipped, not fatal; an unknown id is
// reported so the router can log and drop.
func (r *Registry) ApplyEvent(sid string, changes map[string]string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	owner, ok := r.subscriptions[sid]
	if !ok {
		return 0, ErrUnknownSubscription
	}

	d, ok := r.devices[owner.usn]
	if !ok {
		return 0, ErrUnknownSubscription
	}

	svc, ok := d.Services[owner.key]
	if !ok {
		return 0, ErrUnknownSubscription
	}

	updated := 0
	now := time.Now()

	for name, value := range changes {
		v, known := svc.Variables[name]
		if !known {
			r.logger.Debug().
				Str("usn", owner.usn).
				Str("variable", name).
				Msg("event for unknown variable skipped")

			continue
		}

		v.Value = value
		v.UpdatedAt = now
		updated++
	}

	return updated, nil
}
