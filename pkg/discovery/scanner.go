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
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/carverauto/upnpradar/pkg/description"
	"github.com/carverauto/upnpradar/pkg/logger"
	"github.com/carverauto/upnpradar/pkg/models"
	"github.com/carverauto/upnpradar/pkg/registry"
)

const (
	readBufferSize  = 4096
	readPollStep    = 250 * time.Millisecond
	unicastSSDPPort = 1900
)

// PacketConnFactory opens a UDP socket bound to the given local address.
// Tests swap it for an in-memory transport.
type PacketConnFactory func(network, laddr string) (net.PacketConn, error)

// Scanner runs the startup discovery sweep: multicast M-SEARCH on every
// usable interface, then cached-location verification, then an SNMP ARP
// walk as a last resort for still-missing hinted devices.
type Scanner struct {
	cfg         Config
	registry    *registry.Registry
	fetcher     registry.DescriptionFetcher
	cache       *Cache
	logger      logger.Logger
	listen      PacketConnFactory
	listIfaces  func(excluded []string) ([]Interface, error)
	prelookup   PrelookupHook
	serviceHook ServiceNotifyHook
}

// ScanReport summarizes one startup scan.
type ScanReport struct {
	Found   []*FoundDevice
	Matched map[string]*FoundDevice
	Missing []models.DeviceHint
}

func NewScanner(
	cfg Config, reg *registry.Registry, fetcher registry.DescriptionFetcher,
	cache *Cache, log logger.Logger) *Scanner {
	return &Scanner{
		cfg:      cfg.withDefaults(),
		registry: reg,
		fetcher:  fetcher,
		cache:    cache,
		logger:   log.WithComponent("discovery"),
		listen:   net.ListenPacket,
		listIfaces: func(excluded []string) ([]Interface, error) {
			return ListInterfaces(excluded)
		},
	}
}

// SetPrelookupHook installs a hook that runs before the search phase.
func (s *Scanner) SetPrelookupHook(hook PrelookupHook) { s.prelookup = hook }

// SetServiceNotifyHook installs the handler for non-rootdevice NOTIFY
// classes.
func (s *Scanner) SetServiceNotifyHook(hook ServiceNotifyHook) { s.serviceHook = hook }

// StartupScan performs the full discovery sweep and upserts every found
// device into the registry. It returns ErrRequiredDevicesMissing when a
// required hint still has no matching device afterwards; the report is
// valid either way.
func (s *Scanner) StartupScan(ctx context.Context) (*ScanReport, error) {
	ifaces, err := s.listIfaces(s.cfg.ExcludedInterfaces)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate interfaces: %w", err)
	}

	if len(ifaces) == 0 {
		return nil, ErrNoUsableInterfaces
	}

	s.logger.Info().
		Int("interfaces", len(ifaces)).
		Strs("search_targets", s.cfg.SearchTargets).
		Msg("Starting device scan")

	if s.prelookup != nil {
		if hookErr := s.prelookup(ctx, ifaces); hookErr != nil {
			s.logger.Warn().Err(hookErr).Msg("Prelookup hook failed, continuing")
		}
	}

	sc := NewScanContext(s.cfg.Hints)

	s.searchPhase(ctx, sc, ifaces)
	s.cachePhase(ctx, sc, ifaces)
	s.arpPhase(ctx, sc, ifaces)

	report := &ScanReport{
		Found:   sc.Devices(),
		Matched: sc.MatchingDevices(),
	}

	s.upsertAndPersist(ctx, report)

	missing := s.missingRequired()
	report.Missing = missing

	if len(missing) > 0 {
		names := make([]string, 0, len(missing))
		for i := range missing {
			names = append(names, missing[i].Name)
		}

		return report, fmt.Errorf("%w: %s", ErrRequiredDevicesMissing, strings.Join(names, ", "))
	}

	return report, nil
}

// searchPhase runs up to RetryCount multicast sweeps. Each sweep spawns
// one goroutine per interface; the sweep ends early once every hinted
// device has responded.
func (s *Scanner) searchPhase(ctx context.Context, sc *ScanContext, ifaces []Interface) {
	for attempt := 1; attempt <= s.cfg.RetryCount; attempt++ {
		if ctx.Err() != nil || sc.Complete() {
			return
		}

		sweepCtx, cancel := context.WithTimeout(ctx, s.cfg.ResponseTimeout)

		var wg sync.WaitGroup

		for _, iface := range ifaces {
			wg.Add(1)

			go func(iface Interface) {
				defer wg.Done()
				s.searchInterface(sweepCtx, sc, iface, cancel)
			}(iface)
		}

		wg.Wait()
		cancel()

		s.logger.Debug().
			Int("attempt", attempt).
			Int("found", len(sc.Devices())).
			Msg("Search sweep finished")
	}
}

// searchInterface sends the M-SEARCH for every configured target out of
// one interface and collects responses until the sweep context expires.
// completeAll cancels the sweep for every sibling once the hint set is
// fully matched.
func (s *Scanner) searchInterface(
	ctx context.Context, sc *ScanContext, iface Interface, completeAll context.CancelFunc) {
	conn, err := s.listen("udp4", net.JoinHostPort(iface.IP.String(), "0"))
	if err != nil {
		s.logger.Warn().Err(err).Str("interface", iface.Name).Msg("Failed to open search socket")
		return
	}
	defer conn.Close()

	dst, err := net.ResolveUDPAddr("udp4", models.SSDPMulticastAddr)
	if err != nil {
		return
	}

	for _, st := range s.cfg.SearchTargets {
		if _, wErr := conn.WriteTo(BuildMSearch(st, s.cfg.MX), dst); wErr != nil {
			s.logger.Warn().Err(wErr).Str("interface", iface.Name).Msg("Failed to send M-SEARCH")
		}
	}

	route := models.RouteInfo{Interface: iface.Name, LocalIP: iface.IP.String()}

	s.readResponses(ctx, sc, conn, route, completeAll)
}

func (s *Scanner) readResponses(
	ctx context.Context, sc *ScanContext, conn net.PacketConn,
	route models.RouteInfo, completeAll context.CancelFunc) {
	buf := make([]byte, readBufferSize)

	for {
		if ctx.Err() != nil {
			return
		}

		_ = conn.SetReadDeadline(time.Now().Add(readPollStep))

		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}

			return
		}

		ip := remoteIP(addr)

		sighting, pErr := ParseSearchResponse(buf[:n], ip, route)
		if pErr != nil {
			s.logger.Debug().Err(pErr).Str("from", ip).Msg("Dropping malformed search response")
			continue
		}

		_, complete := sc.Add(sighting)
		if complete && completeAll != nil {
			completeAll()
			return
		}
	}
}

// cachePhase tries the last known location of each still-missing hint.
// A cached location whose description no longer reports the expected
// UDN is evicted. A verified hit that stays silent on the unicast probe
// is still trusted: the description fetch proves the device is there,
// even if it ignores unicast M-SEARCH.
func (s *Scanner) cachePhase(ctx context.Context, sc *ScanContext, ifaces []Interface) {
	if s.cache == nil {
		return
	}

	for _, hint := range sc.MissingHints() {
		if ctx.Err() != nil {
			return
		}

		entry, err := s.cache.Get(hint.Name)
		if err != nil {
			continue
		}

		root := s.verifyCached(ctx, &hint, entry)
		if root == nil {
			_ = s.cache.Delete(hint.Name)
			continue
		}

		s.unicastProbe(ctx, sc, ifaces, entry.IP)

		if !sc.HintMatched(hint.Name) {
			s.logger.Info().
				Str("hint", hint.Name).
				Str("location", entry.Location).
				Msg("Probe unanswered, registering device from verified description")

			sc.Add(&models.Sighting{
				USN:      root.Device.UDN + "::" + models.RootDeviceClass,
				USNClass: models.RootDeviceClass,
				Location: entry.Location,
				IP:       entry.IP,
				SeenAt:   time.Now(),
			})
		}
	}
}

// verifyCached fetches the cached location's description and checks the
// UDN still matches the hint, returning the fetched root on success.
// DHCP churn makes stale entries routine.
func (s *Scanner) verifyCached(ctx context.Context, hint *models.DeviceHint, entry *CacheEntry) *description.Root {
	if s.fetcher == nil {
		return nil
	}

	root, err := s.fetcher.FetchRoot(ctx, entry.Location)
	if err != nil {
		s.logger.Debug().Err(err).
			Str("hint", hint.Name).
			Str("location", entry.Location).
			Msg("Cached location unreachable")

		return nil
	}

	if hint.UDN != "" && !strings.Contains(root.Device.UDN, hint.UDN) {
		s.logger.Info().
			Str("hint", hint.Name).
			Str("cached_udn", root.Device.UDN).
			Msg("Cached location now serves a different device, evicting")

		return nil
	}

	return root
}

// arpPhase is the last resort: walk the gateway's ARP table over SNMP,
// map still-missing hint MACs to IPs, and probe those IPs directly.
func (s *Scanner) arpPhase(ctx context.Context, sc *ScanContext, ifaces []Interface) {
	if !s.cfg.ARP.Enabled || s.cfg.ARP.GatewayIP == "" {
		return
	}

	missing := sc.MissingHints()

	hasMAC := false

	for i := range missing {
		if missing[i].MAC != "" {
			hasMAC = true
			break
		}
	}

	if !hasMAC {
		return
	}

	neighbors, err := SNMPNeighbors(s.cfg.ARP, s.cfg.ResponseTimeout)
	if err != nil {
		s.logger.Warn().Err(err).Msg("ARP table walk failed")
		return
	}

	for i := range missing {
		if ctx.Err() != nil {
			return
		}

		hint := &missing[i]
		if hint.MAC == "" {
			continue
		}

		ip, ok := neighbors[NormalizeMAC(hint.MAC)]
		if !ok {
			continue
		}

		s.logger.Info().
			Str("hint", hint.Name).
			Str("ip", ip).
			Msg("ARP table resolved missing device, probing directly")

		s.unicastProbe(ctx, sc, ifaces, ip)
	}
}

// unicastProbe sends a unicast M-SEARCH straight at one IP and collects
// whatever answers within the response timeout.
func (s *Scanner) unicastProbe(ctx context.Context, sc *ScanContext, ifaces []Interface, ip string) {
	probeCtx, cancel := context.WithTimeout(ctx, s.cfg.ResponseTimeout)
	defer cancel()

	dst := &net.UDPAddr{IP: net.ParseIP(ip), Port: unicastSSDPPort}
	if dst.IP == nil {
		return
	}

	for _, iface := range ifaces {
		conn, err := s.listen("udp4", net.JoinHostPort(iface.IP.String(), "0"))
		if err != nil {
			continue
		}

		for _, st := range s.cfg.SearchTargets {
			_, _ = conn.WriteTo(BuildMSearch(st, s.cfg.MX), dst)
		}

		route := models.RouteInfo{Interface: iface.Name, LocalIP: iface.IP.String()}

		s.readResponses(probeCtx, sc, conn, route, nil)
		_ = conn.Close()
	}
}

// upsertAndPersist pushes every found device into the registry and
// refreshes the location cache for matched hints.
func (s *Scanner) upsertAndPersist(ctx context.Context, report *ScanReport) {
	for _, fd := range report.Found {
		sighting := fd.Sighting

		rec := s.registry.UpsertSighting(ctx, sighting)
		if rec == nil {
			continue
		}

		// Merge every route the scan saw, not just the first one.
		for _, route := range fd.Routes {
			if route.Interface == sighting.Route.Interface {
				continue
			}

			extra := sighting
			extra.Route = route
			s.registry.UpsertSighting(ctx, extra)
		}
	}

	if s.cache == nil {
		return
	}

	for name, fd := range report.Matched {
		entry := &CacheEntry{
			USN:      fd.USN,
			Location: fd.Sighting.Location,
			IP:       fd.Sighting.IP,
			LastSeen: time.Now(),
		}

		if err := s.cache.Put(name, entry); err != nil {
			s.logger.Warn().Err(err).Str("hint", name).Msg("Failed to persist device location")
		}
	}
}

// missingRequired checks the registry, not just the scan results, so a
// required device found by any earlier means still counts.
func (s *Scanner) missingRequired() []models.DeviceHint {
	var out []models.DeviceHint

	for _, hint := range s.cfg.RequiredHints() {
		if s.registry.LookupByHint(&hint) == nil {
			out = append(out, hint)
		}
	}

	return out
}

// HandleNotify routes one NOTIFY announcement. Rootdevice alive and
// byebye messages update the registry; other classes go to the service
// hook. Malformed payloads and unknown byebyes are dropped silently.
func (s *Scanner) HandleNotify(ctx context.Context, payload []byte, senderIP string, route models.RouteInfo) {
	msg, err := ParseNotify(payload)
	if err != nil {
		s.logger.Debug().Err(err).Str("from", senderIP).Msg("Dropping malformed NOTIFY")
		return
	}

	if msg.Class != models.RootDeviceClass {
		if s.serviceHook != nil {
			s.serviceHook(msg, route)
		}

		return
	}

	switch msg.NTS {
	case models.NTSByebye:
		s.registry.MarkByebye(msg.USN, "byebye announcement")
	case models.NTSAlive:
		existing := s.registry.LookupByUSN(msg.USN)
		if existing != nil && existing.Location == msg.Location {
			s.registry.MarkAlive(msg.USN)
			return
		}

		sighting := models.Sighting{
			USN:      msg.USN,
			USNClass: msg.Class,
			Location: msg.Location,
			IP:       senderIP,
			Route:    route,
			Headers:  msg.Headers,
			SeenAt:   time.Now(),
		}

		s.registry.UpsertSighting(ctx, sighting)
	}
}

func remoteIP(addr net.Addr) string {
	if udp, ok := addr.(*net.UDPAddr); ok {
		return udp.IP.String()
	}

	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}

	return host
}
