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

	"github.com/carverauto/upnpradar/pkg/dnsmsg"
)

const mdnsMulticastAddr = "224.0.0.251:5353"

// MDNSPrelookup returns a PrelookupHook that sends an mDNS PTR query for
// each given service name out of every usable interface. Some devices
// only refresh their SSDP presence after seeing multicast DNS traffic,
// so this primes them before the search phase. Responses are not read;
// the search phase picks up whatever the nudge shakes loose.
func MDNSPrelookup(serviceNames ...string) PrelookupHook {
	return func(ctx context.Context, ifaces []Interface) error {
		msg := dnsmsg.NewOutboundMessage(0, 0, false)

		for _, name := range serviceNames {
			q := dnsmsg.Question{Name: name, Type: dnsmsg.TypePTR, Class: dnsmsg.ClassInet}
			if err := msg.AddQuestion(q); err != nil {
				return err
			}
		}

		packets, err := msg.Packets()
		if err != nil {
			return err
		}

		dst, err := net.ResolveUDPAddr("udp4", mdnsMulticastAddr)
		if err != nil {
			return err
		}

		var lastErr error

		for _, iface := range ifaces {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			conn, cErr := net.ListenUDP("udp4", &net.UDPAddr{IP: iface.IP})
			if cErr != nil {
				lastErr = fmt.Errorf("failed to open mDNS socket on %s: %w", iface.Name, cErr)
				continue
			}

			for _, pkt := range packets {
				if _, wErr := conn.WriteTo(pkt, dst); wErr != nil {
					lastErr = fmt.Errorf("failed to send mDNS query on %s: %w", iface.Name, wErr)
				}
			}

			_ = conn.Close()
		}

		return lastErr
	}
}
