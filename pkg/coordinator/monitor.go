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

package coordinator

import (
	"context"
	"net"
	"time"

	"github.com/carverauto/upnpradar/pkg/models"
)

const monitorReadBuffer = 4096

// listenNotify joins the SSDP multicast group. Swapped in tests.
type listenNotifyFunc func() (net.PacketConn, error)

func defaultListenNotify() (net.PacketConn, error) {
	addr, err := net.ResolveUDPAddr("udp4", models.SSDPMulticastAddr)
	if err != nil {
		return nil, err
	}

	return net.ListenMulticastUDP("udp4", nil, addr)
}

// runMonitor is the single passive NOTIFY listener. Every datagram is
// handed to the worker pool; the monitor itself never blocks on
// registry or description work.
func (c *Coordinator) runMonitor(ctx context.Context, conn net.PacketConn) {
	defer c.wg.Done()
	defer conn.Close()

	buf := make([]byte, monitorReadBuffer)

	for {
		if ctx.Err() != nil {
			return
		}

		_ = conn.SetReadDeadline(time.Now().Add(time.Second))

		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}

			if ctx.Err() != nil {
				return
			}

			c.logger.Warn().Err(err).Msg("NOTIFY monitor read failed")

			return
		}

		payload := make([]byte, n)
		copy(payload, buf[:n])

		senderIP := ""
		if udp, ok := addr.(*net.UDPAddr); ok {
			senderIP = udp.IP.String()
		}

		if !c.pool.submit("handle-notify", func(ctx context.Context) error {
			c.scanner.HandleNotify(ctx, payload, senderIP, models.RouteInfo{})
			metricNotifyMessages.WithLabelValues("handled").Inc()
			return nil
		}) {
			metricNotifyMessages.WithLabelValues("dropped").Inc()
		}
	}
}
