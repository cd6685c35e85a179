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
	"fmt"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"
)

// ipNetToMediaPhysAddress from the IP-MIB. Walking it yields one row per
// ARP neighbor; the MAC is the value and the IP is the OID suffix.
const ipNetToMediaPhysAddress = ".1.3.6.1.2.1.4.22.1.2"

// NormalizeMAC lowercases a MAC address and strips separators so hint
// MACs and SNMP-reported MACs compare equal regardless of formatting.
func NormalizeMAC(mac string) string {
	mac = strings.ToLower(mac)
	mac = strings.ReplaceAll(mac, ":", "")
	mac = strings.ReplaceAll(mac, "-", "")
	mac = strings.ReplaceAll(mac, ".", "")

	return mac
}

func macFromBytes(raw []byte) string {
	parts := make([]string, 0, len(raw))
	for _, b := range raw {
		parts = append(parts, fmt.Sprintf("%02x", b))
	}

	return strings.Join(parts, "")
}

// SNMPNeighbors walks the gateway's ARP table and returns a map of
// normalized MAC address to IPv4 address.
func SNMPNeighbors(cfg ARPConfig, timeout time.Duration) (map[string]string, error) {
	port := cfg.Port
	if port == 0 {
		port = 161
	}

	community := cfg.Community
	if community == "" {
		community = "public"
	}

	client := &gosnmp.GoSNMP{
		Target:    cfg.GatewayIP,
		Port:      port,
		Community: community,
		Version:   gosnmp.Version2c,
		Timeout:   timeout,
		Retries:   1,
	}

	if err := client.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to gateway %s: %w", cfg.GatewayIP, err)
	}
	defer client.Conn.Close()

	neighbors := make(map[string]string)

	err := client.BulkWalk(ipNetToMediaPhysAddress, func(pdu gosnmp.SnmpPDU) error {
		raw, ok := pdu.Value.([]byte)
		if !ok || len(raw) == 0 {
			return nil
		}

		// OID suffix is <ifIndex>.<a>.<b>.<c>.<d>.
		parts := strings.Split(pdu.Name, ".")
		if len(parts) < 4 {
			return nil
		}

		ip := strings.Join(parts[len(parts)-4:], ".")
		neighbors[macFromBytes(raw)] = ip

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk ARP table on %s: %w", cfg.GatewayIP, err)
	}

	return neighbors, nil
}
