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
	"net"
)

// Interface is one usable IPv4 network interface for multicast search.
type Interface struct {
	Name string
	IP   net.IP
}

// ListInterfaces enumerates up, non-loopback, IPv4-capable interfaces,
// skipping any whose name appears in excluded.
func ListInterfaces(excluded []string) ([]Interface, error) {
	skip := make(map[string]struct{}, len(excluded))
	for _, name := range excluded {
		skip[name] = struct{}{}
	}

	sysIfaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	var out []Interface

	for _, si := range sysIfaces {
		if si.Flags&net.FlagUp == 0 || si.Flags&net.FlagLoopback != 0 {
			continue
		}

		if _, ok := skip[si.Name]; ok {
			continue
		}

		addrs, aErr := si.Addrs()
		if aErr != nil {
			continue
		}

		for _, addr := range addrs {
			ipn, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}

			if v4 := ipn.IP.To4(); v4 != nil {
				out = append(out, Interface{Name: si.Name, IP: v4})
				break
			}
		}
	}

	return out, nil
}
