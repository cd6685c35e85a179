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
	"bufio"
	"bytes"
	"fmt"
	"net/textproto"
	"strings"
	"time"

	"github.com/carverauto/upnpradar/pkg/models"
)

// BuildMSearch frames an SSDP M-SEARCH request for a search target.
func BuildMSearch(st string, mx int) []byte {
	return []byte("M-SEARCH * HTTP/1.1\r\n" +
		"HOST: " + models.SSDPMulticastAddr + "\r\n" +
		"MAN: \"ssdp:discover\"\r\n" +
		"ST: " + st + "\r\n" +
		fmt.Sprintf("MX: %d\r\n", mx) +
		"\r\n")
}

// parseHeaderBlock reads an HTTP-style header block from a raw SSDP
// payload, returning the first line and an upper-cased header map.
func parseHeaderBlock(payload []byte) (string, map[string]string, error) {
	reader := bufio.NewReader(bytes.NewReader(payload))

	firstLine, err := reader.ReadString('\n')
	if err != nil {
		return "", nil, fmt.Errorf("%w: no start line", ErrNotSSDPMessage)
	}

	firstLine = strings.TrimSpace(firstLine)

	tp := textproto.NewReader(reader)

	mime, err := tp.ReadMIMEHeader()
	if err != nil && len(mime) == 0 {
		return "", nil, fmt.Errorf("%w: bad header block", ErrNotSSDPMessage)
	}

	headers := make(map[string]string, len(mime))
	for k, v := range mime {
		if len(v) > 0 {
			headers[strings.ToUpper(k)] = v[0]
		}
	}

	return firstLine, headers, nil
}

// ParseSearchResponse parses an M-SEARCH response datagram into a
// sighting. Non-200 or non-response payloads are rejected.
func ParseSearchResponse(payload []byte, ip string, route models.RouteInfo) (*models.Sighting, error) {
	firstLine, headers, err := parseHeaderBlock(payload)
	if err != nil {
		return nil, err
	}

	if !strings.HasPrefix(firstLine, "HTTP/1.1 200") && !strings.HasPrefix(firstLine, "HTTP/1.0 200") {
		return nil, fmt.Errorf("%w: %q", ErrNotSSDPMessage, firstLine)
	}

	usn := headers["USN"]
	if usn == "" {
		return nil, fmt.Errorf("%w: response without USN", ErrNotSSDPMessage)
	}

	_, class, splitErr := models.SplitUSN(usn)
	if splitErr != nil {
		return nil, splitErr
	}

	return &models.Sighting{
		USN:      usn,
		USNClass: class,
		Location: headers["LOCATION"],
		IP:       ip,
		Route:    route,
		Headers:  headers,
		SeenAt:   time.Now(),
	}, nil
}

// ParseNotify parses a multicast NOTIFY announcement. Unparseable
// payloads are reported, never fatal to the caller's loop.
func ParseNotify(payload []byte) (*NotifyMessage, error) {
	firstLine, headers, err := parseHeaderBlock(payload)
	if err != nil {
		return nil, err
	}

	if !strings.HasPrefix(firstLine, "NOTIFY") {
		return nil, fmt.Errorf("%w: %q", ErrNotSSDPMessage, firstLine)
	}

	usn := headers["USN"]
	if usn == "" {
		return nil, fmt.Errorf("%w: NOTIFY without USN", ErrNotSSDPMessage)
	}

	uuid, class, err := models.SplitUSN(usn)
	if err != nil {
		return nil, err
	}

	nts := headers["NTS"]
	if nts != models.NTSAlive && nts != models.NTSByebye {
		return nil, fmt.Errorf("%w: unknown NTS %q", ErrNotSSDPMessage, nts)
	}

	return &NotifyMessage{
		USN:      usn,
		UUID:     uuid,
		Class:    class,
		NTS:      nts,
		Location: headers["LOCATION"],
		Host:     headers["HOST"],
		Headers:  headers,
	}, nil
}
