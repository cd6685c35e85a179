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
	"encoding/xml"
	"fmt"
	"strings"
)

// EventNS is the GENA event envelope namespace.
const EventNS = "urn:schemas-upnp-org:event-1-0"

type propertySet struct {
	XMLName    xml.Name       `xml:"propertyset"`
	Properties []propertyElem `xml:"property"`
}

type propertyElem struct {
	Vars []variableElem `xml:",any"`
}

type variableElem struct {
	XMLName  xml.Name
	Inner    string         `xml:",innerxml"`
	Chardata string         `xml:",chardata"`
	Children []variableElem `xml:",any"`
}

func (v *variableElem) text() string {
	// Values that carry nested markup (LastChange and friends) keep
	// their raw inner XML; plain values get entity-decoded text.
	if len(v.Children) > 0 {
		return strings.TrimSpace(v.Inner)
	}

	return strings.TrimSpace(v.Chardata)
}

// ParsePropertySet decodes a NOTIFY body into variable name/value pairs.
// Each <e:property> wraps exactly one variable element; all of them are
// flattened into one map.
func ParsePropertySet(body []byte) (map[string]string, error) {
	var ps propertySet

	if err := xml.Unmarshal(body, &ps); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedProperties, err)
	}

	changes := make(map[string]string)

	for i := range ps.Properties {
		for j := range ps.Properties[i].Vars {
			v := &ps.Properties[i].Vars[j]
			changes[v.XMLName.Local] = v.text()
		}
	}

	return changes, nil
}
