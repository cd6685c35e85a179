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

package description

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/upnpradar/pkg/logger"
)

const testRootDoc = `<?xml version="1.0"?>
<root xmlns="urn:schemas-upnp-org:device-1-0">
  <device>
    <deviceType>urn:schemas-upnp-org:device:MediaRenderer:1</deviceType>
    <friendlyName>Living Room</friendlyName>
    <manufacturer>Acme</manufacturer>
    <modelName>Player-1000</modelName>
    <UDN>uuid:11111111-2222-3333-4444-555555555555</UDN>
    <serviceList>
      <service>
        <serviceType>urn:schemas-upnp-org:service:RenderingControl:1</serviceType>
        <serviceId>urn:upnp-org:serviceId:RenderingControl</serviceId>
        <SCPDURL>/rc/scpd.xml</SCPDURL>
        <controlURL>/rc/control</controlURL>
        <eventSubURL>/rc/events</eventSubURL>
      </service>
    </serviceList>
    <deviceList>
      <device>
        <deviceType>urn:schemas-upnp-org:device:Embedded:1</deviceType>
        <UDN>uuid:embedded</UDN>
        <serviceList>
          <service>
            <serviceType>urn:schemas-upnp-org:service:ConnectionManager:1</serviceType>
            <serviceId>urn:upnp-org:serviceId:ConnectionManager</serviceId>
            <SCPDURL>/cm/scpd.xml</SCPDURL>
            <controlURL>/cm/control</controlURL>
            <eventSubURL>/cm/events</eventSubURL>
          </service>
        </serviceList>
      </device>
    </deviceList>
  </device>
</root>`

const testSCPDDoc = `<?xml version="1.0"?>
<scpd xmlns="urn:schemas-upnp-org:service-1-0">
  <actionList>
    <action>
      <name>GetVolume</name>
      <argumentList>
        <argument><name>InstanceID</name><direction>in</direction><relatedStateVariable>A_ARG_TYPE_InstanceID</relatedStateVariable></argument>
        <argument><name>CurrentVolume</name><direction>out</direction><relatedStateVariable>Volume</relatedStateVariable></argument>
      </argumentList>
    </action>
  </actionList>
  <serviceStateTable>
    <stateVariable sendEvents="yes">
      <name>Volume</name>
      <dataType>ui2</dataType>
      <defaultValue>0</defaultValue>
    </stateVariable>
    <stateVariable sendEvents="no">
      <name>A_ARG_TYPE_InstanceID</name>
      <dataType>ui4</dataType>
    </stateVariable>
    <stateVariable>
      <name>Mute</name>
      <dataType>boolean</dataType>
      <allowedValueList>
        <allowedValue>0</allowedValue>
        <allowedValue>1</allowedValue>
      </allowedValueList>
    </stateVariable>
  </serviceStateTable>
</scpd>`

func TestFetchRootResolvesURLs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/xml")
		_, _ = w.Write([]byte(testRootDoc))
	}))
	defer srv.Close()

	f := NewFetcher(nil, 0, logger.NewTestLogger())

	root, err := f.FetchRoot(context.Background(), srv.URL+"/desc.xml")
	require.NoError(t, err)

	assert.Equal(t, "uuid:11111111-2222-3333-4444-555555555555", root.Device.UDN)
	assert.Equal(t, "Living Room", root.Device.FriendlyName)

	require.Len(t, root.Device.Services, 1)
	svc := root.Device.Services[0]
	require.True(t, svc.ControlURL.OK)
	assert.Equal(t, srv.URL+"/rc/control", svc.ControlURL.URL.String())
	assert.Equal(t, srv.URL+"/rc/events", svc.EventSubURL.URL.String())

	// Embedded device services resolve against the same base.
	var visited []string
	root.Device.VisitServices(func(s *Service) {
		visited = append(visited, s.ServiceType)
	})
	assert.Len(t, visited, 2)
}

func TestFetchRootNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := NewFetcher(nil, 0, logger.NewTestLogger())

	_, err := f.FetchRoot(context.Background(), srv.URL+"/desc.xml")
	assert.ErrorIs(t, err, ErrHTTPStatus)
}

func TestParseRootMissingUDN(t *testing.T) {
	doc := `<root xmlns="urn:schemas-upnp-org:device-1-0"><device><friendlyName>x</friendlyName></device></root>`

	f := NewFetcher(nil, 0, logger.NewTestLogger())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(doc))
	}))
	defer srv.Close()

	_, err := f.FetchRoot(context.Background(), srv.URL)
	assert.ErrorIs(t, err, ErrMalformedDoc)
}

func TestParseSCPD(t *testing.T) {
	scpd, err := ParseSCPD([]byte(testSCPDDoc))
	require.NoError(t, err)

	require.Len(t, scpd.Actions, 1)
	assert.Equal(t, "GetVolume", scpd.Actions[0].Name)
	assert.Len(t, scpd.Actions[0].Arguments, 2)

	require.Len(t, scpd.StateVariables, 3)

	byName := map[string]*StateVariable{}
	for i := range scpd.StateVariables {
		byName[scpd.StateVariables[i].Name] = &scpd.StateVariables[i]
	}

	assert.True(t, byName["Volume"].Evented())
	assert.False(t, byName["A_ARG_TYPE_InstanceID"].Evented())

	// Absent sendEvents defaults to evented.
	assert.True(t, byName["Mute"].Evented())
	assert.Equal(t, []string{"0", "1"}, byName["Mute"].AllowedValues)
	assert.Equal(t, "0", byName["Volume"].DefaultValue)
}
