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
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/upnpradar/pkg/logger"
	"github.com/carverauto/upnpradar/pkg/models"
	"github.com/carverauto/upnpradar/pkg/registry"
)

const volumeNotify = `<?xml version="1.0"?>
<e:propertyset xmlns:e="urn:schemas-upnp-org:event-1-0">
  <e:property><Volume>42</Volume></e:property>
  <e:property><Mute>1</Mute></e:property>
</e:propertyset>`

func newCallbackFixture(t *testing.T) (*CallbackRouter, *registry.Registry) {
	t.Helper()

	log := logger.NewTestLogger()
	reg := registry.New(&descFetcher{evented: true}, nil, log)

	sighting := models.Sighting{
		USN:      evUSN,
		USNClass: models.RootDeviceClass,
		Location: "http://192.168.1.30:8080/desc.xml",
		IP:       "192.168.1.30",
		Route:    models.RouteInfo{Interface: "eth0", LocalIP: "192.168.1.2"},
	}

	require.NotNil(t, reg.UpsertSighting(context.Background(), sighting))
	require.NoError(t, reg.SetSubscription(evUSN, evKey, "uuid:sub-1", time.Now().Add(time.Hour)))

	return NewCallbackRouter(reg, log), reg
}

func deliverNotify(t *testing.T, router *CallbackRouter, sid, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest("NOTIFY", CallbackPath, strings.NewReader(body))
	req.RemoteAddr = "192.168.1.30:50000"
	req.Header.Set("Content-Type", `text/xml; charset="utf-8"`)
	req.Header.Set("NT", "upnp:event")
	req.Header.Set("NTS", "upnp:propchange")

	if sid != "" {
		req.Header.Set("SID", sid)
	}

	w := httptest.NewRecorder()
	router.Routes().ServeHTTP(w, req)

	return w
}

func TestNotifyAppliesChanges(t *testing.T) {
	router, reg := newCallbackFixture(t)

	var hookChanges map[string]string

	router.SetEventHook(func(_ *registry.DeviceRecord, _ *registry.ServiceRecord, changes map[string]string) {
		hookChanges = changes
	})

	w := deliverNotify(t, router, "uuid:sub-1", volumeNotify)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.Bytes())

	dev := reg.LookupByUSN(evUSN)
	require.NotNil(t, dev)

	svc := dev.Service(evKey)
	require.NotNil(t, svc)

	assert.Equal(t, "42", svc.Variables["Volume"].Value)
	assert.Equal(t, "1", svc.Variables["Mute"].Value)

	require.NotNil(t, hookChanges)
	assert.Equal(t, "42", hookChanges["Volume"])
}

func TestNotifyUnknownSIDStillAcknowledged(t *testing.T) {
	router, reg := newCallbackFixture(t)

	w := deliverNotify(t, router, "uuid:stranger", volumeNotify)
	assert.Equal(t, http.StatusOK, w.Code)

	svc := reg.LookupByUSN(evUSN).Service(evKey)
	assert.Equal(t, "0", svc.Variables["Volume"].Value)
}

func TestNotifyWithoutSIDStillAcknowledged(t *testing.T) {
	router, _ := newCallbackFixture(t)

	w := deliverNotify(t, router, "", volumeNotify)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestNotifyMalformedBodyStillAcknowledged(t *testing.T) {
	router, reg := newCallbackFixture(t)

	w := deliverNotify(t, router, "uuid:sub-1", "<not-a-propertyset")
	assert.Equal(t, http.StatusOK, w.Code)

	svc := reg.LookupByUSN(evUSN).Service(evKey)
	assert.Equal(t, "0", svc.Variables["Volume"].Value)
}

func TestNotifyUnknownVariableSkipped(t *testing.T) {
	router, reg := newCallbackFixture(t)

	body := `<e:propertyset xmlns:e="urn:schemas-upnp-org:event-1-0">
		<e:property><Bogus>7</Bogus></e:property>
		<e:property><Volume>11</Volume></e:property>
	</e:propertyset>`

	w := deliverNotify(t, router, "uuid:sub-1", body)
	assert.Equal(t, http.StatusOK, w.Code)

	svc := reg.LookupByUSN(evUSN).Service(evKey)
	assert.Equal(t, "11", svc.Variables["Volume"].Value)
	assert.NotContains(t, svc.Variables, "Bogus")
}

func TestNotifyMirroredToRegisteredCapture(t *testing.T) {
	router, _ := newCallbackFixture(t)

	ch := router.RegisterCapture("192.168.1.30")

	deliverNotify(t, router, "uuid:sub-1", volumeNotify)

	select {
	case got := <-ch:
		assert.Equal(t, volumeNotify, string(got.Body))
		assert.Equal(t, "uuid:sub-1", got.Header.Get("SID"))
	default:
		t.Fatal("expected a mirrored request")
	}
}

func TestNotifyNotMirroredForOtherSenders(t *testing.T) {
	router, _ := newCallbackFixture(t)

	ch := router.RegisterCapture("192.168.1.99")

	deliverNotify(t, router, "uuid:sub-1", volumeNotify)

	select {
	case <-ch:
		t.Fatal("capture for a different address must stay empty")
	default:
	}
}

func TestNotifyCaptureDropsWhenBufferFull(t *testing.T) {
	router, _ := newCallbackFixture(t)

	router.RegisterCapture("192.168.1.30")

	// Nobody drains the channel; once it fills, deliveries must keep
	// landing without blocking the handler.
	for i := 0; i < captureBuffer+5; i++ {
		w := deliverNotify(t, router, "uuid:sub-1", volumeNotify)
		assert.Equal(t, http.StatusOK, w.Code)
	}
}

func TestNotifyCaptureMirrorsEvenWithoutSID(t *testing.T) {
	router, _ := newCallbackFixture(t)

	ch := router.RegisterCapture("192.168.1.30")

	deliverNotify(t, router, "", volumeNotify)

	select {
	case got := <-ch:
		assert.Equal(t, volumeNotify, string(got.Body))
	default:
		t.Fatal("raw request should be mirrored before SID validation")
	}
}

func TestUnregisterCaptureClosesChannel(t *testing.T) {
	router, _ := newCallbackFixture(t)

	ch := router.RegisterCapture("192.168.1.30")
	router.UnregisterCapture("192.168.1.30")

	_, open := <-ch
	assert.False(t, open)

	// Traffic after unregistering goes nowhere, and the router stays up.
	w := deliverNotify(t, router, "uuid:sub-1", volumeNotify)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestParsePropertySet(t *testing.T) {
	changes, err := ParsePropertySet([]byte(volumeNotify))
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"Volume": "42", "Mute": "1"}, changes)
}

func TestParsePropertySetNestedMarkup(t *testing.T) {
	body := `<e:propertyset xmlns:e="urn:schemas-upnp-org:event-1-0">
		<e:property><LastChange><Event><Volume val="9"/></Event></LastChange></e:property>
	</e:propertyset>`

	changes, err := ParsePropertySet([]byte(body))
	require.NoError(t, err)

	assert.Contains(t, changes["LastChange"], `<Volume val="9"/>`)
}

func TestParsePropertySetMalformed(t *testing.T) {
	_, err := ParsePropertySet([]byte("<oops"))
	assert.ErrorIs(t, err, ErrMalformedProperties)
}
