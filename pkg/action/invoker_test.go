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

package action

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/upnpradar/pkg/description"
	"github.com/carverauto/upnpradar/pkg/logger"
	"github.com/carverauto/upnpradar/pkg/models"
	"github.com/carverauto/upnpradar/pkg/registry"
	"github.com/carverauto/upnpradar/pkg/soap"
)

const (
	actUDN         = "uuid:12121212-3434-5656-7878-909090909090"
	actUSN         = actUDN + "::upnp:rootdevice"
	actServiceType = "urn:schemas-upnp-org:service:RenderingControl:1"
)

var actKey = models.ServiceKey{Manufacturer: "Acme", ServiceType: actServiceType}

var errConnRefused = errors.New("dial tcp: connection refused")

type actFetcher struct{}

func (actFetcher) FetchRoot(_ context.Context, location string) (*description.Root, error) {
	base, err := url.Parse(location)
	if err != nil {
		return nil, err
	}

	doc := fmt.Sprintf(`<root xmlns="urn:schemas-upnp-org:device-1-0"><device>
		<deviceType>urn:schemas-upnp-org:device:MediaRenderer:1</deviceType>
		<friendlyName>Renderer</friendlyName>
		<manufacturer>Acme</manufacturer>
		<modelName>Player-1000</modelName>
		<UDN>%s</UDN>
		<serviceList><service>
			<serviceType>%s</serviceType>
			<serviceId>urn:upnp-org:serviceId:RenderingControl</serviceId>
			<SCPDURL>/rc/scpd.xml</SCPDURL>
			<controlURL>/rc/control</controlURL>
			<eventSubURL>/rc/events</eventSubURL>
		</service></serviceList>
	</device></root>`, actUDN, actServiceType)

	return description.ParseRoot([]byte(doc), base)
}

func (actFetcher) FetchSCPD(_ context.Context, _ string) (*description.SCPD, error) {
	return &description.SCPD{}, nil
}

// scriptedDoer plays back canned responses; the last step repeats.
type scriptedDoer struct {
	mu     sync.Mutex
	calls  int
	script []func() (*http.Response, error)
}

func (d *scriptedDoer) Do(_ *http.Request) (*http.Response, error) {
	d.mu.Lock()
	idx := d.calls
	d.calls++
	d.mu.Unlock()

	if idx >= len(d.script) {
		idx = len(d.script) - 1
	}

	return d.script[idx]()
}

func (d *scriptedDoer) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.calls
}

func httpResponse(status int, body string) func() (*http.Response, error) {
	return func() (*http.Response, error) {
		return &http.Response{
			StatusCode: status,
			Body:       io.NopCloser(strings.NewReader(body)),
			Header:     make(http.Header),
		}, nil
	}
}

func okVolume(volume int) func() (*http.Response, error) {
	body := fmt.Sprintf(`<?xml version="1.0"?>
<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/">
  <s:Body>
    <u:GetVolumeResponse xmlns:u="%s">
      <CurrentVolume>%d</CurrentVolume>
    </u:GetVolumeResponse>
  </s:Body>
</s:Envelope>`, actServiceType, volume)

	return httpResponse(http.StatusOK, body)
}

func deviceFault(code int) func() (*http.Response, error) {
	body := fmt.Sprintf(`<?xml version="1.0"?>
<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/">
  <s:Body>
    <s:Fault>
      <faultcode>s:Client</faultcode>
      <faultstring>UPnPError</faultstring>
      <detail>
        <UPnPError xmlns="urn:schemas-upnp-org:control-1-0">
          <errorCode>%d</errorCode>
          <errorDescription>refused</errorDescription>
        </UPnPError>
      </detail>
    </s:Fault>
  </s:Body>
</s:Envelope>`, code)

	return httpResponse(http.StatusInternalServerError, body)
}

func connFailure() func() (*http.Response, error) {
	return func() (*http.Response, error) { return nil, errConnRefused }
}

func newInvokerFixture(t *testing.T, doer *scriptedDoer) *Invoker {
	t.Helper()

	log := logger.NewTestLogger()
	reg := registry.New(actFetcher{}, nil, log)

	sighting := models.Sighting{
		USN:      actUSN,
		USNClass: models.RootDeviceClass,
		Location: "http://192.168.1.40:8080/desc.xml",
		IP:       "192.168.1.40",
		Route:    models.RouteInfo{Interface: "eth0", LocalIP: "192.168.1.2"},
	}

	require.NotNil(t, reg.UpsertSighting(context.Background(), sighting))

	inv := NewInvoker(reg, doer, log)
	inv.SetRetryInterval(10 * time.Millisecond)

	return inv
}

func getVolumeRequest(pattern CallPattern, timeout time.Duration) *Request {
	return &Request{
		USN:     actUSN,
		Key:     actKey,
		Action:  "GetVolume",
		Args:    map[string]interface{}{"InstanceID": 0, "Channel": "Master"},
		Pattern: pattern,
		Timeout: timeout,
	}
}

func TestSingleCallSuccess(t *testing.T) {
	doer := &scriptedDoer{script: []func() (*http.Response, error){okVolume(50)}}
	inv := newInvokerFixture(t, doer)

	result, err := inv.Invoke(context.Background(), getVolumeRequest(SingleCall, time.Second))
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"CurrentVolume": "50"}, result)
	assert.Equal(t, 1, doer.callCount())
}

func TestSingleCallPropagatesDeviceError(t *testing.T) {
	doer := &scriptedDoer{script: []func() (*http.Response, error){deviceFault(718)}}
	inv := newInvokerFixture(t, doer)

	_, err := inv.Invoke(context.Background(), getVolumeRequest(SingleCall, time.Second))

	var devErr *soap.UPnPError
	require.ErrorAs(t, err, &devErr)
	assert.Equal(t, 718, devErr.Code)
	assert.Equal(t, 1, doer.callCount())
}

func TestSingleConnectedCallDeviceErrorIsTerminal(t *testing.T) {
	doer := &scriptedDoer{script: []func() (*http.Response, error){deviceFault(402)}}
	inv := newInvokerFixture(t, doer)

	_, err := inv.Invoke(context.Background(), getVolumeRequest(SingleConnectedCall, time.Second))

	var devErr *soap.UPnPError
	require.ErrorAs(t, err, &devErr)
	assert.Equal(t, 1, doer.callCount())
}

func TestSingleConnectedCallRetriesConnectivityFailures(t *testing.T) {
	doer := &scriptedDoer{script: []func() (*http.Response, error){
		connFailure(),
		connFailure(),
		okVolume(12),
	}}
	inv := newInvokerFixture(t, doer)

	result, err := inv.Invoke(context.Background(), getVolumeRequest(SingleConnectedCall, time.Second))
	require.NoError(t, err)

	assert.Equal(t, "12", result["CurrentVolume"])
	assert.Equal(t, 3, doer.callCount())
}

func TestRepeatUntilSuccessRetriesAllowedCode(t *testing.T) {
	doer := &scriptedDoer{script: []func() (*http.Response, error){
		deviceFault(501),
		deviceFault(501),
		okVolume(30),
	}}
	inv := newInvokerFixture(t, doer)

	req := getVolumeRequest(RepeatUntilSuccess, time.Second)
	req.AllowedErrorCodes = []int{501}

	result, err := inv.Invoke(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "30", result["CurrentVolume"])
	assert.Equal(t, 3, doer.callCount())
}

func TestRepeatUntilSuccessDisallowedCodeIsTerminal(t *testing.T) {
	doer := &scriptedDoer{script: []func() (*http.Response, error){deviceFault(718)}}
	inv := newInvokerFixture(t, doer)

	req := getVolumeRequest(RepeatUntilSuccess, time.Second)
	req.AllowedErrorCodes = []int{501}

	_, err := inv.Invoke(context.Background(), req)

	var devErr *soap.UPnPError
	require.ErrorAs(t, err, &devErr)
	assert.Equal(t, 718, devErr.Code)
	assert.Equal(t, 1, doer.callCount())
}

func TestRepeatUntilSuccessMustConnect(t *testing.T) {
	doer := &scriptedDoer{script: []func() (*http.Response, error){connFailure()}}
	inv := newInvokerFixture(t, doer)

	req := getVolumeRequest(RepeatUntilSuccess, time.Second)
	req.MustConnect = true

	_, err := inv.Invoke(context.Background(), req)
	require.ErrorIs(t, err, errConnRefused)
	assert.Equal(t, 1, doer.callCount())
}

func TestRepeatWhileSuccessStopsOnDeviceError(t *testing.T) {
	doer := &scriptedDoer{script: []func() (*http.Response, error){
		okVolume(10),
		okVolume(20),
		deviceFault(718),
	}}
	inv := newInvokerFixture(t, doer)

	result, err := inv.Invoke(context.Background(), getVolumeRequest(RepeatWhileSuccess, 5*time.Second))
	require.NoError(t, err)

	assert.Equal(t, "20", result["CurrentVolume"])
	assert.Equal(t, 3, doer.callCount())
}

func TestRepeatWhileSuccessMustConnectSurfacesConnectivityFailure(t *testing.T) {
	doer := &scriptedDoer{script: []func() (*http.Response, error){
		okVolume(10),
		connFailure(),
	}}
	inv := newInvokerFixture(t, doer)

	req := getVolumeRequest(RepeatWhileSuccess, 5*time.Second)
	req.MustConnect = true

	_, err := inv.Invoke(context.Background(), req)
	require.ErrorIs(t, err, errConnRefused)
}

func TestRepeatUntilConnectionFailureAbsorbsDeviceErrors(t *testing.T) {
	doer := &scriptedDoer{script: []func() (*http.Response, error){
		okVolume(10),
		deviceFault(501),
		deviceFault(501),
		connFailure(),
	}}
	inv := newInvokerFixture(t, doer)

	result, err := inv.Invoke(context.Background(), getVolumeRequest(RepeatUntilConnectionFailure, 5*time.Second))
	require.NoError(t, err)

	assert.Equal(t, "10", result["CurrentVolume"])
	assert.Equal(t, 4, doer.callCount())
}

func TestUnknownPatternIsConfigurationError(t *testing.T) {
	doer := &scriptedDoer{script: []func() (*http.Response, error){okVolume(10)}}
	inv := newInvokerFixture(t, doer)

	req := getVolumeRequest(CallPattern(99), time.Second)

	_, err := inv.Invoke(context.Background(), req)
	assert.ErrorIs(t, err, ErrUnknownPattern)
	assert.Zero(t, doer.callCount())
}

func TestRetryLoopsTerminateAtDeadline(t *testing.T) {
	patterns := []CallPattern{SingleConnectedCall, RepeatUntilSuccess, RepeatUntilConnectionFailure}

	for _, pattern := range patterns {
		t.Run(pattern.String(), func(t *testing.T) {
			failure := connFailure()
			if pattern == RepeatUntilConnectionFailure {
				// Connection failures end this pattern normally, so the
				// always-failing case here is a device error.
				failure = deviceFault(501)
			}

			doer := &scriptedDoer{script: []func() (*http.Response, error){failure}}
			inv := newInvokerFixture(t, doer)

			req := getVolumeRequest(pattern, 100*time.Millisecond)

			start := time.Now()
			_, err := inv.Invoke(context.Background(), req)
			elapsed := time.Since(start)

			var timeoutErr *TimeoutError
			require.ErrorAs(t, err, &timeoutErr)
			assert.Equal(t, "GetVolume", timeoutErr.Action)
			assert.Contains(t, err.Error(), "GetVolume")
			assert.Less(t, elapsed, time.Second)
		})
	}
}

func TestRepeatWhileSuccessTimesOutWhileStillSucceeding(t *testing.T) {
	doer := &scriptedDoer{script: []func() (*http.Response, error){okVolume(10)}}
	inv := newInvokerFixture(t, doer)

	_, err := inv.Invoke(context.Background(), getVolumeRequest(RepeatWhileSuccess, 50*time.Millisecond))

	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, "GetVolume", timeoutErr.Action)
}

func TestInvokeUnknownDevice(t *testing.T) {
	doer := &scriptedDoer{script: []func() (*http.Response, error){okVolume(10)}}
	inv := newInvokerFixture(t, doer)

	req := getVolumeRequest(SingleCall, time.Second)
	req.USN = "uuid:00000000-0000-0000-0000-000000000000::upnp:rootdevice"

	_, err := inv.Invoke(context.Background(), req)
	assert.ErrorIs(t, err, registry.ErrUnknownDevice)
	assert.Zero(t, doer.callCount())
}
