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

// Package action executes SOAP control calls against discovered services
// with selectable retry behavior.
package action

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/carverauto/upnpradar/pkg/logger"
	"github.com/carverauto/upnpradar/pkg/models"
	"github.com/carverauto/upnpradar/pkg/registry"
	"github.com/carverauto/upnpradar/pkg/soap"
)

// CallPattern selects the retry behavior wrapped around one action.
type CallPattern int

const (
	// SingleCall makes exactly one attempt and propagates any error.
	SingleCall CallPattern = iota

	// SingleConnectedCall retries connectivity failures until the
	// deadline; a device-reported error proves the device is reachable
	// and is terminal immediately.
	SingleConnectedCall

	// RepeatUntilSuccess retries until the call succeeds. A device
	// error retries only if its code is on the allow-list; other
	// failures retry unless MustConnect is set.
	RepeatUntilSuccess

	// RepeatWhileSuccess keeps calling as long as the call succeeds and
	// stops cleanly on the first failure (unless MustConnect turns a
	// connectivity failure into an error).
	RepeatWhileSuccess

	// RepeatUntilConnectionFailure hammers the action, logging device
	// errors, until the transport fails. Used to ride out a device
	// reboot.
	RepeatUntilConnectionFailure
)

func (p CallPattern) String() string {
	switch p {
	case SingleCall:
		return "single"
	case SingleConnectedCall:
		return "single-connected"
	case RepeatUntilSuccess:
		return "until-success"
	case RepeatWhileSuccess:
		return "while-success"
	case RepeatUntilConnectionFailure:
		return "until-connection-failure"
	default:
		return fmt.Sprintf("pattern(%d)", int(p))
	}
}

const (
	defaultCompletionTimeout = 30 * time.Second
	defaultRetryInterval     = time.Second
	maxResponseBody          = 1 << 20
)

// Request describes one action call.
type Request struct {
	USN    string
	Key    models.ServiceKey
	Action string
	Args   map[string]interface{}

	Pattern CallPattern

	// Timeout bounds the whole retry loop, not one attempt.
	Timeout time.Duration

	// AllowedErrorCodes are device error codes RepeatUntilSuccess may
	// retry on.
	AllowedErrorCodes []int

	// MustConnect turns connectivity failures terminal for the
	// patterns that would otherwise absorb them.
	MustConnect bool
}

// HTTPDoer issues the POST to the service control URL.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Invoker runs SOAP actions against registered services.
type Invoker struct {
	registry      *registry.Registry
	client        HTTPDoer
	retryInterval time.Duration
	logger        logger.Logger
}

func NewInvoker(reg *registry.Registry, client HTTPDoer, log logger.Logger) *Invoker {
	if client == nil {
		client = http.DefaultClient
	}

	return &Invoker{
		registry:      reg,
		client:        client,
		retryInterval: defaultRetryInterval,
		logger:        log.WithComponent("action"),
	}
}

// SetRetryInterval overrides the pause between attempts.
func (i *Invoker) SetRetryInterval(d time.Duration) { i.retryInterval = d }

// Invoke runs the action under the request's pattern and returns the
// decoded response arguments of the last successful attempt.
func (i *Invoker) Invoke(ctx context.Context, req *Request) (map[string]string, error) {
	controlURL, err := i.resolveControlURL(req)
	if err != nil {
		return nil, err
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = defaultCompletionTimeout
	}

	deadline := time.Now().Add(timeout)

	switch req.Pattern {
	case SingleCall:
		return i.attempt(ctx, req, controlURL)
	case SingleConnectedCall:
		return i.repeat(ctx, req, controlURL, deadline, func(attemptErr error) (bool, error) {
			var devErr *soap.UPnPError
			if errors.As(attemptErr, &devErr) {
				return false, attemptErr
			}

			return true, nil
		})
	case RepeatUntilSuccess:
		return i.repeat(ctx, req, controlURL, deadline, func(attemptErr error) (bool, error) {
			var devErr *soap.UPnPError
			if errors.As(attemptErr, &devErr) {
				if codeAllowed(devErr.Code, req.AllowedErrorCodes) {
					return true, nil
				}

				return false, attemptErr
			}

			if req.MustConnect {
				return false, attemptErr
			}

			return true, nil
		})
	case RepeatWhileSuccess:
		return i.repeatWhile(ctx, req, controlURL, deadline)
	case RepeatUntilConnectionFailure:
		return i.repeatUntilDisconnect(ctx, req, controlURL, deadline)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownPattern, req.Pattern)
	}
}

// repeat loops the attempt until success, a terminal error per decide,
// or the deadline. A failure after the deadline becomes a TimeoutError.
func (i *Invoker) repeat(
	ctx context.Context, req *Request, controlURL string, deadline time.Time,
	decide func(error) (retry bool, terminal error)) (map[string]string, error) {
	start := time.Now()

	for {
		result, err := i.attempt(ctx, req, controlURL)
		if err == nil {
			return result, nil
		}

		retry, terminal := decide(err)
		if !retry {
			return nil, terminal
		}

		if time.Now().After(deadline) {
			return nil, &TimeoutError{Action: req.Action, Elapsed: time.Since(start), LastErr: err}
		}

		if sleepErr := i.sleep(ctx); sleepErr != nil {
			return nil, sleepErr
		}
	}
}

// repeatWhile keeps calling while attempts succeed. The first device
// error or connectivity failure ends the loop cleanly; MustConnect
// turns a connectivity failure into an error. Running out of time while
// still succeeding is a timeout.
func (i *Invoker) repeatWhile(
	ctx context.Context, req *Request, controlURL string, deadline time.Time) (map[string]string, error) {
	start := time.Now()

	var last map[string]string

	for {
		result, err := i.attempt(ctx, req, controlURL)
		if err != nil {
			var devErr *soap.UPnPError
			if !errors.As(err, &devErr) && req.MustConnect {
				return nil, err
			}

			return last, nil
		}

		last = result

		if time.Now().After(deadline) {
			return last, &TimeoutError{Action: req.Action, Elapsed: time.Since(start)}
		}

		if sleepErr := i.sleep(ctx); sleepErr != nil {
			return last, sleepErr
		}
	}
}

// repeatUntilDisconnect calls until the transport fails, which is the
// expected outcome. Device errors are logged and ignored.
func (i *Invoker) repeatUntilDisconnect(
	ctx context.Context, req *Request, controlURL string, deadline time.Time) (map[string]string, error) {
	start := time.Now()

	var last map[string]string

	for {
		result, err := i.attempt(ctx, req, controlURL)

		switch {
		case err == nil:
			last = result
		default:
			var devErr *soap.UPnPError
			if !errors.As(err, &devErr) {
				return last, nil
			}

			i.logger.Debug().
				Str("action", req.Action).
				Int("code", devErr.Code).
				Msg("Device error while waiting for connection loss")
		}

		if time.Now().After(deadline) {
			return last, &TimeoutError{Action: req.Action, Elapsed: time.Since(start), LastErr: err}
		}

		if sleepErr := i.sleep(ctx); sleepErr != nil {
			return last, sleepErr
		}
	}
}

func (i *Invoker) sleep(ctx context.Context) error {
	timer := time.NewTimer(i.retryInterval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (i *Invoker) resolveControlURL(req *Request) (string, error) {
	dev := i.registry.LookupByUSN(req.USN)
	if dev == nil {
		return "", fmt.Errorf("%w: %s", registry.ErrUnknownDevice, req.USN)
	}

	svc := dev.Service(req.Key)
	if svc == nil {
		return "", fmt.Errorf("%w: %s/%s", registry.ErrUnknownService, req.USN, req.Key.ServiceType)
	}

	if svc.ControlURL == "" {
		return "", fmt.Errorf("%w: %s/%s", ErrNoControlURL, req.USN, req.Key.ServiceType)
	}

	return svc.ControlURL, nil
}

// attempt performs exactly one SOAP POST. A 500 with a parseable fault
// surfaces as *soap.UPnPError.
func (i *Invoker) attempt(ctx context.Context, req *Request, controlURL string) (map[string]string, error) {
	envelope := soap.EncodeRequest(req.Key.ServiceType, req.Action, req.Args)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, controlURL, bytes.NewReader(envelope))
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Content-Type", `text/xml; charset="utf-8"`)
	httpReq.Header.Set("SOAPACTION", soap.FormatSOAPAction(req.Key.ServiceType, req.Action))

	resp, err := i.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return soap.DecodeResponse(body, req.Key.ServiceType, req.Action)
	case resp.StatusCode == http.StatusInternalServerError:
		devErr, faultErr := soap.DecodeFault(body)
		if faultErr != nil {
			return nil, fmt.Errorf("%w: %d (unparseable fault: %s)", ErrHTTPStatus, resp.StatusCode, faultErr)
		}

		return nil, devErr
	default:
		return nil, fmt.Errorf("%w: %d", ErrHTTPStatus, resp.StatusCode)
	}
}

func codeAllowed(code int, allowed []int) bool {
	for _, c := range allowed {
		if c == code {
			return true
		}
	}

	return false
}
