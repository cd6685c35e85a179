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
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/carverauto/upnpradar/pkg/logger"
)

var (
	ErrHTTPStatus   = errors.New("unexpected HTTP status fetching description")
	ErrMalformedDoc = errors.New("malformed description document")
)

const (
	defaultFetchTimeout = 10 * time.Second
	maxDocumentSize     = 1 << 20 // 1 MiB
)

// HTTPDoer is the subset of http.Client the fetcher needs.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Fetcher retrieves device and service description documents over HTTP.
type Fetcher struct {
	client  HTTPDoer
	timeout time.Duration
	logger  logger.Logger
}

// NewFetcher builds a fetcher. A nil client uses http.DefaultClient.
func NewFetcher(client HTTPDoer, timeout time.Duration, log logger.Logger) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}

	if timeout == 0 {
		timeout = defaultFetchTimeout
	}

	return &Fetcher{client: client, timeout: timeout, logger: log}
}

func (f *Fetcher) get(ctx context.Context, rawURL string) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}

	res, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}

	defer func() {
		if closeErr := res.Body.Close(); closeErr != nil {
			f.logger.Debug().Err(closeErr).Msg("failed to close description response body")
		}
	}()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %d from %s", ErrHTTPStatus, res.StatusCode, rawURL)
	}

	return io.ReadAll(io.LimitReader(res.Body, maxDocumentSize))
}

// FetchRoot retrieves and parses a device description document, resolving
// every service URL against the description location.
func (f *Fetcher) FetchRoot(ctx context.Context, location string) (*Root, error) {
	base, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("%w: bad location %q: %w", ErrMalformedDoc, location, err)
	}

	data, err := f.get(ctx, location)
	if err != nil {
		return nil, err
	}

	root, err := ParseRoot(data, base)
	if err != nil {
		return nil, err
	}

	f.logger.Debug().
		Str("location", location).
		Str("udn", root.Device.UDN).
		Str("model", root.Device.ModelName).
		Msg("fetched device description")

	return root, nil
}

// FetchSCPD retrieves and parses a service control protocol description.
func (f *Fetcher) FetchSCPD(ctx context.Context, scpdURL string) (*SCPD, error) {
	data, err := f.get(ctx, scpdURL)
	if err != nil {
		return nil, err
	}

	return ParseSCPD(data)
}

// ParseRoot parses a device description document against a base URL.
func ParseRoot(data []byte, base *url.URL) (*Root, error) {
	var root Root

	if err := xml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedDoc, err)
	}

	if root.Device.UDN == "" {
		return nil, fmt.Errorf("%w: device has no UDN", ErrMalformedDoc)
	}

	root.Device.resolveURLs(base)
	root.BaseURL = base.String()

	return &root, nil
}

// ParseSCPD parses a service description document.
func ParseSCPD(data []byte) (*SCPD, error) {
	var scpd SCPD

	if err := xml.Unmarshal(data, &scpd); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedDoc, err)
	}

	return &scpd, nil
}
