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

import "errors"

var (
	// ErrRequiredDevicesMissing is the aggregated startup failure when
	// required hints stayed unmatched after every scan phase.
	ErrRequiredDevicesMissing = errors.New("required devices not found")

	ErrNoUsableInterfaces = errors.New("no usable IPv4 interfaces for discovery")
	ErrNotSSDPMessage     = errors.New("payload is not an SSDP message")
	ErrCacheMiss          = errors.New("discovery cache miss")
)
