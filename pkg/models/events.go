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

package models

import "time"

// CloudEvent is the envelope published to the event stream.
type CloudEvent struct {
	SpecVersion     string      `json:"specversion"`
	ID              string      `json:"id"`
	Source          string      `json:"source"`
	Type            string      `json:"type"`
	DataContentType string      `json:"datacontenttype"`
	Subject         string      `json:"subject"`
	Time            *time.Time  `json:"time,omitempty"`
	Data            interface{} `json:"data,omitempty"`
}

// DeviceEventData describes a device lifecycle transition.
type DeviceEventData struct {
	USN          string    `json:"usn"`
	FriendlyName string    `json:"friendly_name,omitempty"`
	Manufacturer string    `json:"manufacturer,omitempty"`
	ModelName    string    `json:"model_name,omitempty"`
	IP           string    `json:"ip,omitempty"`
	Location     string    `json:"location,omitempty"`
	Available    bool      `json:"available"`
	Timestamp    time.Time `json:"timestamp"`
}

// ServiceEventData describes applied evented-variable changes.
type ServiceEventData struct {
	USN         string            `json:"usn"`
	ServiceType string            `json:"service_type"`
	Changes     map[string]string `json:"changes"`
	Timestamp   time.Time         `json:"timestamp"`
}
