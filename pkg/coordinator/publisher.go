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

package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/carverauto/upnpradar/pkg/models"
)

const eventSource = "upnpradar/coordinator"

// EventPublisher fans device and service state transitions out to
// downstream consumers.
type EventPublisher interface {
	PublishDevice(ctx context.Context, eventType string, data models.DeviceEventData) error
	PublishServiceEvent(ctx context.Context, data models.ServiceEventData) error
}

// Device event types.
const (
	EventDeviceDiscovered   = "com.carverauto.upnpradar.device.discovered"
	EventDeviceUnavailable  = "com.carverauto.upnpradar.device.unavailable"
	EventServiceStateChange = "com.carverauto.upnpradar.service.statechange"
)

// NATSPublisher publishes CloudEvents to NATS subjects under a prefix.
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
}

func NewNATSPublisher(conn *nats.Conn, subjectPrefix string) *NATSPublisher {
	if subjectPrefix == "" {
		subjectPrefix = "events.upnpradar"
	}

	return &NATSPublisher{conn: conn, subject: subjectPrefix}
}

func (p *NATSPublisher) publish(subject string, event *models.CloudEvent) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := p.conn.Publish(subject, raw); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}

	return nil
}

func (p *NATSPublisher) PublishDevice(_ context.Context, eventType string, data models.DeviceEventData) error {
	now := time.Now()
	subject := p.subject + ".device"

	return p.publish(subject, &models.CloudEvent{
		SpecVersion:     "1.0",
		ID:              uuid.New().String(),
		Source:          eventSource,
		Type:            eventType,
		DataContentType: "application/json",
		Subject:         subject,
		Time:            &now,
		Data:            data,
	})
}

func (p *NATSPublisher) PublishServiceEvent(_ context.Context, data models.ServiceEventData) error {
	now := time.Now()
	subject := p.subject + ".service"

	return p.publish(subject, &models.CloudEvent{
		SpecVersion:     "1.0",
		ID:              uuid.New().String(),
		Source:          eventSource,
		Type:            EventServiceStateChange,
		DataContentType: "application/json",
		Subject:         subject,
		Time:            &now,
		Data:            data,
	})
}

// NoopPublisher drops every event. Used when no event stream is
// configured.
type NoopPublisher struct{}

func (NoopPublisher) PublishDevice(context.Context, string, models.DeviceEventData) error {
	return nil
}

func (NoopPublisher) PublishServiceEvent(context.Context, models.ServiceEventData) error {
	return nil
}
