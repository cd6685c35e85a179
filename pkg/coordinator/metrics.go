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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricDevicesDiscovered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "upnpradar",
		Name:      "devices_discovered_total",
		Help:      "Devices upserted into the registry from scans and announcements.",
	})

	metricNotifyMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "upnpradar",
		Name:      "notify_messages_total",
		Help:      "SSDP NOTIFY datagrams received, by disposition.",
	}, []string{"disposition"})

	metricEventsApplied = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "upnpradar",
		Name:      "events_applied_total",
		Help:      "Subscription callbacks whose variable changes were applied.",
	})

	metricSubscriptionsRenewed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "upnpradar",
		Name:      "subscriptions_renewed_total",
		Help:      "GENA subscription renewals sent.",
	})

	metricQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "upnpradar",
		Name:      "work_queue_depth",
		Help:      "Items waiting in the coordinator work queue.",
	})

	metricWorkerErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "upnpradar",
		Name:      "worker_errors_total",
		Help:      "Work items that returned an error.",
	})
)
