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

// Package coordinator owns the process lifecycle: the startup scan, the
// worker pool, the passive NOTIFY monitor, per-interface callback
// listeners, subscription renewal, and the status surface.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/carverauto/upnpradar/pkg/discovery"
	"github.com/carverauto/upnpradar/pkg/eventing"
	"github.com/carverauto/upnpradar/pkg/logger"
	"github.com/carverauto/upnpradar/pkg/models"
	"github.com/carverauto/upnpradar/pkg/registry"
)

var errMissingListenAddr = errors.New("listen_addr is required")

const (
	defaultWorkers         = 4
	defaultCallbackPort    = 3200
	defaultRenewalInterval = 30 * time.Second
	shutdownGrace          = 5 * time.Second
)

// NATSConfig points the event publisher at a NATS server. An empty URL
// disables publishing.
type NATSConfig struct {
	URL           string `json:"url"`
	SubjectPrefix string `json:"subject_prefix"`
}

// Config is the coordinator service configuration.
type Config struct {
	ListenAddr      string           `json:"listen_addr"`
	CallbackPort    int              `json:"callback_port"`
	Workers         int              `json:"workers"`
	RenewalInterval time.Duration    `json:"renewal_interval"`
	Discovery       discovery.Config `json:"discovery"`
	NATS            NATSConfig       `json:"nats"`
}

// Validate implements config.Validator.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return errMissingListenAddr
	}

	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}

	if c.CallbackPort <= 0 {
		c.CallbackPort = defaultCallbackPort
	}

	if c.RenewalInterval <= 0 {
		c.RenewalInterval = defaultRenewalInterval
	}

	return nil
}

// Coordinator composes the discovery scanner, registry, subscription
// manager, and callback router into one running service.
type Coordinator struct {
	cfg       Config
	logger    logger.Logger
	registry  *registry.Registry
	scanner   *discovery.Scanner
	subs      *eventing.Manager
	router    *eventing.CallbackRouter
	publisher EventPublisher

	pool         *workerPool
	listenNotify listenNotifyFunc

	mu              sync.Mutex
	cancel          context.CancelFunc
	statusServer    *http.Server
	callbackServers []*http.Server
	startedAt       time.Time

	wg sync.WaitGroup
}

func New(
	cfg Config, reg *registry.Registry, scanner *discovery.Scanner,
	subs *eventing.Manager, router *eventing.CallbackRouter,
	publisher EventPublisher, log logger.Logger) *Coordinator {
	if publisher == nil {
		publisher = NoopPublisher{}
	}

	c := &Coordinator{
		cfg:          cfg,
		logger:       log.WithComponent("coordinator"),
		registry:     reg,
		scanner:      scanner,
		subs:         subs,
		router:       router,
		publisher:    publisher,
		pool:         newWorkerPool(log),
		listenNotify: defaultListenNotify,
	}

	router.SetEventHook(c.onServiceEvent)

	return c
}

// CallbackURL builds the per-interface NOTIFY callback URL handed to
// devices at subscribe time.
func (c *Coordinator) CallbackURL(localIP string) string {
	return "http://" + net.JoinHostPort(localIP, strconv.Itoa(c.cfg.CallbackPort)) + eventing.CallbackPath
}

// Start runs the startup scan and brings up steady-state monitoring.
// Missing required devices abort startup.
func (c *Coordinator) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	c.cancel = cancel
	c.startedAt = time.Now()
	c.mu.Unlock()

	c.pool.start(runCtx, c.cfg.Workers)

	report, err := c.scanner.StartupScan(ctx)
	if err != nil {
		if errors.Is(err, discovery.ErrRequiredDevicesMissing) {
			cancel()
			c.pool.stop()

			return fmt.Errorf("startup scan: %w", err)
		}

		c.logger.Warn().Err(err).Msg("Startup scan finished with errors")
	}

	if report != nil {
		metricDevicesDiscovered.Add(float64(len(report.Found)))
		c.announceAndSubscribe(report)
	}

	if err := c.startCallbackListeners(); err != nil {
		cancel()
		c.pool.stop()

		return err
	}

	conn, err := c.listenNotify()
	if err != nil {
		c.logger.Warn().Err(err).Msg("NOTIFY monitor unavailable, passive discovery disabled")
	} else {
		c.wg.Add(1)
		go c.runMonitor(runCtx, conn)
	}

	c.wg.Add(1)
	go c.runRenewalLoop(runCtx)

	c.startStatusServer()

	c.logger.Info().
		Str("listen_addr", c.cfg.ListenAddr).
		Int("devices", len(c.registry.Devices())).
		Msg("Coordinator started")

	return nil
}

// announceAndSubscribe publishes discovery events and queues the
// initial subscription pass for every found device.
func (c *Coordinator) announceAndSubscribe(report *discovery.ScanReport) {
	for _, fd := range report.Found {
		usn := fd.USN

		c.pool.submit("announce-device", func(ctx context.Context) error {
			dev := c.registry.LookupByUSN(usn)
			if dev == nil {
				return nil
			}

			return c.publisher.PublishDevice(ctx, EventDeviceDiscovered, models.DeviceEventData{
				USN:          dev.USN,
				FriendlyName: dev.FriendlyName,
				Manufacturer: dev.Manufacturer,
				ModelName:    dev.ModelName,
				IP:           dev.IP,
				Location:     dev.Location,
				Available:    dev.Available,
				Timestamp:    time.Now(),
			})
		})

		c.pool.submit("subscribe-device", func(ctx context.Context) error {
			return c.subs.SubscribeDevice(ctx, usn)
		})
	}
}

func (c *Coordinator) onServiceEvent(
	dev *registry.DeviceRecord, svc *registry.ServiceRecord, changes map[string]string) {
	metricEventsApplied.Inc()

	c.pool.submit("publish-service-event", func(ctx context.Context) error {
		return c.publisher.PublishServiceEvent(ctx, models.ServiceEventData{
			USN:         dev.USN,
			ServiceType: svc.Key.ServiceType,
			Changes:     changes,
			Timestamp:   time.Now(),
		})
	})
}

// startCallbackListeners binds one NOTIFY listener per usable
// interface so devices on every segment can reach us.
func (c *Coordinator) startCallbackListeners() error {
	ifaces, err := discovery.ListInterfaces(c.cfg.Discovery.ExcludedInterfaces)
	if err != nil {
		return fmt.Errorf("failed to enumerate callback interfaces: %w", err)
	}

	handler := c.router.Routes()

	for _, iface := range ifaces {
		addr := net.JoinHostPort(iface.IP.String(), strconv.Itoa(c.cfg.CallbackPort))

		ln, lnErr := net.Listen("tcp", addr)
		if lnErr != nil {
			c.logger.Warn().Err(lnErr).Str("addr", addr).Msg("Callback listener unavailable")
			continue
		}

		srv := &http.Server{Handler: handler, ReadHeaderTimeout: 5 * time.Second}

		c.mu.Lock()
		c.callbackServers = append(c.callbackServers, srv)
		c.mu.Unlock()

		c.wg.Add(1)

		go func(srv *http.Server, ln net.Listener, addr string) {
			defer c.wg.Done()

			c.logger.Info().Str("addr", addr).Msg("Callback listener started")

			if serveErr := srv.Serve(ln); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
				c.logger.Error().Err(serveErr).Str("addr", addr).Msg("Callback listener failed")
			}
		}(srv, ln, addr)
	}

	return nil
}

func (c *Coordinator) runRenewalLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.RenewalInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.subs.RenewDue(ctx); n > 0 {
				metricSubscriptionsRenewed.Add(float64(n))
			}
		}
	}
}

func (c *Coordinator) startStatusServer() {
	r := chi.NewRouter()
	r.Get("/healthz", c.handleHealthz)
	r.Get("/status", c.handleStatus)
	r.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              c.cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	c.mu.Lock()
	c.statusServer = srv
	c.mu.Unlock()

	c.wg.Add(1)

	go func() {
		defer c.wg.Done()

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Error().Err(err).Msg("Status server failed")
		}
	}()
}

func (*Coordinator) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type deviceStatus struct {
	USN          string `json:"usn"`
	FriendlyName string `json:"friendly_name"`
	Manufacturer string `json:"manufacturer"`
	ModelName    string `json:"model_name"`
	IP           string `json:"ip"`
	Available    bool   `json:"available"`
	Services     int    `json:"services"`
}

type statusPayload struct {
	UptimeSeconds int64          `json:"uptime_seconds"`
	DeviceCount   int            `json:"device_count"`
	Devices       []deviceStatus `json:"devices"`
}

func (c *Coordinator) handleStatus(w http.ResponseWriter, _ *http.Request) {
	c.mu.Lock()
	started := c.startedAt
	c.mu.Unlock()

	devices := c.registry.Devices()

	payload := statusPayload{
		UptimeSeconds: int64(time.Since(started).Seconds()),
		DeviceCount:   len(devices),
		Devices:       make([]deviceStatus, 0, len(devices)),
	}

	for _, d := range devices {
		payload.Devices = append(payload.Devices, deviceStatus{
			USN:          d.USN,
			FriendlyName: d.FriendlyName,
			Manufacturer: d.Manufacturer,
			ModelName:    d.ModelName,
			IP:           d.IP,
			Available:    d.Available,
			Services:     len(d.Services),
		})
	}

	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to write status response")
	}
}

// Stop shuts down listeners, drains the worker pool, and unsubscribes
// from every service.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.mu.Lock()
	cancel := c.cancel
	statusServer := c.statusServer
	callbackServers := append([]*http.Server(nil), c.callbackServers...)
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(ctx, shutdownGrace)
	defer cancelShutdown()

	if statusServer != nil {
		_ = statusServer.Shutdown(shutdownCtx)
	}

	for _, srv := range callbackServers {
		_ = srv.Shutdown(shutdownCtx)
	}

	c.unsubscribeAll(shutdownCtx)

	c.pool.stop()
	c.wg.Wait()

	c.logger.Info().Msg("Coordinator stopped")

	return nil
}

func (c *Coordinator) unsubscribeAll(ctx context.Context) {
	for _, dev := range c.registry.Devices() {
		for key, svc := range dev.Services {
			if svc.SubscriptionID == "" {
				continue
			}

			if err := c.subs.Unsubscribe(ctx, dev.USN, key); err != nil {
				c.logger.Warn().Err(err).
					Str("usn", dev.USN).
					Str("service", key.ServiceType).
					Msg("Unsubscribe on shutdown failed")
			}
		}
	}
}
