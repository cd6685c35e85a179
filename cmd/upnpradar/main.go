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

package main

import (
	"context"
	"flag"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/nats-io/nats.go"

	"github.com/carverauto/upnpradar/pkg/config"
	"github.com/carverauto/upnpradar/pkg/coordinator"
	"github.com/carverauto/upnpradar/pkg/description"
	"github.com/carverauto/upnpradar/pkg/discovery"
	"github.com/carverauto/upnpradar/pkg/eventing"
	"github.com/carverauto/upnpradar/pkg/logger"
	"github.com/carverauto/upnpradar/pkg/registry"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", "/etc/upnpradar/upnpradar.json", "Path to config file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	level := "info"
	if *debug {
		level = "debug"
	}

	logg, err := logger.New(logger.Config{Level: level})
	if err != nil {
		return err
	}

	ctx := context.Background()

	var cfg coordinator.Config
	if err := config.NewConfig(logg).LoadAndValidate(ctx, *configPath, &cfg); err != nil {
		return err
	}

	fetcher := description.NewFetcher(nil, 0, logg)
	reg := registry.New(fetcher, registry.NewCatalog(), logg)

	var cache *discovery.Cache

	if cfg.Discovery.CachePath != "" {
		cache, err = discovery.OpenCache(cfg.Discovery.CachePath, logg)
		if err != nil {
			logg.Warn().Err(err).Msg("Device cache unavailable, continuing without it")
		} else {
			defer cache.Close()
		}
	}

	scanner := discovery.NewScanner(cfg.Discovery, reg, fetcher, cache, logg)
	router := eventing.NewCallbackRouter(reg, logg)

	var publisher coordinator.EventPublisher = coordinator.NoopPublisher{}

	if cfg.NATS.URL != "" {
		nc, ncErr := nats.Connect(cfg.NATS.URL, nats.Name("upnpradar"))
		if ncErr != nil {
			logg.Warn().Err(ncErr).Str("url", cfg.NATS.URL).Msg("NATS unavailable, events disabled")
		} else {
			defer nc.Close()
			publisher = coordinator.NewNATSPublisher(nc, cfg.NATS.SubjectPrefix)
		}
	}

	callbackURL := func(localIP string) string {
		return "http://" + net.JoinHostPort(localIP, strconv.Itoa(cfg.CallbackPort)) + eventing.CallbackPath
	}

	subs := eventing.NewManager(reg, nil, callbackURL, logg)
	coord := coordinator.New(cfg, reg, scanner, subs, router, publisher, logg)

	if err := coord.Start(ctx); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logg.Info().Msg("Shutting down")

	return coord.Stop(ctx)
}
