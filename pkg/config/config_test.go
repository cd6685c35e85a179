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

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/upnpradar/pkg/logger"
)

type arpSection struct {
	Enabled   bool   `json:"enabled"`
	GatewayIP string `json:"gateway_ip"`
}

type testConfig struct {
	ListenAddr      string        `json:"listen_addr"`
	Workers         int           `json:"workers"`
	ResponseTimeout time.Duration `json:"response_timeout"`
	SearchTargets   []string      `json:"search_targets"`
	ARP             arpSection    `json:"arp"`
}

var errMissingListenAddr = errors.New("listen_addr is required")

type validatedConfig struct {
	ListenAddr string `json:"listen_addr"`
}

func (c *validatedConfig) Validate() error {
	if c.ListenAddr == "" {
		return errMissingListenAddr
	}

	return nil
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoadAndValidateFromFile(t *testing.T) {
	path := writeConfigFile(t, `{
		"listen_addr": ":3200",
		"workers": 4,
		"search_targets": ["upnp:rootdevice"],
		"arp": {"enabled": true, "gateway_ip": "192.168.1.1"}
	}`)

	var cfg testConfig

	c := NewConfig(logger.NewTestLogger())
	require.NoError(t, c.LoadAndValidate(context.Background(), path, &cfg))

	assert.Equal(t, ":3200", cfg.ListenAddr)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, []string{"upnp:rootdevice"}, cfg.SearchTargets)
	assert.True(t, cfg.ARP.Enabled)
	assert.Equal(t, "192.168.1.1", cfg.ARP.GatewayIP)
}

func TestLoadAndValidateMissingFile(t *testing.T) {
	var cfg testConfig

	c := NewConfig(logger.NewTestLogger())
	err := c.LoadAndValidate(context.Background(), "/nonexistent/config.json", &cfg)

	assert.Error(t, err)
}

func TestLoadAndValidateRunsValidator(t *testing.T) {
	path := writeConfigFile(t, `{}`)

	var cfg validatedConfig

	c := NewConfig(logger.NewTestLogger())
	err := c.LoadAndValidate(context.Background(), path, &cfg)

	assert.ErrorIs(t, err, errMissingListenAddr)
}

func TestLoadAndValidateRejectsUnknownSource(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "zookeeper")

	var cfg testConfig

	c := NewConfig(logger.NewTestLogger())
	err := c.LoadAndValidate(context.Background(), "ignored", &cfg)

	assert.ErrorIs(t, err, errInvalidConfigSource)
}

func TestEnvLoader(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "env")
	t.Setenv("UPNPRADAR_LISTEN_ADDR", ":9999")
	t.Setenv("UPNPRADAR_WORKERS", "8")
	t.Setenv("UPNPRADAR_RESPONSE_TIMEOUT", "5s")
	t.Setenv("UPNPRADAR_SEARCH_TARGETS", "upnp:rootdevice, ssdp:all")
	t.Setenv("UPNPRADAR_ARP_ENABLED", "true")
	t.Setenv("UPNPRADAR_ARP_GATEWAY_IP", "10.0.0.1")

	var cfg testConfig

	c := NewConfig(logger.NewTestLogger())
	require.NoError(t, c.LoadAndValidate(context.Background(), "", &cfg))

	assert.Equal(t, ":9999", cfg.ListenAddr)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, 5*time.Second, cfg.ResponseTimeout)
	assert.Equal(t, []string{"upnp:rootdevice", "ssdp:all"}, cfg.SearchTargets)
	assert.True(t, cfg.ARP.Enabled)
	assert.Equal(t, "10.0.0.1", cfg.ARP.GatewayIP)
}

func TestEnvLoaderBadValue(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "env")
	t.Setenv("UPNPRADAR_WORKERS", "many")

	var cfg testConfig

	c := NewConfig(logger.NewTestLogger())
	err := c.LoadAndValidate(context.Background(), "", &cfg)

	assert.Error(t, err)
}
