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

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/upnpradar/pkg/logger"
)

func openTestCache(t *testing.T) *Cache {
	t.Helper()

	cache, err := OpenCache(filepath.Join(t.TempDir(), "devices.db"), logger.NewTestLogger())
	require.NoError(t, err)

	t.Cleanup(func() { _ = cache.Close() })

	return cache
}

func TestCacheRoundTrip(t *testing.T) {
	cache := openTestCache(t)

	entry := &CacheEntry{
		USN:      tvUDN,
		Location: tvLocation,
		IP:       "192.168.1.20",
		LastSeen: time.Now().Truncate(time.Second),
	}

	require.NoError(t, cache.Put("tv", entry))

	got, err := cache.Get("tv")
	require.NoError(t, err)

	assert.Equal(t, entry.USN, got.USN)
	assert.Equal(t, entry.Location, got.Location)
	assert.Equal(t, entry.IP, got.IP)
	assert.True(t, entry.LastSeen.Equal(got.LastSeen))
}

func TestCacheMiss(t *testing.T) {
	cache := openTestCache(t)

	_, err := cache.Get("nope")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestCacheDelete(t *testing.T) {
	cache := openTestCache(t)

	require.NoError(t, cache.Put("tv", &CacheEntry{USN: tvUDN}))
	require.NoError(t, cache.Delete("tv"))

	_, err := cache.Get("tv")
	assert.ErrorIs(t, err, ErrCacheMiss)
}
