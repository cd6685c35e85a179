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
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/carverauto/upnpradar/pkg/logger"
)

var cacheBucket = []byte("devices")

// CacheEntry is the persisted last-known location of a hinted device.
type CacheEntry struct {
	USN      string    `json:"usn"`
	Location string    `json:"location"`
	IP       string    `json:"ip"`
	LastSeen time.Time `json:"last_seen"`
}

// Cache stores last-known device locations keyed by hint name so a
// restart can try them before falling back to a full network sweep.
type Cache struct {
	db     *bolt.DB
	logger logger.Logger
}

func OpenCache(path string, log logger.Logger) (*Cache, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open device cache: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, bErr := tx.CreateBucketIfNotExists(cacheBucket)
		return bErr
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize device cache: %w", err)
	}

	return &Cache{db: db, logger: log.WithComponent("device-cache")}, nil
}

func (c *Cache) Get(hintName string) (*CacheEntry, error) {
	var entry *CacheEntry

	err := c.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(cacheBucket).Get([]byte(hintName))
		if raw == nil {
			return ErrCacheMiss
		}

		entry = &CacheEntry{}

		return json.Unmarshal(raw, entry)
	})
	if err != nil {
		return nil, err
	}

	return entry, nil
}

func (c *Cache) Put(hintName string, entry *CacheEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(cacheBucket).Put([]byte(hintName), raw)
	})
}

func (c *Cache) Delete(hintName string) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(cacheBucket).Delete([]byte(hintName))
	})
}

func (c *Cache) Close() error {
	return c.db.Close()
}
