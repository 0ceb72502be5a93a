// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package baseline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Backend names a Store implementation.
type Backend string

const (
	BackendMemory Backend = "memory"
	BackendFile   Backend = "file"
	BackendBadger Backend = "badger"
	BackendSQLite Backend = "sqlite"
	BackendRedis  Backend = "redis"
)

// ErrUnknownBackend indicates an unsupported backend name.
var ErrUnknownBackend = errors.New("unknown baseline backend")

// StoreConfig selects and configures a Store.
type StoreConfig struct {
	// Backend is one of memory, file, badger, sqlite or redis.
	Backend Backend `mapstructure:"backend" yaml:"backend" validate:"omitempty,oneof=memory file badger sqlite redis"`

	// Path is the directory (file, badger) or database file (sqlite).
	Path string `mapstructure:"path" yaml:"path"`

	// Redis connection settings.
	RedisAddr     string `mapstructure:"redis_addr" yaml:"redis_addr,omitempty"`
	RedisPassword string `mapstructure:"redis_password" yaml:"redis_password,omitempty"`
	RedisDB       int    `mapstructure:"redis_db" yaml:"redis_db,omitempty" validate:"gte=0"`
	RedisPrefix   string `mapstructure:"redis_prefix" yaml:"redis_prefix,omitempty"`
}

// Open creates the store described by cfg. An empty backend selects the
// file store.
//
// Inputs:
//   - ctx: Bounds the connection attempt for network backends.
//   - cfg: The store configuration.
//   - logger: Receives storage engine logs. May be nil.
//
// Outputs:
//   - Store: The opened store. Caller must call Close.
//   - error: ErrUnknownBackend or the backend's open error.
func Open(ctx context.Context, cfg StoreConfig, logger *slog.Logger) (Store, error) {
	switch cfg.Backend {
	case BackendMemory:
		return NewMemoryStore(), nil
	case BackendFile, "":
		return NewFileStore(cfg.Path)
	case BackendBadger:
		bc := DefaultBadgerConfig(cfg.Path)
		bc.Logger = logger
		return OpenBadger(bc)
	case BackendSQLite:
		return OpenSQLite(cfg.Path)
	case BackendRedis:
		return OpenRedis(ctx, RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
		})
	default:
		return nil, fmt.Errorf("%q: %w", cfg.Backend, ErrUnknownBackend)
	}
}
