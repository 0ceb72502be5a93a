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
	"sort"

	redis "github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces baseline keys.
const DefaultRedisPrefix = "bench:baseline"

// RedisConfig configures a RedisStore.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// Prefix namespaces keys. Defaults to DefaultRedisPrefix.
	Prefix string
}

// RedisStore shares baselines between machines through Redis.
//
// Description:
//
//	Each baseline is a string key {prefix}:{name}; the set {prefix}s
//	indexes names for List. Writes update both inside a MULTI/EXEC.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// OpenRedis connects to Redis and checks the connection.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis %s: %w", cfg.Addr, err)
	}
	return &RedisStore{client: client, prefix: prefix}, nil
}

func (s *RedisStore) key(name string) string {
	return s.prefix + ":" + name
}

func (s *RedisStore) index() string {
	return s.prefix + "s"
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, name string) (*Baseline, error) {
	data, err := s.client.Get(ctx, s.key(name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%s: %w", name, ErrBaselineNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading baseline %s: %w", name, err)
	}
	return Unmarshal(data)
}

// Set implements Store.
func (s *RedisStore) Set(ctx context.Context, b *Baseline) error {
	data, err := encodeFor(b)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(b.Name), data, 0)
		pipe.SAdd(ctx, s.index(), b.Name)
		return nil
	})
	if err != nil {
		return fmt.Errorf("writing baseline %s: %w", b.Name, err)
	}
	return nil
}

// List implements Store.
func (s *RedisStore) List(ctx context.Context) ([]string, error) {
	names, err := s.client.SMembers(ctx, s.index()).Result()
	if err != nil {
		return nil, fmt.Errorf("listing baselines: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, name string) error {
	var del *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, s.key(name))
		pipe.SRem(ctx, s.index(), name)
		return nil
	})
	if err != nil {
		return fmt.Errorf("deleting baseline %s: %w", name, err)
	}
	if del.Val() == 0 {
		return fmt.Errorf("%s: %w", name, ErrBaselineNotFound)
	}
	return nil
}

// Close implements Store.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
