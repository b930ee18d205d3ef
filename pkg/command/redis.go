// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at FairPlay Security (https://www.fairplaysec.com/).
// Copyright 2024-present FairPlay Security, Inc.

package command

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-redis/redis/v9"

	"github.com/fairplaysec/sentinel/pkg/redisschema"
)

// RedisSource polls the dashboard's command queue directly in Redis.
type RedisSource struct {
	client   redis.UniversalClient
	deviceID string
}

// NewRedisSource returns a Source backed by the shared Redis schema.
func NewRedisSource(client redis.UniversalClient, deviceID string) *RedisSource {
	return &RedisSource{client: client, deviceID: deviceID}
}

// Fetch claims up to pollLimit oldest commands: each is loaded from its
// command hash, marked processing and removed from the queue so another
// agent instance cannot double-claim it.
func (s *RedisSource) Fetch(ctx context.Context) ([]Command, error) {
	queueKey := redisschema.CommandQueueKey(s.deviceID)
	ids, err := s.client.ZRange(ctx, queueKey, 0, pollLimit-1).Result()
	if err != nil {
		return nil, &overloadError{cause: err.Error()}
	}

	commands := make([]Command, 0, len(ids))
	for _, id := range ids {
		cmdKey := redisschema.CommandKey(s.deviceID, id)
		fields, err := s.client.HGetAll(ctx, cmdKey).Result()
		if err != nil || len(fields) == 0 {
			// command record gone, drop the dangling queue entry
			s.client.ZRem(ctx, queueKey, id)
			continue
		}

		pipe := s.client.Pipeline()
		pipe.HSet(ctx, cmdKey, "status", "processing")
		pipe.ZRem(ctx, queueKey, id)
		if _, err := pipe.Exec(ctx); err != nil {
			return commands, &overloadError{cause: err.Error()}
		}

		requireAdmin, _ := strconv.ParseBool(fields["requireAdmin"])
		commands = append(commands, Command{
			ID:           id,
			Command:      fields["command"],
			RequireAdmin: requireAdmin,
		})
	}
	return commands, nil
}

// Report writes the result record with a bounded TTL and drops the
// consumed command hash.
func (s *RedisSource) Report(ctx context.Context, res Result) error {
	body, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("serializing command result: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, redisschema.CommandResultKey(s.deviceID, res.CommandID), body, redisschema.CommandResultTTL)
	pipe.Del(ctx, redisschema.CommandKey(s.deviceID, res.CommandID))
	_, err = pipe.Exec(ctx)
	return err
}
