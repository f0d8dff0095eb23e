// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/airweave/airweave-go/pkg/core"
	"github.com/airweave/airweave-go/pkg/logger"
)

// channelPrefix namespaces job update channels in a shared Redis.
const channelPrefix = "airweave:job:"

// RedisBus is the Bus backed by Redis pub/sub, for deployments where the
// API process and the sync runner are separate.
type RedisBus struct {
	client *redis.Client
}

// NewRedisBus builds a bus over an existing client and verifies the
// connection.
func NewRedisBus(ctx context.Context, client *redis.Client) (*RedisBus, error) {
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return &RedisBus{client: client}, nil
}

func jobChannel(jobID uuid.UUID) string {
	return channelPrefix + jobID.String()
}

// Publish serializes the update and fires it at the job channel. Redis
// pub/sub never blocks on slow subscribers; they simply miss messages.
func (b *RedisBus) Publish(ctx context.Context, update core.SyncJobUpdate) error {
	payload, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("marshaling job update: %w", err)
	}
	if err := b.client.Publish(ctx, jobChannel(update.JobID), payload).Err(); err != nil {
		return fmt.Errorf("publishing job update: %w", err)
	}
	return nil
}

// Subscribe attaches to the job channel and converts messages to updates.
// Malformed messages are logged and skipped so one bad publisher cannot
// wedge every subscriber.
func (b *RedisBus) Subscribe(ctx context.Context, jobID uuid.UUID) (*Subscription, error) {
	ps := b.client.Subscribe(ctx, jobChannel(jobID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribing to job %s: %w", jobID, err)
	}

	sub := &Subscription{updates: make(chan core.SyncJobUpdate, subscriberBuffer)}
	done := make(chan struct{})
	sub.cancel = func() {
		close(done)
		_ = ps.Close()
	}

	go func() {
		defer close(sub.updates)
		ch := ps.Channel()
		for {
			select {
			case <-done:
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var update core.SyncJobUpdate
				if err := json.Unmarshal([]byte(msg.Payload), &update); err != nil {
					logger.Warnw("dropping malformed job update", "job_id", jobID.String(), "error", err)
					continue
				}
				select {
				case sub.updates <- update:
				default:
					select {
					case <-sub.updates:
						sub.dropped.Add(1)
					default:
					}
					select {
					case sub.updates <- update:
					default:
					}
				}
			}
		}
	}()

	return sub, nil
}

// Close releases the underlying client.
func (b *RedisBus) Close() error {
	return b.client.Close()
}
