// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package pubsub carries sync job progress updates from the engine to
// subscribers. Delivery is per-subscriber and never blocks the publisher:
// a slow subscriber drops intermediate updates and can detect that it did,
// but never observes updates out of order.
package pubsub

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/airweave/airweave-go/pkg/core"
)

// subscriberBuffer bounds updates queued per subscriber before the drop
// policy kicks in.
const subscriberBuffer = 16

// Subscription is one subscriber's view of a job's update stream.
type Subscription struct {
	updates chan core.SyncJobUpdate
	dropped atomic.Int64
	cancel  func()
	once    sync.Once
}

// Updates returns the subscriber channel. It closes when the subscription
// is cancelled or the bus shuts down.
func (s *Subscription) Updates() <-chan core.SyncJobUpdate { return s.updates }

// Dropped reports how many updates were discarded because the subscriber
// fell behind.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

// Cancel detaches the subscription and closes its channel. Safe to call
// more than once.
func (s *Subscription) Cancel() {
	s.once.Do(s.cancel)
}

// Bus is the progress stream capability consumed by the engine and the API
// layer.
type Bus interface {
	Publish(ctx context.Context, update core.SyncJobUpdate) error
	Subscribe(ctx context.Context, jobID uuid.UUID) (*Subscription, error)
	Close() error
}

// MemoryBus is the in-process Bus. Updates published with no subscribers
// are discarded.
type MemoryBus struct {
	mu     sync.Mutex
	subs   map[uuid.UUID]map[*Subscription]struct{}
	closed bool
}

// NewMemoryBus returns an empty in-process bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[uuid.UUID]map[*Subscription]struct{})}
}

// Subscribe registers a subscriber for one job's updates.
func (b *MemoryBus) Subscribe(_ context.Context, jobID uuid.UUID) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, core.ErrCancelled
	}

	sub := &Subscription{updates: make(chan core.SyncJobUpdate, subscriberBuffer)}
	sub.cancel = func() {
		b.mu.Lock()
		if set, ok := b.subs[jobID]; ok {
			delete(set, sub)
			if len(set) == 0 {
				delete(b.subs, jobID)
			}
		}
		b.mu.Unlock()
		close(sub.updates)
	}

	set, ok := b.subs[jobID]
	if !ok {
		set = make(map[*Subscription]struct{})
		b.subs[jobID] = set
	}
	set[sub] = struct{}{}
	return sub, nil
}

// Publish fans the update out to the job's subscribers. A subscriber with a
// full buffer has its oldest queued update dropped so the newest state is
// always the one waiting.
func (b *MemoryBus) Publish(_ context.Context, update core.SyncJobUpdate) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return core.ErrCancelled
	}

	for sub := range b.subs[update.JobID] {
		for {
			select {
			case sub.updates <- update:
			default:
				select {
				case <-sub.updates:
					sub.dropped.Add(1)
				default:
				}
				continue
			}
			break
		}
	}
	return nil
}

// Close shuts the bus down and closes every subscriber channel.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	var all []*Subscription
	for _, set := range b.subs {
		for sub := range set {
			all = append(all, sub)
		}
	}
	b.subs = make(map[uuid.UUID]map[*Subscription]struct{})
	b.mu.Unlock()

	for _, sub := range all {
		sub.once.Do(func() { close(sub.updates) })
	}
	return nil
}
