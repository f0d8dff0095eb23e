// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

package sources

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunPartitionsPreservesOrderWhenAsked(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var order []string

	opts := BatchOptions{BatchSize: 4, PreserveOrder: true}
	err := RunPartitions(context.Background(), opts, []string{"a", "b", "c"}, func(_ context.Context, p string) error {
		mu.Lock()
		order = append(order, p)
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestRunPartitionsStopOnError(t *testing.T) {
	t.Parallel()

	boom := errors.New("schema fetch failed")
	var ran []string

	opts := BatchOptions{PreserveOrder: true, StopOnError: true}
	err := RunPartitions(context.Background(), opts, []string{"a", "b", "c"}, func(_ context.Context, p string) error {
		ran = append(ran, p)
		if p == "b" {
			return boom
		}
		return nil
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"a", "b"}, ran)
}

func TestRunPartitionsContinuesPastFailures(t *testing.T) {
	t.Parallel()

	var done atomic.Int32
	opts := BatchOptions{BatchSize: 3}
	err := RunPartitions(context.Background(), opts, []int{1, 2, 3, 4, 5}, func(_ context.Context, p int) error {
		done.Add(1)
		if p%2 == 0 {
			return errors.New("partition failed")
		}
		return nil
	})
	require.NoError(t, err)
	assert.EqualValues(t, 5, done.Load())
}

func TestRunPartitionsBoundsConcurrency(t *testing.T) {
	t.Parallel()

	var inFlight, peak, total atomic.Int32
	opts := BatchOptions{BatchSize: 2}

	err := RunPartitions(context.Background(), opts, []int{1, 2, 3, 4, 5, 6}, func(_ context.Context, _ int) error {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		total.Add(1)
		return nil
	})
	require.NoError(t, err)
	assert.EqualValues(t, 6, total.Load())
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestRunPartitionsEmptyInput(t *testing.T) {
	t.Parallel()

	err := RunPartitions(context.Background(), BatchOptions{}, nil, func(_ context.Context, _ string) error {
		t.Fatal("fn must not run")
		return nil
	})
	require.NoError(t, err)
}
