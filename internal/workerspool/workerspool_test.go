// Copyright 2026 The AnomalyTrigger Authors. SPDX-License-Identifier: Apache-2.0

package workerspool

import (
	"runtime"
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool(t *testing.T) {
	pool := New(3)
	assert.Equal(t, 3, pool.MaxParallelism())

	var running, maxRunning, done atomic.Int32
	for range 20 {
		pool.Go(func() error {
			n := running.Add(1)
			for {
				m := maxRunning.Load()
				if n <= m || maxRunning.CompareAndSwap(m, n) {
					break
				}
			}
			runtime.Gosched()
			running.Add(-1)
			done.Add(1)
			return nil
		})
	}
	require.NoError(t, pool.Wait())
	assert.Equal(t, int32(20), done.Load())
	assert.LessOrEqual(t, maxRunning.Load(), int32(3))
}

func TestPoolDefaultParallelism(t *testing.T) {
	assert.Equal(t, runtime.NumCPU(), New(0).MaxParallelism())
	assert.Equal(t, runtime.NumCPU(), New(-1).MaxParallelism())
}

func TestPoolError(t *testing.T) {
	pool := New(1)
	var count atomic.Int32
	for ii := range 10 {
		pool.Go(func() error {
			count.Add(1)
			if ii == 2 {
				return errors.Errorf("task #%d failed", ii)
			}
			return nil
		})
	}
	err := pool.Wait()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "task #2 failed")
	assert.Equal(t, int32(3), count.Load(), "no tasks are started after the failure")
}
