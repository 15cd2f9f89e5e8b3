// Copyright 2026 The AnomalyTrigger Authors. SPDX-License-Identifier: Apache-2.0

// Package workerspool runs I/O bound tasks, like reading input files, with a bounded parallelism.
package workerspool

import (
	"runtime"
	"sync"
)

// Pool runs tasks in goroutines, at most MaxParallelism at a time, and collects the first error.
//
// A Pool is used for one batch of tasks: call Go for each task, and then Wait.
type Pool struct {
	maxParallelism int
	mu             sync.Mutex
	cond           sync.Cond // Signaled whenever numRunning is decreased.
	numRunning     int
	wg             sync.WaitGroup
	err            error
}

// New returns a Pool running at most maxParallelism tasks at a time.
// If maxParallelism <= 0, it uses runtime.NumCPU().
func New(maxParallelism int) *Pool {
	if maxParallelism <= 0 {
		maxParallelism = runtime.NumCPU()
	}
	p := &Pool{maxParallelism: maxParallelism}
	p.cond = sync.Cond{L: &p.mu}
	return p
}

// MaxParallelism returns the limit of tasks running at the same time.
func (p *Pool) MaxParallelism() int {
	return p.maxParallelism
}

// Go waits until there is a worker available and runs task in a goroutine.
//
// Once a task has failed, new tasks are not started: Go returns immediately.
func (p *Pool) Go(task func() error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.numRunning >= p.maxParallelism && p.err == nil {
		p.cond.Wait()
	}
	if p.err != nil {
		return
	}
	p.numRunning++
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		err := task()
		p.mu.Lock()
		p.numRunning--
		if err != nil && p.err == nil {
			p.err = err
		}
		p.cond.Broadcast()
		p.mu.Unlock()
	}()
}

// Wait for all started tasks to finish, and returns the first error returned by a task, if any.
func (p *Pool) Wait() error {
	p.wg.Wait()
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}
