// Copyright 2026 The AnomalyTrigger Authors. SPDX-License-Identifier: Apache-2.0

package events

import (
	"fmt"
	"sync/atomic"
)

// Source of events, usually backed by a set of files.
//
// Size should be cheap (metadata only), while Load reads every event.
type Source interface {
	// Name of the source, used for logging.
	Name() string

	// Key identifies the content of the source (files, tree and fields), and is used for caching.
	Key() string

	// Size returns the number of events, without loading them.
	Size() (int, error)

	// Load reads all events.
	Load() (*Collection, error)
}

// Memory is a Source backed by an in-memory Collection.
type Memory struct {
	name       string
	collection *Collection
	numLoads   atomic.Int64
}

// NewMemory returns a Source that serves the given collection.
func NewMemory(name string, c *Collection) *Memory {
	return &Memory{name: name, collection: c}
}

// Name implements Source.
func (m *Memory) Name() string { return m.name }

// Key implements Source. Each Memory source has its own unique key.
func (m *Memory) Key() string {
	return fmt.Sprintf("memory|%s|%p", m.name, m)
}

// Size implements Source.
func (m *Memory) Size() (int, error) { return m.collection.Len(), nil }

// Load implements Source.
func (m *Memory) Load() (*Collection, error) {
	m.numLoads.Add(1)
	return m.collection, nil
}

// NumLoads returns how many times Load was called.
func (m *Memory) NumLoads() int { return int(m.numLoads.Load()) }
