// Copyright 2026 The AnomalyTrigger Authors. SPDX-License-Identifier: Apache-2.0

package dataset

import (
	"io"
	"math/rand"
	"sync"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/pkg/errors"
)

// Batched is a train.Dataset that yields batches of feature vectors of a Dataset.
//
// Inputs and labels are both the [batchSize, width] float32 batch, as used to train an autoencoder.
// By default, it yields events in order, once, with the last batch possibly smaller.
type Batched struct {
	ds        *Dataset
	batchSize int

	mu                  sync.Mutex
	next                int // -1 when exhausted.
	order               []int
	rng                 *rand.Rand
	infinite            bool
	dropIncompleteBatch bool
}

var _ train.Dataset = (*Batched)(nil)

// Batches returns a train.Dataset yielding batches of batchSize events.
func (ds *Dataset) Batches(batchSize int) *Batched {
	return &Batched{ds: ds, batchSize: max(batchSize, 1)}
}

// Shuffle configures the yield order to be a random permutation, regenerated at every Reset.
// The seed makes it deterministic.
//
// It returns the modified Batched, so calls can be cascaded.
func (b *Batched) Shuffle(seed int64) *Batched {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rng = rand.New(rand.NewSource(seed))
	b.order = nil
	return b
}

// Infinite sets whether the dataset should loop indefinitely, instead of returning io.EOF at the end.
func (b *Batched) Infinite(infinite bool) *Batched {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.infinite = infinite
	return b
}

// DropIncompleteBatch configures the dataset to drop the last batch of an epoch, if it is smaller than batchSize.
func (b *Batched) DropIncompleteBatch(drop bool) *Batched {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dropIncompleteBatch = drop
	return b
}

// Name implements train.Dataset.
func (b *Batched) Name() string { return b.ds.Name() }

// Reset implements train.Dataset.
func (b *Batched) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next = 0
	b.order = nil
}

// IsOwnershipTransferred tells the training loop it can free the yielded tensors after use.
func (b *Batched) IsOwnershipTransferred() bool { return true }

// indicesNextYield returns the event indices of the next batch, or nil if the epoch is over.
func (b *Batched) indicesNextYield(size int) []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.next < 0 || b.next >= size {
		b.next = -1
		return nil
	}
	if b.rng != nil && len(b.order) != size {
		b.order = b.rng.Perm(size)
	}
	indices := make([]int, 0, b.batchSize)
	for b.next < size && len(indices) < b.batchSize {
		if b.order != nil {
			indices = append(indices, b.order[b.next])
		} else {
			indices = append(indices, b.next)
		}
		b.next++
	}
	if len(indices) < b.batchSize && b.dropIncompleteBatch {
		indices = nil
	}
	if b.next >= size {
		b.next = -1
	}
	return indices
}

// Yield implements train.Dataset.
func (b *Batched) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	size, err := b.ds.Size()
	if err != nil {
		return
	}
	indices := b.indicesNextYield(size)
	if len(indices) == 0 {
		b.mu.Lock()
		infinite := b.infinite
		b.mu.Unlock()
		if !infinite {
			err = io.EOF
			return
		}
		b.Reset()
		indices = b.indicesNextYield(size)
		if len(indices) == 0 {
			err = errors.Errorf("dataset %q configured as infinite, but it has no complete batch to yield", b.Name())
			return
		}
	}

	width := b.ds.Width()
	batch := make([]float32, len(indices)*width)
	for ii, index := range indices {
		if err = b.ds.getInto(batch[ii*width:(ii+1)*width], index); err != nil {
			return
		}
	}
	inputs = []*tensors.Tensor{tensors.FromFlatDataAndDimensions(batch, len(indices), width)}
	labels = []*tensors.Tensor{tensors.FromFlatDataAndDimensions(batch, len(indices), width)}
	return
}
