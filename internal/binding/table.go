// Package binding tracks the uniforms and device resources that belong to
// one compute shader instance.
package binding

import (
	"errors"
	"fmt"
	"slices"

	"github.com/gogpu/compute/gpucore"
)

var (
	// ErrBindingInUse is returned when a binding slot is already taken in a set.
	ErrBindingInUse = errors.New("binding: slot already in use")

	// ErrInvalidUniform is returned when a uniform's handles do not match its type.
	ErrInvalidUniform = errors.New("binding: invalid uniform")
)

// BuildFunc creates the device uniform set for one set index.
type BuildFunc func(set uint32, uniforms []gpucore.Uniform) (gpucore.Handle, error)

// ReleaseFunc frees a device handle.
type ReleaseFunc func(gpucore.Handle)

// Table maps set indices to ordered uniform lists and caches the device
// uniform sets built from them.
//
// Uniforms are stored in a single arena in registration order; each set
// holds indices into it. The zero value is not usable; call NewTable.
//
// Table is not safe for concurrent use.
type Table struct {
	arena []gpucore.Uniform
	index map[uint32][]int
	order []uint32 // set indices, ascending

	finalized map[uint32]gpucore.Handle
	ready     bool
}

// NewTable creates an empty table. A table is not ready until it has been
// frozen once, even when it holds no uniforms.
func NewTable() *Table {
	return &Table{
		index:     make(map[uint32][]int),
		finalized: make(map[uint32]gpucore.Handle),
	}
}

// Add appends u to set and marks the table dirty.
func (t *Table) Add(set uint32, u gpucore.Uniform) error {
	if err := u.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidUniform, err)
	}
	for _, i := range t.index[set] {
		if t.arena[i].Binding == u.Binding {
			return fmt.Errorf("%w: set %d binding %d", ErrBindingInUse, set, u.Binding)
		}
	}

	u.IDs = slices.Clone(u.IDs)
	t.arena = append(t.arena, u)
	if _, ok := t.index[set]; !ok {
		pos, _ := slices.BinarySearch(t.order, set)
		t.order = slices.Insert(t.order, pos, set)
	}
	t.index[set] = append(t.index[set], len(t.arena)-1)
	t.ready = false
	return nil
}

// Freeze builds one device uniform set per set index.
//
// When the table is clean the cached sets are returned and build is not
// called. Otherwise every set is rebuilt in ascending set order; once all
// builds succeed the previously built sets are released and the table is
// clean. If a build fails, the sets built during this call are released,
// the previous sets stay in place and the table stays dirty.
func (t *Table) Freeze(build BuildFunc, release ReleaseFunc) (map[uint32]gpucore.Handle, error) {
	if t.ready {
		return t.finalized, nil
	}

	next := make(map[uint32]gpucore.Handle, len(t.order))
	for _, set := range t.order {
		h, err := build(set, t.Uniforms(set))
		if err == nil && !h.IsValid() {
			err = errors.New("device returned an invalid handle")
		}
		if err != nil {
			for _, built := range next {
				release(built)
			}
			return nil, fmt.Errorf("uniform set %d: %w", set, err)
		}
		next[set] = h
	}

	for _, old := range t.finalized {
		release(old)
	}
	t.finalized = next
	t.ready = true
	return t.finalized, nil
}

// Reset releases every finalized set and marks the table dirty.
// Registered uniforms are kept.
func (t *Table) Reset(release ReleaseFunc) {
	for _, h := range t.finalized {
		release(h)
	}
	clear(t.finalized)
	t.ready = false
}

// Ready reports whether the finalized sets match the registered uniforms.
func (t *Table) Ready() bool { return t.ready }

// Len returns the number of registered uniforms across all sets.
func (t *Table) Len() int { return len(t.arena) }

// Sets returns the set indices in ascending order.
func (t *Table) Sets() []uint32 { return slices.Clone(t.order) }

// Uniforms returns the uniforms of set in registration order.
func (t *Table) Uniforms(set uint32) []gpucore.Uniform {
	idx := t.index[set]
	out := make([]gpucore.Uniform, len(idx))
	for i, a := range idx {
		out[i] = t.arena[a]
	}
	return out
}

// Finalized returns the uniform set built for set, if any.
func (t *Table) Finalized(set uint32) (gpucore.Handle, bool) {
	h, ok := t.finalized[set]
	return h, ok
}
