package vec

import (
	"fmt"
	"log/slog"

	"github.com/bits-and-blooms/bitset"
)

// maximumGap is the number of clean slots Flush is willing to re-upload to
// bridge two dirty runs into one device write. Every write call carries a
// fixed overhead independent of payload size, so overwriting a short clean
// gap is cheaper than issuing a second call. A gap of exactly maximumGap
// clean slots still bridges; one more splits the runs.
const maximumGap = 16

// Dynamic adds a full system-memory mirror and per-item dirty tracking on
// top of an Array. Reads never touch the device; writes land in the mirror
// and are uploaded as coalesced runs by Flush.
//
// Releasing a Dynamic discards pending writes. The conversions IntoArray
// and IntoHandle always flush first.
//
// A Dynamic is bound to a single goroutine, like the device context that
// backs it. If a device operation fails during Resize, ShrinkToFit or Flush
// the buffer state is undefined and the caller must abandon it.
type Dynamic[T any] struct {
	array    *Array[T]
	mirror   []T
	dirty    *bitset.BitSet
	modified bool
	length   int
	capacity int
}

// FromArray takes ownership of array and reads the entire current device
// content, populated or not, into the mirror with one bulk transfer.
func FromArray[T any](array *Array[T]) (*Dynamic[T], error) {
	capacity := array.Cap()

	mirror, err := array.Slice(0, capacity)
	if err != nil {
		return nil, fmt.Errorf("read initial content: %w", err)
	}

	return &Dynamic[T]{
		array:    array,
		mirror:   mirror,
		dirty:    bitset.New(uint(capacity)),
		length:   array.Len(),
		capacity: capacity,
	}, nil
}

// Len returns the number of live items.
func (d *Dynamic[T]) Len() int {
	return d.length
}

// IsEmpty reports whether the buffer holds no live items.
func (d *Dynamic[T]) IsEmpty() bool {
	return d.length == 0
}

// Cap returns the number of items the device allocation can hold.
func (d *Dynamic[T]) Cap() int {
	return d.capacity
}

// Handle returns the underlying device handle without flushing, eg. for
// binding it to a pipeline. Call Flush first if the device content must be
// current.
func (d *Dynamic[T]) Handle() Handle {
	return d.array.Handle()
}

// Get reads an item from the mirror. No device interaction.
func (d *Dynamic[T]) Get(i int) T {
	d.boundsCheck(i, 1)
	return d.mirror[i]
}

// Set writes an item into the mirror and marks it dirty.
func (d *Dynamic[T]) Set(i int, v T) {
	d.boundsCheck(i, 1)
	d.mirror[i] = v
	d.markDirty(i, 1)
}

// Slice returns a read-only view of mirror[start:end]. The view is
// invalidated by Resize and ShrinkToFit.
func (d *Dynamic[T]) Slice(start, end int) []T {
	d.boundsCheck(start, end-start)
	return d.mirror[start:end:end]
}

// SetSlice copies data into the mirror at start and marks the written
// range dirty.
func (d *Dynamic[T]) SetSlice(start int, data []T) {
	d.boundsCheck(start, len(data))
	copy(d.mirror[start:], data)
	d.markDirty(start, len(data))
}

// Mut returns a pointer into the mirror and marks the slot dirty.
func (d *Dynamic[T]) Mut(i int) *T {
	d.boundsCheck(i, 1)
	d.markDirty(i, 1)
	return &d.mirror[i]
}

// MutSlice returns a mutable view of mirror[start:end] and marks exactly
// that range dirty, whether or not the caller ends up writing all of it.
// The view is invalidated by Resize and ShrinkToFit.
func (d *Dynamic[T]) MutSlice(start, end int) []T {
	d.boundsCheck(start, end-start)
	d.markDirty(start, end-start)
	return d.mirror[start:end:end]
}

// MutFrom is MutSlice from start to the end of the live items.
func (d *Dynamic[T]) MutFrom(start int) []T {
	return d.MutSlice(start, d.length)
}

// MutAll is MutSlice over all live items.
func (d *Dynamic[T]) MutAll() []T {
	return d.MutSlice(0, d.length)
}

// Resize sets the logical length to n, truncating or extending the mirror
// with fill. Growing beyond the current device capacity flushes pending
// writes first, then reallocates the device buffer; the reallocated buffer
// and the mirror agree by construction, so nothing is left dirty. Any other
// resize touches only mirror state.
func (d *Dynamic[T]) Resize(n int, fill T) error {
	if n < 0 {
		panic(fmt.Sprintf("vec: resize to negative length %d", n))
	}

	if n > d.capacity {
		if err := d.Flush(); err != nil {
			return fmt.Errorf("flush before grow: %w", err)
		}

		if err := d.array.Resize(n, fill); err != nil {
			return fmt.Errorf("grow to %d items: %w", n, err)
		}

		d.resizeMirror(n, fill)
		d.length = n
		d.capacity = n
		d.dirty = bitset.New(uint(n))
		d.modified = false

		return nil
	}

	// within the existing allocation, no device interaction
	if n < d.length {
		for i := n; i < d.length; i++ {
			d.dirty.Clear(uint(i))
		}
		if d.dirty.None() {
			d.modified = false
		}
	}

	d.resizeMirror(n, fill)
	d.length = n

	return nil
}

// ShrinkToFit reallocates the device buffer down to exactly Len items,
// flushing pending writes first. No-op if length and capacity already match.
func (d *Dynamic[T]) ShrinkToFit() error {
	if d.capacity <= d.length {
		return nil
	}

	if err := d.Flush(); err != nil {
		return fmt.Errorf("flush before shrink: %w", err)
	}

	var fill T
	if err := d.array.Resize(d.length, fill); err != nil {
		return fmt.Errorf("shrink to %d items: %w", d.length, err)
	}

	mirror := make([]T, d.length)
	copy(mirror, d.mirror)
	d.mirror = mirror

	d.capacity = d.length
	d.dirty = bitset.New(uint(d.length))
	d.modified = false

	return nil
}

// Flush uploads every dirty run to the device and clears the dirty state.
// Runs separated by at most maximumGap clean slots are merged into a single
// write. Returns immediately when nothing was modified.
func (d *Dynamic[T]) Flush() error {
	if !d.modified {
		return nil
	}

	var (
		inRun     bool
		runStart  int
		runEnd    int
		gapLength int
	)

	flushRun := func() error {
		slog.Debug("Flush dirty run",
			slog.Int("start", runStart),
			slog.Int("end", runEnd),
		)

		if err := d.array.SetSlice(runStart, d.mirror[runStart:runEnd+1]); err != nil {
			return fmt.Errorf("flush run [%d:%d]: %w", runStart, runEnd+1, err)
		}

		return nil
	}

	for i := 0; i < d.length; i++ {
		if d.dirty.Test(uint(i)) {
			if !inRun {
				inRun = true
				runStart = i
			}
			runEnd = i
			gapLength = 0
			d.dirty.Clear(uint(i))
		} else if inRun {
			if gapLength < maximumGap {
				gapLength++
			} else {
				if err := flushRun(); err != nil {
					return err
				}
				inRun = false
			}
		}
	}

	if inRun {
		if err := flushRun(); err != nil {
			return err
		}
	}

	d.modified = false

	return nil
}

// IntoArray flushes pending writes and converts back to the uncached form.
// The Dynamic must not be used afterwards.
func (d *Dynamic[T]) IntoArray() (*Array[T], error) {
	if err := d.Flush(); err != nil {
		return nil, fmt.Errorf("flush before conversion: %w", err)
	}

	array := d.array
	array.length = d.length

	d.array = nil
	d.mirror = nil
	d.dirty = nil

	return array, nil
}

// IntoHandle flushes pending writes and transfers ownership of the raw
// device handle to the caller. The Dynamic must not be used afterwards.
func (d *Dynamic[T]) IntoHandle() (Handle, error) {
	array, err := d.IntoArray()
	if err != nil {
		return nil, err
	}

	handle := array.handle
	array.handle = nil

	return handle, nil
}

// Clone produces an independent buffer backed by a device-side copy of the
// content. Dirty state carries over, so the clone will flush the same
// pending runs.
func (d *Dynamic[T]) Clone() (*Dynamic[T], error) {
	array, err := d.array.Clone()
	if err != nil {
		return nil, err
	}

	mirror := make([]T, len(d.mirror))
	copy(mirror, d.mirror)

	return &Dynamic[T]{
		array:    array,
		mirror:   mirror,
		dirty:    d.dirty.Clone(),
		modified: d.modified,
		length:   d.length,
		capacity: d.capacity,
	}, nil
}

// Release drops the buffer without flushing; pending writes are lost.
func (d *Dynamic[T]) Release() {
	if d.array != nil {
		d.array.Release()
		d.array = nil
	}
	d.mirror = nil
	d.dirty = nil
}

func (d *Dynamic[T]) markDirty(start, n int) {
	if n == 0 {
		return
	}

	d.modified = true
	for i := start; i < start+n; i++ {
		d.dirty.Set(uint(i))
	}
}

func (d *Dynamic[T]) resizeMirror(n int, fill T) {
	if n <= len(d.mirror) {
		d.mirror = d.mirror[:n]
		return
	}
	for len(d.mirror) < n {
		d.mirror = append(d.mirror, fill)
	}
}

func (d *Dynamic[T]) boundsCheck(start, n int) {
	if start < 0 || n < 0 || start+n > d.length {
		panic(fmt.Sprintf("vec: range [%d:%d] out of bounds (len %d)", start, start+n, d.length))
	}
}
