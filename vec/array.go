package vec

import "fmt"

// Array is a typed, uncached view over a Handle. Every Get and Set maps to
// one synchronous device transfer; use Dynamic when reads should be free
// and scattered writes should be batched.
type Array[T any] struct {
	handle Handle
	length int
}

// Wrap takes ownership of handle. The item capacity is derived from the
// handle size, the logical length starts at zero.
func Wrap[T any](handle Handle) *Array[T] {
	return &Array[T]{handle: handle}
}

// WrapN takes ownership of a pre-populated handle whose first length items
// are considered live.
func WrapN[T any](handle Handle, length int) *Array[T] {
	a := &Array[T]{handle: handle}
	if length < 0 || length > a.Cap() {
		panic(fmt.Sprintf("vec: length %d out of range (cap %d)", length, a.Cap()))
	}
	a.length = length
	return a
}

// Handle returns the underlying device handle, eg. for binding it to a
// pipeline. Ownership stays with the Array.
func (a *Array[T]) Handle() Handle {
	return a.handle
}

// SizeInBytes returns the size of the device allocation.
func (a *Array[T]) SizeInBytes() int {
	return a.handle.SizeInBytes()
}

// Cap returns the number of items the current allocation can hold.
func (a *Array[T]) Cap() int {
	return a.handle.SizeInBytes() / itemSize[T]()
}

// Len returns the number of live items.
func (a *Array[T]) Len() int {
	return a.length
}

// Get reads one item from the device.
func (a *Array[T]) Get(i int) (T, error) {
	a.boundsCheck(i, 1)

	var v T
	if err := a.handle.Read(i*itemSize[T](), asBytes(&v)); err != nil {
		return v, fmt.Errorf("read item %d: %w", i, err)
	}

	return v, nil
}

// Set writes one item to the device.
func (a *Array[T]) Set(i int, v T) error {
	a.boundsCheck(i, 1)

	if err := a.handle.Write(i*itemSize[T](), asBytes(&v)); err != nil {
		return fmt.Errorf("write item %d: %w", i, err)
	}

	return nil
}

// Slice reads n items starting at start with a single device transfer.
func (a *Array[T]) Slice(start, n int) ([]T, error) {
	a.boundsCheck(start, n)

	items := make([]T, n)
	if err := a.handle.Read(start*itemSize[T](), toBytes(items)); err != nil {
		return nil, fmt.Errorf("read %d items at %d: %w", n, start, err)
	}

	return items, nil
}

// SetSlice writes data to the device starting at start with a single
// transfer, regardless of length.
func (a *Array[T]) SetSlice(start int, data []T) error {
	a.boundsCheck(start, len(data))

	if err := a.handle.Write(start*itemSize[T](), toBytes(data)); err != nil {
		return fmt.Errorf("write %d items at %d: %w", len(data), start, err)
	}

	return nil
}

// Resize sets the logical length to n. If that does not match the current
// allocation the handle is reallocated, copying the live prefix and filling
// any new tail with fill. Reallocation is O(current size) due to the copy.
func (a *Array[T]) Resize(n int, fill T) error {
	if n < 0 {
		panic(fmt.Sprintf("vec: resize to negative length %d", n))
	}

	if newSize := n * itemSize[T](); newSize != a.handle.SizeInBytes() {
		if err := a.handle.Reallocate(newSize, asBytes(&fill)); err != nil {
			return fmt.Errorf("reallocate to %d items: %w", n, err)
		}
	}

	a.length = n
	return nil
}

// Clone produces an independent Array backed by a device-side copy.
func (a *Array[T]) Clone() (*Array[T], error) {
	handle, err := a.handle.Clone()
	if err != nil {
		return nil, fmt.Errorf("clone device buffer: %w", err)
	}

	return &Array[T]{handle: handle, length: a.length}, nil
}

// Release frees the underlying handle. Safe to call more than once.
func (a *Array[T]) Release() {
	if a.handle != nil {
		a.handle.Release()
		a.handle = nil
	}
}

func (a *Array[T]) boundsCheck(start, n int) {
	if start < 0 || n < 0 || start+n > a.Cap() {
		panic(fmt.Sprintf("vec: range [%d:%d] out of bounds (cap %d)", start, start+n, a.Cap()))
	}
}
