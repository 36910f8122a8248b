// Package vec provides typed views over linear device memory: Array, a
// direct uncached view where every access is a device transfer, and Dynamic,
// a mirror-backed view that tracks per-item dirty state and coalesces it
// into a minimal number of device writes on Flush.
package vec

// Handle is a fixed-capacity linear block of device memory. Exactly one
// Array owns a Handle at a time; converting between buffer forms moves
// ownership, it never aliases.
//
// All methods are synchronous. Device failures are returned as errors and
// are never retried here; retrying is caller policy.
type Handle interface {
	// SizeInBytes returns the current allocation size.
	SizeInBytes() int

	// Read copies len(dst) bytes starting at offset into dst.
	Read(offset int, dst []byte) error

	// Write copies src into device memory starting at offset.
	Write(offset int, src []byte) error

	// Reallocate replaces the allocation with one of newSize bytes,
	// copying the overlapping prefix of the old content and filling any
	// new tail by repeating the fill pattern.
	Reallocate(newSize int, fill []byte) error

	// Clone produces an independent handle holding a device-side copy
	// of the content.
	Clone() (Handle, error)

	// Release frees the allocation. The handle must not be used afterwards.
	Release()
}
