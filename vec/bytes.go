package vec

import "unsafe"

// Item types stored in a buffer must be plain data: fixed size and free of
// pointers, since their bytes are copied to the device verbatim.

func toBytes[T any](values []T) []byte {
	if len(values) == 0 {
		return nil
	}

	n := len(values) * int(unsafe.Sizeof(values[0]))
	return unsafe.Slice((*byte)(unsafe.Pointer(&values[0])), n)
}

func asBytes[T any](value *T) []byte {
	n := unsafe.Sizeof(*value)
	return unsafe.Slice((*byte)(unsafe.Pointer(value)), n)
}

func itemSize[T any]() int {
	var zero T
	return int(unsafe.Sizeof(zero))
}
