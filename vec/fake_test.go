package vec

import "errors"

type writeCall struct {
	offset int
	length int
}

// fakeHandle is an in-memory Handle that records every device transfer, so
// tests can assert on the number and shape of the writes a Flush issues.
type fakeHandle struct {
	mem      []byte
	writes   []writeCall
	reads    int
	reallocs int
	released bool

	failWrites bool
}

var errDeviceLost = errors.New("device lost")

func newFakeHandle(size int) *fakeHandle {
	return &fakeHandle{mem: make([]byte, size)}
}

func (h *fakeHandle) SizeInBytes() int {
	return len(h.mem)
}

func (h *fakeHandle) Read(offset int, dst []byte) error {
	h.reads++
	copy(dst, h.mem[offset:offset+len(dst)])
	return nil
}

func (h *fakeHandle) Write(offset int, src []byte) error {
	if h.failWrites {
		return errDeviceLost
	}
	h.writes = append(h.writes, writeCall{offset: offset, length: len(src)})
	copy(h.mem[offset:], src)
	return nil
}

func (h *fakeHandle) Reallocate(newSize int, fill []byte) error {
	h.reallocs++

	mem := make([]byte, newSize)
	kept := copy(mem, h.mem)
	if len(fill) > 0 {
		for off := kept; off < newSize; off += len(fill) {
			copy(mem[off:], fill)
		}
	}

	h.mem = mem
	return nil
}

func (h *fakeHandle) Clone() (Handle, error) {
	return &fakeHandle{mem: append([]byte(nil), h.mem...)}, nil
}

func (h *fakeHandle) Release() {
	h.released = true
}
