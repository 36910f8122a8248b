package device

import (
	"fmt"
	"runtime"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/oliverbestmann/gpuvec/vec"
)

// transferAlign is the offset and size granularity webgpu imposes on buffer
// transfers. Item types used with vec views over a Buffer must have a byte
// size that is a multiple of it.
const transferAlign = 4

// Buffer is device-resident linear memory implementing vec.Handle over a
// wgpu buffer.
type Buffer struct {
	ctx   *Context
	buf   *wgpu.Buffer
	size  int
	usage wgpu.BufferUsage
	label string
}

// NewBuffer allocates size bytes with the given usage, which is extended by
// the copy flags that Read, Reallocate and Clone need. If init is non-nil it
// must be exactly size bytes and becomes the initial content.
func NewBuffer(ctx *Context, label string, size int, usage wgpu.BufferUsage, init []byte) (*Buffer, error) {
	if size%transferAlign != 0 {
		return nil, fmt.Errorf("buffer size %d is not a multiple of %d", size, transferAlign)
	}

	usage |= wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst

	buf, err := createBuffer(ctx, label, size, usage, init)
	if err != nil {
		return nil, err
	}

	b := &Buffer{
		ctx:   ctx,
		buf:   buf,
		size:  size,
		usage: usage,
		label: label,
	}

	// safety net in case the owner never calls Release
	runtime.SetFinalizer(b, (*Buffer).Release)

	return b, nil
}

func createBuffer(ctx *Context, label string, size int, usage wgpu.BufferUsage, init []byte) (*wgpu.Buffer, error) {
	if init != nil {
		if len(init) != size {
			return nil, fmt.Errorf("initial data is %d bytes, buffer is %d", len(init), size)
		}

		buf, err := ctx.CreateBufferInit(&wgpu.BufferInitDescriptor{
			Label:    label,
			Contents: init,
			Usage:    usage,
		})
		if err != nil {
			return nil, fmt.Errorf("create buffer %q: %w", label, err)
		}

		return buf, nil
	}

	buf, err := ctx.CreateBuffer(&wgpu.BufferDescriptor{
		Label: label,
		Usage: usage,
		Size:  uint64(size),
	})
	if err != nil {
		return nil, fmt.Errorf("create buffer %q: %w", label, err)
	}

	return buf, nil
}

// Raw exposes the wgpu buffer, eg. to bind it as a vertex buffer. Ownership
// stays with the Buffer; Reallocate invalidates the returned value.
func (b *Buffer) Raw() *wgpu.Buffer {
	return b.buf
}

func (b *Buffer) SizeInBytes() int {
	return b.size
}

func (b *Buffer) Write(offset int, src []byte) error {
	if err := checkTransfer(offset, len(src), b.size); err != nil {
		return err
	}

	if err := b.ctx.Queue.WriteBuffer(b.buf, uint64(offset), src); err != nil {
		return fmt.Errorf("write %d bytes at %d: %w", len(src), offset, err)
	}

	return nil
}

// Read copies a byte range back from the device. The range is copied into a
// cached mappable staging buffer first, then mapped synchronously.
func (b *Buffer) Read(offset int, dst []byte) error {
	if err := checkTransfer(offset, len(dst), b.size); err != nil {
		return err
	}

	if len(dst) == 0 {
		return nil
	}

	staging, err := b.ctx.staging.get(len(dst))
	if err != nil {
		return err
	}

	if err := copyBuffer(b.ctx, b.buf, offset, staging, 0, len(dst)); err != nil {
		return err
	}

	var status wgpu.BufferMapAsyncStatus
	err = staging.MapAsync(wgpu.MapModeRead, 0, uint64(len(dst)), func(s wgpu.BufferMapAsyncStatus) {
		status = s
	})
	if err != nil {
		return fmt.Errorf("map staging buffer: %w", err)
	}

	b.ctx.WaitDone()

	if status != wgpu.BufferMapAsyncStatusSuccess {
		return fmt.Errorf("map staging buffer: status %v", status)
	}

	copy(dst, staging.GetMappedRange(0, uint(len(dst))))
	staging.Unmap()

	return nil
}

// Reallocate replaces the allocation, copying the overlapping prefix on the
// device and filling any new tail by repeating fill.
func (b *Buffer) Reallocate(newSize int, fill []byte) error {
	if newSize%transferAlign != 0 {
		return fmt.Errorf("buffer size %d is not a multiple of %d", newSize, transferAlign)
	}

	buf, err := createBuffer(b.ctx, b.label, newSize, b.usage, nil)
	if err != nil {
		return err
	}

	if keep := min(b.size, newSize); keep > 0 {
		if err := copyBuffer(b.ctx, b.buf, 0, buf, 0, keep); err != nil {
			buf.Release()
			return err
		}
	}

	if newSize > b.size && len(fill) > 0 {
		tail := repeatFill(fill, newSize-b.size)
		if err := b.ctx.Queue.WriteBuffer(buf, uint64(b.size), tail); err != nil {
			buf.Release()
			return fmt.Errorf("fill new tail: %w", err)
		}
	}

	b.buf.Release()
	b.buf = buf
	b.size = newSize

	return nil
}

// Clone produces an independent Buffer holding a device-side copy of the
// content.
func (b *Buffer) Clone() (vec.Handle, error) {
	buf, err := createBuffer(b.ctx, b.label, b.size, b.usage, nil)
	if err != nil {
		return nil, err
	}

	if b.size > 0 {
		if err := copyBuffer(b.ctx, b.buf, 0, buf, 0, b.size); err != nil {
			buf.Release()
			return nil, err
		}
	}

	clone := &Buffer{
		ctx:   b.ctx,
		buf:   buf,
		size:  b.size,
		usage: b.usage,
		label: b.label,
	}

	runtime.SetFinalizer(clone, (*Buffer).Release)

	return clone, nil
}

// Release frees the wgpu buffer. Safe to call more than once.
func (b *Buffer) Release() {
	if b.buf != nil {
		b.buf.Release()
		b.buf = nil
	}
}

// copyBuffer submits a single device-side copy of n bytes.
func copyBuffer(ctx *Context, src *wgpu.Buffer, srcOffset int, dst *wgpu.Buffer, dstOffset, n int) error {
	encoder, err := ctx.CreateCommandEncoder(nil)
	if err != nil {
		return fmt.Errorf("create command encoder: %w", err)
	}
	defer encoder.Release()

	err = encoder.CopyBufferToBuffer(src, uint64(srcOffset), dst, uint64(dstOffset), uint64(n))
	if err != nil {
		return fmt.Errorf("copy %d bytes: %w", n, err)
	}

	cmd, err := encoder.Finish(nil)
	if err != nil {
		return fmt.Errorf("finish encoder: %w", err)
	}
	defer cmd.Release()

	ctx.Queue.Submit(cmd)

	return nil
}

func repeatFill(fill []byte, n int) []byte {
	out := make([]byte, n)
	for off := 0; off < n; off += len(fill) {
		copy(out[off:], fill)
	}
	return out
}

func checkTransfer(offset, n, size int) error {
	if offset < 0 || n < 0 || offset+n > size {
		return fmt.Errorf("transfer [%d:%d] out of bounds (size %d)", offset, offset+n, size)
	}

	if offset%transferAlign != 0 || n%transferAlign != 0 {
		return fmt.Errorf("transfer [%d:%d] is not %d-byte aligned", offset, offset+n, transferAlign)
	}

	return nil
}
