package device

import (
	"fmt"
	"math/bits"

	"github.com/cogentcore/webgpu/wgpu"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Readbacks need a mappable staging buffer, and allocating one per read is
// slow. Buffers are cached per power-of-two size class and evicted LRU.
type stagingCache struct {
	ctx   *Context
	cache *lru.Cache[int, *wgpu.Buffer]
}

func newStagingCache(ctx *Context) *stagingCache {
	cache, _ := lru.NewWithEvict[int, *wgpu.Buffer](8, releaseStagingOnEviction)

	return &stagingCache{
		ctx:   ctx,
		cache: cache,
	}
}

func releaseStagingOnEviction(_ int, buf *wgpu.Buffer) {
	buf.Release()
}

// get returns an unmapped staging buffer of at least n bytes. The buffer
// stays owned by the cache; the caller must unmap it before the next get.
func (s *stagingCache) get(n int) (*wgpu.Buffer, error) {
	class := sizeClass(n)

	if buf, ok := s.cache.Get(class); ok {
		return buf, nil
	}

	buf, err := s.ctx.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "gpuvec.Staging",
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
		Size:  uint64(class),
	})
	if err != nil {
		return nil, fmt.Errorf("create staging buffer: %w", err)
	}

	s.cache.Add(class, buf)

	return buf, nil
}

func (s *stagingCache) purge() {
	s.cache.Purge()
}

// sizeClass rounds n up to the next power of two, with a floor that keeps
// tiny readbacks from occupying their own cache slots.
func sizeClass(n int) int {
	const floor = 256

	if n <= floor {
		return floor
	}

	return 1 << bits.Len(uint(n-1))
}
