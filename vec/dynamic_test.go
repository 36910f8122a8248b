package vec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDynamicU32(t *testing.T, length, capacity int) (*Dynamic[uint32], *fakeHandle) {
	t.Helper()

	h := newFakeHandle(capacity * 4)
	d, err := FromArray(WrapN[uint32](h, length))
	require.NoError(t, err)

	return d, h
}

func deviceItems(h *fakeHandle) []uint32 {
	items := make([]uint32, len(h.mem)/4)
	copy(toBytes(items), h.mem)
	return items
}

func TestFromArrayReadsEverythingOnce(t *testing.T) {
	h := newFakeHandle(8 * 4)
	copy(h.mem, toBytes([]uint32{10, 11, 12, 13, 14, 15, 16, 17}))

	d, err := FromArray(WrapN[uint32](h, 8))
	require.NoError(t, err)

	assert.Equal(t, 1, h.reads)

	for i := 0; i < 8; i++ {
		assert.Equal(t, uint32(10+i), d.Get(i))
	}

	// reads are mirror-only
	assert.Equal(t, 1, h.reads)
	assert.Empty(t, h.writes)
}

func TestFlushNoopWhenClean(t *testing.T) {
	d, h := newDynamicU32(t, 8, 8)

	require.NoError(t, d.Flush())
	assert.Empty(t, h.writes)

	d.Set(2, 5)
	require.NoError(t, d.Flush())
	require.Len(t, h.writes, 1)

	// a second flush with no intervening writes issues nothing
	require.NoError(t, d.Flush())
	assert.Len(t, h.writes, 1)
}

func TestFlushSingleIndex(t *testing.T) {
	d, h := newDynamicU32(t, 8, 8)

	d.Set(3, 99)
	d.Set(3, 7) // latest value wins, bitmap is boolean

	require.NoError(t, d.Flush())

	require.Len(t, h.writes, 1)
	assert.Equal(t, writeCall{offset: 3 * 4, length: 4}, h.writes[0])
	assert.Equal(t, uint32(7), deviceItems(h)[3])
}

func TestFlushSplitsWideGap(t *testing.T) {
	// 17 clean slots between the runs exceeds the gap tolerance
	d, h := newDynamicU32(t, 23, 23)

	for _, i := range []int{0, 1, 2, 20, 21, 22} {
		d.Set(i, uint32(i))
	}

	require.NoError(t, d.Flush())

	require.Len(t, h.writes, 2)
	assert.Equal(t, writeCall{offset: 0, length: 3 * 4}, h.writes[0])
	assert.Equal(t, writeCall{offset: 20 * 4, length: 3 * 4}, h.writes[1])
}

func TestFlushBridgesGapOfExactlySixteen(t *testing.T) {
	d, h := newDynamicU32(t, 32, 32)

	d.Set(0, 1)
	d.Set(17, 2) // slots 1..16 clean: gap of 16 still bridges

	require.NoError(t, d.Flush())

	require.Len(t, h.writes, 1)
	assert.Equal(t, writeCall{offset: 0, length: 18 * 4}, h.writes[0])

	items := deviceItems(h)
	assert.Equal(t, uint32(1), items[0])
	assert.Equal(t, uint32(2), items[17])
}

func TestFlushSplitsGapOfSeventeen(t *testing.T) {
	d, h := newDynamicU32(t, 32, 32)

	d.Set(0, 1)
	d.Set(18, 2) // slots 1..17 clean: one past the tolerance

	require.NoError(t, d.Flush())

	require.Len(t, h.writes, 2)
	assert.Equal(t, writeCall{offset: 0, length: 4}, h.writes[0])
	assert.Equal(t, writeCall{offset: 18 * 4, length: 4}, h.writes[1])
}

func TestFlushWholeBuffer(t *testing.T) {
	d, h := newDynamicU32(t, 64, 64)

	all := d.MutAll()
	for i := range all {
		all[i] = uint32(i)
	}

	require.NoError(t, d.Flush())

	require.Len(t, h.writes, 1)
	assert.Equal(t, writeCall{offset: 0, length: 64 * 4}, h.writes[0])
	assert.Equal(t, uint32(63), deviceItems(h)[63])
}

func TestMutSliceMarksExactlyTheRange(t *testing.T) {
	d, h := newDynamicU32(t, 16, 16)

	s := d.MutSlice(2, 5)
	require.Len(t, s, 3)
	s[0] = 20
	// slots 3 and 4 are dirty even though they were not written

	require.NoError(t, d.Flush())

	require.Len(t, h.writes, 1)
	assert.Equal(t, writeCall{offset: 2 * 4, length: 3 * 4}, h.writes[0])
}

func TestMutFrom(t *testing.T) {
	d, h := newDynamicU32(t, 10, 10)

	tail := d.MutFrom(6)
	require.Len(t, tail, 4)

	require.NoError(t, d.Flush())

	require.Len(t, h.writes, 1)
	assert.Equal(t, writeCall{offset: 6 * 4, length: 4 * 4}, h.writes[0])
}

func TestSetSlice(t *testing.T) {
	d, h := newDynamicU32(t, 16, 16)

	d.SetSlice(4, []uint32{1, 2, 3})
	assert.Equal(t, []uint32{1, 2, 3}, d.Slice(4, 7))

	require.NoError(t, d.Flush())

	require.Len(t, h.writes, 1)
	assert.Equal(t, writeCall{offset: 4 * 4, length: 3 * 4}, h.writes[0])
}

func TestResizeGrowthLeavesNothingDirty(t *testing.T) {
	d, h := newDynamicU32(t, 32, 32)

	d.Set(10, 5)

	require.NoError(t, d.Resize(41, 5))

	assert.Equal(t, 41, d.Len())
	assert.Equal(t, 41, d.Cap())
	assert.Equal(t, 1, h.reallocs)

	// pending writes were flushed before the reallocation copied the buffer
	assert.Equal(t, uint32(5), deviceItems(h)[10])

	// nothing left to flush
	writes := len(h.writes)
	require.NoError(t, d.Flush())
	assert.Len(t, h.writes, writes)

	// the grown tail reads back from the mirror without any flush
	assert.Equal(t, uint32(5), d.Get(40))
}

func TestResizeWithinCapacity(t *testing.T) {
	d, h := newDynamicU32(t, 8, 16)

	d.Set(1, 11)
	d.Set(6, 66)

	// shrink drops the dirty bit for slot 6, keeps slot 1
	require.NoError(t, d.Resize(4, 0))
	assert.Equal(t, 4, d.Len())
	assert.Equal(t, 16, d.Cap())
	assert.Equal(t, 0, h.reallocs)

	require.NoError(t, d.Flush())
	require.Len(t, h.writes, 1)
	assert.Equal(t, writeCall{offset: 1 * 4, length: 4}, h.writes[0])

	// growing back within capacity fills with the given value, no device work
	require.NoError(t, d.Resize(6, 9))
	assert.Equal(t, 0, h.reallocs)
	assert.Equal(t, uint32(9), d.Get(5))
}

func TestShrinkToFit(t *testing.T) {
	d, h := newDynamicU32(t, 16, 16)

	d.SetSlice(0, []uint32{1, 2, 3, 4, 5})
	require.NoError(t, d.Resize(5, 0))
	require.NoError(t, d.ShrinkToFit())

	assert.Equal(t, 5, d.Len())
	assert.Equal(t, 5, d.Cap())
	assert.Equal(t, 5*4, h.SizeInBytes())
	assert.Equal(t, []uint32{1, 2, 3, 4, 5}, deviceItems(h))

	// already tight: no further device work
	reallocs := h.reallocs
	require.NoError(t, d.ShrinkToFit())
	assert.Equal(t, reallocs, h.reallocs)
}

func TestIntoArrayFlushes(t *testing.T) {
	d, h := newDynamicU32(t, 8, 8)

	d.Set(2, 22)

	a, err := d.IntoArray()
	require.NoError(t, err)

	assert.Equal(t, 8, a.Len())
	assert.Equal(t, uint32(22), deviceItems(h)[2])

	v, err := a.Get(2)
	require.NoError(t, err)
	assert.Equal(t, uint32(22), v)
}

func TestIntoHandleFlushes(t *testing.T) {
	d, h := newDynamicU32(t, 8, 8)

	d.Set(0, 1)

	handle, err := d.IntoHandle()
	require.NoError(t, err)

	assert.Same(t, Handle(h), handle)
	assert.Equal(t, uint32(1), deviceItems(h)[0])
}

func TestReleaseDropsPendingWrites(t *testing.T) {
	d, h := newDynamicU32(t, 8, 8)

	d.Set(2, 22)
	d.Release()

	assert.Empty(t, h.writes)
	assert.True(t, h.released)
}

func TestCloneIsIndependent(t *testing.T) {
	d, h := newDynamicU32(t, 8, 8)

	d.Set(1, 11)

	c, err := d.Clone()
	require.NoError(t, err)

	d.Set(1, 99)

	// the clone carries the pending write from before the fork
	require.NoError(t, c.Flush())
	clonedHandle := c.Handle().(*fakeHandle)
	assert.Equal(t, uint32(11), deviceItems(clonedHandle)[1])

	require.NoError(t, d.Flush())
	assert.Equal(t, uint32(99), deviceItems(h)[1])
	assert.Equal(t, uint32(11), deviceItems(clonedHandle)[1])
}

func TestFlushPropagatesDeviceError(t *testing.T) {
	d, h := newDynamicU32(t, 8, 8)

	d.Set(0, 1)
	h.failWrites = true

	err := d.Flush()
	require.ErrorIs(t, err, errDeviceLost)
}

func TestOutOfBoundsPanics(t *testing.T) {
	d, _ := newDynamicU32(t, 4, 8)

	assert.Panics(t, func() { d.Get(4) }) // beyond Len, within Cap
	assert.Panics(t, func() { d.Set(-1, 0) })
	assert.Panics(t, func() { d.MutSlice(2, 5) })
}

// the end-to-end scenario: scattered writes, a coalesced flush, then growth
func TestScenario(t *testing.T) {
	d, h := newDynamicU32(t, 32, 32)

	d.Set(3, 99)
	d.Set(3, 7)

	require.NoError(t, d.Flush())
	require.Len(t, h.writes, 1)
	assert.Equal(t, writeCall{offset: 3 * 4, length: 4}, h.writes[0])
	assert.Equal(t, uint32(7), deviceItems(h)[3])

	d.Set(10, 5)
	require.NoError(t, d.Resize(41, 5))

	assert.Equal(t, 1, h.reallocs)
	assert.Equal(t, uint32(5), d.Get(40))

	// no flush needed after growth
	writes := len(h.writes)
	require.NoError(t, d.Flush())
	assert.Len(t, h.writes, writes)
}
