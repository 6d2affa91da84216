package buffer

import "encoding/binary"

// ChannelView is a strided, read-only projection of one channel inside the
// arena of a SampleBuffer. It owns no memory: it stays meaningful until the
// sub-buffer it addresses is checked out.
//
// Sample k lives at base + k*stride; stride is the row size, so successive
// samples walk one column of the interleaved stream.
type ChannelView struct {
	arena  []byte
	base   int
	stride int
	size   int
	count  int
}

func newChannelView(arena []byte, base, stride, size, count int) ChannelView {
	return ChannelView{arena: arena, base: base, stride: stride, size: size, count: count}
}

// Valid reports whether the view addresses an arena.
func (v ChannelView) Valid() bool {
	return v.arena != nil
}

// Len returns the number of samples in the view (one per row of the read unit).
func (v ChannelView) Len() int {
	return v.count
}

// Size returns the width of one sample in bytes.
func (v ChannelView) Size() int {
	return v.size
}

// Offset returns the arena offset of sample k.
func (v ChannelView) Offset(k int) int {
	return v.base + k*v.stride
}

// Sample returns the raw bytes of sample k. The slice aliases the arena.
// k must be within [0, Len()); the view does no further bounds checking.
func (v ChannelView) Sample(k int) []byte {
	off := v.base + k*v.stride
	return v.arena[off : off+v.size : off+v.size]
}

// Uint returns sample k as an unsigned little-endian value, zero-extended
// for widths below four bytes.
func (v ChannelView) Uint(k int) uint32 {
	b := v.Sample(k)
	switch v.size {
	case 1:
		return uint32(b[0])
	case 2:
		return uint32(binary.LittleEndian.Uint16(b))
	case 3:
		return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
	default:
		return binary.LittleEndian.Uint32(b)
	}
}

// AppendUint32 appends every sample of the view to dst and returns it.
func (v ChannelView) AppendUint32(dst []uint32) []uint32 {
	for k := 0; k < v.count; k++ {
		dst = append(dst, v.Uint(k))
	}
	return dst
}
