package hruntime

import "unsafe"

// unsafeSlice views size bytes starting at p as a []byte, for callers
// reading/writing a buffer allocated with Runtime.AllocateBuffer. p must
// point at least size bytes into the region's own mapping.
func unsafeSlice(p *byte, size int) []byte {
	if p == nil {
		return nil
	}
	return unsafe.Slice(p, size)
}
