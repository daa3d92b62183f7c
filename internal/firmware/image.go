// Package firmware describes program images as sparse, address-ordered
// byte segments, and moves them to and from disk as Intel HEX or flat
// binary files. The flash programmer consumes and produces images.
package firmware

import (
	"sort"

	"github.com/nrfprobe/nrfprobe/internal/nrf"
)

// Segment is one contiguous run of image bytes.
type Segment struct {
	Address uint32
	Data    []byte
}

// End returns the first address past the segment.
func (s Segment) End() uint32 {
	return s.Address + uint32(len(s.Data))
}

// Contains reports whether addr falls inside the segment.
func (s Segment) Contains(addr uint32) bool {
	return addr >= s.Address && addr < s.End()
}

// Image is a sparse memory image. Segments never overlap and are kept
// sorted by address; adjacent segments merge on insert.
type Image struct {
	segments []Segment
}

// NewImage returns an empty image.
func NewImage() *Image {
	return &Image{}
}

// Add inserts a copy of data at addr. Overlapping an existing segment is
// an error: an image with two values for one address has no meaning.
func (im *Image) Add(addr uint32, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	end := uint64(addr) + uint64(len(data))
	if end > 1<<32 {
		return nrf.OpErrorf(nrf.CodeInvalidParameter, "image",
			"segment at %#08x with %d bytes wraps the address space", addr, len(data))
	}
	for _, s := range im.segments {
		if addr < s.End() && uint32(end) > s.Address {
			return nrf.OpErrorf(nrf.CodeInvalidParameter, "image",
				"segment at %#08x overlaps existing segment at %#08x", addr, s.Address)
		}
	}
	im.segments = append(im.segments, Segment{Address: addr, Data: append([]byte(nil), data...)})
	sort.Slice(im.segments, func(i, j int) bool {
		return im.segments[i].Address < im.segments[j].Address
	})
	im.coalesce()
	return nil
}

// coalesce merges segments that touch.
func (im *Image) coalesce() {
	out := im.segments[:0]
	for _, s := range im.segments {
		if n := len(out); n > 0 && out[n-1].End() == s.Address {
			out[n-1].Data = append(out[n-1].Data, s.Data...)
			continue
		}
		out = append(out, s)
	}
	im.segments = out
}

// Segments returns the segments in address order. The slice is shared;
// callers must not mutate it.
func (im *Image) Segments() []Segment {
	return im.segments
}

// Empty reports whether the image holds no bytes.
func (im *Image) Empty() bool {
	return len(im.segments) == 0
}

// TotalBytes returns the byte count across all segments.
func (im *Image) TotalBytes() int {
	n := 0
	for _, s := range im.segments {
		n += len(s.Data)
	}
	return n
}

// Bounds returns the lowest and one-past-highest address covered. A second
// return of false means the image is empty.
func (im *Image) Bounds() (lo, hi uint32, ok bool) {
	if len(im.segments) == 0 {
		return 0, 0, false
	}
	return im.segments[0].Address, im.segments[len(im.segments)-1].End(), true
}

// Slice returns the segments clipped to [start, end), preserving order.
func (im *Image) Slice(start, end uint32) []Segment {
	var out []Segment
	for _, s := range im.segments {
		lo, hi := s.Address, s.End()
		if lo < start {
			lo = start
		}
		if hi > end {
			hi = end
		}
		if lo >= hi {
			continue
		}
		out = append(out, Segment{Address: lo, Data: s.Data[lo-s.Address : hi-s.Address]})
	}
	return out
}
