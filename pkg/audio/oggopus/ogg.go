package oggopus

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Page header flags.
const (
	flagBOS byte = 0x02
	flagEOS byte = 0x04
)

const (
	pageHeaderLen  = 27
	maxSegments    = 255
	maxSegmentSize = 255
)

var crcTable = func() [256]uint32 {
	var t [256]uint32
	for i := range t {
		r := uint32(i) << 24
		for range 8 {
			if r&0x80000000 != 0 {
				r = r<<1 ^ 0x04c11db7
			} else {
				r <<= 1
			}
		}
		t[i] = r
	}
	return t
}()

// crc32 is the Ogg page checksum: polynomial 0x04c11db7, unreflected, zero
// initial value, no final xor.
func crc32(b []byte) uint32 {
	var crc uint32
	for _, v := range b {
		crc = crc<<8 ^ crcTable[byte(crc>>24)^v]
	}
	return crc
}

// segmentCount returns how many lacing values a packet of n bytes needs.
func segmentCount(n int) int {
	return n/maxSegmentSize + 1
}

// pageWriter frames packets into Ogg pages of a single logical stream. Every
// page is emitted with exactly one Write call.
type pageWriter struct {
	w      io.Writer
	serial uint32
	seq    uint32
}

func (p *pageWriter) writePage(flags byte, granule int64, packets [][]byte) error {
	var lacing []byte
	bodyLen := 0
	for _, pkt := range packets {
		for n := len(pkt); ; n -= maxSegmentSize {
			if n < maxSegmentSize {
				lacing = append(lacing, byte(n))
				break
			}
			lacing = append(lacing, maxSegmentSize)
		}
		bodyLen += len(pkt)
	}
	if len(lacing) > maxSegments {
		return fmt.Errorf("oggopus: page needs %d segments, max %d", len(lacing), maxSegments)
	}

	page := make([]byte, pageHeaderLen, pageHeaderLen+len(lacing)+bodyLen)
	copy(page, "OggS")
	page[4] = 0 // stream structure version
	page[5] = flags
	binary.LittleEndian.PutUint64(page[6:], uint64(granule))
	binary.LittleEndian.PutUint32(page[14:], p.serial)
	binary.LittleEndian.PutUint32(page[18:], p.seq)
	page[26] = byte(len(lacing))
	page = append(page, lacing...)
	for _, pkt := range packets {
		page = append(page, pkt...)
	}
	binary.LittleEndian.PutUint32(page[22:], crc32(page))

	if _, err := p.w.Write(page); err != nil {
		return fmt.Errorf("oggopus: write page %d: %w", p.seq, err)
	}
	p.seq++
	return nil
}
