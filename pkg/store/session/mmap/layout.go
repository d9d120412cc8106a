package mmap

import (
	"encoding/binary"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/marmos91/gopherd/internal/protocol/gopher/types"
	"github.com/marmos91/gopherd/pkg/store/session"
)

// Shared Segment Layout
// =====================
//
// The segment is a regular file mapped MAP_SHARED by every attached process.
// All integers are little endian. Every 8-byte counter sits on an 8-byte
// boundary so it can be updated with sync/atomic directly in the mapping.
//
// Header (64 bytes):
//
//	Offset  Size  Field
//	0       8     magic "GOPHERD\x01"
//	8       4     slot count
//	12      4     slot size
//	16      8     start time (unix seconds)
//	24      8     global hits      (atomic)
//	32      8     global kbytes    (atomic)
//	40      8     attached count   (atomic)
//	48      16    reserved
//
// Slot (slotSize bytes, slot i at headerSize + i*slotSize):
//
//	Offset  Size  Field
//	0       8     access time (unix nanoseconds, 0 = empty)
//	8       8     hits
//	16      8     kbytes
//	24      4     server port
//	28      4     width
//	32      1     item type
//	33      1     date flag
//	34      1     remote address length
//	35      1     server host length
//	36      1     selector length
//	37      1     charset length
//	38      2     reserved
//	40      64    remote address
//	104     64    server host
//	168     128   selector
//	296     16    charset
//
// Slot fields are plain loads and stores. A process reading a slot while
// another rewrites it may see a torn slot; lengths are clamped to their
// field so a torn slot decodes to a wrong but bounded value.

const (
	headerSize = 64
	slotSize   = 312

	offMagic     = 0
	offSlots     = 8
	offSlotSize  = 12
	offStart     = 16
	offHits      = 24
	offKBytes    = 32
	offAttached  = 40
	slotATime    = 0
	slotHits     = 8
	slotKBytes   = 16
	slotPort     = 24
	slotWidth    = 28
	slotType     = 32
	slotDate     = 33
	slotAddrLen  = 34
	slotHostLen  = 35
	slotSelLen   = 36
	slotCSLen    = 37
	slotAddr     = 40
	slotHost     = slotAddr + session.MaxAddrLen
	slotSelector = slotHost + session.MaxHostLen
	slotCharset  = slotSelector + session.MaxSelectorLen
)

var magic = [8]byte{'G', 'O', 'P', 'H', 'E', 'R', 'D', 1}

// segmentSize returns the file size for n slots.
func segmentSize(n int) int {
	return headerSize + n*slotSize
}

// segment is a view over the mapped bytes.
type segment []byte

func (s segment) valid(slots int) bool {
	if len(s) < headerSize || [8]byte(s[offMagic:offMagic+8]) != magic {
		return false
	}
	le := binary.LittleEndian
	return int(le.Uint32(s[offSlots:])) == slots && int(le.Uint32(s[offSlotSize:])) == slotSize &&
		len(s) >= segmentSize(slots)
}

func (s segment) format(slots int, start time.Time) {
	clear(s)
	copy(s[offMagic:], magic[:])
	le := binary.LittleEndian
	le.PutUint32(s[offSlots:], uint32(slots))
	le.PutUint32(s[offSlotSize:], slotSize)
	le.PutUint64(s[offStart:], uint64(start.Unix()))
}

func (s segment) counter(off int) *int64 {
	return (*int64)(unsafe.Pointer(&s[off]))
}

func (s segment) start() time.Time {
	return time.Unix(int64(binary.LittleEndian.Uint64(s[offStart:])), 0)
}

func (s segment) slot(i int) []byte {
	off := headerSize + i*slotSize
	return s[off : off+slotSize]
}

// read decodes slot i.
func (s segment) read(i int) session.Slot {
	b := s.slot(i)
	le := binary.LittleEndian

	var slot session.Slot
	if ns := int64(le.Uint64(b[slotATime:])); ns != 0 {
		slot.ATime = time.Unix(0, ns)
	}
	slot.Hits = int64(le.Uint64(b[slotHits:]))
	slot.KBytes = int64(le.Uint64(b[slotKBytes:]))
	slot.ServerPort = int(int32(le.Uint32(b[slotPort:])))
	slot.Width = int(int32(le.Uint32(b[slotWidth:])))
	slot.Type = types.ItemType(b[slotType])
	slot.Date = b[slotDate] != 0
	slot.RemoteAddr = field(b, slotAddr, b[slotAddrLen], session.MaxAddrLen)
	slot.ServerHost = field(b, slotHost, b[slotHostLen], session.MaxHostLen)
	slot.Selector = field(b, slotSelector, b[slotSelLen], session.MaxSelectorLen)
	slot.Charset = field(b, slotCharset, b[slotCSLen], session.MaxCharsetLen)
	return slot
}

// write encodes slot into slot i.
func (s segment) write(i int, slot *session.Slot) {
	b := s.slot(i)
	le := binary.LittleEndian

	var ns int64
	if !slot.ATime.IsZero() {
		ns = slot.ATime.UnixNano()
	}
	le.PutUint64(b[slotATime:], uint64(ns))
	le.PutUint64(b[slotHits:], uint64(slot.Hits))
	le.PutUint64(b[slotKBytes:], uint64(slot.KBytes))
	le.PutUint32(b[slotPort:], uint32(int32(slot.ServerPort)))
	le.PutUint32(b[slotWidth:], uint32(int32(slot.Width)))
	b[slotType] = byte(slot.Type)
	b[slotDate] = 0
	if slot.Date {
		b[slotDate] = 1
	}
	b[slotAddrLen] = putField(b, slotAddr, slot.RemoteAddr, session.MaxAddrLen)
	b[slotHostLen] = putField(b, slotHost, slot.ServerHost, session.MaxHostLen)
	b[slotSelLen] = putField(b, slotSelector, slot.Selector, session.MaxSelectorLen)
	b[slotCSLen] = putField(b, slotCharset, slot.Charset, session.MaxCharsetLen)
}

// snapshot decodes every slot.
func (s segment) snapshot(n int) []session.Slot {
	slots := make([]session.Slot, n)
	for i := range slots {
		slots[i] = s.read(i)
	}
	return slots
}

func (s segment) add(off int, delta int64) int64 {
	return atomic.AddInt64(s.counter(off), delta)
}

func (s segment) load(off int) int64 {
	return atomic.LoadInt64(s.counter(off))
}

func field(b []byte, off int, n byte, size int) string {
	l := int(n)
	if l > size {
		l = size
	}
	return string(b[off : off+l])
}

func putField(b []byte, off int, v string, size int) byte {
	n := copy(b[off:off+size], v)
	clear(b[off+n : off+size])
	return byte(n)
}
