// Package pagestore implements the durable, append-structured page store
// backing one prefix: a base-page region, a diff side channel for sparse
// updates, and a metaio log readers tail for cross-process refresh.
package pagestore

import (
	"encoding/binary"
	"fmt"

	"github.com/dbzero-io/dbzero/internal/dberr"
)

// Magic identifies a DBZero prefix file.
const Magic uint32 = 0x305A4244 // "DBZ0" little-endian

// FormatVersion is the on-disk format version written by this package.
const FormatVersion uint32 = 1

// HeaderSize is the fixed, padded size of the file header.
const HeaderSize = 64

// Header is the first HeaderSize bytes of every prefix file.
type Header struct {
	Magic        uint32
	Version      uint32
	PrefixUUID   [16]byte
	DPSize       uint32
	MetaIOStep   uint32
	CreatedAtUTC int64
}

func init() {
	if !hostIsLittleEndian() {
		panic("dbzero: pagestore requires a little-endian host")
	}
}

// hostIsLittleEndian detects the platform byte order without unsafe,
// using encoding/binary.NativeEndian (Go 1.21+). DBZero's file format is
// always little-endian on disk; a big-endian host is an explicit
// unsupported target and is rejected at startup.
func hostIsLittleEndian() bool {
	b := [2]byte{0x01, 0x00}
	return binary.NativeEndian.Uint16(b[:]) == 0x0001
}

// Encode writes the header in little-endian form.
func (h Header) Encode() []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	binary.LittleEndian.PutUint32(buf[4:8], h.Version)
	copy(buf[8:24], h.PrefixUUID[:])
	binary.LittleEndian.PutUint32(buf[24:28], h.DPSize)
	binary.LittleEndian.PutUint32(buf[28:32], h.MetaIOStep)
	binary.LittleEndian.PutUint64(buf[32:40], uint64(h.CreatedAtUTC))
	return buf
}

// DecodeHeader parses and validates a header read from disk.
func DecodeHeader(buf []byte) (Header, error) {
	var h Header
	if len(buf) < HeaderSize {
		return h, dberr.New("pagestore.DecodeHeader", dberr.KindSlabCorruption, fmt.Errorf("short header: %d bytes", len(buf)))
	}
	h.Magic = binary.LittleEndian.Uint32(buf[0:4])
	if h.Magic != Magic {
		return h, dberr.New("pagestore.DecodeHeader", dberr.KindSlabCorruption, fmt.Errorf("bad magic %#x", h.Magic))
	}
	h.Version = binary.LittleEndian.Uint32(buf[4:8])
	copy(h.PrefixUUID[:], buf[8:24])
	h.DPSize = binary.LittleEndian.Uint32(buf[24:28])
	h.MetaIOStep = binary.LittleEndian.Uint32(buf[28:32])
	h.CreatedAtUTC = int64(binary.LittleEndian.Uint64(buf[32:40]))
	return h, nil
}

// Region distinguishes where a page-store pointer lives.
type Region uint8

const (
	RegionBase Region = iota
	RegionDiff
)

// PagePointer locates one committed record within a region.
type PagePointer struct {
	Region Region
	Offset int64
}
