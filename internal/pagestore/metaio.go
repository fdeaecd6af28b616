package pagestore

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/dbzero-io/dbzero/internal/slab"
)

// MetaEntry is one (DP, record-location) pointer recorded by a commit.
type MetaEntry struct {
	DP      slab.DP
	Pointer PagePointer
}

// MetaRecord summarizes one finalized transaction: its new state number
// and the list of DPs it touched, each with where the record landed.
type MetaRecord struct {
	StateNum uint64
	Epoch    uint64
	Entries  []MetaEntry
}

// encode serializes a MetaRecord's payload (everything the CRC covers),
// without the fixed-step padding.
func (r MetaRecord) encode() []byte {
	buf := make([]byte, 0, 20+len(r.Entries)*17)
	buf = appendU64(buf, r.StateNum)
	buf = appendU64(buf, r.Epoch)
	buf = appendU32(buf, uint32(len(r.Entries)))
	for _, e := range r.Entries {
		buf = appendU32(buf, e.DP.Slab)
		buf = appendU32(buf, e.DP.Index)
		buf = append(buf, byte(e.Pointer.Region))
		buf = appendU64(buf, uint64(e.Pointer.Offset))
	}
	return buf
}

func decodeMetaRecord(payload []byte) (MetaRecord, error) {
	var r MetaRecord
	if len(payload) < 20 {
		return r, fmt.Errorf("metaio: short payload %d bytes", len(payload))
	}
	off := 0
	r.StateNum, off = readU64(payload, off)
	r.Epoch, off = readU64(payload, off)
	var count uint32
	count, off = readU32(payload, off)
	for i := uint32(0); i < count; i++ {
		if off+17 > len(payload) {
			return r, fmt.Errorf("metaio: truncated entry list")
		}
		var e MetaEntry
		e.DP.Slab, off = readU32(payload, off)
		e.DP.Index, off = readU32(payload, off)
		e.Pointer.Region = Region(payload[off])
		off++
		var voff uint64
		voff, off = readU64(payload, off)
		e.Pointer.Offset = int64(voff)
		r.Entries = append(r.Entries, e)
	}
	return r, nil
}

// metaFrame is the on-disk, fixed-step-padded form of a MetaRecord:
// length-prefixed payload + crc32 + zero padding to MetaIOStep bytes.
// Writes smaller than one step are padded; a record that doesn't fit in
// one step spills into consecutive steps (length-prefixed, so the reader
// just keeps reading steps until it has `length` payload bytes).
type metaFrame struct {
	step []byte
}

const metaFrameHeaderSize = 4 + 4 // length + crc

func encodeMetaFrames(rec MetaRecord, stepSize int) [][]byte {
	payload := rec.encode()
	header := make([]byte, metaFrameHeaderSize)
	binary.LittleEndian.PutUint32(header[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(header[4:8], crc32.ChecksumIEEE(payload))
	full := append(header, payload...)

	var frames [][]byte
	for len(full) > 0 {
		n := stepSize
		if n > len(full) {
			n = len(full)
		}
		chunk := make([]byte, stepSize)
		copy(chunk, full[:n])
		frames = append(frames, chunk)
		full = full[n:]
	}
	return frames
}

// decodeMetaStream parses a concatenation of fixed-size steps into as many
// complete MetaRecords as possible, returning the byte offset of the last
// complete record's end. Any trailing partial step (a crashed writer's
// unfinished append) is reported via the returned offset so the caller can
// truncate it.
func decodeMetaStream(data []byte, stepSize int) (records []MetaRecord, validLen int64) {
	pos := 0
	for pos+metaFrameHeaderSize <= len(data) {
		length := binary.LittleEndian.Uint32(data[pos : pos+4])
		wantCRC := binary.LittleEndian.Uint32(data[pos+4 : pos+8])
		totalSteps := (metaFrameHeaderSize + int(length) + stepSize - 1) / stepSize
		end := pos + totalSteps*stepSize
		if end > len(data) {
			break // partial tail
		}
		payload := data[pos+metaFrameHeaderSize : pos+metaFrameHeaderSize+int(length)]
		if crc32.ChecksumIEEE(payload) != wantCRC {
			break // corrupt tail record, stop here
		}
		rec, err := decodeMetaRecord(payload)
		if err != nil {
			break
		}
		records = append(records, rec)
		pos = end
		validLen = int64(pos)
	}
	return records, validLen
}

func appendU32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendU64(b []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(b, tmp[:]...)
}

func readU32(b []byte, off int) (uint32, int) {
	return binary.LittleEndian.Uint32(b[off : off+4]), off + 4
}

func readU64(b []byte, off int) (uint64, int) {
	return binary.LittleEndian.Uint64(b[off : off+8]), off + 8
}
