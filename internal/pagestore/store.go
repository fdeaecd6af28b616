package pagestore

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/dbzero-io/dbzero/internal/dberr"
	"github.com/dbzero-io/dbzero/internal/slab"
)

// compressionThreshold is the minimum base-page payload size, in bytes,
// below which zstd is skipped (the frame overhead would dominate).
const compressionThreshold = 256

// Store owns one prefix's on-disk file: header, base region, diff region,
// and metaio log. It never holds application-level locks; the prefix
// transaction manager in internal/txn serializes writers.
type Store struct {
	mu sync.Mutex

	path     string
	file     *os.File
	diffFile *os.File
	metaFile *os.File
	header   Header

	baseOff int64 // next append offset in the base region
	diffOff int64 // next append offset in the diff region
	metaOff int64 // next append offset in the metaio log

	stateNum uint64
	epoch    uint64

	index map[slab.DP]PagePointer // latest committed location of each DP

	enc *zstd.Encoder
	dec *zstd.Decoder

	log *zap.Logger
}

// Options configures a newly created prefix file.
type Options struct {
	DPSize         int
	MetaIOStepSize int
}

// DefaultOptions returns the default DP size and metaio step size.
func DefaultOptions() Options {
	return Options{DPSize: slab.DefaultDPSize, MetaIOStepSize: 4096}
}

// regionsOffset is where the base region begins: immediately after the
// header. The diff and metaio regions are tracked by their own append
// cursors rather than fixed offsets, since all three regions interleave
// appends to the same file in practice would complicate recovery; DBZero
// instead keeps three separate files next to one another on disk.
const regionsOffset = HeaderSize

// Open opens an existing prefix file, or creates one if it does not
// exist, at basePath (without extension — .base/.diff/.meta are appended).
func Open(basePath string, opts Options, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("pagestore")

	baseFile, created, err := openOrCreate(basePath + ".base")
	if err != nil {
		return nil, dberr.New("pagestore.Open", dberr.KindInvalidAddress, err)
	}

	s := &Store{path: basePath, file: baseFile, log: log}

	if created {
		s.header = Header{
			Magic:        Magic,
			Version:      FormatVersion,
			PrefixUUID:   uuidBytes(uuid.New()),
			DPSize:       uint32(opts.DPSize),
			MetaIOStep:   uint32(opts.MetaIOStepSize),
			CreatedAtUTC: time.Now().UTC().Unix(),
		}
		if _, err := s.file.WriteAt(s.header.Encode(), 0); err != nil {
			return nil, dberr.New("pagestore.Open", dberr.KindInvalidAddress, err)
		}
		s.baseOff = regionsOffset
	} else {
		buf := make([]byte, HeaderSize)
		if _, err := s.file.ReadAt(buf, 0); err != nil {
			return nil, dberr.New("pagestore.Open", dberr.KindSlabCorruption, err)
		}
		h, err := DecodeHeader(buf)
		if err != nil {
			return nil, err
		}
		s.header = h
		info, err := s.file.Stat()
		if err != nil {
			return nil, dberr.New("pagestore.Open", dberr.KindInvalidAddress, err)
		}
		s.baseOff = info.Size()
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, dberr.New("pagestore.Open", dberr.KindInvalidAddress, err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, dberr.New("pagestore.Open", dberr.KindInvalidAddress, err)
	}
	s.enc, s.dec = enc, dec

	if err := s.openDiffAndMeta(created); err != nil {
		return nil, err
	}
	if err := s.recover(); err != nil {
		return nil, err
	}
	return s, nil
}

func openOrCreate(path string) (*os.File, bool, error) {
	_, statErr := os.Stat(path)
	created := os.IsNotExist(statErr)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	return f, created, err
}

func uuidBytes(id uuid.UUID) [16]byte {
	var b [16]byte
	copy(b[:], id[:])
	return b
}

// Close releases the store's file handles.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.diffFile.Close(); err != nil {
		return err
	}
	if err := s.metaFile.Close(); err != nil {
		return err
	}
	return s.file.Close()
}

// StateNum returns the last finalized transaction number.
func (s *Store) StateNum() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateNum
}

// PrefixUUID returns the 128-bit identifier stamped into the file header.
func (s *Store) PrefixUUID() [16]byte { return s.header.PrefixUUID }

// DPSize returns the fixed data-page size recorded in the header.
func (s *Store) DPSize() int { return int(s.header.DPSize) }

// Committed reports whether dp has ever been durably written. The prefix
// transaction manager uses this to decide whether a first write to dp
// must establish a base image (fresh DP) or can read one back to seed a
// copy-on-write pre-image.
func (s *Store) Committed(dp slab.DP) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.index[dp]
	return ok
}

// ReadDP reads a DP's most recently committed image, following the
// metaio-derived pointer table. Returns a zero-filled page if the DP was
// never written (a fresh allocation).
func (s *Store) ReadDP(dp slab.DP) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ptr, ok := s.index[dp]
	if !ok {
		return make([]byte, s.header.DPSize), nil
	}
	return s.readAt(ptr)
}

func (s *Store) readAt(ptr PagePointer) ([]byte, error) {
	switch ptr.Region {
	case RegionBase:
		return s.readBaseRecord(ptr.Offset)
	case RegionDiff:
		base, diffs, err := s.readDiffChain(ptr.Offset)
		if err != nil {
			return nil, err
		}
		for _, d := range diffs {
			for _, r := range d.Ranges {
				if r.Offset+len(r.Data) > len(base) {
					grown := make([]byte, r.Offset+len(r.Data))
					copy(grown, base)
					base = grown
				}
				copy(base[r.Offset:], r.Data)
			}
		}
		return base, nil
	default:
		return nil, dberr.New("pagestore.readAt", dberr.KindSlabCorruption, fmt.Errorf("unknown region %d", ptr.Region))
	}
}

// CommitPlan is the set of dirty pages a commit will drain, computed by
// internal/txn and handed to Store.Commit.
type CommitPlan struct {
	Pages map[slab.DP][]byte // DP -> its fully-materialized current image
	Prior map[slab.DP][]byte // DP -> its prior image (for sparse-diff detection); may be absent
}

// Commit drains a set of dirty DPs: for each one, write a diff record if
// the update is sparse, otherwise rewrite the full (compressed) base
// page; fsync both regions; append a metaio record; advance the state
// number.
func (s *Store) Commit(plan CommitPlan) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(plan.Pages) == 0 {
		return s.stateNum, nil
	}

	dps := make([]slab.DP, 0, len(plan.Pages))
	for dp := range plan.Pages {
		dps = append(dps, dp)
	}
	sortDPs(dps)

	rec := MetaRecord{StateNum: s.stateNum + 1, Epoch: s.epoch}
	for _, dp := range dps {
		current := plan.Pages[dp]
		prior := plan.Prior[dp]

		var ptr PagePointer
		var err error
		if isSparseUpdate(prior, current, int(s.header.DPSize)) {
			ptr, err = s.appendDiff(dp, prior, current)
		} else {
			ptr, err = s.appendBase(current)
		}
		if err != nil {
			return 0, err
		}
		if s.index == nil {
			s.index = make(map[slab.DP]PagePointer)
		}
		s.index[dp] = ptr
		rec.Entries = append(rec.Entries, MetaEntry{DP: dp, Pointer: ptr})
	}

	if err := s.file.Sync(); err != nil {
		return 0, dberr.New("pagestore.Commit", dberr.KindInvalidAddress, err)
	}
	if err := s.diffFile.Sync(); err != nil {
		return 0, dberr.New("pagestore.Commit", dberr.KindInvalidAddress, err)
	}

	if err := s.appendMeta(rec); err != nil {
		return 0, err
	}

	s.stateNum = rec.StateNum
	s.log.Debug("commit", zap.Uint64("state", s.stateNum), zap.Int("dps", len(dps)))
	return s.stateNum, nil
}

// isSparseUpdate decides between a diff record and a full base-page
// rewrite: sparse iff the changed byte count is at most one DP worth of
// space and strictly smaller than the full page (otherwise a rewrite is
// no more expensive and avoids growing the diff chain indefinitely).
func isSparseUpdate(prior, current []byte, dpSize int) bool {
	if prior == nil {
		return false // first write: must establish a base image
	}
	changed := 0
	n := len(prior)
	if len(current) < n {
		n = len(current)
	}
	for i := 0; i < n; i++ {
		if prior[i] != current[i] {
			changed++
		}
	}
	changed += abs(len(current) - len(prior))
	return changed > 0 && changed <= dpSize && changed < len(current)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func (s *Store) appendBase(data []byte) (PagePointer, error) {
	payload := data
	compressed := false
	if len(data) >= compressionThreshold {
		payload = s.enc.EncodeAll(data, nil)
		compressed = true
	}
	header := make([]byte, 9)
	binary.LittleEndian.PutUint32(header[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(header[4:8], uint32(len(data)))
	if compressed {
		header[8] = 1
	}
	off := s.baseOff
	if _, err := s.file.WriteAt(append(header, payload...), off); err != nil {
		return PagePointer{}, dberr.New("pagestore.appendBase", dberr.KindInvalidAddress, err)
	}
	s.baseOff += int64(len(header) + len(payload))
	return PagePointer{Region: RegionBase, Offset: off}, nil
}

func (s *Store) readBaseRecord(off int64) ([]byte, error) {
	header := make([]byte, 9)
	if _, err := s.file.ReadAt(header, off); err != nil {
		return nil, dberr.New("pagestore.readBaseRecord", dberr.KindSlabCorruption, err)
	}
	storedLen := binary.LittleEndian.Uint32(header[0:4])
	origLen := binary.LittleEndian.Uint32(header[4:8])
	compressed := header[8] == 1
	payload := make([]byte, storedLen)
	if _, err := s.file.ReadAt(payload, off+9); err != nil {
		return nil, dberr.New("pagestore.readBaseRecord", dberr.KindSlabCorruption, err)
	}
	if !compressed {
		return payload, nil
	}
	out, err := s.dec.DecodeAll(payload, make([]byte, 0, origLen))
	if err != nil {
		return nil, dberr.New("pagestore.readBaseRecord", dberr.KindSlabCorruption, err)
	}
	return out, nil
}

// diffRecord is one append to the diff region: the target DP's ranges
// that changed, plus a back-pointer to the base/diff record it's layered
// on top of (so readDiffChain can walk back to a base image).
type diffRecord struct {
	Base   PagePointer
	Ranges []ByteRange
}

func (s *Store) appendDiff(dp slab.DP, prior, current []byte) (PagePointer, error) {
	ranges := computeByteRanges(prior, current)
	base, ok := s.index[dp]
	if !ok {
		return PagePointer{}, dberr.New("pagestore.appendDiff", dberr.KindSlabCorruption, fmt.Errorf("no base pointer for %v", dp))
	}

	buf := make([]byte, 0, 64)
	buf = appendU32(buf, uint32(base.Region))
	buf = appendU64(buf, uint64(base.Offset))
	buf = appendU32(buf, uint32(len(ranges)))
	for _, r := range ranges {
		buf = appendU32(buf, uint32(r.Offset))
		buf = appendU32(buf, uint32(len(r.Data)))
		buf = append(buf, r.Data...)
	}

	header := make([]byte, 4)
	binary.LittleEndian.PutUint32(header, uint32(len(buf)))
	off := s.diffOff
	if _, err := s.diffFile.WriteAt(append(header, buf...), off); err != nil {
		return PagePointer{}, dberr.New("pagestore.appendDiff", dberr.KindInvalidAddress, err)
	}
	s.diffOff += int64(len(header) + len(buf))
	return PagePointer{Region: RegionDiff, Offset: off}, nil
}

func (s *Store) readDiffChain(off int64) ([]byte, []diffRecord, error) {
	var chain []diffRecord
	for {
		header := make([]byte, 4)
		if _, err := s.diffFile.ReadAt(header, off); err != nil {
			return nil, nil, dberr.New("pagestore.readDiffChain", dberr.KindSlabCorruption, err)
		}
		length := binary.LittleEndian.Uint32(header)
		body := make([]byte, length)
		if _, err := s.diffFile.ReadAt(body, off+4); err != nil {
			return nil, nil, dberr.New("pagestore.readDiffChain", dberr.KindSlabCorruption, err)
		}

		p := 0
		var regionU32 uint32
		regionU32, p = readU32(body, p)
		var baseOffU64 uint64
		baseOffU64, p = readU64(body, p)
		base := PagePointer{Region: Region(regionU32), Offset: int64(baseOffU64)}

		var count uint32
		count, p = readU32(body, p)
		rec := diffRecord{Base: base}
		for i := uint32(0); i < count; i++ {
			var o, l uint32
			o, p = readU32(body, p)
			l, p = readU32(body, p)
			data := body[p : p+int(l)]
			p += int(l)
			rec.Ranges = append(rec.Ranges, ByteRange{Offset: int(o), Data: data})
		}
		chain = append([]diffRecord{rec}, chain...) // prepend: oldest first

		if base.Region == RegionBase {
			baseImg, err := s.readBaseRecord(base.Offset)
			if err != nil {
				return nil, nil, err
			}
			return baseImg, chain, nil
		}
		off = base.Offset
	}
}

// computeByteRanges diffs prior against current and returns the minimal
// set of changed byte spans (naive single-span coalescing; good enough
// for the sparse small-field updates pos_vt/index_vt objects produce).
func computeByteRanges(prior, current []byte) []ByteRange {
	n := len(prior)
	if len(current) < n {
		n = len(current)
	}
	start := -1
	var ranges []ByteRange
	flush := func(end int) {
		if start >= 0 {
			data := make([]byte, end-start)
			copy(data, current[start:end])
			ranges = append(ranges, ByteRange{Offset: start, Data: data})
			start = -1
		}
	}
	for i := 0; i < n; i++ {
		if prior[i] != current[i] {
			if start < 0 {
				start = i
			}
		} else {
			flush(i)
		}
	}
	flush(n)
	if len(current) > n {
		ranges = append(ranges, ByteRange{Offset: n, Data: append([]byte(nil), current[n:]...)})
	}
	return ranges
}
