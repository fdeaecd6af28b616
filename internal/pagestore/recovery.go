package pagestore

import (
	"go.uber.org/zap"

	"github.com/dbzero-io/dbzero/internal/dberr"
	"github.com/dbzero-io/dbzero/internal/slab"
)

// openDiffAndMeta opens (or creates) the diff and metaio side files and
// positions their append cursors at end-of-file.
func (s *Store) openDiffAndMeta(created bool) error {
	diffFile, _, err := openOrCreate(s.path + ".diff")
	if err != nil {
		return dberr.New("pagestore.openDiffAndMeta", dberr.KindInvalidAddress, err)
	}
	metaFile, _, err := openOrCreate(s.path + ".meta")
	if err != nil {
		return dberr.New("pagestore.openDiffAndMeta", dberr.KindInvalidAddress, err)
	}
	s.diffFile, s.metaFile = diffFile, metaFile

	if !created {
		if info, err := s.diffFile.Stat(); err == nil {
			s.diffOff = info.Size()
		}
	}
	return nil
}

// recover replays the metaio log to rebuild the DP pointer index and
// advance the state number, then truncates any trailing partial record
// left by a crashed writer.
func (s *Store) recover() error {
	info, err := s.metaFile.Stat()
	if err != nil {
		return dberr.New("pagestore.recover", dberr.KindInvalidAddress, err)
	}
	data := make([]byte, info.Size())
	if info.Size() > 0 {
		if _, err := s.metaFile.ReadAt(data, 0); err != nil {
			return dberr.New("pagestore.recover", dberr.KindSlabCorruption, err)
		}
	}

	stepSize := int(s.header.MetaIOStep)
	if stepSize <= 0 {
		stepSize = 4096
	}
	records, validLen := decodeMetaStream(data, stepSize)

	s.index = make(map[slab.DP]PagePointer)
	for _, rec := range records {
		for _, e := range rec.Entries {
			s.index[e.DP] = e.Pointer
		}
		s.stateNum = rec.StateNum
		s.epoch = rec.Epoch
	}
	s.metaOff = validLen

	if validLen < info.Size() {
		s.log.Warn("truncating incomplete metaio tail",
			zap.Int64("valid", validLen), zap.Int64("size", info.Size()))
		if err := s.metaFile.Truncate(validLen); err != nil {
			return dberr.New("pagestore.recover", dberr.KindInvalidAddress, err)
		}
	}
	return nil
}

func (s *Store) appendMeta(rec MetaRecord) error {
	stepSize := int(s.header.MetaIOStep)
	frames := encodeMetaFrames(rec, stepSize)
	off := s.metaOff
	for _, frame := range frames {
		if _, err := s.metaFile.WriteAt(frame, off); err != nil {
			return dberr.New("pagestore.appendMeta", dberr.KindInvalidAddress, err)
		}
		off += int64(len(frame))
	}
	if err := s.metaFile.Sync(); err != nil {
		return dberr.New("pagestore.appendMeta", dberr.KindInvalidAddress, err)
	}
	s.metaOff = off
	return nil
}
