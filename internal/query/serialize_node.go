package query

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/dbzero-io/dbzero/internal/tags"
)

// encodeNode serializes n in a form decodeNode can reconstruct exactly,
// preserving child order (unlike canonicalBytes, which sorts commutative
// children purely for signature stability).
func encodeNode(n *Node) []byte {
	if n == nil {
		return []byte{0xff}
	}
	var buf []byte
	buf = append(buf, byte(n.Kind))

	switch n.Kind {
	case KindTypeFilter:
		b, _ := n.Class.MarshalBinary()
		buf = append(buf, b...)
	case KindTag, KindNotTag:
		buf = appendKey(buf, n.TagKey)
	case KindAnd, KindOr:
		var n4 [4]byte
		binary.LittleEndian.PutUint32(n4[:], uint32(len(n.Children)))
		buf = append(buf, n4[:]...)
		for _, c := range n.Children {
			buf = appendLenPrefixed(buf, encodeNode(c))
		}
	case KindNotQuery:
		buf = appendLenPrefixed(buf, encodeNode(n.Children[0]))
	case KindRangeFilter:
		buf = appendLenPrefixed(buf, []byte(n.RangeIdx))
		if n.NullFirst {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
		buf = appendScalarBound(buf, n.Lo)
		buf = appendScalarBound(buf, n.Hi)
		buf = appendLenPrefixed(buf, encodeNode(n.Children[0]))
	}
	return buf
}

// decodeNode parses a node encoded by encodeNode, returning it along
// with the number of bytes consumed.
func decodeNode(buf []byte) (*Node, int, error) {
	if len(buf) < 1 {
		return nil, 0, fmt.Errorf("query: truncated node")
	}
	if buf[0] == 0xff {
		return nil, 1, nil
	}
	kind := Kind(buf[0])
	rest := buf[1:]
	consumed := 1

	switch kind {
	case KindTypeFilter:
		if len(rest) < 16 {
			return nil, 0, fmt.Errorf("query: truncated class uuid")
		}
		var class uuid.UUID
		if err := class.UnmarshalBinary(rest[:16]); err != nil {
			return nil, 0, err
		}
		return &Node{Kind: kind, Class: class}, consumed + 16, nil

	case KindTag, KindNotTag:
		k, used, err := decodeKeyN(rest)
		if err != nil {
			return nil, 0, err
		}
		return &Node{Kind: kind, TagKey: k}, consumed + used, nil

	case KindAnd, KindOr:
		if len(rest) < 4 {
			return nil, 0, fmt.Errorf("query: truncated child count")
		}
		count := binary.LittleEndian.Uint32(rest[:4])
		rest = rest[4:]
		consumed += 4
		children := make([]*Node, 0, count)
		for i := uint32(0); i < count; i++ {
			part, r2, err := readLenPrefixed(rest)
			if err != nil {
				return nil, 0, err
			}
			used := 4 + len(part)
			child, _, err := decodeNode(part)
			if err != nil {
				return nil, 0, err
			}
			children = append(children, child)
			rest = r2
			consumed += used
		}
		return &Node{Kind: kind, Children: children}, consumed, nil

	case KindNotQuery:
		part, _, err := readLenPrefixed(rest)
		if err != nil {
			return nil, 0, err
		}
		child, _, err := decodeNode(part)
		if err != nil {
			return nil, 0, err
		}
		return &Node{Kind: kind, Children: []*Node{child}}, len(buf), nil

	case KindRangeFilter:
		idxBytes, rest2, err := readLenPrefixed(rest)
		if err != nil {
			return nil, 0, err
		}
		rest = rest2
		if len(rest) < 1 {
			return nil, 0, fmt.Errorf("query: truncated null-first flag")
		}
		nullFirst := rest[0] != 0
		rest = rest[1:]

		lo, rest3, err := decodeScalarBound(rest)
		if err != nil {
			return nil, 0, err
		}
		rest = rest3
		hi, rest4, err := decodeScalarBound(rest)
		if err != nil {
			return nil, 0, err
		}
		rest = rest4

		childBytes, _, err := readLenPrefixed(rest)
		if err != nil {
			return nil, 0, err
		}
		child, _, err := decodeNode(childBytes)
		if err != nil {
			return nil, 0, err
		}
		return &Node{
			Kind: kind, RangeIdx: string(idxBytes), NullFirst: nullFirst,
			Lo: lo, Hi: hi, Children: []*Node{child},
		}, len(buf), nil

	default:
		return nil, 0, fmt.Errorf("query: unknown node kind %d", kind)
	}
}

func decodeKey(buf []byte) (tags.Key, []byte, error) {
	k, used, err := decodeKeyN(buf)
	if err != nil {
		return tags.Key{}, nil, err
	}
	return k, buf[used:], nil
}

func decodeKeyN(buf []byte) (tags.Key, int, error) {
	if len(buf) < 1+4+4+16+16 {
		return tags.Key{}, 0, fmt.Errorf("query: truncated tag key")
	}
	k := tags.Key{Kind: tags.KeyKind(buf[0])}
	off := 1
	k.StringID = binary.LittleEndian.Uint32(buf[off : off+4])
	off += 4
	k.Ordinal = int32(binary.LittleEndian.Uint32(buf[off : off+4]))
	off += 4
	if err := k.ClassUUID.UnmarshalBinary(buf[off : off+16]); err != nil {
		return tags.Key{}, 0, err
	}
	off += 16
	if err := k.ObjectID.UnmarshalBinary(buf[off : off+16]); err != nil {
		return tags.Key{}, 0, err
	}
	off += 16
	return k, off, nil
}

func decodeScalarBound(buf []byte) (*tags.Scalar, []byte, error) {
	if len(buf) < 1 {
		return nil, nil, fmt.Errorf("query: truncated scalar-bound flag")
	}
	if buf[0] == 0 {
		return nil, buf[1:], nil
	}
	s, used, err := decodeScalar(buf[1:])
	if err != nil {
		return nil, nil, err
	}
	return &s, buf[1+used:], nil
}

func decodeScalar(buf []byte) (tags.Scalar, int, error) {
	if len(buf) < 1 {
		return tags.Scalar{}, 0, fmt.Errorf("query: truncated scalar")
	}
	kind := tags.ScalarKind(buf[0])
	switch kind {
	case tags.KindBool:
		if len(buf) < 2 {
			return tags.Scalar{}, 0, fmt.Errorf("query: truncated bool scalar")
		}
		return tags.NewBoolScalar(buf[1] != 0), 2, nil
	case tags.KindInt:
		if len(buf) < 9 {
			return tags.Scalar{}, 0, fmt.Errorf("query: truncated int scalar")
		}
		return tags.NewIntScalar(int64(binary.LittleEndian.Uint64(buf[1:9]))), 9, nil
	case tags.KindFloat:
		if len(buf) < 9 {
			return tags.Scalar{}, 0, fmt.Errorf("query: truncated float scalar")
		}
		bits := binary.LittleEndian.Uint64(buf[1:9])
		return tags.NewFloatScalar(math.Float64frombits(bits)), 9, nil
	case tags.KindString:
		s, rest, err := readLenPrefixed(buf[1:])
		if err != nil {
			return tags.Scalar{}, 0, err
		}
		return tags.NewStringScalar(string(s)), 1 + (len(buf[1:]) - len(rest)), nil
	default:
		return tags.Scalar{}, 0, fmt.Errorf("query: unknown scalar kind %d", kind)
	}
}
