package query

import (
	"encoding/binary"
	"math"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/cespare/xxhash/v2"

	"github.com/dbzero-io/dbzero/internal/tags"
)

// Signature is a content-addressable fingerprint of a query's
// canonicalized shape plus its leaf keys' identities. It is stable
// across transactions regardless of the underlying posting list
// contents: two queries with the same shape and the same tag/class/enum
// identities always produce the same signature.
type Signature uint64

// Sign computes n's signature by hashing its canonical byte encoding.
func Sign(n *Node) Signature {
	h := xxhash.New()
	h.Write(canonicalBytes(n))
	return Signature(h.Sum64())
}

// canonicalBytes serializes n deterministically: commutative nodes
// (And, Or) have their children's own canonical encodings sorted before
// being concatenated, so reordering And/Or operands never changes the
// signature.
func canonicalBytes(n *Node) []byte {
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
		parts := make([][]byte, len(n.Children))
		for i, c := range n.Children {
			parts[i] = canonicalBytes(c)
		}
		sortByteSlices(parts)
		for _, p := range parts {
			buf = appendLenPrefixed(buf, p)
		}
	case KindNotQuery:
		buf = appendLenPrefixed(buf, canonicalBytes(n.Children[0]))
	case KindRangeFilter:
		buf = appendLenPrefixed(buf, []byte(n.RangeIdx))
		if n.NullFirst {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
		buf = appendScalarBound(buf, n.Lo)
		buf = appendScalarBound(buf, n.Hi)
		buf = appendLenPrefixed(buf, canonicalBytes(n.Children[0]))
	}
	return buf
}

func appendKey(buf []byte, k tags.Key) []byte {
	buf = append(buf, byte(k.Kind))
	var tmp4, tmp4b [4]byte
	binary.LittleEndian.PutUint32(tmp4[:], k.StringID)
	buf = append(buf, tmp4[:]...)
	binary.LittleEndian.PutUint32(tmp4b[:], uint32(k.Ordinal))
	buf = append(buf, tmp4b[:]...)
	cu, _ := k.ClassUUID.MarshalBinary()
	buf = append(buf, cu...)
	ou, _ := k.ObjectID.MarshalBinary()
	buf = append(buf, ou...)
	return buf
}

func appendScalarBound(buf []byte, s *tags.Scalar) []byte {
	if s == nil {
		return append(buf, 0)
	}
	buf = append(buf, 1)
	return append(buf, scalarBytes(*s)...)
}

func scalarBytes(s tags.Scalar) []byte {
	buf := []byte{byte(s.Kind)}
	var tmp8 [8]byte
	switch s.Kind {
	case tags.KindBool:
		b := byte(0)
		if s.B {
			b = 1
		}
		buf = append(buf, b)
	case tags.KindInt:
		binary.LittleEndian.PutUint64(tmp8[:], uint64(s.I))
		buf = append(buf, tmp8[:]...)
	case tags.KindFloat:
		binary.LittleEndian.PutUint64(tmp8[:], math.Float64bits(s.F))
		buf = append(buf, tmp8[:]...)
	case tags.KindString:
		buf = appendLenPrefixed(buf, []byte(s.S))
	}
	return buf
}

func appendLenPrefixed(buf, part []byte) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], uint32(len(part)))
	buf = append(buf, tmp[:]...)
	return append(buf, part...)
}

func sortByteSlices(parts [][]byte) {
	for i := 1; i < len(parts); i++ {
		for j := i; j > 0 && string(parts[j-1]) > string(parts[j]); j-- {
			parts[j-1], parts[j] = parts[j], parts[j-1]
		}
	}
}

// ContentUUID is a query's content hash: the signature plus a summary of
// the current posting-list contents, so equal result sets across
// different states still hash identically.
type ContentUUID [16]byte

// ComputeContentUUID hashes n's canonical shape together with ev's
// currently evaluated result set (cardinality and an order-independent
// checksum over its members), so the same query evaluated at two states
// with equal result sets gets the same content uuid. Structurally
// different queries never share one, since the first half is the shape
// hash.
func ComputeContentUUID(n *Node, ev *Evaluator) (ContentUUID, error) {
	bm, err := ev.Eval(n)
	if err != nil {
		return ContentUUID{}, err
	}

	shapeSum := xxhash.Sum64(canonicalBytes(n))
	contentSum := checksum64(bm)

	var out ContentUUID
	binary.LittleEndian.PutUint64(out[:8], shapeSum)
	binary.LittleEndian.PutUint64(out[8:], contentSum^bm.GetCardinality())
	return out, nil
}

// checksum64 folds every alias in bm into a single order-independent
// hash, so two equal-content bitmaps always checksum identically
// regardless of insertion history.
func checksum64(bm *roaring.Bitmap) uint64 {
	var acc uint64
	it := bm.Iterator()
	for it.HasNext() {
		v := it.Next()
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], v)
		acc += xxhash.Sum64(b[:])
	}
	return acc
}

// Compare estimates set-symmetric-difference divided by union between
// two evaluated bitmaps (Jaccard distance): 0 means identical sets, 1
// means disjoint.
func Compare(a, b *roaring.Bitmap) float64 {
	union := a.Clone()
	union.Or(b)
	if union.IsEmpty() {
		return 0
	}
	diff := a.Clone()
	diff.Xor(b)
	return float64(diff.GetCardinality()) / float64(union.GetCardinality())
}
