package layout

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/google/uuid"
)

// ValueKind tags the dynamic type carried by a Value.
type ValueKind uint8

const (
	VNull ValueKind = iota
	VBool
	VInt
	VFloat
	VString
	VRef     // strong reference to a memo object
	VWeakRef // weak proxy to a memo object
)

// Value is a tagged union covering every scalar and reference type a
// field can hold. String values carry a string-pool id rather than raw
// bytes: field values share the same interning pool as tag keys, so a
// string is retained exactly as long as some tag or attribute still
// points at its pool slot.
type Value struct {
	Kind  ValueKind
	B     bool
	I     int64
	F     float64
	StrID uint32
	Ref   uuid.UUID
}

func Null() Value                  { return Value{Kind: VNull} }
func Bool(v bool) Value            { return Value{Kind: VBool, B: v} }
func Int(v int64) Value            { return Value{Kind: VInt, I: v} }
func Float(v float64) Value        { return Value{Kind: VFloat, F: v} }
func StringValue(id uint32) Value  { return Value{Kind: VString, StrID: id} }
func RefValue(id uuid.UUID) Value  { return Value{Kind: VRef, Ref: id} }
func WeakValue(id uuid.UUID) Value { return Value{Kind: VWeakRef, Ref: id} }

func (v Value) IsNull() bool { return v.Kind == VNull }
func (v Value) IsRef() bool  { return v.Kind == VRef || v.Kind == VWeakRef }

// encodedLen returns the on-disk byte length of v's tag+payload encoding.
func encodedLen(v Value) int {
	switch v.Kind {
	case VNull:
		return 1
	case VBool:
		return 2
	case VInt, VFloat:
		return 1 + 8
	case VString:
		return 1 + 4
	case VRef, VWeakRef:
		return 1 + 16
	default:
		return 1
	}
}

// appendValue appends v's tag+payload encoding to buf.
func appendValue(buf []byte, v Value) []byte {
	buf = append(buf, byte(v.Kind))
	switch v.Kind {
	case VNull:
	case VBool:
		b := byte(0)
		if v.B {
			b = 1
		}
		buf = append(buf, b)
	case VInt:
		var tmp [8]byte
		binary.LittleEndian.PutUint64(tmp[:], uint64(v.I))
		buf = append(buf, tmp[:]...)
	case VFloat:
		var tmp [8]byte
		binary.LittleEndian.PutUint64(tmp[:], math.Float64bits(v.F))
		buf = append(buf, tmp[:]...)
	case VString:
		var tmp [8]byte
		binary.LittleEndian.PutUint32(tmp[:4], v.StrID)
		buf = append(buf, tmp[:4]...)
	case VRef, VWeakRef:
		b, _ := v.Ref.MarshalBinary()
		buf = append(buf, b...)
	}
	return buf
}

// readValue decodes one Value starting at buf[0], returning it along
// with the number of bytes consumed.
func readValue(buf []byte) (Value, int, error) {
	if len(buf) < 1 {
		return Value{}, 0, fmt.Errorf("layout: truncated value")
	}
	kind := ValueKind(buf[0])
	switch kind {
	case VNull:
		return Value{Kind: VNull}, 1, nil
	case VBool:
		if len(buf) < 2 {
			return Value{}, 0, fmt.Errorf("layout: truncated bool value")
		}
		return Value{Kind: VBool, B: buf[1] != 0}, 2, nil
	case VInt:
		if len(buf) < 9 {
			return Value{}, 0, fmt.Errorf("layout: truncated int value")
		}
		return Value{Kind: VInt, I: int64(binary.LittleEndian.Uint64(buf[1:9]))}, 9, nil
	case VFloat:
		if len(buf) < 9 {
			return Value{}, 0, fmt.Errorf("layout: truncated float value")
		}
		return Value{Kind: VFloat, F: math.Float64frombits(binary.LittleEndian.Uint64(buf[1:9]))}, 9, nil
	case VString:
		if len(buf) < 5 {
			return Value{}, 0, fmt.Errorf("layout: truncated string value")
		}
		return Value{Kind: VString, StrID: binary.LittleEndian.Uint32(buf[1:5])}, 5, nil
	case VRef, VWeakRef:
		if len(buf) < 17 {
			return Value{}, 0, fmt.Errorf("layout: truncated reference value")
		}
		var id uuid.UUID
		if err := id.UnmarshalBinary(buf[1:17]); err != nil {
			return Value{}, 0, fmt.Errorf("layout: decode reference: %w", err)
		}
		return Value{Kind: kind, Ref: id}, 17, nil
	default:
		return Value{}, 0, fmt.Errorf("layout: unknown value kind %d", kind)
	}
}
