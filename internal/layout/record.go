package layout

import (
	"encoding/binary"
	"fmt"
)

// Record is one object's fully decoded field storage: the positional
// slots laid out in declaration order, the indexed side table keyed by
// slot number, and the dynamic bag keyed by field name.
type Record struct {
	Pos     []Value
	Indexed map[int]Value
	Dynamic map[string]Value
}

// NewRecord returns an empty record sized for a class with nPos
// positional slots.
func NewRecord(nPos int) *Record {
	return &Record{
		Pos:     make([]Value, nPos),
		Indexed: make(map[int]Value),
		Dynamic: make(map[string]Value),
	}
}

// Get reads f's current value, defaulting to Null for an indexed or
// dynamic field never written.
func (r *Record) Get(f FieldDescriptor) Value {
	switch f.Shape {
	case ShapePos:
		if f.Slot < len(r.Pos) {
			return r.Pos[f.Slot]
		}
		return Null()
	case ShapeIndexed:
		if v, ok := r.Indexed[f.Slot]; ok {
			return v
		}
		return Null()
	default: // ShapeDynamic
		if v, ok := r.Dynamic[f.Name]; ok {
			return v
		}
		return Null()
	}
}

// Set writes v into f's slot, returning the value it replaced (Null if
// the slot was empty), so callers can release the prior value's
// reference/string retention.
func (r *Record) Set(f FieldDescriptor, v Value) Value {
	switch f.Shape {
	case ShapePos:
		for len(r.Pos) <= f.Slot {
			r.Pos = append(r.Pos, Null())
		}
		prior := r.Pos[f.Slot]
		r.Pos[f.Slot] = v
		return prior
	case ShapeIndexed:
		prior, ok := r.Indexed[f.Slot]
		if !ok {
			prior = Null()
		}
		if v.IsNull() {
			delete(r.Indexed, f.Slot)
		} else {
			r.Indexed[f.Slot] = v
		}
		return prior
	default: // ShapeDynamic
		prior, ok := r.Dynamic[f.Name]
		if !ok {
			prior = Null()
		}
		if v.IsNull() {
			delete(r.Dynamic, f.Name)
		} else {
			r.Dynamic[f.Name] = v
		}
		return prior
	}
}

// Encode serializes the record into the three-section wire format used
// on disk: a length-prefixed pos_vt run, then a count-prefixed
// index_vt table, then a count-prefixed kv_index bag (field names
// referenced by their string-pool id, via strOf).
func Encode(r *Record, strOf func(name string) uint32) []byte {
	capacity := 12
	for _, v := range r.Pos {
		capacity += encodedLen(v)
	}
	for _, v := range r.Indexed {
		capacity += 4 + encodedLen(v)
	}
	for _, v := range r.Dynamic {
		capacity += 4 + encodedLen(v)
	}
	buf := make([]byte, 0, capacity)

	var tmp4 [4]byte
	binary.LittleEndian.PutUint32(tmp4[:], uint32(len(r.Pos)))
	buf = append(buf, tmp4[:]...)
	for _, v := range r.Pos {
		buf = appendValue(buf, v)
	}

	binary.LittleEndian.PutUint32(tmp4[:], uint32(len(r.Indexed)))
	buf = append(buf, tmp4[:]...)
	for slot, v := range r.Indexed {
		binary.LittleEndian.PutUint32(tmp4[:], uint32(slot))
		buf = append(buf, tmp4[:]...)
		buf = appendValue(buf, v)
	}

	binary.LittleEndian.PutUint32(tmp4[:], uint32(len(r.Dynamic)))
	buf = append(buf, tmp4[:]...)
	for name, v := range r.Dynamic {
		id := strOf(name)
		binary.LittleEndian.PutUint32(tmp4[:], id)
		buf = append(buf, tmp4[:]...)
		buf = appendValue(buf, v)
	}

	return buf
}

// Decode parses a record encoded by Encode. nameOf resolves a
// string-pool id back to its dynamic field name.
func Decode(buf []byte, nameOf func(id uint32) (string, bool)) (*Record, error) {
	r := &Record{Indexed: make(map[int]Value), Dynamic: make(map[string]Value)}

	n, rest, err := readU32(buf)
	if err != nil {
		return nil, fmt.Errorf("layout: decode pos_vt count: %w", err)
	}
	r.Pos = make([]Value, n)
	for i := uint32(0); i < n; i++ {
		v, used, err := readValue(rest)
		if err != nil {
			return nil, fmt.Errorf("layout: decode pos_vt[%d]: %w", i, err)
		}
		r.Pos[i] = v
		rest = rest[used:]
	}

	n, rest, err = readU32(rest)
	if err != nil {
		return nil, fmt.Errorf("layout: decode index_vt count: %w", err)
	}
	for i := uint32(0); i < n; i++ {
		slot, r2, err := readU32(rest)
		if err != nil {
			return nil, fmt.Errorf("layout: decode index_vt[%d] slot: %w", i, err)
		}
		rest = r2
		v, used, err := readValue(rest)
		if err != nil {
			return nil, fmt.Errorf("layout: decode index_vt[%d] value: %w", i, err)
		}
		r.Indexed[int(slot)] = v
		rest = rest[used:]
	}

	n, rest, err = readU32(rest)
	if err != nil {
		return nil, fmt.Errorf("layout: decode kv_index count: %w", err)
	}
	for i := uint32(0); i < n; i++ {
		id, r2, err := readU32(rest)
		if err != nil {
			return nil, fmt.Errorf("layout: decode kv_index[%d] key: %w", i, err)
		}
		rest = r2
		v, used, err := readValue(rest)
		if err != nil {
			return nil, fmt.Errorf("layout: decode kv_index[%d] value: %w", i, err)
		}
		if name, ok := nameOf(id); ok {
			r.Dynamic[name] = v
		}
		rest = rest[used:]
	}

	return r, nil
}

func readU32(buf []byte) (uint32, []byte, error) {
	if len(buf) < 4 {
		return 0, nil, fmt.Errorf("layout: truncated length prefix")
	}
	return binary.LittleEndian.Uint32(buf[:4]), buf[4:], nil
}
