// Package record is the opaque tuple codec boundary: Schema, Tuple,
// TupleMeta, and RecordId, plus the byte-level encode/decode the heap
// and tree pages store. Out of scope above this package: the SQL type
// system and catalog that would normally produce a Schema.
package record

import (
	"errors"
	"math"

	"github.com/novasqldb/storage/pkg/bx"
)

// ColumnType is the fixed set of column value kinds a Schema can name.
type ColumnType uint8

const (
	ColInt32 ColumnType = iota
	ColInt64
	ColBool
	ColFloat64
	ColText  // UTF-8
	ColBytes // opaque bytes
)

// Column is one named, typed, optionally-nullable field of a Schema.
type Column struct {
	Name     string
	Type     ColumnType
	Nullable bool
}

// Schema is an ordered list of columns. Tuple values are positional
// and line up with Cols by index.
type Schema struct {
	Cols []Column
}

// NumCols returns the number of columns in the schema.
func (s Schema) NumCols() int { return len(s.Cols) }

// Tuple is an ordered sequence of typed values conforming to a Schema.
// A nil entry means SQL NULL for a nullable column.
type Tuple []any

// PageId mirrors diskio.PageId without importing diskio, to keep this
// package leaf-level and free of upward dependencies.
type PageId = uint32

// InvalidPageID is record's copy of the sentinel "no page" id.
const InvalidPageID PageId = 0

// RecordId identifies one slot of one table page.
type RecordId struct {
	PageID  PageId
	SlotNum uint32
}

// InvalidRID is the sentinel "no record".
var InvalidRID = RecordId{PageID: InvalidPageID, SlotNum: 0}

// IsValid reports whether rid names a real slot.
func (rid RecordId) IsValid() bool { return rid.PageID != InvalidPageID }

// TupleMeta is carried per row for future MVCC; the storage core never
// interprets these fields itself.
type TupleMeta struct {
	InsertTxnID uint64
	DeleteTxnID uint64
	IsDeleted   bool
}

var (
	ErrSchemaMismatch  = errors.New("record: schema/values mismatch")
	ErrBadBuffer       = errors.New("record: buffer underflow/overflow")
	ErrVarTooLong      = errors.New("record: variable length exceeds u16")
	ErrUnsupportedType = errors.New("record: unsupported column type")
)

// Encode serializes values against schema s into the on-page row
// format:
//
//	[nullmap: ceil(N/8) bytes, bit=1 => NULL] [field0] [field1] ...
//
// Varlen columns (Text/Bytes) are stored as a u16 length prefix
// followed by the raw bytes.
func Encode(s Schema, t Tuple) ([]byte, error) {
	nc := s.NumCols()
	if len(t) != nc {
		return nil, ErrSchemaMismatch
	}

	nbBytes := (nc + 7) / 8
	out := make([]byte, nbBytes)

	for i, col := range s.Cols {
		v := t[i]
		if v == nil {
			if !col.Nullable {
				return nil, ErrSchemaMismatch
			}
			out[i/8] |= 1 << (uint(i) & 7)
			continue
		}

		switch col.Type {
		case ColInt32:
			x, ok := asInt32(v)
			if !ok {
				return nil, ErrSchemaMismatch
			}
			var b [4]byte
			bx.PutU32(b[:], uint32(x))
			out = append(out, b[:]...)

		case ColInt64:
			x, ok := asInt64(v)
			if !ok {
				return nil, ErrSchemaMismatch
			}
			var b [8]byte
			bx.PutU64(b[:], uint64(x))
			out = append(out, b[:]...)

		case ColBool:
			x, ok := v.(bool)
			if !ok {
				return nil, ErrSchemaMismatch
			}
			if x {
				out = append(out, 1)
			} else {
				out = append(out, 0)
			}

		case ColFloat64:
			x, ok := asFloat64(v)
			if !ok {
				return nil, ErrSchemaMismatch
			}
			var b [8]byte
			bx.PutU64(b[:], math.Float64bits(x))
			out = append(out, b[:]...)

		case ColText:
			str, ok := v.(string)
			if !ok {
				return nil, ErrSchemaMismatch
			}
			bs := []byte(str)
			if len(bs) > math.MaxUint16 {
				return nil, ErrVarTooLong
			}
			var l [2]byte
			bx.PutU16(l[:], uint16(len(bs)))
			out = append(out, l[:]...)
			out = append(out, bs...)

		case ColBytes:
			bs, ok := v.([]byte)
			if !ok {
				return nil, ErrSchemaMismatch
			}
			if len(bs) > math.MaxUint16 {
				return nil, ErrVarTooLong
			}
			var l [2]byte
			bx.PutU16(l[:], uint16(len(bs)))
			out = append(out, l[:]...)
			out = append(out, bs...)

		default:
			return nil, ErrUnsupportedType
		}
	}
	return out, nil
}

// Decode is the inverse of Encode.
func Decode(s Schema, buf []byte) (Tuple, error) {
	nc := s.NumCols()
	nbBytes := (nc + 7) / 8
	if len(buf) < nbBytes {
		return nil, ErrBadBuffer
	}
	nullmap := buf[:nbBytes]
	i := nbBytes

	out := make(Tuple, nc)
	for colIdx, col := range s.Cols {
		isNull := (nullmap[colIdx/8]>>(uint(colIdx)&7))&1 == 1
		if isNull {
			out[colIdx] = nil
			continue
		}

		switch col.Type {
		case ColInt32:
			if i+4 > len(buf) {
				return nil, ErrBadBuffer
			}
			out[colIdx] = int32(bx.U32(buf[i : i+4]))
			i += 4

		case ColInt64:
			if i+8 > len(buf) {
				return nil, ErrBadBuffer
			}
			out[colIdx] = int64(bx.U64(buf[i : i+8]))
			i += 8

		case ColBool:
			if i+1 > len(buf) {
				return nil, ErrBadBuffer
			}
			out[colIdx] = buf[i] != 0
			i++

		case ColFloat64:
			if i+8 > len(buf) {
				return nil, ErrBadBuffer
			}
			out[colIdx] = math.Float64frombits(bx.U64(buf[i : i+8]))
			i += 8

		case ColText:
			if i+2 > len(buf) {
				return nil, ErrBadBuffer
			}
			l := int(bx.U16(buf[i : i+2]))
			i += 2
			if i+l > len(buf) {
				return nil, ErrBadBuffer
			}
			out[colIdx] = string(buf[i : i+l])
			i += l

		case ColBytes:
			if i+2 > len(buf) {
				return nil, ErrBadBuffer
			}
			l := int(bx.U16(buf[i : i+2]))
			i += 2
			if i+l > len(buf) {
				return nil, ErrBadBuffer
			}
			cp := make([]byte, l)
			copy(cp, buf[i:i+l])
			out[colIdx] = cp
			i += l

		default:
			return nil, ErrUnsupportedType
		}
	}
	return out, nil
}

// Compare orders two tuples of the same schema lexicographically,
// column by column. NULL sorts before any non-NULL value.
func Compare(s Schema, a, b Tuple) int {
	for i := range s.Cols {
		va, vb := a[i], b[i]
		switch {
		case va == nil && vb == nil:
			continue
		case va == nil:
			return -1
		case vb == nil:
			return 1
		}

		switch s.Cols[i].Type {
		case ColInt32:
			x, _ := asInt32(va)
			y, _ := asInt32(vb)
			if x != y {
				return cmpInt64(int64(x), int64(y))
			}
		case ColInt64:
			x, _ := asInt64(va)
			y, _ := asInt64(vb)
			if x != y {
				return cmpInt64(x, y)
			}
		case ColFloat64:
			x, _ := asFloat64(va)
			y, _ := asFloat64(vb)
			if x != y {
				return cmpFloat64(x, y)
			}
		case ColBool:
			x, y := va.(bool), vb.(bool)
			if x != y {
				if !x {
					return -1
				}
				return 1
			}
		case ColText:
			x, y := va.(string), vb.(string)
			if x != y {
				if x < y {
					return -1
				}
				return 1
			}
		case ColBytes:
			x, y := va.([]byte), vb.([]byte)
			if c := compareBytes(x, y); c != 0 {
				return c
			}
		}
	}
	return 0
}

func cmpInt64(x, y int64) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	default:
		return 0
	}
}

func cmpFloat64(x, y float64) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	default:
		return 0
	}
}

func compareBytes(x, y []byte) int {
	n := len(x)
	if len(y) < n {
		n = len(y)
	}
	for i := 0; i < n; i++ {
		if x[i] != y[i] {
			if x[i] < y[i] {
				return -1
			}
			return 1
		}
	}
	return cmpInt64(int64(len(x)), int64(len(y)))
}

func asInt32(v any) (int32, bool) {
	switch x := v.(type) {
	case int32:
		return x, true
	case int:
		if x >= math.MinInt32 && x <= math.MaxInt32 {
			return int32(x), true
		}
	case int64:
		if x >= math.MinInt32 && x <= math.MaxInt32 {
			return int32(x), true
		}
	}
	return 0, false
}

func asInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case int32:
		return int64(x), true
	}
	return 0, false
}

func asFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	}
	return 0, false
}
