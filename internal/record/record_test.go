package record

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testSchema() Schema {
	return Schema{Cols: []Column{
		{Name: "a", Type: ColInt32},
		{Name: "b", Type: ColInt64, Nullable: true},
		{Name: "c", Type: ColText},
	}}
}

func TestEncodeDecode_RoundTrips(t *testing.T) {
	s := testSchema()
	tup := Tuple{int32(7), int64(42), "hello"}

	buf, err := Encode(s, tup)
	require.NoError(t, err)

	got, err := Decode(s, buf)
	require.NoError(t, err)
	require.Equal(t, tup, got)
}

func TestEncodeDecode_NullColumn(t *testing.T) {
	s := testSchema()
	tup := Tuple{int32(1), nil, "x"}

	buf, err := Encode(s, tup)
	require.NoError(t, err)

	got, err := Decode(s, buf)
	require.NoError(t, err)
	require.Nil(t, got[1])
	require.Equal(t, int32(1), got[0])
}

func TestEncode_NonNullableNullRejected(t *testing.T) {
	s := testSchema()
	_, err := Encode(s, Tuple{nil, int64(1), "x"})
	require.ErrorIs(t, err, ErrSchemaMismatch)
}

func TestEncode_ValueCountMismatch(t *testing.T) {
	s := testSchema()
	_, err := Encode(s, Tuple{int32(1)})
	require.ErrorIs(t, err, ErrSchemaMismatch)
}

func TestEncode_TypeMismatch(t *testing.T) {
	s := testSchema()
	_, err := Encode(s, Tuple{"not an int32", int64(1), "x"})
	require.ErrorIs(t, err, ErrSchemaMismatch)
}

func TestDecode_TruncatedBufferFails(t *testing.T) {
	s := testSchema()
	buf, err := Encode(s, Tuple{int32(1), int64(2), "hi"})
	require.NoError(t, err)

	_, err = Decode(s, buf[:len(buf)-1])
	require.ErrorIs(t, err, ErrBadBuffer)
}

func TestCompare_LexicographicColumnOrder(t *testing.T) {
	s := testSchema()
	a := Tuple{int32(1), int64(1), "a"}
	b := Tuple{int32(1), int64(1), "b"}
	c := Tuple{int32(2), int64(0), "a"}

	require.Equal(t, 0, Compare(s, a, a))
	require.Negative(t, Compare(s, a, b))
	require.Positive(t, Compare(s, b, a))
	require.Negative(t, Compare(s, a, c))
}

func TestCompare_NullSortsBeforeNonNull(t *testing.T) {
	s := testSchema()
	withNull := Tuple{int32(1), nil, "a"}
	withValue := Tuple{int32(1), int64(0), "a"}

	require.Negative(t, Compare(s, withNull, withValue))
	require.Positive(t, Compare(s, withValue, withNull))
}

func TestRecordId_InvalidSentinel(t *testing.T) {
	require.False(t, InvalidRID.IsValid())
	require.True(t, (RecordId{PageID: 1, SlotNum: 0}).IsValid())
}
