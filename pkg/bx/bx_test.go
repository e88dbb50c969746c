package bx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestU16RoundTrip(t *testing.T) {
	b := make([]byte, 2)
	var v uint16 = 0x1234

	PutU16(b, v)
	assert.Equal(t, []byte{0x34, 0x12}, b)
	assert.Equal(t, v, U16(b))
}

func TestU32RoundTrip(t *testing.T) {
	b := make([]byte, 4)
	var v uint32 = 0x01020304

	PutU32(b, v)
	assert.Equal(t, []byte{0x04, 0x03, 0x02, 0x01}, b)
	assert.Equal(t, v, U32(b))
}

func TestU64RoundTrip(t *testing.T) {
	b := make([]byte, 8)
	var v uint64 = 0x0102030405060708

	PutU64(b, v)
	assert.Equal(t, []byte{0x08, 0x07, 0x06, 0x05, 0x04, 0x03, 0x02, 0x01}, b)
	assert.Equal(t, v, U64(b))
}
