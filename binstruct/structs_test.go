package binstruct_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reiserfs-ng/reiserfs-ng/binstruct"
)

type testRecord struct {
	A             binstruct.U32le `bin:"off=0,siz=4"`
	B             binstruct.U16le `bin:"off=4,siz=2"`
	binstruct.End `bin:"off=6"`
}

func TestStructMarshalUnmarshalRoundTrip(t *testing.T) {
	t.Parallel()
	in := testRecord{A: 0xdeadbeef, B: 0x1234}

	dat, err := binstruct.Marshal(in)
	require.NoError(t, err)
	assert.Len(t, dat, 6)

	var out testRecord
	n, err := binstruct.Unmarshal(dat, &out)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, in, out)
}

func TestUnmarshalTooShort(t *testing.T) {
	t.Parallel()
	var out testRecord
	_, err := binstruct.Unmarshal([]byte{1, 2, 3}, &out)
	assert.Error(t, err)
}

func TestIntRoundTrip(t *testing.T) {
	t.Parallel()
	var v32 binstruct.U32le = 0x01020304
	dat, err := binstruct.Marshal(v32)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x04, 0x03, 0x02, 0x01}, dat)

	var out binstruct.U32le
	n, err := binstruct.Unmarshal(dat, &out)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, v32, out)
}
