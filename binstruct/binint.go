package binstruct

import (
	"reflect"

	"github.com/reiserfs-ng/reiserfs-ng/binstruct/binint"
)

type (
	U8    = binint.U8
	U16le = binint.U16le
	U32le = binint.U32le
	U64le = binint.U64le
	I32le = binint.I32le
)

var intKind2Type = map[reflect.Kind]reflect.Type{
	reflect.Uint8:  reflect.TypeOf(U8(0)),
	reflect.Uint16: reflect.TypeOf(U16le(0)),
	reflect.Uint32: reflect.TypeOf(U32le(0)),
	reflect.Uint64: reflect.TypeOf(U64le(0)),
	reflect.Int32:  reflect.TypeOf(I32le(0)),
}
