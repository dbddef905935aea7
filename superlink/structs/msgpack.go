// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package structs

import (
	"bytes"
	"reflect"

	"github.com/hashicorp/go-msgpack/v2/codec"
)

// MsgpackHandle is shared by the RPC codecs and the store's value
// encoding so both sides of the wire agree on one representation.
var MsgpackHandle = func() *codec.MsgpackHandle {
	h := &codec.MsgpackHandle{}
	h.RawToString = true
	h.MapType = reflect.TypeOf(map[string]interface{}(nil))

	// only review struct codec tags
	h.TypeInfos = codec.NewTypeInfos([]string{"codec"})

	return h
}()

// Encode serializes the message with the shared handle.
func Encode(msg interface{}) ([]byte, error) {
	var buf bytes.Buffer
	err := codec.NewEncoder(&buf, MsgpackHandle).Encode(msg)
	return buf.Bytes(), err
}

// Decode deserializes buf into out with the shared handle.
func Decode(buf []byte, out interface{}) error {
	return codec.NewDecoder(bytes.NewReader(buf), MsgpackHandle).Decode(out)
}

// ErrorRecord is the error payload a TaskRes recordset carries when a
// task failed instead of producing content, including the substitute
// replies synthesized for offline nodes.
type ErrorRecord struct {
	Code   uint64
	Reason string
}

// Encode serializes the record into an opaque recordset blob.
func (e *ErrorRecord) Encode() ([]byte, error) {
	return Encode(e)
}

// DecodeErrorRecord parses a recordset blob produced by Encode.
func DecodeErrorRecord(buf []byte) (*ErrorRecord, error) {
	out := new(ErrorRecord)
	if err := Decode(buf, out); err != nil {
		return nil, err
	}
	return out, nil
}
