// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package codec provides an in-memory rpc.ServerCodec so endpoints can be
// invoked locally without a network round trip. The HTTP bridge and the
// adapter envelope dispatch through it.
package codec

import (
	"errors"
	"fmt"
	"net/rpc"
	"reflect"

	"github.com/mitchellh/copystructure"
)

// InmemCodec carries one RPC call through an rpc.Server in process.
// Arguments and replies are deep-copied across the handler boundary so
// caller and endpoint never share pointers.
type InmemCodec struct {
	Method string
	Args   interface{}
	Reply  interface{}
	Err    error
}

func (i *InmemCodec) ReadRequestHeader(req *rpc.Request) error {
	req.ServiceMethod = i.Method
	return nil
}

func (i *InmemCodec) ReadRequestBody(args interface{}) error {
	if args == nil {
		return nil
	}
	if err := deepCopyInto(i.Args, args); err != nil {
		return fmt.Errorf("error copying arguments to %s rpc: %w", i.Method, err)
	}
	return nil
}

func (i *InmemCodec) WriteResponse(resp *rpc.Response, reply interface{}) error {
	if resp.Error != "" {
		i.Err = errors.New(resp.Error)
		return nil
	}
	if err := deepCopyInto(reply, i.Reply); err != nil {
		return fmt.Errorf("error copying reply from %s rpc: %w", i.Method, err)
	}
	return nil
}

func (i *InmemCodec) Close() error {
	return nil
}

// deepCopyInto copies src into the value dst points at.
func deepCopyInto(src, dst interface{}) error {
	srcCopy, err := copystructure.Copy(src)
	if err != nil {
		return err
	}
	from := reflect.Indirect(reflect.Indirect(reflect.ValueOf(srcCopy)))
	to := reflect.Indirect(reflect.Indirect(reflect.ValueOf(dst)))
	to.Set(from)
	return nil
}
