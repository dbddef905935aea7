// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package idcodec

import (
	"math"
	"testing"

	"github.com/shoenig/test/must"
	"pgregory.net/rapid"
)

func TestToSint64_RoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		v := rapid.Uint64().Draw(t, "v")
		must.Eq(t, v, ToUint64(ToSint64(v)))
	})
}

func TestToSint64_KnownValues(t *testing.T) {
	cases := []struct {
		name string
		in   uint64
		out  int64
	}{
		{"zero", 0, 0},
		{"one", 1, 1},
		{"max", math.MaxUint64, -1},
		{"high_bit", 1 << 63, math.MinInt64},
		{"max_int64", math.MaxInt64, math.MaxInt64},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			must.Eq(t, tc.out, ToSint64(tc.in))
			must.Eq(t, tc.in, ToUint64(tc.out))
		})
	}
}

func TestGenerateID(t *testing.T) {
	seen := make(map[uint64]bool)
	for i := 0; i < 100; i++ {
		id, err := GenerateID(NodeIDNumBytes)
		must.NoError(t, err)
		must.False(t, seen[id])
		seen[id] = true
	}
}

func TestGenerateID_Bounds(t *testing.T) {
	// k bytes of randomness never exceed 2^(8k)-1
	id, err := GenerateID(2)
	must.NoError(t, err)
	must.LessEq(t, uint64(math.MaxUint16), id)

	_, err = GenerateID(0)
	must.Error(t, err)
	_, err = GenerateID(9)
	must.Error(t, err)
}
