// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package ci holds test-run controls shared by every package's tests.
package ci

import (
	"fmt"
	"os"
	"strconv"
	"testing"

	"github.com/shoenig/test/portal"
)

// Parallel runs t in parallel, unless CI is set to a true value. CI
// runners do better running tests in serial with GOMAXPROCS unbound.
func Parallel(t *testing.T) {
	isCI, err := strconv.ParseBool(os.Getenv("CI"))
	if !isCI || err != nil {
		t.Parallel()
	}
}

// SkipSlow skips a slow test unless SUPERLINK_SLOW_TEST is set to a
// true value.
func SkipSlow(t *testing.T, reason string) {
	run, err := strconv.ParseBool(os.Getenv("SUPERLINK_SLOW_TEST"))
	if !run || err != nil {
		t.Skipf("Skipping slow test: %s", reason)
	}
}

type panicTester struct{}

func (panicTester) Fatalf(msg string, args ...any) {
	panic(fmt.Sprintf(msg, args...))
}

// PortAllocator hands out unused loopback ports for tests that bind a
// specific address instead of :0.
var PortAllocator = portal.New(
	panicTester{},
	portal.WithAddress("127.0.0.1"),
)
