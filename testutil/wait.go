// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package testutil

import (
	"time"
)

type testFn func() (bool, error)
type errorFn func(error)

// WaitForResult polls test every 10ms until it succeeds, calling error
// with the last failure when the retry budget is spent.
func WaitForResult(test testFn, error errorFn) {
	WaitForResultRetries(500, test, error)
}

// WaitForResultRetries is WaitForResult with an explicit retry budget.
func WaitForResultRetries(retries int64, test testFn, error errorFn) {
	for retries > 0 {
		time.Sleep(10 * time.Millisecond)
		retries--

		success, err := test()
		if success {
			return
		}

		if retries == 0 {
			error(err)
		}
	}
}
