// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package testlog creates hclog loggers backed by testing.T to ease
// logging in tests.
package testlog

import (
	"io"
	"os"

	hclog "github.com/hashicorp/go-hclog"
)

// LogPrinter is the methods of testing.T (or testing.B) needed by the
// test logger.
type LogPrinter interface {
	Logf(format string, args ...interface{})
}

// writer implements io.Writer on top of a LogPrinter.
type writer struct {
	t LogPrinter
}

// Write to an underlying LogPrinter. Never returns an error.
func (w *writer) Write(p []byte) (n int, err error) {
	w.t.Logf("%s", p)
	return len(p), nil
}

// NewWriter creates a new io.Writer backed by a LogPrinter.
func NewWriter(t LogPrinter) io.Writer {
	return &writer{t: t}
}

// HCLogger returns a trace-level hclog logger that writes through the
// test's log buffer, so output only shows up for failing tests. Set
// SUPERLINK_TEST_STDOUT=1 to write to stdout instead.
func HCLogger(t LogPrinter) hclog.InterceptLogger {
	var output io.Writer = NewWriter(t)
	if os.Getenv("SUPERLINK_TEST_STDOUT") == "1" {
		output = os.Stdout
	}
	return hclog.NewInterceptLogger(&hclog.LoggerOptions{
		Level:           hclog.Trace,
		Output:          output,
		IncludeLocation: true,
	})
}
