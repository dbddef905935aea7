// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hashicorp/superlink/command/agent"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	config := agent.DefaultConfig()

	flags := flag.NewFlagSet("superlink", flag.ContinueOnError)
	flags.StringVar(&config.LogLevel, "log-level", config.LogLevel, "Log level: trace, debug, info, warn, error")
	flags.StringVar(&config.HTTPAddr, "http-addr", config.HTTPAddr, "HTTP bridge address, empty to disable")
	flags.StringVar(&config.Server.DriverAddr, "driver-addr", config.Server.DriverAddr, "Driver RPC address")
	flags.StringVar(&config.Server.FleetAddr, "fleet-addr", config.Server.FleetAddr, "Fleet RPC address")
	flags.StringVar(&config.Server.ExecAddr, "exec-addr", config.Server.ExecAddr, "Exec RPC address")
	flags.StringVar(&config.Server.DataDir, "data-dir", config.Server.DataDir, "Task registry directory, empty for in-memory")
	flags.StringVar(&config.Server.FabDir, "fab-dir", config.Server.FabDir, "Application bundle directory")
	flags.BoolVar(&config.Server.DevMode, "dev", false, "Run the task registry in memory")
	flags.BoolVar(&config.Server.TraceQueries, "trace-queries", false, "Log every registry operation")
	if err := flags.Parse(args); err != nil {
		return 1
	}

	a, err := agent.NewAgent(config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start superlink: %v\n", err)
		return 1
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	if err := a.Shutdown(); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown error: %v\n", err)
		return 1
	}
	return 0
}
