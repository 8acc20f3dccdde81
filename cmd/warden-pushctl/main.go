// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// warden-pushctl is the operator control tool for the Warden sync
// service. The local subcommands talk to the service's control
// socket; ping exercises the broker path end to end from the
// publishing side, the way the sync server does when it triggers a
// sync.
package main

import (
	"fmt"
	"os"

	"github.com/wardenhq/warden/cmd/warden-pushctl/cli"
	"github.com/wardenhq/warden/lib/process"
	"github.com/wardenhq/warden/lib/version"
)

// defaultSocket is where the sync service listens unless its config
// moved it.
const defaultSocket = "/run/warden/syncservice.sock"

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	return root().Execute(os.Args[1:])
}

func root() *cli.Command {
	return &cli.Command{
		Name:        "warden-pushctl",
		Description: "Operator control for the Warden sync service.",
		Subcommands: []*cli.Command{
			statusCommand(),
			syncCommand(),
			tokenCommand(),
			reconnectCommand(),
			pingCommand(),
			sealCommand(),
			versionCommand(),
		},
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:    "version",
		Summary: "Print version information",
		Run: func(args []string) error {
			fmt.Printf("warden-pushctl %s\n", version.Full())
			return nil
		},
	}
}
