// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/spf13/pflag"

	"github.com/wardenhq/warden/cmd/warden-pushctl/cli"
	"github.com/wardenhq/warden/push"
)

func pingCommand() *cli.Command {
	var (
		serverURL string
		credsFile string
		timeout   time.Duration
	)
	return &cli.Command{
		Name:    "ping",
		Summary: "Ping a machine over the push broker",
		Usage:   "warden-pushctl ping <machine-id> --server <url> [flags]",
		Description: "Publishes a ping command on the machine's broker subject and waits\n" +
			"for the reply. This is the same request-reply path the sync server\n" +
			"uses to trigger syncs, so a successful ping means the whole push\n" +
			"pipeline is live for that machine.",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("ping", pflag.ContinueOnError)
			flagSet.StringVar(&serverURL, "server", "", "broker URL, e.g. nats://push.example.com:4222")
			flagSet.StringVar(&credsFile, "creds", "", "operator credentials file")
			flagSet.DurationVar(&timeout, "timeout", 5*time.Second, "how long to wait for the reply")
			return flagSet
		},
		Examples: []cli.Example{
			{
				Description: "Ping a machine with operator credentials",
				Command:     "warden-pushctl ping 4f1c... --server nats://push.example.com:4222 --creds operator.creds",
			},
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one argument: the machine ID")
			}
			if serverURL == "" {
				return fmt.Errorf("--server is required")
			}
			machineID := args[0]

			options := []nats.Option{nats.Name("warden-pushctl")}
			if credsFile != "" {
				options = append(options, nats.UserCredentials(credsFile))
			}
			conn, err := nats.Connect(serverURL, options...)
			if err != nil {
				return fmt.Errorf("connecting to broker: %w", err)
			}
			defer conn.Close()

			request := push.CommandRequest{
				Kind:      push.CommandKindPing,
				RequestID: uuid.NewString(),
				IssuedAt:  time.Now().Unix(),
				Ping:      &push.PingRequest{},
			}
			payload, err := json.Marshal(request)
			if err != nil {
				return err
			}

			start := time.Now()
			msg, err := conn.Request(push.HostSubject(machineID), payload, timeout)
			if err != nil {
				return fmt.Errorf("no reply from %s: %w", machineID, err)
			}
			rtt := time.Since(start)

			var response push.CommandResponse
			if err := json.Unmarshal(msg.Data, &response); err != nil {
				return fmt.Errorf("parsing reply: %w", err)
			}
			if response.RequestID != request.RequestID {
				return fmt.Errorf("reply carries request ID %q, want %q", response.RequestID, request.RequestID)
			}
			if response.Result != push.CommandResultSuccessful {
				return fmt.Errorf("machine reported: %s", response.Error)
			}

			fmt.Printf("reply from %s: %s (rtt %s)\n", machineID, response.Result, rtt.Round(time.Millisecond))
			return nil
		},
	}
}
