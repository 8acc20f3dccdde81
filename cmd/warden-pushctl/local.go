// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/wardenhq/warden/cmd/warden-pushctl/cli"
	"github.com/wardenhq/warden/lib/ipc"
)

// controlTimeout bounds one control-socket exchange.
const controlTimeout = 10 * time.Second

func control(socketPath string, request ipc.Request) (*ipc.Response, error) {
	ctx, cancel := context.WithTimeout(context.Background(), controlTimeout)
	defer cancel()
	return ipc.Do(ctx, socketPath, request)
}

func socketFlag(flagSet *pflag.FlagSet, socketPath *string) {
	flagSet.StringVar(socketPath, "socket", defaultSocket, "sync service control socket")
}

func statusCommand() *cli.Command {
	var (
		socketPath string
		asJSON     bool
	)
	return &cli.Command{
		Name:    "status",
		Summary: "Show the sync service's push and sync state",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("status", pflag.ContinueOnError)
			socketFlag(flagSet, &socketPath)
			flagSet.BoolVar(&asJSON, "json", false, "print the status as JSON")
			return flagSet
		},
		Run: func(args []string) error {
			response, err := control(socketPath, ipc.Request{Action: ipc.ActionStatus})
			if err != nil {
				return err
			}
			if response.Status == nil {
				return fmt.Errorf("sync service returned no status")
			}
			if asJSON {
				encoder := json.NewEncoder(os.Stdout)
				encoder.SetIndent("", "  ")
				return encoder.Encode(response.Status)
			}
			printStatus(os.Stdout, response.Status)
			return nil
		},
	}
}

func printStatus(w io.Writer, status *ipc.Status) {
	tw := tabwriter.NewWriter(w, 2, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "machine ID:\t%s\n", status.MachineID)
	fmt.Fprintf(tw, "push transport:\t%s\n", status.Transport)
	fmt.Fprintf(tw, "connected:\t%v\n", status.Connected)
	fmt.Fprintf(tw, "full sync interval:\t%s\n", time.Duration(status.FullSyncIntervalSeconds)*time.Second)
	fmt.Fprintf(tw, "rule sync deadline:\t%s\n", time.Duration(status.RuleSyncDeadlineSeconds)*time.Second)
	lastSync := "never"
	if status.LastSyncUnix != 0 {
		lastSync = time.Unix(status.LastSyncUnix, 0).Format(time.RFC1123)
	}
	fmt.Fprintf(tw, "last sync:\t%s\n", lastSync)
	fmt.Fprintf(tw, "pending syncs:\t%d\n", status.PendingSyncs)
	fmt.Fprintf(tw, "spooled batches:\t%d\n", status.SpooledBatches)
	if status.BatchSize > 0 {
		fmt.Fprintf(tw, "upload batch size:\t%d\n", status.BatchSize)
	}
	tw.Flush()
}

func syncCommand() *cli.Command {
	var (
		socketPath   string
		kind         string
		delaySeconds int
	)
	return &cli.Command{
		Name:    "sync",
		Summary: "Ask the service to sync now, or after a delay",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("sync", pflag.ContinueOnError)
			socketFlag(flagSet, &socketPath)
			flagSet.StringVar(&kind, "kind", ipc.SyncKindFull, "sync kind: full or rules")
			flagSet.IntVar(&delaySeconds, "delay", 0, "defer the sync by this many seconds")
			return flagSet
		},
		Examples: []cli.Example{
			{Description: "Full sync right now", Command: "warden-pushctl sync"},
			{Description: "Rule sync in one minute", Command: "warden-pushctl sync --kind rules --delay 60"},
		},
		Run: func(args []string) error {
			_, err := control(socketPath, ipc.Request{
				Action:       ipc.ActionSyncNow,
				Kind:         kind,
				DelaySeconds: delaySeconds,
			})
			if err != nil {
				return err
			}
			if delaySeconds > 0 {
				fmt.Printf("%s sync requested in %ds\n", kind, delaySeconds)
			} else {
				fmt.Printf("%s sync requested\n", kind)
			}
			return nil
		},
	}
}

func tokenCommand() *cli.Command {
	var socketPath string
	return &cli.Command{
		Name:    "token",
		Summary: "Deliver a platform push token to the service",
		Usage:   "warden-pushctl token <device-token> [flags]",
		Description: "Hands a platform device token to the sync service, as the host\n" +
			"daemon does when the operating system issues one. An empty token\n" +
			"makes the service ask the daemon for the current value.",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("token", pflag.ContinueOnError)
			socketFlag(flagSet, &socketPath)
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one argument: the device token")
			}
			_, err := control(socketPath, ipc.Request{
				Action: ipc.ActionTokenChanged,
				Token:  args[0],
			})
			if err != nil {
				return err
			}
			fmt.Println("token delivered")
			return nil
		},
	}
}

func reconnectCommand() *cli.Command {
	var socketPath string
	return &cli.Command{
		Name:    "reconnect",
		Summary: "Force the push transport to rebuild its connection",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("reconnect", pflag.ContinueOnError)
			socketFlag(flagSet, &socketPath)
			return flagSet
		},
		Run: func(args []string) error {
			_, err := control(socketPath, ipc.Request{Action: ipc.ActionReconnect})
			if err != nil {
				return err
			}
			fmt.Println("reconnect requested")
			return nil
		},
	}
}
