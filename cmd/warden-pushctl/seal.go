// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/wardenhq/warden/cmd/warden-pushctl/cli"
	"github.com/wardenhq/warden/lib/sealed"
)

func sealCommand() *cli.Command {
	var (
		recipients []string
		outPath    string
	)
	return &cli.Command{
		Name:    "seal",
		Summary: "Seal a credential file to a machine",
		Usage:   "warden-pushctl seal <credentials-file> --recipient <age1...> [flags]",
		Description: "Encrypts a credential file so only the named machines can read it.\n" +
			"Recipients are age public keys; each host writes its own next to the\n" +
			"identity file in a .pub file at first start. Seal to the machine key\n" +
			"plus an operator escrow key so credentials stay recoverable when a\n" +
			"host is reimaged.",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("seal", pflag.ContinueOnError)
			flagSet.StringArrayVar(&recipients, "recipient", nil, "age public key to seal to (repeatable)")
			flagSet.StringVar(&outPath, "out", "", "output path (defaults to <input>.sealed)")
			return flagSet
		},
		Examples: []cli.Example{
			{
				Description: "Seal broker credentials to one machine",
				Command:     "warden-pushctl seal broker.creds --recipient $(cat identity.pub)",
			},
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one argument: the credential file")
			}
			if len(recipients) == 0 {
				return fmt.Errorf("at least one --recipient is required")
			}
			for i, r := range recipients {
				recipients[i] = strings.TrimSpace(r)
			}
			inputPath := args[0]
			if outPath == "" {
				outPath = inputPath + ".sealed"
			}

			plaintext, err := os.ReadFile(inputPath)
			if err != nil {
				return err
			}
			if sealed.IsSealed(plaintext) {
				return fmt.Errorf("%s is already sealed", inputPath)
			}

			ciphertext, err := sealed.Seal(plaintext, recipients)
			if err != nil {
				return err
			}
			if err := os.WriteFile(outPath, ciphertext, 0600); err != nil {
				return err
			}
			fmt.Printf("sealed to %s\n", outPath)
			return nil
		},
	}
}
