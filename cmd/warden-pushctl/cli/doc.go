// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli provides the command-line framework for warden-pushctl.
//
// The central type is [Command], a named subcommand with optional
// nested [Command.Subcommands], a [pflag.FlagSet] factory, and a Run
// function. The tree is assembled in main.go and dispatched through
// [Command.Execute], which handles flag parsing, subcommand routing,
// and help output with examples.
//
// Unknown subcommands and flags are matched against the known names
// by Levenshtein edit distance and the closest one (distance <= 3) is
// suggested in the error.
package cli
