// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed encrypts and decrypts Warden credential files with
// age (filippo.io/age). Broker credentials and vendor API keys are
// distributed to hosts as sealed files; the sync service unseals them
// at startup with the machine identity.
//
// Sealed files are age armor (PEM-like ASCII), so they survive
// copy-paste and configuration management. [IsSealed] recognizes both
// armored and binary age files, letting plaintext credential files
// work in development.
//
// Key exports:
//
//   - [GenerateKeypair] -- new x25519 machine keypair
//   - [Seal] -- encrypt plaintext to one or more recipients
//   - [Unseal] -- decrypt with the machine identity
//   - [LoadIdentity] -- read and validate an identity file
//
// Identities and recovered plaintext travel in [secret.Buffer] values
// (mmap-backed, swap-locked, zeroed on Close).
package sealed
