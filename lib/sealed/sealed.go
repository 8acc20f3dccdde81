// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"bytes"
	"fmt"
	"io"

	"filippo.io/age"
	"filippo.io/age/armor"

	"github.com/wardenhq/warden/lib/secret"
)

// binaryHeader opens every unarmored age file.
const binaryHeader = "age-encryption.org/v1"

// Keypair is an age x25519 machine keypair. The identity lives in a
// secret.Buffer and must never touch disk unencrypted outside the
// identity file; the recipient string is safe to publish.
type Keypair struct {
	// Identity is the AGE-SECRET-KEY-1... string in protected memory.
	Identity *secret.Buffer

	// Recipient is the corresponding age1... public key.
	Recipient string
}

// Close releases the identity memory. Idempotent.
func (k *Keypair) Close() error {
	if k.Identity != nil {
		return k.Identity.Close()
	}
	return nil
}

// GenerateKeypair creates a new machine keypair. The caller must
// Close it.
func GenerateKeypair() (*Keypair, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generating age keypair: %w", err)
	}

	// identity.String() leaves one heap copy behind that the GC will
	// reclaim; the protected buffer is the durable copy.
	buf, err := secret.NewFromBytes([]byte(identity.String()))
	if err != nil {
		return nil, fmt.Errorf("protecting identity: %w", err)
	}
	return &Keypair{
		Identity:  buf,
		Recipient: identity.Recipient().String(),
	}, nil
}

// Seal encrypts plaintext to the given age1... recipients and returns
// armored ciphertext. At least one recipient is required; for host
// credentials that is typically the machine key plus an operator
// escrow key.
func Seal(plaintext []byte, recipients []string) ([]byte, error) {
	if len(recipients) == 0 {
		return nil, fmt.Errorf("at least one recipient is required")
	}

	parsed := make([]age.Recipient, 0, len(recipients))
	for _, r := range recipients {
		recipient, err := age.ParseX25519Recipient(r)
		if err != nil {
			return nil, fmt.Errorf("parsing recipient %q: %w", r, err)
		}
		parsed = append(parsed, recipient)
	}

	var out bytes.Buffer
	armorWriter := armor.NewWriter(&out)
	encryptWriter, err := age.Encrypt(armorWriter, parsed...)
	if err != nil {
		return nil, fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := encryptWriter.Write(plaintext); err != nil {
		return nil, fmt.Errorf("encrypting: %w", err)
	}
	if err := encryptWriter.Close(); err != nil {
		return nil, fmt.Errorf("finalizing encryption: %w", err)
	}
	if err := armorWriter.Close(); err != nil {
		return nil, fmt.Errorf("finalizing armor: %w", err)
	}
	return out.Bytes(), nil
}

// Unseal decrypts an armored or binary age file with the machine
// identity and returns the plaintext in a protected buffer the caller
// must Close. The identity buffer is borrowed, not closed.
func Unseal(ciphertext []byte, identity *secret.Buffer) (*secret.Buffer, error) {
	parsed, err := age.ParseX25519Identity(identity.String())
	if err != nil {
		return nil, fmt.Errorf("parsing identity: %w", err)
	}

	var src io.Reader = bytes.NewReader(ciphertext)
	if isArmored(ciphertext) {
		src = armor.NewReader(src)
	}

	reader, err := age.Decrypt(src, parsed)
	if err != nil {
		return nil, fmt.Errorf("decrypting: %w", err)
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading plaintext: %w", err)
	}
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("sealed file is empty")
	}

	buf, err := secret.NewFromBytes(plaintext)
	if err != nil {
		secret.Zero(plaintext)
		return nil, fmt.Errorf("protecting plaintext: %w", err)
	}
	return buf, nil
}

// IsSealed reports whether data looks like an age file, armored or
// binary. Callers use it to pass plaintext credential files through
// untouched in development setups.
func IsSealed(data []byte) bool {
	if isArmored(data) {
		return true
	}
	return bytes.HasPrefix(data, []byte(binaryHeader))
}

func isArmored(data []byte) bool {
	return bytes.HasPrefix(bytes.TrimSpace(data), []byte(armor.Header))
}

// Recipient derives the age1... public key of an identity. Operators
// seal credential files to this value.
func Recipient(identity *secret.Buffer) (string, error) {
	parsed, err := age.ParseX25519Identity(identity.String())
	if err != nil {
		return "", fmt.Errorf("parsing identity: %w", err)
	}
	return parsed.Recipient().String(), nil
}

// LoadIdentity reads an identity file into protected memory and
// validates it parses as an age x25519 identity.
func LoadIdentity(path string) (*secret.Buffer, error) {
	buf, err := secret.ReadFromPath(path)
	if err != nil {
		return nil, fmt.Errorf("reading identity file: %w", err)
	}
	if _, err := age.ParseX25519Identity(buf.String()); err != nil {
		buf.Close()
		return nil, fmt.Errorf("parsing identity file %s: %w", path, err)
	}
	return buf, nil
}

// ReadFile reads a credential file that may or may not be sealed. A
// sealed file is decrypted with identity; a plaintext file (allowed in
// development) is loaded as-is. The caller must Close the returned
// buffer. The identity buffer is borrowed and may be nil when the file
// is known to be plaintext.
func ReadFile(path string, identity *secret.Buffer) (*secret.Buffer, error) {
	raw, err := secret.ReadFromPath(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	if !IsSealed(raw.Bytes()) {
		return raw, nil
	}
	defer raw.Close()

	if identity == nil {
		return nil, fmt.Errorf("%s is sealed but no machine identity is available", path)
	}
	plaintext, err := Unseal(raw.Bytes(), identity)
	if err != nil {
		return nil, fmt.Errorf("unsealing %s: %w", path, err)
	}
	return plaintext, nil
}
