// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func generate(t *testing.T) *Keypair {
	t.Helper()
	kp, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	t.Cleanup(func() { kp.Close() })
	return kp
}

func TestGenerateKeypairShape(t *testing.T) {
	kp := generate(t)

	if !strings.HasPrefix(kp.Identity.String(), "AGE-SECRET-KEY-1") {
		t.Errorf("identity does not have AGE-SECRET-KEY-1 prefix")
	}
	if !strings.HasPrefix(kp.Recipient, "age1") {
		t.Errorf("recipient = %q, want age1 prefix", kp.Recipient)
	}

	other := generate(t)
	if kp.Recipient == other.Recipient {
		t.Error("two generated keypairs share a recipient")
	}
}

func TestSealUnsealRoundTrip(t *testing.T) {
	kp := generate(t)

	plaintext := []byte(`{"jwt":"eyJ0eXAi...","seed":"SUAGO3KI..."}`)
	sealedData, err := Seal(append([]byte(nil), plaintext...), []string{kp.Recipient})
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	if !IsSealed(sealedData) {
		t.Error("IsSealed rejected freshly sealed data")
	}
	if strings.Contains(string(sealedData), "seed") {
		t.Error("ciphertext contains plaintext material")
	}

	recovered, err := Unseal(sealedData, kp.Identity)
	if err != nil {
		t.Fatalf("Unseal: %v", err)
	}
	defer recovered.Close()
	if recovered.String() != string(plaintext) {
		t.Errorf("Unseal = %q, want %q", recovered.String(), plaintext)
	}
}

func TestSealToMultipleRecipients(t *testing.T) {
	machine := generate(t)
	escrow := generate(t)

	plaintext := []byte("shared credential")
	sealedData, err := Seal(append([]byte(nil), plaintext...), []string{machine.Recipient, escrow.Recipient})
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	for name, kp := range map[string]*Keypair{"machine": machine, "escrow": escrow} {
		recovered, err := Unseal(sealedData, kp.Identity)
		if err != nil {
			t.Fatalf("Unseal(%s): %v", name, err)
		}
		if recovered.String() != string(plaintext) {
			t.Errorf("Unseal(%s) = %q, want %q", name, recovered.String(), plaintext)
		}
		recovered.Close()
	}
}

func TestUnsealWrongIdentityFails(t *testing.T) {
	kp := generate(t)
	wrong := generate(t)

	sealedData, err := Seal([]byte("secret"), []string{kp.Recipient})
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, err := Unseal(sealedData, wrong.Identity); err == nil {
		t.Error("Unseal with wrong identity succeeded")
	}
}

func TestSealValidatesRecipients(t *testing.T) {
	if _, err := Seal([]byte("data"), nil); err == nil {
		t.Error("Seal with no recipients succeeded")
	}
	if _, err := Seal([]byte("data"), []string{"not-a-key"}); err == nil {
		t.Error("Seal with malformed recipient succeeded")
	}
}

func TestUnsealGarbageFails(t *testing.T) {
	kp := generate(t)
	if _, err := Unseal([]byte("definitely not age data"), kp.Identity); err == nil {
		t.Error("Unseal accepted garbage")
	}
}

func TestIsSealed(t *testing.T) {
	kp := generate(t)
	sealedData, err := Seal([]byte("x"), []string{kp.Recipient})
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	cases := []struct {
		name string
		data []byte
		want bool
	}{
		{"armored", sealedData, true},
		{"armored with leading space", append([]byte("\n  "), sealedData...), true},
		{"binary header", []byte("age-encryption.org/v1\nrest"), true},
		{"plaintext json", []byte(`{"jwt":"x","seed":"y"}`), false},
		{"empty", nil, false},
	}
	for _, tc := range cases {
		if got := IsSealed(tc.data); got != tc.want {
			t.Errorf("IsSealed(%s) = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestLoadIdentity(t *testing.T) {
	kp := generate(t)

	path := filepath.Join(t.TempDir(), "machine.key")
	if err := os.WriteFile(path, []byte(kp.Identity.String()+"\n"), 0o600); err != nil {
		t.Fatalf("writing identity file: %v", err)
	}

	identity, err := LoadIdentity(path)
	if err != nil {
		t.Fatalf("LoadIdentity: %v", err)
	}
	defer identity.Close()

	sealedData, err := Seal([]byte("check"), []string{kp.Recipient})
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	recovered, err := Unseal(sealedData, identity)
	if err != nil {
		t.Fatalf("Unseal with loaded identity: %v", err)
	}
	defer recovered.Close()
	if recovered.String() != "check" {
		t.Errorf("Unseal = %q, want %q", recovered.String(), "check")
	}
}

func TestLoadIdentityRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.key")
	if err := os.WriteFile(path, []byte("not an identity"), 0o600); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	if _, err := LoadIdentity(path); err == nil {
		t.Error("LoadIdentity accepted garbage")
	}
}

func TestReadFilePlaintext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broker.creds")
	if err := os.WriteFile(path, []byte("eyJhbGciOi.payload.sig\nSUAGEXAMPLE\n"), 0o600); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	// Plaintext files pass through without an identity.
	buf, err := ReadFile(path, nil)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	defer buf.Close()
	if buf.String() != "eyJhbGciOi.payload.sig\nSUAGEXAMPLE" {
		t.Errorf("ReadFile = %q", buf.String())
	}
}

func TestReadFileSealed(t *testing.T) {
	kp := generate(t)

	plaintext := "eyJhbGciOi.payload.sig\nSUAGEXAMPLE"
	sealedData, err := Seal([]byte(plaintext), []string{kp.Recipient})
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	path := filepath.Join(t.TempDir(), "broker.creds")
	if err := os.WriteFile(path, sealedData, 0o600); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	buf, err := ReadFile(path, kp.Identity)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	defer buf.Close()
	if buf.String() != plaintext {
		t.Errorf("ReadFile = %q, want %q", buf.String(), plaintext)
	}

	if _, err := ReadFile(path, nil); err == nil {
		t.Error("ReadFile of a sealed file without identity succeeded")
	}
}

func TestRecipientMatchesKeypair(t *testing.T) {
	kp := generate(t)

	recipient, err := Recipient(kp.Identity)
	if err != nil {
		t.Fatalf("Recipient: %v", err)
	}
	if recipient != kp.Recipient {
		t.Errorf("Recipient = %q, want %q", recipient, kp.Recipient)
	}
}
