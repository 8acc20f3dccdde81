// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package spool

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/zeebo/blake3"

	"github.com/wardenhq/warden/lib/codec"
)

// Version is the envelope format version. Readers reject batches
// written by a newer format.
const Version = 1

// Extension is the batch file suffix. Files without it are ignored by
// List, so partially renamed or foreign files never reach a reader.
const Extension = ".batch"

// batchDigestKey is the BLAKE3 domain key for batch digests, ASCII
// zero-padded to the required 32 bytes.
var batchDigestKey = [32]byte{
	'w', 'a', 'r', 'd', 'e', 'n', '.', 's', 'p', 'o', 'o', 'l', '.',
	'b', 'a', 't', 'c', 'h',
}

// envelope is the on-disk batch frame. Digest covers the uncompressed
// payload, so corruption is caught whichever compression is in use.
type envelope struct {
	Version     int    `cbor:"version"`
	Compression uint8  `cbor:"compression"`
	RawSize     int    `cbor:"raw_size"`
	Digest      []byte `cbor:"digest"`
	Payload     []byte `cbor:"payload"`
}

// WriteBatch writes events as one batch file in dir and returns its
// path. The file lands atomically: temp file, fsync, rename,
// directory sync. A payload the tag cannot shrink is stored
// uncompressed. now orders the file name; callers pass clock.Now().
func WriteBatch(dir string, events []Event, tag CompressionTag, now time.Time) (string, error) {
	if len(events) == 0 {
		return "", fmt.Errorf("spool: empty batch")
	}

	raw, err := codec.Marshal(events)
	if err != nil {
		return "", fmt.Errorf("spool: encoding events: %w", err)
	}
	digest := digestPayload(raw)

	payload, err := compress(raw, tag)
	if err == errIncompressible {
		payload, tag = raw, CompressionNone
	} else if err != nil {
		return "", fmt.Errorf("spool: compressing batch: %w", err)
	}

	frame, err := codec.Marshal(envelope{
		Version:     Version,
		Compression: uint8(tag),
		RawSize:     len(raw),
		Digest:      digest[:],
		Payload:     payload,
	})
	if err != nil {
		return "", fmt.Errorf("spool: encoding envelope: %w", err)
	}

	name := fmt.Sprintf("%020d-%s%s", now.UnixNano(), hex.EncodeToString(digest[:4]), Extension)
	path := filepath.Join(dir, name)
	if err := writeAtomic(path, frame); err != nil {
		return "", err
	}
	return path, nil
}

// ReadBatch reads one batch file, verifies its digest, and returns
// the events.
func ReadBatch(path string) ([]Event, error) {
	raw, err := readVerified(path)
	if err != nil {
		return nil, err
	}

	var events []Event
	if err := codec.Unmarshal(raw, &events); err != nil {
		return nil, fmt.Errorf("spool: decoding events of %s: %w", path, err)
	}
	return events, nil
}

// BatchInfo describes a verified batch file for upload bookkeeping.
type BatchInfo struct {
	// Digest is the hex BLAKE3 digest of the uncompressed payload.
	Digest string

	// Events is the number of events in the batch.
	Events int

	// Size is the on-disk frame size in bytes.
	Size int64
}

// Describe verifies a batch file and returns its upload metadata
// without handing back the events.
func Describe(path string) (BatchInfo, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return BatchInfo{}, err
	}

	raw, err := readVerified(path)
	if err != nil {
		return BatchInfo{}, err
	}
	var events []Event
	if err := codec.Unmarshal(raw, &events); err != nil {
		return BatchInfo{}, fmt.Errorf("spool: decoding events of %s: %w", path, err)
	}

	digest := digestPayload(raw)
	return BatchInfo{
		Digest: hex.EncodeToString(digest[:]),
		Events: len(events),
		Size:   stat.Size(),
	}, nil
}

// readVerified reads a batch frame, checks the version and digest, and
// returns the uncompressed payload.
func readVerified(path string) ([]byte, error) {
	frame, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var env envelope
	if err := codec.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("spool: decoding envelope of %s: %w", path, err)
	}
	if env.Version > Version {
		return nil, fmt.Errorf("spool: %s has format version %d, newest supported is %d", path, env.Version, Version)
	}
	if len(env.Digest) != 32 {
		return nil, fmt.Errorf("spool: %s has a %d-byte digest, want 32", path, len(env.Digest))
	}

	raw, err := decompress(env.Payload, CompressionTag(env.Compression), env.RawSize)
	if err != nil {
		return nil, fmt.Errorf("spool: %s: %w", path, err)
	}

	digest := digestPayload(raw)
	if !digestEqual(digest[:], env.Digest) {
		return nil, fmt.Errorf("spool: digest mismatch in %s: payload is corrupt", path)
	}
	return raw, nil
}

// List returns the batch files in dir, oldest first. A missing dir is
// an empty spool, not an error.
func List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("spool: reading %s: %w", dir, err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), Extension) {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

func digestPayload(raw []byte) [32]byte {
	hasher, err := blake3.NewKeyed(batchDigestKey[:])
	if err != nil {
		panic("spool: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(raw)
	var digest [32]byte
	copy(digest[:], hasher.Sum(nil))
	return digest
}

func digestEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// writeAtomic lands data at path through a temp file so readers never
// observe a partial batch, syncing the file and then the directory.
func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"

	file, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("spool: creating %s: %w", tmp, err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("spool: writing %s: %w", tmp, err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("spool: syncing %s: %w", tmp, err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("spool: closing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("spool: renaming %s into place: %w", tmp, err)
	}

	if dir, err := os.Open(filepath.Dir(path)); err == nil {
		dir.Sync()
		dir.Close()
	}
	return nil
}
