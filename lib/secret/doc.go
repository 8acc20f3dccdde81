// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret holds sensitive bytes (broker seeds, API keys, age
// identities) in memory the garbage collector never sees.
//
// [Buffer] allocates outside the Go heap with mmap(MAP_ANONYMOUS),
// pins the pages with mlock so they cannot reach swap, and excludes
// them from core dumps with madvise(MADV_DONTDUMP). Close zeroes,
// unlocks, and unmaps; afterwards any access panics. Because the
// region is invisible to the collector it is never copied or
// relocated, so zeroing on Close genuinely destroys the material.
//
// [NewFromBytes] copies into protected memory and zeroes the source
// slice; [ReadFromPath] loads a secret from a file or stdin. Use
// [Buffer.String] only at API boundaries that demand a string — the
// copy it makes lives on the heap.
//
// Depends only on golang.org/x/sys/unix. Imported by lib/sealed for
// identity and credential protection.
package secret
