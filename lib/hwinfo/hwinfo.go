// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package hwinfo probes static host identity for sync preflight
// reporting: hostname, DMI board identity, and OS release.
package hwinfo

import (
	"os"
	"path/filepath"
	"strings"
)

// Info is the static host identity reported to the sync server.
type Info struct {
	Hostname        string
	Serial          string
	ModelIdentifier string
	OSVersion       string
	OSBuild         string
}

// Probe collects host identity from the running system.
//
// Probe never returns an error — missing or unreadable files produce
// empty fields rather than failures. A VM with no DMI serial is a
// valid host that should still report its hostname and OS version.
func Probe() Info {
	return probeFrom("/sys", "/etc/os-release")
}

// probeFrom is the testable implementation of Probe. It accepts root
// paths so tests can point at synthetic filesystems.
func probeFrom(sysRoot, osReleasePath string) Info {
	var info Info
	info.Hostname, _ = os.Hostname()
	info.Serial = ReadSysfsString(filepath.Join(sysRoot, "class/dmi/id/product_serial"))
	info.ModelIdentifier = ReadSysfsString(filepath.Join(sysRoot, "class/dmi/id/product_name"))
	info.OSVersion, info.OSBuild = readOSRelease(osReleasePath)
	return info
}

// ReadSysfsString reads a single-line sysfs file and returns its
// trimmed content. Returns "" on any error.
func ReadSysfsString(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// readOSRelease pulls the version fields out of an os-release file.
// Values may be quoted per os-release(5).
func readOSRelease(path string) (version, build string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", ""
	}
	for _, line := range strings.Split(string(data), "\n") {
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		value = strings.Trim(value, `"`)
		switch key {
		case "VERSION_ID":
			version = value
		case "BUILD_ID":
			build = value
		}
	}
	return version, build
}
