// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"net"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/wardenhq/warden/lib/codec"
	"github.com/wardenhq/warden/lib/ipc"
	"github.com/wardenhq/warden/lib/testutil"
)

// fakeService answers control-socket requests with a scripted
// response and records what it received.
type fakeService struct {
	mu       sync.Mutex
	requests []ipc.Request
	response ipc.Response
}

func (s *fakeService) received() []ipc.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ipc.Request(nil), s.requests...)
}

func startFakeService(t *testing.T, response ipc.Response) (*fakeService, string) {
	t.Helper()
	service := &fakeService{response: response}
	socketPath := filepath.Join(testutil.SocketDir(t), "syncservice.sock")

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatalf("listening on %s: %v", socketPath, err)
	}
	t.Cleanup(func() { listener.Close() })

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				var request ipc.Request
				if err := codec.NewDecoder(conn).Decode(&request); err != nil {
					return
				}
				service.mu.Lock()
				service.requests = append(service.requests, request)
				response := service.response
				service.mu.Unlock()
				codec.NewEncoder(conn).Encode(response)
			}(conn)
		}
	}()

	return service, socketPath
}

func TestStatusCommand(t *testing.T) {
	service, socketPath := startFakeService(t, ipc.Response{
		OK: true,
		Status: &ipc.Status{
			MachineID:               "machine-1",
			Transport:               "broker",
			Connected:               true,
			FullSyncIntervalSeconds: 14400,
			RuleSyncDeadlineSeconds: 610,
			PendingSyncs:            1,
			SpooledBatches:          2,
			BatchSize:               50,
		},
	})

	if err := statusCommand().Execute([]string{"--socket", socketPath}); err != nil {
		t.Fatalf("status: %v", err)
	}

	requests := service.received()
	if len(requests) != 1 || requests[0].Action != ipc.ActionStatus {
		t.Errorf("requests = %+v, want one %s", requests, ipc.ActionStatus)
	}
}

func TestStatusCommandJSON(t *testing.T) {
	_, socketPath := startFakeService(t, ipc.Response{
		OK:     true,
		Status: &ipc.Status{MachineID: "machine-1", Transport: "none"},
	})

	if err := statusCommand().Execute([]string{"--socket", socketPath, "--json"}); err != nil {
		t.Fatalf("status --json: %v", err)
	}
}

func TestStatusCommandNoStatus(t *testing.T) {
	_, socketPath := startFakeService(t, ipc.Response{OK: true})

	err := statusCommand().Execute([]string{"--socket", socketPath})
	if err == nil || !strings.Contains(err.Error(), "no status") {
		t.Errorf("err = %v, want a no-status error", err)
	}
}

func TestSyncCommand(t *testing.T) {
	service, socketPath := startFakeService(t, ipc.Response{OK: true})

	err := syncCommand().Execute([]string{"--socket", socketPath, "--kind", "rules", "--delay", "60"})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}

	requests := service.received()
	if len(requests) != 1 {
		t.Fatalf("got %d requests, want 1", len(requests))
	}
	request := requests[0]
	if request.Action != ipc.ActionSyncNow {
		t.Errorf("action = %q", request.Action)
	}
	if request.Kind != ipc.SyncKindRules {
		t.Errorf("kind = %q, want %q", request.Kind, ipc.SyncKindRules)
	}
	if request.DelaySeconds != 60 {
		t.Errorf("delay = %d, want 60", request.DelaySeconds)
	}
}

func TestSyncCommandDefaultsToFull(t *testing.T) {
	service, socketPath := startFakeService(t, ipc.Response{OK: true})

	if err := syncCommand().Execute([]string{"--socket", socketPath}); err != nil {
		t.Fatalf("sync: %v", err)
	}

	requests := service.received()
	if len(requests) != 1 || requests[0].Kind != ipc.SyncKindFull {
		t.Errorf("requests = %+v, want one full sync", requests)
	}
}

func TestSyncCommandServiceRejection(t *testing.T) {
	_, socketPath := startFakeService(t, ipc.Response{OK: false, Error: "unknown sync kind"})

	err := syncCommand().Execute([]string{"--socket", socketPath, "--kind", "everything"})
	if err == nil || !strings.Contains(err.Error(), "unknown sync kind") {
		t.Errorf("err = %v, want the service's rejection", err)
	}
}

func TestTokenCommand(t *testing.T) {
	service, socketPath := startFakeService(t, ipc.Response{OK: true})

	if err := tokenCommand().Execute([]string{"--socket", socketPath, "device-token-9"}); err != nil {
		t.Fatalf("token: %v", err)
	}

	requests := service.received()
	if len(requests) != 1 {
		t.Fatalf("got %d requests, want 1", len(requests))
	}
	if requests[0].Action != ipc.ActionTokenChanged || requests[0].Token != "device-token-9" {
		t.Errorf("request = %+v", requests[0])
	}
}

func TestTokenCommandRequiresArgument(t *testing.T) {
	_, socketPath := startFakeService(t, ipc.Response{OK: true})

	err := tokenCommand().Execute([]string{"--socket", socketPath})
	if err == nil || !strings.Contains(err.Error(), "device token") {
		t.Errorf("err = %v, want an argument error", err)
	}
}

func TestReconnectCommand(t *testing.T) {
	service, socketPath := startFakeService(t, ipc.Response{OK: true})

	if err := reconnectCommand().Execute([]string{"--socket", socketPath}); err != nil {
		t.Fatalf("reconnect: %v", err)
	}

	requests := service.received()
	if len(requests) != 1 || requests[0].Action != ipc.ActionReconnect {
		t.Errorf("requests = %+v, want one %s", requests, ipc.ActionReconnect)
	}
}

func TestCommandAgainstMissingService(t *testing.T) {
	err := reconnectCommand().Execute([]string{"--socket", filepath.Join(t.TempDir(), "nope.sock")})
	if err == nil {
		t.Error("expected a connection error against a missing socket")
	}
}

func TestPrintStatus(t *testing.T) {
	var out strings.Builder
	printStatus(&out, &ipc.Status{
		MachineID:               "machine-1",
		Transport:               "broker",
		Connected:               true,
		FullSyncIntervalSeconds: 600,
		RuleSyncDeadlineSeconds: 610,
		LastSyncUnix:            0,
		PendingSyncs:            2,
		SpooledBatches:          3,
		BatchSize:               25,
	})

	text := out.String()
	for _, want := range []string{"machine-1", "broker", "10m0s", "never", "2", "3", "25"} {
		if !strings.Contains(text, want) {
			t.Errorf("status output missing %q:\n%s", want, text)
		}
	}
}
