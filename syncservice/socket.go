// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package syncservice

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/wardenhq/warden/lib/codec"
	"github.com/wardenhq/warden/lib/ipc"
	"github.com/wardenhq/warden/lib/netutil"
	"github.com/wardenhq/warden/push"
)

// ServerConfig assembles a control socket server.
type ServerConfig struct {
	// SocketPath is where the unix socket is created. Required.
	SocketPath string

	// Scheduler owns the push transport. Required.
	Scheduler *push.Scheduler

	// Manager owns the sync queue. Required.
	Manager *Manager

	// MachineID is reported in status responses.
	MachineID string

	Logger *slog.Logger
}

// Server answers CBOR request/response exchanges on the control
// socket: status queries, sync requests, and push events relayed by
// the host daemon. One exchange per connection.
type Server struct {
	socketPath string
	scheduler  *push.Scheduler
	manager    *Manager
	machineID  string
	logger     *slog.Logger

	listener net.Listener
}

// NewServer builds a server; Listen creates its socket.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.SocketPath == "" {
		return nil, fmt.Errorf("syncservice: SocketPath is required")
	}
	if cfg.Scheduler == nil {
		return nil, fmt.Errorf("syncservice: Scheduler is required")
	}
	if cfg.Manager == nil {
		return nil, fmt.Errorf("syncservice: Manager is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{
		socketPath: cfg.SocketPath,
		scheduler:  cfg.Scheduler,
		manager:    cfg.Manager,
		machineID:  cfg.MachineID,
		logger:     cfg.Logger,
	}, nil
}

// Listen creates the unix socket, removing a stale one from a
// previous run. The socket is group-writable so the daemon, running
// as a different user in production, can connect.
func (s *Server) Listen() error {
	socketDir := filepath.Dir(s.socketPath)
	if err := os.MkdirAll(socketDir, 0755); err != nil {
		return fmt.Errorf("creating socket directory %s: %w", socketDir, err)
	}

	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket %s: %w", s.socketPath, err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return err
	}

	if err := os.Chmod(s.socketPath, 0660); err != nil {
		listener.Close()
		return fmt.Errorf("setting socket permissions: %w", err)
	}

	s.listener = listener
	return nil
}

// Serve accepts connections until the listener closes or the context
// is cancelled. Call Listen first.
func (s *Server) Serve(ctx context.Context) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if netutil.IsExpectedCloseError(err) {
				return
			}
			s.logger.Error("accept error", "error", err)
			continue
		}
		go s.handleConnection(ctx, conn)
	}
}

// Close shuts the listener down, which makes Serve return. In-flight
// exchanges are not waited for; each runs out on its own connection
// deadline.
func (s *Server) Close() error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

// handleConnection processes a single request/response exchange.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(30 * time.Second))

	decoder := codec.NewDecoder(conn)
	encoder := codec.NewEncoder(conn)

	var request ipc.Request
	if err := decoder.Decode(&request); err != nil {
		s.logger.Error("decoding control request", "error", err)
		if err := encoder.Encode(ipc.Response{OK: false, Error: "invalid request"}); err != nil {
			s.logger.Error("encoding control error response", "error", err)
		}
		return
	}

	s.logger.Debug("control request", "action", request.Action)

	var response ipc.Response
	switch request.Action {
	case ipc.ActionStatus:
		response = ipc.Response{OK: true, Status: s.statusSnapshot()}

	case ipc.ActionSyncNow:
		response = s.handleSyncNow(&request)

	case ipc.ActionTokenChanged:
		s.scheduler.TokenChanged(ctx, request.Token)
		response = ipc.Response{OK: true}

	case ipc.ActionPlatformMessage:
		s.scheduler.HandleInboundPlatformMessage(request.Payload)
		response = ipc.Response{OK: true}

	case ipc.ActionReconnect:
		s.scheduler.ForceReconnect()
		response = ipc.Response{OK: true}

	case ipc.ActionUploadEvent:
		response = s.handleUploadEvent(&request)

	default:
		response = ipc.Response{OK: false, Error: fmt.Sprintf("unknown action %q", request.Action)}
	}

	if err := encoder.Encode(response); err != nil {
		s.logger.Error("encoding control response", "action", request.Action, "error", err)
	}
}

func (s *Server) handleSyncNow(request *ipc.Request) ipc.Response {
	delay := time.Duration(request.DelaySeconds) * time.Second
	switch request.Kind {
	case "", ipc.SyncKindFull:
		if delay > 0 {
			s.manager.TriggerFullSyncIn(delay)
		} else {
			s.manager.TriggerFullSync()
		}
	case ipc.SyncKindRules:
		if delay > 0 {
			s.manager.TriggerRuleSyncIn(delay)
		} else {
			s.manager.TriggerRuleSync()
		}
	default:
		return ipc.Response{OK: false, Error: fmt.Sprintf("unknown sync kind %q", request.Kind)}
	}
	return ipc.Response{OK: true}
}

func (s *Server) handleUploadEvent(request *ipc.Request) ipc.Response {
	if request.Path == "" {
		return ipc.Response{OK: false, Error: "upload-event requires a batch path"}
	}
	if err := s.manager.UploadEvent(request.Path); err != nil {
		return ipc.Response{OK: false, Error: err.Error()}
	}
	return ipc.Response{OK: true}
}

func (s *Server) statusSnapshot() *ipc.Status {
	var lastUnix int64
	if last := s.manager.LastSync(); !last.IsZero() {
		lastUnix = last.Unix()
	}
	return &ipc.Status{
		MachineID:               s.machineID,
		Transport:               s.scheduler.Transport(),
		Connected:               s.scheduler.IsConnected(),
		FullSyncIntervalSeconds: int64(s.scheduler.FullSyncInterval() / time.Second),
		RuleSyncDeadlineSeconds: int64(s.scheduler.RuleSyncDeadline() / time.Second),
		LastSyncUnix:            lastUnix,
		PendingSyncs:            s.manager.PendingSyncs(),
		SpooledBatches:          s.manager.SpooledBatches(),
		BatchSize:               s.manager.BatchSize(),
	}
}
