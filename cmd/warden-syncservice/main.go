// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// warden-syncservice is the unprivileged sync half of the Warden host
// agent. It keeps this host's policy current against the sync server,
// ships spooled execution events up, and listens for push
// notifications so policy changes land in seconds instead of waiting
// out the polling interval. The privileged daemon (wardend) never
// talks to the network; everything it needs crosses the two local
// sockets.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/wardenhq/warden/lib/config"
	"github.com/wardenhq/warden/lib/process"
	"github.com/wardenhq/warden/lib/sealed"
	"github.com/wardenhq/warden/lib/version"
	"github.com/wardenhq/warden/push"
	"github.com/wardenhq/warden/syncservice"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath  string
		showVersion bool
	)
	flag.StringVar(&configPath, "config", "", "path to the service configuration (defaults to $WARDEN_CONFIG)")
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("warden-syncservice %s\n", version.Info())
		return nil
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	machineID, err := loadOrCreateMachineID(cfg.Paths.MachineID, logger)
	if err != nil {
		return fmt.Errorf("machine ID: %w", err)
	}

	identity, firstBoot, err := loadOrGenerateIdentity(cfg.Paths.Identity, logger)
	if err != nil {
		return fmt.Errorf("machine identity: %w", err)
	}
	defer identity.Close()
	if !firstBoot {
		if recipient, err := sealed.Recipient(identity); err == nil {
			logger.Info("machine identity loaded", "recipient", recipient)
		}
	}

	daemon := syncservice.NewDaemonClient(cfg.Paths.DaemonSocket, logger)

	connection, err := syncservice.NewConnection(syncservice.ClientConfig{
		ServerURL:  cfg.Server.URL,
		MachineID:  machineID,
		HTTPClient: &http.Client{Timeout: cfg.RequestTimeout()},
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	manager, err := syncservice.NewManager(syncservice.ManagerConfig{
		Connection: connection,
		Daemon:     daemon,
		Machine:    collectMachineInfo(),
		SpoolDir:   cfg.Paths.Spool,
		BatchSize:  cfg.Spool.BatchSize,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	transport := push.Select(buildPushConfig(cfg, machineID, identity, logger), push.SelectorOptions{
		Logger: logger,
		Daemon: manager.DaemonHandle(),
	})
	if transport != nil {
		logger.Info("push transport selected", "transport", transport.Name())
	} else {
		logger.Info("no push transport available, running on polling cadence")
	}

	scheduler := push.NewScheduler(push.SchedulerConfig{
		Client:   transport,
		Delegate: manager,
		Logger:   logger,
	})
	manager.Bind(scheduler)

	server, err := syncservice.NewServer(syncservice.ServerConfig{
		SocketPath: cfg.Paths.ControlSocket,
		Scheduler:  scheduler,
		Manager:    manager,
		MachineID:  machineID,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	if err := server.Listen(); err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.Paths.ControlSocket, err)
	}
	logger.Info("sync service ready",
		"machine_id", machineID,
		"server", cfg.Server.URL,
		"socket", cfg.Paths.ControlSocket,
		"environment", cfg.Environment,
	)

	manager.Start()
	scheduler.Start(ctx)
	go server.Serve(ctx)

	<-ctx.Done()
	logger.Info("shutting down")

	// New control requests stop first, then the trigger sources, then
	// the worker draining into the network.
	server.Close()
	scheduler.Stop()
	manager.Stop()
	connection.CloseIdleConnections()

	return nil
}
