// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package syncservice

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/wardenhq/warden/lib/clock"
	"github.com/wardenhq/warden/lib/spool"
	"github.com/wardenhq/warden/lib/version"
	"github.com/wardenhq/warden/push"
)

// DefaultBatchSize is the advisory event count per upload until a
// preflight response overrides it.
const DefaultBatchSize = 50

// Kind selects the stages of a sync run.
type Kind string

const (
	// KindFull runs every stage: preflight, event upload, rule
	// download, postflight.
	KindFull Kind = "full"

	// KindRules skips event upload: preflight, rule download,
	// postflight.
	KindRules Kind = "rules"

	// KindPreflight runs preflight alone, to announce a fresh push
	// token or pick up new policy without moving bulk data.
	KindPreflight Kind = "preflight"
)

// Daemon is the slice of the privileged daemon the manager uses.
// *DaemonClient implements it.
type Daemon interface {
	push.DaemonConn
	ApplyRules(ctx context.Context, rules []Rule) error
	RuleSyncComplete(ctx context.Context) error
}

// ManagerConfig assembles a Manager.
type ManagerConfig struct {
	// Connection is the sync server client. Required.
	Connection *Connection

	// Daemon is the privileged daemon client. Required.
	Daemon Daemon

	// Machine is the host inventory reported at preflight.
	Machine MachineInfo

	// SpoolDir is where the daemon leaves event batches. Required.
	SpoolDir string

	// BatchSize is the advisory event count per upload. Zero means
	// DefaultBatchSize. The server may override it at preflight.
	BatchSize int

	Clock  clock.Clock
	Logger *slog.Logger
}

// Manager owns the serialized sync queue. Sync requests from every
// source — the scheduler's timers, push deliveries, the control
// socket — funnel into one pending list; a worker goroutine runs them
// one at a time, and a request for a kind already pending coalesces
// into the queued one.
//
// Manager implements the delegate interface the push scheduler drives.
type Manager struct {
	conn     *Connection
	daemon   Daemon
	machine  MachineInfo
	spoolDir string
	clock    clock.Clock
	logger   *slog.Logger

	// scheduler supplies the push token at preflight and absorbs the
	// server's sync state. Bound once, before Start; nil in tests that
	// exercise the manager alone.
	scheduler *push.Scheduler

	mu           sync.Mutex
	pending      []Kind
	backoffUntil time.Time
	lastSync     time.Time
	batchSize    int
	fullTimer    *clock.Timer
	ruleTimer    *clock.Timer
	started      bool
	stopped      bool

	notify chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewManager builds a stopped manager; Start launches its worker.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Connection == nil {
		return nil, fmt.Errorf("syncservice: Connection is required")
	}
	if cfg.Daemon == nil {
		return nil, fmt.Errorf("syncservice: Daemon is required")
	}
	if cfg.SpoolDir == "" {
		return nil, fmt.Errorf("syncservice: SpoolDir is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Manager{
		conn:      cfg.Connection,
		daemon:    cfg.Daemon,
		machine:   cfg.Machine,
		spoolDir:  cfg.SpoolDir,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
		batchSize: cfg.BatchSize,
		notify:    make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
	}, nil
}

// Bind connects the manager to the scheduler that owns the push
// transport. Call before Start; the two are built in a cycle (the
// scheduler needs the manager as its delegate), so this is a second
// construction step rather than a config field.
func (m *Manager) Bind(s *push.Scheduler) {
	m.scheduler = s
}

// Start launches the sync worker.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.started || m.stopped {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run()
}

// Stop cancels pending timers and stops the worker. Queued syncs that
// have not started are dropped. Idempotent.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	if m.fullTimer != nil {
		m.fullTimer.Stop()
		m.fullTimer = nil
	}
	if m.ruleTimer != nil {
		m.ruleTimer.Stop()
		m.ruleTimer = nil
	}
	close(m.stopCh)
	m.mu.Unlock()

	m.wg.Wait()
}

// TriggerFullSync enqueues a full sync now.
func (m *Manager) TriggerFullSync() { m.enqueue(KindFull) }

// TriggerRuleSync enqueues a rule-only sync now.
func (m *Manager) TriggerRuleSync() { m.enqueue(KindRules) }

// RunPreflight enqueues a preflight-only run.
func (m *Manager) RunPreflight() { m.enqueue(KindPreflight) }

// TriggerFullSyncIn enqueues a full sync after the delay. A second
// call replaces the pending one; a non-positive delay enqueues now.
func (m *Manager) TriggerFullSyncIn(delay time.Duration) {
	if delay <= 0 {
		m.enqueue(KindFull)
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	if m.fullTimer != nil {
		m.fullTimer.Stop()
	}
	m.fullTimer = m.clock.AfterFunc(delay, func() { m.enqueue(KindFull) })
}

// TriggerRuleSyncIn enqueues a rule sync after the delay. A second
// call replaces the pending one; a non-positive delay enqueues now.
func (m *Manager) TriggerRuleSyncIn(delay time.Duration) {
	if delay <= 0 {
		m.enqueue(KindRules)
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	if m.ruleTimer != nil {
		m.ruleTimer.Stop()
	}
	m.ruleTimer = m.clock.AfterFunc(delay, func() { m.enqueue(KindRules) })
}

// DaemonHandle returns the daemon connection for transports that need
// platform tokens.
func (m *Manager) DaemonHandle() push.DaemonConn { return m.daemon }

// UploadEvent ships one spooled batch immediately, outside the sync
// queue. The daemon uses this when a blocked execution should be
// visible on the server without waiting for the next full sync.
func (m *Manager) UploadEvent(path string) error {
	info, err := spool.Describe(path)
	if err != nil {
		return fmt.Errorf("syncservice: inspecting batch: %w", err)
	}
	if _, err := m.conn.UploadBatch(context.Background(), path, info); err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		m.logger.Warn("uploaded batch could not be removed", "path", path, "error", err)
	}
	m.logger.Info("uploaded event batch", "batch", filepath.Base(path), "events", info.Events)
	return nil
}

// LastSync returns the completion time of the last successful full or
// rule sync, zero if none has completed.
func (m *Manager) LastSync() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSync
}

// PendingSyncs counts queued runs that have not started.
func (m *Manager) PendingSyncs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// BatchSize returns the advisory event count per upload currently in
// effect.
func (m *Manager) BatchSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.batchSize
}

// SpooledBatches counts batch files waiting for upload.
func (m *Manager) SpooledBatches() int {
	paths, err := spool.List(m.spoolDir)
	if err != nil {
		m.logger.Warn("listing spool failed", "error", err)
		return 0
	}
	return len(paths)
}

func (m *Manager) enqueue(kind Kind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	if slices.Contains(m.pending, kind) {
		m.logger.Debug("sync already queued, coalescing", "kind", kind)
		return
	}
	m.pending = append(m.pending, kind)
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *Manager) pop() (Kind, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pending) == 0 {
		return "", false
	}
	kind := m.pending[0]
	m.pending = m.pending[1:]
	return kind, true
}

func (m *Manager) run() {
	defer m.wg.Done()
	for {
		kind, ok := m.pop()
		if !ok {
			select {
			case <-m.notify:
				continue
			case <-m.stopCh:
				return
			}
		}
		select {
		case <-m.stopCh:
			return
		default:
		}
		m.runSync(kind)
	}
}

// runSync executes one sync run. Failures are logged and left to the
// next scheduled run; the only retry state kept is the server's
// backoff request.
func (m *Manager) runSync(kind Kind) {
	m.mu.Lock()
	until := m.backoffUntil
	m.mu.Unlock()
	if m.clock.Now().Before(until) {
		m.logger.Info("sync skipped, server requested backoff", "kind", kind, "until", until)
		return
	}

	ctx := context.Background()
	logger := m.logger.With("kind", kind)

	if _, err := m.runPreflightStage(ctx); err != nil {
		logger.Error("preflight failed", "error", err)
		return
	}
	if kind == KindPreflight {
		logger.Info("preflight complete")
		return
	}

	uploaded := 0
	if kind == KindFull {
		uploaded = m.uploadSpool(ctx, logger)
	}

	received, processed, err := m.downloadRules(ctx)
	if err != nil {
		logger.Error("rule download failed", "error", err, "rules_received", received)
		return
	}
	if received > 0 {
		if err := m.daemon.RuleSyncComplete(ctx); err != nil {
			logger.Warn("daemon rule sync notification failed", "error", err)
		}
	}

	post := &PostflightRequest{
		SyncKind:       string(kind),
		RulesReceived:  received,
		RulesProcessed: processed,
	}
	if err := m.conn.Postflight(ctx, post); err != nil {
		logger.Warn("postflight failed", "error", err)
	}

	m.mu.Lock()
	m.lastSync = m.clock.Now()
	m.mu.Unlock()

	logger.Info("sync complete",
		"rules_received", received,
		"rules_processed", processed,
		"batches_uploaded", uploaded,
	)
}

// runPreflightStage reports machine facts and the push token, absorbs
// the server's policy, and routes the push-relevant parts into the
// scheduler.
func (m *Manager) runPreflightStage(ctx context.Context) (*PreflightResponse, error) {
	request := &PreflightRequest{
		Serial:          m.machine.Serial,
		Hostname:        m.machine.Hostname,
		OSVersion:       m.machine.OSVersion,
		OSBuild:         m.machine.OSBuild,
		ModelIdentifier: m.machine.ModelIdentifier,
		PrimaryUser:     m.machine.PrimaryUser,
		AgentVersion:    version.Short(),
	}
	if m.scheduler != nil {
		request.PushToken = m.scheduler.Token()
	}

	response, err := m.conn.Preflight(ctx, request)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if response.BatchSize > 0 {
		m.batchSize = response.BatchSize
	}
	if response.BackoffIntervalSeconds > 0 {
		m.backoffUntil = m.clock.Now().Add(time.Duration(response.BackoffIntervalSeconds) * time.Second)
	}
	m.mu.Unlock()
	if response.BackoffIntervalSeconds > 0 {
		m.logger.Info("server requested sync backoff", "seconds", response.BackoffIntervalSeconds)
	}

	if m.scheduler != nil {
		m.scheduler.HandlePreflightSyncState(response.SyncState())
	}
	return response, nil
}

// uploadSpool ships spooled batches oldest first. A transient failure
// stops the pass — the rest of the spool waits for the next run — but
// a batch the server permanently rejects, or one that fails its digest
// check, is dropped so it cannot wedge the spool head forever.
func (m *Manager) uploadSpool(ctx context.Context, logger *slog.Logger) int {
	paths, err := spool.List(m.spoolDir)
	if err != nil {
		logger.Warn("listing spool failed", "error", err)
		return 0
	}

	uploaded := 0
	for _, path := range paths {
		batch := filepath.Base(path)

		info, err := spool.Describe(path)
		if err != nil {
			logger.Warn("dropping unreadable batch", "batch", batch, "error", err)
			os.Remove(path)
			continue
		}

		if _, err := m.conn.UploadBatch(ctx, path, info); err != nil {
			if IsTransientError(err) {
				logger.Warn("batch upload failed, keeping spool for next run", "batch", batch, "error", err)
				break
			}
			logger.Error("server rejected batch, dropping it", "batch", batch, "error", err)
			os.Remove(path)
			continue
		}

		if err := os.Remove(path); err != nil {
			logger.Warn("uploaded batch could not be removed", "batch", batch, "error", err)
		}
		uploaded++
	}
	return uploaded
}

// downloadRules pages rules through the daemon, counting what the
// server sent and what the daemon accepted.
func (m *Manager) downloadRules(ctx context.Context) (received, processed int, err error) {
	received, err = m.conn.DownloadRules(ctx, func(page []Rule) error {
		if err := m.daemon.ApplyRules(ctx, page); err != nil {
			return err
		}
		processed += len(page)
		return nil
	})
	return received, processed, err
}
