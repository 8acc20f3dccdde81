// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package push

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/wardenhq/warden/lib/clock"
)

// DefaultBaseFullSyncInterval is the polling cadence while no push
// transport is connected. Shorter than the push-transport interval:
// a host the server cannot wake has to check in more often.
const DefaultBaseFullSyncInterval = 10 * time.Minute

// platformMessage is the notification payload relayed from a platform
// push channel. Senders usually omit everything; the zero value means
// "rule sync, jittered".
type platformMessage struct {
	Kind         string `json:"kind"`
	DelaySeconds int    `json:"delay_seconds"`
}

const (
	messageKindFullSync = "full-sync"
	messageKindRuleSync = "rule-sync"
)

// SchedulerConfig assembles a Scheduler. Client may be nil (no push
// transport; polling only). Delegate is required.
type SchedulerConfig struct {
	Client   Client
	Delegate SyncDelegate

	// BaseFullSyncInterval overrides the polling cadence used while
	// no transport is connected. Zero means the default.
	BaseFullSyncInterval time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

// Scheduler owns the sync timing decisions: the periodic full sync,
// the deadline one-shot for push-requested rule syncs, and the
// one-shot for push-requested full syncs. It wraps the selected
// transport and is the only component that calls the SyncDelegate.
//
// All entry points are safe for concurrent use. Rescheduling a
// one-shot replaces the pending one; timers never stack.
type Scheduler struct {
	client       Client
	delegate     SyncDelegate
	baseInterval time.Duration
	clock        clock.Clock
	logger       *slog.Logger

	mu         sync.Mutex
	started    bool
	stopped    bool
	fullTicker *clock.Ticker
	ruleTimer  *clock.Timer
	pushTimer  *clock.Timer

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewScheduler builds a stopped scheduler; Start arms it.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	if cfg.BaseFullSyncInterval <= 0 {
		cfg.BaseFullSyncInterval = DefaultBaseFullSyncInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Scheduler{
		client:       cfg.Client,
		delegate:     cfg.Delegate,
		baseInterval: cfg.BaseFullSyncInterval,
		clock:        cfg.Clock,
		logger:       cfg.Logger,
		stopCh:       make(chan struct{}),
	}
}

// Start brings the transport up and arms the periodic full sync. If
// the transport connected immediately, a preflight run is enqueued so
// the server learns the token before the first periodic sync.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	if s.client != nil {
		s.client.Start(ctx)
		if s.client.IsConnected() {
			s.logger.Info("push transport connected at startup", "transport", s.client.Name())
			s.delegate.RunPreflight()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.fullTicker = s.clock.NewTicker(s.currentFullSyncInterval())
	s.wg.Add(1)
	go s.runFullSyncLoop(s.fullTicker)
}

// Stop disarms every timer and stops the transport. Idempotent; no
// delegate calls are made after Stop returns.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	if s.fullTicker != nil {
		s.fullTicker.Stop()
	}
	if s.ruleTimer != nil {
		s.ruleTimer.Stop()
		s.ruleTimer = nil
	}
	if s.pushTimer != nil {
		s.pushTimer.Stop()
		s.pushTimer = nil
	}
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	if s.client != nil {
		s.client.Stop()
	}
}

// IsConnected reports whether a push transport holds a token.
func (s *Scheduler) IsConnected() bool {
	return s.client != nil && s.client.IsConnected()
}

// Transport names the selected transport, or "none".
func (s *Scheduler) Transport() string {
	if s.client == nil {
		return "none"
	}
	return s.client.Name()
}

// Token returns the current push token, or "".
func (s *Scheduler) Token() string {
	if s.client == nil {
		return ""
	}
	return s.client.Token()
}

// FullSyncInterval returns the cadence currently in effect.
func (s *Scheduler) FullSyncInterval() time.Duration {
	return s.currentFullSyncInterval()
}

// RuleSyncDeadline returns the window inside which push-triggered rule
// syncs are jittered.
func (s *Scheduler) RuleSyncDeadline() time.Duration {
	if s.client != nil {
		return s.client.GlobalRuleSyncDeadline()
	}
	return DefaultGlobalRuleSyncDeadline
}

// HandlePreflightSyncState feeds a preflight response through the
// transport. When that changes the effective full sync cadence, the
// periodic timer is re-armed from now rather than left to run out its
// old interval.
func (s *Scheduler) HandlePreflightSyncState(state SyncState) {
	if s.client == nil {
		return
	}
	previous := s.currentFullSyncInterval()
	s.client.ApplyPreflightState(state)
	s.rearmIfCadenceChanged(previous)
}

// TokenChanged relays a platform token event to the transport. A
// genuinely new token is announced to the server through a preflight
// run.
func (s *Scheduler) TokenChanged(ctx context.Context, token string) {
	if s.client == nil {
		return
	}
	previousCadence := s.currentFullSyncInterval()
	previous := s.client.Token()
	s.client.TokenChanged(ctx, token)
	current := s.client.Token()
	if current != "" && current != previous {
		s.logger.Info("push token changed, announcing through preflight",
			"transport", s.client.Name())
		s.delegate.RunPreflight()
	}
	s.rearmIfCadenceChanged(previousCadence)
}

// HandleInboundPlatformMessage reacts to a push delivery relayed by
// the host daemon. The payload selects full or rule sync and may
// carry an explicit delay; everything else, including an unparseable
// payload, is treated as a rule sync jittered across the rule sync
// window so fleet-wide notifications do not stampede the server.
func (s *Scheduler) HandleInboundPlatformMessage(payload []byte) {
	if s.client == nil {
		s.logger.Debug("ignoring push notification, no transport")
		return
	}

	var msg platformMessage
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &msg); err != nil {
			s.logger.Debug("unparseable push notification, treating as rule sync", "error", err)
			msg = platformMessage{}
		}
	}

	delay := time.Duration(msg.DelaySeconds) * time.Second
	if delay <= 0 {
		delay = rand.N(s.client.GlobalRuleSyncDeadline())
	}

	switch msg.Kind {
	case messageKindFullSync:
		s.logger.Info("push notification requests full sync", "delay", delay)
		s.scheduleFullSync(delay)
	default:
		s.logger.Info("push notification requests rule sync", "delay", delay)
		s.scheduleRuleSync(delay)
	}
}

// ForceReconnect asks the transport to rebuild its connection, when
// it has one.
func (s *Scheduler) ForceReconnect() {
	reconnector, ok := s.client.(Reconnector)
	if !ok {
		s.logger.Debug("push transport has no connection to rebuild")
		return
	}
	reconnector.ForceReconnect()
}

func (s *Scheduler) runFullSyncLoop(ticker *clock.Ticker) {
	defer s.wg.Done()
	for {
		select {
		case <-ticker.C:
			s.delegate.TriggerFullSync()
		case <-s.stopCh:
			return
		}
	}
}

// currentFullSyncInterval is the transport interval while connected,
// the base polling cadence otherwise.
func (s *Scheduler) currentFullSyncInterval() time.Duration {
	if s.client != nil && s.client.IsConnected() {
		return s.client.FullSyncInterval()
	}
	return s.baseInterval
}

func (s *Scheduler) rearmIfCadenceChanged(previous time.Duration) {
	current := s.currentFullSyncInterval()
	if current == previous {
		return
	}
	s.logger.Info("full sync cadence changed", "previous", previous, "current", current)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || s.fullTicker == nil {
		return
	}
	s.fullTicker.Reset(current)
}

func (s *Scheduler) scheduleFullSync(delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if s.pushTimer != nil {
		s.pushTimer.Stop()
	}
	s.pushTimer = s.clock.AfterFunc(delay, s.delegate.TriggerFullSync)
}

func (s *Scheduler) scheduleRuleSync(delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if s.ruleTimer != nil {
		s.ruleTimer.Stop()
	}
	s.ruleTimer = s.clock.AfterFunc(delay, s.delegate.TriggerRuleSync)
}
