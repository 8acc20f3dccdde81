// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/wardenhq/warden/lib/clock"
)

// brokerReconnectWait spaces the library's automatic reconnect
// attempts. Reconnects are unlimited; a broker outage should cost
// nothing but patience.
const brokerReconnectWait = 10 * time.Second

// Broker subject layout. Every machine listens on its own host
// subject; a tag subject fans one publish out to every machine
// carrying the tag.
const (
	hostSubjectPrefix = "warden.host."
	tagSubjectPrefix  = "warden.tag."
)

// HostSubject returns the per-machine command subject.
func HostSubject(machineID string) string { return hostSubjectPrefix + machineID }

// TagSubject returns the fan-out subject for a tag.
func TagSubject(tag string) string { return tagSubjectPrefix + tag }

// NATSClient is the broker transport: a live NATS connection that
// both wakes the host (the sync server publishes to its subjects) and
// answers commands addressed to it. The connection authenticates with
// decentralized JWT credentials, which usually arrive from the first
// preflight rather than local configuration.
//
// Its token is the connected server's identity. The nats library owns
// transient failures (unlimited reconnects), so the token persists
// across interruptions and is replaced or cleared only when the
// connection is deliberately rebuilt or terminally closed.
type NATSClient struct {
	clientState

	machineID string
	logger    *slog.Logger
	clock     clock.Clock

	// dispatch runs a decoded command. Tests substitute it to observe
	// dispatch order; everything else uses DispatchCommand.
	dispatch func(CommandRequest) CommandResponse

	draining atomic.Bool

	// conn is read lock-free on the publish path; mu serializes
	// connect and teardown and guards the connection settings, which
	// preflight may rewrite at any time.
	conn atomic.Pointer[nats.Conn]

	mu     sync.Mutex
	server string
	creds  BrokerCredentials
	tags   []string

	queue      *commandQueue
	workerStop chan struct{}
	wg         sync.WaitGroup
}

// NewNATSClient builds the broker transport. The server address and
// machine ID are required; credentials and tags may be empty, in
// which case the client idles until a preflight provisions them.
func NewNATSClient(cfg Config, clk clock.Clock, logger *slog.Logger) (*NATSClient, error) {
	if cfg.BrokerServer == "" {
		return nil, errors.New("broker transport needs a server address")
	}
	if cfg.MachineID == "" {
		return nil, errors.New("broker transport needs a machine ID")
	}
	if clk == nil {
		clk = clock.Real()
	}
	c := &NATSClient{
		machineID:  cfg.MachineID,
		server:     cfg.BrokerServer,
		creds:      cfg.BrokerCredentials,
		tags:       slices.Clone(cfg.Tags),
		clock:      clk,
		logger:     logger.With("transport", "broker"),
		queue:      newCommandQueue(),
		workerStop: make(chan struct{}),
	}
	c.dispatch = DispatchCommand
	return c, nil
}

func (c *NATSClient) Name() string { return "broker" }

// Start launches the dispatch worker and attempts the initial
// connection. Missing credentials are not an error at this point;
// the host simply stays on its polling cadence until preflight
// delivers them.
func (c *NATSClient) Start(ctx context.Context) {
	if c.draining.Load() {
		return
	}
	c.wg.Add(1)
	go c.runDispatch()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.creds.JWT == "" || c.creds.Seed == "" {
		c.logger.Info("broker credentials not provisioned, waiting for preflight")
		return
	}
	if err := c.connectLocked(); err != nil {
		c.logger.Warn("connecting to broker", "error", err)
	}
}

// Stop flags the client as draining, tears the connection down, and
// waits for the dispatch worker to finish. Commands still queued are
// consumed without effect; no replies are published after Stop
// returns.
func (c *NATSClient) Stop() {
	if c.draining.Swap(true) {
		return
	}
	c.mu.Lock()
	c.teardownLocked()
	c.mu.Unlock()

	close(c.workerStop)
	c.wg.Wait()
	c.logger.Info("broker transport stopped")
}

// ApplyPreflightState absorbs interval overrides and any broker
// settings the server sent. When the server, credentials, or tags
// actually changed, the connection is rebuilt so the new settings
// take effect; an unchanged response leaves the connection alone.
func (c *NATSClient) ApplyPreflightState(state SyncState) {
	c.applyIntervals(state)

	c.mu.Lock()
	defer c.mu.Unlock()
	changed := false
	if state.BrokerServer != "" && state.BrokerServer != c.server {
		c.server = state.BrokerServer
		changed = true
	}
	if state.BrokerJWT != "" && state.BrokerJWT != c.creds.JWT {
		c.creds.JWT = state.BrokerJWT
		changed = true
	}
	if state.BrokerSeed != "" && state.BrokerSeed != c.creds.Seed {
		c.creds.Seed = state.BrokerSeed
		changed = true
	}
	if len(state.Tags) > 0 && !slices.Equal(state.Tags, c.tags) {
		c.tags = slices.Clone(state.Tags)
		changed = true
	}
	if !changed || c.draining.Load() {
		return
	}

	c.logger.Info("broker settings changed by preflight, reconnecting")
	c.teardownLocked()
	if err := c.connectLocked(); err != nil {
		c.logger.Warn("reconnecting to broker", "error", err)
	}
}

// TokenChanged is a platform token event; the broker transport has no
// use for those.
func (c *NATSClient) TokenChanged(ctx context.Context, token string) {
	c.logger.Debug("ignoring platform token event on broker transport")
}

// ForceReconnect tears down and rebuilds the connection with current
// settings. Operators use it after broker-side account changes that
// the library's automatic reconnect would not pick up.
func (c *NATSClient) ForceReconnect() {
	if c.draining.Load() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logger.Info("rebuilding broker connection")
	c.teardownLocked()
	if err := c.connectLocked(); err != nil {
		c.logger.Warn("rebuilding broker connection", "error", err)
	}
}

// connectLocked dials the broker and subscribes the host and tag
// subjects. On success the connected server's identity becomes the
// push token. Caller holds mu.
func (c *NATSClient) connectLocked() error {
	if c.creds.JWT == "" || c.creds.Seed == "" {
		return errors.New("broker credentials incomplete")
	}

	opts := []nats.Option{
		nats.Name("warden-syncservice/" + c.machineID),
		nats.UserJWTAndSeed(c.creds.JWT, c.creds.Seed),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(brokerReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			// Transient: the library keeps reconnecting and the
			// token stays valid meanwhile.
			c.logger.Warn("broker connection interrupted", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			c.setToken(nc.ConnectedServerId())
			c.logger.Info("broker connection restored", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			// Deliberate teardowns detach this handler first, so
			// reaching it means the connection died for good.
			c.setToken("")
			c.logger.Warn("broker connection closed")
		}),
	}

	conn, err := nats.Connect(c.server, opts...)
	if err != nil {
		return fmt.Errorf("connecting to broker %s: %w", c.server, err)
	}

	subjects := []string{HostSubject(c.machineID)}
	for _, tag := range c.tags {
		subjects = append(subjects, TagSubject(tag))
	}
	for _, subject := range subjects {
		if _, err := conn.Subscribe(subject, c.handleDelivery); err != nil {
			conn.SetClosedHandler(nil)
			conn.Close()
			return fmt.Errorf("subscribing to %s: %w", subject, err)
		}
	}
	// The token means "commands will be delivered"; subscriptions must
	// be registered server-side before it is published.
	if err := conn.Flush(); err != nil {
		conn.SetClosedHandler(nil)
		conn.Close()
		return fmt.Errorf("registering subscriptions: %w", err)
	}

	c.conn.Store(conn)
	c.setToken(conn.ConnectedServerId())
	c.logger.Info("broker connected", "url", conn.ConnectedUrl(), "subjects", subjects)
	return nil
}

// teardownLocked closes the current connection, if any, and
// invalidates the token. Caller holds mu.
func (c *NATSClient) teardownLocked() {
	conn := c.conn.Swap(nil)
	if conn == nil {
		return
	}
	conn.SetClosedHandler(nil)
	conn.Close()
	c.setToken("")
}

// handleDelivery runs on the broker library's delivery goroutine. It
// validates the envelope and either answers immediately (validation
// failures) or queues the decoded command for the dispatch worker.
// Anything that outlives this callback is copied first.
func (c *NATSClient) handleDelivery(msg *nats.Msg) {
	if c.draining.Load() {
		return
	}

	subject := msg.Subject
	reply := msg.Reply
	payload := append([]byte(nil), msg.Data...)

	if reply == "" {
		c.logger.Warn("dropping command without reply subject", "subject", subject)
		return
	}
	if len(payload) == 0 {
		c.publishReply(reply, CommandResponse{
			Result: CommandResultError,
			Error:  "empty command payload",
		})
		return
	}

	var request CommandRequest
	if err := json.Unmarshal(payload, &request); err != nil {
		c.logger.Warn("malformed command payload", "subject", subject, "error", err)
		c.publishReply(reply, CommandResponse{
			Result: CommandResultError,
			Error:  "malformed command payload",
		})
		return
	}
	if err := checkCommandFreshness(request, c.clock.Now()); err != nil {
		c.logger.Warn("rejecting command",
			"subject", subject, "request_id", request.RequestID, "error", err)
		c.publishReply(reply, CommandResponse{
			Result:    CommandResultError,
			RequestID: request.RequestID,
			Error:     err.Error(),
		})
		return
	}

	c.queue.Push(inboundCommand{subject: subject, reply: reply, request: request})
}

// runDispatch is the single worker that serializes command dispatch.
func (c *NATSClient) runDispatch() {
	defer c.wg.Done()
	for {
		cmd, ok := c.queue.Pop()
		if ok {
			c.serveCommand(cmd)
			continue
		}
		select {
		case <-c.queue.Notify():
		case <-c.workerStop:
			// Consume whatever raced in before shutdown;
			// serveCommand no-ops once draining is set.
			for {
				cmd, ok := c.queue.Pop()
				if !ok {
					return
				}
				c.serveCommand(cmd)
			}
		}
	}
}

func (c *NATSClient) serveCommand(cmd inboundCommand) {
	if c.draining.Load() {
		return
	}
	response := c.dispatch(cmd.request)
	c.logger.Info("command dispatched",
		"subject", cmd.subject,
		"kind", cmd.request.Kind,
		"request_id", cmd.request.RequestID,
		"result", response.Result)
	c.publishReply(cmd.reply, response)
}

// publishReply sends a response envelope. Reply delivery is best
// effort: if the connection is gone or the publish fails, the sender
// times out and retries if it still cares.
func (c *NATSClient) publishReply(reply string, response CommandResponse) {
	data, err := json.Marshal(response)
	if err != nil {
		c.logger.Error("encoding command response", "error", err)
		return
	}
	conn := c.conn.Load()
	if conn == nil {
		c.logger.Warn("dropping command response, broker connection gone", "reply", reply)
		return
	}
	if err := conn.Publish(reply, data); err != nil {
		c.logger.Warn("publishing command response", "reply", reply, "error", err)
	}
}
