// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package push

import "sync"

// inboundCommand is a decoded broker delivery waiting for dispatch.
// Everything in it is owned by the queue; nothing references the
// broker library's delivery buffers.
type inboundCommand struct {
	subject string
	reply   string
	request CommandRequest
}

// commandQueue is the hand-off between the broker delivery callback
// and the dispatch worker. A single worker drains it, which is what
// serializes command execution: deliveries can race into Push from
// broker goroutines, but dispatch order is queue order.
type commandQueue struct {
	mu      sync.Mutex
	pending []inboundCommand
	notify  chan struct{}
}

func newCommandQueue() *commandQueue {
	return &commandQueue{notify: make(chan struct{}, 1)}
}

// Push appends a command and wakes the worker. It never blocks: the
// notify channel has capacity 1, and one pending signal is enough for
// any number of queued commands.
func (q *commandQueue) Push(cmd inboundCommand) {
	q.mu.Lock()
	q.pending = append(q.pending, cmd)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Pop removes and returns the oldest command. ok is false when the
// queue is empty.
func (q *commandQueue) Pop() (cmd inboundCommand, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return inboundCommand{}, false
	}
	cmd = q.pending[0]
	q.pending = q.pending[1:]
	return cmd, true
}

// Len reports how many commands are waiting.
func (q *commandQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Notify returns the wakeup channel. A signal means "the queue was
// pushed to since you last looked", not "exactly one command waits";
// consumers drain with Pop until it reports empty.
func (q *commandQueue) Notify() <-chan struct{} {
	return q.notify
}
