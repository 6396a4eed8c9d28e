// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package link moves datagrams between the onboard producers and the radio.
package link

import (
	"context"
	"time"

	"github.com/Thermoquad/skylink/internal/observability"
	"github.com/Thermoquad/skylink/pkg/skylink"
)

// Queue is the bounded outbound datagram queue. An accepted datagram is
// owned by the queue until a consumer takes it.
type Queue struct {
	ch chan *skylink.Datagram
}

func NewQueue(depth int) *Queue {
	if depth < 1 {
		depth = 1
	}
	return &Queue{ch: make(chan *skylink.Datagram, depth)}
}

// Enqueue waits at most timeout for room. A zero timeout never blocks.
func (q *Queue) Enqueue(d *skylink.Datagram, timeout time.Duration) bool {
	select {
	case q.ch <- d:
		observability.SetQueueDepth(len(q.ch))
		return true
	default:
	}
	if timeout <= 0 {
		return false
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case q.ch <- d:
		observability.SetQueueDepth(len(q.ch))
		return true
	case <-t.C:
		return false
	}
}

// Dequeue blocks until a datagram is available or ctx is done
func (q *Queue) Dequeue(ctx context.Context) (*skylink.Datagram, error) {
	select {
	case d := <-q.ch:
		observability.SetQueueDepth(len(q.ch))
		return d, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *Queue) Len() int { return len(q.ch) }
func (q *Queue) Cap() int { return cap(q.ch) }

// Drain releases every queued datagram and returns how many there were
func (q *Queue) Drain() int {
	n := 0
	for {
		select {
		case d := <-q.ch:
			d.Release()
			n++
		default:
			observability.SetQueueDepth(0)
			return n
		}
	}
}
