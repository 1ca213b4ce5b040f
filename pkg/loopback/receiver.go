// SPDX-FileCopyrightText: 2026 The shmlog-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package loopback

import (
	"sync"
)

type message struct {
	msgTypeID int32
	payload   []byte
}

// Receiver queues the driver's events for one client.
type Receiver struct {
	mutex  sync.Mutex
	queue  []message
	closed bool
}

// Receive dispatches every queued event to handler.
func (r *Receiver) Receive(handler func(msgTypeID int32, buffer []byte)) (int, error) {
	r.mutex.Lock()
	messages := r.queue
	r.queue = nil
	r.mutex.Unlock()

	for _, msg := range messages {
		handler(msg.msgTypeID, msg.payload)
	}
	return len(messages), nil
}

func (r *Receiver) offer(msg message) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if !r.closed {
		r.queue = append(r.queue, msg)
	}
}

func (r *Receiver) close() {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.closed = true
	r.queue = nil
}
