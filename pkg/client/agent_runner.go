// SPDX-FileCopyrightText: 2026 The shmlog-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package client

import (
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/shmlog/shmlog-go/pkg/idle"
)

// Agent performs duty cycles. A returned ErrClientClosed ends the agent.
type Agent interface {
	DoWork() (int, error)
}

// AgentRunner calls an Agent's DoWork from its own goroutine, idling
// between duty cycles without work.
type AgentRunner struct {
	agent        Agent
	idler        idle.Strategy
	errorHandler ErrorHandler

	// stop{Syn,Ack} are used to supervise stopping the runner, see Stop()
	stopSyn  chan struct{}
	stopAck  chan struct{}
	stopOnce sync.Once
}

// NewAgentRunner for an agent. Errors returned by DoWork are passed to
// errorHandler.
func NewAgentRunner(agent Agent, idler idle.Strategy, errorHandler ErrorHandler) *AgentRunner {
	return &AgentRunner{
		agent:        agent,
		idler:        idler,
		errorHandler: errorHandler,
		stopSyn:      make(chan struct{}),
		stopAck:      make(chan struct{}),
	}
}

// Start the runner's goroutine.
func (ar *AgentRunner) Start() {
	go ar.run()
}

func (ar *AgentRunner) run() {
	defer close(ar.stopAck)

	for {
		select {
		case <-ar.stopSyn:
			log.Debug("Agent runner received closing signal")
			return

		default:
			workCount, err := ar.agent.DoWork()
			if errors.Is(err, ErrClientClosed) {
				log.Debug("Agent runner stops as its agent was closed")
				return
			} else if err != nil {
				ar.errorHandler(err)
			}

			ar.idler.Idle(workCount)
		}
	}
}

// Stop the runner and wait for its goroutine to finish. Calling Stop again
// is a no-op.
func (ar *AgentRunner) Stop() {
	ar.stopOnce.Do(func() {
		close(ar.stopSyn)
	})
	<-ar.stopAck
}

// Done is closed when the runner's goroutine finished.
func (ar *AgentRunner) Done() <-chan struct{} {
	return ar.stopAck
}
