// SPDX-FileCopyrightText: 2026 The shmlog-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package idle provides strategies for duty cycle loops to back off while
// there is no work to do.
package idle

import (
	"runtime"
	"time"
)

// Strategy is asked to idle after each duty cycle with the amount of work
// the cycle did. Implementations are not safe for concurrent use.
type Strategy interface {
	// Idle for a duty cycle which did workCount units of work.
	Idle(workCount int)

	// Reset any state kept between calls to Idle.
	Reset()
}

// BusySpin never gives up the processor.
type BusySpin struct{}

func (BusySpin) Idle(int) {}

func (BusySpin) Reset() {}

// Noop does nothing, used where the caller controls the pace itself.
type Noop = BusySpin

// Yielding yields the processor when there was no work.
type Yielding struct{}

func (Yielding) Idle(workCount int) {
	if workCount == 0 {
		runtime.Gosched()
	}
}

func (Yielding) Reset() {}

// Sleeping sleeps for a fixed period when there was no work.
type Sleeping struct {
	Period time.Duration
}

func (s Sleeping) Idle(workCount int) {
	if workCount == 0 {
		time.Sleep(s.Period)
	}
}

func (Sleeping) Reset() {}

type backoffState uint8

const (
	_ backoffState = iota
	notIdle
	spinning
	yielding
	parking
)

// Backoff spins, then yields, then sleeps with an exponentially growing
// period capped at MaxPark.
type Backoff struct {
	MaxSpins  int
	MaxYields int
	MinPark   time.Duration
	MaxPark   time.Duration

	state  backoffState
	spins  int
	yields int
	park   time.Duration
}

// NewBackoff strategy.
func NewBackoff(maxSpins, maxYields int, minPark, maxPark time.Duration) *Backoff {
	return &Backoff{
		MaxSpins:  maxSpins,
		MaxYields: maxYields,
		MinPark:   minPark,
		MaxPark:   maxPark,
		state:     notIdle,
	}
}

// DefaultBackoff used by the client conductor.
func DefaultBackoff() *Backoff {
	return NewBackoff(10, 5, time.Microsecond, time.Millisecond)
}

func (b *Backoff) Idle(workCount int) {
	if workCount > 0 {
		b.Reset()
		return
	}

	switch b.state {
	case notIdle, 0:
		b.state = spinning
		b.spins++

	case spinning:
		b.spins++
		if b.spins > b.MaxSpins {
			b.state = yielding
			b.yields = 0
		}

	case yielding:
		b.yields++
		if b.yields > b.MaxYields {
			b.state = parking
			b.park = b.MinPark
		} else {
			runtime.Gosched()
		}

	case parking:
		time.Sleep(b.park)
		b.park = min(b.park*2, b.MaxPark)
	}
}

func (b *Backoff) Reset() {
	b.state = notIdle
	b.spins = 0
	b.yields = 0
	b.park = b.MinPark
}
