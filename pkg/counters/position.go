// SPDX-FileCopyrightText: 2026 The shmlog-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package counters

import (
	"github.com/shmlog/shmlog-go/pkg/atomicbuf"
)

// Position is a counter tracking a stream position. A Position has a
// single writer; any number of goroutines may read it.
type Position struct {
	buffer    *atomicbuf.Buffer
	offset    int32
	counterID int32
	closed    bool
}

// NewPosition over the value record of counterID.
func NewPosition(values *atomicbuf.Buffer, counterID int32) *Position {
	return &Position{
		buffer:    values,
		offset:    ValueOffset(counterID),
		counterID: counterID,
	}
}

// ID of the underlying counter.
func (p *Position) ID() int32 {
	return p.counterID
}

// Get with plain load semantics, for the writer itself.
func (p *Position) Get() int64 {
	return p.buffer.GetInt64(p.offset)
}

// GetVolatile with acquire semantics.
func (p *Position) GetVolatile() int64 {
	return p.buffer.GetInt64Volatile(p.offset)
}

// Set with plain store semantics.
func (p *Position) Set(value int64) {
	p.buffer.PutInt64(p.offset, value)
}

// SetOrdered with release semantics.
func (p *Position) SetOrdered(value int64) {
	p.buffer.PutInt64Ordered(p.offset, value)
}

// ProposeMaxOrdered stores value if it is greater than the current one.
func (p *Position) ProposeMaxOrdered(value int64) bool {
	if p.Get() < value {
		p.SetOrdered(value)
		return true
	}
	return false
}

// Close marks the position closed. The counter itself is freed by its owner.
func (p *Position) Close() {
	p.closed = true
}

func (p *Position) IsClosed() bool {
	return p.closed
}
