// SPDX-FileCopyrightText: 2026 The shmlog-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package counters lays out the position counters shared between the
// driver and its clients.
//
// A counter is an int64 value record in a values buffer, padded to its own
// cache lines, plus a metadata record holding its state, type, owning
// registration and a label. The driver allocates counters, clients read and
// update them through Position.
package counters

import (
	"errors"

	"github.com/shmlog/shmlog-go/pkg/atomicbuf"
)

const (
	// ValueLength of a value record. Values sit on their own cache lines.
	ValueLength int32 = 128

	// MetaDataLength of a metadata record.
	MetaDataLength int32 = 512

	stateOffset          int32 = 0
	typeIDOffset         int32 = 4
	registrationIDOffset int32 = 8
	labelLengthOffset    int32 = 16
	labelOffset          int32 = 20

	// MaxLabelLength of a counter label in bytes.
	MaxLabelLength = MetaDataLength - labelOffset
)

// Counter states.
const (
	RecordUnused    int32 = 0
	RecordAllocated int32 = 1
	RecordReclaimed int32 = -1
)

// Counter type ids.
const (
	PublisherLimitTypeID     int32 = 1
	SubscriberPositionTypeID int32 = 4
	ClientHeartbeatTypeID    int32 = 11
)

// ErrCountersFull is returned when no counter record is left.
var ErrCountersFull = errors.New("counters: no free counter record")

// NewBuffers allocates heap backed values and metadata buffers for
// maxCounters counters.
func NewBuffers(maxCounters int) (values, metaData *atomicbuf.Buffer) {
	values = atomicbuf.MakeBuffer(maxCounters * int(ValueLength))
	metaData = atomicbuf.MakeBuffer(maxCounters * int(MetaDataLength))
	return
}

// ValueOffset of a counter within the values buffer.
func ValueOffset(counterID int32) int32 {
	return counterID * ValueLength
}

// MetaDataOffset of a counter within the metadata buffer.
func MetaDataOffset(counterID int32) int32 {
	return counterID * MetaDataLength
}
