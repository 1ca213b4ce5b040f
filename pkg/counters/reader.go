// SPDX-FileCopyrightText: 2026 The shmlog-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package counters

import (
	"github.com/shmlog/shmlog-go/pkg/atomicbuf"
)

// Reader gives read access to counters allocated by a Manager, possibly in
// another goroutine or process.
type Reader struct {
	values       *atomicbuf.Buffer
	metaData     *atomicbuf.Buffer
	maxCounterID int32
}

// NewReader over the values and metadata buffers.
func NewReader(values, metaData *atomicbuf.Buffer) *Reader {
	return &Reader{
		values:       values,
		metaData:     metaData,
		maxCounterID: min(values.Capacity()/ValueLength, metaData.Capacity()/MetaDataLength) - 1,
	}
}

// ValuesBuffer holding the counter values.
func (r *Reader) ValuesBuffer() *atomicbuf.Buffer {
	return r.values
}

// MaxCounterID that fits into the buffers.
func (r *Reader) MaxCounterID() int32 {
	return r.maxCounterID
}

// CounterValue of a counter.
func (r *Reader) CounterValue(counterID int32) int64 {
	return r.values.GetInt64Volatile(ValueOffset(counterID))
}

// CounterState is one of RecordUnused, RecordAllocated or RecordReclaimed.
func (r *Reader) CounterState(counterID int32) int32 {
	return r.metaData.GetInt32Volatile(MetaDataOffset(counterID) + stateOffset)
}

func (r *Reader) CounterTypeID(counterID int32) int32 {
	return r.metaData.GetInt32(MetaDataOffset(counterID) + typeIDOffset)
}

// CounterRegistrationID of the resource owning a counter.
func (r *Reader) CounterRegistrationID(counterID int32) int64 {
	return r.metaData.GetInt64(MetaDataOffset(counterID) + registrationIDOffset)
}

func (r *Reader) CounterLabel(counterID int32) string {
	offset := MetaDataOffset(counterID)
	length := r.metaData.GetInt32(offset + labelLengthOffset)
	return string(r.metaData.Slice(offset+labelOffset, length))
}

// ForEach allocated counter, in id order. Iteration stops at the first
// never used record.
func (r *Reader) ForEach(f func(counterID, typeID int32, label string)) {
	for id := int32(0); id <= r.maxCounterID; id++ {
		switch r.CounterState(id) {
		case RecordAllocated:
			f(id, r.CounterTypeID(id), r.CounterLabel(id))
		case RecordUnused:
			return
		}
	}
}
