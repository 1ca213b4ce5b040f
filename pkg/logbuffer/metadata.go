// SPDX-FileCopyrightText: 2026 The shmlog-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package logbuffer

import (
	"github.com/shmlog/shmlog-go/pkg/atomicbuf"
)

// Log metadata layout, following the three term buffers:
//
//	  0: int64[3] raw tail per partition, (termID << 32) | termOffset
//	 24: int32    active term count
//	 28: int32    connected flag, maintained by the driver
//	 32: int64    end of stream position
//	 40: int64    correlation id of the log
//	 48: int32    initial term id
//	 52: int32    default frame header length
//	 56: int32    MTU length
//	 60: int32    term length
//	 64: int32    page size
//	128: byte[32] default frame header
const (
	TermTailCountersOffset         int32 = 0
	ActiveTermCountOffset          int32 = 24
	IsConnectedOffset              int32 = 28
	EndOfStreamPositionOffset      int32 = 32
	CorrelationIDOffset            int32 = 40
	InitialTermIDOffset            int32 = 48
	DefaultFrameHeaderLengthOffset int32 = 52
	MTULengthOffset                int32 = 56
	TermLengthOffset               int32 = 60
	PageSizeOffset                 int32 = 64
	DefaultFrameHeaderOffset       int32 = 128

	// LogMetaDataLength is the page aligned length of the metadata section.
	LogMetaDataLength = 4096
)

// MetaData provides access to the metadata section of a log.
type MetaData struct {
	buffer *atomicbuf.Buffer
}

// NewMetaData wraps the metadata section of a log.
func NewMetaData(buffer *atomicbuf.Buffer) *MetaData {
	return &MetaData{buffer: buffer}
}

// Buffer underlying this MetaData.
func (md *MetaData) Buffer() *atomicbuf.Buffer {
	return md.buffer
}

// TailCounterOffset of a partition's raw tail.
func TailCounterOffset(partitionIndex int) int32 {
	return TermTailCountersOffset + int32(partitionIndex)*8
}

// PackTail into a raw tail value.
func PackTail(termID, termOffset int32) int64 {
	return int64(termID)<<32 | int64(uint32(termOffset))
}

// TermIDFromTail extracts the term id of a raw tail.
func TermIDFromTail(rawTail int64) int32 {
	return int32(rawTail >> 32)
}

// TermOffsetFromTail extracts the term offset of a raw tail, capped to the
// term length as concurrent appenders may overshoot the end of a term.
func TermOffsetFromTail(rawTail int64, termLength int32) int32 {
	tail := rawTail & 0xFFFF_FFFF
	return int32(min(tail, int64(termLength)))
}

// RawTailVolatile of a partition.
func (md *MetaData) RawTailVolatile(partitionIndex int) int64 {
	return md.buffer.GetInt64Volatile(TailCounterOffset(partitionIndex))
}

// SetRawTailOrdered of a partition.
func (md *MetaData) SetRawTailOrdered(partitionIndex int, rawTail int64) {
	md.buffer.PutInt64Ordered(TailCounterOffset(partitionIndex), rawTail)
}

// CasRawTail of a partition.
func (md *MetaData) CasRawTail(partitionIndex int, expected, update int64) bool {
	return md.buffer.CompareAndSetInt64(TailCounterOffset(partitionIndex), expected, update)
}

// InitialiseTailWithTermID sets a partition to the start of a term.
func (md *MetaData) InitialiseTailWithTermID(partitionIndex int, termID int32) {
	md.buffer.PutInt64(TailCounterOffset(partitionIndex), PackTail(termID, 0))
}

// ActiveTermCount is the number of terms rotated through since the start.
func (md *MetaData) ActiveTermCount() int32 {
	return md.buffer.GetInt32Volatile(ActiveTermCountOffset)
}

// SetActiveTermCountOrdered stores the active term count.
func (md *MetaData) SetActiveTermCountOrdered(termCount int32) {
	md.buffer.PutInt32Ordered(ActiveTermCountOffset, termCount)
}

// CasActiveTermCount advances the active term count.
func (md *MetaData) CasActiveTermCount(expected, update int32) bool {
	return md.buffer.CompareAndSetInt32(ActiveTermCountOffset, expected, update)
}

// IsConnected reports whether the log has at least one consumer.
func (md *MetaData) IsConnected() bool {
	return md.buffer.GetInt32Volatile(IsConnectedOffset) == 1
}

// SetIsConnected is maintained by the driver.
func (md *MetaData) SetIsConnected(connected bool) {
	var v int32
	if connected {
		v = 1
	}
	md.buffer.PutInt32Ordered(IsConnectedOffset, v)
}

// EndOfStreamPosition of the log, or math.MaxInt64 while the stream is open.
func (md *MetaData) EndOfStreamPosition() int64 {
	return md.buffer.GetInt64Volatile(EndOfStreamPositionOffset)
}

// SetEndOfStreamPosition marks the end of the stream.
func (md *MetaData) SetEndOfStreamPosition(position int64) {
	md.buffer.PutInt64Ordered(EndOfStreamPositionOffset, position)
}

// CorrelationID of the log.
func (md *MetaData) CorrelationID() int64 {
	return md.buffer.GetInt64(CorrelationIDOffset)
}

// InitialTermID of the stream.
func (md *MetaData) InitialTermID() int32 {
	return md.buffer.GetInt32(InitialTermIDOffset)
}

// MTULength of the stream.
func (md *MetaData) MTULength() int32 {
	return md.buffer.GetInt32(MTULengthOffset)
}

// TermLength of each term buffer.
func (md *MetaData) TermLength() int32 {
	return md.buffer.GetInt32(TermLengthOffset)
}

// PageSize used when the log was created.
func (md *MetaData) PageSize() int32 {
	return md.buffer.GetInt32(PageSizeOffset)
}

// DefaultFrameHeader of the stream, as written in front of every data frame.
func (md *MetaData) DefaultFrameHeader() []byte {
	length := md.buffer.GetInt32(DefaultFrameHeaderLengthOffset)
	return md.buffer.Slice(DefaultFrameHeaderOffset, length)
}

// TailPosition is the producer's position, the end of the last claimed
// frame in the active term.
func (md *MetaData) TailPosition() int64 {
	termLength := md.TermLength()
	rawTail := md.RawTailVolatile(IndexByTermCount(int64(md.ActiveTermCount())))
	termOffset := TermOffsetFromTail(rawTail, termLength)
	return ComputePosition(TermIDFromTail(rawTail), termOffset, PositionBitsToShift(termLength), md.InitialTermID())
}

// RotateLog moves the active term to the next partition. It returns false
// if another producer already rotated.
func (md *MetaData) RotateLog(currentTermCount, currentTermID int32) bool {
	nextTermID := currentTermID + 1
	nextTermCount := currentTermCount + 1
	nextIndex := IndexByTermCount(int64(nextTermCount))
	expectedTermID := nextTermID - PartitionCount

	for {
		rawTail := md.RawTailVolatile(nextIndex)
		if expectedTermID != TermIDFromTail(rawTail) {
			break
		}
		if md.CasRawTail(nextIndex, rawTail, PackTail(nextTermID, 0)) {
			break
		}
	}

	return md.CasActiveTermCount(currentTermCount, nextTermCount)
}

// Initialise a fresh metadata section. This is done by the driver when the
// log file is created.
func (md *MetaData) Initialise(
	correlationID int64, initialTermID, termLength, mtu, pageSize, sessionID, streamID int32) {

	md.buffer.PutInt64(CorrelationIDOffset, correlationID)
	md.buffer.PutInt32(InitialTermIDOffset, initialTermID)
	md.buffer.PutInt32(MTULengthOffset, mtu)
	md.buffer.PutInt32(TermLengthOffset, termLength)
	md.buffer.PutInt32(PageSizeOffset, pageSize)
	md.buffer.PutInt64(EndOfStreamPositionOffset, int64(^uint64(0)>>1))

	md.InitialiseTailWithTermID(0, initialTermID)
	for i := 1; i < PartitionCount; i++ {
		md.InitialiseTailWithTermID(i, initialTermID+int32(i)-PartitionCount)
	}
	md.SetActiveTermCountOrdered(0)

	hdr := DefaultFrameHeaderOffset
	md.buffer.PutInt32(DefaultFrameHeaderLengthOffset, DataFrameHeaderLength)
	md.buffer.PutInt32(hdr+FrameLengthFieldOffset, 0)
	md.buffer.PutUint8(hdr+VersionFieldOffset, CurrentVersion)
	md.buffer.PutUint8(hdr+FlagsFieldOffset, Unfragmented)
	md.buffer.PutUint16(hdr+TypeFieldOffset, HdrTypeData)
	md.buffer.PutInt32(hdr+SessionIDFieldOffset, sessionID)
	md.buffer.PutInt32(hdr+StreamIDFieldOffset, streamID)
}
