// SPDX-FileCopyrightText: 2026 The shmlog-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package logbuffer

import (
	"fmt"

	"github.com/shmlog/shmlog-go/pkg/atomicbuf"
)

// AppendFailed is returned by a TermAppender when the message did not fit in
// the remaining term. The term was padded and the log has to be rotated.
const AppendFailed int32 = -2

// TermAppender appends frames to one partition of a log. The tail is
// claimed with an atomic add on the partition's raw tail, so concurrent
// appenders never overlap.
type TermAppender struct {
	termBuffer *atomicbuf.Buffer
	metaData   *MetaData
	tailOffset int32
}

// NewTermAppender for the partition at partitionIndex.
func NewTermAppender(termBuffer *atomicbuf.Buffer, metaData *MetaData, partitionIndex int) *TermAppender {
	return &TermAppender{
		termBuffer: termBuffer,
		metaData:   metaData,
		tailOffset: TailCounterOffset(partitionIndex),
	}
}

// RawTailVolatile of this appender's partition.
func (ta *TermAppender) RawTailVolatile() int64 {
	return ta.metaData.buffer.GetInt64Volatile(ta.tailOffset)
}

func (ta *TermAppender) getAndAddRawTail(alignedLength int32) int64 {
	return ta.metaData.buffer.GetAndAddInt64(ta.tailOffset, int64(alignedLength))
}

// AppendUnfragmentedMessage writes a message that fits in a single frame.
// It returns the resulting term offset or AppendFailed.
func (ta *TermAppender) AppendUnfragmentedMessage(
	header *HeaderWriter, src *atomicbuf.Buffer, srcOffset, length int32,
	supplier ReservedValueSupplier, activeTermID int32) int32 {

	frameLength := length + DataFrameHeaderLength
	alignedLength := Align(frameLength, FrameAlignment)
	rawTail := ta.getAndAddRawTail(alignedLength)
	termID := TermIDFromTail(rawTail)
	termOffset := rawTail & 0xFFFF_FFFF
	termLength := ta.termBuffer.Capacity()

	checkTerm(activeTermID, termID)

	resultingOffset := termOffset + int64(alignedLength)
	if resultingOffset > int64(termLength) {
		return ta.handleEndOfLog(header, termOffset, termLength, termID)
	}

	frameOffset := int32(termOffset)
	header.Write(ta.termBuffer, frameOffset, frameLength, termID)
	ta.termBuffer.PutBuffer(frameOffset+DataFrameHeaderLength, src, srcOffset, length)

	if supplier != nil {
		reserved := supplier(ta.termBuffer, frameOffset, frameLength)
		ta.termBuffer.PutInt64(frameOffset+ReservedValueFieldOffset, reserved)
	}

	FrameLengthOrdered(ta.termBuffer, frameOffset, frameLength)
	return int32(resultingOffset)
}

// AppendFragmentedMessage splits a message into frames carrying at most
// maxPayloadLength bytes each, flagged BEGIN, none and END respectively.
// It returns the resulting term offset or AppendFailed.
func (ta *TermAppender) AppendFragmentedMessage(
	header *HeaderWriter, src *atomicbuf.Buffer, srcOffset, length, maxPayloadLength int32,
	supplier ReservedValueSupplier, activeTermID int32) int32 {

	numMaxPayloads := length / maxPayloadLength
	remainingPayload := length % maxPayloadLength
	var lastFrameLength int32
	if remainingPayload > 0 {
		lastFrameLength = Align(remainingPayload+DataFrameHeaderLength, FrameAlignment)
	}
	requiredLength := numMaxPayloads*(maxPayloadLength+DataFrameHeaderLength) + lastFrameLength

	rawTail := ta.getAndAddRawTail(requiredLength)
	termID := TermIDFromTail(rawTail)
	termOffset := rawTail & 0xFFFF_FFFF
	termLength := ta.termBuffer.Capacity()

	checkTerm(activeTermID, termID)

	resultingOffset := termOffset + int64(requiredLength)
	if resultingOffset > int64(termLength) {
		return ta.handleEndOfLog(header, termOffset, termLength, termID)
	}

	flags := BeginFrag
	remaining := length
	frameOffset := int32(termOffset)
	for remaining > 0 {
		bytesToWrite := min(remaining, maxPayloadLength)
		frameLength := bytesToWrite + DataFrameHeaderLength
		alignedLength := Align(frameLength, FrameAlignment)

		header.Write(ta.termBuffer, frameOffset, frameLength, termID)
		ta.termBuffer.PutBuffer(
			frameOffset+DataFrameHeaderLength, src, srcOffset+(length-remaining), bytesToWrite)

		if remaining <= maxPayloadLength {
			flags |= EndFrag
		}
		SetFrameFlags(ta.termBuffer, frameOffset, flags)

		if supplier != nil {
			reserved := supplier(ta.termBuffer, frameOffset, frameLength)
			ta.termBuffer.PutInt64(frameOffset+ReservedValueFieldOffset, reserved)
		}

		FrameLengthOrdered(ta.termBuffer, frameOffset, frameLength)

		flags = 0
		frameOffset += alignedLength
		remaining -= bytesToWrite
	}

	return int32(resultingOffset)
}

// handleEndOfLog pads the rest of the term if this appender was the first
// to cross its end.
func (ta *TermAppender) handleEndOfLog(header *HeaderWriter, termOffset int64, termLength, termID int32) int32 {
	if termOffset < int64(termLength) {
		offset := int32(termOffset)
		paddingLength := termLength - offset
		header.Write(ta.termBuffer, offset, paddingLength, termID)
		SetFrameType(ta.termBuffer, offset, HdrTypePad)
		FrameLengthOrdered(ta.termBuffer, offset, paddingLength)
	}

	return AppendFailed
}

func checkTerm(expectedTermID, termID int32) {
	if termID != expectedTermID {
		panic(fmt.Sprintf("action possibly delayed: expectedTermId=%d termId=%d", expectedTermID, termID))
	}
}
