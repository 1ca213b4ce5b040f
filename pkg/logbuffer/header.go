// SPDX-FileCopyrightText: 2026 The shmlog-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package logbuffer

import (
	"github.com/shmlog/shmlog-go/pkg/atomicbuf"
)

// Header is a flyweight over the header of the frame currently delivered to
// a fragment handler. It is only valid for the duration of the callback.
type Header struct {
	buffer              *atomicbuf.Buffer
	offset              int32
	initialTermID       int32
	positionBitsToShift uint8
}

// NewHeader for a stream with the given initial term id and term shift.
func NewHeader(initialTermID int32, positionBitsToShift uint8) *Header {
	return &Header{
		initialTermID:       initialTermID,
		positionBitsToShift: positionBitsToShift,
	}
}

// Wrap the frame at offset within buffer.
func (h *Header) Wrap(buffer *atomicbuf.Buffer, offset int32) {
	h.buffer = buffer
	h.offset = offset
}

// Buffer containing the frame.
func (h *Header) Buffer() *atomicbuf.Buffer {
	return h.buffer
}

// Offset of the frame within Buffer.
func (h *Header) Offset() int32 {
	return h.offset
}

func (h *Header) InitialTermID() int32 {
	return h.initialTermID
}

func (h *Header) PositionBitsToShift() uint8 {
	return h.positionBitsToShift
}

// FrameLength including the header.
func (h *Header) FrameLength() int32 {
	return h.buffer.GetInt32(h.offset + FrameLengthFieldOffset)
}

func (h *Header) Version() uint8 {
	return h.buffer.GetUint8(h.offset + VersionFieldOffset)
}

// Flags as BeginFrag, EndFrag or both.
func (h *Header) Flags() uint8 {
	return h.buffer.GetUint8(h.offset + FlagsFieldOffset)
}

func (h *Header) Type() uint16 {
	return h.buffer.GetUint16(h.offset + TypeFieldOffset)
}

func (h *Header) TermOffset() int32 {
	return h.buffer.GetInt32(h.offset + TermOffsetFieldOffset)
}

func (h *Header) SessionID() int32 {
	return h.buffer.GetInt32(h.offset + SessionIDFieldOffset)
}

func (h *Header) StreamID() int32 {
	return h.buffer.GetInt32(h.offset + StreamIDFieldOffset)
}

func (h *Header) TermID() int32 {
	return h.buffer.GetInt32(h.offset + TermIDFieldOffset)
}

func (h *Header) ReservedValue() int64 {
	return h.buffer.GetInt64(h.offset + ReservedValueFieldOffset)
}

// Position of the stream right after this frame.
func (h *Header) Position() int64 {
	resultingOffset := Align(h.TermOffset()+h.FrameLength(), FrameAlignment)
	return ComputePosition(h.TermID(), resultingOffset, h.positionBitsToShift, h.initialTermID)
}
