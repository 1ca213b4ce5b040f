// SPDX-FileCopyrightText: 2026 The shmlog-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package logbuffer

import (
	"github.com/shmlog/shmlog-go/pkg/atomicbuf"
)

// Data frame header layout, little-endian:
//
//	 0: int32  frame length, written last with an ordered store
//	 4: uint8  version
//	 5: uint8  flags
//	 6: uint16 type
//	 8: int32  term offset
//	12: int32  session id
//	16: int32  stream id
//	20: int32  term id
//	24: int64  reserved value
const (
	FrameLengthFieldOffset   int32 = 0
	VersionFieldOffset       int32 = 4
	FlagsFieldOffset         int32 = 5
	TypeFieldOffset          int32 = 6
	TermOffsetFieldOffset    int32 = 8
	SessionIDFieldOffset     int32 = 12
	StreamIDFieldOffset      int32 = 16
	TermIDFieldOffset        int32 = 20
	ReservedValueFieldOffset int32 = 24

	// DataFrameHeaderLength is also the offset of a frame's payload.
	DataFrameHeaderLength int32 = 32

	// FrameAlignment of every frame within a term.
	FrameAlignment int32 = 32

	// CurrentVersion of the frame header.
	CurrentVersion uint8 = 0
)

// Frame flags.
const (
	BeginFrag    uint8 = 0x80
	EndFrag      uint8 = 0x40
	Unfragmented uint8 = BeginFrag | EndFrag
)

// Frame types.
const (
	HdrTypePad  uint16 = 0x00
	HdrTypeData uint16 = 0x01
)

// MaxMessageLength is the upper bound of a single message, independent of
// the term length.
const MaxMessageLength int32 = 16 * 1024 * 1024

// Align value up to the next multiple of a power of two alignment.
func Align(value, alignment int32) int32 {
	return (value + alignment - 1) &^ (alignment - 1)
}

// ComputeMaxMessageLength for a term length.
func ComputeMaxMessageLength(termLength int32) int32 {
	return min(termLength/8, MaxMessageLength)
}

// FrameLengthVolatile reads the length field of the frame at termOffset.
func FrameLengthVolatile(termBuffer *atomicbuf.Buffer, termOffset int32) int32 {
	return termBuffer.GetInt32Volatile(termOffset + FrameLengthFieldOffset)
}

// FrameLengthOrdered publishes a frame by writing its length.
func FrameLengthOrdered(termBuffer *atomicbuf.Buffer, termOffset, frameLength int32) {
	termBuffer.PutInt32Ordered(termOffset+FrameLengthFieldOffset, frameLength)
}

// FrameType of the frame at termOffset.
func FrameType(termBuffer *atomicbuf.Buffer, termOffset int32) uint16 {
	return termBuffer.GetUint16(termOffset + TypeFieldOffset)
}

// SetFrameType of the frame at termOffset.
func SetFrameType(termBuffer *atomicbuf.Buffer, termOffset int32, frameType uint16) {
	termBuffer.PutUint16(termOffset+TypeFieldOffset, frameType)
}

// FrameFlags of the frame at termOffset.
func FrameFlags(termBuffer *atomicbuf.Buffer, termOffset int32) uint8 {
	return termBuffer.GetUint8(termOffset + FlagsFieldOffset)
}

// SetFrameFlags of the frame at termOffset.
func SetFrameFlags(termBuffer *atomicbuf.Buffer, termOffset int32, flags uint8) {
	termBuffer.PutUint8(termOffset+FlagsFieldOffset, flags)
}

// IsPaddingFrame checks the type of the frame at termOffset.
func IsPaddingFrame(termBuffer *atomicbuf.Buffer, termOffset int32) bool {
	return FrameType(termBuffer, termOffset) == HdrTypePad
}

// FrameSessionID of the frame at termOffset.
func FrameSessionID(termBuffer *atomicbuf.Buffer, termOffset int32) int32 {
	return termBuffer.GetInt32(termOffset + SessionIDFieldOffset)
}
