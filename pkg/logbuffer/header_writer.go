// SPDX-FileCopyrightText: 2026 The shmlog-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package logbuffer

import (
	"github.com/shmlog/shmlog-go/pkg/atomicbuf"
)

// HeaderWriter writes a publication's default frame header in front of each
// appended frame.
type HeaderWriter struct {
	version   uint8
	flags     uint8
	frameType uint16
	sessionID int32
	streamID  int32
}

// NewHeaderWriter from a log's default frame header.
func NewHeaderWriter(defaultHeader []byte) *HeaderWriter {
	buffer := atomicbuf.NewBuffer(defaultHeader)
	return &HeaderWriter{
		version:   buffer.GetUint8(VersionFieldOffset),
		flags:     buffer.GetUint8(FlagsFieldOffset),
		frameType: buffer.GetUint16(TypeFieldOffset),
		sessionID: buffer.GetInt32(SessionIDFieldOffset),
		streamID:  buffer.GetInt32(StreamIDFieldOffset),
	}
}

// Write a header at offset. The frame length is stored negated so readers
// ignore the frame until FrameLengthOrdered publishes it.
func (hw *HeaderWriter) Write(termBuffer *atomicbuf.Buffer, offset, length, termID int32) {
	termBuffer.PutInt32Ordered(offset+FrameLengthFieldOffset, -length)

	termBuffer.PutUint8(offset+VersionFieldOffset, hw.version)
	termBuffer.PutUint8(offset+FlagsFieldOffset, hw.flags)
	termBuffer.PutUint16(offset+TypeFieldOffset, hw.frameType)
	termBuffer.PutInt32(offset+TermOffsetFieldOffset, offset)
	termBuffer.PutInt32(offset+SessionIDFieldOffset, hw.sessionID)
	termBuffer.PutInt32(offset+StreamIDFieldOffset, hw.streamID)
	termBuffer.PutInt32(offset+TermIDFieldOffset, termID)
}

func (hw *HeaderWriter) SessionID() int32 {
	return hw.sessionID
}

func (hw *HeaderWriter) StreamID() int32 {
	return hw.streamID
}
