// SPDX-FileCopyrightText: 2026 The shmlog-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package client

import (
	"github.com/shmlog/shmlog-go/pkg/atomicbuf"
	"github.com/shmlog/shmlog-go/pkg/logbuffer"
)

// DefaultFragmentAssemblyBufferLength is the initial capacity of the
// per-session builders.
const DefaultFragmentAssemblyBufferLength int32 = 4096

// FragmentAssembler reassembles fragmented messages per publisher session
// before handing them to its delegate. Unfragmented messages pass through
// without copying. Fragments without a preceding BEGIN fragment are dropped,
// as is a message with a gap between two of its fragments.
//
// The delegate gets the header of the last fragment of a message.
type FragmentAssembler struct {
	delegate            logbuffer.FragmentHandler
	initialBufferLength int32
	bufferBySessionID   map[int32]*sessionBuffer
}

// NewFragmentAssembler wrapping delegate.
func NewFragmentAssembler(delegate logbuffer.FragmentHandler, initialBufferLength int32) *FragmentAssembler {
	return &FragmentAssembler{
		delegate:            delegate,
		initialBufferLength: initialBufferLength,
		bufferBySessionID:   make(map[int32]*sessionBuffer),
	}
}

// OnFragment is a logbuffer.FragmentHandler to be passed to a poll.
func (fa *FragmentAssembler) OnFragment(buffer *atomicbuf.Buffer, offset, length int32, header *logbuffer.Header) {
	flags := header.Flags()

	if flags&logbuffer.Unfragmented == logbuffer.Unfragmented {
		fa.delegate(buffer, offset, length, header)
		return
	}

	if flags&logbuffer.BeginFrag == logbuffer.BeginFrag {
		bufferFor(fa.bufferBySessionID, header.SessionID(), fa.initialBufferLength).begin(buffer, offset, length, header)
		return
	}

	sb, ok := fa.bufferBySessionID[header.SessionID()]
	if !ok || !sb.append(buffer, offset, length, header) {
		return
	}

	if flags&logbuffer.EndFrag == logbuffer.EndFrag {
		defer sb.builder.Reset()
		fa.delegate(sb.builder.Buffer(), 0, sb.builder.Limit(), header)
	}
}

// FreeSessionBuffer drops the builder of a session. It returns whether there
// was one.
func (fa *FragmentAssembler) FreeSessionBuffer(sessionID int32) bool {
	_, ok := fa.bufferBySessionID[sessionID]
	delete(fa.bufferBySessionID, sessionID)
	return ok
}

// Clear all session builders.
func (fa *FragmentAssembler) Clear() {
	clear(fa.bufferBySessionID)
}

// ControlledFragmentAssembler is the FragmentAssembler for controlled
// polls. If the delegate aborts a reassembled message, or panics on it, the
// session's builder is rolled back so the END fragment can be delivered
// again.
type ControlledFragmentAssembler struct {
	delegate            logbuffer.ControlledFragmentHandler
	initialBufferLength int32
	bufferBySessionID   map[int32]*sessionBuffer
}

// NewControlledFragmentAssembler wrapping delegate.
func NewControlledFragmentAssembler(
	delegate logbuffer.ControlledFragmentHandler, initialBufferLength int32) *ControlledFragmentAssembler {

	return &ControlledFragmentAssembler{
		delegate:            delegate,
		initialBufferLength: initialBufferLength,
		bufferBySessionID:   make(map[int32]*sessionBuffer),
	}
}

// OnFragment is a logbuffer.ControlledFragmentHandler to be passed to a
// controlled poll.
func (cfa *ControlledFragmentAssembler) OnFragment(
	buffer *atomicbuf.Buffer, offset, length int32, header *logbuffer.Header) logbuffer.Action {

	flags := header.Flags()

	if flags&logbuffer.Unfragmented == logbuffer.Unfragmented {
		return cfa.delegate(buffer, offset, length, header)
	}

	if flags&logbuffer.BeginFrag == logbuffer.BeginFrag {
		bufferFor(cfa.bufferBySessionID, header.SessionID(), cfa.initialBufferLength).begin(buffer, offset, length, header)
		return logbuffer.Continue
	}

	sb, ok := cfa.bufferBySessionID[header.SessionID()]
	if !ok {
		return logbuffer.Continue
	}

	limit, nextPosition := sb.builder.Limit(), sb.nextPosition
	if !sb.append(buffer, offset, length, header) || flags&logbuffer.EndFrag != logbuffer.EndFrag {
		return logbuffer.Continue
	}

	delivered := false
	defer func() {
		if !delivered {
			sb.builder.SetLimit(limit)
			sb.nextPosition = nextPosition
		}
	}()

	action := cfa.delegate(sb.builder.Buffer(), 0, sb.builder.Limit(), header)
	if action != logbuffer.Abort {
		sb.builder.Reset()
		delivered = true
	}
	return action
}

// FreeSessionBuffer drops the builder of a session. It returns whether there
// was one.
func (cfa *ControlledFragmentAssembler) FreeSessionBuffer(sessionID int32) bool {
	_, ok := cfa.bufferBySessionID[sessionID]
	delete(cfa.bufferBySessionID, sessionID)
	return ok
}

// Clear all session builders.
func (cfa *ControlledFragmentAssembler) Clear() {
	clear(cfa.bufferBySessionID)
}

// sessionBuffer collects the fragments of a session's current message.
type sessionBuffer struct {
	builder *BufferBuilder

	// nextPosition is where the next fragment of the message has to start.
	nextPosition int64
}

func bufferFor(buffers map[int32]*sessionBuffer, sessionID, initialBufferLength int32) *sessionBuffer {
	sb, ok := buffers[sessionID]
	if !ok {
		sb = &sessionBuffer{builder: NewBufferBuilder(initialBufferLength)}
		buffers[sessionID] = sb
	}
	return sb
}

func (sb *sessionBuffer) begin(buffer *atomicbuf.Buffer, offset, length int32, header *logbuffer.Header) {
	sb.builder.Reset().Append(buffer, offset, length)
	sb.nextPosition = header.Position()
}

// append a fragment following BEGIN. A fragment not starting where the
// previous one ended voids the message and is dropped.
func (sb *sessionBuffer) append(buffer *atomicbuf.Buffer, offset, length int32, header *logbuffer.Header) bool {
	if sb.builder.Limit() == 0 {
		return false
	}

	frameStart := header.Position() - int64(logbuffer.Align(header.FrameLength(), logbuffer.FrameAlignment))
	if frameStart != sb.nextPosition {
		sb.builder.Reset()
		return false
	}

	sb.builder.Append(buffer, offset, length)
	sb.nextPosition = header.Position()
	return true
}
