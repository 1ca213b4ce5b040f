// SPDX-FileCopyrightText: 2026 The shmlog-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package logbuffer

import (
	"github.com/shmlog/shmlog-go/pkg/atomicbuf"
)

// FragmentHandler receives the payload of one frame: length bytes of buffer
// starting at offset. The buffer must not be retained after returning.
type FragmentHandler func(buffer *atomicbuf.Buffer, offset, length int32, header *Header)

// ControlledFragmentHandler is a FragmentHandler steering the poll through
// its returned Action.
type ControlledFragmentHandler func(buffer *atomicbuf.Buffer, offset, length int32, header *Header) Action

// Action returned by a ControlledFragmentHandler.
type Action uint8

const (
	_ Action = iota

	// Abort the poll and roll the position back to where the poll started.
	// The fragment will be delivered again.
	Abort

	// Break the poll after this fragment and publish the position.
	Break

	// Commit the position including this fragment right away and continue.
	Commit

	// Continue with the next fragment; the position is published at the end.
	Continue
)

func (a Action) String() string {
	switch a {
	case Abort:
		return "ABORT"
	case Break:
		return "BREAK"
	case Commit:
		return "COMMIT"
	case Continue:
		return "CONTINUE"
	default:
		return "INVALID"
	}
}

// ReservedValueSupplier computes the reserved value of a frame just before
// it gets published.
type ReservedValueSupplier func(termBuffer *atomicbuf.Buffer, termOffset, frameLength int32) int64
