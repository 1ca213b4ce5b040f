// SPDX-FileCopyrightText: 2026 The shmlog-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package loopback

import (
	"math"

	"github.com/shmlog/shmlog-go/pkg/counters"
	"github.com/shmlog/shmlog-go/pkg/logbuffer"
)

// subscriberLink is one subscription's image of a publication.
type subscriberLink struct {
	imageCorrelationID         int64
	subscriptionRegistrationID int64
	counterID                  int32
	position                   *counters.Position
}

// ipcPublication is the driver side of a publication, shared by all
// client registrations on its channel and stream.
type ipcPublication struct {
	registrationID int64
	channel        string
	streamID       int32
	sessionID      int32

	logFileName    string
	logBuffers     *logbuffer.LogBuffers
	limitCounterID int32
	limit          *counters.Position

	termLength          int32
	termWindowLength    int32
	positionBitsToShift uint8
	cleanPosition       int64

	// registrations maps client registration ids to their client ids.
	registrations map[int64]int64
	links         map[int64]*subscriberLink
}

// update the publication limit and then the connected flag. It returns the
// amount of work done.
func (pub *ipcPublication) update() int {
	metaData := pub.logBuffers.MetaData()
	if len(pub.links) == 0 {
		metaData.SetIsConnected(false)
		return 0
	}

	minPosition := int64(math.MaxInt64)
	for _, link := range pub.links {
		minPosition = min(minPosition, link.position.GetVolatile())
	}

	workCount := 0
	if pub.limit.ProposeMaxOrdered(minPosition + int64(pub.termWindowLength)) {
		workCount++
	}
	metaData.SetIsConnected(true)

	if pub.cleanBufferTo(minPosition - int64(pub.termLength)) {
		workCount++
	}
	return workCount
}

// cleanBufferTo zeroes consumed frames so a partition is empty once it is
// reused. At most the rest of one term is cleaned per call.
func (pub *ipcPublication) cleanBufferTo(position int64) bool {
	cleanPosition := pub.cleanPosition
	if position <= cleanPosition {
		return false
	}

	termBuffer := pub.logBuffers.TermBuffer(logbuffer.IndexByPosition(cleanPosition, pub.positionBitsToShift))
	termOffset := logbuffer.ComputeTermOffsetFromPosition(cleanPosition, pub.positionBitsToShift)
	length := int32(min(position-cleanPosition, int64(pub.termLength-termOffset)))

	termBuffer.SetMemory(termOffset, length, 0)
	pub.cleanPosition = cleanPosition + int64(length)
	return true
}

// producerPosition of the publication.
func (pub *ipcPublication) producerPosition() int64 {
	return pub.logBuffers.MetaData().TailPosition()
}
