// SPDX-FileCopyrightText: 2026 The shmlog-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package client

import (
	"fmt"
	"sync/atomic"

	"github.com/shmlog/shmlog-go/pkg/atomicbuf"
	"github.com/shmlog/shmlog-go/pkg/counters"
	"github.com/shmlog/shmlog-go/pkg/logbuffer"
)

// Image is a subscription's view of one publisher's stream. It reads frames
// from the stream's term buffers and tracks its progress in a subscriber
// position counter shared with the driver.
//
// All poll methods publish the position of the last consumed frame before
// returning, also when a handler panics. The panic is not recovered.
type Image struct {
	termBuffers        [logbuffer.PartitionCount]*atomicbuf.Buffer
	header             *logbuffer.Header
	subscriberPosition *counters.Position
	logBuffers         *logbuffer.LogBuffers
	sourceIdentity     string

	correlationID              int64
	subscriptionRegistrationID int64
	joinPosition               int64
	finalPosition              int64

	sessionID           int32
	initialTermID       int32
	termLengthMask      int32
	positionBitsToShift uint8

	isEndOfStream bool
	isClosed      atomic.Bool
}

// NewImage over a mapped log. Images are created by the client conductor.
func NewImage(
	correlationID, subscriptionRegistrationID int64, sessionID int32,
	subscriberPosition *counters.Position, logBuffers *logbuffer.LogBuffers, sourceIdentity string) *Image {

	termLength := logBuffers.TermLength()
	initialTermID := logBuffers.MetaData().InitialTermID()
	shift := logbuffer.PositionBitsToShift(termLength)

	return &Image{
		termBuffers:                logBuffers.TermBuffers(),
		header:                     logbuffer.NewHeader(initialTermID, shift),
		subscriberPosition:         subscriberPosition,
		logBuffers:                 logBuffers,
		sourceIdentity:             sourceIdentity,
		correlationID:              correlationID,
		subscriptionRegistrationID: subscriptionRegistrationID,
		joinPosition:               subscriberPosition.Get(),
		sessionID:                  sessionID,
		initialTermID:              initialTermID,
		termLengthMask:             termLength - 1,
		positionBitsToShift:        shift,
	}
}

// CorrelationID identifying this image.
func (img *Image) CorrelationID() int64 {
	return img.correlationID
}

// SubscriptionRegistrationID of the owning subscription.
func (img *Image) SubscriptionRegistrationID() int64 {
	return img.subscriptionRegistrationID
}

// SessionID of the publisher.
func (img *Image) SessionID() int32 {
	return img.sessionID
}

// SourceIdentity of the publisher, as reported by the driver.
func (img *Image) SourceIdentity() string {
	return img.sourceIdentity
}

// JoinPosition at which this image started.
func (img *Image) JoinPosition() int64 {
	return img.joinPosition
}

func (img *Image) InitialTermID() int32 {
	return img.initialTermID
}

func (img *Image) TermBufferLength() int32 {
	return img.termLengthMask + 1
}

func (img *Image) PositionBitsToShift() uint8 {
	return img.positionBitsToShift
}

// IsClosed reports whether the image is no longer available.
func (img *Image) IsClosed() bool {
	return img.isClosed.Load()
}

// Position of the subscriber within the stream, or the final position once
// the image is closed.
func (img *Image) Position() int64 {
	if img.isClosed.Load() {
		return img.finalPosition
	}
	return img.subscriberPosition.GetVolatile()
}

// SetPosition moves the subscriber within the current term. The new position
// must be frame aligned and not behind the current one.
func (img *Image) SetPosition(newPosition int64) error {
	if img.isClosed.Load() {
		return ErrClientClosed
	}

	currentPosition := img.subscriberPosition.Get()
	termBegin := currentPosition &^ int64(img.termLengthMask)
	limitPosition := termBegin + int64(img.termLengthMask) + 1

	if newPosition < currentPosition || newPosition > limitPosition {
		return fmt.Errorf("position %d is outside of range %d..%d", newPosition, currentPosition, limitPosition)
	}
	if newPosition&int64(logbuffer.FrameAlignment-1) != 0 {
		return fmt.Errorf("position %d is not aligned to %d", newPosition, logbuffer.FrameAlignment)
	}

	img.subscriberPosition.SetOrdered(newPosition)
	return nil
}

// IsEndOfStream reports whether the subscriber consumed the stream up to
// its end of stream position.
func (img *Image) IsEndOfStream() bool {
	if img.isClosed.Load() {
		return img.isEndOfStream
	}
	return img.subscriberPosition.GetVolatile() >= img.logBuffers.MetaData().EndOfStreamPosition()
}

// Poll up to fragmentLimit fragments. Padding frames are skipped without
// counting against the limit. The position is published once, after the
// last fragment. A fragment whose handler panics counts as consumed.
func (img *Image) Poll(handler logbuffer.FragmentHandler, fragmentLimit int) int {
	if img.isClosed.Load() {
		return 0
	}
	return img.scan(handler, nil, maxPosition, fragmentLimit)
}

// ControlledPoll up to fragmentLimit fragments, steered by the handler's
// actions. A fragment whose handler panics is not consumed and will be
// delivered again.
func (img *Image) ControlledPoll(handler logbuffer.ControlledFragmentHandler, fragmentLimit int) int {
	if img.isClosed.Load() {
		return 0
	}
	return img.scan(nil, handler, maxPosition, fragmentLimit)
}

// BoundedPoll is Poll never consuming beyond limitPosition. A frame ending
// past the limit is not delivered.
func (img *Image) BoundedPoll(handler logbuffer.FragmentHandler, limitPosition int64, fragmentLimit int) int {
	if img.isClosed.Load() {
		return 0
	}
	return img.scan(handler, nil, limitPosition, fragmentLimit)
}

// BoundedControlledPoll is ControlledPoll never consuming beyond
// limitPosition. A Commit publishes at most up to the limit, as no frame
// ending past it is delivered.
func (img *Image) BoundedControlledPoll(
	handler logbuffer.ControlledFragmentHandler, limitPosition int64, fragmentLimit int) int {

	if img.isClosed.Load() {
		return 0
	}
	return img.scan(nil, handler, limitPosition, fragmentLimit)
}

const maxPosition = int64(^uint64(0) >> 1)

// scan reads the term at the subscriber position. Exactly one of handler
// and controlled is set.
func (img *Image) scan(
	handler logbuffer.FragmentHandler, controlled logbuffer.ControlledFragmentHandler,
	limitPosition int64, fragmentLimit int) (fragmentsRead int) {

	initialPosition := img.subscriberPosition.Get()
	termBeginPosition := initialPosition &^ int64(img.termLengthMask)
	termBuffer := img.termBuffers[logbuffer.IndexByPosition(initialPosition, img.positionBitsToShift)]
	limitOffset := int32(max(0, min(int64(termBuffer.Capacity()), limitPosition-termBeginPosition)))

	publishedPosition := initialPosition
	offset := int32(initialPosition - termBeginPosition)

	defer func() {
		if resultingPosition := termBeginPosition + int64(offset); resultingPosition > publishedPosition {
			img.subscriberPosition.SetOrdered(resultingPosition)
		}
	}()

	for fragmentsRead < fragmentLimit && offset < limitOffset {
		frameLength := logbuffer.FrameLengthVolatile(termBuffer, offset)
		if frameLength <= 0 {
			break
		}

		frameOffset := offset
		alignedLength := logbuffer.Align(frameLength, logbuffer.FrameAlignment)
		if frameOffset+alignedLength > limitOffset {
			break
		}

		if logbuffer.IsPaddingFrame(termBuffer, frameOffset) {
			offset += alignedLength
			continue
		}

		img.header.Wrap(termBuffer, frameOffset)
		payloadOffset := frameOffset + logbuffer.DataFrameHeaderLength
		payloadLength := frameLength - logbuffer.DataFrameHeaderLength

		if handler != nil {
			offset += alignedLength
			fragmentsRead++
			handler(termBuffer, payloadOffset, payloadLength, img.header)
			continue
		}

		action := controlled(termBuffer, payloadOffset, payloadLength, img.header)
		if action == logbuffer.Abort {
			offset = int32(publishedPosition - termBeginPosition)
			break
		}

		offset += alignedLength
		fragmentsRead++

		if action == logbuffer.Break {
			break
		}
		if action == logbuffer.Commit {
			publishedPosition = termBeginPosition + int64(offset)
			img.subscriberPosition.SetOrdered(publishedPosition)
		}
	}

	return
}

// close the image, done by the conductor once the driver withdrew it.
func (img *Image) close() {
	if img.isClosed.Load() {
		return
	}

	img.finalPosition = img.subscriberPosition.GetVolatile()
	img.isEndOfStream = img.finalPosition >= img.logBuffers.MetaData().EndOfStreamPosition()
	img.isClosed.Store(true)
}
