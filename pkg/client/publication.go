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

// Results of an offer other than a new stream position.
const (
	// NotConnected means no subscriber is connected to the publication.
	NotConnected int64 = -1

	// BackPressured means the publication limit was reached. Retry later.
	BackPressured int64 = -2

	// AdminAction means the log was rotated or the offer raced with a
	// rotation. Retry right away.
	AdminAction int64 = -3

	// PublicationClosed means the publication was closed.
	PublicationClosed int64 = -4

	// MaxPositionExceeded means the stream reached the end of its log.
	MaxPositionExceeded int64 = -5

	// MessageTooLong means the message exceeds MaxMessageLength.
	MessageTooLong int64 = -6
)

// resourceReleaser is the part of the conductor a resource closes itself
// through.
type resourceReleaser interface {
	releasePublication(publication *Publication) error
	releaseSubscription(subscription *Subscription) error
}

// Publication appends messages to a stream. Publications are shared: every
// AddPublication for the same channel and stream returns the same instance,
// which is released to the driver after the last Close.
type Publication struct {
	conductor        resourceReleaser
	logBuffers       *logbuffer.LogBuffers
	metaData         *logbuffer.MetaData
	appenders        [logbuffer.PartitionCount]*logbuffer.TermAppender
	headerWriter     *logbuffer.HeaderWriter
	publicationLimit *counters.Position

	channel                string
	registrationID         int64
	originalRegistrationID int64
	maxPossiblePosition    int64

	streamID            int32
	sessionID           int32
	initialTermID       int32
	maxPayloadLength    int32
	maxMessageLength    int32
	termBufferLength    int32
	positionBitsToShift uint8

	// ReservedValueSupplier, if set, fills each frame's reserved value.
	ReservedValueSupplier logbuffer.ReservedValueSupplier

	refCount int
	isClosed atomic.Bool
}

func newPublication(
	conductor resourceReleaser, channel string, streamID, sessionID int32,
	registrationID, originalRegistrationID int64,
	publicationLimit *counters.Position, logBuffers *logbuffer.LogBuffers) *Publication {

	metaData := logBuffers.MetaData()
	termLength := logBuffers.TermLength()

	pub := &Publication{
		conductor:              conductor,
		logBuffers:             logBuffers,
		metaData:               metaData,
		headerWriter:           logbuffer.NewHeaderWriter(metaData.DefaultFrameHeader()),
		publicationLimit:       publicationLimit,
		channel:                channel,
		registrationID:         registrationID,
		originalRegistrationID: originalRegistrationID,
		maxPossiblePosition:    logbuffer.MaxPossiblePosition(termLength),
		streamID:               streamID,
		sessionID:              sessionID,
		initialTermID:          metaData.InitialTermID(),
		maxPayloadLength:       metaData.MTULength() - logbuffer.DataFrameHeaderLength,
		maxMessageLength:       logbuffer.ComputeMaxMessageLength(termLength),
		termBufferLength:       termLength,
		positionBitsToShift:    logbuffer.PositionBitsToShift(termLength),
		refCount:               1,
	}

	for i := range pub.appenders {
		pub.appenders[i] = logbuffer.NewTermAppender(logBuffers.TermBuffer(i), metaData, i)
	}

	return pub
}

func (pub *Publication) Channel() string {
	return pub.channel
}

func (pub *Publication) StreamID() int32 {
	return pub.streamID
}

func (pub *Publication) SessionID() int32 {
	return pub.sessionID
}

// RegistrationID of this client's registration.
func (pub *Publication) RegistrationID() int64 {
	return pub.registrationID
}

// OriginalRegistrationID of the driver's publication, shared by every
// client publishing on the same channel and stream.
func (pub *Publication) OriginalRegistrationID() int64 {
	return pub.originalRegistrationID
}

func (pub *Publication) InitialTermID() int32 {
	return pub.initialTermID
}

// MaxPayloadLength of a single frame. Longer messages are fragmented.
func (pub *Publication) MaxPayloadLength() int32 {
	return pub.maxPayloadLength
}

// MaxMessageLength accepted by Offer.
func (pub *Publication) MaxMessageLength() int32 {
	return pub.maxMessageLength
}

func (pub *Publication) TermBufferLength() int32 {
	return pub.termBufferLength
}

// IsClosed reports whether the publication was released.
func (pub *Publication) IsClosed() bool {
	return pub.isClosed.Load()
}

// IsConnected reports whether a subscriber is connected.
func (pub *Publication) IsConnected() bool {
	return !pub.isClosed.Load() && pub.metaData.IsConnected()
}

// Position of the stream's tail, or PublicationClosed.
func (pub *Publication) Position() int64 {
	if pub.isClosed.Load() {
		return PublicationClosed
	}

	return pub.metaData.TailPosition()
}

// PositionLimit up to which offers are accepted, or PublicationClosed.
func (pub *Publication) PositionLimit() int64 {
	if pub.isClosed.Load() {
		return PublicationClosed
	}
	return pub.publicationLimit.GetVolatile()
}

// CheckMessageLength against MaxMessageLength.
func (pub *Publication) CheckMessageLength(length int) error {
	if length > int(pub.maxMessageLength) {
		return fmt.Errorf("%w: %d > %d", ErrMessageTooLong, length, pub.maxMessageLength)
	}
	return nil
}

// Offer a message. It returns the new stream position or one of the
// negative results NotConnected, BackPressured, AdminAction,
// PublicationClosed, MaxPositionExceeded or MessageTooLong.
func (pub *Publication) Offer(message []byte) int64 {
	return pub.OfferBuffer(atomicbuf.NewBuffer(message), 0, int32(len(message)))
}

// OfferBuffer offers length bytes of buffer starting at offset.
func (pub *Publication) OfferBuffer(buffer *atomicbuf.Buffer, offset, length int32) int64 {
	if pub.isClosed.Load() {
		return PublicationClosed
	}

	limit := pub.publicationLimit.GetVolatile()
	termCount := pub.metaData.ActiveTermCount()
	appender := pub.appenders[logbuffer.IndexByTermCount(int64(termCount))]
	rawTail := appender.RawTailVolatile()
	termOffset := rawTail & 0xFFFF_FFFF
	termID := logbuffer.TermIDFromTail(rawTail)
	position := logbuffer.ComputeTermBeginPosition(termID, pub.positionBitsToShift, pub.initialTermID) + termOffset

	if termCount != termID-pub.initialTermID {
		return AdminAction
	}

	if position >= limit {
		return pub.backPressureStatus(position, length)
	}

	var resultingOffset int32
	if length <= pub.maxPayloadLength {
		resultingOffset = appender.AppendUnfragmentedMessage(
			pub.headerWriter, buffer, offset, length, pub.ReservedValueSupplier, termID)
	} else {
		if length > pub.maxMessageLength {
			return MessageTooLong
		}
		resultingOffset = appender.AppendFragmentedMessage(
			pub.headerWriter, buffer, offset, length, pub.maxPayloadLength, pub.ReservedValueSupplier, termID)
	}

	return pub.newPosition(termCount, termID, termOffset, position, resultingOffset)
}

func (pub *Publication) newPosition(termCount, termID int32, termOffset, position int64, resultingOffset int32) int64 {
	if resultingOffset > 0 {
		return position - termOffset + int64(resultingOffset)
	}

	termBeginPosition := position - termOffset
	if termBeginPosition+int64(pub.termBufferLength) >= pub.maxPossiblePosition {
		return MaxPositionExceeded
	}

	pub.metaData.RotateLog(termCount, termID)
	return AdminAction
}

func (pub *Publication) backPressureStatus(position int64, length int32) int64 {
	if position+int64(length) >= pub.maxPossiblePosition {
		return MaxPositionExceeded
	}
	if pub.metaData.IsConnected() {
		return BackPressured
	}
	return NotConnected
}

// Close releases this reference to the publication.
func (pub *Publication) Close() error {
	if pub.isClosed.Load() {
		return nil
	}
	return pub.conductor.releasePublication(pub)
}

// close the publication locally, done by the conductor.
func (pub *Publication) close() {
	pub.isClosed.Store(true)
}
