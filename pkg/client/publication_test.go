// SPDX-FileCopyrightText: 2026 The shmlog-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package client

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shmlog/shmlog-go/pkg/atomicbuf"
	"github.com/shmlog/shmlog-go/pkg/logbuffer"
)

func newTestPublication(t *testing.T) (*testLog, *Publication, *releaser) {
	tl := newTestLog(t)
	r := &releaser{}
	pub := newPublication(r, "shmlog:ipc", testStreamID, testSessionID, 5, 4, tl.limit, tl.lb)
	return tl, pub, r
}

func TestPublicationProperties(t *testing.T) {
	_, pub, _ := newTestPublication(t)

	assert.Equal(t, "shmlog:ipc", pub.Channel())
	assert.Equal(t, testStreamID, pub.StreamID())
	assert.Equal(t, testSessionID, pub.SessionID())
	assert.Equal(t, int64(5), pub.RegistrationID())
	assert.Equal(t, int64(4), pub.OriginalRegistrationID())
	assert.Equal(t, testInitialTermID, pub.InitialTermID())
	assert.Equal(t, testMaxPayload, pub.MaxPayloadLength())
	assert.Equal(t, testTermLength/8, pub.MaxMessageLength())
	assert.Equal(t, testTermLength, pub.TermBufferLength())
	assert.Equal(t, int64(0), pub.Position())
	assert.Equal(t, int64(testTermLength)*2, pub.PositionLimit())
}

func TestPublicationOffer(t *testing.T) {
	tl, pub, _ := newTestPublication(t)
	tl.lb.MetaData().SetIsConnected(true)
	assert.True(t, pub.IsConnected())

	pub.ReservedValueSupplier = func(_ *atomicbuf.Buffer, _, frameLength int32) int64 {
		return int64(frameLength)
	}

	assert.Equal(t, int64(64), pub.Offer([]byte("Hello World!")))
	assert.Equal(t, int64(64), pub.Position())

	var reserved int64
	var fragments []fragment
	handler := collect(&fragments)
	n := tl.image().Poll(func(buffer *atomicbuf.Buffer, offset, length int32, header *logbuffer.Header) {
		reserved = header.ReservedValue()
		assert.Equal(t, testSessionID, header.SessionID())
		assert.Equal(t, testStreamID, header.StreamID())
		handler(buffer, offset, length, header)
	}, 10)

	assert.Equal(t, 1, n)
	assert.Equal(t, []fragment{{"Hello World!", logbuffer.Unfragmented, 64}}, fragments)
	assert.Equal(t, int64(44), reserved)
}

func TestPublicationOfferBuffer(t *testing.T) {
	tl, pub, _ := newTestPublication(t)

	buffer := atomicbuf.NewBuffer([]byte("xxpayloadxx"))
	assert.Equal(t, int64(64), pub.OfferBuffer(buffer, 2, 7))

	var fragments []fragment
	tl.image().Poll(collect(&fragments), 10)
	assert.Equal(t, "payload", fragments[0].payload)
}

func TestPublicationOfferFragmented(t *testing.T) {
	tl, pub, _ := newTestPublication(t)

	message := bytes.Repeat([]byte("0123456789"), 300)
	assert.Equal(t, int64(2*testMTU+288), pub.Offer(message))

	var fragments []fragment
	assert.Equal(t, 3, tl.image().Poll(collect(&fragments), 10))
	require.Len(t, fragments, 3)
	assert.Equal(t, logbuffer.BeginFrag, fragments[0].flags)
	assert.Equal(t, uint8(0), fragments[1].flags)
	assert.Equal(t, logbuffer.EndFrag, fragments[2].flags)
	assert.Equal(t, string(message), fragments[0].payload+fragments[1].payload+fragments[2].payload)
}

func TestPublicationOfferLimits(t *testing.T) {
	tl, pub, _ := newTestPublication(t)
	tl.limit.SetOrdered(64)

	assert.Equal(t, int64(64), pub.Offer([]byte("first")))
	assert.Equal(t, NotConnected, pub.Offer([]byte("second")))

	tl.lb.MetaData().SetIsConnected(true)
	assert.Equal(t, BackPressured, pub.Offer([]byte("second")))

	tl.limit.SetOrdered(128)
	assert.Equal(t, int64(128), pub.Offer([]byte("second")))
}

func TestPublicationMessageTooLong(t *testing.T) {
	_, pub, _ := newTestPublication(t)
	maxLength := int(pub.MaxMessageLength())

	assert.NoError(t, pub.CheckMessageLength(maxLength))
	assert.ErrorIs(t, pub.CheckMessageLength(maxLength+1), ErrMessageTooLong)

	assert.Equal(t, MessageTooLong, pub.Offer(make([]byte, maxLength+1)))
	assert.Positive(t, pub.Offer(make([]byte, maxLength)))
}

func TestPublicationRotatesTerm(t *testing.T) {
	tl, pub, _ := newTestPublication(t)

	payload := make([]byte, testMaxPayload)
	for pub.Position()+int64(testMTU) <= int64(testTermLength) {
		require.Positive(t, pub.Offer(payload))
	}

	assert.Equal(t, AdminAction, pub.Offer(make([]byte, 1000)))
	assert.Equal(t, int32(1), tl.lb.MetaData().ActiveTermCount())
	assert.Equal(t, int64(testTermLength), pub.Position())

	assert.Equal(t, int64(testTermLength)+1056, pub.Offer(make([]byte, 1000)))
}

func TestPublicationMaxPositionExceeded(t *testing.T) {
	tl, pub, _ := newTestPublication(t)
	tl.limit.SetOrdered(math.MaxInt64)

	lastTermCount := int32(math.MaxInt32)
	metaData := tl.lb.MetaData()
	metaData.SetRawTailOrdered(logbuffer.IndexByTermCount(int64(lastTermCount)),
		logbuffer.PackTail(testInitialTermID+lastTermCount, testTermLength-64))
	metaData.SetActiveTermCountOrdered(lastTermCount)

	assert.Equal(t, logbuffer.MaxPossiblePosition(testTermLength), pub.Offer([]byte("last")))
	assert.Equal(t, MaxPositionExceeded, pub.Offer([]byte("beyond")))
}

func TestPublicationClose(t *testing.T) {
	tl, pub, r := newTestPublication(t)
	tl.lb.MetaData().SetIsConnected(true)

	require.NoError(t, pub.Close())
	require.NoError(t, pub.Close())
	assert.Equal(t, []*Publication{pub}, r.publications)

	assert.True(t, pub.IsClosed())
	assert.False(t, pub.IsConnected())
	assert.Equal(t, PublicationClosed, pub.Offer([]byte("late")))
	assert.Equal(t, PublicationClosed, pub.Position())
	assert.Equal(t, PublicationClosed, pub.PositionLimit())
}
