// SPDX-FileCopyrightText: 2026 The shmlog-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package client

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shmlog/shmlog-go/pkg/atomicbuf"
	"github.com/shmlog/shmlog-go/pkg/counters"
	"github.com/shmlog/shmlog-go/pkg/logbuffer"
)

const (
	testTermLength    = logbuffer.TermMinLength
	testInitialTermID = int32(-3)
	testSessionID     = int32(0x5EED)
	testStreamID      = int32(1001)
	testMTU           = int32(1408)
	testMaxPayload    = testMTU - logbuffer.DataFrameHeaderLength

	limitCounterID    = int32(0)
	positionCounterID = int32(1)
)

// testLog is a heap backed log together with the counters a driver would
// maintain for it.
type testLog struct {
	lb       *logbuffer.LogBuffers
	values   *atomicbuf.Buffer
	limit    *counters.Position
	position *counters.Position
	writer   *logbuffer.HeaderWriter
}

func newTestLog(t *testing.T) *testLog {
	lb, err := logbuffer.AllocateLogBuffers(testTermLength)
	require.NoError(t, err)
	lb.MetaData().Initialise(42, testInitialTermID, testTermLength, testMTU, 4096, testSessionID, testStreamID)

	values, _ := counters.NewBuffers(8)
	tl := &testLog{
		lb:       lb,
		values:   values,
		limit:    counters.NewPosition(values, limitCounterID),
		position: counters.NewPosition(values, positionCounterID),
		writer:   logbuffer.NewHeaderWriter(lb.MetaData().DefaultFrameHeader()),
	}
	tl.limit.SetOrdered(int64(testTermLength) * 2)
	return tl
}

// append a message to the active term, as a publisher would.
func (tl *testLog) append(t *testing.T, message []byte) int32 {
	metaData := tl.lb.MetaData()
	termCount := metaData.ActiveTermCount()
	partition := logbuffer.IndexByTermCount(int64(termCount))
	appender := logbuffer.NewTermAppender(tl.lb.TermBuffer(partition), metaData, partition)
	termID := logbuffer.TermIDFromTail(appender.RawTailVolatile())

	src := atomicbuf.NewBuffer(message)
	length := int32(len(message))
	if length <= testMaxPayload {
		return appender.AppendUnfragmentedMessage(tl.writer, src, 0, length, nil, termID)
	}
	result := appender.AppendFragmentedMessage(tl.writer, src, 0, length, testMaxPayload, nil, termID)
	require.NotEqual(t, logbuffer.AppendFailed, result)
	return result
}

func (tl *testLog) image() *Image {
	return NewImage(7, 3, testSessionID, tl.position, tl.lb, "test")
}

// fragment is a copy of a delivered fragment.
type fragment struct {
	payload  string
	flags    uint8
	position int64
}

func collect(fragments *[]fragment) logbuffer.FragmentHandler {
	return func(buffer *atomicbuf.Buffer, offset, length int32, header *logbuffer.Header) {
		*fragments = append(*fragments, fragment{
			payload:  string(buffer.Slice(offset, length)),
			flags:    header.Flags(),
			position: header.Position(),
		})
	}
}

// releaser records released resources instead of talking to a driver.
type releaser struct {
	publications  []*Publication
	subscriptions []*Subscription
}

func (r *releaser) releasePublication(pub *Publication) error {
	r.publications = append(r.publications, pub)
	pub.close()
	return nil
}

func (r *releaser) releaseSubscription(sub *Subscription) error {
	r.subscriptions = append(r.subscriptions, sub)
	sub.close()
	return nil
}
