// SPDX-FileCopyrightText: 2026 The shmlog-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package client

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shmlog/shmlog-go/pkg/atomicbuf"
	"github.com/shmlog/shmlog-go/pkg/logbuffer"
)

func appendMessages(t *testing.T, tl *testLog, n int) {
	for i := 0; i < n; i++ {
		require.Positive(t, tl.append(t, []byte(fmt.Sprintf("m%d", i))))
	}
}

// fillTerm appends full frames until less than one frame fits, then pads
// the rest of the term.
func fillTerm(t *testing.T, tl *testLog) (frames int, padOffset int32) {
	payload := bytes.Repeat([]byte{'x'}, int(testMaxPayload))
	for tl.lb.MetaData().TailPosition()+int64(testMTU) <= int64(testTermLength) {
		require.Positive(t, tl.append(t, payload))
		frames++
	}

	padOffset = int32(tl.lb.MetaData().TailPosition())
	require.Equal(t, logbuffer.AppendFailed, tl.append(t, make([]byte, 1000)))
	return
}

func TestImagePoll(t *testing.T) {
	tl := newTestLog(t)
	appendMessages(t, tl, 3)

	img := tl.image()
	assert.Equal(t, int64(0), img.JoinPosition())
	assert.Equal(t, testTermLength, img.TermBufferLength())
	assert.Equal(t, testInitialTermID, img.InitialTermID())

	var fragments []fragment
	assert.Equal(t, 2, img.Poll(collect(&fragments), 2))
	assert.Equal(t, int64(128), img.Position())
	assert.Equal(t, 1, img.Poll(collect(&fragments), 10))
	assert.Equal(t, int64(192), img.Position())
	assert.Equal(t, 0, img.Poll(collect(&fragments), 10))

	assert.Equal(t, []fragment{
		{"m0", logbuffer.Unfragmented, 64},
		{"m1", logbuffer.Unfragmented, 128},
		{"m2", logbuffer.Unfragmented, 192},
	}, fragments)
	assert.Equal(t, int64(192), tl.position.Get())
}

func TestImagePollAcrossTerms(t *testing.T) {
	tl := newTestLog(t)
	frames, _ := fillTerm(t, tl)
	require.True(t, tl.lb.MetaData().RotateLog(0, testInitialTermID))
	require.Positive(t, tl.append(t, []byte("next term")))

	img := tl.image()
	var fragments []fragment

	// The padding frame is consumed but not counted.
	assert.Equal(t, frames, img.Poll(collect(&fragments), frames+10))
	assert.Equal(t, int64(testTermLength), img.Position())

	fragments = nil
	assert.Equal(t, 1, img.Poll(collect(&fragments), 10))
	assert.Equal(t, []fragment{{"next term", logbuffer.Unfragmented, int64(testTermLength) + 64}}, fragments)
}

func TestImagePollHandlerPanics(t *testing.T) {
	tl := newTestLog(t)
	appendMessages(t, tl, 2)
	img := tl.image()

	assert.PanicsWithValue(t, "boom", func() {
		img.Poll(func(*atomicbuf.Buffer, int32, int32, *logbuffer.Header) {
			panic("boom")
		}, 10)
	})
	assert.Equal(t, int64(64), img.Position())

	assert.PanicsWithValue(t, "boom", func() {
		img.ControlledPoll(func(*atomicbuf.Buffer, int32, int32, *logbuffer.Header) logbuffer.Action {
			panic("boom")
		}, 10)
	})
	assert.Equal(t, int64(64), img.Position())

	var fragments []fragment
	assert.Equal(t, 1, img.Poll(collect(&fragments), 10))
	assert.Equal(t, "m1", fragments[0].payload)
}

func actions(sequence ...logbuffer.Action) (logbuffer.ControlledFragmentHandler, *[]string) {
	var payloads []string
	return func(buffer *atomicbuf.Buffer, offset, length int32, _ *logbuffer.Header) logbuffer.Action {
		payloads = append(payloads, string(buffer.Slice(offset, length)))
		if len(payloads) <= len(sequence) {
			return sequence[len(payloads)-1]
		}
		return logbuffer.Continue
	}, &payloads
}

func TestImageControlledPoll(t *testing.T) {
	tests := []struct {
		name      string
		sequence  []logbuffer.Action
		fragments int
		position  int64
		delivered int
	}{
		{"continue", nil, 3, 192, 3},
		{"abort first", []logbuffer.Action{logbuffer.Abort}, 0, 0, 1},
		{"abort after continue", []logbuffer.Action{logbuffer.Continue, logbuffer.Abort}, 1, 0, 2},
		{"abort after commit", []logbuffer.Action{logbuffer.Commit, logbuffer.Continue, logbuffer.Abort}, 2, 64, 3},
		{"break", []logbuffer.Action{logbuffer.Break}, 1, 64, 1},
		{"break after continue", []logbuffer.Action{logbuffer.Continue, logbuffer.Break}, 2, 128, 2},
		{"commit", []logbuffer.Action{logbuffer.Commit, logbuffer.Commit, logbuffer.Commit}, 3, 192, 3},
		{"continue commit continue", []logbuffer.Action{logbuffer.Continue, logbuffer.Commit, logbuffer.Continue}, 3, 192, 3},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			tl := newTestLog(t)
			appendMessages(t, tl, 3)
			img := tl.image()

			handler, payloads := actions(test.sequence...)
			assert.Equal(t, test.fragments, img.ControlledPoll(handler, 10))
			assert.Equal(t, test.position, img.Position())
			assert.Len(t, *payloads, test.delivered)
		})
	}
}

func TestImageControlledPollCommitPublishes(t *testing.T) {
	tl := newTestLog(t)
	appendMessages(t, tl, 2)
	img := tl.image()

	var seen []int64
	img.ControlledPoll(func(*atomicbuf.Buffer, int32, int32, *logbuffer.Header) logbuffer.Action {
		seen = append(seen, tl.position.GetVolatile())
		return logbuffer.Commit
	}, 10)

	assert.Equal(t, []int64{0, 64}, seen)
}

func TestImageControlledPollCommitBetweenContinues(t *testing.T) {
	tl := newTestLog(t)
	appendMessages(t, tl, 3)
	img := tl.image()

	sequence := []logbuffer.Action{logbuffer.Continue, logbuffer.Commit, logbuffer.Continue}
	var seen []int64
	fragments := img.ControlledPoll(func(*atomicbuf.Buffer, int32, int32, *logbuffer.Header) logbuffer.Action {
		seen = append(seen, tl.position.GetVolatile())
		return sequence[len(seen)-1]
	}, 10)

	assert.Equal(t, 3, fragments)
	assert.Equal(t, []int64{0, 0, 128}, seen)
	assert.Equal(t, int64(192), img.Position())
}

func TestImageAbortRedelivers(t *testing.T) {
	tl := newTestLog(t)
	appendMessages(t, tl, 1)
	img := tl.image()

	handler, payloads := actions(logbuffer.Abort)
	assert.Equal(t, 0, img.ControlledPoll(handler, 10))
	assert.Equal(t, 1, img.ControlledPoll(handler, 10))
	assert.Equal(t, []string{"m0", "m0"}, *payloads)
	assert.Equal(t, int64(64), img.Position())
}

func TestImageBoundedPoll(t *testing.T) {
	tl := newTestLog(t)
	appendMessages(t, tl, 3)
	img := tl.image()

	var fragments []fragment
	assert.Equal(t, 1, img.BoundedPoll(collect(&fragments), 96, 10))
	assert.Equal(t, int64(64), img.Position())

	// The next frame ends past the limit.
	assert.Equal(t, 0, img.BoundedPoll(collect(&fragments), 96, 10))
	assert.Equal(t, 0, img.BoundedPoll(collect(&fragments), 0, 10))
	assert.Equal(t, int64(64), img.Position())

	assert.Equal(t, 2, img.BoundedPoll(collect(&fragments), 192, 10))
	assert.Equal(t, int64(192), img.Position())
	assert.Len(t, fragments, 3)
}

func TestImageBoundedPollBelowTermBegin(t *testing.T) {
	tests := []struct {
		name     string
		position int64
	}{
		{"first term", int64(testTermLength)},
		{"beyond 2 GiB", 3 << 30},
		{"beyond 4 GiB", 6 << 30},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			tl := newTestLog(t)
			tl.position.SetOrdered(test.position)

			// The message lands at offset 0 of the partition the position maps to.
			partition := logbuffer.IndexByPosition(test.position, logbuffer.PositionBitsToShift(testTermLength))
			tl.lb.MetaData().InitialiseTailWithTermID(partition, testInitialTermID)
			src := atomicbuf.NewBuffer([]byte("m0"))
			appender := logbuffer.NewTermAppender(tl.lb.TermBuffer(partition), tl.lb.MetaData(), partition)
			require.Positive(t, appender.AppendUnfragmentedMessage(tl.writer, src, 0, src.Capacity(), nil, testInitialTermID))
			img := tl.image()

			var fragments []fragment
			assert.Equal(t, 0, img.BoundedPoll(collect(&fragments), 0, 10))
			assert.Equal(t, 0, img.BoundedPoll(collect(&fragments), test.position-1, 10))
			handler, payloads := actions(logbuffer.Commit)
			assert.Equal(t, 0, img.BoundedControlledPoll(handler, 0, 10))
			assert.Empty(t, *payloads)
			assert.Empty(t, fragments)
			assert.Equal(t, test.position, img.Position())

			assert.Equal(t, 1, img.BoundedPoll(collect(&fragments), test.position+64, 10))
			assert.Equal(t, test.position+64, img.Position())
		})
	}
}

func TestImageBoundedPollKeepsPadding(t *testing.T) {
	tl := newTestLog(t)
	frames, padOffset := fillTerm(t, tl)
	img := tl.image()

	var fragments []fragment
	assert.Equal(t, frames, img.BoundedPoll(collect(&fragments), int64(padOffset)+64, frames+10))
	assert.Equal(t, int64(padOffset), img.Position())

	assert.Equal(t, 0, img.BoundedPoll(collect(&fragments), int64(testTermLength), 10))
	assert.Equal(t, int64(testTermLength), img.Position())
}

func TestImageBoundedControlledPoll(t *testing.T) {
	tl := newTestLog(t)
	appendMessages(t, tl, 3)
	img := tl.image()

	handler, payloads := actions(logbuffer.Commit, logbuffer.Commit, logbuffer.Commit)
	assert.Equal(t, 2, img.BoundedControlledPoll(handler, 160, 10))
	assert.Equal(t, int64(128), img.Position())
	assert.Equal(t, []string{"m0", "m1"}, *payloads)

	handler, _ = actions(logbuffer.Continue, logbuffer.Abort)
	assert.Equal(t, 1, img.BoundedControlledPoll(handler, 192, 10))
	assert.Equal(t, int64(192), img.Position())
}

func TestImagePositionFromOtherGoroutine(t *testing.T) {
	tl := newTestLog(t)
	appendMessages(t, tl, 100)
	img := tl.image()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for img.Poll(func(*atomicbuf.Buffer, int32, int32, *logbuffer.Header) {}, 1) > 0 {
		}
	}()

	last := int64(0)
	for polling := true; polling; {
		select {
		case <-done:
			polling = false
		default:
		}

		position := img.Position()
		assert.GreaterOrEqual(t, position, last)
		last = position
	}
	assert.Equal(t, int64(100*64), img.Position())
}

func TestImageSetPosition(t *testing.T) {
	tl := newTestLog(t)
	appendMessages(t, tl, 3)
	img := tl.image()

	require.NoError(t, img.SetPosition(128))
	assert.Error(t, img.SetPosition(64))
	assert.Error(t, img.SetPosition(130))
	assert.Error(t, img.SetPosition(int64(testTermLength)+32))

	var fragments []fragment
	assert.Equal(t, 1, img.Poll(collect(&fragments), 10))
	assert.Equal(t, "m2", fragments[0].payload)

	require.NoError(t, img.SetPosition(int64(testTermLength)))
}

func TestImageEndOfStreamAndClose(t *testing.T) {
	tl := newTestLog(t)
	appendMessages(t, tl, 3)
	tl.lb.MetaData().SetEndOfStreamPosition(128)
	img := tl.image()

	assert.False(t, img.IsEndOfStream())
	var fragments []fragment
	img.Poll(collect(&fragments), 2)
	assert.True(t, img.IsEndOfStream())

	img.close()
	assert.True(t, img.IsClosed())
	assert.True(t, img.IsEndOfStream())
	assert.Equal(t, int64(128), img.Position())

	tl.position.SetOrdered(0)
	assert.Equal(t, int64(128), img.Position())
	assert.Equal(t, 0, img.Poll(collect(&fragments), 10))
	assert.Equal(t, 0, img.ControlledPoll(func(*atomicbuf.Buffer, int32, int32, *logbuffer.Header) logbuffer.Action {
		return logbuffer.Continue
	}, 10))
	assert.ErrorIs(t, img.SetPosition(128), ErrClientClosed)
}
