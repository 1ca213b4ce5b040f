// SPDX-FileCopyrightText: 2026 The shmlog-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package counters

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerAllocateFree(t *testing.T) {
	manager := NewManager(NewBuffers(4))
	assert.Equal(t, int32(3), manager.MaxCounterID())

	for i := int32(0); i < 4; i++ {
		id, err := manager.Allocate(SubscriberPositionTypeID, int64(100+i), fmt.Sprintf("sub-pos %d", i))
		require.NoError(t, err)
		assert.Equal(t, i, id)
		assert.Equal(t, RecordAllocated, manager.CounterState(id))
		assert.Equal(t, int64(100+i), manager.CounterRegistrationID(id))
	}

	_, err := manager.Allocate(PublisherLimitTypeID, 0, "pub-lmt")
	assert.ErrorIs(t, err, ErrCountersFull)

	manager.Position(2).SetOrdered(77)
	require.NoError(t, manager.Free(2))
	assert.Equal(t, RecordReclaimed, manager.CounterState(2))
	assert.Equal(t, int64(0), manager.CounterValue(2))
	assert.Error(t, manager.Free(2))

	id, err := manager.Allocate(PublisherLimitTypeID, 9, "pub-lmt")
	require.NoError(t, err)
	assert.Equal(t, int32(2), id)
	assert.Equal(t, "pub-lmt", manager.CounterLabel(id))
	assert.Equal(t, PublisherLimitTypeID, manager.CounterTypeID(id))
}

func TestManagerTruncatesLabel(t *testing.T) {
	manager := NewManager(NewBuffers(1))

	id, err := manager.Allocate(0, 0, strings.Repeat("x", 1000))
	require.NoError(t, err)
	assert.Len(t, manager.CounterLabel(id), int(MaxLabelLength))
}

func TestReaderForEach(t *testing.T) {
	manager := NewManager(NewBuffers(8))
	for _, label := range []string{"a", "b", "c"} {
		_, err := manager.Allocate(0, 0, label)
		require.NoError(t, err)
	}
	require.NoError(t, manager.Free(1))

	var labels []string
	manager.ForEach(func(_, _ int32, label string) {
		labels = append(labels, label)
	})
	assert.Equal(t, []string{"a", "c"}, labels)
}

func TestPosition(t *testing.T) {
	values, _ := NewBuffers(2)
	position := NewPosition(values, 1)

	assert.Equal(t, int32(1), position.ID())
	position.SetOrdered(128)
	assert.Equal(t, int64(128), position.GetVolatile())
	assert.Equal(t, int64(128), values.GetInt64(ValueOffset(1)))

	assert.False(t, position.ProposeMaxOrdered(64))
	assert.Equal(t, int64(128), position.Get())
	assert.True(t, position.ProposeMaxOrdered(256))
	assert.Equal(t, int64(256), position.Get())

	position.Set(0)
	assert.Equal(t, int64(0), position.GetVolatile())

	assert.False(t, position.IsClosed())
	position.Close()
	assert.True(t, position.IsClosed())
}
