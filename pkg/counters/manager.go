// SPDX-FileCopyrightText: 2026 The shmlog-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package counters

import (
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/shmlog/shmlog-go/pkg/atomicbuf"
)

// Manager allocates and frees counters. Freed records are reused.
type Manager struct {
	*Reader

	mutex     sync.Mutex
	freeList  []int32
	highWater int32
}

// NewManager over zeroed values and metadata buffers.
func NewManager(values, metaData *atomicbuf.Buffer) *Manager {
	return &Manager{
		Reader:    NewReader(values, metaData),
		highWater: -1,
	}
}

// Allocate a counter, initialised to zero.
func (m *Manager) Allocate(typeID int32, registrationID int64, label string) (int32, error) {
	if len(label) > int(MaxLabelLength) {
		label = label[:MaxLabelLength]
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	var counterID int32
	if n := len(m.freeList); n > 0 {
		counterID = m.freeList[0]
		m.freeList = m.freeList[1:]
	} else if m.highWater < m.maxCounterID {
		m.highWater++
		counterID = m.highWater
	} else {
		return 0, ErrCountersFull
	}

	offset := MetaDataOffset(counterID)
	m.metaData.PutInt32(offset+typeIDOffset, typeID)
	m.metaData.PutInt64(offset+registrationIDOffset, registrationID)
	m.metaData.PutInt32(offset+labelLengthOffset, int32(len(label)))
	m.metaData.PutBytes(offset+labelOffset, []byte(label))
	m.values.PutInt64Ordered(ValueOffset(counterID), 0)
	m.metaData.PutInt32Ordered(offset+stateOffset, RecordAllocated)

	log.WithFields(log.Fields{
		"counter": counterID,
		"type":    typeID,
		"label":   label,
	}).Debug("Allocated counter")

	return counterID, nil
}

// Free a counter for reuse.
func (m *Manager) Free(counterID int32) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if counterID < 0 || counterID > m.highWater || m.CounterState(counterID) != RecordAllocated {
		return fmt.Errorf("counters: counter %d is not allocated", counterID)
	}

	m.metaData.PutInt32Ordered(MetaDataOffset(counterID)+stateOffset, RecordReclaimed)
	m.values.PutInt64Ordered(ValueOffset(counterID), 0)
	m.freeList = append(m.freeList, counterID)

	log.WithField("counter", counterID).Debug("Freed counter")
	return nil
}

// Position view of an allocated counter.
func (m *Manager) Position(counterID int32) *Position {
	return NewPosition(m.values, counterID)
}
