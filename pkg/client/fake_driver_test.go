// SPDX-FileCopyrightText: 2026 The shmlog-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package client

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shmlog/shmlog-go/pkg/atomicbuf"
	"github.com/shmlog/shmlog-go/pkg/command"
	"github.com/shmlog/shmlog-go/pkg/counters"
	"github.com/shmlog/shmlog-go/pkg/logbuffer"
)

const testClientID int64 = 1

type rawEvent struct {
	msgTypeID int32
	payload   []byte
}

// fakeDriver is a scripted DriverProxy, EventReceiver and log factory. By
// default it answers every command successfully.
type fakeDriver struct {
	t *testing.T

	mutex          sync.Mutex
	correlationIDs int64
	sent           []command.Record
	events         []rawEvent
	logs           map[string]*testLog
	values         *atomicbuf.Buffer
	errs           []error

	nowNs       atomic.Int64
	heartbeatNs atomic.Int64
	alive       atomic.Bool

	// respond answers a command. Replace it to script other answers.
	respond func(record command.Record)
}

func newFakeDriver(t *testing.T) *fakeDriver {
	fd := &fakeDriver{
		t:              t,
		correlationIDs: 100,
		logs:           make(map[string]*testLog),
	}
	fd.values, _ = counters.NewBuffers(8)
	counters.NewPosition(fd.values, limitCounterID).SetOrdered(int64(testTermLength) * 2)
	fd.nowNs.Store(int64(time.Hour))
	fd.alive.Store(true)
	fd.respond = fd.succeed
	return fd
}

// newConductor with a context on the fake's clock. Each idle step of a
// blocking call advances the clock by a millisecond.
func (fd *fakeDriver) newConductor(configure ...func(ctx *Context)) *ClientConductor {
	ctx := NewContext()
	ctx.NanoClock = fd.nowNs.Load
	ctx.AwaitingIdleStrategy = tickingIdle{&fd.nowNs}
	ctx.ResourceLingerTimeout = 10 * time.Millisecond
	ctx.LogBuffersFactory = fd
	ctx.CountersValues = fd.values
	ctx.ErrorHandler = func(err error) {
		fd.mutex.Lock()
		defer fd.mutex.Unlock()
		fd.errs = append(fd.errs, err)
	}
	for _, f := range configure {
		f(ctx)
	}

	cc, err := NewClientConductor(ctx, fd, fd)
	require.NoError(fd.t, err)
	return cc
}

func (fd *fakeDriver) advance(d time.Duration) {
	fd.nowNs.Add(int64(d))
}

func (fd *fakeDriver) errors() []error {
	fd.mutex.Lock()
	defer fd.mutex.Unlock()
	return append([]error(nil), fd.errs...)
}

func (fd *fakeDriver) sentTypes() (types []string) {
	fd.mutex.Lock()
	defer fd.mutex.Unlock()

	for _, record := range fd.sent {
		types = append(types, command.TypeName(record.TypeID()))
	}
	return
}

func (fd *fakeDriver) push(record command.Record) {
	payload, err := command.Encode(record)
	require.NoError(fd.t, err)
	fd.pushRaw(record.TypeID(), payload)
}

func (fd *fakeDriver) pushRaw(msgTypeID int32, payload []byte) {
	fd.mutex.Lock()
	defer fd.mutex.Unlock()
	fd.events = append(fd.events, rawEvent{msgTypeID, payload})
}

// newLog registers a log file served by Map.
func (fd *fakeDriver) newLog(name string) *testLog {
	tl := newTestLog(fd.t)

	fd.mutex.Lock()
	defer fd.mutex.Unlock()
	fd.logs[name] = tl
	return tl
}

// succeed answers every command as a driver would.
func (fd *fakeDriver) succeed(record command.Record) {
	switch c := record.(type) {
	case *command.AddPublication:
		name := fmt.Sprintf("pub-%d.logbuffer", c.CorrelationID)
		fd.newLog(name)
		fd.push(&command.PublicationReady{
			CorrelationID:             c.CorrelationID,
			RegistrationID:            c.CorrelationID,
			SessionID:                 testSessionID,
			StreamID:                  c.StreamID,
			PublicationLimitCounterID: limitCounterID,
			LogFileName:               name,
		})
	case *command.AddSubscription:
		fd.push(command.NewSubscriptionReady(c.CorrelationID))
	case *command.RemovePublication:
		fd.push(command.NewOperationSuccess(c.CorrelationID))
	case *command.RemoveSubscription:
		fd.push(command.NewOperationSuccess(c.CorrelationID))
	}
}

// ignore every command.
func (fd *fakeDriver) ignore(command.Record) {}

func (fd *fakeDriver) send(record command.Record) {
	fd.mutex.Lock()
	fd.sent = append(fd.sent, record)
	respond := fd.respond
	fd.mutex.Unlock()

	respond(record)
}

func (fd *fakeDriver) nextCorrelationID() int64 {
	fd.mutex.Lock()
	defer fd.mutex.Unlock()
	fd.correlationIDs++
	return fd.correlationIDs
}

func (fd *fakeDriver) AddPublication(channel string, streamID int32) (int64, error) {
	id := fd.nextCorrelationID()
	fd.send(command.NewAddPublication(testClientID, id, channel, streamID))
	return id, nil
}

func (fd *fakeDriver) AddSubscription(channel string, streamID int32) (int64, error) {
	id := fd.nextCorrelationID()
	fd.send(command.NewAddSubscription(testClientID, id, channel, streamID))
	return id, nil
}

func (fd *fakeDriver) RemovePublication(registrationID int64) (int64, error) {
	id := fd.nextCorrelationID()
	fd.send(command.NewRemovePublication(testClientID, id, registrationID))
	return id, nil
}

func (fd *fakeDriver) RemoveSubscription(registrationID int64) (int64, error) {
	id := fd.nextCorrelationID()
	fd.send(command.NewRemoveSubscription(testClientID, id, registrationID))
	return id, nil
}

func (fd *fakeDriver) SendClientKeepalive() error {
	fd.send(command.NewClientKeepalive(testClientID))
	return nil
}

func (fd *fakeDriver) ClientClose() error {
	fd.send(command.NewClientClose(testClientID))
	return nil
}

func (fd *fakeDriver) ClientID() int64 {
	return testClientID
}

func (fd *fakeDriver) TimeOfLastDriverKeepalive() int64 {
	if fd.alive.Load() {
		return fd.nowNs.Load()
	}
	return fd.heartbeatNs.Load()
}

// stopHeartbeat freezes the driver's heartbeat at the current time.
func (fd *fakeDriver) stopHeartbeat() {
	fd.heartbeatNs.Store(fd.nowNs.Load())
	fd.alive.Store(false)
}

func (fd *fakeDriver) Receive(handler func(msgTypeID int32, buffer []byte)) (int, error) {
	fd.mutex.Lock()
	events := fd.events
	fd.events = nil
	fd.mutex.Unlock()

	for _, event := range events {
		handler(event.msgTypeID, event.payload)
	}
	return len(events), nil
}

func (fd *fakeDriver) Map(fileName string) (*logbuffer.LogBuffers, error) {
	fd.mutex.Lock()
	defer fd.mutex.Unlock()

	tl, ok := fd.logs[fileName]
	if !ok {
		return nil, fmt.Errorf("no log %s", fileName)
	}
	return tl.lb, nil
}

// tickingIdle advances a clock instead of idling.
type tickingIdle struct {
	clock *atomic.Int64
}

func (ti tickingIdle) Idle(int) {
	ti.clock.Add(int64(time.Millisecond))
}

func (tickingIdle) Reset() {}
