// SPDX-FileCopyrightText: 2026 The shmlog-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package client

import (
	log "github.com/sirupsen/logrus"

	"github.com/shmlog/shmlog-go/pkg/command"
)

// CommandTransport carries commands to the driver.
type CommandTransport interface {
	// NextCorrelationID allocates a correlation id unique for the driver.
	NextCorrelationID() int64

	// Write a command record to the driver.
	Write(msgTypeID int32, payload []byte) error

	// TimeOfLastDriverKeepalive is the driver's heartbeat in nanoseconds.
	TimeOfLastDriverKeepalive() int64
}

// EventReceiver receives the events broadcast by the driver.
type EventReceiver interface {
	// Receive calls handler for each pending event and returns their number.
	Receive(handler func(msgTypeID int32, buffer []byte)) (int, error)
}

// DriverProxy sends commands to the driver. The add and remove methods
// return the correlation id of the command.
type DriverProxy interface {
	AddPublication(channel string, streamID int32) (int64, error)
	AddSubscription(channel string, streamID int32) (int64, error)
	RemovePublication(registrationID int64) (int64, error)
	RemoveSubscription(registrationID int64) (int64, error)
	SendClientKeepalive() error
	ClientClose() error
	ClientID() int64
	TimeOfLastDriverKeepalive() int64
}

// CommandProxy is the DriverProxy writing command records to a
// CommandTransport.
type CommandProxy struct {
	transport CommandTransport
	clientID  int64
}

// NewDriverProxy for a transport. The client id is taken from the
// transport's correlation ids.
func NewDriverProxy(transport CommandTransport) *CommandProxy {
	return &CommandProxy{
		transport: transport,
		clientID:  transport.NextCorrelationID(),
	}
}

func (cp *CommandProxy) ClientID() int64 {
	return cp.clientID
}

func (cp *CommandProxy) TimeOfLastDriverKeepalive() int64 {
	return cp.transport.TimeOfLastDriverKeepalive()
}

func (cp *CommandProxy) AddPublication(channel string, streamID int32) (int64, error) {
	correlationID := cp.transport.NextCorrelationID()
	return correlationID, cp.write(command.NewAddPublication(cp.clientID, correlationID, channel, streamID))
}

func (cp *CommandProxy) AddSubscription(channel string, streamID int32) (int64, error) {
	correlationID := cp.transport.NextCorrelationID()
	return correlationID, cp.write(command.NewAddSubscription(cp.clientID, correlationID, channel, streamID))
}

func (cp *CommandProxy) RemovePublication(registrationID int64) (int64, error) {
	correlationID := cp.transport.NextCorrelationID()
	return correlationID, cp.write(command.NewRemovePublication(cp.clientID, correlationID, registrationID))
}

func (cp *CommandProxy) RemoveSubscription(registrationID int64) (int64, error) {
	correlationID := cp.transport.NextCorrelationID()
	return correlationID, cp.write(command.NewRemoveSubscription(cp.clientID, correlationID, registrationID))
}

func (cp *CommandProxy) SendClientKeepalive() error {
	return cp.write(command.NewClientKeepalive(cp.clientID))
}

func (cp *CommandProxy) ClientClose() error {
	return cp.write(command.NewClientClose(cp.clientID))
}

func (cp *CommandProxy) write(record command.Record) error {
	payload, err := command.Encode(record)
	if err != nil {
		return err
	}

	if record.TypeID() != command.ClientKeepaliveTypeID {
		log.WithFields(log.Fields{
			"client":  cp.clientID,
			"command": command.TypeName(record.TypeID()),
		}).Debug("Sending command to driver")
	}

	return cp.transport.Write(record.TypeID(), payload)
}
