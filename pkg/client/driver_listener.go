// SPDX-FileCopyrightText: 2026 The shmlog-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package client

import (
	"errors"

	"github.com/hashicorp/go-multierror"

	"github.com/shmlog/shmlog-go/pkg/command"
)

// driverEventsListener is implemented by the conductor.
type driverEventsListener interface {
	onError(event *command.Error)
	onPublicationReady(event *command.PublicationReady)
	onSubscriptionReady(event *command.SubscriptionReady)
	onOperationSuccess(event *command.OperationSuccess)
	onAvailableImage(event *command.AvailableImage)
	onUnavailableImage(event *command.UnavailableImage)
	onClientTimeout(event *command.ClientTimeout)
}

// driverListenerAdapter decodes the driver's events and dispatches them to
// a driverEventsListener.
type driverListenerAdapter struct {
	receiver EventReceiver
	listener driverEventsListener
	err      error
}

func newDriverListenerAdapter(receiver EventReceiver, listener driverEventsListener) *driverListenerAdapter {
	return &driverListenerAdapter{
		receiver: receiver,
		listener: listener,
	}
}

// receiveMessages dispatches all pending events. Events which cannot be
// decoded are skipped and reported as ProtocolError after the others were
// dispatched.
func (dla *driverListenerAdapter) receiveMessages() (int, error) {
	dla.err = nil

	n, err := dla.receiver.Receive(dla.onMessage)
	if err != nil {
		return n, multierror.Append(err, dla.err)
	}
	return n, dla.err
}

func (dla *driverListenerAdapter) onMessage(msgTypeID int32, buffer []byte) {
	record, err := command.Decode(msgTypeID, buffer)
	if err != nil {
		dla.fail(&ProtocolError{MsgTypeID: msgTypeID, Err: err})
		return
	}

	switch event := record.(type) {
	case *command.Error:
		dla.listener.onError(event)
	case *command.PublicationReady:
		dla.listener.onPublicationReady(event)
	case *command.SubscriptionReady:
		dla.listener.onSubscriptionReady(event)
	case *command.OperationSuccess:
		dla.listener.onOperationSuccess(event)
	case *command.AvailableImage:
		dla.listener.onAvailableImage(event)
	case *command.UnavailableImage:
		dla.listener.onUnavailableImage(event)
	case *command.ClientTimeout:
		dla.listener.onClientTimeout(event)
	default:
		dla.fail(&ProtocolError{MsgTypeID: msgTypeID, Err: errors.New("command received on the event channel")})
	}
}

func (dla *driverListenerAdapter) fail(err error) {
	if dla.err == nil {
		dla.err = err
	}
}
